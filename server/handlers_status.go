package server

import (
	"encoding/json"
	"net/http"

	dbpkg "github.com/onnwee/chat-tender/db"
)

// HandleStatus reports the listener snapshot plus the persisted markers the
// loop and rotator leave behind: the last heartbeat and the active YouTube
// account slot.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	out := map[string]any{"platform": h.cfg.Platform}
	if h.listener != nil {
		out["listener"] = h.listener.Status()
	}

	// Best-effort kv markers; absent keys are omitted
	for _, k := range []string{"listener_heartbeat", "youtube_active_account"} {
		val, err := dbpkg.GetKV(ctx, h.db, k)
		if err == nil && val != "" {
			out[k] = val
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
