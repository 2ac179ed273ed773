package server

import (
	"encoding/json"
	"net/http"
)

// HandleAdminListenerStart starts the polling listener. Starting an already
// running listener is a no-op; the response reports the running flag either
// way.
func (h *Handlers) HandleAdminListenerStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.listener == nil {
		http.Error(w, "listener not configured", http.StatusServiceUnavailable)
		return
	}
	// Attach the loop to the server lifetime, not the request.
	h.listener.Start(h.ctx)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "running": h.listener.Running()})
}

// HandleAdminListenerStop asks the listener to wind down. The loop finishes
// its current cycle before exiting, so the state may lag the running flag.
func (h *Handlers) HandleAdminListenerStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.listener == nil {
		http.Error(w, "listener not configured", http.StatusServiceUnavailable)
		return
	}
	h.listener.Stop()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "running": h.listener.Running()})
}

// HandleAdminRotate requests a credential rotation at the next cycle
// boundary. A rotation requested while the listener is stopped applies when
// it next starts.
func (h *Handlers) HandleAdminRotate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.listener == nil {
		http.Error(w, "listener not configured", http.StatusServiceUnavailable)
		return
	}
	h.listener.RequestRotation()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "requested": true, "running": h.listener.Running()})
}
