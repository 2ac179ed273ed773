package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/onnwee/chat-tender/config"
	"github.com/onnwee/chat-tender/listener"
	"github.com/onnwee/chat-tender/testutil"
)

// fakeControl records listener control calls without running a loop.
type fakeControl struct {
	running bool
	starts  int
	stops   int
	rotates int
}

func (f *fakeControl) Start(ctx context.Context) { f.starts++; f.running = true }
func (f *fakeControl) Stop()                     { f.stops++; f.running = false }
func (f *fakeControl) Running() bool             { return f.running }
func (f *fakeControl) RequestRotation()          { f.rotates++ }
func (f *fakeControl) Status() listener.Snapshot {
	return listener.Snapshot{State: "stopped", Running: f.running}
}

func adminMux(t *testing.T, ctl ListenerControl) http.Handler {
	t.Helper()
	t.Setenv("ADMIN_TOKEN", "test-admin-token")
	return NewMux(context.Background(), Deps{Cfg: &config.Config{Platform: "youtube"}, Listener: ctl})
}

func adminReq(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("X-Admin-Token", "test-admin-token")
	return req
}

func TestAdminListenerStart(t *testing.T) {
	ctl := &fakeControl{}
	h := adminMux(t, ctl)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, adminReq(http.MethodPost, "/admin/listener/start"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body=%s", rr.Code, rr.Body.String())
	}
	if ctl.starts != 1 {
		t.Fatalf("expected 1 start call, got %d", ctl.starts)
	}
	var resp map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["running"] != true {
		t.Fatalf("expected running=true, got %v", resp["running"])
	}
}

func TestAdminListenerStop(t *testing.T) {
	ctl := &fakeControl{running: true}
	h := adminMux(t, ctl)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, adminReq(http.MethodPost, "/admin/listener/stop"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body=%s", rr.Code, rr.Body.String())
	}
	if ctl.stops != 1 {
		t.Fatalf("expected 1 stop call, got %d", ctl.stops)
	}
	var resp map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["running"] != false {
		t.Fatalf("expected running=false, got %v", resp["running"])
	}
}

func TestAdminRotate(t *testing.T) {
	ctl := &fakeControl{}
	h := adminMux(t, ctl)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, adminReq(http.MethodPost, "/admin/rotate"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body=%s", rr.Code, rr.Body.String())
	}
	if ctl.rotates != 1 {
		t.Fatalf("expected 1 rotation request, got %d", ctl.rotates)
	}
	var resp map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["requested"] != true {
		t.Fatalf("expected requested=true, got %v", resp["requested"])
	}
}

func TestAdminRequiresAuth(t *testing.T) {
	ctl := &fakeControl{}
	h := adminMux(t, ctl)

	req := httptest.NewRequest(http.MethodPost, "/admin/listener/start", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
	if ctl.starts != 0 {
		t.Fatal("handler ran without auth")
	}
}

func TestAdminMethodNotAllowed(t *testing.T) {
	ctl := &fakeControl{}
	h := adminMux(t, ctl)

	for _, path := range []string{"/admin/listener/start", "/admin/listener/stop", "/admin/rotate"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, adminReq(http.MethodGet, path))
		if rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: expected 405 for GET, got %d", path, rr.Code)
		}
	}
	if ctl.starts+ctl.stops+ctl.rotates != 0 {
		t.Fatal("control invoked despite wrong method")
	}
}

func TestAdminListenerUnconfigured(t *testing.T) {
	h := adminMux(t, nil)

	for _, path := range []string{"/admin/listener/start", "/admin/listener/stop", "/admin/rotate"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, adminReq(http.MethodPost, path))
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: expected 503 without listener, got %d", path, rr.Code)
		}
	}
}

func TestAdminStartStopRealListener(t *testing.T) {
	svc := &testutil.FakeChatService{ChatID: "chat-1", Viewers: 10}
	l := listener.New(listener.Config{LiveChatID: "chat-1"}, svc, nil, &testutil.FakeGenerator{Text: "hi"})
	h := adminMux(t, l)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, adminReq(http.MethodPost, "/admin/listener/start"))
	if rr.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d", rr.Code)
	}
	if !l.Running() {
		t.Fatal("listener should be running after start")
	}

	// Starting again is a no-op
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, adminReq(http.MethodPost, "/admin/listener/start"))
	if rr.Code != http.StatusOK {
		t.Fatalf("second start: expected 200, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, adminReq(http.MethodPost, "/admin/listener/stop"))
	if rr.Code != http.StatusOK {
		t.Fatalf("stop: expected 200, got %d", rr.Code)
	}

	deadline := time.Now().Add(2 * time.Second)
	for l.Running() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if l.Running() {
		t.Fatal("listener still running after stop")
	}
}
