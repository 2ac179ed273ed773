package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/chat-tender/config"
)

func oauthTestConfig() *config.Config {
	return &config.Config{
		Platform:           "youtube",
		TwitchClientID:     "twitch-client",
		TwitchClientSecret: "twitch-secret",
		TwitchRedirectURI:  "http://localhost:8080/auth/twitch/callback",
		TwitchScopes:       "chat:read chat:edit",
		YTClientID:         "yt-client",
		YTClientSecret:     "yt-secret",
		YTRedirectURI:      "http://localhost:8080/auth/youtube/callback",
		YTAccounts:         2,
	}
}

func TestTwitchOAuthStartRedirect(t *testing.T) {
	h := NewMux(context.Background(), Deps{Cfg: oauthTestConfig()})

	req := httptest.NewRequest(http.MethodGet, "/auth/twitch/start", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d, body=%s", rr.Code, rr.Body.String())
	}
	loc, err := url.Parse(rr.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse redirect location: %v", err)
	}
	if loc.Host != "id.twitch.tv" {
		t.Fatalf("expected redirect to id.twitch.tv, got %q", loc.Host)
	}
	q := loc.Query()
	if q.Get("client_id") != "twitch-client" {
		t.Fatalf("expected client_id in redirect, got %q", q.Get("client_id"))
	}
	if q.Get("state") == "" {
		t.Fatal("expected a state nonce in redirect")
	}
}

func TestTwitchOAuthStartUnconfigured(t *testing.T) {
	h := NewMux(context.Background(), Deps{Cfg: &config.Config{}})

	req := httptest.NewRequest(http.MethodGet, "/auth/twitch/start", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without oauth config, got %d", rr.Code)
	}
}

func TestYouTubeOAuthStartRedirect(t *testing.T) {
	h := NewMux(context.Background(), Deps{Cfg: oauthTestConfig()})

	req := httptest.NewRequest(http.MethodGet, "/auth/youtube/start?account=1", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d, body=%s", rr.Code, rr.Body.String())
	}
	loc := rr.Header().Get("Location")
	if !strings.Contains(loc, "accounts.google.com") {
		t.Fatalf("expected redirect to google consent, got %q", loc)
	}
	u, err := url.Parse(loc)
	if err != nil {
		t.Fatalf("parse redirect location: %v", err)
	}
	if u.Query().Get("state") == "" {
		t.Fatal("expected a state nonce in redirect")
	}
}

func TestYouTubeOAuthStartInvalidAccount(t *testing.T) {
	h := NewMux(context.Background(), Deps{Cfg: oauthTestConfig()})

	for _, account := range []string{"5", "-1", "abc"} {
		req := httptest.NewRequest(http.MethodGet, "/auth/youtube/start?account="+account, nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("account=%s: expected 400, got %d", account, rr.Code)
		}
	}
}

func TestYouTubeOAuthCallbackInvalidState(t *testing.T) {
	h := NewMux(context.Background(), Deps{Cfg: oauthTestConfig()})

	req := httptest.NewRequest(http.MethodGet, "/auth/youtube/callback?code=x&state=unknown", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown state, got %d", rr.Code)
	}
}

func TestOAuthCallbackMissingParams(t *testing.T) {
	h := NewMux(context.Background(), Deps{Cfg: oauthTestConfig()})

	for _, path := range []string{"/auth/twitch/callback", "/auth/youtube/callback", "/auth/youtube/callback?code=x"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, rr.Code)
		}
	}
}

func TestOAuthStateSingleUse(t *testing.T) {
	h := NewHandlers(context.Background(), Deps{Cfg: oauthTestConfig()})

	h.addOAuthState("nonce", oauthState{account: 1, expiry: time.Now().Add(time.Minute)})

	st, ok := h.takeOAuthState("nonce")
	if !ok {
		t.Fatal("expected state to validate")
	}
	if st.account != 1 {
		t.Fatalf("expected account 1 carried through, got %d", st.account)
	}
	if _, ok := h.takeOAuthState("nonce"); ok {
		t.Fatal("state should be single-use")
	}
}

func TestOAuthStateExpiry(t *testing.T) {
	h := NewHandlers(context.Background(), Deps{Cfg: oauthTestConfig()})

	h.addOAuthState("stale", oauthState{expiry: time.Now().Add(-time.Second)})
	if _, ok := h.takeOAuthState("stale"); ok {
		t.Fatal("expired state should not validate")
	}
}
