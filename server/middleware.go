package server

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// adminCreds gates the admin endpoints. Either a token (X-Admin-Token
// header) or a basic-auth pair may be configured; with neither set the
// endpoints are open, which is only acceptable in local development.
type adminCreds struct {
	username string
	password string
	token    string
}

func loadAdminCreds() adminCreds {
	creds := adminCreds{
		username: os.Getenv("ADMIN_USERNAME"),
		password: os.Getenv("ADMIN_PASSWORD"),
		token:    os.Getenv("ADMIN_TOKEN"),
	}
	if !creds.configured() {
		slog.Warn("admin endpoints are UNPROTECTED; set ADMIN_USERNAME+ADMIN_PASSWORD or ADMIN_TOKEN for production")
	}
	return creds
}

func (c adminCreds) configured() bool {
	return (c.username != "" && c.password != "") || c.token != ""
}

// authorize checks the request against whichever credential is configured.
// All comparisons are constant time.
func (c adminCreds) authorize(r *http.Request) bool {
	if c.token != "" {
		if got := r.Header.Get("X-Admin-Token"); got != "" &&
			subtle.ConstantTimeCompare([]byte(got), []byte(c.token)) == 1 {
			return true
		}
	}
	if c.username != "" && c.password != "" {
		if user, pass, ok := r.BasicAuth(); ok {
			userOK := subtle.ConstantTimeCompare([]byte(user), []byte(c.username)) == 1
			passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(c.password)) == 1
			if userOK && passOK {
				return true
			}
		}
	}
	return false
}

// requireAdmin wraps next with the admin credential check. Unconfigured
// credentials pass everything through.
func requireAdmin(creds adminCreds, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !creds.configured() || creds.authorize(r) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="chat-tender admin"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		slog.Warn("admin auth failed",
			slog.String("path", r.URL.Path),
			slog.String("remote_addr", r.RemoteAddr))
	})
}

// rateLimiter is a sliding-window per-IP limiter for the admin surface.
// Disabled means every Allow call succeeds.
type rateLimiter struct {
	mu       sync.Mutex
	hits     map[string][]time.Time
	perIP    int
	window   time.Duration
	disabled bool
}

// newRateLimiter builds a limiter from RATE_LIMIT_* env vars and starts its
// prune loop, bounded by ctx. Defaults: 10 requests per 1-minute window.
func newRateLimiter(ctx context.Context) *rateLimiter {
	rl := &rateLimiter{
		hits:     make(map[string][]time.Time),
		perIP:    10,
		window:   time.Minute,
		disabled: os.Getenv("RATE_LIMIT_ENABLED") == "0",
	}
	if v := os.Getenv("RATE_LIMIT_REQUESTS_PER_IP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			rl.perIP = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_WINDOW_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			rl.window = time.Duration(n) * time.Second
		}
	}
	go rl.pruneLoop(ctx)
	return rl
}

// Allow records a hit for ip and reports whether it stays under the limit.
func (rl *rateLimiter) Allow(ip string) bool {
	if rl.disabled {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)
	recent := rl.hits[ip][:0]
	for _, t := range rl.hits[ip] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= rl.perIP {
		rl.hits[ip] = recent
		return false
	}
	rl.hits[ip] = append(recent, now)
	return true
}

func (rl *rateLimiter) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.prune()
		}
	}
}

// prune drops IPs whose newest hit fell out of the window, so one-off
// clients do not accumulate forever.
func (rl *rateLimiter) prune() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := time.Now().Add(-rl.window)
	for ip, hits := range rl.hits {
		if len(hits) == 0 || !hits[len(hits)-1].After(cutoff) {
			delete(rl.hits, ip)
		}
	}
}

// limitRequests rejects requests over the per-IP budget with 429.
func limitRequests(rl *rateLimiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !rl.Allow(ip) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			http.Error(w, "Too Many Requests - rate limit exceeded", http.StatusTooManyRequests)
			slog.Warn("rate limit exceeded",
				slog.String("ip", ip),
				slog.String("path", r.URL.Path))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP resolves the caller's address, honoring the first entry of
// X-Forwarded-For when a proxy sits in front.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		ip := fwd
		if i := strings.Index(fwd, ","); i >= 0 {
			ip = fwd[:i]
		}
		return strings.TrimSpace(ip)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
