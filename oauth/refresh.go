// Package oauth schedules background refresh for credentials persisted in
// the oauth_tokens table. One refresher runs per provider row, so a
// multi-account setup starts one per account key. Checks are jittered to
// keep replicas from hitting the token endpoint at the same instant.
package oauth

import (
	"context"
	"database/sql"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/onnwee/chat-tender/db"
)

// RefreshFunc performs the provider-specific refresh and returns the new
// (access, refresh, expiry, scope).
type RefreshFunc func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error)

// StartRefresher launches a goroutine that periodically checks one token row
// and refreshes it when remaining lifetime falls inside window. Reads and
// writes go through the db helpers so sealed rows stay transparent to fn.
func StartRefresher(ctx context.Context, dbx *sql.DB, provider string, interval, window time.Duration, fn RefreshFunc) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	log := slog.Default().With(slog.String("component", "oauth_refresher"), slog.String("provider", provider))
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval / 2)))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			// Per-iteration jitter of roughly twenty percent keeps wakeups spread.
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
			nextSleep := interval + jitter
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}
			_, refresh, expiry, scope, err := db.GetOAuthToken(ctx, dbx, provider)
			if err != nil || refresh == "" {
				continue
			}
			if time.Until(expiry) > window {
				continue
			}
			// Small pre-refresh jitter so replicas seeing the same expiry spread
			// out. Capped at half the check interval so short cadences stay short.
			preMax := 5 * time.Second
			if interval/2 < preMax {
				preMax = interval / 2
			}
			if preMax <= 0 {
				preMax = time.Millisecond
			}
			//nolint:gosec // G404: math/rand is sufficient for jitter, not used for security
			pre := time.Duration(rand.Int63n(int64(preMax)))
			select {
			case <-ctx.Done():
				return
			case <-time.After(pre):
			}
			refreshCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			newAccess, newRefresh, newExpiry, newScope, err := fn(refreshCtx, refresh)
			cancel()
			if err != nil {
				log.Warn("token refresh failed", slog.Any("err", err))
				continue
			}
			if newRefresh == "" {
				newRefresh = refresh
			}
			if newScope == "" {
				newScope = scope
			}
			if err := db.UpsertOAuthToken(ctx, dbx, provider, newAccess, newRefresh, newExpiry, strings.TrimSpace(newScope)); err != nil {
				log.Warn("token persist failed", slog.Any("err", err))
				continue
			}
			log.Info("token refreshed")
		}
	}()
}
