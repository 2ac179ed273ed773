// Command chat-tender runs the live chat listener and its ops surface.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Builds the configured chat provider (YouTube polling or Twitch IRC),
//     the banter generator, and the polling listener around them.
//   - Starts OAuth token refreshers for every stored credential row.
//   - Exposes an HTTP server with health, status, metrics, OAuth flows,
//     and admin listener controls.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/joho/godotenv"
	"github.com/onnwee/chat-tender/banter"
	"github.com/onnwee/chat-tender/chat"
	"github.com/onnwee/chat-tender/config"
	"github.com/onnwee/chat-tender/db"
	"github.com/onnwee/chat-tender/listener"
	"github.com/onnwee/chat-tender/oauth"
	"github.com/onnwee/chat-tender/server"
	"github.com/onnwee/chat-tender/telemetry"
	"github.com/onnwee/chat-tender/twitchapi"
	"github.com/onnwee/chat-tender/youtubeapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		// unknown level -> keep info but note once using temporary logger
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("chat-tender", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// DB
	database, err := db.Connect()
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Versioned migrations first; databases predating the schema_migrations
	// table fall back to the embedded bootstrap SQL.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting embedded bootstrap",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db", slog.Any("err", err))
			os.Exit(1)
		}
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gen := banter.NewGenerator(cfg)
	if err := cfg.ValidateBanterReady(); err != nil {
		slog.Warn("banter generation unavailable; trigger replies use the fallback line", slog.Any("err", err))
	}

	l := buildListener(ctx, database, cfg, gen)
	if l != nil {
		l.Heartbeat = func(hctx context.Context, snap listener.Snapshot) {
			if err := db.SetKV(hctx, database, "listener_heartbeat", time.Now().UTC().Format(time.RFC3339)); err != nil {
				slog.Debug("heartbeat write failed", slog.Any("err", err))
			}
		}
		if os.Getenv("CHAT_AUTOSTART") != "0" {
			go func() {
				// Twitch sessions can only resolve once the channel is live;
				// hold the start until then instead of burning a failed attempt.
				if cfg.Platform == "twitch" {
					helix := &twitchapi.HelixClient{
						AppTokenSource: &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret},
						ClientID:       cfg.TwitchClientID,
					}
					if err := chat.WaitUntilLive(ctx, helix, cfg.TwitchChannel, 30*time.Second); err != nil {
						return
					}
				}
				l.Start(ctx)
			}()
		} else {
			slog.Info("listener autostart disabled; waiting for admin start")
		}
	}

	startRefreshers(ctx, database, cfg)

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			// Use an http.Server with timeouts to satisfy G114 and avoid DoS risks
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server (health/status/metrics/oauth/admin)
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	deps := server.Deps{DB: database, Cfg: cfg}
	if l != nil {
		// Assign only a live listener; a nil *Listener inside the interface
		// would defeat the handlers' nil checks.
		deps.Listener = l
	}
	go func() {
		if err := server.Start(ctx, deps, addr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
	if l != nil {
		l.Stop()
		deadline := time.Now().Add(3 * time.Second)
		for l.Running() && time.Now().Before(deadline) {
			time.Sleep(50 * time.Millisecond)
		}
	}
}

// buildListener assembles the provider selected by CHAT_PLATFORM and wraps it
// in the polling listener. It returns nil when the provider cannot be built
// yet (typically before the OAuth flow has stored a token); the HTTP surface
// stays up so the operator can finish setup and restart.
func buildListener(ctx context.Context, database *sql.DB, cfg *config.Config, gen listener.ResponseGenerator) *listener.Listener {
	lcfg := listener.Config{
		StreamID:   cfg.StreamID,
		LiveChatID: cfg.LiveChatID,
		Greeting:   cfg.Greeting,
		Trigger: listener.TriggerConfig{
			Tokens:        cfg.TriggerTokens,
			Theme:         cfg.BanterTheme,
			Cooldown:      cfg.Cooldown,
			MaxMessageLen: cfg.MaxMessageLen,
		},
		InitialBackoff:      cfg.InitialBackoff,
		MaxBackoff:          cfg.MaxBackoff,
		DefaultPollInterval: cfg.DefaultPollHint,
	}

	switch cfg.Platform {
	case "twitch":
		if err := cfg.ValidateTwitchReady(); err != nil {
			slog.Warn("twitch provider not configured; listener disabled", slog.Any("err", err))
			return nil
		}
		token := cfg.TwitchOAuthToken
		if token == "" {
			if access, _, _, _, err := db.GetOAuthToken(ctx, database, "twitch"); err == nil {
				token = access
			}
		}
		if token == "" {
			slog.Warn("no twitch chat token available; complete /auth/twitch/start and restart")
			return nil
		}
		if !strings.HasPrefix(token, "oauth:") {
			token = "oauth:" + token
		}
		helix := &twitchapi.HelixClient{
			AppTokenSource: &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret},
			ClientID:       cfg.TwitchClientID,
		}
		svc := chat.NewTwitchService(cfg.TwitchChannel, cfg.TwitchBotUsername, token, helix)
		svc.Start(ctx)
		// IRC has no stream id of its own; the channel login doubles as one.
		lcfg.StreamID = cfg.TwitchChannel
		lcfg.LiveChatID = ""
		return listener.New(lcfg, svc, nil, gen)
	default:
		if err := cfg.ValidateYouTubeReady(); err != nil {
			slog.Warn("youtube provider not configured; listener disabled", slog.Any("err", err))
			return nil
		}
		auth := youtubeapi.NewAuth(cfg, &db.SQLTokenStore{DB: database})
		rot := youtubeapi.NewRotator(auth, database)
		rot.Restore(ctx)
		svc, err := rot.Rebuild(ctx, rot.Index())
		if err != nil {
			slog.Warn("youtube chat service unavailable; complete /auth/youtube/start and restart", slog.Any("err", err))
			return nil
		}
		return listener.New(lcfg, svc, rot, gen)
	}
}

// startRefreshers launches one background token refresher per credential row
// the configured client credentials can renew.
func startRefreshers(ctx context.Context, database *sql.DB, cfg *config.Config) {
	if cfg.TwitchClientID != "" && cfg.TwitchClientSecret != "" {
		oauth.StartRefresher(ctx, database, "twitch", 5*time.Minute, 15*time.Minute, func(rctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
			res, err := twitchapi.RefreshToken(rctx, cfg.TwitchClientID, cfg.TwitchClientSecret, refreshToken)
			if err != nil {
				return "", "", time.Time{}, "", err
			}
			return res.AccessToken, res.RefreshToken, twitchapi.ComputeExpiry(res.ExpiresIn), strings.Join(res.Scope, " "), nil
		})
	}
	if cfg.YTClientID != "" && cfg.YTClientSecret != "" {
		oc := &oauth2.Config{ClientID: cfg.YTClientID, ClientSecret: cfg.YTClientSecret, Endpoint: google.Endpoint, RedirectURL: cfg.YTRedirectURI}
		for i := 0; i < cfg.YTAccounts; i++ {
			oauth.StartRefresher(ctx, database, youtubeapi.AccountProvider(i), 10*time.Minute, 20*time.Minute, func(rctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
				newTok, err := oc.TokenSource(rctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
				if err != nil {
					return "", "", time.Time{}, "", err
				}
				return newTok.AccessToken, newTok.RefreshToken, newTok.Expiry, "", nil
			})
		}
	}
}
