package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/onnwee/chat-tender/telemetry"
)

// errRotationRequested is the cause recorded when an operator asks for a
// credential rotation rather than an auth failure forcing one.
var errRotationRequested = errors.New("credential rotation requested")

// Engine defaults, applied when Config leaves a field zero.
const (
	DefaultCooldown       = 60 * time.Second
	DefaultInitialBackoff = 5 * time.Second
	DefaultMaxBackoff     = 60 * time.Second
	DefaultMaxMessageLen  = 200
	// DefaultPollInterval is the pacing hint assumed when the provider's
	// response carries none.
	DefaultPollInterval = 5 * time.Second
)

// sleep pauses for d unless the context ends first, reporting whether the
// full duration elapsed. Package var so tests can intercept requested
// sleeps.
var sleep = func(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// State names the loop's position in its lifecycle.
type State int32

const (
	StateStopped State = iota
	StateInitializing
	StatePolling
	StateBackoff
	StateRecoveringAuth
	StateShuttingDown
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateInitializing:
		return "initializing"
	case StatePolling:
		return "polling"
	case StateBackoff:
		return "backoff"
	case StateRecoveringAuth:
		return "recovering_auth"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// Config carries the engine's tunables. Zero values fall back to the
// package defaults above.
type Config struct {
	// StreamID identifies the stream whose chat is listened to.
	StreamID string
	// LiveChatID, when set, skips chat id resolution entirely.
	LiveChatID string
	// Greeting is posted once after the session resolves. Empty disables it.
	Greeting string

	Trigger TriggerConfig

	InitialBackoff      time.Duration
	MaxBackoff          time.Duration
	DefaultPollInterval time.Duration
}

// PollState is the cursor the loop carries between cycles. Only the run
// goroutine touches it.
type PollState struct {
	NextPageToken string
	PollInterval  time.Duration
	LiveChatID    string
}

// Snapshot is a point-in-time view of the engine for the ops surface.
type Snapshot struct {
	State        string    `json:"state"`
	Running      bool      `json:"running"`
	LiveChatID   string    `json:"live_chat_id"`
	Viewers      int       `json:"viewers"`
	PollInterval string    `json:"poll_interval"`
	Backoff      string    `json:"backoff"`
	Messages     uint64    `json:"messages"`
	Triggers     uint64    `json:"triggers"`
	Replies      uint64    `json:"replies"`
	LastPoll     time.Time `json:"last_poll"`
}

// Listener drives the poll, classify, dispatch cycle against a ChatService
// and recovers from its failures.
type Listener struct {
	cfg     Config
	svc     ChatService
	rotator CredentialRotator
	trigger *TriggerEngine
	delay   *DelayController
	log     *slog.Logger

	// Heartbeat, when set, runs once per successful poll cycle.
	Heartbeat func(ctx context.Context, snap Snapshot)

	running       atomic.Bool
	rotateRequest atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	snap   Snapshot

	// Loop-local, touched only by the run goroutine.
	state        PollState
	viewers      int
	greetingSent bool
	messages     uint64
	triggers     uint64
	replies      uint64
}

// New builds a Listener around the given service, rotator and generator.
// rotator may be nil for providers with nothing to rotate to; auth failures
// are then fatal on first occurrence.
func New(cfg Config, svc ChatService, rotator CredentialRotator, gen ResponseGenerator) *Listener {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.DefaultPollInterval <= 0 {
		cfg.DefaultPollInterval = DefaultPollInterval
	}
	return &Listener{
		cfg:     cfg,
		svc:     svc,
		rotator: rotator,
		trigger: NewTriggerEngine(cfg.Trigger, gen),
		delay:   NewDelayController(cfg.InitialBackoff, cfg.MaxBackoff),
		log:     slog.With(slog.String("component", "listener")),
		snap:    Snapshot{State: StateStopped.String()},
	}
}

// Start launches the engine in its own goroutine. Calling Start while the
// engine is running is a no-op.
func (l *Listener) Start(ctx context.Context) {
	if !l.running.CompareAndSwap(false, true) {
		l.log.Debug("listener already running; start ignored")
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()
	telemetry.SetListenerRunning(true)
	go l.run(runCtx)
}

// Stop requests a shutdown. The loop observes it at the next cycle boundary
// or mid-sleep, whichever comes first.
func (l *Listener) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Running reports whether the loop goroutine is alive.
func (l *Listener) Running() bool { return l.running.Load() }

// RequestRotation asks the loop to rotate credentials at the next cycle
// boundary. A failed manual rotation keeps the current credentials instead
// of shutting the loop down.
func (l *Listener) RequestRotation() {
	l.rotateRequest.Store(true)
}

// Status returns a copy of the engine's current snapshot.
func (l *Listener) Status() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	snap := l.snap
	snap.Running = l.running.Load()
	return snap
}

// run is the engine's single goroutine. Whatever path it exits through, the
// running flag ends up false.
func (l *Listener) run(ctx context.Context) {
	defer func() {
		l.setState(StateStopped)
		l.mu.Lock()
		if l.cancel != nil {
			l.cancel()
			l.cancel = nil
		}
		l.mu.Unlock()
		l.running.Store(false)
		telemetry.SetListenerRunning(false)
		l.log.Info("listener stopped")
	}()

	l.setState(StateInitializing)
	if err := l.initSession(ctx); err != nil {
		l.log.Error("session initialization failed", slog.Any("err", err))
		return
	}
	l.sendGreeting(ctx)

	l.setState(StatePolling)
	l.log.Info("listener polling",
		slog.String("live_chat_id", l.state.LiveChatID),
		slog.String("stream_id", l.cfg.StreamID))
	for {
		if ctx.Err() != nil {
			l.setState(StateShuttingDown)
			return
		}
		if !l.cycle(ctx) {
			l.setState(StateShuttingDown)
			return
		}
	}
}

// initSession resolves the live chat id unless configuration pinned one.
// Any failure here is fatal for the attempt; retry policy belongs to
// whoever calls Start again.
func (l *Listener) initSession(ctx context.Context) error {
	if l.cfg.LiveChatID != "" {
		l.state.LiveChatID = l.cfg.LiveChatID
		return nil
	}
	id, err := l.svc.ResolveChatID(ctx, l.cfg.StreamID)
	if err != nil {
		return fmt.Errorf("resolve chat id for stream %s: %w", l.cfg.StreamID, err)
	}
	if id == "" {
		return fmt.Errorf("stream %s has no active chat session", l.cfg.StreamID)
	}
	l.state.LiveChatID = id
	return nil
}

// sendGreeting posts the configured greeting once per session, best effort.
func (l *Listener) sendGreeting(ctx context.Context) {
	if l.cfg.Greeting == "" || l.greetingSent {
		return
	}
	l.greetingSent = true
	text := TruncateMessage(l.cfg.Greeting, l.trigger.maxLen)
	if err := l.svc.SendMessage(ctx, l.state.LiveChatID, text); err != nil {
		l.log.Warn("greeting send failed", slog.Any("err", err))
		return
	}
	telemetry.IncCounter(telemetry.GreetingsSent)
	l.log.Info("greeting sent")
}

// cycle runs one poll iteration and reports whether the loop should
// continue.
func (l *Listener) cycle(ctx context.Context) bool {
	if l.rotateRequest.CompareAndSwap(true, false) {
		l.setState(StateRecoveringAuth)
		if !l.rotate(ctx, errRotationRequested) {
			l.log.Warn("requested rotation failed; keeping current credentials")
		}
		l.setState(StatePolling)
	}
	var (
		page *Page
		err  error
	)
	telemetry.TimeFunc(telemetry.PollDuration, func() {
		page, err = l.svc.ListMessages(ctx, l.state.LiveChatID, l.state.NextPageToken)
	})
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		return l.recoverFrom(ctx, err)
	}

	telemetry.IncCounter(telemetry.PollCycles)
	l.delay.ResetBackoff()
	telemetry.SetErrorBackoff(0)

	if page.NextPageToken != "" {
		l.state.NextPageToken = page.NextPageToken
	}
	for _, item := range page.Items {
		l.messages++
		telemetry.IncCounter(telemetry.MessagesSeen)
		msg, cerr := Classify(item)
		if cerr != nil {
			telemetry.IncCounter(telemetry.ExtractionFailures)
			l.log.Warn("dropping malformed chat record", slog.Any("err", cerr))
			continue
		}
		l.dispatch(ctx, msg)
	}

	hint := time.Duration(page.PollIntervalMillis) * time.Millisecond
	if hint <= 0 {
		hint = l.cfg.DefaultPollInterval
	}
	audience := l.refreshAudience(ctx)
	l.state.PollInterval = l.delay.PollInterval(hint, audience)
	telemetry.SetPollInterval(l.state.PollInterval)

	l.updateSnapshot(0)
	if l.Heartbeat != nil {
		l.Heartbeat(ctx, l.Status())
	}
	return sleep(ctx, l.state.PollInterval)
}

// recoverFrom applies the failure policy for a failed list call: transient
// errors back off and retry, auth errors get one rotation attempt, fatal
// errors end the session.
func (l *Listener) recoverFrom(ctx context.Context, err error) bool {
	switch ClassifyServiceError(err) {
	case ErrorClassAuth:
		l.setState(StateRecoveringAuth)
		if !l.rotate(ctx, err) {
			l.log.Error("auth failure unrecovered; shutting down", slog.Any("err", err))
			return false
		}
		l.setState(StatePolling)
		return true
	case ErrorClassFatal:
		l.log.Error("fatal chat service failure; shutting down", slog.Any("err", err))
		return false
	default:
		l.setState(StateBackoff)
		telemetry.IncCounter(telemetry.PollFailures)
		wait := l.delay.NextBackoff()
		telemetry.SetErrorBackoff(wait)
		l.updateSnapshot(wait)
		l.log.Warn("chat poll failed; backing off",
			slog.Duration("backoff", wait),
			slog.Any("err", err))
		if !sleep(ctx, wait) {
			return false
		}
		l.setState(StatePolling)
		return true
	}
}

// rotate asks the rotator for the next credential index and swaps in a
// rebuilt service. Returns false when rotation cannot recover the session.
func (l *Listener) rotate(ctx context.Context, cause error) bool {
	if l.rotator == nil {
		return false
	}
	idx, ok := l.rotator.Rotate(ctx)
	if !ok {
		l.log.Warn("credential rotation exhausted")
		return false
	}
	svc, err := l.rotator.Rebuild(ctx, idx)
	if err != nil {
		l.log.Error("credential rebuild failed",
			slog.Int("index", idx),
			slog.Any("err", err))
		return false
	}
	l.svc = svc
	l.delay.ResetBackoff()
	telemetry.SetErrorBackoff(0)
	telemetry.IncCounter(telemetry.AuthRotations)
	l.log.Info("rotated chat credentials",
		slog.Int("index", idx),
		slog.Any("cause", cause))
	return true
}

// dispatch hands one classified message to the trigger engine and accounts
// for the outcome.
func (l *Listener) dispatch(ctx context.Context, msg ChatMessage) {
	out := l.trigger.Process(ctx, l.svc, l.state.LiveChatID, msg)
	if out == OutcomeIgnored {
		return
	}
	l.triggers++
	telemetry.IncCounter(telemetry.TriggersDetected)
	switch out {
	case OutcomeSuppressed:
		telemetry.IncCounter(telemetry.TriggersSuppressed)
	case OutcomeSent:
		l.replies++
		telemetry.IncCounter(telemetry.RepliesSent)
	case OutcomeSentFallback:
		l.replies++
		telemetry.IncCounter(telemetry.RepliesSent)
		telemetry.IncCounter(telemetry.ReplyFallbacks)
	case OutcomeSendFailed:
		telemetry.IncCounter(telemetry.SendFailures)
	}
}

// refreshAudience polls the viewer count, keeping the previous value when
// the provider cannot say.
func (l *Listener) refreshAudience(ctx context.Context) int {
	n, err := l.svc.AudienceSize(ctx, l.cfg.StreamID)
	if err != nil {
		l.log.Debug("audience size unavailable", slog.Any("err", err))
		return l.viewers
	}
	l.viewers = n
	telemetry.SetViewerCount(n)
	return n
}

func (l *Listener) setState(s State) {
	l.mu.Lock()
	l.snap.State = s.String()
	l.mu.Unlock()
	l.log.Debug("listener state", slog.String("state", s.String()))
}

func (l *Listener) updateSnapshot(backoff time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snap.LiveChatID = l.state.LiveChatID
	l.snap.Viewers = l.viewers
	l.snap.PollInterval = l.state.PollInterval.String()
	l.snap.Backoff = backoff.String()
	l.snap.Messages = l.messages
	l.snap.Triggers = l.triggers
	l.snap.Replies = l.replies
	l.snap.LastPoll = time.Now().UTC()
}
