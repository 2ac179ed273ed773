// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	PollCycles         prometheus.Counter
	PollFailures       prometheus.Counter
	MessagesSeen       prometheus.Counter
	ExtractionFailures prometheus.Counter
	TriggersDetected   prometheus.Counter
	TriggersSuppressed prometheus.Counter
	RepliesSent        prometheus.Counter
	ReplyFallbacks     prometheus.Counter
	SendFailures       prometheus.Counter
	AuthRotations      prometheus.Counter
	GreetingsSent      prometheus.Counter

	// Histograms (seconds)
	PollDuration     prometheus.Observer
	GenerateDuration prometheus.Observer

	// Gauges
	ListenerRunningGauge prometheus.Gauge // 1=running,0=stopped
	ViewerCountGauge     prometheus.Gauge
	PollIntervalGauge    prometheus.Gauge // seconds
	ErrorBackoffGauge    prometheus.Gauge // seconds
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		PollCycles = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_poll_cycles_total", Help: "Number of chat poll cycles completed"})
		PollFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_poll_failures_total", Help: "Number of chat poll cycles that failed"})
		MessagesSeen = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_messages_seen_total", Help: "Number of chat messages pulled from the feed"})
		ExtractionFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_extraction_failures_total", Help: "Number of chat records dropped as malformed"})
		TriggersDetected = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_triggers_detected_total", Help: "Number of messages containing the trigger sequence"})
		TriggersSuppressed = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_triggers_suppressed_total", Help: "Number of triggers suppressed by per-author cooldown"})
		RepliesSent = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_replies_sent_total", Help: "Number of trigger replies dispatched"})
		ReplyFallbacks = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_reply_fallbacks_total", Help: "Number of dispatched replies that used the fallback text"})
		SendFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_send_failures_total", Help: "Number of reply sends that failed"})
		AuthRotations = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_auth_rotations_total", Help: "Number of successful credential rotations"})
		GreetingsSent = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_greetings_sent_total", Help: "Number of session greetings posted"})
		PollDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chat_poll_duration_seconds", Help: "Chat feed list call duration seconds", Buckets: prometheus.DefBuckets})
		GenerateDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chat_generate_duration_seconds", Help: "Banter generation duration seconds", Buckets: prometheus.DefBuckets})
		ListenerRunningGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chat_listener_running", Help: "Listener running=1 stopped=0"})
		ViewerCountGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chat_viewer_count", Help: "Last observed concurrent viewer count"})
		PollIntervalGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chat_poll_interval_seconds", Help: "Current poll interval in seconds"})
		ErrorBackoffGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chat_error_backoff_seconds", Help: "Backoff slept before the most recent retry, 0 when healthy"})
	})
}

// IncCounter increments c if metrics are initialized.
func IncCounter(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// SetListenerRunning sets gauge to 1 if running else 0.
func SetListenerRunning(running bool) {
	if ListenerRunningGauge != nil {
		if running {
			ListenerRunningGauge.Set(1)
		} else {
			ListenerRunningGauge.Set(0)
		}
	}
}

// SetViewerCount records the last observed audience size.
func SetViewerCount(n int) {
	if ViewerCountGauge != nil {
		ViewerCountGauge.Set(float64(n))
	}
}

// SetPollInterval records the current poll interval.
func SetPollInterval(d time.Duration) {
	if PollIntervalGauge != nil {
		PollIntervalGauge.Set(d.Seconds())
	}
}

// SetErrorBackoff records the backoff applied before the last retry.
func SetErrorBackoff(d time.Duration) {
	if ErrorBackoffGauge != nil {
		ErrorBackoffGauge.Set(d.Seconds())
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
