package listener

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// FallbackMarker appears verbatim in every fallback reply, and
// FallbackEmoji rides along with it; product tooling greps chat exports for
// both to count generator outages.
const (
	FallbackMarker = "banter.exe"
	FallbackEmoji  = "🔧"

	fallbackMessage = "banter.exe is not responding " + FallbackEmoji + " give it a sec and poke me again"
)

// Outcome reports what the trigger engine did with one message.
type Outcome int

const (
	// OutcomeIgnored means the message did not contain the trigger.
	OutcomeIgnored Outcome = iota
	// OutcomeSuppressed means the author is still in cooldown; nothing was
	// generated or sent.
	OutcomeSuppressed
	// OutcomeSent means a generated reply was dispatched.
	OutcomeSent
	// OutcomeSentFallback means the fallback reply was dispatched because
	// the generator failed or returned nothing usable.
	OutcomeSentFallback
	// OutcomeSendFailed means the send itself failed; the author's
	// cooldown was left untouched.
	OutcomeSendFailed
)

// String returns a human-readable name for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeSuppressed:
		return "suppressed"
	case OutcomeSent:
		return "sent"
	case OutcomeSentFallback:
		return "sent_fallback"
	case OutcomeSendFailed:
		return "send_failed"
	default:
		return "unknown"
	}
}

// TriggerConfig carries the trigger engine's tunables.
type TriggerConfig struct {
	// Tokens is the ordered trigger sequence. It must appear back to back
	// in a message, with nothing in between, to count as a match.
	Tokens []string
	// Theme is handed to the generator as the banter topic.
	Theme string
	// Cooldown is the minimum gap between replies to the same author.
	Cooldown time.Duration
	// MaxMessageLen caps outgoing reply length in runes.
	MaxMessageLen int
}

// TriggerEngine watches classified messages for the configured token
// sequence and replies with generated banter, rate limited per author.
type TriggerEngine struct {
	pattern  string
	theme    string
	cooldown time.Duration
	maxLen   int

	gen ResponseGenerator
	log *slog.Logger

	// Last successful dispatch per author id. Entries are never evicted;
	// one session's worth of distinct authors fits in memory, but a bound
	// would be needed before reusing this anywhere longer-lived.
	lastReply map[string]time.Time

	now func() time.Time
}

// NewTriggerEngine builds an engine around the given generator. With no
// tokens configured the engine matches nothing.
func NewTriggerEngine(cfg TriggerConfig, gen ResponseGenerator) *TriggerEngine {
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	maxLen := cfg.MaxMessageLen
	if maxLen <= 0 {
		maxLen = DefaultMaxMessageLen
	}
	return &TriggerEngine{
		pattern:   strings.Join(cfg.Tokens, ""),
		theme:     cfg.Theme,
		cooldown:  cooldown,
		maxLen:    maxLen,
		gen:       gen,
		log:       slog.With(slog.String("component", "trigger")),
		lastReply: make(map[string]time.Time),
		now:       time.Now,
	}
}

// Matches reports whether text contains the trigger sequence back to back.
// The same tokens separated by whitespace (or anything else) do not match.
func (t *TriggerEngine) Matches(text string) bool {
	return t.pattern != "" && strings.Contains(text, t.pattern)
}

// Process runs the dispatch policy for one message: cooldown gate, banter
// generation with fallback substitution, send, and a cooldown update only
// when the send actually went out.
func (t *TriggerEngine) Process(ctx context.Context, svc ChatService, chatID string, msg ChatMessage) Outcome {
	if !t.Matches(msg.Text) {
		return OutcomeIgnored
	}
	if last, ok := t.lastReply[msg.AuthorID]; ok && t.now().Sub(last) < t.cooldown {
		t.log.Debug("trigger suppressed by cooldown",
			slog.String("author_id", msg.AuthorID),
			slog.String("author", msg.AuthorName))
		return OutcomeSuppressed
	}

	text, fellBack := t.compose(ctx)
	text = TruncateMessage(text, t.maxLen)
	if err := svc.SendMessage(ctx, chatID, text); err != nil {
		t.log.Warn("trigger reply send failed",
			slog.String("author_id", msg.AuthorID),
			slog.Any("err", err))
		return OutcomeSendFailed
	}

	t.lastReply[msg.AuthorID] = t.now()
	t.log.Info("trigger reply sent",
		slog.String("author", msg.AuthorName),
		slog.Bool("fallback", fellBack))
	if fellBack {
		return OutcomeSentFallback
	}
	return OutcomeSent
}

// compose asks the generator for reply text, substituting the fallback when
// it errors or returns empty or whitespace-only output.
func (t *TriggerEngine) compose(ctx context.Context) (string, bool) {
	if t.gen == nil {
		return fallbackMessage, true
	}
	text, err := t.gen.Generate(ctx, t.theme)
	if err != nil {
		t.log.Warn("banter generation failed", slog.Any("err", err))
		return fallbackMessage, true
	}
	if strings.TrimSpace(text) == "" {
		t.log.Warn("banter generator returned empty output")
		return fallbackMessage, true
	}
	return text, false
}
