package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/onnwee/chat-tender/twitchapi"
)

// WaitUntilLive blocks until the channel has a live broadcast, polling
// stream status on a fixed interval. Returns the context error when
// cancelled first. Lookup failures are logged and retried; a channel that
// is merely offline is not an error here, just not live yet.
func WaitUntilLive(ctx context.Context, helix *twitchapi.HelixClient, channel string, pollEvery time.Duration) error {
	if pollEvery <= 0 {
		pollEvery = 30 * time.Second
	}
	log := slog.With(slog.String("component", "twitch_chat"))
	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()
	log.Info("waiting for channel to go live", slog.String("channel", channel), slog.Duration("interval", pollEvery))
	for {
		stream, err := helix.GetStream(ctx, channel)
		if err != nil {
			log.Debug("live check", slog.Any("err", err))
		} else if stream != nil {
			log.Info("channel live",
				slog.String("channel", channel),
				slog.String("title", stream.Title),
				slog.Int("viewers", stream.ViewerCount))
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
