package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/chat-tender/listener"
	"github.com/onnwee/chat-tender/twitchapi"
)

// maxBuffered caps the in-memory message backlog between listener polls.
// When full, the oldest messages are dropped.
const maxBuffered = 512

// reconnectDelay is the pause before redialing IRC after a dropped connection.
const reconnectDelay = 5 * time.Second

// TwitchService implements listener.ChatService on top of a gempir IRC
// client plus Helix stream lookups. Incoming messages are reshaped into the
// same wire-record JSON the YouTube provider returns, so the listener's
// classifier handles both providers identically.
type TwitchService struct {
	channel string
	client  *twitch.Client
	helix   *twitchapi.HelixClient
	log     *slog.Logger

	// say is client.Say, swapped in tests.
	say func(channel, text string)

	connected atomic.Bool

	mu      sync.Mutex
	buf     []json.RawMessage
	dropped int
	lastErr error
}

var _ listener.ChatService = (*TwitchService)(nil)

// NewTwitchService builds the IRC client for a channel. Call Start to
// connect; until then ListMessages returns empty pages and SendMessage
// fails transiently.
func NewTwitchService(channel, botUsername, oauthToken string, helix *twitchapi.HelixClient) *TwitchService {
	s := &TwitchService{
		channel: channel,
		helix:   helix,
		log:     slog.With(slog.String("component", "twitch_chat")),
	}
	client := twitch.NewClient(botUsername, oauthToken)
	client.OnPrivateMessage(s.enqueue)
	client.OnConnect(func() {
		s.connected.Store(true)
		s.setErr(nil)
		s.log.Info("irc connected", slog.String("channel", channel))
	})
	client.Join(channel)
	s.client = client
	s.say = client.Say
	return s
}

// Start connects to IRC in the background and keeps redialing on transient
// drops until ctx is cancelled. A rejected login stops the redial loop and
// surfaces as an auth error on the next poll.
func (s *TwitchService) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		if err := s.client.Disconnect(); err != nil {
			s.log.Debug("irc disconnect", slog.Any("err", err))
		}
	}()
	go func() {
		for {
			err := s.client.Connect()
			s.connected.Store(false)
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, twitch.ErrLoginAuthenticationFailed) {
				s.setErr(&listener.AuthError{StatusCode: 401, Err: err})
				s.log.Error("irc login rejected", slog.Any("err", err))
				return
			}
			s.setErr(&listener.TransientError{Err: fmt.Errorf("irc connection lost: %w", err)})
			s.log.Warn("irc connection lost, redialing", slog.Any("err", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
		}
	}()
}

func (s *TwitchService) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// enqueue reshapes an IRC message into a wire record and appends it to the
// backlog, dropping the oldest entry when the backlog is full.
func (s *TwitchService) enqueue(msg twitch.PrivateMessage) {
	name := msg.User.DisplayName
	if name == "" {
		name = msg.User.Name
	}
	rec, err := json.Marshal(map[string]any{
		"id": msg.ID,
		"snippet": map[string]any{
			"displayMessage": msg.Message,
		},
		"authorDetails": map[string]any{
			"displayName": name,
			"channelId":   msg.User.ID,
		},
	})
	if err != nil {
		s.log.Warn("marshal chat message", slog.Any("err", err))
		return
	}

	s.mu.Lock()
	if len(s.buf) >= maxBuffered {
		copy(s.buf, s.buf[1:])
		s.buf = s.buf[:len(s.buf)-1]
		s.dropped++
		if s.dropped%100 == 1 {
			s.log.Warn("message backlog full, dropping oldest", slog.Int("dropped_total", s.dropped))
		}
	}
	s.buf = append(s.buf, rec)
	s.mu.Unlock()
}

// ListMessages drains the buffered backlog. Twitch has no server-side page
// tokens or interval hints, so the page carries neither and the listener
// falls back to its configured default interval.
func (s *TwitchService) ListMessages(ctx context.Context, chatID, pageToken string) (*listener.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastErr != nil {
		return nil, s.lastErr
	}
	items := s.buf
	s.buf = nil
	return &listener.Page{Items: items}, nil
}

// SendMessage says the text into the channel. Fails transiently while the
// IRC connection is down so the caller's cooldown stays open for a retry.
func (s *TwitchService) SendMessage(ctx context.Context, chatID, text string) error {
	if !s.connected.Load() {
		return &listener.TransientError{Err: fmt.Errorf("irc not connected")}
	}
	s.say(chatID, text)
	return nil
}

// ResolveChatID confirms the channel is live and returns the IRC channel
// name as the chat id. An offline channel is a fatal condition: there is no
// live chat to listen to.
func (s *TwitchService) ResolveChatID(ctx context.Context, streamID string) (string, error) {
	login := streamID
	if login == "" {
		login = s.channel
	}
	stream, err := s.helix.GetStream(ctx, login)
	if err != nil {
		return "", fmt.Errorf("look up stream %s: %w", login, err)
	}
	if stream == nil {
		return "", &listener.FatalError{Err: fmt.Errorf("channel %s is offline", login)}
	}
	return stream.UserLogin, nil
}

// AudienceSize reports current viewers, or an error when the channel is
// offline or Helix is unreachable.
func (s *TwitchService) AudienceSize(ctx context.Context, streamID string) (int, error) {
	login := streamID
	if login == "" {
		login = s.channel
	}
	stream, err := s.helix.GetStream(ctx, login)
	if err != nil {
		return 0, err
	}
	if stream == nil {
		return 0, fmt.Errorf("channel %s is offline", login)
	}
	return stream.ViewerCount, nil
}
