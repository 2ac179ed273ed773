package testutil

import (
	"context"
	"sync"

	"github.com/onnwee/chat-tender/listener"
)

// FakeChatService is an in-memory listener.ChatService for tests that wire a
// listener end to end. Pages are served in order; once exhausted, further
// list calls return empty pages so a running loop just idles.
type FakeChatService struct {
	mu sync.Mutex

	ChatID  string
	Viewers int
	Pages   []*listener.Page

	ListErr error
	SendErr error

	listCalls int
	sent      []string
}

func (f *FakeChatService) ListMessages(ctx context.Context, chatID, pageToken string) (*listener.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	i := f.listCalls
	f.listCalls++
	if i >= len(f.Pages) {
		return &listener.Page{}, nil
	}
	return f.Pages[i], nil
}

func (f *FakeChatService) SendMessage(ctx context.Context, chatID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return f.SendErr
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *FakeChatService) ResolveChatID(ctx context.Context, streamID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ChatID, nil
}

func (f *FakeChatService) AudienceSize(ctx context.Context, streamID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Viewers, nil
}

// ListCalls reports how many times the feed was polled.
func (f *FakeChatService) ListCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

// Sent returns a copy of everything posted into the chat.
func (f *FakeChatService) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

// FakeRotator is a scripted listener.CredentialRotator.
type FakeRotator struct {
	mu sync.Mutex

	Index   int
	OK      bool
	Service listener.ChatService
	Err     error

	rotateCalls  int
	rebuildCalls int
}

func (r *FakeRotator) Rotate(ctx context.Context) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rotateCalls++
	return r.Index, r.OK
}

func (r *FakeRotator) Rebuild(ctx context.Context, index int) (listener.ChatService, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rebuildCalls++
	if r.Err != nil {
		return nil, r.Err
	}
	return r.Service, nil
}

// RotateCalls reports how many rotations were requested.
func (r *FakeRotator) RotateCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rotateCalls
}

// FakeGenerator is a fixed-output listener.ResponseGenerator.
type FakeGenerator struct {
	Text string
	Err  error
}

func (g *FakeGenerator) Generate(ctx context.Context, theme string) (string, error) {
	if g.Err != nil {
		return "", g.Err
	}
	return g.Text, nil
}
