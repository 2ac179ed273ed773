package listener

import (
	"context"
	"encoding/json"
)

// Page is one page of the remote chat feed. Items are raw provider records;
// Classify extracts the typed fields from them. A zero PollIntervalMillis
// means the provider offered no pacing hint.
type Page struct {
	Items              []json.RawMessage
	NextPageToken      string
	PollIntervalMillis int64
}

// ChatService is the remote feed a Listener polls. Implementations map
// their wire failures onto AuthError, TransientError and FatalError so the
// loop can pick a recovery policy; anything untagged is retried as
// transient.
type ChatService interface {
	// ListMessages fetches the page after pageToken for the given chat.
	ListMessages(ctx context.Context, chatID, pageToken string) (*Page, error)
	// SendMessage posts text into the chat.
	SendMessage(ctx context.Context, chatID, text string) error
	// ResolveChatID finds the active chat session for a stream. A stream
	// without one fails with FatalError.
	ResolveChatID(ctx context.Context, streamID string) (string, error)
	// AudienceSize reports the current concurrent viewer count.
	AudienceSize(ctx context.Context, streamID string) (int, error)
}

// CredentialRotator swaps the account behind a ChatService after an auth
// failure. Rotate advances to the next usable credential index, reporting
// false when none remain; Rebuild constructs a fresh service for it.
type CredentialRotator interface {
	Rotate(ctx context.Context) (int, bool)
	Rebuild(ctx context.Context, index int) (ChatService, error)
}

// ResponseGenerator produces reply text for a trigger. Errors and unusable
// output are absorbed by the trigger engine's fallback.
type ResponseGenerator interface {
	Generate(ctx context.Context, theme string) (string, error)
}
