package listener

import (
	"encoding/json"
	"errors"
	"fmt"
)

// UnknownAuthorID stands in when a record carries an author block without a
// channel id. A missing display name stays empty.
const UnknownAuthorID = "unknown"

// ErrExtraction marks a record too malformed to classify: no snippet or no
// author block at all. Callers isolate it per message; it never aborts a
// batch.
var ErrExtraction = errors.New("chat message extraction failed")

// ChatMessage is one classified chat message. Raw keeps the provider record
// for anything downstream that wants fields the classifier ignores.
type ChatMessage struct {
	ID         string
	AuthorName string
	AuthorID   string
	Text       string
	Raw        json.RawMessage
}

// rawRecord is the provider-neutral wire shape. YouTube live chat items
// already look like this; other providers synthesize it.
type rawRecord struct {
	ID      string `json:"id"`
	Snippet *struct {
		DisplayMessage     string `json:"displayMessage"`
		TextMessageDetails *struct {
			MessageText string `json:"messageText"`
		} `json:"textMessageDetails"`
	} `json:"snippet"`
	AuthorDetails *struct {
		DisplayName string `json:"displayName"`
		ChannelID   string `json:"channelId"`
	} `json:"authorDetails"`
}

// Classify extracts (id, text, author) from a raw feed record. Records
// missing the author name or channel id get sentinel defaults; records
// missing the snippet or author block entirely fail with ErrExtraction.
func Classify(raw json.RawMessage) (ChatMessage, error) {
	var rec rawRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return ChatMessage{}, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	if rec.Snippet == nil {
		return ChatMessage{}, fmt.Errorf("%w: record %q has no snippet", ErrExtraction, rec.ID)
	}
	if rec.AuthorDetails == nil {
		return ChatMessage{}, fmt.Errorf("%w: record %q has no author details", ErrExtraction, rec.ID)
	}
	msg := ChatMessage{
		ID:         rec.ID,
		AuthorName: rec.AuthorDetails.DisplayName,
		AuthorID:   rec.AuthorDetails.ChannelID,
		Text:       rec.Snippet.DisplayMessage,
		Raw:        raw,
	}
	if msg.Text == "" && rec.Snippet.TextMessageDetails != nil {
		msg.Text = rec.Snippet.TextMessageDetails.MessageText
	}
	if msg.AuthorID == "" {
		msg.AuthorID = UnknownAuthorID
	}
	return msg, nil
}

// TruncateMessage caps outgoing text at max runes, replacing the tail with
// an ellipsis. Counting runes keeps multi-byte chat intact.
func TruncateMessage(text string, max int) string {
	if max <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
