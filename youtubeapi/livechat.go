package youtubeapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/api/googleapi"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/chat-tender/listener"
)

// messageParts selects the response sections the classifier reads.
var messageParts = []string{"id", "snippet", "authorDetails"}

// LiveChat implements listener.ChatService over the YouTube Data API.
type LiveChat struct {
	yt  *yt.Service
	log *slog.Logger
}

var _ listener.ChatService = (*LiveChat)(nil)

func NewLiveChat(svc *yt.Service) *LiveChat {
	return &LiveChat{
		yt:  svc,
		log: slog.Default().With(slog.String("component", "youtube_chat")),
	}
}

// ListMessages fetches the page of chat messages after pageToken. Items pass
// through as raw JSON so the classifier owns field extraction.
func (c *LiveChat) ListMessages(ctx context.Context, chatID, pageToken string) (*listener.Page, error) {
	call := c.yt.LiveChatMessages.List(chatID, messageParts).Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	resp, err := call.Do()
	if err != nil {
		return nil, mapAPIError("list messages", err)
	}
	page := &listener.Page{
		NextPageToken:      resp.NextPageToken,
		PollIntervalMillis: resp.PollingIntervalMillis,
	}
	for _, item := range resp.Items {
		raw, err := item.MarshalJSON()
		if err != nil {
			c.log.Warn("dropping unmarshalable chat item", slog.Any("err", err))
			continue
		}
		page.Items = append(page.Items, raw)
	}
	return page, nil
}

// SendMessage posts text into the chat as the authorized bot account.
func (c *LiveChat) SendMessage(ctx context.Context, chatID, text string) error {
	msg := &yt.LiveChatMessage{
		Snippet: &yt.LiveChatMessageSnippet{
			LiveChatId: chatID,
			Type:       "textMessageEvent",
			TextMessageDetails: &yt.LiveChatTextMessageDetails{
				MessageText: text,
			},
		},
	}
	if _, err := c.yt.LiveChatMessages.Insert([]string{"snippet"}, msg).Context(ctx).Do(); err != nil {
		return mapAPIError("send message", err)
	}
	return nil
}

// ResolveChatID looks up the active live chat attached to a video. A video
// that is missing or not currently live fails fatally.
func (c *LiveChat) ResolveChatID(ctx context.Context, streamID string) (string, error) {
	details, err := c.liveDetails(ctx, streamID)
	if err != nil {
		return "", err
	}
	if details.ActiveLiveChatId == "" {
		return "", &listener.FatalError{Err: fmt.Errorf("video %s has no active live chat", streamID)}
	}
	return details.ActiveLiveChatId, nil
}

// AudienceSize reports the concurrent viewer count for a live video.
func (c *LiveChat) AudienceSize(ctx context.Context, streamID string) (int, error) {
	details, err := c.liveDetails(ctx, streamID)
	if err != nil {
		return 0, err
	}
	if details.ConcurrentViewers == 0 {
		return 0, fmt.Errorf("video %s reports no concurrent viewers", streamID)
	}
	return int(details.ConcurrentViewers), nil
}

func (c *LiveChat) liveDetails(ctx context.Context, streamID string) (*yt.VideoLiveStreamingDetails, error) {
	resp, err := c.yt.Videos.List([]string{"liveStreamingDetails"}).Id(streamID).Context(ctx).Do()
	if err != nil {
		return nil, mapAPIError("video lookup", err)
	}
	if len(resp.Items) == 0 {
		return nil, &listener.FatalError{Err: fmt.Errorf("video %s not found", streamID)}
	}
	details := resp.Items[0].LiveStreamingDetails
	if details == nil {
		return nil, &listener.FatalError{Err: fmt.Errorf("video %s is not a live stream", streamID)}
	}
	return details, nil
}

// mapAPIError tags a YouTube API failure with the listener error class that
// picks the right recovery: 401 and permission 403s mean the token is bad
// and rotation may help, ended or missing chats are final, and everything
// else (quota, rate limits, 5xx, transport) is retried with backoff.
func mapAPIError(op string, err error) error {
	wrapped := fmt.Errorf("%s: %w", op, err)
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return &listener.TransientError{Err: wrapped}
	}
	reason := ""
	if len(gerr.Errors) > 0 {
		reason = gerr.Errors[0].Reason
	}
	switch {
	case reason == "liveChatEnded" || reason == "liveChatNotFound" || reason == "liveChatDisabled" || gerr.Code == 404:
		return &listener.FatalError{Err: wrapped}
	case gerr.Code == 401:
		return &listener.AuthError{StatusCode: gerr.Code, Err: wrapped}
	case gerr.Code == 403 && (reason == "forbidden" || reason == "insufficientPermissions" || reason == "authError"):
		return &listener.AuthError{StatusCode: gerr.Code, Err: wrapped}
	default:
		return &listener.TransientError{Err: wrapped}
	}
}
