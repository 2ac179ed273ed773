// Package banter generates short reply lines through an OpenAI-compatible
// chat completions endpoint. The listener falls back to a canned reply when
// generation fails, so every failure here is a plain error.
package banter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/onnwee/chat-tender/config"
	"github.com/onnwee/chat-tender/listener"
)

const systemPrompt = `You are a playful chat bot in a live stream chat. ` +
	`Write exactly one short, upbeat line reacting to the given theme. ` +
	`Plain text only: no hashtags, no links, no quotation marks, at most 200 characters.`

// Generator implements listener.ResponseGenerator over a chat completions
// API. BaseURL points at the provider root (".../v1"); tests swap it for a
// local server.
type Generator struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
	log        *slog.Logger
}

var _ listener.ResponseGenerator = (*Generator)(nil)

func NewGenerator(cfg *config.Config) *Generator {
	return &Generator{
		BaseURL:    strings.TrimRight(cfg.BanterBaseURL, "/"),
		APIKey:     cfg.BanterAPIKey,
		Model:      cfg.BanterModel,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		log:        slog.Default().With(slog.String("component", "banter")),
	}
}

// Generate requests one completion for the theme and returns the trimmed
// single-line text.
func (g *Generator) Generate(ctx context.Context, theme string) (string, error) {
	if g.APIKey == "" {
		return "", errors.New("banter api key not configured")
	}
	payload := map[string]any{
		"model":       g.Model,
		"temperature": 0.9,
		"max_tokens":  80,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": "Theme: " + theme},
		},
	}
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(payload); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/chat/completions", buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+g.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("banter request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("banter request failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var cr struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("decode banter response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", errors.New("empty banter response")
	}
	text := strings.TrimSpace(cr.Choices[0].Message.Content)
	text = strings.Trim(text, `"`)
	// chat messages are one line; collapse whatever the model wrapped
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return "", errors.New("empty banter response")
	}
	g.log.Debug("generated banter", slog.Int("length", len(text)))
	return text, nil
}
