// Package youtubeapi implements the YouTube chat provider: OAuth account
// management for one or more bot accounts, a listener.ChatService backed by
// the YouTube Data API live chat endpoints, and a credential rotator that
// advances through the stored accounts when one loses authorization.
package youtubeapi

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/chat-tender/config"
)

// TokenStore is the persistence surface for OAuth tokens. *db.SQLTokenStore
// implements it; tests swap in an in-memory store.
type TokenStore interface {
	UpsertToken(ctx context.Context, provider, access, refresh string, expiry time.Time, scope string) error
	GetToken(ctx context.Context, provider string) (access, refresh string, expiry time.Time, scope string, err error)
}

// AccountProvider returns the oauth_tokens provider key for a bot account
// index, e.g. "youtube:0" for the first configured account.
func AccountProvider(index int) string {
	return fmt.Sprintf("youtube:%d", index)
}

// Auth holds the shared OAuth client config and the token store for all
// configured YouTube bot accounts.
type Auth struct {
	cfg   *config.Config
	store TokenStore
	oauth *oauth2.Config
	log   *slog.Logger
}

func NewAuth(cfg *config.Config, ts TokenStore) *Auth {
	scopes := []string{"https://www.googleapis.com/auth/youtube.force-ssl"}
	if cfg.YTScopes != "" {
		// allow comma or space separated
		s := strings.ReplaceAll(cfg.YTScopes, ",", " ")
		fields := strings.Fields(s)
		if len(fields) > 0 {
			scopes = fields
		}
	}
	oauth := &oauth2.Config{
		ClientID:     cfg.YTClientID,
		ClientSecret: cfg.YTClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  cfg.YTRedirectURI,
		Scopes:       scopes,
	}
	return &Auth{
		cfg:   cfg,
		store: ts,
		oauth: oauth,
		log:   slog.Default().With(slog.String("component", "youtubeapi")),
	}
}

// Accounts reports how many bot accounts are configured.
func (a *Auth) Accounts() int {
	if a.cfg.YTAccounts < 1 {
		return 1
	}
	return a.cfg.YTAccounts
}

// AuthCodeURL returns the Google consent URL for the offline flow.
func (a *Auth) AuthCodeURL(state string) string {
	return a.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an auth code for tokens and persists them under the given
// account index.
func (a *Auth) Exchange(ctx context.Context, code string, index int) (*oauth2.Token, error) {
	tok, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange auth code: %w", err)
	}
	scope := strings.Join(a.oauth.Scopes, " ")
	if err := a.store.UpsertToken(ctx, AccountProvider(index), tok.AccessToken, tok.RefreshToken, tok.Expiry, scope); err != nil {
		return nil, fmt.Errorf("persist token: %w", err)
	}
	a.log.Info("stored youtube token", slog.Int("account", index))
	return tok, nil
}

// Token returns an access token for the account, refreshing and persisting
// it when expiry falls inside a two minute buffer.
func (a *Auth) Token(ctx context.Context, index int) (*oauth2.Token, error) {
	key := AccountProvider(index)
	access, refresh, expiry, scope, err := a.store.GetToken(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load token for %s: %w", key, err)
	}
	if access == "" && refresh == "" {
		return nil, fmt.Errorf("no youtube token stored for %s", key)
	}
	tok := &oauth2.Token{AccessToken: access, RefreshToken: refresh, Expiry: expiry}
	if time.Until(tok.Expiry) > 2*time.Minute {
		return tok, nil
	}
	fresh, err := a.oauth.TokenSource(ctx, tok).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token for %s: %w", key, err)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = refresh
	}
	if err := a.store.UpsertToken(ctx, key, fresh.AccessToken, fresh.RefreshToken, fresh.Expiry, scope); err != nil {
		return nil, fmt.Errorf("persist refreshed token: %w", err)
	}
	a.log.Info("refreshed youtube token", slog.Int("account", index))
	return fresh, nil
}

// Service builds an authorized YouTube Data API client for the account.
func (a *Auth) Service(ctx context.Context, index int) (*yt.Service, error) {
	tok, err := a.Token(ctx, index)
	if err != nil {
		return nil, err
	}
	client := a.oauth.Client(ctx, tok)
	svc, err := yt.New(client)
	if err != nil {
		return nil, fmt.Errorf("build youtube client: %w", err)
	}
	return svc, nil
}
