package youtubeapi

import (
	"context"
	"database/sql"
	"log/slog"
	"strconv"
	"sync"

	"github.com/onnwee/chat-tender/db"
	"github.com/onnwee/chat-tender/listener"
)

const activeAccountKey = "youtube_active_account"

// Rotator advances through the configured bot accounts when the active one
// loses authorization. The active index persists in the kv table so a
// restart resumes on the account that last worked. A nil *sql.DB disables
// persistence.
type Rotator struct {
	auth *Auth
	dbx  *sql.DB
	log  *slog.Logger

	mu    sync.Mutex
	index int
}

var _ listener.CredentialRotator = (*Rotator)(nil)

func NewRotator(auth *Auth, dbx *sql.DB) *Rotator {
	return &Rotator{
		auth: auth,
		dbx:  dbx,
		log:  slog.Default().With(slog.String("component", "youtube_rotator")),
	}
}

// Restore loads the persisted active index. Missing or mangled values fall
// back to account zero.
func (r *Rotator) Restore(ctx context.Context) {
	if r.dbx == nil {
		return
	}
	v, err := db.GetKV(ctx, r.dbx, activeAccountKey)
	if err != nil {
		r.log.Warn("could not restore active account", slog.Any("err", err))
		return
	}
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 || n >= r.auth.Accounts() {
		r.log.Warn("ignoring stored active account", slog.String("value", v))
		return
	}
	r.mu.Lock()
	r.index = n
	r.mu.Unlock()
	r.log.Info("restored active youtube account", slog.Int("account", n))
}

// Index returns the active account index.
func (r *Rotator) Index() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.index
}

// Rotate advances to the next account. It does not wrap around: once the
// last account has failed there is no fresh credential left to try.
func (r *Rotator) Rotate(ctx context.Context) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.index + 1
	if next >= r.auth.Accounts() {
		r.log.Warn("all youtube accounts exhausted", slog.Int("accounts", r.auth.Accounts()))
		return 0, false
	}
	r.index = next
	r.persist(ctx, next)
	r.log.Info("rotated to youtube account", slog.Int("account", next))
	return next, true
}

// Rebuild constructs a chat service for the account at index. It fails when
// no token is stored for that account.
func (r *Rotator) Rebuild(ctx context.Context, index int) (listener.ChatService, error) {
	svc, err := r.auth.Service(ctx, index)
	if err != nil {
		return nil, err
	}
	return NewLiveChat(svc), nil
}

func (r *Rotator) persist(ctx context.Context, index int) {
	if r.dbx == nil {
		return
	}
	if err := db.SetKV(ctx, r.dbx, activeAccountKey, strconv.Itoa(index)); err != nil {
		r.log.Warn("could not persist active account", slog.Any("err", err))
	}
}
