// Package adminauth implements the admin handshake: a password check that,
// on success, issues a short-lived signed token so a chat doesn't have to
// re-supply the sync password for follow-up admin commands within the
// token's window. This is an additive ergonomic layer over the password
// check -- it never replaces it.
package adminauth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/driverqueue/dispatcher/internal/kvstore"
)

// Kind is the admin handshake variant in progress.
type Kind string

const (
	KindSyncAll    Kind = "SYNC_ALL"
	KindSyncDriver Kind = "SYNC_DRIVER"
	KindLogDiario  Kind = "LOG_DIARIO"
)

// DefaultTokenTTL is the default lifetime of an issued admin token.
const DefaultTokenTTL = 10 * time.Minute

// pendingTTL bounds how long an open handshake waits for its password
// before it expires and the admin has to re-issue the command.
const pendingTTL = 5 * time.Minute

// ErrAwaitingPassword is returned by Continue while a handshake is pending.
var ErrAwaitingPassword = errors.New("adminauth: awaiting password")

// ErrBadPassword is returned when the supplied password does not match.
var ErrBadPassword = errors.New("adminauth: incorrect password")

type claims struct {
	jwt.RegisteredClaims
	Kind Kind `json:"kind"`
}

// Handshake manages in-flight password prompts and issues/verifies the
// cached admin token. Both are persisted to the shared KV store under
// admin:handshake:<chatId> and admin:token:<chatId>, so a process restart
// does not force a re-prompt mid-window or drop an open handshake.
type Handshake struct {
	store    kvstore.Store
	password string
	key      []byte
	ttl      time.Duration
}

// New returns a Handshake checking against password, signing tokens with a
// key derived from it, valid for ttl (DefaultTokenTTL if zero).
func New(store kvstore.Store, password string, ttl time.Duration) *Handshake {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Handshake{store: store, password: password, key: deriveKey(password), ttl: ttl}
}

// deriveKey turns the shared sync password into an HMAC signing key. A real
// deployment may prefer a dedicated secret instead.
func deriveKey(password string) []byte {
	return []byte("admin-handshake:" + password)
}

func handshakeKey(chatID string) string { return "admin:handshake:" + chatID }
func tokenKey(chatID string) string     { return "admin:token:" + chatID }

// Begin marks chatId as awaiting a password for the given handshake kind.
func (h *Handshake) Begin(ctx context.Context, chatID string, kind Kind) error {
	return h.store.SetTTL(ctx, handshakeKey(chatID), []byte(kind), pendingTTL)
}

// Authorized reports whether chatId already holds a valid cached token from
// any prior handshake, letting repeated admin commands within the window
// skip the password prompt regardless of which command originally issued
// the token -- the token attests "this chat knows SYNC_PASSWORD", not a
// per-command privilege level.
func (h *Handshake) Authorized(ctx context.Context, chatID string) bool {
	raw, err := h.store.Get(ctx, tokenKey(chatID))
	if err != nil {
		return false
	}
	tok, err := jwt.ParseWithClaims(string(raw), &claims{}, func(t *jwt.Token) (interface{}, error) {
		return h.key, nil
	})
	if err != nil || !tok.Valid {
		return false
	}
	c, ok := tok.Claims.(*claims)
	if !ok {
		return false
	}
	return c.Subject == chatID
}

// SubmitPassword completes a pending handshake for chatID. On success it
// issues and caches a token and returns the Kind that was pending. On
// mismatch it returns ErrBadPassword and the handshake remains pending (the
// admin may retry); if no handshake was pending it returns
// ErrAwaitingPassword.
func (h *Handshake) SubmitPassword(ctx context.Context, chatID, candidate string) (Kind, error) {
	kind, pending, err := h.IsPending(ctx, chatID)
	if err != nil {
		return "", err
	}
	if !pending {
		return "", ErrAwaitingPassword
	}
	if candidate != h.password {
		return "", ErrBadPassword
	}

	if err := h.Cancel(ctx, chatID); err != nil {
		return kind, err
	}

	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   chatID,
			ExpiresAt: jwt.NewNumericDate(now.Add(h.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Kind: kind,
	})
	signed, err := tok.SignedString(h.key)
	if err != nil {
		return kind, err
	}
	if err := h.store.SetTTL(ctx, tokenKey(chatID), []byte(signed), h.ttl); err != nil {
		return kind, err
	}
	return kind, nil
}

// IsPending reports whether chatId currently has an open handshake.
func (h *Handshake) IsPending(ctx context.Context, chatID string) (Kind, bool, error) {
	raw, err := h.store.Get(ctx, handshakeKey(chatID))
	if err == kvstore.ErrNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return Kind(raw), true, nil
}

// Cancel drops any pending handshake for chatID without issuing a token.
func (h *Handshake) Cancel(ctx context.Context, chatID string) error {
	return h.store.Del(ctx, handshakeKey(chatID))
}
