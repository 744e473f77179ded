package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/driverqueue/dispatcher/internal/kvstore"
)

// Repository persists DriverSession records in the shared KV store, one
// session per chatId, expiring on inactivity via a soft TTL.
type Repository struct {
	store kvstore.Store
	ttl   time.Duration
}

// NewRepository returns a Repository with the given idle TTL (StateTTLDefault
// if ttl<=0).
func NewRepository(store kvstore.Store, ttl time.Duration) *Repository {
	if ttl <= 0 {
		ttl = StateTTLDefault
	}
	return &Repository{store: store, ttl: ttl}
}

func sessionKey(chatID string) string { return "session:" + chatID }

// Get returns the session for chatID, or (nil, false, nil) if none exists.
func (r *Repository) Get(ctx context.Context, chatID string) (*DriverSession, bool, error) {
	raw, err := r.store.Get(ctx, sessionKey(chatID))
	if err == kvstore.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var s DriverSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, false, nil // malformed record self-heals: treat as absent
	}
	return &s, true, nil
}

// GetOrCreate returns chatId's session, creating and persisting a fresh
// WAITING_ID session if none exists, per the "(none) -> any" transition row.
func (r *Repository) GetOrCreate(ctx context.Context, chatID string) (*DriverSession, bool, error) {
	s, ok, err := r.Get(ctx, chatID)
	if err != nil {
		return nil, false, err
	}
	if ok {
		return s, false, nil
	}
	s = newSession(chatID)
	if err := r.Save(ctx, s); err != nil {
		return nil, false, err
	}
	return s, true, nil
}

// Save persists s, refreshing its idle TTL.
func (r *Repository) Save(ctx context.Context, s *DriverSession) error {
	body, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.store.SetTTL(ctx, sessionKey(s.ChatID), body, r.ttl)
}

// Clear deletes chatId's session, used on every terminal transition.
func (r *Repository) Clear(ctx context.Context, chatID string) error {
	return r.store.Del(ctx, sessionKey(chatID))
}
