// Package timer implements the per-slot response timeout (component G):
// armed tokens with a validation chain before firing, disarm, and a
// background sweeper that reclaims expired slots as a crash-recovery
// backstop for missed in-process timers.
package timer

import (
	"context"
	"time"

	"github.com/driverqueue/dispatcher/internal/hashutil"
	"github.com/driverqueue/dispatcher/internal/kvstore"
	"github.com/driverqueue/dispatcher/internal/ops"
)

// ArmDuration is the response window a slot holder gets once shown routes.
const ArmDuration = 30 * time.Second

// SweepInterval is how often the background sweeper runs per group.
const SweepInterval = 5 * time.Second

// SessionChecker answers whether chatId's session is currently in
// CHOOSING_ROUTE, the only state in which an armed timer is authoritative.
// Implemented by internal/session without timer importing it, to avoid a
// package cycle (session arms timers; timer fires into session).
type SessionChecker interface {
	IsChoosingRoute(ctx context.Context, chatID string) (bool, error)
}

// ActiveReader answers who currently holds a group's slot.
type ActiveReader interface {
	ActiveChatID(ctx context.Context, group string) (string, bool, error)
}

// OnTimeout is invoked once all validation checks pass: the armed token
// still matches, the chat still holds the slot, and the session is still in
// CHOOSING_ROUTE. It is responsible for releasing the slot, clearing the
// session, notifying the driver, and logging the event.
type OnTimeout func(ctx context.Context, chatID, vehicleType, group string)

// Wheel arms and validates response timers for every group.
type Wheel struct {
	store    kvstore.Store
	log      ops.Logger
	key      hashutil.Key
	sessions SessionChecker
	active   ActiveReader
	onFire   OnTimeout
}

// New returns a Wheel. key fingerprints armed tokens (see internal/hashutil).
func New(store kvstore.Store, log ops.Logger, key hashutil.Key, sessions SessionChecker, active ActiveReader, onFire OnTimeout) *Wheel {
	return &Wheel{store: store, log: log, key: key, sessions: sessions, active: active, onFire: onFire}
}

func timerKey(chatID string) string { return "route:timeout:" + chatID }

// ArmTimer generates a token, persists it with a 30s TTL, and schedules a
// deferred check at +30s. The scheduled check re-reads the token, the
// group's active slot, and the session state before ever acting -- the
// in-memory scheduling is a latency optimization, not the source of truth;
// the sweeper is the correctness backstop if the process restarts.
func (w *Wheel) ArmTimer(ctx context.Context, chatID, vehicleType, group string) error {
	tok, err := hashutil.NewToken(w.key)
	if err != nil {
		return err
	}
	if err := w.store.SetTTL(ctx, timerKey(chatID), []byte(tok.Raw), ArmDuration); err != nil {
		return err
	}
	time.AfterFunc(ArmDuration, func() {
		w.fire(chatID, vehicleType, group, tok)
	})
	return nil
}

// DisarmTimer clears chatId's armed token, making any in-flight scheduled
// check a no-op.
func (w *Wheel) DisarmTimer(ctx context.Context, chatID string) error {
	return w.store.Del(ctx, timerKey(chatID))
}

func (w *Wheel) fire(chatID, vehicleType, group string, tok hashutil.Token) {
	// Timers fire on their own goroutine, independent of the inbound
	// webhook worker pool; give each firing its own background context
	// with a short budget for the validation reads.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := w.store.Get(ctx, timerKey(chatID))
	if err != nil {
		return // missing or unreadable: token already cleared or store down
	}
	if !tok.Matches(w.key, string(raw)) {
		return
	}

	holder, ok, err := w.active.ActiveChatID(ctx, group)
	if err != nil {
		w.log.WithFields(map[string]interface{}{"chatId": chatID, "err": err}).
			Warn("timer: active slot read failed")
		return
	}
	if !ok || holder != chatID {
		_ = w.store.Del(ctx, timerKey(chatID))
		return
	}

	choosing, err := w.sessions.IsChoosingRoute(ctx, chatID)
	if err != nil || !choosing {
		_ = w.store.Del(ctx, timerKey(chatID))
		return
	}

	_ = w.store.Del(ctx, timerKey(chatID))
	w.onFire(ctx, chatID, vehicleType, group)
}
