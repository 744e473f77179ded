// Package slot implements the active-slot controller (component D): the
// single-active-driver-per-group invariant, with acquire, refresh, release,
// and expire operations built on the KV adapter and the priority queue.
package slot

import (
	"context"
	"encoding/json"
	"time"

	"github.com/driverqueue/dispatcher/internal/kvstore"
	"github.com/driverqueue/dispatcher/internal/lock"
	"github.com/driverqueue/dispatcher/internal/metrics"
	"github.com/driverqueue/dispatcher/internal/queue"
)

// ActiveTTL bounds the service window before a slot holder is reclaimed.
const ActiveTTL = 30 * time.Second

// MetaTTL outlives ActiveTTL so a crashed holder can still be observed and
// reclaimed unambiguously by the sweeper.
const MetaTTL = 60 * time.Second

// Meta is the persisted slot-holder record.
type Meta struct {
	ChatID    string    `json:"chatId"`
	StartedAt time.Time `json:"startedAt"`
}

// Notifier is called with the chatId of a driver that has just been handed
// the slot, so the caller can drive it into CHOOSING_ROUTE (session layer
// owns that transition; Controller only notifies).
type Notifier func(ctx context.Context, chatID string)

// OnExpire is the hook invoked by RequeueExpiredActive when it reclaims a
// stale slot; wired by internal/boot to the session Machine's
// HandleSweeperExpire.
type OnExpire func(ctx context.Context, chatID string)

// Controller manages the active slot for one group.
type Controller struct {
	store    kvstore.Store
	locker   *lock.Locker
	queue    *queue.Engine
	group    string
	notify   Notifier
	onExpire OnExpire
}

// New returns a Controller for group.
func New(store kvstore.Store, locker *lock.Locker, q *queue.Engine, group string, notify Notifier) *Controller {
	return &Controller{store: store, locker: locker, queue: q, group: group, notify: notify}
}

func (c *Controller) activeKey() string      { return "queue:active:" + c.group }
func (c *Controller) metaKey() string        { return "queue:active:meta:" + c.group }
func (c *Controller) reclaimLockKey() string { return "queue:reclaim:lock:" + c.group }

// TryAcquire attempts to make chatId the active slot holder for the group.
// It is idempotent: if chatId already holds the slot, it returns true
// immediately. If another chat holds it, it first tries to reclaim an
// expired slot; if that fails the caller must wait in queue.
func (c *Controller) TryAcquire(ctx context.Context, chatID string) (bool, error) {
	cur, err := c.store.Get(ctx, c.activeKey())
	switch {
	case err == kvstore.ErrNotFound:
		return c.activateNext(ctx, chatID)
	case err != nil:
		return false, err
	case string(cur) == chatID:
		return true, nil
	default:
		expired, err := c.RequeueExpiredActive(ctx)
		if err != nil {
			return false, err
		}
		if !expired {
			return false, nil
		}
		return c.activateNext(ctx, chatID)
	}
}

// activateNext picks the next eligible waiter under the group lock and
// installs it as the slot holder. If the winner differs from caller, the
// winner is passed to Notify and false is returned to caller; if
// winner==caller, true is returned.
func (c *Controller) activateNext(ctx context.Context, caller string) (bool, error) {
	var acquired bool
	var winner string
	err := c.locker.WithLock(ctx, c.group, func(ctx context.Context) error {
		cur, err := c.store.Get(ctx, c.activeKey())
		if err != nil && err != kvstore.ErrNotFound {
			return err
		}
		if err == nil && len(cur) > 0 {
			// Someone else took the slot between our check and the lock.
			winner = ""
			return nil
		}
		next, err := c.queue.PickNext(ctx)
		if err != nil {
			return err
		}
		if next == "" {
			return nil
		}
		if err := c.installLocked(ctx, next); err != nil {
			return err
		}
		winner = next
		return nil
	})
	if err != nil {
		return false, err
	}
	if winner == "" {
		return false, nil
	}
	acquired = winner == caller
	if !acquired && c.notify != nil {
		c.notify(ctx, winner)
	}
	return acquired, nil
}

func (c *Controller) installLocked(ctx context.Context, chatID string) error {
	if err := c.store.SetTTL(ctx, c.activeKey(), []byte(chatID), ActiveTTL); err != nil {
		return err
	}
	meta := Meta{ChatID: chatID, StartedAt: time.Now()}
	body, _ := json.Marshal(meta)
	return c.store.SetTTL(ctx, c.metaKey(), body, MetaTTL)
}

// RefreshMeta rewrites the slot metadata and extends the active-slot TTL.
// Called whenever the holder is served a routes menu.
func (c *Controller) RefreshMeta(ctx context.Context, chatID string) error {
	if err := c.store.SetTTL(ctx, c.activeKey(), []byte(chatID), ActiveTTL); err != nil {
		return err
	}
	meta := Meta{ChatID: chatID, StartedAt: time.Now()}
	body, _ := json.Marshal(meta)
	return c.store.SetTTL(ctx, c.metaKey(), body, MetaTTL)
}

// ReleaseAndNotifyNext clears the slot and, if another waiter is eligible,
// installs and notifies them.
func (c *Controller) ReleaseAndNotifyNext(ctx context.Context) error {
	var winner string
	err := c.locker.WithLock(ctx, c.group, func(ctx context.Context) error {
		if raw, err := c.store.Get(ctx, c.metaKey()); err == nil {
			var meta Meta
			if json.Unmarshal(raw, &meta) == nil {
				metrics.SlotHoldSeconds.WithLabelValues(c.group).Observe(time.Since(meta.StartedAt).Seconds())
			}
		}
		if err := c.store.Del(ctx, c.activeKey()); err != nil {
			return err
		}
		if err := c.store.Del(ctx, c.metaKey()); err != nil {
			return err
		}
		next, err := c.queue.PickNext(ctx)
		if err != nil {
			return err
		}
		if next == "" {
			return nil
		}
		if err := c.installLocked(ctx, next); err != nil {
			return err
		}
		winner = next
		return nil
	})
	if err != nil {
		return err
	}
	if winner != "" && c.notify != nil {
		c.notify(ctx, winner)
	}
	return nil
}

// RequeueExpiredActive reclaims a slot whose holder has overstayed
// ActiveTTL, invoking onExpire(chatId) before returning true. Runs under a
// secondary reclaim lock distinct from the group's main lock so that the
// sweeper and an in-flight TryAcquire don't deadlock against each other.
func (c *Controller) RequeueExpiredActive(ctx context.Context) (bool, error) {
	var expired bool
	var expiredChat string
	err := c.locker.WithLiteralLock(ctx, c.reclaimLockKey(), func(ctx context.Context) error {
		raw, err := c.store.Get(ctx, c.metaKey())
		if err == kvstore.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		var meta Meta
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil // malformed meta self-heals on next install
		}
		if time.Since(meta.StartedAt) < ActiveTTL {
			return nil
		}
		metrics.SlotHoldSeconds.WithLabelValues(c.group).Observe(time.Since(meta.StartedAt).Seconds())
		if err := c.store.Del(ctx, c.activeKey()); err != nil {
			return err
		}
		if err := c.store.Del(ctx, c.metaKey()); err != nil {
			return err
		}
		expired = true
		expiredChat = meta.ChatID
		return nil
	})
	if err != nil {
		return false, err
	}
	if expired && c.onExpire != nil {
		c.onExpire(ctx, expiredChat)
	}
	return expired, nil
}

// TryActivateIfIdle installs the next eligible waiter if the group currently
// holds no active slot. Used by the background sweeper so a waiter isn't
// stuck if the process that would have activated them crashed mid-handoff.
func (c *Controller) TryActivateIfIdle(ctx context.Context) error {
	_, err := c.store.Get(ctx, c.activeKey())
	if err == nil {
		return nil // already held
	}
	if err != kvstore.ErrNotFound {
		return err
	}
	_, err = c.activateNext(ctx, "")
	return err
}

// ActiveChatID returns the current slot holder for this controller's group,
// if any.
func (c *Controller) ActiveChatID(ctx context.Context) (string, bool, error) {
	v, err := c.store.Get(ctx, c.activeKey())
	if err == kvstore.ErrNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(v), true, nil
}

// SetExpireHandler installs the callback invoked on reclaim.
func (c *Controller) SetExpireHandler(fn OnExpire) { c.onExpire = fn }
