// Package lock implements the short-TTL advisory mutual-exclusion primitive
// (component B) that every per-group critical section in the dispatch core
// runs under.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/driverqueue/dispatcher/internal/kvstore"
	"github.com/driverqueue/dispatcher/internal/ops"
)

const (
	// TTL must exceed the longest critical section; the core's critical
	// sections are all well under 200ms.
	TTL = 5 * time.Second

	retryBackoff = 120 * time.Millisecond
	retryCount   = 8
)

// Locker acquires the advisory lock for a group and runs fn, falling back to
// running fn without the lock if contention exhausts the retry budget. The
// lock is advisory, contention is expected to be rare, and operations run
// inside are themselves idempotent and monotonic, so at-most-one-active-slot
// is normally preserved but not guaranteed under pathological delay. Call
// DisableFallback to change that trade-off for a deployment that would
// rather surface ErrContended than risk the invariant.
type Locker struct {
	store           kvstore.Store
	log             ops.Logger
	fallbackEnabled bool
}

// New returns a Locker atop store, with fallback-on-exhaustion enabled.
func New(store kvstore.Store, log ops.Logger) *Locker {
	return &Locker{store: store, log: log, fallbackEnabled: true}
}

// DisableFallback makes WithLock return ErrContended instead of running fn
// unprotected after retries are exhausted.
func (l *Locker) DisableFallback() *Locker {
	l.fallbackEnabled = false
	return l
}

// ErrContended is returned by WithLock when the fallback is disabled and the
// retry budget is exhausted.
var ErrContended = lockError("lock: contended, retries exhausted")

type lockError string

func (e lockError) Error() string { return string(e) }

func lockKey(group string) string { return "queue:lock:" + group }

func nonce() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// WithLock attempts to acquire the per-group lock via SetIfAbsent, retrying
// on a fixed backoff up to retryCount times. On success it runs fn and
// releases the lock before returning. On exhaustion it either runs fn
// unprotected (default) or returns ErrContended.
func (l *Locker) WithLock(ctx context.Context, group string, fn func(ctx context.Context) error) error {
	return l.withLockKey(ctx, lockKey(group), group, fn)
}

// WithLiteralLock is WithLock for a caller that already owns its full,
// spec-literal KV key rather than a bare group name lockKey should prefix.
func (l *Locker) WithLiteralLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return l.withLockKey(ctx, key, key, fn)
}

func (l *Locker) withLockKey(ctx context.Context, key, logGroup string, fn func(ctx context.Context) error) error {
	id := nonce()

	for attempt := 0; attempt < retryCount; attempt++ {
		ok, err := l.store.SetIfAbsent(ctx, key, []byte(id), TTL)
		if err != nil {
			return err
		}
		if ok {
			defer func() {
				if delErr := l.store.Del(ctx, key); delErr != nil {
					l.log.WithFields(map[string]interface{}{"group": logGroup, "err": delErr}).
						Warn("lock: failed to release, will expire via TTL")
				}
			}()
			return fn(ctx)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBackoff):
		}
	}

	if !l.fallbackEnabled {
		return ErrContended
	}
	l.log.WithFields(map[string]interface{}{"group": logGroup}).
		Warn("lock: retries exhausted, proceeding without lock")
	return fn(ctx)
}
