// Package queue implements the per-group fair-priority waiting list
// (component C): enqueue with re-ranking, pickNext with blocklist deferral,
// and removal.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/driverqueue/dispatcher/internal/kvstore"
	"github.com/driverqueue/dispatcher/internal/lock"
	"github.com/driverqueue/dispatcher/internal/metrics"
)

// BlocklistWaitDefault is the deferral window before a queue of only
// blocklisted drivers is served anyway.
const BlocklistWaitDefault = 120 * time.Second

// memberTTL bounds how long a queue membership marker survives without a
// refreshing enqueue call, so crashed sessions eventually drop out.
const memberTTL = 10 * time.Minute

// Member is the data the queue's total order is computed over. ChatID is the
// queue identity; the rest is resolved by the caller from session/driver
// records and passed into Enqueue.
type Member struct {
	ChatID        string
	IsFiorino     bool
	PriorityScore int
	Blocklisted   bool
}

// Engine is one priority queue for one group (moto or general).
type Engine struct {
	store       kvstore.Store
	locker      *lock.Locker
	group       string
	blockedWait time.Duration
}

// New returns an Engine for group, using blockedWait as the blocklist
// deferral window (BlocklistWaitDefault if zero).
func New(store kvstore.Store, locker *lock.Locker, group string, blockedWait time.Duration) *Engine {
	if blockedWait <= 0 {
		blockedWait = BlocklistWaitDefault
	}
	return &Engine{store: store, locker: locker, group: group, blockedWait: blockedWait}
}

func (e *Engine) listKey() string        { return "queue:list:" + e.group }
func (e *Engine) memberKey(id string) string { return "queue:member:" + id }
func (e *Engine) emptySinceKey() string  { return "queue:empty_since:" + e.group }

// entry is the JSON shape persisted per queue member inside the list key.
type entry struct {
	ChatID        string `json:"chatId"`
	IsFiorino     bool   `json:"isFiorino"`
	PriorityScore int    `json:"priorityScore"`
	Blocklisted   bool   `json:"blocklisted"`
	OriginalIndex int    `json:"originalIndex"`
}

func decodeEntries(raw []string) []entry {
	out := make([]entry, 0, len(raw))
	for _, r := range raw {
		var e entry
		if err := json.Unmarshal([]byte(r), &e); err == nil {
			out = append(out, e)
		}
	}
	return out
}

func encodeEntries(entries []entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		b, _ := json.Marshal(e)
		out = append(out, string(b))
	}
	return out
}

// totalOrder sorts entries into the waiting list's service order: fiorino
// first, then higher priorityScore, then earlier originalIndex.
func totalOrder(entries []entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.IsFiorino != b.IsFiorino {
			return a.IsFiorino
		}
		if a.PriorityScore != b.PriorityScore {
			return a.PriorityScore > b.PriorityScore
		}
		return a.OriginalIndex < b.OriginalIndex
	})
}

// Enqueue inserts or re-ranks chatId per Member's resolved attributes and
// returns its 1-based position in the re-sorted list. Calling Enqueue twice
// in succession with the same Member set yields the same position (modulo
// intervening mutation by other members).
func (e *Engine) Enqueue(ctx context.Context, m Member) (int, error) {
	var position int
	err := e.locker.WithLock(ctx, e.group, func(ctx context.Context) error {
		raw, err := e.store.LRange(ctx, e.listKey())
		if err != nil {
			return err
		}
		entries := decodeEntries(raw)

		// Remove any existing occurrence of chatId, then re-append at the
		// tail with a fresh originalIndex so fairness is computed against
		// the list as it stands right now.
		filtered := entries[:0:0]
		for _, existing := range entries {
			if existing.ChatID != m.ChatID {
				filtered = append(filtered, existing)
			}
		}
		filtered = append(filtered, entry{
			ChatID:        m.ChatID,
			IsFiorino:     m.IsFiorino,
			PriorityScore: m.PriorityScore,
			Blocklisted:   m.Blocklisted,
			OriginalIndex: len(filtered),
		})
		// Re-derive originalIndex for everyone from their pre-sort position
		// in this call, preserving insertion-order fairness among ties.
		for i := range filtered {
			filtered[i].OriginalIndex = i
		}
		totalOrder(filtered)

		if err := e.store.WriteList(ctx, e.listKey(), encodeEntries(filtered)); err != nil {
			return err
		}
		if err := e.store.SetTTL(ctx, e.memberKey(m.ChatID), []byte("1"), memberTTL); err != nil {
			return err
		}
		metrics.QueueDepth.WithLabelValues(e.group).Set(float64(len(filtered)))
		for i, f := range filtered {
			if f.ChatID == m.ChatID {
				position = i + 1
				break
			}
		}
		return nil
	})
	return position, err
}

// PickNext returns the next chatId to activate, or "" if none is eligible
// right now. Non-blocklisted members are always preferred; a queue of only
// blocklisted members is deferred until BlocklistWaitSeconds of wall-clock
// idle have elapsed since the deferral began.
func (e *Engine) PickNext(ctx context.Context) (string, error) {
	var next string
	err := e.locker.WithLock(ctx, e.group, func(ctx context.Context) error {
		raw, err := e.store.LRange(ctx, e.listKey())
		if err != nil {
			return err
		}
		entries := decodeEntries(raw)

		var clear, blocked []entry
		for _, en := range entries {
			if en.Blocklisted {
				blocked = append(blocked, en)
			} else {
				clear = append(clear, en)
			}
		}
		totalOrder(clear)
		totalOrder(blocked)

		if len(clear) > 0 {
			next = clear[0].ChatID
			if err := e.store.Del(ctx, e.emptySinceKey()); err != nil {
				return err
			}
			return e.removeLocked(ctx, &entries, next)
		}

		if len(blocked) == 0 {
			return e.store.Del(ctx, e.emptySinceKey())
		}

		sinceRaw, err := e.store.Get(ctx, e.emptySinceKey())
		if err != nil && err != kvstore.ErrNotFound {
			return err
		}
		if err == kvstore.ErrNotFound {
			return e.store.SetTTL(ctx, e.emptySinceKey(), []byte(fmt.Sprintf("%d", time.Now().UnixNano())), 0)
		}
		var sinceNanos int64
		if _, scanErr := fmt.Sscanf(string(sinceRaw), "%d", &sinceNanos); scanErr != nil {
			return e.store.SetTTL(ctx, e.emptySinceKey(), []byte(fmt.Sprintf("%d", time.Now().UnixNano())), 0)
		}
		since := time.Unix(0, sinceNanos)
		if time.Since(since) < e.blockedWait {
			return nil
		}
		next = blocked[0].ChatID
		if err := e.store.Del(ctx, e.emptySinceKey()); err != nil {
			return err
		}
		return e.removeLocked(ctx, &entries, next)
	})
	return next, err
}

// removeLocked rewrites the list with chatId removed. Must run inside the
// group lock; entries is the pre-removal decode so we avoid a second read.
func (e *Engine) removeLocked(ctx context.Context, entries *[]entry, chatID string) error {
	out := make([]entry, 0, len(*entries))
	for _, en := range *entries {
		if en.ChatID != chatID {
			out = append(out, en)
		}
	}
	if err := e.store.WriteList(ctx, e.listKey(), encodeEntries(out)); err != nil {
		return err
	}
	metrics.QueueDepth.WithLabelValues(e.group).Set(float64(len(out)))
	return e.store.Del(ctx, e.memberKey(chatID))
}

// Remove drops chatId from the queue (used by "encerrar" while waiting).
func (e *Engine) Remove(ctx context.Context, chatID string) error {
	return e.locker.WithLock(ctx, e.group, func(ctx context.Context) error {
		raw, err := e.store.LRange(ctx, e.listKey())
		if err != nil {
			return err
		}
		entries := decodeEntries(raw)
		return e.removeLocked(ctx, &entries, chatID)
	})
}

// Position returns chatId's current 1-based position, or 0 if not queued.
func (e *Engine) Position(ctx context.Context, chatID string) (int, error) {
	raw, err := e.store.LRange(ctx, e.listKey())
	if err != nil {
		return 0, err
	}
	entries := decodeEntries(raw)
	totalOrder(entries)
	for i, en := range entries {
		if en.ChatID == chatID {
			return i + 1, nil
		}
	}
	return 0, nil
}

// Contains reports whether chatId currently holds a queue membership marker.
func (e *Engine) Contains(ctx context.Context, chatID string) (bool, error) {
	_, err := e.store.Get(ctx, e.memberKey(chatID))
	if err == kvstore.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
