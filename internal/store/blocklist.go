package store

import (
	"context"
	"time"

	"github.com/driverqueue/dispatcher/internal/cache"
)

// blocklistCacheTTL bounds how long a cached blocklist lookup stays fresh
// before the next check falls through to the relational store again.
const blocklistCacheTTL = 5 * time.Minute

// BlocklistChecker answers "is this driver currently blocklisted" with a
// bounded in-process cache in front of the relational lookup, so the session
// layer's check before each queue Enqueue doesn't hit the database every
// time.
type BlocklistChecker struct {
	db    *DB
	cache *cache.TTLCache[string, bool]
}

// NewBlocklistChecker wraps db with a cache sized for up to maxDrivers
// distinct driver IDs.
func NewBlocklistChecker(db *DB, maxDrivers int) *BlocklistChecker {
	return &BlocklistChecker{db: db, cache: cache.New[string, bool](maxDrivers, blocklistCacheTTL)}
}

// IsBlocklisted reports whether driverID is currently ACTIVE on the
// blocklist, consulting the cache before falling back to the database.
func (b *BlocklistChecker) IsBlocklisted(ctx context.Context, driverID string) (bool, error) {
	if v, ok := b.cache.Get(driverID); ok {
		return v, nil
	}
	status, err := b.db.BlocklistStatusFor(ctx, driverID)
	if err != nil {
		return false, err
	}
	blocked := status == BlocklistActive
	b.cache.Set(driverID, blocked)
	return blocked, nil
}

// InvalidateAll drops every cached entry, used after an admin sync updates
// blocklist membership for an unknown set of drivers out from under the
// cache.
func (b *BlocklistChecker) InvalidateAll() {
	b.cache.Purge()
}
