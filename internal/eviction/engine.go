// Package eviction removes stream cache entries to keep usage under the
// configured ceiling. Downloads are never evicted.
package eviction

import (
	"context"
	"log/slog"

	"github.com/bennybar/kitzi/internal/accounting"
	"github.com/bennybar/kitzi/internal/domain"
	"github.com/bennybar/kitzi/internal/itemlock"
	"github.com/bennybar/kitzi/internal/storage"
)

// maxPasses bounds re-planning when concurrent writes keep growing the cache.
const maxPasses = 8

// Engine applies the LRU policy against the accounting store and filesystem.
type Engine struct {
	acct     *accounting.Store
	layout   *storage.Layout
	locks    *itemlock.Locker
	maxBytes func() int64
	logger   *slog.Logger
}

// NewEngine creates an eviction engine. maxBytes is read on every pass.
func NewEngine(
	acct *accounting.Store,
	layout *storage.Layout,
	locks *itemlock.Locker,
	maxBytes func() int64,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		acct:     acct,
		layout:   layout,
		locks:    locks,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// EnforceCapacity evicts least-recently-used entries until the stream cache
// fits the ceiling. Returns the evicted IDs. Cancellation is honored between items.
func (e *Engine) EnforceCapacity(ctx context.Context) ([]string, error) {
	return e.enforce(ctx, Admission{})
}

// EnforceAfterWrite runs the enforcement half of a write-then-enforce cycle.
// The written item is never evicted by its own write.
func (e *Engine) EnforceAfterWrite(ctx context.Context, itemID string, written int64) ([]string, error) {
	return e.enforce(ctx, NewAdmission(e.acct.StreamEntries(), e.maxBytes(), itemID, written))
}

func (e *Engine) enforce(ctx context.Context, admit Admission) ([]string, error) {
	var evicted []string
	for pass := 0; pass < maxPasses; pass++ {
		plan := Plan(e.acct.StreamEntries(), e.maxBytes(), admit)
		if len(plan) == 0 {
			break
		}

		progressed := false
		for _, id := range plan {
			if err := ctx.Err(); err != nil {
				return evicted, err
			}
			freed, err := e.EvictForItem(ctx, id)
			if err != nil {
				e.logger.Warn("failed to evict stream cache", "itemID", id, "error", err)
				continue
			}
			if freed > 0 {
				evicted = append(evicted, id)
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}

	if len(evicted) > 0 {
		e.logger.Info("stream cache evicted",
			"items", len(evicted),
			"usage", e.acct.TotalStreamCacheBytes(),
			"max", e.maxBytes(),
		)
	}
	return evicted, nil
}

// EvictForItem removes one item's whole stream cache entry regardless of recency.
// Idempotent: an item without cache is a no-op. Returns bytes freed.
func (e *Engine) EvictForItem(ctx context.Context, itemID string) (int64, error) {
	unlock, err := e.locks.LockContext(ctx, itemID)
	if err != nil {
		return 0, err
	}
	defer unlock()
	return e.EvictLocked(itemID)
}

// EvictLocked is EvictForItem for callers already holding the item's lock.
func (e *Engine) EvictLocked(itemID string) (int64, error) {
	freed, err := e.layout.RemoveItem(domain.TierStreamCache, itemID)
	if err != nil {
		// Partial deletes leave accounting matching what is still on disk
		if _, mErr := e.acct.Measure(domain.TierStreamCache, itemID, false); mErr != nil {
			e.logger.Warn("failed to re-measure after failed eviction", "itemID", itemID, "error", mErr)
		}
		return 0, err
	}
	before := e.acct.BytesForItem(itemID).StreamCacheBytes
	if _, err := e.acct.Release(domain.TierStreamCache, itemID); err != nil {
		return freed, err
	}
	if freed == 0 {
		freed = before
	}
	if freed > 0 {
		e.logger.Debug("evicted stream cache", "itemID", itemID, "bytes", freed)
	}
	return freed, nil
}

// ClearAll removes every stream cache entry. Downloads are untouched.
func (e *Engine) ClearAll(ctx context.Context) ([]string, error) {
	var cleared []string
	ids, err := e.layout.ListItems(domain.TierStreamCache)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	// Accounting may know entries whose directories already vanished
	for _, entry := range e.acct.StreamEntries() {
		if !seen[entry.ItemID] {
			seen[entry.ItemID] = true
			ids = append(ids, entry.ItemID)
		}
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return cleared, err
		}
		freed, err := e.EvictForItem(ctx, id)
		if err != nil {
			e.logger.Warn("failed to clear stream cache", "itemID", id, "error", err)
			continue
		}
		if freed > 0 {
			cleared = append(cleared, id)
		}
	}
	e.logger.Info("stream cache cleared", "items", len(cleared))
	return cleared, nil
}
