// Package accounting tracks per-item byte usage across the download and
// stream cache tiers.
//
// In-memory totals are a cache of filesystem truth. Records are persisted so
// that recency survives restarts, and Rescan rebuilds sizes from disk.
package accounting

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/bennybar/kitzi/internal/domain"
	"github.com/bennybar/kitzi/internal/itemlock"
	"github.com/bennybar/kitzi/internal/storage"
)

const defaultScanWorkers = 4

// Store is the byte accounting store. Safe for concurrent use.
type Store struct {
	layout  *storage.Layout
	persist domain.UsageStore
	locks   *itemlock.Locker
	logger  *slog.Logger

	mu    sync.RWMutex
	items map[string]domain.StorageItem

	scanWorkers int
	now         func() time.Time
}

// New creates an accounting store over layout, persisting records to persist.
// locks must be the locker shared with every writer of the same items.
func New(layout *storage.Layout, persist domain.UsageStore, locks *itemlock.Locker, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		layout:      layout,
		persist:     persist,
		locks:       locks,
		logger:      logger,
		items:       make(map[string]domain.StorageItem),
		scanWorkers: defaultScanWorkers,
		now:         time.Now,
	}
}

// Load restores persisted records without touching the filesystem.
func (s *Store) Load() error {
	records, err := s.persist.LoadUsage()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]domain.StorageItem, len(records))
	for _, r := range records {
		if r.IsEmpty() {
			continue
		}
		s.items[r.ItemID] = clampItem(r)
	}
	return nil
}

// Rescan recomputes every item's sizes from the filesystem.
// Each item is sized and committed while its lock is held, so a concurrent
// eviction or write on the same item is never overwritten with a stale figure.
// Recorded access times are kept; records with no remaining bytes are dropped.
// An unreadable tier root is fatal (ErrStorageUnavailable); an unreadable item
// keeps its previous figures and the scan continues.
func (s *Store) Rescan(ctx context.Context) error {
	downloads, err := s.layout.ListItems(domain.TierDownload)
	if err != nil {
		return err
	}
	cached, err := s.layout.ListItems(domain.TierStreamCache)
	if err != nil {
		return err
	}

	ids := make(map[string]struct{}, len(downloads)+len(cached))
	for _, id := range downloads {
		ids[id] = struct{}{}
	}
	for _, id := range cached {
		ids[id] = struct{}{}
	}
	// Tracked items whose directories vanished are re-measured to zero
	for _, id := range s.ListTrackedItemIDs() {
		ids[id] = struct{}{}
	}

	p := pool.New().WithContext(ctx).WithMaxGoroutines(s.scanWorkers)
	for id := range ids {
		itemID := id
		p.Go(func(ctx context.Context) error {
			unlock, err := s.locks.LockContext(ctx, itemID)
			if err != nil {
				return err
			}
			defer unlock()
			s.rescanLocked(itemID)
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return err
	}

	s.logger.Debug("rescan complete", "items", len(ids), "tracked", len(s.ListTrackedItemIDs()))
	return nil
}

// rescanLocked sizes both tiers of one item and commits the result.
// Callers hold the item's lock.
func (s *Store) rescanLocked(itemID string) {
	sizes := make(map[domain.Tier]int64, 2)
	for _, tier := range []domain.Tier{domain.TierDownload, domain.TierStreamCache} {
		n, err := s.layout.ItemBytes(tier, itemID)
		if err != nil {
			s.logger.Warn("failed to size item directory", "itemID", itemID, "tier", tier.String(), "error", err)
			continue
		}
		sizes[tier] = n
	}

	if _, err := s.set(itemID, func(item *domain.StorageItem) {
		if n, ok := sizes[domain.TierDownload]; ok {
			item.DownloadBytes = n
		}
		if n, ok := sizes[domain.TierStreamCache]; ok {
			item.StreamCacheBytes = n
		}
	}); err != nil {
		s.logger.Warn("failed to save usage record", "itemID", itemID, "error", err)
	}
}

// TotalDownloadBytes sums download bytes across tracked items.
func (s *Store) TotalDownloadBytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, item := range s.items {
		total += item.DownloadBytes
	}
	return total
}

// TotalStreamCacheBytes sums stream cache bytes across tracked items.
func (s *Store) TotalStreamCacheBytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, item := range s.items {
		total += item.StreamCacheBytes
	}
	return total
}

// BytesForItem returns an item's usage; untracked items report zero.
func (s *Store) BytesForItem(itemID string) domain.Usage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items[itemID].Usage()
}

// Item returns a copy of the item's record.
func (s *Store) Item(itemID string) (domain.StorageItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[itemID]
	return item, ok
}

// ListTrackedItemIDs returns the sorted IDs with nonzero usage in either tier.
func (s *Store) ListTrackedItemIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Items returns a snapshot of all tracked records, sorted by ID.
func (s *Store) Items() []domain.StorageItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]domain.StorageItem, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ItemID < items[j].ItemID })
	return items
}

// StreamEntries returns a snapshot of items holding stream cache bytes.
func (s *Store) StreamEntries() []domain.StorageItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]domain.StorageItem, 0, len(s.items))
	for _, item := range s.items {
		if item.StreamCacheBytes > 0 {
			entries = append(entries, item)
		}
	}
	return entries
}

// Measure re-reads one tier of an item from disk and records the result.
// When touch is set the item's access time moves to now.
// Callers hold the item's lock.
func (s *Store) Measure(tier domain.Tier, itemID string, touch bool) (domain.StorageItem, error) {
	n, err := s.layout.ItemBytes(tier, itemID)
	if err != nil {
		return domain.StorageItem{}, err
	}
	return s.set(itemID, func(item *domain.StorageItem) {
		if tier == domain.TierDownload {
			item.DownloadBytes = n
		} else {
			item.StreamCacheBytes = n
		}
		if touch {
			item.LastAccessedAt = s.now()
		}
	})
}

// Touch records a playback or cache read. Untracked items are ignored.
func (s *Store) Touch(itemID string) {
	s.mu.RLock()
	_, ok := s.items[itemID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	if _, err := s.set(itemID, func(item *domain.StorageItem) {
		item.LastAccessedAt = s.now()
	}); err != nil {
		s.logger.Warn("failed to persist access time", "itemID", itemID, "error", err)
	}
}

// Release zeroes one tier of an item after its files were deleted.
// Callers hold the item's lock.
func (s *Store) Release(tier domain.Tier, itemID string) (domain.StorageItem, error) {
	return s.set(itemID, func(item *domain.StorageItem) {
		if tier == domain.TierDownload {
			item.DownloadBytes = 0
		} else {
			item.StreamCacheBytes = 0
		}
	})
}

// set applies fn to the item's record and persists the outcome.
// Empty records are removed.
func (s *Store) set(itemID string, fn func(item *domain.StorageItem)) (domain.StorageItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID]
	if !ok {
		item = domain.StorageItem{ItemID: itemID}
	}
	fn(&item)
	item = clampItem(item)

	if item.IsEmpty() {
		delete(s.items, itemID)
		if !ok {
			return item, nil
		}
		return item, s.persist.DeleteUsage(itemID)
	}
	if item.LastAccessedAt.IsZero() {
		item.LastAccessedAt = s.now()
	}
	s.items[itemID] = item
	return item, s.persist.SaveUsage(item)
}

func clampItem(item domain.StorageItem) domain.StorageItem {
	if item.DownloadBytes < 0 {
		item.DownloadBytes = 0
	}
	if item.StreamCacheBytes < 0 {
		item.StreamCacheBytes = 0
	}
	return item
}
