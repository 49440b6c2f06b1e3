package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"

	"github.com/sourcegraph/conc"
	"golang.org/x/sync/singleflight"

	"github.com/bennybar/kitzi/internal/accounting"
	"github.com/bennybar/kitzi/internal/domain"
	"github.com/bennybar/kitzi/internal/eviction"
	"github.com/bennybar/kitzi/internal/itemlock"
	"github.com/bennybar/kitzi/internal/reconcile"
	"github.com/bennybar/kitzi/internal/storage"
)

// Persistence is the state the manager keeps between runs
type Persistence interface {
	domain.UsageStore
	domain.SettingsStore
	domain.TaskStore
	domain.CatalogStore
}

// Manager is the single entry point for storage queries and mutations.
// Operations on the same item are serialized; different items run concurrently.
type Manager struct {
	layout  *storage.Layout
	persist Persistence
	acct    *accounting.Store
	engine  *eviction.Engine
	checker *reconcile.Checker
	locks   *itemlock.Locker
	limits  domain.CacheLimits
	logger  *slog.Logger

	initGroup   singleflight.Group
	initialized atomic.Bool
	maxBytes    atomic.Int64

	// Background enforcement started by SetMaxCacheBytes
	bg       conc.WaitGroup
	bgCtx    context.Context
	bgCancel context.CancelFunc
}

// NewManager wires the storage services together. Call Init before use.
func NewManager(
	layout *storage.Layout,
	persist Persistence,
	items domain.ItemRepository,
	limits domain.CacheLimits,
	logger *slog.Logger,
) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		layout:  layout,
		persist: persist,
		locks:   itemlock.New(),
		limits:  limits,
		logger:  logger,
	}
	m.bgCtx, m.bgCancel = context.WithCancel(context.Background())
	m.acct = accounting.New(layout, persist, m.locks, logger.With("component", "accounting"))
	m.engine = eviction.NewEngine(m.acct, layout, m.locks, m.MaxCacheBytes, logger.With("component", "eviction"))
	m.checker = reconcile.NewChecker(items, persist, m, logger.With("component", "reconcile"))
	return m
}

// Init loads the ceiling and rebuilds accounting from the filesystem.
// Concurrent callers share one run; once it succeeds later calls return
// immediately. A failed run may be retried.
func (m *Manager) Init(ctx context.Context) error {
	if m.initialized.Load() {
		return nil
	}
	_, err, _ := m.initGroup.Do("init", func() (interface{}, error) {
		if m.initialized.Load() {
			return nil, nil
		}
		if err := m.init(ctx); err != nil {
			return nil, err
		}
		m.initialized.Store(true)
		return nil, nil
	})
	return err
}

func (m *Manager) init(ctx context.Context) error {
	if err := m.layout.Check(); err != nil {
		return err
	}
	if err := m.acct.Load(); err != nil {
		return fmt.Errorf("failed to load usage records: %w", err)
	}
	if err := m.acct.Rescan(ctx); err != nil {
		return fmt.Errorf("failed to scan storage: %w", err)
	}

	ceiling := m.limits.Default
	stored, ok := m.persist.GetMaxCacheBytes()
	if ok {
		ceiling = stored
	}
	clamped := m.limits.Clamp(ceiling)
	if !ok || stored != clamped {
		if err := m.persist.SaveMaxCacheBytes(clamped); err != nil {
			return fmt.Errorf("failed to save cache ceiling: %w", err)
		}
	}
	m.maxBytes.Store(clamped)

	m.logger.Info("storage manager initialized",
		"root", m.layout.Root(),
		"items", len(m.acct.ListTrackedItemIDs()),
		"downloadBytes", m.acct.TotalDownloadBytes(),
		"streamCacheBytes", m.acct.TotalStreamCacheBytes(),
		"maxCacheBytes", clamped,
	)
	return nil
}

func (m *Manager) ready() error {
	if !m.initialized.Load() {
		return domain.ErrNotInitialized
	}
	return nil
}

// === Configuration ===

// MaxCacheBytes returns the current stream cache ceiling
func (m *Manager) MaxCacheBytes() int64 {
	return m.maxBytes.Load()
}

// Limits returns the bounds applied to SetMaxCacheBytes
func (m *Manager) Limits() domain.CacheLimits {
	return m.limits
}

// SetMaxCacheBytes clamps value to the configured bounds, persists it and
// starts capacity enforcement in the background. Returns the value applied.
func (m *Manager) SetMaxCacheBytes(value int64) (int64, error) {
	if err := m.ready(); err != nil {
		return 0, err
	}

	clamped := m.limits.Clamp(value)
	if clamped != value {
		m.logger.Info("cache ceiling clamped", "requested", value, "applied", clamped)
	}
	if err := m.persist.SaveMaxCacheBytes(clamped); err != nil {
		return 0, fmt.Errorf("failed to save cache ceiling: %w", err)
	}
	m.maxBytes.Store(clamped)

	m.bg.Go(func() {
		if _, err := m.engine.EnforceCapacity(m.bgCtx); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Warn("background capacity enforcement failed", "error", err)
		}
	})
	return clamped, nil
}

// === Queries ===

// CurrentUsage returns byte totals for both tiers.
// An unreachable storage root fails with ErrStorageUnavailable.
func (m *Manager) CurrentUsage() (domain.Usage, error) {
	if err := m.ready(); err != nil {
		return domain.Usage{}, err
	}
	if err := m.layout.Check(); err != nil {
		return domain.Usage{}, err
	}
	return domain.Usage{
		DownloadBytes:    m.acct.TotalDownloadBytes(),
		StreamCacheBytes: m.acct.TotalStreamCacheBytes(),
	}, nil
}

// UsageForItem returns an item's usage; untracked items report zero.
func (m *Manager) UsageForItem(itemID string) (domain.Usage, error) {
	if err := m.ready(); err != nil {
		return domain.Usage{}, err
	}
	return m.acct.BytesForItem(itemID), nil
}

// TrackedItemIDs returns the sorted IDs with nonzero usage.
func (m *Manager) TrackedItemIDs() ([]string, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	return m.acct.ListTrackedItemIDs(), nil
}

// Items returns every tracked record, sorted by ID.
func (m *Manager) Items() ([]domain.StorageItem, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	return m.acct.Items(), nil
}

// CatalogItem returns cached metadata for an item, if any
func (m *Manager) CatalogItem(itemID string) (*domain.CatalogItem, bool) {
	return m.persist.GetCatalogItem(itemID)
}

// Stats returns a point-in-time summary. Zero before Init.
func (m *Manager) Stats() domain.StorageStats {
	if m.ready() != nil {
		return domain.StorageStats{}
	}
	return domain.StorageStats{
		DownloadBytes:    m.acct.TotalDownloadBytes(),
		StreamCacheBytes: m.acct.TotalStreamCacheBytes(),
		MaxCacheBytes:    m.MaxCacheBytes(),
		TrackedItems:     len(m.acct.ListTrackedItemIDs()),
	}
}

// === Stream cache ===

// RecordCacheWrite records a completed fragment write of written bytes for an
// item, then enforces the ceiling. The writer itself is never evicted by its
// own write. Returns the evicted IDs.
func (m *Manager) RecordCacheWrite(ctx context.Context, itemID string, written int64) ([]string, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	if err := storage.ValidateItemID(itemID); err != nil {
		return nil, err
	}

	unlock, err := m.locks.LockContext(ctx, itemID)
	if err != nil {
		return nil, err
	}
	item, err := m.acct.Measure(domain.TierStreamCache, itemID, true)
	unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to measure stream cache for %s: %w", itemID, err)
	}
	if written < 0 {
		written = 0
	}
	if written > item.StreamCacheBytes {
		written = item.StreamCacheBytes
	}

	return m.engine.EnforceAfterWrite(ctx, itemID, written)
}

// Touch records a playback read of an item
func (m *Manager) Touch(itemID string) {
	if m.ready() != nil {
		return
	}
	m.acct.Touch(itemID)
}

// EnforceCapacity evicts least-recently-used entries until the ceiling holds
func (m *Manager) EnforceCapacity(ctx context.Context) ([]string, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	return m.engine.EnforceCapacity(ctx)
}

// EvictForItem removes one item's stream cache. Idempotent. Returns bytes freed.
func (m *Manager) EvictForItem(ctx context.Context, itemID string) (int64, error) {
	if err := m.ready(); err != nil {
		return 0, err
	}
	if err := storage.ValidateItemID(itemID); err != nil {
		return 0, err
	}
	return m.engine.EvictForItem(ctx, itemID)
}

// Clear removes every stream cache entry. Downloads are untouched.
func (m *Manager) Clear(ctx context.Context) ([]string, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	return m.engine.ClearAll(ctx)
}

// === Downloads ===

// EnqueueDownload records a new download task for an item
func (m *Manager) EnqueueDownload(itemID, filename string) (*domain.DownloadTask, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	if err := storage.ValidateItemID(itemID); err != nil {
		return nil, err
	}
	return m.persist.Enqueue(itemID, filename)
}

// FinishDownload moves a task to a terminal status. Completed tasks rescan
// the item's download directory. Tasks canceled by a deletion stay canceled.
func (m *Manager) FinishDownload(ctx context.Context, taskID string, status domain.TaskStatus) error {
	if err := m.ready(); err != nil {
		return err
	}
	task, ok := m.persist.GetTask(taskID)
	if !ok {
		return domain.ErrTaskNotFound
	}

	unlock, err := m.locks.LockContext(ctx, task.ItemID)
	if err != nil {
		return err
	}
	defer unlock()

	// Re-read under the lock; a deletion may have canceled or removed it
	task, ok = m.persist.GetTask(taskID)
	if !ok {
		return domain.ErrTaskNotFound
	}
	if task.Status == domain.TaskCanceled {
		return nil
	}
	if err := m.persist.SetStatus(taskID, status); err != nil {
		return err
	}
	if status == domain.TaskComplete {
		if _, err := m.acct.Measure(domain.TierDownload, task.ItemID, true); err != nil {
			return fmt.Errorf("failed to measure download for %s: %w", task.ItemID, err)
		}
	}
	return nil
}

// CompleteDownload rescans an item's download directory after files landed
func (m *Manager) CompleteDownload(ctx context.Context, itemID string) (domain.Usage, error) {
	if err := m.ready(); err != nil {
		return domain.Usage{}, err
	}
	if err := storage.ValidateItemID(itemID); err != nil {
		return domain.Usage{}, err
	}

	unlock, err := m.locks.LockContext(ctx, itemID)
	if err != nil {
		return domain.Usage{}, err
	}
	defer unlock()

	item, err := m.acct.Measure(domain.TierDownload, itemID, true)
	if err != nil {
		return domain.Usage{}, fmt.Errorf("failed to measure download for %s: %w", itemID, err)
	}
	return item.Usage(), nil
}

// DeleteDownload removes an item's downloaded files and cancels its in-flight
// tasks. The stream cache and catalog entry are kept. Returns bytes freed.
func (m *Manager) DeleteDownload(ctx context.Context, itemID string) (int64, error) {
	if err := m.ready(); err != nil {
		return 0, err
	}
	if err := storage.ValidateItemID(itemID); err != nil {
		return 0, err
	}

	unlock, err := m.locks.LockContext(ctx, itemID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	m.cancelTasks(itemID)
	freed, err := m.removeTier(domain.TierDownload, itemID)
	if err != nil {
		return 0, err
	}
	if err := m.persist.DeleteTasksForItem(itemID); err != nil {
		m.logger.Warn("failed to delete task records", "itemID", itemID, "error", err)
	}
	m.logger.Info("download deleted", "itemID", itemID, "bytes", freed)
	return freed, nil
}

// DeleteItem removes every local artifact of an item: downloads, stream
// cache, task records and catalog entry.
func (m *Manager) DeleteItem(ctx context.Context, itemID string) error {
	if err := m.ready(); err != nil {
		return err
	}
	if err := storage.ValidateItemID(itemID); err != nil {
		return err
	}

	unlock, err := m.locks.LockContext(ctx, itemID)
	if err != nil {
		return err
	}
	defer unlock()

	m.cancelTasks(itemID)

	var errs []error
	if _, err := m.removeTier(domain.TierDownload, itemID); err != nil {
		errs = append(errs, err)
	}
	if _, err := m.engine.EvictLocked(itemID); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		// Keep the catalog and task records so a later sweep retries
		return errors.Join(errs...)
	}

	if err := m.persist.DeleteTasksForItem(itemID); err != nil {
		m.logger.Warn("failed to delete task records", "itemID", itemID, "error", err)
	}
	if err := m.persist.DeleteCatalogItem(itemID); err != nil {
		m.logger.Warn("failed to delete catalog entry", "itemID", itemID, "error", err)
	}
	return nil
}

// cancelTasks marks the item's in-flight tasks canceled. Caller holds the item lock.
func (m *Manager) cancelTasks(itemID string) {
	for _, task := range m.persist.TasksForItem(itemID) {
		if !task.Status.InFlight() {
			continue
		}
		if err := m.persist.SetStatus(task.ID, domain.TaskCanceled); err != nil {
			m.logger.Warn("failed to cancel download task", "taskID", task.ID, "itemID", itemID, "error", err)
			continue
		}
		m.logger.Info("canceled in-flight download", "taskID", task.ID, "itemID", itemID)
	}
}

// removeTier deletes one tier of an item and releases its bytes.
// Caller holds the item lock.
func (m *Manager) removeTier(tier domain.Tier, itemID string) (int64, error) {
	before := m.acct.BytesForItem(itemID)
	freed, err := m.layout.RemoveItem(tier, itemID)
	if err != nil {
		if _, mErr := m.acct.Measure(tier, itemID, false); mErr != nil {
			m.logger.Warn("failed to re-measure after failed delete", "itemID", itemID, "tier", tier.String(), "error", mErr)
		}
		return 0, fmt.Errorf("failed to delete %s for %s: %w", tier, itemID, err)
	}
	if _, err := m.acct.Release(tier, itemID); err != nil {
		return freed, err
	}
	if freed == 0 {
		if tier == domain.TierDownload {
			freed = before.DownloadBytes
		} else {
			freed = before.StreamCacheBytes
		}
	}
	return freed, nil
}

// === Reconciliation ===

// CleanupDeletedAndBrokenBooks checks every locally known item against the
// server and deletes the artifacts of items it reports missing. Ambiguous
// lookups never delete. Cleaned in the result is the number of items removed.
func (m *Manager) CleanupDeletedAndBrokenBooks(
	ctx context.Context,
	onProgress domain.CleanupProgressFunc,
	shouldContinue domain.ContinueFunc,
) (domain.CleanupResult, error) {
	if err := m.ready(); err != nil {
		return domain.CleanupResult{}, err
	}
	if err := m.layout.Check(); err != nil {
		return domain.CleanupResult{}, err
	}
	return m.checker.CheckAndClean(ctx, m.knownItemIDs(), onProgress, shouldContinue), nil
}

// knownItemIDs is the sorted union of tracked, cataloged and task item IDs
func (m *Manager) knownItemIDs() []string {
	seen := make(map[string]struct{})
	for _, ids := range [][]string{
		m.acct.ListTrackedItemIDs(),
		m.persist.CatalogItemIDs(),
		m.persist.TaskItemIDs(),
	} {
		for _, id := range ids {
			if storage.ValidateItemID(id) == nil {
				seen[id] = struct{}{}
			}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// === Lifecycle ===

// Rescan rebuilds accounting from the filesystem
func (m *Manager) Rescan(ctx context.Context) error {
	if err := m.ready(); err != nil {
		return err
	}
	return m.acct.Rescan(ctx)
}

// Wait blocks until background enforcement started so far has finished
func (m *Manager) Wait() {
	m.bg.Wait()
}

// Close stops background enforcement and waits for it to exit
func (m *Manager) Close() {
	m.bgCancel()
	m.bg.Wait()
}
