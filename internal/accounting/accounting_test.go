package accounting

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bennybar/kitzi/internal/domain"
	"github.com/bennybar/kitzi/internal/itemlock"
	"github.com/bennybar/kitzi/internal/storage"
	"github.com/bennybar/kitzi/internal/store"
)

type fixture struct {
	layout  *storage.Layout
	locks   *itemlock.Locker
	persist *store.Store
	acct    *Store
	clock   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	layout, err := storage.NewLayout(t.TempDir())
	require.NoError(t, err)
	persist, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = persist.Close() })

	f := &fixture{
		layout:  layout,
		locks:   itemlock.New(),
		persist: persist,
		clock:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	f.acct = New(layout, persist, f.locks, nil)
	f.acct.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) write(t *testing.T, tier domain.Tier, itemID, name string, size int) {
	t.Helper()
	dir, err := f.layout.ItemDir(tier, itemID)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0o600))
}

func TestRescanBuildsTotalsFromDisk(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.write(t, domain.TierDownload, "a", "book.m4b", 300)
	f.write(t, domain.TierStreamCache, "a", "seg0", 20)
	f.write(t, domain.TierStreamCache, "b", "seg0", 50)
	f.write(t, domain.TierStreamCache, "b", "seg1", 50)

	require.NoError(t, f.acct.Rescan(context.Background()))

	require.Equal(t, int64(300), f.acct.TotalDownloadBytes())
	require.Equal(t, int64(120), f.acct.TotalStreamCacheBytes())
	require.Equal(t, domain.Usage{DownloadBytes: 300, StreamCacheBytes: 20}, f.acct.BytesForItem("a"))
	require.Equal(t, domain.Usage{StreamCacheBytes: 100}, f.acct.BytesForItem("b"))
	require.Equal(t, domain.Usage{}, f.acct.BytesForItem("missing"))
	require.Equal(t, []string{"a", "b"}, f.acct.ListTrackedItemIDs())
}

func TestRescanDropsEmptyAndKeepsAccessTime(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.write(t, domain.TierStreamCache, "a", "seg0", 10)
	f.write(t, domain.TierStreamCache, "b", "seg0", 10)
	require.NoError(t, f.acct.Rescan(context.Background()))

	f.clock = f.clock.Add(time.Hour)
	f.acct.Touch("a")
	touched, _ := f.acct.Item("a")

	// b's files vanish behind our back (crash between delete and release)
	_, err := f.layout.RemoveItem(domain.TierStreamCache, "b")
	require.NoError(t, err)

	f.clock = f.clock.Add(time.Hour)
	require.NoError(t, f.acct.Rescan(context.Background()))

	require.Equal(t, []string{"a"}, f.acct.ListTrackedItemIDs())
	item, ok := f.acct.Item("a")
	require.True(t, ok)
	require.True(t, item.LastAccessedAt.Equal(touched.LastAccessedAt))

	records, err := f.persist.LoadUsage()
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestLoadRestoresRecordsForNextProcess(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.write(t, domain.TierStreamCache, "a", "seg0", 10)
	require.NoError(t, f.acct.Rescan(context.Background()))

	next := New(f.layout, f.persist, itemlock.New(), nil)
	require.NoError(t, next.Load())
	require.Equal(t, int64(10), next.TotalStreamCacheBytes())
}

func TestRescanFailsWhenRootMissing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, os.RemoveAll(f.layout.Root()))
	require.ErrorIs(t, f.acct.Rescan(context.Background()), domain.ErrStorageUnavailable)
}

func TestMeasureAndRelease(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.write(t, domain.TierDownload, "a", "book.m4b", 40)
	f.write(t, domain.TierStreamCache, "a", "seg0", 5)

	item, err := f.acct.Measure(domain.TierStreamCache, "a", true)
	require.NoError(t, err)
	require.Equal(t, int64(5), item.StreamCacheBytes)
	require.True(t, item.LastAccessedAt.Equal(f.clock))

	_, err = f.acct.Measure(domain.TierDownload, "a", false)
	require.NoError(t, err)
	require.Equal(t, domain.Usage{DownloadBytes: 40, StreamCacheBytes: 5}, f.acct.BytesForItem("a"))

	_, err = f.acct.Release(domain.TierStreamCache, "a")
	require.NoError(t, err)
	require.Equal(t, domain.Usage{DownloadBytes: 40}, f.acct.BytesForItem("a"))
	require.Len(t, f.acct.StreamEntries(), 0)

	_, err = f.acct.Release(domain.TierDownload, "a")
	require.NoError(t, err)
	require.Empty(t, f.acct.ListTrackedItemIDs())

	// Releasing an untracked item is harmless
	_, err = f.acct.Release(domain.TierDownload, "a")
	require.NoError(t, err)
	require.Empty(t, f.acct.ListTrackedItemIDs())
}

func TestTouchIgnoresUntracked(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.acct.Touch("ghost")
	require.Empty(t, f.acct.ListTrackedItemIDs())
}

func TestRescanWaitsForItemLock(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.write(t, domain.TierStreamCache, "x", "seg0", 10)
	require.NoError(t, f.acct.Rescan(context.Background()))

	// An eviction holds x while the scan starts
	unlock := f.locks.Lock("x")
	done := make(chan error, 1)
	go func() { done <- f.acct.Rescan(context.Background()) }()

	select {
	case <-done:
		t.Fatal("rescan committed x while its lock was held")
	case <-time.After(20 * time.Millisecond):
	}

	_, err := f.layout.RemoveItem(domain.TierStreamCache, "x")
	require.NoError(t, err)
	_, err = f.acct.Release(domain.TierStreamCache, "x")
	require.NoError(t, err)
	unlock()

	require.NoError(t, <-done)
	require.Equal(t, domain.Usage{}, f.acct.BytesForItem("x"))
	require.Empty(t, f.acct.ListTrackedItemIDs())
}

func TestRescanHonorsCancellationWhileWaiting(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.write(t, domain.TierStreamCache, "x", "seg0", 10)

	unlock := f.locks.Lock("x")
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, f.acct.Rescan(ctx), context.DeadlineExceeded)
}
