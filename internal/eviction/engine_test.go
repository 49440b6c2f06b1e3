package eviction

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bennybar/kitzi/internal/accounting"
	"github.com/bennybar/kitzi/internal/domain"
	"github.com/bennybar/kitzi/internal/itemlock"
	"github.com/bennybar/kitzi/internal/storage"
	"github.com/bennybar/kitzi/internal/store"
)

type harness struct {
	layout *storage.Layout
	acct   *accounting.Store
	engine *Engine
	max    int64
}

func newHarness(t *testing.T, maxBytes int64) *harness {
	t.Helper()

	layout, err := storage.NewLayout(t.TempDir())
	require.NoError(t, err)
	persist, err := store.Open("")
	require.NoError(t, err)

	h := &harness{layout: layout, max: maxBytes}
	locks := itemlock.New()
	h.acct = accounting.New(layout, persist, locks, nil)
	h.engine = NewEngine(h.acct, layout, locks, func() int64 { return h.max }, nil)
	return h
}

// put writes a file into the item's tier directory and records it.
func (h *harness) put(t *testing.T, tier domain.Tier, itemID string, size int) {
	t.Helper()
	dir, err := h.layout.ItemDir(tier, itemID)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "part"), make([]byte, size), 0o600))
	_, err = h.acct.Measure(tier, itemID, true)
	require.NoError(t, err)
}

func TestEnforceAfterWriteEvictsLRU(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 250)
	h.put(t, domain.TierStreamCache, "A", 100)
	h.put(t, domain.TierStreamCache, "B", 100)
	h.put(t, domain.TierStreamCache, "C", 100)
	h.put(t, domain.TierStreamCache, "D", 100)

	evicted, err := h.engine.EnforceAfterWrite(context.Background(), "D", 100)
	require.NoError(t, err)
	require.Contains(t, evicted, "A")
	require.NotContains(t, evicted, "D")

	require.Equal(t, []string{"B", "C", "D"}, h.acct.ListTrackedItemIDs())
}

func TestEnforceCapacityStandalone(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1000)
	h.put(t, domain.TierStreamCache, "A", 100)
	h.put(t, domain.TierStreamCache, "B", 100)
	h.put(t, domain.TierDownload, "A", 5000)

	evicted, err := h.engine.EnforceCapacity(context.Background())
	require.NoError(t, err)
	require.Empty(t, evicted)

	h.max = 150
	evicted, err = h.engine.EnforceCapacity(context.Background())
	require.NoError(t, err)
	require.Len(t, evicted, 1)
	require.LessOrEqual(t, h.acct.TotalStreamCacheBytes(), h.max)

	// Downloads are never subject to the ceiling
	require.Equal(t, int64(5000), h.acct.TotalDownloadBytes())
}

func TestEnforceCapacityHonorsCancellation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 0)
	h.put(t, domain.TierStreamCache, "A", 10)
	h.put(t, domain.TierStreamCache, "B", 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	evicted, err := h.engine.EnforceCapacity(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, evicted)
	require.Equal(t, int64(20), h.acct.TotalStreamCacheBytes())
}

func TestEvictForItemIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1000)
	h.put(t, domain.TierStreamCache, "A", 64)
	h.put(t, domain.TierDownload, "A", 32)

	freed, err := h.engine.EvictForItem(context.Background(), "A")
	require.NoError(t, err)
	require.Equal(t, int64(64), freed)
	after := h.acct.BytesForItem("A")

	freed, err = h.engine.EvictForItem(context.Background(), "A")
	require.NoError(t, err)
	require.Zero(t, freed)
	require.Equal(t, after, h.acct.BytesForItem("A"))
	require.Equal(t, domain.Usage{DownloadBytes: 32}, after)

	freed, err = h.engine.EvictForItem(context.Background(), "never-cached")
	require.NoError(t, err)
	require.Zero(t, freed)
}

func TestClearAllLeavesDownloads(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1000)
	h.put(t, domain.TierStreamCache, "A", 10)
	h.put(t, domain.TierStreamCache, "B", 20)
	h.put(t, domain.TierDownload, "B", 30)
	h.put(t, domain.TierDownload, "C", 40)

	cleared, err := h.engine.ClearAll(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"A", "B"}, cleared)

	require.Zero(t, h.acct.TotalStreamCacheBytes())
	require.Equal(t, domain.Usage{DownloadBytes: 30}, h.acct.BytesForItem("B"))
	require.Equal(t, domain.Usage{DownloadBytes: 40}, h.acct.BytesForItem("C"))
	require.Equal(t, []string{"B", "C"}, h.acct.ListTrackedItemIDs())

	ids, err := h.layout.ListItems(domain.TierStreamCache)
	require.NoError(t, err)
	require.Empty(t, ids)
}
