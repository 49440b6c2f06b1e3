package metrics

import (
	"bytes"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/bennybar/kitzi/internal/domain"
)

type staticStats domain.StorageStats

func (s staticStats) Stats() domain.StorageStats {
	return domain.StorageStats(s)
}

func TestStorageCollector(t *testing.T) {
	t.Parallel()

	collector := NewStorageCollector(staticStats{
		DownloadBytes:    300,
		StreamCacheBytes: 120,
		MaxCacheBytes:    500,
		TrackedItems:     4,
	})

	require.Equal(t, 4, testutil.CollectAndCount(collector))

	expected := `
# HELP kitzi_stream_cache_bytes Bytes held by the evictable stream cache
# TYPE kitzi_stream_cache_bytes gauge
kitzi_stream_cache_bytes 120
# HELP kitzi_tracked_items Items holding bytes in either tier
# TYPE kitzi_tracked_items gauge
kitzi_tracked_items 4
`
	require.NoError(t, testutil.CollectAndCompare(collector, strings.NewReader(expected),
		"kitzi_stream_cache_bytes", "kitzi_tracked_items"))
}

func TestWriteText(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(staticStats{DownloadBytes: 7, MaxCacheBytes: 9})

	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, registry))
	require.Contains(t, buf.String(), "kitzi_download_bytes 7")
	require.Contains(t, buf.String(), "kitzi_stream_cache_max_bytes 9")
	require.Contains(t, buf.String(), "kitzi_stream_cache_bytes 0")
}
