package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bennybar/kitzi/internal/domain"
)

func TestReportJoinsCatalogTitles(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.m.Init(context.Background()))
	f.download(t, "li_dune", 500)
	f.cache(t, "li_emma", 20)
	require.NoError(t, f.persist.SaveCatalogItem(&domain.CatalogItem{ID: "li_dune", Title: "Dune", Author: "Frank Herbert"}))

	rows, err := f.m.Report()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "Dune", rows[0].Title)
	require.Equal(t, "Frank Herbert", rows[0].Author)
	require.Equal(t, int64(500), rows[0].DownloadBytes)
	require.Equal(t, "li_emma", rows[1].Title)
}

func TestFilterUsage(t *testing.T) {
	t.Parallel()

	rows := []ItemUsage{
		{StorageItem: domain.StorageItem{ItemID: "1"}, Title: "The Fellowship of the Ring", Author: "Tolkien"},
		{StorageItem: domain.StorageItem{ItemID: "2"}, Title: "Dune", Author: "Frank Herbert"},
		{StorageItem: domain.StorageItem{ItemID: "3"}, Title: "Dune Messiah", Author: "Frank Herbert"},
	}

	got := FilterUsage(rows, "dune")
	require.Len(t, got, 2)
	require.Equal(t, "2", got[0].ItemID)
	require.Equal(t, "3", got[1].ItemID)

	got = FilterUsage(rows, "tolk")
	require.Len(t, got, 1)
	require.Equal(t, "1", got[0].ItemID)

	require.Empty(t, FilterUsage(rows, "zzz"))
	require.Equal(t, rows, FilterUsage(rows, "  "))
}
