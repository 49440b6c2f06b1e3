package abs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bennybar/kitzi/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL+"/", "secret", nil)
	c.retryDelay = time.Millisecond
	return c
}

func TestGetItem(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/items/li_123", r.URL.Path)
		require.Empty(t, r.URL.RawQuery)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "li_123",
			"libraryId": "lib_1",
			"mediaType": "book",
			"updatedAt": 1700000000000,
			"media": {"metadata": {"title": "Dune", "authorName": "Frank Herbert"}}
		}`))
	})

	item, err := c.GetItem(context.Background(), "li_123")
	require.NoError(t, err)
	require.Equal(t, &domain.CatalogItem{
		ID:        "li_123",
		Title:     "Dune",
		Author:    "Frank Herbert",
		LibraryID: "lib_1",
		UpdatedAt: 1700000000000,
	}, item)
}

func TestGetItemTolerantShapes(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"_id": "legacy", "title": "Flat Title", "author": "Someone", "updatedAt": "42"}`))
	})

	item, err := c.GetItem(context.Background(), "legacy")
	require.NoError(t, err)
	require.Equal(t, "legacy", item.ID)
	require.Equal(t, "Flat Title", item.Title)
	require.Equal(t, "Someone", item.Author)
	require.Equal(t, int64(42), item.UpdatedAt)
}

func TestGetItemNotFound(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"Item not found"}`))
	})

	_, err := c.GetItem(context.Background(), "gone")
	require.ErrorIs(t, err, domain.ErrItemNotFound)
}

func TestGetItemRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"id":"ok"}`))
	})

	item, err := c.GetItem(context.Background(), "ok")
	require.NoError(t, err)
	require.Equal(t, "ok", item.ID)
	require.Equal(t, int32(3), calls.Load())
}

func TestGetItemServerErrorIsNotNotFound(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.GetItem(context.Background(), "x")
	require.ErrorIs(t, err, domain.ErrServerOffline)
	require.NotErrorIs(t, err, domain.ErrItemNotFound)
	require.Equal(t, int32(maxRetries+1), calls.Load())
}

func TestGetItemAuthFailure(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.GetItem(context.Background(), "x")
	require.ErrorIs(t, err, domain.ErrAuthFailed)
}

func TestGetItemMissingIDIsAmbiguous(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"title":"no identity"}`))
	})

	_, err := c.GetItem(context.Background(), "x")
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrItemNotFound)
}

func TestGetItemServerOffline(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, "", nil).GetItem(context.Background(), "x")
	require.ErrorIs(t, err, domain.ErrServerOffline)
}
