package domain

import (
	"fmt"
	"time"
)

// Tier distinguishes the two local storage tiers
type Tier int

const (
	TierDownload Tier = iota
	TierStreamCache
)

func (t Tier) String() string {
	switch t {
	case TierDownload:
		return "download"
	case TierStreamCache:
		return "streamcache"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// StorageItem tracks local byte usage for one content item (audiobook or podcast episode).
// An item with no bytes in either tier is not tracked.
type StorageItem struct {
	ItemID           string    `json:"itemId"`
	DownloadBytes    int64     `json:"downloadBytes"`    // Permanent, user-requested download
	StreamCacheBytes int64     `json:"streamCacheBytes"` // Evictable streaming cache
	LastAccessedAt   time.Time `json:"lastAccessedAt"`   // Eviction ordering signal
}

// IsEmpty returns true if the item holds no bytes in either tier
func (s StorageItem) IsEmpty() bool {
	return s.DownloadBytes <= 0 && s.StreamCacheBytes <= 0
}

// Usage returns the byte usage pair for the item
func (s StorageItem) Usage() Usage {
	return Usage{DownloadBytes: s.DownloadBytes, StreamCacheBytes: s.StreamCacheBytes}
}

// Usage is a byte usage pair across both tiers
type Usage struct {
	DownloadBytes    int64
	StreamCacheBytes int64
}

// Total returns the combined bytes of both tiers
func (u Usage) Total() int64 {
	return u.DownloadBytes + u.StreamCacheBytes
}

// StorageStats is a point-in-time summary for display and metrics
type StorageStats struct {
	DownloadBytes    int64
	StreamCacheBytes int64
	MaxCacheBytes    int64
	TrackedItems     int
}

// TaskStatus is the state of a download transfer
type TaskStatus string

const (
	TaskEnqueued TaskStatus = "enqueued"
	TaskRunning  TaskStatus = "running"
	TaskComplete TaskStatus = "complete"
	TaskFailed   TaskStatus = "failed"
	TaskCanceled TaskStatus = "canceled"
)

// InFlight returns true while the transfer may still write files
func (s TaskStatus) InFlight() bool {
	return s == TaskEnqueued || s == TaskRunning
}

// Valid returns true for known statuses
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskEnqueued, TaskRunning, TaskComplete, TaskFailed, TaskCanceled:
		return true
	}
	return false
}

// DownloadTask is a unit of file transfer associated with an item
type DownloadTask struct {
	ID        string     `json:"id"`
	ItemID    string     `json:"itemId"`
	Filename  string     `json:"filename"`
	Status    TaskStatus `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// CatalogItem is the locally cached view of a remote library item
type CatalogItem struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Author    string `json:"author,omitempty"`
	LibraryID string `json:"libraryId,omitempty"`
	UpdatedAt int64  `json:"updatedAt,omitempty"` // Unix millis as reported by the server
}

// DisplayTitle returns the title, falling back to the ID
func (c CatalogItem) DisplayTitle() string {
	if c.Title != "" {
		return c.Title
	}
	return c.ID
}

// CacheLimits bounds the stream cache ceiling.
// All values are in bytes.
type CacheLimits struct {
	Min     int64
	Max     int64
	Step    int64
	Default int64
}

// Clamp maps value into [Min, Max], snapped down to a multiple of Step above Min.
func (l CacheLimits) Clamp(value int64) int64 {
	if value < l.Min {
		value = l.Min
	}
	if l.Max > 0 && value > l.Max {
		value = l.Max
	}
	if l.Step > 0 {
		value = l.Min + ((value-l.Min)/l.Step)*l.Step
	}
	return value
}
