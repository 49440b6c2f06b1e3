package domain

// UsageStore persists per-item byte accounting records.
// Records are a cache of filesystem truth and may be rebuilt by a rescan.
type UsageStore interface {
	LoadUsage() ([]StorageItem, error)
	SaveUsage(item StorageItem) error
	DeleteUsage(itemID string) error
}

// SettingsStore persists scalar settings.
type SettingsStore interface {
	GetMaxCacheBytes() (int64, bool)
	SaveMaxCacheBytes(value int64) error
}

// TaskStore holds download task records.
// The transfer state machine belongs to the downloader; the storage layer
// only reads records and cancels tasks for items it deletes.
type TaskStore interface {
	Enqueue(itemID, filename string) (*DownloadTask, error)
	GetTask(taskID string) (*DownloadTask, bool)
	SetStatus(taskID string, status TaskStatus) error
	TasksForItem(itemID string) []DownloadTask
	TaskItemIDs() []string
	DeleteTasksForItem(itemID string) error
}

// CatalogStore caches item metadata fetched from the server.
type CatalogStore interface {
	GetCatalogItem(itemID string) (*CatalogItem, bool)
	SaveCatalogItem(item *CatalogItem) error
	DeleteCatalogItem(itemID string) error
	CatalogItemIDs() []string
}
