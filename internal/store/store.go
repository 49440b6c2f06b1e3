package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bennybar/kitzi/internal/domain"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// Bucket names
var (
	bucketUsage    = []byte("usage")
	bucketSettings = []byte("settings")
	bucketTasks    = []byte("tasks")
	bucketCatalog  = []byte("catalog")

	allBuckets = [][]byte{bucketUsage, bucketSettings, bucketTasks, bucketCatalog}
)

const keyMaxCacheBytes = "max_cache_bytes"

// Store implements the domain persistence interfaces using BoltDB.
type Store struct {
	db *bolt.DB
	mu sync.RWMutex // Protects memory cache

	// In-memory cache for hot-path reads (promoted on access).
	// In memory-only mode this is the only copy.
	cache map[string][]byte

	now func() time.Time
}

var (
	_ domain.UsageStore    = (*Store)(nil)
	_ domain.SettingsStore = (*Store)(nil)
	_ domain.TaskStore     = (*Store)(nil)
	_ domain.CatalogStore  = (*Store)(nil)
)

// Open opens (or creates) the state database under dir.
// An empty dir selects memory-only mode.
func Open(dir string) (*Store, error) {
	if dir == "" {
		return &Store{cache: make(map[string][]byte), now: time.Now}, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dir, "kitzi.db")
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, cache: make(map[string][]byte), now: time.Now}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// === Generic helpers ===

func (s *Store) get(bucket []byte, key string, dest interface{}) bool {
	cacheKey := string(bucket) + ":" + key

	s.mu.RLock()
	if data, ok := s.cache[cacheKey]; ok {
		s.mu.RUnlock()
		return json.Unmarshal(data, dest) == nil
	}
	s.mu.RUnlock()

	if s.db == nil {
		return false
	}

	var data []byte
	s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})

	if data == nil {
		return false
	}

	s.mu.Lock()
	s.cache[cacheKey] = data
	s.mu.Unlock()

	return json.Unmarshal(data, dest) == nil
}

func (s *Store) set(bucket []byte, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	cacheKey := string(bucket) + ":" + key

	if s.db != nil {
		err := s.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(bucket).Put([]byte(key), data)
		})
		if err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.cache[cacheKey] = data
	s.mu.Unlock()
	return nil
}

func (s *Store) delete(bucket []byte, key string) error {
	cacheKey := string(bucket) + ":" + key

	s.mu.Lock()
	delete(s.cache, cacheKey)
	s.mu.Unlock()

	if s.db == nil {
		return nil
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

// each calls fn for every value in bucket, in key order.
func (s *Store) each(bucket []byte, fn func(key string, data []byte) error) error {
	if s.db == nil {
		prefix := string(bucket) + ":"

		s.mu.RLock()
		keys := make([]string, 0)
		values := make(map[string][]byte)
		for k, v := range s.cache {
			if strings.HasPrefix(k, prefix) {
				key := strings.TrimPrefix(k, prefix)
				keys = append(keys, key)
				values[key] = v
			}
		}
		s.mu.RUnlock()

		sort.Strings(keys)
		for _, k := range keys {
			if err := fn(k, values[k]); err != nil {
				return err
			}
		}
		return nil
	}

	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			return fn(string(k), v)
		})
	})
}

// === Usage ===

func (s *Store) LoadUsage() ([]domain.StorageItem, error) {
	var items []domain.StorageItem
	err := s.each(bucketUsage, func(key string, data []byte) error {
		var item domain.StorageItem
		if err := json.Unmarshal(data, &item); err != nil {
			// Corrupt records are rebuilt by the next rescan
			return nil
		}
		if item.ItemID == "" {
			item.ItemID = key
		}
		items = append(items, item)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load usage: %w", err)
	}
	return items, nil
}

func (s *Store) SaveUsage(item domain.StorageItem) error {
	return s.set(bucketUsage, item.ItemID, item)
}

func (s *Store) DeleteUsage(itemID string) error {
	return s.delete(bucketUsage, itemID)
}

// === Settings ===

func (s *Store) GetMaxCacheBytes() (int64, bool) {
	var v int64
	ok := s.get(bucketSettings, keyMaxCacheBytes, &v)
	return v, ok
}

func (s *Store) SaveMaxCacheBytes(value int64) error {
	return s.set(bucketSettings, keyMaxCacheBytes, value)
}

// === Download tasks ===

func (s *Store) Enqueue(itemID, filename string) (*domain.DownloadTask, error) {
	now := s.now()
	task := &domain.DownloadTask{
		ID:        uuid.NewString(),
		ItemID:    itemID,
		Filename:  filename,
		Status:    domain.TaskEnqueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.set(bucketTasks, task.ID, task); err != nil {
		return nil, err
	}
	return task, nil
}

func (s *Store) GetTask(taskID string) (*domain.DownloadTask, bool) {
	var task domain.DownloadTask
	if !s.get(bucketTasks, taskID, &task) {
		return nil, false
	}
	return &task, true
}

func (s *Store) SetStatus(taskID string, status domain.TaskStatus) error {
	if !status.Valid() {
		return fmt.Errorf("unknown task status: %q", status)
	}
	task, ok := s.GetTask(taskID)
	if !ok {
		return domain.ErrTaskNotFound
	}
	task.Status = status
	task.UpdatedAt = s.now()
	return s.set(bucketTasks, taskID, task)
}

func (s *Store) TasksForItem(itemID string) []domain.DownloadTask {
	var tasks []domain.DownloadTask
	s.each(bucketTasks, func(_ string, data []byte) error {
		var task domain.DownloadTask
		if json.Unmarshal(data, &task) == nil && task.ItemID == itemID {
			tasks = append(tasks, task)
		}
		return nil
	})
	return tasks
}

func (s *Store) TaskItemIDs() []string {
	seen := make(map[string]struct{})
	s.each(bucketTasks, func(_ string, data []byte) error {
		var task domain.DownloadTask
		if json.Unmarshal(data, &task) == nil && task.ItemID != "" {
			seen[task.ItemID] = struct{}{}
		}
		return nil
	})
	return sortedKeys(seen)
}

func (s *Store) DeleteTasksForItem(itemID string) error {
	for _, task := range s.TasksForItem(itemID) {
		if err := s.delete(bucketTasks, task.ID); err != nil {
			return err
		}
	}
	return nil
}

// === Catalog ===

func (s *Store) GetCatalogItem(itemID string) (*domain.CatalogItem, bool) {
	var item domain.CatalogItem
	if !s.get(bucketCatalog, itemID, &item) {
		return nil, false
	}
	return &item, true
}

func (s *Store) SaveCatalogItem(item *domain.CatalogItem) error {
	if item == nil || item.ID == "" {
		return fmt.Errorf("catalog item has no id")
	}
	return s.set(bucketCatalog, item.ID, item)
}

func (s *Store) DeleteCatalogItem(itemID string) error {
	return s.delete(bucketCatalog, itemID)
}

func (s *Store) CatalogItemIDs() []string {
	var ids []string
	s.each(bucketCatalog, func(key string, _ []byte) error {
		ids = append(ids, key)
		return nil
	})
	return ids
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
