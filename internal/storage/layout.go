// Package storage owns the on-disk layout of downloads and stream cache.
//
// Layout under the storage root:
//
//	root/
//	  downloads/<itemID>/...    (permanent, user-requested)
//	  streamcache/<itemID>/...  (evictable fragments)
//
// One subdirectory per item ID per tier. Directory contents are the source of
// truth for byte accounting.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bennybar/kitzi/internal/domain"
)

const (
	downloadsDir   = "downloads"
	streamCacheDir = "streamcache"
	defaultDirPerm = 0o755
)

// Layout resolves per-item directories under a storage root.
type Layout struct {
	root string
}

// NewLayout creates the tier directories under root.
func NewLayout(root string) (*Layout, error) {
	if root == "" {
		return nil, errors.New("storage root is empty")
	}
	root = filepath.Clean(root)
	for _, dir := range []string{downloadsDir, streamCacheDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), defaultDirPerm); err != nil {
			return nil, fmt.Errorf("%w: create %s: %v", domain.ErrStorageUnavailable, dir, err)
		}
	}
	return &Layout{root: root}, nil
}

// Root returns the storage root.
func (l *Layout) Root() string {
	return l.root
}

// Check verifies both tier directories are reachable.
func (l *Layout) Check() error {
	for _, tier := range []domain.Tier{domain.TierDownload, domain.TierStreamCache} {
		info, err := os.Stat(l.tierDir(tier))
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%w: %s is not a directory", domain.ErrStorageUnavailable, l.tierDir(tier))
		}
	}
	return nil
}

// ItemDir returns the directory holding an item's files for a tier.
func (l *Layout) ItemDir(tier domain.Tier, itemID string) (string, error) {
	if err := ValidateItemID(itemID); err != nil {
		return "", err
	}
	return filepath.Join(l.tierDir(tier), itemID), nil
}

// ListItems returns the item IDs that have a directory in the tier.
func (l *Layout) ListItems(tier domain.Tier) ([]string, error) {
	entries, err := os.ReadDir(l.tierDir(tier))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if ValidateItemID(e.Name()) != nil {
			continue
		}
		ids = append(ids, e.Name())
	}
	sort.Strings(ids)
	return ids, nil
}

// ItemBytes sums regular file sizes in an item's directory.
// A missing directory is 0 bytes, not an error.
func (l *Layout) ItemBytes(tier domain.Tier, itemID string) (int64, error) {
	dir, err := l.ItemDir(tier, itemID)
	if err != nil {
		return 0, err
	}
	return dirSize(dir)
}

// RemoveItem recursively deletes an item's directory in a tier and returns
// the bytes it held. Missing directories are a no-op.
func (l *Layout) RemoveItem(tier domain.Tier, itemID string) (int64, error) {
	dir, err := l.ItemDir(tier, itemID)
	if err != nil {
		return 0, err
	}
	if err := l.validateDeleteTarget(tier, dir); err != nil {
		return 0, err
	}

	info, err := os.Lstat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("stat target: %w", err)
	}
	// Symlinks are unlinked, never followed
	if info.Mode()&os.ModeSymlink != 0 {
		return 0, os.Remove(dir)
	}

	size, err := dirSize(dir)
	if err != nil {
		return 0, fmt.Errorf("size target: %w", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return 0, fmt.Errorf("remove target: %w", err)
	}
	return size, nil
}

func (l *Layout) tierDir(tier domain.Tier) string {
	if tier == domain.TierStreamCache {
		return filepath.Join(l.root, streamCacheDir)
	}
	return filepath.Join(l.root, downloadsDir)
}

// validateDeleteTarget refuses anything that is not a direct child of the tier directory.
func (l *Layout) validateDeleteTarget(tier domain.Tier, target string) error {
	tierRoot := l.tierDir(tier)
	if filepath.Clean(target) == filepath.Clean(tierRoot) {
		return fmt.Errorf("refusing to delete tier root: %s", tierRoot)
	}
	rel, err := filepath.Rel(tierRoot, target)
	if err != nil || strings.HasPrefix(rel, "..") || strings.ContainsRune(rel, filepath.Separator) {
		return fmt.Errorf("path escapes tier root: %s", target)
	}
	return nil
}

// ValidateItemID rejects IDs that cannot safely name a single directory.
func ValidateItemID(itemID string) error {
	switch {
	case itemID == "", itemID == ".", itemID == "..":
		return fmt.Errorf("%w: %q", domain.ErrInvalidItemID, itemID)
	case strings.ContainsAny(itemID, `/\`), strings.ContainsRune(itemID, 0):
		return fmt.Errorf("%w: %q", domain.ErrInvalidItemID, itemID)
	}
	return nil
}

func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		total += info.Size()
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	return total, err
}
