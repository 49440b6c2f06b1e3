package eviction

import (
	"sort"

	"github.com/bennybar/kitzi/internal/domain"
)

// Order sorts entries least-recently-used first.
// Ties on access time evict the larger entry first, then fall back to ID.
func Order(entries []domain.StorageItem) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.LastAccessedAt.Equal(b.LastAccessedAt) {
			return a.LastAccessedAt.Before(b.LastAccessedAt)
		}
		if a.StreamCacheBytes != b.StreamCacheBytes {
			return a.StreamCacheBytes > b.StreamCacheBytes
		}
		return a.ItemID < b.ItemID
	})
}

// Admission describes the write that triggered enforcement.
// The zero value means standalone enforcement.
type Admission struct {
	ItemID string // exempt from eviction in this cycle
	Bytes  int64  // bytes just written for ItemID

	// Overfull records that usage already exceeded the ceiling before the
	// write. It is decided once per cycle; see NewAdmission.
	Overfull bool
}

// NewAdmission describes a write of written bytes to itemID against entries.
func NewAdmission(entries []domain.StorageItem, maxBytes int64, itemID string, written int64) Admission {
	var total int64
	for _, e := range entries {
		if e.StreamCacheBytes > 0 {
			total += e.StreamCacheBytes
		}
	}
	return Admission{ItemID: itemID, Bytes: written, Overfull: total-written > maxBytes}
}

// Plan returns the IDs to evict, in order, so stream cache usage fits maxBytes.
//
// Standalone enforcement evicts until the total fits or one entry remains; a
// single entry larger than the ceiling is kept whole.
//
// After a write the writing item is exempt and eviction runs until the total
// fits, or until nothing else is left when the writer alone exceeds the
// ceiling. When the cache was already overfull before the write, eviction
// stops once the pre-write usage fits and the new bytes are admitted on top.
func Plan(entries []domain.StorageItem, maxBytes int64, admit Admission) []string {
	var total, writer int64
	candidates := make([]domain.StorageItem, 0, len(entries))
	for _, e := range entries {
		if e.StreamCacheBytes <= 0 {
			continue
		}
		total += e.StreamCacheBytes
		if admit.ItemID != "" && e.ItemID == admit.ItemID {
			writer = e.StreamCacheBytes
			continue
		}
		candidates = append(candidates, e)
	}
	Order(candidates)

	over := func(total int64) bool {
		if total <= maxBytes {
			return false
		}
		if admit.Overfull {
			return writer > maxBytes || total-admit.Bytes > maxBytes
		}
		return true
	}

	var victims []string
	for i, c := range candidates {
		if !over(total) {
			break
		}
		// Standalone passes keep the last entry whole
		if admit.ItemID == "" && i == len(candidates)-1 {
			break
		}
		victims = append(victims, c.ItemID)
		total -= c.StreamCacheBytes
	}
	return victims
}
