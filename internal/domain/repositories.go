package domain

import (
	"context"
)

// ItemRepository provides remote item lookups (implemented by mediaserver clients)
type ItemRepository interface {
	// GetItem returns metadata for an item.
	// Returns ErrItemNotFound only when the server definitively reports the item absent;
	// every other failure is ambiguous.
	GetItem(ctx context.Context, itemID string) (*CatalogItem, error)
}
