package abs

import (
	"strconv"
	"strings"

	"github.com/bennybar/kitzi/internal/domain"
)

// MapItem converts a server item response to a catalog item.
//
// Field precedence:
//
//	ID:     id, _id
//	Title:  media.metadata.title, title, name
//	Author: media.metadata.authorName, media.metadata.author, author
func MapItem(resp *ItemResponse) *domain.CatalogItem {
	if resp == nil {
		return nil
	}

	item := &domain.CatalogItem{
		ID:        firstNonEmpty(resp.ID, resp.LegacyID),
		LibraryID: resp.LibraryID,
		UpdatedAt: parseMillis(resp.UpdatedAt.String()),
	}

	var meta Metadata
	if resp.Media != nil && resp.Media.Metadata != nil {
		meta = *resp.Media.Metadata
	}
	item.Title = firstNonEmpty(meta.Title, resp.Title, resp.Name)
	item.Author = firstNonEmpty(meta.AuthorName, meta.Author, resp.Author)

	return item
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func parseMillis(s string) int64 {
	if s == "" {
		return 0
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f)
	}
	return 0
}
