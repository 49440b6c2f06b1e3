package service

import (
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/bennybar/kitzi/internal/domain"
)

// ItemUsage is a tracked item joined with its catalog title
type ItemUsage struct {
	domain.StorageItem
	Title  string
	Author string
}

// Report returns usage for every tracked item, largest first
func (m *Manager) Report() ([]ItemUsage, error) {
	items, err := m.Items()
	if err != nil {
		return nil, err
	}

	rows := make([]ItemUsage, 0, len(items))
	for _, item := range items {
		row := ItemUsage{StorageItem: item, Title: item.ItemID}
		if cached, ok := m.persist.GetCatalogItem(item.ItemID); ok {
			row.Title = cached.DisplayTitle()
			row.Author = cached.Author
		}
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Usage().Total() > rows[j].Usage().Total()
	})
	return rows, nil
}

// FilterUsage fuzzy-matches query against titles, authors and item IDs.
// Results are ordered best match first; an empty query returns rows unchanged.
func FilterUsage(rows []ItemUsage, query string) []ItemUsage {
	query = strings.TrimSpace(query)
	if query == "" {
		return rows
	}

	targets := make([]string, len(rows))
	for i, row := range rows {
		targets[i] = strings.Join([]string{row.Title, row.Author, row.ItemID}, " ")
	}

	matches := fuzzy.RankFindFold(query, targets)

	// Sort by distance (lower is better), keeping input order on ties
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].OriginalIndex < matches[j].OriginalIndex
	})

	results := make([]ItemUsage, 0, len(matches))
	for _, match := range matches {
		results = append(results, rows[match.OriginalIndex])
	}
	return results
}
