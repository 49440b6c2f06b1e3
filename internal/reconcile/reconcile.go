// Package reconcile validates locally stored items against the server and
// removes artifacts for items the server no longer has.
//
// Only a definitive not-found answer deletes anything. Timeouts, 5xx,
// connectivity loss, auth failures and malformed responses are ambiguous and
// leave local data untouched.
package reconcile

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bennybar/kitzi/internal/domain"
)

// Outcome classifies a remote lookup
type Outcome int

const (
	OutcomePresent Outcome = iota
	OutcomeNotFound
	OutcomeUnknown
)

func (o Outcome) String() string {
	switch o {
	case OutcomePresent:
		return "present"
	case OutcomeNotFound:
		return "not-found"
	default:
		return "unknown"
	}
}

// Classify maps a lookup result to an outcome.
func Classify(item *domain.CatalogItem, err error) Outcome {
	switch {
	case err == nil && item != nil:
		return OutcomePresent
	case errors.Is(err, domain.ErrItemNotFound):
		return OutcomeNotFound
	default:
		return OutcomeUnknown
	}
}

// deleter removes every local artifact of an item (consumer-defined interface)
type deleter interface {
	DeleteItem(ctx context.Context, itemID string) error
}

// Checker runs reconciliation sweeps.
type Checker struct {
	items   domain.ItemRepository
	catalog domain.CatalogStore
	deleter deleter
	logger  *slog.Logger
}

// NewChecker creates a reconciliation checker.
func NewChecker(
	items domain.ItemRepository,
	catalog domain.CatalogStore,
	deleter deleter,
	logger *slog.Logger,
) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		items:   items,
		catalog: catalog,
		deleter: deleter,
		logger:  logger,
	}
}

// CheckAndClean looks up each item on the server and deletes local artifacts
// for items reported not found.
//
// shouldContinue is polled before each item; a false return (or a canceled
// ctx) stops the sweep and returns what was done so far. onProgress is called
// after each item, including items that errored.
func (c *Checker) CheckAndClean(
	ctx context.Context,
	itemIDs []string,
	onProgress domain.CleanupProgressFunc,
	shouldContinue domain.ContinueFunc,
) domain.CleanupResult {
	var result domain.CleanupResult
	total := len(itemIDs)

	for _, id := range itemIDs {
		if ctx.Err() != nil || (shouldContinue != nil && !shouldContinue()) {
			result.Canceled = true
			c.logger.Info("reconciliation canceled", "checked", result.Checked, "total", total)
			break
		}

		title := c.checkOne(ctx, id, &result)
		result.Checked++

		if onProgress != nil {
			onProgress(result.Checked, total, title)
		}
	}

	c.logger.Info("reconciliation finished",
		"checked", result.Checked,
		"cleaned", result.Cleaned,
		"skipped", result.Skipped,
		"canceled", result.Canceled,
	)
	return result
}

// checkOne handles a single item and returns the title to report.
func (c *Checker) checkOne(ctx context.Context, itemID string, result *domain.CleanupResult) string {
	title := itemID
	if cached, ok := c.catalog.GetCatalogItem(itemID); ok {
		title = cached.DisplayTitle()
	}

	item, err := c.items.GetItem(ctx, itemID)
	switch Classify(item, err) {
	case OutcomePresent:
		if item.ID == "" {
			item.ID = itemID
		}
		if err := c.catalog.SaveCatalogItem(item); err != nil {
			c.logger.Warn("failed to refresh catalog entry", "itemID", itemID, "error", err)
		}
		return item.DisplayTitle()

	case OutcomeNotFound:
		if err := c.deleter.DeleteItem(ctx, itemID); err != nil {
			c.logger.Error("failed to delete missing item", "itemID", itemID, "error", err)
			return title
		}
		c.logger.Info("removed item missing from server", "itemID", itemID, "title", title)
		result.Cleaned++
		return title

	default:
		c.logger.Warn("item lookup inconclusive, keeping local data", "itemID", itemID, "error", err)
		result.Skipped++
		return title
	}
}
