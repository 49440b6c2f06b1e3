package domain

// CleanupProgressFunc reports reconciliation progress.
// Called after each item: (1, 10, "Dune"), (2, 10, "Emma"), ...
type CleanupProgressFunc func(checked, total int, title string)

// ContinueFunc is polled before each item; returning false stops the sweep.
type ContinueFunc func() bool

// CleanupResult summarizes a reconciliation sweep.
type CleanupResult struct {
	Checked  int  // items examined (including skipped)
	Cleaned  int  // items whose local artifacts were deleted
	Skipped  int  // items left alone because the lookup was ambiguous
	Canceled bool // true if the sweep stopped before the last item
}
