package dispatch

import "errors"

var (
	// ErrLocked means another worker currently holds the page's dispatch
	// lock. The caller should requeue, not fail the task.
	ErrLocked = errors.New("page dispatch is locked by another worker")

	// ErrStagedPageLost means the staging cache lost a page after the
	// bucket was marked ready. The page needs reconstruction; silently
	// rebuilding here could double-submit already-sent pages.
	ErrStagedPageLost = errors.New("staged page missing after readiness")

	// ErrUploadExhausted means every upload attempt within the retry
	// budget failed.
	ErrUploadExhausted = errors.New("vendor upload retry budget exhausted")
)
