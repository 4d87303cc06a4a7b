package payload

import "errors"

var (
	// ErrEmptyPage is returned when field validation leaves zero usable
	// records on a page. Callers skip the page and keep the task alive.
	ErrEmptyPage = errors.New("page has no valid records after validation")

	// ErrUnknownVendor is returned for a vendor outside the closed set.
	ErrUnknownVendor = errors.New("unknown vendor")
)
