package blockcache

import "errors"

var (
	// ErrNotFound is returned when a requested span is not in the store
	ErrNotFound = errors.New("span not found")

	// ErrStoreClosed is returned when attempting to use a closed store
	ErrStoreClosed = errors.New("store is closed")

	// ErrInvalidSpan is returned when a span fails basic consistency checks
	ErrInvalidSpan = errors.New("invalid span")
)
