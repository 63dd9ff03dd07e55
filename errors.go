package staticmap

import (
	"errors"

	"github.com/twlk9/staticmap/keys"
)

// Error definitions for the static map index.
var (
	// ErrCorruption is returned when a source yields a record that
	// cannot be parsed as an internal key, or changes between passes.
	ErrCorruption = keys.ErrCorruption

	// ErrAlreadyBuilt is returned when building an index a second time
	ErrAlreadyBuilt = errors.New("index already built")

	// ErrReleased is returned when operating on a released index
	ErrReleased = errors.New("index released")

	// ErrNotBuilt is returned when cloning an index that was never built
	ErrNotBuilt = errors.New("index not built")

	// ErrUnsortedInput is returned when VerifyOrder is set and the
	// source is not in strictly ascending user key order
	ErrUnsortedInput = errors.New("source not in ascending user key order")

	// ErrSizeHintMismatch is returned when a multi-source build was
	// given a record count that the sources do not match
	ErrSizeHintMismatch = errors.New("record count does not match size hint")

	// ErrNilComparator is returned when options carry no comparator
	ErrNilComparator = errors.New("nil comparator")

	// ErrInvalidMapElement is returned when a value cannot be decoded
	// as a map element
	ErrInvalidMapElement = errors.New("invalid map element")
)
