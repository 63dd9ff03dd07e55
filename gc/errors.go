package gc

import "errors"

var (
	// ErrClosed is returned when using a closed resolver
	ErrClosed = errors.New("resolver is closed")

	// ErrUnknownFile is returned when a file number has not been loaded
	ErrUnknownFile = errors.New("unknown file")

	// ErrNotFound is returned when no loaded file holds the key
	ErrNotFound = errors.New("key not found")

	// ErrMaxDepth is returned when following map links goes deeper than
	// Options.MaxDepth
	ErrMaxDepth = errors.New("map link depth exceeded")

	// ErrNotMapFile is returned when asking for the links of a data file
	ErrNotMapFile = errors.New("not a map file")
)
