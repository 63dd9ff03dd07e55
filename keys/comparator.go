package keys

import "bytes"

// Comparator defines a total order over user keys. Implementations must
// be safe for concurrent use since indexes share them between readers.
type Comparator interface {
	// Compare orders two user keys.
	Compare(a, b UserKey) int

	// CompareToInternal orders a user key against the user key portion
	// of an internal key.
	CompareToInternal(a UserKey, b EncodedKey) int

	// Name identifies the ordering, mostly for debug output.
	Name() string
}

type bytewiseComparator struct{}

func (bytewiseComparator) Compare(a, b UserKey) int {
	return bytes.Compare(a, b)
}

func (bytewiseComparator) CompareToInternal(a UserKey, b EncodedKey) int {
	return a.CompareToInternal(b)
}

func (bytewiseComparator) Name() string {
	return "leveldb.BytewiseComparator"
}

// BytewiseComparator orders keys lexicographically by their raw bytes.
var BytewiseComparator Comparator = bytewiseComparator{}
