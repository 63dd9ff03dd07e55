package staticmap

import (
	"fmt"

	"github.com/twlk9/staticmap/keys"
)

// Iterator is a cursor over an index. Next and Prev move it without
// clamping, so it can step off either end; Valid tells whether Key and
// Value may be called. An Iterator is not safe for concurrent use, but
// any number of them may walk the same index at once.
//
// Iterator also satisfies Source, which lets one index feed the build
// of another.
type Iterator struct {
	x   *Index
	pos int
}

// SeekToFirst positions the iterator at the first record.
func (it *Iterator) SeekToFirst() {
	it.pos = 0
}

// Seek positions the iterator at the first record whose user key is
// >= key.
func (it *Iterator) Seek(key keys.UserKey) {
	it.pos = it.x.SeekKeyForIndex(key)
}

// Next moves the iterator to the next record.
func (it *Iterator) Next() {
	it.pos++
}

// Prev moves the iterator to the previous record.
func (it *Iterator) Prev() {
	it.pos--
}

// Valid returns true if the iterator is positioned at a record.
func (it *Iterator) Valid() bool {
	return it.pos >= 0 && it.pos < it.x.Len()
}

// Position returns the record id under the iterator.
func (it *Iterator) Position() int {
	return it.pos
}

// Key returns the current internal key. Calling it on an invalid
// iterator panics.
func (it *Iterator) Key() keys.EncodedKey {
	it.mustBeValid()
	return it.x.store.key(it.pos)
}

// Value returns the current value. Calling it on an invalid iterator
// panics.
func (it *Iterator) Value() []byte {
	it.mustBeValid()
	return it.x.store.value(it.pos)
}

// Error always returns nil; an index has no I/O to fail.
func (it *Iterator) Error() error {
	return nil
}

// Close releases any resources held by the iterator.
func (it *Iterator) Close() error {
	return nil
}

func (it *Iterator) mustBeValid() {
	if !it.Valid() {
		panic(fmt.Sprintf("staticmap: iterator read at invalid position %d (len %d)", it.pos, it.x.Len()))
	}
}
