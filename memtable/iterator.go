package memtable

import "github.com/twlk9/staticmap/keys"

// MemTableIterator walks a memtable in internal key order.
type MemTableIterator struct {
	mt   *MemTable
	node int // current node, 0 = invalid

	// latest skips every version of a user key but the newest.
	latest bool
}

// NewIterator creates an iterator over every record.
func (mt *MemTable) NewIterator() *MemTableIterator {
	return &MemTableIterator{mt: mt}
}

// NewLatestIterator creates an iterator that yields only the newest
// version of each user key. Its output has unique user keys, which is
// what a static map index expects.
func (mt *MemTable) NewLatestIterator() *MemTableIterator {
	return &MemTableIterator{mt: mt, latest: true}
}

// SeekToFirst positions the iterator at the first record.
func (it *MemTableIterator) SeekToFirst() {
	it.mt.mu.RLock()
	defer it.mt.mu.RUnlock()
	it.node = it.mt.md[posNext]
}

// Seek positions the iterator at the first record >= target.
func (it *MemTableIterator) Seek(target keys.EncodedKey) {
	it.mt.mu.RLock()
	defer it.mt.mu.RUnlock()
	it.node = it.mt.findGE(target, false)
}

// Valid returns true if the iterator is positioned at a record.
func (it *MemTableIterator) Valid() bool {
	return it.node != 0
}

// Next moves the iterator to the next record.
func (it *MemTableIterator) Next() {
	if it.node == 0 {
		return
	}
	it.mt.mu.RLock()
	defer it.mt.mu.RUnlock()

	cur := it.node
	it.node = it.mt.md[cur+posNext]
	if !it.latest {
		return
	}
	uk := it.mt.nodeKey(cur).UserKey()
	for it.node != 0 && it.mt.nodeKey(it.node).UserKey().Compare(uk) == 0 {
		it.node = it.mt.md[it.node+posNext]
	}
}

// Key returns the current internal key.
func (it *MemTableIterator) Key() keys.EncodedKey {
	if it.node == 0 {
		return nil
	}
	it.mt.mu.RLock()
	defer it.mt.mu.RUnlock()
	return it.mt.nodeKey(it.node)
}

// UserKey returns the current user key.
func (it *MemTableIterator) UserKey() keys.UserKey {
	k := it.Key()
	if k == nil {
		return nil
	}
	return k.UserKey()
}

// Value returns the current value.
func (it *MemTableIterator) Value() []byte {
	if it.node == 0 {
		return nil
	}
	it.mt.mu.RLock()
	defer it.mt.mu.RUnlock()
	return it.mt.nodeValue(it.node)
}

// Error always returns nil; a memtable cannot fail a read.
func (it *MemTableIterator) Error() error {
	return nil
}

// Close releases any resources held by the iterator.
func (it *MemTableIterator) Close() error {
	return nil
}
