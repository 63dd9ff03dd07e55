// Package memtable holds internal records in a sorted in-memory
// skiplist. It is the in-memory record source a GC pass builds static
// map indexes from.
package memtable

import (
	"math/rand/v2"
	"sync"

	"github.com/twlk9/staticmap/keys"
)

const tMaxHeight = 12

// Node layout inside md. A node is the index of its first slot.
const (
	posKV     = iota // offset of the key/value bytes in d
	posKey           // length of the key
	posVal           // length of the value
	posHeight        // number of next pointers
	posNext          // first next pointer (level 0); level h is at node+posNext+h
)

// MemTable is an arena-backed skiplist ordered by internal key. Keys and
// values are appended to one byte slice and the skiplist links live in
// an int slice, so a table is a handful of allocations regardless of
// how many records it holds.
type MemTable struct {
	mu        sync.RWMutex
	rnd       *rand.Rand
	d         []byte // key/value bytes
	md        []int  // node metadata, see pos* constants
	prev      [tMaxHeight]int
	maxHeight int
	n         int
}

// NewMemtable creates a table whose arena starts with room for
// sizeHint bytes of keys and values.
func NewMemtable(sizeHint int) *MemTable {
	// Assume 64-byte records averaging 6 metadata slots each.
	estimatedEntries := sizeHint / 64
	mt := &MemTable{
		rnd:       rand.New(rand.NewPCG(4, 8)),
		maxHeight: 1,
		d:         make([]byte, 0, sizeHint),
		md:        make([]int, posNext+tMaxHeight, posNext+tMaxHeight+estimatedEntries*6),
	}
	mt.md[posHeight] = tMaxHeight
	return mt
}

func (mt *MemTable) randHeight() int {
	const branching = 4
	h := 1
	for h < tMaxHeight && mt.rnd.Int()%branching == 0 {
		h++
	}
	return h
}

func (mt *MemTable) nodeKey(node int) keys.EncodedKey {
	o := mt.md[node+posKV]
	return keys.EncodedKey(mt.d[o : o+mt.md[node+posKey]])
}

func (mt *MemTable) nodeValue(node int) []byte {
	o := mt.md[node+posKV] + mt.md[node+posKey]
	return mt.d[o : o+mt.md[node+posVal]]
}

// findGE returns the first node whose key is >= key, or 0. With
// recordPrev set it also fills mt.prev with the predecessor at every
// level for a following insert.
func (mt *MemTable) findGE(key keys.EncodedKey, recordPrev bool) int {
	node := 0
	h := mt.maxHeight - 1
	for {
		next := mt.md[node+posNext+h]
		if next != 0 && mt.nodeKey(next).Compare(key) < 0 {
			node = next
			continue
		}
		if recordPrev {
			mt.prev[h] = node
		}
		if h == 0 {
			return next
		}
		h--
	}
}

// Put inserts a record. Internal keys are unique per sequence number so
// a put never replaces an existing record.
func (mt *MemTable) Put(key keys.EncodedKey, value []byte) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	mt.findGE(key, true)

	h := mt.randHeight()
	if h > mt.maxHeight {
		for i := mt.maxHeight; i < h; i++ {
			mt.prev[i] = 0
		}
		mt.maxHeight = h
	}

	off := len(mt.d)
	mt.d = append(mt.d, key...)
	mt.d = append(mt.d, value...)
	node := len(mt.md)
	mt.md = append(mt.md, off, len(key), len(value), h)
	for i, p := range mt.prev[:h] {
		m := p + posNext + i
		mt.md = append(mt.md, mt.md[m])
		mt.md[m] = node
	}
	mt.n++
}

// Get returns the newest record for a user key, or nils.
func (mt *MemTable) Get(userKey keys.UserKey) (keys.EncodedKey, []byte) {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	if mt.n == 0 {
		return nil, nil
	}
	node := mt.findGE(keys.NewQueryKey(userKey), false)
	if node == 0 {
		return nil, nil
	}
	k := mt.nodeKey(node)
	if k.UserKey().Compare(userKey) != 0 {
		return nil, nil
	}
	return k, mt.nodeValue(node)
}

// Len returns the number of records.
func (mt *MemTable) Len() int {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return mt.n
}

// Size returns an approximation of the memory held by the table.
func (mt *MemTable) Size() int {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	if mt.n == 0 {
		return 0
	}
	return len(mt.d) + len(mt.md)*8
}
