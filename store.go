package staticmap

import (
	"fmt"

	"github.com/twlk9/staticmap/keys"
)

const (
	// offsetEntrySize is what each record costs in the offset tables
	// (one key offset plus one value offset).
	offsetEntrySize = 16

	// storeHeaderSize is the fixed overhead charged per non-empty store.
	storeHeaderSize = 16
)

// recordStore is the frozen arena behind an index. Record i's key lives
// at keyBytes[keyOffsets[i]:keyOffsets[i+1]], its value likewise in
// valueBytes. Both offset tables hold count+1 prefix sums.
type recordStore struct {
	keyBytes     []byte
	valueBytes   []byte
	keyOffsets   []int
	valueOffsets []int
	count        int
}

func (s *recordStore) checkID(id int) {
	if id < 0 || id >= s.count {
		panic(fmt.Sprintf("staticmap: record id %d out of range [0, %d)", id, s.count))
	}
}

func (s *recordStore) key(id int) keys.EncodedKey {
	s.checkID(id)
	lo, hi := s.keyOffsets[id], s.keyOffsets[id+1]
	return keys.EncodedKey(s.keyBytes[lo:hi:hi])
}

func (s *recordStore) value(id int) []byte {
	s.checkID(id)
	lo, hi := s.valueOffsets[id], s.valueOffsets[id+1]
	return s.valueBytes[lo:hi:hi]
}

// size is the accounted footprint of the store. An empty or missing
// store costs nothing.
func (s *recordStore) size() int64 {
	if s == nil || s.count == 0 {
		return 0
	}
	return int64(len(s.keyBytes)) + int64(len(s.valueBytes)) +
		int64(s.count)*offsetEntrySize + storeHeaderSize
}

// clone duplicates every arena and offset table into fresh memory.
func (s *recordStore) clone() *recordStore {
	if s == nil {
		return nil
	}
	return &recordStore{
		keyBytes:     append([]byte(nil), s.keyBytes...),
		valueBytes:   append([]byte(nil), s.valueBytes...),
		keyOffsets:   append([]int(nil), s.keyOffsets...),
		valueOffsets: append([]int(nil), s.valueOffsets...),
		count:        s.count,
	}
}
