package staticmap

import (
	"fmt"
	"runtime"

	"github.com/twlk9/staticmap/keys"
)

// Build populates the index from a single sorted source. The source is
// read three times: once to count records, once to size the arenas and
// once to copy re-stamped keys and values into them.
//
// A failed build installs nothing: the index stays empty, contributes
// nothing to MemoryUsage and must still be discarded by the caller.
func (x *Index) Build(src Source) error {
	return x.build(src, 0)
}

// BuildFromSources populates the index from several sources read back
// to back. The caller guarantees every key of sources[i] sorts before
// every key of sources[i+1]; nothing is merged. A positive sizeHint is
// taken as the total record count and skips the counting pass.
func (x *Index) BuildFromSources(sources []Source, sizeHint int) error {
	return x.build(newConcatSource(sources), sizeHint)
}

// BuildMerged populates the index from several overlapping sources by
// merging them. When the same user key appears in more than one source
// only its newest version is kept.
func (x *Index) BuildMerged(sources []Source) error {
	return x.build(NewMergingSource(x.cmp, sources), 0)
}

func (x *Index) build(src Source, sizeHint int) error {
	if x.released {
		return ErrReleased
	}
	if x.built {
		return ErrAlreadyBuilt
	}
	if err := src.Error(); err != nil {
		return err
	}

	count := sizeHint
	if count <= 0 {
		var err error
		if count, err = countRecords(src); err != nil {
			return err
		}
	}

	if count == 0 {
		x.built = true
		x.logger.Debug("Built empty static map index")
		return nil
	}

	store, err := x.fillStore(src, count)
	if err != nil {
		x.logger.Warn("Static map index build aborted", "error", err, "records", count)
		return err
	}

	x.install(store)
	x.logger.Debug("Built static map index",
		"records", store.count,
		"key_bytes", len(store.keyBytes),
		"value_bytes", len(store.valueBytes),
		"size", x.Size(),
		"memory_usage", MemoryUsage())
	return nil
}

func countRecords(src Source) (int, error) {
	n := 0
	for src.SeekToFirst(); src.Valid(); src.Next() {
		n++
	}
	if err := src.Error(); err != nil {
		return 0, err
	}
	return n, nil
}

// fillStore runs the sizing and copy passes for count records.
func (x *Index) fillStore(src Source, count int) (*recordStore, error) {
	s := &recordStore{
		keyOffsets:   make([]int, count+1),
		valueOffsets: make([]int, count+1),
		count:        count,
	}

	keyLen, valueLen, i := 0, 0, 0
	for src.SeekToFirst(); src.Valid(); src.Next() {
		if i == count {
			return nil, fmt.Errorf("%w: more than %d records", ErrSizeHintMismatch, count)
		}
		s.keyOffsets[i] = keyLen
		s.valueOffsets[i] = valueLen
		keyLen += len(src.Key())
		valueLen += len(src.Value())
		i++
	}
	if err := src.Error(); err != nil {
		return nil, err
	}
	if i != count {
		return nil, fmt.Errorf("%w: got %d records, expected %d", ErrSizeHintMismatch, i, count)
	}
	s.keyOffsets[count] = keyLen
	s.valueOffsets[count] = valueLen

	s.keyBytes = make([]byte, keyLen)
	s.valueBytes = make([]byte, valueLen)

	var prev keys.UserKey
	i = 0
	for src.SeekToFirst(); src.Valid() && i < count; src.Next() {
		pk, err := keys.ParseInternalKey(src.Key())
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		if x.verifyOrder && i > 0 && x.cmp.Compare(prev, pk.UserKey) >= 0 {
			return nil, fmt.Errorf("%w: record %d (%s)", ErrUnsortedInput, i, pk)
		}

		keySlot := s.keyBytes[s.keyOffsets[i]:s.keyOffsets[i+1]]
		valueSlot := s.valueBytes[s.valueOffsets[i]:s.valueOffsets[i+1]]
		if len(pk.UserKey)+keys.KeyFootLen != len(keySlot) || len(src.Value()) != len(valueSlot) {
			return nil, fmt.Errorf("%w: record %d changed size between passes", ErrCorruption, i)
		}

		// Re-stamping only touches the fixed 8 byte trailer so the key
		// fills its slot exactly.
		keys.EncodedKey(keySlot).Encode(pk.UserKey, pk.Seq, keys.KindValueIndex)
		copy(valueSlot, src.Value())

		prev = keySlot[:len(pk.UserKey)]
		i++
	}
	if err := src.Error(); err != nil {
		return nil, err
	}
	if i != count {
		return nil, fmt.Errorf("%w: source shrank to %d records, expected %d", ErrCorruption, i, count)
	}
	if src.Valid() {
		return nil, fmt.Errorf("%w: source grew past %d records between passes", ErrCorruption, count)
	}
	return s, nil
}

// install publishes a filled store and charges its size once. The
// charge is settled by Release, or by the runtime if the index is
// dropped without being released.
func (x *Index) install(s *recordStore) {
	x.store = s
	x.built = true
	x.charge = newMemCharge(s.size())
	x.cleanup = runtime.AddCleanup(x, func(c *memCharge) { c.settle() }, x.charge)
}
