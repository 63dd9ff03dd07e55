package staticmap

import (
	"log/slog"
	"runtime"

	"github.com/twlk9/staticmap/keys"
)

// NotFound is returned by GetIndex when no record matches.
const NotFound = -1

// noCopy makes go vet flag an Index copied by value. Use Clone instead.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Index is an immutable, densely packed map from internal keys to
// values, searchable by user key. It is populated once by one of the
// Build methods and is read-only afterwards.
//
// Lookups (GetIndex, SeekKeyForIndex, FindKey, GetKey, GetValue) are
// safe for concurrent use. The built-in cursor (SeekToFirst, Seek, Next,
// Prev, Valid, Key, Value) is not; concurrent scanners should each take
// their own Iterator from NewIterator.
type Index struct {
	noCopy noCopy

	cmp         keys.Comparator
	logger      *slog.Logger
	verifyOrder bool

	store    *recordStore
	built    bool
	released bool

	charge  *memCharge
	cleanup runtime.Cleanup

	cursor Iterator
}

// New creates an empty index. The comparator in opts is borrowed and
// must outlive the index. A nil opts uses DefaultOptions.
func New(opts *Options) (*Index, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	x := &Index{
		cmp:         opts.Comparator,
		logger:      opts.logger(),
		verifyOrder: opts.VerifyOrder,
	}
	x.cursor.x = x
	return x, nil
}

// Comparator returns the comparator the index orders keys by.
func (x *Index) Comparator() keys.Comparator {
	return x.cmp
}

// Len returns the number of records.
func (x *Index) Len() int {
	if x.store == nil {
		return 0
	}
	return x.store.count
}

// Empty reports whether the index holds no records.
func (x *Index) Empty() bool {
	return x.Len() == 0
}

// Size returns the bytes this index accounts for: key and value bytes,
// 16 bytes of offsets per record and a 16 byte header. Empty, failed and
// released indexes have size 0.
func (x *Index) Size() int64 {
	return x.store.size()
}

// GetKey returns the re-stamped internal key of record id. The slice
// aliases the index arena and must not be modified. id must be in
// [0, Len()).
func (x *Index) GetKey(id int) keys.EncodedKey {
	x.mustStore(id)
	return x.store.key(id)
}

// GetValue returns the value of record id without copying. id must be
// in [0, Len()).
func (x *Index) GetValue(id int) []byte {
	x.mustStore(id)
	return x.store.value(id)
}

func (x *Index) mustStore(id int) {
	if x.store == nil {
		(&recordStore{}).checkID(id)
	}
}

// GetIndex returns the id of the record whose user key equals key, or
// NotFound.
func (x *Index) GetIndex(key keys.UserKey) int {
	s := x.store
	if s == nil {
		return NotFound
	}
	// hi is signed so an exhausted search on the left edge ends at -1
	// instead of wrapping.
	lo, hi := 0, s.count-1
	for lo <= hi {
		mid := lo + (hi-lo)/2
		c := x.cmp.CompareToInternal(key, s.key(mid))
		switch {
		case c == 0:
			return mid
		case c < 0:
			hi = mid - 1
		default:
			lo = mid + 1
		}
	}
	return NotFound
}

// SeekKeyForIndex returns the id of the first record whose user key is
// >= key, or Len() when every key is smaller.
func (x *Index) SeekKeyForIndex(key keys.UserKey) int {
	s := x.store
	if s == nil {
		return 0
	}
	lo, hi := 0, s.count
	for lo < hi {
		mid := lo + (hi-lo)/2
		if x.cmp.CompareToInternal(key, s.key(mid)) > 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// FindKey reports whether a record with the given user key exists.
func (x *Index) FindKey(key keys.UserKey) bool {
	id := x.GetIndex(key)
	return id != NotFound && x.cmp.CompareToInternal(key, x.store.key(id)) == 0
}

// Get returns the value stored for key.
func (x *Index) Get(key keys.UserKey) ([]byte, bool) {
	id := x.GetIndex(key)
	if id == NotFound {
		return nil, false
	}
	return x.store.value(id), true
}

// Clone returns an independent index holding a private copy of every
// arena. The copy is charged to MemoryUsage on its own, so releasing
// either index leaves the other's share intact.
func (x *Index) Clone() (*Index, error) {
	if x.released {
		return nil, ErrReleased
	}
	if !x.built {
		return nil, ErrNotBuilt
	}
	c := &Index{
		cmp:         x.cmp,
		logger:      x.logger,
		verifyOrder: x.verifyOrder,
		built:       true,
	}
	c.cursor.x = c
	if x.store != nil {
		c.install(x.store.clone())
	}
	return c, nil
}

// Release drops the arenas and gives the index's share of MemoryUsage
// back. It is safe to call more than once; afterwards the index behaves
// as empty.
func (x *Index) Release() {
	if x.released {
		return
	}
	x.released = true
	if x.charge != nil {
		x.cleanup.Stop()
		n := x.charge.settle()
		x.logger.Debug("Released static map index", "size", n, "memory_usage", MemoryUsage())
	}
	x.store = nil
	x.cursor.pos = 0
}

// NewIterator returns a cursor over the index that is independent of
// the index's own cursor and of other iterators.
func (x *Index) NewIterator() *Iterator {
	return &Iterator{x: x}
}

// SeekToFirst positions the index cursor at the first record.
func (x *Index) SeekToFirst() { x.cursor.SeekToFirst() }

// Seek positions the index cursor at the first record >= key.
func (x *Index) Seek(key keys.UserKey) { x.cursor.Seek(key) }

// Next advances the index cursor. Check Valid before reading.
func (x *Index) Next() { x.cursor.Next() }

// Prev moves the index cursor back. Check Valid before reading.
func (x *Index) Prev() { x.cursor.Prev() }

// Valid reports whether the index cursor is on a record.
func (x *Index) Valid() bool { return x.cursor.Valid() }

// Key returns the key under the index cursor.
func (x *Index) Key() keys.EncodedKey { return x.cursor.Key() }

// Value returns the value under the index cursor.
func (x *Index) Value() []byte { return x.cursor.Value() }
