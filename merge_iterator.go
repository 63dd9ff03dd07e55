package staticmap

import (
	"container/heap"
	"fmt"

	"github.com/twlk9/staticmap/keys"
)

// sourceHeap is a min-heap of sources ordered by their current key, so
// the source holding the globally smallest key is always at the top.
type sourceHeap struct {
	cmp     keys.Comparator
	sources []Source
}

func (h *sourceHeap) Len() int { return len(h.sources) }

// Less orders by user key under the comparator, then by sequence number
// descending so the newest version of a key wins.
func (h *sourceHeap) Less(i, j int) bool {
	ki := h.sources[i].Key()
	kj := h.sources[j].Key()
	if c := h.cmp.Compare(ki.UserKey(), kj.UserKey()); c != 0 {
		return c < 0
	}
	return ki.Seq() > kj.Seq()
}

func (h *sourceHeap) Swap(i, j int) { h.sources[i], h.sources[j] = h.sources[j], h.sources[i] }

func (h *sourceHeap) Push(x any) { h.sources = append(h.sources, x.(Source)) }

func (h *sourceHeap) Pop() any {
	old := h.sources
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	h.sources = old[:n-1]
	return item
}

// copyInto is a helper to copy a slice, reallocating only if necessary.
func copyInto(dst, src []byte) []byte {
	if cap(dst) < len(src) {
		dst = make([]byte, len(src))
	}
	dst = dst[:len(src)]
	copy(dst, src)
	return dst
}

// MergingSource presents several sorted, possibly overlapping sources
// as a single sorted stream. Each user key is yielded once, carrying
// the newest version found across all inputs.
type MergingSource struct {
	inputs []Source
	h      sourceHeap

	// lastUserKey holds the user key last yielded so older versions of
	// it can be skipped. It is a private copy since sources may reuse
	// their key buffers.
	lastUserKey []byte
	err         error
}

// NewMergingSource merges inputs under cmp.
func NewMergingSource(cmp keys.Comparator, inputs []Source) *MergingSource {
	return &MergingSource{
		inputs: inputs,
		h:      sourceHeap{cmp: cmp, sources: make([]Source, 0, len(inputs))},
	}
}

// SeekToFirst rewinds every input and rebuilds the heap.
func (m *MergingSource) SeekToFirst() {
	m.h.sources = m.h.sources[:0]
	m.err = nil
	for _, s := range m.inputs {
		s.SeekToFirst()
		if s.Valid() {
			if !m.checkKey(s) {
				continue
			}
			m.h.sources = append(m.h.sources, s)
		} else if err := s.Error(); err != nil && m.err == nil {
			m.err = err
		}
	}
	heap.Init(&m.h)
}

// checkKey records a corruption error when s is on a key too short to
// carry a trailer. The heap orders by user key, so such a key must never
// reach it.
func (m *MergingSource) checkKey(s Source) bool {
	if k := s.Key(); len(k) < keys.KeyFootLen {
		if m.err == nil {
			m.err = fmt.Errorf("%w: merge input key of %d bytes", ErrCorruption, len(k))
		}
		return false
	}
	return true
}

// Valid returns true while records remain and no input has failed.
func (m *MergingSource) Valid() bool {
	return m.err == nil && m.h.Len() > 0
}

// Next yields the next user key, skipping older versions of the one
// just returned.
func (m *MergingSource) Next() {
	if !m.Valid() {
		return
	}
	m.lastUserKey = copyInto(m.lastUserKey, m.h.sources[0].Key().UserKey())
	m.advanceTop()
	for m.Valid() && m.h.cmp.Compare(m.h.sources[0].Key().UserKey(), m.lastUserKey) == 0 {
		m.advanceTop()
	}
}

func (m *MergingSource) advanceTop() {
	top := m.h.sources[0]
	top.Next()
	if top.Valid() {
		if m.checkKey(top) {
			heap.Fix(&m.h, 0)
		}
		return
	}
	if err := top.Error(); err != nil && m.err == nil {
		m.err = err
	}
	heap.Pop(&m.h)
}

// Key returns the current internal key.
func (m *MergingSource) Key() keys.EncodedKey {
	return m.h.sources[0].Key()
}

// Value returns the current value.
func (m *MergingSource) Value() []byte {
	return m.h.sources[0].Value()
}

// Error returns the first error reported by any input.
func (m *MergingSource) Error() error {
	return m.err
}
