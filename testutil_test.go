package staticmap

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/twlk9/staticmap/keys"
)

type record struct {
	key   keys.EncodedKey
	value []byte
}

func rec(userKey string, seq uint64, value string) record {
	return record{key: keys.NewEncodedKey([]byte(userKey), seq, keys.KindSet), value: []byte(value)}
}

// seqRecords returns n ascending records named key%06d.
func seqRecords(n int) []record {
	recs := make([]record, n)
	for i := range recs {
		recs[i] = rec(fmt.Sprintf("key%06d", i), uint64(i+1), fmt.Sprintf("value%d", i))
	}
	return recs
}

// sliceSource is an in-memory Source. failAt >= 0 makes the source fail
// when it reaches that position.
type sliceSource struct {
	recs   []record
	pos    int
	err    error
	failAt int

	// grow appends one byte per pass to every value, which makes the
	// record sizes differ between build passes.
	grow   bool
	passes int

	// extra is appended to recs when pass number extraOnPass starts.
	extra       []record
	extraOnPass int
}

func newSliceSource(recs []record) *sliceSource {
	return &sliceSource{recs: recs, pos: len(recs), failAt: -1}
}

func (s *sliceSource) SeekToFirst() {
	s.pos = 0
	s.passes++
	if s.extraOnPass > 0 && s.passes == s.extraOnPass {
		s.recs = append(s.recs, s.extra...)
	}
	s.check()
}

func (s *sliceSource) check() {
	if s.failAt >= 0 && s.pos >= s.failAt {
		s.err = fmt.Errorf("source failed at %d", s.pos)
	}
}

func (s *sliceSource) Valid() bool { return s.err == nil && s.pos < len(s.recs) }

func (s *sliceSource) Next() {
	s.pos++
	s.check()
}

func (s *sliceSource) Key() keys.EncodedKey { return s.recs[s.pos].key }

func (s *sliceSource) Value() []byte {
	if s.grow {
		return append(bytes.Clone(s.recs[s.pos].value), bytes.Repeat([]byte("+"), s.passes)...)
	}
	return s.recs[s.pos].value
}

func (s *sliceSource) Error() error { return s.err }

func newIndex(t testing.TB, opts *Options) *Index {
	t.Helper()
	x, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(x.Release)
	return x
}

func buildIndex(t testing.TB, recs []record) *Index {
	t.Helper()
	x := newIndex(t, nil)
	require.NoError(t, x.Build(newSliceSource(recs)))
	return x
}

func expectedSize(recs []record) int64 {
	if len(recs) == 0 {
		return 0
	}
	var k, v int64
	for _, r := range recs {
		k += int64(len(r.key))
		v += int64(len(r.value))
	}
	return k + v + 16*int64(len(recs)) + 16
}
