package staticmap

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twlk9/staticmap/keys"
	"github.com/twlk9/staticmap/memtable"
	"github.com/twlk9/staticmap/sstable"
)

// The memory counter is process wide, so none of these tests run in
// parallel and every index they build is released.

func TestBuildSizeAccounting(t *testing.T) {
	baseline := MemoryUsage()
	recs := seqRecords(250)

	x, err := New(nil)
	require.NoError(t, err)
	require.NoError(t, x.Build(newSliceSource(recs)))

	want := expectedSize(recs)
	assert.Equal(t, want, x.Size())
	assert.Equal(t, baseline+want, MemoryUsage())

	x.Release()
	assert.Equal(t, baseline, MemoryUsage())
	assert.Zero(t, x.Size())
	assert.True(t, x.Empty())

	// Releasing twice gives nothing back twice.
	x.Release()
	assert.Equal(t, baseline, MemoryUsage())
}

func TestBuildSizeFormula(t *testing.T) {
	x := buildIndex(t, []record{rec("a", 1, "1"), rec("bb", 2, "22")})
	// (1+8) + (2+8) key bytes, 3 value bytes, 2 records.
	assert.Equal(t, int64(19+3+32+16), x.Size())
}

func TestBuildTwice(t *testing.T) {
	x := buildIndex(t, seqRecords(3))
	err := x.Build(newSliceSource(seqRecords(5)))
	assert.ErrorIs(t, err, ErrAlreadyBuilt)
	assert.Equal(t, 3, x.Len())

	empty := buildIndex(t, nil)
	assert.ErrorIs(t, empty.Build(newSliceSource(seqRecords(1))), ErrAlreadyBuilt)

	x.Release()
	assert.ErrorIs(t, x.Build(newSliceSource(seqRecords(1))), ErrReleased)
}

func TestBuildCorruptionRollsBack(t *testing.T) {
	baseline := MemoryUsage()
	recs := seqRecords(10)
	recs[6].key = keys.EncodedKey("short")

	x := newIndex(t, nil)
	err := x.Build(newSliceSource(recs))
	require.ErrorIs(t, err, ErrCorruption)
	assert.Contains(t, err.Error(), "record 6")

	assert.True(t, x.Empty())
	assert.Zero(t, x.Size())
	assert.Equal(t, baseline, MemoryUsage())
	assert.Equal(t, NotFound, x.GetIndex(keys.UserKey("key000001")))
}

func TestBuildInvalidKind(t *testing.T) {
	recs := seqRecords(3)
	bad := keys.NewEncodedKey([]byte("key000001"), 1, keys.KindSet)
	bad[len(bad)-8] = 0x7f
	recs[1].key = bad

	x := newIndex(t, nil)
	assert.ErrorIs(t, x.Build(newSliceSource(recs)), ErrCorruption)
	assert.Zero(t, x.Size())
}

func TestBuildSourceChangesBetweenPasses(t *testing.T) {
	baseline := MemoryUsage()
	src := newSliceSource(seqRecords(4))
	src.grow = true

	x := newIndex(t, nil)
	assert.ErrorIs(t, x.Build(src), ErrCorruption)
	assert.Equal(t, baseline, MemoryUsage())
}

func TestBuildSourceGrowsBeforeCopy(t *testing.T) {
	baseline := MemoryUsage()

	// Build counts, sizes and then copies, so the third pass sees one
	// record more than the first two.
	src := newSliceSource(seqRecords(4))
	src.extra = []record{rec("zzz", 1, "late")}
	src.extraOnPass = 3

	x := newIndex(t, nil)
	err := x.Build(src)
	require.ErrorIs(t, err, ErrCorruption)
	assert.Contains(t, err.Error(), "grew")
	assert.True(t, x.Empty())
	assert.Equal(t, baseline, MemoryUsage())

	// With a size hint the counting pass is skipped and the copy pass is
	// the second one.
	hinted := newSliceSource(seqRecords(4))
	hinted.extra = []record{rec("zzz", 1, "late")}
	hinted.extraOnPass = 2

	y := newIndex(t, nil)
	require.ErrorIs(t, y.BuildFromSources([]Source{hinted}, 4), ErrCorruption)
	assert.True(t, y.Empty())
	assert.Equal(t, baseline, MemoryUsage())
}

func TestBuildSourceError(t *testing.T) {
	baseline := MemoryUsage()

	for _, failAt := range []int{0, 3, 9} {
		t.Run(fmt.Sprintf("failAt=%d", failAt), func(t *testing.T) {
			src := newSliceSource(seqRecords(10))
			src.failAt = failAt
			x := newIndex(t, nil)
			err := x.Build(src)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "source failed")
			assert.True(t, x.Empty())
			assert.Equal(t, baseline, MemoryUsage())
		})
	}

	// A source already in an error state fails before any pass.
	src := newSliceSource(seqRecords(2))
	src.err = fmt.Errorf("stale")
	x := newIndex(t, nil)
	assert.EqualError(t, x.Build(src), "stale")
}

func TestBuildVerifyOrder(t *testing.T) {
	opts := DefaultOptions()
	opts.VerifyOrder = true

	x := newIndex(t, opts)
	err := x.Build(newSliceSource([]record{rec("a", 1, ""), rec("c", 1, ""), rec("b", 1, "")}))
	assert.ErrorIs(t, err, ErrUnsortedInput)
	assert.Zero(t, x.Size())

	dup := newIndex(t, opts)
	err = dup.Build(newSliceSource([]record{rec("a", 2, ""), rec("a", 1, "")}))
	assert.ErrorIs(t, err, ErrUnsortedInput)

	ok := newIndex(t, opts)
	assert.NoError(t, ok.Build(newSliceSource(seqRecords(20))))
}

func TestBuildFromSources(t *testing.T) {
	recs := seqRecords(30)
	sources := []Source{
		newSliceSource(recs[:10]),
		newSliceSource(nil),
		newSliceSource(recs[10:25]),
		newSliceSource(recs[25:]),
	}

	x := newIndex(t, nil)
	require.NoError(t, x.BuildFromSources(sources, 0))
	require.Equal(t, 30, x.Len())
	for i, r := range recs {
		assert.Equal(t, i, x.GetIndex(r.key.UserKey()))
	}
	assert.Equal(t, expectedSize(recs), x.Size())

	hinted := newIndex(t, nil)
	require.NoError(t, hinted.BuildFromSources([]Source{newSliceSource(recs[:10]), newSliceSource(recs[10:])}, 30))
	assert.Equal(t, 30, hinted.Len())

	none := newIndex(t, nil)
	require.NoError(t, none.BuildFromSources(nil, 0))
	assert.True(t, none.Empty())
}

func TestBuildSizeHintMismatch(t *testing.T) {
	baseline := MemoryUsage()
	recs := seqRecords(10)

	under := newIndex(t, nil)
	assert.ErrorIs(t, under.BuildFromSources([]Source{newSliceSource(recs)}, 5), ErrSizeHintMismatch)
	over := newIndex(t, nil)
	assert.ErrorIs(t, over.BuildFromSources([]Source{newSliceSource(recs)}, 20), ErrSizeHintMismatch)
	assert.Equal(t, baseline, MemoryUsage())
}

func TestBuildFromSourcesError(t *testing.T) {
	failing := newSliceSource(seqRecords(5)[3:])
	failing.failAt = 1
	x := newIndex(t, nil)
	err := x.BuildFromSources([]Source{newSliceSource(seqRecords(3)), failing}, 0)
	assert.Error(t, err)
	assert.True(t, x.Empty())
}

func TestBuildMerged(t *testing.T) {
	older := newSliceSource([]record{rec("a", 1, "a1"), rec("c", 1, "c1"), rec("e", 1, "e1")})
	newer := newSliceSource([]record{rec("b", 5, "b5"), rec("c", 5, "c5")})
	newest := newSliceSource([]record{rec("c", 9, "c9"), rec("c", 7, "c7"), rec("f", 9, "f9")})

	x := newIndex(t, nil)
	require.NoError(t, x.BuildMerged([]Source{older, newer, newest}))

	var got []string
	for x.SeekToFirst(); x.Valid(); x.Next() {
		got = append(got, fmt.Sprintf("%s@%d=%s", x.Key().UserKey(), x.Key().Seq(), x.Value()))
	}
	assert.Equal(t, []string{"a@1=a1", "b@5=b5", "c@9=c9", "e@1=e1", "f@9=f9"}, got)
}

func TestBuildMergedSourceError(t *testing.T) {
	bad := newSliceSource(seqRecords(5))
	bad.failAt = 2
	x := newIndex(t, nil)
	assert.Error(t, x.BuildMerged([]Source{newSliceSource(seqRecords(3)), bad}))
	assert.True(t, x.Empty())
}

func TestBuildMergedCorruption(t *testing.T) {
	baseline := MemoryUsage()

	split := func(recs []record) []Source {
		var even, odd []record
		for i, r := range recs {
			if i%2 == 0 {
				even = append(even, r)
			} else {
				odd = append(odd, r)
			}
		}
		return []Source{newSliceSource(even), newSliceSource(odd)}
	}

	tests := []struct {
		name    string
		bad     int
		sources func([]record) []Source
	}{
		{"one source first key", 0, func(r []record) []Source { return []Source{newSliceSource(r)} }},
		{"one source later key", 1, func(r []record) []Source { return []Source{newSliceSource(r)} }},
		{"two sources first key", 1, split},
		{"two sources later key", 4, split},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs := seqRecords(6)
			recs[tt.bad].key = keys.EncodedKey("short")

			x := newIndex(t, nil)
			require.ErrorIs(t, x.BuildMerged(tt.sources(recs)), ErrCorruption)
			assert.True(t, x.Empty())
			assert.Zero(t, x.Size())
			assert.Equal(t, baseline, MemoryUsage())
		})
	}
}

func TestBuildFromIndex(t *testing.T) {
	src := buildIndex(t, seqRecords(20))
	dst := newIndex(t, nil)
	require.NoError(t, dst.Build(src.NewIterator()))
	assert.Equal(t, src.Size(), dst.Size())
	assert.Equal(t, src.DebugString(), dst.DebugString())
}

func TestBuildFromMemtable(t *testing.T) {
	mt := memtable.NewMemtable(64 * 1024)
	for i := range 100 {
		mt.Put(keys.NewEncodedKey(fmt.Appendf(nil, "key%03d", i), 1, keys.KindSet), []byte("old"))
	}
	for i := 0; i < 100; i += 10 {
		mt.Put(keys.NewEncodedKey(fmt.Appendf(nil, "key%03d", i), 2, keys.KindSet), []byte("new"))
	}

	x := newIndex(t, nil)
	require.NoError(t, x.Build(mt.NewLatestIterator()))
	require.Equal(t, 100, x.Len())
	v, ok := x.Get(keys.UserKey("key050"))
	require.True(t, ok)
	assert.Equal(t, "new", string(v))
	v, _ = x.Get(keys.UserKey("key051"))
	assert.Equal(t, "old", string(v))

	all := newIndex(t, nil)
	require.NoError(t, all.Build(mt.NewIterator()))
	assert.Equal(t, 110, all.Len())
}

func TestBuildFromSSTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "000001.sst")
	recs := seqRecords(3000)

	w, err := sstable.NewWriter(path, nil)
	require.NoError(t, err)
	for _, r := range recs {
		require.NoError(t, w.Add(r.key, r.value))
	}
	require.NoError(t, w.Finish())
	require.NoError(t, w.Close())

	r, err := sstable.Open(path, &sstable.ReaderOptions{VerifyChecksums: true})
	require.NoError(t, err)
	defer r.Close()

	opts := DefaultOptions()
	opts.VerifyOrder = true
	x := newIndex(t, opts)
	require.NoError(t, x.Build(r.NewIterator()))
	assert.Equal(t, len(recs), x.Len())
	assert.Equal(t, expectedSize(recs), x.Size())
	for _, i := range []int{0, 1, 1500, 2999} {
		assert.True(t, x.FindKey(recs[i].key.UserKey()))
	}
}

func TestClone(t *testing.T) {
	baseline := MemoryUsage()
	recs := seqRecords(50)
	x := buildIndex(t, recs)
	size := x.Size()

	c, err := x.Clone()
	require.NoError(t, err)
	assert.Equal(t, size, c.Size())
	assert.Equal(t, baseline+2*size, MemoryUsage())

	x.Release()
	assert.Equal(t, baseline+size, MemoryUsage())
	// The clone owns its own arenas.
	assert.Equal(t, 25, c.GetIndex(recs[25].key.UserKey()))
	assert.Equal(t, recs[25].value, c.GetValue(25))

	c.Release()
	assert.Equal(t, baseline, MemoryUsage())

	_, err = x.Clone()
	assert.ErrorIs(t, err, ErrReleased)

	unbuilt := newIndex(t, nil)
	_, err = unbuilt.Clone()
	assert.ErrorIs(t, err, ErrNotBuilt)

	empty := buildIndex(t, nil)
	ec, err := empty.Clone()
	require.NoError(t, err)
	assert.True(t, ec.Empty())
	assert.Equal(t, baseline, MemoryUsage())
}

func TestDump(t *testing.T) {
	m := MapElement{SmallestKey: keys.NewEncodedKey([]byte("a"), 1, keys.KindSet), Links: []uint64{4, 7}}
	x := buildIndex(t, []record{
		{key: keys.NewEncodedKey([]byte{0x00, 0xff}, 2, keys.KindSet), value: []byte{0x80}},
		{key: keys.NewEncodedKey([]byte("a"), 3, keys.KindSet), value: m.Encode()},
	})

	want := "0: 0x00ff @ 2 : VALUEINDEX -> 1 byte value\n" +
		"1: 'a' @ 3 : VALUEINDEX -> link_count:2 smallest_key:" + m.SmallestKey.String() + " links:[4 7]\n"
	assert.Equal(t, want, x.DebugString())
}
