package gc

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twlk9/staticmap"
	"github.com/twlk9/staticmap/keys"
	"github.com/twlk9/staticmap/sstable"
)

type kv struct {
	key   string
	value []byte
}

func writeFile(t *testing.T, dir string, number uint64, recs []kv) FileSpec {
	t.Helper()
	path := filepath.Join(dir, fmt.Sprintf("%06d.sst", number))
	w, err := sstable.NewWriter(path, nil)
	require.NoError(t, err)
	for i, r := range recs {
		require.NoError(t, w.Add(keys.NewEncodedKey([]byte(r.key), uint64(i+1), keys.KindSet), r.value))
	}
	require.NoError(t, w.Finish())
	require.NoError(t, w.Close())
	return FileSpec{Number: number, Path: path}
}

func dataFile(t *testing.T, dir string, number uint64, n int) FileSpec {
	recs := make([]kv, n)
	for i := range recs {
		recs[i] = kv{key: fmt.Sprintf("key%05d", i), value: fmt.Appendf(nil, "file%d-value%d", number, i)}
	}
	return writeFile(t, dir, number, recs)
}

func mapFile(t *testing.T, dir string, number uint64, userKeys []string, links ...uint64) FileSpec {
	recs := make([]kv, len(userKeys))
	for i, k := range userKeys {
		m := staticmap.MapElement{
			SmallestKey: keys.NewEncodedKey([]byte(k), 1, keys.KindSet),
			Links:       links,
		}
		recs[i] = kv{key: k, value: m.Encode()}
	}
	spec := writeFile(t, dir, number, recs)
	spec.Map = true
	return spec
}

func newResolver(t *testing.T, mutate func(*Options)) *Resolver {
	t.Helper()
	opts := DefaultOptions()
	opts.Parallelism = 2
	if mutate != nil {
		mutate(opts)
	}
	r, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestResolverGet(t *testing.T) {
	dir := t.TempDir()
	r := newResolver(t, nil)
	ctx := context.Background()

	require.NoError(t, r.LoadFile(ctx, dataFile(t, dir, 1, 300)))

	v, err := r.Get(1, keys.UserKey("key00042"))
	require.NoError(t, err)
	assert.Equal(t, "file1-value42", string(v))

	_, err = r.Get(1, keys.UserKey("nope"))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.Get(9, keys.UserKey("key00042"))
	assert.ErrorIs(t, err, ErrUnknownFile)

	stats := r.Stats()
	assert.Equal(t, 1, stats.Files)
	assert.Equal(t, 300, stats.Records)
	assert.Positive(t, stats.IndexBytes)
	assert.Positive(t, stats.FilterBytes)
}

func TestResolverWithoutFilter(t *testing.T) {
	dir := t.TempDir()
	r := newResolver(t, func(o *Options) {
		o.BloomBitsPerKey = 0
		o.BlockCacheSize = 0
	})
	require.NoError(t, r.LoadFile(context.Background(), dataFile(t, dir, 1, 50)))

	v, err := r.Get(1, keys.UserKey("key00049"))
	require.NoError(t, err)
	assert.Equal(t, "file1-value49", string(v))
	assert.Zero(t, r.Stats().FilterBytes)
}

func TestResolverLoadFilesParallel(t *testing.T) {
	dir := t.TempDir()
	r := newResolver(t, nil)

	var specs []FileSpec
	for n := uint64(1); n <= 8; n++ {
		specs = append(specs, dataFile(t, dir, n, 100))
	}
	require.NoError(t, r.LoadFiles(context.Background(), specs))
	assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6, 7, 8}, r.Files())

	for n := uint64(1); n <= 8; n++ {
		v, err := r.Get(n, keys.UserKey("key00007"))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("file%d-value7", n), string(v))
	}
}

func TestResolverLoadFilesFailure(t *testing.T) {
	dir := t.TempDir()
	r := newResolver(t, nil)

	specs := []FileSpec{
		dataFile(t, dir, 1, 10),
		{Number: 2, Path: filepath.Join(dir, "missing.sst")},
	}
	err := r.LoadFiles(context.Background(), specs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load file 2")
}

func TestResolverLoadFileCanceled(t *testing.T) {
	dir := t.TempDir()
	r := newResolver(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.LoadFile(ctx, dataFile(t, dir, 1, 10))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, r.Files())
}

func TestResolverResolveThroughMaps(t *testing.T) {
	dir := t.TempDir()
	r := newResolver(t, nil)
	ctx := context.Background()

	// Two data files split the key space, and a map file in front of
	// them links every key to both.
	low := writeFile(t, dir, 10, []kv{{"apple", []byte("red")}, {"banana", []byte("yellow")}})
	high := writeFile(t, dir, 11, []kv{{"cherry", []byte("dark red")}})
	m := mapFile(t, dir, 20, []string{"apple", "banana", "cherry"}, 10, 11)
	outer := mapFile(t, dir, 30, []string{"apple", "banana", "cherry"}, 20)
	require.NoError(t, r.LoadFiles(ctx, []FileSpec{low, high, m, outer}))

	res, err := r.Resolve(30, keys.UserKey("cherry"))
	require.NoError(t, err)
	assert.Equal(t, uint64(11), res.FileNumber)
	assert.Equal(t, "dark red", string(res.Value))
	assert.Equal(t, "cherry", string(res.Key.UserKey()))
	assert.Equal(t, keys.KindValueIndex, res.Key.Kind())
	assert.Equal(t, []uint64{30, 20}, res.Path)

	res, err = r.Resolve(20, keys.UserKey("apple"))
	require.NoError(t, err)
	assert.Equal(t, uint64(10), res.FileNumber)
	assert.Equal(t, "red", string(res.Value))

	_, err = r.Resolve(30, keys.UserKey("durian"))
	assert.ErrorIs(t, err, ErrNotFound)

	// Resolving a data file returns the record directly.
	res, err = r.Resolve(10, keys.UserKey("banana"))
	require.NoError(t, err)
	assert.Equal(t, uint64(10), res.FileNumber)
	assert.Empty(t, res.Path)

	deps, err := r.Dependences(20)
	require.NoError(t, err)
	assert.Equal(t, []staticmap.Dependence{{FileNumber: 10, EntryCount: 3}, {FileNumber: 11, EntryCount: 3}}, deps)

	_, err = r.Dependences(10)
	assert.ErrorIs(t, err, ErrNotMapFile)
}

func TestResolverMaxDepth(t *testing.T) {
	dir := t.TempDir()
	r := newResolver(t, func(o *Options) { o.MaxDepth = 2 })
	ctx := context.Background()

	// 1 -> 2 -> 3 -> data 4
	require.NoError(t, r.LoadFiles(ctx, []FileSpec{
		mapFile(t, dir, 1, []string{"k"}, 2),
		mapFile(t, dir, 2, []string{"k"}, 3),
		mapFile(t, dir, 3, []string{"k"}, 4),
		writeFile(t, dir, 4, []kv{{"k", []byte("v")}}),
	}))

	_, err := r.Resolve(1, keys.UserKey("k"))
	assert.ErrorIs(t, err, ErrMaxDepth)

	res, err := r.Resolve(2, keys.UserKey("k"))
	require.NoError(t, err)
	assert.Equal(t, "v", string(res.Value))
}

func TestResolverCorruptMapElement(t *testing.T) {
	dir := t.TempDir()
	r := newResolver(t, nil)
	spec := writeFile(t, dir, 1, []kv{{"k", []byte{0x80}}})
	spec.Map = true
	require.NoError(t, r.LoadFile(context.Background(), spec))

	_, err := r.Resolve(1, keys.UserKey("k"))
	assert.ErrorIs(t, err, staticmap.ErrInvalidMapElement)
}

func TestResolverDropReleasesMemory(t *testing.T) {
	dir := t.TempDir()
	baseline := staticmap.MemoryUsage()
	r := newResolver(t, nil)
	ctx := context.Background()

	require.NoError(t, r.LoadFile(ctx, dataFile(t, dir, 1, 200)))
	size := r.Stats().IndexBytes
	require.Positive(t, size)
	assert.Equal(t, baseline+size, staticmap.MemoryUsage())

	require.NoError(t, r.Drop(1))
	assert.Equal(t, baseline, staticmap.MemoryUsage())
	assert.Zero(t, r.Stats().Pending)

	_, err := r.Get(1, keys.UserKey("key00001"))
	assert.ErrorIs(t, err, ErrUnknownFile)
	assert.ErrorIs(t, r.Drop(1), ErrUnknownFile)
}

func TestResolverDropWaitsForReaders(t *testing.T) {
	dir := t.TempDir()
	baseline := staticmap.MemoryUsage()
	r := newResolver(t, nil)
	require.NoError(t, r.LoadFile(context.Background(), dataFile(t, dir, 1, 50)))
	size := r.Stats().IndexBytes

	e := r.epochs.Enter()
	require.NoError(t, r.Drop(1))
	assert.Equal(t, 1, r.Stats().Pending)
	assert.Equal(t, baseline+size, staticmap.MemoryUsage())

	r.epochs.Exit(e)
	r.epochs.TryCleanup()
	assert.Equal(t, baseline, staticmap.MemoryUsage())
}

func TestResolverReplaceFile(t *testing.T) {
	dir := t.TempDir()
	baseline := staticmap.MemoryUsage()
	r := newResolver(t, nil)
	ctx := context.Background()

	require.NoError(t, r.LoadFile(ctx, dataFile(t, dir, 1, 100)))
	replacement := writeFile(t, t.TempDir(), 1, []kv{{"key00001", []byte("new")}})
	require.NoError(t, r.LoadFile(ctx, replacement))

	v, err := r.Get(1, keys.UserKey("key00001"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(v))
	assert.Equal(t, baseline+r.Stats().IndexBytes, staticmap.MemoryUsage())
}

func TestResolverClose(t *testing.T) {
	dir := t.TempDir()
	baseline := staticmap.MemoryUsage()
	r, err := New(nil)
	require.NoError(t, err)
	require.NoError(t, r.LoadFile(context.Background(), dataFile(t, dir, 1, 100)))

	require.NoError(t, r.Close())
	assert.Equal(t, baseline, staticmap.MemoryUsage())
	require.NoError(t, r.Close())

	_, err = r.Get(1, keys.UserKey("key00001"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, r.LoadFile(context.Background(), dataFile(t, dir, 2, 1)), ErrClosed)
	assert.ErrorIs(t, r.Drop(1), ErrClosed)
	_, err = r.Dependences(1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestResolverConcurrentLookups(t *testing.T) {
	dir := t.TempDir()
	r := newResolver(t, nil)
	ctx := context.Background()
	require.NoError(t, r.LoadFiles(ctx, []FileSpec{dataFile(t, dir, 1, 500), dataFile(t, dir, 2, 500)}))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 500 {
				n := uint64(1 + (g+i)%2)
				v, err := r.Get(n, keys.UserKey(fmt.Sprintf("key%05d", i)))
				if err != nil {
					errs <- err
					return
				}
				if string(v) != fmt.Sprintf("file%d-value%d", n, i) {
					errs <- fmt.Errorf("file %d key %d: got %q", n, i, v)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"parallelism", func(o *Options) { o.Parallelism = 0 }},
		{"depth", func(o *Options) { o.MaxDepth = 0 }},
		{"bloom", func(o *Options) { o.BloomBitsPerKey = -1 }},
		{"cache", func(o *Options) { o.BlockCacheSize = -1 }},
		{"comparator", func(o *Options) { o.Index.Comparator = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.mutate(opts)
			assert.Error(t, opts.Validate())
			_, err := New(opts)
			assert.Error(t, err)
		})
	}
	assert.NoError(t, DefaultOptions().Validate())
}

func TestBloomFilter(t *testing.T) {
	f := newBloomFilter(1000, 10)
	for i := range 1000 {
		f.add(fmt.Appendf(nil, "key%d", i))
	}
	for i := range 1000 {
		require.True(t, f.mayContain(fmt.Appendf(nil, "key%d", i)))
	}
	falsePositives := 0
	for i := range 10000 {
		if f.mayContain(fmt.Appendf(nil, "other%d", i)) {
			falsePositives++
		}
	}
	assert.Less(t, falsePositives, 500, "false positive rate too high")

	var nilFilter *bloomFilter
	assert.True(t, nilFilter.mayContain([]byte("anything")))
	assert.Nil(t, newBloomFilter(10, 0))
}
