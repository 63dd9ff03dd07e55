// Package gc resolves keys through a set of loaded table files, each held
// in memory as a static map index. Map files redirect keys to the data
// files that hold them; Resolve follows those links.
package gc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/twlk9/staticmap"
	"github.com/twlk9/staticmap/epoch"
	"github.com/twlk9/staticmap/keys"
	"github.com/twlk9/staticmap/sstable"
)

// FileSpec names a table file to load.
type FileSpec struct {
	Number uint64
	Path   string

	// Map marks a file whose values are map elements.
	Map bool
}

type file struct {
	spec   FileSpec
	index  *staticmap.Index
	filter *bloomFilter
}

// Result is a resolved record. Key and Value are owned by the caller.
type Result struct {
	FileNumber uint64
	Key        keys.EncodedKey
	Value      []byte

	// Path lists the map files passed through, outermost first.
	Path []uint64
}

// Stats describes the resolver's loaded state.
type Stats struct {
	Files       int
	MapFiles    int
	Records     int
	IndexBytes  int64
	FilterBytes int64
	CacheHits   int64
	CacheMisses int64
	Pending     int
}

// Resolver holds loaded files and answers lookups against them. All
// methods are safe for concurrent use.
type Resolver struct {
	opts   *Options
	logger *slog.Logger
	cache  *sstable.BlockCache
	epochs *epoch.Manager
	bloom  bool

	// cacheIDs numbers every table read so a reloaded file number never
	// sees blocks cached for its previous contents.
	cacheIDs atomic.Uint64

	mu     sync.RWMutex
	files  map[uint64]*file
	closed bool
}

// New creates an empty resolver. A nil opts uses DefaultOptions.
func New(opts *Options) (*Resolver, error) {
	opts = opts.Clone()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	logger := opts.logger()
	if opts.Index.Logger == nil {
		opts.Index.Logger = opts.Logger
	}
	r := &Resolver{
		opts:   opts,
		logger: logger,
		epochs: epoch.NewManager(logger),
		bloom:  opts.BloomBitsPerKey > 0 && opts.Index.Comparator.Name() == keys.BytewiseComparator.Name(),
		files:  make(map[uint64]*file),
	}
	if opts.BlockCacheSize > 0 {
		r.cache = sstable.NewBlockCache(opts.BlockCacheSize)
	}
	return r, nil
}

// LoadFile reads a table into memory. Loading a number that is already
// loaded replaces the old file once its readers are done.
func (r *Resolver) LoadFile(ctx context.Context, spec FileSpec) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	f, err := r.readFile(spec)
	if err != nil {
		r.logger.Error("Failed to load file", "file", spec.Number, "path", spec.Path, "error", err)
		return fmt.Errorf("load file %d: %w", spec.Number, err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		f.index.Release()
		return ErrClosed
	}
	old := r.files[spec.Number]
	r.files[spec.Number] = f
	r.mu.Unlock()

	if old != nil {
		r.retire(old)
	}
	r.logger.Info("Loaded file", "file", spec.Number, "map", spec.Map, "records", f.index.Len(), "size", f.index.Size())
	return nil
}

func (r *Resolver) readFile(spec FileSpec) (*file, error) {
	reader, err := sstable.Open(spec.Path, &sstable.ReaderOptions{
		FileNum:         r.cacheIDs.Add(1),
		Cache:           r.cache,
		VerifyChecksums: r.opts.VerifyChecksums,
		Logger:          r.logger,
	})
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	x, err := staticmap.New(r.opts.Index)
	if err != nil {
		return nil, err
	}
	if err := x.Build(reader.NewIterator()); err != nil {
		return nil, err
	}

	f := &file{spec: spec, index: x}
	if r.bloom {
		f.filter = newBloomFilter(x.Len(), r.opts.BloomBitsPerKey)
		it := x.NewIterator()
		for it.SeekToFirst(); it.Valid(); it.Next() {
			f.filter.add(it.Key().UserKey())
		}
	}
	return f, nil
}

// LoadFiles loads files concurrently, at most Options.Parallelism at a
// time. The first failure cancels the remaining loads.
func (r *Resolver) LoadFiles(ctx context.Context, specs []FileSpec) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Parallelism)
	for _, spec := range specs {
		g.Go(func() error {
			return r.LoadFile(ctx, spec)
		})
	}
	return g.Wait()
}

// Drop unloads a file. Its memory is released once in-flight lookups
// that may see it have finished.
func (r *Resolver) Drop(number uint64) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	f, ok := r.files[number]
	if ok {
		delete(r.files, number)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownFile, number)
	}
	r.retire(f)
	return nil
}

func (r *Resolver) retire(f *file) {
	r.epochs.Retire(f.spec.Path, func() error {
		f.index.Release()
		return nil
	})
	r.epochs.TryCleanup()
}

// Files returns the loaded file numbers in ascending order.
func (r *Resolver) Files() []uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	nums := make([]uint64, 0, len(r.files))
	for n := range r.files {
		nums = append(nums, n)
	}
	slices.Sort(nums)
	return nums
}

// lookup finds key in one file. Callers must be inside an epoch.
func (r *Resolver) lookup(number uint64, key keys.UserKey) (*file, int, error) {
	r.mu.RLock()
	f, ok := r.files[number]
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, staticmap.NotFound, ErrClosed
	}
	if !ok {
		return nil, staticmap.NotFound, fmt.Errorf("%w: %d", ErrUnknownFile, number)
	}
	if !f.filter.mayContain(key) {
		return f, staticmap.NotFound, nil
	}
	return f, f.index.GetIndex(key), nil
}

// Get returns a copy of the value stored for key in one file.
func (r *Resolver) Get(number uint64, key keys.UserKey) ([]byte, error) {
	e := r.epochs.Enter()
	defer r.epochs.Exit(e)

	f, id, err := r.lookup(number, key)
	if err != nil {
		return nil, err
	}
	if id == staticmap.NotFound {
		return nil, ErrNotFound
	}
	return bytes.Clone(f.index.GetValue(id)), nil
}

// Resolve looks key up in file number and, while the hit is in a map
// file, follows the element's links to the first linked file that holds
// the key.
func (r *Resolver) Resolve(number uint64, key keys.UserKey) (Result, error) {
	e := r.epochs.Enter()
	defer r.epochs.Exit(e)

	res := Result{}
	if err := r.resolve(number, key, 0, &res); err != nil {
		return Result{}, err
	}
	return res, nil
}

func (r *Resolver) resolve(number uint64, key keys.UserKey, depth int, res *Result) error {
	f, id, err := r.lookup(number, key)
	if err != nil {
		return err
	}
	if id == staticmap.NotFound {
		return ErrNotFound
	}
	if !f.spec.Map {
		res.FileNumber = number
		res.Key = bytes.Clone(f.index.GetKey(id))
		res.Value = bytes.Clone(f.index.GetValue(id))
		return nil
	}

	if depth >= r.opts.MaxDepth {
		return fmt.Errorf("%w: %d at file %d", ErrMaxDepth, r.opts.MaxDepth, number)
	}
	m, err := staticmap.DecodeMapElement(f.index.GetValue(id))
	if err != nil {
		return fmt.Errorf("file %d record %d: %w", number, id, err)
	}
	res.Path = append(res.Path, number)
	for _, link := range m.Links {
		err := r.resolve(link, key, depth+1, res)
		if err == nil {
			return nil
		}
		if !isMiss(err) {
			return err
		}
	}
	res.Path = res.Path[:len(res.Path)-1]
	return ErrNotFound
}

// isMiss reports whether err only means the key is not behind a link.
func isMiss(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnknownFile)
}

// Dependences sums, per linked file, how many map elements in a map file
// link to it.
func (r *Resolver) Dependences(number uint64) ([]staticmap.Dependence, error) {
	e := r.epochs.Enter()
	defer r.epochs.Exit(e)

	r.mu.RLock()
	f, ok := r.files[number]
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownFile, number)
	}
	if !f.spec.Map {
		return nil, fmt.Errorf("%w: %d", ErrNotMapFile, number)
	}

	counts := make(map[uint64]uint64)
	it := f.index.NewIterator()
	for it.SeekToFirst(); it.Valid(); it.Next() {
		m, err := staticmap.DecodeMapElement(it.Value())
		if err != nil {
			return nil, fmt.Errorf("file %d record %d: %w", number, it.Position(), err)
		}
		for _, d := range m.Dependences() {
			counts[d.FileNumber] += d.EntryCount
		}
	}

	deps := make([]staticmap.Dependence, 0, len(counts))
	for n, c := range counts {
		deps = append(deps, staticmap.Dependence{FileNumber: n, EntryCount: c})
	}
	slices.SortFunc(deps, func(a, b staticmap.Dependence) int {
		switch {
		case a.FileNumber < b.FileNumber:
			return -1
		case a.FileNumber > b.FileNumber:
			return 1
		}
		return 0
	})
	return deps, nil
}

// Stats returns a snapshot of the resolver's state.
func (r *Resolver) Stats() Stats {
	r.mu.RLock()
	var s Stats
	for _, f := range r.files {
		s.Files++
		if f.spec.Map {
			s.MapFiles++
		}
		s.Records += f.index.Len()
		s.IndexBytes += f.index.Size()
		s.FilterBytes += f.filter.size()
	}
	r.mu.RUnlock()
	s.CacheHits, s.CacheMisses = r.cache.Stats()
	s.Pending = r.epochs.Pending()
	return s
}

// Close unloads every file and releases its memory. Lookups still in
// flight must have returned before Close is called.
func (r *Resolver) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	files := r.files
	r.files = nil
	r.mu.Unlock()

	for _, f := range files {
		r.epochs.Retire(f.spec.Path, func() error {
			f.index.Release()
			return nil
		})
	}
	err := r.epochs.Drain()
	r.logger.Info("Closed resolver", "files", len(files), "memory_usage", staticmap.MemoryUsage())
	return err
}
