package sstable

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/twlk9/staticmap/bufferpool"
	"github.com/twlk9/staticmap/compression"
	"github.com/twlk9/staticmap/internal/logging"
	"github.com/twlk9/staticmap/keys"
)

// ReaderAtCloser is the file surface a Reader needs.
type ReaderAtCloser interface {
	io.ReaderAt
	io.Closer
}

// ReaderOptions configures a table reader.
type ReaderOptions struct {
	// FileNum identifies the table in cache keys.
	FileNum uint64

	// Cache, when set, is consulted before reading a block from disk.
	Cache *BlockCache

	// VerifyChecksums checks every block's CRC when it is read.
	VerifyChecksums bool

	Logger *slog.Logger
}

// Reader reads a table written by Writer. It is safe for concurrent use;
// iterators are not.
type Reader struct {
	file    ReaderAtCloser
	size    int64
	path    string
	fileNum uint64
	cache   *BlockCache
	verify  bool
	logger  *slog.Logger
	index   *block
}

// Open opens the table at path. A nil opts uses zero ReaderOptions.
func Open(path string, opts *ReaderOptions) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	r, err := NewReader(file, stat.Size(), opts)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r.path = path
	return r, nil
}

// NewReader reads a table of the given size from file. The reader owns
// file and closes it on Close.
func NewReader(file ReaderAtCloser, size int64, opts *ReaderOptions) (*Reader, error) {
	if opts == nil {
		opts = &ReaderOptions{}
	}
	logger := logging.OrQuiet(opts.Logger)
	r := &Reader{
		file:    file,
		size:    size,
		fileNum: opts.FileNum,
		cache:   opts.Cache,
		verify:  opts.VerifyChecksums,
		logger:  logger,
	}
	if err := r.readFooter(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reader) readFooter() error {
	if r.size < FooterSize {
		return fmt.Errorf("%w: file too small (%d bytes)", ErrCorruptTable, r.size)
	}
	footer := bufferpool.GetBuffer(FooterSize)
	defer bufferpool.PutBuffer(footer)
	if _, err := r.file.ReadAt(footer, r.size-FooterSize); err != nil {
		r.logger.Error("Failed to read sstable footer", "error", err, "sstable", r.path)
		return err
	}
	indexHandle, err := decodeFooter(footer)
	if err != nil {
		return err
	}
	if indexHandle.Offset+indexHandle.Size > uint64(r.size-FooterSize) {
		return fmt.Errorf("%w: index block past end of file", ErrCorruptTable)
	}
	r.index, err = r.loadBlock(indexHandle)
	return err
}

// readBlock returns a decompressed block, from the cache when possible.
func (r *Reader) readBlock(h BlockHandle) (*block, error) {
	if r.cache != nil {
		if data, ok := r.cache.Get(CacheKey(r.fileNum, h.Offset)); ok {
			return parseBlock(data)
		}
	}
	return r.loadBlock(h)
}

func (r *Reader) loadBlock(h BlockHandle) (*block, error) {
	if h.Size < BlockTrailerSize {
		return nil, fmt.Errorf("%w: block too small for trailer", ErrCorruptTable)
	}
	raw := bufferpool.GetBuffer(int(h.Size))
	defer bufferpool.PutBuffer(raw)

	if _, err := r.file.ReadAt(raw, int64(h.Offset)); err != nil {
		r.logger.Error("Failed to read block", "error", err, "sstable", r.path, "offset", h.Offset, "size", h.Size)
		return nil, err
	}

	body := raw[:len(raw)-BlockTrailerSize]
	compressionType := raw[len(body)]
	if r.verify {
		want := binary.LittleEndian.Uint32(raw[len(body)+1:])
		if got := blockChecksum(body, compressionType); got != want {
			return nil, fmt.Errorf("%w: checksum mismatch at offset %d", ErrCorruptTable, h.Offset)
		}
	}

	// DecompressBlock always returns fresh memory, so raw can go back
	// to the pool.
	data, err := compression.DecompressBlock(nil, body, compressionType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptTable, err)
	}
	blk, err := parseBlock(data)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		r.cache.Put(CacheKey(r.fileNum, h.Offset), data)
	}
	return blk, nil
}

// Path returns the file the reader was opened from, if any.
func (r *Reader) Path() string {
	return r.path
}

// FileNum returns the file number the reader was opened with.
func (r *Reader) FileNum() uint64 {
	return r.fileNum
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Iterator walks a table in key order. It implements the record source
// a static map index is built from.
type Iterator struct {
	r     *Reader
	index blockIter
	data  blockIter
	err   error
}

// NewIterator returns an unpositioned iterator over the table.
func (r *Reader) NewIterator() *Iterator {
	it := &Iterator{r: r}
	it.index.reset(r.index)
	return it
}

// loadDataBlock opens the block the index iterator points at.
func (it *Iterator) loadDataBlock() bool {
	h, n := decodeBlockHandle(it.index.value)
	if n == 0 {
		it.err = fmt.Errorf("%w: bad block handle", ErrCorruptTable)
		return false
	}
	blk, err := it.r.readBlock(h)
	if err != nil {
		it.err = err
		return false
	}
	it.data.reset(blk)
	return true
}

// skipEmptyBlocks moves forward until the data iterator is on an entry
// or the table is exhausted.
func (it *Iterator) skipEmptyBlocks() {
	for !it.data.valid {
		if it.data.err != nil {
			it.err = it.data.err
			return
		}
		if !it.index.decodeNext() {
			it.err = it.index.err
			return
		}
		if !it.loadDataBlock() {
			return
		}
		it.data.seekToFirst()
	}
}

// SeekToFirst positions the iterator at the first record.
func (it *Iterator) SeekToFirst() {
	it.err = nil
	it.data.valid = false
	it.data.err = nil
	it.index.reset(it.r.index)
	it.skipEmptyBlocks()
}

// Seek positions the iterator at the first record >= target.
func (it *Iterator) Seek(target keys.EncodedKey) {
	it.err = nil
	it.data.valid = false
	it.data.err = nil
	it.index.reset(it.r.index)
	it.index.seek(target)
	if it.index.err != nil {
		it.err = it.index.err
		return
	}
	if !it.index.valid {
		return
	}
	if !it.loadDataBlock() {
		return
	}
	it.data.seek(target)
	it.skipEmptyBlocks()
}

// Valid returns true if the iterator is positioned at a record.
func (it *Iterator) Valid() bool {
	return it.err == nil && it.data.valid
}

// Next moves the iterator to the next record.
func (it *Iterator) Next() {
	if !it.Valid() {
		return
	}
	it.data.decodeNext()
	it.skipEmptyBlocks()
}

// Key returns the current internal key. It is only valid until the
// next call that moves the iterator.
func (it *Iterator) Key() keys.EncodedKey {
	if !it.Valid() {
		return nil
	}
	return keys.EncodedKey(it.data.key)
}

// Value returns the current value.
func (it *Iterator) Value() []byte {
	if !it.Valid() {
		return nil
	}
	return it.data.value
}

// Error returns any error hit while reading.
func (it *Iterator) Error() error {
	return it.err
}

// Close releases any resources held by the iterator.
func (it *Iterator) Close() error {
	return nil
}
