package sstable

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/twlk9/staticmap/compression"
	"github.com/twlk9/staticmap/internal/logging"
	"github.com/twlk9/staticmap/keys"
)

// WriterOptions configures a table writer.
type WriterOptions struct {
	Compression     compression.Config
	BlockSize       int
	RestartInterval int
	Logger          *slog.Logger
}

// DefaultWriterOptions returns the default writer options.
func DefaultWriterOptions() *WriterOptions {
	return &WriterOptions{
		Compression:     compression.DefaultConfig(),
		BlockSize:       DefaultBlockSize,
		RestartInterval: DefaultRestartInterval,
	}
}

// Writer writes internal records, in ascending internal key order, to a
// table file.
type Writer struct {
	file   *os.File
	writer *bufio.Writer
	path   string
	logger *slog.Logger

	dataBlock  *BlockBuilder
	indexBlock *BlockBuilder
	compressor compression.Compressor

	offset     uint64
	numEntries uint64
	lastKey    keys.EncodedKey
	scratch    []byte

	closed bool
}

// NewWriter creates the table file at path. A nil opts uses
// DefaultWriterOptions.
func NewWriter(path string, opts *WriterOptions) (*Writer, error) {
	if opts == nil {
		opts = DefaultWriterOptions()
	}
	logger := logging.OrQuiet(opts.Logger)

	compressor, err := compression.NewCompressor(opts.Compression)
	if err != nil {
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	return &Writer{
		file:       file,
		writer:     bufio.NewWriter(file),
		path:       path,
		logger:     logger,
		dataBlock:  NewBlockBuilder(opts.BlockSize, opts.RestartInterval),
		indexBlock: NewBlockBuilder(opts.BlockSize, 1),
		compressor: compressor,
	}, nil
}

// Add appends a record. Keys must be strictly ascending in internal key
// order.
func (w *Writer) Add(key keys.EncodedKey, value []byte) error {
	if w.closed {
		return ErrWriterClosed
	}
	if len(key) < keys.KeyFootLen {
		return fmt.Errorf("%w: %d byte key", keys.ErrCorruption, len(key))
	}
	if w.numEntries > 0 && w.lastKey.Compare(key) >= 0 {
		return fmt.Errorf("%w: %s after %s", ErrOutOfOrder, key, w.lastKey)
	}
	w.lastKey = append(w.lastKey[:0], key...)

	w.dataBlock.Add(key, value)
	w.numEntries++

	if w.dataBlock.IsFull() {
		return w.flushDataBlock()
	}
	return nil
}

// writeBlock compresses and writes a finished block with its trailer.
func (w *Writer) writeBlock(raw []byte) (BlockHandle, error) {
	compressed, compressionType, err := compression.CompressBlock(w.compressor, w.scratch[:0], raw)
	if err != nil {
		w.logger.Error("Failed to compress block", "error", err, "sstable", w.path, "offset", w.offset)
		return BlockHandle{}, fmt.Errorf("failed to compress block: %w", err)
	}
	w.scratch = compressed

	var trailer [BlockTrailerSize]byte
	trailer[0] = compressionType
	binary.LittleEndian.PutUint32(trailer[1:], blockChecksum(compressed, compressionType))

	if _, err := w.writer.Write(compressed); err != nil {
		w.logger.Error("Failed to write block", "error", err, "sstable", w.path, "offset", w.offset)
		return BlockHandle{}, err
	}
	if _, err := w.writer.Write(trailer[:]); err != nil {
		return BlockHandle{}, err
	}

	h := BlockHandle{Offset: w.offset, Size: uint64(len(compressed) + BlockTrailerSize)}
	w.offset += h.Size
	return h, nil
}

func (w *Writer) flushDataBlock() error {
	if w.dataBlock.IsEmpty() {
		return nil
	}
	// The block's last key is its index separator: a seek target lands
	// in the first block whose last key is >= it.
	lastKey := append([]byte(nil), w.dataBlock.LastKey()...)

	h, err := w.writeBlock(w.dataBlock.Finish())
	if err != nil {
		return err
	}
	w.indexBlock.Add(lastKey, h.AppendTo(nil))
	w.dataBlock.Reset()
	return nil
}

// Finish flushes the remaining data, writes the index block and footer
// and syncs the file. The writer accepts no more records afterwards.
func (w *Writer) Finish() error {
	if w.closed {
		return ErrWriterClosed
	}
	if err := w.flushDataBlock(); err != nil {
		return err
	}

	indexHandle, err := w.writeBlock(w.indexBlock.Finish())
	if err != nil {
		return err
	}
	if _, err := w.writer.Write(encodeFooter(indexHandle)); err != nil {
		w.logger.Error("Failed to write footer", "error", err, "sstable", w.path)
		return err
	}
	if err := w.writer.Flush(); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	w.closed = true
	w.logger.Debug("Finished sstable", "sstable", w.path, "entries", w.numEntries, "size", w.offset+FooterSize)
	return nil
}

// Close closes the file. A writer closed before Finish leaves an
// incomplete table behind.
func (w *Writer) Close() error {
	w.closed = true
	return w.file.Close()
}

// NumEntries returns the number of records added
func (w *Writer) NumEntries() uint64 {
	return w.numEntries
}
