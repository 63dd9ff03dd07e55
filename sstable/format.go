package sstable

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// Table layout:
//
//	data block 0 .. data block n-1
//	index block  (last key of block i -> handle of block i)
//	footer       (index handle, padded; version; magic)
//
// Every block is followed by a 5 byte trailer: one compression type
// byte and a CRC32-C of the stored block bytes plus that type byte.
const (
	// DefaultBlockSize is the target uncompressed size of a data block
	DefaultBlockSize = 4 * 1024

	// DefaultRestartInterval is how often a full key is written
	DefaultRestartInterval = 16

	// BlockTrailerSize is the compression type byte plus the checksum
	BlockTrailerSize = 5

	// blockHandleMaxSize is the room reserved for one encoded handle
	blockHandleMaxSize = 2 * binary.MaxVarintLen64

	versionSize = 4
	magicSize   = 8

	// FooterSize is the fixed size of the table footer
	FooterSize = blockHandleMaxSize + versionSize + magicSize

	formatVersion = 1
)

var (
	tableMagic = []byte{0xf0, 0x9f, 0xaa, 0xb3, 0xf0, 0x9f, 0xaa, 0xb3}

	crcTable = crc32.MakeTable(crc32.Castagnoli)

	// ErrCorruptTable is returned when a table fails a structural or
	// checksum check
	ErrCorruptTable = errors.New("corrupt sstable")

	// ErrOutOfOrder is returned when keys are added out of order
	ErrOutOfOrder = errors.New("keys added out of order")

	// ErrWriterClosed is returned when using a finished writer
	ErrWriterClosed = errors.New("sstable writer is closed")
)

// BlockHandle represents a pointer to a block
type BlockHandle struct {
	Offset uint64
	Size   uint64
}

// AppendTo appends the varint encoding of h to dst.
func (h BlockHandle) AppendTo(dst []byte) []byte {
	dst = binary.AppendUvarint(dst, h.Offset)
	return binary.AppendUvarint(dst, h.Size)
}

// decodeBlockHandle decodes a handle, returning the bytes consumed or 0
// when the input is malformed.
func decodeBlockHandle(data []byte) (BlockHandle, int) {
	offset, n := binary.Uvarint(data)
	if n <= 0 {
		return BlockHandle{}, 0
	}
	size, m := binary.Uvarint(data[n:])
	if m <= 0 {
		return BlockHandle{}, 0
	}
	return BlockHandle{Offset: offset, Size: size}, n + m
}

func blockChecksum(data []byte, compressionType byte) uint32 {
	crc := crc32.Update(0, crcTable, data)
	return crc32.Update(crc, crcTable, []byte{compressionType})
}

func encodeFooter(index BlockHandle) []byte {
	footer := make([]byte, FooterSize)
	index.AppendTo(footer[:0])
	binary.LittleEndian.PutUint32(footer[blockHandleMaxSize:], formatVersion)
	copy(footer[FooterSize-magicSize:], tableMagic)
	return footer
}

func decodeFooter(footer []byte) (BlockHandle, error) {
	if len(footer) != FooterSize {
		return BlockHandle{}, ErrCorruptTable
	}
	if string(footer[FooterSize-magicSize:]) != string(tableMagic) {
		return BlockHandle{}, fmt.Errorf("%w: bad magic number", ErrCorruptTable)
	}
	if v := binary.LittleEndian.Uint32(footer[blockHandleMaxSize:]); v != formatVersion {
		return BlockHandle{}, fmt.Errorf("%w: unsupported version", ErrCorruptTable)
	}
	h, n := decodeBlockHandle(footer[:blockHandleMaxSize])
	if n == 0 {
		return BlockHandle{}, fmt.Errorf("%w: bad index handle", ErrCorruptTable)
	}
	return h, nil
}
