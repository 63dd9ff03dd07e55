package sstable

import (
	"encoding/binary"
	"fmt"

	"github.com/twlk9/staticmap/keys"
)

// BlockBuilder builds prefix-compressed blocks. Each entry is
//
//	varint(shared) varint(unshared) varint(value_len) key[shared:] value
//
// and the block ends with the restart offsets (uint32 LE each) followed
// by their count. Entries at a restart offset share nothing with their
// predecessor.
type BlockBuilder struct {
	buffer          []byte
	restarts        []uint32
	numEntries      int
	lastKey         []byte
	finished        bool
	restartInterval int
	blockSize       int
}

// NewBlockBuilder creates a new block builder
func NewBlockBuilder(blockSize, restartInterval int) *BlockBuilder {
	if restartInterval <= 0 {
		restartInterval = DefaultRestartInterval
	}
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &BlockBuilder{
		buffer:          make([]byte, 0, blockSize),
		restartInterval: restartInterval,
		blockSize:       blockSize,
	}
}

// Add appends an entry. Keys must be added in ascending order.
func (b *BlockBuilder) Add(key, value []byte) {
	if b.finished {
		panic("sstable: add to finished block")
	}

	shared := 0
	if b.numEntries%b.restartInterval == 0 {
		b.restarts = append(b.restarts, uint32(len(b.buffer)))
	} else {
		shared = sharedPrefixLen(b.lastKey, key)
	}

	b.buffer = binary.AppendUvarint(b.buffer, uint64(shared))
	b.buffer = binary.AppendUvarint(b.buffer, uint64(len(key)-shared))
	b.buffer = binary.AppendUvarint(b.buffer, uint64(len(value)))
	b.buffer = append(b.buffer, key[shared:]...)
	b.buffer = append(b.buffer, value...)

	b.lastKey = append(b.lastKey[:0], key...)
	b.numEntries++
}

// Finish appends the restart array and returns the encoded block. The
// result aliases the builder's buffer until Reset.
func (b *BlockBuilder) Finish() []byte {
	if b.finished {
		panic("sstable: block already finished")
	}
	if len(b.restarts) == 0 {
		b.restarts = append(b.restarts, 0)
	}
	for _, r := range b.restarts {
		b.buffer = binary.LittleEndian.AppendUint32(b.buffer, r)
	}
	b.buffer = binary.LittleEndian.AppendUint32(b.buffer, uint32(len(b.restarts)))
	b.finished = true
	return b.buffer
}

// IsFull returns true once the block has reached its target size
func (b *BlockBuilder) IsFull() bool {
	return len(b.buffer) >= b.blockSize
}

// EstimatedSize returns the current encoded size without the restarts
func (b *BlockBuilder) EstimatedSize() int {
	return len(b.buffer)
}

// IsEmpty returns true if the block is empty
func (b *BlockBuilder) IsEmpty() bool {
	return b.numEntries == 0
}

// LastKey returns the last key added. It aliases builder memory.
func (b *BlockBuilder) LastKey() []byte {
	return b.lastKey
}

// NumEntries returns the number of entries in the block
func (b *BlockBuilder) NumEntries() int {
	return b.numEntries
}

// Reset resets the block builder for reuse
func (b *BlockBuilder) Reset() {
	b.buffer = b.buffer[:0]
	b.restarts = b.restarts[:0]
	b.numEntries = 0
	b.lastKey = b.lastKey[:0]
	b.finished = false
}

// sharedPrefixLen returns the length of the shared prefix of a and b,
// comparing 8 bytes at a time where possible.
func sharedPrefixLen(a, b []byte) int {
	n := min(len(a), len(b))
	shared := 0
	for shared+8 <= n && binary.LittleEndian.Uint64(a[shared:]) == binary.LittleEndian.Uint64(b[shared:]) {
		shared += 8
	}
	for shared < n && a[shared] == b[shared] {
		shared++
	}
	return shared
}

// block is a decoded block: entry bytes plus the restart offsets.
type block struct {
	data     []byte
	restarts []uint32
}

func parseBlock(b []byte) (*block, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("%w: block too small", ErrCorruptTable)
	}
	numRestarts := int(binary.LittleEndian.Uint32(b[len(b)-4:]))
	restartsStart := len(b) - 4 - numRestarts*4
	if numRestarts == 0 || restartsStart < 0 {
		return nil, fmt.Errorf("%w: bad restart count %d", ErrCorruptTable, numRestarts)
	}
	blk := &block{
		data:     b[:restartsStart],
		restarts: make([]uint32, numRestarts),
	}
	for i := range blk.restarts {
		r := binary.LittleEndian.Uint32(b[restartsStart+i*4:])
		if int(r) > restartsStart {
			return nil, fmt.Errorf("%w: restart %d past block end", ErrCorruptTable, i)
		}
		blk.restarts[i] = r
	}
	return blk, nil
}

// blockIter walks the entries of one block. key is rebuilt into an
// owned buffer; value aliases the block.
type blockIter struct {
	blk   *block
	next  int
	key   []byte
	value []byte
	valid bool
	err   error
}

func (it *blockIter) reset(blk *block) {
	it.blk = blk
	it.next = 0
	it.key = it.key[:0]
	it.value = nil
	it.valid = false
	it.err = nil
}

func (it *blockIter) corrupt(what string) bool {
	it.err = fmt.Errorf("%w: %s at offset %d", ErrCorruptTable, what, it.next)
	it.valid = false
	return false
}

// decodeNext decodes the entry at it.next.
func (it *blockIter) decodeNext() bool {
	data := it.blk.data
	if it.next >= len(data) {
		it.valid = false
		return false
	}
	off := it.next
	shared, n := binary.Uvarint(data[off:])
	if n <= 0 {
		return it.corrupt("shared length")
	}
	off += n
	unshared, n := binary.Uvarint(data[off:])
	if n <= 0 {
		return it.corrupt("unshared length")
	}
	off += n
	valueLen, n := binary.Uvarint(data[off:])
	if n <= 0 {
		return it.corrupt("value length")
	}
	off += n

	if shared > uint64(len(it.key)) || unshared > uint64(len(data)-off) {
		return it.corrupt("key length")
	}
	keyEnd := off + int(unshared)
	if valueLen > uint64(len(data)-keyEnd) {
		return it.corrupt("value length")
	}
	valueEnd := keyEnd + int(valueLen)

	it.key = append(it.key[:shared], data[off:keyEnd]...)
	it.value = data[keyEnd:valueEnd:valueEnd]
	it.next = valueEnd
	it.valid = true
	return true
}

func (it *blockIter) seekToRestart(i int) {
	it.key = it.key[:0]
	it.next = int(it.blk.restarts[i])
}

// restartKey returns the full key stored at restart point i.
func (it *blockIter) restartKey(i int) (keys.EncodedKey, bool) {
	data := it.blk.data
	off := int(it.blk.restarts[i])
	shared, n := binary.Uvarint(data[off:])
	if n <= 0 || shared != 0 {
		return nil, false
	}
	off += n
	unshared, n := binary.Uvarint(data[off:])
	if n <= 0 {
		return nil, false
	}
	off += n
	_, n = binary.Uvarint(data[off:])
	if n <= 0 || unshared > uint64(len(data)-off-n) {
		return nil, false
	}
	off += n
	return keys.EncodedKey(data[off : off+int(unshared)]), true
}

func (it *blockIter) seekToFirst() {
	it.seekToRestart(0)
	it.decodeNext()
}

// seek positions the iterator at the first entry >= target.
func (it *blockIter) seek(target keys.EncodedKey) {
	// Find the last restart whose key is < target, then scan forward.
	lo, hi := 0, len(it.blk.restarts)-1
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		k, ok := it.restartKey(mid)
		if !ok {
			it.corrupt("restart key")
			return
		}
		if k.Compare(target) < 0 {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	it.seekToRestart(lo)
	for it.decodeNext() {
		if keys.EncodedKey(it.key).Compare(target) >= 0 {
			return
		}
	}
}
