package gc

import (
	"math"

	"github.com/spaolacci/murmur3"
)

// bloomFilter is an in-memory filter over user keys. Probe positions use
// double hashing over the two halves of a 128 bit murmur3 hash.
type bloomFilter struct {
	bits   []uint64
	nbits  uint64
	hashes int
}

func newBloomFilter(n, bitsPerKey int) *bloomFilter {
	if bitsPerKey <= 0 {
		return nil
	}
	nbits := uint64(max(n*bitsPerKey, 64))
	k := int(math.Round(float64(bitsPerKey) * math.Ln2))
	k = min(max(k, 1), 30)
	return &bloomFilter{
		bits:   make([]uint64, (nbits+63)/64),
		nbits:  nbits,
		hashes: k,
	}
}

func (f *bloomFilter) add(key []byte) {
	h1, h2 := murmur3.Sum128(key)
	for i := 0; i < f.hashes; i++ {
		pos := (h1 + uint64(i)*h2) % f.nbits
		f.bits[pos/64] |= 1 << (pos % 64)
	}
}

// mayContain reports false only when key was never added. A nil filter
// contains everything.
func (f *bloomFilter) mayContain(key []byte) bool {
	if f == nil {
		return true
	}
	h1, h2 := murmur3.Sum128(key)
	for i := 0; i < f.hashes; i++ {
		pos := (h1 + uint64(i)*h2) % f.nbits
		if f.bits[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

func (f *bloomFilter) size() int64 {
	if f == nil {
		return 0
	}
	return int64(len(f.bits) * 8)
}
