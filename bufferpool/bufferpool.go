// Package bufferpool hands out reusable byte slices for block reads.
package bufferpool

import (
	"sync"
)

// classSizes are the capacities pooled buffers are allocated with, in
// ascending order. Requests above the largest class are allocated
// directly and never pooled.
var classSizes = [...]int{4 * 1024, 32 * 1024, 256 * 1024}

// BufferPool provides reusable byte slices to reduce allocations. Each
// size class has its own pool so a small read never pins a large
// buffer.
type BufferPool struct {
	classes [len(classSizes)]sync.Pool
}

// NewBufferPool creates a new buffer pool with predefined size classes.
func NewBufferPool() *BufferPool {
	p := &BufferPool{}
	for i, size := range classSizes {
		p.classes[i].New = func() any {
			return make([]byte, 0, size)
		}
	}
	return p
}

func classFor(size int) int {
	for i, c := range classSizes {
		if size <= c {
			return i
		}
	}
	return -1
}

// Get returns a byte slice of length size. Its contents are undefined.
func (p *BufferPool) Get(size int) []byte {
	i := classFor(size)
	if i < 0 {
		return make([]byte, size)
	}
	buf := p.classes[i].Get().([]byte)
	if cap(buf) < size {
		return make([]byte, size)
	}
	return buf[:size]
}

// Put returns a byte slice to the pool matching its capacity. Slices
// whose capacity is not exactly a class size are left for the GC.
func (p *BufferPool) Put(buf []byte) {
	for i, c := range classSizes {
		if cap(buf) == c {
			p.classes[i].Put(buf[:0])
			return
		}
	}
}

var globalBufferPool = NewBufferPool()

// GetBuffer returns a byte slice from the global pool.
func GetBuffer(size int) []byte {
	return globalBufferPool.Get(size)
}

// PutBuffer returns a byte slice to the global pool.
func PutBuffer(buf []byte) {
	globalBufferPool.Put(buf)
}
