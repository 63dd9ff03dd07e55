package staticmap

import "sync/atomic"

// memoryUsage is the number of bytes held by every live index in the
// process. Memory pressure logic outside this package reads it through
// MemoryUsage; nothing here gates on it.
var memoryUsage atomic.Int64

// MemoryUsage returns the bytes currently accounted to built, unreleased
// indexes.
func MemoryUsage() int64 {
	return memoryUsage.Load()
}

// memCharge is one index's claim against memoryUsage. It is kept apart
// from the Index so a runtime cleanup can settle it without keeping the
// index reachable.
type memCharge struct {
	n atomic.Int64
}

func newMemCharge(n int64) *memCharge {
	c := &memCharge{}
	c.n.Store(n)
	memoryUsage.Add(n)
	return c
}

// settle gives the claim back. Only the first call returns a non-zero
// amount.
func (c *memCharge) settle() int64 {
	n := c.n.Swap(0)
	if n != 0 {
		memoryUsage.Add(-n)
	}
	return n
}
