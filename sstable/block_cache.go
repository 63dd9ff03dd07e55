package sstable

import (
	"container/list"
	"encoding/binary"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/spaolacci/murmur3"
)

// BlockCache is a sharded LRU cache of decompressed blocks. Building a
// static map index reads a table three times in a row, so even a small
// cache turns the later passes into memory reads.
type BlockCache struct {
	shards []*blockCacheShard
	hits   atomic.Int64
	misses atomic.Int64
}

type blockCacheShard struct {
	mu       sync.Mutex
	capacity int64
	size     int64
	cache    map[uint64]*list.Element
	lru      *list.List
}

type cacheEntry struct {
	key   uint64
	value []byte
}

// NewBlockCache creates a cache holding up to capacity bytes. A
// non-positive capacity gives a disabled cache that stores nothing.
func NewBlockCache(capacity int64) *BlockCache {
	if capacity <= 0 {
		return &BlockCache{}
	}
	numShards := max(4, 4*runtime.GOMAXPROCS(0))
	shardCapacity := max(1, capacity/int64(numShards))

	bc := &BlockCache{shards: make([]*blockCacheShard, numShards)}
	for i := range bc.shards {
		bc.shards[i] = &blockCacheShard{
			capacity: shardCapacity,
			cache:    make(map[uint64]*list.Element),
			lru:      list.New(),
		}
	}
	return bc
}

// CacheKey derives the cache key of the block at offset in file fileNum.
func CacheKey(fileNum, offset uint64) uint64 {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[:8], fileNum)
	binary.LittleEndian.PutUint64(b[8:], offset)
	return murmur3.Sum64(b[:])
}

func (bc *BlockCache) shard(key uint64) *blockCacheShard {
	if bc == nil || len(bc.shards) == 0 {
		return nil
	}
	return bc.shards[key%uint64(len(bc.shards))]
}

// Get returns a cached block.
func (bc *BlockCache) Get(key uint64) ([]byte, bool) {
	s := bc.shard(key)
	if s == nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.cache[key]; ok {
		s.lru.MoveToFront(e)
		bc.hits.Add(1)
		return e.Value.(*cacheEntry).value, true
	}
	bc.misses.Add(1)
	return nil, false
}

// Put caches a block. Blocks larger than a shard are not cached. The
// cache keeps value, so callers must not modify it afterwards.
func (bc *BlockCache) Put(key uint64, value []byte) {
	s := bc.shard(key)
	if s == nil {
		return
	}
	itemSize := int64(len(value))

	s.mu.Lock()
	defer s.mu.Unlock()
	if itemSize > s.capacity {
		return
	}
	if e, ok := s.cache[key]; ok {
		entry := e.Value.(*cacheEntry)
		s.size += itemSize - int64(len(entry.value))
		entry.value = value
		s.lru.MoveToFront(e)
	} else {
		s.cache[key] = s.lru.PushFront(&cacheEntry{key: key, value: value})
		s.size += itemSize
	}
	for s.size > s.capacity && s.lru.Len() > 0 {
		s.evictLRU()
	}
}

// Size returns the bytes currently cached.
func (bc *BlockCache) Size() int64 {
	if bc == nil {
		return 0
	}
	var total int64
	for _, s := range bc.shards {
		s.mu.Lock()
		total += s.size
		s.mu.Unlock()
	}
	return total
}

// Stats returns the hit and miss counts.
func (bc *BlockCache) Stats() (hits, misses int64) {
	if bc == nil {
		return 0, 0
	}
	return bc.hits.Load(), bc.misses.Load()
}

// evictLRU removes the least recently used entry. Must be called with
// s.mu held.
func (s *blockCacheShard) evictLRU() {
	e := s.lru.Back()
	if e == nil {
		return
	}
	entry := s.lru.Remove(e).(*cacheEntry)
	delete(s.cache, entry.key)
	s.size -= int64(len(entry.value))
}
