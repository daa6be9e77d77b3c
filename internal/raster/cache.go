package raster

import "sync"

// blockKey identifies a decoded block of one open reader.
type blockKey struct {
	owner uint64
	index int
}

// BlockCache is a FIFO cache of decoded store blocks shared between
// readers. Reprojection and zonal passes read overlapping source windows
// from neighbouring destination blocks, so the same stored block is decoded
// many times without it.
type BlockCache struct {
	mu      sync.Mutex
	cache   map[blockKey][]byte
	order   []blockKey
	maxSize int
	owners  uint64
}

// NewBlockCache creates a cache with the given maximum number of entries.
func NewBlockCache(maxEntries int) *BlockCache {
	if maxEntries <= 0 {
		maxEntries = 64
	}
	return &BlockCache{
		cache:   make(map[blockKey][]byte, maxEntries),
		order:   make([]blockKey, 0, maxEntries),
		maxSize: maxEntries,
	}
}

// Register returns a new owner id. Every opened reader registers once, so
// a file rewritten in place is never served blocks decoded from its
// previous contents.
func (bc *BlockCache) Register() uint64 {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.owners++
	return bc.owners
}

// Get retrieves a decoded block. Returns nil if not found.
func (bc *BlockCache) Get(owner uint64, index int) []byte {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.cache[blockKey{owner, index}]
}

// Put stores a decoded block, evicting the oldest entry if full.
func (bc *BlockCache) Put(owner uint64, index int, data []byte) {
	key := blockKey{owner, index}
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if _, ok := bc.cache[key]; ok {
		return
	}
	for len(bc.cache) >= bc.maxSize && len(bc.order) > 0 {
		oldest := bc.order[0]
		bc.order = bc.order[1:]
		delete(bc.cache, oldest)
	}
	bc.cache[key] = data
	bc.order = append(bc.order, key)
}

// Len returns the number of cached blocks.
func (bc *BlockCache) Len() int {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return len(bc.cache)
}

// Evict drops every block of owner.
func (bc *BlockCache) Evict(owner uint64) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	kept := bc.order[:0]
	for _, k := range bc.order {
		if k.owner == owner {
			delete(bc.cache, k)
			continue
		}
		kept = append(kept, k)
	}
	bc.order = kept
}
