package mesh

import (
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// DefaultSeenCacheCapacity is the number of message identifiers remembered
const DefaultSeenCacheCapacity = 1024

// SeenCache is a bounded insertion-ordered set of message identifiers.
// Inserting into a full cache evicts the oldest identifier. It is not safe
// for concurrent use; the engine owns it from its own goroutine.
type SeenCache struct {
	capacity int
	lru      *simplelru.LRU[uuid.UUID, struct{}]
}

// NewSeenCache creates a cache holding at most capacity identifiers
func NewSeenCache(capacity int) *SeenCache {
	if capacity <= 0 {
		capacity = DefaultSeenCacheCapacity
	}
	// NewLRU only fails for a non-positive size
	lru, _ := simplelru.NewLRU[uuid.UUID, struct{}](capacity, nil)
	return &SeenCache{capacity: capacity, lru: lru}
}

// Add inserts id and reports whether it was not already present. A known id
// keeps its position, so eviction stays in insertion order.
func (c *SeenCache) Add(id uuid.UUID) bool {
	if c.lru.Contains(id) {
		return false
	}
	c.lru.Add(id, struct{}{})
	return true
}

// Contains reports whether id is remembered
func (c *SeenCache) Contains(id uuid.UUID) bool {
	return c.lru.Contains(id)
}

// Len returns the number of remembered identifiers
func (c *SeenCache) Len() int {
	return c.lru.Len()
}

// Capacity returns the maximum number of remembered identifiers
func (c *SeenCache) Capacity() int {
	return c.capacity
}

// Clear forgets every identifier
func (c *SeenCache) Clear() {
	c.lru.Purge()
}
