package track

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of track identities kept.
const DefaultCacheSize = 50

// EvictFunc is called with every state dropped to make room.
type EvictFunc func(key string, st *State)

// Cache maps identity keys to track state. Entries are evicted least
// recently touched first: a track that is still being played, or was
// looked up recently, keeps its one-shot flags.
//
// The sentinel state for the empty key lives outside the bounded set and
// is never evicted. Cache does not synchronize access to the states it
// returns; callers serialize that themselves.
type Cache struct {
	entries  *lru.Cache[string, *State]
	sentinel *State
}

// NewCache creates a cache holding at most size entries. onEvict may be nil.
func NewCache(size int, onEvict EvictFunc) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}

	var (
		entries *lru.Cache[string, *State]
		err     error
	)
	if onEvict != nil {
		entries, err = lru.NewWithEvict(size, func(key string, st *State) {
			onEvict(key, st)
		})
	} else {
		entries, err = lru.New[string, *State](size)
	}
	if err != nil {
		return nil, fmt.Errorf("create track cache: %w", err)
	}

	return &Cache{
		entries:  entries,
		sentinel: NewState("", "", "", ""),
	}, nil
}

// Sentinel returns the non-music state used before any track is seen.
func (c *Cache) Sentinel() *State {
	return c.sentinel
}

// Get returns the state for key and marks it as recently used.
func (c *Cache) Get(key string) (*State, bool) {
	if key == "" {
		return c.sentinel, true
	}
	return c.entries.Get(key)
}

// Peek returns the state for key without touching its recency.
func (c *Cache) Peek(key string) (*State, bool) {
	if key == "" {
		return c.sentinel, true
	}
	return c.entries.Peek(key)
}

// LookupOrCreate returns the state for key, creating it with create on a
// miss. created reports whether a new state was inserted. Inserting may
// evict the least recently used entry.
func (c *Cache) LookupOrCreate(key string, create func() *State) (st *State, created bool) {
	if key == "" {
		return c.sentinel, false
	}
	if st, ok := c.entries.Get(key); ok {
		return st, false
	}
	st = create()
	c.entries.Add(key, st)
	return st, true
}

// Len returns the number of cached identities, not counting the sentinel.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Keys returns the cached keys from least to most recently used.
func (c *Cache) Keys() []string {
	return c.entries.Keys()
}
