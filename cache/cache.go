// Package cache implements the content-addressed tile cache described in
// §4.4: a byte-budgeted, approximately-LRU store keyed by (level, col,
// row, plane), with reference-counted pinning so a tile in active use is
// never evicted, and single-flight decode so concurrent misses on the
// same key share one decode.
package cache

import (
	"container/list"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Key identifies a decoded tile. It intentionally carries no back-pointer
// to the owning Slide: a Cache is scoped to a single Slide for its entire
// lifetime, so the key need only distinguish tiles within it.
type Key struct {
	Level, Col, Row, Plane int
}

// Tile is the payload a Cache stores: decoded RGBA pixels plus the byte
// count charged against the cache's budget (normally len(Pixels), but
// callers may charge a different figure for padded buffers).
type Tile struct {
	Pixels []byte
	Bytes  int
}

type entry struct {
	key     Key
	tile    *Tile
	refs    int32
	element *list.Element // position in the LRU list
}

// Pinned is a caller's handle on a cached tile. The caller must call
// Release exactly once on every exit path; double-release is undefined,
// matching §4.4.
type Pinned struct {
	Tile *Tile
	c    *Cache
	e    *entry
}

// Release decrements the pin count, making the tile eligible for
// eviction again once no other caller holds it pinned.
func (p *Pinned) Release() {
	if p == nil || p.e == nil {
		return
	}
	atomic.AddInt32(&p.e.refs, -1)
}

// Cache is safe for concurrent use. Fine-grained locking follows §5: a
// single mutex protects the LRU list and lookup map (bucket-level locking
// is not worth the complexity at the tile counts this format produces),
// while refcounts are atomic so Release never has to take the lock.
type Cache struct {
	mu        sync.Mutex
	byKey     map[Key]*entry
	lru       *list.List // front = most recently used
	budget    int64
	used      int64
	flight    singleflight.Group
	evictions int64
}

// New creates a Cache with the given soft byte budget.
func New(budgetBytes int64) *Cache {
	return &Cache{
		byKey:  make(map[Key]*entry),
		lru:    list.New(),
		budget: budgetBytes,
	}
}

// Get looks up key, pinning and returning the entry on a hit.
func (c *Cache) Get(key Key) (*Pinned, bool) {
	c.mu.Lock()
	e, ok := c.byKey[key]
	if !ok {
		c.mu.Unlock()
		return nil, false
	}
	atomic.AddInt32(&e.refs, 1)
	c.lru.MoveToFront(e.element)
	c.mu.Unlock()
	return &Pinned{Tile: e.tile, c: c, e: e}, true
}

// GetOrLoad is the single-flight-guarded read path described in §4.4: a
// hit returns immediately; a miss enters single-flight for key so that at
// most one load call runs concurrently for it, with every other caller
// for the same key observing the winner's result (or its error) instead
// of independently redoing the work.
func (c *Cache) GetOrLoad(key Key, load func() (*Tile, error)) (*Pinned, error) {
	if p, ok := c.Get(key); ok {
		return p, nil
	}

	type result struct {
		tile *Tile
	}
	v, err, _ := c.flight.Do(flightKey(key), func() (interface{}, error) {
		// Re-check: another goroutine may have inserted while we queued
		// for the singleflight slot.
		if p, ok := c.Get(key); ok {
			return result{tile: p.Tile}, nil
		}
		tile, err := load()
		if err != nil {
			return nil, err
		}
		c.insert(key, tile)
		return result{tile: tile}, nil
	})
	if err != nil {
		return nil, err
	}

	// Every waiter (including the winner) pins its own handle so refcounts
	// reflect actual outstanding holders rather than one shared pin.
	p, ok := c.Get(key)
	if !ok {
		// Evicted between insert and this lookup under extreme pressure;
		// the tile the winner decoded is still valid, hand it back unpinned-safe
		// by re-inserting it.
		res := v.(result)
		c.insert(key, res.tile)
		p, ok = c.Get(key)
		if !ok {
			return nil, nil
		}
	}
	return p, nil
}

func (c *Cache) insert(key Key, tile *Tile) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.byKey[key]; ok {
		existing.tile = tile
		c.lru.MoveToFront(existing.element)
		return
	}

	e := &entry{key: key, tile: tile}
	e.element = c.lru.PushFront(e)
	c.byKey[key] = e
	c.used += int64(tile.Bytes)

	c.evictLocked(e)
}

// evictLocked walks the list from the back, reclaiming unpinned entries
// other than keep (the entry just admitted) until the cache is within
// budget. If every remaining entry is pinned, admission proceeds anyway:
// §4.4 specifies a soft budget, not a hard cap.
func (c *Cache) evictLocked(keep *entry) {
	if c.budget <= 0 {
		return
	}
	el := c.lru.Back()
	for c.used > c.budget && el != nil {
		prev := el.Prev()
		e := el.Value.(*entry)
		if e != keep && atomic.LoadInt32(&e.refs) == 0 {
			c.lru.Remove(el)
			delete(c.byKey, e.key)
			c.used -= int64(e.tile.Bytes)
			c.evictions++
		}
		el = prev
	}
}

// Stats reports current occupancy, useful for diagnostics and tests.
type Stats struct {
	Entries   int
	UsedBytes int64
	Evictions int64
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Entries: len(c.byKey), UsedBytes: c.used, Evictions: c.evictions}
}

func flightKey(k Key) string {
	return fmt.Sprintf("%d,%d,%d,%d", k.Level, k.Col, k.Row, k.Plane)
}
