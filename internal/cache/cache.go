package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/af-corp/refinery/internal/types"
)

// Stats reports cache performance counters.
type Stats struct {
	Entries     int     `json:"entries"`
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	ApproxBytes int64   `json:"approx_bytes"`
}

type entry struct {
	key       string
	value     *types.RefineResult
	createdAt time.Time
	ttl       time.Duration
	origin    string
	hitCount  int
	size      int64
}

// Cache is a content-addressed LRU memo of successful refinement results.
// The eviction order list keeps the least recently used entry at the front;
// every hit moves the entry to the back.
type Cache struct {
	mu         sync.Mutex
	capacity   int
	defaultTTL time.Duration

	order *list.List
	items map[string]*list.Element

	hits   uint64
	misses uint64
	bytes  int64

	now func() time.Time
}

func New(capacity int, defaultTTL time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{
		capacity:   capacity,
		defaultTTL: defaultTTL,
		order:      list.New(),
		items:      make(map[string]*list.Element),
		now:        time.Now,
	}
}

// Get looks up the result for a request. An entry past its TTL is purged and
// counted as a miss. A hit bumps the entry's hit count and recency.
func (c *Cache) Get(req *types.RefineRequest) (*types.RefineResult, bool) {
	key := Key(req)

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	e := el.Value.(*entry)
	if c.expired(e) {
		c.removeLocked(el)
		c.misses++
		return nil, false
	}

	c.hits++
	e.hitCount++
	c.order.MoveToBack(el)
	return e.value, true
}

// Set stores a result for a request. A zero ttl uses the configured default.
// When the cache is at capacity and the key is new, the least recently used
// entry is evicted first.
func (c *Cache) Set(req *types.RefineRequest, value *types.RefineResult, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	key := Key(req)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		old := el.Value.(*entry)
		c.bytes -= old.size
		e := &entry{
			key:       key,
			value:     value,
			createdAt: c.now(),
			ttl:       ttl,
			origin:    value.Backend,
			size:      approxSize(req, value),
		}
		c.bytes += e.size
		el.Value = e
		c.order.MoveToBack(el)
		return
	}

	if c.order.Len() >= c.capacity {
		if front := c.order.Front(); front != nil {
			c.removeLocked(front)
		}
	}

	e := &entry{
		key:       key,
		value:     value,
		createdAt: c.now(),
		ttl:       ttl,
		origin:    value.Backend,
		size:      approxSize(req, value),
	}
	c.bytes += e.size
	c.items[key] = c.order.PushBack(e)
}

// Invalidate removes the entry for a request. Returns true if one existed.
func (c *Cache) Invalidate(req *types.RefineRequest) bool {
	key := Key(req)

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeLocked(el)
	return true
}

// Clear drops every entry. Hit and miss counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[string]*list.Element)
	c.bytes = 0
}

// Prune removes expired entries and returns how many were dropped. The lock is
// released while expiry is evaluated over a snapshot, then reacquired to delete
// the entries that are still expired.
func (c *Cache) Prune() int {
	type candidate struct {
		key       string
		createdAt time.Time
		ttl       time.Duration
	}

	c.mu.Lock()
	snapshot := make([]candidate, 0, len(c.items))
	for key, el := range c.items {
		e := el.Value.(*entry)
		snapshot = append(snapshot, candidate{key: key, createdAt: e.createdAt, ttl: e.ttl})
	}
	c.mu.Unlock()

	now := c.now()
	var stale []string
	for _, s := range snapshot {
		if !s.createdAt.Add(s.ttl).After(now) {
			stale = append(stale, s.key)
		}
	}
	if len(stale) == 0 {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for _, key := range stale {
		el, ok := c.items[key]
		if !ok {
			continue
		}
		// Recheck: the entry may have been refreshed since the snapshot
		if c.expired(el.Value.(*entry)) {
			c.removeLocked(el)
			removed++
		}
	}
	return removed
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Entries:     c.order.Len(),
		Hits:        c.hits,
		Misses:      c.misses,
		ApproxBytes: c.bytes,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

func (c *Cache) expired(e *entry) bool {
	return !e.createdAt.Add(e.ttl).After(c.now())
}

func (c *Cache) removeLocked(el *list.Element) {
	e := el.Value.(*entry)
	c.order.Remove(el)
	delete(c.items, e.key)
	c.bytes -= e.size
}

// approxSize estimates the resident footprint of one entry.
func approxSize(req *types.RefineRequest, value *types.RefineResult) int64 {
	size := int64(len(req.Schema)) + int64(len(value.Schema))
	for _, s := range req.Samples {
		size += int64(len(s))
	}
	for _, imp := range value.Improvements {
		size += int64(len(imp.Path) + len(imp.Kind) + len(imp.Description))
	}
	for _, s := range value.Suggestions {
		size += int64(len(s))
	}
	return size + 128 // bookkeeping overhead per entry
}
