package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/forecast-blend-service/internal/observability"
)

// Store is a TTL cache tier. Get returns (value, true, nil) on a live hit and
// (zero, false, nil) on a miss or expired entry; an error means the backend failed.
// Lookup behaves like Get but leaves the hit and miss counters alone.
type Store[V any] interface {
	Get(ctx context.Context, key string) (V, bool, error)
	Lookup(ctx context.Context, key string) (V, bool, error)
	Put(ctx context.Context, key string, value V) error
	Clear(ctx context.Context) error
	Stats() Stats
}

// Stats reports a store's entry count and lookup counters. Entries is -1 when the
// backend cannot count its keys.
type Stats struct {
	Entries int    `json:"entries"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
}

// Entry is one stored value. It is live while now - StoredAtUTC < ttl.
type Entry[V any] struct {
	Key         string
	Value       V
	StoredAtUTC time.Time
}

// InMemoryCache implements Store with a map plus an insertion-order list.
// Expired entries are removed on access. When a Put would exceed maxEntries,
// the single oldest-inserted entry is evicted. Safe for concurrent use.
type InMemoryCache[V any] struct {
	name       string
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu     sync.Mutex
	data   map[string]*list.Element
	order  *list.List
	hits   uint64
	misses uint64
}

// NewInMemoryCache creates an in-memory store. name labels metrics ("raw", "blend").
// maxEntries <= 0 disables the capacity bound.
func NewInMemoryCache[V any](name string, ttl time.Duration, maxEntries int) *InMemoryCache[V] {
	return &InMemoryCache[V]{
		name:       name,
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		data:       make(map[string]*list.Element),
		order:      list.New(),
	}
}

// Get returns the live entry for key. Expired entries are deleted.
func (c *InMemoryCache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.lookupLocked(key)
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	observability.RecordCacheLookup(c.name, ok)
	return v, ok, nil
}

// Lookup implements Store.Lookup.
func (c *InMemoryCache[V]) Lookup(ctx context.Context, key string) (V, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.lookupLocked(key)
	return v, ok, nil
}

func (c *InMemoryCache[V]) lookupLocked(key string) (V, bool) {
	var zero V
	el, ok := c.data[key]
	if !ok {
		return zero, false
	}
	entry := el.Value.(*Entry[V])
	if !c.liveLocked(entry) {
		c.removeLocked(el)
		return zero, false
	}
	return entry.Value, true
}

// Put stores value under key. Re-putting a key counts as a fresh insertion.
func (c *InMemoryCache[V]) Put(ctx context.Context, key string, value V) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.data[key]; ok {
		c.removeLocked(el)
	}
	if c.maxEntries > 0 && len(c.data) >= c.maxEntries {
		if oldest := c.order.Front(); oldest != nil {
			c.removeLocked(oldest)
			observability.CacheEvictionsTotal.WithLabelValues(c.name).Inc()
		}
	}
	entry := &Entry[V]{Key: key, Value: value, StoredAtUTC: c.now().UTC()}
	c.data[key] = c.order.PushBack(entry)
	observability.CacheEntries.WithLabelValues(c.name).Set(float64(len(c.data)))
	return nil
}

// Clear removes all entries. Counters are kept.
func (c *InMemoryCache[V]) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]*list.Element)
	c.order.Init()
	observability.CacheEntries.WithLabelValues(c.name).Set(0)
	return nil
}

// Stats counts only live entries.
func (c *InMemoryCache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	live := 0
	for el := c.order.Front(); el != nil; el = el.Next() {
		if c.liveLocked(el.Value.(*Entry[V])) {
			live++
		}
	}
	return Stats{Entries: live, Hits: c.hits, Misses: c.misses}
}

func (c *InMemoryCache[V]) liveLocked(e *Entry[V]) bool {
	return c.now().Sub(e.StoredAtUTC) < c.ttl
}

func (c *InMemoryCache[V]) removeLocked(el *list.Element) {
	entry := c.order.Remove(el).(*Entry[V])
	delete(c.data, entry.Key)
	observability.CacheEntries.WithLabelValues(c.name).Set(float64(len(c.data)))
}
