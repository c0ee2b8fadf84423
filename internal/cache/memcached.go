package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/forecast-blend-service/internal/observability"
)

const keyPrefix = "forecast:"

// MemcachedCache implements Store on memcached so several service instances share one
// raw tier. Values are JSON encoded. memcached cannot count one tier's keys, so
// Stats reports Entries as -1.
type MemcachedCache[V any] struct {
	client *memcache.Client
	name   string
	ttl    time.Duration
	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero.
func NewMemcachedCache[V any](name, addrs string, ttl, timeout time.Duration, maxIdleConns int) *MemcachedCache[V] {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache[V]{client: client, name: name, ttl: ttl}
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

func (c *MemcachedCache[V]) key(k string) string {
	return keyPrefix + c.name + ":" + k
}

// Get implements Store.Get.
func (c *MemcachedCache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	v, ok, err := c.Lookup(ctx, key)
	if err != nil {
		return v, false, err
	}
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	observability.RecordCacheLookup(c.name, ok)
	return v, ok, nil
}

// Lookup implements Store.Lookup.
func (c *MemcachedCache[V]) Lookup(ctx context.Context, key string) (V, bool, error) {
	var zero V
	if ctx.Err() != nil {
		return zero, false, ctx.Err()
	}
	item, err := c.client.Get(c.key(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return zero, false, nil
		}
		return zero, false, err
	}
	var v V
	if err := json.Unmarshal(item.Value, &v); err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// Put implements Store.Put.
func (c *MemcachedCache[V]) Put(ctx context.Context, key string, value V) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(&memcache.Item{
		Key:        c.key(key),
		Value:      raw,
		Expiration: expirationSeconds(c.ttl),
	})
}

// Clear flushes the memcached servers. This drops every key on them, not only this tier's.
func (c *MemcachedCache[V]) Clear(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return c.client.FlushAll()
}

// Stats implements Store.Stats.
func (c *MemcachedCache[V]) Stats() Stats {
	return Stats{Entries: -1, Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedCache[V]) Ping() error {
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedCache[V]) Close() error {
	return c.client.Close()
}

func expirationSeconds(ttl time.Duration) int32 {
	const maxRelativeExp = 30 * 24 * 60 * 60 // 30 days; larger values are read as unix time
	sec := int32(ttl.Seconds())
	if sec <= 0 || sec > maxRelativeExp {
		return 3600
	}
	return sec
}
