package likes

import (
	"context"
	"sync"
)

// MemoryCache is a development and test cache client. One mutex serializes
// every read-modify-write, standing in for Redis command atomicity.
type MemoryCache struct {
	mu       sync.Mutex
	sets     map[string]map[string]struct{}
	counters map[string]int

	// FailWrites makes every mutating call fail; tests use it to exercise
	// the best-effort cache-write path.
	FailWrites bool
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		sets:     make(map[string]map[string]struct{}),
		counters: make(map[string]int),
	}
}

type errCacheDown struct{}

func (errCacheDown) Error() string { return "cache unavailable" }

func (c *MemoryCache) SIsMember(_ context.Context, key, member string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sets[key][member]
	return ok, nil
}

func (c *MemoryCache) SAdd(_ context.Context, key string, members ...string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailWrites {
		return 0, errCacheDown{}
	}
	set := c.sets[key]
	if set == nil {
		set = make(map[string]struct{})
		c.sets[key] = set
	}
	var added int64
	for _, m := range members {
		if _, ok := set[m]; !ok {
			set[m] = struct{}{}
			added++
		}
	}
	return added, nil
}

func (c *MemoryCache) SRem(_ context.Context, key, member string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailWrites {
		return 0, errCacheDown{}
	}
	if _, ok := c.sets[key][member]; !ok {
		return 0, nil
	}
	delete(c.sets[key], member)
	return 1, nil
}

func (c *MemoryCache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sets[key]; ok {
		return true, nil
	}
	_, ok := c.counters[key]
	return ok, nil
}

func (c *MemoryCache) Incr(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailWrites {
		return errCacheDown{}
	}
	c.counters[key]++
	return nil
}

func (c *MemoryCache) Decr(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailWrites {
		return errCacheDown{}
	}
	c.counters[key]--
	return nil
}

func (c *MemoryCache) GetInt(_ context.Context, key string) (int, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.counters[key]
	return n, ok, nil
}

func (c *MemoryCache) SetInt(_ context.Context, key string, value int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailWrites {
		return errCacheDown{}
	}
	c.counters[key] = value
	return nil
}

func (c *MemoryCache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.sets, k)
		delete(c.counters, k)
	}
	return nil
}
