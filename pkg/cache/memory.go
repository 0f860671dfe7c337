package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryCache is an in-process DestinationCacheInterface for tests and
// single-instance runs without Redis.
type MemoryCache struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]memoryEntry
	gens    map[string]int64
	scans   map[string]int64
}

type memoryEntry struct {
	destinations []CachedDestination
	expires      time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		now:     time.Now,
		entries: make(map[string]memoryEntry),
		gens:    make(map[string]int64),
		scans:   make(map[string]int64),
	}
}

func (c *MemoryCache) GetDestinations(_ context.Context, qrID string) ([]CachedDestination, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[qrID]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		delete(c.entries, qrID)
		return nil, false, nil
	}
	out := make([]CachedDestination, len(e.destinations))
	copy(out, e.destinations)
	return out, true, nil
}

func (c *MemoryCache) Generation(_ context.Context, qrID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[qrID], nil
}

func (c *MemoryCache) SetDestinations(_ context.Context, qrID string, generation int64, destinations []CachedDestination, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[qrID] != generation {
		return nil
	}
	e := memoryEntry{destinations: make([]CachedDestination, len(destinations))}
	copy(e.destinations, destinations)
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.entries[qrID] = e
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, qrID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, qrID)
	c.gens[qrID]++
	return nil
}

func (c *MemoryCache) IncrementScan(_ context.Context, destinationID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scans[destinationID]++
	return c.scans[destinationID], nil
}

func (c *MemoryCache) GetScanCount(_ context.Context, destinationID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scans[destinationID], nil
}
