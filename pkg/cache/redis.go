package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"qr-scheduler/pkg/storage"

	"github.com/redis/go-redis/v9"
)

// DestinationCacheInterface caches each QR's destination list and keeps the
// per-destination scan counters.
type DestinationCacheInterface interface {
	// GetDestinations returns ok=false on a miss. A cached empty list is a hit.
	GetDestinations(ctx context.Context, qrID string) ([]CachedDestination, bool, error)
	// Generation is bumped by every Invalidate. Read it before loading the
	// list from the store and hand it to SetDestinations.
	Generation(ctx context.Context, qrID string) (int64, error)
	// SetDestinations writes only while the QR is still at generation, so a
	// list loaded before an invalidation is dropped instead of cached.
	SetDestinations(ctx context.Context, qrID string, generation int64, destinations []CachedDestination, ttl time.Duration) error
	Invalidate(ctx context.Context, qrID string) error
	IncrementScan(ctx context.Context, destinationID string) (int64, error)
	GetScanCount(ctx context.Context, destinationID string) (int64, error)
}

// CachedDestination is a destination as stored in the cache. The PIN hash is
// never cached; only whether one is set.
type CachedDestination struct {
	storage.Destination
	HasPin bool `json:"has_pin"`
}

type cachedQR struct {
	Destinations []CachedDestination `json:"destinations"`
	CachedAt     time.Time           `json:"cached_at"`
}

// FromDestinations strips PIN hashes for caching.
func FromDestinations(ds []storage.Destination) []CachedDestination {
	out := make([]CachedDestination, len(ds))
	for i, d := range ds {
		hasPin := d.HasPin()
		d.PinHash = nil
		out[i] = CachedDestination{Destination: d, HasPin: hasPin}
	}
	return out
}

// Destinations unwraps a cached list.
func Destinations(cds []CachedDestination) []storage.Destination {
	out := make([]storage.Destination, len(cds))
	for i, cd := range cds {
		out[i] = cd.Destination
	}
	return out
}

type DestinationCache struct {
	client *redis.Client
}

func NewDestinationCache(client *redis.Client) *DestinationCache {
	return &DestinationCache{client: client}
}

func qrKey(qrID string) string { return "qr:" + qrID }

func genKey(qrID string) string { return "qrgen:" + qrID }

func scansKey(destinationID string) string { return "scans:" + destinationID }

func (c *DestinationCache) GetDestinations(ctx context.Context, qrID string) ([]CachedDestination, bool, error) {
	val, err := c.client.Get(ctx, qrKey(qrID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var cached cachedQR
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		return nil, false, err
	}
	return cached.Destinations, true, nil
}

func (c *DestinationCache) Generation(ctx context.Context, qrID string) (int64, error) {
	n, err := c.client.Get(ctx, genKey(qrID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (c *DestinationCache) SetDestinations(ctx context.Context, qrID string, generation int64, destinations []CachedDestination, ttl time.Duration) error {
	data, err := json.Marshal(cachedQR{Destinations: destinations, CachedAt: time.Now().UTC()})
	if err != nil {
		return err
	}

	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey(qrID)).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != generation {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, qrKey(qrID), data, ttl)
			return nil
		})
		return err
	}, genKey(qrID))
	if errors.Is(err, redis.TxFailedErr) {
		// Invalidated while we were writing.
		return nil
	}
	return err
}

func (c *DestinationCache) Invalidate(ctx context.Context, qrID string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, qrKey(qrID))
		pipe.Incr(ctx, genKey(qrID))
		return nil
	})
	return err
}

func (c *DestinationCache) IncrementScan(ctx context.Context, destinationID string) (int64, error) {
	return c.client.Incr(ctx, scansKey(destinationID)).Result()
}

func (c *DestinationCache) GetScanCount(ctx context.Context, destinationID string) (int64, error) {
	n, err := c.client.Get(ctx, scansKey(destinationID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}
