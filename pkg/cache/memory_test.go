package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"qr-scheduler/pkg/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromDestinations_DropsPinHash(t *testing.T) {
	hash := "$2a$10$abcdefghijklmnopqrstuv"
	url := "https://example.com/a"
	ds := []storage.Destination{
		{ID: "a", QRID: "qr1", TargetURL: &url, PinHash: &hash, IsActive: true},
		{ID: "b", QRID: "qr1"},
	}

	cached := FromDestinations(ds)
	require.Len(t, cached, 2)
	assert.True(t, cached[0].HasPin)
	assert.Nil(t, cached[0].PinHash)
	assert.False(t, cached[1].HasPin)
	assert.NotNil(t, ds[0].PinHash, "input is not modified")

	data, err := json.Marshal(cached[0])
	require.NoError(t, err)
	assert.NotContains(t, string(data), hash)
	assert.Contains(t, string(data), `"has_pin":true`)
	assert.Contains(t, string(data), `"target_url":"https://example.com/a"`)

	assert.Equal(t, "b", Destinations(cached)[1].ID)
}

func TestMemoryCache_Destinations(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	now := time.Date(2026, 7, 6, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_, ok, err := c.GetDestinations(ctx, "qr1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.SetDestinations(ctx, "qr1", 0, []CachedDestination{}, time.Minute))
	got, ok, err := c.GetDestinations(ctx, "qr1")
	require.NoError(t, err)
	assert.True(t, ok, "an empty list is still a hit")
	assert.Empty(t, got)

	require.NoError(t, c.SetDestinations(ctx, "qr1", 0, FromDestinations([]storage.Destination{{ID: "a"}}), time.Minute))
	got, ok, _ = c.GetDestinations(ctx, "qr1")
	require.True(t, ok)
	assert.Equal(t, "a", got[0].ID)

	now = now.Add(time.Minute)
	_, ok, _ = c.GetDestinations(ctx, "qr1")
	assert.False(t, ok, "expired")

	require.NoError(t, c.SetDestinations(ctx, "qr1", 0, nil, time.Minute))
	require.NoError(t, c.Invalidate(ctx, "qr1"))
	_, ok, _ = c.GetDestinations(ctx, "qr1")
	assert.False(t, ok)
}

func TestMemoryCache_StaleGenerationIsDropped(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	gen, err := c.Generation(ctx, "qr1")
	require.NoError(t, err)
	require.NoError(t, c.Invalidate(ctx, "qr1"))

	// Loaded before the invalidation: must not land.
	require.NoError(t, c.SetDestinations(ctx, "qr1", gen, FromDestinations([]storage.Destination{{ID: "old"}}), time.Minute))
	_, ok, err := c.GetDestinations(ctx, "qr1")
	require.NoError(t, err)
	assert.False(t, ok)

	gen, err = c.Generation(ctx, "qr1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)
	require.NoError(t, c.SetDestinations(ctx, "qr1", gen, FromDestinations([]storage.Destination{{ID: "new"}}), time.Minute))
	got, ok, _ := c.GetDestinations(ctx, "qr1")
	require.True(t, ok)
	assert.Equal(t, "new", got[0].ID)

	other, _ := c.Generation(ctx, "qr2")
	assert.Equal(t, int64(0), other, "generations are per QR")
}

func TestMemoryCache_ScanCounter(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	n, err := c.GetScanCount(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	for i := 1; i <= 3; i++ {
		n, err = c.IncrementScan(ctx, "d1")
		require.NoError(t, err)
		assert.Equal(t, int64(i), n)
	}
	n, _ = c.GetScanCount(ctx, "d2")
	assert.Equal(t, int64(0), n)
}
