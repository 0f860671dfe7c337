//go:build integration

package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"qr-scheduler/pkg/storage"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newRedisCache(t *testing.T) *DestinationCache {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return NewDestinationCache(client)
}

func TestDestinationCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newRedisCache(t)

	_, ok, err := c.GetDestinations(ctx, "qr1")
	require.NoError(t, err)
	assert.False(t, ok)

	start := time.Date(2026, 7, 6, 9, 0, 0, 0, time.UTC)
	hash := "secret-hash"
	ds := []storage.Destination{{ID: "a", QRID: "qr1", Label: "A", IsActive: true, StartAt: &start, Priority: 2, PinHash: &hash}}
	require.NoError(t, c.SetDestinations(ctx, "qr1", 0, FromDestinations(ds), time.Minute))

	got, ok, err := c.GetDestinations(ctx, "qr1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.True(t, got[0].HasPin)
	assert.Nil(t, got[0].PinHash)
	assert.True(t, got[0].StartAt.Equal(start))
	assert.Equal(t, 2, got[0].Priority)

	require.NoError(t, c.Invalidate(ctx, "qr1"))
	_, ok, err = c.GetDestinations(ctx, "qr1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDestinationCache_StaleGenerationIsDropped(t *testing.T) {
	ctx := context.Background()
	c := newRedisCache(t)

	gen, err := c.Generation(ctx, "qr1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), gen)
	require.NoError(t, c.Invalidate(ctx, "qr1"))

	stale := FromDestinations([]storage.Destination{{ID: "old", QRID: "qr1"}})
	require.NoError(t, c.SetDestinations(ctx, "qr1", gen, stale, time.Minute))
	_, ok, err := c.GetDestinations(ctx, "qr1")
	require.NoError(t, err)
	assert.False(t, ok)

	gen, err = c.Generation(ctx, "qr1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)
	fresh := FromDestinations([]storage.Destination{{ID: "new", QRID: "qr1"}})
	require.NoError(t, c.SetDestinations(ctx, "qr1", gen, fresh, time.Minute))
	got, ok, err := c.GetDestinations(ctx, "qr1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new", got[0].ID)
}

func TestDestinationCache_ScanCounter(t *testing.T) {
	ctx := context.Background()
	c := newRedisCache(t)

	n, err := c.GetScanCount(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = c.IncrementScan(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = c.IncrementScan(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = c.GetScanCount(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
