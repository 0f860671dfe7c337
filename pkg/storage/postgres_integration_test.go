//go:build integration

package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "qrscheduler",
			"POSTGRES_USER":     "user",
			"POSTGRES_PASSWORD": "password",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://user:password@%s:%s/qrscheduler?sslmode=disable", host, port.Port())
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	store := NewPostgresStore(pool)
	require.NoError(t, store.Migrate(ctx))
	return store
}

func TestPostgresStore_DestinationLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newPostgresStore(t)

	start := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)
	d := &Destination{QRID: "qr1", Type: TypeMicrosite, Label: "Countdown", IsActive: true, StartAt: &start, EndAt: &end, Priority: 2}
	require.NoError(t, store.CreateDestination(ctx, d))

	list, err := store.ListDestinationsByQr(ctx, "qr1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, start, *list[0].StartAt)

	off := false
	updated, err := store.UpdateDestination(ctx, d.ID, DestinationPatch{IsActive: &off}, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	_, err = store.UpdateDestination(ctx, d.ID, DestinationPatch{IsActive: &off}, 1)
	assert.ErrorIs(t, err, ErrVersionConflict)

	require.NoError(t, store.DeleteDestination(ctx, d.ID))
	_, err = store.GetDestination(ctx, d.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_MarkTriggerFired(t *testing.T) {
	ctx := context.Background()
	store := newPostgresStore(t)

	src := &Destination{QRID: "qr1", Type: TypeChallenge, Label: "src", IsActive: true}
	require.NoError(t, store.CreateDestination(ctx, src))
	tr := &Trigger{SourceDestinationID: src.ID, Kind: KindOnCount, Threshold: int64Ptr(5), TargetQRID: "qr2", Action: ActionDeactivate}
	require.NoError(t, store.CreateTrigger(ctx, tr))

	ok, err := store.MarkTriggerFired(ctx, tr.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.MarkTriggerFired(ctx, tr.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.MarkTriggerFired(ctx, "missing", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := store.GetTrigger(ctx, tr.ID)
	require.NoError(t, err)
	require.NotNil(t, got.FiredAt)
	assert.Equal(t, time.UTC, got.FiredAt.Location())
	assert.Equal(t, time.UTC, got.CreatedAt.Location())
}

func TestPostgresStore_WithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	store := newPostgresStore(t)

	d := &Destination{QRID: "qr1", Type: TypeAlbum, Label: "Album", IsActive: true}
	require.NoError(t, store.CreateDestination(ctx, d))

	off := false
	err := store.WithTx(ctx, func(ctx context.Context, tx DestinationStore) error {
		if _, err := tx.UpdateDestination(ctx, d.ID, DestinationPatch{IsActive: &off}, 1); err != nil {
			return err
		}
		return fmt.Errorf("abort")
	})
	require.Error(t, err)

	got, err := store.GetDestination(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
	assert.Equal(t, int64(1), got.Version)
}
