//go:build integration

package pgstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"eve.evalgo.org/entityrt/store"
)

func setupPostgresContainer(t *testing.T) (*pgxpool.Pool, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start PostgreSQL container")

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, Schema)
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}
	return pool, cleanup
}

func TestStore_Integration_CommitAndGetEvents(t *testing.T) {
	pool, cleanup := setupPostgresContainer(t)
	defer cleanup()

	s := New(pool, "", nil)
	ctx := context.Background()

	require.NoError(t, s.CommitEvent(ctx, "e1", 1, []byte("a")))
	require.NoError(t, s.CommitEvent(ctx, "e1", 2, []byte("b")))

	events, err := s.GetEvents(ctx, "e1", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, []byte("a"), events[0].Data)
	assert.Equal(t, []byte("b"), events[1].Data)
}

func TestStore_Integration_RejectsVersionConflict(t *testing.T) {
	pool, cleanup := setupPostgresContainer(t)
	defer cleanup()

	s := New(pool, "", nil)
	ctx := context.Background()

	require.NoError(t, s.CommitEvent(ctx, "e1", 1, []byte("a")))
	err := s.CommitEvent(ctx, "e1", 1, []byte("dup"))
	assert.True(t, errors.Is(err, store.ErrVersionConflict))
}

func TestStore_Integration_SnapshotUpsert(t *testing.T) {
	pool, cleanup := setupPostgresContainer(t)
	defer cleanup()

	s := New(pool, "", nil)
	ctx := context.Background()

	require.NoError(t, s.CommitSnapshot(ctx, "e1", 5, []byte("v5")))
	require.NoError(t, s.CommitSnapshot(ctx, "e1", 9, []byte("v9")))

	snap, ok, err := s.GetLatestSnapshot(ctx, "e1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 9, snap.Version)
	assert.Equal(t, []byte("v9"), snap.Data)
}

func TestStore_Integration_SubscribeEvents_WakesOnNotify(t *testing.T) {
	pool, cleanup := setupPostgresContainer(t)
	defer cleanup()

	s := New(pool, "entityrt_events_channel", nil)
	ctx := context.Background()

	woke := make(chan struct{}, 1)
	unsubscribe, err := s.SubscribeEvents(ctx, "e1", func() {
		select {
		case woke <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	defer unsubscribe()

	time.Sleep(200 * time.Millisecond) // let LISTEN establish
	require.NoError(t, s.CommitEvent(ctx, "e1", 1, []byte("a")))

	select {
	case <-woke:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for subscription wake")
	}
}

func TestStore_Integration_ClearEntity(t *testing.T) {
	pool, cleanup := setupPostgresContainer(t)
	defer cleanup()

	s := New(pool, "", nil)
	ctx := context.Background()

	require.NoError(t, s.CommitEvent(ctx, "e1", 1, []byte("a")))
	require.NoError(t, s.CommitSnapshot(ctx, "e1", 1, []byte("snap")))
	require.NoError(t, s.ClearEntity(ctx, "e1"))

	events, err := s.GetEvents(ctx, "e1", 0)
	require.NoError(t, err)
	assert.Empty(t, events)
	_, ok, err := s.GetLatestSnapshot(ctx, "e1")
	require.NoError(t, err)
	assert.False(t, ok)
}
