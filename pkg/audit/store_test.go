package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/noisefs-labs/execcore/pkg/session"
)

// setupTestContainer starts a throwaway Postgres instance for one test.
func setupTestContainer(t *testing.T, ctx context.Context) string {
	t.Helper()

	container, err := tcpostgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		tcpostgres.WithDatabase("execcore_audit_test"),
		tcpostgres.WithUsername("test_user"),
		tcpostgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return connStr
}

func openMigratedStore(t *testing.T, ctx context.Context) *Store {
	t.Helper()
	dsn := setupTestContainer(t, ctx)

	store, err := Open(ctx, Config{DSN: dsn, MigrationsPath: "file://migrations"})
	require.NoError(t, err)
	t.Cleanup(store.Close)

	require.NoError(t, store.Migrate())
	return store
}

func TestStore_RecordsSessionLifecycleEvents(t *testing.T) {
	ctx := context.Background()
	store := openMigratedStore(t, ctx)

	store.SessionCreated(1)
	store.SessionRejected(2)
	store.SessionEnded(1, session.KeepOpen, 150*time.Millisecond)

	created, err := store.CountByType(ctx, EventCreated)
	require.NoError(t, err)
	assert.Equal(t, int64(1), created)

	rejected, err := store.CountByType(ctx, EventRejected)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rejected)

	ended, err := store.CountByType(ctx, EventEnded)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ended)
}

func TestOpen_RejectsEmptyDSN(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	assert.Error(t, err)
}
