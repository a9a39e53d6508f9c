package wallet

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockErrorIsAlwaysContention(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		name string
		err  error
	}{
		{name: "lock timeout", err: &pgconn.PgError{Code: pgLockNotAvailable, Message: "canceling statement due to lock timeout"}},
		{name: "deadlock", err: &pgconn.PgError{Code: pgDeadlockDetected, Message: "deadlock detected"}},
		{name: "serialization", err: fmt.Errorf("query: %w", &pgconn.PgError{Code: pgSerializationFailure})},
		{name: "context", err: context.DeadlineExceeded},
		{name: "connection", err: errors.New("conn closed")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := lockError(id, tt.err)
			assert.ErrorIs(t, err, ErrContention)
			assert.NotErrorIs(t, err, ErrWalletNotFound)
			assert.Contains(t, err.Error(), id.String())
		})
	}
}

// newPostgresStore connects to DATABASE_URL with a pool of maxConns
// connections, or skips the test when the variable is unset.
func newPostgresStore(t *testing.T, maxConns int32, lockTimeout time.Duration) *PostgresStore {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}

	cfg, err := pgxpool.ParseConfig(url)
	require.NoError(t, err)
	cfg.MaxConns = maxConns

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	store := NewPostgresStore(pool, lockTimeout)
	require.NoError(t, store.Migrate(ctx))
	return store
}

func TestPostgresStoreLifecycle(t *testing.T) {
	store := newPostgresStore(t, 4, time.Second)
	ctx := context.Background()

	w := newStoredWallet(t, store, 100)
	require.ErrorIs(t, store.Create(ctx, w), ErrWalletExists)

	_, scope, err := store.LockedLookup(ctx, uuid.New())
	require.ErrorIs(t, err, ErrWalletNotFound)
	assert.Nil(t, scope)

	locked, scope, err := store.LockedLookup(ctx, w.ID)
	require.NoError(t, err)
	locked.Balance = decimal.RequireFromString("150.50")
	require.NoError(t, scope.WriteBack(ctx, &locked))
	assert.EqualValues(t, 1, locked.Version)
	require.NoError(t, scope.Release(ctx), "release after commit is a no-op")
	require.ErrorIs(t, scope.WriteBack(ctx, &locked), ErrScopeReleased)

	got, err := store.Lookup(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.RequireFromString("150.50")))
	assert.EqualValues(t, 1, got.Version)

	// A released scope rolls back and never writes.
	locked, scope, err = store.LockedLookup(ctx, w.ID)
	require.NoError(t, err)
	require.NoError(t, scope.Release(ctx))
	locked.Balance = decimal.NewFromInt(1)
	require.ErrorIs(t, scope.WriteBack(ctx, &locked), ErrScopeReleased)

	got, err = store.Lookup(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.RequireFromString("150.50")))
}

func TestPostgresStoreRowLockTimesOut(t *testing.T) {
	store := newPostgresStore(t, 4, 100*time.Millisecond)
	ctx := context.Background()
	w := newStoredWallet(t, store, 10)

	_, scope, err := store.LockedLookup(ctx, w.ID)
	require.NoError(t, err)
	defer scope.Release(ctx)

	start := time.Now()
	_, _, err = store.LockedLookup(ctx, w.ID)
	require.ErrorIs(t, err, ErrContention)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPostgresStorePoolWaitIsBounded(t *testing.T) {
	store := newPostgresStore(t, 1, 100*time.Millisecond)
	ctx := context.Background()
	a := newStoredWallet(t, store, 10)
	b := newStoredWallet(t, store, 10)

	// The only connection is pinned by the scope on a.
	_, scope, err := store.LockedLookup(ctx, a.ID)
	require.NoError(t, err)
	defer scope.Release(ctx)

	start := time.Now()
	_, _, err = store.LockedLookup(ctx, b.ID)
	require.ErrorIs(t, err, ErrContention)
	assert.Less(t, time.Since(start), time.Second)
}
