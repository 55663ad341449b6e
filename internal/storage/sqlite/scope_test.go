package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/storefront/internal/storage"
)

// newTestDB returns a fresh in-memory database closed at test end.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// =========================================================================
// GET / SET / REMOVE TESTS
// =========================================================================

func TestScope_GetMissing(t *testing.T) {
	db := newTestDB(t)

	_, ok, err := db.Scope("visitor-a").Get(context.Background(), "token")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestScope_SetThenGet(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	s := db.Scope("visitor-a")

	require.NoError(t, s.Set(ctx, "cartId", "c-1"))
	require.NoError(t, s.Set(ctx, "cartId", "c-2"), "Set replaces the previous value")

	v, ok, err := s.Get(ctx, "cartId")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "c-2", v)
}

func TestScope_Remove(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	s := db.Scope("visitor-a")

	require.NoError(t, s.Set(ctx, "cartId", "c-1"))
	require.NoError(t, s.Remove(ctx, "cartId"))
	require.NoError(t, s.Remove(ctx, "cartId"), "removing an absent key is not an error")

	_, ok, err := s.Get(ctx, "cartId")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestScope_Isolation(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Scope("visitor-a").Set(ctx, "cartId", "a-cart"))
	require.NoError(t, db.Scope("visitor-b").Set(ctx, "cartId", "b-cart"))

	v, _, err := db.Scope("visitor-a").Get(ctx, "cartId")
	require.NoError(t, err)
	assert.Equal(t, "a-cart", v)

	v, _, err = db.Scope("visitor-b").Get(ctx, "cartId")
	require.NoError(t, err)
	assert.Equal(t, "b-cart", v)
}

// =========================================================================
// APPLY TESTS
// =========================================================================

func TestScope_Apply(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	s := db.Scope("visitor-a")
	require.NoError(t, s.Set(ctx, "role", "CUSTOMER"))

	err := s.Apply(ctx,
		storage.Put("token", "t"),
		storage.Put("userId", "7"),
		storage.Delete("role"),
	)
	require.NoError(t, err)

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"token", "userId"}, keys)
}

func TestScope_ApplyCanceledContextWritesNothing(t *testing.T) {
	db := newTestDB(t)
	s := db.Scope("visitor-a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Apply(ctx, storage.Put("token", "t"), storage.Put("userId", "7"))
	assert.Error(t, err)

	keys, err := s.Keys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

// =========================================================================
// PERSISTENCE TESTS
// =========================================================================

func TestScope_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storefront.db")
	ctx := context.Background()

	db, err := New(path)
	require.NoError(t, err)
	require.NoError(t, db.Scope("visitor-a").Set(ctx, "userName", "Ana"))
	require.NoError(t, db.Close())

	reopened, err := New(path)
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })

	v, ok, err := reopened.Scope("visitor-a").Get(ctx, "userName")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Ana", v)
}

func TestNew_PragmasOnEveryConnection(t *testing.T) {
	db, err := New(filepath.Join(t.TempDir(), "storefront.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()

	// Hold the first connection so the pool has to open a second one.
	first, err := db.conn.Conn(ctx)
	require.NoError(t, err)
	defer first.Close()
	second, err := db.conn.Conn(ctx)
	require.NoError(t, err)
	defer second.Close()

	for i, c := range []*sql.Conn{first, second} {
		var timeout int
		require.NoError(t, c.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&timeout))
		assert.Equal(t, 5000, timeout, "connection %d", i)

		var mode string
		require.NoError(t, c.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode))
		assert.Equal(t, "wal", mode, "connection %d", i)
	}
}
