package index

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/relink/internal/swr"
)

func TestCacheBackend_StoreLoadDelete(t *testing.T) {
	b := NewCacheBackend(testDB(t))
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	_, _, ok, err := b.Load(ctx, "site:x")
	require.NoError(t, err)
	assert.False(t, ok)

	meta := swr.Meta{CachedAt: now, ExpiresAt: now.Add(time.Hour), Placeholder: true}
	require.NoError(t, b.Store(ctx, "site:x", []byte(`{"title":"t"}`), meta))

	v, got, ok, err := b.Load(ctx, "site:x")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"title":"t"}`, string(v))
	assert.True(t, got.CachedAt.Equal(now))
	assert.True(t, got.ExpiresAt.Equal(now.Add(time.Hour)))
	assert.True(t, got.Placeholder)

	require.NoError(t, b.Delete(ctx, "site:x"))
	_, _, ok, err = b.Load(ctx, "site:x")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheBackend_MetaWithoutValueIsMiss(t *testing.T) {
	db := testDB(t)
	b := NewCacheBackend(db)
	ctx := context.Background()

	_, err := db.conn.Exec(`INSERT INTO cache_meta (key, cached_at) VALUES ('orphan', 1)`)
	require.NoError(t, err)

	_, _, ok, err := b.Load(ctx, "orphan")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheBackend_Prune(t *testing.T) {
	b := NewCacheBackend(testDB(t))
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	require.NoError(t, b.Store(ctx, "old", []byte("1"), swr.Meta{CachedAt: now, ExpiresAt: now.Add(time.Minute)}))
	require.NoError(t, b.Store(ctx, "new", []byte("2"), swr.Meta{CachedAt: now, ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, b.Store(ctx, "forever", []byte("3"), swr.Meta{CachedAt: now}))

	n, err := b.PruneCache(ctx, now.Add(10*time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, _, ok, _ := b.Load(ctx, "old")
	assert.False(t, ok)
	_, _, ok, _ = b.Load(ctx, "new")
	assert.True(t, ok)
	_, _, ok, _ = b.Load(ctx, "forever")
	assert.True(t, ok)
}

func TestCacheBackend_DrivesSWRCache(t *testing.T) {
	c := swr.New[string](NewCacheBackend(testDB(t)), nil)
	ctx := context.Background()
	policy := swr.Policy{Fresh: time.Minute, Stale: time.Hour}

	res := c.Get(ctx, "k", func(context.Context) (string, error) { return "persisted", nil }, policy, "")
	assert.Equal(t, swr.StateRefreshed, res.State)

	res = c.Get(ctx, "k", func(context.Context) (string, error) { return "unused", nil }, policy, "")
	assert.Equal(t, swr.StateFresh, res.State)
	assert.Equal(t, "persisted", res.Value)
}
