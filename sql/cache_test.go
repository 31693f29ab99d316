package sql_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fenrick/MiroDiagramming/cache"
	gsql "github.com/fenrick/MiroDiagramming/sql"
)

func TestCacheSetAndGet(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := gsql.NewCacheStore(db)

	_, ok, err := store.Get(ctx, "board-1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Set(ctx, &cache.Entry{BoardID: "board-1", Value: []byte(`{"widgets":[]}`)}))

	got, ok, err := store.Get(ctx, "board-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"widgets":[]}`, string(got.Value))
}

func TestCacheSetOverwritesLastWriterWins(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := gsql.NewCacheStore(db)

	require.NoError(t, store.Set(ctx, &cache.Entry{BoardID: "board-1", Value: []byte(`{"v":1}`)}))
	require.NoError(t, store.Set(ctx, &cache.Entry{BoardID: "board-1", Value: []byte(`{"v":2}`)}))

	got, ok, err := store.Get(ctx, "board-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"v":2}`, string(got.Value))
}

func TestCachePurge(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := gsql.NewCacheStore(db)

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, store.Set(ctx, &cache.Entry{BoardID: "old-board", Value: []byte(`{}`), CreatedAt: old}))
	require.NoError(t, store.Set(ctx, &cache.Entry{BoardID: "fresh-board", Value: []byte(`{}`)}))

	n, err := store.Purge(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	_, ok, err := store.Get(ctx, "old-board")
	require.NoError(t, err)
	require.False(t, ok)
}
