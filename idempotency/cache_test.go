package idempotency_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fenrick/MiroDiagramming/idempotency"
)

type memStore struct {
	mu      sync.Mutex
	entries map[string]*idempotency.Entry
	gets    int
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]*idempotency.Entry)}
}

func (s *memStore) Get(_ context.Context, key string) (*idempotency.Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	e, ok := s.entries[key]
	return e, ok, nil
}

func (s *memStore) Put(_ context.Context, e *idempotency.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.Key] = e
	return nil
}

func (s *memStore) Purge(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, e := range s.entries {
		if !e.CreatedAt.After(olderThan) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

func TestCacheLookupMissReturnsFalse(t *testing.T) {
	c := idempotency.New(idempotency.Config{MemoryCapacity: 10, MemoryTTL: time.Minute}, newMemStore())
	_, ok, err := c.Lookup(context.Background(), "key-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCacheStoreThenLookupHitsMemory(t *testing.T) {
	store := newMemStore()
	c := idempotency.New(idempotency.Config{MemoryCapacity: 10, MemoryTTL: time.Minute}, store)

	require.NoError(t, c.Store(context.Background(), "key-1", []byte(`{"job_id":"abc"}`)))

	e, ok, err := c.Lookup(context.Background(), "key-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte(`{"job_id":"abc"}`), e.Response)
	require.Equal(t, 0, store.gets, "first lookup after a store should be served from memory")
}

func TestCacheLookupBackfillsMemoryFromStore(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.Put(context.Background(), &idempotency.Entry{Key: "key-1", Response: []byte(`{"a":1}`), CreatedAt: time.Now()}))

	c := idempotency.New(idempotency.Config{MemoryCapacity: 10, MemoryTTL: time.Minute}, store)

	_, ok, err := c.Lookup(context.Background(), "key-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, store.gets)

	// Second lookup must be served from the now-backfilled memory tier.
	_, ok, err = c.Lookup(context.Background(), "key-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, store.gets, "second lookup should not hit the store again")
}

func TestCacheEmptyKeyIsNoop(t *testing.T) {
	store := newMemStore()
	c := idempotency.New(idempotency.Config{MemoryCapacity: 10, MemoryTTL: time.Minute}, store)

	require.NoError(t, c.Store(context.Background(), "", []byte(`{}`)))
	_, ok, err := c.Lookup(context.Background(), "")
	require.NoError(t, err)
	require.False(t, ok)
}
