// Package idempotency implements the two-tier cache backing the
// Idempotency-Key contract on POST /api/batch: a size- and TTL-bound memory
// tier fronting a persistent store, so a retried request with the same key
// replays the original response byte-for-byte.
package idempotency

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Entry is a stored idempotent response.
type Entry struct {
	Key       string
	Response  []byte
	CreatedAt time.Time
}

// Store is the persistent (SQL-backed) tier. Entries older than its TTL are
// purged by a background sweep (see retention.Worker), not by Store itself.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Put(ctx context.Context, e *Entry) error
	Purge(ctx context.Context, olderThan time.Time) (int64, error)
}

// Config sizes the memory tier.
type Config struct {
	MemoryCapacity int
	MemoryTTL      time.Duration
}

// Cache is the two-tier lookup: memory first, persistent store on miss. A
// persistent-store hit backfills the memory tier.
type Cache struct {
	mem   *lru.LRU[string, Entry]
	store Store
}

func New(cfg Config, store Store) *Cache {
	return &Cache{
		mem:   lru.NewLRU[string, Entry](cfg.MemoryCapacity, nil, cfg.MemoryTTL),
		store: store,
	}
}

// Lookup returns the stored response for key, if any. Only values stored
// via Store (successful responses) are ever returned.
func (c *Cache) Lookup(ctx context.Context, key string) (*Entry, bool, error) {
	if key == "" {
		return nil, false, nil
	}
	if e, ok := c.mem.Get(key); ok {
		return &e, true, nil
	}
	e, ok, err := c.store.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	c.mem.Add(key, *e)
	return e, true, nil
}

// Store persists the response under key so a repeat request with the same
// Idempotency-Key replays it instead of resubmitting the batch. Callers must
// only call Store for responses that should be considered the canonical,
// replayable outcome (2xx).
func (c *Cache) Store(ctx context.Context, key string, response []byte) error {
	if key == "" {
		return nil
	}
	e := &Entry{Key: key, Response: response, CreatedAt: time.Now()}
	if err := c.store.Put(ctx, e); err != nil {
		return err
	}
	c.mem.Add(key, *e)
	return nil
}
