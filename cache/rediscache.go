package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is an optional read-through accelerator in front of a
// SQL-backed Store: Get checks Redis first and only falls back to the
// authoritative store on a miss, backfilling Redis from the result. Set and
// Purge always go to the authoritative store; Set additionally writes
// through to Redis so the accelerator never serves a snapshot the store
// doesn't also have. Redis errors never fail a request — they just drop
// back to the authoritative store, since this is a cache, not a source of
// truth.
type RedisCache struct {
	rdb   *redis.Client
	store Store
	ttl   time.Duration
	log   *slog.Logger
}

// NewRedisCache wraps store with a Redis-backed read-through layer. ttl
// bounds how long an entry is allowed to live in Redis before store is
// consulted again, independent of the authoritative store's own retention
// sweep.
func NewRedisCache(rdb *redis.Client, store Store, ttl time.Duration, log *slog.Logger) *RedisCache {
	return &RedisCache{rdb: rdb, store: store, ttl: ttl, log: log}
}

func (c *RedisCache) Get(ctx context.Context, boardID string) (*Entry, bool, error) {
	raw, err := c.rdb.Get(ctx, redisCacheKey(boardID)).Bytes()
	if err == nil {
		var e Entry
		if unmarshalErr := json.Unmarshal(raw, &e); unmarshalErr == nil {
			return &e, true, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.log.Warn("redis cache get failed, falling back to store", "board_id", boardID, "err", err)
	}

	e, ok, err := c.store.Get(ctx, boardID)
	if err != nil || !ok {
		return e, ok, err
	}
	c.backfill(ctx, e)
	return e, true, nil
}

func (c *RedisCache) Set(ctx context.Context, e *Entry) error {
	if err := c.store.Set(ctx, e); err != nil {
		return err
	}
	c.backfill(ctx, e)
	return nil
}

func (c *RedisCache) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	return c.store.Purge(ctx, olderThan)
}

func (c *RedisCache) backfill(ctx context.Context, e *Entry) {
	raw, err := json.Marshal(e)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, redisCacheKey(e.BoardID), raw, c.ttl).Err(); err != nil {
		c.log.Warn("redis cache backfill failed", "board_id", e.BoardID, "err", err)
	}
}

func redisCacheKey(boardID string) string {
	return "board-cache:" + boardID
}
