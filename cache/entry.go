// Package cache implements the per-board snapshot cache served by
// GET /api/cache/{board_id}, refreshed asynchronously and debounced so a
// burst of successful task completions against the same board coalesces
// into a single upstream fetch.
package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Entry is a cached board snapshot.
type Entry struct {
	BoardID   string
	Value     json.RawMessage
	CreatedAt time.Time
}

// Store is the authoritative (SQL-backed) persistence for cache entries.
// Writes are last-writer-wins: a refresh that completes after a newer one
// started silently overwrites with its own (now possibly stale) result,
// exactly as the original per-board debounce assumed a single in-flight
// refresh at a time.
type Store interface {
	Get(ctx context.Context, boardID string) (*Entry, bool, error)
	Set(ctx context.Context, e *Entry) error
	Purge(ctx context.Context, olderThan time.Time) (int64, error)
}
