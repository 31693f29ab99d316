// Package sql provides the bun-backed persistence adapters for every
// storage-facing interface in this repository: the task queue and its
// dead-letter table, idempotency entries, job aggregates, user OAuth
// records, and board cache entries.
//
// The task claim uses bun's UPDATE ... WHERE id IN (subquery) RETURNING
// pattern, avoiding a separate SELECT-then-UPDATE race between concurrent
// workers; acks are status-guarded updates and deletes. The package targets
// both SQLite (modernc.org/sqlite, used in development and tests) and
// PostgreSQL (jackc/pgx/v5) through bun's pluggable dialects; callers
// choose the dialect when constructing the *bun.DB.
package sql
