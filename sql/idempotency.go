package sql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"github.com/fenrick/MiroDiagramming/idempotency"
)

// IdempotencyStore implements idempotency.Store using a SQL backend: the
// persistent tier behind the in-memory LRU in package idempotency.
type IdempotencyStore struct {
	db *bun.DB
}

func NewIdempotencyStore(db *bun.DB) *IdempotencyStore {
	return &IdempotencyStore{db: db}
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (*idempotency.Entry, bool, error) {
	var m idempotencyModel
	err := s.db.NewSelect().Model(&m).Where("key = ?", key).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return m.toEntry(), true, nil
}

func (s *IdempotencyStore) Put(ctx context.Context, e *idempotency.Entry) error {
	m := &idempotencyModel{Key: e.Key, Response: e.Response, CreatedAt: e.CreatedAt}
	_, err := s.db.NewInsert().
		Model(m).
		On("CONFLICT (key) DO UPDATE").
		Set("response = EXCLUDED.response").
		Exec(ctx)
	return err
}

// Purge deletes idempotency rows older than olderThan. Satisfies
// retention.Sweeper.
func (s *IdempotencyStore) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*idempotencyModel)(nil)).
		Where("created_at <= ?", olderThan).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return getAffected(res), nil
}
