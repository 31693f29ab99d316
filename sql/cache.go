package sql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"github.com/fenrick/MiroDiagramming/cache"
)

// CacheStore implements cache.Store using a SQL backend.
type CacheStore struct {
	db *bun.DB
}

func NewCacheStore(db *bun.DB) *CacheStore {
	return &CacheStore{db: db}
}

func (s *CacheStore) Get(ctx context.Context, boardID string) (*cache.Entry, bool, error) {
	var m cacheModel
	err := s.db.NewSelect().Model(&m).Where("board_id = ?", boardID).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return m.toEntry(), true, nil
}

func (s *CacheStore) Set(ctx context.Context, e *cache.Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	m := &cacheModel{BoardID: e.BoardID, Value: e.Value, CreatedAt: e.CreatedAt}
	_, err := s.db.NewInsert().
		Model(m).
		On("CONFLICT (board_id) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("created_at = EXCLUDED.created_at").
		Exec(ctx)
	return err
}

// Purge deletes cache rows older than olderThan. Satisfies retention.Sweeper.
func (s *CacheStore) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*cacheModel)(nil)).
		Where("created_at <= ?", olderThan).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return getAffected(res), nil
}
