package sql

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

// DeadLetterStore provides read and retention access to dead-lettered
// tasks. Insertion happens as part of TaskStore.Ack(DeadLettered, ...); this
// type only supports inspection and the periodic purge a retention.Worker
// drives.
type DeadLetterStore struct {
	db *bun.DB
}

func NewDeadLetterStore(db *bun.DB) *DeadLetterStore {
	return &DeadLetterStore{db: db}
}

// Purge deletes dead-letter rows older than olderThan, returning the
// number removed. Satisfies retention.Sweeper.
func (s *DeadLetterStore) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*deadLetterModel)(nil)).
		Where("created_at <= ?", olderThan).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return getAffected(res), nil
}

// Count returns the number of dead-lettered tasks currently stored.
func (s *DeadLetterStore) Count(ctx context.Context) (int, error) {
	return s.db.NewSelect().Model((*deadLetterModel)(nil)).Count(ctx)
}
