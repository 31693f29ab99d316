package sql

import (
	"context"
	"errors"
	"time"

	"github.com/uptrace/bun"

	pipeline "github.com/fenrick/MiroDiagramming"
	"github.com/fenrick/MiroDiagramming/task"
)

// TaskStore implements pipeline.Queue using a SQL backend.
//
// ClaimNext performs its state transition with
// UPDATE ... WHERE id IN (subquery) RETURNING semantics, so concurrent
// workers never double-claim the same row. Ack's updates and deletes are
// guarded by status = Processing, so a task that is no longer Processing
// yields ErrTaskLost instead of being transitioned twice.
type TaskStore struct {
	db *bun.DB
}

func NewTaskStore(db *bun.DB) *TaskStore {
	return &TaskStore{db: db}
}

func (s *TaskStore) Enqueue(ctx context.Context, t *task.Task) (int64, error) {
	model := fromTask(t)
	if _, err := s.db.NewInsert().Model(model).Exec(ctx); err != nil {
		return 0, err
	}
	t.ID = model.ID
	t.CreatedAt = model.CreatedAt
	t.UpdatedAt = model.UpdatedAt
	return model.ID, nil
}

// ClaimNext selects up to batch tasks eligible for processing — Queued
// tasks whose next_run_at has passed — and transitions them to Processing,
// incrementing Attempts and stamping ClaimedAt/next lease deadline in one
// statement.
func (s *TaskStore) ClaimNext(ctx context.Context, batch int, lease time.Duration) ([]*task.Task, error) {
	now := time.Now()
	claimedUntil := now.Add(lease)
	sub := s.db.NewSelect().
		Model((*taskModel)(nil)).
		Column("id").
		Where("status = ?", uint8(task.Queued)).
		Where("next_run_at <= ?", now).
		Order("next_run_at ASC").
		Limit(batch)

	var models []*taskModel
	err := s.db.NewUpdate().
		Model((*taskModel)(nil)).
		Set("status = ?", uint8(task.Processing)).
		Set("attempts = attempts + 1").
		Set("claimed_at = ?", now).
		Set("next_run_at = ?", claimedUntil).
		Set("updated_at = ?", now).
		Where("id IN (?)", sub).
		Returning("*").
		Scan(ctx, &models)
	if err != nil {
		return nil, err
	}
	out := make([]*task.Task, len(models))
	for i, m := range models {
		out[i] = m.toTask()
	}
	return out, nil
}

// ExtendLease extends a Processing task's lease by resetting next_run_at,
// which doubles as the lease deadline while a task is Processing.
func (s *TaskStore) ExtendLease(ctx context.Context, t *task.Task, lease time.Duration) error {
	now := time.Now()
	newDeadline := now.Add(lease)
	res, err := s.db.NewUpdate().
		Model((*taskModel)(nil)).
		Set("next_run_at = ?", newDeadline).
		Set("updated_at = ?", now).
		Where("id = ?", t.ID).
		Where("status = ?", uint8(task.Processing)).
		Exec(ctx)
	if err != nil {
		return err
	}
	if !isAffected(res) {
		return pipeline.ErrLockLost
	}
	t.UpdatedAt = now
	return nil
}

// Ack finalizes the outcome of a claimed task.
func (s *TaskStore) Ack(ctx context.Context, t *task.Task, outcome pipeline.Outcome, delay time.Duration, cause string) error {
	switch outcome {
	case pipeline.Completed:
		return s.ackCompleted(ctx, t)
	case pipeline.Retry:
		return s.ackRetry(ctx, t, delay)
	case pipeline.DeadLettered:
		return s.ackDeadLetter(ctx, t, cause)
	default:
		return pipeline.ErrTaskLost
	}
}

func (s *TaskStore) ackCompleted(ctx context.Context, t *task.Task) error {
	res, err := s.db.NewDelete().
		Model((*taskModel)(nil)).
		Where("id = ?", t.ID).
		Where("status = ?", uint8(task.Processing)).
		Exec(ctx)
	if err != nil {
		return err
	}
	if !isAffected(res) {
		return pipeline.ErrTaskLost
	}
	return nil
}

func (s *TaskStore) ackRetry(ctx context.Context, t *task.Task, delay time.Duration) error {
	now := time.Now()
	nextRun := now.Add(delay)
	res, err := s.db.NewUpdate().
		Model((*taskModel)(nil)).
		Set("status = ?", uint8(task.Queued)).
		Set("next_run_at = ?", nextRun).
		Set("claimed_at = NULL").
		Set("updated_at = ?", now).
		Where("id = ?", t.ID).
		Where("status = ?", uint8(task.Processing)).
		Exec(ctx)
	if err != nil {
		return err
	}
	if !isAffected(res) {
		return pipeline.ErrTaskLost
	}
	return nil
}

// ackDeadLetter inserts the dead-letter record and deletes the original
// task row in a single transaction, so a crash between the two never
// leaves a task both queued and dead-lettered.
func (s *TaskStore) ackDeadLetter(ctx context.Context, t *task.Task, cause string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	dl := fromDeadLetter(task.FromTask(t, cause))
	if _, err := tx.NewInsert().Model(dl).Exec(ctx); err != nil {
		return rollback(tx, err)
	}
	res, err := tx.NewDelete().
		Model((*taskModel)(nil)).
		Where("id = ?", t.ID).
		Where("status = ?", uint8(task.Processing)).
		Exec(ctx)
	if err != nil {
		return rollback(tx, err)
	}
	if !isAffected(res) {
		return rollback(tx, pipeline.ErrTaskLost)
	}
	return tx.Commit()
}

// RecoverOrphans resets Processing tasks whose lease deadline (stored in
// next_run_at while Processing) has passed back to Queued, making them
// eligible for reclaiming by another worker. Attempts is not incremented
// again here; it already reflects the original claim.
func (s *TaskStore) RecoverOrphans(ctx context.Context, _ time.Duration) (int64, error) {
	now := time.Now()
	res, err := s.db.NewUpdate().
		Model((*taskModel)(nil)).
		Set("status = ?", uint8(task.Queued)).
		Set("claimed_at = NULL").
		Set("next_run_at = ?", now).
		Set("updated_at = ?", now).
		Where("status = ?", uint8(task.Processing)).
		Where("next_run_at <= ?", now).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return getAffected(res), nil
}

// QueueLength returns the number of tasks currently Queued, used to serve
// GET /api/limits.
func (s *TaskStore) QueueLength(ctx context.Context) (int64, error) {
	n, err := s.db.NewSelect().
		Model((*taskModel)(nil)).
		Where("status = ?", uint8(task.Queued)).
		Count(ctx)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}

func rollback(tx bun.Tx, err error) error {
	if rbErr := tx.Rollback(); rbErr != nil {
		return errors.Join(err, rbErr)
	}
	return err
}
