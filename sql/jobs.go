package sql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"github.com/fenrick/MiroDiagramming/jobs"
)

// JobStore implements jobs.Store using a SQL backend. RecordOperation reads
// and rewrites the JSON operations array inside one transaction, locking
// the job row (SELECT ... FOR UPDATE on PostgreSQL; SQLite's single writer
// serializes it) so concurrent updates from other tasks in the same batch
// are not lost.
type JobStore struct {
	db *bun.DB
}

func NewJobStore(db *bun.DB) *JobStore {
	return &JobStore{db: db}
}

func (s *JobStore) Create(ctx context.Context, total int) (*jobs.Job, error) {
	id := uuid.New()
	now := time.Now()
	m := &jobModel{
		ID:         id,
		Status:     string(jobs.Queued),
		Total:      total,
		Operations: []byte("[]"),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if _, err := s.db.NewInsert().Model(m).Exec(ctx); err != nil {
		return nil, err
	}
	return toJob(m)
}

func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*jobs.Job, error) {
	var m jobModel
	err := s.db.NewSelect().Model(&m).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return toJob(&m)
}

// RecordOperation appends result to the job's operations and recomputes
// status. The read-modify-write happens inside a transaction to serialize
// concurrent updates from sibling tasks of the same batch.
func (s *JobStore) RecordOperation(ctx context.Context, id uuid.UUID, result jobs.OperationResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	// SQLite's single-writer model serializes this transaction on its own;
	// PostgreSQL needs an explicit row lock so sibling tasks of the same
	// job wait for each other instead of overwriting operations.
	var m jobModel
	q := tx.NewSelect().Model(&m).Where("id = ?", id)
	if s.db.Dialect().Name() == dialect.PG {
		q = q.For("UPDATE")
	}
	if err := q.Scan(ctx); err != nil {
		return rollback(tx, err)
	}

	var ops []jobs.OperationResult
	if err := json.Unmarshal(m.Operations, &ops); err != nil {
		return rollback(tx, err)
	}
	ops = append(ops, result)
	sort.SliceStable(ops, func(i, j int) bool { return ops[i].Index < ops[j].Index })

	status := jobs.Running
	failed := false
	for _, op := range ops {
		if op.Status == "failed" {
			failed = true
		}
	}
	if len(ops) >= m.Total {
		if failed {
			status = jobs.Failed
		} else {
			status = jobs.Succeeded
		}
	} else if failed {
		// Sticky failure: a Job with a failed operation never reports
		// Succeeded even while later operations are still outstanding.
		status = jobs.Failed
	}
	// Once failed, stay failed even past the total (sticky, see jobs.Store).
	if m.Status == string(jobs.Failed) {
		status = jobs.Failed
	}

	encoded, err := json.Marshal(ops)
	if err != nil {
		return rollback(tx, err)
	}
	_, err = tx.NewUpdate().
		Model((*jobModel)(nil)).
		Set("operations = ?", encoded).
		Set("status = ?", string(status)).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return rollback(tx, err)
	}
	return tx.Commit()
}

func toJob(m *jobModel) (*jobs.Job, error) {
	var ops []jobs.OperationResult
	if err := json.Unmarshal(m.Operations, &ops); err != nil {
		return nil, err
	}
	return &jobs.Job{
		ID:     m.ID,
		Status: jobs.Status(m.Status),
		Results: jobs.Results{
			Total:      m.Total,
			Operations: ops,
		},
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}, nil
}
