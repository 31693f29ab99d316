package sql

import (
	"context"
	"errors"

	"github.com/uptrace/bun"
)

func createTables(ctx context.Context, db bun.IDB) error {
	models := []any{
		(*taskModel)(nil),
		(*deadLetterModel)(nil),
		(*idempotencyModel)(nil),
		(*jobModel)(nil),
		(*userModel)(nil),
		(*cacheModel)(nil),
	}
	for _, m := range models {
		if _, err := db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func createIndexes(ctx context.Context, db bun.IDB) error {
	type idx struct {
		model   any
		name    string
		columns []string
	}
	indexes := []idx{
		{(*taskModel)(nil), "idx_tasks_status_next", []string{"status", "next_run_at"}},
		{(*taskModel)(nil), "idx_tasks_status_claimed", []string{"status", "claimed_at"}},
		{(*taskModel)(nil), "idx_tasks_job", []string{"job_id"}},
		{(*deadLetterModel)(nil), "idx_dead_letter_created", []string{"created_at"}},
		{(*idempotencyModel)(nil), "idx_idempotency_created", []string{"created_at"}},
		{(*cacheModel)(nil), "idx_cache_created", []string{"created_at"}},
	}
	for _, i := range indexes {
		_, err := db.NewCreateIndex().
			Model(i.model).
			Index(i.name).
			Column(i.columns...).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return err
		}
	}
	return nil
}

func initDB(ctx context.Context, db *bun.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := createTables(ctx, tx); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	if err := createIndexes(ctx, tx); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	return tx.Commit()
}

// InitDB initializes the schema required by this package: queue_tasks,
// dead_letter_tasks, idempotency, jobs, users, and cache_entries, plus
// their indexes, inside a single transaction.
//
// InitDB is idempotent and may be called multiple times; it only creates
// missing objects and never drops or alters existing ones. Production
// deployments that require incremental schema migration should manage that
// separately — InitDB is a development/test convenience, not a migration
// tool.
func InitDB(ctx context.Context, db *bun.DB) error {
	return initDB(ctx, db)
}

// MustInitDB behaves like InitDB but panics on failure, for use in
// application bootstrap code where schema initialization failure is
// unrecoverable.
func MustInitDB(ctx context.Context, db *bun.DB) {
	if err := initDB(ctx, db); err != nil {
		panic(err)
	}
}
