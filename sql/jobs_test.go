package sql_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	gsql "github.com/fenrick/MiroDiagramming/sql"

	"github.com/fenrick/MiroDiagramming/jobs"
)

func TestJobAggregationSucceeds(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := gsql.NewJobStore(db)

	j, err := store.Create(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, jobs.Queued, j.Status)

	require.NoError(t, store.RecordOperation(ctx, j.ID, jobs.OperationResult{Index: 0, Status: "succeeded"}))
	mid, err := store.Get(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.Running, mid.Status)

	require.NoError(t, store.RecordOperation(ctx, j.ID, jobs.OperationResult{Index: 1, Status: "succeeded"}))
	done, err := store.Get(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.Succeeded, done.Status)
	require.Len(t, done.Results.Operations, 2)
}

func TestJobAggregationStickyFailure(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := gsql.NewJobStore(db)

	j, err := store.Create(ctx, 2)
	require.NoError(t, err)

	require.NoError(t, store.RecordOperation(ctx, j.ID, jobs.OperationResult{Index: 0, Status: "failed", Error: "upstream rejected"}))
	mid, err := store.Get(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.Failed, mid.Status)

	// Even though the second operation succeeds, the job stays Failed.
	require.NoError(t, store.RecordOperation(ctx, j.ID, jobs.OperationResult{Index: 1, Status: "succeeded"}))
	done, err := store.Get(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.Failed, done.Status)
	require.Len(t, done.Results.Operations, 2)
}

func TestJobGetMissing(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := gsql.NewJobStore(db)

	got, err := store.Get(ctx, uuid.New())
	require.NoError(t, err)
	require.Nil(t, got)
}
