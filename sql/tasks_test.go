package sql_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	pipeline "github.com/fenrick/MiroDiagramming"
	gsql "github.com/fenrick/MiroDiagramming/sql"
	"github.com/fenrick/MiroDiagramming/task"
)

func TestClaimAndComplete(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := gsql.NewTaskStore(db)

	tk := task.New("user-1", task.CreateNode, []byte(`{"node_id":"n1"}`), nil, 0)
	_, err := store.Enqueue(ctx, tk)
	require.NoError(t, err)

	claimed, err := store.ClaimNext(ctx, 1, time.Second)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, task.Processing, claimed[0].Status)
	require.Equal(t, uint32(1), claimed[0].Attempts)

	require.NoError(t, store.Ack(ctx, claimed[0], pipeline.Completed, 0, ""))

	again, err := store.ClaimNext(ctx, 10, time.Second)
	require.NoError(t, err)
	require.Empty(t, again)
}

func TestClaimAndRetry(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := gsql.NewTaskStore(db)

	tk := task.New("user-1", task.CreateNode, []byte(`{"node_id":"n1"}`), nil, 0)
	_, err := store.Enqueue(ctx, tk)
	require.NoError(t, err)

	claimed, err := store.ClaimNext(ctx, 1, time.Second)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, store.Ack(ctx, claimed[0], pipeline.Retry, 0, "upstream 503"))

	// Immediately re-claimable since the retry delay was zero.
	retried, err := store.ClaimNext(ctx, 1, time.Second)
	require.NoError(t, err)
	require.Len(t, retried, 1)
	require.Equal(t, uint32(2), retried[0].Attempts)
}

func TestClaimAndDeadLetter(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := gsql.NewTaskStore(db)
	dlq := gsql.NewDeadLetterStore(db)

	tk := task.New("user-1", task.CreateNode, []byte(`{"node_id":"n1"}`), nil, 0)
	_, err := store.Enqueue(ctx, tk)
	require.NoError(t, err)

	claimed, err := store.ClaimNext(ctx, 1, time.Second)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, store.Ack(ctx, claimed[0], pipeline.DeadLettered, 0, "permanent: bad payload"))

	count, err := dlq.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	remaining, err := store.ClaimNext(ctx, 10, time.Second)
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func TestLeaseExpirationAllowsReclaim(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := gsql.NewTaskStore(db)

	tk := task.New("user-1", task.CreateNode, []byte(`{"node_id":"n1"}`), nil, 0)
	_, err := store.Enqueue(ctx, tk)
	require.NoError(t, err)

	_, err = store.ClaimNext(ctx, 1, 20*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	recovered, err := store.RecoverOrphans(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), recovered)

	claimed, err := store.ClaimNext(ctx, 1, time.Second)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
}

func TestExtendLease(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := gsql.NewTaskStore(db)

	tk := task.New("user-1", task.CreateNode, []byte(`{"node_id":"n1"}`), nil, 0)
	_, err := store.Enqueue(ctx, tk)
	require.NoError(t, err)

	claimed, err := store.ClaimNext(ctx, 1, time.Second)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, store.ExtendLease(ctx, claimed[0], 5*time.Second))
}

func TestQueueLengthCountsOnlyQueued(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := gsql.NewTaskStore(db)

	_, err := store.Enqueue(ctx, task.New("user-1", task.CreateNode, []byte(`{}`), nil, 0))
	require.NoError(t, err)
	_, err = store.Enqueue(ctx, task.New("user-1", task.CreateNode, []byte(`{}`), nil, 0))
	require.NoError(t, err)

	n, err := store.QueueLength(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	claimed, err := store.ClaimNext(ctx, 1, time.Second)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	n, err = store.QueueLength(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestExtendLeaseAfterCompletionFails(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := gsql.NewTaskStore(db)

	tk := task.New("user-1", task.CreateNode, []byte(`{"node_id":"n1"}`), nil, 0)
	_, err := store.Enqueue(ctx, tk)
	require.NoError(t, err)

	claimed, err := store.ClaimNext(ctx, 1, time.Second)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, store.Ack(ctx, claimed[0], pipeline.Completed, 0, ""))
	err = store.ExtendLease(ctx, claimed[0], time.Second)
	require.ErrorIs(t, err, pipeline.ErrLockLost)
}
