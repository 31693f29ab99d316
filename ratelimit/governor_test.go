package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fenrick/MiroDiagramming/ratelimit"
)

func TestAcquireConsumesReservoir(t *testing.T) {
	g := ratelimit.NewGovernor(ratelimit.Config{Reservoir: 2, RefillInterval: time.Hour})
	ctx := context.Background()

	require.NoError(t, g.Acquire(ctx, "user-1"))
	require.NoError(t, g.Acquire(ctx, "user-1"))
	require.Equal(t, 0, g.FillFor("user-1"))
}

func TestAcquireBlocksUntilRefill(t *testing.T) {
	g := ratelimit.NewGovernor(ratelimit.Config{Reservoir: 1, RefillInterval: 20 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, g.Acquire(ctx, "user-1"))

	start := time.Now()
	require.NoError(t, g.Acquire(ctx, "user-1"))
	require.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	g := ratelimit.NewGovernor(ratelimit.Config{Reservoir: 1, RefillInterval: time.Hour})
	ctx := context.Background()
	require.NoError(t, g.Acquire(ctx, "user-1"))

	cancelCtx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := g.Acquire(cancelCtx, "user-1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBucketsAreIndependentPerUser(t *testing.T) {
	g := ratelimit.NewGovernor(ratelimit.Config{Reservoir: 1, RefillInterval: time.Hour})
	ctx := context.Background()

	require.NoError(t, g.Acquire(ctx, "user-1"))
	require.Equal(t, 0, g.FillFor("user-1"))
	require.Equal(t, 1, g.FillFor("user-2"))
}

func TestFillReturnsSnapshotOfAllUsers(t *testing.T) {
	g := ratelimit.NewGovernor(ratelimit.Config{Reservoir: 3, RefillInterval: time.Hour})
	ctx := context.Background()

	require.NoError(t, g.Acquire(ctx, "user-1"))
	require.NoError(t, g.Acquire(ctx, "user-2"))

	snapshot := g.Fill()
	require.Equal(t, 2, snapshot["user-1"])
	require.Equal(t, 2, snapshot["user-2"])
}
