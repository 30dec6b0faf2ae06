package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/equityrun/equityrun/internal/models"
	"github.com/equityrun/equityrun/internal/store"
)

func TestEnqueueAndPoll(t *testing.T) {
	s := store.NewMemory()
	q := NewQueue(s, time.Hour)
	ctx := context.Background()

	rec, err := q.Enqueue(ctx, "hybrid_v1", 20, 900*time.Second)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.JobID)
	assert.Equal(t, models.JobQueued, rec.State)
	assert.Equal(t, 900, rec.TimeoutSeconds)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	got, err := q.PollReady(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, rec.JobID, got.JobID)
	assert.Equal(t, "hybrid_v1", got.Strategy)
	assert.Equal(t, 20, got.Limit)

	depth, _ = q.Depth(ctx)
	assert.Equal(t, int64(0), depth)
}

func TestEnqueueCollapsesDuplicates(t *testing.T) {
	s := store.NewMemory()
	q := NewQueue(s, time.Hour)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, "hybrid_v1", 20, 900*time.Second)
	require.NoError(t, err)

	second, err := q.Enqueue(ctx, "hybrid_v1", 20, 900*time.Second)
	require.NoError(t, err)
	assert.Equal(t, first.JobID, second.JobID, "duplicate enqueue must return the pending job")

	depth, _ := q.Depth(ctx)
	assert.Equal(t, int64(1), depth)

	// A different strategy queues independently.
	other, err := q.Enqueue(ctx, "legacy_v0", 10, 900*time.Second)
	require.NoError(t, err)
	assert.NotEqual(t, first.JobID, other.JobID)
}

func TestFinishReleasesPendingGuard(t *testing.T) {
	s := store.NewMemory()
	q := NewQueue(s, time.Hour)
	ctx := context.Background()

	rec, err := q.Enqueue(ctx, "hybrid_v1", 20, 900*time.Second)
	require.NoError(t, err)

	rec.State = models.JobFinished
	rec.FinishedAt = time.Now().UTC()
	require.NoError(t, q.Update(ctx, rec))

	// Guard cleared: a fresh enqueue creates a new job.
	next, err := q.Enqueue(ctx, "hybrid_v1", 20, 900*time.Second)
	require.NoError(t, err)
	assert.NotEqual(t, rec.JobID, next.JobID)
}

func TestFailedJobKeepsError(t *testing.T) {
	s := store.NewMemory()
	q := NewQueue(s, time.Hour)
	ctx := context.Background()

	rec, err := q.Enqueue(ctx, "hybrid_v1", 20, 900*time.Second)
	require.NoError(t, err)

	rec.State = models.JobFailed
	rec.ErrorKind = "UniverseFloorBreached"
	rec.Error = "universe fetch returned 97 rows, expected at least 4500"
	require.NoError(t, q.Update(ctx, rec))

	got, err := q.Fetch(ctx, rec.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.State)
	assert.Equal(t, "UniverseFloorBreached", got.ErrorKind)
	assert.Contains(t, got.Error, "97 rows")
}

func TestForceEnqueueBypassesGuard(t *testing.T) {
	s := store.NewMemory()
	q := NewQueue(s, time.Hour)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, "hybrid_v1", 20, 900*time.Second)
	require.NoError(t, err)

	forced, err := q.ForceEnqueue(ctx, "hybrid_v1", 20, 900*time.Second)
	require.NoError(t, err)
	assert.NotEqual(t, first.JobID, forced.JobID, "force enqueue must create a new job")

	depth, _ := q.Depth(ctx)
	assert.Equal(t, int64(2), depth)
}

func TestFetchUnknownJob(t *testing.T) {
	q := NewQueue(store.NewMemory(), time.Hour)
	_, err := q.Fetch(context.Background(), "no-such-job")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPollReadyTimesOutEmpty(t *testing.T) {
	q := NewQueue(store.NewMemory(), time.Hour)
	_, err := q.PollReady(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestProgressUpdateVisibleToPollers(t *testing.T) {
	s := store.NewMemory()
	q := NewQueue(s, time.Hour)
	ctx := context.Background()

	rec, err := q.Enqueue(ctx, "hybrid_v1", 20, 900*time.Second)
	require.NoError(t, err)

	rec.State = models.JobRunning
	rec.StartedAt = time.Now().UTC()
	rec.ProgressPct = 40
	rec.StageLabel = "scoring"
	rec.ScannedSoFar = 200
	rec.TradeReadySoFar = 2
	require.NoError(t, q.Update(ctx, rec))

	got, err := q.Fetch(ctx, rec.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobRunning, got.State)
	assert.Equal(t, 40, got.ProgressPct)
	assert.Equal(t, "scoring", got.StageLabel)
	assert.Equal(t, 200, got.ScannedSoFar)

	// Still pending while running: duplicate enqueue collapses.
	dup, err := q.Enqueue(ctx, "hybrid_v1", 20, 900*time.Second)
	require.NoError(t, err)
	assert.Equal(t, rec.JobID, dup.JobID)
}
