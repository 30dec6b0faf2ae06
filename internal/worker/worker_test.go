package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/equityrun/equityrun/internal/config"
	"github.com/equityrun/equityrun/internal/jobs"
	"github.com/equityrun/equityrun/internal/models"
	"github.com/equityrun/equityrun/internal/pipeline"
	"github.com/equityrun/equityrun/internal/store"
)

type fakeRunner struct {
	result *models.DiscoveryResult
	err    error
	panics bool
	block  bool
}

func (f *fakeRunner) Run(ctx context.Context, strategy string, limit int, progress pipeline.Progress) (*models.DiscoveryResult, error) {
	if f.panics {
		panic("scoring table corrupted")
	}
	if f.block {
		<-ctx.Done()
		return nil, &pipeline.Error{Kind: pipeline.KindCanceled, Err: ctx.Err()}
	}
	if progress != nil {
		progress("scoring", 50, 100, 2)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.UpstreamAPIKey = "test-key"
	return cfg
}

func newTestWorker(r Runner, cfg config.Config) (*Worker, store.Store, *jobs.Queue) {
	s := store.NewMemory()
	q := jobs.NewQueue(s, time.Hour)
	return New(s, q, r, cfg, nil), s, q
}

func TestProcess_FinishesJob(t *testing.T) {
	runner := &fakeRunner{result: &models.DiscoveryResult{
		RunID:       "r-1",
		StrategyTag: "hybrid_v1",
		ScoredCount: 100,
	}}
	w, _, q := newTestWorker(runner, testConfig())
	ctx := context.Background()

	rec, err := q.Enqueue(ctx, "hybrid_v1", 20, 900*time.Second)
	require.NoError(t, err)

	w.process(ctx, rec)

	got, err := q.Fetch(ctx, rec.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFinished, got.State)
	assert.Equal(t, 100, got.ProgressPct)
	assert.Equal(t, store.ContendersKey("hybrid_v1"), got.ResultRef)
	assert.False(t, got.FinishedAt.IsZero())
}

func TestProcess_FailureRecordsKind(t *testing.T) {
	runner := &fakeRunner{err: &pipeline.Error{
		Kind: pipeline.KindUniverseFloorBreached,
		Err:  assert.AnError,
	}}
	w, _, q := newTestWorker(runner, testConfig())
	ctx := context.Background()

	rec, err := q.Enqueue(ctx, "hybrid_v1", 20, 900*time.Second)
	require.NoError(t, err)

	w.process(ctx, rec)

	got, err := q.Fetch(ctx, rec.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.State)
	assert.Equal(t, "UniverseFloorBreached", got.ErrorKind)
	assert.NotEmpty(t, got.Error)
}

func TestProcess_PanicBecomesFailedRecord(t *testing.T) {
	w, _, q := newTestWorker(&fakeRunner{panics: true}, testConfig())
	ctx := context.Background()

	rec, err := q.Enqueue(ctx, "hybrid_v1", 20, 900*time.Second)
	require.NoError(t, err)

	require.NotPanics(t, func() { w.process(ctx, rec) })

	got, err := q.Fetch(ctx, rec.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.State)
	assert.Contains(t, got.Error, "panicked")
}

func TestProcess_JobTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.JobTimeout = 50 * time.Millisecond
	w, _, q := newTestWorker(&fakeRunner{block: true}, cfg)
	ctx := context.Background()

	rec, err := q.Enqueue(ctx, "hybrid_v1", 20, 0)
	require.NoError(t, err)

	w.process(ctx, rec)

	got, err := q.Fetch(ctx, rec.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.State)
	assert.Equal(t, "JobTimeout", got.ErrorKind)
}

func TestProcess_DrainCancellationIsNotATimeout(t *testing.T) {
	cfg := testConfig()
	cfg.DrainGrace = 10 * time.Millisecond
	w, _, q := newTestWorker(&fakeRunner{block: true}, cfg)

	rec, err := q.Enqueue(context.Background(), "hybrid_v1", 20, 900*time.Second)
	require.NoError(t, err)

	// A shutdown already in progress: the job gets the drain grace, then its
	// context is canceled rather than timing out.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.process(ctx, rec)

	got, err := q.Fetch(context.Background(), rec.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.State)
	assert.Equal(t, "Canceled", got.ErrorKind)
}

func TestRun_ConsumesQueueAndHeartbeats(t *testing.T) {
	runner := &fakeRunner{result: &models.DiscoveryResult{StrategyTag: "hybrid_v1"}}
	w, s, q := newTestWorker(runner, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec, err := q.Enqueue(ctx, "hybrid_v1", 20, 900*time.Second)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		got, err := q.Fetch(context.Background(), rec.JobID)
		return err == nil && got.State == models.JobFinished
	}, 2*time.Second, 10*time.Millisecond)

	var hb models.Heartbeat
	require.NoError(t, store.GetJSON(context.Background(), s, store.HeartbeatKey, &hb))
	assert.NotEmpty(t, hb.WorkerID)
	assert.False(t, hb.Draining)
	assert.WithinDuration(t, time.Now().UTC(), hb.WrittenAt, 5*time.Second)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("worker did not drain after cancel")
	}
}

func TestRun_BootCheckRejectsMissingKey(t *testing.T) {
	cfg := config.Default() // no API key
	w, _, _ := newTestWorker(&fakeRunner{}, cfg)

	err := w.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boot check")
}

func TestScoringSelfCheck(t *testing.T) {
	assert.NoError(t, scoringSelfCheck())
}
