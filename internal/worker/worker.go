// Package worker hosts the long-running discovery consumer: it polls the
// job queue, runs the pipeline, and keeps the liveness heartbeat fresh.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/equityrun/equityrun/internal/config"
	"github.com/equityrun/equityrun/internal/jobs"
	"github.com/equityrun/equityrun/internal/metrics"
	"github.com/equityrun/equityrun/internal/models"
	"github.com/equityrun/equityrun/internal/pipeline"
	"github.com/equityrun/equityrun/internal/scoring"
	"github.com/equityrun/equityrun/internal/store"
)

const (
	heartbeatEvery = 30 * time.Second
	pollTimeout    = 5 * time.Second
)

// Runner executes one discovery run; satisfied by pipeline.Coordinator.
type Runner interface {
	Run(ctx context.Context, strategy string, limit int, progress pipeline.Progress) (*models.DiscoveryResult, error)
}

// Worker consumes the discovery queue until its context ends. A canceled
// context drains: the in-flight job finishes (bounded by the drain grace)
// before the worker exits.
type Worker struct {
	id      string
	store   store.Store
	queue   *jobs.Queue
	runner  Runner
	cfg     config.Config
	metrics *metrics.Registry
}

// New builds a worker with a fresh worker ID.
func New(s store.Store, q *jobs.Queue, r Runner, cfg config.Config, m *metrics.Registry) *Worker {
	if m == nil {
		m = metrics.NewRegistry()
	}
	return &Worker{
		id:      uuid.New().String()[:8],
		store:   s,
		queue:   q,
		runner:  r,
		cfg:     cfg,
		metrics: m,
	}
}

// Run validates the environment, starts the heartbeat, and consumes jobs
// until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.bootCheck(ctx); err != nil {
		return fmt.Errorf("worker: boot check: %w", err)
	}

	log.Info().Str("worker_id", w.id).Msg("Worker started")
	go w.heartbeatLoop(ctx)

	for {
		if ctx.Err() != nil {
			log.Info().Str("worker_id", w.id).Msg("Worker drained, exiting")
			return nil
		}

		rec, err := w.queue.PollReady(ctx, pollTimeout)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) || errors.Is(err, context.Canceled) {
				continue
			}
			log.Warn().Err(err).Msg("Queue poll failed")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			continue
		}

		if depth, err := w.queue.Depth(ctx); err == nil {
			w.metrics.QueueDepth.Set(float64(depth))
		}
		w.process(ctx, rec)
	}
}

// bootCheck fails fast on a misconfigured process: config sanity, store
// reachability, and a scoring self-check on a fixed fixture.
func (w *Worker) bootCheck(ctx context.Context) error {
	if err := w.cfg.Validate(false); err != nil {
		return err
	}
	if err := w.store.Ping(ctx); err != nil {
		return fmt.Errorf("store unreachable: %w", err)
	}
	return scoringSelfCheck()
}

// scoringSelfCheck scores a fixed feature set twice and verifies the model
// is in range and deterministic. Catches a miscompiled or corrupted scoring
// table before the worker takes traffic.
func scoringSelfCheck() error {
	f := models.TickerFeatures{
		Symbol:          "SELFCHK",
		Price:           12.50,
		DollarVolume:    40e6,
		ChangePct:       6.0,
		RSI:             62,
		EMA9:            12.3,
		EMA20:           11.9,
		VWAP:            12.1,
		ATRPct:          4.0,
		RelVolCurrent:   5.0,
		RelVolSustained: 4.0,
		VWAPReclaimAge:  -1,
	}
	first := scoring.TotalScore(scoring.ScoreComponents(f), scoring.Multiplier(f))
	second := scoring.TotalScore(scoring.ScoreComponents(f), scoring.Multiplier(f))
	if first != second {
		return fmt.Errorf("scoring self-check not deterministic: %d vs %d", first, second)
	}
	if first < 0 || first > 100 {
		return fmt.Errorf("scoring self-check out of range: %d", first)
	}
	return nil
}

// heartbeatLoop writes the liveness record every 30s. The gateway treats a
// heartbeat older than the TTL as an absent worker and falls back to
// synchronous scans.
func (w *Worker) heartbeatLoop(ctx context.Context) {
	write := func(draining bool) {
		hb := models.Heartbeat{WorkerID: w.id, WrittenAt: time.Now().UTC(), Draining: draining}
		hbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := store.SetJSON(hbCtx, w.store, store.HeartbeatKey, hb, w.cfg.HeartbeatTTL); err != nil {
			log.Warn().Err(err).Msg("Heartbeat write failed")
		}
	}

	write(false)
	ticker := time.NewTicker(heartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			write(true)
			return
		case <-ticker.C:
			write(false)
		}
	}
}

// process runs one job to a terminal state. Panics in the pipeline are
// converted to a failed record so the worker survives.
func (w *Worker) process(ctx context.Context, rec models.JobRecord) {
	logger := log.With().Str("job_id", rec.JobID).Str("strategy", rec.Strategy).Logger()

	timeout := w.cfg.JobTimeout
	if rec.TimeoutSeconds > 0 {
		timeout = time.Duration(rec.TimeoutSeconds) * time.Second
	}

	// Detach from the worker context so draining does not kill the job, but
	// bound the overhang by the drain grace once a shutdown is requested.
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
			select {
			case <-time.After(w.cfg.DrainGrace):
				cancel()
			case <-jobCtx.Done():
			}
		case <-jobCtx.Done():
		}
	}()

	rec.State = models.JobRunning
	rec.StartedAt = time.Now().UTC()
	rec.StageLabel = "starting"
	if err := w.queue.Update(jobCtx, rec); err != nil {
		logger.Error().Err(err).Msg("Job record update failed")
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("Discovery run panicked")
			w.finish(jobCtx, rec, "", fmt.Errorf("run panicked: %v", r), string(pipeline.KindStoreFailed))
		}
	}()

	progress := func(stage string, pct int, scanned, tradeReady int) {
		rec.StageLabel = stage
		rec.ProgressPct = pct
		rec.ScannedSoFar = scanned
		rec.TradeReadySoFar = tradeReady
		if err := w.queue.Update(jobCtx, rec); err != nil {
			logger.Warn().Err(err).Msg("Progress update failed")
		}
	}

	result, err := w.runner.Run(jobCtx, rec.Strategy, rec.Limit, progress)
	if err != nil {
		kind := pipeline.KindOf(err)
		// A run cut short because the job deadline expired is a timeout, not
		// a cancellation, regardless of how the pipeline labeled it.
		if kind == pipeline.KindCanceled && errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
			kind = pipeline.KindJobTimeout
		}
		w.finish(jobCtx, rec, "", err, string(kind))
		return
	}

	rec.ScannedSoFar = result.ScoredCount + result.SkippedCount + result.UpstreamErrorCount
	w.finish(jobCtx, rec, store.ContendersKey(rec.Strategy), nil, "")
}

// finish writes the terminal job record.
func (w *Worker) finish(ctx context.Context, rec models.JobRecord, resultRef string, runErr error, kind string) {
	rec.FinishedAt = time.Now().UTC()
	if runErr != nil {
		rec.State = models.JobFailed
		rec.ErrorKind = kind
		rec.Error = runErr.Error()
	} else {
		rec.State = models.JobFinished
		rec.ProgressPct = 100
		rec.StageLabel = "done"
		rec.ResultRef = resultRef
	}
	w.metrics.JobsProcessed.WithLabelValues(string(rec.State)).Inc()

	// Best effort even when the job context is already gone.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := w.queue.Update(wctx, rec); err != nil {
		log.Error().Err(err).Str("job_id", rec.JobID).Msg("Terminal job record write failed")
	}

	log.Info().Str("job_id", rec.JobID).Str("state", string(rec.State)).
		Str("error_kind", rec.ErrorKind).Msg("Job finished")
}
