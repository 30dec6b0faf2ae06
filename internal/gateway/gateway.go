// Package gateway implements the HTTP contract over the cache, the job
// queue, and the synchronous fallback path.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/equityrun/equityrun/internal/config"
	"github.com/equityrun/equityrun/internal/jobs"
	"github.com/equityrun/equityrun/internal/metrics"
	"github.com/equityrun/equityrun/internal/models"
	"github.com/equityrun/equityrun/internal/pipeline"
	"github.com/equityrun/equityrun/internal/store"
)

// maxLimit caps the limit query parameter.
const maxLimit = 500

// Runner executes one synchronous discovery run; satisfied by
// pipeline.Coordinator.
type Runner interface {
	Run(ctx context.Context, strategy string, limit int, progress pipeline.Progress) (*models.DiscoveryResult, error)
}

// Gateway holds the contract logic. Handlers stay thin; everything
// decidable lives here so it can be tested without HTTP.
type Gateway struct {
	store   store.Store
	queue   *jobs.Queue
	runner  Runner
	cfg     config.Config
	metrics *metrics.Registry

	mu       sync.Mutex
	inFlight map[string]bool

	now func() time.Time
}

// New wires the gateway over its collaborators.
func New(s store.Store, q *jobs.Queue, r Runner, cfg config.Config, m *metrics.Registry) *Gateway {
	if m == nil {
		m = metrics.NewRegistry()
	}
	return &Gateway{
		store:    s,
		queue:    q,
		runner:   r,
		cfg:      cfg,
		metrics:  m,
		inFlight: make(map[string]bool),
		now:      time.Now,
	}
}

// clampLimit normalizes the limit query parameter.
func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

// Candidates resolves the primary contract: fresh cache hit, queued job, or
// synchronous fallback when no worker heartbeat is live.
func (g *Gateway) Candidates(ctx context.Context, strategy string, limit int, forceRefresh, tradeReadyOnly bool) (int, any) {
	limit = clampLimit(limit)

	if !forceRefresh {
		if resp, ok := g.cacheHit(ctx, strategy, limit, tradeReadyOnly); ok {
			g.metrics.CacheLookups.WithLabelValues("hit").Inc()
			return http.StatusOK, resp
		}
		g.metrics.CacheLookups.WithLabelValues("miss").Inc()
	}

	if g.workerAlive(ctx) {
		rec, err := g.queue.Enqueue(ctx, strategy, limit, g.cfg.JobTimeout)
		if err != nil {
			return g.fail(http.StatusInternalServerError, "QueueUnavailable", err)
		}
		return http.StatusAccepted, CandidatesResponse{
			Strategy: strategy,
			State:    "queued",
			JobID:    rec.JobID,
			PollURL:  fmt.Sprintf("/discovery/status?job_id=%s", rec.JobID),
		}
	}

	return g.syncFallback(ctx, strategy, limit, tradeReadyOnly)
}

// cacheHit serves a fresh cached result when one exists.
func (g *Gateway) cacheHit(ctx context.Context, strategy string, limit int, tradeReadyOnly bool) (CandidatesResponse, bool) {
	result, entry, err := pipeline.ReadContenders(ctx, g.store, store.ContendersKey(strategy))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Warn().Err(err).Str("strategy", strategy).Msg("Contender cache read failed")
		}
		return CandidatesResponse{}, false
	}
	if !entry.Fresh(g.now()) {
		return CandidatesResponse{}, false
	}

	cands := filterCandidates(result.Candidates, limit, tradeReadyOnly)
	return CandidatesResponse{
		Strategy:    strategy,
		State:       "ready",
		CacheHit:    true,
		Count:       len(cands),
		Candidates:  cands,
		RunID:       result.RunID,
		GeneratedAt: result.FinishedAt,
	}, true
}

// syncFallback runs the pipeline inline with a hard deadline. At most one
// fallback per strategy is in flight; excess requests get the stale copy
// when one exists and a 503 otherwise.
func (g *Gateway) syncFallback(ctx context.Context, strategy string, limit int, tradeReadyOnly bool) (int, any) {
	g.mu.Lock()
	if g.inFlight[strategy] {
		g.mu.Unlock()
		if result, entry, err := pipeline.ReadContenders(ctx, g.store, store.LastContendersKey(strategy)); err == nil {
			cands := filterCandidates(result.Candidates, limit, tradeReadyOnly)
			return http.StatusOK, CandidatesResponse{
				Strategy:    strategy,
				State:       "ready",
				Stale:       !entry.Fresh(g.now()),
				Count:       len(cands),
				Candidates:  cands,
				RunID:       result.RunID,
				GeneratedAt: result.FinishedAt,
			}
		}
		return g.fail(http.StatusServiceUnavailable, "FallbackBusy",
			fmt.Errorf("synchronous scan already in flight for %s", strategy))
	}
	g.inFlight[strategy] = true
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		delete(g.inFlight, strategy)
		g.mu.Unlock()
	}()

	log.Info().Str("strategy", strategy).Msg("No worker heartbeat, running synchronous fallback")

	// Detached from the request so a dropped client does not waste the scan;
	// the run still lands in the cache for the retry.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.cfg.FallbackTimeout)
	defer cancel()

	result, err := g.runner.Run(runCtx, strategy, limit, nil)
	if err != nil {
		kind := pipeline.KindOf(err)
		log.Error().Err(err).Str("strategy", strategy).Str("kind", string(kind)).
			Msg("Synchronous fallback failed")
		return g.fail(http.StatusInternalServerError, string(kind), err)
	}

	cands := filterCandidates(result.Candidates, limit, tradeReadyOnly)
	return http.StatusOK, CandidatesResponse{
		Strategy:     strategy,
		State:        "ready",
		FallbackMode: true,
		Count:        len(cands),
		Candidates:   cands,
		RunID:        result.RunID,
		GeneratedAt:  result.FinishedAt,
	}
}

// Last serves the long-TTL copy. Never errors: an empty store yields an
// empty stale response.
func (g *Gateway) Last(ctx context.Context, strategy string, limit int) (int, any) {
	limit = clampLimit(limit)

	result, entry, err := pipeline.ReadContenders(ctx, g.store, store.LastContendersKey(strategy))
	if err != nil {
		return http.StatusOK, CandidatesResponse{
			Strategy:   strategy,
			State:      "ready",
			Stale:      true,
			Candidates: []models.Candidate{},
		}
	}

	cands := filterCandidates(result.Candidates, limit, false)
	return http.StatusOK, CandidatesResponse{
		Strategy:    strategy,
		State:       "ready",
		Stale:       !entry.Fresh(g.now()),
		Count:       len(cands),
		Candidates:  cands,
		RunID:       result.RunID,
		GeneratedAt: result.FinishedAt,
	}
}

// Status returns the live JobRecord for a job.
func (g *Gateway) Status(ctx context.Context, jobID string) (int, any) {
	if jobID == "" {
		return g.fail(http.StatusBadRequest, "BadRequest", errors.New("job_id is required"))
	}
	rec, err := g.queue.Fetch(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return g.fail(http.StatusNotFound, "JobNotFound", fmt.Errorf("no job %s", jobID))
		}
		return g.fail(http.StatusInternalServerError, "CacheUnavailable", err)
	}
	return http.StatusOK, StatusResponse{Job: rec}
}

// Trigger forces a new run. Deliberately not idempotent.
func (g *Gateway) Trigger(ctx context.Context, strategy string, limit int) (int, any) {
	limit = clampLimit(limit)
	rec, err := g.queue.ForceEnqueue(ctx, strategy, limit, g.cfg.JobTimeout)
	if err != nil {
		return g.fail(http.StatusInternalServerError, "QueueUnavailable", err)
	}
	return http.StatusAccepted, TriggerResponse{
		State:   "queued",
		JobID:   rec.JobID,
		PollURL: fmt.Sprintf("/discovery/status?job_id=%s", rec.JobID),
	}
}

// Health reports liveness. 503 only when the store itself is down; a
// missing worker or empty cache is a degraded 200.
func (g *Gateway) Health(ctx context.Context) (int, any) {
	resp := HealthResponse{
		Status:               "ok",
		HeartbeatAgeSeconds:  -1,
		LastResultAgeSeconds: -1,
	}

	if err := g.store.Ping(ctx); err != nil {
		resp.Status = "down"
		return http.StatusServiceUnavailable, resp
	}
	resp.StoreOK = true

	if depth, err := g.queue.Depth(ctx); err == nil {
		resp.QueueDepth = depth
		g.metrics.QueueDepth.Set(float64(depth))
	}

	if age, ok := g.heartbeatAge(ctx); ok {
		resp.HeartbeatAgeSeconds = age.Seconds()
		resp.WorkerAlive = age < g.cfg.HeartbeatTTL
	}
	if !resp.WorkerAlive {
		resp.Status = "degraded"
	}

	if age, ok := g.lastResultAge(ctx); ok {
		resp.LastResultAgeSeconds = age.Seconds()
	}

	return http.StatusOK, resp
}

// workerAlive reports whether a worker heartbeat is younger than the TTL.
func (g *Gateway) workerAlive(ctx context.Context) bool {
	age, ok := g.heartbeatAge(ctx)
	return ok && age < g.cfg.HeartbeatTTL
}

func (g *Gateway) heartbeatAge(ctx context.Context) (time.Duration, bool) {
	var hb models.Heartbeat
	if err := store.GetJSON(ctx, g.store, store.HeartbeatKey, &hb); err != nil {
		return 0, false
	}
	return g.now().Sub(hb.WrittenAt), true
}

// lastResultAge finds the freshest written contender payload across
// strategies.
func (g *Gateway) lastResultAge(ctx context.Context) (time.Duration, bool) {
	keys, err := g.store.Keys(ctx, "discovery:contenders:last:*")
	if err != nil || len(keys) == 0 {
		return 0, false
	}
	var newest time.Time
	for _, key := range keys {
		if _, entry, err := pipeline.ReadContenders(ctx, g.store, key); err == nil {
			if entry.WrittenAt.After(newest) {
				newest = entry.WrittenAt
			}
		}
	}
	if newest.IsZero() {
		return 0, false
	}
	return g.now().Sub(newest), true
}

func (g *Gateway) fail(code int, kind string, err error) (int, any) {
	return code, ErrorResponse{ErrorKind: kind, Message: err.Error()}
}

// filterCandidates applies the trade-ready filter and the limit, preserving
// the stored order.
func filterCandidates(cands []models.Candidate, limit int, tradeReadyOnly bool) []models.Candidate {
	out := make([]models.Candidate, 0, limit)
	for _, c := range cands {
		if tradeReadyOnly && c.Classification != models.TradeReady {
			continue
		}
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out
}
