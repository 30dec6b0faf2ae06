// Package pipeline orchestrates one discovery run end to end: lock,
// universe, snapshot, chunked scoring, ranking, cache write.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/equityrun/equityrun/internal/config"
	"github.com/equityrun/equityrun/internal/metrics"
	"github.com/equityrun/equityrun/internal/models"
	"github.com/equityrun/equityrun/internal/provider"
	"github.com/equityrun/equityrun/internal/scoring"
	"github.com/equityrun/equityrun/internal/snapshot"
	"github.com/equityrun/equityrun/internal/store"
	"github.com/equityrun/equityrun/internal/universe"
)

// chunkSize is how many symbols each scoring wave covers. Progress and the
// early-stop check both land on chunk boundaries.
const chunkSize = 100

// Progress receives per-chunk run updates; used to keep job records live
// while a run is in flight. May be nil.
type Progress func(stage string, pct int, scanned, tradeReady int)

// Coordinator runs discovery. One Coordinator per process; each Run builds
// its own Scorer so no scoring state leaks between runs.
type Coordinator struct {
	provider provider.MarketData
	store    store.Store
	cfg      config.Config
	metrics  *metrics.Registry

	now func() time.Time
}

// NewCoordinator wires a coordinator over the given collaborators.
func NewCoordinator(p provider.MarketData, s store.Store, cfg config.Config, m *metrics.Registry) *Coordinator {
	if m == nil {
		m = metrics.NewRegistry()
	}
	return &Coordinator{
		provider: p,
		store:    s,
		cfg:      cfg,
		metrics:  m,
		now:      time.Now,
	}
}

// Run executes one full discovery pass for a strategy and returns the
// persisted result. Failures come back as *Error with a stable kind.
func (c *Coordinator) Run(ctx context.Context, strategy string, limit int, progress Progress) (*models.DiscoveryResult, error) {
	if limit <= 0 {
		limit = 20
	}
	if progress == nil {
		progress = func(string, int, int, int) {}
	}

	started := c.now().UTC()
	runID := uuid.New().String()
	logger := log.With().Str("run_id", runID[:8]).Str("strategy", strategy).Logger()

	lock, err := store.AcquireLock(ctx, c.store, strategy, c.cfg.JobTimeout+time.Minute)
	if err != nil {
		if errors.Is(err, store.ErrLockHeld) {
			return nil, &Error{Kind: KindLockContended, Err: err}
		}
		return nil, &Error{Kind: KindStoreFailed, Err: err}
	}
	defer lock.Release(context.WithoutCancel(ctx))

	// A lost lock means another run may be writing; abort instead of racing.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	lost := lock.KeepRefreshed(runCtx, (c.cfg.JobTimeout+time.Minute)/3)
	go func() {
		select {
		case <-lost:
			cancel()
		case <-runCtx.Done():
		}
	}()

	timings := make(map[string]int64)
	stage := func(name string, since time.Time) {
		d := c.now().Sub(since)
		timings[name] = d.Milliseconds()
		c.metrics.ObserveStage(name, d)
	}

	progress("universe", 5, 0, 0)
	t := c.now()
	rows, stats, err := universe.NewLoader(c.provider, c.cfg).Load(runCtx, started)
	if err != nil {
		var floor *universe.ErrFloorBreached
		if errors.As(err, &floor) {
			return nil, &Error{Kind: KindUniverseFloorBreached, Err: err}
		}
		return nil, &Error{Kind: KindSnapshotFailed, Err: fmt.Errorf("universe load: %w", err)}
	}
	stage("universe", t)

	progress("snapshot", 15, 0, 0)
	t = c.now()
	snaps, err := snapshot.NewFilter(c.provider, c.cfg).Apply(runCtx, rows)
	if err != nil {
		return nil, &Error{Kind: KindSnapshotFailed, Err: err}
	}
	stage("snapshot", t)

	logger.Info().Int("universe", len(rows)).Int("snapshots", len(snaps)).Msg("Scoring stage starting")

	t = c.now()
	candidates, scored, skipped, upstreamErrs := c.scoreAll(runCtx, snaps, progress)
	stage("scoring", t)

	if runCtx.Err() != nil && ctx.Err() == nil {
		return nil, &Error{Kind: KindLockContended, Err: errors.New("lock lost during run")}
	}
	if ctx.Err() != nil {
		return nil, &Error{Kind: kindForContext(ctx.Err()), Err: ctx.Err()}
	}

	sortCandidates(candidates)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	result := models.DiscoveryResult{
		RunID:              runID,
		StartedAt:          started,
		FinishedAt:         c.now().UTC(),
		StrategyTag:        strategy,
		UniverseCount:      stats.TotalFetched,
		PrefilterCount:     stats.FinalCount,
		SnapshotCount:      len(snaps),
		ScoredCount:        scored,
		SkippedCount:       skipped,
		UpstreamErrorCount: upstreamErrs,
		Candidates:         candidates,
		StageTimingsMs:     timings,
		EngineVersion:      models.EngineVersion,
	}

	progress("persist", 95, scored, countTradeReady(candidates))
	if err := WriteContenders(ctx, c.store, result, c.cfg.CacheTTL, c.cfg.LastResultTTL); err != nil {
		return nil, &Error{Kind: KindStoreFailed, Err: err}
	}

	for _, class := range []models.Classification{models.TradeReady, models.Builder, models.Monitor} {
		c.metrics.ScanCandidates.WithLabelValues(string(class)).Observe(float64(countClass(candidates, class)))
	}

	logger.Info().
		Int("scored", scored).
		Int("skipped", skipped).
		Int("upstream_errors", upstreamErrs).
		Int("candidates", len(candidates)).
		Dur("elapsed", result.FinishedAt.Sub(started)).
		Msg("Discovery run finished")

	return &result, nil
}

// scoreAll fans symbols out in fixed chunks with bounded concurrency. Early
// stop is only evaluated between chunks so a run never abandons symbols
// mid-wave.
func (c *Coordinator) scoreAll(ctx context.Context, snaps []models.Snapshot, progress Progress) (candidates []models.Candidate, scored, skipped, upstreamErrs int) {
	scorer := scoring.NewScorer(c.provider, c.cfg)
	sem := make(chan struct{}, c.cfg.Concurrency)
	now := c.now().UTC()

	scanned := 0
	for start := 0; start < len(snaps); start += chunkSize {
		if ctx.Err() != nil {
			return
		}

		end := start + chunkSize
		if end > len(snaps) {
			end = len(snaps)
		}
		chunk := snaps[start:end]

		var (
			mu sync.Mutex
			wg sync.WaitGroup
		)
		for _, snap := range chunk {
			wg.Add(1)
			go func(snap models.Snapshot) {
				defer wg.Done()
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-ctx.Done():
					return
				}

				cand, err := scorer.Score(ctx, snap, now)
				mu.Lock()
				defer mu.Unlock()
				scanned++
				switch {
				case err != nil:
					var sk *scoring.ErrSkipped
					if errors.As(err, &sk) {
						skipped++
					} else {
						upstreamErrs++
						log.Debug().Err(err).Str("symbol", snap.Symbol).Msg("Symbol scoring failed")
					}
				default:
					scored++
					if cand != nil {
						candidates = append(candidates, *cand)
					}
				}
			}(snap)
		}
		wg.Wait()

		tradeReady := countTradeReady(candidates)
		pct := 20 + 70*(end)/len(snaps)
		progress("scoring", pct, scanned, tradeReady)

		if scanned >= c.cfg.EarlyStopScan && tradeReady >= c.cfg.TargetTradeReady {
			log.Info().Int("scanned", scanned).Int("trade_ready", tradeReady).
				Msg("Early stop criteria met")
			return
		}
	}
	return
}

// sortCandidates orders by score desc, then dollar volume desc, then symbol
// asc so equal-score runs are stable.
func sortCandidates(cands []models.Candidate) {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].TotalScore != cands[j].TotalScore {
			return cands[i].TotalScore > cands[j].TotalScore
		}
		if cands[i].DollarVolume != cands[j].DollarVolume {
			return cands[i].DollarVolume > cands[j].DollarVolume
		}
		return cands[i].Symbol < cands[j].Symbol
	})
}

func countTradeReady(cands []models.Candidate) int {
	return countClass(cands, models.TradeReady)
}

func countClass(cands []models.Candidate, class models.Classification) int {
	n := 0
	for _, c := range cands {
		if c.Classification == class {
			n++
		}
	}
	return n
}
