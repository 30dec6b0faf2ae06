// Package scoring turns filtered snapshots into classified candidates via
// the six-component deterministic scoring model.
package scoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/equityrun/equityrun/internal/config"
	"github.com/equityrun/equityrun/internal/models"
	"github.com/equityrun/equityrun/internal/provider"
)

// ErrSkipped marks a per-symbol scoring failure. Never fatal for the run;
// the coordinator counts these.
type ErrSkipped struct {
	Symbol string
	Reason string
}

func (e *ErrSkipped) Error() string {
	return fmt.Sprintf("scoring skipped for %s: %s", e.Symbol, e.Reason)
}

// Scorer scores one symbol at a time. It memoizes historical aggregates and
// owns the sliding rvol window for the run; both are internal and do not
// survive the run.
type Scorer struct {
	provider provider.MarketData
	cfg      config.Config
	baseline BaselineFunc
	rvol     *RvolWindow

	mu         sync.Mutex
	aggsMemo   map[string][]models.RawBar
	detailMemo map[string]*provider.TickerDetails
	belowVWAP  map[string]bool
	reclaimAt  map[string]time.Time
}

// NewScorer creates a scorer for one discovery run.
func NewScorer(p provider.MarketData, cfg config.Config) *Scorer {
	return &Scorer{
		provider:   p,
		cfg:        cfg,
		baseline:   DefaultBaseline,
		rvol:       NewRvolWindow(cfg.RvolWindow, cfg.RvolThreshold),
		aggsMemo:   make(map[string][]models.RawBar),
		detailMemo: make(map[string]*provider.TickerDetails),
		belowVWAP:  make(map[string]bool),
		reclaimAt:  make(map[string]time.Time),
	}
}

// SetBaseline overrides the baseline-derivation policy.
func (s *Scorer) SetBaseline(fn BaselineFunc) {
	if fn != nil {
		s.baseline = fn
	}
}

// Score evaluates one symbol at the given instant. Returns (nil, nil) when
// the symbol classifies as IGNORE; only non-IGNORE candidates are emitted.
func (s *Scorer) Score(ctx context.Context, snap models.Snapshot, now time.Time) (*models.Candidate, error) {
	bars, err := s.history(ctx, snap.Symbol, now)
	if err != nil {
		return nil, err
	}
	if len(bars) < minHistoryBars {
		return nil, &ErrSkipped{Symbol: snap.Symbol, Reason: fmt.Sprintf("only %d history bars", len(bars))}
	}

	histAvg := AverageVolume(bars, 20)
	baseline := s.baseline(snap.Symbol, histAvg, now)
	if baseline <= 0 {
		return nil, &ErrSkipped{Symbol: snap.Symbol, Reason: "no volume baseline"}
	}

	relVolCurrent := snap.DayVolume / baseline
	relVolSustained := s.rvol.Observe(snap.Symbol, relVolCurrent, now)
	reclaimAge := s.trackVWAPReclaim(snap.Symbol, snap.LastPrice, RollingVWAP(bars), now)

	features := BuildFeatures(bars, snap, relVolCurrent, relVolSustained, reclaimAge)
	s.attachStructural(ctx, &features)

	components := ScoreComponents(features)
	multiplier := Multiplier(features)
	total := TotalScore(components, multiplier)

	classification := s.cfg.Classify.Classify(total)
	if classification == models.Ignore {
		return nil, nil
	}

	candidate := &models.Candidate{
		Symbol:          snap.Symbol,
		Price:           features.Price,
		Volume:          snap.DayVolume,
		DollarVolume:    features.DollarVolume,
		ChangePct:       features.ChangePct,
		RelVolCurrent:   features.RelVolCurrent,
		RelVolSustained: features.RelVolSustained,
		Components:      components,
		TotalScore:      total,
		Classification:  classification,
		EntrySignal:     EntrySignal(features, s.cfg.PriceMin, s.cfg.PriceMax, s.cfg.RvolThreshold),
		Technical: models.TechnicalSnapshot{
			EMA9:          features.EMA9,
			EMA20:         features.EMA20,
			RSI:           features.RSI,
			VWAP:          features.VWAP,
			ATRPct:        features.ATRPct,
			ExtensionATRs: features.ExtensionATRs,
		},
	}

	log.Debug().Str("symbol", snap.Symbol).Int("total", total).
		Str("class", string(classification)).Msg("Symbol scored")
	return candidate, nil
}

// history fetches and memoizes the daily aggregates for a symbol.
func (s *Scorer) history(ctx context.Context, symbol string, now time.Time) ([]models.RawBar, error) {
	s.mu.Lock()
	if bars, ok := s.aggsMemo[symbol]; ok {
		s.mu.Unlock()
		return bars, nil
	}
	s.mu.Unlock()

	from := now.AddDate(0, 0, -45) // ~30 sessions of calendar margin
	bars, err := s.provider.Aggregates(ctx, symbol, "day", from, now)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.aggsMemo[symbol] = bars
	s.mu.Unlock()
	return bars, nil
}

// attachStructural pulls reference details for symbols showing unusual
// volume. Bounded to the interesting set so the detail endpoint does not
// dominate the request budget.
func (s *Scorer) attachStructural(ctx context.Context, f *models.TickerFeatures) {
	if f.RelVolCurrent < s.cfg.RvolThreshold {
		return
	}

	s.mu.Lock()
	d, seen := s.detailMemo[f.Symbol]
	s.mu.Unlock()

	if !seen {
		details, err := s.provider.TickerDetailsBatch(ctx, []string{f.Symbol})
		if err == nil && len(details) > 0 {
			d = &details[0]
		}
		s.mu.Lock()
		s.detailMemo[f.Symbol] = d
		s.mu.Unlock()
	}

	if d != nil && d.FloatShares != nil {
		f.FloatShares = d.FloatShares
		f.MissingFields--
	}
}

// trackVWAPReclaim records below/above VWAP transitions and returns the age
// of the most recent reclaim, or -1 when none has happened.
func (s *Scorer) trackVWAPReclaim(symbol string, price, vwap float64, now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if vwap <= 0 {
		return -1
	}

	wasBelow := s.belowVWAP[symbol]
	below := price < vwap
	s.belowVWAP[symbol] = below

	if wasBelow && !below {
		s.reclaimAt[symbol] = now
	}

	if at, ok := s.reclaimAt[symbol]; ok {
		return now.Sub(at)
	}
	return -1
}
