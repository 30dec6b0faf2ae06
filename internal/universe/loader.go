// Package universe fetches and locally filters the daily universe of
// tradable common-stock symbols.
package universe

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/equityrun/equityrun/internal/config"
	"github.com/equityrun/equityrun/internal/models"
	"github.com/equityrun/equityrun/internal/provider"
)

// ErrFloorBreached marks a universe too thin to trade on. The loader fails
// the run rather than silently shipping a thin universe.
type ErrFloorBreached struct {
	Got  int
	Want int
}

func (e *ErrFloorBreached) Error() string {
	return fmt.Sprintf("universe floor breached: %d rows fetched, %d expected", e.Got, e.Want)
}

// Loader fetches the grouped session and applies the in-process filters.
type Loader struct {
	provider provider.MarketData
	cfg      config.Config
}

// NewLoader creates a universe loader over the given market-data provider.
func NewLoader(p provider.MarketData, cfg config.Config) *Loader {
	return &Loader{provider: p, cfg: cfg}
}

// Load returns the filtered universe for the session containing now, plus
// the per-filter stats record served by the health contract.
func (l *Loader) Load(ctx context.Context, now time.Time) ([]models.UniverseRow, models.FilterStats, error) {
	var stats models.FilterStats

	date := TradingDate(now)
	bars, err := l.provider.GroupedDaily(ctx, date)
	if err != nil {
		log.Warn().Err(err).Str("date", date.Format("2006-01-02")).Msg("Grouped daily fetch failed")
		bars = nil
	}

	names := map[string]string{}
	types := map[string]string{}

	if len(bars) < l.cfg.UniverseMinExpected {
		// Thin grouped response: merge in the paged reference list so a
		// partial grouped outage does not sink the whole session.
		log.Warn().Int("rows", len(bars)).Int("floor", l.cfg.UniverseMinExpected).
			Msg("Grouped universe thin, falling back to reference tickers")

		refs, refErr := l.provider.ReferenceTickers(ctx, 10)
		if refErr != nil {
			log.Error().Err(refErr).Msg("Reference ticker fallback failed")
		}

		seen := make(map[string]bool, len(bars))
		for _, b := range bars {
			seen[b.Symbol] = true
		}
		for _, r := range refs {
			names[r.Symbol] = r.Name
			types[r.Symbol] = r.SecurityType
			if !seen[r.Symbol] {
				// Reference rows have no session bar; they flow through with
				// zero volume and are re-priced at the snapshot stage.
				bars = append(bars, models.RawBar{Symbol: r.Symbol})
				seen[r.Symbol] = true
			}
		}

		if len(bars) < l.cfg.UniverseMinExpected {
			return nil, stats, &ErrFloorBreached{Got: len(bars), Want: l.cfg.UniverseMinExpected}
		}
	}

	stats.TotalFetched = len(bars)
	rows := make([]models.UniverseRow, 0, len(bars))

	for _, b := range bars {
		// Price bound. Rows without a close (reference fallback) defer the
		// check to the snapshot stage.
		if b.Close > 0 && (b.Close < l.cfg.PriceMin || b.Close > l.cfg.PriceMax) {
			continue
		}
		rows = append(rows, models.UniverseRow{Symbol: b.Symbol, Price: b.Close, Volume: b.Volume})
	}
	stats.AfterPrice = len(rows)

	filtered := rows[:0]
	for _, r := range rows {
		if isFundOrLeveraged(r.Symbol, names[r.Symbol], types[r.Symbol]) {
			continue
		}
		filtered = append(filtered, r)
	}
	rows = filtered
	stats.AfterFund = len(rows)

	floor := l.cfg.MinDollarVolM * 1e6
	filtered = rows[:0]
	for _, r := range rows {
		// Missing volume passes through to the snapshot stage.
		if r.Volume > 0 && r.Price*r.Volume < floor {
			continue
		}
		filtered = append(filtered, r)
	}
	rows = filtered
	stats.AfterVolume = len(rows)
	stats.FinalCount = len(rows)

	log.Info().
		Int("fetched", stats.TotalFetched).
		Int("after_price", stats.AfterPrice).
		Int("after_fund", stats.AfterFund).
		Int("final", stats.FinalCount).
		Str("date", date.Format("2006-01-02")).
		Msg("Universe loaded")

	return rows, stats, nil
}
