// Package snapshot applies the second-pass, current-session filter over the
// pre-filtered universe.
package snapshot

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/equityrun/equityrun/internal/config"
	"github.com/equityrun/equityrun/internal/models"
	"github.com/equityrun/equityrun/internal/provider"
)

// Filter re-checks the price band and dollar-volume floor against the live
// session and caps the surviving list at UNIVERSE_K, preserving input order.
type Filter struct {
	provider provider.MarketData
	cfg      config.Config
}

// NewFilter creates a snapshot filter over the given provider.
func NewFilter(p provider.MarketData, cfg config.Config) *Filter {
	return &Filter{provider: p, cfg: cfg}
}

// Apply fetches one snapshot of the whole market and filters the universe
// rows against it. Symbols with no snapshot are dropped: no current-session
// state means nothing to score.
func (f *Filter) Apply(ctx context.Context, rows []models.UniverseRow) ([]models.Snapshot, error) {
	snaps, err := f.provider.SnapshotAll(ctx)
	if err != nil {
		return nil, err
	}

	floor := f.cfg.MinDollarVolM * 1e6
	out := make([]models.Snapshot, 0, len(rows))

	for _, row := range rows {
		snap, ok := snaps[row.Symbol]
		if !ok {
			continue
		}
		if snap.LastPrice < f.cfg.PriceMin || snap.LastPrice > f.cfg.PriceMax {
			continue
		}
		if snap.DayVolume > 0 && snap.LastPrice*snap.DayVolume < floor {
			continue
		}
		out = append(out, snap)
		if len(out) >= f.cfg.UniverseK {
			break
		}
	}

	log.Info().Int("in", len(rows)).Int("out", len(out)).Int("cap", f.cfg.UniverseK).
		Msg("Snapshot filter applied")
	return out, nil
}
