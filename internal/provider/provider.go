// Package provider defines the market-data surface the discovery pipeline
// consumes. Concrete clients live in subpackages; the pipeline only ever sees
// this interface so tests can inject fakes.
package provider

import (
	"context"
	"time"

	"github.com/equityrun/equityrun/internal/models"
)

// MarketData is the upstream surface used by the universe loader, snapshot
// filter and scorer. Implementations must be safe for concurrent use.
type MarketData interface {
	// GroupedDaily returns one OHLCV bar per symbol for a whole session.
	GroupedDaily(ctx context.Context, date time.Time) ([]models.RawBar, error)

	// SnapshotAll returns the current-session snapshot for every symbol.
	SnapshotAll(ctx context.Context) (map[string]models.Snapshot, error)

	// PrevDay returns the previous session's bar for one symbol.
	PrevDay(ctx context.Context, symbol string) (models.RawBar, error)

	// Aggregates returns daily bars for a symbol over [from, to].
	Aggregates(ctx context.Context, symbol string, span string, from, to time.Time) ([]models.RawBar, error)

	// TickerDetailsBatch returns reference details for a set of symbols.
	TickerDetailsBatch(ctx context.Context, symbols []string) ([]TickerDetails, error)

	// ReferenceTickers pages through the common-stock reference list; used as
	// the universe fallback when the grouped endpoint runs thin.
	ReferenceTickers(ctx context.Context, maxPages int) ([]TickerDetails, error)
}

// TickerDetails is the reference record for one listed symbol.
type TickerDetails struct {
	Symbol       string   `json:"symbol"`
	Name         string   `json:"name"`
	SecurityType string   `json:"security_type"`
	Exchange     string   `json:"exchange"`
	FloatShares  *float64 `json:"float_shares,omitempty"`
}
