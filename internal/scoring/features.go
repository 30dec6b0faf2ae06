package scoring

import (
	"time"

	"github.com/equityrun/equityrun/internal/models"
)

// minHistoryBars is the minimum daily history the indicator stack needs.
const minHistoryBars = 20

// BuildFeatures combines historical bars and the current snapshot into the
// scorer input. Pure: the evaluation instant and rvol readings arrive as
// arguments.
func BuildFeatures(bars []models.RawBar, snap models.Snapshot, relVolCurrent, relVolSustained float64, reclaimAge time.Duration) models.TickerFeatures {
	price := snap.LastPrice

	f := models.TickerFeatures{
		Symbol:          snap.Symbol,
		Price:           price,
		DollarVolume:    price * snap.DayVolume,
		RelVolCurrent:   relVolCurrent,
		RelVolSustained: relVolSustained,
		VWAPReclaimAge:  reclaimAge,
	}

	if snap.PrevClose > 0 {
		f.ChangePct = (price - snap.PrevClose) / snap.PrevClose * 100
	}

	f.EMA9 = EMA(bars, 9)
	f.EMA20 = EMA(bars, 20)
	f.RSI = RSI(bars, 14)
	f.VWAP = RollingVWAP(bars)

	atr := ATR(bars, 14)
	if price > 0 && atr > 0 {
		f.ATRPct = atr / price * 100
	}
	if atr > 0 && f.EMA20 > 0 {
		f.ExtensionATRs = (price - f.EMA20) / atr
	}

	// Structural fields are absent until reference data fills them in.
	for _, missing := range []bool{
		f.FloatShares == nil, f.ShortInterest == nil, f.BorrowRate == nil,
		f.Utilization == nil, f.SocialZScore == nil, f.CallPutRatio == nil,
		f.IVPercentile == nil, f.GammaSign == nil,
	} {
		if missing {
			f.MissingFields++
		}
	}

	return f
}
