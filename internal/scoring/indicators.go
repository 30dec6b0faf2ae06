package scoring

import (
	"math"

	"github.com/equityrun/equityrun/internal/models"
)

// EMA returns the exponential moving average of the closes with the given
// period, seeded with the SMA of the first period bars.
func EMA(bars []models.RawBar, period int) float64 {
	if period <= 0 || len(bars) < period {
		return 0
	}

	var seed float64
	for _, b := range bars[:period] {
		seed += b.Close
	}
	ema := seed / float64(period)

	k := 2.0 / (float64(period) + 1.0)
	for _, b := range bars[period:] {
		ema = b.Close*k + ema*(1.0-k)
	}
	return ema
}

// RSI returns the Wilder relative strength index over the closes.
func RSI(bars []models.RawBar, period int) float64 {
	if period <= 0 || len(bars) < period+1 {
		return 50 // neutral when history is short
	}

	var gains, losses float64
	for i := 1; i <= period; i++ {
		delta := bars[i].Close - bars[i-1].Close
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	for i := period + 1; i < len(bars); i++ {
		delta := bars[i].Close - bars[i-1].Close
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100.0 - 100.0/(1.0+rs)
}

// ATR returns the Wilder average true range over the bars.
func ATR(bars []models.RawBar, period int) float64 {
	if period <= 0 || len(bars) < period+1 {
		return 0
	}

	trueRange := func(cur, prev models.RawBar) float64 {
		hl := cur.High - cur.Low
		hc := math.Abs(cur.High - prev.Close)
		lc := math.Abs(cur.Low - prev.Close)
		return math.Max(hl, math.Max(hc, lc))
	}

	var sum float64
	for i := 1; i <= period; i++ {
		sum += trueRange(bars[i], bars[i-1])
	}
	atr := sum / float64(period)

	for i := period + 1; i < len(bars); i++ {
		atr = (atr*float64(period-1) + trueRange(bars[i], bars[i-1])) / float64(period)
	}
	return atr
}

// RollingVWAP returns the volume-weighted average price across the bars,
// using each bar's typical price when the provider VWAP is absent.
func RollingVWAP(bars []models.RawBar) float64 {
	var pv, vol float64
	for _, b := range bars {
		price := b.VWAP
		if price == 0 {
			price = (b.High + b.Low + b.Close) / 3.0
		}
		pv += price * b.Volume
		vol += b.Volume
	}
	if vol == 0 {
		return 0
	}
	return pv / vol
}

// AverageVolume returns the mean volume over the most recent n bars.
func AverageVolume(bars []models.RawBar, n int) float64 {
	if len(bars) == 0 || n <= 0 {
		return 0
	}
	if len(bars) < n {
		n = len(bars)
	}
	var sum float64
	for _, b := range bars[len(bars)-n:] {
		sum += b.Volume
	}
	return sum / float64(n)
}
