package scoring

import (
	"sync"
	"time"
)

// BaselineFunc derives the volume baseline a symbol's current volume is
// compared against. Pluggable because the fallback heuristic is a policy
// decision, not a fact of the feed.
type BaselineFunc func(symbol string, histAvgVolume float64, now time.Time) float64

// DefaultBaseline uses the historical average when present and otherwise
// scales a nominal session volume by the expected fraction of the session
// already elapsed at this hour.
func DefaultBaseline(symbol string, histAvgVolume float64, now time.Time) float64 {
	if histAvgVolume > 0 {
		return histAvgVolume
	}
	const nominalSessionVolume = 1_000_000
	return nominalSessionVolume * sessionFraction(now.Hour())
}

// sessionFraction estimates how much of a typical session's volume has
// printed by the given (eastern) hour. Volume is front-loaded: the open
// hour carries far more than midday.
func sessionFraction(hour int) float64 {
	switch {
	case hour < 9:
		return 0.05 // pre-market
	case hour == 9:
		return 0.25
	case hour == 10:
		return 0.40
	case hour == 11:
		return 0.50
	case hour == 12:
		return 0.58
	case hour == 13:
		return 0.66
	case hour == 14:
		return 0.75
	case hour == 15:
		return 0.90
	default:
		return 1.0
	}
}

type rvolReading struct {
	at    time.Time
	value float64
}

// RvolWindow maintains per-symbol sliding windows of relative-volume
// readings and derives the sustained value: the mean of readings inside the
// window that exceed the threshold. First-touch symbols seed the window with
// the current reading.
type RvolWindow struct {
	mu        sync.Mutex
	window    time.Duration
	threshold float64
	readings  map[string][]rvolReading
}

// NewRvolWindow creates a tracker with the given window and floor.
func NewRvolWindow(window time.Duration, threshold float64) *RvolWindow {
	return &RvolWindow{
		window:    window,
		threshold: threshold,
		readings:  make(map[string][]rvolReading),
	}
}

// Observe records the current reading for a symbol at the given instant and
// returns the sustained value. The clock is an explicit argument so scoring
// stays deterministic.
func (w *RvolWindow) Observe(symbol string, current float64, now time.Time) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	rs := w.readings[symbol]
	rs = append(rs, rvolReading{at: now, value: current})

	// Evict readings that aged out of the window.
	cutoff := now.Add(-w.window)
	keep := rs[:0]
	for _, r := range rs {
		if !r.at.Before(cutoff) {
			keep = append(keep, r)
		}
	}
	w.readings[symbol] = keep

	var sum float64
	var n int
	for _, r := range keep {
		if r.value > w.threshold {
			sum += r.value
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
