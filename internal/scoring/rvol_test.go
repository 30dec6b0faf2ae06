package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var rvolEpoch = time.Date(2026, 8, 24, 14, 30, 0, 0, time.UTC)

func TestRvolWindow_SeedsFirstReading(t *testing.T) {
	w := NewRvolWindow(15*time.Minute, 3.0)

	// First touch above threshold: sustained equals the current reading.
	assert.InDelta(t, 5.0, w.Observe("ABC", 5.0, rvolEpoch), 1e-9)

	// First touch below threshold contributes nothing.
	assert.InDelta(t, 0.0, w.Observe("QUIET", 1.5, rvolEpoch), 1e-9)
}

func TestRvolWindow_MeanOfQualifyingReadings(t *testing.T) {
	w := NewRvolWindow(15*time.Minute, 3.0)

	w.Observe("ABC", 4.0, rvolEpoch)
	w.Observe("ABC", 2.0, rvolEpoch.Add(2*time.Minute)) // below floor, excluded
	got := w.Observe("ABC", 6.0, rvolEpoch.Add(4*time.Minute))

	assert.InDelta(t, 5.0, got, 1e-9) // mean of 4.0 and 6.0
}

func TestRvolWindow_EvictsAgedReadings(t *testing.T) {
	w := NewRvolWindow(15*time.Minute, 3.0)

	w.Observe("ABC", 10.0, rvolEpoch)
	got := w.Observe("ABC", 4.0, rvolEpoch.Add(16*time.Minute))

	assert.InDelta(t, 4.0, got, 1e-9, "the 10x reading aged out")
}

func TestRvolWindow_SymbolsIndependent(t *testing.T) {
	w := NewRvolWindow(15*time.Minute, 3.0)

	w.Observe("AAA", 8.0, rvolEpoch)
	assert.InDelta(t, 4.0, w.Observe("BBB", 4.0, rvolEpoch), 1e-9)
}

func TestDefaultBaseline(t *testing.T) {
	assert.InDelta(t, 2e6, DefaultBaseline("ABC", 2e6, rvolEpoch), 1e-9)

	// Without history the session-fraction heuristic kicks in.
	morning := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	afternoon := time.Date(2026, 8, 24, 15, 30, 0, 0, time.UTC)
	assert.Less(t, DefaultBaseline("ABC", 0, morning), DefaultBaseline("ABC", 0, afternoon))
	assert.Greater(t, DefaultBaseline("ABC", 0, morning), 0.0)
}
