package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify_Boundaries(t *testing.T) {
	th := DefaultClassifyThresholds()

	cases := map[int]Classification{
		0:   Ignore,
		59:  Ignore,
		60:  Monitor,
		69:  Monitor,
		70:  Builder,
		74:  Builder,
		75:  TradeReady,
		100: TradeReady,
	}
	for total, want := range cases {
		assert.Equal(t, want, th.Classify(total), "total=%d", total)
	}
}

func TestClassify_CustomThresholds(t *testing.T) {
	th := ClassifyThresholds{TradeReady: 90, Builder: 80, Monitor: 50}
	assert.Equal(t, TradeReady, th.Classify(90))
	assert.Equal(t, Builder, th.Classify(89))
	assert.Equal(t, Monitor, th.Classify(50))
	assert.Equal(t, Ignore, th.Classify(49))
}

func TestCacheEntry_Fresh(t *testing.T) {
	now := time.Date(2026, 8, 24, 15, 0, 0, 0, time.UTC)

	e := CacheEntry{WrittenAt: now.Add(-500 * time.Second), TTLSeconds: 600}
	assert.True(t, e.Fresh(now))

	e.WrittenAt = now.Add(-601 * time.Second)
	assert.False(t, e.Fresh(now))

	e.TTLSeconds = 0
	assert.False(t, e.Fresh(now))
}

func TestComponentScores_Sum(t *testing.T) {
	c := ComponentScores{VolumeTrend: 25, Squeeze: 20, Catalyst: 20, Social: 15, Options: 10, Technical: 10}
	assert.Equal(t, 100, c.Sum())
}
