package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/equityrun/equityrun/internal/config"
	"github.com/equityrun/equityrun/internal/models"
	"github.com/equityrun/equityrun/internal/provider"
	"github.com/equityrun/equityrun/internal/store"
)

var runNow = time.Date(2026, 8, 24, 15, 0, 0, 0, time.UTC)

type pipeFake struct {
	mu      sync.Mutex
	grouped []models.RawBar
	snaps   map[string]models.Snapshot
	bars    map[string][]models.RawBar
	refs    []provider.TickerDetails
}

func (f *pipeFake) GroupedDaily(ctx context.Context, date time.Time) ([]models.RawBar, error) {
	return f.grouped, nil
}
func (f *pipeFake) SnapshotAll(ctx context.Context) (map[string]models.Snapshot, error) {
	return f.snaps, nil
}
func (f *pipeFake) PrevDay(ctx context.Context, symbol string) (models.RawBar, error) {
	return models.RawBar{}, nil
}
func (f *pipeFake) Aggregates(ctx context.Context, symbol, span string, from, to time.Time) ([]models.RawBar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bars[symbol], nil
}
func (f *pipeFake) TickerDetailsBatch(ctx context.Context, symbols []string) ([]provider.TickerDetails, error) {
	return nil, nil
}
func (f *pipeFake) ReferenceTickers(ctx context.Context, maxPages int) ([]provider.TickerDetails, error) {
	return f.refs, nil
}

// hotBars is 30 sessions trending up on ~1M shares/day, enough history for
// every indicator.
func hotBars(base float64) []models.RawBar {
	bars := make([]models.RawBar, 30)
	for i := range bars {
		c := base + 0.25*float64(i)
		bars[i] = models.RawBar{
			Open:   c - 0.1,
			High:   c + 0.3,
			Low:    c - 0.3,
			Close:  c,
			Volume: 1e6,
		}
	}
	return bars
}

// hotUniverse builds n symbols that all pass the universe and snapshot
// filters and score hot (big volume edge on an uptrend).
func hotUniverse(n int) *pipeFake {
	f := &pipeFake{
		snaps: make(map[string]models.Snapshot, n),
		bars:  make(map[string][]models.RawBar, n),
	}
	for i := 0; i < n; i++ {
		sym := fmt.Sprintf("HOT%03d", i)
		f.grouped = append(f.grouped, models.RawBar{Symbol: sym, Close: 24.00, Volume: 9e6})
		f.snaps[sym] = models.Snapshot{
			Symbol: sym, LastPrice: 26.40, DayVolume: 9e6, PrevClose: 24.00, Timestamp: runNow,
		}
		f.bars[sym] = hotBars(18)
	}
	return f
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.UniverseMinExpected = 1
	cfg.Concurrency = 4
	cfg.Classify = models.ClassifyThresholds{TradeReady: 50, Builder: 40, Monitor: 30}
	return cfg
}

func newTestCoordinator(f *pipeFake, cfg config.Config) (*Coordinator, store.Store) {
	s := store.NewMemory()
	c := NewCoordinator(f, s, cfg, nil)
	c.now = func() time.Time { return runNow }
	return c, s
}

func TestRun_EmitsRankedCandidates(t *testing.T) {
	c, s := newTestCoordinator(hotUniverse(10), testConfig())

	result, err := c.Run(context.Background(), "hybrid_v1", 20, nil)
	require.NoError(t, err)

	assert.Equal(t, "hybrid_v1", result.StrategyTag)
	assert.Equal(t, models.EngineVersion, result.EngineVersion)
	assert.Equal(t, 10, result.UniverseCount)
	assert.Equal(t, 10, result.SnapshotCount)
	assert.Equal(t, 10, result.ScoredCount)
	assert.NotEmpty(t, result.Candidates)

	// Uniqueness and ordering.
	seen := map[string]bool{}
	for i, cand := range result.Candidates {
		assert.False(t, seen[cand.Symbol], "duplicate candidate %s", cand.Symbol)
		seen[cand.Symbol] = true
		assert.NotEqual(t, models.Ignore, cand.Classification)
		if i > 0 {
			prev := result.Candidates[i-1]
			assert.True(t,
				prev.TotalScore > cand.TotalScore ||
					(prev.TotalScore == cand.TotalScore && prev.DollarVolume > cand.DollarVolume) ||
					(prev.TotalScore == cand.TotalScore && prev.DollarVolume == cand.DollarVolume && prev.Symbol < cand.Symbol),
				"ordering violated at index %d", i)
		}
	}

	// Stage timings recorded for every stage.
	for _, stage := range []string{"universe", "snapshot", "scoring"} {
		_, ok := result.StageTimingsMs[stage]
		assert.True(t, ok, "missing timing for %s", stage)
	}

	// The serving copy and the last-known-good copy are both written.
	for _, key := range []string{store.ContendersKey("hybrid_v1"), store.LastContendersKey("hybrid_v1")} {
		ok, err := s.Exists(context.Background(), key)
		require.NoError(t, err)
		assert.True(t, ok, "missing %s", key)
	}
}

func TestRun_TruncatesToLimit(t *testing.T) {
	c, _ := newTestCoordinator(hotUniverse(10), testConfig())

	result, err := c.Run(context.Background(), "hybrid_v1", 3, nil)
	require.NoError(t, err)
	assert.Len(t, result.Candidates, 3)
}

func TestRun_PriceCapEndToEnd(t *testing.T) {
	f := hotUniverse(4)
	// One symbol at exactly the cap stays; one a cent above never reaches
	// scoring.
	f.grouped = append(f.grouped,
		models.RawBar{Symbol: "ATCAP", Close: 100.00, Volume: 9e6},
		models.RawBar{Symbol: "OVER", Close: 100.01, Volume: 9e6},
	)
	f.snaps["ATCAP"] = models.Snapshot{Symbol: "ATCAP", LastPrice: 100.00, DayVolume: 9e6, PrevClose: 95.00, Timestamp: runNow}
	f.snaps["OVER"] = models.Snapshot{Symbol: "OVER", LastPrice: 100.01, DayVolume: 9e6, PrevClose: 95.00, Timestamp: runNow}
	f.bars["ATCAP"] = hotBars(90)
	f.bars["OVER"] = hotBars(90)

	c, _ := newTestCoordinator(f, testConfig())
	result, err := c.Run(context.Background(), "hybrid_v1", 20, nil)
	require.NoError(t, err)

	syms := map[string]bool{}
	for _, cand := range result.Candidates {
		syms[cand.Symbol] = true
		assert.LessOrEqual(t, cand.Price, 100.00)
	}
	assert.False(t, syms["OVER"], "above-cap symbol must not surface")
}

func TestRun_FloorBreachedWritesNothing(t *testing.T) {
	f := &pipeFake{grouped: []models.RawBar{{Symbol: "ONLY", Close: 10, Volume: 9e6}}}
	cfg := testConfig()
	cfg.UniverseMinExpected = 100

	c, s := newTestCoordinator(f, cfg)
	_, err := c.Run(context.Background(), "hybrid_v1", 20, nil)
	require.Error(t, err)
	assert.Equal(t, KindUniverseFloorBreached, KindOf(err))

	ok, _ := s.Exists(context.Background(), store.ContendersKey("hybrid_v1"))
	assert.False(t, ok, "a failed run must not overwrite contenders")
}

func TestRun_LockContended(t *testing.T) {
	c, s := newTestCoordinator(hotUniverse(3), testConfig())

	held, err := store.AcquireLock(context.Background(), s, "hybrid_v1", time.Minute)
	require.NoError(t, err)
	defer held.Release(context.Background())

	_, err = c.Run(context.Background(), "hybrid_v1", 20, nil)
	require.Error(t, err)
	assert.Equal(t, KindLockContended, KindOf(err))
}

func TestRun_ReleasesLock(t *testing.T) {
	c, s := newTestCoordinator(hotUniverse(3), testConfig())

	_, err := c.Run(context.Background(), "hybrid_v1", 20, nil)
	require.NoError(t, err)

	l, err := store.AcquireLock(context.Background(), s, "hybrid_v1", time.Minute)
	require.NoError(t, err, "lock must be free after a run")
	l.Release(context.Background())
}

func TestRun_EarlyStopAtChunkBoundary(t *testing.T) {
	cfg := testConfig()
	cfg.EarlyStopScan = 50
	cfg.TargetTradeReady = 1

	c, _ := newTestCoordinator(hotUniverse(120), cfg)
	result, err := c.Run(context.Background(), "hybrid_v1", 200, nil)
	require.NoError(t, err)

	// 120 symbols, chunk of 100: criteria are met after the first full
	// chunk, the second never starts.
	assert.Equal(t, 100, result.ScoredCount)
}

func TestRun_ProgressReportsStages(t *testing.T) {
	c, _ := newTestCoordinator(hotUniverse(5), testConfig())

	var mu sync.Mutex
	stages := map[string]bool{}
	lastPct := 0
	progress := func(stage string, pct int, scanned, tradeReady int) {
		mu.Lock()
		defer mu.Unlock()
		stages[stage] = true
		assert.GreaterOrEqual(t, pct, lastPct, "progress must not move backwards")
		lastPct = pct
	}

	_, err := c.Run(context.Background(), "hybrid_v1", 20, progress)
	require.NoError(t, err)
	for _, want := range []string{"universe", "snapshot", "scoring", "persist"} {
		assert.True(t, stages[want], "missing progress stage %s", want)
	}
}

func TestRun_CachedResultRoundTripsByteStable(t *testing.T) {
	c, s := newTestCoordinator(hotUniverse(5), testConfig())
	ctx := context.Background()

	result, err := c.Run(ctx, "hybrid_v1", 20, nil)
	require.NoError(t, err)

	first, err := s.Get(ctx, store.ContendersKey("hybrid_v1"))
	require.NoError(t, err)
	second, err := s.Get(ctx, store.ContendersKey("hybrid_v1"))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	got, entry, err := ReadContenders(ctx, s, store.ContendersKey("hybrid_v1"))
	require.NoError(t, err)
	assert.Equal(t, result.Candidates, got.Candidates)
	assert.Equal(t, result.RunID, got.RunID)
	assert.Equal(t, models.SchemaVersion, entry.SchemaVersion)
	assert.True(t, entry.Fresh(runNow.Add(time.Second)))
}

func TestReadContenders_RejectsOldSchema(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()

	entry := models.CacheEntry{Payload: []byte(`{}`), WrittenAt: runNow, TTLSeconds: 600, SchemaVersion: models.SchemaVersion - 1}
	require.NoError(t, store.SetJSON(ctx, s, store.ContendersKey("hybrid_v1"), entry, time.Minute))

	_, _, err := ReadContenders(ctx, s, store.ContendersKey("hybrid_v1"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}
