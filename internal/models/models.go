package models

import (
	"time"
)

const (
	// EngineVersion identifies the discovery engine build in every payload.
	EngineVersion = "v1.2.0"

	// SchemaVersion guards cached payloads against shape drift.
	SchemaVersion = 2
)

// RawBar is one session's OHLCV for a symbol from the grouped endpoint.
type RawBar struct {
	Symbol    string  `json:"symbol"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	VWAP      float64 `json:"vwap"`
	PrevClose float64 `json:"prev_close"`
}

// Snapshot is the current-session state for a symbol.
type Snapshot struct {
	Symbol    string    `json:"symbol"`
	LastPrice float64   `json:"last_price"`
	DayVolume float64   `json:"day_volume"`
	PrevClose float64   `json:"prev_close"`
	Timestamp time.Time `json:"timestamp"`
}

// TickerFeatures is the full scorer input for one symbol. Optional structural
// fields are pointers so that "provider does not supply this" stays distinct
// from a literal zero.
type TickerFeatures struct {
	Symbol          string  `json:"symbol"`
	Price           float64 `json:"price"`
	DollarVolume    float64 `json:"dollar_volume"`
	ChangePct       float64 `json:"change_pct"`
	ATRPct          float64 `json:"atr_pct"`
	RSI             float64 `json:"rsi"`
	EMA9            float64 `json:"ema_9"`
	EMA20           float64 `json:"ema_20"`
	VWAP            float64 `json:"vwap"`
	RelVolCurrent   float64 `json:"rel_vol_current"`
	RelVolSustained float64 `json:"rel_vol_sustained"`
	ExtensionATRs   float64 `json:"extension_atrs"`

	VWAPReclaimAge      time.Duration `json:"vwap_reclaim_age"` // negative when never reclaimed
	ShortSaleRestricted bool          `json:"short_sale_restricted"`

	FloatShares   *float64 `json:"float_shares,omitempty"`
	ShortInterest *float64 `json:"short_interest,omitempty"`
	BorrowRate    *float64 `json:"borrow_rate,omitempty"`
	Utilization   *float64 `json:"utilization,omitempty"`

	CatalystType     string   `json:"catalyst_type,omitempty"`
	CatalystStrength float64  `json:"catalyst_strength,omitempty"`
	SocialZScore     *float64 `json:"social_z_score,omitempty"`

	CallPutRatio *float64 `json:"call_put_ratio,omitempty"`
	IVPercentile *float64 `json:"iv_percentile,omitempty"`
	GammaSign    *float64 `json:"gamma_sign,omitempty"`

	MissingFields int `json:"missing_fields"`
}

// ComponentScores holds the six bounded integer sub-scores.
type ComponentScores struct {
	VolumeTrend int `json:"volume_trend"` // 0-25
	Squeeze     int `json:"squeeze"`      // 0-20
	Catalyst    int `json:"catalyst"`     // 0-20
	Social      int `json:"social"`       // 0-15
	Options     int `json:"options"`      // 0-10
	Technical   int `json:"technical"`    // 0-10
}

// Sum returns the unweighted component total.
func (c ComponentScores) Sum() int {
	return c.VolumeTrend + c.Squeeze + c.Catalyst + c.Social + c.Options + c.Technical
}

// TechnicalSnapshot captures the indicator state a candidate was scored on.
type TechnicalSnapshot struct {
	EMA9          float64 `json:"ema_9"`
	EMA20         float64 `json:"ema_20"`
	RSI           float64 `json:"rsi"`
	VWAP          float64 `json:"vwap"`
	ATRPct        float64 `json:"atr_pct"`
	ExtensionATRs float64 `json:"extension_atrs"`
}

// Candidate is one scored symbol surviving all filters.
type Candidate struct {
	Symbol          string            `json:"symbol"`
	Price           float64           `json:"price"`
	Volume          float64           `json:"volume"`
	DollarVolume    float64           `json:"dollar_volume"`
	ChangePct       float64           `json:"change_pct"`
	RelVolCurrent   float64           `json:"rel_vol_current"`
	RelVolSustained float64           `json:"rel_vol_sustained"`
	Components      ComponentScores   `json:"component_scores"`
	TotalScore      int               `json:"total_score"`
	Classification  Classification    `json:"classification"`
	EntrySignal     bool              `json:"entry_signal"`
	Technical       TechnicalSnapshot `json:"technical_snapshot"`
}

// DiscoveryResult is the output of one pipeline run.
type DiscoveryResult struct {
	RunID              string           `json:"run_id"`
	StartedAt          time.Time        `json:"started_at"`
	FinishedAt         time.Time        `json:"finished_at"`
	StrategyTag        string           `json:"strategy_tag"`
	UniverseCount      int              `json:"universe_count"`
	PrefilterCount     int              `json:"prefilter_count"`
	SnapshotCount      int              `json:"snapshot_count"`
	ScoredCount        int              `json:"scored_count"`
	SkippedCount       int              `json:"skipped_count"`
	UpstreamErrorCount int              `json:"upstream_error_count"`
	Candidates         []Candidate      `json:"candidates"`
	StageTimingsMs     map[string]int64 `json:"stage_timings_ms"`
	EngineVersion      string           `json:"engine_version"`
}

// JobState is the lifecycle state of a discovery job.
type JobState string

const (
	JobQueued   JobState = "queued"
	JobRunning  JobState = "running"
	JobFinished JobState = "finished"
	JobFailed   JobState = "failed"
)

// JobRecord tracks one discovery job through its lifecycle.
type JobRecord struct {
	JobID           string    `json:"job_id"`
	Strategy        string    `json:"strategy"`
	Limit           int       `json:"limit"`
	State           JobState  `json:"state"`
	EnqueuedAt      time.Time `json:"enqueued_at"`
	StartedAt       time.Time `json:"started_at,omitempty"`
	FinishedAt      time.Time `json:"finished_at,omitempty"`
	TimeoutSeconds  int       `json:"timeout_seconds"`
	ProgressPct     int       `json:"progress_pct"`
	StageLabel      string    `json:"stage_label,omitempty"`
	ScannedSoFar    int       `json:"scanned_so_far"`
	TradeReadySoFar int       `json:"trade_ready_so_far"`
	ResultRef       string    `json:"result_ref,omitempty"`
	ErrorKind       string    `json:"error_kind,omitempty"`
	Error           string    `json:"error,omitempty"`
}

// CacheEntry is the envelope every cached payload is wrapped in.
type CacheEntry struct {
	Payload       []byte    `json:"payload"`
	WrittenAt     time.Time `json:"written_at"`
	TTLSeconds    int       `json:"ttl_seconds"`
	SchemaVersion int       `json:"schema_version"`
}

// Fresh reports whether the entry is within its TTL at the given instant.
func (e CacheEntry) Fresh(now time.Time) bool {
	if e.TTLSeconds <= 0 {
		return false
	}
	return now.Sub(e.WrittenAt) <= time.Duration(e.TTLSeconds)*time.Second
}

// Heartbeat is the structured liveness record the worker writes.
type Heartbeat struct {
	WorkerID  string    `json:"worker_id"`
	WrittenAt time.Time `json:"written_at"`
	Draining  bool      `json:"draining"`
}

// FilterStats records how many rows each universe filter removed; surfaced by
// the health contract.
type FilterStats struct {
	TotalFetched int `json:"total_fetched"`
	AfterPrice   int `json:"after_price"`
	AfterFund    int `json:"after_fund"`
	AfterVolume  int `json:"after_volume"`
	FinalCount   int `json:"final_count"`
}

// UniverseRow is one pre-filtered universe entry feeding the snapshot stage.
type UniverseRow struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}
