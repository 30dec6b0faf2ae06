package models

// Classification buckets a candidate by total score.
type Classification string

const (
	TradeReady Classification = "TRADE_READY"
	Builder    Classification = "BUILDER"
	Monitor    Classification = "MONITOR"
	Ignore     Classification = "IGNORE"
)

// ClassifyThresholds holds the score cutoffs for each tier.
type ClassifyThresholds struct {
	TradeReady int `yaml:"trade_ready" json:"trade_ready"`
	Builder    int `yaml:"builder" json:"builder"`
	Monitor    int `yaml:"monitor" json:"monitor"`
}

// DefaultClassifyThresholds returns the production cutoffs.
func DefaultClassifyThresholds() ClassifyThresholds {
	return ClassifyThresholds{TradeReady: 75, Builder: 70, Monitor: 60}
}

// Classify maps a total score to its tier. Pure: depends on the score and
// thresholds only.
func (t ClassifyThresholds) Classify(total int) Classification {
	switch {
	case total >= t.TradeReady:
		return TradeReady
	case total >= t.Builder:
		return Builder
	case total >= t.Monitor:
		return Monitor
	default:
		return Ignore
	}
}
