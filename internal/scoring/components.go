package scoring

import (
	"math"
	"strings"
	"time"

	"github.com/equityrun/equityrun/internal/models"
)

// Squeeze structural weights. Published alongside the scoring docs; the
// heuristic path below takes over when the provider supplies none of these.
const (
	squeezeFloatWeight   = 0.40
	squeezeShortWeight   = 0.30
	squeezeBorrowWeight  = 0.20
	squeezeUtilWeight    = 0.10
	vwapReclaimRecency   = 10 * time.Minute
	entryMovePct         = 2.0
)

// ScoreComponents computes the six bounded sub-scores from the features.
// Pure: no clock, no randomness.
func ScoreComponents(f models.TickerFeatures) models.ComponentScores {
	return models.ComponentScores{
		VolumeTrend: volumeTrendScore(f),
		Squeeze:     squeezeScore(f),
		Catalyst:    catalystScore(f),
		Social:      socialScore(f),
		Options:     optionsScore(f),
		Technical:   technicalScore(f),
	}
}

// volumeTrendScore maps sustained rel-vol 3.0→8.0 onto 15→25 linearly, with
// proportional credit below the floor and a bonus when the instantaneous
// reading is extreme.
func volumeTrendScore(f models.TickerFeatures) int {
	var base float64
	switch {
	case f.RelVolSustained >= 8.0:
		base = 25
	case f.RelVolSustained >= 3.0:
		base = 15 + (f.RelVolSustained-3.0)/(8.0-3.0)*10
	default:
		base = f.RelVolSustained / 3.0 * 15
	}

	bonus := 0
	switch {
	case f.RelVolCurrent >= 12:
		bonus = 3
	case f.RelVolCurrent >= 8:
		bonus = 2
	case f.RelVolCurrent >= 5:
		bonus = 1
	}

	return clampInt(int(math.Round(base))+bonus, 0, 25)
}

// squeezeScore prefers structural data; the heuristic path keys on price
// tier and current rel-vol when the feed has no float/short data.
func squeezeScore(f models.TickerFeatures) int {
	if f.FloatShares != nil || f.ShortInterest != nil || f.BorrowRate != nil || f.Utilization != nil {
		return structuralSqueezeScore(f)
	}
	return heuristicSqueezeScore(f)
}

func structuralSqueezeScore(f models.TickerFeatures) int {
	var score float64

	if f.FloatShares != nil {
		// Tighter floats squeeze harder; full credit under 10M shares.
		tightness := 0.0
		switch shares := *f.FloatShares; {
		case shares <= 10e6:
			tightness = 1.0
		case shares <= 30e6:
			tightness = 0.7
		case shares <= 75e6:
			tightness = 0.4
		case shares <= 150e6:
			tightness = 0.2
		}
		score += tightness * squeezeFloatWeight * 20
	}
	if f.ShortInterest != nil {
		si := math.Min(*f.ShortInterest/0.30, 1.0) // 30%+ short interest maxes out
		score += si * squeezeShortWeight * 20
	}
	if f.BorrowRate != nil {
		br := math.Min(*f.BorrowRate/0.50, 1.0) // 50%+ borrow fee maxes out
		score += br * squeezeBorrowWeight * 20
	}
	if f.Utilization != nil {
		score += math.Min(*f.Utilization, 1.0) * squeezeUtilWeight * 20
	}

	return clampInt(int(math.Round(score)), 0, 20)
}

func heuristicSqueezeScore(f models.TickerFeatures) int {
	var tier float64
	switch {
	case f.Price < 5:
		tier = 1.0 // low-priced names squeeze most violently
	case f.Price < 20:
		tier = 0.7
	case f.Price < 50:
		tier = 0.4
	default:
		tier = 0.2
	}

	rvol := math.Min(f.RelVolCurrent/10.0, 1.0)
	return clampInt(int(math.Round((tier*0.6+rvol*0.4)*20)), 0, 20)
}

// catalystBase maps tagged catalyst types to their base weight.
func catalystBase(catalystType string) float64 {
	switch strings.ToLower(catalystType) {
	case "earnings":
		return 14
	case "fda":
		return 18
	case "merger", "m&a", "acquisition":
		return 16
	case "partnership":
		return 12
	case "guidance":
		return 10
	case "analyst":
		return 8
	case "offering":
		return 4
	default:
		return 6
	}
}

func catalystScore(f models.TickerFeatures) int {
	if f.CatalystType == "" {
		return 2
	}
	strength := f.CatalystStrength
	if strength <= 0 {
		strength = 0.5
	}
	return clampInt(int(math.Round(catalystBase(f.CatalystType)*math.Min(strength, 1.0))), 0, 20)
}

func socialScore(f models.TickerFeatures) int {
	if f.SocialZScore != nil {
		return clampInt(int(math.Round(*f.SocialZScore*3)), 0, 15)
	}
	// Rel-vol proxy: unusual volume is the closest observable to chatter.
	return clampInt(int(math.Round(f.RelVolCurrent*1.5)), 0, 15)
}

func optionsScore(f models.TickerFeatures) int {
	if f.CallPutRatio != nil || f.IVPercentile != nil || f.GammaSign != nil {
		var score float64
		if f.CallPutRatio != nil {
			score += math.Min(*f.CallPutRatio/3.0, 1.0) * 4
		}
		if f.IVPercentile != nil {
			score += math.Min(*f.IVPercentile/100.0, 1.0) * 4
		}
		if f.GammaSign != nil && *f.GammaSign > 0 {
			score += 2
		}
		return clampInt(int(math.Round(score)), 0, 10)
	}

	// Volume-and-move proxy when the options feed is absent.
	var score float64
	if f.RelVolCurrent >= 3 {
		score += 4
	} else if f.RelVolCurrent >= 2 {
		score += 2
	}
	if math.Abs(f.ChangePct) >= 5 {
		score += 4
	} else if math.Abs(f.ChangePct) >= 2 {
		score += 2
	}
	if f.ChangePct > 0 {
		score += 2
	}
	return clampInt(int(math.Round(score)), 0, 10)
}

func technicalScore(f models.TickerFeatures) int {
	score := 0
	if f.EMA9 > f.EMA20 {
		score += 3
	}
	switch {
	case f.RSI >= 65 && f.RSI <= 70:
		score += 3
	case f.RSI >= 60 && f.RSI < 65:
		score += 2
	}
	if f.VWAP > 0 && f.Price >= f.VWAP {
		score += 2
	}
	if f.ChangePct >= 3 {
		score += 2
	}
	return clampInt(score, 0, 10)
}

// Multiplier derives the deterministic score multiplier from the features.
func Multiplier(f models.TickerFeatures) float64 {
	m := 1.0

	belowVWAP := f.VWAP > 0 && f.Price < f.VWAP
	recentReclaim := f.VWAPReclaimAge >= 0 && f.VWAPReclaimAge <= vwapReclaimRecency
	if (belowVWAP && !recentReclaim) || f.RSI < 55 {
		m *= 0.7
	}
	if f.ExtensionATRs > 3 {
		m *= 0.8
	}
	if f.ShortSaleRestricted {
		m *= 0.9
	}
	return m
}

// TotalScore combines components and multiplier into the clamped 0-100 total.
func TotalScore(c models.ComponentScores, multiplier float64) int {
	return clampInt(int(math.Round(float64(c.Sum())*multiplier)), 0, 100)
}

// EntrySignal reports whether the candidate has an actionable entry: inside
// the hard price cap with either a sustained-volume intraday move or a
// sustained-volume VWAP reclaim.
func EntrySignal(f models.TickerFeatures, priceMin, priceMax, rvolThreshold float64) bool {
	if f.Price < priceMin || f.Price > priceMax {
		return false
	}
	sustained := f.RelVolSustained >= rvolThreshold
	if !sustained {
		return false
	}
	if f.ChangePct > entryMovePct {
		return true
	}
	return f.VWAPReclaimAge >= 0 && f.VWAPReclaimAge <= vwapReclaimRecency
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
