package risk

import (
	"math"

	"signalengine/src/indicator"
	"signalengine/src/model"
)

const (
	DefaultATRSpan    = 14
	DefaultStopMult   = 2.5
	DefaultTargetMult = 3.5

	// minStopDistance keeps the reward/risk ratio finite when entry == stop.
	minStopDistance = 1e-9
)

// Levels are the entry, protective stop and profit target of a candidate
// trade. For a long stop < entry < target, for a short target < entry < stop.
type Levels struct {
	Entry     float64 `json:"entry"`
	Stop      float64 `json:"stop"`
	Target    float64 `json:"target"`
	ATR       float64 `json:"atr"`
	Direction int     `json:"direction"`
}

func (l Levels) Valid() bool {
	for _, v := range []float64{l.Entry, l.Stop, l.Target} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	switch {
	case l.Direction > 0:
		return l.Stop < l.Entry && l.Entry < l.Target
	case l.Direction < 0:
		return l.Target < l.Entry && l.Entry < l.Stop
	default:
		return false
	}
}

func (l Levels) RewardRisk() float64 {
	return RewardRisk(l.Entry, l.Stop, l.Target)
}

// ATR returns the last value of the average true range over the series, or
// NaN for an empty series.
func ATR(prices model.PriceSeries, span int) float64 {
	if len(prices) == 0 {
		return math.NaN()
	}
	if span <= 0 {
		span = DefaultATRSpan
	}
	atr := indicator.ATR(prices, span)
	return atr[len(atr)-1]
}

// LevelsFromSignal places stop and target around the last close at multiples
// of the ATR. It reports false when no trade should be taken: flat
// direction, empty series, degenerate ATR or levels breaking the ordering.
func LevelsFromSignal(prices model.PriceSeries, direction int, stopMult, targetMult float64) (*Levels, bool) {
	if direction == 0 {
		return nil, false
	}
	last, ok := prices.Last()
	if !ok {
		return nil, false
	}
	if stopMult <= 0 {
		stopMult = DefaultStopMult
	}
	if targetMult <= 0 {
		targetMult = DefaultTargetMult
	}

	atr := ATR(prices, DefaultATRSpan)
	if math.IsNaN(atr) || math.IsInf(atr, 0) || atr <= 0 {
		return nil, false
	}

	entry := last.Close
	lv := Levels{Entry: entry, ATR: atr, Direction: 1}
	if direction > 0 {
		lv.Stop = entry - stopMult*atr
		lv.Target = entry + targetMult*atr
	} else {
		lv.Direction = -1
		lv.Stop = entry + stopMult*atr
		lv.Target = entry - targetMult*atr
	}
	if !lv.Valid() {
		return nil, false
	}
	return &lv, true
}

// PositionSize is the quantity that loses riskPct percent of equity when the
// stop is hit. Zero means no actionable trade.
func PositionSize(equity, entry, stop, riskPct float64) float64 {
	for _, v := range []float64{equity, entry, stop, riskPct} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
	}
	perUnitLoss := math.Abs(entry - stop)
	if perUnitLoss <= 0 || equity <= 0 || riskPct <= 0 {
		return 0
	}
	return equity * (riskPct / 100.0) / perUnitLoss
}

// RewardRisk is |target-entry| / |entry-stop|.
func RewardRisk(entry, stop, target float64) float64 {
	r := math.Abs(entry - stop)
	if r <= 0 {
		r = minStopDistance
	}
	return math.Abs(target-entry) / r
}

// AcceptRewardRisk is the single acceptance filter applied to every candidate.
func AcceptRewardRisk(rr, minRR float64) bool {
	if math.IsNaN(rr) {
		return false
	}
	return rr >= minRR
}

// Direction maps a blended value to +1, -1, or 0 when its magnitude is below
// the threshold.
func Direction(value, threshold float64) int {
	if math.IsNaN(value) {
		return 0
	}
	switch {
	case value >= threshold && value > 0:
		return 1
	case value <= -threshold && value < 0:
		return -1
	default:
		return 0
	}
}
