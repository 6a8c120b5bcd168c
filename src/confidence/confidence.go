// Package confidence turns a short historical simulation of the blended signal
// into a 0-100 reliability score.
package confidence

import (
	"math"

	"signalengine/src/backtest"
	"signalengine/src/ensemble"
	"signalengine/src/model"
)

const (
	DefaultWindow      = 800
	DefaultMinBars     = 100
	DefaultMaxDrawdown = 0.4

	// Neutral is returned when there is not enough history to judge.
	Neutral = 50.0

	sharpeCap = 3.0

	sharpeWeight   = 0.6
	drawdownWeight = 0.25
	hitWeight      = 0.15
)

type Scorer struct {
	Window  int
	MinBars int
	// MaxDrawdown is the drawdown magnitude at which the drawdown term reaches zero.
	MaxDrawdown float64
	Backtest    backtest.Config
	BarsPerYear float64
}

func NewScorer() Scorer {
	return Scorer{
		Window:      DefaultWindow,
		MinBars:     DefaultMinBars,
		MaxDrawdown: DefaultMaxDrawdown,
		Backtest:    backtest.DefaultConfig(),
	}
}

// Score blends the signals with the given weights (equal weights when nil)
// over the trailing window and scores the result.
func (s Scorer) Score(prices model.PriceSeries, signals map[string]model.SignalSeries, weights model.WeightMap) (float64, backtest.Metrics) {
	window := s.window()
	p := prices.Tail(window)
	if len(p) < s.minBars() || len(signals) == 0 {
		return Neutral, backtest.Metrics{}
	}

	tailed := make(map[string]model.SignalSeries, len(signals))
	ids := make([]string, 0, len(signals))
	for id, sig := range signals {
		tailed[id] = sig.Tail(window)
		ids = append(ids, id)
	}
	if weights == nil {
		weights = ensemble.Uniform(ids)
	}
	return s.ScoreBlended(p, ensemble.Blend(tailed, weights))
}

// ScoreBlended scores an already blended signal aligned with prices.
func (s Scorer) ScoreBlended(prices model.PriceSeries, blended model.SignalSeries) (float64, backtest.Metrics) {
	window := s.window()
	if blended.Len() != len(prices) {
		return Neutral, backtest.Metrics{}
	}
	p := prices.Tail(window)
	if len(p) < s.minBars() {
		return Neutral, backtest.Metrics{}
	}

	res, err := backtest.Run(p, blended.Tail(window), s.Backtest)
	if err != nil {
		return Neutral, backtest.Metrics{}
	}
	bpy := s.BarsPerYear
	if bpy <= 0 {
		bpy = backtest.BarsPerYear(p)
	}
	m := backtest.ComputeMetrics(res, bpy)
	return FromMetrics(m, s.maxDrawdown()), m
}

// FromMetrics maps simulation metrics to [0, 100]:
//
//	100 * (0.6*clip(sharpe,0,3)/3 + 0.25*(1-min(|dd|,cap)/cap) + 0.15*hit)
func FromMetrics(m backtest.Metrics, maxDrawdown float64) float64 {
	if maxDrawdown <= 0 {
		maxDrawdown = DefaultMaxDrawdown
	}
	sharpeNorm := math.Min(math.Max(finite(m.Sharpe), 0), sharpeCap) / sharpeCap
	ddNorm := 1 - math.Min(math.Abs(finite(m.MaxDrawdown)), maxDrawdown)/maxDrawdown
	hit := math.Min(math.Max(finite(m.HitRate), 0), 1)

	raw := sharpeWeight*sharpeNorm + drawdownWeight*ddNorm + hitWeight*hit
	return math.Min(math.Max(100*raw, 0), 100)
}

func (s Scorer) window() int {
	if s.Window <= 0 {
		return DefaultWindow
	}
	return s.Window
}

func (s Scorer) minBars() int {
	if s.MinBars <= 0 {
		return DefaultMinBars
	}
	return s.MinBars
}

func (s Scorer) maxDrawdown() float64 {
	if s.MaxDrawdown <= 0 {
		return DefaultMaxDrawdown
	}
	return s.MaxDrawdown
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
