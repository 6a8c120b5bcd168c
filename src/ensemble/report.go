package ensemble

import (
	"context"
	"errors"

	"signalengine/src/backtest"
	"signalengine/src/model"
	"signalengine/src/strategy"
)

// Report is the whole-series evaluation of the blended ensemble signal.
type Report struct {
	Weights  model.WeightMap             `json:"weights"`
	Scores   map[string]float64          `json:"scores"`
	Metrics  backtest.Metrics            `json:"metrics"`
	PerModel map[string]backtest.Metrics `json:"per_model"`
	Failures []string                    `json:"failures,omitempty"`
}

// Evaluate scores every strategy over the configured trailing window, blends
// the full-length signals with those weights and backtests the blend and each
// individual signal over the whole series.
func Evaluate(ctx context.Context, prices model.PriceSeries, registry *strategy.Registry, cfg Config) (*Report, error) {
	if len(prices) == 0 {
		return nil, backtest.ErrEmptySeries
	}
	if registry == nil || registry.Len() == 0 {
		return nil, errors.New("no strategies registered")
	}
	barsPerYear := cfg.BarsPerYear
	if barsPerYear <= 0 {
		barsPerYear = backtest.BarsPerYear(prices)
	}

	res := WeightsFromStrategies(ctx, prices, registry, cfg)
	report := &Report{
		Weights:  res.Weights,
		Scores:   res.Scores,
		PerModel: make(map[string]backtest.Metrics, len(res.Signals)),
	}
	for _, f := range res.Failures {
		report.Failures = append(report.Failures, f.StrategyID)
	}

	for id, sig := range res.Signals {
		run, err := backtest.Run(prices, sig, cfg.Backtest)
		if err != nil {
			continue
		}
		report.PerModel[id] = backtest.ComputeMetrics(run, barsPerYear)
	}

	blended := Blend(res.Signals, res.Weights)
	if blended.Len() != len(prices) {
		return report, nil
	}
	run, err := backtest.Run(prices, blended, cfg.Backtest)
	if err != nil {
		return nil, err
	}
	report.Metrics = backtest.ComputeMetrics(run, barsPerYear)
	return report, nil
}
