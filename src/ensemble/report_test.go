package ensemble

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalengine/src/model"
	"signalengine/src/strategy"
)

func TestEvaluateReport(t *testing.T) {
	prices := sineSeries(300)
	reg, err := strategy.NewRegistry(
		strategy.New("long", func(p model.PriceSeries) ([]float64, error) {
			out := make([]float64, len(p))
			for i := range out {
				out[i] = 1
			}
			return out, nil
		}),
		strategy.New("broken", func(model.PriceSeries) ([]float64, error) {
			return nil, errors.New("nope")
		}),
	)
	require.NoError(t, err)

	report, err := Evaluate(context.Background(), prices, reg, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, []string{"broken"}, report.Failures)
	assert.InDelta(t, 1.0, report.Weights["long"], 1e-9)
	require.Contains(t, report.PerModel, "long")
	assert.Equal(t, 300, report.Metrics.Bars)
	assert.Equal(t, report.PerModel["long"].TotalReturn, report.Metrics.TotalReturn)
}

func TestEvaluateRejectsEmptyInput(t *testing.T) {
	_, err := Evaluate(context.Background(), nil, strategy.DefaultRegistry(), DefaultConfig())
	assert.Error(t, err)

	empty, err := strategy.NewRegistry()
	require.NoError(t, err)
	_, err = Evaluate(context.Background(), sineSeries(10), empty, DefaultConfig())
	assert.Error(t, err)
}

func TestEvaluateWeighsOnTrailingWindow(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	prices := make(model.PriceSeries, 600)
	for i := range prices {
		c := 100 + 0.2*float64(i)
		if i >= 300 {
			c = 160 - 0.2*float64(i-300)
		}
		prices[i] = model.Bar{Time: start.Add(time.Duration(i) * time.Hour), Open: c, High: c + 1, Low: c - 1, Close: c}
	}
	flat := func(v float64) strategy.ComputeFunc {
		return func(p model.PriceSeries) ([]float64, error) {
			out := make([]float64, len(p))
			for i := range out {
				out[i] = v
			}
			return out, nil
		}
	}
	reg, err := strategy.NewRegistry(strategy.New("long", flat(1)), strategy.New("short", flat(-1)))
	require.NoError(t, err)

	cfg := DefaultConfig()
	report, err := Evaluate(context.Background(), prices, reg, cfg)
	require.NoError(t, err)

	// only the falling second half is scored
	assert.Greater(t, report.Weights["short"], report.Weights["long"])
	want := WeightsFromStrategies(context.Background(), prices, reg, cfg)
	for id, w := range want.Weights {
		assert.InDelta(t, w, report.Weights[id], 1e-12, id)
	}
	assert.Equal(t, 600, report.Metrics.Bars)
}
