package backtest

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalengine/src/model"
)

func series(closes ...float64) model.PriceSeries {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make(model.PriceSeries, len(closes))
	for i, c := range closes {
		out[i] = model.Bar{Time: start.Add(time.Duration(i) * time.Hour), Open: c, High: c, Low: c, Close: c}
	}
	return out
}

func TestRunShiftsExposureAndChargesCosts(t *testing.T) {
	prices := series(100, 110, 99)
	signal := model.SignalSeries{Values: []float64{1, 1, 1}}

	res, err := Run(prices, signal, DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, []float64{0, 1, 1}, res.Exposure)
	assert.InDelta(t, 0.0, res.Cost[0], 1e-12)
	assert.InDelta(t, 0.0003, res.Cost[1], 1e-12)
	assert.InDelta(t, 0.0, res.Cost[2], 1e-12)

	assert.InDelta(t, 0.0997, res.PnL[1], 1e-12)
	assert.InDelta(t, -0.1, res.PnL[2], 1e-12)
	assert.InDelta(t, 1.0997*0.9, res.Equity[2], 1e-12)
}

func TestRunNoLookAhead(t *testing.T) {
	// A signal that only turns long on the last bar must not earn that bar's return.
	prices := series(100, 100, 120)
	signal := model.SignalSeries{Values: []float64{0, 0, 1}}

	res, err := Run(prices, signal, DefaultConfig())
	require.NoError(t, err)
	for _, p := range res.PnL {
		assert.Equal(t, 0.0, p)
	}
	assert.Equal(t, 1.0, res.Equity[2])
}

func TestRunClipsSignal(t *testing.T) {
	prices := series(100, 101)
	signal := model.SignalSeries{Values: []float64{-4, 0}}

	res, err := Run(prices, signal, Config{})
	require.NoError(t, err)
	assert.Equal(t, -1.0, res.Exposure[1])
	assert.InDelta(t, -0.01, res.PnL[1], 1e-12)
	assert.Equal(t, 1.0, res.InitialCapital)
}

func TestRunErrors(t *testing.T) {
	_, err := Run(nil, model.SignalSeries{}, DefaultConfig())
	require.ErrorIs(t, err, ErrEmptySeries)

	_, err = Run(series(1, 2, 3), model.SignalSeries{Values: []float64{0, 1}}, DefaultConfig())
	require.ErrorIs(t, err, ErrLengthMismatch)

	_, err = Run(series(1, math.NaN()), model.SignalSeries{Values: []float64{0, 1}}, DefaultConfig())
	require.ErrorIs(t, err, ErrInvalidPrice)
}

func TestComputeMetrics(t *testing.T) {
	prices := series(100, 110, 99, 108.9)
	signal := model.SignalSeries{Values: []float64{1, 1, 1, 1}}
	res, err := Run(prices, signal, Config{})
	require.NoError(t, err)

	m := ComputeMetrics(res, HourlyBarsPerYear)
	assert.Equal(t, 4, m.Bars)
	assert.InDelta(t, 0.5, m.HitRate, 1e-12)
	assert.InDelta(t, -0.1, m.MaxDrawdown, 1e-12)
	assert.InDelta(t, 1.1*0.9*1.1-1, m.TotalReturn, 1e-9)
	assert.Greater(t, m.Sharpe, 0.0)
	assert.Greater(t, m.Sortino, 0.0)
}

func TestSharpeZeroDeviation(t *testing.T) {
	assert.Equal(t, 0.0, Sharpe([]float64{0, 0, 0}, HourlyBarsPerYear))
	assert.Equal(t, 0.0, Sharpe([]float64{0.1}, HourlyBarsPerYear))
	assert.False(t, math.IsNaN(Sharpe(nil, HourlyBarsPerYear)))
}

func TestMaxDrawdownMonotonic(t *testing.T) {
	assert.Equal(t, 0.0, MaxDrawdown([]float64{1, 1.1, 1.2}))
	assert.InDelta(t, -0.5, MaxDrawdown([]float64{1, 2, 1, 1.5}), 1e-12)
}

func TestBarsPerYear(t *testing.T) {
	assert.InDelta(t, float64(HourlyBarsPerYear), BarsPerYear(series(1, 2, 3)), 1e-9)
	assert.Equal(t, float64(HourlyBarsPerYear), BarsPerYear(series(1)))

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	daily := model.PriceSeries{
		{Time: start, Close: 1},
		{Time: start.Add(24 * time.Hour), Close: 1},
		{Time: start.Add(48 * time.Hour), Close: 1},
	}
	assert.InDelta(t, 365.0, BarsPerYear(daily), 1e-9)
}
