package strategy

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalengine/src/model"
)

func trendSeries(n int, step float64) model.PriceSeries {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make(model.PriceSeries, n)
	price := 100.0
	for i := 0; i < n; i++ {
		price += step
		out[i] = model.Bar{
			Time:  start.Add(time.Duration(i) * time.Hour),
			Open:  price - step,
			High:  price + 0.5,
			Low:   price - 0.5,
			Close: price,
		}
	}
	return out
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{IDEMATrend, IDMACD, IDDonchian, IDATRChannel, IDBollingerMR}, r.IDs())

	prices := trendSeries(120, 1)
	for _, s := range r.All() {
		sig, err := s.Compute(prices)
		require.NoError(t, err, s.ID())
		require.Equal(t, len(prices), sig.Len(), s.ID())
		assert.True(t, sig.HasIndex(), s.ID())
		for _, v := range sig.Values {
			assert.False(t, math.IsNaN(v), s.ID())
			assert.LessOrEqual(t, math.Abs(v), 1.0, s.ID())
		}
	}
}

func TestTrendFollowersGoLongInUptrend(t *testing.T) {
	prices := trendSeries(200, 1)
	for _, s := range []Strategy{EMATrend(20, 50), MACD(12, 26, 9), Donchian(20)} {
		sig, err := s.Compute(prices)
		require.NoError(t, err)
		last, ok := sig.Last()
		require.True(t, ok)
		assert.Equal(t, 1.0, last, s.ID())
	}

	down := trendSeries(200, -0.3)
	sig, err := EMATrend(20, 50).Compute(down)
	require.NoError(t, err)
	last, _ := sig.Last()
	assert.Equal(t, -1.0, last)
	assert.Equal(t, 0.0, sig.Values[10], "warm-up bars stay flat")
}

func TestRegistryFilter(t *testing.T) {
	r := DefaultRegistry()

	f, err := r.Filter([]string{"macd", " ema_trend "})
	require.NoError(t, err)
	assert.Equal(t, []string{IDMACD, IDEMATrend}, f.IDs())

	same, err := r.Filter(nil)
	require.NoError(t, err)
	assert.Equal(t, r.Len(), same.Len())

	_, err = r.Filter([]string{"ichimoku"})
	require.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(EMATrend(5, 10), EMATrend(3, 6))
	require.ErrorIs(t, err, ErrDuplicateStrategy)
}

func TestComputeWrapsErrors(t *testing.T) {
	boom := errors.New("boom")
	s := New("broken", func(model.PriceSeries) ([]float64, error) { return nil, boom })
	_, err := s.Compute(trendSeries(3, 1))
	require.ErrorIs(t, err, boom)

	short := New("short", func(model.PriceSeries) ([]float64, error) { return []float64{1}, nil })
	_, err = short.Compute(trendSeries(3, 1))
	require.Error(t, err)
}
