// Package indicator holds the small set of technical indicators the built-in
// strategies and the risk sizer need. Every function returns a slice the
// length of its input; positions without enough history are NaN.
package indicator

import (
	"math"

	"github.com/montanaflynn/stats"

	"signalengine/src/model"
)

// EMA is an exponentially weighted mean with alpha = 2/(span+1), not
// bias-adjusted and seeded with the first value.
func EMA(values []float64, span int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	if span < 1 {
		span = 1
	}
	alpha := 2.0 / (float64(span) + 1.0)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// TrueRange is max(high-low, |high-prevClose|, |low-prevClose|). The first
// bar has no previous close and uses high-low.
func TrueRange(prices model.PriceSeries) []float64 {
	out := make([]float64, len(prices))
	for i, b := range prices {
		tr := b.High - b.Low
		if i > 0 {
			prev := prices[i-1].Close
			tr = math.Max(tr, math.Max(math.Abs(b.High-prev), math.Abs(b.Low-prev)))
		}
		out[i] = tr
	}
	return out
}

func ATR(prices model.PriceSeries, span int) []float64 {
	return EMA(TrueRange(prices), span)
}

func RollingMax(values []float64, window int) []float64 {
	return rolling(values, window, func(w []float64) float64 {
		v, err := stats.Max(w)
		if err != nil {
			return math.NaN()
		}
		return v
	})
}

func RollingMin(values []float64, window int) []float64 {
	return rolling(values, window, func(w []float64) float64 {
		v, err := stats.Min(w)
		if err != nil {
			return math.NaN()
		}
		return v
	})
}

func RollingMean(values []float64, window int) []float64 {
	return rolling(values, window, func(w []float64) float64 {
		v, err := stats.Mean(w)
		if err != nil {
			return math.NaN()
		}
		return v
	})
}

// RollingStd is the sample standard deviation over the window.
func RollingStd(values []float64, window int) []float64 {
	return rolling(values, window, func(w []float64) float64 {
		if len(w) < 2 {
			return math.NaN()
		}
		v, err := stats.StandardDeviationSample(w)
		if err != nil {
			return math.NaN()
		}
		return v
	})
}

// Shift moves values k positions forward, filling the head with NaN.
func Shift(values []float64, k int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		if i-k < 0 || i-k >= len(values) {
			out[i] = math.NaN()
			continue
		}
		out[i] = values[i-k]
	}
	return out
}

func Highs(prices model.PriceSeries) []float64 {
	out := make([]float64, len(prices))
	for i, b := range prices {
		out[i] = b.High
	}
	return out
}

func Lows(prices model.PriceSeries) []float64 {
	out := make([]float64, len(prices))
	for i, b := range prices {
		out[i] = b.Low
	}
	return out
}

func rolling(values []float64, window int, fn func([]float64) float64) []float64 {
	out := make([]float64, len(values))
	if window < 1 {
		window = 1
	}
	for i := range values {
		if i+1 < window {
			out[i] = math.NaN()
			continue
		}
		out[i] = fn(values[i+1-window : i+1])
	}
	return out
}
