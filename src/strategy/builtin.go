package strategy

import (
	"math"

	"signalengine/src/indicator"
	"signalengine/src/model"
)

const (
	IDEMATrend    = "ema_trend"
	IDMACD        = "macd"
	IDDonchian    = "donchian"
	IDATRChannel  = "atr_channel"
	IDBollingerMR = "boll_mr"
)

// DefaultRegistry holds every built-in strategy with its default parameters.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(
		EMATrend(20, 50),
		MACD(12, 26, 9),
		Donchian(20),
		ATRChannel(14, 2.0),
		BollingerMR(20, 2.0),
	)
	if err != nil {
		// ids above are static and unique
		panic(err)
	}
	return r
}

// EMATrend is long while the fast EMA is above the slow EMA and short while it
// is below. Bars before the slow EMA has warmed up are flat.
func EMATrend(fast, slow int) Strategy {
	return New(IDEMATrend, func(prices model.PriceSeries) ([]float64, error) {
		closes := prices.Closes()
		f := indicator.EMA(closes, fast)
		s := indicator.EMA(closes, slow)
		out := make([]float64, len(closes))
		for i := range closes {
			if i+1 < slow {
				continue
			}
			out[i] = sign(f[i] - s[i])
		}
		return out, nil
	})
}

// MACD follows the side of the MACD line relative to its signal line.
func MACD(fast, slow, signal int) Strategy {
	return New(IDMACD, func(prices model.PriceSeries) ([]float64, error) {
		closes := prices.Closes()
		f := indicator.EMA(closes, fast)
		s := indicator.EMA(closes, slow)
		line := make([]float64, len(closes))
		for i := range closes {
			line[i] = f[i] - s[i]
		}
		sig := indicator.EMA(line, signal)
		out := make([]float64, len(closes))
		for i := range closes {
			if i+1 < slow {
				continue
			}
			out[i] = sign(line[i] - sig[i])
		}
		return out, nil
	})
}

// Donchian goes long on a close above the previous n-bar high and short on a
// close below the previous n-bar low, holding the side until the opposite
// breakout.
func Donchian(n int) Strategy {
	return New(IDDonchian, func(prices model.PriceSeries) ([]float64, error) {
		upper := indicator.Shift(indicator.RollingMax(indicator.Highs(prices), n), 1)
		lower := indicator.Shift(indicator.RollingMin(indicator.Lows(prices), n), 1)
		out := make([]float64, len(prices))
		state := 0.0
		for i, b := range prices {
			switch {
			case b.Close > upper[i]:
				state = 1
			case b.Close < lower[i]:
				state = -1
			}
			out[i] = state
		}
		return out, nil
	})
}

// ATRChannel is long above ema+mult*atr, short below ema-mult*atr, flat inside.
func ATRChannel(length int, mult float64) Strategy {
	return New(IDATRChannel, func(prices model.PriceSeries) ([]float64, error) {
		ema := indicator.EMA(prices.Closes(), length)
		atr := indicator.ATR(prices, length)
		out := make([]float64, len(prices))
		for i, b := range prices {
			upper := ema[i] + mult*atr[i]
			lower := ema[i] - mult*atr[i]
			switch {
			case b.Close > upper:
				out[i] = 1
			case b.Close < lower:
				out[i] = -1
			}
		}
		return out, nil
	})
}

// BollingerMR fades moves outside the Bollinger bands: long below the lower
// band, short above the upper band.
func BollingerMR(n int, width float64) Strategy {
	return New(IDBollingerMR, func(prices model.PriceSeries) ([]float64, error) {
		closes := prices.Closes()
		mean := indicator.RollingMean(closes, n)
		sd := indicator.RollingStd(closes, n)
		out := make([]float64, len(closes))
		for i, c := range closes {
			if math.IsNaN(mean[i]) || math.IsNaN(sd[i]) {
				continue
			}
			switch {
			case c < mean[i]-width*sd[i]:
				out[i] = 1
			case c > mean[i]+width*sd[i]:
				out[i] = -1
			}
		}
		return out, nil
	})
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
