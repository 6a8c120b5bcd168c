package backtest

import (
	"errors"
	"fmt"
	"math"

	"signalengine/src/model"
)

var (
	ErrEmptySeries    = errors.New("backtest: empty series")
	ErrLengthMismatch = errors.New("backtest: price and signal lengths differ")
	ErrInvalidPrice   = errors.New("backtest: close price is not finite")
)

const (
	DefaultFeeBps      = 2.0
	DefaultSlippageBps = 1.0
)

// Config holds the simulation cost model. Costs are expressed in basis points
// of the traded exposure.
type Config struct {
	FeeBps         float64
	SlippageBps    float64
	InitialCapital float64
}

func DefaultConfig() Config {
	return Config{
		FeeBps:         DefaultFeeBps,
		SlippageBps:    DefaultSlippageBps,
		InitialCapital: 1.0,
	}
}

func (c Config) costRate() float64 {
	return (c.FeeBps + c.SlippageBps) / 10000.0
}

// Result is the bar-by-bar output of a simulation. Every slice has the length
// of the input series.
type Result struct {
	Returns        []float64
	Exposure       []float64
	Cost           []float64
	PnL            []float64
	Equity         []float64
	InitialCapital float64
}

// Run simulates trading the signal over the prices. The exposure held during
// bar t is the signal of bar t-1, so a decision taken on a close is only acted
// on during the next bar. The first bar never carries exposure or return.
func Run(prices model.PriceSeries, signal model.SignalSeries, cfg Config) (*Result, error) {
	n := len(prices)
	if n == 0 {
		return nil, ErrEmptySeries
	}
	if signal.Len() != n {
		return nil, fmt.Errorf("%w: %d prices, %d signals", ErrLengthMismatch, n, signal.Len())
	}

	initial := cfg.InitialCapital
	if initial <= 0 || math.IsNaN(initial) || math.IsInf(initial, 0) {
		initial = 1.0
	}
	rate := cfg.costRate()

	res := &Result{
		Returns:        make([]float64, n),
		Exposure:       make([]float64, n),
		Cost:           make([]float64, n),
		PnL:            make([]float64, n),
		Equity:         make([]float64, n),
		InitialCapital: initial,
	}

	equity := initial
	for t := 0; t < n; t++ {
		c := prices[t].Close
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, fmt.Errorf("%w: bar %d", ErrInvalidPrice, t)
		}

		if t > 0 {
			prev := prices[t-1].Close
			if prev > 0 {
				res.Returns[t] = c/prev - 1
			}
			res.Exposure[t] = model.ClipUnit(signal.Values[t-1])
			res.Cost[t] = math.Abs(res.Exposure[t]-res.Exposure[t-1]) * rate
		}

		res.PnL[t] = res.Exposure[t]*res.Returns[t] - res.Cost[t]
		equity *= 1 + res.PnL[t]
		res.Equity[t] = equity
	}

	return res, nil
}
