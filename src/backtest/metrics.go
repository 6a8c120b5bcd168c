package backtest

import (
	"math"

	"github.com/montanaflynn/stats"

	"signalengine/src/model"
)

// HourlyBarsPerYear is the annualization factor used when the sampling
// frequency cannot be inferred.
const HourlyBarsPerYear = 365 * 24

const secondsPerYear = 365 * 24 * 3600

type Metrics struct {
	Sharpe      float64 `json:"sharpe"`
	Sortino     float64 `json:"sortino"`
	MaxDrawdown float64 `json:"max_drawdown"`
	Calmar      float64 `json:"calmar"`
	HitRate     float64 `json:"hit_rate"`
	TotalReturn float64 `json:"total_return"`
	Bars        int     `json:"bars"`
}

func ComputeMetrics(res *Result, barsPerYear float64) Metrics {
	if res == nil || len(res.PnL) == 0 {
		return Metrics{}
	}

	m := Metrics{
		Sharpe:      Sharpe(res.PnL, barsPerYear),
		Sortino:     Sortino(res.PnL, barsPerYear),
		MaxDrawdown: MaxDrawdown(res.Equity),
		HitRate:     HitRate(res.PnL),
		Bars:        len(res.PnL),
	}
	m.TotalReturn = res.Equity[len(res.Equity)-1]/res.InitialCapital - 1
	m.Calmar = calmar(m.TotalReturn, m.MaxDrawdown, len(res.PnL), barsPerYear)
	return m
}

// Sharpe is mean(pnl)/stdev(pnl) scaled by sqrt(barsPerYear). It is 0 when
// the deviation is zero or undefined.
func Sharpe(pnl []float64, barsPerYear float64) float64 {
	if len(pnl) < 2 {
		return 0
	}
	mean, err := stats.Mean(pnl)
	if err != nil {
		return 0
	}
	sd, err := stats.StandardDeviationSample(pnl)
	if err != nil || sd == 0 || math.IsNaN(sd) {
		return 0
	}
	return mean / sd * math.Sqrt(annualization(barsPerYear))
}

// Sortino uses the downside deviation (root mean square of negative PnL).
func Sortino(pnl []float64, barsPerYear float64) float64 {
	if len(pnl) < 2 {
		return 0
	}
	mean, err := stats.Mean(pnl)
	if err != nil {
		return 0
	}
	downside := 0.0
	for _, v := range pnl {
		if v < 0 {
			downside += v * v
		}
	}
	dd := math.Sqrt(downside / float64(len(pnl)))
	if dd == 0 {
		return 0
	}
	return mean / dd * math.Sqrt(annualization(barsPerYear))
}

// MaxDrawdown returns the minimum of equity/runningPeak - 1, a value <= 0.
func MaxDrawdown(equity []float64) float64 {
	peak := math.Inf(-1)
	worst := 0.0
	for _, e := range equity {
		if e > peak {
			peak = e
		}
		if peak <= 0 {
			continue
		}
		if dd := e/peak - 1; dd < worst {
			worst = dd
		}
	}
	return worst
}

// HitRate is the fraction of bars with strictly positive PnL.
func HitRate(pnl []float64) float64 {
	if len(pnl) == 0 {
		return 0
	}
	wins := 0
	for _, v := range pnl {
		if v > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(pnl))
}

func calmar(totalReturn, maxDD float64, bars int, barsPerYear float64) float64 {
	if maxDD == 0 || bars == 0 || totalReturn <= -1 {
		return 0
	}
	years := float64(bars) / annualization(barsPerYear)
	annual := math.Pow(1+totalReturn, 1/years) - 1
	return annual / math.Abs(maxDD)
}

// BarsPerYear infers the annualization factor from the median bar spacing.
func BarsPerYear(prices model.PriceSeries) float64 {
	if len(prices) < 2 {
		return HourlyBarsPerYear
	}
	gaps := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if d := prices[i].Time.Sub(prices[i-1].Time).Seconds(); d > 0 {
			gaps = append(gaps, d)
		}
	}
	median, err := stats.Median(gaps)
	if err != nil || median <= 0 {
		return HourlyBarsPerYear
	}
	return secondsPerYear / median
}

func annualization(barsPerYear float64) float64 {
	if barsPerYear <= 0 || math.IsNaN(barsPerYear) || math.IsInf(barsPerYear, 0) {
		return HourlyBarsPerYear
	}
	return barsPerYear
}
