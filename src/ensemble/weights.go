package ensemble

import (
	"context"
	"fmt"
	"math"
	"runtime/debug"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"signalengine/src/backtest"
	"signalengine/src/model"
	"signalengine/src/strategy"
)

const (
	DefaultWindow = 300

	// FailedScore is assigned to a strategy whose simulation could not be run
	// or produced a non-finite score. It drives its softmax weight to zero.
	FailedScore = -1e9
)

type Config struct {
	// Window is the number of trailing bars used to score each strategy.
	Window   int
	Backtest backtest.Config
	// BarsPerYear annualizes the Sharpe ratio. Zero infers it from the bars.
	BarsPerYear float64
	// Concurrency bounds the strategy fan-out. Zero means unbounded.
	Concurrency int
	Logger      *logrus.Entry
}

func DefaultConfig() Config {
	return Config{
		Window:   DefaultWindow,
		Backtest: backtest.DefaultConfig(),
	}
}

func (c Config) window() int {
	if c.Window <= 0 {
		return DefaultWindow
	}
	return c.Window
}

func (c Config) logger() *logrus.Entry {
	if c.Logger == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return c.Logger
}

// Score simulates one signal over the trailing window and returns
// Sharpe + (1 + MaxDrawdown).
func Score(prices model.PriceSeries, signal model.SignalSeries, cfg Config) (float64, error) {
	if signal.Len() != len(prices) {
		return FailedScore, fmt.Errorf("%w: %d prices, %d signals", backtest.ErrLengthMismatch, len(prices), signal.Len())
	}
	w := cfg.window()
	p := prices.Tail(w)
	s := signal.Tail(w)

	res, err := backtest.Run(p, s, cfg.Backtest)
	if err != nil {
		return FailedScore, err
	}
	bpy := cfg.BarsPerYear
	if bpy <= 0 {
		bpy = backtest.BarsPerYear(p)
	}
	m := backtest.ComputeMetrics(res, bpy)
	score := m.Sharpe + (1 + m.MaxDrawdown)
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return FailedScore, fmt.Errorf("non-finite score %v", score)
	}
	return score, nil
}

// Scores scores every signal. Failures are logged and mapped to FailedScore.
func Scores(prices model.PriceSeries, signals map[string]model.SignalSeries, cfg Config) map[string]float64 {
	out := make(map[string]float64, len(signals))
	for id, sig := range signals {
		score, err := Score(prices, sig, cfg)
		if err != nil {
			cfg.logger().WithFields(map[string]interface{}{
				"component": "ensemble",
				"strategy":  id,
			}).WithError(err).Warn("strategy scoring failed")
		}
		out[id] = score
	}
	return out
}

// Weights scores each signal over the trailing window and converts the
// scores to softmax weights. Empty input yields an empty map.
func Weights(prices model.PriceSeries, signals map[string]model.SignalSeries, cfg Config) model.WeightMap {
	return Softmax(Scores(prices, signals, cfg))
}

// Softmax normalizes scores into non-negative weights summing to 1. The
// maximum is subtracted before exponentiating. A degenerate sum falls back to
// uniform weights.
func Softmax(scores map[string]float64) model.WeightMap {
	if len(scores) == 0 {
		return model.WeightMap{}
	}

	maxScore := math.Inf(-1)
	for _, s := range scores {
		if !math.IsNaN(s) && s > maxScore {
			maxScore = s
		}
	}
	if math.IsInf(maxScore, 0) {
		return Uniform(keys(scores))
	}

	out := make(model.WeightMap, len(scores))
	sum := 0.0
	for id, s := range scores {
		e := 0.0
		if !math.IsNaN(s) {
			e = math.Exp(s - maxScore)
		}
		out[id] = e
		sum += e
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return Uniform(keys(scores))
	}
	for id := range out {
		out[id] /= sum
	}
	return out
}

// Uniform assigns 1/n to each id.
func Uniform(ids []string) model.WeightMap {
	out := make(model.WeightMap, len(ids))
	if len(ids) == 0 {
		return out
	}
	w := 1.0 / float64(len(ids))
	for _, id := range ids {
		out[id] = w
	}
	return out
}

// Failure records a strategy that could not produce a signal.
type Failure struct {
	StrategyID string
	Err        error
}

type StrategyResult struct {
	Weights  model.WeightMap
	Signals  map[string]model.SignalSeries
	Scores   map[string]float64
	Failures []Failure
}

// WeightsFromStrategies computes every registered strategy's signal
// concurrently and weights them. A strategy that errors or panics is scored
// FailedScore and reported in Failures; it never fails the call.
func WeightsFromStrategies(ctx context.Context, prices model.PriceSeries, registry *strategy.Registry, cfg Config) StrategyResult {
	all := registry.All()
	signals := make([]model.SignalSeries, len(all))
	errs := make([]error, len(all))

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Concurrency > 0 {
		g.SetLimit(cfg.Concurrency)
	}
	for i, s := range all {
		i, s := i, s
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			signals[i], errs[i] = safeCompute(s, prices)
			return nil
		})
	}
	_ = g.Wait()

	result := StrategyResult{
		Signals: make(map[string]model.SignalSeries, len(all)),
		Scores:  make(map[string]float64, len(all)),
	}
	ok := make(map[string]model.SignalSeries, len(all))
	for i, s := range all {
		if errs[i] != nil {
			cfg.logger().WithFields(map[string]interface{}{
				"component": "ensemble",
				"strategy":  s.ID(),
			}).WithError(errs[i]).Warn("strategy compute failed")
			result.Failures = append(result.Failures, Failure{StrategyID: s.ID(), Err: errs[i]})
			result.Scores[s.ID()] = FailedScore
			continue
		}
		ok[s.ID()] = signals[i]
		result.Signals[s.ID()] = signals[i]
	}
	for id, score := range Scores(prices, ok, cfg) {
		result.Scores[id] = score
	}
	result.Weights = Softmax(result.Scores)
	return result
}

func safeCompute(s strategy.Strategy, prices model.PriceSeries) (sig model.SignalSeries, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy %s panicked: %v\n%s", s.ID(), r, debug.Stack())
		}
	}()
	return s.Compute(prices)
}

func keys(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
