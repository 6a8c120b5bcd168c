// Package regime labels market conditions by clustering short-term return,
// volatility and trend features with k-means.
package regime

import (
	"math"
	"math/rand"

	"github.com/montanaflynn/stats"

	"signalengine/src/indicator"
	"signalengine/src/model"
)

const (
	Up      = "up"
	Down    = "down"
	HighVol = "high_vol"
	Neutral = "neutral"
)

const (
	retWindow   = 5
	volWindow   = 20
	trendWindow = 50

	maxIterations = 300
)

type Config struct {
	Clusters int
	// Lookback caps the number of trailing feature rows that are clustered.
	Lookback int
	// MinRows is the feature row count under which everything is Neutral.
	MinRows  int
	Restarts int
	Seed     int64
}

func DefaultConfig() Config {
	return Config{
		Clusters: 3,
		Lookback: 400,
		MinRows:  20,
		Restarts: 5,
		Seed:     42,
	}
}

// Feature is one clustered row: 5-bar mean return, 20-bar return volatility
// and 50-bar mean return, ending at bar Index.
type Feature struct {
	Index int
	Ret   float64
	Vol   float64
	Trend float64
}

func (f Feature) point() []float64 { return []float64{f.Ret, f.Vol, f.Trend} }

// Features returns the rows where every feature is defined and finite.
func Features(prices model.PriceSeries) []Feature {
	closes := prices.Closes()
	if len(closes) < 2 {
		return nil
	}
	returns := make([]float64, len(closes))
	returns[0] = math.NaN()
	for i := 1; i < len(closes); i++ {
		returns[i] = closes[i]/closes[i-1] - 1
	}
	ret := indicator.RollingMean(returns, retWindow)
	vol := indicator.RollingStd(returns, volWindow)
	trend := indicator.RollingMean(returns, trendWindow)

	var out []Feature
	for i := range closes {
		f := Feature{Index: i, Ret: ret[i], Vol: vol[i], Trend: trend[i]}
		if finite(f.Ret) && finite(f.Vol) && finite(f.Trend) {
			out = append(out, f)
		}
	}
	return out
}

// Classify labels every bar. Bars before the clustered window are Neutral,
// bars inside it without a feature row carry the previous label forward.
func Classify(prices model.PriceSeries, cfg Config) []string {
	labels := make([]string, len(prices))
	for i := range labels {
		labels[i] = Neutral
	}
	rows := Features(prices)
	minRows := cfg.MinRows
	if minRows <= 0 {
		minRows = DefaultConfig().MinRows
	}
	if len(rows) < minRows {
		return labels
	}
	if cfg.Lookback > 0 && len(rows) > cfg.Lookback {
		rows = rows[len(rows)-cfg.Lookback:]
	}

	points := make([][]float64, len(rows))
	for i, r := range rows {
		points[i] = r.point()
	}
	assign := Cluster(points, cfg)
	names := nameClusters(rows, assign, clusterCount(cfg, len(rows)))

	current := Neutral
	next := 0
	for i := rows[0].Index; i < len(prices); i++ {
		if next < len(rows) && rows[next].Index == i {
			current = names[assign[next]]
			next++
		}
		labels[i] = current
	}
	return labels
}

// Current is the label of the last bar.
func Current(prices model.PriceSeries, cfg Config) string {
	labels := Classify(prices, cfg)
	if len(labels) == 0 {
		return Neutral
	}
	return labels[len(labels)-1]
}

// nameClusters maps the cluster with the highest mean trend to Up, the lowest
// to Down, the most volatile of the rest to HighVol and anything else to
// Neutral. Down wins when one cluster is both extremes.
func nameClusters(rows []Feature, assign []int, k int) []string {
	trends := make([][]float64, k)
	vols := make([][]float64, k)
	for i, c := range assign {
		trends[c] = append(trends[c], rows[i].Trend)
		vols[c] = append(vols[c], rows[i].Vol)
	}

	up, down, hv := -1, -1, -1
	var maxTrend, minTrend, maxVol float64
	for c := 0; c < k; c++ {
		if len(trends[c]) == 0 {
			continue
		}
		t, _ := stats.Mean(trends[c])
		v, _ := stats.Mean(vols[c])
		if up < 0 || t > maxTrend {
			up, maxTrend = c, t
		}
		if down < 0 || t < minTrend {
			down, minTrend = c, t
		}
		if hv < 0 || v > maxVol {
			hv, maxVol = c, v
		}
	}

	names := make([]string, k)
	for c := range names {
		switch c {
		case down:
			names[c] = Down
		case up:
			names[c] = Up
		case hv:
			names[c] = HighVol
		default:
			names[c] = Neutral
		}
	}
	return names
}

func clusterCount(cfg Config, n int) int {
	k := cfg.Clusters
	if k <= 0 {
		k = DefaultConfig().Clusters
	}
	if k > n {
		k = n
	}
	return k
}

// Cluster runs seeded k-means++ Restarts times and returns the cluster index
// of every point for the run with the lowest inertia.
func Cluster(points [][]float64, cfg Config) []int {
	if len(points) == 0 {
		return nil
	}
	k := clusterCount(cfg, len(points))
	restarts := cfg.Restarts
	if restarts <= 0 {
		restarts = 1
	}
	rng := rand.New(rand.NewSource(cfg.Seed))

	var best []int
	bestInertia := math.Inf(1)
	for r := 0; r < restarts; r++ {
		assign, inertia := lloyd(points, seedCenters(points, k, rng))
		if inertia < bestInertia {
			best, bestInertia = assign, inertia
		}
	}
	return best
}

func seedCenters(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	centers := [][]float64{clone(points[rng.Intn(len(points))])}
	dist := make([]float64, len(points))
	for len(centers) < k {
		var total float64
		for i, p := range points {
			dist[i] = nearest(p, centers).dist
			total += dist[i]
		}
		if total == 0 {
			centers = append(centers, clone(points[rng.Intn(len(points))]))
			continue
		}
		target := rng.Float64() * total
		pick := len(points) - 1
		for i, d := range dist {
			target -= d
			if target <= 0 {
				pick = i
				break
			}
		}
		centers = append(centers, clone(points[pick]))
	}
	return centers
}

func lloyd(points [][]float64, centers [][]float64) ([]int, float64) {
	assign := make([]int, len(points))
	dims := len(points[0])
	var inertia float64
	for iter := 0; iter < maxIterations; iter++ {
		inertia = 0
		for i, p := range points {
			n := nearest(p, centers)
			assign[i] = n.index
			inertia += n.dist
		}

		sums := make([][]float64, len(centers))
		counts := make([]int, len(centers))
		for c := range sums {
			sums[c] = make([]float64, dims)
		}
		for i, p := range points {
			c := assign[i]
			counts[c]++
			for d, v := range p {
				sums[c][d] += v
			}
		}
		var shift float64
		for c := range centers {
			if counts[c] == 0 {
				continue
			}
			for d := range sums[c] {
				sums[c][d] /= float64(counts[c])
			}
			shift += sqDist(centers[c], sums[c])
			centers[c] = sums[c]
		}
		if shift == 0 {
			break
		}
	}
	return assign, inertia
}

type hit struct {
	index int
	dist  float64
}

func nearest(p []float64, centers [][]float64) hit {
	best := hit{index: 0, dist: math.Inf(1)}
	for c, center := range centers {
		if d := sqDist(p, center); d < best.dist {
			best = hit{index: c, dist: d}
		}
	}
	return best
}

func sqDist(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

func clone(p []float64) []float64 {
	return append([]float64(nil), p...)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
