package model

import (
	"math"
	"sort"
	"time"
)

// SignalSeries holds one directional value per bar, aligned with the bars of
// the PriceSeries it was computed from. Values are in [-1, 1]: 0 is flat,
// positive a long bias, negative a short bias.
type SignalSeries struct {
	Times  []time.Time `json:"times"`
	Values []float64   `json:"values"`
}

func NewSignalSeries(times []time.Time, values []float64) SignalSeries {
	return SignalSeries{Times: times, Values: values}
}

func (s SignalSeries) Len() int { return len(s.Values) }

// HasIndex reports whether every value carries its timestamp.
func (s SignalSeries) HasIndex() bool {
	return len(s.Times) == len(s.Values)
}

// Tail returns the last n values (and timestamps when present).
func (s SignalSeries) Tail(n int) SignalSeries {
	if n <= 0 || n >= len(s.Values) {
		return s
	}
	out := SignalSeries{Values: s.Values[len(s.Values)-n:]}
	if s.HasIndex() {
		out.Times = s.Times[len(s.Times)-n:]
	}
	return out
}

func (s SignalSeries) Last() (float64, bool) {
	if len(s.Values) == 0 {
		return 0, false
	}
	return s.Values[len(s.Values)-1], true
}

// Clip returns a copy with every value forced into [-1, 1]. NaN becomes flat.
func (s SignalSeries) Clip() SignalSeries {
	values := make([]float64, len(s.Values))
	for i, v := range s.Values {
		values[i] = ClipUnit(v)
	}
	return SignalSeries{Times: s.Times, Values: values}
}

func ClipUnit(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	case v < -1:
		return -1
	default:
		return v
	}
}

// WeightMap maps a strategy id to its non-negative ensemble weight.
type WeightMap map[string]float64

func (w WeightMap) Sum() float64 {
	sum := 0.0
	for _, v := range w {
		sum += v
	}
	return sum
}

// IDs returns the strategy ids in lexical order.
func (w WeightMap) IDs() []string {
	ids := make([]string, 0, len(w))
	for id := range w {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
