package ensemble

import (
	"math"
	"sort"
	"time"

	"signalengine/src/model"
)

// Blend combines signals into one series: the weighted sum per bar, clipped to
// [-1, 1]. Series are aligned on the union of their timestamps with missing
// values treated as flat. When any series lacks timestamps the alignment is
// positional from the first bar. Signals without a weight contribute nothing.
func Blend(signals map[string]model.SignalSeries, weights model.WeightMap) model.SignalSeries {
	if len(signals) == 0 {
		return model.SignalSeries{}
	}

	ids := make([]string, 0, len(signals))
	indexed := true
	for id, s := range signals {
		ids = append(ids, id)
		if !s.HasIndex() {
			indexed = false
		}
	}
	sort.Strings(ids)

	if !indexed {
		return blendPositional(ids, signals, weights)
	}

	times := unionTimes(signals)
	pos := make(map[int64]int, len(times))
	for i, t := range times {
		pos[t.UnixNano()] = i
	}

	values := make([]float64, len(times))
	for _, id := range ids {
		w := weights[id]
		if w == 0 {
			continue
		}
		s := signals[id]
		for j, v := range s.Values {
			values[pos[s.Times[j].UnixNano()]] += w * finiteOrZero(v)
		}
	}
	return model.NewSignalSeries(times, values).Clip()
}

func blendPositional(ids []string, signals map[string]model.SignalSeries, weights model.WeightMap) model.SignalSeries {
	n := 0
	for _, id := range ids {
		if l := signals[id].Len(); l > n {
			n = l
		}
	}
	values := make([]float64, n)
	for _, id := range ids {
		w := weights[id]
		if w == 0 {
			continue
		}
		for j, v := range signals[id].Values {
			values[j] += w * finiteOrZero(v)
		}
	}
	return model.SignalSeries{Values: values}.Clip()
}

func unionTimes(signals map[string]model.SignalSeries) []time.Time {
	seen := make(map[int64]time.Time)
	for _, s := range signals {
		for _, t := range s.Times {
			seen[t.UnixNano()] = t
		}
	}
	out := make([]time.Time, 0, len(seen))
	for _, t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
