// Package marketdata adapts exchange price feeds to the engine's PriceSeries.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"signalengine/src/model"
)

var (
	ErrUnsupportedTimeframe = errors.New("unsupported timeframe")
	ErrInvalidSymbol        = errors.New("invalid symbol")
	ErrNoData               = errors.New("no market data returned")
)

// Provider fetches ordered bars and last traded prices for a venue.
type Provider interface {
	Name() string
	FetchBars(ctx context.Context, symbol, timeframe string, limit int) (model.PriceSeries, error)
	LastPrice(ctx context.Context, symbol string) (float64, error)
}

var timeframes = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"1w":  7 * 24 * time.Hour,
}

// ParseTimeframe maps a timeframe label such as "15m" or "4h" to its duration.
func ParseTimeframe(tf string) (time.Duration, error) {
	d, ok := timeframes[canonicalTimeframe(tf)]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedTimeframe, tf)
	}
	return d, nil
}

func canonicalTimeframe(tf string) string {
	return strings.ToLower(strings.TrimSpace(tf))
}

// SplitSymbol splits "BTC/USDT", "BTC-USDT" or "BTC_USDT" into base and quote.
func SplitSymbol(symbol string) (string, string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	for _, sep := range []string{"/", "-", "_"} {
		if parts := strings.Split(s, sep); len(parts) == 2 && parts[0] != "" && parts[1] != "" {
			return parts[0], parts[1], nil
		}
	}
	return "", "", fmt.Errorf("%w: %q (expected BASE/QUOTE)", ErrInvalidSymbol, symbol)
}

// normalizeBars sorts by time, drops duplicate timestamps keeping the last
// occurrence and keeps at most limit trailing bars. Any reordering or
// dropped duplicate is logged as a warning with its counts.
func normalizeBars(bars model.PriceSeries, limit int, log *logrus.Entry) model.PriceSeries {
	outOfOrder := 0
	for i := 1; i < len(bars); i++ {
		if bars[i].Time.Before(bars[i-1].Time) {
			outOfOrder++
		}
	}
	if outOfOrder > 0 {
		sort.SliceStable(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	}

	out := make(model.PriceSeries, 0, len(bars))
	duplicates := 0
	for _, b := range bars {
		if n := len(out); n > 0 && out[n-1].Time.Equal(b.Time) {
			out[n-1] = b
			duplicates++
			continue
		}
		out = append(out, b)
	}

	if outOfOrder > 0 || duplicates > 0 {
		if log == nil {
			log = logrus.NewEntry(logrus.StandardLogger())
		}
		log.WithFields(map[string]interface{}{
			"bars":         len(bars),
			"out_of_order": outOfOrder,
			"duplicates":   duplicates,
		}).Warn("venue returned unordered or duplicate bars, series was reordered")
	}

	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
