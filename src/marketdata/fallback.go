package marketdata

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"signalengine/src/metrics"
	"signalengine/src/model"
)

// FallbackProvider tries each provider in order and returns the first success.
type FallbackProvider struct {
	providers []Provider
	log       *logrus.Entry
}

func NewFallbackProvider(log *logrus.Entry, providers ...Provider) *FallbackProvider {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &FallbackProvider{providers: providers, log: log}
}

func (f *FallbackProvider) Name() string {
	names := make([]string, len(f.providers))
	for i, p := range f.providers {
		names[i] = p.Name()
	}
	return strings.Join(names, ",")
}

func (f *FallbackProvider) FetchBars(ctx context.Context, symbol, timeframe string, limit int) (model.PriceSeries, error) {
	var lastErr error
	for _, p := range f.providers {
		bars, err := p.FetchBars(ctx, symbol, timeframe, limit)
		metrics.MarketDataRequestsTotal.WithLabelValues(p.Name(), metrics.Result(err)).Inc()
		if err == nil && len(bars) > 0 {
			return bars, nil
		}
		if err == nil {
			err = fmt.Errorf("%w: %s %s", ErrNoData, p.Name(), symbol)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		f.log.WithFields(map[string]interface{}{
			"provider":  p.Name(),
			"symbol":    symbol,
			"timeframe": timeframe,
		}).WithError(err).Warn("market data provider failed, trying next")
		lastErr = err
	}
	return nil, f.exhausted(symbol, lastErr)
}

func (f *FallbackProvider) LastPrice(ctx context.Context, symbol string) (float64, error) {
	var lastErr error
	for _, p := range f.providers {
		price, err := p.LastPrice(ctx, symbol)
		metrics.MarketDataRequestsTotal.WithLabelValues(p.Name(), metrics.Result(err)).Inc()
		if err == nil && price > 0 {
			return price, nil
		}
		if err == nil {
			err = fmt.Errorf("%w: %s price %v", ErrNoData, p.Name(), price)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		f.log.WithFields(map[string]interface{}{
			"provider": p.Name(),
			"symbol":   symbol,
		}).WithError(err).Warn("last price lookup failed, trying next")
		lastErr = err
	}
	return 0, f.exhausted(symbol, lastErr)
}

func (f *FallbackProvider) exhausted(symbol string, lastErr error) error {
	if lastErr == nil {
		lastErr = errors.New("no providers configured")
	}
	return fmt.Errorf("all providers failed for %s: %w", symbol, lastErr)
}
