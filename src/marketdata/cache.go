package marketdata

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"signalengine/src/model"
	"signalengine/src/repository"
)

// CachedProvider stores fetched bars in ohlcv_candles and serves repeated
// reads from there while the newest stored bar is recent enough.
type CachedProvider struct {
	source Provider
	repo   *repository.OHLCVRepository
	log    *logrus.Entry
	now    func() time.Time
}

func NewCachedProvider(source Provider, repo *repository.OHLCVRepository, log *logrus.Entry) *CachedProvider {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &CachedProvider{source: source, repo: repo, log: log, now: time.Now}
}

func (c *CachedProvider) Name() string { return c.source.Name() }

func (c *CachedProvider) FetchBars(ctx context.Context, symbol, timeframe string, limit int) (model.PriceSeries, error) {
	interval, err := ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}
	cached, err := c.repo.Recent(ctx, c.source.Name(), symbol, timeframe, limit)
	if err != nil {
		c.log.WithError(err).Warn("reading candle cache failed")
	} else if c.fresh(cached, limit, interval) {
		return model.CandlesToSeries(cached), nil
	}
	return c.Refresh(ctx, symbol, timeframe, limit)
}

// Refresh fetches from the source unconditionally and stores the result.
func (c *CachedProvider) Refresh(ctx context.Context, symbol, timeframe string, limit int) (model.PriceSeries, error) {
	bars, err := c.source.FetchBars(ctx, symbol, timeframe, limit)
	if err != nil {
		return nil, err
	}
	candles := make([]model.OHLCVCandle, len(bars))
	for i, b := range bars {
		candles[i] = model.NewOHLCVCandle(c.source.Name(), symbol, timeframe, b)
	}
	if err := c.repo.Upsert(ctx, candles); err != nil {
		c.log.WithFields(map[string]interface{}{
			"symbol":    symbol,
			"timeframe": timeframe,
		}).WithError(err).Warn("caching candles failed")
	}
	return bars, nil
}

func (c *CachedProvider) LastPrice(ctx context.Context, symbol string) (float64, error) {
	return c.source.LastPrice(ctx, symbol)
}

// fresh reports whether cached holds limit bars and the newest one is at
// most one interval older than the currently forming bar.
func (c *CachedProvider) fresh(cached []model.OHLCVCandle, limit int, interval time.Duration) bool {
	if len(cached) == 0 || (limit > 0 && len(cached) < limit) {
		return false
	}
	newest := cached[len(cached)-1].Datetime
	return c.now().Sub(newest) < 2*interval
}
