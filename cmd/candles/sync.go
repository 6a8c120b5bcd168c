// Package candles warms the ohlcv_candles cache from the primary exchange so
// pick runs can be served without hitting the network.
package candles

import (
	"context"
	"errors"
	"fmt"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"signalengine/src/marketdata"
	"signalengine/src/model"
	"signalengine/src/repository"
)

type refresher interface {
	Name() string
	Refresh(ctx context.Context, symbol, timeframe string, limit int) (model.PriceSeries, error)
}

type Syncer struct {
	Log     *logger.Entry
	Config  *Config
	Symbols []string
	source  refresher
}

// NewSyncer caches the exchange named in market through db.
func NewSyncer(db *gorm.DB, market marketdata.Config, symbols []string, log *logger.Entry) (*Syncer, error) {
	if db == nil {
		return nil, errors.New("candle sync needs a database")
	}
	if log == nil {
		log = logger.WithField("cmd", "sync")
	}
	p, err := marketdata.NewProvider(market.Exchange, market, log)
	if err != nil {
		return nil, err
	}
	return &Syncer{
		Log:     log,
		Config:  GetConfig(),
		Symbols: symbols,
		source:  marketdata.NewCachedProvider(p, repository.NewOHLCVRepositoryWithDB(db), log),
	}, nil
}

// Start refreshes every symbol and timeframe pair. A failing pair is logged
// and skipped; the joined failures are returned at the end.
func (s *Syncer) Start(ctx context.Context) (int, error) {
	var (
		stored int
		errs   []error
	)
	for _, tf := range s.Config.Timeframes {
		if _, err := marketdata.ParseTimeframe(tf); err != nil {
			errs = append(errs, err)
			continue
		}
		for _, symbol := range s.Symbols {
			bars, err := s.source.Refresh(ctx, symbol, tf, s.Config.Limit)
			if err != nil {
				s.Log.WithFields(map[string]interface{}{
					"symbol":    symbol,
					"timeframe": tf,
				}).WithError(err).Error("candle sync failed")
				errs = append(errs, fmt.Errorf("%s %s: %w", symbol, tf, err))
				continue
			}
			stored += len(bars)
			s.Log.WithFields(map[string]interface{}{
				"exchange":  s.source.Name(),
				"symbol":    symbol,
				"timeframe": tf,
				"bars":      len(bars),
			}).Info("candles synced")
		}
	}
	return stored, errors.Join(errs...)
}
