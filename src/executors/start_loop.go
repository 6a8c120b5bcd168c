// Package executors runs the background position watcher: on every tick it
// marks OPEN positions at live prices and closes the ones whose target or
// stop was touched.
package executors

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"

	"signalengine/src/controller"
	"signalengine/src/model"
	"signalengine/src/portfolio"
	"signalengine/src/repository"
)

type Ledger interface {
	OpenPositions(ctx context.Context) ([]model.Position, error)
	AutoClose(ctx context.Context, prices map[string]float64) ([]portfolio.AutoCloseResult, error)
}

type Watcher struct {
	Ledger     Ledger
	Prices     portfolio.PriceSource
	Exceptions *repository.ExceptionRepository
	Period     time.Duration
	Log        *logger.Entry
}

// StartLoop ticks until ctx is done. A failing tick is recorded and the loop
// keeps going.
func (w *Watcher) StartLoop(ctx context.Context) error {
	if w.Ledger == nil || w.Prices == nil {
		return errors.New("watcher needs a ledger and a price source")
	}
	if w.Period <= 0 {
		w.Period = GetConfig().LoopPeriod
	}
	if w.Log == nil {
		w.Log = logger.WithField("component", "watcher")
	}

	ticker := time.NewTicker(w.Period)
	defer ticker.Stop()

	w.Log.WithField("period", w.Period.String()).Info("position watcher started")
	for {
		select {
		case <-ctx.Done():
			w.Log.Info("loop stopped")
			return nil

		case <-ticker.C:
			if _, err := w.Tick(ctx); err != nil {
				controller.Capture(ctx, w.Exceptions, "watcher", "portfolio", "AutoClose", controller.LevelError, err, nil)
			}
		}
	}
}

// Tick runs a single mark-and-close pass.
func (w *Watcher) Tick(ctx context.Context) ([]portfolio.AutoCloseResult, error) {
	log := w.Log
	if log == nil {
		log = logger.WithField("component", "watcher")
	}

	open, err := w.Ledger.OpenPositions(ctx)
	if err != nil {
		return nil, err
	}
	if len(open) == 0 {
		log.Debug("no open positions")
		return nil, nil
	}

	closed, err := w.Ledger.AutoClose(ctx, portfolio.MarkPrices(ctx, open, w.Prices, log))
	if err != nil {
		return nil, err
	}
	for _, c := range closed {
		log.WithFields(map[string]interface{}{
			"id":     c.ID,
			"symbol": c.Symbol,
			"exit":   c.Exit,
			"pnl":    c.PnL,
			"reason": c.Reason,
		}).Info("position auto-closed")
	}
	return closed, nil
}
