// Package app wires the database, market data, ledger and pick pipeline
// into one object shared by the HTTP server and the CLI.
package app

import (
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"signalengine/src/executors"
	"signalengine/src/marketdata"
	"signalengine/src/picks"
	"signalengine/src/portfolio"
	"signalengine/src/repository"
	"signalengine/src/risk"
	"signalengine/src/server"
)

type App struct {
	DB         *gorm.DB
	Provider   marketdata.Provider
	Ledger     *portfolio.Ledger
	Picks      *picks.Service
	Exceptions *repository.ExceptionRepository
	PicksCfg   picks.Config
	RiskCfg    risk.Config
	Log        *logrus.Entry
}

type Options struct {
	Market marketdata.Config
	Picks  picks.Config
	Risk   risk.Config
	// Provider overrides the one built from Market.
	Provider marketdata.Provider
	Logger   *logrus.Entry
}

// FromEnv reads every component's configuration from the environment.
func FromEnv() Options {
	return Options{
		Market: marketdata.GetConfig(),
		Picks:  picks.GetConfig(),
		Risk:   risk.GetConfig(),
	}
}

func New(db *gorm.DB, opts Options) (*App, error) {
	if db == nil {
		return nil, errors.New("app: database is required")
	}
	log := opts.Logger
	if log == nil {
		log = logrus.WithField("service", "signalengine")
	}

	provider := opts.Provider
	if provider == nil {
		p, err := marketdata.NewFromConfig(opts.Market, db, log)
		if err != nil {
			return nil, err
		}
		provider = p
	}

	ledger := portfolio.NewLedger(db, log)
	exceptions := repository.NewExceptionRepositoryWithDB(db)
	svc, err := picks.NewService(opts.Picks, opts.Risk, picks.Deps{
		Provider:   provider,
		Ledger:     ledger,
		Exceptions: exceptions,
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(map[string]interface{}{
		"provider":  provider.Name(),
		"timeframe": opts.Picks.Timeframe,
		"symbols":   len(opts.Picks.Symbols),
	}).Info("application wired")

	return &App{
		DB:         db,
		Provider:   provider,
		Ledger:     ledger,
		Picks:      svc,
		Exceptions: exceptions,
		PicksCfg:   opts.Picks,
		RiskCfg:    opts.Risk,
		Log:        log,
	}, nil
}

func (a *App) Router() http.Handler {
	return server.NewRouter(server.Deps{
		Ledger:  a.Ledger,
		Picks:   a.Picks,
		Prices:  a.Provider,
		Capital: a.PicksCfg.Capital,
	})
}

func (a *App) Watcher() *executors.Watcher {
	return &executors.Watcher{
		Ledger:     a.Ledger,
		Prices:     a.Provider,
		Exceptions: a.Exceptions,
		Log:        a.Log.WithField("component", "watcher"),
	}
}
