package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"signalengine/cmd/candles"
	"signalengine/src/app"
	"signalengine/src/backtest"
	"signalengine/src/database"
	"signalengine/src/ensemble"
	"signalengine/src/portfolio"
	"signalengine/src/server"
	"signalengine/src/strategy"
)

var Version string

func main() {
	cliApp := cli.NewApp()
	cliApp.Name = "signalengine"
	cliApp.Usage = "Signal ensemble, risk sizing and position ledger"
	cliApp.Version = Version

	cliApp.Commands = []cli.Command{
		serveCMD,
		watchCMD,
		syncCMD,
		picksCMD,
		acceptCMD,
		positionsCMD,
		openCMD,
		closeCMD,
		refreshCMD,
		backtestCMD,
	}

	if err := cliApp.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	serveCMD = cli.Command{
		Name:        "serve",
		Usage:       "run the HTTP API and the position watcher",
		Action:      serveAction,
		Description: `Serve the positions, portfolio and picks API on PORT`,
	}
	watchCMD = cli.Command{
		Name:        "watch",
		Usage:       "run the position watcher only",
		Action:      watchAction,
		Description: `Close positions whose target or stop is touched, every WATCH_PERIOD`,
	}
	syncCMD = cli.Command{
		Name:        "sync",
		Usage:       "refresh the candle cache",
		Action:      syncAction,
		Description: `Fetch SYNC_TIMEFRAMES candles for PICKS_SYMBOLS from MARKET_EXCHANGE and store them`,
	}
	picksCMD = cli.Command{
		Name:      "picks",
		Usage:     "generate top picks",
		Action:    picksAction,
		ArgsUsage: "[SYMBOL...]",
		Flags: []cli.Flag{
			cli.StringSliceFlag{Name: "accept", Usage: "candidate ids to accept right away"},
			cli.BoolFlag{Name: "accept-all", Usage: "accept every candidate of the run"},
		},
	}
	acceptCMD = cli.Command{
		Name:        "accept",
		Usage:       "generate picks for symbols and open every candidate",
		Action:      acceptAction,
		ArgsUsage:   "SYMBOL...",
		Description: `Each CLI call is its own process, so the run is generated and accepted in one step`,
	}
	positionsCMD = cli.Command{
		Name:   "positions",
		Usage:  "list positions",
		Action: positionsAction,
		Flags: []cli.Flag{
			cli.StringFlag{Name: "status", Usage: "OPEN or CLOSED"},
			cli.IntFlag{Name: "limit", Value: 100},
		},
	}
	openCMD = cli.Command{
		Name:   "open",
		Usage:  "record a position",
		Action: openAction,
		Flags: []cli.Flag{
			cli.StringFlag{Name: "symbol"},
			cli.StringFlag{Name: "side", Value: "LONG"},
			cli.Float64Flag{Name: "entry"},
			cli.Float64Flag{Name: "stop"},
			cli.Float64Flag{Name: "target"},
			cli.Float64Flag{Name: "qty"},
			cli.StringFlag{Name: "note", Value: portfolio.NoteManual},
		},
	}
	closeCMD = cli.Command{
		Name:      "close",
		Usage:     "close a position",
		Action:    closeAction,
		ArgsUsage: "ID",
		Flags: []cli.Flag{
			cli.Float64Flag{Name: "exit", Usage: "exit price, defaults to the live price"},
			cli.StringFlag{Name: "note", Value: portfolio.NoteManual},
		},
	}
	refreshCMD = cli.Command{
		Name:   "refresh",
		Usage:  "mark open positions and auto-close touched targets and stops",
		Action: refreshAction,
	}
	backtestCMD = cli.Command{
		Name:   "backtest",
		Usage:  "backtest the blended ensemble over one symbol",
		Action: backtestAction,
		Flags: []cli.Flag{
			cli.StringFlag{Name: "symbol", Value: "BTC/USDT"},
			cli.StringFlag{Name: "timeframe", Usage: "defaults to MARKET_TIMEFRAME"},
			cli.IntFlag{Name: "bars", Usage: "defaults to MARKET_BARS"},
		},
	}
)

func bootstrap() (*app.App, error) {
	database.SetupLogger(database.GetConfig())
	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Error("Failed to connect to database")
		return nil, err
	}
	return app.New(database.MainDB, app.FromEnv())
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func serveAction(_ *cli.Context) error {
	logrus.WithField("cmd", "serve").Info("Starting API")
	a, err := bootstrap()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := a.Watcher().StartLoop(ctx); err != nil {
			logrus.WithError(err).Error("position watcher stopped")
		}
	}()

	server.StartServer(server.GetConfig(), a.Router())
	return nil
}

func watchAction(_ *cli.Context) error {
	logrus.WithField("cmd", "watch").Info("Starting position watcher")
	a, err := bootstrap()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()
	return a.Watcher().StartLoop(ctx)
}

func syncAction(_ *cli.Context) error {
	logrus.WithField("cmd", "sync").Info("Starting candle sync")
	a, err := bootstrap()
	if err != nil {
		return err
	}
	opts := app.FromEnv()
	s, err := candles.NewSyncer(a.DB, opts.Market, opts.Picks.Symbols, a.Log.WithField("cmd", "sync"))
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()
	stored, err := s.Start(ctx)
	logrus.WithField("bars", stored).Info("candle sync finished")
	return err
}

func picksAction(c *cli.Context) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	run, err := a.Picks.Generate(ctx, c.Args())
	if err != nil {
		return err
	}
	ids := c.StringSlice("accept")
	if c.Bool("accept-all") {
		ids = ids[:0]
		for _, cand := range run.Candidates {
			ids = append(ids, cand.ID)
		}
	}
	if len(ids) == 0 {
		return printJSON(run)
	}
	opened, err := a.Picks.Accept(ctx, ids)
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{"run": run, "opened": opened})
}

func acceptAction(c *cli.Context) error {
	if !c.Args().Present() {
		return fmt.Errorf("at least one symbol is required")
	}
	a, err := bootstrap()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	run, err := a.Picks.Generate(ctx, c.Args())
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(run.Candidates))
	for _, cand := range run.Candidates {
		ids = append(ids, cand.ID)
	}
	if len(ids) == 0 {
		return printJSON(run.Skipped)
	}
	opened, err := a.Picks.Accept(ctx, ids)
	if err != nil {
		return err
	}
	return printJSON(opened)
}

func positionsAction(c *cli.Context) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	positions, err := a.Ledger.List(context.Background(), c.String("status"), c.Int("limit"))
	if err != nil {
		return err
	}
	return printJSON(positions)
}

func openAction(c *cli.Context) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	p, err := a.Ledger.Open(context.Background(), portfolio.OpenRequest{
		Symbol:   c.String("symbol"),
		Side:     c.String("side"),
		Entry:    c.Float64("entry"),
		Stop:     c.Float64("stop"),
		Target:   c.Float64("target"),
		Quantity: c.Float64("qty"),
		Note:     c.String("note"),
	})
	if err != nil {
		return err
	}
	return printJSON(p)
}

func closeAction(c *cli.Context) error {
	id, err := strconv.ParseUint(c.Args().First(), 10, 64)
	if err != nil || id == 0 {
		return fmt.Errorf("invalid position id %q", c.Args().First())
	}
	a, err := bootstrap()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	exit := c.Float64("exit")
	if exit <= 0 {
		p, err := a.Ledger.Get(ctx, uint(id))
		if err != nil {
			return err
		}
		if exit, err = a.Provider.LastPrice(ctx, p.Symbol); err != nil {
			return fmt.Errorf("live price for %s: %w", p.Symbol, err)
		}
	}
	pnl, err := a.Ledger.Close(ctx, uint(id), exit, c.String("note"))
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{"id": id, "exit": exit, "pnl": pnl})
}

func refreshAction(_ *cli.Context) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	closed, err := a.Watcher().Tick(ctx)
	if err != nil {
		return err
	}
	open, err := a.Ledger.OpenPositions(ctx)
	if err != nil {
		return err
	}
	snap, err := a.Ledger.Snapshot(ctx, a.PicksCfg.Capital, portfolio.MarkPrices(ctx, open, a.Provider, a.Log))
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{"closed": closed, "snapshot": snap})
}

func backtestAction(c *cli.Context) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	timeframe := c.String("timeframe")
	if timeframe == "" {
		timeframe = a.PicksCfg.Timeframe
	}
	bars := c.Int("bars")
	if bars <= 0 {
		bars = a.PicksCfg.Bars
	}
	symbol := c.String("symbol")

	prices, err := a.Provider.FetchBars(ctx, symbol, timeframe, bars)
	if err != nil {
		return err
	}
	registry := strategy.DefaultRegistry()
	if len(a.PicksCfg.Strategies) > 0 {
		if registry, err = registry.Filter(a.PicksCfg.Strategies); err != nil {
			return err
		}
	}
	report, err := ensemble.Evaluate(ctx, prices, registry, ensemble.Config{
		Backtest: backtest.DefaultConfig(),
		Logger:   a.Log.WithField("symbol", symbol),
	})
	if err != nil {
		return err
	}

	logrus.WithFields(map[string]interface{}{
		"symbol":  symbol,
		"bars":    len(prices),
		"sharpe":  report.Metrics.Sharpe,
		"sortino": report.Metrics.Sortino,
		"max_dd":  report.Metrics.MaxDrawdown,
		"calmar":  report.Metrics.Calmar,
	}).Info("ensemble backtest")
	return printJSON(report)
}
