// Package picks runs the top-picks pipeline: for each symbol it blends the
// strategy signals, sizes a candidate trade and ranks the candidates.
package picks

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"signalengine/src/backtest"
	"signalengine/src/confidence"
	"signalengine/src/controller"
	"signalengine/src/ensemble"
	"signalengine/src/marketdata"
	"signalengine/src/metrics"
	"signalengine/src/model"
	"signalengine/src/portfolio"
	"signalengine/src/regime"
	"signalengine/src/repository"
	"signalengine/src/risk"
	"signalengine/src/strategy"
)

var (
	ErrNoSymbols        = errors.New("no symbols to evaluate")
	ErrNoRun            = errors.New("no pick run available")
	ErrUnknownCandidate = errors.New("unknown candidate")
	ErrAlreadyAccepted  = errors.New("candidate already accepted")
)

const serviceName = "picks"

type Candidate struct {
	ID           string           `json:"id"`
	Symbol       string           `json:"symbol"`
	Side         string           `json:"side"`
	Entry        float64          `json:"entry"`
	Stop         float64          `json:"stop"`
	Target       float64          `json:"target"`
	ATR          float64          `json:"atr"`
	RewardRisk   float64          `json:"reward_risk"`
	Confidence   float64          `json:"confidence"`
	Signal       float64          `json:"signal"`
	Regime       string           `json:"regime"`
	RiskQuantity float64          `json:"risk_quantity"`
	Quantity     float64          `json:"quantity"`
	Weights      model.WeightMap  `json:"weights"`
	Metrics      backtest.Metrics `json:"metrics"`
}

// Skipped is a symbol that produced no pick, with the reason.
type Skipped struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
}

type Run struct {
	ID            string      `json:"id"`
	GeneratedAt   time.Time   `json:"generated_at"`
	Equity        float64     `json:"equity"`
	Budget        float64     `json:"budget"`
	OpenPositions int         `json:"open_positions"`
	Candidates    []Candidate `json:"candidates"`
	Skipped       []Skipped   `json:"skipped"`
}

type Deps struct {
	Provider   marketdata.Provider
	Ledger     *portfolio.Ledger
	Registry   *strategy.Registry
	Exceptions *repository.ExceptionRepository
	Logger     *logrus.Entry
}

type Service struct {
	cfg        Config
	risk       risk.Config
	provider   marketdata.Provider
	ledger     *portfolio.Ledger
	registry   *strategy.Registry
	exceptions *repository.ExceptionRepository
	log        *logrus.Entry
	now        func() time.Time

	mu       sync.Mutex
	last     *Run
	accepted map[string]bool
}

func NewService(cfg Config, riskCfg risk.Config, deps Deps) (*Service, error) {
	if deps.Provider == nil || deps.Ledger == nil {
		return nil, errors.New("picks: provider and ledger are required")
	}
	registry := deps.Registry
	if registry == nil {
		registry = strategy.DefaultRegistry()
	}
	if len(cfg.Strategies) > 0 {
		filtered, err := registry.Filter(cfg.Strategies)
		if err != nil {
			return nil, err
		}
		registry = filtered
	}
	log := deps.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{
		cfg:        cfg,
		risk:       riskCfg,
		provider:   deps.Provider,
		ledger:     deps.Ledger,
		registry:   registry,
		exceptions: deps.Exceptions,
		log:        log.WithField("component", serviceName),
		now:        time.Now,
	}, nil
}

// Last returns the most recent run, or nil.
func (s *Service) Last() *Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

type evaluation struct {
	candidate *Candidate
	skip      string
}

func skip(format string, args ...interface{}) evaluation {
	return evaluation{skip: fmt.Sprintf(format, args...)}
}

// Generate evaluates the symbols (the configured list when empty) and
// returns the ranked, budget-allocated candidates. Per-symbol failures are
// reported in Skipped and never fail the run.
func (s *Service) Generate(ctx context.Context, symbols []string) (*Run, error) {
	symbols = s.symbols(symbols)
	if len(symbols) == 0 {
		return nil, ErrNoSymbols
	}
	metrics.PickRunsTotal.Inc()

	snap, err := s.account(ctx)
	if err != nil {
		return nil, fmt.Errorf("portfolio snapshot: %w", err)
	}

	results := make([]evaluation, len(symbols))
	var g errgroup.Group
	g.SetLimit(s.concurrency())
	for i, symbol := range symbols {
		i, symbol := i, symbol
		g.Go(func() error {
			results[i] = s.evaluate(ctx, symbol, snap.Equity)
			return nil
		})
	}
	_ = g.Wait()

	run := &Run{
		ID:            uuid.NewString(),
		GeneratedAt:   s.now().UTC(),
		Equity:        snap.Equity,
		OpenPositions: snap.OpenPositions,
	}

	var candidates []Candidate
	for i, r := range results {
		if r.candidate == nil {
			run.Skipped = append(run.Skipped, Skipped{Symbol: symbols[i], Reason: r.skip})
			continue
		}
		candidates = append(candidates, *r.candidate)
	}
	rank(candidates)

	limit := s.cfg.MaxPicks
	if limit <= 0 {
		limit = DefaultConfig().MaxPicks
	}
	if slots := s.risk.MaxOpenPositions - snap.OpenPositions; slots < limit {
		limit = slots
	}
	if limit < 0 {
		limit = 0
	}
	if len(candidates) > limit {
		for _, c := range candidates[limit:] {
			run.Skipped = append(run.Skipped, Skipped{Symbol: c.Symbol, Reason: "ranked out of the top picks"})
		}
		candidates = candidates[:limit]
	}

	run.Budget = math.Max(0, snap.Equity*s.risk.MaxGrossExposurePct/100-snap.GrossExposure)
	kept, dropped := allocate(candidates, run.Budget)
	for _, c := range dropped {
		run.Skipped = append(run.Skipped, Skipped{Symbol: c.Symbol, Reason: "no gross exposure budget left"})
	}
	run.Candidates = kept
	metrics.PickSymbolsTotal.WithLabelValues("picked").Add(float64(len(kept)))

	s.mu.Lock()
	s.last = run
	s.accepted = make(map[string]bool)
	s.mu.Unlock()

	s.log.WithFields(map[string]interface{}{
		"run":        run.ID,
		"symbols":    len(symbols),
		"candidates": len(run.Candidates),
		"skipped":    len(run.Skipped),
		"budget":     run.Budget,
	}).Info("Pick run finished")
	return run, nil
}

// Accept opens a position for each candidate id of the last run.
func (s *Service) Accept(ctx context.Context, ids []string) ([]model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.last == nil {
		return nil, ErrNoRun
	}
	byID := make(map[string]Candidate, len(s.last.Candidates))
	for _, c := range s.last.Candidates {
		byID[c.ID] = c
	}

	chosen := make([]Candidate, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		c, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCandidate, id)
		}
		if s.accepted[id] || seen[id] {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyAccepted, id)
		}
		seen[id] = true
		chosen = append(chosen, c)
	}

	opened := make([]model.Position, 0, len(chosen))
	for _, c := range chosen {
		p, err := s.ledger.Open(ctx, portfolio.OpenRequest{
			Symbol:   c.Symbol,
			Side:     c.Side,
			Entry:    c.Entry,
			Stop:     c.Stop,
			Target:   c.Target,
			Quantity: c.Quantity,
			Note:     portfolio.NoteTopPick,
		})
		if err != nil {
			return opened, fmt.Errorf("accept %s: %w", c.Symbol, err)
		}
		s.accepted[c.ID] = true
		opened = append(opened, *p)
	}
	return opened, nil
}

func (s *Service) evaluate(ctx context.Context, symbol string, equity float64) evaluation {
	log := s.log.WithField("symbol", symbol)

	bars, err := s.provider.FetchBars(ctx, symbol, s.timeframe(), s.cfg.Bars)
	if err == nil {
		err = bars.Validate()
	}
	if err != nil {
		metrics.PickSymbolsTotal.WithLabelValues("error").Inc()
		controller.Capture(ctx, s.exceptions, serviceName, "marketdata", "FetchBars", controller.LevelError, err,
			map[string]interface{}{"symbol": symbol, "timeframe": s.timeframe()})
		return skip("market data: %v", err)
	}

	ens := ensemble.WeightsFromStrategies(ctx, bars, s.registry, ensemble.Config{
		Window:   s.risk.EnsembleWindow,
		Backtest: backtest.DefaultConfig(),
		Logger:   log,
	})
	for _, f := range ens.Failures {
		metrics.StrategyFailuresTotal.WithLabelValues(f.StrategyID).Inc()
		controller.Capture(ctx, s.exceptions, serviceName, "strategy", f.StrategyID, controller.LevelWarn, f.Err,
			map[string]interface{}{"symbol": symbol})
	}
	if len(ens.Signals) == 0 {
		metrics.PickSymbolsTotal.WithLabelValues("skipped").Inc()
		return skip("no strategy produced a signal")
	}

	blended := ensemble.Blend(ens.Signals, ens.Weights)
	value, _ := blended.Last()
	dir := risk.Direction(value, s.risk.SignalThreshold)
	if dir == 0 {
		metrics.PickSymbolsTotal.WithLabelValues("skipped").Inc()
		return skip("blended signal %.2f inside threshold %.2f", value, s.risk.SignalThreshold)
	}

	levels, ok := risk.LevelsFromSignal(bars, dir, s.risk.ATRStopMult, s.risk.ATRTargetMult)
	if !ok {
		metrics.PickSymbolsTotal.WithLabelValues("skipped").Inc()
		return skip("no valid stop/target levels")
	}
	rr := levels.RewardRisk()
	if !risk.AcceptRewardRisk(rr, s.risk.MinRewardRisk) {
		metrics.PickSymbolsTotal.WithLabelValues("skipped").Inc()
		return skip("reward/risk %.2f below %.2f", rr, s.risk.MinRewardRisk)
	}
	qty := risk.PositionSize(equity, levels.Entry, levels.Stop, s.risk.RiskPct)
	if qty <= 0 {
		metrics.PickSymbolsTotal.WithLabelValues("skipped").Inc()
		return skip("no actionable position size")
	}

	scorer := confidence.NewScorer()
	scorer.Window = s.risk.ConfidenceWindow
	conf, m := scorer.Score(bars, ens.Signals, ens.Weights)

	metrics.PickSymbolsTotal.WithLabelValues("candidate").Inc()
	return evaluation{candidate: &Candidate{
		ID:           uuid.NewString(),
		Symbol:       symbol,
		Side:         model.SideFromDirection(dir),
		Entry:        levels.Entry,
		Stop:         levels.Stop,
		Target:       levels.Target,
		ATR:          levels.ATR,
		RewardRisk:   rr,
		Confidence:   conf,
		Signal:       value,
		Regime:       regime.Current(bars, regime.DefaultConfig()),
		RiskQuantity: qty,
		Quantity:     qty,
		Weights:      ens.Weights,
		Metrics:      m,
	}}
}

// account snapshots the ledger at live prices.
func (s *Service) account(ctx context.Context) (*portfolio.Snapshot, error) {
	open, err := s.ledger.OpenPositions(ctx)
	if err != nil {
		return nil, err
	}
	prices := portfolio.MarkPrices(ctx, open, s.provider, s.log)
	return s.ledger.Snapshot(ctx, s.cfg.Capital, prices)
}

func (s *Service) symbols(in []string) []string {
	if len(in) == 0 {
		in = s.cfg.Symbols
	}
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, sym := range in {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	return out
}

func (s *Service) timeframe() string {
	if s.cfg.Timeframe == "" {
		return DefaultConfig().Timeframe
	}
	return s.cfg.Timeframe
}

func (s *Service) concurrency() int {
	if s.cfg.Concurrency <= 0 {
		return 1
	}
	return s.cfg.Concurrency
}

// rank orders by confidence, then reward/risk, then symbol.
func rank(c []Candidate) {
	sort.SliceStable(c, func(i, j int) bool {
		if c[i].Confidence != c[j].Confidence {
			return c[i].Confidence > c[j].Confidence
		}
		if c[i].RewardRisk != c[j].RewardRisk {
			return c[i].RewardRisk > c[j].RewardRisk
		}
		return c[i].Symbol < c[j].Symbol
	})
}

// allocate splits budget across candidates proportionally to
// confidence x reward/risk and caps each quantity at its risk quantity.
func allocate(candidates []Candidate, budget float64) (kept, dropped []Candidate) {
	if len(candidates) == 0 {
		return nil, nil
	}
	if budget <= 0 {
		return nil, candidates
	}
	total := 0.0
	for _, c := range candidates {
		total += allocationWeight(c)
	}
	for _, c := range candidates {
		share := 1 / float64(len(candidates))
		if total > 0 {
			share = allocationWeight(c) / total
		}
		budgetQty := budget * share / c.Entry
		c.Quantity = math.Min(c.RiskQuantity, budgetQty)
		if !(c.Quantity > 0) {
			dropped = append(dropped, c)
			continue
		}
		kept = append(kept, c)
	}
	return kept, dropped
}

func allocationWeight(c Candidate) float64 {
	return math.Max(c.Confidence, 0) * math.Max(c.RewardRisk, 0)
}
