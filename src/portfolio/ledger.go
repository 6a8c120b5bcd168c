// Package portfolio tracks user-accepted positions through OPEN -> CLOSED and
// does the realized/unrealized PnL accounting.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"signalengine/src/metrics"
	"signalengine/src/model"
	"signalengine/src/repository"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrPositionNotFound = errors.New("position not found")
	ErrInvalidState     = errors.New("invalid position state")
	ErrPositionClosed   = fmt.Errorf("%w: position already closed", ErrInvalidState)
)

const (
	NoteClose     = "CLOSE"
	NoteManual    = "MANUAL"
	NoteAutoTPSL  = "AUTO_TP_SL"
	NoteTopPick   = "TOPPICK"
	maxNoteLength = 255
)

// Ledger is the only writer of position rows. Open and Close are serialized
// and each runs in its own transaction.
type Ledger struct {
	db     *gorm.DB
	repo   *repository.PositionRepository
	mu     sync.Mutex
	now    func() time.Time
	logger *logrus.Entry
}

func NewLedger(db *gorm.DB, logger *logrus.Entry) *Ledger {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Ledger{
		db:     db,
		repo:   repository.NewPositionRepositoryWithDB(db),
		now:    time.Now,
		logger: logger.WithField("component", "ledger"),
	}
}

type OpenRequest struct {
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Entry    float64 `json:"entry"`
	Stop     float64 `json:"stop"`
	Target   float64 `json:"target"`
	Quantity float64 `json:"quantity"`
	Note     string  `json:"note"`
}

func (r OpenRequest) validate() (string, error) {
	if strings.TrimSpace(r.Symbol) == "" {
		return "", fmt.Errorf("%w: symbol is required", ErrInvalidInput)
	}
	side, err := model.NormalizeSide(r.Side)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	for name, v := range map[string]float64{"entry": r.Entry, "stop": r.Stop, "target": r.Target, "quantity": r.Quantity} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "", fmt.Errorf("%w: %s must be finite", ErrInvalidInput, name)
		}
	}
	if r.Quantity <= 0 {
		return "", fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
	}
	return side, nil
}

// Open records a new OPEN position.
func (l *Ledger) Open(ctx context.Context, req OpenRequest) (*model.Position, error) {
	side, err := req.validate()
	if err != nil {
		metrics.LedgerOpsTotal.WithLabelValues("open", "invalid").Inc()
		return nil, err
	}

	p := &model.Position{
		Symbol:      strings.TrimSpace(req.Symbol),
		Side:        side,
		EntryPrice:  req.Entry,
		StopPrice:   req.Stop,
		TargetPrice: req.Target,
		Quantity:    req.Quantity,
		Status:      model.PositionStatusOpen,
		OpenedAt:    l.now().UTC(),
		Note:        truncate(req.Note),
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return l.repo.WithDB(tx).Create(ctx, p)
	})
	metrics.LedgerOpsTotal.WithLabelValues("open", metrics.Result(err)).Inc()
	if err != nil {
		return nil, fmt.Errorf("open position: %w", err)
	}

	l.logger.WithFields(map[string]interface{}{
		"id":     p.ID,
		"symbol": p.Symbol,
		"side":   p.Side,
		"entry":  p.EntryPrice,
		"qty":    p.Quantity,
	}).Info("Position opened")
	return p, nil
}

// Close closes an OPEN position at exitPrice and returns the realized PnL.
// A missing position yields ErrPositionNotFound, a closed one ErrPositionClosed.
func (l *Ledger) Close(ctx context.Context, id uint, exitPrice float64, note string) (float64, error) {
	if math.IsNaN(exitPrice) || math.IsInf(exitPrice, 0) || exitPrice <= 0 {
		metrics.LedgerOpsTotal.WithLabelValues("close", "invalid").Inc()
		return 0, fmt.Errorf("%w: exit price must be finite and positive", ErrInvalidInput)
	}
	if strings.TrimSpace(note) == "" {
		note = NoteClose
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var pnl float64
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := l.repo.WithDB(tx)
		p, err := repo.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("%w: id %d", ErrPositionNotFound, id)
		}
		if !p.IsOpen() {
			return fmt.Errorf("%w: id %d", ErrPositionClosed, id)
		}

		pnl = p.PnLAt(exitPrice)
		n, err := repo.MarkClosed(ctx, id, l.now().UTC(), exitPrice, pnl, truncate(note))
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: id %d", ErrPositionClosed, id)
		}
		return nil
	})
	metrics.LedgerOpsTotal.WithLabelValues("close", closeResult(err)).Inc()
	if err != nil {
		if errors.Is(err, ErrPositionNotFound) || errors.Is(err, ErrInvalidState) {
			return 0, err
		}
		return 0, fmt.Errorf("close position %d: %w", id, err)
	}

	l.logger.WithFields(map[string]interface{}{
		"id":   id,
		"exit": exitPrice,
		"pnl":  pnl,
		"note": note,
	}).Info("Position closed")
	return pnl, nil
}

// List returns positions filtered by status (empty for all), newest first.
// The limit defaults to 500 and is bounded to 10000.
func (l *Ledger) List(ctx context.Context, status string, limit int) ([]model.Position, error) {
	status = strings.ToUpper(strings.TrimSpace(status))
	switch status {
	case "", model.PositionStatusOpen, model.PositionStatusClosed:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	return l.repo.List(ctx, repository.PositionFilter{Status: status, Limit: limit})
}

func (l *Ledger) Get(ctx context.Context, id uint) (*model.Position, error) {
	p, err := l.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: id %d", ErrPositionNotFound, id)
	}
	return p, nil
}

func (l *Ledger) OpenPositions(ctx context.Context) ([]model.Position, error) {
	return l.repo.ListOpen(ctx)
}

func (l *Ledger) RealizedTotal(ctx context.Context) (float64, error) {
	return l.repo.RealizedPnL(ctx)
}

// UnrealizedPnL is the mark-to-market PnL of an open position. It is never
// persisted.
func UnrealizedPnL(p model.Position, price float64) float64 {
	if !p.IsOpen() || math.IsNaN(price) || math.IsInf(price, 0) {
		return 0
	}
	return p.PnLAt(price)
}

// Snapshot is the account view at a set of mark prices.
type Snapshot struct {
	Capital          float64 `json:"capital"`
	Realized         float64 `json:"realized"`
	Unrealized       float64 `json:"unrealized"`
	Equity           float64 `json:"equity"`
	GrossExposure    float64 `json:"gross_exposure"`
	GrossExposurePct float64 `json:"gross_exposure_pct"`
	OpenPositions    int     `json:"open_positions"`
	// Unpriced lists open symbols with no mark price; they are valued at entry.
	Unpriced []string `json:"unpriced,omitempty"`
}

// Snapshot values open positions at the given prices. Positions whose
// symbol is missing from prices are marked at their entry price. The
// realized sum and the open list are read under the write lock in one
// transaction, so a concurrent close is counted exactly once.
func (l *Ledger) Snapshot(ctx context.Context, capital float64, prices map[string]float64) (*Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var (
		realized float64
		open     []model.Position
	)
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := l.repo.WithDB(tx)
		var err error
		if realized, err = repo.RealizedPnL(ctx); err != nil {
			return fmt.Errorf("realized pnl: %w", err)
		}
		if open, err = repo.ListOpen(ctx); err != nil {
			return fmt.Errorf("open positions: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	unrealized := decimal.Zero
	exposure := decimal.Zero
	snap := &Snapshot{Capital: capital, Realized: realized, OpenPositions: len(open)}
	for _, p := range open {
		price, ok := prices[p.Symbol]
		if !ok || price <= 0 {
			price = p.EntryPrice
			snap.Unpriced = append(snap.Unpriced, p.Symbol)
		}
		unrealized = unrealized.Add(decimal.NewFromFloat(UnrealizedPnL(p, price)))
		exposure = exposure.Add(decimal.NewFromFloat(p.Notional(price)))
	}

	snap.Unrealized = unrealized.InexactFloat64()
	snap.GrossExposure = exposure.InexactFloat64()
	snap.Equity = decimal.NewFromFloat(capital).
		Add(decimal.NewFromFloat(realized)).
		Add(unrealized).
		InexactFloat64()
	if snap.Equity > 0 {
		snap.GrossExposurePct = snap.GrossExposure / snap.Equity * 100
	}
	return snap, nil
}

// AutoCloseResult reports one position closed by AutoClose.
type AutoCloseResult struct {
	ID     uint    `json:"id"`
	Symbol string  `json:"symbol"`
	Exit   float64 `json:"exit"`
	PnL    float64 `json:"pnl"`
	Reason string  `json:"reason"`
}

// AutoClose closes every OPEN position whose target or stop has been reached
// at the given mark price, exiting at that price.
func (l *Ledger) AutoClose(ctx context.Context, prices map[string]float64) ([]AutoCloseResult, error) {
	open, err := l.repo.ListOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("open positions: %w", err)
	}

	var out []AutoCloseResult
	for _, p := range open {
		price, ok := prices[p.Symbol]
		if !ok || price <= 0 {
			continue
		}
		reason, hit := levelHit(p, price)
		if !hit {
			continue
		}
		pnl, err := l.Close(ctx, p.ID, price, NoteAutoTPSL)
		if errors.Is(err, ErrInvalidState) {
			continue
		}
		if err != nil {
			return out, err
		}
		out = append(out, AutoCloseResult{ID: p.ID, Symbol: p.Symbol, Exit: price, PnL: pnl, Reason: reason})
	}
	return out, nil
}

func levelHit(p model.Position, price float64) (string, bool) {
	if p.Side == model.PositionSideShort {
		switch {
		case price <= p.TargetPrice:
			return "TP", true
		case price >= p.StopPrice:
			return "SL", true
		}
		return "", false
	}
	switch {
	case price >= p.TargetPrice:
		return "TP", true
	case price <= p.StopPrice:
		return "SL", true
	}
	return "", false
}

func closeResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrPositionNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	default:
		return "error"
	}
}

func truncate(note string) string {
	if len(note) > maxNoteLength {
		return note[:maxNoteLength]
	}
	return note
}

// PriceSource returns the last traded price of a symbol.
type PriceSource interface {
	LastPrice(ctx context.Context, symbol string) (float64, error)
}

// MarkPrices looks up one price per distinct symbol. Failed lookups are
// logged and left out, so Snapshot marks those positions at entry.
func MarkPrices(ctx context.Context, positions []model.Position, source PriceSource, log *logrus.Entry) map[string]float64 {
	prices := make(map[string]float64)
	tried := make(map[string]bool)
	for _, p := range positions {
		if tried[p.Symbol] {
			continue
		}
		tried[p.Symbol] = true
		price, err := source.LastPrice(ctx, p.Symbol)
		if err != nil {
			if log != nil {
				log.WithField("symbol", p.Symbol).WithError(err).Warn("last price unavailable")
			}
			continue
		}
		prices[p.Symbol] = price
	}
	return prices
}
