package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"signalengine/src/model"
)

const (
	DefaultPositionLimit = 500
	MaxPositionLimit     = 10000
)

// PositionRepository persists positions in the single status-flag table.
type PositionRepository struct {
	db *gorm.DB
}

func NewPositionRepositoryWithDB(db *gorm.DB) *PositionRepository {
	logger.WithField("component", "PositionRepository").
		Debug("Creating new PositionRepository with custom DB instance")

	return &PositionRepository{db: db}
}

// WithDB returns a copy bound to db, typically a transaction handle.
func (r *PositionRepository) WithDB(db *gorm.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

func (r *PositionRepository) Create(ctx context.Context, p *model.Position) error {
	logger.WithFields(map[string]interface{}{
		"repo":   "PositionRepository",
		"op":     "Create",
		"symbol": p.Symbol,
		"side":   p.Side,
		"qty":    p.Quantity,
	}).Debug("Creating position")

	return r.db.WithContext(ctx).Create(p).Error
}

// FindByID returns nil, nil when the position does not exist.
func (r *PositionRepository) FindByID(ctx context.Context, id uint) (*model.Position, error) {
	var p model.Position
	err := r.db.WithContext(ctx).First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "PositionRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to load position")
		return nil, err
	}
	return &p, nil
}

type PositionFilter struct {
	Status string
	Symbol string
	Limit  int
}

// NormalizeLimit applies the default and the upper bound to a list limit.
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultPositionLimit
	case limit > MaxPositionLimit:
		return MaxPositionLimit
	default:
		return limit
	}
}

// List returns positions ordered by id descending.
func (r *PositionRepository) List(ctx context.Context, f PositionFilter) ([]model.Position, error) {
	q := r.db.WithContext(ctx).Model(&model.Position{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Symbol != "" {
		q = q.Where("symbol = ?", f.Symbol)
	}

	var out []model.Position
	if err := q.Order("id DESC").Limit(NormalizeLimit(f.Limit)).Find(&out).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "PositionRepository",
			"op":     "List",
			"status": f.Status,
		}).WithError(err).Error("Failed to list positions")
		return nil, err
	}
	return out, nil
}

// ListOpen returns every open position, oldest first.
func (r *PositionRepository) ListOpen(ctx context.Context) ([]model.Position, error) {
	var out []model.Position
	err := r.db.WithContext(ctx).
		Where("status = ?", model.PositionStatusOpen).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

// MarkClosed closes the position only if it is still open and reports the
// number of rows updated.
func (r *PositionRepository) MarkClosed(
	ctx context.Context,
	id uint,
	closedAt time.Time,
	exitPrice float64,
	pnl float64,
	note string,
) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Position{}).
		Where("id = ? AND status = ?", id, model.PositionStatusOpen).
		Updates(map[string]interface{}{
			"status":     model.PositionStatusClosed,
			"close_ts":   closedAt,
			"exit_price": exitPrice,
			"pnl":        pnl,
			"note":       note,
		})
	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "PositionRepository",
			"op":   "MarkClosed",
			"id":   id,
		}).WithError(res.Error).Error("Failed to close position")
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// RealizedPnL sums the PnL of every closed position.
func (r *PositionRepository) RealizedPnL(ctx context.Context) (float64, error) {
	var total float64
	err := r.db.WithContext(ctx).
		Model(&model.Position{}).
		Select("COALESCE(SUM(pnl), 0)").
		Where("status = ?", model.PositionStatusClosed).
		Row().
		Scan(&total)
	return total, err
}

func (r *PositionRepository) CountOpen(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&model.Position{}).
		Where("status = ?", model.PositionStatusOpen).
		Count(&n).Error
	return n, err
}
