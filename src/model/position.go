package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	PositionSideLong  = "LONG"
	PositionSideShort = "SHORT"

	PositionStatusOpen   = "OPEN"
	PositionStatusClosed = "CLOSED"
)

// Position is a single-table, status-flag record of a trade taken by the user.
// Exit price, PnL and close time stay NULL until the position is closed.
type Position struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Symbol      string     `gorm:"size:50;not null;index" json:"symbol"`
	Side        string     `gorm:"size:10;not null" json:"side"`
	EntryPrice  float64    `gorm:"column:entry;not null" json:"entry_price"`
	StopPrice   float64    `gorm:"column:sl;not null" json:"stop_price"`
	TargetPrice float64    `gorm:"column:tp;not null" json:"target_price"`
	Quantity    float64    `gorm:"column:qty;not null" json:"quantity"`
	Status      string     `gorm:"size:10;not null;default:OPEN;index" json:"status"`
	OpenedAt    time.Time  `gorm:"column:open_ts;not null" json:"opened_at"`
	ClosedAt    *time.Time `gorm:"column:close_ts" json:"closed_at"`
	ExitPrice   *float64   `gorm:"column:exit_price" json:"exit_price"`
	Pnl         *float64   `gorm:"column:pnl" json:"pnl"`
	Note        string     `gorm:"size:255" json:"note"`
}

func (Position) TableName() string {
	return "positions"
}

func (p Position) IsOpen() bool {
	return p.Status == PositionStatusOpen
}

// PnLAt returns (price - entry) * qty, sign-adjusted for the side.
// Decimal arithmetic keeps round prices exact.
func (p Position) PnLAt(price float64) float64 {
	diff := decimal.NewFromFloat(price).Sub(decimal.NewFromFloat(p.EntryPrice))
	pnl := diff.Mul(decimal.NewFromFloat(p.Quantity)).Mul(decimal.NewFromInt(SideSign(p.Side)))
	return pnl.InexactFloat64()
}

// Notional is the absolute value of the position at the given price.
func (p Position) Notional(price float64) float64 {
	return decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(p.Quantity)).Abs().InexactFloat64()
}

// NormalizeSide maps user input to the canonical LONG/SHORT tag.
//
//	long, Long, buy  -> LONG
//	short, SELL      -> SHORT
func NormalizeSide(side string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(side)) {
	case PositionSideLong, "BUY":
		return PositionSideLong, nil
	case PositionSideShort, "SELL":
		return PositionSideShort, nil
	default:
		return "", fmt.Errorf("unknown position side %q", side)
	}
}

func SideSign(side string) int64 {
	if strings.EqualFold(side, PositionSideShort) {
		return -1
	}
	return 1
}

// SideFromDirection maps a +1/-1 direction to a side tag.
func SideFromDirection(direction int) string {
	if direction < 0 {
		return PositionSideShort
	}
	return PositionSideLong
}
