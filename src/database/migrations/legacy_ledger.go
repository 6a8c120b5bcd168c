package migrations

import (
	"fmt"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"signalengine/src/model"
)

const (
	positionsTable       = "positions"
	legacyPositionsTable = "legacy_positions"
	legacyLedgerTable    = "ledger"
	legacyNote           = "LEGACY"
)

var legacyTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// legacyPosition is a row of the old open-positions table, which had no
// status column and lost rows on close.
type legacyPosition struct {
	ID     uint
	TsOpen string   `gorm:"column:ts_open"`
	Symbol string   `gorm:"column:symbol"`
	Side   string   `gorm:"column:side"`
	Entry  *float64 `gorm:"column:entry"`
	Sl     *float64 `gorm:"column:sl"`
	Tp     *float64 `gorm:"column:tp"`
	Qty    *float64 `gorm:"column:qty"`
}

// legacyLedgerEntry is a row of the old closed-trades table.
type legacyLedgerEntry struct {
	ID      uint
	TsClose string   `gorm:"column:ts_close"`
	Symbol  string   `gorm:"column:symbol"`
	Side    string   `gorm:"column:side"`
	Entry   *float64 `gorm:"column:entry"`
	Exit    *float64 `gorm:"column:exit"`
	Qty     *float64 `gorm:"column:qty"`
	Pnl     *float64 `gorm:"column:pnl"`
}

// PrepareLegacyLedger renames a legacy positions table (ts_open, no status)
// to legacy_positions so AutoMigrate can create the status-flag table.
func PrepareLegacyLedger(db *gorm.DB) error {
	m := db.Migrator()
	if !m.HasTable(positionsTable) {
		return nil
	}
	if m.HasColumn(positionsTable, "status") || !m.HasColumn(positionsTable, "ts_open") {
		return nil
	}
	if m.HasTable(legacyPositionsTable) {
		return fmt.Errorf("cannot move legacy %s: %s already exists", positionsTable, legacyPositionsTable)
	}
	if err := m.RenameTable(positionsTable, legacyPositionsTable); err != nil {
		return fmt.Errorf("rename %s to %s: %w", positionsTable, legacyPositionsTable, err)
	}
	logger.WithField("table", legacyPositionsTable).Info("[migrations] legacy positions table moved aside")
	return nil
}

// migrateLegacyLedger copies legacy open positions as OPEN rows and legacy
// ledger entries as CLOSED rows. The legacy tables are left in place.
func migrateLegacyLedger(tx *gorm.DB) error {
	m := tx.Migrator()
	now := time.Now().UTC()
	var rows []model.Position
	skipped := 0

	if m.HasTable(legacyPositionsTable) {
		var legacy []legacyPosition
		if err := tx.Table(legacyPositionsTable).Order("id").Find(&legacy).Error; err != nil {
			return fmt.Errorf("read %s: %w", legacyPositionsTable, err)
		}
		for _, l := range legacy {
			side, err := model.NormalizeSide(l.Side)
			if err != nil || strings.TrimSpace(l.Symbol) == "" || value(l.Qty) <= 0 {
				skipped++
				continue
			}
			rows = append(rows, model.Position{
				Symbol:      strings.TrimSpace(l.Symbol),
				Side:        side,
				EntryPrice:  value(l.Entry),
				StopPrice:   value(l.Sl),
				TargetPrice: value(l.Tp),
				Quantity:    value(l.Qty),
				Status:      model.PositionStatusOpen,
				OpenedAt:    parseLegacyTime(l.TsOpen, now),
				Note:        legacyNote,
			})
		}
	}

	if m.HasTable(legacyLedgerTable) {
		var legacy []legacyLedgerEntry
		if err := tx.Table(legacyLedgerTable).Order("id").Find(&legacy).Error; err != nil {
			return fmt.Errorf("read %s: %w", legacyLedgerTable, err)
		}
		for _, l := range legacy {
			side, err := model.NormalizeSide(l.Side)
			if err != nil || strings.TrimSpace(l.Symbol) == "" || l.Exit == nil {
				skipped++
				continue
			}
			closedAt := parseLegacyTime(l.TsClose, now)
			exit := *l.Exit
			pnl := value(l.Pnl)
			rows = append(rows, model.Position{
				Symbol:     strings.TrimSpace(l.Symbol),
				Side:       side,
				EntryPrice: value(l.Entry),
				Quantity:   value(l.Qty),
				Status:     model.PositionStatusClosed,
				OpenedAt:   closedAt,
				ClosedAt:   &closedAt,
				ExitPrice:  &exit,
				Pnl:        &pnl,
				Note:       legacyNote,
			})
		}
	}

	if len(rows) > 0 {
		if err := tx.CreateInBatches(&rows, 200).Error; err != nil {
			return fmt.Errorf("insert migrated positions: %w", err)
		}
	}
	logger.WithFields(map[string]interface{}{
		"migrated": len(rows),
		"skipped":  skipped,
	}).Info("[migrations] legacy ledger migrated")
	return nil
}

func parseLegacyTime(raw string, fallback time.Time) time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range legacyTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return fallback
}

func value(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
