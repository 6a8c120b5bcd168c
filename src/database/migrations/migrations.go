// Package migrations holds schema preparation and one-shot data migrations.
package migrations

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DataMigration marks a data migration as applied.
type DataMigration struct {
	ID        string    `gorm:"primaryKey;size:200;column:id"`
	AppliedAt time.Time `gorm:"not null;column:applied_at"`
}

func (DataMigration) TableName() string { return "data_migrations" }

// Migration is one data step. IDs sort in application order and never change
// once released.
type Migration struct {
	ID string
	Fn func(tx *gorm.DB) error
}

// All lists the data migrations in the order Run applies them.
func All() []Migration {
	return []Migration{
		{ID: "00001_migrate_legacy_ledger", Fn: migrateLegacyLedger},
	}
}

// RunOnce applies fn inside a transaction unless migrationID is already
// recorded. The record is written in the same transaction, so a failing fn
// leaves no trace.
func RunOnce(db *gorm.DB, migrationID string, fn func(*gorm.DB) error) error {
	switch {
	case db == nil:
		return nil
	case migrationID == "":
		return errors.New("migration id is empty")
	case fn == nil:
		return fmt.Errorf("migration %q has nil fn", migrationID)
	}

	if err := db.AutoMigrate(&DataMigration{}); err != nil {
		return fmt.Errorf("ensure data_migrations: %w", err)
	}

	log := logrus.WithField("migration", migrationID)
	started := time.Now()
	applied := false
	err := db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&DataMigration{}).Where("id = ?", migrationID).Count(&count).Error; err != nil {
			return fmt.Errorf("check migration %q: %w", migrationID, err)
		}
		if count > 0 {
			return nil
		}
		if err := fn(tx); err != nil {
			return fmt.Errorf("run migration %q: %w", migrationID, err)
		}
		if err := tx.Create(&DataMigration{ID: migrationID, AppliedAt: time.Now().UTC()}).Error; err != nil {
			return fmt.Errorf("record migration %q: %w", migrationID, err)
		}
		applied = true
		return nil
	})
	if err != nil {
		log.WithError(err).Error("data migration failed")
		return err
	}
	if applied {
		log.WithField("took", time.Since(started).String()).Info("data migration applied")
	}
	return nil
}

// Run applies every pending migration from All.
func Run(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	for _, m := range All() {
		if err := RunOnce(db, m.ID, m.Fn); err != nil {
			return err
		}
	}
	return nil
}
