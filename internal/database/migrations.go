package database

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/aegis-mobile/synccore/internal/models"
)

// SchemaMigration records an applied schema version. Migrations are
// forward-only: there is no down path.
type SchemaMigration struct {
	Version   int `gorm:"primaryKey"`
	AppliedAt time.Time
}

type migration struct {
	version int
	apply   func(*gorm.DB) error
}

// migrations must stay sorted by version; Migrate applies every version
// greater than the recorded maximum.
var migrations = []migration{
	{
		version: 1,
		apply: func(db *gorm.DB) error {
			for _, kind := range models.Kinds() {
				if err := db.Table(kind.Table()).AutoMigrate(&models.EntityRow{}); err != nil {
					return fmt.Errorf("migrate %s: %w", kind.Table(), err)
				}
			}
			return nil
		},
	},
	{
		version: 2,
		apply: func(db *gorm.DB) error {
			return db.AutoMigrate(
				&models.QueueItem{},
				&models.DeadLetter{},
				&models.CacheEntry{},
			)
		},
	},
	{
		version: 3,
		apply: func(db *gorm.DB) error {
			return db.AutoMigrate(
				&models.ConflictRecord{},
				&models.SyncState{},
				&models.KeyProbe{},
			)
		},
	},
}

// Migrate applies all pending schema migrations in ascending version order.
// It is idempotent and safe to call on every start-up.
func Migrate(db *gorm.DB) error {
	if db == nil {
		return errors.New("nil database handle")
	}

	if err := db.AutoMigrate(&SchemaMigration{}); err != nil {
		return fmt.Errorf("migrate schema table: %w", err)
	}

	var current int
	if err := db.Model(&SchemaMigration{}).
		Select("COALESCE(MAX(version), 0)").
		Scan(&current).Error; err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	pending := make([]migration, 0, len(migrations))
	for _, m := range migrations {
		if m.version > current {
			pending = append(pending, m)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].version < pending[j].version })

	for _, m := range pending {
		if err := db.Transaction(func(tx *gorm.DB) error {
			if err := m.apply(tx); err != nil {
				return err
			}
			return tx.Create(&SchemaMigration{Version: m.version, AppliedAt: time.Now()}).Error
		}); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
	}

	return nil
}

// SchemaVersion returns the highest applied migration version.
func SchemaVersion(db *gorm.DB) (int, error) {
	if db == nil {
		return 0, errors.New("nil database handle")
	}
	var current int
	err := db.Model(&SchemaMigration{}).
		Select("COALESCE(MAX(version), 0)").
		Scan(&current).Error
	return current, err
}
