package setup

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/Kaping/blockshare/internal/domain"
)

// MigrateDB auto-migrates the durable tables: room metadata and the latest
// per-room snapshot. There is no action/event history table -- the
// coordinator keeps no durable history beyond the latest snapshot.
func MigrateDB(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("cannot migrate database with nil DB connection")
	}
	if err := db.AutoMigrate(&domain.Room{}, &domain.Snapshot{}); err != nil {
		return fmt.Errorf("failed to auto-migrate tables: %w", err)
	}
	logrus.Info("database migration completed successfully")
	return nil
}
