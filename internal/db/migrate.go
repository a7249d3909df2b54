package db

import (
	"fmt" // Error wrapping

	"tontine_system/internal/domain" // Importing domain models

	"github.com/sirupsen/logrus" // Logrus for structured logging
	"gorm.io/gorm"               // GORM ORM library
)

// Models lists every table owned by the service, in dependency order
func Models() []any {
	return []any{
		&domain.User{},
		&domain.Tontine{},
		&domain.Member{},
		&domain.Round{},
		&domain.Contribution{},
		&domain.PayoutInstruction{},
		&domain.Invite{},
	}
}

// Migrate performs automatic migration for the database schema
func Migrate(db *gorm.DB) error {
	// AutoMigrate will create tables, missing foreign keys, constraints, columns and indexes
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logrus.Info("Migration completed.") // Log successful migration
	return nil
}
