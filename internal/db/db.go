// Package db opens the relational store and keeps its schema current.
package db

import (
	"fmt" // Error wrapping

	"tontine_system/internal/config" // Custom package for configuration

	"github.com/glebarez/sqlite" // Pure-Go SQLite driver for GORM
	"gorm.io/driver/mysql"       // MySQL driver for GORM
	"gorm.io/driver/postgres"    // PostgreSQL driver for GORM
	"gorm.io/gorm"               // GORM ORM library
	"gorm.io/gorm/logger"        // GORM logger levels
)

// Open connects to the database selected by cfg.DBDriver
func Open(cfg *config.Config) (*gorm.DB, error) {
	dsn, err := cfg.DSN() // Build driver specific DSN
	if err != nil {
		return nil, err
	}
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case config.DriverMySQL:
		dialector = mysql.Open(dsn)
	case config.DriverPostgres:
		dialector = postgres.Open(dsn)
	case config.DriverSQLite:
		dialector = sqlite.Open(dsn)
	}
	gormCfg := &gorm.Config{}
	if cfg.IsProd {
		gormCfg.Logger = logger.Default.LogMode(logger.Warn) // Only slow queries and errors in production
	}
	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.DBDriver, err)
	}
	if cfg.DBDriver == config.DriverSQLite {
		// SQLite allows a single writer; serialize connections so row locks are not needed
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// OpenMemory opens a private in-memory SQLite database with the schema migrated
func OpenMemory() (*gorm.DB, error) {
	db, err := Open(&config.Config{DBDriver: config.DriverSQLite, DBPath: "file::memory:", IsProd: true})
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}
