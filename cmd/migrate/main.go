package main

import (
	"tontine_system/internal/config" // Custom import path (Config)
	"tontine_system/internal/db"     // Custom import path (Database)

	"github.com/sirupsen/logrus" // Logrus for structured logging
)

// Main entry point for migration
func main() {
	cfg := config.LoadConfig() // Load configuration

	database, err := db.Open(cfg)
	if err != nil {
		logrus.Fatalf("failed to connect database: %v", err) // Log fatal error if connection fails
	}
	if err := db.Migrate(database); err != nil {
		logrus.Fatal(err.Error()) // Log fatal error if migration fails
	}
}
