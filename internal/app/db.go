package app

import (
	"fmt"

	"hsaj-go/internal/config"
	"hsaj-go/internal/database"
	"hsaj-go/internal/database/migrations"
)

// MigrateDatabase brings the configured catalog to the latest schema and
// returns the resulting status.
func MigrateDatabase(cfg *config.Config) (migrations.Status, error) {
	db, err := database.NewDatabaseFromConfig(cfg.Database)
	if err != nil {
		return migrations.Status{}, fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := migrations.MigrateUp(db.DB()); err != nil {
		return migrations.Status{}, err
	}
	return migrations.ReadStatus(db.DB())
}

// DatabaseStatus reports the schema version of the configured catalog.
func DatabaseStatus(cfg *config.Config) (migrations.Status, error) {
	db, err := database.NewDatabaseFromConfig(cfg.Database)
	if err != nil {
		return migrations.Status{}, fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	return migrations.ReadStatus(db.DB())
}

// DatabaseSchema returns the CREATE statements of the configured catalog.
func DatabaseSchema(cfg *config.Config) (string, error) {
	db, err := database.NewDatabaseFromConfig(cfg.Database)
	if err != nil {
		return "", fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := db.CheckMigrations(); err != nil {
		return "", err
	}
	return db.Schema()
}
