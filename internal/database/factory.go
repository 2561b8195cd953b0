package database

import (
	"fmt"
	"os"
	"path/filepath"

	"hsaj-go/internal/config"
	"hsaj-go/internal/database/migrations"
)

// DatabaseFileName is the catalog file created inside data_dir.
const DatabaseFileName = "hsaj.db"

// NewDatabaseFromConfig opens the catalog described by cfg. A memory
// database starts empty, so it is migrated immediately.
func NewDatabaseFromConfig(cfg config.DatabaseConfig) (*SQLiteDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data dir %s: %w", cfg.DataDir, err)
		}
		return NewSQLiteDatabase(filepath.Join(cfg.DataDir, DatabaseFileName))
	case "memory":
		db, err := NewSQLiteDatabase(":memory:")
		if err != nil {
			return nil, err
		}
		if err := migrations.MigrateUp(db.DB()); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
