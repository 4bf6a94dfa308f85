package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"toggl-etl/internal/config"
)

// DatabaseFile is the SQLite file name inside the configured data directory.
const DatabaseFile = "toggl-etl.db"

// NewDatabaseFromConfig creates a database based on the database config type.
func NewDatabaseFromConfig(ctx context.Context, cfg config.DatabaseConfig) (*SQLDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		return NewSQLiteDatabase(filepath.Join(cfg.DataDir, DatabaseFile))
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("dsn required for postgres database")
		}
		return NewPostgresDatabase(ctx, cfg.DSN)
	case "memory":
		return NewSQLiteDatabase(":memory:")
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
