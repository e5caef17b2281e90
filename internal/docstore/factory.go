package docstore

import (
	"fmt"
	"os"
	"path/filepath"

	"jt-go/internal/config"
	"jt-go/internal/docstore/migrations"
	"jt-go/internal/jt"
)

// Migrator is implemented by stores with a versioned schema.
type Migrator interface {
	Migrate() error
	CheckMigrations() error
	SchemaStatus() (migrations.Status, error)
}

// NewStoreFromConfig creates a DocumentStore based on the database config type.
func NewStoreFromConfig(cfg config.DatabaseConfig, hostID string) (jt.DocumentStore, error) {
	switch cfg.Type {
	case "sqlite", "sqlite-pure":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for %s database", cfg.Type)
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		driver := DriverCGO
		if cfg.Type == "sqlite-pure" {
			driver = DriverPure
		}
		return NewSQLiteStore(driver, filepath.Join(cfg.DataDir, hostID+".db"))
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

var _ Migrator = (*SQLiteStore)(nil)
