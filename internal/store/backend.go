package store

import (
	"context"
	"fmt"

	"eventdesk/internal/attendance"
	"eventdesk/internal/store/sqlite"
)

// Backend is an opened attendance store of either kind.
type Backend interface {
	attendance.Store
	attendance.Seeder
	Healthy(ctx context.Context) bool
	Close() error
}

// BackendConfig selects and locates the store.
type BackendConfig struct {
	Kind        string // "postgres" or "sqlite"
	PostgresURL string
	SQLitePath  string
	AutoMigrate bool
}

type postgresBackend struct {
	*Repository
	db *DB
}

func (p postgresBackend) Healthy(ctx context.Context) bool { return p.db.Healthy(ctx) }
func (p postgresBackend) Close() error                     { return p.db.Close() }

// Open connects to the configured store. SQLite databases are always migrated
// on open; Postgres only when AutoMigrate is set.
func Open(ctx context.Context, cfg BackendConfig) (Backend, error) {
	switch cfg.Kind {
	case "sqlite":
		s, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres", "":
		db, err := NewDB(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := db.Migrate(ctx); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("migrate postgres: %w", err)
			}
		}
		return postgresBackend{Repository: NewRepository(db.Client), db: db}, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Kind)
	}
}
