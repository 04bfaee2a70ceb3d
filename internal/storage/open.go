// Package storage selects and opens a ledger.Store implementation.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/example/expense-ledger/internal/ledger"
	"github.com/example/expense-ledger/internal/storage/memory"
	"github.com/example/expense-ledger/internal/storage/migrations"
	"github.com/example/expense-ledger/internal/storage/postgres"
	"github.com/example/expense-ledger/internal/storage/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Options select and tune the backing store.
type Options struct {
	Driver      string
	DatabaseURL string
	SQLitePath  string
	TxTimeout   time.Duration
	// Migrate applies embedded migrations before opening.
	Migrate bool
}

// Open returns the store named by opts.Driver.
func Open(ctx context.Context, opts Options) (ledger.Store, error) {
	switch opts.Driver {
	case DriverPostgres:
		if opts.Migrate {
			if err := migrations.Postgres(opts.DatabaseURL); err != nil {
				return nil, err
			}
		}
		s, err := postgres.Open(ctx, opts.DatabaseURL, postgres.WithTxTimeout(opts.TxTimeout))
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverSQLite:
		if opts.Migrate {
			if err := migrations.SQLite(opts.SQLitePath); err != nil {
				return nil, err
			}
		}
		s, err := sqlite.Open(opts.SQLitePath, sqlite.WithTxTimeout(opts.TxTimeout))
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}

// Migrate applies the embedded migrations for the selected driver.
func Migrate(opts Options) error {
	switch opts.Driver {
	case DriverPostgres:
		return migrations.Postgres(opts.DatabaseURL)
	case DriverSQLite:
		return migrations.SQLite(opts.SQLitePath)
	case DriverMemory:
		return nil
	default:
		return fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}
