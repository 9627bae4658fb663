// Package sqlite implements the persistent Dedup Ledger on SQLite. It uses
// modernc.org/sqlite (pure Go, no CGO) in WAL mode with a single connection,
// which serialises writers and makes MarkProcessed a single atomic insert.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/flemzord/sbridge/internal/ledger"

	_ "modernc.org/sqlite" // SQLite driver registration
)

const (
	defaultBusyTimeout = 5000

	// DefaultFile is the database file name used under the data directory.
	DefaultFile = "ledger.db"
)

// Compile-time interface guard.
var _ ledger.Ledger = (*Ledger)(nil)

// Ledger is a ledger.Ledger backed by a SQLite database file.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the database at path and migrates the
// schema. busyTimeout is in milliseconds; zero selects the default.
func Open(ctx context.Context, path string, busyTimeout int, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if busyTimeout == 0 {
		busyTimeout = defaultBusyTimeout
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}

	// SQLite handles one writer at a time; limit pool to 1 connection
	// so PRAGMAs apply consistently.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("sqlite ledger opened", "path", path)

	return &Ledger{db: db, logger: logger}, nil
}

// Close implements ledger.Ledger.
func (l *Ledger) Close() error {
	l.logger.Info("sqlite ledger closing")
	return l.db.Close()
}
