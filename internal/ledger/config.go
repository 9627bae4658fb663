package ledger

import (
	"errors"
	"fmt"
	"time"
)

// Supported ledger drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

const (
	defaultRetention     = 24 * time.Hour
	defaultPurgeSchedule = "*/15 * * * *"
)

// Config selects and tunes the ledger backend.
type Config struct {
	// Driver is one of "sqlite" (default), "postgres" or "memory".
	Driver string `yaml:"driver"`

	// Path is the SQLite database file. Defaults to {DataDir}/ledger.db.
	Path string `yaml:"path"`

	// DSN is the Postgres connection string.
	DSN string `yaml:"dsn"`

	// BusyTimeout is the SQLite busy timeout in milliseconds.
	BusyTimeout int `yaml:"busy_timeout"`

	// Retention is how long processed markers are kept.
	Retention time.Duration `yaml:"retention"`

	// PurgeSchedule is the cron expression of the marker purge job.
	PurgeSchedule string `yaml:"purge_schedule"`
}

// WithDefaults returns a copy of c with zero values replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.Driver == "" {
		c.Driver = DriverSQLite
	}
	if c.Retention <= 0 {
		c.Retention = defaultRetention
	}
	if c.PurgeSchedule == "" {
		c.PurgeSchedule = defaultPurgeSchedule
	}
	return c
}

// Validate checks driver-specific requirements.
func (c Config) Validate() error {
	switch c.Driver {
	case DriverSQLite, DriverMemory:
	case DriverPostgres:
		if c.DSN == "" {
			return errors.New("ledger: dsn is required when driver is \"postgres\"")
		}
	default:
		return fmt.Errorf("ledger: unknown driver %q (must be sqlite, postgres or memory)", c.Driver)
	}
	if c.BusyTimeout < 0 {
		return fmt.Errorf("ledger: busy_timeout must be non-negative, got %d", c.BusyTimeout)
	}
	return nil
}
