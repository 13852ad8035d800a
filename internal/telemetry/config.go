package telemetry

import "codeberg.org/mutker/cdc/internal/errors"

const (
	defaultDirPerm      = 0o755
	defaultDBPath       = "/var/lib/cdc/telemetry.db"
	defaultBatchSize    = 50
	defaultBatchTimeout = 30
)

type Config struct {
	Enabled bool
	DBPath  string
	// BatchSize is how many snapshots are buffered before a flush.
	BatchSize int
	// BatchTimeout is the longest a snapshot stays buffered, in seconds.
	BatchTimeout int
}

func DefaultConfig() Config {
	return Config{
		DBPath:       defaultDBPath,
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	// Only validate the rest if telemetry is enabled
	if !c.Enabled {
		return nil
	}
	if c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.BatchSize < 1 {
		return errFactory.WithData(ErrInvalidConfig, "batch size must be positive")
	}
	if c.BatchTimeout < 0 {
		return errFactory.WithData(ErrInvalidConfig, "batch timeout must not be negative")
	}

	return nil
}
