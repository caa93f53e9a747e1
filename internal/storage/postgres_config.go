package storage

import (
	"log/slog"
	"time"
)

// PostgresConfig describes how the store initialises its Postgres connection
// pool.
type PostgresConfig struct {
	DSN                 string
	MaxConnections      int32
	MinConnections      int32
	MaxConnLifetime     time.Duration
	MaxConnIdleTime     time.Duration
	HealthCheckInterval time.Duration
	AcquireTimeout      time.Duration
	ApplicationName     string
	Logger              *slog.Logger
}

const defaultPostgresApplicationName = "streamline"

func newPostgresConfig(dsn string, opts ...Option) PostgresConfig {
	cfg := PostgresConfig{
		DSN:             dsn,
		MinConnections:  -1,
		ApplicationName: defaultPostgresApplicationName,
		Logger:          slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyPostgres(&cfg)
		}
	}
	return cfg
}
