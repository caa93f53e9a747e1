package storage

import (
	"log/slog"
	"strings"
	"time"
)

type Option interface {
	applyJSON(*JSONStore)
	applyPostgres(*PostgresConfig)
}

type optionAdapter struct {
	json func(*JSONStore)
	pg   func(*PostgresConfig)
}

func (o optionAdapter) applyJSON(store *JSONStore) {
	if o.json != nil && store != nil {
		o.json(store)
	}
}

func (o optionAdapter) applyPostgres(cfg *PostgresConfig) {
	if o.pg != nil && cfg != nil {
		o.pg(cfg)
	}
}

func composeOption(json func(*JSONStore), pg func(*PostgresConfig)) Option {
	return optionAdapter{json: json, pg: pg}
}

func jsonOnlyOption(json func(*JSONStore)) Option {
	return optionAdapter{json: json}
}

func postgresOnlyOption(pg func(*PostgresConfig)) Option {
	return optionAdapter{pg: pg}
}

// WithLogger sets the logger used for store diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return composeOption(
		func(s *JSONStore) {
			if logger != nil {
				s.logger = logger
			}
		},
		func(cfg *PostgresConfig) {
			if logger != nil {
				cfg.Logger = logger
			}
		},
	)
}

// WithPersistHook installs a function invoked with the candidate dataset
// before it is written to disk. A non-nil error aborts the commit.
func WithPersistHook(hook func(Snapshot) error) Option {
	return jsonOnlyOption(func(s *JSONStore) {
		s.persistHook = hook
	})
}

func WithPostgresPoolLimits(maxConns, minConns int32) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		if maxConns > 0 {
			cfg.MaxConnections = maxConns
		}
		if minConns >= 0 {
			cfg.MinConnections = minConns
		}
	})
}

// WithPostgresAcquireTimeout bounds how long the store waits to obtain a
// connection from the pool.
func WithPostgresAcquireTimeout(timeout time.Duration) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		if timeout > 0 {
			cfg.AcquireTimeout = timeout
		}
	})
}

func WithPostgresPoolDurations(maxLifetime, maxIdle, healthInterval time.Duration) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		if maxLifetime > 0 {
			cfg.MaxConnLifetime = maxLifetime
		}
		if maxIdle > 0 {
			cfg.MaxConnIdleTime = maxIdle
		}
		if healthInterval > 0 {
			cfg.HealthCheckInterval = healthInterval
		}
	})
}

func WithPostgresApplicationName(name string) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			cfg.ApplicationName = trimmed
		}
	})
}
