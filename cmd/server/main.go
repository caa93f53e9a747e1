// Command server starts the streamline API HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"

	"streamline/internal/api"
	"streamline/internal/catalog"
	"streamline/internal/config"
	"streamline/internal/live"
	"streamline/internal/observability/logging"
	"streamline/internal/observability/metrics"
	"streamline/internal/pubsub"
	"streamline/internal/server"
	"streamline/internal/serverutil"
	"streamline/internal/social"
	"streamline/internal/storage"
)

// flagOverrides holds command-line values that win over the config file and
// environment when set.
type flagOverrides struct {
	Addr          string
	LogLevel      string
	StorageDriver string
	JSONPath      string
	PostgresDSN   string
	PubSubDriver  string
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (default: ./streamline.yaml or ./config/streamline.yaml)")
	var overrides flagOverrides
	flag.StringVar(&overrides.Addr, "addr", "", "HTTP listen address")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	flag.StringVar(&overrides.StorageDriver, "storage-driver", "", "datastore driver (json or postgres)")
	flag.StringVar(&overrides.JSONPath, "data", "", "path to the JSON datastore")
	flag.StringVar(&overrides.PostgresDSN, "postgres-dsn", "", "Postgres connection string")
	flag.StringVar(&overrides.PubSubDriver, "pubsub-driver", "", "event bus driver (memory or redis)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := applyFlagOverrides(cfg, overrides); err != nil {
		fmt.Fprintf(os.Stderr, "invalid flags: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Service: "streamline"})
	if err := run(*cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recorder := metrics.Default()

	store, err := openStore(ctx, cfg.Storage, logging.WithComponent(logger, "storage"))
	if err != nil {
		return err
	}
	defer closeWithTimeout(logger, "datastore", cfg.Server.ShutdownTimeout, store.Close)

	bus, err := openBus(ctx, cfg.PubSub, logging.WithComponent(logger, "pubsub"), recorder)
	if err != nil {
		return err
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logger.Warn("failed to close event bus", "error", err)
		}
	}()

	limiterRedis, closeLimiter, err := rateLimitRedis(ctx, cfg.RateLimit, bus)
	if err != nil {
		return err
	}
	defer closeLimiter()

	liveService := live.NewService(live.Config{
		Store:   store,
		Bus:     bus,
		Logger:  logging.WithComponent(logger, "live"),
		Metrics: recorder,
	})
	handler := api.NewHandler(api.Config{
		Store:           store,
		Bus:             bus,
		Live:            liveService,
		Social:          social.NewRegistry(store, logging.WithComponent(logger, "social")),
		Catalog:         catalog.NewService(store, logging.WithComponent(logger, "catalog")),
		Logger:          logging.WithComponent(logger, "api"),
		Metrics:         recorder,
		IngestTokenHash: cfg.Auth.IngestTokenHash,
	})
	if cfg.Auth.IngestTokenHash == "" {
		logger.Warn("no ingest token hash configured; stream lifecycle is limited to channel owners and admins")
	}

	srv, err := server.New(handler, server.Config{
		Addr:         cfg.Server.Addr,
		TLS:          server.TLSConfig{CertFile: cfg.Server.TLSCert, KeyFile: cfg.Server.TLSKey},
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		RateLimit: server.RateLimitConfig{
			GlobalRPS:             cfg.RateLimit.GlobalRPS,
			GlobalBurst:           cfg.RateLimit.GlobalBurst,
			ChatLimit:             cfg.RateLimit.ChatLimit,
			ChatWindow:            cfg.RateLimit.ChatWindow,
			TrustForwardedHeaders: cfg.RateLimit.TrustForwardedHeaders,
			TrustedProxies:        cfg.RateLimit.TrustedProxies,
			Redis:                 limiterRedis,
			RedisTimeout:          cfg.RateLimit.RedisTimeout,
		},
		CORS:        server.CORSConfig{AllowedOrigins: cfg.Server.AllowedOrigins},
		Logger:      logging.WithComponent(logger, "http"),
		AuditLogger: logging.WithComponent(logger, "audit"),
		Metrics:     recorder,
	})
	if err != nil {
		return fmt.Errorf("configure server: %w", err)
	}

	logger.Info("starting streamline",
		"addr", cfg.Server.Addr,
		"storage", cfg.Storage.Driver,
		"pubsub", cfg.PubSub.Driver)
	return serverutil.Run(ctx, serverutil.Config{
		Server:          srv.HTTPServer(),
		TLS:             serverutil.TLSConfig{CertFile: cfg.Server.TLSCert, KeyFile: cfg.Server.TLSKey},
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Logger:          logger,
	})
}

func applyFlagOverrides(cfg *config.Config, o flagOverrides) error {
	if v := strings.TrimSpace(o.Addr); v != "" {
		cfg.Server.Addr = v
	}
	if v := strings.TrimSpace(o.LogLevel); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(o.StorageDriver); v != "" {
		cfg.Storage.Driver = strings.ToLower(v)
	}
	if v := strings.TrimSpace(o.JSONPath); v != "" {
		cfg.Storage.JSONPath = v
	}
	if v := strings.TrimSpace(o.PostgresDSN); v != "" {
		cfg.Storage.Postgres.DSN = v
		if strings.TrimSpace(o.StorageDriver) == "" {
			cfg.Storage.Driver = "postgres"
		}
	}
	if v := strings.TrimSpace(o.PubSubDriver); v != "" {
		cfg.PubSub.Driver = strings.ToLower(v)
	}
	return cfg.Validate()
}

// openStore builds the configured datastore. Postgres schemas are migrated
// on startup unless auto_migrate is disabled.
func openStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Driver {
	case "json":
		store, err := storage.NewJSONStore(cfg.JSONPath, storage.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("open json store: %w", err)
		}
		return store, nil
	case "postgres":
		pg := cfg.Postgres
		store, err := storage.NewPostgresStore(ctx, pg.DSN,
			storage.WithLogger(logger),
			storage.WithPostgresPoolLimits(pg.MaxConns, pg.MinConns),
			storage.WithPostgresPoolDurations(pg.MaxConnLifetime, pg.MaxConnIdle, pg.HealthInterval),
			storage.WithPostgresAcquireTimeout(pg.AcquireTimeout),
			storage.WithPostgresApplicationName(pg.AppName),
		)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		if err := store.Ping(ctx); err != nil {
			_ = store.Close(ctx)
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		if pg.AutoMigrate {
			if err := store.Migrate(ctx); err != nil {
				_ = store.Close(ctx)
				return nil, fmt.Errorf("migrate postgres: %w", err)
			}
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

func openBus(ctx context.Context, cfg config.PubSubConfig, logger *slog.Logger, recorder *metrics.Recorder) (pubsub.Bus, error) {
	onDrop := func(topic string) {
		recorder.ObserveDrop(topic)
		logger.Debug("dropped message for slow subscriber", "topic", topic)
	}
	switch cfg.Driver {
	case "memory":
		return pubsub.NewMemoryBus(pubsub.MemoryConfig{Buffer: cfg.Buffer, OnDrop: onDrop}), nil
	case "redis":
		bus, err := pubsub.NewRedisBus(ctx, pubsubRedisConfig(cfg.Redis, cfg.Buffer, logger, onDrop))
		if err != nil {
			return nil, fmt.Errorf("open redis bus: %w", err)
		}
		return bus, nil
	default:
		return nil, fmt.Errorf("unsupported pubsub driver %q", cfg.Driver)
	}
}

// rateLimitRedis returns the client used for shared chat counters: a
// dedicated connection when ratelimit.redis is configured, otherwise the
// event bus connection when the bus runs on Redis, otherwise nil.
func rateLimitRedis(ctx context.Context, cfg config.RateLimitConfig, bus pubsub.Bus) (redis.UniversalClient, func(), error) {
	noop := func() {}
	if cfg.Redis.Enabled() {
		client, err := pubsub.DialRedis(ctx, pubsubRedisConfig(cfg.Redis, 0, nil, nil))
		if err != nil {
			return nil, noop, fmt.Errorf("open rate limit redis: %w", err)
		}
		return client, func() { _ = client.Close() }, nil
	}
	if shared, ok := bus.(interface{ Client() redis.UniversalClient }); ok {
		return shared.Client(), noop, nil
	}
	return nil, noop, nil
}

func pubsubRedisConfig(cfg config.RedisConfig, buffer int, logger *slog.Logger, onDrop pubsub.DropFunc) pubsub.RedisConfig {
	return pubsub.RedisConfig{
		Addr:        cfg.Addr,
		Addrs:       cfg.Addrs,
		Username:    cfg.Username,
		Password:    cfg.Password,
		MasterName:  cfg.MasterName,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
		Buffer:      buffer,
		Logger:      logger,
		OnDrop:      onDrop,
		TLS: pubsub.RedisTLSConfig{
			CAFile:             cfg.TLS.CAFile,
			CertFile:           cfg.TLS.CertFile,
			KeyFile:            cfg.TLS.KeyFile,
			ServerName:         cfg.TLS.ServerName,
			InsecureSkipVerify: cfg.TLS.InsecureSkipVerify,
		},
	}
}

func closeWithTimeout(logger *slog.Logger, name string, timeout time.Duration, closeFn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := closeFn(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("failed to close "+name, "error", err)
	}
}
