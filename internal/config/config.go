// Package config loads streamline settings from an optional YAML file,
// STREAMLINE_* environment variables, and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"streamline/internal/observability/logging"
)

// EnvPrefix is prepended to every environment override, so storage.driver is
// read from STREAMLINE_STORAGE_DRIVER.
const EnvPrefix = "STREAMLINE"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Auth      AuthConfig      `mapstructure:"auth"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	TLSCert         string        `mapstructure:"tls_cert"`
	TLSKey          string        `mapstructure:"tls_key"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StorageConfig struct {
	Driver   string         `mapstructure:"driver"`
	JSONPath string         `mapstructure:"json_path"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdle     time.Duration `mapstructure:"max_conn_idle"`
	HealthInterval  time.Duration `mapstructure:"health_interval"`
	AcquireTimeout  time.Duration `mapstructure:"acquire_timeout"`
	AppName         string        `mapstructure:"app_name"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type PubSubConfig struct {
	Driver string      `mapstructure:"driver"`
	Buffer int         `mapstructure:"buffer"`
	Redis  RedisConfig `mapstructure:"redis"`
}

// RedisConfig is shared by the Redis event bus and the distributed chat
// limiter.
type RedisConfig struct {
	Addr        string         `mapstructure:"addr"`
	Addrs       []string       `mapstructure:"addrs"`
	Username    string         `mapstructure:"username"`
	Password    string         `mapstructure:"password"`
	MasterName  string         `mapstructure:"master_name"`
	PoolSize    int            `mapstructure:"pool_size"`
	DialTimeout time.Duration  `mapstructure:"dial_timeout"`
	TLS         RedisTLSConfig `mapstructure:"tls"`
}

type RedisTLSConfig struct {
	CAFile             string `mapstructure:"ca_file"`
	CertFile           string `mapstructure:"cert_file"`
	KeyFile            string `mapstructure:"key_file"`
	ServerName         string `mapstructure:"server_name"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

// Enabled reports whether any Redis endpoint was configured.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != "" || len(c.Addrs) > 0
}

type RateLimitConfig struct {
	GlobalRPS             float64       `mapstructure:"global_rps"`
	GlobalBurst           int           `mapstructure:"global_burst"`
	ChatLimit             int           `mapstructure:"chat_limit"`
	ChatWindow            time.Duration `mapstructure:"chat_window"`
	TrustForwardedHeaders bool          `mapstructure:"trust_forwarded_headers"`
	TrustedProxies        []string      `mapstructure:"trusted_proxies"`
	RedisTimeout          time.Duration `mapstructure:"redis_timeout"`
	Redis                 RedisConfig   `mapstructure:"redis"`
}

type AuthConfig struct {
	// IngestTokenHash is the bcrypt hash of the bearer token presented by
	// ingest callers. Empty disables token-based ingest access.
	IngestTokenHash string `mapstructure:"ingest_token_hash"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.tls_cert", "")
	v.SetDefault("server.tls_key", "")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("storage.driver", "json")
	v.SetDefault("storage.json_path", "data/streamline.json")
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.postgres.max_conns", 0)
	v.SetDefault("storage.postgres.min_conns", 0)
	v.SetDefault("storage.postgres.max_conn_lifetime", time.Duration(0))
	v.SetDefault("storage.postgres.max_conn_idle", time.Duration(0))
	v.SetDefault("storage.postgres.health_interval", time.Duration(0))
	v.SetDefault("storage.postgres.acquire_timeout", 5*time.Second)
	v.SetDefault("storage.postgres.app_name", "streamline")
	v.SetDefault("storage.postgres.auto_migrate", true)

	v.SetDefault("pubsub.driver", "memory")
	v.SetDefault("pubsub.buffer", 64)
	setRedisDefaults(v, "pubsub.redis")

	v.SetDefault("ratelimit.global_rps", 0.0)
	v.SetDefault("ratelimit.global_burst", 0)
	v.SetDefault("ratelimit.chat_limit", 20)
	v.SetDefault("ratelimit.chat_window", 30*time.Second)
	v.SetDefault("ratelimit.trust_forwarded_headers", false)
	v.SetDefault("ratelimit.redis_timeout", 2*time.Second)
	setRedisDefaults(v, "ratelimit.redis")

	v.SetDefault("auth.ingest_token_hash", "")
}

// setRedisDefaults registers every Redis key so AutomaticEnv can see
// overrides during Unmarshal.
func setRedisDefaults(v *viper.Viper, prefix string) {
	v.SetDefault(prefix+".addr", "")
	v.SetDefault(prefix+".addrs", []string{})
	v.SetDefault(prefix+".username", "")
	v.SetDefault(prefix+".password", "")
	v.SetDefault(prefix+".master_name", "")
	v.SetDefault(prefix+".pool_size", 0)
	v.SetDefault(prefix+".dial_timeout", 5*time.Second)
	v.SetDefault(prefix+".tls.ca_file", "")
	v.SetDefault(prefix+".tls.cert_file", "")
	v.SetDefault(prefix+".tls.key_file", "")
	v.SetDefault(prefix+".tls.server_name", "")
	v.SetDefault(prefix+".tls.insecure_skip_verify", false)
}

// Load reads configuration from path when set, otherwise from an optional
// streamline.yaml in the working directory or ./config. Environment variables
// override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if path = strings.TrimSpace(path); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("streamline")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	c.PubSub.Driver = strings.ToLower(strings.TrimSpace(c.PubSub.Driver))
	c.Server.AllowedOrigins = trimAll(c.Server.AllowedOrigins)
	c.Auth.IngestTokenHash = strings.TrimSpace(c.Auth.IngestTokenHash)
	c.PubSub.Redis.Addrs = trimAll(c.PubSub.Redis.Addrs)
	c.RateLimit.Redis.Addrs = trimAll(c.RateLimit.Redis.Addrs)
	c.RateLimit.TrustedProxies = trimAll(c.RateLimit.TrustedProxies)
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Validate reports the first configuration problem that would prevent the
// server from starting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return errors.New("server.addr is required")
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return errors.New("server.tls_cert and server.tls_key must be set together")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unsupported log.format %q", c.Log.Format)
	}
	switch c.Storage.Driver {
	case "json":
	case "postgres":
		if strings.TrimSpace(c.Storage.Postgres.DSN) == "" {
			return errors.New("storage.postgres.dsn is required for the postgres driver")
		}
		if c.Storage.Postgres.MinConns > c.Storage.Postgres.MaxConns && c.Storage.Postgres.MaxConns > 0 {
			return errors.New("storage.postgres.min_conns cannot exceed max_conns")
		}
	default:
		return fmt.Errorf("unsupported storage.driver %q", c.Storage.Driver)
	}
	switch c.PubSub.Driver {
	case "memory":
	case "redis":
		if !c.PubSub.Redis.Enabled() {
			return errors.New("pubsub.redis.addr or pubsub.redis.addrs is required for the redis driver")
		}
	default:
		return fmt.Errorf("unsupported pubsub.driver %q", c.PubSub.Driver)
	}
	if c.PubSub.Buffer <= 0 {
		return errors.New("pubsub.buffer must be positive")
	}
	if c.RateLimit.GlobalRPS < 0 || c.RateLimit.GlobalBurst < 0 {
		return errors.New("ratelimit.global_rps and global_burst cannot be negative")
	}
	if c.RateLimit.ChatLimit > 0 && c.RateLimit.ChatWindow <= 0 {
		return errors.New("ratelimit.chat_window must be positive when chat_limit is set")
	}
	return nil
}
