package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"streamline/internal/observability/metrics"
)

// Config selects the handler for New. Format is "json" (default) or
// "text"; Level accepts slog level names plus "warning".
type Config struct {
	Level  string
	Writer io.Writer
	Format string
	// Service, when set, is attached to every record as "service".
	Service string
}

type LogFormat string

const (
	FormatJSON LogFormat = "json"
	FormatText LogFormat = "text"
)

// Init builds a logger with New and makes it the slog default.
func Init(cfg Config) *slog.Logger {
	logger := New(cfg)
	slog.SetDefault(logger)
	return logger
}

// New builds a logger writing to cfg.Writer, or stdout when unset. An
// unparseable level falls back to info.
func New(cfg Config) *slog.Logger {
	writer := cfg.Writer
	if writer == nil {
		writer = os.Stdout
	}
	level, _ := ParseLevel(cfg.Level)
	options := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if LogFormat(strings.ToLower(strings.TrimSpace(cfg.Format))) == FormatText {
		handler = slog.NewTextHandler(writer, options)
	} else {
		handler = slog.NewJSONHandler(writer, options)
	}
	logger := slog.New(handler)
	if service := strings.TrimSpace(cfg.Service); service != "" {
		logger = logger.With("service", service)
	}
	return logger
}

// ParseLevel maps a configured level name to a slog.Level. Empty means info.
func ParseLevel(level string) (slog.Level, error) {
	name := strings.ToLower(strings.TrimSpace(level))
	switch name {
	case "":
		return slog.LevelInfo, nil
	case "warning":
		name = "warn"
	}
	var parsed slog.Level
	if err := parsed.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
	return parsed, nil
}

// WithComponent returns a logger annotated with the provided component field.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With("component", component)
}

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	channelIDKey contextKey = "channel_id"
	userIDKey    contextKey = "user_id"
)

func contextWithValue(ctx context.Context, key contextKey, value string) context.Context {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ctx
	}
	return context.WithValue(ctx, key, trimmed)
}

func valueFromContext(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	value, ok := ctx.Value(key).(string)
	return value, ok && value != ""
}

// ContextWithRequestID adds the provided request ID to the context when it is non-empty.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return contextWithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the request ID previously stored on the context.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	return valueFromContext(ctx, requestIDKey)
}

// ContextWithChannelID records the channel a request operates on.
func ContextWithChannelID(ctx context.Context, id string) context.Context {
	return contextWithValue(ctx, channelIDKey, id)
}

func ChannelIDFromContext(ctx context.Context) (string, bool) {
	return valueFromContext(ctx, channelIDKey)
}

// ContextWithUserID records the authenticated caller.
func ContextWithUserID(ctx context.Context, id string) context.Context {
	return contextWithValue(ctx, userIDKey, id)
}

func UserIDFromContext(ctx context.Context) (string, bool) {
	return valueFromContext(ctx, userIDKey)
}

// WithContext returns a logger annotated with the request, channel and user
// IDs held in the context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return nil
	}
	if requestID, ok := RequestIDFromContext(ctx); ok {
		logger = logger.With("request_id", requestID)
	}
	if channelID, ok := ChannelIDFromContext(ctx); ok {
		logger = logger.With("channel_id", channelID)
	}
	if userID, ok := UserIDFromContext(ctx); ok {
		logger = logger.With("user_id", userID)
	}
	return logger
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// RequestLoggerConfig configures the HTTP request logging middleware.
type RequestLoggerConfig struct {
	Logger *slog.Logger
	// DisableRemoteAddr drops the raw peer address, for callers that log a
	// resolved client IP through AdditionalFields instead.
	DisableRemoteAddr bool
	AdditionalFields  func(*http.Request, int, time.Duration) []any
}

// RequestLogger logs one record per request once the handler returns.
// Server errors are logged at error level, client errors at warn.
func RequestLogger(cfg RequestLoggerConfig) func(http.Handler) http.Handler {
	base := cfg.Logger
	if base == nil {
		base = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			recorder := metrics.NewResponseRecorder(w)
			start := time.Now()
			next.ServeHTTP(recorder, r)
			elapsed := time.Since(start)

			status := recorder.Status()
			fields := make([]any, 0, 12)
			fields = append(fields,
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration_ms", elapsed.Milliseconds())
			if !cfg.DisableRemoteAddr {
				fields = append(fields, "remote_addr", r.RemoteAddr)
			}
			if cfg.AdditionalFields != nil {
				fields = append(fields, cfg.AdditionalFields(r, status, elapsed)...)
			}
			WithContext(r.Context(), base).Log(r.Context(), statusLevel(status), "http request", fields...)
		})
	}
}

func statusLevel(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
