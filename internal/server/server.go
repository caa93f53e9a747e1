package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"streamline/internal/api"
	"streamline/internal/observability/logging"
	"streamline/internal/observability/metrics"
)

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type Config struct {
	Addr         string
	TLS          TLSConfig
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Security     SecurityConfig
	Logger       *slog.Logger
	AuditLogger  *slog.Logger
	Metrics      *metrics.Recorder
}

type Server struct {
	httpServer  *http.Server
	logger      *slog.Logger
	metrics     *metrics.Recorder
	rateLimiter *rateLimiter
	tlsCertFile string
	tlsKeyFile  string
}

func New(handler *api.Handler, cfg Config) (*Server, error) {
	if handler == nil {
		return nil, errors.New("api handler is required")
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	handler.Register(mux)
	mux.Handle("/metrics", recorder.Handler())

	policy, err := newCORSPolicy(cfg.CORS)
	if err != nil {
		return nil, err
	}
	resolver, err := newClientIPResolver(cfg.RateLimit)
	if err != nil {
		return nil, err
	}
	rl := newRateLimiter(cfg.RateLimit)

	handlerChain := http.Handler(mux)
	handlerChain = auditMiddleware(cfg.AuditLogger, resolver, handlerChain)
	handlerChain = authMiddleware(handler, logger, handlerChain)
	handlerChain = rateLimitMiddleware(rl, resolver, recorder, logger, handlerChain)
	handlerChain = corsMiddleware(policy, logger, handlerChain)
	handlerChain = securityHeadersMiddleware(cfg.Security, handlerChain)
	handlerChain = metrics.HTTPMiddleware(recorder, handlerChain)
	handlerChain = logging.RequestLogger(logging.RequestLoggerConfig{
		Logger:            logger,
		DisableRemoteAddr: true,
		AdditionalFields: func(r *http.Request, _ int, _ time.Duration) []any {
			ip, _ := resolver.ClientIPFromRequest(r)
			return []any{"remote_ip", ip}
		},
	})(handlerChain)
	handlerChain = requestIDMiddleware(handlerChain)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handlerChain,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       durationOr(cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      durationOr(cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       durationOr(cfg.IdleTimeout, 60*time.Second),
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	srv := &Server{
		httpServer:  httpServer,
		logger:      logger,
		metrics:     recorder,
		rateLimiter: rl,
		tlsCertFile: strings.TrimSpace(cfg.TLS.CertFile),
		tlsKeyFile:  strings.TrimSpace(cfg.TLS.KeyFile),
	}
	if srv.tlsCertFile != "" && srv.tlsKeyFile != "" {
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return srv, nil
}

// HTTPServer exposes the configured server for serverutil.Run.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Handler returns the full middleware chain.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	if s.httpServer == nil {
		return fmt.Errorf("http server is not configured")
	}
	if s.tlsCertFile != "" && s.tlsKeyFile != "" {
		return s.httpServer.ListenAndServeTLS(s.tlsCertFile, s.tlsKeyFile)
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func durationOr(value, fallback time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return fallback
}

// isChatPost matches POST /api/channels/{id}/chat.
func isChatPost(r *http.Request) bool {
	if r.Method != http.MethodPost {
		return false
	}
	rest, ok := strings.CutPrefix(r.URL.Path, "/api/channels/")
	if !ok {
		return false
	}
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	return len(parts) == 2 && parts[0] != "" && parts[1] == "chat"
}

func rateLimitMiddleware(rl *rateLimiter, resolver *clientIPResolver, recorder *metrics.Recorder, logger *slog.Logger, next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.AllowRequest() {
			recorder.ObserveRateLimited("global")
			writeMiddlewareError(w, http.StatusTooManyRequests, "rate_limited", "global rate limit exceeded")
			return
		}
		if isChatPost(r) {
			key := strings.TrimSpace(r.Header.Get(api.UserIDHeader))
			if key == "" {
				ip, _ := resolver.ClientIPFromRequest(r)
				key = "ip:" + ip
			}
			allowed, retryAfter, err := rl.AllowChat(r.Context(), key)
			if err != nil {
				loggingWithRequest(logger, resolver, r).Error("rate limiter failure", "error", err)
				writeMiddlewareError(w, http.StatusServiceUnavailable, "unavailable", "rate limit failure")
				return
			}
			if !allowed {
				recorder.ObserveRateLimited("chat")
				if retryAfter > 0 {
					seconds := int(retryAfter.Round(time.Second) / time.Second)
					if seconds < 1 {
						seconds = 1
					}
					w.Header().Set("Retry-After", strconv.Itoa(seconds))
				}
				writeMiddlewareError(w, http.StatusTooManyRequests, "rate_limited", "too many chat messages")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// authMiddleware resolves the caller for every API request. Anonymous
// requests pass through; handlers decide what they may do. Credentials that
// fail to resolve are rejected here.
func authMiddleware(handler *api.Handler, logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}
		principal, err := handler.AuthenticateRequest(r)
		if err != nil {
			logging.WithContext(r.Context(), logger).Debug("authentication failed", "path", r.URL.Path, "error", err)
			api.WriteError(w, http.StatusUnauthorized, "unauthenticated", err)
			return
		}
		ctx := api.ContextWithPrincipal(r.Context(), principal)
		if principal.User != nil {
			ctx = logging.ContextWithUserID(ctx, principal.User.ID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func auditMiddleware(logger *slog.Logger, resolver *clientIPResolver, next http.Handler) http.Handler {
	if logger == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sr := metrics.NewResponseRecorder(w)
		start := time.Now()
		next.ServeHTTP(sr, r)
		if !shouldAudit(r) {
			return
		}
		fields := []any{
			"method", r.Method,
			"status", sr.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if principal, ok := api.PrincipalFromContext(r.Context()); ok && principal.Ingest {
			fields = append(fields, "ingest", true)
		}
		loggingWithRequest(logger, resolver, r).Info("audit", fields...)
	})
}

func shouldAudit(r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
		return false
	}
	return strings.HasPrefix(r.URL.Path, "/api/")
}
