package server

import (
	"log/slog"
	"net/http"

	"streamline/internal/observability/logging"
)

// loggingWithRequest returns base annotated with the request's context IDs,
// path and resolved client address.
func loggingWithRequest(base *slog.Logger, resolver *clientIPResolver, r *http.Request) *slog.Logger {
	if base == nil || r == nil {
		return nil
	}
	ip, source := resolver.ClientIPFromRequest(r)
	return logging.WithContext(r.Context(), base).With(
		"path", r.URL.Path,
		"remote_ip", ip,
		"ip_source", source,
	)
}
