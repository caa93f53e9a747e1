package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"streamline/internal/observability/logging"
)

// CORSConfig lists the browser origins allowed to call the API. Entries are
// exact origins ("https://app.example.com"), subdomain wildcards
// ("https://*.example.com") or "*". With no origins configured only
// same-origin requests pass.
type CORSConfig struct {
	AllowedOrigins []string
}

const (
	corsAllowedMethods = "GET, POST, PATCH, DELETE, OPTIONS"
	corsAllowedHeaders = "Content-Type, Authorization, X-User-Id, X-Stream-Key, X-Request-Id"
	corsExposedHeaders = "X-Request-Id, Retry-After"
)

type originPattern struct {
	scheme string
	// suffix is set for wildcard entries and holds ".example.com".
	suffix string
	host   string
}

type corsPolicy struct {
	any      bool
	exact    map[string]struct{}
	patterns []originPattern
}

func newCORSPolicy(cfg CORSConfig) (corsPolicy, error) {
	policy := corsPolicy{exact: make(map[string]struct{})}
	for _, entry := range cfg.AllowedOrigins {
		entry = strings.TrimSpace(entry)
		switch {
		case entry == "":
			continue
		case entry == "*":
			policy.any = true
			continue
		}
		scheme, host, err := splitOrigin(entry)
		if err != nil {
			return corsPolicy{}, fmt.Errorf("parse origin %q: %w", entry, err)
		}
		if rest, ok := strings.CutPrefix(host, "*."); ok {
			if rest == "" || strings.Contains(rest, "*") {
				return corsPolicy{}, fmt.Errorf("parse origin %q: invalid wildcard", entry)
			}
			policy.patterns = append(policy.patterns, originPattern{scheme: scheme, suffix: "." + rest})
			continue
		}
		if strings.Contains(host, "*") {
			return corsPolicy{}, fmt.Errorf("parse origin %q: wildcard must lead the host", entry)
		}
		policy.exact[scheme+"://"+host] = struct{}{}
	}
	return policy, nil
}

// splitOrigin returns the lowercased scheme and host[:port] of origin.
func splitOrigin(origin string) (string, string, error) {
	parsed, err := url.Parse(strings.TrimSpace(origin))
	if err != nil {
		return "", "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", "", fmt.Errorf("origin must include scheme and host")
	}
	return strings.ToLower(parsed.Scheme), strings.ToLower(parsed.Host), nil
}

func (p corsPolicy) allows(origin string, r *http.Request) bool {
	scheme, host, err := splitOrigin(origin)
	if err != nil {
		return false
	}
	if p.any {
		return true
	}
	if _, ok := p.exact[scheme+"://"+host]; ok {
		return true
	}
	for _, pattern := range p.patterns {
		if pattern.scheme == scheme && strings.HasSuffix(host, pattern.suffix) && len(host) > len(pattern.suffix) {
			return true
		}
	}
	return sameOrigin(scheme, host, r)
}

func sameOrigin(scheme, host string, r *http.Request) bool {
	requestHost := strings.ToLower(strings.TrimSpace(r.Host))
	if requestHost == "" {
		return false
	}
	requestScheme := "http"
	if r.TLS != nil {
		requestScheme = "https"
	}
	return scheme == requestScheme && host == requestHost
}

func corsMiddleware(policy corsPolicy, logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}
		if !policy.allows(origin, r) {
			if logger != nil {
				logging.WithContext(r.Context(), logger).Warn("blocked CORS origin", "origin", origin, "path", r.URL.Path)
			}
			writeMiddlewareError(w, http.StatusForbidden, "forbidden", "origin not allowed")
			return
		}

		header := w.Header()
		header.Set("Access-Control-Allow-Origin", origin)
		header.Add("Vary", "Origin")
		header.Set("Access-Control-Expose-Headers", corsExposedHeaders)

		if r.Method != http.MethodOptions || r.Header.Get("Access-Control-Request-Method") == "" {
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		header.Set("Access-Control-Allow-Methods", corsAllowedMethods)
		header.Set("Access-Control-Allow-Headers", corsAllowedHeaders)
		header.Set("Access-Control-Max-Age", "600")
		w.WriteHeader(http.StatusNoContent)
	})
}
