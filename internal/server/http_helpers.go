package server

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"streamline/internal/api"
)

const (
	ipSourceRemoteAddr    = "remote_addr"
	ipSourceXForwardedFor = "x_forwarded_for"
	ipSourceXRealIP       = "x_real_ip"
)

// writeMiddlewareError keeps middleware failures in the API error shape.
func writeMiddlewareError(w http.ResponseWriter, status int, kind, message string) {
	api.WriteError(w, status, kind, errors.New(message))
}

// clientIPResolver decides which peers may vouch for the client address via
// forwarding headers.
type clientIPResolver struct {
	trustAll bool
	trusted  []*net.IPNet
}

func newClientIPResolver(cfg RateLimitConfig) (*clientIPResolver, error) {
	resolver := &clientIPResolver{trustAll: cfg.TrustForwardedHeaders && len(cfg.TrustedProxies) == 0}
	for _, entry := range cfg.TrustedProxies {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			if ip := net.ParseIP(entry); ip != nil && ip.To4() != nil {
				entry += "/32"
			} else {
				entry += "/128"
			}
		}
		_, network, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("parse trusted proxy %q: %w", entry, err)
		}
		resolver.trusted = append(resolver.trusted, network)
	}
	return resolver, nil
}

// ClientIPFromRequest returns the client address and where it was read from.
func (c *clientIPResolver) ClientIPFromRequest(r *http.Request) (string, string) {
	remote := hostOnly(r.RemoteAddr)
	if c == nil || !c.trusts(remote) {
		return remote, ipSourceRemoteAddr
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first, ipSourceXForwardedFor
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP, ipSourceXRealIP
	}
	return remote, ipSourceRemoteAddr
}

func (c *clientIPResolver) trusts(remote string) bool {
	if c.trustAll {
		return true
	}
	ip := net.ParseIP(remote)
	if ip == nil {
		return false
	}
	for _, network := range c.trusted {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

func hostOnly(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
