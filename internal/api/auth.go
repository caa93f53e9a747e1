package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"streamline/internal/models"
)

type contextKey string

const principalContextKey contextKey = "principal"

// UserIDHeader carries the caller identity established by the upstream auth
// layer.
const UserIDHeader = "X-User-Id"

// StreamKeyHeader carries the private key for channel lookups by key.
const StreamKeyHeader = "X-Stream-Key"

var errUnauthenticated = errors.New("authentication required")

// Principal is the resolved caller of a request. Both fields are empty for
// anonymous callers.
type Principal struct {
	User   *models.User
	Ingest bool
}

// Anonymous reports whether the request carried no credentials at all.
func (p Principal) Anonymous() bool {
	return p.User == nil && !p.Ingest
}

func (p Principal) userID() string {
	if p.User == nil {
		return ""
	}
	return p.User.ID
}

func (p Principal) isAdmin() bool {
	return p.User != nil && p.User.HasRole(models.RoleAdmin)
}

// ContextWithPrincipal stores the resolved caller on ctx.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext returns the caller stored by ContextWithPrincipal.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(Principal)
	return p, ok
}

// ExtractToken returns the bearer token from the Authorization header.
func ExtractToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < len("Bearer ") || !strings.EqualFold(header[:len("Bearer ")], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(header[len("Bearer "):])
}

// AuthenticateRequest resolves the caller from the X-User-Id header and the
// ingest bearer token. Credentials that are present but invalid are an error;
// missing credentials yield an anonymous principal.
func (h *Handler) AuthenticateRequest(r *http.Request) (Principal, error) {
	var p Principal
	if userID := strings.TrimSpace(r.Header.Get(UserIDHeader)); userID != "" {
		user, err := h.Store.GetUser(r.Context(), userID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return Principal{}, errors.New("unknown user")
			}
			return Principal{}, err
		}
		p.User = &user
	}
	if token := ExtractToken(r); token != "" {
		if len(h.IngestTokenHash) == 0 {
			return Principal{}, errors.New("ingest token authentication is not configured")
		}
		if err := bcrypt.CompareHashAndPassword(h.IngestTokenHash, []byte(token)); err != nil {
			return Principal{}, errors.New("invalid ingest token")
		}
		p.Ingest = true
	}
	return p, nil
}

// principal returns the caller resolved by the server middleware, or resolves
// it from the request when the handler is mounted without that middleware.
func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (Principal, bool) {
	if p, ok := PrincipalFromContext(r.Context()); ok {
		return p, true
	}
	p, err := h.AuthenticateRequest(r)
	if err != nil {
		writeStatusError(w, http.StatusUnauthorized, "unauthenticated", err)
		return Principal{}, false
	}
	return p, true
}

func (h *Handler) requireUser(w http.ResponseWriter, r *http.Request) (models.User, bool) {
	p, ok := h.principal(w, r)
	if !ok {
		return models.User{}, false
	}
	if p.User == nil {
		writeStatusError(w, http.StatusUnauthorized, "unauthenticated", errUnauthenticated)
		return models.User{}, false
	}
	return *p.User, true
}

func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) (models.User, bool) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return models.User{}, false
	}
	if !user.HasRole(models.RoleAdmin) {
		h.writeError(w, r, models.Forbidden("admin role required"))
		return models.User{}, false
	}
	return user, true
}

// canManageChannel is the policy for channel settings: the owner and admins.
func canManageChannel(p Principal, channel models.Channel) bool {
	return p.User != nil && (p.User.ID == channel.OwnerID || p.isAdmin())
}

// canReadStreamKey additionally admits the ingest system.
func canReadStreamKey(p Principal, channel models.Channel) bool {
	return p.Ingest || canManageChannel(p, channel)
}

// requireChannelManager admits the channel owner and admins.
func (h *Handler) requireChannelManager(w http.ResponseWriter, r *http.Request, channel models.Channel) (Principal, bool) {
	p, ok := h.principal(w, r)
	if !ok {
		return Principal{}, false
	}
	if p.User == nil {
		writeStatusError(w, http.StatusUnauthorized, "unauthenticated", errUnauthenticated)
		return Principal{}, false
	}
	if !canManageChannel(p, channel) {
		h.writeError(w, r, models.Forbidden("only the channel owner can change channel %s", channel.ID))
		return Principal{}, false
	}
	return p, true
}

// requireBroadcaster admits the ingest system, the channel owner and admins.
func (h *Handler) requireBroadcaster(w http.ResponseWriter, r *http.Request, channel models.Channel) (Principal, bool) {
	p, ok := h.principal(w, r)
	if !ok {
		return Principal{}, false
	}
	if p.Anonymous() {
		writeStatusError(w, http.StatusUnauthorized, "unauthenticated", errUnauthenticated)
		return Principal{}, false
	}
	if !p.Ingest && !canManageChannel(p, channel) {
		h.writeError(w, r, models.Forbidden("caller cannot broadcast on channel %s", channel.ID))
		return Principal{}, false
	}
	return p, true
}
