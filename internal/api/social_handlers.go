package api

import (
	"net/http"
	"strings"
	"time"

	"streamline/internal/models"
	"streamline/internal/social"
)

type userResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// handleFollow serves GET|POST|DELETE /api/channels/{id}/follow for the
// calling user against the channel owner.
func (h *Handler) handleFollow(w http.ResponseWriter, r *http.Request, channel models.Channel, rest []string) {
	if len(rest) != 0 {
		h.writeError(w, r, models.NotFound("route", r.URL.Path))
		return
	}
	switch r.Method {
	case http.MethodGet, http.MethodPost, http.MethodDelete:
	default:
		writeMethodNotAllowed(w, r, http.MethodGet, http.MethodPost, http.MethodDelete)
		return
	}
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		following, err := h.Social.IsFollowing(r.Context(), channel.OwnerID, user.ID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, map[string]any{"following": following})
	case http.MethodPost:
		follower, err := h.Social.Follow(r.Context(), channel.OwnerID, user.ID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeData(w, http.StatusCreated, map[string]any{"follower": follower})
	case http.MethodDelete:
		if err := h.Social.Unfollow(r.Context(), channel.OwnerID, user.ID); err != nil {
			h.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func nameFilter(r *http.Request) social.Filter {
	query := r.URL.Query()
	return social.Filter{
		StreamerName: strings.TrimSpace(query.Get("streamer")),
		UserName:     strings.TrimSpace(query.Get("user")),
	}
}

// Followers lists follow records filtered by ?streamer= and ?user= names.
func (h *Handler) Followers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	followers, err := h.Social.ListFollowers(r.Context(), nameFilter(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if followers == nil {
		followers = []models.Follower{}
	}
	writeData(w, http.StatusOK, map[string]any{"followers": followers})
}

// Subscriptions lists paid subscriptions filtered by ?streamer= and ?user=
// names.
func (h *Handler) Subscriptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	subscriptions, err := h.Social.ListSubscriptions(r.Context(), nameFilter(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if subscriptions == nil {
		subscriptions = []models.Subscription{}
	}
	writeData(w, http.StatusOK, map[string]any{"subscriptions": subscriptions})
}

// UserByName serves GET /api/users/{name} and /api/users/{name}/following.
func (h *Handler) UserByName(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/api/users/")
	if len(parts) == 0 || parts[0] == "" || len(parts) > 2 {
		h.writeError(w, r, models.NotFound("route", r.URL.Path))
		return
	}
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	user, err := h.Store.GetUserByName(r.Context(), parts[0])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if len(parts) == 1 {
		writeData(w, http.StatusOK, map[string]any{"user": userResponse{ID: user.ID, Name: user.Name, CreatedAt: user.CreatedAt}})
		return
	}
	if parts[1] != "following" {
		h.writeError(w, r, models.NotFound("route", r.URL.Path))
		return
	}
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	channels, err := h.Social.ListFollowedChannels(r.Context(), user.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeChannels(w, p, channels)
}
