package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"streamline/internal/models"
	"streamline/internal/observability/logging"
	"streamline/internal/storage"
)

const streamKeyDenied = "not authorized to read the stream key"

// channelResponse always carries streamKey; it is null for callers who may
// not read it.
type channelResponse struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"ownerId"`
	StreamKey      *string   `json:"streamKey"`
	Title          string    `json:"title"`
	CategoryID     *string   `json:"categoryId"`
	ChatRules      []string  `json:"chatRules"`
	ModeratorIDs   []string  `json:"moderatorIds"`
	Status         string    `json:"status"`
	ActiveStreamID *string   `json:"activeStreamId"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func newChannelResponse(channel models.Channel, showKey bool) channelResponse {
	resp := channelResponse{
		ID:             channel.ID,
		OwnerID:        channel.OwnerID,
		Title:          channel.Title,
		CategoryID:     channel.CategoryID,
		ChatRules:      append([]string{}, channel.ChatRules...),
		ModeratorIDs:   append([]string{}, channel.ModeratorIDs...),
		Status:         string(channel.Status),
		ActiveStreamID: channel.ActiveStreamID,
		CreatedAt:      channel.CreatedAt,
		UpdatedAt:      channel.UpdatedAt,
	}
	if showKey {
		key := channel.StreamKey
		resp.StreamKey = &key
	}
	return resp
}

func writeChannel(w http.ResponseWriter, status int, p Principal, channel models.Channel) {
	showKey := canReadStreamKey(p, channel)
	data := map[string]any{"channel": newChannelResponse(channel, showKey)}
	if showKey {
		writeData(w, status, data)
		return
	}
	writeData(w, status, data, fieldError{Path: []any{"channel", "streamKey"}, Message: streamKeyDenied})
}

func writeChannels(w http.ResponseWriter, p Principal, channels []models.Channel) {
	views := make([]channelResponse, 0, len(channels))
	var errs []fieldError
	for i, channel := range channels {
		showKey := canReadStreamKey(p, channel)
		views = append(views, newChannelResponse(channel, showKey))
		if !showKey {
			errs = append(errs, fieldError{Path: []any{"channels", i, "streamKey"}, Message: streamKeyDenied})
		}
	}
	writeData(w, http.StatusOK, map[string]any{"channels": views}, errs...)
}

type createChannelRequest struct {
	Title string `json:"title"`
}

// Channels serves the channel collection: GET lists with optional owner and
// live filters, POST opens a channel owned by the caller.
func (h *Handler) Channels(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		p, ok := h.principal(w, r)
		if !ok {
			return
		}
		query := r.URL.Query()
		filter := storage.ChannelFilter{}
		if raw := strings.TrimSpace(query.Get("live")); raw != "" {
			live, err := strconv.ParseBool(raw)
			if err != nil {
				h.writeError(w, r, models.Validation("live", "must be a boolean"))
				return
			}
			filter.LiveOnly = live
		}
		if owner := strings.TrimSpace(query.Get("owner")); owner != "" {
			user, err := h.Store.GetUserByName(r.Context(), owner)
			if errors.Is(err, models.ErrNotFound) {
				writeChannels(w, p, nil)
				return
			}
			if err != nil {
				h.writeError(w, r, err)
				return
			}
			filter.OwnerID = user.ID
		}
		channels, err := h.Store.ListChannels(r.Context(), filter)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeChannels(w, p, channels)
	case http.MethodPost:
		user, ok := h.requireUser(w, r)
		if !ok {
			return
		}
		var req createChannelRequest
		if err := decodeJSON(r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
		channel, err := h.Live.CreateChannel(r.Context(), user.ID, req.Title)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeChannel(w, http.StatusCreated, Principal{User: &user}, channel)
	default:
		writeMethodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// ChannelByID dispatches /api/channels/{id}/... routes.
func (h *Handler) ChannelByID(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/api/channels/")
	if len(parts) == 0 || parts[0] == "" {
		h.writeError(w, r, models.NotFound("channel", ""))
		return
	}
	if parts[0] == "by-key" && len(parts) == 1 {
		h.channelByKey(w, r)
		return
	}

	channelID := parts[0]
	r = r.WithContext(logging.ContextWithChannelID(r.Context(), channelID))
	channel, err := h.Store.GetChannel(r.Context(), channelID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			p, ok := h.principal(w, r)
			if !ok {
				return
			}
			writeChannel(w, http.StatusOK, p, channel)
		case http.MethodPatch:
			h.updateChannel(w, r, channel)
		default:
			writeMethodNotAllowed(w, r, http.MethodGet, http.MethodPatch)
		}
		return
	}

	rest := parts[2:]
	switch parts[1] {
	case "stream":
		h.handleStreamRoutes(w, r, channel, rest)
	case "streams":
		h.listStreams(w, r, channel, rest)
	case "stream-key":
		h.rotateStreamKey(w, r, channel, rest)
	case "chat":
		h.handleChatRoutes(w, r, channel, rest)
	case "moderators":
		h.handleModerators(w, r, channel, rest)
	case "timeouts":
		h.handleTimeouts(w, r, channel, rest)
	case "moderation-log":
		h.moderationLog(w, r, channel, rest)
	case "follow":
		h.handleFollow(w, r, channel, rest)
	default:
		h.writeError(w, r, models.NotFound("route", r.URL.Path))
	}
}

func (h *Handler) channelByKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	key := strings.TrimSpace(r.Header.Get(StreamKeyHeader))
	if key == "" {
		h.writeError(w, r, models.Validation(StreamKeyHeader, "header is required"))
		return
	}
	channel, err := h.Store.GetChannelByStreamKey(r.Context(), key)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeChannel(w, http.StatusOK, p, channel)
}

func (h *Handler) updateChannel(w http.ResponseWriter, r *http.Request, channel models.Channel) {
	p, ok := h.requireChannelManager(w, r, channel)
	if !ok {
		return
	}
	raw, err := decodeObject(r, "title", "categoryId", "chatRules")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var update models.ChannelUpdate
	if value, ok := raw["title"]; ok {
		if isNull(value) {
			h.writeError(w, r, models.Validation("title", "cannot be null"))
			return
		}
		var title string
		if err := json.Unmarshal(value, &title); err != nil {
			h.writeError(w, r, models.Validation("title", "must be a string"))
			return
		}
		update.Title = &title
	}
	if value, ok := raw["categoryId"]; ok {
		if isNull(value) {
			update.ClearCategory = true
		} else {
			var categoryID string
			if err := json.Unmarshal(value, &categoryID); err != nil {
				h.writeError(w, r, models.Validation("categoryId", "must be a string"))
				return
			}
			update.CategoryID = &categoryID
		}
	}
	if value, ok := raw["chatRules"]; ok {
		rules := []string{}
		if !isNull(value) {
			if err := json.Unmarshal(value, &rules); err != nil {
				h.writeError(w, r, models.Validation("chatRules", "must be a list of strings"))
				return
			}
		}
		update.ChatRules = &rules
	}

	updated, err := h.Live.UpdateChannel(r.Context(), channel.ID, update)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeChannel(w, http.StatusOK, p, updated)
}

func (h *Handler) rotateStreamKey(w http.ResponseWriter, r *http.Request, channel models.Channel, rest []string) {
	if len(rest) != 0 {
		h.writeError(w, r, models.NotFound("route", r.URL.Path))
		return
	}
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := h.requireChannelManager(w, r, channel)
	if !ok {
		return
	}
	rotated, err := h.Live.RotateStreamKey(r.Context(), channel.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeChannel(w, http.StatusOK, p, rotated)
}
