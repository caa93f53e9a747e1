package api

import (
	"net/http"

	"streamline/internal/live"
	"streamline/internal/models"
)

type chatMessageRequest struct {
	Message string `json:"message"`
}

type userRefRequest struct {
	UserID string `json:"userId"`
}

func (h *Handler) handleChatRoutes(w http.ResponseWriter, r *http.Request, channel models.Channel, rest []string) {
	if len(rest) != 0 {
		h.writeError(w, r, models.NotFound("route", r.URL.Path))
		return
	}
	switch r.Method {
	case http.MethodGet:
		messages, err := h.Live.ListChatMessages(r.Context(), channel.ID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if messages == nil {
			messages = []models.ChatMessage{}
		}
		writeData(w, http.StatusOK, map[string]any{"messages": messages})
	case http.MethodPost:
		user, ok := h.requireUser(w, r)
		if !ok {
			return
		}
		var req chatMessageRequest
		if err := decodeJSON(r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
		message, err := h.Live.CreateChatMessage(r.Context(), channel.ID, user.ID, live.ChatMessageInput{Message: req.Message})
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeData(w, http.StatusCreated, map[string]any{"message": message})
	default:
		writeMethodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleModerators serves POST /moderators and DELETE /moderators/{userID}.
// The live service decides whether the actor may change the set.
func (h *Handler) handleModerators(w http.ResponseWriter, r *http.Request, channel models.Channel, rest []string) {
	actor, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	p := Principal{User: &actor}
	switch {
	case len(rest) == 0 && r.Method == http.MethodPost:
		var req userRefRequest
		if err := decodeJSON(r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
		if req.UserID == "" {
			h.writeError(w, r, models.Validation("userId", "is required"))
			return
		}
		updated, err := h.Live.AddModerator(r.Context(), channel.ID, actor.ID, req.UserID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeChannel(w, http.StatusOK, p, updated)
	case len(rest) == 1 && r.Method == http.MethodDelete:
		updated, err := h.Live.RemoveModerator(r.Context(), channel.ID, actor.ID, rest[0])
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeChannel(w, http.StatusOK, p, updated)
	case len(rest) == 0:
		writeMethodNotAllowed(w, r, http.MethodPost)
	case len(rest) == 1:
		writeMethodNotAllowed(w, r, http.MethodDelete)
	default:
		h.writeError(w, r, models.NotFound("route", r.URL.Path))
	}
}

func (h *Handler) handleTimeouts(w http.ResponseWriter, r *http.Request, channel models.Channel, rest []string) {
	if len(rest) != 0 {
		h.writeError(w, r, models.NotFound("route", r.URL.Path))
		return
	}
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	moderator, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	var req userRefRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.UserID == "" {
		h.writeError(w, r, models.Validation("userId", "is required"))
		return
	}
	entry, err := h.Live.TimeoutUser(r.Context(), channel.ID, moderator.ID, req.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, map[string]any{"entry": entry})
}

// moderationLog is readable by the channel's moderators and admins.
func (h *Handler) moderationLog(w http.ResponseWriter, r *http.Request, channel models.Channel, rest []string) {
	if len(rest) != 0 {
		h.writeError(w, r, models.NotFound("route", r.URL.Path))
		return
	}
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	if !h.Live.CanModerate(channel, user.ID) && !user.HasRole(models.RoleAdmin) {
		h.writeError(w, r, models.Forbidden("user %s cannot read the moderation log of channel %s", user.ID, channel.ID))
		return
	}
	entries, err := h.Live.ListModerationLog(r.Context(), channel.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []models.ModerationLogEntry{}
	}
	writeData(w, http.StatusOK, map[string]any{"entries": entries})
}
