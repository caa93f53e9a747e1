package api

import (
	"net/http"

	"streamline/internal/models"
)

type viewersRequest struct {
	Viewers int `json:"viewers"`
}

// handleStreamRoutes serves POST /api/channels/{id}/stream/{start|end|metadata|viewers}.
// Callers must be the ingest system, the channel owner or an admin.
func (h *Handler) handleStreamRoutes(w http.ResponseWriter, r *http.Request, channel models.Channel, rest []string) {
	if len(rest) != 1 {
		h.writeError(w, r, models.NotFound("route", r.URL.Path))
		return
	}
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := h.requireBroadcaster(w, r, channel); !ok {
		return
	}

	var (
		stream models.Stream
		status = http.StatusOK
		err    error
	)
	switch rest[0] {
	case "start":
		stream, err = h.Live.StartStream(r.Context(), channel.ID)
		status = http.StatusCreated
	case "end":
		stream, err = h.Live.EndStream(r.Context(), channel.ID)
	case "metadata":
		var fields models.MetadataFields
		if err := decodeJSON(r, &fields); err != nil {
			h.writeError(w, r, err)
			return
		}
		stream, err = h.Live.LogStreamMetadata(r.Context(), channel.ID, fields)
		status = http.StatusCreated
	case "viewers":
		var req viewersRequest
		if err := decodeJSON(r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
		stream, err = h.Live.RecordViewers(r.Context(), channel.ID, req.Viewers)
	default:
		h.writeError(w, r, models.NotFound("route", r.URL.Path))
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, status, map[string]any{"stream": stream})
}

func (h *Handler) listStreams(w http.ResponseWriter, r *http.Request, channel models.Channel, rest []string) {
	if len(rest) != 0 {
		h.writeError(w, r, models.NotFound("route", r.URL.Path))
		return
	}
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	streams, err := h.Live.ListStreams(r.Context(), channel.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if streams == nil {
		streams = []models.Stream{}
	}
	writeData(w, http.StatusOK, map[string]any{"streams": streams})
}
