package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"streamline/internal/models"
	"streamline/internal/observability/logging"
)

type errorResponse struct {
	Error  string            `json:"error"`
	Kind   string            `json:"kind"`
	Fields map[string]string `json:"fields,omitempty"`
}

// fieldError reports a single field the caller could not read. The rest of
// the response is still returned.
type fieldError struct {
	Path    []any  `json:"path"`
	Message string `json:"message"`
}

type envelope struct {
	Data   any          `json:"data"`
	Errors []fieldError `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeData(w http.ResponseWriter, status int, data any, errs ...fieldError) {
	writeJSON(w, status, envelope{Data: data, Errors: errs})
}

func writeStatusError(w http.ResponseWriter, status int, kind string, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind})
}

// WriteError is an exported helper for middleware that rejects requests
// before they reach a handler.
func WriteError(w http.ResponseWriter, status int, kind string, err error) {
	writeStatusError(w, status, kind, err)
}

// statusForKind maps the error taxonomy onto HTTP.
func statusForKind(kind models.Kind) int {
	switch kind {
	case models.KindValidation:
		return http.StatusBadRequest
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindPrecondition:
		return http.StatusConflict
	case models.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err using its kind. Errors outside the taxonomy are
// logged and hidden behind a generic message.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *models.Error
	if !errors.As(err, &appErr) || appErr.Kind == models.KindInternal {
		logging.WithContext(r.Context(), h.Logger).Error("request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error: "internal error",
			Kind:  string(models.KindInternal),
		})
		return
	}
	writeJSON(w, statusForKind(appErr.Kind), errorResponse{
		Error:  appErr.Message,
		Kind:   string(appErr.Kind),
		Fields: appErr.Fields,
	})
}

func writeMethodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeStatusError(w, http.StatusMethodNotAllowed, "method_not_allowed", fmt.Errorf("method %s not allowed", r.Method))
}

func decodeJSON(r *http.Request, dest interface{}) error {
	if r.Body == nil || r.Body == http.NoBody {
		return models.Validation("body", "request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return &models.Error{Kind: models.KindValidation, Message: fmt.Sprintf("invalid request body: %v", err)}
	}
	return nil
}

// decodeObject decodes a JSON object keeping raw members, so handlers can tell
// an explicit null apart from an absent field.
func decodeObject(r *http.Request, allowed ...string) (map[string]json.RawMessage, error) {
	var raw map[string]json.RawMessage
	if err := decodeJSON(r, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, models.Validation("body", "must be a JSON object")
	}
	known := make(map[string]struct{}, len(allowed))
	for _, key := range allowed {
		known[key] = struct{}{}
	}
	for key := range raw {
		if _, ok := known[key]; !ok {
			return nil, models.Validation(key, "unknown field")
		}
	}
	return raw, nil
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

// splitPath returns the non-empty trailing segments after prefix.
func splitPath(path, prefix string) []string {
	parts := strings.Split(strings.TrimPrefix(path, prefix), "/")
	for len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}
