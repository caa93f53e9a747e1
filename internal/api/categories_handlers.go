package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"streamline/internal/catalog"
	"streamline/internal/models"
)

type createCategoryRequest struct {
	Name     *string `json:"name"`
	ParentID *string `json:"parentId"`
}

func writeCategories(w http.ResponseWriter, categories []models.Category) {
	if categories == nil {
		categories = []models.Category{}
	}
	writeData(w, http.StatusOK, map[string]any{"categories": categories})
}

// Categories lists categories (?tree=true orders parents before children) and
// creates them for admins.
func (h *Handler) Categories(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		categories, err := h.Catalog.List(r.Context())
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("tree")); raw != "" {
			tree, err := strconv.ParseBool(raw)
			if err != nil {
				h.writeError(w, r, models.Validation("tree", "must be a boolean"))
				return
			}
			if tree {
				categories = catalog.Tree(categories)
			}
		}
		writeCategories(w, categories)
	case http.MethodPost:
		if _, ok := h.requireAdmin(w, r); !ok {
			return
		}
		var req createCategoryRequest
		if err := decodeJSON(r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
		category, err := h.Catalog.Create(r.Context(), catalog.CategoryInput{Name: req.Name, ParentID: req.ParentID})
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeData(w, http.StatusCreated, map[string]any{"category": category})
	default:
		writeMethodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// CategoryByID serves /api/categories/{id} and /api/categories/{id}/children.
func (h *Handler) CategoryByID(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/api/categories/")
	if len(parts) == 0 || parts[0] == "" || len(parts) > 2 {
		h.writeError(w, r, models.NotFound("route", r.URL.Path))
		return
	}
	categoryID := parts[0]

	if len(parts) == 2 {
		if parts[1] != "children" {
			h.writeError(w, r, models.NotFound("route", r.URL.Path))
			return
		}
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, r, http.MethodGet)
			return
		}
		children, err := h.Catalog.Children(r.Context(), categoryID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeCategories(w, children)
		return
	}

	switch r.Method {
	case http.MethodGet:
		category, err := h.Catalog.Get(r.Context(), categoryID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, map[string]any{"category": category})
	case http.MethodPatch:
		if _, ok := h.requireAdmin(w, r); !ok {
			return
		}
		update, err := decodeCategoryUpdate(r)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		category, err := h.Catalog.Update(r.Context(), categoryID, update)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, map[string]any{"category": category})
	case http.MethodDelete:
		if _, ok := h.requireAdmin(w, r); !ok {
			return
		}
		if err := h.Catalog.Delete(r.Context(), categoryID); err != nil {
			h.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeMethodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

// decodeCategoryUpdate rejects an explicit null name and treats a null
// parentId as detaching the category.
func decodeCategoryUpdate(r *http.Request) (catalog.CategoryUpdate, error) {
	raw, err := decodeObject(r, "name", "parentId")
	if err != nil {
		return catalog.CategoryUpdate{}, err
	}
	var update catalog.CategoryUpdate
	if value, ok := raw["name"]; ok {
		if isNull(value) {
			return catalog.CategoryUpdate{}, models.Validation("name", "cannot be null")
		}
		var name string
		if err := json.Unmarshal(value, &name); err != nil {
			return catalog.CategoryUpdate{}, models.Validation("name", "must be a string")
		}
		update.Name = &name
	}
	if value, ok := raw["parentId"]; ok {
		if isNull(value) {
			update.ClearParent = true
		} else {
			var parentID string
			if err := json.Unmarshal(value, &parentID); err != nil {
				return catalog.CategoryUpdate{}, models.Validation("parentId", "must be a string")
			}
			update.ParentID = &parentID
		}
	}
	return update, nil
}
