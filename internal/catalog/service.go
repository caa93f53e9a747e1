package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"streamline/internal/models"
	"streamline/internal/observability/logging"
	"streamline/internal/storage"
)

const maxNameLength = 80

// CategoryInput carries the fields accepted when creating a category.
type CategoryInput struct {
	Name     *string
	ParentID *string
}

// CategoryUpdate carries a partial change. A nil Name leaves the name
// untouched; ClearParent detaches the category from its parent.
type CategoryUpdate struct {
	Name        *string
	ParentID    *string
	ClearParent bool
}

// Service manages the category hierarchy. Slugs are always derived from the
// name on write.
type Service struct {
	store  storage.Store
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store storage.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logging.WithComponent(logger, "catalog"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Get(ctx context.Context, id string) (models.Category, error) {
	return s.store.GetCategory(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]models.Category, error) {
	return s.store.ListCategories(ctx)
}

// Children lists the direct children of the category with id.
func (s *Service) Children(ctx context.Context, id string) ([]models.Category, error) {
	if _, err := s.store.GetCategory(ctx, id); err != nil {
		return nil, err
	}
	all, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	children := make([]models.Category, 0)
	for _, category := range all {
		if category.ParentID != nil && *category.ParentID == id {
			children = append(children, category)
		}
	}
	return children, nil
}

func (s *Service) Create(ctx context.Context, in CategoryInput) (models.Category, error) {
	if in.Name == nil {
		return models.Category{}, models.WithOp("create category", models.Validation("name", "is required"))
	}
	name, slug, err := normalizeName(*in.Name)
	if err != nil {
		return models.Category{}, models.WithOp("create category", err)
	}
	now := s.now()
	category := models.Category{
		ID:         storage.NewID(),
		Name:       name,
		Slug:       slug,
		InsertedAt: now,
		UpdatedAt:  now,
	}
	err = s.store.Atomic(ctx, func(tx storage.Tx) error {
		if in.ParentID != nil && strings.TrimSpace(*in.ParentID) != "" {
			parentID := strings.TrimSpace(*in.ParentID)
			if _, err := tx.GetCategory(ctx, parentID); err != nil {
				return parentLookupErr(err)
			}
			category.ParentID = &parentID
		}
		return slugConflict(tx.InsertCategory(ctx, category))
	})
	if err != nil {
		return models.Category{}, models.WithOp("create category", err)
	}
	s.logger.Info("category created", "category_id", category.ID, "slug", category.Slug)
	return category, nil
}

func (s *Service) Update(ctx context.Context, id string, in CategoryUpdate) (models.Category, error) {
	var updated models.Category
	err := s.store.Atomic(ctx, func(tx storage.Tx) error {
		category, err := tx.GetCategory(ctx, id)
		if err != nil {
			return err
		}
		if in.Name != nil {
			name, slug, err := normalizeName(*in.Name)
			if err != nil {
				return err
			}
			category.Name = name
			category.Slug = slug
		}
		switch {
		case in.ClearParent:
			category.ParentID = nil
		case in.ParentID != nil:
			parentID := strings.TrimSpace(*in.ParentID)
			if err := checkParent(ctx, tx, category.ID, parentID); err != nil {
				return err
			}
			category.ParentID = &parentID
		}
		category.UpdatedAt = s.now()
		if err := slugConflict(tx.UpdateCategory(ctx, category)); err != nil {
			return err
		}
		updated = category
		return nil
	})
	if err != nil {
		return models.Category{}, models.WithOp("update category", err)
	}
	return updated, nil
}

// Delete removes the category. Children are detached and channels filed under
// it lose their category in the same commit.
func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.store.Atomic(ctx, func(tx storage.Tx) error {
		if _, err := tx.GetCategory(ctx, id); err != nil {
			return err
		}
		if err := tx.DetachChildCategories(ctx, id); err != nil {
			return err
		}
		return tx.DeleteCategory(ctx, id)
	})
	if err != nil {
		return models.WithOp("delete category", err)
	}
	s.logger.Info("category deleted", "category_id", id)
	return nil
}

func normalizeName(raw string) (string, string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", "", models.Validation("name", "must not be blank")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", "", models.Validation("name", fmt.Sprintf("must be at most %d characters", maxNameLength))
	}
	slug := Slugify(name)
	if slug == "" {
		return "", "", models.Validation("name", "must contain letters or digits")
	}
	return name, slug, nil
}

// checkParent rejects parents that do not exist and assignments that would
// make the category its own ancestor.
func checkParent(ctx context.Context, tx storage.Tx, id, parentID string) error {
	if parentID == "" {
		return models.Validation("parent_id", "must not be blank")
	}
	if parentID == id {
		return models.Validation("parent_id", "category cannot be its own parent")
	}
	all, err := tx.ListCategories(ctx)
	if err != nil {
		return err
	}
	parents := make(map[string]*string, len(all))
	for _, category := range all {
		parents[category.ID] = category.ParentID
	}
	if _, ok := parents[parentID]; !ok {
		return models.Validation("parent_id", "parent category does not exist")
	}
	seen := map[string]bool{}
	for cursor := parentID; cursor != ""; {
		if cursor == id {
			return models.Validation("parent_id", "would create a cycle")
		}
		if seen[cursor] {
			break
		}
		seen[cursor] = true
		next := parents[cursor]
		if next == nil {
			break
		}
		cursor = *next
	}
	return nil
}

func parentLookupErr(err error) error {
	if errors.Is(err, models.ErrNotFound) {
		return models.Validation("parent_id", "parent category does not exist")
	}
	return err
}

func slugConflict(err error) error {
	if errors.Is(err, storage.ErrDuplicate) {
		return models.Validation("name", "a category with this slug already exists")
	}
	return err
}

// Tree returns categories ordered so every parent precedes its children,
// siblings sorted by name.
func Tree(categories []models.Category) []models.Category {
	children := make(map[string][]models.Category)
	known := make(map[string]bool, len(categories))
	for _, category := range categories {
		known[category.ID] = true
	}
	var roots []models.Category
	for _, category := range categories {
		if category.ParentID == nil || !known[*category.ParentID] {
			roots = append(roots, category)
			continue
		}
		children[*category.ParentID] = append(children[*category.ParentID], category)
	}
	byName := func(list []models.Category) {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	}
	ordered := make([]models.Category, 0, len(categories))
	var walk func([]models.Category)
	walk = func(level []models.Category) {
		byName(level)
		for _, category := range level {
			ordered = append(ordered, category)
			walk(children[category.ID])
		}
	}
	walk(roots)
	return ordered
}
