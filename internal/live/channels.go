package live

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"streamline/internal/models"
	"streamline/internal/storage"
)

const (
	maxTitleLength    = 140
	maxChatRules      = 10
	maxChatRuleLength = 200
)

// CreateChannel opens an offline channel for ownerID with a fresh stream key.
func (s *Service) CreateChannel(ctx context.Context, ownerID, title string) (models.Channel, error) {
	title, err := normalizeTitle(title)
	if err != nil {
		return models.Channel{}, models.WithOp("create channel", err)
	}
	now := s.now()
	channel := models.Channel{
		ID:        storage.NewID(),
		OwnerID:   ownerID,
		StreamKey: storage.NewStreamKey(),
		Title:     title,
		Status:    models.ChannelOffline,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.store.Atomic(ctx, func(tx storage.Tx) error {
		if _, err := tx.GetUser(ctx, ownerID); err != nil {
			return err
		}
		return tx.InsertChannel(ctx, channel)
	})
	if err != nil {
		return models.Channel{}, models.WithOp("create channel", err)
	}
	s.log(ctx).Info("channel created", "channel_id", channel.ID, "owner_id", ownerID)
	return channel, nil
}

// UpdateChannel applies the caller-editable fields and publishes the result.
func (s *Service) UpdateChannel(ctx context.Context, channelID string, update models.ChannelUpdate) (models.Channel, error) {
	var title string
	if update.Title != nil {
		normalized, err := normalizeTitle(*update.Title)
		if err != nil {
			return models.Channel{}, models.WithOp("update channel", err)
		}
		title = normalized
	}
	var rules []string
	if update.ChatRules != nil {
		normalized, err := normalizeChatRules(*update.ChatRules)
		if err != nil {
			return models.Channel{}, models.WithOp("update channel", err)
		}
		rules = normalized
	}

	var channel models.Channel
	err := s.withChannel(ctx, channelID, func(tx storage.Tx) error {
		locked, err := tx.LockChannel(ctx, channelID)
		if err != nil {
			return err
		}
		if update.Title != nil {
			locked.Title = title
		}
		if update.ChatRules != nil {
			locked.ChatRules = rules
		}
		switch {
		case update.ClearCategory:
			locked.CategoryID = nil
		case update.CategoryID != nil:
			categoryID := strings.TrimSpace(*update.CategoryID)
			if _, err := tx.GetCategory(ctx, categoryID); err != nil {
				if errors.Is(err, models.ErrNotFound) {
					return models.Validation("categoryId", "unknown category")
				}
				return err
			}
			locked.CategoryID = &categoryID
		}
		locked.UpdatedAt = s.now()
		if err := tx.UpdateChannel(ctx, locked); err != nil {
			return err
		}
		channel = locked
		return nil
	}, func() {
		s.publishChannel(ctx, channel, "updated")
	})
	if err != nil {
		return models.Channel{}, models.WithOp("update channel", err)
	}
	return channel, nil
}

// RotateStreamKey replaces the private ingest key of a channel.
func (s *Service) RotateStreamKey(ctx context.Context, channelID string) (models.Channel, error) {
	var channel models.Channel
	err := s.withChannel(ctx, channelID, func(tx storage.Tx) error {
		locked, err := tx.LockChannel(ctx, channelID)
		if err != nil {
			return err
		}
		locked.StreamKey = storage.NewStreamKey()
		locked.UpdatedAt = s.now()
		if err := tx.UpdateChannel(ctx, locked); err != nil {
			return err
		}
		channel = locked
		return nil
	}, nil)
	if err != nil {
		return models.Channel{}, models.WithOp("rotate stream key", err)
	}
	s.log(ctx).Info("stream key rotated", "channel_id", channelID)
	return channel, nil
}

func normalizeTitle(raw string) (string, error) {
	title := strings.TrimSpace(raw)
	if title == "" {
		return "", models.Validation("title", "must not be blank")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return "", models.Validation("title", fmt.Sprintf("must be at most %d characters", maxTitleLength))
	}
	return title, nil
}

func normalizeChatRules(raw []string) ([]string, error) {
	rules := make([]string, 0, len(raw))
	for _, rule := range raw {
		rule = strings.TrimSpace(rule)
		if rule == "" {
			continue
		}
		if utf8.RuneCountInString(rule) > maxChatRuleLength {
			return nil, models.Validation("chatRules", fmt.Sprintf("each rule must be at most %d characters", maxChatRuleLength))
		}
		rules = append(rules, rule)
	}
	if len(rules) > maxChatRules {
		return nil, models.Validation("chatRules", fmt.Sprintf("at most %d rules are allowed", maxChatRules))
	}
	return rules, nil
}
