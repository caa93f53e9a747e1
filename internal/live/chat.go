package live

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"streamline/internal/models"
	"streamline/internal/pubsub"
	"streamline/internal/storage"
)

// MaxChatMessageLength bounds a chat message in characters.
const MaxChatMessageLength = 500

type ChatMessageInput struct {
	Message string `json:"message"`
}

// CreateChatMessage appends a message to the channel log and publishes it on
// the chat topics. While the channel is live the active stream's message
// counter is bumped in the same commit.
func (s *Service) CreateChatMessage(ctx context.Context, channelID, userID string, in ChatMessageInput) (models.ChatMessage, error) {
	text := strings.TrimSpace(in.Message)
	if text == "" {
		return models.ChatMessage{}, models.WithOp("create chat message", models.Validation("message", "must not be blank"))
	}
	if utf8.RuneCountInString(text) > MaxChatMessageLength {
		return models.ChatMessage{}, models.WithOp("create chat message",
			models.Validation("message", fmt.Sprintf("must be at most %d characters", MaxChatMessageLength)))
	}

	var message models.ChatMessage
	err := s.withChannel(ctx, channelID, func(tx storage.Tx) error {
		channel, err := tx.LockChannel(ctx, channelID)
		if err != nil {
			return err
		}
		if _, err := tx.GetUser(ctx, userID); err != nil {
			return err
		}
		message = models.ChatMessage{
			ID:        storage.NewID(),
			ChannelID: channelID,
			UserID:    userID,
			Message:   text,
			CreatedAt: s.now(),
		}
		if err := tx.InsertChatMessage(ctx, message); err != nil {
			return err
		}
		if channel.ActiveStreamID == nil {
			return nil
		}
		stream, err := tx.GetStream(ctx, *channel.ActiveStreamID)
		if err != nil {
			return err
		}
		stream.ChatMessageCount++
		return tx.UpdateStream(ctx, stream)
	}, func() {
		s.metrics.ObserveChatEvent("message")
		s.publish(ctx, pubsub.KindChatMessage, channelID, message)
	})
	if err != nil {
		return models.ChatMessage{}, models.WithOp("create chat message", err)
	}
	return message, nil
}

// ListChatMessages returns the visible chat log of a channel in insertion
// order. Messages removed by moderation are not part of it.
func (s *Service) ListChatMessages(ctx context.Context, channelID string) ([]models.ChatMessage, error) {
	if _, err := s.store.GetChannel(ctx, channelID); err != nil {
		return nil, err
	}
	return s.store.ListChatMessages(ctx, channelID)
}
