package live

import (
	"context"

	"streamline/internal/models"
	"streamline/internal/pubsub"
	"streamline/internal/storage"
)

// CanModerate reports whether userID holds moderation rights over channel:
// the owner always does, anyone else only through the moderator set.
func (s *Service) CanModerate(channel models.Channel, userID string) bool {
	if userID == "" {
		return false
	}
	return channel.OwnerID == userID || channel.HasModerator(userID)
}

// canManageModerators allows the owner and platform admins to change the
// moderator set.
func canManageModerators(channel models.Channel, actor models.User) bool {
	return channel.OwnerID == actor.ID || actor.HasRole(models.RoleAdmin)
}

// AddModerator grants userID moderation rights. Granting them twice, or to
// the owner, leaves the channel unchanged.
func (s *Service) AddModerator(ctx context.Context, channelID, actorID, userID string) (models.Channel, error) {
	var (
		channel models.Channel
		changed bool
	)
	err := s.withChannel(ctx, channelID, func(tx storage.Tx) error {
		locked, err := tx.LockChannel(ctx, channelID)
		if err != nil {
			return err
		}
		actor, err := tx.GetUser(ctx, actorID)
		if err != nil {
			return err
		}
		if !canManageModerators(locked, actor) {
			return models.Forbidden("user %s cannot manage moderators of channel %s", actorID, channelID)
		}
		if _, err := tx.GetUser(ctx, userID); err != nil {
			return err
		}
		channel = locked
		if locked.OwnerID == userID || locked.HasModerator(userID) {
			return nil
		}
		locked.ModeratorIDs = append(locked.ModeratorIDs, userID)
		locked.UpdatedAt = s.now()
		if err := tx.UpdateChannel(ctx, locked); err != nil {
			return err
		}
		channel = locked
		changed = true
		return nil
	}, func() {
		if !changed {
			return
		}
		s.log(ctx).Info("moderator added", "channel_id", channelID, "moderator_id", userID, "actor_id", actorID)
		s.publishChannel(ctx, channel, "moderator_added")
	})
	if err != nil {
		return models.Channel{}, models.WithOp("add moderator", err)
	}
	return channel, nil
}

// RemoveModerator revokes userID's moderation rights. Revoking rights the user
// does not hold is a no-op.
func (s *Service) RemoveModerator(ctx context.Context, channelID, actorID, userID string) (models.Channel, error) {
	var (
		channel models.Channel
		changed bool
	)
	err := s.withChannel(ctx, channelID, func(tx storage.Tx) error {
		locked, err := tx.LockChannel(ctx, channelID)
		if err != nil {
			return err
		}
		actor, err := tx.GetUser(ctx, actorID)
		if err != nil {
			return err
		}
		if !canManageModerators(locked, actor) {
			return models.Forbidden("user %s cannot manage moderators of channel %s", actorID, channelID)
		}
		channel = locked
		kept := make([]string, 0, len(locked.ModeratorIDs))
		for _, id := range locked.ModeratorIDs {
			if id != userID {
				kept = append(kept, id)
			}
		}
		if len(kept) == len(locked.ModeratorIDs) {
			return nil
		}
		locked.ModeratorIDs = kept
		locked.UpdatedAt = s.now()
		if err := tx.UpdateChannel(ctx, locked); err != nil {
			return err
		}
		channel = locked
		changed = true
		return nil
	}, func() {
		if !changed {
			return
		}
		s.log(ctx).Info("moderator removed", "channel_id", channelID, "moderator_id", userID, "actor_id", actorID)
		s.publishChannel(ctx, channel, "moderator_removed")
	})
	if err != nil {
		return models.Channel{}, models.WithOp("remove moderator", err)
	}
	return channel, nil
}

// TimeoutUser purges every chat message targetID wrote in the channel and
// records the action. The permission check runs against the locked channel
// row; a rejected call changes nothing.
func (s *Service) TimeoutUser(ctx context.Context, channelID, moderatorID, targetID string) (models.ModerationLogEntry, error) {
	var (
		entry   models.ModerationLogEntry
		removed int
	)
	err := s.withChannel(ctx, channelID, func(tx storage.Tx) error {
		channel, err := tx.LockChannel(ctx, channelID)
		if err != nil {
			return err
		}
		if !s.CanModerate(channel, moderatorID) {
			return models.Forbidden("user %s cannot moderate channel %s", moderatorID, channelID)
		}
		if targetID == moderatorID {
			return models.Validation("target", "cannot time out yourself")
		}
		if targetID == channel.OwnerID {
			return models.Forbidden("the owner of channel %s cannot be timed out", channelID)
		}
		if _, err := tx.GetUser(ctx, targetID); err != nil {
			return err
		}
		removed, err = tx.DeleteChatMessagesByUser(ctx, channelID, targetID)
		if err != nil {
			return err
		}
		entry = models.ModerationLogEntry{
			ID:          storage.NewID(),
			ChannelID:   channelID,
			ModeratorID: moderatorID,
			TargetID:    targetID,
			Action:      models.ModerationActionTimeout,
			InsertedAt:  s.now(),
		}
		return tx.InsertModerationLog(ctx, entry)
	}, func() {
		s.metrics.ObserveModeration(models.ModerationActionTimeout, "applied")
		s.log(ctx).Info("user timed out", "channel_id", channelID, "moderator_id", moderatorID,
			"target_id", targetID, "removed_messages", removed)
		s.publish(ctx, pubsub.KindModeration, channelID, ModerationEvent{
			ChannelID:       channelID,
			TargetID:        targetID,
			Action:          entry.Action,
			RemovedMessages: removed,
		})
	})
	if err != nil {
		if models.KindOf(err) == models.KindForbidden {
			s.metrics.ObserveModeration(models.ModerationActionTimeout, "denied")
		}
		return models.ModerationLogEntry{}, models.WithOp("timeout user", err)
	}
	return entry, nil
}

// ListModerationLog returns the moderation history of a channel, oldest
// first.
func (s *Service) ListModerationLog(ctx context.Context, channelID string) ([]models.ModerationLogEntry, error) {
	if _, err := s.store.GetChannel(ctx, channelID); err != nil {
		return nil, err
	}
	return s.store.ListModerationLog(ctx, channelID)
}
