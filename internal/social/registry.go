package social

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"streamline/internal/models"
	"streamline/internal/observability/logging"
	"streamline/internal/storage"
)

// Filter narrows follower and subscription listings by user name. Empty
// fields match everything.
type Filter struct {
	StreamerName string
	UserName     string
}

// SubscriptionInput describes a paid subscription recorded by admin tooling.
type SubscriptionInput struct {
	StreamerID string
	UserID     string
	Tier       string
	PriceCents int64
	Currency   string
	Duration   time.Duration
}

// Registry keeps follower relationships and exposes paid-subscription
// records.
type Registry struct {
	store  storage.Store
	logger *slog.Logger
	now    func() time.Time
}

func NewRegistry(store storage.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:  store,
		logger: logging.WithComponent(logger, "social"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Follow records that userID follows streamerID with notifications enabled.
// Following the same streamer twice is a validation error.
func (r *Registry) Follow(ctx context.Context, streamerID, userID string) (models.Follower, error) {
	if streamerID == userID {
		return models.Follower{}, models.WithOp("follow", models.Validation("streamer", "cannot follow yourself"))
	}
	follower := models.Follower{
		ID:               storage.NewID(),
		StreamerID:       streamerID,
		UserID:           userID,
		HasNotifications: true,
		InsertedAt:       r.now(),
	}
	err := r.store.Atomic(ctx, func(tx storage.Tx) error {
		if _, err := tx.GetUser(ctx, streamerID); err != nil {
			return err
		}
		if _, err := tx.GetUser(ctx, userID); err != nil {
			return err
		}
		err := tx.InsertFollower(ctx, follower)
		if errors.Is(err, storage.ErrDuplicate) {
			return models.Validation("user", "already follows this streamer")
		}
		return err
	})
	if err != nil {
		return models.Follower{}, models.WithOp("follow", err)
	}
	r.logger.Info("user followed streamer", "streamer_id", streamerID, "user_id", userID)
	return follower, nil
}

// Unfollow removes the pair. Removing a pair that does not exist succeeds.
func (r *Registry) Unfollow(ctx context.Context, streamerID, userID string) error {
	var removed bool
	err := r.store.Atomic(ctx, func(tx storage.Tx) error {
		var err error
		removed, err = tx.DeleteFollower(ctx, streamerID, userID)
		return err
	})
	if err != nil {
		return models.WithOp("unfollow", err)
	}
	if removed {
		r.logger.Info("user unfollowed streamer", "streamer_id", streamerID, "user_id", userID)
	}
	return nil
}

func (r *Registry) IsFollowing(ctx context.Context, streamerID, userID string) (bool, error) {
	return r.store.IsFollowing(ctx, streamerID, userID)
}

// ListFollowedChannels returns the channel of every streamer userID follows.
// Streamers without a channel are skipped.
func (r *Registry) ListFollowedChannels(ctx context.Context, userID string) ([]models.Channel, error) {
	follows, err := r.store.ListFollowers(ctx, storage.FollowerFilter{UserID: userID})
	if err != nil {
		return nil, err
	}
	channels := make([]models.Channel, 0, len(follows))
	for _, follow := range follows {
		owned, err := r.store.ListChannels(ctx, storage.ChannelFilter{OwnerID: follow.StreamerID})
		if err != nil {
			return nil, err
		}
		channels = append(channels, owned...)
	}
	return channels, nil
}

func (r *Registry) ListFollowers(ctx context.Context, filter Filter) ([]models.Follower, error) {
	streamerID, userID, ok, err := r.resolve(ctx, filter)
	if err != nil || !ok {
		return []models.Follower{}, err
	}
	return r.store.ListFollowers(ctx, storage.FollowerFilter{StreamerID: streamerID, UserID: userID})
}

func (r *Registry) ListSubscriptions(ctx context.Context, filter Filter) ([]models.Subscription, error) {
	streamerID, userID, ok, err := r.resolve(ctx, filter)
	if err != nil || !ok {
		return []models.Subscription{}, err
	}
	return r.store.ListSubscriptions(ctx, storage.SubscriptionFilter{StreamerID: streamerID, UserID: userID})
}

// RecordSubscription stores an active paid subscription. Payment has already
// been settled by the time this is called.
func (r *Registry) RecordSubscription(ctx context.Context, in SubscriptionInput) (models.Subscription, error) {
	tier := strings.TrimSpace(in.Tier)
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	switch {
	case in.StreamerID == in.UserID:
		return models.Subscription{}, models.WithOp("record subscription", models.Validation("user", "cannot subscribe to yourself"))
	case tier == "":
		return models.Subscription{}, models.WithOp("record subscription", models.Validation("tier", "is required"))
	case in.PriceCents < 0:
		return models.Subscription{}, models.WithOp("record subscription", models.Validation("price", "must not be negative"))
	case len(currency) != 3:
		return models.Subscription{}, models.WithOp("record subscription", models.Validation("currency", "must be a three letter code"))
	}
	now := r.now()
	subscription := models.Subscription{
		ID:         storage.NewID(),
		StreamerID: in.StreamerID,
		UserID:     in.UserID,
		Tier:       tier,
		PriceCents: in.PriceCents,
		Currency:   currency,
		Status:     models.SubscriptionActive,
		StartedAt:  now,
	}
	if in.Duration > 0 {
		expires := now.Add(in.Duration)
		subscription.ExpiresAt = &expires
	}
	err := r.store.Atomic(ctx, func(tx storage.Tx) error {
		if _, err := tx.GetUser(ctx, in.StreamerID); err != nil {
			return err
		}
		if _, err := tx.GetUser(ctx, in.UserID); err != nil {
			return err
		}
		return tx.InsertSubscription(ctx, subscription)
	})
	if err != nil {
		return models.Subscription{}, models.WithOp("record subscription", err)
	}
	return subscription, nil
}

// resolve maps filter names to user IDs. ok is false when a name does not
// match any user, in which case the listing is empty.
func (r *Registry) resolve(ctx context.Context, filter Filter) (streamerID, userID string, ok bool, err error) {
	lookup := func(name string) (string, bool, error) {
		name = strings.TrimSpace(name)
		if name == "" {
			return "", true, nil
		}
		user, err := r.store.GetUserByName(ctx, name)
		if errors.Is(err, models.ErrNotFound) {
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}
		return user.ID, true, nil
	}
	if streamerID, ok, err = lookup(filter.StreamerName); err != nil || !ok {
		return "", "", ok, err
	}
	if userID, ok, err = lookup(filter.UserName); err != nil || !ok {
		return "", "", ok, err
	}
	return streamerID, userID, true, nil
}
