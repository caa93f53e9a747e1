package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"streamline/internal/models"
)

// ErrDuplicate is returned when an insert collides with a unique constraint,
// such as a second follow of the same streamer by the same user.
var ErrDuplicate = errors.New("duplicate record")

// Store is the persistence boundary used by the live, social, and catalog
// services. Reads run outside of a transaction; every mutation runs through
// Atomic.
type Store interface {
	// Atomic runs fn inside a single transaction. If fn returns an error no
	// effect of fn is visible to any later read.
	Atomic(ctx context.Context, fn func(tx Tx) error) error

	GetUser(ctx context.Context, id string) (models.User, error)
	GetUserByName(ctx context.Context, name string) (models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)

	GetChannel(ctx context.Context, id string) (models.Channel, error)
	GetChannelByOwnerName(ctx context.Context, ownerName string) (models.Channel, error)
	GetChannelByStreamKey(ctx context.Context, streamKey string) (models.Channel, error)
	ListChannels(ctx context.Context, filter ChannelFilter) ([]models.Channel, error)

	GetStream(ctx context.Context, id string) (models.Stream, error)
	ListStreams(ctx context.Context, channelID string) ([]models.Stream, error)

	ListChatMessages(ctx context.Context, channelID string) ([]models.ChatMessage, error)
	ListModerationLog(ctx context.Context, channelID string) ([]models.ModerationLogEntry, error)

	ListFollowers(ctx context.Context, filter FollowerFilter) ([]models.Follower, error)
	IsFollowing(ctx context.Context, streamerID, userID string) (bool, error)
	ListSubscriptions(ctx context.Context, filter SubscriptionFilter) ([]models.Subscription, error)

	GetCategory(ctx context.Context, id string) (models.Category, error)
	ListCategories(ctx context.Context) ([]models.Category, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Tx is the set of effects available inside Store.Atomic. LockChannel is the
// per-channel serialization point: once it returns, no other transaction can
// lock or modify the same channel until this one finishes.
type Tx interface {
	GetUser(ctx context.Context, id string) (models.User, error)
	InsertUser(ctx context.Context, user models.User) error

	LockChannel(ctx context.Context, id string) (models.Channel, error)
	InsertChannel(ctx context.Context, channel models.Channel) error
	UpdateChannel(ctx context.Context, channel models.Channel) error

	GetStream(ctx context.Context, id string) (models.Stream, error)
	InsertStream(ctx context.Context, stream models.Stream) error
	UpdateStream(ctx context.Context, stream models.Stream) error
	AppendStreamMetadata(ctx context.Context, metadata models.StreamMetadata) error

	InsertChatMessage(ctx context.Context, message models.ChatMessage) error
	DeleteChatMessagesByUser(ctx context.Context, channelID, userID string) (int, error)
	InsertModerationLog(ctx context.Context, entry models.ModerationLogEntry) error

	InsertFollower(ctx context.Context, follower models.Follower) error
	DeleteFollower(ctx context.Context, streamerID, userID string) (bool, error)
	InsertSubscription(ctx context.Context, subscription models.Subscription) error

	GetCategory(ctx context.Context, id string) (models.Category, error)
	ListCategories(ctx context.Context) ([]models.Category, error)
	InsertCategory(ctx context.Context, category models.Category) error
	UpdateCategory(ctx context.Context, category models.Category) error
	DeleteCategory(ctx context.Context, id string) error
	DetachChildCategories(ctx context.Context, parentID string) error
}

// ChannelFilter narrows ListChannels. Empty fields match everything.
type ChannelFilter struct {
	OwnerID  string
	LiveOnly bool
}

// FollowerFilter narrows ListFollowers by streamer, follower, or both.
type FollowerFilter struct {
	StreamerID string
	UserID     string
}

// SubscriptionFilter narrows ListSubscriptions by streamer, subscriber, or both.
type SubscriptionFilter struct {
	StreamerID string
	UserID     string
}

// NewID returns a random identifier for a new record.
func NewID() string {
	return uuid.NewString()
}

// NewStreamKey returns a random private ingest key.
func NewStreamKey() string {
	return fmt.Sprintf("live_%s", uuid.New().String())
}
