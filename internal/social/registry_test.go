package social

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamline/internal/models"
	"streamline/internal/observability/logging"
	"streamline/internal/storage"
	"streamline/internal/testsupport"
)

type fixture struct {
	store    *storage.JSONStore
	registry *Registry
	streamer models.User
	viewer   models.User
	channel  models.Channel
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := testsupport.NewStore(t)
	streamer := testsupport.SeedUser(t, store, "streamer")
	return fixture{
		store:    store,
		registry: NewRegistry(store, logging.Discard()),
		streamer: streamer,
		viewer:   testsupport.SeedUser(t, store, "viewer"),
		channel:  testsupport.SeedChannel(t, store, streamer, "Main"),
	}
}

func TestFollowTwiceIsValidationError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	follower, err := f.registry.Follow(ctx, f.streamer.ID, f.viewer.ID)
	require.NoError(t, err)
	assert.True(t, follower.HasNotifications)

	_, err = f.registry.Follow(ctx, f.streamer.ID, f.viewer.ID)
	require.ErrorIs(t, err, models.ErrValidation)

	channels, err := f.registry.ListFollowedChannels(ctx, f.viewer.ID)
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, f.channel.ID, channels[0].ID)
}

func TestUnfollowRemovesPairAndIsNoopSafe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.registry.Follow(ctx, f.streamer.ID, f.viewer.ID)
	require.NoError(t, err)
	require.NoError(t, f.registry.Unfollow(ctx, f.streamer.ID, f.viewer.ID))

	following, err := f.registry.IsFollowing(ctx, f.streamer.ID, f.viewer.ID)
	require.NoError(t, err)
	assert.False(t, following)

	channels, err := f.registry.ListFollowedChannels(ctx, f.viewer.ID)
	require.NoError(t, err)
	assert.Empty(t, channels)

	require.NoError(t, f.registry.Unfollow(ctx, f.streamer.ID, f.viewer.ID))
}

func TestFollowRejectsSelfAndUnknownUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.registry.Follow(ctx, f.viewer.ID, f.viewer.ID)
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = f.registry.Follow(ctx, "missing", f.viewer.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestListFollowersFiltersByName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := testsupport.SeedUser(t, f.store, "other")
	testsupport.SeedChannel(t, f.store, other, "Other")

	_, err := f.registry.Follow(ctx, f.streamer.ID, f.viewer.ID)
	require.NoError(t, err)
	_, err = f.registry.Follow(ctx, other.ID, f.viewer.ID)
	require.NoError(t, err)

	byStreamer, err := f.registry.ListFollowers(ctx, Filter{StreamerName: "streamer"})
	require.NoError(t, err)
	require.Len(t, byStreamer, 1)
	assert.Equal(t, f.viewer.ID, byStreamer[0].UserID)

	byUser, err := f.registry.ListFollowers(ctx, Filter{UserName: "viewer"})
	require.NoError(t, err)
	assert.Len(t, byUser, 2)

	unknown, err := f.registry.ListFollowers(ctx, Filter{StreamerName: "nobody"})
	require.NoError(t, err)
	assert.Empty(t, unknown)

	channels, err := f.registry.ListFollowedChannels(ctx, f.viewer.ID)
	require.NoError(t, err)
	assert.Len(t, channels, 2)
}

func TestRecordAndListSubscriptions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub, err := f.registry.RecordSubscription(ctx, SubscriptionInput{
		StreamerID: f.streamer.ID,
		UserID:     f.viewer.ID,
		Tier:       "tier-1",
		PriceCents: 499,
		Currency:   "usd",
		Duration:   30 * 24 * time.Hour,
	})
	require.NoError(t, err)
	assert.Equal(t, "USD", sub.Currency)
	assert.Equal(t, models.SubscriptionActive, sub.Status)
	require.NotNil(t, sub.ExpiresAt)

	listed, err := f.registry.ListSubscriptions(ctx, Filter{StreamerName: "streamer", UserName: "viewer"})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, sub.ID, listed[0].ID)

	_, err = f.registry.RecordSubscription(ctx, SubscriptionInput{StreamerID: f.streamer.ID, UserID: f.viewer.ID, Currency: "USD"})
	assert.ErrorIs(t, err, models.ErrValidation)
}
