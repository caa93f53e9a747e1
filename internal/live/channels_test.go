package live

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamline/internal/models"
	"streamline/internal/pubsub"
)

func TestCreateChannel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	channel, err := f.service.CreateChannel(ctx, f.viewer.ID, "  Viewer Plays  ")
	require.NoError(t, err)
	assert.Equal(t, "Viewer Plays", channel.Title)
	assert.Equal(t, models.ChannelOffline, channel.Status)
	assert.True(t, strings.HasPrefix(channel.StreamKey, "live_"))

	_, err = f.service.CreateChannel(ctx, "ghost", "Nobody")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = f.service.CreateChannel(ctx, f.viewer.ID, " ")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestUpdateChannelPublishesChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := subscribe(t, f.bus, pubsub.ChannelTopic(pubsub.KindChannelUpdated, f.channel.ID))

	title := "Speedrun night"
	rules := []string{" be kind ", "", "no spoilers"}
	channel, err := f.service.UpdateChannel(ctx, f.channel.ID, models.ChannelUpdate{Title: &title, ChatRules: &rules})
	require.NoError(t, err)
	assert.Equal(t, title, channel.Title)
	assert.Equal(t, []string{"be kind", "no spoilers"}, channel.ChatRules)

	var event ChannelEvent
	require.NoError(t, next(t, sub).Decode(&event))
	assert.Equal(t, title, event.Channel.Title)
	assert.Empty(t, event.Channel.StreamKey)
}

func TestUpdateChannelValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	blank := ""
	_, err := f.service.UpdateChannel(ctx, f.channel.ID, models.ChannelUpdate{Title: &blank})
	assert.ErrorIs(t, err, models.ErrValidation)

	unknown := "nope"
	_, err = f.service.UpdateChannel(ctx, f.channel.ID, models.ChannelUpdate{CategoryID: &unknown})
	assert.ErrorIs(t, err, models.ErrValidation)

	tooMany := make([]string, maxChatRules+1)
	for i := range tooMany {
		tooMany[i] = "rule"
	}
	_, err = f.service.UpdateChannel(ctx, f.channel.ID, models.ChannelUpdate{ChatRules: &tooMany})
	assert.ErrorIs(t, err, models.ErrValidation)

	stored, err := f.store.GetChannel(ctx, f.channel.ID)
	require.NoError(t, err)
	assert.Equal(t, "Main", stored.Title)
}

func TestRotateStreamKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rotated, err := f.service.RotateStreamKey(ctx, f.channel.ID)
	require.NoError(t, err)
	assert.NotEqual(t, f.channel.StreamKey, rotated.StreamKey)

	_, err = f.store.GetChannelByStreamKey(ctx, f.channel.StreamKey)
	assert.ErrorIs(t, err, models.ErrNotFound)
	found, err := f.store.GetChannelByStreamKey(ctx, rotated.StreamKey)
	require.NoError(t, err)
	assert.Equal(t, f.channel.ID, found.ID)
}
