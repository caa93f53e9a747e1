package pubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicDerivation(t *testing.T) {
	tests := []struct {
		name      string
		kind      Kind
		channelID string
		want      string
	}{
		{name: "global", kind: KindChatMessage, want: "streamline:chat_message"},
		{name: "blank channel is global", kind: KindModeration, channelID: "  ", want: "streamline:moderation"},
		{name: "scoped", kind: KindChannelUpdated, channelID: "chan-1", want: "streamline:channel_updated:chan-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SubscribeTopic(tt.kind, tt.channelID))
		})
	}
}

func TestPublishTopicsCoverGlobalAndChannel(t *testing.T) {
	topics := PublishTopics(KindChatMessage, "abc")
	assert.Equal(t, []string{"streamline:chat_message", "streamline:chat_message:abc"}, topics)
	assert.Equal(t, SubscribeTopic(KindChatMessage, ""), topics[0])
	assert.Equal(t, SubscribeTopic(KindChatMessage, "abc"), topics[1])
}

func TestParseKind(t *testing.T) {
	kind, err := ParseKind(" Chat_Message ")
	require.NoError(t, err)
	assert.Equal(t, KindChatMessage, kind)

	_, err = ParseKind("donations")
	assert.Error(t, err)
}
