package pubsub

import (
	"fmt"
	"strings"
)

// Kind names the entity whose changes a topic carries.
type Kind string

const (
	KindChannelUpdated Kind = "channel_updated"
	KindChatMessage    Kind = "chat_message"
	KindModeration     Kind = "moderation"
)

const topicPrefix = "streamline"

// ParseKind validates a kind received from a client.
func ParseKind(raw string) (Kind, error) {
	switch kind := Kind(strings.ToLower(strings.TrimSpace(raw))); kind {
	case KindChannelUpdated, KindChatMessage, KindModeration:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown subscription kind %q", raw)
	}
}

// Topic returns the global topic for kind, carrying changes on every channel.
func Topic(kind Kind) string {
	return topicPrefix + ":" + string(kind)
}

// ChannelTopic returns the topic scoped to a single channel.
func ChannelTopic(kind Kind, channelID string) string {
	return Topic(kind) + ":" + channelID
}

// SubscribeTopic returns the topic a subscriber listens on. An empty
// channelID selects the global topic.
func SubscribeTopic(kind Kind, channelID string) string {
	if strings.TrimSpace(channelID) == "" {
		return Topic(kind)
	}
	return ChannelTopic(kind, channelID)
}

// PublishTopics lists every topic a change on channelID is delivered to, the
// global one first.
func PublishTopics(kind Kind, channelID string) []string {
	if strings.TrimSpace(channelID) == "" {
		return []string{Topic(kind)}
	}
	return []string{Topic(kind), ChannelTopic(kind, channelID)}
}
