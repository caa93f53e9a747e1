package models

import (
	"strings"
	"time"
)

// ChannelStatus captures whether a channel is currently broadcasting.
type ChannelStatus string

const (
	ChannelOffline ChannelStatus = "offline"
	ChannelLive    ChannelStatus = "live"
)

const (
	RoleAdmin = "admin"

	ModerationActionTimeout = "timeout"
)

type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Roles     []string  `json:"roles,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// HasRole reports whether the user has the provided role, ignoring case.
func (u User) HasRole(role string) bool {
	for _, existing := range u.Roles {
		if strings.EqualFold(existing, role) {
			return true
		}
	}
	return false
}

// Channel is a streamer's persistent broadcast container. Status is live
// exactly when ActiveStreamID is set.
type Channel struct {
	ID             string        `json:"id"`
	OwnerID        string        `json:"ownerId"`
	StreamKey      string        `json:"streamKey"`
	Title          string        `json:"title"`
	CategoryID     *string       `json:"categoryId,omitempty"`
	ChatRules      []string      `json:"chatRules,omitempty"`
	ModeratorIDs   []string      `json:"moderatorIds,omitempty"`
	Status         ChannelStatus `json:"status"`
	ActiveStreamID *string       `json:"activeStreamId,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// IsLive reports whether the channel holds an active stream.
func (c Channel) IsLive() bool {
	return c.Status == ChannelLive && c.ActiveStreamID != nil
}

// HasModerator reports whether userID is in the channel's moderator set.
func (c Channel) HasModerator(userID string) bool {
	for _, id := range c.ModeratorIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// ChannelUpdate carries the caller-editable channel fields. Nil fields are
// left untouched.
type ChannelUpdate struct {
	Title      *string
	CategoryID *string
	ChatRules  *[]string
	// ClearCategory detaches the channel from its category.
	ClearCategory bool
}

// Stream is one broadcast session. It is active while EndedAt is nil.
type Stream struct {
	ID               string           `json:"id"`
	ChannelID        string           `json:"channelId"`
	Title            string           `json:"title,omitempty"`
	CategoryID       *string          `json:"categoryId,omitempty"`
	StartedAt        time.Time        `json:"startedAt"`
	EndedAt          *time.Time       `json:"endedAt,omitempty"`
	PeakViewers      int              `json:"peakViewers"`
	ChatMessageCount int              `json:"chatMessageCount"`
	Metadata         []StreamMetadata `json:"metadata,omitempty"`
}

// Active reports whether the stream has not ended yet.
func (s Stream) Active() bool {
	return s.EndedAt == nil
}

// MetadataFields is the ingest telemetry bundle. Every field is optional and
// values are stored as reported.
type MetadataFields struct {
	IngestServer      string  `json:"ingestServer,omitempty"`
	IngestViewers     int     `json:"ingestViewers,omitempty"`
	StreamTimeSeconds int     `json:"streamTimeSeconds,omitempty"`
	SourceBitrate     int     `json:"sourceBitrate,omitempty"`
	SourcePing        int     `json:"sourcePing,omitempty"`
	RecvPackets       int64   `json:"recvPackets,omitempty"`
	LostPackets       int64   `json:"lostPackets,omitempty"`
	NackPackets       int64   `json:"nackPackets,omitempty"`
	VideoCodec        string  `json:"videoCodec,omitempty"`
	AudioCodec        string  `json:"audioCodec,omitempty"`
	SourceWidth       int     `json:"sourceWidth,omitempty"`
	SourceHeight      int     `json:"sourceHeight,omitempty"`
	SourceFPS         float64 `json:"sourceFps,omitempty"`
	VendorName        string  `json:"vendorName,omitempty"`
	VendorVersion     string  `json:"vendorVersion,omitempty"`
}

// StreamMetadata is an append-only telemetry snapshot for a stream.
type StreamMetadata struct {
	ID       string `json:"id"`
	StreamID string `json:"streamId"`
	MetadataFields
	InsertedAt time.Time `json:"insertedAt"`
}

type ChatMessage struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channelId"`
	UserID    string    `json:"userId"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

type ModerationLogEntry struct {
	ID          string    `json:"id"`
	ChannelID   string    `json:"channelId"`
	ModeratorID string    `json:"moderatorId"`
	TargetID    string    `json:"targetId"`
	Action      string    `json:"action"`
	InsertedAt  time.Time `json:"insertedAt"`
}

// Follower links a user to a streamer they follow. The (StreamerID, UserID)
// pair is unique.
type Follower struct {
	ID               string    `json:"id"`
	StreamerID       string    `json:"streamerId"`
	UserID           string    `json:"userId"`
	HasNotifications bool      `json:"hasNotifications"`
	InsertedAt       time.Time `json:"insertedAt"`
}

type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionExpired  SubscriptionStatus = "expired"
)

// Subscription is a paid subscription record. Billing happens elsewhere.
type Subscription struct {
	ID         string             `json:"id"`
	StreamerID string             `json:"streamerId"`
	UserID     string             `json:"userId"`
	Tier       string             `json:"tier"`
	PriceCents int64              `json:"priceCents"`
	Currency   string             `json:"currency"`
	Status     SubscriptionStatus `json:"status"`
	StartedAt  time.Time          `json:"startedAt"`
	ExpiresAt  *time.Time         `json:"expiresAt,omitempty"`
}

// Category is a node in the category hierarchy. Slug is always derived from
// Name on write.
type Category struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Slug       string    `json:"slug"`
	ParentID   *string   `json:"parentId,omitempty"`
	InsertedAt time.Time `json:"insertedAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
