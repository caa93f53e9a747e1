package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"streamline/internal/models"
)

// Snapshot is the complete JSON-serialisable dataset held by the JSON store.
// It doubles as the import format for seeding Postgres.
type Snapshot struct {
	Users          map[string]models.User                 `json:"users"`
	Channels       map[string]models.Channel              `json:"channels"`
	Streams        map[string]models.Stream               `json:"streams"`
	StreamMetadata map[string][]models.StreamMetadata     `json:"streamMetadata"`
	ChatMessages   map[string][]models.ChatMessage        `json:"chatMessages"`
	ModerationLog  map[string][]models.ModerationLogEntry `json:"moderationLog"`
	Followers      map[string]models.Follower             `json:"followers"`
	Subscriptions  map[string]models.Subscription         `json:"subscriptions"`
	Categories     map[string]models.Category             `json:"categories"`
}

// SnapshotCounts summarises the size of each collection in a Snapshot.
type SnapshotCounts struct {
	Users          int
	Channels       int
	Streams        int
	StreamMetadata int
	ChatMessages   int
	ModerationLog  int
	Followers      int
	Subscriptions  int
	Categories     int
}

func newSnapshot() Snapshot {
	var s Snapshot
	s.ensureInitialized()
	return s
}

// LoadSnapshotFromJSON reads a dataset previously written by the JSON store.
func LoadSnapshotFromJSON(path string) (*Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot %s: %w", path, err)
	}
	defer file.Close()

	var snapshot Snapshot
	if err := json.NewDecoder(file).Decode(&snapshot); err != nil {
		if err == io.EOF {
			snapshot.ensureInitialized()
			return &snapshot, nil
		}
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	snapshot.ensureInitialized()
	return &snapshot, nil
}

func (s *Snapshot) ensureInitialized() {
	if s.Users == nil {
		s.Users = make(map[string]models.User)
	}
	if s.Channels == nil {
		s.Channels = make(map[string]models.Channel)
	}
	if s.Streams == nil {
		s.Streams = make(map[string]models.Stream)
	}
	if s.StreamMetadata == nil {
		s.StreamMetadata = make(map[string][]models.StreamMetadata)
	}
	if s.ChatMessages == nil {
		s.ChatMessages = make(map[string][]models.ChatMessage)
	}
	if s.ModerationLog == nil {
		s.ModerationLog = make(map[string][]models.ModerationLogEntry)
	}
	if s.Followers == nil {
		s.Followers = make(map[string]models.Follower)
	}
	if s.Subscriptions == nil {
		s.Subscriptions = make(map[string]models.Subscription)
	}
	if s.Categories == nil {
		s.Categories = make(map[string]models.Category)
	}
}

// Counts reports how many records of each kind the snapshot holds.
func (s *Snapshot) Counts() SnapshotCounts {
	if s == nil {
		return SnapshotCounts{}
	}
	counts := SnapshotCounts{
		Users:         len(s.Users),
		Channels:      len(s.Channels),
		Streams:       len(s.Streams),
		Followers:     len(s.Followers),
		Subscriptions: len(s.Subscriptions),
		Categories:    len(s.Categories),
	}
	for _, entries := range s.StreamMetadata {
		counts.StreamMetadata += len(entries)
	}
	for _, messages := range s.ChatMessages {
		counts.ChatMessages += len(messages)
	}
	for _, entries := range s.ModerationLog {
		counts.ModerationLog += len(entries)
	}
	return counts
}

func cloneSnapshot(src Snapshot) Snapshot {
	clone := newSnapshot()
	for id, user := range src.Users {
		user.Roles = cloneStrings(user.Roles)
		clone.Users[id] = user
	}
	for id, channel := range src.Channels {
		clone.Channels[id] = cloneChannel(channel)
	}
	for id, stream := range src.Streams {
		clone.Streams[id] = cloneStream(stream)
	}
	for id, entries := range src.StreamMetadata {
		clone.StreamMetadata[id] = append([]models.StreamMetadata(nil), entries...)
	}
	for id, messages := range src.ChatMessages {
		clone.ChatMessages[id] = append([]models.ChatMessage(nil), messages...)
	}
	for id, entries := range src.ModerationLog {
		clone.ModerationLog[id] = append([]models.ModerationLogEntry(nil), entries...)
	}
	for id, follower := range src.Followers {
		clone.Followers[id] = follower
	}
	for id, subscription := range src.Subscriptions {
		if subscription.ExpiresAt != nil {
			expires := *subscription.ExpiresAt
			subscription.ExpiresAt = &expires
		}
		clone.Subscriptions[id] = subscription
	}
	for id, category := range src.Categories {
		category.ParentID = cloneStringPtr(category.ParentID)
		clone.Categories[id] = category
	}
	return clone
}

func cloneChannel(channel models.Channel) models.Channel {
	channel.CategoryID = cloneStringPtr(channel.CategoryID)
	channel.ActiveStreamID = cloneStringPtr(channel.ActiveStreamID)
	channel.ChatRules = cloneStrings(channel.ChatRules)
	channel.ModeratorIDs = cloneStrings(channel.ModeratorIDs)
	return channel
}

func cloneStream(stream models.Stream) models.Stream {
	stream.CategoryID = cloneStringPtr(stream.CategoryID)
	if stream.EndedAt != nil {
		ended := *stream.EndedAt
		stream.EndedAt = &ended
	}
	stream.Metadata = nil
	return stream
}

func cloneStrings(values []string) []string {
	if values == nil {
		return nil
	}
	return append([]string(nil), values...)
}

func cloneStringPtr(value *string) *string {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

// ImportSnapshotToPostgres bulk-loads a JSON dataset into Postgres inside a
// single transaction.
func ImportSnapshotToPostgres(ctx context.Context, store *PostgresStore, snapshot *Snapshot) error {
	if snapshot == nil {
		return fmt.Errorf("snapshot is required")
	}
	if store == nil {
		return fmt.Errorf("postgres store required for snapshot import")
	}
	snapshot.ensureInitialized()
	return store.importSnapshot(ctx, snapshot)
}
