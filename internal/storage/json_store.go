package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"streamline/internal/models"
)

// JSONStore keeps the full dataset in memory and persists it to a single JSON
// file. Transactions are serialised: each one mutates a clone of the dataset,
// writes the clone to disk, and only then swaps it in.
type JSONStore struct {
	mu          sync.RWMutex
	filePath    string
	data        Snapshot
	logger      *slog.Logger
	persistHook func(Snapshot) error
}

// NewJSONStore opens the dataset at path, creating an empty one when the file
// does not exist. An empty path keeps the dataset in memory only.
func NewJSONStore(path string, opts ...Option) (*JSONStore, error) {
	store := &JSONStore{
		filePath: strings.TrimSpace(path),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyJSON(store)
		}
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *JSONStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.filePath == "" {
		s.data = newSnapshot()
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.data = newSnapshot()
		return nil
	} else if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	var data Snapshot
	if err := json.NewDecoder(file).Decode(&data); err != nil {
		if errors.Is(err, io.EOF) {
			s.data = newSnapshot()
			return nil
		}
		return fmt.Errorf("decode store file: %w", err)
	}
	data.ensureInitialized()
	s.data = data
	return nil
}

func (s *JSONStore) persistDataset(data Snapshot) error {
	if s.persistHook != nil {
		if err := s.persistHook(data); err != nil {
			return err
		}
	}
	if s.filePath == "" {
		return nil
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}
	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}

// Atomic implements Store.
func (s *JSONStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	working := cloneSnapshot(s.data)
	if err := fn(&jsonTx{data: &working}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.persistDataset(working); err != nil {
		s.logger.Error("persist dataset failed", "error", err)
		return fmt.Errorf("persist dataset: %w", err)
	}
	s.data = working
	return nil
}

func (s *JSONStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *JSONStore) Close(context.Context) error {
	return nil
}

func (s *JSONStore) GetUser(_ context.Context, id string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.data.Users[id]
	if !ok {
		return models.User{}, models.NotFound("user", id)
	}
	user.Roles = cloneStrings(user.Roles)
	return user, nil
}

func (s *JSONStore) GetUserByName(_ context.Context, name string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := findUserByName(s.data, name)
	if !ok {
		return models.User{}, models.NotFound("user", name)
	}
	return user, nil
}

func findUserByName(data Snapshot, name string) (models.User, bool) {
	trimmed := strings.TrimSpace(name)
	for _, user := range data.Users {
		if strings.EqualFold(user.Name, trimmed) {
			user.Roles = cloneStrings(user.Roles)
			return user, true
		}
	}
	return models.User{}, false
}

func (s *JSONStore) ListUsers(context.Context) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]models.User, 0, len(s.data.Users))
	for _, user := range s.data.Users {
		user.Roles = cloneStrings(user.Roles)
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].ID < users[j].ID
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, nil
}

func (s *JSONStore) GetChannel(_ context.Context, id string) (models.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	channel, ok := s.data.Channels[id]
	if !ok {
		return models.Channel{}, models.NotFound("channel", id)
	}
	return cloneChannel(channel), nil
}

func (s *JSONStore) GetChannelByOwnerName(ctx context.Context, ownerName string) (models.Channel, error) {
	s.mu.RLock()
	owner, ok := findUserByName(s.data, ownerName)
	s.mu.RUnlock()
	if !ok {
		return models.Channel{}, models.NotFound("channel owner", ownerName)
	}
	channels, err := s.ListChannels(ctx, ChannelFilter{OwnerID: owner.ID})
	if err != nil {
		return models.Channel{}, err
	}
	if len(channels) == 0 {
		return models.Channel{}, models.NotFound("channel for owner", ownerName)
	}
	return channels[0], nil
}

func (s *JSONStore) GetChannelByStreamKey(_ context.Context, streamKey string) (models.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if streamKey != "" {
		for _, channel := range s.data.Channels {
			if channel.StreamKey == streamKey {
				return cloneChannel(channel), nil
			}
		}
	}
	return models.Channel{}, models.NotFound("channel", "for stream key")
}

func (s *JSONStore) ListChannels(_ context.Context, filter ChannelFilter) ([]models.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	channels := make([]models.Channel, 0, len(s.data.Channels))
	for _, channel := range s.data.Channels {
		if filter.OwnerID != "" && channel.OwnerID != filter.OwnerID {
			continue
		}
		if filter.LiveOnly && !channel.IsLive() {
			continue
		}
		channels = append(channels, cloneChannel(channel))
	}
	sort.Slice(channels, func(i, j int) bool {
		if channels[i].CreatedAt.Equal(channels[j].CreatedAt) {
			return channels[i].ID < channels[j].ID
		}
		return channels[i].CreatedAt.Before(channels[j].CreatedAt)
	})
	return channels, nil
}

func (s *JSONStore) GetStream(_ context.Context, id string) (models.Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return streamWithMetadata(s.data, id)
}

func streamWithMetadata(data Snapshot, id string) (models.Stream, error) {
	stream, ok := data.Streams[id]
	if !ok {
		return models.Stream{}, models.NotFound("stream", id)
	}
	stream = cloneStream(stream)
	if entries := data.StreamMetadata[id]; len(entries) > 0 {
		stream.Metadata = append([]models.StreamMetadata(nil), entries...)
	}
	return stream, nil
}

func (s *JSONStore) ListStreams(_ context.Context, channelID string) ([]models.Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	streams := make([]models.Stream, 0)
	for id, stream := range s.data.Streams {
		if stream.ChannelID != channelID {
			continue
		}
		withMetadata, err := streamWithMetadata(s.data, id)
		if err != nil {
			return nil, err
		}
		streams = append(streams, withMetadata)
	}
	sort.Slice(streams, func(i, j int) bool {
		return streams[i].StartedAt.Before(streams[j].StartedAt)
	})
	return streams, nil
}

func (s *JSONStore) ListChatMessages(_ context.Context, channelID string) ([]models.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ChatMessage{}, s.data.ChatMessages[channelID]...), nil
}

func (s *JSONStore) ListModerationLog(_ context.Context, channelID string) ([]models.ModerationLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ModerationLogEntry{}, s.data.ModerationLog[channelID]...), nil
}

func (s *JSONStore) ListFollowers(_ context.Context, filter FollowerFilter) ([]models.Follower, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	followers := make([]models.Follower, 0)
	for _, follower := range s.data.Followers {
		if filter.StreamerID != "" && follower.StreamerID != filter.StreamerID {
			continue
		}
		if filter.UserID != "" && follower.UserID != filter.UserID {
			continue
		}
		followers = append(followers, follower)
	}
	sort.Slice(followers, func(i, j int) bool {
		if followers[i].InsertedAt.Equal(followers[j].InsertedAt) {
			return followers[i].ID < followers[j].ID
		}
		return followers[i].InsertedAt.Before(followers[j].InsertedAt)
	})
	return followers, nil
}

func (s *JSONStore) IsFollowing(_ context.Context, streamerID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := findFollower(s.data, streamerID, userID)
	return ok, nil
}

func findFollower(data Snapshot, streamerID, userID string) (models.Follower, bool) {
	for _, follower := range data.Followers {
		if follower.StreamerID == streamerID && follower.UserID == userID {
			return follower, true
		}
	}
	return models.Follower{}, false
}

func (s *JSONStore) ListSubscriptions(_ context.Context, filter SubscriptionFilter) ([]models.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subscriptions := make([]models.Subscription, 0)
	for _, subscription := range s.data.Subscriptions {
		if filter.StreamerID != "" && subscription.StreamerID != filter.StreamerID {
			continue
		}
		if filter.UserID != "" && subscription.UserID != filter.UserID {
			continue
		}
		subscriptions = append(subscriptions, subscription)
	}
	sort.Slice(subscriptions, func(i, j int) bool {
		return subscriptions[i].StartedAt.Before(subscriptions[j].StartedAt)
	})
	return subscriptions, nil
}

func (s *JSONStore) GetCategory(_ context.Context, id string) (models.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	category, ok := s.data.Categories[id]
	if !ok {
		return models.Category{}, models.NotFound("category", id)
	}
	category.ParentID = cloneStringPtr(category.ParentID)
	return category, nil
}

func (s *JSONStore) ListCategories(context.Context) ([]models.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedCategories(s.data), nil
}

func sortedCategories(data Snapshot) []models.Category {
	categories := make([]models.Category, 0, len(data.Categories))
	for _, category := range data.Categories {
		category.ParentID = cloneStringPtr(category.ParentID)
		categories = append(categories, category)
	}
	sort.Slice(categories, func(i, j int) bool {
		if categories[i].Name == categories[j].Name {
			return categories[i].ID < categories[j].ID
		}
		return categories[i].Name < categories[j].Name
	})
	return categories
}

// jsonTx mutates the working copy owned by a single Atomic call.
type jsonTx struct {
	data *Snapshot
}

func (tx *jsonTx) GetUser(_ context.Context, id string) (models.User, error) {
	user, ok := tx.data.Users[id]
	if !ok {
		return models.User{}, models.NotFound("user", id)
	}
	return user, nil
}

func (tx *jsonTx) InsertUser(_ context.Context, user models.User) error {
	if _, exists := tx.data.Users[user.ID]; exists {
		return fmt.Errorf("user %s: %w", user.ID, ErrDuplicate)
	}
	if _, exists := findUserByName(*tx.data, user.Name); exists {
		return fmt.Errorf("user name %s: %w", user.Name, ErrDuplicate)
	}
	user.Roles = cloneStrings(user.Roles)
	tx.data.Users[user.ID] = user
	return nil
}

// LockChannel needs no extra locking here because Atomic already holds the
// store-wide write lock.
func (tx *jsonTx) LockChannel(_ context.Context, id string) (models.Channel, error) {
	channel, ok := tx.data.Channels[id]
	if !ok {
		return models.Channel{}, models.NotFound("channel", id)
	}
	return cloneChannel(channel), nil
}

func (tx *jsonTx) InsertChannel(_ context.Context, channel models.Channel) error {
	if _, exists := tx.data.Channels[channel.ID]; exists {
		return fmt.Errorf("channel %s: %w", channel.ID, ErrDuplicate)
	}
	if _, ok := tx.data.Users[channel.OwnerID]; !ok {
		return models.NotFound("user", channel.OwnerID)
	}
	tx.data.Channels[channel.ID] = cloneChannel(channel)
	return nil
}

func (tx *jsonTx) UpdateChannel(_ context.Context, channel models.Channel) error {
	if _, exists := tx.data.Channels[channel.ID]; !exists {
		return models.NotFound("channel", channel.ID)
	}
	tx.data.Channels[channel.ID] = cloneChannel(channel)
	return nil
}

func (tx *jsonTx) GetStream(_ context.Context, id string) (models.Stream, error) {
	return streamWithMetadata(*tx.data, id)
}

func (tx *jsonTx) InsertStream(_ context.Context, stream models.Stream) error {
	if _, exists := tx.data.Streams[stream.ID]; exists {
		return fmt.Errorf("stream %s: %w", stream.ID, ErrDuplicate)
	}
	tx.data.Streams[stream.ID] = cloneStream(stream)
	return nil
}

func (tx *jsonTx) UpdateStream(_ context.Context, stream models.Stream) error {
	if _, exists := tx.data.Streams[stream.ID]; !exists {
		return models.NotFound("stream", stream.ID)
	}
	tx.data.Streams[stream.ID] = cloneStream(stream)
	return nil
}

func (tx *jsonTx) AppendStreamMetadata(_ context.Context, metadata models.StreamMetadata) error {
	if _, exists := tx.data.Streams[metadata.StreamID]; !exists {
		return models.NotFound("stream", metadata.StreamID)
	}
	tx.data.StreamMetadata[metadata.StreamID] = append(tx.data.StreamMetadata[metadata.StreamID], metadata)
	return nil
}

func (tx *jsonTx) InsertChatMessage(_ context.Context, message models.ChatMessage) error {
	tx.data.ChatMessages[message.ChannelID] = append(tx.data.ChatMessages[message.ChannelID], message)
	return nil
}

func (tx *jsonTx) DeleteChatMessagesByUser(_ context.Context, channelID, userID string) (int, error) {
	messages := tx.data.ChatMessages[channelID]
	kept := make([]models.ChatMessage, 0, len(messages))
	for _, message := range messages {
		if message.UserID == userID {
			continue
		}
		kept = append(kept, message)
	}
	removed := len(messages) - len(kept)
	tx.data.ChatMessages[channelID] = kept
	return removed, nil
}

func (tx *jsonTx) InsertModerationLog(_ context.Context, entry models.ModerationLogEntry) error {
	tx.data.ModerationLog[entry.ChannelID] = append(tx.data.ModerationLog[entry.ChannelID], entry)
	return nil
}

func (tx *jsonTx) InsertFollower(_ context.Context, follower models.Follower) error {
	if _, exists := findFollower(*tx.data, follower.StreamerID, follower.UserID); exists {
		return fmt.Errorf("follower %s of %s: %w", follower.UserID, follower.StreamerID, ErrDuplicate)
	}
	tx.data.Followers[follower.ID] = follower
	return nil
}

func (tx *jsonTx) DeleteFollower(_ context.Context, streamerID, userID string) (bool, error) {
	follower, exists := findFollower(*tx.data, streamerID, userID)
	if !exists {
		return false, nil
	}
	delete(tx.data.Followers, follower.ID)
	return true, nil
}

func (tx *jsonTx) InsertSubscription(_ context.Context, subscription models.Subscription) error {
	if _, exists := tx.data.Subscriptions[subscription.ID]; exists {
		return fmt.Errorf("subscription %s: %w", subscription.ID, ErrDuplicate)
	}
	tx.data.Subscriptions[subscription.ID] = subscription
	return nil
}

func (tx *jsonTx) GetCategory(_ context.Context, id string) (models.Category, error) {
	category, ok := tx.data.Categories[id]
	if !ok {
		return models.Category{}, models.NotFound("category", id)
	}
	category.ParentID = cloneStringPtr(category.ParentID)
	return category, nil
}

func (tx *jsonTx) ListCategories(context.Context) ([]models.Category, error) {
	return sortedCategories(*tx.data), nil
}

func (tx *jsonTx) InsertCategory(_ context.Context, category models.Category) error {
	if _, exists := tx.data.Categories[category.ID]; exists {
		return fmt.Errorf("category %s: %w", category.ID, ErrDuplicate)
	}
	for _, existing := range tx.data.Categories {
		if existing.Slug == category.Slug {
			return fmt.Errorf("category slug %s: %w", category.Slug, ErrDuplicate)
		}
	}
	category.ParentID = cloneStringPtr(category.ParentID)
	tx.data.Categories[category.ID] = category
	return nil
}

func (tx *jsonTx) UpdateCategory(_ context.Context, category models.Category) error {
	if _, exists := tx.data.Categories[category.ID]; !exists {
		return models.NotFound("category", category.ID)
	}
	for id, existing := range tx.data.Categories {
		if id != category.ID && existing.Slug == category.Slug {
			return fmt.Errorf("category slug %s: %w", category.Slug, ErrDuplicate)
		}
	}
	category.ParentID = cloneStringPtr(category.ParentID)
	tx.data.Categories[category.ID] = category
	return nil
}

func (tx *jsonTx) DeleteCategory(_ context.Context, id string) error {
	if _, exists := tx.data.Categories[id]; !exists {
		return models.NotFound("category", id)
	}
	delete(tx.data.Categories, id)
	for channelID, channel := range tx.data.Channels {
		if channel.CategoryID != nil && *channel.CategoryID == id {
			channel.CategoryID = nil
			tx.data.Channels[channelID] = channel
		}
	}
	return nil
}

func (tx *jsonTx) DetachChildCategories(_ context.Context, parentID string) error {
	for id, category := range tx.data.Categories {
		if category.ParentID != nil && *category.ParentID == parentID {
			category.ParentID = nil
			tx.data.Categories[id] = category
		}
	}
	return nil
}
