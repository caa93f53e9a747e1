package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"streamline/internal/models"
)

// StoreFactory constructs a Store backed by either the JSON file or Postgres
// so the same scenarios run against both.
type StoreFactory func(t *testing.T) Store

func seedUser(t *testing.T, store Store, name string, roles ...string) models.User {
	t.Helper()
	user := models.User{ID: NewID(), Name: name, Roles: roles, CreatedAt: time.Now().UTC().Truncate(time.Microsecond)}
	err := store.Atomic(context.Background(), func(tx Tx) error {
		return tx.InsertUser(context.Background(), user)
	})
	if err != nil {
		t.Fatalf("insert user %s: %v", name, err)
	}
	return user
}

func seedChannel(t *testing.T, store Store, owner models.User, title string) models.Channel {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	channel := models.Channel{
		ID:        NewID(),
		OwnerID:   owner.ID,
		StreamKey: NewStreamKey(),
		Title:     title,
		Status:    models.ChannelOffline,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := store.Atomic(context.Background(), func(tx Tx) error {
		return tx.InsertChannel(context.Background(), channel)
	})
	if err != nil {
		t.Fatalf("insert channel %s: %v", title, err)
	}
	return channel
}

func RunStoreAtomicRollback(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := context.Background()
	owner := seedUser(t, store, "rollback-owner")
	channel := seedChannel(t, store, owner, "Rollback")

	boom := errors.New("boom")
	err := store.Atomic(ctx, func(tx Tx) error {
		locked, err := tx.LockChannel(ctx, channel.ID)
		if err != nil {
			return err
		}
		streamID := NewID()
		if err := tx.InsertStream(ctx, models.Stream{ID: streamID, ChannelID: channel.ID, StartedAt: time.Now().UTC()}); err != nil {
			return err
		}
		locked.Status = models.ChannelLive
		locked.ActiveStreamID = &streamID
		if err := tx.UpdateChannel(ctx, locked); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}

	reloaded, err := store.GetChannel(ctx, channel.ID)
	if err != nil {
		t.Fatalf("GetChannel: %v", err)
	}
	if reloaded.Status != models.ChannelOffline || reloaded.ActiveStreamID != nil {
		t.Fatalf("expected channel unchanged after rollback, got %+v", reloaded)
	}
	streams, err := store.ListStreams(ctx, channel.ID)
	if err != nil {
		t.Fatalf("ListStreams: %v", err)
	}
	if len(streams) != 0 {
		t.Fatalf("expected no streams after rollback, got %d", len(streams))
	}
}

func RunStoreChannelLookups(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := context.Background()
	owner := seedUser(t, store, "Lookup-Owner")
	channel := seedChannel(t, store, owner, "Lookup")

	byOwner, err := store.GetChannelByOwnerName(ctx, "lookup-owner")
	if err != nil {
		t.Fatalf("GetChannelByOwnerName: %v", err)
	}
	if byOwner.ID != channel.ID {
		t.Fatalf("expected channel %s, got %s", channel.ID, byOwner.ID)
	}

	byKey, err := store.GetChannelByStreamKey(ctx, channel.StreamKey)
	if err != nil {
		t.Fatalf("GetChannelByStreamKey: %v", err)
	}
	if byKey.ID != channel.ID {
		t.Fatalf("expected channel %s, got %s", channel.ID, byKey.ID)
	}

	if _, err := store.GetChannelByStreamKey(ctx, "nope"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found for unknown key, got %v", err)
	}
	if _, err := store.GetChannel(ctx, NewID()); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found for unknown channel, got %v", err)
	}
	if _, err := store.GetChannelByOwnerName(ctx, "nobody"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found for unknown owner, got %v", err)
	}
}

func RunStoreChatDeletion(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := context.Background()
	owner := seedUser(t, store, "chat-owner")
	spammer := seedUser(t, store, "chat-spammer")
	channel := seedChannel(t, store, owner, "Chat")

	authors := []models.User{owner, spammer, owner, spammer, owner}
	err := store.Atomic(ctx, func(tx Tx) error {
		for i, author := range authors {
			message := models.ChatMessage{
				ID:        NewID(),
				ChannelID: channel.ID,
				UserID:    author.ID,
				Message:   string(rune('a' + i)),
				CreatedAt: time.Now().UTC(),
			}
			if err := tx.InsertChatMessage(ctx, message); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("insert messages: %v", err)
	}

	var removed int
	err = store.Atomic(ctx, func(tx Tx) error {
		var err error
		removed, err = tx.DeleteChatMessagesByUser(ctx, channel.ID, spammer.ID)
		return err
	})
	if err != nil {
		t.Fatalf("delete messages: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed messages, got %d", removed)
	}

	messages, err := store.ListChatMessages(ctx, channel.ID)
	if err != nil {
		t.Fatalf("ListChatMessages: %v", err)
	}
	var texts string
	for _, message := range messages {
		if message.UserID == spammer.ID {
			t.Fatalf("spammer message %s survived deletion", message.ID)
		}
		texts += message.Message
	}
	if texts != "ace" {
		t.Fatalf("expected remaining messages in insertion order, got %q", texts)
	}
}

func RunStoreFollowerUniqueness(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := context.Background()
	streamer := seedUser(t, store, "follow-streamer")
	fan := seedUser(t, store, "follow-fan")

	follow := func() error {
		return store.Atomic(ctx, func(tx Tx) error {
			return tx.InsertFollower(ctx, models.Follower{
				ID:               NewID(),
				StreamerID:       streamer.ID,
				UserID:           fan.ID,
				HasNotifications: true,
				InsertedAt:       time.Now().UTC(),
			})
		})
	}
	if err := follow(); err != nil {
		t.Fatalf("first follow: %v", err)
	}
	if err := follow(); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate error, got %v", err)
	}

	followers, err := store.ListFollowers(ctx, FollowerFilter{UserID: fan.ID})
	if err != nil {
		t.Fatalf("ListFollowers: %v", err)
	}
	if len(followers) != 1 {
		t.Fatalf("expected one follower record, got %d", len(followers))
	}

	var deleted bool
	for i := 0; i < 2; i++ {
		err = store.Atomic(ctx, func(tx Tx) error {
			var err error
			deleted, err = tx.DeleteFollower(ctx, streamer.ID, fan.ID)
			return err
		})
		if err != nil {
			t.Fatalf("DeleteFollower: %v", err)
		}
		if want := i == 0; deleted != want {
			t.Fatalf("delete attempt %d: expected deleted=%v, got %v", i, want, deleted)
		}
	}
	following, err := store.IsFollowing(ctx, streamer.ID, fan.ID)
	if err != nil {
		t.Fatalf("IsFollowing: %v", err)
	}
	if following {
		t.Fatal("expected follow to be removed")
	}
}

func RunStoreCategoryDeleteDetaches(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := context.Background()
	owner := seedUser(t, store, "category-owner")
	channel := seedChannel(t, store, owner, "Categorised")

	now := time.Now().UTC().Truncate(time.Microsecond)
	parent := models.Category{ID: NewID(), Name: "Games", Slug: "games", InsertedAt: now, UpdatedAt: now}
	child := models.Category{ID: NewID(), Name: "Puzzle", Slug: "puzzle", ParentID: &parent.ID, InsertedAt: now, UpdatedAt: now}
	err := store.Atomic(ctx, func(tx Tx) error {
		if err := tx.InsertCategory(ctx, parent); err != nil {
			return err
		}
		if err := tx.InsertCategory(ctx, child); err != nil {
			return err
		}
		locked, err := tx.LockChannel(ctx, channel.ID)
		if err != nil {
			return err
		}
		locked.CategoryID = &parent.ID
		return tx.UpdateChannel(ctx, locked)
	})
	if err != nil {
		t.Fatalf("seed categories: %v", err)
	}

	err = store.Atomic(ctx, func(tx Tx) error {
		if err := tx.DetachChildCategories(ctx, parent.ID); err != nil {
			return err
		}
		return tx.DeleteCategory(ctx, parent.ID)
	})
	if err != nil {
		t.Fatalf("delete category: %v", err)
	}

	if _, err := store.GetCategory(ctx, parent.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected deleted category to be not found, got %v", err)
	}
	reloadedChild, err := store.GetCategory(ctx, child.ID)
	if err != nil {
		t.Fatalf("GetCategory child: %v", err)
	}
	if reloadedChild.ParentID != nil {
		t.Fatalf("expected child detached, got parent %v", *reloadedChild.ParentID)
	}
	reloadedChannel, err := store.GetChannel(ctx, channel.ID)
	if err != nil {
		t.Fatalf("GetChannel: %v", err)
	}
	if reloadedChannel.CategoryID != nil {
		t.Fatalf("expected channel category cleared, got %v", *reloadedChannel.CategoryID)
	}

	err = store.Atomic(ctx, func(tx Tx) error {
		return tx.InsertCategory(ctx, models.Category{ID: NewID(), Name: "Puzzle", Slug: "puzzle", InsertedAt: now, UpdatedAt: now})
	})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate slug error, got %v", err)
	}
}

func RunStoreStreamMetadataOrder(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := context.Background()
	owner := seedUser(t, store, "metadata-owner")
	channel := seedChannel(t, store, owner, "Metadata")
	streamID := NewID()

	err := store.Atomic(ctx, func(tx Tx) error {
		if err := tx.InsertStream(ctx, models.Stream{ID: streamID, ChannelID: channel.ID, StartedAt: time.Now().UTC()}); err != nil {
			return err
		}
		for _, bitrate := range []int{3000, 4500, 6000} {
			entry := models.StreamMetadata{
				ID:             NewID(),
				StreamID:       streamID,
				MetadataFields: models.MetadataFields{SourceBitrate: bitrate, VideoCodec: "avc1"},
				InsertedAt:     time.Now().UTC(),
			}
			if err := tx.AppendStreamMetadata(ctx, entry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed metadata: %v", err)
	}

	stream, err := store.GetStream(ctx, streamID)
	if err != nil {
		t.Fatalf("GetStream: %v", err)
	}
	if len(stream.Metadata) != 3 {
		t.Fatalf("expected 3 metadata entries, got %d", len(stream.Metadata))
	}
	for i, want := range []int{3000, 4500, 6000} {
		if stream.Metadata[i].SourceBitrate != want {
			t.Fatalf("metadata %d: expected bitrate %d, got %d", i, want, stream.Metadata[i].SourceBitrate)
		}
	}
}

func runStoreScenarios(t *testing.T, factory StoreFactory) {
	t.Run("AtomicRollback", func(t *testing.T) { RunStoreAtomicRollback(t, factory) })
	t.Run("ChannelLookups", func(t *testing.T) { RunStoreChannelLookups(t, factory) })
	t.Run("ChatDeletion", func(t *testing.T) { RunStoreChatDeletion(t, factory) })
	t.Run("FollowerUniqueness", func(t *testing.T) { RunStoreFollowerUniqueness(t, factory) })
	t.Run("CategoryDeleteDetaches", func(t *testing.T) { RunStoreCategoryDeleteDetaches(t, factory) })
	t.Run("StreamMetadataOrder", func(t *testing.T) { RunStoreStreamMetadataOrder(t, factory) })
}
