package storage

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"

	"streamline/internal/models"
)

// importSnapshot replays a JSON dataset into Postgres in one transaction so a
// failed import leaves the database untouched.
func (s *PostgresStore) importSnapshot(ctx context.Context, snapshot *Snapshot) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin snapshot transaction: %w", err)
	}
	defer rollbackTx(ctx, tx)

	t := &pgTx{tx: tx}
	if err := importSnapshotUsers(ctx, t, snapshot.Users); err != nil {
		return err
	}
	if err := importSnapshotCategories(ctx, t, snapshot.Categories); err != nil {
		return err
	}
	if err := importSnapshotChannels(ctx, t, snapshot.Channels); err != nil {
		return err
	}
	if err := importSnapshotStreams(ctx, t, snapshot); err != nil {
		return err
	}
	if err := importSnapshotChat(ctx, t, snapshot); err != nil {
		return err
	}
	if err := importSnapshotSocial(ctx, t, snapshot); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit snapshot import: %w", err)
	}
	counts := snapshot.Counts()
	s.logger.Info("imported snapshot", "users", counts.Users, "channels", counts.Channels, "streams", counts.Streams)
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func importSnapshotUsers(ctx context.Context, t *pgTx, users map[string]models.User) error {
	for _, id := range sortedKeys(users) {
		if err := t.InsertUser(ctx, users[id]); err != nil {
			return fmt.Errorf("import user %s: %w", id, err)
		}
	}
	return nil
}

// importSnapshotCategories inserts every category detached first and then
// restores parent links, so insertion order does not matter.
func importSnapshotCategories(ctx context.Context, t *pgTx, categories map[string]models.Category) error {
	for _, id := range sortedKeys(categories) {
		category := categories[id]
		category.ParentID = nil
		if err := t.InsertCategory(ctx, category); err != nil {
			return fmt.Errorf("import category %s: %w", id, err)
		}
	}
	for _, id := range sortedKeys(categories) {
		category := categories[id]
		if category.ParentID == nil {
			continue
		}
		if err := t.UpdateCategory(ctx, category); err != nil {
			return fmt.Errorf("link category %s: %w", id, err)
		}
	}
	return nil
}

func importSnapshotChannels(ctx context.Context, t *pgTx, channels map[string]models.Channel) error {
	for _, id := range sortedKeys(channels) {
		if err := t.InsertChannel(ctx, channels[id]); err != nil {
			return fmt.Errorf("import channel %s: %w", id, err)
		}
	}
	return nil
}

func importSnapshotStreams(ctx context.Context, t *pgTx, snapshot *Snapshot) error {
	for _, id := range sortedKeys(snapshot.Streams) {
		if err := t.InsertStream(ctx, snapshot.Streams[id]); err != nil {
			return fmt.Errorf("import stream %s: %w", id, err)
		}
		for _, entry := range snapshot.StreamMetadata[id] {
			if err := t.AppendStreamMetadata(ctx, entry); err != nil {
				return fmt.Errorf("import metadata for stream %s: %w", id, err)
			}
		}
	}
	return nil
}

func importSnapshotChat(ctx context.Context, t *pgTx, snapshot *Snapshot) error {
	for _, channelID := range sortedKeys(snapshot.ChatMessages) {
		for _, message := range snapshot.ChatMessages[channelID] {
			if err := t.InsertChatMessage(ctx, message); err != nil {
				return fmt.Errorf("import chat message %s: %w", message.ID, err)
			}
		}
	}
	for _, channelID := range sortedKeys(snapshot.ModerationLog) {
		for _, entry := range snapshot.ModerationLog[channelID] {
			if err := t.InsertModerationLog(ctx, entry); err != nil {
				return fmt.Errorf("import moderation entry %s: %w", entry.ID, err)
			}
		}
	}
	return nil
}

func importSnapshotSocial(ctx context.Context, t *pgTx, snapshot *Snapshot) error {
	for _, id := range sortedKeys(snapshot.Followers) {
		if err := t.InsertFollower(ctx, snapshot.Followers[id]); err != nil {
			return fmt.Errorf("import follower %s: %w", id, err)
		}
	}
	for _, id := range sortedKeys(snapshot.Subscriptions) {
		if err := t.InsertSubscription(ctx, snapshot.Subscriptions[id]); err != nil {
			return fmt.Errorf("import subscription %s: %w", id, err)
		}
	}
	return nil
}
