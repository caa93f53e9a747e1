package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"streamline/internal/models"
)

type pgTx struct {
	tx pgx.Tx
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func (t *pgTx) GetUser(ctx context.Context, id string) (models.User, error) {
	return getUser(ctx, t.tx, `id = $1`, id, id)
}

func (t *pgTx) InsertUser(ctx context.Context, user models.User) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO users (id, name, roles, created_at) VALUES ($1, $2, $3, $4)`,
		user.ID, user.Name, nonNilStrings(user.Roles), user.CreatedAt)
	return wrapWriteErr("insert user", err)
}

func (t *pgTx) LockChannel(ctx context.Context, id string) (models.Channel, error) {
	return getChannel(ctx, t.tx, `SELECT `+channelColumns+` FROM channels WHERE id = $1 FOR UPDATE`, id, id)
}

func (t *pgTx) InsertChannel(ctx context.Context, channel models.Channel) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO channels (`+channelColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		channel.ID,
		channel.OwnerID,
		channel.StreamKey,
		channel.Title,
		channel.CategoryID,
		nonNilStrings(channel.ChatRules),
		nonNilStrings(channel.ModeratorIDs),
		string(channel.Status),
		channel.ActiveStreamID,
		channel.CreatedAt,
		channel.UpdatedAt,
	)
	return wrapWriteErr("insert channel", err)
}

func (t *pgTx) UpdateChannel(ctx context.Context, channel models.Channel) error {
	tag, err := t.tx.Exec(ctx, `UPDATE channels SET
		title = $2,
		category_id = $3,
		chat_rules = $4,
		moderator_ids = $5,
		status = $6,
		active_stream_id = $7,
		updated_at = $8
		WHERE id = $1`,
		channel.ID,
		channel.Title,
		channel.CategoryID,
		nonNilStrings(channel.ChatRules),
		nonNilStrings(channel.ModeratorIDs),
		string(channel.Status),
		channel.ActiveStreamID,
		channel.UpdatedAt,
	)
	if err != nil {
		return wrapWriteErr("update channel", err)
	}
	if tag.RowsAffected() == 0 {
		return models.NotFound("channel", channel.ID)
	}
	return nil
}

func (t *pgTx) GetStream(ctx context.Context, id string) (models.Stream, error) {
	return getStream(ctx, t.tx, id)
}

func (t *pgTx) InsertStream(ctx context.Context, stream models.Stream) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO streams (`+streamColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		stream.ID,
		stream.ChannelID,
		stream.Title,
		stream.CategoryID,
		stream.StartedAt,
		stream.EndedAt,
		stream.PeakViewers,
		stream.ChatMessageCount,
	)
	return wrapWriteErr("insert stream", err)
}

func (t *pgTx) UpdateStream(ctx context.Context, stream models.Stream) error {
	tag, err := t.tx.Exec(ctx, `UPDATE streams SET
		ended_at = $2,
		peak_viewers = $3,
		chat_message_count = $4
		WHERE id = $1`,
		stream.ID,
		stream.EndedAt,
		stream.PeakViewers,
		stream.ChatMessageCount,
	)
	if err != nil {
		return wrapWriteErr("update stream", err)
	}
	if tag.RowsAffected() == 0 {
		return models.NotFound("stream", stream.ID)
	}
	return nil
}

func (t *pgTx) AppendStreamMetadata(ctx context.Context, m models.StreamMetadata) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO stream_metadata (`+metadataColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		m.ID,
		m.StreamID,
		m.IngestServer,
		m.IngestViewers,
		m.StreamTimeSeconds,
		m.SourceBitrate,
		m.SourcePing,
		m.RecvPackets,
		m.LostPackets,
		m.NackPackets,
		m.VideoCodec,
		m.AudioCodec,
		m.SourceWidth,
		m.SourceHeight,
		m.SourceFPS,
		m.VendorName,
		m.VendorVersion,
		m.InsertedAt,
	)
	return wrapWriteErr("append stream metadata", err)
}

func (t *pgTx) InsertChatMessage(ctx context.Context, message models.ChatMessage) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO chat_messages (id, channel_id, user_id, message, created_at) VALUES ($1, $2, $3, $4, $5)`,
		message.ID, message.ChannelID, message.UserID, message.Message, message.CreatedAt)
	return wrapWriteErr("insert chat message", err)
}

func (t *pgTx) DeleteChatMessagesByUser(ctx context.Context, channelID, userID string) (int, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM chat_messages WHERE channel_id = $1 AND user_id = $2`, channelID, userID)
	if err != nil {
		return 0, fmt.Errorf("delete chat messages: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (t *pgTx) InsertModerationLog(ctx context.Context, entry models.ModerationLogEntry) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO moderation_log (id, channel_id, moderator_id, target_id, action, inserted_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.ChannelID, entry.ModeratorID, entry.TargetID, entry.Action, entry.InsertedAt)
	return wrapWriteErr("insert moderation log entry", err)
}

func (t *pgTx) InsertFollower(ctx context.Context, follower models.Follower) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO followers (id, streamer_id, user_id, has_notifications, inserted_at)
		VALUES ($1, $2, $3, $4, $5)`,
		follower.ID, follower.StreamerID, follower.UserID, follower.HasNotifications, follower.InsertedAt)
	return wrapWriteErr("insert follower", err)
}

func (t *pgTx) DeleteFollower(ctx context.Context, streamerID, userID string) (bool, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM followers WHERE streamer_id = $1 AND user_id = $2`, streamerID, userID)
	if err != nil {
		return false, fmt.Errorf("delete follower: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *pgTx) InsertSubscription(ctx context.Context, s models.Subscription) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO subscriptions (id, streamer_id, user_id, tier, price_cents, currency, status, started_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.StreamerID, s.UserID, s.Tier, s.PriceCents, s.Currency, string(s.Status), s.StartedAt, s.ExpiresAt)
	return wrapWriteErr("insert subscription", err)
}

func (t *pgTx) GetCategory(ctx context.Context, id string) (models.Category, error) {
	return getCategory(ctx, t.tx, id)
}

func (t *pgTx) ListCategories(ctx context.Context) ([]models.Category, error) {
	return listCategories(ctx, t.tx)
}

func (t *pgTx) InsertCategory(ctx context.Context, c models.Category) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO categories (`+categoryColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.Name, c.Slug, c.ParentID, c.InsertedAt, c.UpdatedAt)
	return wrapWriteErr("insert category", err)
}

func (t *pgTx) UpdateCategory(ctx context.Context, c models.Category) error {
	tag, err := t.tx.Exec(ctx, `UPDATE categories SET name = $2, slug = $3, parent_id = $4, updated_at = $5 WHERE id = $1`,
		c.ID, c.Name, c.Slug, c.ParentID, c.UpdatedAt)
	if err != nil {
		return wrapWriteErr("update category", err)
	}
	if tag.RowsAffected() == 0 {
		return models.NotFound("category", c.ID)
	}
	return nil
}

func (t *pgTx) DeleteCategory(ctx context.Context, id string) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.NotFound("category", id)
	}
	return nil
}

func (t *pgTx) DetachChildCategories(ctx context.Context, parentID string) error {
	if _, err := t.tx.Exec(ctx, `UPDATE categories SET parent_id = NULL WHERE parent_id = $1`, parentID); err != nil {
		return fmt.Errorf("detach child categories: %w", err)
	}
	return nil
}

var _ Tx = (*pgTx)(nil)
var _ Tx = (*jsonTx)(nil)
var _ Store = (*PostgresStore)(nil)
var _ Store = (*JSONStore)(nil)
