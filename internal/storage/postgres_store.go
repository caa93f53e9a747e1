package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"streamline/internal/models"
)

const uniqueViolation = "23505"

// PostgresStore is the Store backed by a pgx connection pool. Row-level locks
// on channels serialise per-channel mutations across processes.
type PostgresStore struct {
	pool   *pgxpool.Pool
	cfg    PostgresConfig
	logger *slog.Logger
}

// querier is satisfied by both the pool and an open pgx.Tx so read helpers
// can be shared between them.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPostgresStore opens a pgx pool for dsn. Call Migrate before serving
// traffic against a fresh database.
func NewPostgresStore(ctx context.Context, dsn string, opts ...Option) (*PostgresStore, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections >= 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{pool: pool, cfg: cfg, logger: logger}, nil
}

func (s *PostgresStore) Close(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := s.acquireContext(ctx)
	defer cancel()
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) acquireContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.AcquireTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.cfg.AcquireTimeout)
}

// Atomic implements Store with a read-committed pgx transaction. Callers
// serialise on a channel through Tx.LockChannel.
func (s *PostgresStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollbackTx(ctx, tx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func rollbackTx(ctx context.Context, tx pgx.Tx) {
	_ = tx.Rollback(context.WithoutCancel(ctx))
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func wrapWriteErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w", op, ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", op, err)
}

const userColumns = `id, name, roles, created_at`

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	err := row.Scan(&user.ID, &user.Name, &user.Roles, &user.CreatedAt)
	return user, err
}

func getUser(ctx context.Context, q querier, where string, arg any, label string) (models.User, error) {
	user, err := scanUser(q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, models.NotFound("user", label)
	}
	if err != nil {
		return models.User{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (models.User, error) {
	return getUser(ctx, s.pool, `id = $1`, id, id)
}

func (s *PostgresStore) GetUserByName(ctx context.Context, name string) (models.User, error) {
	trimmed := strings.TrimSpace(name)
	return getUser(ctx, s.pool, `lower(name) = lower($1)`, trimmed, trimmed)
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return collect(rows, scanUser)
}

const channelColumns = `id, owner_id, stream_key, title, category_id, chat_rules, moderator_ids, status, active_stream_id, created_at, updated_at`

func scanChannel(row pgx.Row) (models.Channel, error) {
	var (
		channel models.Channel
		status  string
	)
	err := row.Scan(
		&channel.ID,
		&channel.OwnerID,
		&channel.StreamKey,
		&channel.Title,
		&channel.CategoryID,
		&channel.ChatRules,
		&channel.ModeratorIDs,
		&status,
		&channel.ActiveStreamID,
		&channel.CreatedAt,
		&channel.UpdatedAt,
	)
	channel.Status = models.ChannelStatus(status)
	if len(channel.ChatRules) == 0 {
		channel.ChatRules = nil
	}
	if len(channel.ModeratorIDs) == 0 {
		channel.ModeratorIDs = nil
	}
	return channel, err
}

func getChannel(ctx context.Context, q querier, query string, arg any, label string) (models.Channel, error) {
	channel, err := scanChannel(q.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Channel{}, models.NotFound("channel", label)
	}
	if err != nil {
		return models.Channel{}, fmt.Errorf("load channel: %w", err)
	}
	return channel, nil
}

func (s *PostgresStore) GetChannel(ctx context.Context, id string) (models.Channel, error) {
	return getChannel(ctx, s.pool, `SELECT `+channelColumns+` FROM channels WHERE id = $1`, id, id)
}

func (s *PostgresStore) GetChannelByOwnerName(ctx context.Context, ownerName string) (models.Channel, error) {
	trimmed := strings.TrimSpace(ownerName)
	return getChannel(ctx, s.pool, `SELECT c.`+strings.ReplaceAll(channelColumns, ", ", ", c.")+`
		FROM channels c JOIN users u ON u.id = c.owner_id
		WHERE lower(u.name) = lower($1)
		ORDER BY c.created_at, c.id
		LIMIT 1`, trimmed, "for owner "+trimmed)
}

func (s *PostgresStore) GetChannelByStreamKey(ctx context.Context, streamKey string) (models.Channel, error) {
	if streamKey == "" {
		return models.Channel{}, models.NotFound("channel", "for stream key")
	}
	return getChannel(ctx, s.pool, `SELECT `+channelColumns+` FROM channels WHERE stream_key = $1`, streamKey, "for stream key")
}

func (s *PostgresStore) ListChannels(ctx context.Context, filter ChannelFilter) ([]models.Channel, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+channelColumns+` FROM channels
		WHERE ($1 = '' OR owner_id = $1) AND (NOT $2 OR status = 'live')
		ORDER BY created_at, id`, filter.OwnerID, filter.LiveOnly)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	return collect(rows, scanChannel)
}

const streamColumns = `id, channel_id, title, category_id, started_at, ended_at, peak_viewers, chat_message_count`

func scanStream(row pgx.Row) (models.Stream, error) {
	var stream models.Stream
	err := row.Scan(
		&stream.ID,
		&stream.ChannelID,
		&stream.Title,
		&stream.CategoryID,
		&stream.StartedAt,
		&stream.EndedAt,
		&stream.PeakViewers,
		&stream.ChatMessageCount,
	)
	return stream, err
}

const metadataColumns = `id, stream_id, ingest_server, ingest_viewers, stream_time_seconds, source_bitrate, source_ping,
	recv_packets, lost_packets, nack_packets, video_codec, audio_codec, source_width, source_height, source_fps,
	vendor_name, vendor_version, inserted_at`

func scanMetadata(row pgx.Row) (models.StreamMetadata, error) {
	var m models.StreamMetadata
	err := row.Scan(
		&m.ID,
		&m.StreamID,
		&m.IngestServer,
		&m.IngestViewers,
		&m.StreamTimeSeconds,
		&m.SourceBitrate,
		&m.SourcePing,
		&m.RecvPackets,
		&m.LostPackets,
		&m.NackPackets,
		&m.VideoCodec,
		&m.AudioCodec,
		&m.SourceWidth,
		&m.SourceHeight,
		&m.SourceFPS,
		&m.VendorName,
		&m.VendorVersion,
		&m.InsertedAt,
	)
	return m, err
}

func getStream(ctx context.Context, q querier, id string) (models.Stream, error) {
	stream, err := scanStream(q.QueryRow(ctx, `SELECT `+streamColumns+` FROM streams WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Stream{}, models.NotFound("stream", id)
	}
	if err != nil {
		return models.Stream{}, fmt.Errorf("load stream: %w", err)
	}
	rows, err := q.Query(ctx, `SELECT `+metadataColumns+` FROM stream_metadata WHERE stream_id = $1 ORDER BY seq`, id)
	if err != nil {
		return models.Stream{}, fmt.Errorf("load stream metadata: %w", err)
	}
	metadata, err := collect(rows, scanMetadata)
	if err != nil {
		return models.Stream{}, err
	}
	if len(metadata) > 0 {
		stream.Metadata = metadata
	}
	return stream, nil
}

func (s *PostgresStore) GetStream(ctx context.Context, id string) (models.Stream, error) {
	return getStream(ctx, s.pool, id)
}

func (s *PostgresStore) ListStreams(ctx context.Context, channelID string) ([]models.Stream, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+streamColumns+` FROM streams WHERE channel_id = $1 ORDER BY started_at, id`, channelID)
	if err != nil {
		return nil, fmt.Errorf("list streams: %w", err)
	}
	streams, err := collect(rows, scanStream)
	if err != nil {
		return nil, err
	}
	for i := range streams {
		full, err := getStream(ctx, s.pool, streams[i].ID)
		if err != nil {
			return nil, err
		}
		streams[i] = full
	}
	return streams, nil
}

func scanChatMessage(row pgx.Row) (models.ChatMessage, error) {
	var message models.ChatMessage
	err := row.Scan(&message.ID, &message.ChannelID, &message.UserID, &message.Message, &message.CreatedAt)
	return message, err
}

func (s *PostgresStore) ListChatMessages(ctx context.Context, channelID string) ([]models.ChatMessage, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, channel_id, user_id, message, created_at
		FROM chat_messages WHERE channel_id = $1 ORDER BY seq`, channelID)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	return collect(rows, scanChatMessage)
}

func scanModerationEntry(row pgx.Row) (models.ModerationLogEntry, error) {
	var entry models.ModerationLogEntry
	err := row.Scan(&entry.ID, &entry.ChannelID, &entry.ModeratorID, &entry.TargetID, &entry.Action, &entry.InsertedAt)
	return entry, err
}

func (s *PostgresStore) ListModerationLog(ctx context.Context, channelID string) ([]models.ModerationLogEntry, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, channel_id, moderator_id, target_id, action, inserted_at
		FROM moderation_log WHERE channel_id = $1 ORDER BY seq`, channelID)
	if err != nil {
		return nil, fmt.Errorf("list moderation log: %w", err)
	}
	return collect(rows, scanModerationEntry)
}

func scanFollower(row pgx.Row) (models.Follower, error) {
	var follower models.Follower
	err := row.Scan(&follower.ID, &follower.StreamerID, &follower.UserID, &follower.HasNotifications, &follower.InsertedAt)
	return follower, err
}

func (s *PostgresStore) ListFollowers(ctx context.Context, filter FollowerFilter) ([]models.Follower, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, streamer_id, user_id, has_notifications, inserted_at
		FROM followers
		WHERE ($1 = '' OR streamer_id = $1) AND ($2 = '' OR user_id = $2)
		ORDER BY inserted_at, id`, filter.StreamerID, filter.UserID)
	if err != nil {
		return nil, fmt.Errorf("list followers: %w", err)
	}
	return collect(rows, scanFollower)
}

func (s *PostgresStore) IsFollowing(ctx context.Context, streamerID, userID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM followers WHERE streamer_id = $1 AND user_id = $2)`, streamerID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check follower: %w", err)
	}
	return exists, nil
}

func scanSubscription(row pgx.Row) (models.Subscription, error) {
	var (
		subscription models.Subscription
		status       string
	)
	err := row.Scan(
		&subscription.ID,
		&subscription.StreamerID,
		&subscription.UserID,
		&subscription.Tier,
		&subscription.PriceCents,
		&subscription.Currency,
		&status,
		&subscription.StartedAt,
		&subscription.ExpiresAt,
	)
	subscription.Status = models.SubscriptionStatus(status)
	return subscription, err
}

func (s *PostgresStore) ListSubscriptions(ctx context.Context, filter SubscriptionFilter) ([]models.Subscription, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, streamer_id, user_id, tier, price_cents, currency, status, started_at, expires_at
		FROM subscriptions
		WHERE ($1 = '' OR streamer_id = $1) AND ($2 = '' OR user_id = $2)
		ORDER BY started_at, id`, filter.StreamerID, filter.UserID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return collect(rows, scanSubscription)
}

const categoryColumns = `id, name, slug, parent_id, inserted_at, updated_at`

func scanCategory(row pgx.Row) (models.Category, error) {
	var category models.Category
	err := row.Scan(&category.ID, &category.Name, &category.Slug, &category.ParentID, &category.InsertedAt, &category.UpdatedAt)
	return category, err
}

func getCategory(ctx context.Context, q querier, id string) (models.Category, error) {
	category, err := scanCategory(q.QueryRow(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Category{}, models.NotFound("category", id)
	}
	if err != nil {
		return models.Category{}, fmt.Errorf("load category: %w", err)
	}
	return category, nil
}

func listCategories(ctx context.Context, q querier) ([]models.Category, error) {
	rows, err := q.Query(ctx, `SELECT `+categoryColumns+` FROM categories ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return collect(rows, scanCategory)
}

func (s *PostgresStore) GetCategory(ctx context.Context, id string) (models.Category, error) {
	return getCategory(ctx, s.pool, id)
}

func (s *PostgresStore) ListCategories(ctx context.Context) ([]models.Category, error) {
	return listCategories(ctx, s.pool)
}

// collect drains rows through scan. It always closes rows.
func collect[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	defer rows.Close()
	items := make([]T, 0)
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return items, nil
}
