// Package live implements the live-state core: stream lifecycle, ingest
// metadata, the chat log and moderation. Every mutation commits through
// storage.Store.Atomic with the channel row locked, then publishes the change
// to the fan-out bus.
package live

import (
	"context"
	"log/slog"
	"time"

	"streamline/internal/models"
	"streamline/internal/observability/logging"
	"streamline/internal/observability/metrics"
	"streamline/internal/pubsub"
	"streamline/internal/storage"
)

const publishTimeout = 5 * time.Second

// Config wires a Service to its collaborators. Bus, Logger and Metrics are
// optional.
type Config struct {
	Store   storage.Store
	Bus     pubsub.Bus
	Logger  *slog.Logger
	Metrics *metrics.Recorder
	Clock   func() time.Time
}

type Service struct {
	store   storage.Store
	bus     pubsub.Bus
	logger  *slog.Logger
	metrics *metrics.Recorder
	now     func() time.Time
	locks   *channelLocks
}

func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		store:   cfg.Store,
		bus:     cfg.Bus,
		logger:  logging.WithComponent(logger, "live"),
		metrics: recorder,
		now:     func() time.Time { return clock().UTC() },
		locks:   newChannelLocks(),
	}
}

// ChannelEvent is published on the channel_updated topics. The stream key is
// never part of it.
type ChannelEvent struct {
	Channel models.Channel `json:"channel"`
	Reason  string         `json:"reason"`
}

// ModerationEvent is published on the moderation topics so clients can drop
// purged messages. Anyone may subscribe, so it names the target but never the
// moderator or the log entry; the full record stays behind the moderation log.
type ModerationEvent struct {
	ChannelID       string `json:"channelId"`
	TargetID        string `json:"targetId"`
	Action          string `json:"action"`
	RemovedMessages int    `json:"removedMessages"`
}

// withChannel runs fn in one transaction while holding the in-process lock
// for channelID, then runs after with the lock still held. after only runs
// when the transaction committed.
func (s *Service) withChannel(ctx context.Context, channelID string, fn func(tx storage.Tx) error, after func()) error {
	release, err := s.locks.acquire(ctx, channelID)
	if err != nil {
		return err
	}
	defer release()
	if err := s.store.Atomic(ctx, fn); err != nil {
		return err
	}
	if after != nil {
		after()
	}
	return nil
}

func (s *Service) publish(ctx context.Context, kind pubsub.Kind, channelID string, payload any) {
	if s.bus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	msg, err := pubsub.NewMessage(kind, channelID, payload)
	if err == nil {
		err = pubsub.PublishAll(ctx, s.bus, pubsub.PublishTopics(kind, channelID), msg)
	}
	s.metrics.ObservePublish(string(kind), err)
	if err != nil {
		logging.WithContext(ctx, s.logger).Warn("fan-out publish failed",
			"kind", string(kind), "channel_id", channelID, "error", err)
	}
}

func (s *Service) publishChannel(ctx context.Context, channel models.Channel, reason string) {
	channel.StreamKey = ""
	s.publish(ctx, pubsub.KindChannelUpdated, channel.ID, ChannelEvent{Channel: channel, Reason: reason})
}

func (s *Service) log(ctx context.Context) *slog.Logger {
	return logging.WithContext(ctx, s.logger)
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}
