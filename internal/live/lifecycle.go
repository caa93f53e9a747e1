package live

import (
	"context"

	"streamline/internal/models"
	"streamline/internal/storage"
)

// StartStream opens a new stream on an offline channel. The stream snapshots
// the channel's title and category.
func (s *Service) StartStream(ctx context.Context, channelID string) (models.Stream, error) {
	var (
		stream  models.Stream
		channel models.Channel
	)
	err := s.withChannel(ctx, channelID, func(tx storage.Tx) error {
		locked, err := tx.LockChannel(ctx, channelID)
		if err != nil {
			return err
		}
		if locked.ActiveStreamID != nil {
			return models.Precondition("channel %s already has an active stream", channelID)
		}
		now := s.now()
		stream = models.Stream{
			ID:         storage.NewID(),
			ChannelID:  channelID,
			Title:      locked.Title,
			CategoryID: cloneString(locked.CategoryID),
			StartedAt:  now,
		}
		if err := tx.InsertStream(ctx, stream); err != nil {
			return err
		}
		streamID := stream.ID
		locked.Status = models.ChannelLive
		locked.ActiveStreamID = &streamID
		locked.UpdatedAt = now
		if err := tx.UpdateChannel(ctx, locked); err != nil {
			return err
		}
		channel = locked
		return nil
	}, func() {
		s.metrics.StreamStarted()
		s.log(ctx).Info("stream started", "channel_id", channelID, "stream_id", stream.ID)
		s.publishChannel(ctx, channel, "stream_started")
	})
	if err != nil {
		return models.Stream{}, models.WithOp("start stream", err)
	}
	return stream, nil
}

// EndStream closes the active stream and takes the channel offline.
func (s *Service) EndStream(ctx context.Context, channelID string) (models.Stream, error) {
	var (
		stream  models.Stream
		channel models.Channel
	)
	err := s.withChannel(ctx, channelID, func(tx storage.Tx) error {
		locked, err := tx.LockChannel(ctx, channelID)
		if err != nil {
			return err
		}
		if locked.ActiveStreamID == nil {
			return models.Precondition("channel %s has no active stream", channelID)
		}
		active, err := tx.GetStream(ctx, *locked.ActiveStreamID)
		if err != nil {
			return err
		}
		now := s.now()
		if now.Before(active.StartedAt) {
			now = active.StartedAt
		}
		active.EndedAt = &now
		if err := tx.UpdateStream(ctx, active); err != nil {
			return err
		}
		locked.Status = models.ChannelOffline
		locked.ActiveStreamID = nil
		locked.UpdatedAt = now
		if err := tx.UpdateChannel(ctx, locked); err != nil {
			return err
		}
		stream = active
		channel = locked
		return nil
	}, func() {
		s.metrics.StreamStopped()
		s.log(ctx).Info("stream ended", "channel_id", channelID, "stream_id", stream.ID,
			"duration_seconds", stream.EndedAt.Sub(stream.StartedAt).Seconds())
		s.publishChannel(ctx, channel, "stream_ended")
	})
	if err != nil {
		return models.Stream{}, models.WithOp("end stream", err)
	}
	return stream, nil
}

// LogStreamMetadata appends an ingest telemetry snapshot to the active stream
// and returns the stream with its full ordered metadata. Values are stored as
// reported. A reported viewer count above the current peak raises the peak.
func (s *Service) LogStreamMetadata(ctx context.Context, channelID string, fields models.MetadataFields) (models.Stream, error) {
	var stream models.Stream
	err := s.withChannel(ctx, channelID, func(tx storage.Tx) error {
		locked, err := tx.LockChannel(ctx, channelID)
		if err != nil {
			return err
		}
		if locked.ActiveStreamID == nil {
			return models.Precondition("channel %s has no active stream", channelID)
		}
		streamID := *locked.ActiveStreamID
		entry := models.StreamMetadata{
			ID:             storage.NewID(),
			StreamID:       streamID,
			MetadataFields: fields,
			InsertedAt:     s.now(),
		}
		if err := tx.AppendStreamMetadata(ctx, entry); err != nil {
			return err
		}
		current, err := tx.GetStream(ctx, streamID)
		if err != nil {
			return err
		}
		if fields.IngestViewers > current.PeakViewers {
			current.PeakViewers = fields.IngestViewers
			if err := tx.UpdateStream(ctx, current); err != nil {
				return err
			}
		}
		stream = current
		return nil
	}, func() {
		s.metrics.ObserveStreamEvent("metadata")
		s.log(ctx).Debug("stream metadata recorded", "channel_id", channelID, "stream_id", stream.ID,
			"entries", len(stream.Metadata))
	})
	if err != nil {
		return models.Stream{}, models.WithOp("log stream metadata", err)
	}
	return stream, nil
}

// RecordViewers reports the current audience of the active stream, raising
// its peak when exceeded.
func (s *Service) RecordViewers(ctx context.Context, channelID string, viewers int) (models.Stream, error) {
	if viewers < 0 {
		return models.Stream{}, models.WithOp("record viewers", models.Validation("viewers", "must not be negative"))
	}
	var stream models.Stream
	err := s.withChannel(ctx, channelID, func(tx storage.Tx) error {
		locked, err := tx.LockChannel(ctx, channelID)
		if err != nil {
			return err
		}
		if locked.ActiveStreamID == nil {
			return models.Precondition("channel %s has no active stream", channelID)
		}
		current, err := tx.GetStream(ctx, *locked.ActiveStreamID)
		if err != nil {
			return err
		}
		if viewers > current.PeakViewers {
			current.PeakViewers = viewers
			if err := tx.UpdateStream(ctx, current); err != nil {
				return err
			}
		}
		stream = current
		return nil
	}, nil)
	if err != nil {
		return models.Stream{}, models.WithOp("record viewers", err)
	}
	return stream, nil
}

// ListStreams returns the stream history of a channel, oldest first.
func (s *Service) ListStreams(ctx context.Context, channelID string) ([]models.Stream, error) {
	if _, err := s.store.GetChannel(ctx, channelID); err != nil {
		return nil, err
	}
	return s.store.ListStreams(ctx, channelID)
}
