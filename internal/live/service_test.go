package live

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamline/internal/models"
	"streamline/internal/observability/logging"
	"streamline/internal/observability/metrics"
	"streamline/internal/pubsub"
	"streamline/internal/storage"
	"streamline/internal/testsupport"
)

type fixture struct {
	store   *storage.JSONStore
	bus     *pubsub.MemoryBus
	service *Service
	owner   models.User
	viewer  models.User
	channel models.Channel
}

func newFixture(t *testing.T, opts ...storage.Option) fixture {
	t.Helper()
	store, err := storage.NewJSONStore("", opts...)
	require.NoError(t, err)
	bus := pubsub.NewMemoryBus(pubsub.MemoryConfig{Buffer: 64})
	t.Cleanup(func() { _ = bus.Close() })
	owner := testsupport.SeedUser(t, store, "owner")
	return fixture{
		store:   store,
		bus:     bus,
		service: NewService(Config{Store: store, Bus: bus, Logger: logging.Discard(), Metrics: metrics.New()}),
		owner:   owner,
		viewer:  testsupport.SeedUser(t, store, "viewer"),
		channel: testsupport.SeedChannel(t, store, owner, "Main"),
	}
}

func subscribe(t *testing.T, bus pubsub.Bus, topic string) pubsub.Subscription {
	t.Helper()
	sub, err := bus.Subscribe(context.Background(), topic)
	require.NoError(t, err)
	t.Cleanup(sub.Close)
	return sub
}

func next(t *testing.T, sub pubsub.Subscription) pubsub.Message {
	t.Helper()
	select {
	case msg := <-sub.Messages():
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fan-out message")
	}
	return pubsub.Message{}
}

func TestChannelLocksReleaseSlots(t *testing.T) {
	locks := newChannelLocks()
	release, err := locks.acquire(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.acquire(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := locks.acquire(context.Background(), "b")
	require.NoError(t, err)
	other()
	release()
	assert.Equal(t, 0, locks.size())
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.bus.Close())

	stream, err := f.service.StartStream(context.Background(), f.channel.ID)
	require.NoError(t, err)
	assert.True(t, stream.Active())
}

func TestServiceWithoutBus(t *testing.T) {
	store := testsupport.NewStore(t)
	owner := testsupport.SeedUser(t, store, "solo")
	channel := testsupport.SeedChannel(t, store, owner, "Solo")
	svc := NewService(Config{Store: store, Logger: logging.Discard(), Metrics: metrics.New()})

	_, err := svc.StartStream(context.Background(), channel.ID)
	require.NoError(t, err)
}

func TestStoreFailureRollsBackEverything(t *testing.T) {
	var mu sync.Mutex
	fail := false
	f := newFixture(t, storage.WithPersistHook(func(storage.Snapshot) error {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return errors.New("disk unavailable")
		}
		return nil
	}))
	ctx := context.Background()
	sub := subscribe(t, f.bus, pubsub.Topic(pubsub.KindChannelUpdated))

	mu.Lock()
	fail = true
	mu.Unlock()

	_, err := f.service.StartStream(ctx, f.channel.ID)
	require.Error(t, err)
	assert.Equal(t, models.KindInternal, models.KindOf(err))

	channel, err := f.store.GetChannel(ctx, f.channel.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChannelOffline, channel.Status)
	assert.Nil(t, channel.ActiveStreamID)

	streams, err := f.store.ListStreams(ctx, f.channel.ID)
	require.NoError(t, err)
	assert.Empty(t, streams)

	select {
	case msg := <-sub.Messages():
		t.Fatalf("nothing should be published for a failed commit, got %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}
