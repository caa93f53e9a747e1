package main

import (
	"context"
	"testing"

	"streamline/internal/models"
	"streamline/internal/storage"
	"streamline/internal/testsupport"
)

func TestSeedCreatesAdminWithChannel(t *testing.T) {
	store := testsupport.NewStore(t)
	ctx := context.Background()

	result, err := seed(ctx, store, seedOptions{Name: "root", Admin: true, ChannelTitle: "Ops"})
	if err != nil {
		t.Fatalf("seed returned error: %v", err)
	}
	if !result.UserCreated {
		t.Fatal("expected user to be created")
	}
	if !result.User.HasRole(models.RoleAdmin) {
		t.Fatalf("expected admin role, got %v", result.User.Roles)
	}
	if result.Channel == nil || result.Channel.OwnerID != result.User.ID {
		t.Fatalf("expected channel owned by seeded user, got %+v", result.Channel)
	}
	if result.Channel.StreamKey == "" {
		t.Fatal("expected channel to carry a stream key")
	}

	channels, err := store.ListChannels(ctx, storage.ChannelFilter{OwnerID: result.User.ID})
	if err != nil {
		t.Fatalf("list channels: %v", err)
	}
	if len(channels) != 1 {
		t.Fatalf("expected one channel, got %d", len(channels))
	}
}

func TestSeedReusesExistingUser(t *testing.T) {
	store := testsupport.NewStore(t)
	existing := testsupport.SeedUser(t, store, "viewer")

	result, err := seed(context.Background(), store, seedOptions{Name: "viewer"})
	if err != nil {
		t.Fatalf("seed returned error: %v", err)
	}
	if result.UserCreated {
		t.Fatal("expected existing user to be reused")
	}
	if result.User.ID != existing.ID {
		t.Fatalf("expected id %s, got %s", existing.ID, result.User.ID)
	}
}

func TestSeedRefusesToPromoteExistingUser(t *testing.T) {
	store := testsupport.NewStore(t)
	testsupport.SeedUser(t, store, "viewer")

	if _, err := seed(context.Background(), store, seedOptions{Name: "viewer", Admin: true}); err == nil {
		t.Fatal("expected error when an existing user lacks the admin role")
	}
}

func TestSeedRecordsSubscription(t *testing.T) {
	store := testsupport.NewStore(t)
	streamer := testsupport.SeedUser(t, store, "streamer")

	result, err := seed(context.Background(), store, seedOptions{
		Name:        "fan",
		SubscribeTo: "streamer",
		Tier:        "1000",
		PriceCents:  499,
		Currency:    "usd",
		Months:      1,
	})
	if err != nil {
		t.Fatalf("seed returned error: %v", err)
	}
	if result.Subscription == nil {
		t.Fatal("expected subscription")
	}
	if result.Subscription.StreamerID != streamer.ID || result.Subscription.Currency != "USD" {
		t.Fatalf("unexpected subscription %+v", result.Subscription)
	}
	if result.Subscription.ExpiresAt == nil {
		t.Fatal("expected expiry for a one month subscription")
	}
}

func TestSeedUnknownStreamer(t *testing.T) {
	store := testsupport.NewStore(t)
	if _, err := seed(context.Background(), store, seedOptions{Name: "fan", SubscribeTo: "ghost", Tier: "1000", Currency: "USD"}); err == nil {
		t.Fatal("expected error for unknown streamer")
	}
}
