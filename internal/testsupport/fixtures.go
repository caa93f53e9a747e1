// Package testsupport holds fixtures shared by package tests.
package testsupport

import (
	"context"
	"testing"
	"time"

	"streamline/internal/models"
	"streamline/internal/storage"
)

// NewStore returns an empty in-memory store.
func NewStore(t testing.TB) *storage.JSONStore {
	t.Helper()
	store, err := storage.NewJSONStore("")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	return store
}

// SeedUser inserts a user with the given name and roles.
func SeedUser(t testing.TB, store storage.Store, name string, roles ...string) models.User {
	t.Helper()
	user := models.User{
		ID:        storage.NewID(),
		Name:      name,
		Roles:     roles,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	err := store.Atomic(context.Background(), func(tx storage.Tx) error {
		return tx.InsertUser(context.Background(), user)
	})
	if err != nil {
		t.Fatalf("seed user %s: %v", name, err)
	}
	return user
}

// SeedChannel inserts an offline channel owned by owner.
func SeedChannel(t testing.TB, store storage.Store, owner models.User, title string) models.Channel {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	channel := models.Channel{
		ID:        storage.NewID(),
		OwnerID:   owner.ID,
		StreamKey: storage.NewStreamKey(),
		Title:     title,
		Status:    models.ChannelOffline,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := store.Atomic(context.Background(), func(tx storage.Tx) error {
		return tx.InsertChannel(context.Background(), channel)
	})
	if err != nil {
		t.Fatalf("seed channel %s: %v", title, err)
	}
	return channel
}
