// Command seed creates a user in the datastore and, optionally, a channel
// they own and a paid subscription to another user.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"streamline/internal/live"
	"streamline/internal/models"
	"streamline/internal/observability/logging"
	"streamline/internal/social"
	"streamline/internal/storage"
)

type seedOptions struct {
	Name         string
	Admin        bool
	ChannelTitle string
	SubscribeTo  string
	Tier         string
	PriceCents   int64
	Currency     string
	Months       int
}

type seedResult struct {
	User         models.User
	UserCreated  bool
	Channel      *models.Channel
	Subscription *models.Subscription
}

func main() {
	var (
		jsonPath    string
		postgresDSN string
		opts        seedOptions
	)
	flag.StringVar(&jsonPath, "json", "", "path to the JSON datastore (store.json)")
	flag.StringVar(&postgresDSN, "postgres-dsn", "", "Postgres connection string")
	flag.StringVar(&opts.Name, "name", "", "user name to create or reuse")
	flag.BoolVar(&opts.Admin, "admin", false, "grant the admin role to a newly created user")
	flag.StringVar(&opts.ChannelTitle, "channel", "", "create a channel with this title owned by the user")
	flag.StringVar(&opts.SubscribeTo, "subscribe-to", "", "record a subscription from the user to this streamer name")
	flag.StringVar(&opts.Tier, "tier", "1000", "subscription tier")
	flag.Int64Var(&opts.PriceCents, "price-cents", 499, "subscription price in cents")
	flag.StringVar(&opts.Currency, "currency", "USD", "subscription currency")
	flag.IntVar(&opts.Months, "months", 1, "subscription length in months; 0 for no expiry")
	flag.Parse()

	if (jsonPath == "") == (postgresDSN == "") {
		fatalf("exactly one of --json or --postgres-dsn must be provided")
	}
	opts.Name = strings.TrimSpace(opts.Name)
	if opts.Name == "" {
		fatalf("--name is required")
	}

	ctx := context.Background()
	store, err := openStore(ctx, jsonPath, postgresDSN)
	if err != nil {
		fatalf("open datastore: %v", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = store.Close(closeCtx)
	}()

	result, err := seed(ctx, store, opts)
	if err != nil {
		fatalf("seed: %v", err)
	}

	state := "reused"
	if result.UserCreated {
		state = "created"
	}
	fmt.Printf("User %s (%s) %s.\n", result.User.Name, result.User.ID, state)
	if result.Channel != nil {
		fmt.Printf("Channel %q created: id=%s stream_key=%s\n", result.Channel.Title, result.Channel.ID, result.Channel.StreamKey)
	}
	if result.Subscription != nil {
		fmt.Printf("Subscription %s recorded to %s.\n", result.Subscription.ID, opts.SubscribeTo)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func openStore(ctx context.Context, jsonPath, postgresDSN string) (storage.Store, error) {
	if jsonPath != "" {
		return storage.NewJSONStore(jsonPath)
	}
	store, err := storage.NewPostgresStore(ctx, postgresDSN, storage.WithPostgresApplicationName("streamline-seed"))
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close(ctx)
		return nil, err
	}
	return store, nil
}

func seed(ctx context.Context, store storage.Store, opts seedOptions) (seedResult, error) {
	user, created, err := ensureUser(ctx, store, opts.Name, opts.Admin)
	if err != nil {
		return seedResult{}, err
	}
	result := seedResult{User: user, UserCreated: created}

	if title := strings.TrimSpace(opts.ChannelTitle); title != "" {
		service := live.NewService(live.Config{Store: store, Logger: logging.Discard()})
		channel, err := service.CreateChannel(ctx, user.ID, title)
		if err != nil {
			return seedResult{}, err
		}
		result.Channel = &channel
	}

	if streamerName := strings.TrimSpace(opts.SubscribeTo); streamerName != "" {
		streamer, err := store.GetUserByName(ctx, streamerName)
		if err != nil {
			return seedResult{}, fmt.Errorf("look up streamer %q: %w", streamerName, err)
		}
		registry := social.NewRegistry(store, logging.Discard())
		subscription, err := registry.RecordSubscription(ctx, social.SubscriptionInput{
			StreamerID: streamer.ID,
			UserID:     user.ID,
			Tier:       opts.Tier,
			PriceCents: opts.PriceCents,
			Currency:   opts.Currency,
			Duration:   time.Duration(opts.Months) * 30 * 24 * time.Hour,
		})
		if err != nil {
			return seedResult{}, err
		}
		result.Subscription = &subscription
	}
	return result, nil
}

// ensureUser returns the user named name, creating it when missing. Roles of
// an existing user are left untouched.
func ensureUser(ctx context.Context, store storage.Store, name string, admin bool) (models.User, bool, error) {
	existing, err := store.GetUserByName(ctx, name)
	switch {
	case err == nil:
		if admin && !existing.HasRole(models.RoleAdmin) {
			return models.User{}, false, fmt.Errorf("user %q already exists without the admin role", name)
		}
		return existing, false, nil
	case !errors.Is(err, models.ErrNotFound):
		return models.User{}, false, err
	}

	user := models.User{
		ID:        storage.NewID(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if admin {
		user.Roles = []string{models.RoleAdmin}
	}
	if err := store.Atomic(ctx, func(tx storage.Tx) error {
		return tx.InsertUser(ctx, user)
	}); err != nil {
		return models.User{}, false, err
	}
	return user, true, nil
}
