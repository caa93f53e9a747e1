// Command migrate-json-to-postgres copies a JSON datastore into Postgres and
// verifies the row counts afterwards.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"streamline/internal/observability/logging"
	"streamline/internal/storage"
)

func main() {
	jsonPath := flag.String("json", "data/store.json", "path to the JSON datastore to migrate")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	flag.Parse()

	logger := logging.New(logging.Config{Level: "info", Writer: os.Stdout})

	dsn := strings.TrimSpace(*postgresDSN)
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("STREAMLINE_STORAGE_POSTGRES_DSN"))
	}
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	if dsn == "" {
		logger.Error("postgres DSN required", "hint", "set --postgres-dsn, STREAMLINE_STORAGE_POSTGRES_DSN, or DATABASE_URL")
		os.Exit(1)
	}

	ctx := context.Background()
	snapshot, err := storage.LoadSnapshotFromJSON(*jsonPath)
	if err != nil {
		logger.Error("failed to load JSON snapshot", "error", err)
		os.Exit(1)
	}
	counts := snapshot.Counts()
	logger.Info("loaded JSON snapshot", "path", *jsonPath, "users", counts.Users, "channels", counts.Channels)

	store, err := storage.NewPostgresStore(ctx, dsn,
		storage.WithLogger(logging.WithComponent(logger, "storage")),
		storage.WithPostgresApplicationName("streamline-migrate"))
	if err != nil {
		logger.Error("failed to open postgres store", "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close(context.Background()) }()

	if err := store.Migrate(ctx); err != nil {
		logger.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}
	if err := storage.ImportSnapshotToPostgres(ctx, store, snapshot); err != nil {
		logger.Error("failed to import snapshot", "error", err)
		os.Exit(1)
	}
	if err := verifyCounts(ctx, dsn, counts); err != nil {
		logger.Error("verification failed", "error", err)
		os.Exit(1)
	}

	logger.Info("migration completed",
		"users", counts.Users,
		"channels", counts.Channels,
		"streams", counts.Streams,
		"chat_messages", counts.ChatMessages)
}

type countCheck struct {
	table    string
	expected int
}

func countChecks(counts storage.SnapshotCounts) []countCheck {
	return []countCheck{
		{"users", counts.Users},
		{"categories", counts.Categories},
		{"channels", counts.Channels},
		{"streams", counts.Streams},
		{"stream_metadata", counts.StreamMetadata},
		{"chat_messages", counts.ChatMessages},
		{"moderation_log", counts.ModerationLog},
		{"followers", counts.Followers},
		{"subscriptions", counts.Subscriptions},
	}
}

func verifyCounts(ctx context.Context, dsn string, counts storage.SnapshotCounts) error {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("parse verification config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open verification connection: %w", err)
	}
	defer pool.Close()

	for _, check := range countChecks(counts) {
		var actual int
		if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+check.table).Scan(&actual); err != nil {
			return fmt.Errorf("query %s: %w", check.table, err)
		}
		if actual != check.expected {
			return fmt.Errorf("mismatch for %s: expected %d, got %d", check.table, check.expected, actual)
		}
	}
	return nil
}
