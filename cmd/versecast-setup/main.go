// Command versecast-setup prepares the verse database: it creates the corpus
// tables and seeds the bundled translations and starter verses. Safe to run
// repeatedly against the same database.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/versecast/versecast/internal/config"
	"github.com/versecast/versecast/internal/verse"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to a YAML config file to read the DSN from")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides the config file)")
	skipSeed := flag.Bool("skip-seed", false, "only create tables, do not insert sample data")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	target := *dsn
	if target == "" && *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			slog.Error("failed to load config", "path", *configPath, "err", err)
			return 1
		}
		target = cfg.Verses.PostgresDSN
	}
	if target == "" {
		fmt.Fprintln(os.Stderr, "versecast-setup: no database configured; pass -dsn or -config with verses.postgres_dsn set")
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := verse.Open(ctx, target)
	if err != nil {
		slog.Error("failed to connect", "err", err)
		return 1
	}
	defer store.Close()

	if err := store.Ping(ctx); err != nil {
		slog.Error("database unreachable", "err", err)
		return 1
	}

	slog.Info("creating corpus tables")
	if err := store.Migrate(ctx); err != nil {
		slog.Error("migration failed", "err", err)
		return 1
	}

	if *skipSeed {
		slog.Info("setup complete", "seeded", false)
		return 0
	}

	slog.Info("seeding sample data",
		"versions", len(verse.SampleVersions),
		"verses", len(verse.SampleVerses),
	)
	if err := store.Seed(ctx, verse.SampleVersions, verse.SampleVerses); err != nil {
		slog.Error("seeding failed", "err", err)
		return 1
	}

	slog.Info("setup complete", "seeded", true)
	return 0
}
