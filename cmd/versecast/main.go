// Command versecast is the main entry point for the Versecast live verse
// detection server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/versecast/versecast/internal/config"
	"github.com/versecast/versecast/internal/health"
	"github.com/versecast/versecast/internal/observe"
	"github.com/versecast/versecast/internal/server"
	"github.com/versecast/versecast/internal/verse"
	"github.com/versecast/versecast/pkg/provider/extract"
	extractllm "github.com/versecast/versecast/pkg/provider/extract/llm"
	"github.com/versecast/versecast/pkg/provider/extract/pattern"
	"github.com/versecast/versecast/pkg/provider/stt"
	"github.com/versecast/versecast/pkg/provider/stt/fallback"
	sttopenai "github.com/versecast/versecast/pkg/provider/stt/openai"
	"github.com/versecast/versecast/pkg/provider/stt/whisperd"
)

// version is injected at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "versecast: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "versecast: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so the config watcher can adjust it at
	// runtime.
	levelVar := &slog.LevelVar{}
	levelVar.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
	slog.SetDefault(logger)

	slog.Info("versecast starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	shutdownObserve, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownObserve(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	sttP, extractor, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Verse store ───────────────────────────────────────────────────────────
	store, readyChecks, closeStore, err := openStore(ctx, cfg.Verses)
	if err != nil {
		slog.Error("failed to open verse store", "err", err)
		return 1
	}
	defer closeStore()

	// ── Config watcher: hot-reload the log level ──────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			levelVar.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.PreferredVersionChanged {
			slog.Warn("verses.preferred_version changed; restart to apply",
				"new", d.NewPreferredVersion)
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	srv, err := server.New(server.Config{
		ListenAddr:  cfg.Server.ListenAddr,
		TLS:         cfg.Server.TLS,
		Pipeline:    cfg.Pipeline,
		STT:         sttP,
		Extractor:   extractor,
		Store:       store,
		ReadyChecks: readyChecks,
	})
	if err != nil {
		slog.Error("failed to initialise server", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// llmBackends are the any-llm-go backends usable by the LLM extractor.
var llmBackends = []string{
	"openai", "anthropic", "gemini",
	"deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []sttopenai.Option
		if entry.Model != "" {
			opts = append(opts, sttopenai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, sttopenai.WithLanguage(lang))
		}
		return sttopenai.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisperd", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisperd.Option
		if entry.Model != "" {
			opts = append(opts, whisperd.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisperd.WithLanguage(lang))
		}
		if name := optString(entry.Options, "filename"); name != "" {
			opts = append(opts, whisperd.WithFilename(name))
		}
		return whisperd.New(entry.BaseURL, opts...)
	})

	// ── Extract ───────────────────────────────────────────────────────────────

	reg.RegisterExtract("pattern", func(config.ProviderEntry) (extract.Provider, error) {
		return pattern.New(), nil
	})

	// All LLM backends share the same pattern: optional APIKey + optional
	// BaseURL, with ollama using BaseURL for the local server address.
	for _, backendName := range append(llmBackends, "ollama") {
		reg.RegisterExtract(backendName, func(entry config.ProviderEntry) (extract.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return extractllm.New(backendName, entry.Model, opts...)
		})
	}
}

// buildProviders instantiates the configured STT and extraction providers.
// An unconfigured extractor falls back to the offline pattern matcher.
func buildProviders(cfg *config.Config, reg *config.Registry) (stt.Provider, extract.Provider, error) {
	sttP, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)

	if fb := cfg.Providers.STTFallback; fb.Name != "" {
		secondary, err := reg.CreateSTT(fb)
		if err != nil {
			return nil, nil, fmt.Errorf("create stt fallback provider %q: %w", fb.Name, err)
		}
		sttP, err = fallback.New(sttP, cfg.Providers.STT.Name, secondary, fb.Name, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("wire stt fallback: %w", err)
		}
		slog.Info("provider created", "kind", "stt_fallback", "name", fb.Name)
	}

	if cfg.Providers.Extract.Name == "" {
		slog.Info("provider created", "kind", "extract", "name", "pattern (fallback)")
		return sttP, pattern.New(), nil
	}

	extractor, err := reg.CreateExtract(cfg.Providers.Extract)
	if err != nil {
		return nil, nil, fmt.Errorf("create extract provider %q: %w", cfg.Providers.Extract.Name, err)
	}
	slog.Info("provider created", "kind", "extract", "name", cfg.Providers.Extract.Name)
	return sttP, extractor, nil
}

// openStore connects to PostgreSQL when a DSN is configured, otherwise builds
// an in-memory store seeded with the bundled sample verses. It returns the
// store, readiness checks for /readyz, and a close function.
func openStore(ctx context.Context, cfg config.VersesConfig) (verse.Store, []health.Checker, func(), error) {
	if cfg.PostgresDSN == "" {
		mem := verse.NewMemStore(cfg.PreferredVersion)
		for _, e := range verse.SampleVerses {
			mem.Add(e.Book, e.Chapter, e.Verse, e.Version, e.Text)
		}
		slog.Warn("using in-memory verse store", "verses", len(verse.SampleVerses))
		return mem, nil, func() {}, nil
	}

	var opts []verse.PostgresOption
	if cfg.PreferredVersion != "" {
		opts = append(opts, verse.WithPreferredVersion(cfg.PreferredVersion))
	}
	pg, err := verse.Open(ctx, cfg.PostgresDSN, opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := pg.Ping(ctx); err != nil {
		pg.Close()
		return nil, nil, nil, fmt.Errorf("ping verse database: %w", err)
	}
	slog.Info("connected to verse database")

	checks := []health.Checker{{Name: "database", Check: pg.Ping}}
	return pg, checks, func() { pg.Close() }, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        Versecast — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("Extract", cfg.Providers.Extract.Name, cfg.Providers.Extract.Model)
	if cfg.Verses.PostgresDSN != "" {
		fmt.Printf("║  Verse store     : %-19s ║\n", "postgres")
	} else {
		fmt.Printf("║  Verse store     : %-19s ║\n", "in-memory (dev)")
	}
	if cfg.Verses.PreferredVersion != "" {
		fmt.Printf("║  Preferred trans : %-19s ║\n", cfg.Verses.PreferredVersion)
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
