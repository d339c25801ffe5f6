// Kestrel - Synthetic card-fraud analytics pipeline.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/datagen"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/report"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: kestrel <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  init-db    Create the database schema")
	fmt.Fprintln(os.Stderr, "  seed       Generate and store accounts, cards and merchants")
	fmt.Fprintln(os.Stderr, "  generate   Generate transactions and inject fraud patterns")
	fmt.Fprintln(os.Stderr, "  features   Recompute per-card feature rows")
	fmt.Fprintln(os.Stderr, "  rulescore  Run the rule engine over the scoring window")
	fmt.Fprintln(os.Stderr, "  report     Write the daily KPI report")
	fmt.Fprintln(os.Stderr, "  serve      Run the HTTP API and live screening worker")
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	command := os.Args[1]

	fs := flag.NewFlagSet(command, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to settings.yaml (optional)")

	var (
		days       = fs.Int("days", 30, "Days of history (generate, report)")
		txPerDay   = fs.Int("tx-per-day", 2, "Mean transactions per card per day (generate)")
		windowDays = fs.Int("window-days", -1, "Scoring window in days, 0 scores everything (rulescore)")
		outDir     = fs.String("out", "reports", "Output directory (report)")
	)
	fs.Parse(os.Args[2:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.Logging)
	slog.Info("starting kestrel",
		"command", command,
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	switch command {
	case "init-db":
		// Migrations run on open; nothing more to do.
		slog.Info("database schema ready")

	case "seed":
		err = runSeed(ctx, cfg, repo)

	case "generate":
		err = runGenerate(ctx, cfg, repo, *days, *txPerDay)

	case "features":
		err = runFeatures(ctx, cfg, repo)

	case "rulescore":
		err = runRuleScore(ctx, cfg, repo, *windowDays)

	case "report":
		err = runReport(ctx, repo, *days, *outDir)

	case "serve":
		err = runServe(ctx, cfg, repo)

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", command)
		usage()
	}

	if err != nil {
		slog.Error("command failed", "command", command, "error", err)
		os.Exit(1)
	}
}

func setupLogger(cfg domain.LoggingConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if os.Getenv("KESTREL_DEBUG") == "true" {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

func runSeed(ctx context.Context, cfg *domain.Config, repo domain.Repository) error {
	gen := datagen.NewGenerator(cfg.Generation, cfg.App.Seed)

	accounts := gen.Accounts()
	if err := repo.SaveAccounts(ctx, accounts); err != nil {
		return fmt.Errorf("failed to save accounts: %w", err)
	}

	cards := gen.Cards(accounts)
	if err := repo.SaveCards(ctx, cards); err != nil {
		return fmt.Errorf("failed to save cards: %w", err)
	}

	merchants := gen.Merchants()
	if err := repo.SaveMerchants(ctx, merchants); err != nil {
		return fmt.Errorf("failed to save merchants: %w", err)
	}

	slog.Info("entities seeded",
		"accounts", len(accounts),
		"cards", len(cards),
		"merchants", len(merchants),
	)
	return nil
}

func runGenerate(ctx context.Context, cfg *domain.Config, repo domain.Repository, days, txPerDay int) error {
	cards, err := repo.ListCards(ctx)
	if err != nil {
		return fmt.Errorf("failed to list cards: %w", err)
	}
	merchants, err := repo.ListMerchants(ctx)
	if err != nil {
		return fmt.Errorf("failed to list merchants: %w", err)
	}
	if len(cards) == 0 || len(merchants) == 0 {
		return fmt.Errorf("no cards or merchants found, run seed first")
	}

	gen := datagen.NewGenerator(cfg.Generation, cfg.App.Seed)
	txs := gen.Transactions(cards, merchants, days, txPerDay)
	txs = gen.InjectFraud(txs, cfg.Generation.FraudRatio)

	inserted, err := repo.SaveTransactions(ctx, txs)
	if err != nil {
		return fmt.Errorf("failed to save transactions: %w", err)
	}

	slog.Info("transactions generated",
		"generated", len(txs),
		"inserted", inserted,
		"days", days,
	)
	return nil
}

func runFeatures(ctx context.Context, cfg *domain.Config, repo domain.Repository) error {
	builder := features.NewBuilder(repo, cfg.App.MaxWorkers)

	start := time.Now()
	n, err := builder.BuildFeatures(ctx)
	if err != nil {
		return err
	}

	slog.Info("feature build complete",
		"rows", n,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func runRuleScore(ctx context.Context, cfg *domain.Config, repo domain.Repository, windowDays int) error {
	engine, err := rules.NewEngine(repo, nil, cfg.App.Timezone, cfg.App.MaxWorkers)
	if err != nil {
		return err
	}
	if err := engine.LoadFile(cfg.RulesPath); err != nil {
		return err
	}
	slog.Info("rules loaded", "path", cfg.RulesPath, "count", engine.RulesCount())

	window := cfg.App.ScoreWindowDays
	if windowDays >= 0 {
		window = windowDays
	}

	alerts, err := engine.ScoreRules(ctx, &window)
	if err != nil {
		return err
	}

	slog.Info("rule scoring complete", "alerts", alerts, "window_days", window)
	return nil
}

func runReport(ctx context.Context, repo domain.Repository, days int, outDir string) error {
	reporter := report.NewReporter(repo, days)

	path, err := reporter.WriteMarkdown(ctx, outDir)
	if err != nil {
		return err
	}

	slog.Info("report written", "path", path, "days", days)
	return nil
}

func runServe(ctx context.Context, cfg *domain.Config, repo domain.Repository) error {
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	engine, err := rules.NewEngine(repo, busImpl, cfg.App.Timezone, cfg.App.MaxWorkers)
	if err != nil {
		return fmt.Errorf("failed to initialize rule engine: %w", err)
	}
	if err := engine.LoadFile(cfg.RulesPath); err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	builder := features.NewBuilder(repo, cfg.App.MaxWorkers)

	screener := worker.NewWorker(busImpl, repo, cacheImpl, worker.DefaultConfig())
	if err := screener.Start(); err != nil {
		return fmt.Errorf("failed to start screening worker: %w", err)
	}
	slog.Info("screening worker started")

	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, engine, builder, screener, cfg.RulesPath, Version)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	if err := screener.Stop(); err != nil {
		slog.Error("failed to stop screening worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 KESTREL                  ║")
	fmt.Println("  ║      Card Fraud Analytics Pipeline        ║")
	fmt.Println("  ║       Small bird, sharp eyes.             ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /transactions       - Ingest and screen a transaction")
	fmt.Println("    GET  /transactions/{id}  - Get transaction by ID")
	fmt.Println("    POST /pipeline/features  - Recompute feature rows")
	fmt.Println("    POST /pipeline/score     - Run rule scoring")
	fmt.Println("    GET  /alerts             - List recent alerts")
	fmt.Println("    GET  /rules              - List loaded rules")
	fmt.Println("    POST /rules/reload       - Hot-reload the rules file")
	fmt.Println("    GET  /kpis/daily         - Daily KPI aggregates")
	fmt.Println("    GET  /health             - Health check")
	fmt.Println()
}
