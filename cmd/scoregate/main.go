// Scoregate - NBE compliance gate for credit score requests.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/opensource-finance/scoregate/internal/api"
	"github.com/opensource-finance/scoregate/internal/audit"
	"github.com/opensource-finance/scoregate/internal/bus"
	"github.com/opensource-finance/scoregate/internal/cache"
	"github.com/opensource-finance/scoregate/internal/compliance"
	"github.com/opensource-finance/scoregate/internal/domain"
	"github.com/opensource-finance/scoregate/internal/features"
	"github.com/opensource-finance/scoregate/internal/gate"
	"github.com/opensource-finance/scoregate/internal/repository"
	"github.com/opensource-finance/scoregate/internal/rules"
	"github.com/opensource-finance/scoregate/internal/scoring"
	"github.com/opensource-finance/scoregate/internal/submission"
	"github.com/opensource-finance/scoregate/internal/telemetry"
	"github.com/opensource-finance/scoregate/internal/velocity"
	"github.com/opensource-finance/scoregate/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	envFile, envErr := loadEnvFile()

	cfg, err := domain.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(os.Stdout, cfg.Logging))

	switch {
	case envErr == nil:
		slog.Info("environment file loaded", "path", envFile)
	case !errors.Is(envErr, fs.ErrNotExist):
		slog.Warn("environment file ignored", "path", envFile, "error", envErr)
	}

	slog.Info("starting scoregate",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"async_submissions", cfg.AsyncSubmissions,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing)
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
	}
	defer shutdownTracing(context.Background())

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	engine, err := rules.NewEngine(100)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	// Other tenants pick up their rules on POST /rules/reload.
	for _, tenantID := range cfg.Tenants {
		n, err := rules.Load(ctx, repo, engine, tenantID)
		if err != nil {
			slog.Warn("failed to load product rules", "tenant_id", tenantID, "error", err)
			continue
		}
		slog.Info("product rules loaded", "tenant_id", tenantID, "rules_count", n)
	}

	if cfg.Scoring.URL == "" {
		slog.Warn("scoring service URL not set; submissions will fail")
	}

	policy := compliance.PolicyFromConfig(cfg.Policy)
	svc := submission.NewService(submission.Deps{
		Evaluator:   compliance.NewEvaluator(policy),
		Transformer: features.NewTransformer(policy),
		Engine:      engine,
		Gates:       gate.NewStore(cacheImpl, cfg.Cache.SessionTTL),
		Velocity:    velocity.NewService(repo, cacheImpl),
		Audit:       audit.NewLogger(repo, busImpl),
		Repo:        repo,
		Bus:         busImpl,
		Scorer:      scoring.NewClient(cfg.Scoring),
		Async:       cfg.AsyncSubmissions,
	})

	var asyncWorker *worker.Worker
	if svc.Asynchronous() {
		asyncWorker = worker.NewWorker(busImpl, svc)
		workerCfg := worker.Config{
			TenantIDs: cfg.Tenants,
			Timeout:   cfg.Scoring.Timeout*time.Duration(cfg.Scoring.MaxRetries+1) + 5*time.Second,
		}
		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
			os.Exit(1)
		}
	}

	srv := api.NewServer(cfg.Server, svc, cacheImpl, Version)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("scoregate is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop taking new work before the server drains.
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("scoregate shutdown complete")
}

// loadEnvFile reads SCOREGATE_ENV_FILE, or ./.env, into the process
// environment. Variables that are already set win.
func loadEnvFile() (string, error) {
	path := os.Getenv("SCOREGATE_ENV_FILE")
	if path == "" {
		path = ".env"
	}
	return path, godotenv.Load(path)
}

// newLogger builds the process logger. SCOREGATE_DEBUG=true forces debug.
func newLogger(w io.Writer, cfg domain.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if os.Getenv("SCOREGATE_DEBUG") == "true" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  SCOREGATE - NBE compliance gate")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /compliance/evaluate        - NBE verdict for an application")
	fmt.Println("    POST /compliance/report          - Verdict with pricing and collection terms")
	fmt.Println("    POST /validate                   - Field and business validation")
	fmt.Println("    POST /features/transform         - Build the scoring feature vector")
	fmt.Println("    GET  /features/catalog           - List scoring features")
	fmt.Println("    POST /sessions/{id}/evaluate     - Evaluate the form on a gate session")
	fmt.Println("    POST /sessions/{id}/override     - Supervisor override")
	fmt.Println("    POST /sessions/{id}/submit       - Submit for credit scoring")
	fmt.Println("    GET  /submissions/{id}           - Get submission by ID")
	fmt.Println("    GET  /customers/{id}/audit       - Compliance audit trail")
	fmt.Println("    GET  /rules                      - List product rules")
	fmt.Println("    POST /rules/reload               - Hot-reload product rules")
	fmt.Println("    GET  /health                     - Health check")
	fmt.Println()
}
