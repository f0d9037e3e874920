// Briefd is the analytical-brief pipeline daemon.
//
// This binary starts the briefd HTTP server with full service
// initialization: model routing, budget enforcement, quality gates,
// adversarial debate, escalation, and the durable run store.
//
// Configuration is loaded from a YAML file plus BRIEFD_* environment
// variables. See internal/config for details.
//
// Usage:
//
//	# Start with defaults
//	briefd
//
//	# Start with a config file
//	briefd -config /etc/briefd/config.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/briefd/internal/budget"
	"github.com/fyrsmithlabs/briefd/internal/cache"
	"github.com/fyrsmithlabs/briefd/internal/config"
	"github.com/fyrsmithlabs/briefd/internal/debate"
	"github.com/fyrsmithlabs/briefd/internal/escalation"
	"github.com/fyrsmithlabs/briefd/internal/gates"
	"github.com/fyrsmithlabs/briefd/internal/genai"
	"github.com/fyrsmithlabs/briefd/internal/logging"
	"github.com/fyrsmithlabs/briefd/internal/pipeline"
	"github.com/fyrsmithlabs/briefd/internal/router"
	"github.com/fyrsmithlabs/briefd/internal/server"
	"github.com/fyrsmithlabs/briefd/internal/store"
	"github.com/fyrsmithlabs/briefd/internal/telemetry"
	"github.com/fyrsmithlabs/briefd/internal/verify"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  briefd            Start the briefd daemon\n")
			fmt.Fprintf(os.Stderr, "  briefd version    Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("briefd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run initializes all dependencies and blocks until ctx is cancelled.
//
//  1. Loads and validates configuration
//  2. Initializes telemetry and the logger (with the OTEL log bridge)
//  3. Builds the provider client, budget controller, cache, and router
//  4. Wires quality gates, debate, escalation, verification, and store
//  5. Assembles the pipeline and starts the HTTP server
//  6. Performs graceful shutdown on context cancellation
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}

	logger, err := initLogger(cfg.Logging, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info(ctx, "starting briefd",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.Int("providers", len(cfg.Providers)))

	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, "telemetry shutdown failed", zap.Error(err))
		}
	}()

	client, err := genai.NewLangchainClient(cfg.Providers, logger.Underlying())
	if err != nil {
		return fmt.Errorf("building provider client: %w", err)
	}

	runStore, err := store.New(cfg.Store.DataDir)
	if err != nil {
		return fmt.Errorf("opening run store: %w", err)
	}

	controller := budget.New(cfg.Budget.RunCeilingUSD, cfg.Budget.DailyCeilingUSD, runStore.AppendCost)
	completionCache := cache.New(cfg.Cache.TTL.Duration(), cfg.Cache.MaxEntries)

	modelRouter := router.New(
		cfg.Routing,
		cfg.Providers,
		client,
		controller,
		completionCache,
		logger,
		tel.Meter("briefd/router"),
	)

	evaluator := gates.NewEvaluator(gates.NewTaskScorer(modelRouter), logger)
	debater := debate.New(&debate.RouterRoles{Router: modelRouter}, debate.Config{
		MaxRounds:         cfg.Debate.MaxRounds,
		ConcedeConfidence: cfg.Debate.ConcedeConfidence,
	}, logger)

	pipe := pipeline.New(
		*cfg,
		&pipeline.RouterAgent{Router: modelRouter},
		&pipeline.RouterCritic{Router: modelRouter},
		evaluator,
		controller,
		debater,
		escalation.New(cfg.Escalation),
		verify.NewClient(cfg.Verify),
		runStore,
		logger,
	)

	srv := server.New(cfg.Server, pipe, runStore, logger)

	logger.Info(ctx, "server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("metrics_endpoint", "/metrics"),
		zap.String("data_dir", cfg.Store.DataDir))

	return srv.Start(ctx)
}

// initLogger bridges file configuration to the logging package.
func initLogger(lc config.LoggingConfig, otelProvider otellog.LoggerProvider) (*logging.Logger, error) {
	logCfg := logging.NewDefaultConfig()
	if lc.Format != "" {
		logCfg.Format = lc.Format
	}
	if lc.Level != "" {
		level, err := zapcore.ParseLevel(lc.Level)
		if err != nil {
			return nil, fmt.Errorf("parsing log level %q: %w", lc.Level, err)
		}
		logCfg.Level = level
	}
	return logging.NewLogger(logCfg, otelProvider)
}
