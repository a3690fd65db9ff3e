package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/llm-routing-core/internal/alerts"
	"github.com/tributary-ai/llm-routing-core/internal/config"
	"github.com/tributary-ai/llm-routing-core/internal/health"
	"github.com/tributary-ai/llm-routing-core/internal/metrics"
	"github.com/tributary-ai/llm-routing-core/internal/middleware"
	"github.com/tributary-ai/llm-routing-core/internal/routing"
	"github.com/tributary-ai/llm-routing-core/internal/scheduler"
	"github.com/tributary-ai/llm-routing-core/internal/server"
	"github.com/tributary-ai/llm-routing-core/internal/telemetry"
)

// Application represents the main application
type Application struct {
	config    *config.Config
	logger    *logrus.Logger
	server    *server.Server
	scheduler *scheduler.Scheduler
	journal   *routing.Journal
}

// NewApplication creates a new application instance
func NewApplication(configPath string) (*Application, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logrus.New()
	if err := setupLogger(logger, cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	// Core components, leaves first.
	providerStats := metrics.NewStore(cfg.ToStoreConfig(), logger)
	serviceStats := metrics.NewStore(cfg.ToStoreConfig(), logger)
	tracker := metrics.NewTracker(cfg.ToTrackerConfig(), providerStats, serviceStats, logger)
	healthTracker := health.NewTracker(cfg.ToHealthConfig(), logger)
	alertEngine := alerts.NewEngine(cfg.ToAlertsConfig(), logger)
	journal := routing.NewJournal(cfg.ToJournalConfig(), logger)
	routingEngine := routing.NewEngine(cfg.ToRoutingConfig(), providerStats, tracker, healthTracker, journal, logger)

	for _, profile := range cfg.Providers {
		routingEngine.RegisterProvider(profile)
	}
	logger.WithField("count", len(cfg.Providers)).Info("Provider registration completed")

	sched := scheduler.New(logger)
	sched.Add("stale-health-sweep", cfg.Scheduler.TrendInterval.Std(), func(ctx context.Context) {
		healthTracker.SweepStale()
	})
	sched.Add("alert-sweep", cfg.Scheduler.AlertInterval.Std(), func(ctx context.Context) {
		alertEngine.Evaluate(providerStats.All(), healthTracker.Snapshot())
		alertEngine.Evaluate(serviceStats.All(), nil)
	})
	sched.Add("request-cleanup", cfg.Scheduler.CleanupInterval.Std(), func(ctx context.Context) {
		if removed := tracker.CleanupStale(); removed > 0 {
			logger.WithField("removed", removed).Info("Cleaned up stale requests")
		}
	})

	validation, err := middleware.NewValidationMiddleware(&cfg.Validation, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation middleware: %w", err)
	}

	collector := telemetry.NewCollector(providerStats, serviceStats, tracker, healthTracker)

	serverInstance, err := server.NewServer(
		server.Core{
			ProviderStats: providerStats,
			ServiceStats:  serviceStats,
			Tracker:       tracker,
			Health:        healthTracker,
			Alerts:        alertEngine,
			Routing:       routingEngine,
			Journal:       journal,
		},
		cfg.ToServerConfig(),
		validation,
		collector,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	return &Application{
		config:    cfg,
		logger:    logger,
		server:    serverInstance,
		scheduler: sched,
		journal:   journal,
	}, nil
}

// Run starts the application
func (app *Application) Run() error {
	app.logger.Info("Starting LLM Routing Core")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	app.scheduler.Start()

	serverErrors := make(chan error, 1)
	go func() {
		app.logger.WithField("address", ":"+app.config.Server.Port).Info("HTTP server starting")
		if err := app.server.Start(); err != nil {
			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		app.scheduler.Stop()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		app.logger.WithField("signal", sig.String()).Info("Shutdown signal received")
	}

	app.logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := app.server.Stop(shutdownCtx); err != nil {
		app.logger.WithError(err).Error("Server shutdown error")
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	app.scheduler.Stop()
	app.journal.Stop()

	app.logger.Info("Graceful shutdown completed")
	return nil
}

// setupLogger configures the logger based on configuration
func setupLogger(logger *logrus.Logger, config config.LoggingConfig) error {
	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %s: %w", config.Level, err)
	}
	logger.SetLevel(level)

	switch config.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	default:
		return fmt.Errorf("invalid log format: %s", config.Format)
	}

	switch config.Output {
	case "stdout":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", config.Output, err)
		}
		logger.SetOutput(file)
	}

	return nil
}

// printUsage prints application usage information
func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\nOptions:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
	fmt.Fprintf(os.Stderr, "  ROUTING_CORE_PORT         Server port (default: 8080)\n")
	fmt.Fprintf(os.Stderr, "  ROUTING_CORE_LOG_LEVEL    Log level (debug,info,warn,error,fatal)\n")
	fmt.Fprintf(os.Stderr, "  ROUTING_CORE_LOG_FORMAT   Log format (json,text)\n")
	fmt.Fprintf(os.Stderr, "  ROUTING_CORE_ALGORITHM    Load-balancing algorithm\n")
	fmt.Fprintf(os.Stderr, "  ROUTING_CORE_RANDOM_SEED  Seed for reproducible tie-breaks\n")
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  %s --config configs/config.yaml\n", os.Args[0])
}

func main() {
	var (
		configPath = flag.String("config", "", "Path to configuration file")
		showHelp   = flag.Bool("help", false, "Show help message")
		version    = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	if *version {
		fmt.Printf("LLM Routing Core v1.0.0\n")
		os.Exit(0)
	}

	app, err := NewApplication(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application error: %v\n", err)
		os.Exit(1)
	}
}
