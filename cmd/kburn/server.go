package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/kburn/internal/admin"
	"github.com/goodtune/kburn/internal/clock"
	"github.com/goodtune/kburn/internal/config"
	"github.com/goodtune/kburn/internal/controller"
	"github.com/goodtune/kburn/internal/history"
	"github.com/goodtune/kburn/internal/ledger"
	"github.com/goodtune/kburn/internal/metrics"
	"github.com/goodtune/kburn/internal/settings"
	"github.com/goodtune/kburn/internal/storage"
	"github.com/goodtune/kburn/internal/storage/file"
	"github.com/goodtune/kburn/internal/storage/redis"
	"github.com/goodtune/kburn/internal/systemd"
	"github.com/goodtune/kburn/internal/worker"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start kburn",
	Long:  `Start the worker pool, the admission controller, and the admin and metrics endpoints.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting kburn")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().Str("type", cfg.Storage.Type).Msg("Storage initialized")

	clk := clock.RealClock{}

	// Restore the ledger before anything can add to it
	l := ledger.New(clk, logger)
	l.Restore(context.Background(), store)

	seed, seedErrs := settings.Seed(cfg.Settings)
	for _, err := range seedErrs {
		logger.Warn().Err(err).Msg("Ignoring configured allowed time window")
	}
	settingsStore, err := settings.Open(afero.NewOsFs(), cfg.Settings.Path, seed, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize settings: %w", err)
	}

	transfers, err := history.New(cfg.Workers.HistorySize)
	if err != nil {
		return fmt.Errorf("failed to initialize transfer history: %w", err)
	}

	workerCfg := worker.Config{
		Cooldown:       parseDuration(cfg.Workers.Cooldown, 5*time.Second),
		PausePoll:      parseDuration(cfg.Workers.PausePoll, time.Second),
		ReportInterval: parseDuration(cfg.Workers.ReportInterval, 2*time.Second),
		ChunkSize:      cfg.Workers.ChunkSize,
		RequestTimeout: parseDuration(cfg.Workers.RequestTimeout, 30*time.Second),
		UserAgent:      cfg.Workers.UserAgent,
		RateLimitMBps:  cfg.Workers.RateLimitMBps,
		Clock:          clk,
	}

	router := worker.NewRouter(workerCfg)
	targets := settingsStore.Targets()
	for _, target := range targets {
		if !router.Supports(target) {
			logger.Warn().Str("target", target).Msg("Target scheme is not supported, transfers of it will fail")
		}
	}
	if len(targets) == 0 {
		logger.Warn().Msg("No targets configured, worker units will exit immediately")
	}

	pool := worker.NewPool(settingsStore.Concurrency(), targets, router, l, transfers, workerCfg, logger)

	ctrl := controller.New(l, settingsStore, pool, store, clk, controller.Config{
		CycleInterval:  parseDuration(cfg.Controller.CycleInterval, time.Second),
		StatusInterval: parseDuration(cfg.Controller.StatusInterval, 5*time.Second),
		MaxSleepChunk:  parseDuration(cfg.Controller.MaxSleepChunk, 60*time.Second),
	}, logger)

	// Initialize Metrics Server
	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, logger)

	// Use systemd socket-activated listener if available
	if sdListeners.Activated && sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}

	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start Metrics Server: %w", err)
	}

	// Initialize Admin Server
	var adminServer *admin.Server
	if cfg.Server.AdminEnabled {
		adminServer = admin.NewServer(admin.Config{
			ListenAddr:     fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.AdminPort),
			AllowedOrigins: cfg.Server.AllowedOrigins,
			UI:             cfg.Server.UIEnabled,
		}, admin.Deps{
			Ledger:     l,
			Controller: ctrl,
			Quota:      settingsStore,
			Settings:   settingsStore,
			History:    transfers,
		}, logger)

		if sdListeners.Activated && sdListeners.Admin != nil {
			adminServer.SetListener(sdListeners.Admin)
		}

		if err := adminServer.Start(); err != nil {
			return fmt.Errorf("failed to start Admin Server: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)

	ctrlDone := make(chan error, 1)
	go func() {
		ctrlDone <- ctrl.Run(ctx)
	}()

	go systemd.RunWatchdog(ctx, logger)

	logger.Info().
		Int("workers", pool.Total()).
		Int("targets", len(targets)).
		Str("settings", settingsStore.Path()).
		Msg("kburn startup complete")
	logger.Info().Msgf("Metrics: http://%s/metrics", metricsAddr)
	if adminServer != nil {
		logger.Info().Msgf("Admin API: http://%s:%d/api/status", cfg.Server.BindAddress, cfg.Server.AdminPort)
	}

	// Notify systemd that we're ready
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	// Wait for signals (shutdown or reload)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	var runErr error
	ctrlExited := false

loop:
	for {
		select {
		case sig := <-sigChan:
			switch sig {
			case syscall.SIGHUP:
				logger.Info().Msg("SIGHUP received, reloading settings...")
				_ = systemd.NotifyReloading()
				if err := settingsStore.Reload(); err != nil {
					logger.Error().Err(err).Msg("Failed to reload settings")
				} else {
					logger.Info().Msg("Settings reloaded successfully")
				}
				_ = systemd.NotifyReady()
				continue

			case os.Interrupt, syscall.SIGTERM:
				logger.Info().Msg("Shutdown signal received, gracefully stopping...")
				break loop
			}

		case err := <-ctrlDone:
			ctrlExited = true
			if err != nil {
				runErr = err
				if errors.Is(err, controller.ErrAllWorkersExited) {
					logger.Error().Err(err).Msg("No worker units left, shutting down")
				} else {
					logger.Error().Err(err).Msg("Controller failed")
				}
			}
			break loop
		}
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	cancel()

	grace := parseDuration(cfg.Controller.ShutdownGrace, 10*time.Second)
	if !pool.Shutdown(grace) {
		logger.Warn().Dur("grace", grace).Msg("Worker units did not stop in time")
	}

	if !ctrlExited {
		if err := <-ctrlDone; err != nil {
			logger.Error().Err(err).Msg("Controller returned an error during shutdown")
		}
	}

	// Workers may add bytes until Shutdown returns, after the controller's own persist
	if err := persistLedger(l, store, 5*time.Second); err != nil {
		logger.Error().Err(err).Msg("Failed to persist ledger")
	}

	if adminServer != nil {
		if err := adminServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping Admin Server")
		}
	}

	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping Metrics Server")
	}

	logger.Info().Msg("kburn stopped")

	return runErr
}

// persistLedger saves the final ledger state with its own deadline.
func persistLedger(l *ledger.Ledger, store storage.StateStore, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return l.Persist(ctx, store)
}

func openStorage(cfg config.StorageConfig) (storage.StateStore, error) {
	storageType := cfg.Type
	if storageType == "" {
		storageType = "file"
	}

	switch storageType {
	case "file":
		return file.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (must be 'file' or 'redis')", storageType)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
