package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/autokey/internal/action"
	"github.com/goodtune/autokey/internal/action/keyboard"
	"github.com/goodtune/autokey/internal/auth"
	"github.com/goodtune/autokey/internal/clock"
	"github.com/goodtune/autokey/internal/config"
	"github.com/goodtune/autokey/internal/control"
	"github.com/goodtune/autokey/internal/metrics"
	"github.com/goodtune/autokey/internal/scheduler"
	"github.com/goodtune/autokey/internal/storage"
	"github.com/goodtune/autokey/internal/storage/file"
	"github.com/goodtune/autokey/internal/storage/redis"
	"github.com/goodtune/autokey/internal/systemd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the autokey daemon",
	Long:  `Run the scheduler daemon with its control API and metrics endpoint.`,
	RunE:  runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting autokey")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	store, err := openStorage(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().Str("type", cfg.Storage.Type).Msg("Settings storage initialized")

	if fs, ok := store.(*file.Store); ok {
		go func() {
			if err := fs.Watch(ctx); err != nil {
				logger.Warn().Err(err).Msg("Settings file watcher stopped")
			}
		}()
	}

	performer, err := action.New(cfg.Action.Performer, logger, func() action.Performer {
		return keyboard.New(logger)
	})
	if err != nil {
		return fmt.Errorf("failed to initialize action performer: %w", err)
	}

	clk := clock.RealClock{}

	gate := auth.NewGate(auth.Config{
		URL:     cfg.Auth.URL,
		Timeout: config.ParseDuration(cfg.Auth.Timeout, auth.DefaultTimeout),
	}, clk, logger)

	sched := scheduler.New(scheduler.Config{
		SettleDelay:     config.ParseDuration(cfg.Scheduler.SettleDelay, scheduler.DefaultSettleDelay),
		RefreshInterval: config.ParseDuration(cfg.Scheduler.RefreshInterval, scheduler.DefaultRefreshInterval),
		SettingsTimeout: config.ParseDuration(cfg.Scheduler.SettingsTimeout, scheduler.DefaultSettingsTimeout),
	}, store, gate, performer, clk, logger)

	gate.OnVerdict(sched.HandleVerdict)
	if cfg.Scheduler.AutoStart {
		gate.OnVerdict(func(v auth.Verdict) {
			if v.Status != auth.Verified {
				return
			}
			if err := sched.Start(ctx, scheduler.Options{}); err != nil {
				logger.Warn().Err(err).Msg("Auto-start failed")
			}
		})
	}

	events := sched.Subscribe(64)
	printerDone := make(chan struct{})
	go func() {
		defer close(printerDone)
		printEvents(events, logger)
	}()

	controlServer := control.NewServer(control.Config{ListenAddr: cfg.ControlAddr()}, sched, gate, store, logger)
	if sdListeners.Activated && sdListeners.Control != nil {
		controlServer.SetListener(sdListeners.Control)
	}
	if err := controlServer.Start(); err != nil {
		return fmt.Errorf("failed to start control server: %w", err)
	}

	var metricsServer *metrics.Server
	if addr := cfg.MetricsAddr(); addr != "" {
		metricsServer = metrics.NewServer(addr, logger)
		if sdListeners.Activated && sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	// Authorization is never persisted; every process lifetime re-checks
	gate.Refresh(ctx)

	go func() {
		if err := systemd.RunWatchdog(ctx); err != nil {
			logger.Warn().Err(err).Msg("Systemd watchdog stopped")
		}
	}()

	logger.Info().
		Str("control", cfg.ControlAddr()).
		Str("metrics", cfg.MetricsAddr()).
		Str("performer", cfg.Action.Performer).
		Msg("autokey startup complete")

	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan

		if sig == syscall.SIGHUP {
			logger.Info().Msg("SIGHUP received, re-verifying authorization...")
			gate.Refresh(ctx)
			continue
		}

		logger.Info().Msg("Shutdown signal received, gracefully stopping...")
		break
	}

	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	if err := controlServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping control server")
	}

	sched.Close()
	<-printerDone

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping metrics server")
		}
	}

	cancel()
	gate.Wait()

	logger.Info().Msg("autokey stopped")
	return nil
}

// printEvents renders scheduler events until the channel is closed
func printEvents(events <-chan scheduler.Event, logger zerolog.Logger) {
	for event := range events {
		switch event.Type {
		case scheduler.EventNotice:
			logger.Warn().Str("notice", event.Message).Msg("Operator notice")
			printNotice(os.Stderr, event.Message, event.Severity)
		case scheduler.EventStatus:
			logger.Debug().Str("severity", string(event.Severity)).Msg(event.Message)
		case scheduler.EventStarted:
			_ = systemd.NotifyStatus("running")
		case scheduler.EventStopped:
			_ = systemd.NotifyStatus(fmt.Sprintf("stopped (%s), total run time %s", event.Reason, formatClock(event.Elapsed)))
		}
	}
}

func openStorage(cfg config.StorageConfig, logger zerolog.Logger) (storage.SettingsStore, error) {
	switch cfg.Type {
	case "redis":
		return redis.Open(cfg.Redis)
	case "file", "":
		return file.Open(cfg.Path, logger)
	case "memory":
		return storage.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
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

	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
