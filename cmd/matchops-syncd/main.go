package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/matchops/local-sync/internal/adminhttp"
	"github.com/matchops/local-sync/internal/config"
	"github.com/matchops/local-sync/internal/engine"
	"github.com/matchops/local-sync/internal/factory"
	"github.com/matchops/local-sync/internal/logging"
	"github.com/matchops/local-sync/internal/metrics"
)

var (
	version = "0.2.0-dev"
	commit  = "none"
	date    = "unknown"
)

// defaultUserID names the single local-device user this daemon serves.
// Multi-user hosting is out of scope for the CLI; the factory itself
// supports per-user wrappers for embedding contexts that need more than
// one.
const defaultUserID = "local"

func main() {
	var rootCmd = &cobra.Command{
		Use:   "matchops-syncd",
		Short: "MatchOps Sync - local-first write-through store with background cloud sync",
		Long: `matchops-syncd runs the local-first write-through data store and its
background cloud synchronization engine as a standalone daemon.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		RunE:    run,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringP("data-dir", "d", "", "Data directory path")
	rootCmd.PersistentFlags().StringP("log-level", "", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringP("admin-listen", "", ":8090", "Admin HTTP surface listen address")
	rootCmd.PersistentFlags().StringP("remote-endpoint", "", "", "S3-compatible remote store endpoint")
	rootCmd.PersistentFlags().StringP("remote-bucket", "", "", "S3-compatible remote store bucket")
	rootCmd.PersistentFlags().StringP("log-targets-db", "", "", "SQLite database path for external log-shipping targets (syslog/HTTP); empty disables external log shipping")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogging(cfg.LogLevel)
	logger.WithFields(logrus.Fields{
		"version": version,
		"commit":  commit,
		"date":    date,
	}).Info("starting matchops-syncd")

	closeLogDispatch, err := setupLogDispatch(cfg.Logging, logger)
	if err != nil {
		return fmt.Errorf("failed to configure log dispatch: %w", err)
	}
	defer closeLogDispatch()

	mode := factory.ModeOffline
	if cfg.Remote.Bucket != "" {
		mode = factory.ModeS3
	}

	f := factory.New(*cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := f.GetWrapper(ctx, defaultUserID, mode)
	if err != nil {
		return fmt.Errorf("failed to build write-through wrapper: %w", err)
	}

	metricsManager := metrics.NewManager(cfg.Metrics)
	w.SetMetrics(metricsManager)
	w.OnSyncStatusChange(func(status engine.Status) {
		metricsManager.UpdateQueueMetrics(status.PendingCount, status.FailedCount)
		metricsManager.UpdateEngineState(string(status.State), status.IsOnline, status.CloudConnected)
	})

	admin := adminhttp.New(adminhttp.Config{
		Listen:  cfg.AdminListen,
		Status:  w,
		Metrics: metricsManager,
		Logger:  logger,
	})
	admin.Start()

	w.StartSync(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info("received shutdown signal, draining sync queue")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	w.StopSync(shutdownCtx)
	if err := admin.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("admin HTTP surface shutdown did not complete cleanly")
	}
	if err := f.Reset(shutdownCtx); err != nil {
		logger.WithError(err).Warn("factory teardown did not complete cleanly")
	}

	logger.Info("matchops-syncd stopped")
	return nil
}

// setupLogDispatch installs a logging.Manager's DispatchHook onto logger,
// fanning out every subsequent log entry on it (including the ones emitted
// by the write-through wrapper, sync engine, and bulk pusher, which all
// share this same *logrus.Logger via the factory) to whatever external
// syslog/HTTP targets are configured, in addition to the local sink. It
// returns a close func the caller must run on shutdown.
func setupLogDispatch(cfg config.LoggingConfig, logger *logrus.Logger) (func(), error) {
	mgr := logging.NewManager(logger)
	mgr.SetSettingsManager(logging.ConfigSettings{
		Format:        cfg.Format,
		Level:         logger.GetLevel().String(),
		IncludeCaller: cfg.IncludeCaller,
	})

	if cfg.TargetsDBPath == "" {
		return func() { mgr.Close() }, nil
	}

	db, err := sql.Open("sqlite", cfg.TargetsDBPath)
	if err != nil {
		return nil, fmt.Errorf("open logging targets database: %w", err)
	}
	if err := mgr.InitTargetStore(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init logging target store: %w", err)
	}

	return func() {
		mgr.Close()
		_ = db.Close()
	}, nil
}

func setupLogging(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})

	switch level {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "info":
		logger.SetLevel(logrus.InfoLevel)
	case "warn":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}
	return logger
}
