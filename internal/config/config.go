package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config holds all configuration for matchops-syncd.
type Config struct {
	// DataDir is the parent directory for every user's BadgerDB local
	// store and queue databases.
	DataDir  string `mapstructure:"data_dir"`
	LogLevel string `mapstructure:"log_level"`

	// AdminListen is the bind address for the admin HTTP surface
	// (/healthz, /status, /metrics).
	AdminListen string `mapstructure:"admin_listen"`

	Remote  RemoteConfig  `mapstructure:"remote"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Bulk    BulkConfig    `mapstructure:"bulk"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// LoggingConfig tunes the structured logger and its optional external
// log-shipping targets (internal/logging).
type LoggingConfig struct {
	Format        string `mapstructure:"format"`
	IncludeCaller bool   `mapstructure:"include_caller"`

	// TargetsDBPath, if set, opens a SQLite-backed logging.TargetStore and
	// starts the syslog/HTTP log-shipping targets enabled in its
	// logging_targets table, read once at startup. Empty disables
	// external log shipping: only the local logrus sink is used.
	TargetsDBPath string `mapstructure:"targets_db_path"`
}

// RemoteConfig configures the S3-compatible Remote Store reference
// implementation.
type RemoteConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

// EngineConfig tunes the Sync Engine's backoff and retry behavior.
type EngineConfig struct {
	BackoffBaseMillis int `mapstructure:"backoff_base_millis"`
	BackoffCapSeconds int `mapstructure:"backoff_cap_seconds"`
	BackoffJitterPct  int `mapstructure:"backoff_jitter_pct"`
}

// BulkConfig tunes the Bulk Pusher.
type BulkConfig struct {
	ChunkSize     int `mapstructure:"chunk_size"`
	RetryAttempts int `mapstructure:"retry_attempts"`
}

// MetricsConfig defines metrics configuration.
type MetricsConfig struct {
	Enable   bool   `mapstructure:"enable"`
	Path     string `mapstructure:"path"`
	Interval int    `mapstructure:"interval"`
}

// Load loads configuration from flags, an optional config file, and
// MATCHOPS_*-prefixed environment variables. Precedence, lowest to
// highest: defaults, config file, environment, explicitly set flags.
func Load(cmd *cobra.Command) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if err := bindFlags(cmd, v); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	if configFile, _ := cmd.Flags().GetString("config"); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("MATCHOPS")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// NO default for data_dir - must be explicitly configured.
	v.SetDefault("log_level", "info")
	v.SetDefault("admin_listen", ":8090")

	v.SetDefault("remote.region", "us-east-1")

	v.SetDefault("engine.backoff_base_millis", 500)
	v.SetDefault("engine.backoff_cap_seconds", 60)
	v.SetDefault("engine.backoff_jitter_pct", 20)

	v.SetDefault("bulk.chunk_size", 10)
	v.SetDefault("bulk.retry_attempts", 3)

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.interval", 10)

	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.include_caller", false)
	v.SetDefault("logging.targets_db_path", "")
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := map[string]string{
		"data-dir":        "data_dir",
		"log-level":       "log_level",
		"admin-listen":    "admin_listen",
		"remote-endpoint": "remote.endpoint",
		"remote-bucket":   "remote.bucket",
		"log-targets-db":  "logging.targets_db_path",
	}

	for flag, key := range flags {
		if cmd.Flags().Lookup(flag) == nil {
			continue
		}
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}

	return nil
}

func validate(cfg *Config) error {
	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir is required: specify via --data-dir flag, config file, or MATCHOPS_DATA_DIR environment variable")
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if !filepath.IsAbs(cfg.DataDir) {
		absDir, err := filepath.Abs(cfg.DataDir)
		if err == nil {
			cfg.DataDir = absDir
		}
	}

	if cfg.Remote.Bucket != "" && cfg.Remote.Endpoint == "" {
		return fmt.Errorf("remote.bucket configured but remote.endpoint is empty")
	}

	if cfg.Bulk.ChunkSize <= 0 {
		cfg.Bulk.ChunkSize = 10
	}
	if cfg.Bulk.RetryAttempts <= 0 {
		cfg.Bulk.RetryAttempts = 3
	}

	return nil
}
