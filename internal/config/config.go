package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Settings   SettingsConfig   `mapstructure:"settings"`
	Workers    WorkersConfig    `mapstructure:"workers"`
	Controller ControllerConfig `mapstructure:"controller"`
}

// ServerConfig defines listen ports and addresses
type ServerConfig struct {
	BindAddress    string   `mapstructure:"bind_address"`
	AdminPort      int      `mapstructure:"admin_port"`
	AdminEnabled   bool     `mapstructure:"admin_enabled"`
	UIEnabled      bool     `mapstructure:"ui_enabled"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	MetricsPort    int      `mapstructure:"metrics_port"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StorageConfig defines where the ledger state is persisted
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // "file" or "redis"
	Path  string      `mapstructure:"path"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	Key          string `mapstructure:"key"`
}

// SettingsConfig points at the editable settings file and holds the values
// used to seed it when it does not exist yet
type SettingsConfig struct {
	Path        string   `mapstructure:"path"`
	LimitGB     int      `mapstructure:"limit_gb"`
	ResetTime   string   `mapstructure:"reset_time"`
	Windows     []string `mapstructure:"windows"` // "HH:MM-HH:MM"
	Concurrency int      `mapstructure:"concurrency"`
	Targets     []string `mapstructure:"targets"`
}

// WorkersConfig defines transfer worker behavior
type WorkersConfig struct {
	Cooldown       string  `mapstructure:"cooldown"`
	PausePoll      string  `mapstructure:"pause_poll"`
	ReportInterval string  `mapstructure:"report_interval"`
	ChunkSize      int     `mapstructure:"chunk_size"`
	RequestTimeout string  `mapstructure:"request_timeout"`
	UserAgent      string  `mapstructure:"user_agent"`
	RateLimitMBps  float64 `mapstructure:"rate_limit_mbps"`
	HistorySize    int     `mapstructure:"history_size"`
}

// ControllerConfig defines the admission control loop timing
type ControllerConfig struct {
	CycleInterval  string `mapstructure:"cycle_interval"`
	StatusInterval string `mapstructure:"status_interval"`
	MaxSleepChunk  string `mapstructure:"max_sleep_chunk"`
	ShutdownGrace  string `mapstructure:"shutdown_grace"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	// Optional .env file, as used by docker compose deployments
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("KBURN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Comma-separated lists from the environment arrive as a single element
	config.Settings.Targets = splitList(config.Settings.Targets)
	config.Settings.Windows = splitList(config.Settings.Windows)
	config.Server.AllowedOrigins = splitList(config.Server.AllowedOrigins)

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// SetDefaults sets default configuration values
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "0.0.0.0")
	v.SetDefault("server.admin_port", 5245)
	v.SetDefault("server.admin_enabled", true)
	v.SetDefault("server.ui_enabled", true)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.metrics_port", 9090)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Storage defaults
	v.SetDefault("storage.type", "file")
	v.SetDefault("storage.path", "/var/lib/kburn/download_state.json")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 4)
	v.SetDefault("storage.redis.min_idle_conns", 1)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")
	v.SetDefault("storage.redis.key", "kburn:state")

	// Settings seed defaults
	v.SetDefault("settings.path", "/var/lib/kburn/config.json")
	v.SetDefault("settings.limit_gb", 500)
	v.SetDefault("settings.reset_time", "03:00")
	v.SetDefault("settings.windows", []string{})
	v.SetDefault("settings.concurrency", 5)
	v.SetDefault("settings.targets", []string{})

	// Worker defaults
	v.SetDefault("workers.cooldown", "5s")
	v.SetDefault("workers.pause_poll", "1s")
	v.SetDefault("workers.report_interval", "2s")
	v.SetDefault("workers.chunk_size", 1024*1024)
	v.SetDefault("workers.request_timeout", "30s")
	v.SetDefault("workers.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36")
	v.SetDefault("workers.rate_limit_mbps", 0)
	v.SetDefault("workers.history_size", 256)

	// Controller defaults
	v.SetDefault("controller.cycle_interval", "1s")
	v.SetDefault("controller.status_interval", "5s")
	v.SetDefault("controller.max_sleep_chunk", "60s")
	v.SetDefault("controller.shutdown_grace", "10s")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.AdminPort <= 0 || cfg.Server.AdminPort > 65535 {
		return fmt.Errorf("invalid admin port: %d", cfg.Server.AdminPort)
	}
	if cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "file"
	}
	switch cfg.Storage.Type {
	case "file":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("storage.redis.host is required")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s (must be 'file' or 'redis')", cfg.Storage.Type)
	}

	if cfg.Settings.Path == "" {
		return fmt.Errorf("settings path is required")
	}
	if cfg.Settings.LimitGB < 0 {
		return fmt.Errorf("invalid settings.limit_gb: %d", cfg.Settings.LimitGB)
	}
	if cfg.Settings.Concurrency < 1 {
		return fmt.Errorf("invalid settings.concurrency: %d", cfg.Settings.Concurrency)
	}
	if cfg.Workers.ChunkSize <= 0 {
		return fmt.Errorf("invalid workers.chunk_size: %d", cfg.Workers.ChunkSize)
	}
	if cfg.Workers.RateLimitMBps < 0 {
		return fmt.Errorf("invalid workers.rate_limit_mbps: %v", cfg.Workers.RateLimitMBps)
	}

	if cfg.Workers.HistorySize <= 0 {
		return fmt.Errorf("invalid workers.history_size: %d", cfg.Workers.HistorySize)
	}

	return nil
}

// splitList expands comma-separated entries and drops empty ones
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, entry := range in {
		for _, part := range strings.Split(entry, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
