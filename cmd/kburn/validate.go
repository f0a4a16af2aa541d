package main

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/kburn/internal/config"
	"github.com/goodtune/kburn/internal/window"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	validateDump    bool
	validateWindows bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the kburn configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration with defaults highlighted")
	validateCmd.Flags().BoolVar(&validateWindows, "windows", false, "List the parsed allowed time windows")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	// Check for unknown keys (always, not just with --dump)
	unknownKeys, err := findUnknownKeys(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "⚠️  Warning: Could not check for unknown keys: %v\n", err)
	}

	// Seed windows and reset time are rejected at runtime, so flag them here
	red := color.New(color.FgRed, color.Bold)
	windows, windowErrs := window.FromStrings(cfg.Settings.Windows)
	_, parseErrs := window.Parse(windows)
	windowErrs = append(windowErrs, parseErrs...)
	if _, err := window.ParseTimeOfDay(cfg.Settings.ResetTime); err != nil {
		windowErrs = append(windowErrs, fmt.Errorf("settings.reset_time: %w", err))
	}

	_, _ = fmt.Fprintf(os.Stdout, "✅ Configuration is valid: %s\n", configPath)

	if len(windowErrs) > 0 {
		fmt.Fprintln(os.Stdout)
		red.Fprintf(os.Stdout, "⚠️  WARNING: %d time setting(s) will be ignored:\n", len(windowErrs))
		for _, err := range windowErrs {
			red.Fprintf(os.Stdout, "   - %v\n", err)
		}
	}

	// Warn about unknown keys
	if len(unknownKeys) > 0 {
		fmt.Fprintln(os.Stdout)
		red.Fprintf(os.Stdout, "⚠️  WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	if validateWindows {
		printWindows(windows)
	}

	// If dump requested, show full configuration with defaults highlighted
	if validateDump {
		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
		_, _ = fmt.Fprintln(os.Stdout, "FULL CONFIGURATION (values different from defaults are highlighted)")
		_, _ = fmt.Fprintln(os.Stdout, strings.Repeat("=", 80))

		dumpConfig(cfg, getDefaultConfig())
	}

	return nil
}

func printWindows(windows []window.Window) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen)

	_, _ = cyan.Println("\n[allowed windows]")
	set, _ := window.Parse(windows)
	if set.IsAlwaysOpen() {
		_, _ = green.Println("  always open")
		return
	}
	for _, w := range windows {
		start, err1 := window.ParseTimeOfDay(w.Start)
		end, err2 := window.ParseTimeOfDay(w.End)
		if err1 != nil || err2 != nil || start == end {
			continue
		}
		suffix := ""
		if end.Hour*60+end.Minute < start.Hour*60+start.Minute {
			suffix = "  (crosses midnight)"
		}
		_, _ = green.Printf("  %s-%s%s\n", start, end, suffix)
	}
}

// getDefaultConfig creates a configuration with default values
func getDefaultConfig() *config.Config {
	v := viper.New()
	config.SetDefaults(v)

	var cfg config.Config
	_ = v.Unmarshal(&cfg)

	return &cfg
}

// findUnknownKeys loads the config file and checks for unknown keys
func findUnknownKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	// Every default is a known key
	defaults := viper.New()
	config.SetDefaults(defaults)
	validKeys := make(map[string]bool)
	for _, key := range defaults.AllKeys() {
		validKeys[key] = true
	}
	validKeys["storage.redis.password"] = true

	unknown := []string{}
	for _, key := range v.AllKeys() {
		if !validKeys[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)

	return unknown, nil
}

// dumpConfig dumps configuration with color highlighting for non-default values
func dumpConfig(cfg, defaultCfg *config.Config) {
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	// Server
	_, _ = cyan.Println("\n[server]")
	dumpField("  bind_address", cfg.Server.BindAddress, defaultCfg.Server.BindAddress, yellow, green)
	dumpField("  admin_port", cfg.Server.AdminPort, defaultCfg.Server.AdminPort, yellow, green)
	dumpField("  admin_enabled", cfg.Server.AdminEnabled, defaultCfg.Server.AdminEnabled, yellow, green)
	dumpField("  ui_enabled", cfg.Server.UIEnabled, defaultCfg.Server.UIEnabled, yellow, green)
	dumpField("  allowed_origins", cfg.Server.AllowedOrigins, defaultCfg.Server.AllowedOrigins, yellow, green)
	dumpField("  metrics_port", cfg.Server.MetricsPort, defaultCfg.Server.MetricsPort, yellow, green)

	// Logging
	_, _ = cyan.Println("\n[logging]")
	dumpField("  level", cfg.Logging.Level, defaultCfg.Logging.Level, yellow, green)
	dumpField("  format", cfg.Logging.Format, defaultCfg.Logging.Format, yellow, green)

	// Storage
	_, _ = cyan.Println("\n[storage]")
	dumpField("  type", cfg.Storage.Type, defaultCfg.Storage.Type, yellow, green)
	dumpField("  path", cfg.Storage.Path, defaultCfg.Storage.Path, yellow, green)
	dumpField("  redis.host", cfg.Storage.Redis.Host, defaultCfg.Storage.Redis.Host, yellow, green)
	dumpField("  redis.port", cfg.Storage.Redis.Port, defaultCfg.Storage.Redis.Port, yellow, green)
	dumpField("  redis.password", redactPassword(cfg.Storage.Redis.Password), redactPassword(defaultCfg.Storage.Redis.Password), yellow, green)
	dumpField("  redis.db", cfg.Storage.Redis.DB, defaultCfg.Storage.Redis.DB, yellow, green)
	dumpField("  redis.key", cfg.Storage.Redis.Key, defaultCfg.Storage.Redis.Key, yellow, green)

	// Settings seed
	_, _ = cyan.Println("\n[settings]")
	dumpField("  path", cfg.Settings.Path, defaultCfg.Settings.Path, yellow, green)
	dumpField("  limit_gb", cfg.Settings.LimitGB, defaultCfg.Settings.LimitGB, yellow, green)
	dumpField("  reset_time", cfg.Settings.ResetTime, defaultCfg.Settings.ResetTime, yellow, green)
	dumpField("  windows", cfg.Settings.Windows, defaultCfg.Settings.Windows, yellow, green)
	dumpField("  concurrency", cfg.Settings.Concurrency, defaultCfg.Settings.Concurrency, yellow, green)
	dumpField("  targets", cfg.Settings.Targets, defaultCfg.Settings.Targets, yellow, green)

	// Workers
	_, _ = cyan.Println("\n[workers]")
	dumpField("  cooldown", cfg.Workers.Cooldown, defaultCfg.Workers.Cooldown, yellow, green)
	dumpField("  pause_poll", cfg.Workers.PausePoll, defaultCfg.Workers.PausePoll, yellow, green)
	dumpField("  report_interval", cfg.Workers.ReportInterval, defaultCfg.Workers.ReportInterval, yellow, green)
	dumpField("  chunk_size", cfg.Workers.ChunkSize, defaultCfg.Workers.ChunkSize, yellow, green)
	dumpField("  request_timeout", cfg.Workers.RequestTimeout, defaultCfg.Workers.RequestTimeout, yellow, green)
	dumpField("  rate_limit_mbps", cfg.Workers.RateLimitMBps, defaultCfg.Workers.RateLimitMBps, yellow, green)
	dumpField("  history_size", cfg.Workers.HistorySize, defaultCfg.Workers.HistorySize, yellow, green)

	// Controller
	_, _ = cyan.Println("\n[controller]")
	dumpField("  cycle_interval", cfg.Controller.CycleInterval, defaultCfg.Controller.CycleInterval, yellow, green)
	dumpField("  status_interval", cfg.Controller.StatusInterval, defaultCfg.Controller.StatusInterval, yellow, green)
	dumpField("  max_sleep_chunk", cfg.Controller.MaxSleepChunk, defaultCfg.Controller.MaxSleepChunk, yellow, green)
	dumpField("  shutdown_grace", cfg.Controller.ShutdownGrace, defaultCfg.Controller.ShutdownGrace, yellow, green)

	fmt.Println()
}

// dumpField prints a single configuration field
func dumpField(name string, value, defaultValue interface{}, modifiedColor, defaultColor *color.Color) {
	isDefault := reflect.DeepEqual(value, defaultValue)

	valueStr := fmt.Sprintf("%v", value)

	if isDefault {
		_, _ = defaultColor.Printf("%s = %s\n", name, valueStr)
	} else {
		_, _ = modifiedColor.Printf("%s = %s  (modified from default: %v)\n", name, valueStr, defaultValue)
	}
}

// redactPassword redacts password if not empty
func redactPassword(password string) string {
	if password == "" {
		return ""
	}
	return "***REDACTED***"
}
