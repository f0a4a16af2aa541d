package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/kburn/internal/clock"
	"github.com/goodtune/kburn/internal/config"
	"github.com/goodtune/kburn/internal/controller"
	"github.com/goodtune/kburn/internal/ledger"
	"github.com/goodtune/kburn/internal/settings"
	"github.com/goodtune/kburn/internal/window"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	checkTime  string
	checkBytes uint64
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the admission decision for a time and byte count",
	Long: `Evaluate the current settings file and report whether transfers would run
at the given time with the given number of bytes already transferred today.`,
	Example: `  kburn -c config.yaml check --time 23:30 --bytes 0
  kburn check --time 14:00 --bytes 600000000000`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkTime, "time", "", "Time of day (HH:MM) - defaults to current time")
	checkCmd.Flags().Uint64Var(&checkBytes, "bytes", 0, "Bytes already transferred since the last reset")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	now := time.Now()
	if checkTime != "" {
		tod, err := window.ParseTimeOfDay(checkTime)
		if err != nil {
			return fmt.Errorf("invalid time specification: %w", err)
		}
		now = tod.On(now)
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Create a quiet logger for check mode
	logger := zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()

	// Read the real settings file but keep any seed write in memory
	fs := afero.NewCopyOnWriteFs(afero.NewReadOnlyFs(afero.NewOsFs()), afero.NewMemMapFs())
	seed, _ := settings.Seed(cfg.Settings)
	settingsStore, err := settings.Open(fs, cfg.Settings.Path, seed, logger)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	clk := clock.NewTestClock(now)
	l := ledger.New(clk, logger)
	l.AddBytes(checkBytes)

	ctrl := controller.New(l, settingsStore, nil, nil, clk, controller.Config{}, logger)
	decision, err := ctrl.Step(context.Background())
	if err != nil {
		return fmt.Errorf("failed to evaluate: %w", err)
	}

	printCheckResult(now, checkBytes, settingsStore, decision)

	return nil
}

// printCheckResult prints the admission decision with colors
func printCheckResult(now time.Time, used uint64, s *settings.Store, d controller.Decision) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)
	yellow := color.New(color.FgYellow)

	limit := s.LimitBytes()

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println("ADMISSION CHECK")
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("Check Time: %s\n", now.Format("2006-01-02 15:04"))
	fmt.Printf("Used:       %.2f GB\n", float64(used)/ledger.BytesPerGB)
	fmt.Printf("Limit:      %.2f GB\n", float64(limit)/ledger.BytesPerGB)
	fmt.Printf("Reset Time: %s\n", s.ResetTime())
	if windows := s.Windows(); len(windows) > 0 {
		for i, w := range windows {
			label := "Windows:   "
			if i > 0 {
				label = "           "
			}
			fmt.Printf("%s %s\n", label, w)
		}
	} else {
		fmt.Println("Windows:    (always open)")
	}
	fmt.Println()

	cyan.Print("Decision:   ")
	switch d.State {
	case controller.Running:
		green.Println("RUN")
		fmt.Println("            → Worker units will transfer data")
	case controller.Paused:
		red.Println("PAUSE")
		if d.QuotaExceeded {
			yellow.Println("            → Daily quota is exhausted")
		}
		if d.OutsideWindow {
			yellow.Println("            → Outside every allowed time window")
		}
		if d.ResumeAt.IsZero() {
			fmt.Println("            → No resume time can be computed")
		} else {
			fmt.Printf("            → Resumes at %s (in %s)\n",
				d.ResumeAt.Format("2006-01-02 15:04"), d.ResumeAt.Sub(now).Round(time.Minute))
		}
	default:
		fmt.Printf("UNKNOWN (%s)\n", d.State)
	}

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}
