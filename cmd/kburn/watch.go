package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/kburn/internal/admin/api"
	"github.com/goodtune/kburn/internal/ledger"
	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

var (
	watchAddr     string
	watchInterval time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Show live quota progress from a running instance",
	Long:  `Poll the admin API of a running kburn and render quota usage as a progress bar.`,
	Example: `  kburn watch
  kburn watch --addr http://10.0.0.5:5245 --interval 5s`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchAddr, "addr", "http://127.0.0.1:5245", "Base URL of the admin API")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 2*time.Second, "Polling interval")
	rootCmd.AddCommand(watchCmd)
}

// statusLine holds the text rendered next to the bar.
type statusLine struct {
	mu   sync.Mutex
	text string
}

func (s *statusLine) set(text string) {
	s.mu.Lock()
	s.text = text
	s.mu.Unlock()
}

func (s *statusLine) get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text
}

func runWatch(cmd *cobra.Command, args []string) error {
	if watchInterval <= 0 {
		return fmt.Errorf("invalid interval: %s", watchInterval)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := &http.Client{Timeout: 10 * time.Second}
	url := strings.TrimRight(watchAddr, "/") + "/api/status"

	// Fail fast when nothing is listening
	status, err := fetchStatus(ctx, client, url)
	if err != nil {
		return err
	}

	line := &statusLine{}
	line.set(describeStatus(status))

	p := mpb.NewWithContext(ctx, mpb.WithWidth(64), mpb.WithRefreshRate(250*time.Millisecond))
	barStyle := mpb.BarStyle().Lbound("╢").Filler("█").Tip("█").Padding("░").Rbound("╟")

	name := "Quota"
	bar := p.New(0,
		barStyle,
		mpb.PrependDecorators(
			decor.Name(name, decor.WC{W: len(name) + 1, C: decor.DindentRight}),
			decor.CountersKibiByte("% .2f / % .2f", decor.WC{W: 24}),
		),
		mpb.AppendDecorators(
			decor.Percentage(decor.WC{W: 6}),
			decor.Any(func(decor.Statistics) string { return " " + line.get() }),
		),
	)
	applyStatus(bar, status)

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	red := color.New(color.FgRed)
	for {
		select {
		case <-ctx.Done():
			bar.Abort(false)
			p.Wait()
			return nil
		case <-ticker.C:
			status, err := fetchStatus(ctx, client, url)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				line.set(red.Sprintf("unreachable: %v", err))
				continue
			}
			line.set(describeStatus(status))
			applyStatus(bar, status)
		}
	}
}

// fetchStatus reads one status projection from the admin API.
func fetchStatus(ctx context.Context, client *http.Client, url string) (*api.StatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status from %s: %s", url, resp.Status)
	}

	var status api.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode status: %w", err)
	}
	return &status, nil
}

// applyStatus moves the bar to the reported usage. Usage past the limit is
// shown as a full bar.
func applyStatus(bar *mpb.Bar, status *api.StatusResponse) {
	total := int64(status.LimitGB * ledger.BytesPerGB)
	if total <= 0 {
		total = 1
	}
	current := int64(status.BytesTransferred)
	if current > total {
		current = total
	}
	bar.SetTotal(total, false)
	bar.SetCurrent(current)
}

// describeStatus renders the admission state and speed for the bar suffix.
func describeStatus(status *api.StatusResponse) string {
	if !status.IsPaused {
		return fmt.Sprintf("%.2f MB/s  %d/%d active", status.TotalSpeedMBps, status.ActiveConnections, status.ConcurrentDownloads)
	}

	var reasons []string
	if status.QuotaExceeded {
		reasons = append(reasons, "quota")
	}
	if status.OutsideWindow {
		reasons = append(reasons, "window")
	}
	text := "paused"
	if len(reasons) > 0 {
		text += " (" + strings.Join(reasons, ", ") + ")"
	}
	if status.ResumeAt != nil {
		text += " until " + status.ResumeAt.Local().Format("15:04")
	}
	return text
}
