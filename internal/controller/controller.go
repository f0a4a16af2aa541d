// Package controller implements the admission control loop that decides
// whether transfer workers may run.
//
// Each cycle performs the daily reset when due, evaluates the quota and the
// allowed windows, and either pauses the workers until the latest resume
// candidate or lets them run while watching their liveness.
package controller

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/goodtune/kburn/internal/clock"
	"github.com/goodtune/kburn/internal/ledger"
	"github.com/goodtune/kburn/internal/metrics"
	"github.com/goodtune/kburn/internal/storage"
	"github.com/goodtune/kburn/internal/window"
	"github.com/rs/zerolog"
)

// ErrAllWorkersExited is returned by Step and Run when every worker unit has
// stopped.
var ErrAllWorkersExited = errors.New("all worker units have exited")

// finalPersistTimeout bounds the last save after the run context ends.
const finalPersistTimeout = 5 * time.Second

// Settings is the runtime-editable configuration read every cycle.
type Settings interface {
	LimitBytes() uint64
	ResetTime() string
	Windows() []window.Window
	Concurrency() int
	Targets() []string
}

// Liveness reports how many worker units are still running.
type Liveness interface {
	Alive() int
	Total() int
}

// State is the controller's admission state.
type State int

const (
	Running State = iota
	Paused
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

// Config holds controller timing.
type Config struct {
	CycleInterval  time.Duration
	StatusInterval time.Duration
	MaxSleepChunk  time.Duration
}

// Decision is the outcome of one cycle.
type Decision struct {
	State         State
	Wait          time.Duration
	ResumeAt      time.Time
	QuotaExceeded bool
	OutsideWindow bool
}

// Status is a read-only view of the controller for other goroutines.
type Status struct {
	State         State
	ResumeAt      time.Time
	QuotaExceeded bool
	OutsideWindow bool
}

// Controller runs the admission control loop.
type Controller struct {
	ledger   *ledger.Ledger
	settings Settings
	liveness Liveness
	store    storage.StateStore
	clock    clock.Clock
	cfg      Config
	logger   zerolog.Logger

	// Owned by the goroutine calling Step.
	state       State
	resumeAt    time.Time
	quotaCause  bool
	windowCause bool
	lastStatus  time.Time
	lastAlive   int

	windowsLoaded bool
	windowsRaw    []window.Window
	windows       window.Set

	resetLoaded bool
	resetRaw    string
	resetTOD    window.TimeOfDay
	resetOK     bool

	mu     sync.Mutex
	status Status
}

// New creates a controller and pauses the ledger until the first cycle has
// evaluated the rules. liveness and store may be nil.
func New(l *ledger.Ledger, s Settings, liveness Liveness, store storage.StateStore, clk clock.Clock, cfg Config, logger zerolog.Logger) *Controller {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = time.Second
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 5 * time.Second
	}
	if cfg.MaxSleepChunk <= 0 {
		cfg.MaxSleepChunk = 60 * time.Second
	}

	l.SetPaused(true)
	metrics.Paused.Set(1)

	return &Controller{
		ledger:   l,
		settings: s,
		liveness: liveness,
		store:    store,
		clock:    clk,
		cfg:      cfg,
		logger:   logger.With().Str("component", "controller").Logger(),
		state:    Paused,
		status:   Status{State: Paused},
	}
}

// Status returns the state recorded by the most recent cycle.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Run calls Step until ctx ends or a fatal error occurs. On cancellation the
// ledger is persisted one last time and Run returns nil.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info().
		Dur("cycle_interval", c.cfg.CycleInterval).
		Dur("max_sleep_chunk", c.cfg.MaxSleepChunk).
		Msg("Controller started")

	for {
		if ctx.Err() != nil {
			c.finalPersist(ctx)
			return nil
		}

		d, err := c.Step(ctx)
		if err != nil {
			return err
		}

		timer := time.NewTimer(d.Wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.finalPersist(ctx)
			c.logger.Info().Msg("Controller stopped")
			return nil
		case <-timer.C:
		}
	}
}

// Step runs one control cycle.
func (c *Controller) Step(ctx context.Context) (Decision, error) {
	now := c.clock.Now()
	c.refreshSettings()
	c.maybeReset(ctx, now)

	limit := c.settings.LimitBytes()
	used := c.ledger.Bytes()
	quotaExceeded := used >= limit
	outsideWindow := !c.windows.Contains(now)

	c.updateGauges(used, limit, quotaExceeded, outsideWindow)

	var d Decision
	var err error
	if quotaExceeded || outsideWindow {
		d = c.pause(ctx, now, quotaExceeded, outsideWindow, used, limit)
	} else {
		d, err = c.run(ctx, now, used)
	}

	c.mu.Lock()
	c.status = Status{
		State:         d.State,
		ResumeAt:      d.ResumeAt,
		QuotaExceeded: d.QuotaExceeded,
		OutsideWindow: d.OutsideWindow,
	}
	c.mu.Unlock()

	return d, err
}

// refreshSettings re-parses windows and the reset time when they change.
func (c *Controller) refreshSettings() {
	raw := c.settings.Windows()
	if !c.windowsLoaded || !slices.Equal(raw, c.windowsRaw) {
		set, errs := window.Parse(raw)
		for _, err := range errs {
			c.logger.Warn().Err(err).Msg("Ignoring invalid time window")
		}
		if len(raw) > 0 && set.IsAlwaysOpen() {
			c.logger.Warn().Msg("No valid time windows configured, transfers allowed at any time")
		}
		c.windows = set
		c.windowsRaw = raw
		c.windowsLoaded = true
	}

	reset := c.settings.ResetTime()
	if !c.resetLoaded || reset != c.resetRaw {
		tod, err := window.ParseTimeOfDay(reset)
		if err != nil {
			c.logger.Warn().Err(err).Str("reset_time", reset).Msg("Invalid reset time, daily reset disabled")
		}
		c.resetTOD = tod
		c.resetOK = err == nil
		c.resetRaw = reset
		c.resetLoaded = true
	}
}

// maybeReset zeroes the counter once per day at the reset time. It is guarded
// only by the ledger's last reset timestamp.
func (c *Controller) maybeReset(ctx context.Context, now time.Time) {
	if !c.resetOK {
		return
	}
	boundary := window.Today(now, c.resetTOD)
	if now.Before(boundary) || !c.ledger.LastResetAt().Before(boundary) {
		return
	}

	used := c.ledger.Bytes()
	c.ledger.Reset()
	metrics.DailyResets.Inc()
	c.logger.Info().
		Float64("previous_gb", float64(used)/ledger.BytesPerGB).
		Time("boundary", boundary).
		Msg("Daily reset")
	c.persist(ctx)
}

func (c *Controller) pause(ctx context.Context, now time.Time, quotaExceeded, outsideWindow bool, used, limit uint64) Decision {
	c.ledger.SetPaused(true)

	if c.state != Paused || quotaExceeded != c.quotaCause || outsideWindow != c.windowCause {
		ev := c.logger.Info()
		if outsideWindow {
			ev = ev.Bool("outside_window", true)
		}
		if quotaExceeded {
			ev = ev.Bool("quota_exceeded", true).
				Float64("used_gb", float64(used)/ledger.BytesPerGB).
				Float64("limit_gb", float64(limit)/ledger.BytesPerGB)
		}
		ev.Msg("Pausing transfers")
	}
	c.state = Paused
	c.quotaCause = quotaExceeded
	c.windowCause = outsideWindow

	// Both causes must clear before workers may resume.
	var resumeAt time.Time
	if outsideWindow {
		resumeAt = c.windows.NextStart(now)
	}
	if quotaExceeded && c.resetOK {
		if next := window.NextOccurrence(now, c.resetTOD); next.After(resumeAt) {
			resumeAt = next
		}
	}

	c.persist(ctx)

	var wait time.Duration
	if resumeAt.IsZero() {
		wait = c.cfg.MaxSleepChunk
		metrics.ResumeAt.Set(0)
		if !c.resumeAt.IsZero() {
			c.logger.Warn().Msg("Paused with no known resume time")
		}
	} else {
		wait = resumeAt.Sub(now)
		if wait > c.cfg.MaxSleepChunk {
			wait = c.cfg.MaxSleepChunk
		}
		if wait <= 0 {
			wait = c.cfg.CycleInterval
		}
		metrics.ResumeAt.Set(float64(resumeAt.Unix()))

		ev := c.logger.Debug()
		if !resumeAt.Equal(c.resumeAt) {
			ev = c.logger.Info()
		}
		ev.Time("resume_at", resumeAt).
			Dur("remaining", resumeAt.Sub(now)).
			Msg("Transfers paused until resume time")
	}
	c.resumeAt = resumeAt

	return Decision{
		State:         Paused,
		Wait:          wait,
		ResumeAt:      resumeAt,
		QuotaExceeded: quotaExceeded,
		OutsideWindow: outsideWindow,
	}
}

func (c *Controller) run(ctx context.Context, now time.Time, used uint64) (Decision, error) {
	if c.state != Running {
		c.ledger.SetPaused(false)
		c.logger.Info().
			Float64("used_gb", float64(used)/ledger.BytesPerGB).
			Msg("Resuming transfers")
		c.state = Running
		c.resumeAt = time.Time{}
		c.quotaCause = false
		c.windowCause = false
		metrics.ResumeAt.Set(0)
		if c.liveness != nil {
			c.lastAlive = c.liveness.Total()
		}
	}

	if c.liveness != nil {
		alive, total := c.liveness.Alive(), c.liveness.Total()
		if total > 0 && alive == 0 {
			c.logger.Error().Int("workers", total).Msg("All worker units have exited")
			c.persist(ctx)
			return Decision{State: Running}, ErrAllWorkersExited
		}
		if alive != c.lastAlive {
			c.logger.Warn().
				Int("alive", alive).
				Int("total", total).
				Msg("Worker units have exited")
			c.lastAlive = alive
		}
	}

	if c.lastStatus.IsZero() || now.Sub(c.lastStatus) >= c.cfg.StatusInterval {
		snap := c.ledger.Snapshot()
		c.logger.Info().
			Float64("speed_mbps", snap.AggregateSpeed).
			Float64("downloaded_gb", float64(snap.Bytes)/ledger.BytesPerGB).
			Int("active", snap.ActiveWorkers).
			Int("configured", c.settings.Concurrency()).
			Msg("Status")
		c.persist(ctx)
		c.lastStatus = now
	}

	return Decision{State: Running, Wait: c.cfg.CycleInterval}, nil
}

func (c *Controller) updateGauges(used, limit uint64, quotaExceeded, outsideWindow bool) {
	metrics.BytesTransferred.Set(float64(used))
	metrics.QuotaBytes.Set(float64(limit))
	metrics.TransferSpeed.Set(c.ledger.AggregateSpeed())
	metrics.ActiveConnections.Set(float64(c.ledger.ActiveWorkers()))
	metrics.PauseReason.WithLabelValues("quota").Set(boolGauge(quotaExceeded))
	metrics.PauseReason.WithLabelValues("window").Set(boolGauge(outsideWindow))
	metrics.Paused.Set(boolGauge(quotaExceeded || outsideWindow))
	if c.liveness != nil {
		metrics.WorkersAlive.Set(float64(c.liveness.Alive()))
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// persist saves the ledger. Failures are logged, counted and retried at the
// next persistence point.
func (c *Controller) persist(ctx context.Context) {
	if c.store == nil {
		return
	}
	if err := c.ledger.Persist(ctx, c.store); err != nil {
		c.logger.Error().Err(err).Msg("Failed to persist state")
		metrics.PersistErrors.Inc()
	}
}

func (c *Controller) finalPersist(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalPersistTimeout)
	defer cancel()
	c.persist(ctx)
}
