package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/goodtune/kburn/internal/history"
	"github.com/goodtune/kburn/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Unit repeatedly picks a random target and runs one transfer of it until
// its context ends.
type Unit struct {
	id      int
	targets []string
	body    Body
	ledger  Ledger
	history *history.History
	cfg     Config
	logger  zerolog.Logger
}

// NewUnit creates a unit. history may be nil.
func NewUnit(id int, targets []string, body Body, l Ledger, h *history.History, cfg Config, logger zerolog.Logger) *Unit {
	return &Unit{
		id:      id,
		targets: targets,
		body:    body,
		ledger:  l,
		history: h,
		cfg:     cfg,
		logger:  logger.With().Str("component", "worker").Int("worker_id", id).Logger(),
	}
}

// ID returns the worker ID used for speed reports.
func (u *Unit) ID() int {
	return u.id
}

// Run loops until ctx ends. It returns immediately when there are no targets.
func (u *Unit) Run(ctx context.Context) {
	if len(u.targets) == 0 {
		u.logger.Warn().Msg("No transfer targets configured, worker exiting")
		return
	}

	u.logger.Info().Int("targets", len(u.targets)).Msg("Worker started")

	for ctx.Err() == nil {
		target := u.targets[rand.IntN(len(u.targets))]
		u.transfer(ctx, target)

		if !u.cooldown(ctx) {
			break
		}
	}

	u.logger.Info().Msg("Worker stopped")
}

func (u *Unit) cooldown(ctx context.Context) bool {
	if u.cfg.Cooldown <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(u.cfg.Cooldown)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// transfer runs the body once and records the outcome. Errors stay here.
func (u *Unit) transfer(ctx context.Context, target string) {
	transferID := uuid.NewString()
	clk := u.cfg.clock()
	counter := &countingLedger{Ledger: u.ledger}
	logger := u.logger.With().Str("transfer_id", transferID).Str("target", target).Logger()

	logger.Info().Msg("Transfer started")
	started := clk.Now()
	err := u.runBody(ctx, target, counter)
	finished := clk.Now()
	u.ledger.ReportSpeed(u.id, 0)

	result := history.ResultCompleted
	switch {
	case err == nil:
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		result = history.ResultCancelled
	default:
		result = history.ResultError
	}

	scheme := Scheme(target)
	if scheme == "" {
		scheme = "unknown"
	}
	duration := finished.Sub(started)
	metrics.TransfersTotal.WithLabelValues(scheme, result).Inc()
	metrics.TransferDuration.WithLabelValues(scheme).Observe(duration.Seconds())

	bytes := counter.Total()
	if u.history != nil {
		entry := history.Entry{
			Target:     target,
			TransferID: transferID,
			WorkerID:   u.id,
			Result:     result,
			Bytes:      bytes,
			StartedAt:  started,
			FinishedAt: finished,
		}
		if err != nil {
			entry.Error = err.Error()
		}
		u.history.Record(entry)
	}

	switch result {
	case history.ResultCompleted:
		var avgMbps float64
		if secs := duration.Seconds(); secs > 0 {
			avgMbps = float64(bytes) * 8 / bytesPerMB / secs
		}
		logger.Info().
			Float64("mb", float64(bytes)/bytesPerMB).
			Dur("duration", duration).
			Float64("avg_mbps", avgMbps).
			Msg("Transfer completed")
	case history.ResultCancelled:
		logger.Info().Uint64("bytes", bytes).Msg("Transfer cancelled")
	default:
		logger.Error().Err(err).Uint64("bytes", bytes).Msg("Transfer failed")
	}
}

// runBody converts a panic in the body into an error.
func (u *Unit) runBody(ctx context.Context, target string, l Ledger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			u.logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Transfer body panicked")
			err = fmt.Errorf("transfer body panicked: %v", r)
		}
	}()
	return u.body.Run(ctx, target, l, u.id)
}

// countingLedger tallies the bytes of a single transfer.
type countingLedger struct {
	Ledger
	total atomic.Uint64
}

func (c *countingLedger) AddBytes(n uint64) {
	c.total.Add(n)
	c.Ledger.AddBytes(n)
}

func (c *countingLedger) Total() uint64 {
	return c.total.Load()
}
