// Package ledger holds the counters shared between the admission controller
// and the transfer workers.
//
// Every operation takes the same mutex for a single arithmetic update or map
// access. Storage I/O happens outside the lock.
package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goodtune/kburn/internal/clock"
	"github.com/goodtune/kburn/internal/storage"
	"github.com/rs/zerolog"
)

// BytesPerGB converts between byte counts and the GB figures shown to users.
const BytesPerGB = 1024 * 1024 * 1024

// Ledger tracks transferred bytes, the pause flag and per-worker speeds.
type Ledger struct {
	mu          sync.Mutex
	bytes       uint64
	paused      bool
	lastResetAt time.Time
	speeds      map[int]float64 // worker ID -> MB/s
	clock       clock.Clock
	logger      zerolog.Logger
}

// Snapshot is a point-in-time copy of the ledger.
type Snapshot struct {
	Bytes          uint64
	Paused         bool
	LastResetAt    time.Time
	Speeds         map[int]float64
	AggregateSpeed float64
	ActiveWorkers  int
}

// New creates an empty ledger whose reset timestamp is now.
func New(clk clock.Clock, logger zerolog.Logger) *Ledger {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Ledger{
		lastResetAt: clk.Now(),
		speeds:      make(map[int]float64),
		clock:       clk,
		logger:      logger.With().Str("component", "ledger").Logger(),
	}
}

// AddBytes records n newly transferred bytes.
func (l *Ledger) AddBytes(n uint64) {
	l.mu.Lock()
	l.bytes += n
	l.mu.Unlock()
}

// Bytes returns the bytes transferred since the last reset.
func (l *Ledger) Bytes() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bytes
}

// SetPaused updates the pause flag and reports whether it changed.
func (l *Ledger) SetPaused(paused bool) bool {
	l.mu.Lock()
	changed := l.paused != paused
	l.paused = paused
	l.mu.Unlock()

	if changed {
		if paused {
			l.logger.Info().Msg("Transfers paused")
		} else {
			l.logger.Info().Msg("Transfers resumed")
		}
	}
	return changed
}

// Paused reports whether workers must hold off.
func (l *Ledger) Paused() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paused
}

// Reset zeroes the byte counter, stamps the reset time and clears speeds.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.bytes = 0
	l.lastResetAt = l.clock.Now()
	clear(l.speeds)
	resetAt := l.lastResetAt
	l.mu.Unlock()

	l.logger.Info().Time("reset_at", resetAt).Msg("Transfer counter reset")
}

// LastResetAt returns when the counter was last reset.
func (l *Ledger) LastResetAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastResetAt
}

// ReportSpeed stores the latest speed for a worker.
func (l *Ledger) ReportSpeed(workerID int, mbps float64) {
	l.mu.Lock()
	l.speeds[workerID] = mbps
	l.mu.Unlock()
}

// AggregateSpeed sums the most recent speed of every worker.
func (l *Ledger) AggregateSpeed() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.aggregateLocked()
}

// ActiveWorkers counts workers whose last reported speed is above zero.
func (l *Ledger) ActiveWorkers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.activeLocked()
}

// Snapshot copies every field.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	speeds := make(map[int]float64, len(l.speeds))
	for id, s := range l.speeds {
		speeds[id] = s
	}
	return Snapshot{
		Bytes:          l.bytes,
		Paused:         l.paused,
		LastResetAt:    l.lastResetAt,
		Speeds:         speeds,
		AggregateSpeed: l.aggregateLocked(),
		ActiveWorkers:  l.activeLocked(),
	}
}

func (l *Ledger) aggregateLocked() float64 {
	var total float64
	for _, s := range l.speeds {
		total += s
	}
	return total
}

func (l *Ledger) activeLocked() int {
	var n int
	for _, s := range l.speeds {
		if s > 0 {
			n++
		}
	}
	return n
}

// State returns the persistable part of the ledger.
func (l *Ledger) State() storage.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return storage.NewState(l.bytes, l.lastResetAt)
}

// Persist saves the current state to store.
func (l *Ledger) Persist(ctx context.Context, store storage.StateStore) error {
	state := l.State()
	if err := store.Save(ctx, state); err != nil {
		return err
	}
	l.logger.Debug().
		Uint64("bytes", state.BytesTransferred).
		Float64("last_reset_at", state.LastResetAt).
		Msg("State saved")
	return nil
}

// Restore loads persisted state. Missing or unreadable state leaves the
// in-memory defaults in place; it reports whether anything was loaded.
func (l *Ledger) Restore(ctx context.Context, store storage.StateStore) bool {
	state, err := store.Load(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			l.logger.Info().Msg("No persisted state found, starting from zero")
		} else {
			l.logger.Warn().Err(err).Msg("Failed to load persisted state, starting from zero")
		}
		return false
	}

	resetAt := state.ResetTime()
	if state.LastResetAt == 0 {
		resetAt = l.clock.Now()
	}

	l.mu.Lock()
	l.bytes = state.BytesTransferred
	l.lastResetAt = resetAt
	l.mu.Unlock()

	l.logger.Info().
		Float64("downloaded_gb", float64(state.BytesTransferred)/BytesPerGB).
		Time("last_reset_at", resetAt).
		Msg("State loaded")
	return true
}
