package worker

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goodtune/kburn/internal/history"
	"github.com/goodtune/kburn/internal/metrics"
	"github.com/rs/zerolog"
)

// Pool runs a fixed set of units and tracks how many are still running.
type Pool struct {
	units  []*Unit
	alive  atomic.Int32
	wg     sync.WaitGroup
	cancel context.CancelFunc
	logger zerolog.Logger
}

// NewPool creates n units sharing the same targets, body and ledger.
func NewPool(n int, targets []string, body Body, l Ledger, h *history.History, cfg Config, logger zerolog.Logger) *Pool {
	p := &Pool{
		units:  make([]*Unit, 0, n),
		cancel: func() {},
		logger: logger.With().Str("component", "worker").Logger(),
	}
	for i := 0; i < n; i++ {
		p.units = append(p.units, NewUnit(i, targets, body, l, h, cfg, logger))
	}
	return p
}

// Start launches every unit. Units stop when ctx ends or Shutdown is called.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.alive.Store(int32(len(p.units)))
	metrics.WorkersAlive.Set(float64(len(p.units)))

	for _, u := range p.units {
		p.wg.Add(1)
		go func(u *Unit) {
			defer p.wg.Done()
			defer func() {
				metrics.WorkersAlive.Set(float64(p.alive.Add(-1)))
			}()
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error().
						Int("worker_id", u.ID()).
						Interface("panic", r).
						Bytes("stack", debug.Stack()).
						Msg("Worker panicked")
				}
			}()
			u.Run(ctx)
		}(u)
	}

	p.logger.Info().Int("workers", len(p.units)).Msg("Worker pool started")
}

// Alive returns the number of units still running.
func (p *Pool) Alive() int {
	return int(p.alive.Load())
}

// Total returns the number of units started.
func (p *Pool) Total() int {
	return len(p.units)
}

// Shutdown cancels every unit and waits up to grace for them to return. It
// reports whether all units stopped in time.
func (p *Pool) Shutdown(grace time.Duration) bool {
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		p.logger.Info().Msg("All workers stopped")
		return true
	case <-timer.C:
		p.logger.Warn().
			Int("alive", p.Alive()).
			Dur("grace", grace).
			Msg("Workers did not stop within grace period")
		return false
	}
}
