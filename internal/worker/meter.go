package worker

import (
	"context"
	"errors"
	"io"
	"time"

	"golang.org/x/time/rate"
)

const bytesPerMB = 1024 * 1024

// Meter implements the pause and speed-reporting side of the body contract.
// A Meter belongs to a single transfer and is not safe for concurrent use.
type Meter struct {
	ledger         Ledger
	id             int
	pausePoll      time.Duration
	reportInterval time.Duration
	cfg            Config

	total       uint64
	sinceReport uint64
	lastReport  time.Time
}

// NewMeter creates a meter for worker id.
func NewMeter(l Ledger, id int, cfg Config) *Meter {
	pausePoll := cfg.PausePoll
	if pausePoll <= 0 {
		pausePoll = time.Second
	}
	reportInterval := cfg.ReportInterval
	if reportInterval <= 0 {
		reportInterval = 2 * time.Second
	}
	return &Meter{
		ledger:         l,
		id:             id,
		pausePoll:      pausePoll,
		reportInterval: reportInterval,
		cfg:            cfg,
		lastReport:     cfg.clock().Now(),
	}
}

// WaitIfPaused blocks while the ledger is paused, reporting zero speed on
// every poll. It returns ctx.Err() if ctx ends first.
func (m *Meter) WaitIfPaused(ctx context.Context) error {
	if !m.ledger.Paused() {
		return nil
	}

	timer := time.NewTimer(m.pausePoll)
	defer timer.Stop()

	for m.ledger.Paused() {
		m.ledger.ReportSpeed(m.id, 0)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			timer.Reset(m.pausePoll)
		}
	}

	m.lastReport = m.cfg.clock().Now()
	m.sinceReport = 0
	return nil
}

// Add records n transferred bytes and reports the speed once the report
// interval has elapsed.
func (m *Meter) Add(n uint64) {
	m.ledger.AddBytes(n)
	m.total += n
	m.sinceReport += n

	now := m.cfg.clock().Now()
	elapsed := now.Sub(m.lastReport)
	if elapsed < m.reportInterval {
		return
	}
	m.ledger.ReportSpeed(m.id, float64(m.sinceReport)/bytesPerMB/elapsed.Seconds())
	m.lastReport = now
	m.sinceReport = 0
}

// Done reports zero speed.
func (m *Meter) Done() {
	m.ledger.ReportSpeed(m.id, 0)
}

// Total returns the bytes added through this meter.
func (m *Meter) Total() uint64 {
	return m.total
}

func newLimiter(mbps float64, burst int) *rate.Limiter {
	if mbps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(mbps*bytesPerMB), burst)
}

// stream copies r through the meter in chunks of the configured size.
func stream(ctx context.Context, r io.Reader, m *Meter, cfg Config) error {
	defer m.Done()

	size := cfg.chunkSize()
	limiter := newLimiter(cfg.RateLimitMBps, size)
	buf := make([]byte, size)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			if werr := m.WaitIfPaused(ctx); werr != nil {
				return werr
			}
			if limiter != nil {
				if lerr := limiter.WaitN(ctx, n); lerr != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					return lerr
				}
			}
			m.Add(uint64(n))
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}
