package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/kburn/internal/clock"
	"github.com/goodtune/kburn/internal/ledger"
	"github.com/goodtune/kburn/internal/storage"
	"github.com/goodtune/kburn/internal/storage/file"
	"github.com/goodtune/kburn/internal/window"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

type fakeSettings struct {
	mu      sync.Mutex
	limit   uint64
	reset   string
	windows []window.Window
}

func (f *fakeSettings) LimitBytes() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.limit
}

func (f *fakeSettings) ResetTime() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reset
}

func (f *fakeSettings) Windows() []window.Window {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]window.Window(nil), f.windows...)
}

func (f *fakeSettings) Concurrency() int  { return 2 }
func (f *fakeSettings) Targets() []string { return []string{"http://example.com/a"} }

func (f *fakeSettings) setWindows(ws ...window.Window) {
	f.mu.Lock()
	f.windows = ws
	f.mu.Unlock()
}

type fakeLiveness struct {
	alive, total int
}

func (f *fakeLiveness) Alive() int { return f.alive }
func (f *fakeLiveness) Total() int { return f.total }

type harness struct {
	ctrl     *Controller
	ledger   *ledger.Ledger
	settings *fakeSettings
	clock    *clock.TestClock
	store    *file.Store
	liveness *fakeLiveness
}

func at(day, hour, minute int) time.Time {
	return time.Date(2024, time.March, day, hour, minute, 0, 0, time.UTC)
}

func testConfig() Config {
	return Config{
		CycleInterval:  time.Second,
		StatusInterval: 5 * time.Second,
		MaxSleepChunk:  60 * time.Second,
	}
}

func newHarness(t *testing.T, now time.Time, s *fakeSettings, persisted *storage.State) *harness {
	t.Helper()

	store, err := file.OpenFs(afero.NewMemMapFs(), "/data/download_state.json")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if persisted != nil {
		if err := store.Save(context.Background(), *persisted); err != nil {
			t.Fatalf("failed to seed store: %v", err)
		}
	}

	clk := clock.NewTestClock(now)
	l := ledger.New(clk, zerolog.Nop())
	l.Restore(context.Background(), store)

	live := &fakeLiveness{alive: 2, total: 2}
	return &harness{
		ctrl:     New(l, s, live, store, clk, testConfig(), zerolog.Nop()),
		ledger:   l,
		settings: s,
		clock:    clk,
		store:    store,
		liveness: live,
	}
}

func (h *harness) step(t *testing.T) Decision {
	t.Helper()
	d, err := h.ctrl.Step(context.Background())
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	return d
}

func TestNew_StartsPaused(t *testing.T) {
	h := newHarness(t, at(10, 12, 0), &fakeSettings{limit: 1 << 30, reset: "03:00"}, nil)

	if !h.ledger.Paused() {
		t.Fatal("ledger must be paused before the first cycle")
	}
	if h.ctrl.Status().State != Paused {
		t.Fatalf("initial state = %s, want paused", h.ctrl.Status().State)
	}

	d := h.step(t)
	if d.State != Running || h.ledger.Paused() {
		t.Fatalf("first cycle should resume, got %s paused=%v", d.State, h.ledger.Paused())
	}
	if d.Wait != time.Second {
		t.Errorf("running Wait = %s, want cycle interval", d.Wait)
	}
}

func TestStep_QuotaOfOneByte(t *testing.T) {
	h := newHarness(t, at(10, 12, 0), &fakeSettings{limit: 1, reset: "03:00"}, nil)

	if d := h.step(t); d.State != Running {
		t.Fatalf("expected running with zero bytes, got %s", d.State)
	}

	h.ledger.AddBytes(1)
	d := h.step(t)
	if d.State != Paused || !d.QuotaExceeded || d.OutsideWindow {
		t.Fatalf("expected quota pause, got %+v", d)
	}
	if !h.ledger.Paused() {
		t.Fatal("ledger not paused after quota exceeded")
	}
	if want := at(11, 3, 0); !d.ResumeAt.Equal(want) {
		t.Errorf("ResumeAt = %s, want %s", d.ResumeAt, want)
	}
	if d.Wait != 60*time.Second {
		t.Errorf("Wait = %s, want capped at 60s", d.Wait)
	}

	h.clock.Set(at(11, 3, 0))
	d = h.step(t)
	if d.State != Running || h.ledger.Paused() {
		t.Fatalf("expected resume after reset, got %+v", d)
	}
	if h.ledger.Bytes() != 0 {
		t.Errorf("bytes after reset = %d, want 0", h.ledger.Bytes())
	}
}

func TestStep_ResumeIsLatestCandidate(t *testing.T) {
	tests := []struct {
		name    string
		windows []window.Window
		now     time.Time
		want    time.Time
	}{
		{
			name:    "window opens after reset",
			windows: []window.Window{{Start: "09:00", End: "17:00"}},
			now:     at(10, 20, 0),
			want:    at(11, 9, 0),
		},
		{
			name:    "reset after window opens",
			windows: []window.Window{{Start: "01:00", End: "02:00"}},
			now:     at(10, 20, 0),
			want:    at(11, 3, 0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeSettings{limit: 100, reset: "03:00", windows: tt.windows}
			h := newHarness(t, tt.now, s, nil)
			h.ledger.AddBytes(100)

			d := h.step(t)
			if !d.QuotaExceeded || !d.OutsideWindow {
				t.Fatalf("expected both causes, got %+v", d)
			}
			if !d.ResumeAt.Equal(tt.want) {
				t.Errorf("ResumeAt = %s, want %s", d.ResumeAt, tt.want)
			}
		})
	}
}

func TestStep_OutsideWindowWaitsUntilStart(t *testing.T) {
	s := &fakeSettings{limit: 1 << 40, reset: "03:00", windows: []window.Window{{Start: "09:00", End: "17:00"}}}
	now := at(10, 8, 59).Add(30 * time.Second)
	h := newHarness(t, now, s, nil)

	d := h.step(t)
	if d.State != Paused || !d.OutsideWindow || d.QuotaExceeded {
		t.Fatalf("expected window pause, got %+v", d)
	}
	if d.Wait != 30*time.Second {
		t.Errorf("Wait = %s, want 30s", d.Wait)
	}

	h.clock.Advance(d.Wait)
	if d := h.step(t); d.State != Running {
		t.Fatalf("expected running at window start, got %+v", d)
	}
}

func TestStep_ResetIsIdempotent(t *testing.T) {
	yesterday := storage.NewState(100, at(9, 3, 0))
	h := newHarness(t, at(10, 4, 0), &fakeSettings{limit: 1 << 30, reset: "03:00"}, &yesterday)

	if h.ledger.Bytes() != 100 {
		t.Fatalf("restored bytes = %d, want 100", h.ledger.Bytes())
	}

	h.step(t)
	if h.ledger.Bytes() != 0 {
		t.Fatalf("bytes after first cycle = %d, want reset to 0", h.ledger.Bytes())
	}
	resetAt := h.ledger.LastResetAt()

	h.ledger.AddBytes(50)
	h.clock.Advance(time.Second)
	h.step(t)
	h.clock.Advance(time.Hour)
	h.step(t)

	if h.ledger.Bytes() != 50 {
		t.Errorf("bytes = %d, want 50 (no second reset)", h.ledger.Bytes())
	}
	if !h.ledger.LastResetAt().Equal(resetAt) {
		t.Errorf("LastResetAt moved from %s to %s", resetAt, h.ledger.LastResetAt())
	}
}

func TestStep_NoResetBeforeBoundary(t *testing.T) {
	persisted := storage.NewState(5_000_000_000, at(9, 3, 0))
	h := newHarness(t, at(10, 2, 0), &fakeSettings{limit: 1 << 40, reset: "03:00"}, &persisted)

	h.step(t)
	if h.ledger.Bytes() != 5_000_000_000 {
		t.Errorf("bytes = %d, want restored 5000000000", h.ledger.Bytes())
	}
}

func TestStep_InvalidResetTimeSkipsReset(t *testing.T) {
	persisted := storage.NewState(10, at(1, 3, 0))
	h := newHarness(t, at(10, 12, 0), &fakeSettings{limit: 10, reset: "noon"}, &persisted)

	d := h.step(t)
	if h.ledger.Bytes() != 10 {
		t.Errorf("bytes = %d, want 10 with reset disabled", h.ledger.Bytes())
	}
	if d.State != Paused || !d.ResumeAt.IsZero() {
		t.Errorf("expected open-ended quota pause, got %+v", d)
	}
	if d.Wait != 60*time.Second {
		t.Errorf("Wait = %s, want max sleep chunk", d.Wait)
	}
}

func TestStep_AllWorkersExited(t *testing.T) {
	h := newHarness(t, at(10, 12, 0), &fakeSettings{limit: 1 << 30, reset: "03:00"}, nil)
	h.step(t)

	h.ledger.AddBytes(42)
	h.liveness.alive = 1
	h.clock.Advance(time.Second)
	h.step(t)

	h.liveness.alive = 0
	h.clock.Advance(time.Second)
	if _, err := h.ctrl.Step(context.Background()); !errors.Is(err, ErrAllWorkersExited) {
		t.Fatalf("expected ErrAllWorkersExited, got %v", err)
	}

	state, err := h.store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if state.BytesTransferred != 42 {
		t.Errorf("persisted bytes = %d, want 42", state.BytesTransferred)
	}
}

func TestStep_WindowChangeAppliesNextCycle(t *testing.T) {
	s := &fakeSettings{limit: 1 << 30, reset: "03:00"}
	h := newHarness(t, at(10, 12, 0), s, nil)

	if d := h.step(t); d.State != Running {
		t.Fatalf("expected running, got %s", d.State)
	}

	s.setWindows(window.Window{Start: "22:00", End: "02:00"})
	d := h.step(t)
	if d.State != Paused || !d.OutsideWindow {
		t.Fatalf("expected window pause after settings change, got %+v", d)
	}
	if want := at(10, 22, 0); !d.ResumeAt.Equal(want) {
		t.Errorf("ResumeAt = %s, want %s", d.ResumeAt, want)
	}
}

func TestStep_DegenerateWindowAlwaysAllowed(t *testing.T) {
	s := &fakeSettings{limit: 1 << 30, reset: "03:00", windows: []window.Window{{Start: "00:00", End: "00:00"}}}
	h := newHarness(t, at(10, 15, 0), s, nil)

	if d := h.step(t); d.State != Running {
		t.Fatalf("expected running with degenerate window, got %+v", d)
	}
}

func TestRun_PersistsOnCancel(t *testing.T) {
	h := newHarness(t, at(10, 12, 0), &fakeSettings{limit: 1 << 30, reset: "03:00"}, nil)
	h.ledger.AddBytes(777)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- h.ctrl.Run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	h.ledger.AddBytes(3)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	state, err := h.store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if state.BytesTransferred != 780 {
		t.Errorf("persisted bytes = %d, want 780", state.BytesTransferred)
	}
}

func TestRun_ReturnsFatalError(t *testing.T) {
	h := newHarness(t, at(10, 12, 0), &fakeSettings{limit: 1 << 30, reset: "03:00"}, nil)
	h.liveness.alive = 0

	if err := h.ctrl.Run(context.Background()); !errors.Is(err, ErrAllWorkersExited) {
		t.Fatalf("Run returned %v, want ErrAllWorkersExited", err)
	}
}
