package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goodtune/kburn/internal/clock"
	"github.com/goodtune/kburn/internal/history"
	"github.com/goodtune/kburn/internal/ledger"
	"github.com/rs/zerolog"
)

func testConfig() Config {
	return Config{
		Cooldown:       time.Millisecond,
		PausePoll:      5 * time.Millisecond,
		ReportInterval: 2 * time.Second,
		ChunkSize:      64 * 1024,
		RequestTimeout: 5 * time.Second,
		UserAgent:      "kburn-test",
	}
}

func newTestLedger() *ledger.Ledger {
	return ledger.New(clock.RealClock{}, zerolog.Nop())
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestMeter_ReportsSpeedAfterInterval(t *testing.T) {
	clk := clock.NewTestClock(time.Date(2024, time.July, 1, 12, 0, 0, 0, time.UTC))
	cfg := testConfig()
	cfg.Clock = clk
	l := newTestLedger()

	m := NewMeter(l, 3, cfg)
	m.Add(bytesPerMB)
	if _, ok := l.Snapshot().Speeds[3]; ok {
		t.Fatal("speed reported before the report interval elapsed")
	}

	clk.Advance(2 * time.Second)
	m.Add(3 * bytesPerMB)

	if got := l.Snapshot().Speeds[3]; got != 2.0 {
		t.Errorf("reported speed = %v MB/s, want 2", got)
	}
	if m.Total() != 4*bytesPerMB || l.Bytes() != 4*bytesPerMB {
		t.Errorf("totals: meter=%d ledger=%d", m.Total(), l.Bytes())
	}

	m.Done()
	if got := l.Snapshot().Speeds[3]; got != 0 {
		t.Errorf("speed after Done = %v, want 0", got)
	}
}

func TestMeter_WaitIfPausedHonoursContext(t *testing.T) {
	l := newTestLedger()
	l.SetPaused(true)
	l.ReportSpeed(1, 9)

	m := NewMeter(l, 1, testConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if err := m.WaitIfPaused(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if got := l.Snapshot().Speeds[1]; got != 0 {
		t.Errorf("speed while paused = %v, want 0", got)
	}
}

func TestHTTPBody_StreamsIntoLedger(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 300*1024)
	var gotUA atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	l := newTestLedger()
	body := NewHTTPBody(testConfig())
	if err := body.Run(context.Background(), srv.URL+"/file.bin", l, 0); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := l.Bytes(); got != uint64(len(payload)) {
		t.Errorf("ledger bytes = %d, want %d", got, len(payload))
	}
	if ua, _ := gotUA.Load().(string); ua != "kburn-test" {
		t.Errorf("User-Agent = %q, want kburn-test", ua)
	}
}

func TestHTTPBody_RejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	l := newTestLedger()
	err := NewHTTPBody(testConfig()).Run(context.Background(), srv.URL, l, 0)
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected 404 error, got %v", err)
	}
	if l.Bytes() != 0 {
		t.Errorf("error response must not count bytes, got %d", l.Bytes())
	}
}

func TestHTTPBody_HoldsWhilePaused(t *testing.T) {
	payload := bytes.Repeat([]byte("y"), 128*1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	l := newTestLedger()
	l.SetPaused(true)

	done := make(chan error, 1)
	go func() {
		done <- NewHTTPBody(testConfig()).Run(context.Background(), srv.URL, l, 2)
	}()

	time.Sleep(50 * time.Millisecond)
	if l.Bytes() != 0 {
		t.Fatalf("bytes counted while paused: %d", l.Bytes())
	}
	select {
	case err := <-done:
		t.Fatalf("body returned while paused: %v", err)
	default:
	}

	l.SetPaused(false)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("body did not finish after resume")
	}
	if l.Bytes() != uint64(len(payload)) {
		t.Errorf("ledger bytes = %d, want %d", l.Bytes(), len(payload))
	}
}

func TestHTTPBody_RateLimited(t *testing.T) {
	payload := bytes.Repeat([]byte("z"), 64*1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.ChunkSize = 16 * 1024
	cfg.RateLimitMBps = 0.5

	l := newTestLedger()
	if err := NewHTTPBody(cfg).Run(context.Background(), srv.URL, l, 0); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if l.Bytes() != uint64(len(payload)) {
		t.Errorf("ledger bytes = %d, want %d", l.Bytes(), len(payload))
	}
}

func TestRouter_Dispatch(t *testing.T) {
	r := NewRouter(testConfig())

	var called string
	r.Register("HTTP", BodyFunc(func(ctx context.Context, target string, l Ledger, id int) error {
		called = target
		return nil
	}))

	l := newTestLedger()
	if err := r.Run(context.Background(), "http://example.com/a", l, 0); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if called != "http://example.com/a" {
		t.Errorf("registered body not used, called=%q", called)
	}

	err := r.Run(context.Background(), "magnet:?xt=urn:btih:abc", l, 0)
	if !errors.Is(err, ErrUnsupportedScheme) {
		t.Fatalf("expected ErrUnsupportedScheme, got %v", err)
	}
	if r.Supports("magnet:?xt=urn:btih:abc") || !r.Supports("ftp://host/file") {
		t.Error("Supports() mismatch")
	}
}

func TestUnit_RecordsOutcomes(t *testing.T) {
	h, err := history.New(16)
	if err != nil {
		t.Fatalf("history.New failed: %v", err)
	}

	var calls atomic.Int32
	body := BodyFunc(func(ctx context.Context, target string, l Ledger, id int) error {
		l.AddBytes(10)
		if calls.Add(1)%2 == 0 {
			return fmt.Errorf("connection reset")
		}
		return nil
	})

	l := newTestLedger()
	u := NewUnit(0, []string{"http://a/1"}, body, l, h, testConfig(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		u.Run(ctx)
		close(done)
	}()

	waitFor(t, 2*time.Second, func() bool { return calls.Load() >= 4 })
	cancel()
	<-done

	e, ok := h.Get("http://a/1")
	if !ok {
		t.Fatal("no history entry recorded")
	}
	if e.Attempts < 4 || e.Failures < 2 {
		t.Errorf("attempts=%d failures=%d", e.Attempts, e.Failures)
	}
	if e.Bytes != 10 {
		t.Errorf("entry bytes = %d, want 10", e.Bytes)
	}
	if l.Bytes() < 40 {
		t.Errorf("ledger bytes = %d, want >= 40", l.Bytes())
	}
}

func TestUnit_RecoversPanic(t *testing.T) {
	h, _ := history.New(4)
	var calls atomic.Int32
	body := BodyFunc(func(ctx context.Context, target string, l Ledger, id int) error {
		calls.Add(1)
		panic("boom")
	})

	u := NewUnit(1, []string{"http://a/1"}, body, newTestLedger(), h, testConfig(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		u.Run(ctx)
		close(done)
	}()

	waitFor(t, 2*time.Second, func() bool { return calls.Load() >= 2 })
	cancel()
	<-done

	e, _ := h.Get("http://a/1")
	if e.Result != history.ResultError || !strings.Contains(e.Error, "panicked") {
		t.Errorf("unexpected entry after panic: %+v", e)
	}
}

func TestUnit_NoTargetsExits(t *testing.T) {
	u := NewUnit(0, nil, BodyFunc(func(context.Context, string, Ledger, int) error { return nil }), newTestLedger(), nil, testConfig(), zerolog.Nop())

	done := make(chan struct{})
	go func() {
		u.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("unit without targets did not exit")
	}
}

func TestPool_AliveAndShutdown(t *testing.T) {
	body := BodyFunc(func(ctx context.Context, target string, l Ledger, id int) error {
		<-ctx.Done()
		return ctx.Err()
	})

	p := NewPool(3, []string{"http://a/1"}, body, newTestLedger(), nil, testConfig(), zerolog.Nop())
	p.Start(context.Background())

	if p.Total() != 3 || p.Alive() != 3 {
		t.Fatalf("Total=%d Alive=%d, want 3/3", p.Total(), p.Alive())
	}
	if !p.Shutdown(2 * time.Second) {
		t.Fatal("Shutdown reported stragglers")
	}
	if p.Alive() != 0 {
		t.Errorf("Alive() = %d after shutdown", p.Alive())
	}
}

func TestPool_UnitsExitWithoutTargets(t *testing.T) {
	p := NewPool(2, nil, BodyFunc(func(context.Context, string, Ledger, int) error { return nil }), newTestLedger(), nil, testConfig(), zerolog.Nop())
	p.Start(context.Background())

	waitFor(t, time.Second, func() bool { return p.Alive() == 0 })
	p.Shutdown(time.Second)
}
