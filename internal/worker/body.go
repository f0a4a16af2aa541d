// Package worker runs the transfer units that consume bandwidth on behalf of
// the admission controller.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/goodtune/kburn/internal/clock"
)

// ErrUnsupportedScheme is returned for targets no registered body can handle.
var ErrUnsupportedScheme = errors.New("unsupported target scheme")

// Ledger is the part of the shared ledger a transfer body touches.
type Ledger interface {
	AddBytes(n uint64)
	Paused() bool
	ReportSpeed(workerID int, mbps float64)
}

// Body performs one transfer of target. It must check l.Paused between
// chunks, block while paused without releasing its connection, add every
// chunk to l and report its speed periodically.
type Body interface {
	Run(ctx context.Context, target string, l Ledger, id int) error
}

// BodyFunc adapts a function to Body.
type BodyFunc func(ctx context.Context, target string, l Ledger, id int) error

// Run calls f.
func (f BodyFunc) Run(ctx context.Context, target string, l Ledger, id int) error {
	return f(ctx, target, l, id)
}

// Config holds worker timing and transfer parameters.
type Config struct {
	Cooldown       time.Duration
	PausePoll      time.Duration
	ReportInterval time.Duration
	ChunkSize      int
	RequestTimeout time.Duration
	UserAgent      string
	RateLimitMBps  float64
	Clock          clock.Clock
}

func (c Config) clock() clock.Clock {
	if c.Clock == nil {
		return clock.RealClock{}
	}
	return c.Clock
}

func (c Config) chunkSize() int {
	if c.ChunkSize <= 0 {
		return 1024 * 1024
	}
	return c.ChunkSize
}

// Router dispatches a target to the body registered for its URL scheme.
type Router struct {
	bodies map[string]Body
}

// NewRouter creates a router with the HTTP, HTTPS and FTP bodies registered.
func NewRouter(cfg Config) *Router {
	httpBody := NewHTTPBody(cfg)
	r := &Router{bodies: make(map[string]Body)}
	r.Register("http", httpBody)
	r.Register("https", httpBody)
	r.Register("ftp", NewFTPBody(cfg))
	return r
}

// Register sets the body for scheme, replacing any existing one.
func (r *Router) Register(scheme string, b Body) {
	r.bodies[strings.ToLower(scheme)] = b
}

// Run implements Body.
func (r *Router) Run(ctx context.Context, target string, l Ledger, id int) error {
	scheme := Scheme(target)
	b, ok := r.bodies[scheme]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}
	return b.Run(ctx, target, l, id)
}

// Supports reports whether a body is registered for target's scheme.
func (r *Router) Supports(target string) bool {
	_, ok := r.bodies[Scheme(target)]
	return ok
}

// Scheme returns the lower-cased URL scheme of target, or "" if it has none.
func Scheme(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme)
}
