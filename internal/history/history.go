// Package history remembers the most recent transfer outcome per target.
package history

import (
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Result values recorded for a transfer.
const (
	ResultCompleted = "completed"
	ResultError     = "error"
	ResultCancelled = "cancelled"
)

// Entry is the latest outcome for one target plus running totals.
type Entry struct {
	Target     string    `json:"target"`
	TransferID string    `json:"transfer_id"`
	WorkerID   int       `json:"worker_id"`
	Result     string    `json:"result"`
	Error      string    `json:"error,omitempty"`
	Bytes      uint64    `json:"bytes"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Attempts   int       `json:"attempts"`
	Failures   int       `json:"failures"`
}

// Duration returns how long the transfer ran.
func (e Entry) Duration() time.Duration {
	return e.FinishedAt.Sub(e.StartedAt)
}

// History is a bounded, least-recently-updated-evicting record of outcomes.
type History struct {
	mu    sync.Mutex
	cache *lru.Cache[string, Entry]
}

// New creates a history holding at most size targets.
func New(size int) (*History, error) {
	cache, err := lru.New[string, Entry](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create transfer history: %w", err)
	}
	return &History{cache: cache}, nil
}

// Record stores the outcome of one transfer, carrying the totals forward.
func (h *History) Record(e Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var attempts, failures int
	if prev, ok := h.cache.Peek(e.Target); ok {
		attempts, failures = prev.Attempts, prev.Failures
	}
	e.Attempts = attempts + 1
	e.Failures = failures
	if e.Result == ResultError {
		e.Failures++
	}
	h.cache.Add(e.Target, e)
}

// Get returns the last entry for target.
func (h *History) Get(target string) (Entry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cache.Peek(target)
}

// Entries returns every entry, most recently finished first.
func (h *History) Entries() []Entry {
	h.mu.Lock()
	entries := h.cache.Values()
	h.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].FinishedAt.After(entries[j].FinishedAt)
	})
	return entries
}

// Len returns the number of tracked targets.
func (h *History) Len() int {
	return h.cache.Len()
}
