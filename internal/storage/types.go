package storage

import (
	"math"
	"time"
)

// State is the persisted part of the ledger. The pause flag and per-worker
// speeds are rebuilt at startup and never stored.
type State struct {
	BytesTransferred uint64  `json:"bytesTransferred"`
	LastResetAt      float64 `json:"lastResetAt"` // unix seconds
}

// NewState builds a State from a byte count and reset time.
func NewState(bytes uint64, lastResetAt time.Time) State {
	return State{
		BytesTransferred: bytes,
		LastResetAt:      float64(lastResetAt.UnixNano()) / float64(time.Second),
	}
}

// ResetTime converts LastResetAt back to a time.Time.
func (s State) ResetTime() time.Time {
	sec, frac := math.Modf(s.LastResetAt)
	return time.Unix(int64(sec), int64(math.Round(frac*float64(time.Second))))
}
