package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no state has been persisted yet.
var ErrNotFound = errors.New("storage: record not found")

// StateStore persists the ledger snapshot.
type StateStore interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, state State) error
	Close() error
}
