package redis

import (
	"fmt"
	"strconv"

	"github.com/goodtune/kburn/internal/storage"
)

// parseState converts a Redis hash to State
func parseState(data map[string]string) (*storage.State, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	bytes, err := strconv.ParseUint(data["bytes_transferred"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bytes_transferred: %w", err)
	}

	lastResetAt, err := strconv.ParseFloat(data["last_reset_at"], 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse last_reset_at: %w", err)
	}

	return &storage.State{
		BytesTransferred: bytes,
		LastResetAt:      lastResetAt,
	}, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
