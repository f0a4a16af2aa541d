// Package file stores the ledger state as a small JSON document.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/goodtune/kburn/internal/storage"
	"github.com/spf13/afero"
)

// Store implements storage.StateStore on top of an afero filesystem.
type Store struct {
	fs   afero.Fs
	path string
}

// Open creates a file-backed store on the OS filesystem.
func Open(path string) (*Store, error) {
	return OpenFs(afero.NewOsFs(), path)
}

// OpenFs creates a file-backed store on fs.
func OpenFs(fs afero.Fs, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("state file path is required")
	}
	if err := storage.EnsureDir(fs, path); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &Store{fs: fs, path: path}, nil
}

// Path returns the state file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the state file. A missing file yields storage.ErrNotFound.
func (s *Store) Load(ctx context.Context) (*storage.State, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var state storage.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse state file %s: %w", s.path, err)
	}
	return &state, nil
}

// Save writes the state to a temporary file and renames it into place so a
// crash mid-write never leaves a truncated record.
func (s *Store) Save(ctx context.Context, state storage.State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// Close is a no-op for the file store.
func (s *Store) Close() error {
	return nil
}
