package storage

import (
	"path/filepath"

	"github.com/spf13/afero"
)

// EnsureDir ensures the parent directory of path exists with default permissions.
func EnsureDir(fs afero.Fs, path string) error {
	return fs.MkdirAll(filepath.Dir(path), 0755)
}
