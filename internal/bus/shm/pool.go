// Package shm manages the file backed shared memory pools that carry frames
// between nodes. The bus daemon creates and removes pool files; nodes map
// them.
package shm

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// CreatePool creates a zero filled pool file of size bytes inside dir and
// returns its path.
func CreatePool(dir string, size int) (string, error) {
	if size <= 0 {
		return "", errors.Errorf("invalid pool size %d", size)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", errors.Wrapf(err, "failed to create pool directory %s", dir)
	}

	path := filepath.Join(dir, "pool-"+uuid.New().String())
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", errors.Wrapf(err, "failed to create pool file %s", path)
	}
	defer f.Close()

	if err := f.Truncate(int64(size)); err != nil {
		os.Remove(path)
		return "", errors.Wrapf(err, "failed to size pool file %s", path)
	}
	return path, nil
}

// RemovePool deletes a pool file. Existing mappings stay valid until they
// are closed.
func RemovePool(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove pool file %s", path)
	}
	return nil
}
