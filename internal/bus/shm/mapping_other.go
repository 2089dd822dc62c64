//go:build !unix

package shm

import "github.com/pkg/errors"

// Mapping is a shared view of a pool file.
type Mapping struct {
	data []byte
}

// Map is not supported on this platform.
func Map(path string, size int, writable bool) (*Mapping, error) {
	return nil, errors.Errorf("cannot map pool %s: shared memory pools need a unix platform", path)
}

func (m *Mapping) Bytes() []byte {
	return m.data
}

func (m *Mapping) Close() error {
	return nil
}
