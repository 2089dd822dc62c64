//go:build unix

package shm

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Mapping is a shared view of a pool file.
type Mapping struct {
	data []byte
}

// Map maps size bytes of the pool at path. Producers map writable, consumers
// read only.
func Map(path string, size int, writable bool) (*Mapping, error) {
	flag := os.O_RDONLY
	prot := unix.PROT_READ
	if writable {
		flag = os.O_RDWR
		prot |= unix.PROT_WRITE
	}

	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open pool %s", path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to stat pool %s", path)
	}
	if info.Size() < int64(size) {
		return nil, errors.Errorf("pool %s holds %d bytes, need %d", path, info.Size(), size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, prot, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to map pool %s", path)
	}
	return &Mapping{data: data}, nil
}

// Bytes returns the mapped region. It must not be used after Close.
func (m *Mapping) Bytes() []byte {
	return m.data
}

// Close unmaps the region.
func (m *Mapping) Close() error {
	if m.data == nil {
		return nil
	}
	data := m.data
	m.data = nil
	return unix.Munmap(data)
}
