//go:build unix

package shm

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

type mapping struct {
	once sync.Once
	data []byte
}

func (m *mapping) Bytes() []byte { return m.data }

func (m *mapping) Close() error {
	err := ErrClosed
	m.once.Do(func() {
		err = unix.Munmap(m.data)
	})
	return err
}

// OpenPath maps the first size bytes of an existing file read-write and
// shared.
func OpenPath(path string, size int) (Segment, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("open segment %s: %w", path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat segment %s: %w", path, err)
	}
	if st.Size() < int64(size) {
		return nil, fmt.Errorf("%w: %s is %d bytes, need %d", ErrTooSmall, path, st.Size(), size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("map segment %s: %w", path, err)
	}
	return &mapping{data: data}, nil
}
