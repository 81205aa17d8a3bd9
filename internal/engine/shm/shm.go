// Package shm maps shared-memory segments created by another process. It
// never creates segments.
package shm

import (
	"errors"
	"path/filepath"
	"sync"
	"unsafe"
)

var (
	ErrNotFound    = errors.New("shared memory segment not found")
	ErrTooSmall    = errors.New("shared memory segment is smaller than expected")
	ErrUnsupported = errors.New("shared memory is not supported on this platform")
	ErrClosed      = errors.New("shared memory segment is closed")
)

// DefaultDir is where POSIX shared memory objects live on Linux.
const DefaultDir = "/dev/shm"

// Segment is a mapped region. Bytes stays valid until Close.
type Segment interface {
	Bytes() []byte
	Close() error
}

// Opener opens an existing segment of at least size bytes by name.
type Opener interface {
	Open(name string, size int) (Segment, error)
}

// FileOpener maps files under Dir, which defaults to DefaultDir.
type FileOpener struct {
	Dir string
}

func (o FileOpener) Open(name string, size int) (Segment, error) {
	dir := o.Dir
	if dir == "" {
		dir = DefaultDir
	}
	return OpenPath(filepath.Join(dir, name), size)
}

// Memory is an in-process segment, word aligned like a real mapping.
type Memory struct {
	mu     sync.Mutex
	words  []uint64
	buf    []byte
	closed bool
}

// NewMemory allocates a zeroed segment of size bytes.
func NewMemory(size int) *Memory {
	words := make([]uint64, (size+7)/8)
	var buf []byte
	if size > 0 {
		buf = unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size)
	}
	return &Memory{words: words, buf: buf}
}

func (m *Memory) Bytes() []byte { return m.buf }

// Close marks the segment closed; the memory itself stays readable so that
// other holders are unaffected.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *Memory) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// MemoryOpener hands out registered Memory segments by name.
type MemoryOpener struct {
	mu   sync.Mutex
	segs map[string]*Memory
}

// Register makes seg available under name. A nil seg removes it.
func (o *MemoryOpener) Register(name string, seg *Memory) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.segs == nil {
		o.segs = make(map[string]*Memory)
	}
	if seg == nil {
		delete(o.segs, name)
		return
	}
	o.segs[name] = seg
}

func (o *MemoryOpener) Open(name string, size int) (Segment, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	seg, ok := o.segs[name]
	if !ok {
		return nil, ErrNotFound
	}
	if len(seg.Bytes()) < size {
		return nil, ErrTooSmall
	}
	return seg, nil
}
