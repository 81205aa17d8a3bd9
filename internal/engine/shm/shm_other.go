//go:build !unix

package shm

// OpenPath is not available on this platform.
func OpenPath(path string, size int) (Segment, error) {
	return nil, ErrUnsupported
}
