package scene

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/OCharnyshevich/visengine/internal/engine/bvh"
	"github.com/OCharnyshevich/visengine/internal/engine/geom"
	"github.com/OCharnyshevich/visengine/internal/engine/mesh"
	"github.com/OCharnyshevich/visengine/internal/engine/storage"
)

const (
	cacheMagic   uint32 = 'B' | 'V'<<8 | 'H'<<16 | 'C'<<24
	cacheVersion uint32 = 1

	// CacheHeaderSize is the size of the fixed cache header.
	CacheHeaderSize = 64

	// FlagZstd marks a zstd-compressed body.
	FlagZstd uint32 = 1 << 0

	chunkElems = 1 << 16

	// maxCacheElements bounds header counts of compressed caches, whose
	// size cannot be checked against the file length.
	maxCacheElements = 1 << 28
)

var ErrCacheFormat = errors.New("invalid bvh cache")

// CacheHeader is the fixed header of a BVH cache file. Everything after it is
// the body: vertices, indices, nodes, then the triangle order.
type CacheHeader struct {
	Magic         uint32
	Version       uint32
	VertexCount   uint32
	TriangleCount uint32
	NodeCount     uint32
	Flags         uint32
	BoundsMin     [3]float32
	BoundsMax     [3]float32
	SourceModTime int64 // unix nanoseconds, 0 when unknown
	Reserved      [2]uint32
}

func (h *CacheHeader) bodySize() int64 {
	return int64(h.VertexCount)*12 + int64(h.TriangleCount)*12 +
		int64(h.NodeCount)*bvh.NodeSize + int64(h.TriangleCount)*4
}

// SaveCache writes tree to path atomically, stamping it with the source's
// modification time.
func SaveCache(path string, tree *bvh.Tree, sourceModTime time.Time, compress bool) error {
	m := tree.Mesh
	hdr := CacheHeader{
		Magic:         cacheMagic,
		Version:       cacheVersion,
		VertexCount:   uint32(m.VertexCount),
		TriangleCount: uint32(m.TriangleCount),
		NodeCount:     uint32(len(tree.Nodes)),
		BoundsMin:     m.Bounds.Min.Array(),
		BoundsMax:     m.Bounds.Max.Array(),
	}
	if !sourceModTime.IsZero() {
		hdr.SourceModTime = sourceModTime.UnixNano()
	}
	if compress {
		hdr.Flags |= FlagZstd
	}

	return storage.WriteFileAtomic(path, func(w io.Writer) error {
		if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
			return fmt.Errorf("write cache header: %w", err)
		}
		if !compress {
			return writeBody(w, tree)
		}
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			return fmt.Errorf("create zstd writer: %w", err)
		}
		if err := writeBody(enc, tree); err != nil {
			enc.Close()
			return err
		}
		return enc.Close()
	})
}

func writeBody(w io.Writer, tree *bvh.Tree) error {
	if err := writeChunked(w, tree.Mesh.Vertices); err != nil {
		return fmt.Errorf("write vertices: %w", err)
	}
	if err := writeChunked(w, tree.Mesh.Indices); err != nil {
		return fmt.Errorf("write indices: %w", err)
	}
	if err := writeChunked(w, tree.Nodes); err != nil {
		return fmt.Errorf("write nodes: %w", err)
	}
	if err := writeChunked(w, tree.TriOrder); err != nil {
		return fmt.Errorf("write triangle order: %w", err)
	}
	return nil
}

// writeChunked keeps binary.Write's scratch buffer bounded for large arrays.
func writeChunked[T any](w io.Writer, s []T) error {
	for len(s) > 0 {
		n := min(len(s), chunkElems)
		if err := binary.Write(w, binary.LittleEndian, s[:n]); err != nil {
			return err
		}
		s = s[n:]
	}
	return nil
}

func readChunked[T any](r io.Reader, s []T) error {
	for len(s) > 0 {
		n := min(len(s), chunkElems)
		if err := binary.Read(r, binary.LittleEndian, s[:n]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return fmt.Errorf("%w: truncated body", ErrCacheFormat)
			}
			return err
		}
		s = s[n:]
	}
	return nil
}

// ReadCacheHeader reads and checks the header of a cache file.
func ReadCacheHeader(path string) (CacheHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return CacheHeader{}, err
	}
	defer f.Close()
	return decodeHeader(f)
}

func decodeHeader(r io.Reader) (CacheHeader, error) {
	var hdr CacheHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return hdr, fmt.Errorf("%w: read header: %v", ErrCacheFormat, err)
	}
	if hdr.Magic != cacheMagic {
		return hdr, fmt.Errorf("%w: magic 0x%08x", ErrCacheFormat, hdr.Magic)
	}
	if hdr.Version != cacheVersion {
		return hdr, fmt.Errorf("%w: version %d", ErrCacheFormat, hdr.Version)
	}
	return hdr, nil
}

// IsCacheValid reports whether the cache header is readable and its stored
// timestamp matches sourcePath's modification time. When sourcePath is empty
// or no longer exists the header alone decides.
func IsCacheValid(cachePath, sourcePath string) bool {
	hdr, err := ReadCacheHeader(cachePath)
	if err != nil {
		return false
	}
	if sourcePath == "" {
		return true
	}
	st, err := os.Stat(sourcePath)
	if err != nil {
		return os.IsNotExist(err)
	}
	return hdr.SourceModTime == st.ModTime().UnixNano()
}

// LoadCache reads a cache file and returns the tree it holds. The file is
// not validated against any source; see IsCacheValid.
func LoadCache(path string) (*bvh.Tree, CacheHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, CacheHeader{}, fmt.Errorf("open cache %s: %w", path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, CacheHeader{}, fmt.Errorf("stat cache %s: %w", path, err)
	}

	br := bufio.NewReaderSize(f, 1<<20)
	hdr, err := decodeHeader(br)
	if err != nil {
		return nil, hdr, err
	}
	if hdr.Flags&FlagZstd == 0 && CacheHeaderSize+hdr.bodySize() > st.Size() {
		return nil, hdr, fmt.Errorf("%w: need %d bytes, have %d", ErrCacheFormat, CacheHeaderSize+hdr.bodySize(), st.Size())
	}
	if hdr.VertexCount > maxCacheElements || hdr.TriangleCount > maxCacheElements || hdr.NodeCount > 2*maxCacheElements {
		return nil, hdr, fmt.Errorf("%w: counts out of range", ErrCacheFormat)
	}
	if hdr.TriangleCount == 0 || hdr.NodeCount == 0 {
		return nil, hdr, fmt.Errorf("%w: empty scene", ErrCacheFormat)
	}

	var body io.Reader = br
	if hdr.Flags&FlagZstd != 0 {
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, hdr, fmt.Errorf("%w: zstd: %v", ErrCacheFormat, err)
		}
		defer dec.Close()
		body = dec
	}

	m := &mesh.Data{
		Vertices:      make([]float32, int(hdr.VertexCount)*3),
		Indices:       make([]int32, int(hdr.TriangleCount)*3),
		VertexCount:   int(hdr.VertexCount),
		TriangleCount: int(hdr.TriangleCount),
		Bounds:        geom.AABB{Min: geom.FromArray(hdr.BoundsMin), Max: geom.FromArray(hdr.BoundsMax)},
	}
	nodes := make([]bvh.Node, hdr.NodeCount)
	order := make([]int32, hdr.TriangleCount)

	for _, read := range []func() error{
		func() error { return readChunked(body, m.Vertices) },
		func() error { return readChunked(body, m.Indices) },
		func() error { return readChunked(body, nodes) },
		func() error { return readChunked(body, order) },
	} {
		if err := read(); err != nil {
			return nil, hdr, fmt.Errorf("read cache %s: %w", path, err)
		}
	}

	if err := m.Validate(); err != nil {
		return nil, hdr, fmt.Errorf("%w: %v", ErrCacheFormat, err)
	}
	tree := bvh.NewTree(m, nodes, order)
	if err := tree.Validate(); err != nil {
		return nil, hdr, fmt.Errorf("%w: %v", ErrCacheFormat, err)
	}
	return tree, hdr, nil
}
