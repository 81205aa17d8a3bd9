package mesh

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/OCharnyshevich/visengine/internal/engine/geom"
)

const (
	binaryMagic   uint32 = 'C' | 'M'<<8 | 'S'<<16 | 'H'<<24
	binaryVersion uint32 = 1

	// BinaryHeaderSize is the size of the fixed compact-format header.
	BinaryHeaderSize = 64

	// maxElements bounds counts read from untrusted headers when the
	// stream length is unknown.
	maxElements = 1 << 28
)

// BinaryHeader is the fixed 64-byte header of the compact mesh format.
type BinaryHeader struct {
	Magic               uint32
	Version             uint32
	VertexCount         uint32
	TriangleCount       uint32
	BoundsMin           [3]float32
	BoundsMax           [3]float32
	SourceTriangleCount uint32
	Reserved            [5]uint32
}

func (h *BinaryHeader) payloadSize() int64 {
	return int64(h.VertexCount)*12 + int64(h.TriangleCount)*12
}

// LoadBinary reads a compact mesh file.
func LoadBinary(path string) (*Data, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mesh %s: %w", path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat mesh %s: %w", path, err)
	}

	d, _, err := DecodeBinary(bufio.NewReaderSize(f, 1<<20), st.Size())
	if err != nil {
		return nil, fmt.Errorf("decode mesh %s: %w", path, err)
	}
	return d, nil
}

// DecodeBinary reads a compact mesh from r. size is the total stream length,
// or a negative value when unknown.
func DecodeBinary(r io.Reader, size int64) (*Data, BinaryHeader, error) {
	var hdr BinaryHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, hdr, truncated(err)
	}
	if hdr.Magic != binaryMagic {
		return nil, hdr, fmt.Errorf("%w: magic 0x%08x", ErrWrongMagic, hdr.Magic)
	}
	if hdr.Version != binaryVersion {
		return nil, hdr, fmt.Errorf("%w: %d", ErrWrongVersion, hdr.Version)
	}
	if size >= 0 && BinaryHeaderSize+hdr.payloadSize() > size {
		return nil, hdr, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncated, BinaryHeaderSize+hdr.payloadSize(), size)
	}
	if hdr.VertexCount > maxElements || hdr.TriangleCount > maxElements {
		return nil, hdr, fmt.Errorf("%w: counts %d/%d out of range", ErrFormat, hdr.VertexCount, hdr.TriangleCount)
	}

	d := &Data{
		Vertices:      make([]float32, int(hdr.VertexCount)*3),
		Indices:       make([]int32, int(hdr.TriangleCount)*3),
		VertexCount:   int(hdr.VertexCount),
		TriangleCount: int(hdr.TriangleCount),
		Bounds:        geom.AABB{Min: geom.FromArray(hdr.BoundsMin), Max: geom.FromArray(hdr.BoundsMax)},
	}
	if err := binary.Read(r, binary.LittleEndian, d.Vertices); err != nil {
		return nil, hdr, truncated(err)
	}
	if err := binary.Read(r, binary.LittleEndian, d.Indices); err != nil {
		return nil, hdr, truncated(err)
	}
	if err := d.Validate(); err != nil {
		return nil, hdr, err
	}
	return d, hdr, nil
}

// EncodeBinary writes d in the compact format. sourceTriangles records the
// triangle count of the geometry the mesh was derived from.
func EncodeBinary(w io.Writer, d *Data, sourceTriangles int) error {
	hdr := BinaryHeader{
		Magic:               binaryMagic,
		Version:             binaryVersion,
		VertexCount:         uint32(d.VertexCount),
		TriangleCount:       uint32(d.TriangleCount),
		BoundsMin:           d.Bounds.Min.Array(),
		BoundsMax:           d.Bounds.Max.Array(),
		SourceTriangleCount: uint32(sourceTriangles),
	}
	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, d.Vertices); err != nil {
		return fmt.Errorf("write vertices: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, d.Indices); err != nil {
		return fmt.Errorf("write indices: %w", err)
	}
	return nil
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	return err
}
