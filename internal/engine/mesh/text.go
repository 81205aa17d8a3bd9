package mesh

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/OCharnyshevich/visengine/internal/engine/geom"
)

const maxLineSize = 1 << 20

var (
	hintVertices  = []byte("vertices:")
	hintTriangles = []byte("triangles:")
)

// TextHints are the element counts announced by the leading comment block.
// A value of -1 means the hint was absent.
type TextHints struct {
	Vertices  int
	Triangles int
}

func (h TextHints) complete() bool { return h.Vertices >= 0 && h.Triangles >= 0 }

// minElementLine is the shortest line that adds a vertex or a triangle,
// e.g. "v 0 0 0\n".
const minElementLine = 8

// clamp limits the hints to what a stream of size bytes can hold.
func (h TextHints) clamp(size int64) TextHints {
	limit := int(min(size/minElementLine, maxElements))
	h.Vertices = max(0, min(h.Vertices, limit))
	h.Triangles = max(0, min(h.Triangles, limit))
	return h
}

// LoadText reads a text geometry file without buffering it whole.
func LoadText(path string) (*Data, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mesh %s: %w", path, err)
	}
	defer f.Close()

	d, err := DecodeText(f)
	if err != nil {
		return nil, fmt.Errorf("decode mesh %s: %w", path, err)
	}
	return d, nil
}

// DecodeText parses "v x y z" and "f a b c" lines from r. Counts announced by
// "# Vertices: N" / "# Triangles: N" comments size the arrays up front; when
// either is missing a counting pass runs first and r is rewound.
func DecodeText(r io.ReadSeeker) (*Data, error) {
	hints, err := readHints(r)
	if err != nil {
		return nil, err
	}
	if !hints.complete() {
		if _, err := r.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("rewind: %w", err)
		}
		if hints, err = countElements(r); err != nil {
			return nil, err
		}
	}
	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("seek end: %w", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind: %w", err)
	}
	return parseText(r, hints.clamp(size))
}

func newScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	return sc
}

// readHints scans the leading comment block only.
func readHints(r io.Reader) (TextHints, error) {
	hints := TextHints{Vertices: -1, Triangles: -1}
	sc := newScanner(r)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if line[0] != '#' {
			break
		}
		body := bytes.ToLower(bytes.TrimSpace(line[1:]))
		switch {
		case bytes.HasPrefix(body, hintVertices):
			if n, err := strconv.Atoi(string(bytes.TrimSpace(body[len(hintVertices):]))); err == nil && n >= 0 {
				hints.Vertices = n
			}
		case bytes.HasPrefix(body, hintTriangles):
			if n, err := strconv.Atoi(string(bytes.TrimSpace(body[len(hintTriangles):]))); err == nil && n >= 0 {
				hints.Triangles = n
			}
		}
	}
	if err := sc.Err(); err != nil {
		return hints, fmt.Errorf("read hints: %w", err)
	}
	return hints, nil
}

// countElements is the pre-pass used when the header carries no counts.
func countElements(r io.Reader) (TextHints, error) {
	var h TextHints
	sc := newScanner(r)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) < 2 || line[1] != ' ' && line[1] != '\t' {
			continue
		}
		switch line[0] {
		case 'v':
			h.Vertices++
		case 'f':
			if n := len(bytes.Fields(line)) - 3; n > 0 {
				h.Triangles += n
			}
		}
	}
	if err := sc.Err(); err != nil {
		return h, fmt.Errorf("count elements: %w", err)
	}
	return h, nil
}

func parseText(r io.Reader, hints TextHints) (*Data, error) {
	verts := make([]float32, 0, hints.Vertices*3)
	idx := make([]int32, 0, hints.Triangles*3)
	bounds := geom.EmptyAABB()

	var (
		lineNo int
		face   []int32
	)
	sc := newScanner(r)
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) < 2 || line[1] != ' ' && line[1] != '\t' {
			continue
		}

		switch line[0] {
		case 'v':
			fields := bytes.Fields(line[1:])
			if len(fields) < 3 {
				return nil, fmt.Errorf("%w: line %d: vertex needs 3 coordinates", ErrFormat, lineNo)
			}
			var p [3]float32
			for i := range p {
				f, err := strconv.ParseFloat(string(fields[i]), 32)
				if err != nil {
					return nil, fmt.Errorf("%w: line %d: %v", ErrFormat, lineNo, err)
				}
				p[i] = float32(f)
			}
			verts = append(verts, p[0], p[1], p[2])
			bounds.Extend(geom.FromArray(p))

		case 'f':
			fields := bytes.Fields(line[1:])
			if len(fields) < 3 {
				return nil, fmt.Errorf("%w: line %d: face needs 3 vertices", ErrFormat, lineNo)
			}
			face = face[:0]
			for _, fv := range fields {
				i, err := faceIndex(fv, len(verts)/3)
				if err != nil {
					return nil, fmt.Errorf("%w: line %d: %v", ErrFormat, lineNo, err)
				}
				face = append(face, i)
			}
			// Polygons are fanned around their first corner.
			for j := 1; j+1 < len(face); j++ {
				idx = append(idx, face[0], face[j], face[j+1])
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read geometry: %w", err)
	}

	d := &Data{
		Vertices:      verts[:len(verts):len(verts)],
		Indices:       idx[:len(idx):len(idx)],
		VertexCount:   len(verts) / 3,
		TriangleCount: len(idx) / 3,
		Bounds:        bounds,
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// faceIndex converts a 1-based (or negative, relative) face reference into
// a 0-based vertex index. Only the first component of "i/j/k" is used.
func faceIndex(field []byte, seen int) (int32, error) {
	if slash := bytes.IndexByte(field, '/'); slash >= 0 {
		field = field[:slash]
	}
	n, err := strconv.ParseInt(string(field), 10, 32)
	if err != nil {
		return 0, err
	}
	switch {
	case n > 0:
		return int32(n - 1), nil
	case n < 0:
		return int32(int64(seen) + n), nil
	default:
		return 0, fmt.Errorf("vertex index 0")
	}
}
