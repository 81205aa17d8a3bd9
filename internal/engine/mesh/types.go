// Package mesh reads and writes the collision geometry formats consumed by
// the raycast scenes: a compact binary layout loaded with bulk copies, and a
// streaming line-oriented text layout.
package mesh

import (
	"fmt"

	"github.com/OCharnyshevich/visengine/internal/engine/geom"
)

// Data is an indexed triangle mesh. Vertices holds 3 floats per vertex and
// Indices holds 3 zero-based vertex indices per triangle. Data is treated as
// immutable once built.
type Data struct {
	Vertices      []float32
	Indices       []int32
	VertexCount   int
	TriangleCount int
	Bounds        geom.AABB
}

// Vertex returns vertex i.
func (d *Data) Vertex(i int32) geom.Vec3 {
	o := int(i) * 3
	return geom.Vec3{X: d.Vertices[o], Y: d.Vertices[o+1], Z: d.Vertices[o+2]}
}

// Triangle returns the three corners of triangle t.
func (d *Data) Triangle(t int) (a, b, c geom.Vec3) {
	o := t * 3
	return d.Vertex(d.Indices[o]), d.Vertex(d.Indices[o+1]), d.Vertex(d.Indices[o+2])
}

// TriangleBounds returns the bounding box of triangle t.
func (d *Data) TriangleBounds(t int) geom.AABB {
	a, b, c := d.Triangle(t)
	box := geom.AABB{Min: a, Max: a}
	box.Extend(b)
	box.Extend(c)
	return box
}

// Validate checks that the arrays match the counts and that every index
// refers to an existing vertex.
func (d *Data) Validate() error {
	if len(d.Vertices) != d.VertexCount*3 {
		return fmt.Errorf("%w: %d floats for %d vertices", ErrTruncated, len(d.Vertices), d.VertexCount)
	}
	if len(d.Indices) != d.TriangleCount*3 {
		return fmt.Errorf("%w: %d indices for %d triangles", ErrTruncated, len(d.Indices), d.TriangleCount)
	}
	n := int32(d.VertexCount)
	for i, idx := range d.Indices {
		if idx < 0 || idx >= n {
			return fmt.Errorf("%w: index %d at %d (vertices: %d)", ErrBadIndex, idx, i, n)
		}
	}
	return nil
}

// ComputeBounds recomputes Bounds from the vertex array.
func (d *Data) ComputeBounds() {
	box := geom.EmptyAABB()
	for i := 0; i+2 < len(d.Vertices); i += 3 {
		box.Extend(geom.Vec3{X: d.Vertices[i], Y: d.Vertices[i+1], Z: d.Vertices[i+2]})
	}
	d.Bounds = box
}

// New builds a Data from flat arrays and computes its bounds.
func New(vertices []float32, indices []int32) *Data {
	d := &Data{
		Vertices:      vertices,
		Indices:       indices,
		VertexCount:   len(vertices) / 3,
		TriangleCount: len(indices) / 3,
	}
	d.ComputeBounds()
	return d
}
