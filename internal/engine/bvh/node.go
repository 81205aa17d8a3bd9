// Package bvh builds a binned-SAH bounding volume hierarchy over a triangle
// mesh and answers any-hit ray queries against it.
package bvh

import (
	"errors"

	"github.com/OCharnyshevich/visengine/internal/engine/geom"
	"github.com/OCharnyshevich/visengine/internal/engine/mesh"
)

var ErrEmptyMesh = errors.New("mesh has no triangles")

// NodeSize is the encoded size of a Node in bytes.
const NodeSize = 32

// Node is one record of the depth-first node array.
//
// When RightOrCount is negative the node is a leaf covering -RightOrCount
// entries of the triangle order starting at LeftOrOffset. Otherwise the left
// child is the next node in the array and RightOrCount is the index of the
// right child.
type Node struct {
	Min          [3]float32
	Max          [3]float32
	LeftOrOffset int32
	RightOrCount int32
}

// IsLeaf reports whether n is a leaf.
func (n *Node) IsLeaf() bool { return n.RightOrCount < 0 }

// Count returns the number of triangles in a leaf.
func (n *Node) Count() int { return int(-n.RightOrCount) }

// Bounds returns the node box.
func (n *Node) Bounds() geom.AABB {
	return geom.AABB{Min: geom.FromArray(n.Min), Max: geom.FromArray(n.Max)}
}

func (n *Node) setBounds(b geom.AABB) {
	n.Min = b.Min.Array()
	n.Max = b.Max.Array()
}

// Tree is a built hierarchy together with the mesh it indexes. Trees are
// immutable and safe for concurrent queries.
type Tree struct {
	Mesh     *mesh.Data
	Nodes    []Node
	TriOrder []int32

	depth int
}

// NewTree wraps already-built arrays, e.g. ones read back from a cache.
func NewTree(m *mesh.Data, nodes []Node, order []int32) *Tree {
	t := &Tree{Mesh: m, Nodes: nodes, TriOrder: order}
	t.depth = t.measureDepth()
	return t
}

// Depth returns the number of levels below the root.
func (t *Tree) Depth() int { return t.depth }

// Bounds returns the root box.
func (t *Tree) Bounds() geom.AABB {
	if len(t.Nodes) == 0 {
		return geom.EmptyAABB()
	}
	return t.Nodes[0].Bounds()
}

// TriangleCount returns the number of indexed triangles.
func (t *Tree) TriangleCount() int {
	if t.Mesh == nil {
		return 0
	}
	return t.Mesh.TriangleCount
}

// measureDepth walks the node array iteratively.
func (t *Tree) measureDepth() int {
	if len(t.Nodes) == 0 {
		return 0
	}
	type item struct{ node, depth int32 }
	stack := []item{{0, 0}}
	deepest := 0
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if int(it.depth) > deepest {
			deepest = int(it.depth)
		}
		n := &t.Nodes[it.node]
		if n.IsLeaf() {
			continue
		}
		// Children always follow their parent; anything else is corrupt and
		// left for Validate to report.
		if n.RightOrCount <= it.node+1 || int(n.RightOrCount) >= len(t.Nodes) {
			continue
		}
		stack = append(stack, item{n.RightOrCount, it.depth + 1}, item{it.node + 1, it.depth + 1})
	}
	return deepest
}
