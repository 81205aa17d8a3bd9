package bvh

import (
	"errors"
	"fmt"
)

var ErrCorrupt = errors.New("bvh structure is inconsistent")

// Validate checks the structural invariants of trees that were not produced
// by Build, such as ones read back from disk.
func (t *Tree) Validate() error {
	if t.Mesh == nil || len(t.Nodes) == 0 {
		return fmt.Errorf("%w: empty tree", ErrCorrupt)
	}
	tris := int32(t.Mesh.TriangleCount)
	if len(t.TriOrder) != int(tris) {
		return fmt.Errorf("%w: triangle order has %d entries, mesh has %d triangles", ErrCorrupt, len(t.TriOrder), tris)
	}
	for i, tri := range t.TriOrder {
		if tri < 0 || tri >= tris {
			return fmt.Errorf("%w: order[%d] = %d", ErrCorrupt, i, tri)
		}
	}

	nodes := int32(len(t.Nodes))
	for i := range t.Nodes {
		n := &t.Nodes[i]
		if n.IsLeaf() {
			if n.LeftOrOffset < 0 || n.Count() <= 0 || int64(n.LeftOrOffset)+int64(n.Count()) > int64(len(t.TriOrder)) {
				return fmt.Errorf("%w: leaf %d covers [%d,+%d)", ErrCorrupt, i, n.LeftOrOffset, n.Count())
			}
			continue
		}
		if int32(i)+1 >= nodes || n.RightOrCount <= int32(i)+1 || n.RightOrCount >= nodes {
			return fmt.Errorf("%w: node %d has right child %d", ErrCorrupt, i, n.RightOrCount)
		}
	}
	return nil
}
