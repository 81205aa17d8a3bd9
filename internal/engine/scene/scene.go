// Package scene owns loaded raycast scenes: it acquires geometry from the
// cache or source files, builds BVHs, and manages the per-map visibility and
// ballistic scenes.
package scene

import (
	"sync/atomic"

	"github.com/OCharnyshevich/visengine/internal/engine/bvh"
	"github.com/OCharnyshevich/visengine/internal/engine/geom"
)

// Scene is one loaded mesh + BVH pair. Queries may run concurrently with
// each other and with Dispose; a disposed scene answers every query as
// unobstructed.
type Scene struct {
	name string
	tree atomic.Pointer[bvh.Tree]
}

// New wraps a built tree.
func New(name string, tree *bvh.Tree) *Scene {
	s := &Scene{name: name}
	s.tree.Store(tree)
	return s
}

func (s *Scene) Name() string { return s.name }

// Tree returns the current tree, or nil once disposed.
func (s *Scene) Tree() *bvh.Tree { return s.tree.Load() }

// HasLineOfSight reports whether from -> to is unobstructed.
func (s *Scene) HasLineOfSight(from, to geom.Vec3) bool {
	t := s.tree.Load()
	if t == nil {
		return true
	}
	return t.HasLineOfSight(from, to)
}

// AnyHit reports whether the ray hits anything within maxDist.
func (s *Scene) AnyHit(origin, dir geom.Vec3, maxDist float32) bool {
	t := s.tree.Load()
	if t == nil {
		return false
	}
	return t.AnyHit(origin, dir, maxDist)
}

// TriangleCount returns the number of triangles, or 0 once disposed.
func (s *Scene) TriangleCount() int {
	t := s.tree.Load()
	if t == nil {
		return 0
	}
	return t.TriangleCount()
}

// Bounds returns the scene bounds, or an empty box once disposed.
func (s *Scene) Bounds() geom.AABB {
	t := s.tree.Load()
	if t == nil {
		return geom.EmptyAABB()
	}
	return t.Bounds()
}

// Dispose drops the tree. Queries already holding it finish normally.
// Only the first call returns true.
func (s *Scene) Dispose() bool {
	return s.tree.Swap(nil) != nil
}

// Disposed reports whether Dispose has been called.
func (s *Scene) Disposed() bool { return s.tree.Load() == nil }
