package bvh

import (
	"fmt"
	"math"

	"github.com/OCharnyshevich/visengine/internal/engine/geom"
)

const (
	stackSize = 64

	detEpsilon = 1e-9
	hitEpsilon = 1e-5

	// Segments shorter than this are trivially visible.
	losMinDistance = 1e-4
	// The far end of a line-of-sight segment is pulled in by this much so
	// that geometry touching the target does not occlude it.
	losBackoff = 1e-3

	// Reciprocal used for zero direction components: the slab on that axis
	// becomes unbounded instead of producing NaN.
	bigRecip = 1e30
)

// Stats counts the work done by one traversal.
type Stats struct {
	NodesVisited    int
	TrianglesTested int
}

// AnyHit reports whether the ray origin + t*dir hits any triangle for
// t in (0, maxDist). dir does not need to be normalized; maxDist is in units
// of its length.
func (t *Tree) AnyHit(origin, dir geom.Vec3, maxDist float32) bool {
	return t.anyHit(origin, dir, maxDist, nil)
}

// AnyHitStats is AnyHit with traversal counters.
func (t *Tree) AnyHitStats(origin, dir geom.Vec3, maxDist float32) (bool, Stats) {
	var st Stats
	hit := t.anyHit(origin, dir, maxDist, &st)
	return hit, st
}

// HasLineOfSight reports whether the segment from -> to is unobstructed.
func (t *Tree) HasLineOfSight(from, to geom.Vec3) bool {
	d := to.Sub(from)
	dist := d.Length()
	if dist < losMinDistance {
		return true
	}
	reach := dist - losBackoff
	if reach <= 0 {
		return true
	}
	return !t.AnyHit(from, d.Scaled(1/dist), reach)
}

func (t *Tree) anyHit(origin, dir geom.Vec3, maxDist float32, st *Stats) bool {
	if len(t.Nodes) == 0 || maxDist <= 0 || t.Mesh == nil {
		return false
	}

	o := origin.Array()
	inv := [3]float32{recip(dir.X), recip(dir.Y), recip(dir.Z)}

	var local [stackSize]int32
	stack := local[:0]
	if t.depth+2 > stackSize {
		stack = make([]int32, 0, t.depth+2)
	}
	stack = append(stack, 0)

	for len(stack) > 0 {
		ni := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		n := &t.Nodes[ni]
		if st != nil {
			st.NodesVisited++
		}
		if !rayBox(&o, &inv, n, maxDist) {
			continue
		}

		if n.IsLeaf() {
			first := int(n.LeftOrOffset)
			for _, tri := range t.TriOrder[first : first+n.Count()] {
				if st != nil {
					st.TrianglesTested++
				}
				if t.hitTriangle(origin, dir, int(tri), maxDist) {
					return true
				}
			}
			continue
		}

		if len(stack)+2 > cap(stack) {
			panic(fmt.Sprintf("bvh: traversal stack overflow at node %d (depth %d, capacity %d)", ni, t.depth, cap(stack)))
		}
		// Right first so the left child is processed next.
		stack = append(stack, n.RightOrCount, ni+1)
	}
	return false
}

func recip(x float32) float32 {
	if math.Abs(float64(x)) < 1e-30 {
		return bigRecip
	}
	return 1 / x
}

// rayBox is the slab test clipped to [0, maxDist].
func rayBox(o, inv *[3]float32, n *Node, maxDist float32) bool {
	tmin, tmax := float32(0), maxDist
	for a := 0; a < 3; a++ {
		t1 := (n.Min[a] - o[a]) * inv[a]
		t2 := (n.Max[a] - o[a]) * inv[a]
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		tmin = max(tmin, t1)
		tmax = min(tmax, t2)
		if tmin > tmax {
			return false
		}
	}
	return true
}

// hitTriangle is the Möller–Trumbore test.
func (t *Tree) hitTriangle(o, d geom.Vec3, tri int, maxDist float32) bool {
	a, b, c := t.Mesh.Triangle(tri)
	e1 := b.Sub(a)
	e2 := c.Sub(a)

	p := d.Cross(e2)
	det := e1.Dot(p)
	if det > -detEpsilon && det < detEpsilon {
		return false
	}
	invDet := 1 / det

	s := o.Sub(a)
	u := s.Dot(p) * invDet
	if u < 0 || u > 1 {
		return false
	}
	q := s.Cross(e1)
	v := d.Dot(q) * invDet
	if v < 0 || u+v > 1 {
		return false
	}
	dist := e2.Dot(q) * invDet
	return dist > hitEpsilon && dist < maxDist
}
