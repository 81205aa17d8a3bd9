package bvh

import (
	"fmt"

	"github.com/OCharnyshevich/visengine/internal/engine/geom"
	"github.com/OCharnyshevich/visengine/internal/engine/mesh"
)

// Config holds the SAH cost model and leaf thresholds. The defaults were
// tuned empirically on large outdoor collision meshes.
type Config struct {
	LeafSize      int     `json:"leaf_size"`      // ranges this small always become leaves
	MaxLeafSize   int     `json:"max_leaf_size"`  // largest leaf emitted when no split pays off
	Bins          int     `json:"bins"`           // centroid bins per axis
	TraversalCost float32 `json:"traversal_cost"` // cost of visiting an internal node
	IntersectCost float32 `json:"intersect_cost"` // cost of one ray/triangle test
}

// DefaultConfig returns the standard build parameters.
func DefaultConfig() Config {
	return Config{
		LeafSize:      4,
		MaxLeafSize:   16,
		Bins:          12,
		TraversalCost: 1.0,
		IntersectCost: 1.5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.LeafSize <= 0 {
		c.LeafSize = d.LeafSize
	}
	if c.MaxLeafSize < c.LeafSize {
		c.MaxLeafSize = max(d.MaxLeafSize, c.LeafSize)
	}
	if c.Bins < 2 {
		c.Bins = d.Bins
	}
	if c.TraversalCost <= 0 {
		c.TraversalCost = d.TraversalCost
	}
	if c.IntersectCost <= 0 {
		c.IntersectCost = d.IntersectCost
	}
	return c
}

type bin struct {
	box   geom.AABB
	count int
}

type builder struct {
	cfg       Config
	boxes     []geom.AABB
	centroids []geom.Vec3
	order     []int32
	nodes     []Node
	depth     int

	bins       []bin
	rightArea  []float32
	rightCount []int
}

// Build constructs a tree over every triangle of m.
func Build(m *mesh.Data, cfg Config) (*Tree, error) {
	if m == nil || m.TriangleCount == 0 {
		return nil, ErrEmptyMesh
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("build bvh: %w", err)
	}
	b := newBuilder(m, cfg.withDefaults())
	b.build(0, m.TriangleCount, 0)

	return &Tree{Mesh: m, Nodes: b.nodes, TriOrder: b.order, depth: b.depth}, nil
}

func newBuilder(m *mesh.Data, cfg Config) *builder {
	n := m.TriangleCount
	b := &builder{
		cfg:        cfg,
		boxes:      make([]geom.AABB, n),
		centroids:  make([]geom.Vec3, n),
		order:      make([]int32, n),
		nodes:      make([]Node, 0, 2*n/cfg.LeafSize+1),
		bins:       make([]bin, cfg.Bins),
		rightArea:  make([]float32, cfg.Bins),
		rightCount: make([]int, cfg.Bins),
	}
	for i := 0; i < n; i++ {
		b.boxes[i] = m.TriangleBounds(i)
		b.centroids[i] = b.boxes[i].Center()
		b.order[i] = int32(i)
	}
	return b
}

// rangeBounds returns the triangle and centroid boxes of order[start:end].
func (b *builder) rangeBounds(start, end int) (bounds, cbounds geom.AABB) {
	bounds, cbounds = geom.EmptyAABB(), geom.EmptyAABB()
	for _, t := range b.order[start:end] {
		bounds.Union(b.boxes[t])
		cbounds.Extend(b.centroids[t])
	}
	return bounds, cbounds
}

// build emits the subtree for order[start:end] and returns its node index.
func (b *builder) build(start, end, depth int) int32 {
	idx := int32(len(b.nodes))
	b.nodes = append(b.nodes, Node{})
	if depth > b.depth {
		b.depth = depth
	}

	bounds, cbounds := b.rangeBounds(start, end)
	b.nodes[idx].setBounds(bounds)

	count := end - start
	if count <= b.cfg.LeafSize {
		b.makeLeaf(idx, start, count)
		return idx
	}

	axis, split, cost := b.findSplit(start, end, bounds, cbounds)
	leafCost := b.cfg.IntersectCost * float32(count)

	var mid int
	switch {
	case cost >= leafCost && count <= b.cfg.MaxLeafSize:
		b.makeLeaf(idx, start, count)
		return idx
	case axis >= 0:
		mid = b.partition(start, end, axis, split, cbounds)
	default:
		mid = b.medianSplit(start, end, cbounds)
	}
	if mid <= start || mid >= end {
		mid = start + count/2
	}

	b.build(start, mid, depth+1)
	right := b.build(mid, end, depth+1)
	b.nodes[idx].LeftOrOffset = idx + 1
	b.nodes[idx].RightOrCount = right
	return idx
}

func (b *builder) makeLeaf(idx int32, start, count int) {
	b.nodes[idx].LeftOrOffset = int32(start)
	b.nodes[idx].RightOrCount = -int32(count)
}

func (b *builder) binIndex(c, lo, extent float32) int {
	i := int(float32(b.cfg.Bins) * (c - lo) / extent)
	if i < 0 {
		return 0
	}
	if i >= b.cfg.Bins {
		return b.cfg.Bins - 1
	}
	return i
}

// findSplit evaluates the SAH at every bin boundary of every axis with a
// non-degenerate centroid extent. axis is -1 when no boundary separates the
// triangles. split is the last bin index that goes left.
func (b *builder) findSplit(start, end int, bounds, cbounds geom.AABB) (axis, split int, cost float32) {
	axis, split = -1, -1
	cost = float32(1e30)

	parentArea := max(bounds.SurfaceArea(), 1e-20)
	ext := cbounds.Extent()
	nb := b.cfg.Bins

	for a := 0; a < 3; a++ {
		extent := ext.Axis(a)
		if extent <= 0 {
			continue
		}
		lo := cbounds.Min.Axis(a)

		for i := range b.bins {
			b.bins[i] = bin{box: geom.EmptyAABB()}
		}
		for _, t := range b.order[start:end] {
			bi := b.binIndex(b.centroids[t].Axis(a), lo, extent)
			b.bins[bi].box.Union(b.boxes[t])
			b.bins[bi].count++
		}

		// Right-to-left sweep: rightArea[i] covers bins i+1..nb-1.
		acc := geom.EmptyAABB()
		n := 0
		for i := nb - 1; i > 0; i-- {
			acc.Union(b.bins[i].box)
			n += b.bins[i].count
			b.rightArea[i-1] = acc.SurfaceArea()
			b.rightCount[i-1] = n
		}

		acc = geom.EmptyAABB()
		n = 0
		for i := 0; i < nb-1; i++ {
			acc.Union(b.bins[i].box)
			n += b.bins[i].count
			if n == 0 || b.rightCount[i] == 0 {
				continue
			}
			c := b.cfg.TraversalCost + b.cfg.IntersectCost*
				(float32(n)*acc.SurfaceArea()+float32(b.rightCount[i])*b.rightArea[i])/parentArea
			if c < cost {
				axis, split, cost = a, i, c
			}
		}
	}
	return axis, split, cost
}

// partition moves triangles whose centroid bin is <= split to the front of
// the range and returns the first index of the right side.
func (b *builder) partition(start, end, axis, split int, cbounds geom.AABB) int {
	lo := cbounds.Min.Axis(axis)
	extent := cbounds.Extent().Axis(axis)
	i, j := start, end-1
	for i <= j {
		if b.binIndex(b.centroids[b.order[i]].Axis(axis), lo, extent) <= split {
			i++
			continue
		}
		b.order[i], b.order[j] = b.order[j], b.order[i]
		j--
	}
	return i
}

// medianSplit places the median centroid on the longest centroid axis at
// the middle of the range.
func (b *builder) medianSplit(start, end int, cbounds geom.AABB) int {
	mid := start + (end-start)/2
	b.selectNth(start, end-1, mid, cbounds.LongestAxis())
	return mid
}

func (b *builder) key(i, axis int) float32 {
	return b.centroids[b.order[i]].Axis(axis)
}

// selectNth reorders order[lo:hi+1] so that position k holds the element a
// full sort would put there, smaller keys before it and larger after.
func (b *builder) selectNth(lo, hi, k, axis int) {
	for lo < hi {
		pivot := b.key(lo+(hi-lo)/2, axis)
		i, j := lo, hi
		for i <= j {
			for b.key(i, axis) < pivot {
				i++
			}
			for b.key(j, axis) > pivot {
				j--
			}
			if i <= j {
				b.order[i], b.order[j] = b.order[j], b.order[i]
				i++
				j--
			}
		}
		switch {
		case k <= j:
			hi = j
		case k >= i:
			lo = i
		default:
			return
		}
	}
}
