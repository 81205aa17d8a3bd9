package bvh

import (
	"testing"

	"github.com/OCharnyshevich/visengine/internal/engine/mesh"
)

// clusterMesh places nearA small triangles near x=0 and nearB near x=100,
// leaving every bin between them empty.
func clusterMesh(nearA, nearB int) *mesh.Data {
	var verts []float32
	var idx []int32
	add := func(x, y float32) {
		base := int32(len(verts) / 3)
		verts = append(verts, x, y, 0, x+0.4, y, 0, x, y+0.4, 0)
		idx = append(idx, base, base+1, base+2)
	}
	for i := 0; i < nearA; i++ {
		add(0.1*float32(i), 0.1*float32(i))
	}
	for i := 0; i < nearB; i++ {
		add(100+0.1*float32(i%10), 0.1*float32(i))
	}
	return mesh.New(verts, idx)
}

// sheetMesh stacks n large, almost coincident triangles. Any split leaves
// both children nearly as big as the parent, so the cost model prefers a
// leaf.
func sheetMesh(n int) *mesh.Data {
	var verts []float32
	var idx []int32
	for i := 0; i < n; i++ {
		dx := 0.01 * float32(i)
		base := int32(len(verts) / 3)
		verts = append(verts, -50+dx, -50, 0, 50+dx, -50, 0, dx, 50, 0)
		idx = append(idx, base, base+1, base+2)
	}
	return mesh.New(verts, idx)
}

func TestFindSplitSeparatesClusters(t *testing.T) {
	m := clusterMesh(10, 30)
	b := newBuilder(m, DefaultConfig())
	n := m.TriangleCount

	bounds, cbounds := b.rangeBounds(0, n)
	axis, split, cost := b.findSplit(0, n, bounds, cbounds)
	if axis != 0 {
		t.Fatalf("findSplit axis = %d (split %d, cost %v), want 0", axis, split, cost)
	}
	if leaf := b.cfg.IntersectCost * float32(n); cost >= leaf {
		t.Errorf("split cost %v not below leaf cost %v", cost, leaf)
	}

	mid := b.partition(0, n, axis, split, cbounds)
	if mid != 10 {
		t.Fatalf("partition put %d triangles left, want 10", mid)
	}
	for i, tri := range b.order[:mid] {
		if tri >= 10 {
			t.Errorf("left side order[%d] = %d belongs to the far cluster", i, tri)
		}
	}
}

func TestBuildRootChildrenFollowClusters(t *testing.T) {
	tree := mustBuild(t, clusterMesh(10, 30))
	root := &tree.Nodes[0]
	if root.IsLeaf() {
		t.Fatal("root is a leaf")
	}
	left := tree.Nodes[1].Bounds()
	right := tree.Nodes[root.RightOrCount].Bounds()
	if left.Max.X > 50 {
		t.Errorf("left child spans x [%v, %v], want the near cluster only", left.Min.X, left.Max.X)
	}
	if right.Min.X < 50 {
		t.Errorf("right child spans x [%v, %v], want the far cluster only", right.Min.X, right.Max.X)
	}
}

func TestLeafDecisionHonoursMaxLeafSize(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("cheap leaf kept", func(t *testing.T) {
		m := sheetMesh(12)
		b := newBuilder(m, cfg)
		bounds, cbounds := b.rangeBounds(0, 12)
		axis, _, cost := b.findSplit(0, 12, bounds, cbounds)
		if axis < 0 || cost < cfg.IntersectCost*12 {
			t.Fatalf("axis %d cost %v: expected a valid split that loses to a leaf", axis, cost)
		}

		tree := mustBuild(t, m)
		if len(tree.Nodes) != 1 || tree.Nodes[0].Count() != 12 {
			t.Errorf("got %d nodes, root count %d; want a single leaf of 12", len(tree.Nodes), tree.Nodes[0].Count())
		}
	})

	t.Run("oversized range split", func(t *testing.T) {
		tree := mustBuild(t, sheetMesh(40))
		if tree.Nodes[0].IsLeaf() {
			t.Fatal("root of 40 triangles became a leaf")
		}
		for i := range tree.Nodes {
			n := &tree.Nodes[i]
			if n.IsLeaf() && n.Count() > cfg.MaxLeafSize {
				t.Errorf("leaf %d holds %d triangles, max %d", i, n.Count(), cfg.MaxLeafSize)
			}
		}
	})
}
