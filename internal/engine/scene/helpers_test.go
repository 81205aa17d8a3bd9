package scene

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/OCharnyshevich/visengine/internal/engine/bvh"
	"github.com/OCharnyshevich/visengine/internal/engine/mesh"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// wallOBJ returns a text mesh of a wall in the z=0 plane covering
// x in [dx-3, dx+5], y in [-2, 2]. extra adds that many small triangles
// far away from the wall.
func wallOBJ(dx float32, extra int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Vertices: %d\n# Triangles: %d\n", 5+3*extra, 3+extra)
	for _, v := range [][3]float32{{-3, -2, 0}, {2, -2, 0}, {2, 2, 0}, {-3, 2, 0}, {5, -2, 0}} {
		fmt.Fprintf(&b, "v %g %g %g\n", v[0]+dx, v[1], v[2])
	}
	for i := 0; i < extra; i++ {
		y := float32(100 + i)
		fmt.Fprintf(&b, "v 0 %g 50\nv 1 %g 50\nv 0 %g 51\n", y, y, y)
	}
	b.WriteString("f 1 2 3\nf 1 3 4\nf 2 5 3\n")
	for i := 0; i < extra; i++ {
		base := 6 + 3*i
		fmt.Fprintf(&b, "f %d %d %d\n", base, base+1, base+2)
	}
	return b.String()
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeBinaryMesh(t *testing.T, path string, m *mesh.Data) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := mesh.EncodeBinary(f, m, m.TriangleCount); err != nil {
		t.Fatal(err)
	}
}

func wallTree(t *testing.T) *bvh.Tree {
	t.Helper()
	m, err := mesh.DecodeText(strings.NewReader(wallOBJ(0, 40)))
	if err != nil {
		t.Fatal(err)
	}
	tree, err := bvh.Build(m, bvh.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	return tree
}
