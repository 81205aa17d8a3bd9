package scene

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/OCharnyshevich/visengine/internal/engine/geom"
)

func TestCacheRoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		name := "raw"
		if compress {
			name = "zstd"
		}
		t.Run(name, func(t *testing.T) {
			tree := wallTree(t)
			path := filepath.Join(t.TempDir(), "scene.bvhc")
			stamp := time.Unix(1700000000, 123)
			if err := SaveCache(path, tree, stamp, compress); err != nil {
				t.Fatalf("SaveCache: %v", err)
			}

			got, hdr, err := LoadCache(path)
			if err != nil {
				t.Fatalf("LoadCache: %v", err)
			}
			if hdr.SourceModTime != stamp.UnixNano() {
				t.Errorf("SourceModTime = %d, want %d", hdr.SourceModTime, stamp.UnixNano())
			}
			if (hdr.Flags&FlagZstd != 0) != compress {
				t.Errorf("Flags = %b", hdr.Flags)
			}
			if got.Mesh.VertexCount != tree.Mesh.VertexCount || got.Mesh.TriangleCount != tree.Mesh.TriangleCount {
				t.Errorf("counts = %d/%d, want %d/%d", got.Mesh.VertexCount, got.Mesh.TriangleCount,
					tree.Mesh.VertexCount, tree.Mesh.TriangleCount)
			}
			if got.Mesh.Bounds != tree.Mesh.Bounds {
				t.Errorf("bounds = %+v, want %+v", got.Mesh.Bounds, tree.Mesh.Bounds)
			}
			if len(got.Nodes) != len(tree.Nodes) {
				t.Fatalf("nodes = %d, want %d", len(got.Nodes), len(tree.Nodes))
			}
			for i := range tree.Nodes {
				if got.Nodes[i] != tree.Nodes[i] {
					t.Fatalf("node %d differs", i)
				}
			}
			if got.Depth() != tree.Depth() {
				t.Errorf("depth = %d, want %d", got.Depth(), tree.Depth())
			}

			rng := rand.New(rand.NewSource(9))
			for i := 0; i < 500; i++ {
				from := geom.V(rng.Float32()*20-10, rng.Float32()*120-10, rng.Float32()*120-60)
				to := geom.V(rng.Float32()*20-10, rng.Float32()*120-10, rng.Float32()*120-60)
				if got.HasLineOfSight(from, to) != tree.HasLineOfSight(from, to) {
					t.Fatalf("ray %d: results differ after reload", i)
				}
			}
		})
	}
}

func TestIsCacheValid(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "visibility.obj")
	writeFile(t, source, wallOBJ(0, 0))
	st, err := os.Stat(source)
	if err != nil {
		t.Fatal(err)
	}

	cache := filepath.Join(dir, "visibility.bvhc")
	if err := SaveCache(cache, wallTree(t), st.ModTime(), false); err != nil {
		t.Fatal(err)
	}
	if !IsCacheValid(cache, source) {
		t.Fatal("fresh cache should be valid")
	}

	later := st.ModTime().Add(time.Hour)
	if err := os.Chtimes(source, later, later); err != nil {
		t.Fatal(err)
	}
	if IsCacheValid(cache, source) {
		t.Error("cache should be invalid after the source changed")
	}

	if err := os.Remove(source); err != nil {
		t.Fatal(err)
	}
	if !IsCacheValid(cache, source) {
		t.Error("cache should stand alone once the source is gone")
	}
	if !IsCacheValid(cache, "") {
		t.Error("cache without a source should be valid")
	}
	if IsCacheValid(filepath.Join(dir, "missing.bvhc"), "") {
		t.Error("missing cache reported valid")
	}
}

func TestLoadCacheRejectsCorruption(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.bvhc")
	if err := SaveCache(good, wallTree(t), time.Time{}, false); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(good)
	if err != nil {
		t.Fatal(err)
	}

	badMagic := append([]byte{}, data...)
	badMagic[0] = 'X'
	badVersion := append([]byte{}, data...)
	badVersion[4] = 9
	badNode := append([]byte{}, data...)
	// Right child of the root points at itself.
	nodeOff := CacheHeaderSize + len(wallTree(t).Mesh.Vertices)*4 + len(wallTree(t).Mesh.Indices)*4
	copy(badNode[nodeOff+28:], []byte{0, 0, 0, 0})

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"header only", data[:CacheHeaderSize]},
		{"truncated body", data[:len(data)-7]},
		{"bad magic", badMagic},
		{"bad version", badVersion},
		{"bad node", badNode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".bvhc")
			if err := os.WriteFile(path, tt.data, 0o644); err != nil {
				t.Fatal(err)
			}
			if _, _, err := LoadCache(path); !errors.Is(err, ErrCacheFormat) {
				t.Fatalf("LoadCache = %v, want ErrCacheFormat", err)
			}
		})
	}
}
