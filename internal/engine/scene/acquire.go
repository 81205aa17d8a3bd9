package scene

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/OCharnyshevich/visengine/internal/engine/bvh"
	"github.com/OCharnyshevich/visengine/internal/engine/mesh"
)

var ErrNoGeometry = errors.New("no geometry source available")

// Sources names the files a scene can be acquired from. Empty paths are
// skipped.
type Sources struct {
	Name       string
	BinaryPath string // compact mesh
	TextPath   string // streaming text mesh
	CachePath  string // BVH cache, read first and rewritten after a build
}

// Options controls how scenes are built and cached.
type Options struct {
	BVH           bvh.Config
	CompressCache bool
}

// Source returns the path the cache timestamp is checked against: the
// compact mesh when it exists, else the text mesh. It returns "" when
// neither exists.
func (s Sources) Source() string {
	for _, p := range []string{s.BinaryPath, s.TextPath} {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Available reports whether any tier has a file to read.
func (s Sources) Available() bool {
	for _, p := range []string{s.CachePath, s.BinaryPath, s.TextPath} {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}

// Load acquires a scene from the first tier that yields geometry: a valid
// cache, then the compact mesh, then the text mesh. Tier failures are logged
// and fall through. Built scenes are written back to the cache on a best
// effort basis. Load blocks for as long as the build takes.
func Load(src Sources, opts Options, log *slog.Logger) (*Scene, error) {
	log = log.With("scene", src.Name)
	source := src.Source()

	if tree := loadCache(src, source, log); tree != nil {
		return New(src.Name, tree), nil
	}

	var lastErr error
	tiers := []struct {
		path string
		kind string
		load func(string) (*mesh.Data, error)
	}{
		{src.BinaryPath, "binary", mesh.LoadBinary},
		{src.TextPath, "text", mesh.LoadText},
	}
	for _, tier := range tiers {
		if tier.path == "" {
			continue
		}
		st, err := os.Stat(tier.path)
		if err != nil {
			continue
		}

		start := time.Now()
		m, err := tier.load(tier.path)
		if err != nil {
			log.Warn("mesh load failed", "kind", tier.kind, "path", tier.path, "error", err)
			lastErr = err
			continue
		}

		tree, err := bvh.Build(m, opts.BVH)
		if err != nil {
			log.Warn("bvh build failed", "kind", tier.kind, "path", tier.path, "error", err)
			lastErr = err
			continue
		}
		log.Info("scene built",
			"kind", tier.kind,
			"triangles", m.TriangleCount,
			"nodes", len(tree.Nodes),
			"depth", tree.Depth(),
			"elapsed", time.Since(start),
		)

		if src.CachePath != "" {
			if err := SaveCache(src.CachePath, tree, st.ModTime(), opts.CompressCache); err != nil {
				log.Warn("write cache", "path", src.CachePath, "error", err)
			} else {
				log.Debug("cache written", "path", src.CachePath)
			}
		}
		return New(src.Name, tree), nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("load scene %s: %w", src.Name, lastErr)
	}
	return nil, fmt.Errorf("load scene %s: %w", src.Name, ErrNoGeometry)
}

// loadCache returns the cached tree, or nil after deleting a stale or
// corrupt cache file.
func loadCache(src Sources, source string, log *slog.Logger) *bvh.Tree {
	if src.CachePath == "" {
		return nil
	}
	if _, err := os.Stat(src.CachePath); err != nil {
		return nil
	}

	if !IsCacheValid(src.CachePath, source) {
		log.Info("cache stale, rebuilding", "path", src.CachePath)
		removeCache(src.CachePath, log)
		return nil
	}

	start := time.Now()
	tree, _, err := LoadCache(src.CachePath)
	if err != nil {
		log.Warn("cache unreadable", "path", src.CachePath, "error", err)
		removeCache(src.CachePath, log)
		return nil
	}
	log.Info("scene loaded from cache",
		"triangles", tree.TriangleCount(),
		"nodes", len(tree.Nodes),
		"elapsed", time.Since(start),
	)
	return tree
}

func removeCache(path string, log *slog.Logger) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn("remove cache", "path", path, "error", err)
	}
}
