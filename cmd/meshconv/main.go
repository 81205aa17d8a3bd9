// Command meshconv converts the text geometry of map folders to the binary
// mesh format and prebuilds their BVH caches.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/OCharnyshevich/visengine/internal/engine/config"
	"github.com/OCharnyshevich/visengine/internal/engine/mesh"
	"github.com/OCharnyshevich/visengine/internal/engine/scene"
	"github.com/OCharnyshevich/visengine/internal/engine/storage"
)

func main() {
	cfg := config.DefaultConfig()

	var (
		maps    = flag.String("maps", cfg.MapsDir, "directory of map folders")
		cache   = flag.String("cache", "", "directory for BVH caches (default: next to the sources)")
		only    = flag.String("map", "", "comma-separated map folders to convert (default: all)")
		force   = flag.Bool("force", false, "rewrite binary meshes that already exist")
		noCache = flag.Bool("no-cache", false, "skip building BVH caches")
		jobs    = flag.Int("j", 2, "maps converted in parallel")
	)
	flag.BoolVar(&cfg.CompressCache, "compress", cfg.CompressCache, "zstd-compress BVH caches")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	folders, err := listFolders(*maps, *only)
	if err != nil {
		log.Error("list map folders", "error", err)
		os.Exit(1)
	}

	opts := scene.DiscoverOptions{MapsDir: *maps, CacheDir: *cache}
	load := scene.Options{BVH: cfg.BVH, CompressCache: cfg.CompressCache}

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(max(1, *jobs))
	for _, folder := range folders {
		g.Go(func() error {
			return convertMap(ctx, opts, load, folder, *force, !*noCache, log)
		})
	}
	if err := g.Wait(); err != nil {
		log.Error("conversion failed", "error", err)
		os.Exit(1)
	}
	log.Info("done", "maps", len(folders))
}

func listFolders(root, only string) ([]string, error) {
	if only != "" {
		return strings.Split(only, ","), nil
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

func convertMap(ctx context.Context, opts scene.DiscoverOptions, load scene.Options, folder string, force, buildCache bool, log *slog.Logger) error {
	files, err := scene.Discover(ctx, opts, folder, log)
	if err != nil {
		return err
	}
	for _, r := range scene.Roles {
		src := files.Sources(r)
		if src.TextPath != "" && (src.BinaryPath == "" || force) {
			bin := filepath.Join(files.Dir, r.String()+".mesh")
			if err := convertText(src.TextPath, bin); err != nil {
				return fmt.Errorf("%s: %w", src.Name, err)
			}
			log.Info("wrote binary mesh", "map", folder, "role", r, "path", bin)
			src.BinaryPath = bin
		}
		if !buildCache || !src.Available() {
			continue
		}
		sc, err := scene.Load(src, load, log.With("map", folder, "role", r.String()))
		if err != nil {
			return fmt.Errorf("%s: %w", src.Name, err)
		}
		log.Info("cache ready", "map", folder, "role", r, "triangles", sc.TriangleCount(), "path", src.CachePath)
		sc.Dispose()
	}
	return nil
}

func convertText(textPath, binPath string) error {
	d, err := mesh.LoadText(textPath)
	if err != nil {
		return err
	}
	return storage.WriteFileAtomic(binPath, func(w io.Writer) error {
		return mesh.EncodeBinary(w, d, d.TriangleCount)
	})
}
