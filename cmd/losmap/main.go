// Command losmap renders a top-down line-of-sight coverage image of one
// scene from an eye point.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/OCharnyshevich/visengine/internal/engine/config"
	"github.com/OCharnyshevich/visengine/internal/engine/geom"
	"github.com/OCharnyshevich/visengine/internal/engine/losmap"
	"github.com/OCharnyshevich/visengine/internal/engine/scene"
	"github.com/OCharnyshevich/visengine/internal/engine/storage"
)

func main() {
	cfg := config.DefaultConfig()

	var (
		maps      = flag.String("maps", cfg.MapsDir, "directory of map folders")
		cache     = flag.String("cache", "", "directory for BVH caches (default: next to the sources)")
		mapID     = flag.String("map", "", "map folder")
		ballistic = flag.Bool("ballistic", false, "use the ballistic scene")
		eyeFlag   = flag.String("eye", "0,1.6,0", "eye position x,y,z")
		height    = flag.Float64("height", 1, "target height")
		areaFlag  = flag.String("area", "", "sampled area minX,minZ,maxX,maxZ (default: scene bounds)")
		res       = flag.Float64("res", 1, "world units per pixel")
		maxSize   = flag.Int("max", 4096, "longest image side")
		scale     = flag.Int("scale", 1, "integer upscale factor")
		smooth    = flag.Bool("smooth", false, "smooth upscaling")
		out       = flag.String("o", "losmap.webp", "output file (.webp, .tga or .png)")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	fail := func(msg string, err error) {
		log.Error(msg, "error", err)
		os.Exit(1)
	}

	if *mapID == "" {
		log.Error("map required")
		os.Exit(2)
	}
	format, err := losmap.FormatFromPath(*out)
	if err != nil {
		fail("output", err)
	}
	eye, err := parseFloats(*eyeFlag, 3)
	if err != nil {
		fail("parse -eye", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	files, err := scene.Discover(ctx, scene.DiscoverOptions{MapsDir: *maps, CacheDir: *cache}, *mapID, log)
	if err != nil {
		fail("discover map", err)
	}
	role := scene.Visibility
	if *ballistic {
		role = scene.Ballistic
	}
	sc, err := scene.Load(files.Sources(role), scene.Options{BVH: cfg.BVH, CompressCache: cfg.CompressCache}, log)
	if err != nil {
		fail("load scene", err)
	}
	defer sc.Dispose()

	opts := losmap.Options{
		Area:       sc.Bounds(),
		Eye:        geom.V(eye[0], eye[1], eye[2]),
		Height:     float32(*height),
		Resolution: float32(*res),
		MaxSize:    *maxSize,
	}
	if *areaFlag != "" {
		a, err := parseFloats(*areaFlag, 4)
		if err != nil {
			fail("parse -area", err)
		}
		opts.Area = geom.AABB{Min: geom.V(a[0], 0, a[1]), Max: geom.V(a[2], 0, a[3])}
	}

	start := time.Now()
	img, err := losmap.Render(ctx, sc, opts)
	if err != nil {
		fail("render", err)
	}
	log.Info("rendered",
		"size", img.Bounds().Size(),
		"coverage", fmt.Sprintf("%.1f%%", 100*losmap.Coverage(img)),
		"took", time.Since(start),
	)

	final := img
	if *scale > 1 {
		final = losmap.Scale(img, *scale, *smooth)
	}
	err = storage.WriteFileAtomic(*out, func(w io.Writer) error {
		return losmap.Encode(w, final, format)
	})
	if err != nil {
		fail("write image", err)
	}
	log.Info("wrote image", "path", *out, "format", format)
}

func parseFloats(s string, n int) ([]float32, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("want %d comma-separated numbers, got %q", n, s)
	}
	out := make([]float32, n)
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, err
		}
		out[i] = float32(f)
	}
	return out, nil
}
