// Command visd runs the visibility engine against a map folder and the
// shared-memory segment of the visibility peer.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/OCharnyshevich/visengine/internal/engine"
	"github.com/OCharnyshevich/visengine/internal/engine/channel"
	"github.com/OCharnyshevich/visengine/internal/engine/config"
	"github.com/OCharnyshevich/visengine/internal/engine/shm"
	"github.com/OCharnyshevich/visengine/internal/engine/storage"
)

func main() {
	cfg := config.DefaultConfig()

	var (
		stateDir  = flag.String("state", ".visd", "directory holding config.json")
		mapID     = flag.String("map", "", "map to load at startup")
		ballistic = flag.Bool("ballistic", true, "keep the ballistic scene loaded")
		shmDir    = flag.String("shm-dir", shm.DefaultDir, "directory of shared-memory segments")
		peer      = flag.Bool("peer", false, "initialise the segment and answer rounds from map geometry")
		statsEach = flag.Duration("stats", 10*time.Second, "stats log interval, 0 disables")
		save      = flag.Bool("save-config", false, "write the effective config to the state directory")
	)
	flag.StringVar(&cfg.MapsDir, "maps", cfg.MapsDir, "directory of map folders")
	flag.StringVar(&cfg.CacheDir, "cache", cfg.CacheDir, "directory for BVH caches (default: next to the sources)")
	flag.StringVar(&cfg.MapSource, "source", cfg.MapSource, "go-getter URL for missing map folders, {map} is the folder name")
	flag.BoolVar(&cfg.CompressCache, "compress", cfg.CompressCache, "zstd-compress BVH caches")
	flag.StringVar(&cfg.SegmentName, "segment", cfg.SegmentName, "shared-memory segment name")
	flag.DurationVar(&cfg.RoundTimeout, "timeout", cfg.RoundTimeout, "peer answer timeout per round")
	eyeHeight := float64(cfg.EyeHeight)
	flag.Float64Var(&eyeHeight, "eye-height", eyeHeight, "eye height above the viewer position")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	flag.Parse()
	cfg.EyeHeight = float32(eyeHeight)

	explicit := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))

	store, err := storage.New(*stateDir, log)
	if err != nil {
		log.Error("open state directory", "error", err)
		os.Exit(1)
	}
	fromFile := config.DefaultConfig()
	if err := store.LoadConfig(fromFile); err != nil {
		log.Error("load config", "error", err)
		os.Exit(1)
	}
	config.Merge(cfg, fromFile, explicit)
	log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))

	if *save {
		if err := store.SaveConfig(cfg); err != nil {
			log.Error("save config", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opener := shm.FileOpener{Dir: *shmDir}
	eng, err := engine.New(cfg, opener, log)
	if err != nil {
		log.Error("create engine", "error", err)
		os.Exit(1)
	}

	if *peer {
		if err := servePeer(ctx, filepath.Join(*shmDir, cfg.SegmentName), eng, log); err != nil {
			log.Error("start peer", "error", err)
			os.Exit(1)
		}
	}

	if *mapID != "" {
		eng.SetMap(*mapID)
	}
	eng.SetDemand(true, *ballistic)

	if *statsEach > 0 {
		go func() {
			t := time.NewTicker(*statsEach)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					log.Info("stats", "engine", eng.Stats())
				}
			}
		}()
	}

	if err := eng.Start(ctx); err != nil {
		log.Error("engine error", "error", err)
		os.Exit(1)
	}
}

// servePeer creates the segment file, writes a fresh header and answers
// rounds from the engine's scenes until ctx is done.
func servePeer(ctx context.Context, path string, eng *engine.Engine, log *slog.Logger) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	err = f.Truncate(channel.SegmentSize)
	f.Close()
	if err != nil {
		return err
	}

	seg, err := shm.OpenPath(path, channel.SegmentSize)
	if err != nil {
		return err
	}
	if err := channel.InitSegment(seg.Bytes()); err != nil {
		seg.Close()
		return err
	}

	log.Info("serving geometry peer", "path", path)
	go func() {
		defer seg.Close()
		if err := channel.NewPeer(seg.Bytes(), engine.GeometryHandler(eng.Scenes(), 1)).Serve(ctx); err != nil && ctx.Err() == nil {
			log.Error("peer stopped", "error", err)
		}
	}()
	return nil
}
