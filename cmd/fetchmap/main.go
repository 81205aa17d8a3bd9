// Command fetchmap downloads map folders with go-getter.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/OCharnyshevich/visengine/internal/engine/config"
	"github.com/OCharnyshevich/visengine/internal/engine/scene"
)

func main() {
	cfg := config.DefaultConfig()

	var (
		source  = flag.String("source", "", "go-getter URL template, {map} is replaced by the folder")
		out     = flag.String("o", cfg.MapsDir, "maps directory")
		replace = flag.Bool("replace", false, "remove an existing folder first")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *source == "" {
		log.Error("source url required")
		os.Exit(2)
	}
	if flag.NArg() == 0 {
		log.Error("usage: fetchmap -source URL map...")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	for _, folder := range flag.Args() {
		if folder != filepath.Base(folder) {
			log.Error("invalid map folder", "folder", folder)
			os.Exit(2)
		}
		dst := filepath.Join(*out, folder)
		if *replace {
			if err := os.RemoveAll(dst); err != nil {
				log.Error("remove folder", "path", dst, "error", err)
				os.Exit(1)
			}
		} else if _, err := os.Stat(dst); err == nil {
			log.Info("already present", "path", dst)
			continue
		}

		log.Info("start downloading map", "map", folder, "url", scene.SourceURL(*source, folder))
		if err := scene.Provision(ctx, *source, folder, dst); err != nil {
			log.Error("download failed", "map", folder, "error", err)
			os.Exit(1)
		}
		log.Info("done downloading map", "path", dst)
	}
}
