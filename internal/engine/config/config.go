package config

import (
	"log/slog"
	"strings"
	"time"

	"github.com/OCharnyshevich/visengine/internal/engine/bvh"
)

// Config holds the engine configuration.
type Config struct {
	MapsDir       string            `json:"maps_dir"`
	CacheDir      string            `json:"cache_dir"`   // empty = next to the sources
	MapSource     string            `json:"map_source"`  // go-getter URL, "{map}" is replaced by the folder
	MapAliases    map[string]string `json:"map_aliases"` // map id -> folder name
	CompressCache bool              `json:"compress_cache"`

	BVH bvh.Config `json:"bvh"`

	SegmentName       string        `json:"segment_name"`
	RoundTimeout      time.Duration `json:"round_timeout"`
	ReconnectInterval time.Duration `json:"reconnect_interval"`
	PruneInterval     time.Duration `json:"prune_interval"`
	IdleInterval      time.Duration `json:"idle_interval"`
	EyeHeight         float32       `json:"eye_height"`
	Bones             []string      `json:"bones"` // canonical landmarks to query; empty = all

	LogLevel string `json:"log_level"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MapsDir:           "maps",
		MapAliases:        map[string]string{},
		BVH:               bvh.DefaultConfig(),
		SegmentName:       "visengine",
		RoundTimeout:      16 * time.Millisecond,
		ReconnectInterval: 2 * time.Second,
		PruneInterval:     time.Second,
		IdleInterval:      10 * time.Millisecond,
		EyeHeight:         1.6,
		LogLevel:          "info",
	}
}

// Merge applies file-loaded config values into cfg, but only for fields
// that were NOT explicitly set via CLI flags. explicitFlags contains the
// flag names that were explicitly provided on the command line.
func Merge(cfg *Config, fromFile *Config, explicitFlags map[string]bool) {
	if !explicitFlags["maps"] {
		cfg.MapsDir = fromFile.MapsDir
	}
	if !explicitFlags["cache"] {
		cfg.CacheDir = fromFile.CacheDir
	}
	if !explicitFlags["source"] {
		cfg.MapSource = fromFile.MapSource
	}
	if !explicitFlags["compress"] {
		cfg.CompressCache = fromFile.CompressCache
	}
	if !explicitFlags["segment"] {
		cfg.SegmentName = fromFile.SegmentName
	}
	if !explicitFlags["timeout"] {
		cfg.RoundTimeout = fromFile.RoundTimeout
	}
	if !explicitFlags["eye-height"] {
		cfg.EyeHeight = fromFile.EyeHeight
	}
	if !explicitFlags["log-level"] {
		cfg.LogLevel = fromFile.LogLevel
	}

	// File-only settings.
	if len(fromFile.MapAliases) > 0 {
		cfg.MapAliases = fromFile.MapAliases
	}
	if len(fromFile.Bones) > 0 {
		cfg.Bones = fromFile.Bones
	}
	cfg.BVH = fromFile.BVH
	cfg.ReconnectInterval = fromFile.ReconnectInterval
	cfg.PruneInterval = fromFile.PruneInterval
	cfg.IdleInterval = fromFile.IdleInterval
}

// Level maps LogLevel to a slog level; unknown names mean info.
func (c *Config) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
