// Package engine wires the scene manager and the visibility coordinator
// into one service object.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/OCharnyshevich/visengine/internal/engine/bones"
	"github.com/OCharnyshevich/visengine/internal/engine/config"
	"github.com/OCharnyshevich/visengine/internal/engine/coordinator"
	"github.com/OCharnyshevich/visengine/internal/engine/geom"
	"github.com/OCharnyshevich/visengine/internal/engine/scene"
	"github.com/OCharnyshevich/visengine/internal/engine/shm"
)

// loaderTick is how often the loader applies demand changes.
const loaderTick = 100 * time.Millisecond

// Engine is the visibility service: geometric line of sight from the scene
// manager and per-bone visibility from the shared-memory coordinator.
type Engine struct {
	cfg *config.Config
	log *slog.Logger

	scenes   *scene.Manager
	entities *coordinator.SnapshotSource
	coord    *coordinator.Coordinator

	wantVis atomic.Bool
	wantBal atomic.Bool
	kick    chan struct{}
}

// New creates an Engine from cfg. opener provides the shared segment.
func New(cfg *config.Config, opener shm.Opener, log *slog.Logger) (*Engine, error) {
	mask, err := bones.ParseMask(cfg.Bones)
	if err != nil {
		return nil, fmt.Errorf("bone selection: %w", err)
	}

	scenes := scene.NewManager(scene.ManagerOptions{
		Discover: scene.DiscoverOptions{
			MapsDir:   cfg.MapsDir,
			CacheDir:  cfg.CacheDir,
			MapSource: cfg.MapSource,
			Aliases:   cfg.MapAliases,
		},
		Load: scene.Options{
			BVH:           cfg.BVH,
			CompressCache: cfg.CompressCache,
		},
	}, log.With("component", "scenes"))

	entities := &coordinator.SnapshotSource{}
	coord := coordinator.New(opener, entities, coordinator.Options{
		SegmentName:       cfg.SegmentName,
		RoundTimeout:      cfg.RoundTimeout,
		ReconnectInterval: cfg.ReconnectInterval,
		PruneInterval:     cfg.PruneInterval,
		IdleInterval:      cfg.IdleInterval,
		EyeHeight:         cfg.EyeHeight,
		BoneMask:          mask,
	}, log.With("component", "coordinator"))

	return &Engine{
		cfg:      cfg,
		log:      log,
		scenes:   scenes,
		entities: entities,
		coord:    coord,
		kick:     make(chan struct{}, 1),
	}, nil
}

// Start runs the coordinator and the scene loader and blocks until ctx is
// cancelled. Scenes are unloaded and the channel released before it
// returns.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.coord.Start(ctx); err != nil {
		return fmt.Errorf("start coordinator: %w", err)
	}
	defer e.coord.Stop()
	defer e.scenes.Close()

	e.log.Info("engine started",
		"maps", e.cfg.MapsDir,
		"segment", e.cfg.SegmentName,
		"timeout", e.cfg.RoundTimeout,
	)

	t := time.NewTicker(loaderTick)
	defer t.Stop()
	for {
		if err := e.scenes.Update(e.wantVis.Load(), e.wantBal.Load()); err != nil {
			e.log.Error("scene update", "error", err)
		}
		select {
		case <-ctx.Done():
			e.log.Info("engine shutting down")
			return nil
		case <-t.C:
		case <-e.kick:
		}
	}
}

func (e *Engine) wake() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// SetMap switches the current map.
func (e *Engine) SetMap(mapID string) {
	e.scenes.SetMap(mapID)
	e.wake()
}

// SetDemand selects which scenes should be loaded. The loader applies it
// on its next pass.
func (e *Engine) SetDemand(visibility, ballistic bool) {
	e.wantVis.Store(visibility)
	e.wantBal.Store(ballistic)
	e.wake()
}

// HasLineOfSight answers an eye line-of-sight query; see scene.Manager.
func (e *Engine) HasLineOfSight(from, to geom.Vec3, noFoliage bool) bool {
	return e.scenes.HasLineOfSight(from, to, noFoliage)
}

// HasBallisticLineOfSight answers a hit-scan query.
func (e *Engine) HasBallisticLineOfSight(from, to geom.Vec3) bool {
	return e.scenes.HasBallisticLineOfSight(from, to)
}

// UpdateEntities publishes the entities for the next coordinator round.
func (e *Engine) UpdateEntities(v coordinator.Viewer, flags uint32, ents []coordinator.Entity) {
	e.entities.Update(v, flags, ents)
}

// ClearEntities stops rounds until the next UpdateEntities.
func (e *Engine) ClearEntities() { e.entities.Clear() }

func (e *Engine) Scenes() *scene.Manager                { return e.scenes }
func (e *Engine) Coordinator() *coordinator.Coordinator { return e.coord }

// Stats is a point-in-time summary for logging.
type Stats struct {
	Map                 string
	VisibilityTriangles int
	BallisticTriangles  int
	Connected           bool
	RoundsPerSecond     int
	Latency             time.Duration
	LatencyKnown        bool
}

// Stats returns the current summary.
func (e *Engine) Stats() Stats {
	lat, ok := e.coord.Latency()
	return Stats{
		Map:                 e.scenes.MapID(),
		VisibilityTriangles: e.scenes.TriangleCount(scene.Visibility),
		BallisticTriangles:  e.scenes.TriangleCount(scene.Ballistic),
		Connected:           e.coord.Connected(),
		RoundsPerSecond:     e.coord.RoundsPerSecond(),
		Latency:             lat,
		LatencyKnown:        ok,
	}
}

// LogValue lets Stats be logged as a group.
func (s Stats) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("map", s.Map),
		slog.Int("visibility_triangles", s.VisibilityTriangles),
		slog.Int("ballistic_triangles", s.BallisticTriangles),
		slog.Bool("connected", s.Connected),
		slog.Int("rounds_per_second", s.RoundsPerSecond),
	}
	if s.LatencyKnown {
		attrs = append(attrs, slog.Duration("latency", s.Latency))
	}
	return slog.GroupValue(attrs...)
}
