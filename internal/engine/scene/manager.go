package scene

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/OCharnyshevich/visengine/internal/engine/geom"
)

var ErrNoMap = errors.New("no map selected")

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Discover DiscoverOptions
	Load     Options
}

type roleSlot struct {
	mu        sync.Mutex // serializes load and unload of this role
	scene     atomic.Pointer[Scene]
	failedGen uint64 // generation whose load already failed
}

// Manager keeps the visibility and ballistic scenes of the current map.
// It is reactive: SetMap starts discovery and Update loads or unloads each
// role according to demand. Queries never block on loads.
type Manager struct {
	opts ManagerOptions
	log  *slog.Logger

	mu      sync.Mutex // guards the fields below
	gen     uint64
	mapID   string
	files   *MapFiles
	discErr error
	cancel  context.CancelFunc
	done    chan struct{}

	roles [roleCount]roleSlot
}

// NewManager creates a Manager with no map selected.
func NewManager(opts ManagerOptions, log *slog.Logger) *Manager {
	done := make(chan struct{})
	close(done)
	return &Manager{
		opts:    opts,
		log:     log,
		discErr: ErrNoMap,
		done:    done,
	}
}

// SetMap switches to mapID. In-flight discovery is cancelled and loaded
// scenes are torn down before the new discovery starts in the background.
// A build already running for the old map completes but is discarded.
func (m *Manager) SetMap(mapID string) {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	m.gen++
	gen := m.gen
	m.mapID = mapID
	m.files = nil
	m.discErr = nil
	unloaded := m.dropScenesLocked()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	if unloaded {
		reclaim()
	}
	m.log.Info("map selected", "map", mapID)

	go func() {
		defer close(done)
		files, err := Discover(ctx, m.opts.Discover, mapID, m.log)

		m.mu.Lock()
		defer m.mu.Unlock()
		if m.gen != gen {
			return
		}
		if err != nil {
			m.discErr = err
			if !errors.Is(err, context.Canceled) {
				m.log.Warn("map discovery failed", "map", mapID, "error", err)
			}
			return
		}
		m.files = files
	}()
}

// WaitDiscovery blocks until the current discovery finishes and returns
// its result.
func (m *Manager) WaitDiscovery(ctx context.Context) (*MapFiles, error) {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.files == nil {
		if m.discErr != nil {
			return nil, m.discErr
		}
		return nil, ErrNoMap
	}
	return m.files, nil
}

// MapID returns the selected map.
func (m *Manager) MapID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mapID
}

// Update loads each demanded role that is absent and unloads each loaded
// role that is no longer demanded. Both roles are processed concurrently.
// Loading may take seconds, so Update belongs on a loader goroutine. A role
// whose load failed is not retried until the map changes.
func (m *Manager) Update(wantVisibility, wantBallistic bool) error {
	m.mu.Lock()
	gen, files := m.gen, m.files
	m.mu.Unlock()

	want := [roleCount]bool{wantVisibility, wantBallistic}
	var g errgroup.Group
	for _, r := range Roles {
		g.Go(func() error {
			return m.updateRole(r, want[r], gen, files)
		})
	}
	return g.Wait()
}

func (m *Manager) updateRole(r Role, want bool, gen uint64, files *MapFiles) error {
	slot := &m.roles[r]
	slot.mu.Lock()
	defer slot.mu.Unlock()

	loaded := slot.scene.Load() != nil
	switch {
	case !want && loaded:
		if m.unload(r) {
			reclaim()
		}
		return nil
	case want && !loaded:
	default:
		return nil
	}

	if files == nil || slot.failedGen == gen {
		return nil
	}
	src := files.Sources(r)
	if !src.Available() {
		slot.failedGen = gen
		m.log.Info("no geometry for role", "map", files.MapID, "role", r)
		return nil
	}

	sc, err := Load(src, m.opts.Load, m.log.With("role", r.String()))
	if err != nil {
		slot.failedGen = gen
		return fmt.Errorf("load %s scene of %s: %w", r, files.MapID, err)
	}

	m.mu.Lock()
	current := m.gen == gen
	if current {
		slot.scene.Store(sc)
	}
	m.mu.Unlock()

	if !current {
		sc.Dispose()
		m.log.Debug("discarded scene for previous map", "role", r, "map", files.MapID)
		return nil
	}
	m.log.Info("scene loaded", "role", r, "map", files.MapID, "triangles", sc.TriangleCount())
	return nil
}

// unload drops role r and reports whether a scene was released.
func (m *Manager) unload(r Role) bool {
	sc := m.roles[r].scene.Swap(nil)
	if sc == nil {
		return false
	}
	sc.Dispose()
	m.log.Info("scene unloaded", "role", r, "scene", sc.Name())
	return true
}

func (m *Manager) dropScenesLocked() bool {
	dropped := false
	for _, r := range Roles {
		if m.unload(r) {
			dropped = true
		}
	}
	return dropped
}

// reclaim returns freed scene memory to the OS.
func reclaim() {
	debug.FreeOSMemory()
}

// Scene returns the loaded scene of role r, or nil.
func (m *Manager) Scene(r Role) *Scene { return m.roles[r].scene.Load() }

// Loaded reports whether role r has a scene.
func (m *Manager) Loaded(r Role) bool { return m.Scene(r) != nil }

// TriangleCount returns the triangle count of role r, or 0 when unloaded.
func (m *Manager) TriangleCount(r Role) int {
	if sc := m.Scene(r); sc != nil {
		return sc.TriangleCount()
	}
	return 0
}

// HasLineOfSight answers an eye line-of-sight query. It uses the
// visibility scene unless noFoliage is set, in which case the ballistic
// scene is preferred. With no scene loaded the answer is true.
func (m *Manager) HasLineOfSight(from, to geom.Vec3, noFoliage bool) bool {
	var sc *Scene
	if noFoliage {
		sc = m.first(Ballistic, Visibility)
	} else {
		sc = m.first(Visibility, Ballistic)
	}
	if sc == nil {
		return true
	}
	return sc.HasLineOfSight(from, to)
}

// HasBallisticLineOfSight answers a hit-scan query, preferring the
// ballistic scene. With no scene loaded the answer is true.
func (m *Manager) HasBallisticLineOfSight(from, to geom.Vec3) bool {
	sc := m.first(Ballistic, Visibility)
	if sc == nil {
		return true
	}
	return sc.HasLineOfSight(from, to)
}

func (m *Manager) first(roles ...Role) *Scene {
	for _, r := range roles {
		if sc := m.Scene(r); sc != nil {
			return sc
		}
	}
	return nil
}

// Close cancels discovery and unloads every scene.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.gen++
	m.files = nil
	m.discErr = ErrNoMap
	done := m.done
	unloaded := m.dropScenesLocked()
	m.mu.Unlock()

	<-done
	if unloaded {
		reclaim()
	}
}
