package coordinator

import (
	"sync"

	"github.com/OCharnyshevich/visengine/internal/engine/geom"
)

// Viewer describes the local player for one round.
type Viewer struct {
	Position  geom.Vec3 // reference point, usually the feet
	Head      geom.Vec3 // preferred eye landmark
	HasHead   bool
	Muzzle    geom.Vec3 // fire origin
	HasMuzzle bool
}

// Entity is a tracked actor.
type Entity struct {
	ID       uint64
	Foot     geom.Vec3
	Local    bool
	Alive    bool
	BoneMask uint32 // 0 = the coordinator's default selection
}

// Frame is one snapshot of the world.
type Frame struct {
	Viewer   Viewer
	Flags    uint32
	Entities []Entity
}

// EntitySource supplies snapshots. Snapshot fills f, reusing its slices,
// and reports false when there is nothing to evaluate (no local player).
type EntitySource interface {
	Snapshot(f *Frame) bool
}

// SnapshotSource is an EntitySource fed by the embedding application.
type SnapshotSource struct {
	mu    sync.Mutex
	frame Frame
	ok    bool
}

// Update replaces the current snapshot. ents is copied.
func (s *SnapshotSource) Update(v Viewer, flags uint32, ents []Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame.Viewer = v
	s.frame.Flags = flags
	s.frame.Entities = append(s.frame.Entities[:0], ents...)
	s.ok = true
}

// Clear drops the snapshot, e.g. when the local player leaves the match.
func (s *SnapshotSource) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame.Entities = s.frame.Entities[:0]
	s.ok = false
}

func (s *SnapshotSource) Snapshot(f *Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ok {
		return false
	}
	f.Viewer = s.frame.Viewer
	f.Flags = s.frame.Flags
	f.Entities = append(f.Entities[:0], s.frame.Entities...)
	return true
}
