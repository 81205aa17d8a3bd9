package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/OCharnyshevich/visengine/internal/engine/bones"
	"github.com/OCharnyshevich/visengine/internal/engine/channel"
	"github.com/OCharnyshevich/visengine/internal/engine/config"
	"github.com/OCharnyshevich/visengine/internal/engine/coordinator"
	"github.com/OCharnyshevich/visengine/internal/engine/geom"
	"github.com/OCharnyshevich/visengine/internal/engine/scene"
	"github.com/OCharnyshevich/visengine/internal/engine/shm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// wallOBJ is a wall in the z=0 plane covering x in [-3, 5], y in [-2, 2].
const wallOBJ = `# Vertices: 5
# Triangles: 3
v -3 -2 0
v 2 -2 0
v 2 2 0
v -3 2 0
v 5 -2 0
f 1 2 3
f 1 3 4
f 2 5 3
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "factory")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "visibility.obj"), []byte(wallOBJ), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := config.DefaultConfig()
	cfg.MapsDir = filepath.Dir(dir)
	cfg.SegmentName = "vis"
	cfg.RoundTimeout = 200 * time.Millisecond
	cfg.ReconnectInterval = 10 * time.Millisecond
	cfg.IdleInterval = time.Millisecond
	return cfg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestNewRejectsUnknownBones(t *testing.T) {
	cfg := testConfig(t)
	cfg.Bones = []string{"head", "tail"}
	if _, err := New(cfg, &shm.MemoryOpener{}, testLogger()); err == nil {
		t.Fatal("expected error for unknown bone name")
	}
}

func TestEngineEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	opener := &shm.MemoryOpener{}
	mem := shm.NewMemory(channel.SegmentSize)
	if err := channel.InitSegment(mem.Bytes()); err != nil {
		t.Fatal(err)
	}
	opener.Register(cfg.SegmentName, mem)

	e, err := New(cfg, opener, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go channel.NewPeer(mem.Bytes(), GeometryHandler(e.Scenes(), 1)).Serve(ctx)

	done := make(chan error, 1)
	go func() { done <- e.Start(ctx) }()

	e.SetMap("factory")
	e.SetDemand(true, false)
	waitFor(t, "visibility scene", func() bool { return e.Scenes().Loaded(scene.Visibility) })

	eye := geom.V(0, 0, -5)
	if e.HasLineOfSight(eye, geom.V(0, 0, 5), false) {
		t.Error("line of sight through the wall")
	}
	if !e.HasLineOfSight(eye, geom.V(10, 0, 5), false) {
		t.Error("line of sight beside the wall blocked")
	}
	// Ballistic queries fall back to the visibility scene.
	if e.HasBallisticLineOfSight(eye, geom.V(0, 0, 5)) {
		t.Error("ballistic line of sight through the wall")
	}

	// The eye sits EyeHeight above the viewer position; bodies sit 1 above
	// the feet, so both rays run at y=0.
	e.UpdateEntities(coordinator.Viewer{Position: geom.V(0, -cfg.EyeHeight, -5)}, 0, []coordinator.Entity{
		{ID: 1, Foot: geom.V(0, -1, 5), Alive: true},
		{ID: 2, Foot: geom.V(0, -1, -8), Alive: true},
	})
	start := e.Coordinator().Rounds()
	waitFor(t, "rounds after load", func() bool { return e.Coordinator().Rounds() > start+2 })

	tests := []struct {
		name string
		got  bool
		want bool
	}{
		{"behind wall visible", e.Coordinator().IsBoneVisible(1, bones.Head), false},
		{"behind wall hittable", e.Coordinator().IsBoneHittable(1, bones.Pelvis), false},
		{"same side visible", e.Coordinator().IsBoneVisible(2, bones.Head), true},
		{"same side hittable", e.Coordinator().IsBoneHittable(2, bones.LFoot), true},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, tt.got, tt.want)
		}
	}

	st := e.Stats()
	if st.Map != "factory" || st.VisibilityTriangles != 3 || st.BallisticTriangles != 0 || !st.Connected {
		t.Errorf("Stats = %+v", st)
	}

	e.SetDemand(false, false)
	waitFor(t, "visibility unload", func() bool { return !e.Scenes().Loaded(scene.Visibility) })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
	if e.Coordinator().Connected() {
		t.Error("still connected after shutdown")
	}
	if err := e.Coordinator().Start(context.Background()); !errors.Is(err, coordinator.ErrStopped) {
		t.Errorf("restart after shutdown: %v, want ErrStopped", err)
	}
}

func TestStatsLogValue(t *testing.T) {
	var b strings.Builder
	log := slog.New(slog.NewTextHandler(&b, nil))
	log.Info("stats", "engine", Stats{Map: "woods", VisibilityTriangles: 7, Connected: true, RoundsPerSecond: 60})
	out := b.String()
	for _, want := range []string{"engine.map=woods", "engine.visibility_triangles=7", "engine.connected=true", "engine.rounds_per_second=60"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %q missing %q", out, want)
		}
	}
	if strings.Contains(out, "latency") {
		t.Errorf("unknown latency logged: %q", out)
	}
}
