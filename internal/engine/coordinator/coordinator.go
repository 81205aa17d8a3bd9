// Package coordinator runs the worker that feeds tracked entities through
// the shared-memory visibility channel and caches per-entity bone masks for
// query threads.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/OCharnyshevich/visengine/internal/engine/bones"
	"github.com/OCharnyshevich/visengine/internal/engine/channel"
	"github.com/OCharnyshevich/visengine/internal/engine/geom"
	"github.com/OCharnyshevich/visengine/internal/engine/shm"
)

var (
	ErrAlreadyStarted = errors.New("coordinator already started")
	ErrStopped        = errors.New("coordinator stopped")
)

// Options configures a Coordinator.
type Options struct {
	SegmentName       string
	RoundTimeout      time.Duration
	ReconnectInterval time.Duration
	PruneInterval     time.Duration
	IdleInterval      time.Duration
	EyeHeight         float32
	BoneMask          uint32 // default selection; 0 = every bone
}

// DefaultOptions returns the standard worker settings.
func DefaultOptions() Options {
	return Options{
		SegmentName:       "visengine",
		RoundTimeout:      channel.DefaultTimeout,
		ReconnectInterval: 2 * time.Second,
		PruneInterval:     time.Second,
		IdleInterval:      10 * time.Millisecond,
		EyeHeight:         1.6,
		BoneMask:          bones.AllMask,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SegmentName == "" {
		o.SegmentName = d.SegmentName
	}
	if o.RoundTimeout <= 0 {
		o.RoundTimeout = d.RoundTimeout
	}
	if o.ReconnectInterval <= 0 {
		o.ReconnectInterval = d.ReconnectInterval
	}
	if o.PruneInterval < time.Second {
		o.PruneInterval = d.PruneInterval
	}
	if o.IdleInterval <= 0 {
		o.IdleInterval = d.IdleInterval
	}
	if o.EyeHeight == 0 {
		o.EyeHeight = d.EyeHeight
	}
	if o.BoneMask == 0 {
		o.BoneMask = d.BoneMask
	}
	return o
}

// Coordinator owns the channel worker. Construct with New, run with Start,
// and end with Stop; each may take effect once.
type Coordinator struct {
	opts Options
	log  *slog.Logger
	src  EntitySource
	ch   *channel.Channel

	cache   *visCache
	enabled atomic.Bool

	life    sync.Mutex // guards started, stopped and cancel
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}

	rps     atomic.Int64
	latency atomic.Int64 // nanoseconds, -1 when unknown
	rounds  atomic.Uint64

	// Worker state.
	reconnect *rate.Limiter
	frame     Frame
	picked    []Entity
	req       channel.Request
	results   []channel.Result
	active    map[uint64]struct{}
}

// New creates a stopped, enabled coordinator.
func New(opener shm.Opener, src EntitySource, opts Options, log *slog.Logger) *Coordinator {
	opts = opts.withDefaults()
	c := &Coordinator{
		opts:      opts,
		log:       log,
		src:       src,
		ch:        channel.New(opener, opts.SegmentName, opts.RoundTimeout, log),
		cache:     newVisCache(),
		done:      make(chan struct{}),
		reconnect: rate.NewLimiter(rate.Every(opts.ReconnectInterval), 1),
		picked:    make([]Entity, 0, channel.MaxEntities),
		req:       channel.Request{Entities: make([]channel.Entity, 0, channel.MaxEntities)},
		results:   make([]channel.Result, channel.MaxEntities),
		active:    make(map[uint64]struct{}, channel.MaxEntities),
	}
	c.enabled.Store(true)
	c.latency.Store(-1)
	return c
}

// Start launches the worker. It fails on a second call and after Stop.
func (c *Coordinator) Start(ctx context.Context) error {
	c.life.Lock()
	defer c.life.Unlock()
	if c.stopped {
		return ErrStopped
	}
	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true

	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)
	c.log.Info("visibility coordinator started", "segment", c.opts.SegmentName)
	return nil
}

// Stop ends the worker and waits for it to release the channel. It is safe
// to call more than once and before Start.
func (c *Coordinator) Stop() {
	c.life.Lock()
	first := !c.stopped
	c.stopped = true
	started := c.started
	c.life.Unlock()

	if !started {
		return
	}
	if first {
		c.cancel()
	}
	<-c.done
	if first {
		c.log.Info("visibility coordinator stopped", "rounds", c.rounds.Load())
	}
}

// SetEnabled pauses or resumes protocol rounds. The worker drops cached
// answers once it sees the feature disabled.
func (c *Coordinator) SetEnabled(on bool) { c.enabled.Store(on) }

func (c *Coordinator) Enabled() bool { return c.enabled.Load() }

// Connected reports whether the worker holds the channel.
func (c *Coordinator) Connected() bool { return c.ch.Connected() }

// Masks returns the cached answer for id.
func (c *Coordinator) Masks(id uint64) (Masks, bool) { return c.cache.Get(id) }

// IsBoneVisible reports whether bone b of entity id was visible in the
// latest answer. Unknown entities, bones without a canonical slot and bones
// that were not requested count as visible.
func (c *Coordinator) IsBoneVisible(id uint64, b bones.Bone) bool {
	return c.query(id, b, func(m Masks) uint32 { return m.Visible })
}

// IsBoneHittable is IsBoneVisible for the hit-scan mask.
func (c *Coordinator) IsBoneHittable(id uint64, b bones.Bone) bool {
	return c.query(id, b, func(m Masks) uint32 { return m.Hitscan })
}

func (c *Coordinator) query(id uint64, b bones.Bone, pick func(Masks) uint32) bool {
	bit := bones.Bit(b)
	if bit == 0 {
		return true
	}
	m, ok := c.cache.Get(id)
	if !ok || m.Requested&bit == 0 {
		return true
	}
	return pick(m)&bit != 0
}

// RoundsPerSecond is the successful round rate over the last prune window.
func (c *Coordinator) RoundsPerSecond() int { return int(c.rps.Load()) }

// Rounds is the total number of successful rounds.
func (c *Coordinator) Rounds() uint64 { return c.rounds.Load() }

// Latency returns the duration of the last round; ok is false when the last
// round failed.
func (c *Coordinator) Latency() (time.Duration, bool) {
	ns := c.latency.Load()
	if ns < 0 {
		return 0, false
	}
	return time.Duration(ns), true
}

func (c *Coordinator) run(ctx context.Context) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(c.done)
	defer c.ch.Disconnect()

	windowStart := time.Now()
	windowRounds := 0
	paused := false

	for ctx.Err() == nil {
		if now := time.Now(); now.Sub(windowStart) >= c.opts.PruneInterval {
			c.rps.Store(int64(float64(windowRounds) / now.Sub(windowStart).Seconds()))
			if n := c.cache.Prune(c.active); n > 0 {
				c.log.Debug("pruned visibility entries", "removed", n)
			}
			windowStart, windowRounds = now, 0
		}

		if !c.ch.Connected() {
			if c.reconnect.Allow() {
				if err := c.ch.Connect(); err != nil {
					c.log.Debug("visibility channel unavailable", "error", err)
				}
			}
			if !c.ch.Connected() {
				c.idle(ctx)
				continue
			}
		}

		if !c.enabled.Load() {
			if !paused {
				c.cache.Clear()
				paused = true
			}
			c.idle(ctx)
			continue
		}
		paused = false

		switch ok, err := c.round(); {
		case err != nil:
			c.log.Warn("visibility round failed", "error", err)
		case ok:
			windowRounds++
		default:
			c.idle(ctx)
		}
	}
}

func (c *Coordinator) idle(ctx context.Context) {
	t := time.NewTimer(c.opts.IdleInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// round gathers entities and runs one exchange. It reports false without
// an error when there was nothing to ask or the peer timed out.
func (c *Coordinator) round() (bool, error) {
	clear(c.active)
	if !c.src.Snapshot(&c.frame) {
		return false, nil
	}

	c.picked = c.picked[:0]
	c.req.Entities = c.req.Entities[:0]
	for _, e := range c.frame.Entities {
		if e.Local || !e.Alive {
			continue
		}
		c.active[e.ID] = struct{}{}
		if len(c.picked) == channel.MaxEntities {
			continue
		}
		if e.BoneMask == 0 {
			e.BoneMask = c.opts.BoneMask
		}
		c.picked = append(c.picked, e)
		c.req.Entities = append(c.req.Entities, channel.Entity{Foot: e.Foot, BoneMask: e.BoneMask})
	}
	if len(c.picked) == 0 {
		return false, nil
	}

	eye := c.eye(c.frame.Viewer)
	c.req.Eye = eye
	c.req.Fire = eye
	if c.frame.Viewer.HasMuzzle {
		c.req.Fire = c.frame.Viewer.Muzzle
	}
	c.req.Flags = c.frame.Flags

	start := time.Now()
	ok, err := c.ch.Round(c.req, c.results)
	if err != nil || !ok {
		c.latency.Store(-1)
		return false, err
	}
	c.latency.Store(int64(time.Since(start)))
	c.rounds.Add(1)

	for i, e := range c.picked {
		r := c.results[i]
		c.cache.Set(e.ID, Masks{Requested: e.BoneMask, Visible: r.Visible, Hitscan: r.Hitscan})
	}
	return true, nil
}

// eye prefers the head landmark and falls back to a fixed height above the
// reference position.
func (c *Coordinator) eye(v Viewer) geom.Vec3 {
	if v.HasHead {
		return v.Head
	}
	return v.Position.Add(geom.V(0, c.opts.EyeHeight, 0))
}
