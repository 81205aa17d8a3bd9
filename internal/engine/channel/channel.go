// Package channel is the client side of the lock-step shared-memory
// visibility protocol. The peer process owns the segment; this side writes
// a request, bumps frame_in, and waits for the peer to echo it in
// frame_out.
package channel

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/OCharnyshevich/visengine/internal/engine/geom"
	"github.com/OCharnyshevich/visengine/internal/engine/shm"
)

// DefaultTimeout bounds one round.
const DefaultTimeout = 16 * time.Millisecond

const (
	spinIterations  = 2000
	yieldIterations = 200
	sleepStep       = 50 * time.Microsecond
)

var (
	ErrNotAvailable = errors.New("visibility segment not available")
	ErrDisconnected = errors.New("visibility channel disconnected")
)

// Entity is one request slot.
type Entity struct {
	Foot     geom.Vec3
	BoneMask uint32 // canonical bones to evaluate
}

// Request is the input of one round. Entities beyond MaxEntities are
// ignored.
type Request struct {
	Eye      geom.Vec3
	Fire     geom.Vec3
	Flags    uint32
	Entities []Entity
}

// Result is the peer's answer for one slot.
type Result struct {
	Visible uint32
	Hitscan uint32
}

// Channel drives the protocol. It is meant to be used from one goroutine;
// only Connected and ID are safe to call concurrently.
type Channel struct {
	opener  shm.Opener
	name    string
	timeout time.Duration
	log     *slog.Logger

	id        uuid.UUID
	seg       shm.Segment
	buf       []byte
	frame     uint32
	count     int
	connected atomic.Bool
}

// New creates a disconnected channel for the segment called name. A
// non-positive timeout selects DefaultTimeout.
func New(opener shm.Opener, name string, timeout time.Duration, log *slog.Logger) *Channel {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	id := uuid.New()
	return &Channel{
		opener:  opener,
		name:    name,
		timeout: timeout,
		id:      id,
		log:     log.With("segment", name, "client", id.String()),
	}
}

// ID identifies this client in logs.
func (c *Channel) ID() uuid.UUID { return c.id }

// Connected reports whether a segment is attached.
func (c *Channel) Connected() bool { return c.connected.Load() }

// Timeout returns the round timeout.
func (c *Channel) Timeout() time.Duration { return c.timeout }

// Connect attaches to the segment. It fails with ErrNotAvailable when the
// segment is missing or carries an unexpected magic or version. The local
// frame counter resumes from the peer's frame_out so that a client
// attaching after another one does not wait on a stale frame.
func (c *Channel) Connect() error {
	if c.connected.Load() {
		return nil
	}
	seg, err := c.opener.Open(c.name, SegmentSize)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotAvailable, err)
	}
	b := seg.Bytes()
	if len(b) < SegmentSize {
		seg.Close()
		return fmt.Errorf("%w: segment is %d bytes", ErrNotAvailable, len(b))
	}
	if m := le.Uint32(b[offMagic:]); m != Magic {
		seg.Close()
		return fmt.Errorf("%w: magic 0x%08x", ErrNotAvailable, m)
	}
	if v := le.Uint32(b[offVersion:]); v != Version {
		seg.Close()
		return fmt.Errorf("%w: version %d", ErrNotAvailable, v)
	}

	c.seg = seg
	c.buf = b[:SegmentSize]
	c.frame = loadCounter(b, offFrameOut)
	c.count = 0
	c.connected.Store(true)
	c.log.Info("visibility channel connected", "frame", c.frame)
	return nil
}

// Disconnect releases the segment. It is safe to call when not connected.
func (c *Channel) Disconnect() {
	if !c.connected.Swap(false) {
		return
	}
	if err := c.seg.Close(); err != nil {
		c.log.Warn("close segment", "error", err)
	}
	c.seg, c.buf = nil, nil
	c.log.Info("visibility channel disconnected")
}

// healthy re-checks the header and disconnects when the peer replaced or
// tore down the segment.
func (c *Channel) healthy() bool {
	if !c.connected.Load() {
		return false
	}
	if le.Uint32(c.buf[offMagic:]) != Magic || le.Uint32(c.buf[offVersion:]) != Version {
		c.log.Warn("segment header changed")
		c.Disconnect()
		return false
	}
	return true
}

// Submit writes req into the segment and publishes a new frame.
func (c *Channel) Submit(req Request) error {
	if !c.healthy() {
		return ErrDisconnected
	}
	b := c.buf
	n := min(len(req.Entities), MaxEntities)

	putVec(b, offEye, req.Eye)
	putVec(b, offFire, req.Fire)
	le.PutUint32(b[offFlags:], req.Flags)
	le.PutUint32(b[offCount:], uint32(n))
	for i, e := range req.Entities[:n] {
		off := slotOffset(i)
		putVec(b, off+slotFoot, e.Foot)
		le.PutUint32(b[off+slotBoneMask:], e.BoneMask)
	}

	c.count = n
	c.frame++
	storeCounter(b, offFrameIn, c.frame)
	return nil
}

// WaitForResults waits until the peer has answered the last submitted frame
// or timeout elapses. It spins first, then yields, then sleeps in short
// steps, so it never overshoots the timeout by more than a step.
func (c *Channel) WaitForResults(timeout time.Duration) bool {
	if !c.connected.Load() {
		return false
	}
	b := c.buf
	deadline := time.Now().Add(timeout)

	for i := 0; ; i++ {
		if loadCounter(b, offFrameOut) == c.frame {
			return true
		}
		if i < spinIterations {
			continue
		}
		now := time.Now()
		if !now.Before(deadline) {
			return false
		}
		if i < spinIterations+yieldIterations {
			runtime.Gosched()
			continue
		}
		time.Sleep(min(sleepStep, deadline.Sub(now)))
	}
}

// Results copies the output masks of the last submitted frame into dst and
// returns the number of slots written.
func (c *Channel) Results(dst []Result) int {
	if !c.connected.Load() {
		return 0
	}
	n := min(len(dst), c.count)
	for i := 0; i < n; i++ {
		off := slotOffset(i)
		dst[i] = Result{
			Visible: le.Uint32(c.buf[off+slotVisible:]),
			Hitscan: le.Uint32(c.buf[off+slotHitscan:]),
		}
	}
	return n
}

// Round runs one request/response exchange. It returns false without an
// error when the peer did not answer in time; a non-nil error means the
// channel is disconnected.
func (c *Channel) Round(req Request, dst []Result) (bool, error) {
	if err := c.Submit(req); err != nil {
		return false, err
	}
	if !c.WaitForResults(c.timeout) {
		return false, nil
	}
	if !c.healthy() {
		return false, ErrDisconnected
	}
	c.Results(dst)
	return true, nil
}

// Frame returns the last submitted frame number.
func (c *Channel) Frame() uint32 { return c.frame }
