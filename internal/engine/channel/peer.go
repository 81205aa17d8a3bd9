package channel

import (
	"context"
	"errors"
	"time"
)

// Handler computes the answer for one request. out has one entry per
// request entity.
type Handler func(req Request, out []Result)

// InitSegment writes a fresh header into b: magic, version and zeroed
// frame counters.
func InitSegment(b []byte) error {
	if len(b) < SegmentSize {
		return errors.New("segment too small")
	}
	clear(b[:SegmentSize])
	le.PutUint32(b[offMagic:], Magic)
	le.PutUint32(b[offVersion:], Version)
	return nil
}

// Peer is the answering side of the protocol, used to simulate the
// external process.
type Peer struct {
	b       []byte
	handler Handler
	poll    time.Duration

	req Request
	out []Result
}

// NewPeer serves frames on an initialised segment.
func NewPeer(b []byte, h Handler) *Peer {
	return &Peer{
		b:       b[:SegmentSize],
		handler: h,
		poll:    20 * time.Microsecond,
		req:     Request{Entities: make([]Entity, 0, MaxEntities)},
		out:     make([]Result, MaxEntities),
	}
}

// Poll answers the pending frame, if any, and reports whether it did.
func (p *Peer) Poll() bool {
	in := loadCounter(p.b, offFrameIn)
	if in == loadCounter(p.b, offFrameOut) {
		return false
	}

	n := min(int(le.Uint32(p.b[offCount:])), MaxEntities)
	p.req.Eye = getVec(p.b, offEye)
	p.req.Fire = getVec(p.b, offFire)
	p.req.Flags = le.Uint32(p.b[offFlags:])
	p.req.Entities = p.req.Entities[:0]
	for i := 0; i < n; i++ {
		off := slotOffset(i)
		p.req.Entities = append(p.req.Entities, Entity{
			Foot:     getVec(p.b, off+slotFoot),
			BoneMask: le.Uint32(p.b[off+slotBoneMask:]),
		})
	}

	out := p.out[:n]
	clear(out)
	p.handler(p.req, out)
	for i, r := range out {
		off := slotOffset(i)
		le.PutUint32(p.b[off+slotVisible:], r.Visible)
		le.PutUint32(p.b[off+slotHitscan:], r.Hitscan)
	}
	storeCounter(p.b, offFrameOut, in)
	return true
}

// Serve polls until ctx is done.
func (p *Peer) Serve(ctx context.Context) error {
	t := time.NewTicker(p.poll)
	defer t.Stop()
	for {
		for p.Poll() {
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
