package channel

import (
	"encoding/binary"
	"math"
	"sync/atomic"
	"unsafe"

	"github.com/OCharnyshevich/visengine/internal/engine/geom"
)

// Segment layout. All values are little endian.
const (
	SegmentSize = HeaderSize + MaxEntities*SlotSize
	HeaderSize  = 512
	SlotSize    = 128
	MaxEntities = 64

	Magic   uint32 = 'V' | 'S'<<8 | 'M'<<16 | '1'<<24
	Version uint32 = 1

	offMagic    = 0
	offVersion  = 4
	offFrameIn  = 8
	offFrameOut = 12
	offCount    = 16
	offFlags    = 20
	offEye      = 24
	offFire     = 36

	slotFoot     = 0
	slotBoneMask = 12
	slotVisible  = 64
	slotHitscan  = 68
)

var le = binary.LittleEndian

func slotOffset(i int) int { return HeaderSize + i*SlotSize }

// counter returns the frame counter at off for atomic access. Segments are
// page or word aligned, so off must be a multiple of 4.
func counter(b []byte, off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&b[off]))
}

func loadCounter(b []byte, off int) uint32     { return atomic.LoadUint32(counter(b, off)) }
func storeCounter(b []byte, off int, v uint32) { atomic.StoreUint32(counter(b, off), v) }

func putVec(b []byte, off int, v geom.Vec3) {
	le.PutUint32(b[off:], math.Float32bits(v.X))
	le.PutUint32(b[off+4:], math.Float32bits(v.Y))
	le.PutUint32(b[off+8:], math.Float32bits(v.Z))
}

func getVec(b []byte, off int) geom.Vec3 {
	return geom.Vec3{
		X: math.Float32frombits(le.Uint32(b[off:])),
		Y: math.Float32frombits(le.Uint32(b[off+4:])),
		Z: math.Float32frombits(le.Uint32(b[off+8:])),
	}
}
