// Package bones translates between skeleton bones and the 18 canonical
// landmark slots used by the visibility protocol.
package bones

import (
	"fmt"
	"strings"
)

// Bone is a skeleton bone.
type Bone uint8

const (
	Root Bone = iota
	Pelvis
	Spine1
	Spine2
	Spine3
	Neck
	Head

	LCollarbone
	LUpperarm
	LForearm1
	LForearm2
	LForearm3
	LPalm

	RCollarbone
	RUpperarm
	RForearm1
	RForearm2
	RForearm3
	RPalm

	LThigh1
	LThigh2
	LCalf
	LFoot
	LToe

	RThigh1
	RThigh2
	RCalf
	RFoot
	RToe

	boneCount
)

// CanonicalCount is the number of canonical slots.
const CanonicalCount = 18

// AllMask selects every canonical slot.
const AllMask uint32 = 1<<CanonicalCount - 1

var names = [boneCount]string{
	Root: "Root", Pelvis: "Pelvis",
	Spine1: "Spine1", Spine2: "Spine2", Spine3: "Spine3",
	Neck: "Neck", Head: "Head",
	LCollarbone: "LCollarbone", LUpperarm: "LUpperarm",
	LForearm1: "LForearm1", LForearm2: "LForearm2", LForearm3: "LForearm3", LPalm: "LPalm",
	RCollarbone: "RCollarbone", RUpperarm: "RUpperarm",
	RForearm1: "RForearm1", RForearm2: "RForearm2", RForearm3: "RForearm3", RPalm: "RPalm",
	LThigh1: "LThigh1", LThigh2: "LThigh2", LCalf: "LCalf", LFoot: "LFoot", LToe: "LToe",
	RThigh1: "RThigh1", RThigh2: "RThigh2", RCalf: "RCalf", RFoot: "RFoot", RToe: "RToe",
}

func (b Bone) String() string {
	if b < boneCount {
		return names[b]
	}
	return fmt.Sprintf("Bone(%d)", uint8(b))
}

// canonical is the slot -> bone table.
var canonical = [CanonicalCount]Bone{
	0:  Head,
	1:  Neck,
	2:  Spine3,
	3:  Spine2,
	4:  Spine1,
	5:  Pelvis,
	6:  LUpperarm,
	7:  LForearm1,
	8:  RUpperarm,
	9:  RForearm1,
	10: LThigh1,
	11: LCalf,
	12: LFoot,
	13: RThigh1,
	14: RCalf,
	15: RFoot,
	16: LCollarbone,
	17: RCollarbone,
}

// fallback points unmapped bones at their nearest mapped ancestor, possibly
// through other unmapped bones.
var fallback = map[Bone]Bone{
	LForearm2: LForearm1,
	LForearm3: LForearm2,
	LPalm:     LForearm3,
	RForearm2: RForearm1,
	RForearm3: RForearm2,
	RPalm:     RForearm3,
	LThigh2:   LThigh1,
	RThigh2:   RThigh1,
	LToe:      LFoot,
	RToe:      RFoot,
}

// slots is canonical inverted; -1 marks bones without a slot.
var slots = invert(canonical)

func invert(table [CanonicalCount]Bone) [boneCount]int8 {
	var inv [boneCount]int8
	for i := range inv {
		inv[i] = -1
	}
	for slot, b := range table {
		inv[b] = int8(slot)
	}
	return inv
}

// FromCanonical returns the bone of a canonical slot.
func FromCanonical(slot int) (Bone, bool) {
	if slot < 0 || slot >= CanonicalCount {
		return 0, false
	}
	return canonical[slot], true
}

// ToCanonical returns the slot a bone maps to directly.
func ToCanonical(b Bone) (int, bool) {
	if b >= boneCount || slots[b] < 0 {
		return -1, false
	}
	return int(slots[b]), true
}

// Resolve returns the slot of b or, for unmapped bones, of the nearest
// mapped ancestor in the fallback chain.
func Resolve(b Bone) (int, bool) {
	for range boneCount {
		if slot, ok := ToCanonical(b); ok {
			return slot, true
		}
		next, ok := fallback[b]
		if !ok {
			return -1, false
		}
		b = next
	}
	return -1, false
}

// Bit returns the mask bit of b after fallback, or 0 for bones with no
// slot.
func Bit(b Bone) uint32 {
	slot, ok := Resolve(b)
	if !ok {
		return 0
	}
	return 1 << slot
}

// MaskOf combines the bits of bones.
func MaskOf(bs ...Bone) uint32 {
	var m uint32
	for _, b := range bs {
		m |= Bit(b)
	}
	return m
}

// Parse looks a bone up by name, ignoring case.
func Parse(name string) (Bone, bool) {
	for b := range boneCount {
		if strings.EqualFold(names[b], name) {
			return b, true
		}
	}
	return 0, false
}

// ParseMask turns bone names into a selection mask. An empty list selects
// every slot.
func ParseMask(list []string) (uint32, error) {
	if len(list) == 0 {
		return AllMask, nil
	}
	var m uint32
	for _, name := range list {
		b, ok := Parse(strings.TrimSpace(name))
		if !ok {
			return 0, fmt.Errorf("unknown bone %q", name)
		}
		bit := Bit(b)
		if bit == 0 {
			return 0, fmt.Errorf("bone %q has no canonical slot", name)
		}
		m |= bit
	}
	return m, nil
}
