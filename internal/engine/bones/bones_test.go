package bones

import "testing"

func TestCanonicalRoundTrip(t *testing.T) {
	seen := map[Bone]bool{}
	for slot := 0; slot < CanonicalCount; slot++ {
		b, ok := FromCanonical(slot)
		if !ok {
			t.Fatalf("slot %d unmapped", slot)
		}
		if seen[b] {
			t.Fatalf("bone %v mapped twice", b)
		}
		seen[b] = true
		got, ok := ToCanonical(b)
		if !ok || got != slot {
			t.Errorf("ToCanonical(%v) = %d, %v; want %d", b, got, ok, slot)
		}
	}
	if _, ok := FromCanonical(CanonicalCount); ok {
		t.Error("slot 18 should be out of range")
	}
	if _, ok := FromCanonical(-1); ok {
		t.Error("slot -1 should be out of range")
	}
}

func TestFixedSlots(t *testing.T) {
	tests := []struct {
		bone Bone
		slot int
	}{
		{Head, 0}, {Neck, 1}, {Spine3, 2}, {Pelvis, 5},
		{LUpperarm, 6}, {RForearm1, 9}, {LFoot, 12}, {RFoot, 15},
		{LCollarbone, 16}, {RCollarbone, 17},
	}
	for _, tt := range tests {
		if got, _ := ToCanonical(tt.bone); got != tt.slot {
			t.Errorf("ToCanonical(%v) = %d, want %d", tt.bone, got, tt.slot)
		}
	}
}

func TestFallbackMatchesAncestor(t *testing.T) {
	tests := []struct {
		bone     Bone
		ancestor Bone
	}{
		{LForearm2, LForearm1},
		{LForearm3, LForearm1},
		{LPalm, LForearm1},
		{RForearm2, RForearm1},
		{RForearm3, RForearm1},
		{RPalm, RForearm1},
		{LThigh2, LThigh1},
		{RThigh2, RThigh1},
		{LToe, LFoot},
		{RToe, RFoot},
	}
	for _, tt := range tests {
		t.Run(tt.bone.String(), func(t *testing.T) {
			if _, ok := ToCanonical(tt.bone); ok {
				t.Fatalf("%v should not map directly", tt.bone)
			}
			got, ok := Resolve(tt.bone)
			want, _ := ToCanonical(tt.ancestor)
			if !ok || got != want {
				t.Errorf("Resolve(%v) = %d, %v; want %d", tt.bone, got, ok, want)
			}
			if Bit(tt.bone) != Bit(tt.ancestor) {
				t.Errorf("Bit(%v) != Bit(%v)", tt.bone, tt.ancestor)
			}
		})
	}
}

func TestEveryBoneButRootResolves(t *testing.T) {
	for b := range boneCount {
		_, ok := Resolve(b)
		if b == Root {
			if ok {
				t.Error("Root should not resolve")
			}
			continue
		}
		if !ok {
			t.Errorf("%v does not resolve", b)
		}
	}
	if _, ok := Resolve(boneCount + 3); ok {
		t.Error("out-of-range bone resolved")
	}
}

func TestMaskOf(t *testing.T) {
	if got := MaskOf(Head, Neck, LPalm); got != 1|1<<1|1<<7 {
		t.Errorf("MaskOf = %b", got)
	}
	if MaskOf(Root) != 0 {
		t.Error("Root contributes a bit")
	}
	var all []Bone
	for slot := 0; slot < CanonicalCount; slot++ {
		b, _ := FromCanonical(slot)
		all = append(all, b)
	}
	if MaskOf(all...) != AllMask {
		t.Error("all canonical bones should give AllMask")
	}
}

func TestParse(t *testing.T) {
	if b, ok := Parse("head"); !ok || b != Head {
		t.Errorf("Parse(head) = %v, %v", b, ok)
	}
	if b, ok := Parse("RTOE"); !ok || b != RToe {
		t.Errorf("Parse(RTOE) = %v, %v", b, ok)
	}
	if _, ok := Parse("tail"); ok {
		t.Error("Parse(tail) succeeded")
	}
}

func TestParseMask(t *testing.T) {
	tests := []struct {
		in      []string
		want    uint32
		wantErr bool
	}{
		{nil, AllMask, false},
		{[]string{"Head", " neck "}, 0b11, false},
		{[]string{"LPalm"}, 1 << 7, false},
		{[]string{"Root"}, 0, true},
		{[]string{"Tail"}, 0, true},
	}
	for _, tt := range tests {
		got, err := ParseMask(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseMask(%v) = %b, %v", tt.in, got, err)
		}
	}
}
