package losmap

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"sync/atomic"
	"testing"

	"github.com/ftrvxmtrx/tga"

	"github.com/OCharnyshevich/visengine/internal/engine/bvh"
	"github.com/OCharnyshevich/visengine/internal/engine/geom"
	"github.com/OCharnyshevich/visengine/internal/engine/mesh"
)

// wall is a 3-triangle wall in the z=0 plane covering x in [-3,5],
// y in [-2,2].
func wall(t *testing.T) *bvh.Tree {
	t.Helper()
	m := mesh.New(
		[]float32{-3, -2, 0, 2, -2, 0, 2, 2, 0, -3, 2, 0, 5, -2, 0},
		[]int32{0, 1, 2, 0, 2, 3, 1, 4, 2},
	)
	tree, err := bvh.Build(m, bvh.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	return tree
}

func square(half float32) geom.AABB {
	return geom.AABB{Min: geom.V(-half, 0, -half), Max: geom.V(half, 0, half)}
}

// at returns the pixel covering world (x, z) for a 1-unit resolution image
// over square(10).
func at(img *image.Gray, x, z float32) uint8 {
	return img.GrayAt(int(x+10), int(10-z)).Y
}

func TestRenderShadow(t *testing.T) {
	img, err := Render(context.Background(), wall(t), Options{
		Area:       square(10),
		Eye:        geom.V(0.5, 0, -8.5),
		Height:     0,
		Resolution: 1,
		Workers:    3,
	})
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 20 || b.Dy() != 20 {
		t.Fatalf("size = %v", b)
	}

	tests := []struct {
		name string
		x, z float32
		want uint8
	}{
		{"behind the wall", 0.5, 5.5, Blocked},
		{"far behind the wall", 1.5, 9.5, Blocked},
		{"beside the wall", 9.5, 5.5, Visible},
		{"eye side", -5.5, -5.5, Visible},
		{"eye", 0.5, -8.5, EyeMark},
	}
	for _, tt := range tests {
		if got := at(img, tt.x, tt.z); got != tt.want {
			t.Errorf("%s: pixel = %d, want %d", tt.name, got, tt.want)
		}
	}

	c := Coverage(img)
	if c <= 0.5 || c >= 1 {
		t.Errorf("Coverage = %v, want a partial shadow", c)
	}
}

func TestRenderOpenField(t *testing.T) {
	open := QuerierFunc(func(from, to geom.Vec3) bool { return true })
	img, err := Render(context.Background(), open, Options{Area: square(4), Eye: geom.V(100, 0, 100), Resolution: 0.5})
	if err != nil {
		t.Fatal(err)
	}
	if Coverage(img) != 1 {
		t.Errorf("Coverage = %v, want 1", Coverage(img))
	}
}

func TestRenderMaxSize(t *testing.T) {
	var calls atomic.Int64
	q := QuerierFunc(func(from, to geom.Vec3) bool { calls.Add(1); return true })
	img, err := Render(context.Background(), q, Options{Area: square(500), Resolution: 0.1, MaxSize: 64})
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() > 64 || b.Dy() > 64 {
		t.Errorf("size = %v, want at most 64", b)
	}
	if int(calls.Load()) != img.Bounds().Dx()*img.Bounds().Dy() {
		t.Errorf("queries = %d, pixels = %d", calls.Load(), img.Bounds().Dx()*img.Bounds().Dy())
	}
}

func TestRenderErrors(t *testing.T) {
	q := QuerierFunc(func(from, to geom.Vec3) bool { return true })
	if _, err := Render(context.Background(), q, Options{Area: geom.EmptyAABB()}); !errors.Is(err, ErrEmptyArea) {
		t.Errorf("empty area: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Render(ctx, q, Options{Area: square(10)}); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled: %v", err)
	}
}

func TestScale(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 2, 2))
	src.Pix = []uint8{Visible, Blocked, Blocked, Visible}

	dst := Scale(src, 4, false)
	if b := dst.Bounds(); b.Dx() != 8 || b.Dy() != 8 {
		t.Fatalf("size = %v", b)
	}
	if dst.GrayAt(1, 1).Y != Visible || dst.GrayAt(6, 1).Y != Blocked || dst.GrayAt(6, 6).Y != Visible {
		t.Error("nearest-neighbour scaling changed pixel values")
	}
	if smooth := Scale(src, 3, true); smooth.Bounds().Dx() != 6 {
		t.Errorf("smooth size = %v", smooth.Bounds())
	}
}

func TestEncode(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 4, 3))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 20)
	}

	t.Run("png", func(t *testing.T) {
		var buf bytes.Buffer
		if err := Encode(&buf, img, PNG); err != nil {
			t.Fatal(err)
		}
		got, err := png.Decode(&buf)
		if err != nil {
			t.Fatal(err)
		}
		if got.Bounds() != img.Bounds() {
			t.Errorf("bounds = %v", got.Bounds())
		}
	})

	t.Run("webp", func(t *testing.T) {
		var buf bytes.Buffer
		if err := Encode(&buf, img, WebP); err != nil {
			t.Fatal(err)
		}
		b := buf.Bytes()
		if len(b) < 12 || string(b[:4]) != "RIFF" || string(b[8:12]) != "WEBP" {
			t.Errorf("not a WebP stream: % x", b[:min(len(b), 12)])
		}
	})

	t.Run("tga", func(t *testing.T) {
		var buf bytes.Buffer
		if err := Encode(&buf, img, TGA); err != nil {
			t.Fatal(err)
		}
		got, err := tga.Decode(&buf)
		if err != nil {
			t.Fatal(err)
		}
		if got.Bounds().Dx() != 4 || got.Bounds().Dy() != 3 {
			t.Errorf("bounds = %v", got.Bounds())
		}
	})

	if err := Encode(&bytes.Buffer{}, img, Format("bmp")); err == nil {
		t.Error("expected an error for bmp")
	}
}

func TestFormatFromPath(t *testing.T) {
	tests := []struct {
		path    string
		want    Format
		wantErr bool
	}{
		{"out/cover.webp", WebP, false},
		{"COVER.TGA", TGA, false},
		{"a.png", PNG, false},
		{"a.jpg", "", true},
		{"noext", "", true},
	}
	for _, tt := range tests {
		got, err := FormatFromPath(tt.path)
		if got != tt.want || (err != nil) != tt.wantErr {
			t.Errorf("FormatFromPath(%q) = %q, %v", tt.path, got, err)
		}
	}
}
