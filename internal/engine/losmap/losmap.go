// Package losmap renders top-down line-of-sight coverage images from an eye
// point, for inspecting scene geometry.
package losmap

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/OCharnyshevich/visengine/internal/engine/geom"
)

// Pixel values.
const (
	Visible uint8 = 255
	Blocked uint8 = 40
	EyeMark uint8 = 128
)

var ErrEmptyArea = errors.New("coverage area is empty")

// Querier answers line-of-sight queries.
type Querier interface {
	HasLineOfSight(from, to geom.Vec3) bool
}

// QuerierFunc adapts a function to Querier.
type QuerierFunc func(from, to geom.Vec3) bool

func (f QuerierFunc) HasLineOfSight(from, to geom.Vec3) bool { return f(from, to) }

// Options describes the sampled area. Y is up; the image spans X left to
// right and Z top (max) to bottom (min).
type Options struct {
	Area       geom.AABB // only X and Z are used
	Eye        geom.Vec3
	Height     float32 // Y of every target point
	Resolution float32 // world units per pixel
	MaxSize    int     // longest image side, resolution is coarsened to fit
	Workers    int     // parallel rows, 0 = GOMAXPROCS
}

func (o Options) dims() (w, h int, res float32, err error) {
	ext := o.Area.Extent()
	if o.Area.IsEmpty() || ext.X <= 0 || ext.Z <= 0 {
		return 0, 0, 0, ErrEmptyArea
	}
	res = o.Resolution
	if res <= 0 {
		res = 1
	}
	if o.MaxSize > 0 {
		if longest := max(ext.X, ext.Z) / res; longest > float32(o.MaxSize) {
			res = max(ext.X, ext.Z) / float32(o.MaxSize)
		}
	}
	w = max(1, int(math.Ceil(float64(ext.X/res))))
	h = max(1, int(math.Ceil(float64(ext.Z/res))))
	return w, h, res, nil
}

// Render samples every pixel center and returns the coverage image.
func Render(ctx context.Context, q Querier, o Options) (*image.Gray, error) {
	w, h, res, err := o.dims()
	if err != nil {
		return nil, err
	}
	img := image.NewGray(image.Rect(0, 0, w, h))

	workers := o.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for y := 0; y < h; y++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			z := o.Area.Max.Z - (float32(y)+0.5)*res
			row := img.Pix[y*img.Stride : y*img.Stride+w]
			for x := range row {
				target := geom.V(o.Area.Min.X+(float32(x)+0.5)*res, o.Height, z)
				if q.HasLineOfSight(o.Eye, target) {
					row[x] = Visible
				} else {
					row[x] = Blocked
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("render coverage: %w", err)
	}

	if ex, ey, ok := o.pixelOf(o.Eye, res, w, h); ok {
		img.SetGray(ex, ey, color.Gray{Y: EyeMark})
	}
	return img, nil
}

func (o Options) pixelOf(p geom.Vec3, res float32, w, h int) (x, y int, ok bool) {
	x = int(math.Floor(float64((p.X - o.Area.Min.X) / res)))
	y = int(math.Floor(float64((o.Area.Max.Z - p.Z) / res)))
	return x, y, x >= 0 && y >= 0 && x < w && y < h
}

// Coverage returns the fraction of visible pixels, ignoring the eye mark.
func Coverage(img *image.Gray) float64 {
	b := img.Bounds()
	total, vis := 0, 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			switch img.GrayAt(x, y).Y {
			case Visible:
				vis++
				total++
			case Blocked:
				total++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(vis) / float64(total)
}
