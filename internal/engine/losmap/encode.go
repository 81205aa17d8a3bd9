package losmap

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"path/filepath"
	"strings"

	"github.com/HugoSmits86/nativewebp"
	"github.com/ftrvxmtrx/tga"
	"golang.org/x/image/draw"
)

// Format is an output image encoding.
type Format string

const (
	WebP Format = "webp"
	TGA  Format = "tga"
	PNG  Format = "png"
)

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")); ext {
	case "webp":
		return WebP, nil
	case "tga":
		return TGA, nil
	case "png":
		return PNG, nil
	default:
		return "", fmt.Errorf("unsupported image format %q", ext)
	}
}

// Encode writes img in format f.
func Encode(w io.Writer, img image.Image, f Format) error {
	var err error
	switch f {
	case WebP:
		err = nativewebp.Encode(w, img, nil)
	case TGA:
		err = tga.Encode(w, img)
	case PNG:
		err = png.Encode(w, img)
	default:
		return fmt.Errorf("unsupported image format %q", f)
	}
	if err != nil {
		return fmt.Errorf("encode %s: %w", f, err)
	}
	return nil
}

// Scale resizes src by an integer factor. Nearest neighbour keeps the
// coverage edges hard; smooth uses Catmull-Rom.
func Scale(src image.Image, factor int, smooth bool) *image.Gray {
	b := src.Bounds()
	if factor < 1 {
		factor = 1
	}
	dst := image.NewGray(image.Rect(0, 0, b.Dx()*factor, b.Dy()*factor))
	var s draw.Scaler = draw.NearestNeighbor
	if smooth {
		s = draw.CatmullRom
	}
	s.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}
