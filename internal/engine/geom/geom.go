// Package geom holds the small float32 vector and box types shared by the
// mesh, BVH and scene packages.
package geom

import "math"

// Vec3 is a point or direction in world space. Y is up.
type Vec3 struct {
	X, Y, Z float32
}

// V returns the vector (x, y, z).
func V(x, y, z float32) Vec3 {
	return Vec3{X: x, Y: y, Z: z}
}

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }

// Scaled returns v multiplied by f.
func (v Vec3) Scaled(f float32) Vec3 { return Vec3{v.X * f, v.Y * f, v.Z * f} }

func (v Vec3) Dot(o Vec3) float32 { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }

func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		v.Y*o.Z - v.Z*o.Y,
		v.Z*o.X - v.X*o.Z,
		v.X*o.Y - v.Y*o.X,
	}
}

func (v Vec3) Length() float32 {
	return float32(math.Sqrt(float64(v.X*v.X + v.Y*v.Y + v.Z*v.Z)))
}

// Axis returns component i (0 = X, 1 = Y, 2 = Z).
func (v Vec3) Axis(i int) float32 {
	switch i {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

// Array returns v as a [3]float32.
func (v Vec3) Array() [3]float32 { return [3]float32{v.X, v.Y, v.Z} }

// FromArray builds a Vec3 from a [3]float32.
func FromArray(a [3]float32) Vec3 { return Vec3{a[0], a[1], a[2]} }

// AABB is an axis-aligned bounding box. The zero value is not empty; use
// EmptyAABB as the identity for Extend.
type AABB struct {
	Min, Max Vec3
}

// EmptyAABB returns an inverted box that any Extend call will overwrite.
func EmptyAABB() AABB {
	inf := float32(math.Inf(1))
	return AABB{
		Min: Vec3{inf, inf, inf},
		Max: Vec3{-inf, -inf, -inf},
	}
}

// IsEmpty reports whether the box has never been extended.
func (b AABB) IsEmpty() bool {
	return b.Min.X > b.Max.X || b.Min.Y > b.Max.Y || b.Min.Z > b.Max.Z
}

// Extend grows the box to contain p.
func (b *AABB) Extend(p Vec3) {
	b.Min.X = min(b.Min.X, p.X)
	b.Min.Y = min(b.Min.Y, p.Y)
	b.Min.Z = min(b.Min.Z, p.Z)
	b.Max.X = max(b.Max.X, p.X)
	b.Max.Y = max(b.Max.Y, p.Y)
	b.Max.Z = max(b.Max.Z, p.Z)
}

// Union grows the box to contain o. An empty o leaves b unchanged.
func (b *AABB) Union(o AABB) {
	if o.IsEmpty() {
		return
	}
	b.Extend(o.Min)
	b.Extend(o.Max)
}

// Extent returns Max - Min.
func (b AABB) Extent() Vec3 { return b.Max.Sub(b.Min) }

// Center returns the midpoint of the box.
func (b AABB) Center() Vec3 { return b.Min.Add(b.Max).Scaled(0.5) }

// SurfaceArea returns the total area of the six faces, or 0 for an empty box.
func (b AABB) SurfaceArea() float32 {
	if b.IsEmpty() {
		return 0
	}
	e := b.Extent()
	return 2 * (e.X*e.Y + e.Y*e.Z + e.Z*e.X)
}

// LongestAxis returns the index of the largest extent component.
func (b AABB) LongestAxis() int {
	e := b.Extent()
	if e.X >= e.Y && e.X >= e.Z {
		return 0
	}
	if e.Y >= e.Z {
		return 1
	}
	return 2
}
