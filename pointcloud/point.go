package pointcloud

import (
	"image/color"
	"math"

	"github.com/golang/geo/r3"
)

// PointType describes what each point of a cloud carries.
type PointType int

// The point types a cloud may hold.
const (
	XYZ PointType = iota
	XYZRGB
)

func (pt PointType) String() string {
	switch pt {
	case XYZ:
		return "xyz"
	case XYZRGB:
		return "xyzrgb"
	default:
		return "unknown"
	}
}

// Point is a single entry of a cloud. Positions are in metres in the camera frame.
type Point struct {
	Position r3.Vector
	Color    color.NRGBA

	// Descriptor is an optional per-point feature vector (e.g. a 128 element SIFT descriptor).
	Descriptor []float32
}

// NewVector is a convenience constructor for positions.
func NewVector(x, y, z float64) r3.Vector {
	return r3.Vector{X: x, Y: y, Z: z}
}

// InvalidPoint returns a point whose position is NaN. Organized clouds use it to keep
// the grid slot of a pixel without a measurement.
func InvalidPoint() Point {
	nan := math.NaN()
	return Point{Position: r3.Vector{X: nan, Y: nan, Z: nan}}
}

// NewColoredPoint returns a point at the given position with an opaque color.
func NewColoredPoint(pos r3.Vector, r, g, b uint8) Point {
	return Point{Position: pos, Color: color.NRGBA{R: r, G: g, B: b, A: 255}}
}

// IsValid returns whether every coordinate is finite.
func (p Point) IsValid() bool {
	return isFinite(p.Position.X) && isFinite(p.Position.Y) && isFinite(p.Position.Z)
}

// RGB255 returns the color channels of the point.
func (p Point) RGB255() (uint8, uint8, uint8) {
	return p.Color.R, p.Color.G, p.Color.B
}

// PackedRGB returns the color as r<<16 | g<<8 | b.
func (p Point) PackedRGB() uint32 {
	return PackRGB(p.Color.R, p.Color.G, p.Color.B)
}

// PackedRGBA returns the color as a<<24 | r<<16 | g<<8 | b.
func (p Point) PackedRGBA() uint32 {
	return uint32(p.Color.A)<<24 | p.PackedRGB()
}

// PackRGB packs three channels into the 24 bit representation used by PCD files.
func PackRGB(r, g, b uint8) uint32 {
	return uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}

// UnpackRGB is the inverse of PackRGB. The returned color is opaque.
func UnpackRGB(rgb uint32) color.NRGBA {
	return color.NRGBA{
		R: uint8(0xFF & (rgb >> 16)),
		G: uint8(0xFF & (rgb >> 8)),
		B: uint8(0xFF & rgb),
		A: 255,
	}
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
