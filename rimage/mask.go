package rimage

import (
	"image"
	"image/color"
)

// Mask is a row major grid of weights. Pixels with a zero weight are excluded.
type Mask struct {
	width  int
	height int

	data []float32
}

// NewMask returns a mask of the given size that includes every pixel.
func NewMask(width, height int) *Mask {
	data := make([]float32, width*height)
	for i := range data {
		data[i] = 1
	}
	return &Mask{width: width, height: height, data: data}
}

// NewMaskFromImage uses the gray level of each pixel as its weight.
func NewMaskFromImage(img image.Image) *Mask {
	bounds := img.Bounds()
	m := &Mask{width: bounds.Dx(), height: bounds.Dy(), data: make([]float32, bounds.Dx()*bounds.Dy())}
	for y := 0; y < m.height; y++ {
		for x := 0; x < m.width; x++ {
			g := color.Gray16Model.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray16)
			m.Set(x, y, float32(g.Y))
		}
	}
	return m
}

// Width returns the number of columns.
func (m *Mask) Width() int {
	return m.width
}

// Height returns the number of rows.
func (m *Mask) Height() int {
	return m.height
}

// Bounds returns the rectangle dimensions of the mask.
func (m *Mask) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.width, m.height)
}

// Value returns the weight at (x, y).
func (m *Mask) Value(x, y int) float32 {
	return m.data[y*m.width+x]
}

// Includes returns whether the pixel at (x, y) has a nonzero weight.
func (m *Mask) Includes(x, y int) bool {
	return m.Value(x, y) != 0
}

// Set sets the weight at (x, y).
func (m *Mask) Set(x, y int, v float32) {
	m.data[y*m.width+x] = v
}
