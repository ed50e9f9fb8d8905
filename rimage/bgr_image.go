package rimage

import (
	"image"
	"image/color"
)

// BGRImage is an 8 bit, 3 channel image stored blue, green, red per pixel. It is the
// layout color cameras hand to the converters.
type BGRImage struct {
	width  int
	height int

	// Pix holds the pixels row by row, 3 bytes each.
	Pix []uint8
}

// NewBGRImage returns a black image of the given size.
func NewBGRImage(width, height int) *BGRImage {
	return &BGRImage{width: width, height: height, Pix: make([]uint8, 3*width*height)}
}

// NewBGRImageFromImage converts any image into BGR layout.
func NewBGRImageFromImage(img image.Image) *BGRImage {
	if bgr, ok := img.(*BGRImage); ok {
		return bgr
	}
	bounds := img.Bounds()
	out := NewBGRImage(bounds.Dx(), bounds.Dy())
	for y := 0; y < out.height; y++ {
		for x := 0; x < out.width; x++ {
			c := color.NRGBAModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
			out.SetBGR(x, y, c.B, c.G, c.R)
		}
	}
	return out
}

// Width returns the number of columns.
func (i *BGRImage) Width() int {
	return i.width
}

// Height returns the number of rows.
func (i *BGRImage) Height() int {
	return i.height
}

// Bounds returns the rectangle dimensions of the image.
func (i *BGRImage) Bounds() image.Rectangle {
	return image.Rect(0, 0, i.width, i.height)
}

// ColorModel returns the color model of the image.
func (i *BGRImage) ColorModel() color.Model {
	return color.RGBAModel
}

// At returns the color at (x, y).
func (i *BGRImage) At(x, y int) color.Color {
	b, g, r := i.BGR(x, y)
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// Row returns the bytes of row y: blue, green, red for every pixel.
func (i *BGRImage) Row(y int) []uint8 {
	return i.Pix[3*y*i.width : 3*(y+1)*i.width]
}

// BGR returns the channels of the pixel at (x, y).
func (i *BGRImage) BGR(x, y int) (uint8, uint8, uint8) {
	k := 3 * (y*i.width + x)
	return i.Pix[k], i.Pix[k+1], i.Pix[k+2]
}

// SetBGR sets the channels of the pixel at (x, y).
func (i *BGRImage) SetBGR(x, y int, b, g, r uint8) {
	k := 3 * (y*i.width + x)
	i.Pix[k], i.Pix[k+1], i.Pix[k+2] = b, g, r
}
