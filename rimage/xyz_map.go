package rimage

import (
	"bufio"
	"encoding/binary"
	"image"
	"io"
	"math"

	"github.com/pkg/errors"
)

// MissingZ is the z value an XYZ map uses for pixels without a measurement.
const MissingZ = 1.0e4

// float32Epsilon is the difference between 1 and the next representable float32.
const float32Epsilon = 1.1920929e-07

// Vec3f is a point in camera frame metres.
type Vec3f [3]float32

// IsValid returns false for the missing value sentinel and anything further than it.
func (v Vec3f) IsValid() bool {
	z := float64(v[2])
	return !(math.Abs(z-MissingZ) < float32Epsilon || math.Abs(z) > MissingZ)
}

// XYZMap is a row major grid of pre-projected points.
type XYZMap struct {
	width  int
	height int

	data []Vec3f
}

// NewXYZMap returns a map of the given size with every pixel set to the missing sentinel.
func NewXYZMap(width, height int) *XYZMap {
	data := make([]Vec3f, width*height)
	for i := range data {
		data[i] = Vec3f{0, 0, MissingZ}
	}
	return &XYZMap{width: width, height: height, data: data}
}

// Width returns the number of columns.
func (m *XYZMap) Width() int {
	return m.width
}

// Height returns the number of rows.
func (m *XYZMap) Height() int {
	return m.height
}

// Bounds returns the rectangle dimensions of the map.
func (m *XYZMap) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.width, m.height)
}

// At returns the point at (x, y).
func (m *XYZMap) At(x, y int) Vec3f {
	return m.data[y*m.width+x]
}

// Set sets the point at (x, y).
func (m *XYZMap) Set(x, y int, v Vec3f) {
	m.data[y*m.width+x] = v
}

// ReadXYZMap reads little endian int64 width and height followed by width*height
// little endian float32 triples in row major order.
func ReadXYZMap(r io.Reader) (*XYZMap, error) {
	width, height, err := readDimensions(r)
	if err != nil {
		return nil, err
	}
	m := &XYZMap{width: width, height: height, data: make([]Vec3f, width*height)}
	if err := binary.Read(r, binary.LittleEndian, m.data); err != nil {
		return nil, errors.Wrap(err, "reading xyz data")
	}
	return m, nil
}

// NewXYZMapFromFile reads a map written by WriteToFile (.xyz, optionally .xyz.gz).
func NewXYZMapFromFile(fn string) (*XYZMap, error) {
	if !isRawFile(fn, ".xyz") {
		return nil, errors.Errorf("do not know how to read xyz map %q", fn)
	}
	var m *XYZMap
	err := readRawFile(fn, func(r *bufio.Reader) error {
		var err error
		m, err = ReadXYZMap(r)
		return err
	})
	return m, err
}

// WriteXYZMapTo writes the map in the format read by ReadXYZMap.
func (m *XYZMap) WriteXYZMapTo(out io.Writer) error {
	if err := writeDimensions(out, m.width, m.height); err != nil {
		return err
	}
	return binary.Write(out, binary.LittleEndian, m.data)
}

// WriteToFile writes the raw format, gzipped when the name ends in .gz.
func (m *XYZMap) WriteToFile(fn string) error {
	return writeRawFile(fn, m.WriteXYZMapTo)
}
