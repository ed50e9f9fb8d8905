// Package rimage holds the image types consumed by the point cloud converters: depth maps,
// pre-projected XYZ maps, BGR color images and masks, along with readers for the file
// formats they are stored in.
package rimage

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"image"
	"image/color"
	"io"
	"math"
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// Depth is the depth of a pixel in millimetres. Zero means no return.
type Depth uint16

// MaxDepth is the largest representable depth.
const MaxDepth = Depth(math.MaxUint16)

// DepthMap is a row major grid of depths. It implements image.Image as 16 bit grayscale.
type DepthMap struct {
	width  int
	height int

	data []Depth
}

// NewEmptyDepthMap returns a depth map of the given size with no returns.
func NewEmptyDepthMap(width, height int) *DepthMap {
	return &DepthMap{
		width:  width,
		height: height,
		data:   make([]Depth, width*height),
	}
}

// Width returns the number of columns.
func (dm *DepthMap) Width() int {
	return dm.width
}

// Height returns the number of rows.
func (dm *DepthMap) Height() int {
	return dm.height
}

// Bounds returns the rectangle dimensions of the depth map.
func (dm *DepthMap) Bounds() image.Rectangle {
	return image.Rect(0, 0, dm.width, dm.height)
}

// ColorModel returns the color model of the depth map when viewed as an image.
func (dm *DepthMap) ColorModel() color.Model {
	return color.Gray16Model
}

// At returns the depth at (x, y) as a gray value.
func (dm *DepthMap) At(x, y int) color.Color {
	return color.Gray16{uint16(dm.GetDepth(x, y))}
}

// GetDepth returns the depth at (x, y).
func (dm *DepthMap) GetDepth(x, y int) Depth {
	return dm.data[y*dm.width+x]
}

// Set sets the depth at (x, y).
func (dm *DepthMap) Set(x, y int, val Depth) {
	dm.data[y*dm.width+x] = val
}

// MinMax returns the smallest and largest non-zero depth.
func (dm *DepthMap) MinMax() (Depth, Depth) {
	min, max := MaxDepth, Depth(0)
	for _, z := range dm.data {
		if z == 0 {
			continue
		}
		if z < min {
			min = z
		}
		if z > max {
			max = z
		}
	}
	return min, max
}

// ConvertImageToDepthMap takes a 16 bit grayscale image (or a depth map) and converts it.
func ConvertImageToDepthMap(img image.Image) (*DepthMap, error) {
	switch ii := img.(type) {
	case *DepthMap:
		return ii, nil
	case *image.Gray16:
		bounds := ii.Bounds()
		dm := NewEmptyDepthMap(bounds.Dx(), bounds.Dy())
		for y := 0; y < dm.height; y++ {
			for x := 0; x < dm.width; x++ {
				dm.Set(x, y, Depth(ii.Gray16At(bounds.Min.X+x, bounds.Min.Y+y).Y))
			}
		}
		return dm, nil
	default:
		return nil, errors.Errorf("don't know how to make a DepthMap from %T", img)
	}
}

// NewDepthMapFromFile reads a depth map from a 16 bit png or tiff, or from the raw format
// written by WriteToFile (.dat, optionally .dat.gz).
func NewDepthMapFromFile(fn string) (*DepthMap, error) {
	if isRawFile(fn, ".dat") {
		var dm *DepthMap
		err := readRawFile(fn, func(r *bufio.Reader) error {
			var err error
			dm, err = ReadDepthMap(r)
			return err
		})
		return dm, err
	}
	img, err := ReadImageFromFile(fn)
	if err != nil {
		return nil, err
	}
	return ConvertImageToDepthMap(img)
}

const maxRawDimension = 100000

func readDimensions(r io.Reader) (int, int, error) {
	var header [2]int64
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return 0, 0, errors.Wrap(err, "reading dimensions")
	}
	width, height := int(header[0]), int(header[1])
	if width <= 0 || width >= maxRawDimension || height <= 0 || height >= maxRawDimension {
		return 0, 0, errors.Errorf("bad width or height %v %v", width, height)
	}
	return width, height, nil
}

func writeDimensions(w io.Writer, width, height int) error {
	return binary.Write(w, binary.LittleEndian, [2]int64{int64(width), int64(height)})
}

// ReadDepthMap reads the raw format: little endian int64 width and height followed by
// width*height little endian uint16 depths in row major order.
func ReadDepthMap(r *bufio.Reader) (*DepthMap, error) {
	width, height, err := readDimensions(r)
	if err != nil {
		return nil, err
	}
	dm := NewEmptyDepthMap(width, height)
	if err := binary.Read(r, binary.LittleEndian, dm.data); err != nil {
		return nil, errors.Wrap(err, "reading depth data")
	}
	return dm, nil
}

// WriteRawDepthMapTo writes the depth map in the format read by ReadDepthMap.
func (dm *DepthMap) WriteRawDepthMapTo(out io.Writer) error {
	if err := writeDimensions(out, dm.width, dm.height); err != nil {
		return err
	}
	return binary.Write(out, binary.LittleEndian, dm.data)
}

// WriteToFile writes the raw format, gzipped when the name ends in .gz.
func (dm *DepthMap) WriteToFile(fn string) error {
	return writeRawFile(fn, dm.WriteRawDepthMapTo)
}

func isRawFile(fn, ext string) bool {
	return strings.HasSuffix(fn, ext) || strings.HasSuffix(fn, ext+".gz")
}

func readRawFile(fn string, read func(r *bufio.Reader) error) error {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(f.Close)

	var in io.Reader = f
	if strings.HasSuffix(fn, ".gz") {
		gin, err := gzip.NewReader(f)
		if err != nil {
			return err
		}
		defer utils.UncheckedErrorFunc(gin.Close)
		in = gin
	}
	return read(bufio.NewReader(in))
}

func writeRawFile(fn string, write func(w io.Writer) error) (err error) {
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()

	out := bufio.NewWriter(f)
	if strings.HasSuffix(fn, ".gz") {
		gout := gzip.NewWriter(out)
		if err := write(gout); err != nil {
			return err
		}
		if err := gout.Close(); err != nil {
			return err
		}
	} else if err := write(out); err != nil {
		return err
	}
	return out.Flush()
}
