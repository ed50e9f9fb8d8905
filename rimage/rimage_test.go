package rimage

import (
	"bufio"
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/lmittmann/ppm"
	"go.viam.com/test"
	"golang.org/x/image/tiff"
)

func TestDepthMapBasics(t *testing.T) {
	dm := NewEmptyDepthMap(3, 2)
	test.That(t, dm.Bounds(), test.ShouldResemble, image.Rect(0, 0, 3, 2))
	dm.Set(2, 1, 2000)
	dm.Set(0, 0, 10)
	test.That(t, dm.GetDepth(2, 1), test.ShouldEqual, Depth(2000))
	test.That(t, dm.At(2, 1), test.ShouldResemble, color.Gray16{2000})

	min, max := dm.MinMax()
	test.That(t, min, test.ShouldEqual, Depth(10))
	test.That(t, max, test.ShouldEqual, Depth(2000))
}

func TestDepthMapRawRoundTrip(t *testing.T) {
	dm := NewEmptyDepthMap(4, 3)
	dm.Set(1, 2, 1234)
	dm.Set(3, 0, MaxDepth)

	var buf bytes.Buffer
	test.That(t, dm.WriteRawDepthMapTo(&buf), test.ShouldBeNil)
	read, err := ReadDepthMap(bufio.NewReader(&buf))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, read, test.ShouldResemble, dm)

	dir := t.TempDir()
	for _, name := range []string{"depth.dat", "depth.dat.gz"} {
		fn := filepath.Join(dir, name)
		test.That(t, dm.WriteToFile(fn), test.ShouldBeNil)
		read, err := NewDepthMapFromFile(fn)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, read, test.ShouldResemble, dm)
	}
}

func TestReadDepthMapBadHeader(t *testing.T) {
	var buf bytes.Buffer
	test.That(t, writeDimensions(&buf, 0, 5), test.ShouldBeNil)
	_, err := ReadDepthMap(bufio.NewReader(&buf))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "bad width or height")

	buf.Reset()
	test.That(t, writeDimensions(&buf, 2, 2), test.ShouldBeNil)
	buf.Write([]byte{1, 0})
	_, err = ReadDepthMap(bufio.NewReader(&buf))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestDepthMapFromImageFiles(t *testing.T) {
	gray := image.NewGray16(image.Rect(0, 0, 5, 4))
	gray.SetGray16(4, 3, color.Gray16{Y: 2000})
	gray.SetGray16(0, 1, color.Gray16{Y: 65535})

	dir := t.TempDir()
	pngPath := filepath.Join(dir, "depth.png")
	f, err := os.Create(pngPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, png.Encode(f, gray), test.ShouldBeNil)
	test.That(t, f.Close(), test.ShouldBeNil)

	tiffPath := filepath.Join(dir, "depth.tiff")
	f, err = os.Create(tiffPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tiff.Encode(f, gray, nil), test.ShouldBeNil)
	test.That(t, f.Close(), test.ShouldBeNil)

	for _, fn := range []string{pngPath, tiffPath} {
		dm, err := NewDepthMapFromFile(fn)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, dm.Width(), test.ShouldEqual, 5)
		test.That(t, dm.Height(), test.ShouldEqual, 4)
		test.That(t, dm.GetDepth(4, 3), test.ShouldEqual, Depth(2000))
		test.That(t, dm.GetDepth(0, 1), test.ShouldEqual, MaxDepth)
		test.That(t, dm.GetDepth(1, 1), test.ShouldEqual, Depth(0))
	}

	_, err = ConvertImageToDepthMap(image.NewRGBA(image.Rect(0, 0, 1, 1)))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewDepthMapFromFile(filepath.Join(dir, "missing.png"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestXYZMapValidity(t *testing.T) {
	test.That(t, Vec3f{0, 0, 1.5}.IsValid(), test.ShouldBeTrue)
	test.That(t, Vec3f{0, 0, -3}.IsValid(), test.ShouldBeTrue)
	test.That(t, Vec3f{0, 0, MissingZ}.IsValid(), test.ShouldBeFalse)
	test.That(t, Vec3f{0, 0, 2 * MissingZ}.IsValid(), test.ShouldBeFalse)
	test.That(t, Vec3f{0, 0, -2 * MissingZ}.IsValid(), test.ShouldBeFalse)
	test.That(t, Vec3f{0, 0, 9999}.IsValid(), test.ShouldBeTrue)

	m := NewXYZMap(2, 2)
	test.That(t, m.At(1, 1).IsValid(), test.ShouldBeFalse)
	m.Set(1, 0, Vec3f{0.1, 0.2, 0.3})
	test.That(t, m.At(1, 0), test.ShouldResemble, Vec3f{0.1, 0.2, 0.3})
}

func TestXYZMapRoundTrip(t *testing.T) {
	m := NewXYZMap(3, 2)
	m.Set(0, 0, Vec3f{-0.5, 0.25, 1.75})
	m.Set(2, 1, Vec3f{1, 2, 3})

	var buf bytes.Buffer
	test.That(t, m.WriteXYZMapTo(&buf), test.ShouldBeNil)
	read, err := ReadXYZMap(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, read, test.ShouldResemble, m)

	fn := filepath.Join(t.TempDir(), "points.xyz.gz")
	test.That(t, m.WriteToFile(fn), test.ShouldBeNil)
	read, err = NewXYZMapFromFile(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, read, test.ShouldResemble, m)

	_, err = NewXYZMapFromFile("points.bin")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestBGRImage(t *testing.T) {
	img := NewBGRImage(2, 2)
	img.SetBGR(1, 1, 10, 20, 30)
	row := img.Row(1)
	test.That(t, len(row), test.ShouldEqual, 6)
	test.That(t, row[3:6], test.ShouldResemble, []uint8{10, 20, 30})
	test.That(t, img.At(1, 1), test.ShouldResemble, color.RGBA{R: 30, G: 20, B: 10, A: 255})

	rgba := image.NewRGBA(image.Rect(0, 0, 2, 1))
	rgba.Set(0, 0, color.RGBA{R: 30, G: 20, B: 10, A: 255})
	converted := NewBGRImageFromImage(rgba)
	b, g, r := converted.BGR(0, 0)
	test.That(t, []uint8{b, g, r}, test.ShouldResemble, []uint8{10, 20, 30})
	test.That(t, NewBGRImageFromImage(img), test.ShouldEqual, img)
}

func TestColorAndMaskFiles(t *testing.T) {
	rgba := image.NewRGBA(image.Rect(0, 0, 3, 1))
	rgba.Set(2, 0, color.RGBA{R: 30, G: 20, B: 10, A: 255})
	rgba.Set(1, 0, color.RGBA{R: 255, G: 255, B: 255, A: 255})

	fn := filepath.Join(t.TempDir(), "color.ppm")
	f, err := os.Create(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ppm.Encode(f, rgba), test.ShouldBeNil)
	test.That(t, f.Close(), test.ShouldBeNil)

	bgr, err := NewBGRImageFromFile(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, bgr.Row(0)[6:9], test.ShouldResemble, []uint8{10, 20, 30})

	mask, err := NewMaskFromFile(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mask.Includes(0, 0), test.ShouldBeFalse)
	test.That(t, mask.Includes(1, 0), test.ShouldBeTrue)
	test.That(t, mask.Includes(2, 0), test.ShouldBeTrue)

	_, err = NewMaskFromFile(filepath.Join(t.TempDir(), "nothing.png"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestMask(t *testing.T) {
	m := NewMask(2, 3)
	test.That(t, m.Includes(1, 2), test.ShouldBeTrue)
	m.Set(1, 2, 0)
	test.That(t, m.Includes(1, 2), test.ShouldBeFalse)
	test.That(t, m.Value(0, 0), test.ShouldEqual, float32(1))
	test.That(t, m.Bounds(), test.ShouldResemble, image.Rect(0, 0, 2, 3))
}
