package transform

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func testIntrinsics() *PinholeCameraIntrinsics {
	return &PinholeCameraIntrinsics{Width: 640, Height: 480, Fx: 525, Fy: 525, Ppx: 320, Ppy: 240}
}

func TestCheckValid(t *testing.T) {
	var nilIntrinsics *PinholeCameraIntrinsics
	err := nilIntrinsics.CheckValid()
	test.That(t, errors.Is(err, ErrNoIntrinsics), test.ShouldBeTrue)

	test.That(t, testIntrinsics().CheckValid(), test.ShouldBeNil)

	for _, broken := range []func(p *PinholeCameraIntrinsics){
		func(p *PinholeCameraIntrinsics) { p.Width = 0 },
		func(p *PinholeCameraIntrinsics) { p.Height = -1 },
		func(p *PinholeCameraIntrinsics) { p.Fx = 0 },
		func(p *PinholeCameraIntrinsics) { p.Fy = -2 },
		func(p *PinholeCameraIntrinsics) { p.Ppx = -1 },
		func(p *PinholeCameraIntrinsics) { p.Ppy = -1 },
	} {
		p := testIntrinsics()
		broken(p)
		err := p.CheckValid()
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, errors.Is(err, ErrNoIntrinsics), test.ShouldBeTrue)
	}
}

func TestCheckDimensions(t *testing.T) {
	p := testIntrinsics()
	test.That(t, p.CheckDimensions(640, 480), test.ShouldBeNil)
	err := p.CheckDimensions(480, 640)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "Image(480,640) != Intrinsics(640,480)")
}

func TestPixelToPoint(t *testing.T) {
	p := testIntrinsics()
	x, y, z := p.PixelToPoint(10, 20, 2.0)
	test.That(t, x, test.ShouldAlmostEqual, -1.180952380952381)
	test.That(t, y, test.ShouldAlmostEqual, -0.8380952380952381)
	test.That(t, z, test.ShouldEqual, 2.0)

	vec := p.PixelToVector(10, 20, 2.0)
	test.That(t, vec.X, test.ShouldEqual, x)
	test.That(t, vec.Y, test.ShouldEqual, y)
	test.That(t, vec.Z, test.ShouldEqual, 2.0)

	var nilIntrinsics *PinholeCameraIntrinsics
	x, y, z = nilIntrinsics.PixelToPoint(1, 2, 3)
	test.That(t, []float64{x, y, z}, test.ShouldResemble, []float64{0, 0, 0})
}

func TestIntrinsicsFromJSONFile(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "intrinsics.json")
	test.That(t, os.WriteFile(good,
		[]byte(`{"width_px": 640, "height_px": 480, "fx": 525, "fy": 525, "ppx": 320, "ppy": 240}`), 0o600), test.ShouldBeNil)
	p, err := NewPinholeCameraIntrinsicsFromJSONFile(good)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p, test.ShouldResemble, testIntrinsics())

	lenient := filepath.Join(dir, "lenient.json")
	test.That(t, os.WriteFile(lenient, []byte(`{
		// calibrated 2024-01-05
		width_px: 640, height_px: 480, fx: 525, fy: 525, ppx: 320, ppy: 240,
	}`), 0o600), test.ShouldBeNil)
	p, err = NewPinholeCameraIntrinsicsFromJSONFile(lenient)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p, test.ShouldResemble, testIntrinsics())

	invalid := filepath.Join(dir, "invalid.json")
	test.That(t, os.WriteFile(invalid, []byte(`{"width_px": 640}`), 0o600), test.ShouldBeNil)
	_, err = NewPinholeCameraIntrinsicsFromJSONFile(invalid)
	test.That(t, errors.Is(err, ErrNoIntrinsics), test.ShouldBeTrue)

	garbage := filepath.Join(dir, "garbage.json")
	test.That(t, os.WriteFile(garbage, []byte(`{`), 0o600), test.ShouldBeNil)
	_, err = NewPinholeCameraIntrinsicsFromJSONFile(garbage)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "error parsing intrinsics")

	_, err = NewPinholeCameraIntrinsicsFromJSONFile(filepath.Join(dir, "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = ReadPinholeCameraIntrinsics(strings.NewReader(`{"width_px": 4, "height_px": 3, "fx": 1, "fy": 1}`))
	test.That(t, err, test.ShouldBeNil)
}
