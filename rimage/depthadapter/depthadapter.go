// Package depthadapter turns depth maps and XYZ maps into point clouds.
//
// Depth maps are back-projected through pinhole intrinsics into an organized cloud that
// keeps one entry per pixel; XYZ maps already hold camera frame points and are copied
// into an unorganized cloud holding only the valid ones. Both optionally gate pixels by a
// mask and copy color from a BGR image.
package depthadapter

import (
	"fmt"

	"github.com/pkg/errors"

	"go.viam.com/depthcloud/logging"
	"go.viam.com/depthcloud/pointcloud"
	"go.viam.com/depthcloud/rimage"
	"go.viam.com/depthcloud/rimage/transform"
)

// ErrDimensionMismatch is returned when the inputs of a conversion do not describe the
// same image size.
var ErrDimensionMismatch = errors.New("dimension mismatch")

// mmToMeters converts the millimetre depths of a depth map to metres.
const mmToMeters = 0.001

// Options select the optional inputs of a conversion.
type Options struct {
	// Mask excludes every pixel whose weight is zero.
	Mask *rimage.Mask
	// Color produces an XYZRGB cloud when set.
	Color *rimage.BGRImage
	// RemoveInvalid compacts the result into an unorganized cloud of valid points.
	RemoveInvalid bool
}

func (opts Options) pointType() pointcloud.PointType {
	if opts.Color != nil {
		return pointcloud.XYZRGB
	}
	return pointcloud.XYZ
}

func (opts Options) checkDimensions(width, height int) error {
	if opts.Mask != nil && (opts.Mask.Width() != width || opts.Mask.Height() != height) {
		return newDimensionMismatchError("mask", opts.Mask.Width(), opts.Mask.Height(), width, height)
	}
	if opts.Color != nil && (opts.Color.Width() != width || opts.Color.Height() != height) {
		return newDimensionMismatchError("color", opts.Color.Width(), opts.Color.Height(), width, height)
	}
	return nil
}

func newDimensionMismatchError(what string, gotW, gotH, wantW, wantH int) error {
	return errors.Wrap(ErrDimensionMismatch, fmt.Sprintf("%s is %dx%d but source is %dx%d", what, gotW, gotH, wantW, wantH))
}

// DepthToCloud back-projects every pixel of dm. Pixels with no depth or a zero mask keep
// their slot as an invalid point. The returned cloud is organized with the size of the
// depth map unless opts.RemoveInvalid is set.
func DepthToCloud(dm *rimage.DepthMap, intrinsics *transform.PinholeCameraIntrinsics, opts Options) (*pointcloud.Cloud, error) {
	if dm == nil {
		return nil, errors.New("no depth map to convert")
	}
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	width, height := dm.Width(), dm.Height()
	if err := intrinsics.CheckDimensions(width, height); err != nil {
		return nil, errors.Wrap(ErrDimensionMismatch, err.Error())
	}
	if err := opts.checkDimensions(width, height); err != nil {
		return nil, err
	}

	cloud := pointcloud.NewOrganized(opts.pointType(), width, height)
	for v := 0; v < height; v++ {
		for u := 0; u < width; u++ {
			d := dm.GetDepth(u, v)
			if d == 0 || (opts.Mask != nil && !opts.Mask.Includes(u, v)) {
				continue
			}
			pt := pointcloud.Point{Position: intrinsics.PixelToVector(float64(u), float64(v), float64(d)*mmToMeters)}
			if opts.Color != nil {
				b, g, r := opts.Color.BGR(u, v)
				pt = pointcloud.NewColoredPoint(pt.Position, r, g, b)
			}
			cloud.Points[v*width+u] = pt
		}
	}

	if opts.RemoveInvalid {
		cloud.IsDense = false
		cloud, _ = pointcloud.RemoveNaN(cloud)
	}
	return cloud, nil
}

// XYZMapToCloud appends every valid, unmasked pixel of xyz to an unorganized cloud in row
// major order. A failure during the scan is logged and the points gathered until then are
// returned.
func XYZMapToCloud(xyz *rimage.XYZMap, opts Options, logger logging.Logger) (*pointcloud.Cloud, error) {
	if xyz == nil {
		return nil, errors.New("no xyz map to convert")
	}
	width, height := xyz.Width(), xyz.Height()
	if err := opts.checkDimensions(width, height); err != nil {
		return nil, err
	}

	cloud := pointcloud.NewUnorganized(opts.pointType(), 0)
	scanXYZMap(xyz, opts, cloud, logger)

	if opts.RemoveInvalid {
		cloud.IsDense = false
		cloud, _ = pointcloud.RemoveNaN(cloud)
	}
	return cloud, nil
}

func scanXYZMap(xyz *rimage.XYZMap, opts Options, cloud *pointcloud.Cloud, logger logging.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorw("xyz map scan failed, keeping partial cloud", "error", r, "points", cloud.Size())
		}
	}()

	for y := 0; y < xyz.Height(); y++ {
		var row []uint8
		if opts.Color != nil {
			row = opts.Color.Row(y)
		}
		for x := 0; x < xyz.Width(); x++ {
			if opts.Mask != nil && !opts.Mask.Includes(x, y) {
				continue
			}
			p := xyz.At(x, y)
			if !p.IsValid() {
				continue
			}
			pt := pointcloud.Point{Position: pointcloud.NewVector(float64(p[0]), float64(p[1]), float64(p[2]))}
			if row != nil {
				pt.Color = pointcloud.UnpackRGB(pointcloud.PackRGB(row[3*x+2], row[3*x+1], row[3*x]))
			}
			cloud.Append(pt)
		}
	}
}
