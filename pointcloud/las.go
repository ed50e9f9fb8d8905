package pointcloud

import (
	"github.com/edaniels/lidario"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// NewFromLASFile returns an unorganized cloud read from a LAS file. Point format 2 files
// produce a colored cloud.
func NewFromLASFile(fn string) (*Cloud, error) {
	lf, err := lidario.NewLasFile(fn, "r")
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(lf.Close)

	pt := XYZ
	if lf.Header.PointFormatID == 2 {
		pt = XYZRGB
	}
	cloud := NewUnorganized(pt, lf.Header.NumberPoints)
	for i := 0; i < lf.Header.NumberPoints; i++ {
		p, err := lf.LasPoint(i)
		if err != nil {
			return nil, err
		}
		data := p.PointData()
		point := Point{Position: NewVector(data.X, data.Y, data.Z)}
		if rgb := p.RgbData(); pt == XYZRGB && rgb != nil {
			point = NewColoredPoint(point.Position, uint8(rgb.Red/256), uint8(rgb.Green/256), uint8(rgb.Blue/256))
		}
		cloud.Append(point)
	}
	return cloud, nil
}

// WriteToLASFile writes the valid points of the cloud out to a LAS file.
func WriteToLASFile(cloud *Cloud, fn string) (err error) {
	lf, err := lidario.NewLasFile(fn, "w")
	if err != nil {
		return
	}
	defer func() {
		cerr := lf.Close()
		err = multierr.Combine(err, cerr)
	}()

	pointFormatID := 0
	if cloud.HasColor() {
		pointFormatID = 2
	}
	if err = lf.AddHeader(lidario.LasHeader{
		PointFormatID: byte(pointFormatID),
	}); err != nil {
		return
	}

	var lastErr error
	cloud.Iterate(func(_ int, p Point) bool {
		if !p.IsValid() {
			return true
		}
		var lp lidario.LasPointer
		pr0 := &lidario.PointRecord0{
			X: p.Position.X,
			Y: p.Position.Y,
			Z: p.Position.Z,
			BitField: lidario.PointBitField{
				Value: (1) | (1 << 3) | (0 << 6) | (0 << 7),
			},
			ClassBitField: lidario.ClassificationBitField{
				Value: 0,
			},
			PointSourceID: 1,
		}
		lp = pr0

		if cloud.HasColor() {
			r, g, b := p.RGB255()
			lp = &lidario.PointRecord2{
				PointRecord0: pr0,
				RGB: &lidario.RgbData{
					Red:   uint16(r) * 256,
					Green: uint16(g) * 256,
					Blue:  uint16(b) * 256,
				},
			}
		}
		if lerr := lf.AddLasPoint(lp); lerr != nil {
			lastErr = lerr
			return false
		}
		return true
	})
	if lastErr != nil {
		err = lastErr
	}
	return
}
