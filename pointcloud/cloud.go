// Package pointcloud defines the point cloud produced by the depth converters along with
// the filters, file formats and registration routines that operate on it.
//
// A cloud is either organized, keeping one entry per pixel of the image it was built from
// with NaN positions where no measurement exists, or unorganized, holding only valid
// points in insertion order.
package pointcloud

import (
	"github.com/pkg/errors"
)

// Cloud is an ordered collection of points.
type Cloud struct {
	Type   PointType
	Width  int
	Height int

	// IsDense is true when the cloud is known to contain no invalid points.
	IsDense bool
	// Organized is true when Points holds one entry per pixel of a Width×Height grid,
	// which may be a single row.
	Organized bool

	Points []Point
}

// NewOrganized returns a cloud pre-sized to width×height with every point invalid.
func NewOrganized(pt PointType, width, height int) *Cloud {
	points := make([]Point, width*height)
	for i := range points {
		points[i] = InvalidPoint()
	}
	return &Cloud{
		Type:      pt,
		Width:     width,
		Height:    height,
		Organized: true,
		Points:    points,
	}
}

// NewUnorganized returns an empty append-only cloud.
func NewUnorganized(pt PointType, capacity int) *Cloud {
	return &Cloud{
		Type:    pt,
		Width:   0,
		Height:  1,
		IsDense: true,
		Points:  make([]Point, 0, capacity),
	}
}

// Size returns the number of entries in the cloud, including invalid ones.
func (c *Cloud) Size() int {
	return len(c.Points)
}

// IsOrganized returns whether the cloud keeps a width×height grid structure.
func (c *Cloud) IsOrganized() bool {
	return c.Organized
}

// HasColor returns whether points of this cloud carry color.
func (c *Cloud) HasColor() bool {
	return c.Type == XYZRGB
}

// At returns a pointer to the entry at pixel (u, v). Unorganized clouds are a single row.
func (c *Cloud) At(u, v int) (*Point, error) {
	if u < 0 || v < 0 || u >= c.Width || v >= c.Height {
		return nil, errors.Errorf("(%d, %d) is outside of a %dx%d cloud", u, v, c.Width, c.Height)
	}
	return &c.Points[v*c.Width+u], nil
}

// Set stores p at pixel (u, v).
func (c *Cloud) Set(u, v int, p Point) error {
	dst, err := c.At(u, v)
	if err != nil {
		return err
	}
	*dst = p
	if !p.IsValid() {
		c.IsDense = false
	}
	return nil
}

// Append adds a point to the end of the cloud and flattens it to a single row.
func (c *Cloud) Append(p Point) {
	c.Points = append(c.Points, p)
	c.Width = len(c.Points)
	c.Height = 1
	c.Organized = false
	if !p.IsValid() {
		c.IsDense = false
	}
}

// ValidCount returns the number of points with finite coordinates.
func (c *Cloud) ValidCount() int {
	n := 0
	for _, p := range c.Points {
		if p.IsValid() {
			n++
		}
	}
	return n
}

// Iterate calls fn for every point in order until fn returns false.
func (c *Cloud) Iterate(fn func(i int, p Point) bool) {
	for i, p := range c.Points {
		if !fn(i, p) {
			return
		}
	}
}

// MetaData computes the metadata of the valid points in the cloud.
func (c *Cloud) MetaData() MetaData {
	meta := NewMetaData()
	meta.HasColor = c.HasColor()
	for _, p := range c.Points {
		if p.IsValid() {
			meta.Merge(p.Position)
		}
	}
	return meta
}

// Clone returns a deep copy of the cloud.
func (c *Cloud) Clone() *Cloud {
	out := *c
	out.Points = make([]Point, len(c.Points))
	for i, p := range c.Points {
		if p.Descriptor != nil {
			p.Descriptor = append([]float32(nil), p.Descriptor...)
		}
		out.Points[i] = p
	}
	return &out
}

// RemoveNaN returns an unorganized, dense copy of the cloud holding only its valid
// points, along with the index each kept point had in the input. Applying it to its own
// output yields an equal cloud.
func RemoveNaN(c *Cloud) (*Cloud, []int) {
	out := NewUnorganized(c.Type, c.ValidCount())
	indices := make([]int, 0, cap(out.Points))
	for i, p := range c.Points {
		if !p.IsValid() {
			continue
		}
		out.Points = append(out.Points, p)
		indices = append(indices, i)
	}
	out.Width = len(out.Points)
	return out, indices
}
