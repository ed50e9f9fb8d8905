package pointcloud

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// kdPoint is a valid cloud point indexed by its position in the source cloud.
type kdPoint struct {
	r3.Vector
	index int
}

func (p kdPoint) at(d kdtree.Dim) float64 {
	switch d {
	case 0:
		return p.X
	case 1:
		return p.Y
	default:
		return p.Z
	}
}

func (p kdPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return p.at(d) - c.(kdPoint).at(d)
}

func (p kdPoint) Dims() int { return 3 }

// Distance returns the squared euclidean distance.
func (p kdPoint) Distance(c kdtree.Comparable) float64 {
	return p.Sub(c.(kdPoint).Vector).Norm2()
}

type kdPoints []kdPoint

func (p kdPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p kdPoints) Len() int                              { return len(p) }
func (p kdPoints) Pivot(d kdtree.Dim) int                { return kdPlane{points: p, dim: d}.Pivot() }
func (p kdPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

const kdRandoms = 100

type kdPlane struct {
	points kdPoints
	dim    kdtree.Dim
}

func (p kdPlane) Len() int           { return len(p.points) }
func (p kdPlane) Less(i, j int) bool { return p.points[i].at(p.dim) < p.points[j].at(p.dim) }
func (p kdPlane) Swap(i, j int)      { p.points[i], p.points[j] = p.points[j], p.points[i] }
func (p kdPlane) Pivot() int         { return kdtree.Partition(p, kdtree.MedianOfRandoms(p, kdRandoms)) }
func (p kdPlane) Slice(start, end int) kdtree.SortSlicer {
	p.points = p.points[start:end]
	return p
}

// Neighbor is the result of a nearest neighbor query.
type Neighbor struct {
	Point Point
	// Index is the position of the point in the cloud the tree was built from.
	Index    int
	Distance float64
}

// KDTree answers nearest neighbor queries over the valid points of a cloud.
type KDTree struct {
	cloud *Cloud
	tree  *kdtree.Tree
}

// ToKDTree builds a KDTree from the valid points of the cloud. The cloud must not be
// modified while the tree is in use.
func ToKDTree(cloud *Cloud) *KDTree {
	points := make(kdPoints, 0, cloud.Size())
	for i, p := range cloud.Points {
		if p.IsValid() {
			points = append(points, kdPoint{Vector: p.Position, index: i})
		}
	}
	return &KDTree{cloud: cloud, tree: kdtree.New(points, false)}
}

// Size returns the number of points in the tree.
func (kd *KDTree) Size() int {
	return kd.tree.Len()
}

// Cloud returns the cloud the tree was built from.
func (kd *KDTree) Cloud() *Cloud {
	return kd.cloud
}

// NearestNeighbor returns the closest point to p. The bool is false for an empty tree.
func (kd *KDTree) NearestNeighbor(p r3.Vector) (Neighbor, bool) {
	c, dist := kd.tree.Nearest(kdPoint{Vector: p})
	if c == nil {
		return Neighbor{}, false
	}
	return kd.neighbor(c, dist), true
}

// KNearestNeighbors returns up to k points closest to p, nearest first. When includeSelf
// is false, points exactly at p are left out.
func (kd *KDTree) KNearestNeighbors(p r3.Vector, k int, includeSelf bool) []Neighbor {
	if k <= 0 {
		return nil
	}
	want := k
	if !includeSelf {
		want++
	}
	keeper := kdtree.NewNKeeper(want)
	kd.tree.NearestSet(keeper, kdPoint{Vector: p})

	out := make([]Neighbor, 0, len(keeper.Heap))
	for _, c := range keeper.Heap {
		if c.Comparable == nil {
			continue
		}
		if !includeSelf && c.Dist == 0 {
			continue
		}
		out = append(out, kd.neighbor(c.Comparable, c.Dist))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if len(out) > k {
		out = out[:k]
	}
	return out
}

func (kd *KDTree) neighbor(c kdtree.Comparable, squared float64) Neighbor {
	kp := c.(kdPoint)
	return Neighbor{
		Point:    kd.cloud.Points[kp.index],
		Index:    kp.index,
		Distance: math.Sqrt(squared),
	}
}
