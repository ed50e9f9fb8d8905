// Package spatialmath defines rigid transforms (poses) used to register point clouds.
package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// Pose is a rigid transform: a unit quaternion rotation followed by a translation.
type Pose struct {
	point       r3.Vector
	orientation quat.Number
}

// NewZeroPose returns the identity transform.
func NewZeroPose() Pose {
	return Pose{orientation: quat.Number{Real: 1}}
}

// NewPose returns a pose from a translation and a rotation. The rotation is normalized.
func NewPose(point r3.Vector, orientation quat.Number) Pose {
	return Pose{point: point, orientation: Normalize(orientation)}
}

// NewPoseFromPoint returns a pose that only translates.
func NewPoseFromPoint(point r3.Vector) Pose {
	return NewPose(point, quat.Number{Real: 1})
}

// NewPoseFromRotationMatrix returns a pose from a rotation matrix and translation.
func NewPoseFromRotationMatrix(point r3.Vector, rm *RotationMatrix) Pose {
	return NewPose(point, rm.Quaternion())
}

// NewPoseFromHomogMatrix converts a 4x4 homogeneous transformation matrix into a pose.
func NewPoseFromHomogMatrix(m mat.Matrix) (Pose, error) {
	if m == nil {
		return Pose{}, errors.New("homogeneous matrix is nil")
	}
	r, c := m.Dims()
	if r != 4 || c != 4 {
		return Pose{}, errors.Errorf("homogeneous matrix must be 4x4, got %dx%d", r, c)
	}
	const eps = 1e-9
	if math.Abs(m.At(3, 0)) > eps || math.Abs(m.At(3, 1)) > eps ||
		math.Abs(m.At(3, 2)) > eps || math.Abs(m.At(3, 3)-1) > eps {
		return Pose{}, errors.Errorf("last row of homogeneous matrix must be [0 0 0 1], got [%v %v %v %v]",
			m.At(3, 0), m.At(3, 1), m.At(3, 2), m.At(3, 3))
	}
	rm, err := NewRotationMatrixFromDense(m)
	if err != nil {
		return Pose{}, err
	}
	if err := rm.CheckProper(); err != nil {
		return Pose{}, errors.Wrap(err, "invalid homogeneous matrix")
	}
	return NewPoseFromRotationMatrix(r3.Vector{X: m.At(0, 3), Y: m.At(1, 3), Z: m.At(2, 3)}, rm), nil
}

// Point returns the translation of the pose.
func (p Pose) Point() r3.Vector {
	return p.point
}

// Orientation returns the rotation of the pose as a unit quaternion.
func (p Pose) Orientation() quat.Number {
	if p.orientation == (quat.Number{}) {
		return quat.Number{Real: 1}
	}
	return p.orientation
}

// RotationMatrix returns the rotation of the pose as a matrix.
func (p Pose) RotationMatrix() *RotationMatrix {
	return QuatToRotationMatrix(p.Orientation())
}

// TransformPoint rotates then translates the given point.
func (p Pose) TransformPoint(v r3.Vector) r3.Vector {
	return p.RotationMatrix().Mul(v).Add(p.point)
}

// Invert returns the inverse transform.
func (p Pose) Invert() Pose {
	inv := quat.Conj(p.Orientation())
	rm := QuatToRotationMatrix(inv)
	return Pose{point: rm.Mul(p.point).Mul(-1), orientation: inv}
}

// HomogMatrix returns the pose as a 4x4 homogeneous transformation matrix.
func (p Pose) HomogMatrix() *mat.Dense {
	rm := p.RotationMatrix()
	m := mat.NewDense(4, 4, nil)
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			m.Set(row, col, rm.At(row, col))
		}
	}
	m.Set(0, 3, p.point.X)
	m.Set(1, 3, p.point.Y)
	m.Set(2, 3, p.point.Z)
	m.Set(3, 3, 1)
	return m
}

// Compose returns the transform that applies b first and then a.
func Compose(a, b Pose) Pose {
	return Pose{
		point:       a.RotationMatrix().Mul(b.point).Add(a.point),
		orientation: Normalize(quat.Mul(a.Orientation(), b.Orientation())),
	}
}

// R3VectorAlmostEqual compares two r3.Vector objects and returns if the all elementwise differences are less than epsilon.
func R3VectorAlmostEqual(a, b r3.Vector, epsilon float64) bool {
	return math.Abs(a.X-b.X) < epsilon && math.Abs(a.Y-b.Y) < epsilon && math.Abs(a.Z-b.Z) < epsilon
}

// QuaternionAlmostEqual is an equality test for two quaternions that treats q and -q as the same rotation.
func QuaternionAlmostEqual(a, b quat.Number, tol float64) bool {
	a, b = Normalize(a), Normalize(b)
	return 1-math.Abs(a.Real*b.Real+a.Imag*b.Imag+a.Jmag*b.Jmag+a.Kmag*b.Kmag) < tol
}

// PoseAlmostEqual determines if two poses are equal within the given tolerances.
func PoseAlmostEqual(a, b Pose, translationEps, rotationEps float64) bool {
	return R3VectorAlmostEqual(a.Point(), b.Point(), translationEps) &&
		QuaternionAlmostEqual(a.Orientation(), b.Orientation(), rotationEps)
}
