package pointcloud

import (
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/depthcloud/spatialmath"
)

func gridCloud(n int, spacing float64) *Cloud {
	pc := NewUnorganized(XYZ, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			pc.Append(Point{Position: NewVector(float64(i)*spacing, float64(j)*spacing, 1)})
		}
	}
	return pc
}

func randomCloud(seed int64, n int) *Cloud {
	rng := rand.New(rand.NewSource(seed))
	pc := NewUnorganized(XYZ, n)
	for i := 0; i < n; i++ {
		pc.Append(Point{Position: NewVector(rng.Float64()-0.5, rng.Float64()-0.5, rng.Float64()-0.5)})
	}
	return pc
}

func TestKDTree(t *testing.T) {
	pc := NewOrganized(XYZ, 2, 2)
	pc.Points[0] = Point{Position: NewVector(0, 0, 0)}
	pc.Points[1] = Point{Position: NewVector(1, 0, 0)}
	pc.Points[3] = Point{Position: NewVector(0, 3, 0)}
	kd := ToKDTree(pc)
	test.That(t, kd.Size(), test.ShouldEqual, 3)

	nb, ok := kd.NearestNeighbor(NewVector(0.9, 0.1, 0))
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, nb.Index, test.ShouldEqual, 1)
	test.That(t, nb.Distance, test.ShouldAlmostEqual, 0.1414213562373095)

	nbs := kd.KNearestNeighbors(NewVector(0, 0, 0), 2, true)
	test.That(t, len(nbs), test.ShouldEqual, 2)
	test.That(t, nbs[0].Index, test.ShouldEqual, 0)
	test.That(t, nbs[1].Index, test.ShouldEqual, 1)

	nbs = kd.KNearestNeighbors(NewVector(0, 0, 0), 2, false)
	test.That(t, len(nbs), test.ShouldEqual, 2)
	test.That(t, nbs[0].Index, test.ShouldEqual, 1)
	test.That(t, nbs[1].Index, test.ShouldEqual, 3)
	test.That(t, nbs[1].Distance, test.ShouldAlmostEqual, 3.)

	test.That(t, len(kd.KNearestNeighbors(NewVector(0, 0, 0), 10, true)), test.ShouldEqual, 3)

	empty := ToKDTree(NewOrganized(XYZ, 2, 2))
	_, ok = empty.NearestNeighbor(r3.Vector{})
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, empty.KNearestNeighbors(r3.Vector{}, 3, true), test.ShouldBeEmpty)
}

func TestStatisticalOutlierFilter(t *testing.T) {
	_, err := StatisticalOutlierFilter(0, 1.0, false)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = StatisticalOutlierFilter(4, 0, false)
	test.That(t, err, test.ShouldNotBeNil)

	pc := gridCloud(10, 0.01)
	pc.Append(Point{Position: NewVector(5, 5, 5)})
	pc.Append(InvalidPoint())

	filter, err := StatisticalOutlierFilter(4, 1.0, false)
	test.That(t, err, test.ShouldBeNil)
	inliers, err := filter(pc)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, inliers.Size(), test.ShouldEqual, 100)
	test.That(t, inliers.IsDense, test.ShouldBeTrue)
	for _, p := range inliers.Points {
		test.That(t, p.Position.X, test.ShouldBeLessThan, 1.)
	}

	filter, err = StatisticalOutlierFilter(4, 1.0, true)
	test.That(t, err, test.ShouldBeNil)
	outliers, err := filter(pc)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, outliers.Size(), test.ShouldEqual, 1)
	test.That(t, outliers.Points[0].Position, test.ShouldResemble, NewVector(5, 5, 5))

	single := NewUnorganized(XYZ, 1)
	single.Append(Point{Position: NewVector(1, 1, 1)})
	filtered, err := filter(single)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, filtered.Size(), test.ShouldEqual, 1)
}

func TestICPRegistration(t *testing.T) {
	target := randomCloud(7, 300)
	applied := spatialmath.NewPoseFromEulerAngles(
		r3.Vector{X: 0.01, Y: 0.02, Z: -0.01},
		&spatialmath.EulerAngles{Yaw: 0.05, Pitch: 0.02},
	)
	source := ApplyPose(target, applied.Invert())

	cfg := DefaultICPConfig()
	cfg.MaxIterations = 100
	cfg.MaxCorrespondenceDistance = 0.5
	registered, info, err := RegisterPointCloudICP(source, ToKDTree(target), spatialmath.NewZeroPose(), cfg)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.Converged, test.ShouldBeTrue)
	test.That(t, info.FitnessScore, test.ShouldBeLessThan, 1e-8)
	test.That(t, info.Correspondences, test.ShouldEqual, 300)
	test.That(t, spatialmath.PoseAlmostEqual(info.Pose, applied, 1e-4, 1e-4), test.ShouldBeTrue)

	for i, p := range registered.Points {
		test.That(t, spatialmath.R3VectorAlmostEqual(p.Position, target.Points[i].Position, 1e-4), test.ShouldBeTrue)
	}
}

func TestICPRegistrationErrors(t *testing.T) {
	target := ToKDTree(randomCloud(1, 50))

	_, _, err := RegisterPointCloudICP(randomCloud(2, 50), target, spatialmath.NewZeroPose(), ICPConfig{})
	test.That(t, err, test.ShouldNotBeNil)

	_, _, err = RegisterPointCloudICP(NewOrganized(XYZ, 3, 3), target, spatialmath.NewZeroPose(), DefaultICPConfig())
	test.That(t, err, test.ShouldNotBeNil)

	_, _, err = RegisterPointCloudICP(randomCloud(2, 50), ToKDTree(NewUnorganized(XYZ, 0)), spatialmath.NewZeroPose(), DefaultICPConfig())
	test.That(t, err, test.ShouldNotBeNil)

	far := ApplyPose(randomCloud(2, 50), spatialmath.NewPoseFromPoint(r3.Vector{X: 100}))
	_, _, err = RegisterPointCloudICP(far, target, spatialmath.NewZeroPose(), DefaultICPConfig())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "correspondences")
}

func TestApplyPoseKeepsInvalidSlots(t *testing.T) {
	pc := NewOrganized(XYZ, 2, 1)
	pc.Points[0] = Point{Position: NewVector(1, 0, 0)}
	moved := ApplyPose(pc, spatialmath.NewPoseFromPoint(r3.Vector{X: 1, Y: 2}))
	test.That(t, moved.Points[0].Position, test.ShouldResemble, NewVector(2, 2, 0))
	test.That(t, moved.Points[1].IsValid(), test.ShouldBeFalse)
	test.That(t, pc.Points[0].Position, test.ShouldResemble, NewVector(1, 0, 0))
}
