package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/depthcloud/spatialmath"
)

// ICPConfig tunes RegisterPointCloudICP. Distances are in metres.
type ICPConfig struct {
	MaxIterations int
	// MaxCorrespondenceDistance drops point pairs further apart than this. Zero keeps all pairs.
	MaxCorrespondenceDistance float64
	// TransformationEpsilon stops iterating once the squared change of the transform between
	// two iterations falls below it.
	TransformationEpsilon float64
	// FitnessEpsilon stops iterating once the mean squared pair distance changes less than it.
	FitnessEpsilon float64
}

// DefaultICPConfig returns the configuration used when none is given.
func DefaultICPConfig() ICPConfig {
	return ICPConfig{
		MaxIterations:             50,
		MaxCorrespondenceDistance: 0.05,
		TransformationEpsilon:     1e-10,
		FitnessEpsilon:            1e-12,
	}
}

// ICPResult describes the outcome of a registration.
type ICPResult struct {
	// Pose maps the source cloud onto the target cloud.
	Pose            spatialmath.Pose
	Iterations      int
	Converged       bool
	FitnessScore    float64 // mean squared distance between paired points
	Correspondences int
}

const minCorrespondences = 3

// RegisterPointCloudICP aligns source to the cloud behind target with point to point ICP,
// starting from guess. It returns the source cloud moved by the final pose.
func RegisterPointCloudICP(source *Cloud, target *KDTree, guess spatialmath.Pose, cfg ICPConfig) (*Cloud, ICPResult, error) {
	if cfg.MaxIterations <= 0 {
		return nil, ICPResult{}, errors.Errorf("max iterations must be positive, got %d", cfg.MaxIterations)
	}
	if target.Size() < minCorrespondences {
		return nil, ICPResult{}, errors.Errorf("target cloud needs at least %d points, has %d", minCorrespondences, target.Size())
	}
	src, _ := RemoveNaN(source)
	if src.Size() < minCorrespondences {
		return nil, ICPResult{}, errors.Errorf("source cloud needs at least %d points, has %d", minCorrespondences, src.Size())
	}

	result := ICPResult{Pose: guess, FitnessScore: math.Inf(1)}
	current := guess
	moved := make([]r3.Vector, src.Size())
	for iter := 0; iter < cfg.MaxIterations; iter++ {
		result.Iterations = iter + 1

		for i, p := range src.Points {
			moved[i] = current.TransformPoint(p.Position)
		}
		from, to, fitness := correspondences(moved, target, cfg.MaxCorrespondenceDistance)
		if len(from) < minCorrespondences {
			return nil, result, errors.Errorf("only %d correspondences found within %v on iteration %d",
				len(from), cfg.MaxCorrespondenceDistance, result.Iterations)
		}

		delta, err := bestFitTransform(from, to)
		if err != nil {
			return nil, result, err
		}
		current = spatialmath.Compose(delta, current)

		prevFitness := result.FitnessScore
		result.Pose = current
		result.FitnessScore = fitness
		result.Correspondences = len(from)

		if transformChange(delta) < cfg.TransformationEpsilon ||
			math.Abs(prevFitness-fitness) < cfg.FitnessEpsilon {
			result.Converged = true
			break
		}
	}

	return ApplyPose(source, result.Pose), result, nil
}

// correspondences pairs every point with its nearest target and returns the pairs within
// maxDist along with their mean squared distance.
func correspondences(points []r3.Vector, target *KDTree, maxDist float64) ([]r3.Vector, []r3.Vector, float64) {
	from := make([]r3.Vector, 0, len(points))
	to := make([]r3.Vector, 0, len(points))
	sum := 0.0
	for _, p := range points {
		nb, ok := target.NearestNeighbor(p)
		if !ok || (maxDist > 0 && nb.Distance > maxDist) {
			continue
		}
		from = append(from, p)
		to = append(to, nb.Point.Position)
		sum += nb.Distance * nb.Distance
	}
	if len(from) == 0 {
		return from, to, math.Inf(1)
	}
	return from, to, sum / float64(len(from))
}

func centroid(points []r3.Vector) r3.Vector {
	var c r3.Vector
	for _, p := range points {
		c = c.Add(p)
	}
	return c.Mul(1 / float64(len(points)))
}

// bestFitTransform returns the rigid transform minimising the squared distances between
// paired points (Kabsch).
func bestFitTransform(from, to []r3.Vector) (spatialmath.Pose, error) {
	cFrom := centroid(from)
	cTo := centroid(to)

	h := mat.NewDense(3, 3, nil)
	for i := range from {
		a := from[i].Sub(cFrom)
		b := to[i].Sub(cTo)
		av := [3]float64{a.X, a.Y, a.Z}
		bv := [3]float64{b.X, b.Y, b.Z}
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				h.Set(r, c, h.At(r, c)+av[r]*bv[c])
			}
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(h, mat.SVDFull); !ok {
		return spatialmath.Pose{}, errors.New("svd factorization of correspondence covariance failed")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var rot mat.Dense
	rot.Mul(&v, u.T())
	if mat.Det(&rot) < 0 {
		for r := 0; r < 3; r++ {
			v.Set(r, 2, -v.At(r, 2))
		}
		rot.Mul(&v, u.T())
	}

	rm, err := spatialmath.NewRotationMatrixFromDense(&rot)
	if err != nil {
		return spatialmath.Pose{}, err
	}
	translation := cTo.Sub(rm.Mul(cFrom))
	return spatialmath.NewPoseFromRotationMatrix(translation, rm), nil
}

// transformChange is the squared magnitude of a pose's translation plus its rotation
// distance from identity.
func transformChange(p spatialmath.Pose) float64 {
	q := p.Orientation()
	angle := 2 * math.Acos(math.Min(1, math.Abs(q.Real)))
	return p.Point().Norm2() + angle*angle
}
