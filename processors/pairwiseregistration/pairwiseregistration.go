// Package pairwiseregistration implements the pairwise_registration processor. Each
// incoming cloud is cleaned by a statistical outlier filter and registered with ICP
// against the previous cloud of the same point type. The refined transform is published
// as a 4x4 homogeneous matrix.
package pairwiseregistration

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/depthcloud/config"
	"go.viam.com/depthcloud/logging"
	"go.viam.com/depthcloud/pointcloud"
	"go.viam.com/depthcloud/registry"
	"go.viam.com/depthcloud/spatialmath"
	"go.viam.com/depthcloud/stream"
	"go.viam.com/depthcloud/utils"
)

// Model is the registered model name of the processor.
const Model = "pairwise_registration"

// Slot names.
const (
	InCloudXYZ              = "in_cloud_xyz"
	InCloudXYZRGB           = "in_cloud_xyzrgb"
	InTransformation        = "in_transformation"
	OutTransformationXYZ    = "out_transformation_xyz"
	OutTransformationXYZRGB = "out_transformation_xyzrgb"
)

const (
	defaultStddevMulThresh = 1.0
	defaultMeanK           = 50
)

func init() {
	registry.RegisterProcessor(Model, registry.Processor{
		Constructor: func(ctx context.Context, conf config.Component, logger logging.Logger) (stream.Component, error) {
			attrs, ok := conf.ConvertedAttributes.(*Config)
			if !ok {
				return nil, utils.NewUnexpectedTypeError[*Config](conf.ConvertedAttributes)
			}
			return New(attrs, logger)
		},
		AttributeMapConverter: registry.ConvertAttributes[*Config](),
	})
}

// Config is the native config of the processor.
type Config struct {
	// Negative keeps the outliers instead of the inliers.
	Negative        bool     `json:"negative"`
	StddevMulThresh *float64 `json:"stddev_mul_thresh,omitempty"`
	MeanK           *int     `json:"mean_k,omitempty"`

	MaxIterations             int     `json:"max_iterations,omitempty"`
	MaxCorrespondenceDistance float64 `json:"max_correspondence_distance,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.StddevMulThresh != nil && *cfg.StddevMulThresh <= 0 {
		return utils.NewConfigValidationError(path, errors.New("stddev_mul_thresh must be positive"))
	}
	if cfg.MeanK != nil && *cfg.MeanK <= 0 {
		return utils.NewConfigValidationError(path, errors.New("mean_k must be positive"))
	}
	if cfg.MaxIterations < 0 {
		return utils.NewConfigValidationError(path, errors.New("max_iterations cannot be negative"))
	}
	if cfg.MaxCorrespondenceDistance < 0 {
		return utils.NewConfigValidationError(path, errors.New("max_correspondence_distance cannot be negative"))
	}
	return nil
}

// ICPConfig returns the ICP settings described by cfg.
func (cfg *Config) ICPConfig() pointcloud.ICPConfig {
	icp := pointcloud.DefaultICPConfig()
	if cfg.MaxIterations > 0 {
		icp.MaxIterations = cfg.MaxIterations
	}
	if cfg.MaxCorrespondenceDistance > 0 {
		icp.MaxCorrespondenceDistance = cfg.MaxCorrespondenceDistance
	}
	return icp
}

func (cfg *Config) filterParams() (int, float64) {
	meanK, thresh := defaultMeanK, defaultStddevMulThresh
	if cfg.MeanK != nil {
		meanK = *cfg.MeanK
	}
	if cfg.StddevMulThresh != nil {
		thresh = *cfg.StddevMulThresh
	}
	return meanK, thresh
}

// Registrar is the pairwise_registration processor.
type Registrar struct {
	filter func(*pointcloud.Cloud) (*pointcloud.Cloud, error)
	icp    pointcloud.ICPConfig
	logger logging.Logger

	mu       sync.Mutex
	previous map[pointcloud.PointType]*pointcloud.Cloud
}

// New returns a registrar configured by cfg.
func New(cfg *Config, logger logging.Logger) (*Registrar, error) {
	meanK, thresh := cfg.filterParams()
	filter, err := pointcloud.StatisticalOutlierFilter(meanK, thresh, cfg.Negative)
	if err != nil {
		return nil, err
	}
	return &Registrar{
		filter:   filter,
		icp:      cfg.ICPConfig(),
		logger:   logger,
		previous: map[pointcloud.PointType]*pointcloud.Cloud{},
	}, nil
}

// Handlers returns one handler per cloud type.
func (r *Registrar) Handlers() []stream.Handler {
	handler := func(name, in, out string) stream.Handler {
		return stream.Handler{
			Name:         name,
			Dependencies: []string{in},
			Fn: func(ctx context.Context, src stream.Source, sink stream.Sink) error {
				cloud, err := stream.ReadAs[*pointcloud.Cloud](src, in)
				if err != nil {
					return err
				}
				guess, err := InitialGuess(src)
				if err != nil {
					return err
				}
				pose, err := r.Next(ctx, cloud, guess)
				if err != nil {
					return err
				}
				return sink.Write(out, pose.HomogMatrix())
			},
		}
	}
	return []stream.Handler{
		handler("registration_xyz", InCloudXYZ, OutTransformationXYZ),
		handler("registration_xyzrgb", InCloudXYZRGB, OutTransformationXYZRGB),
	}
}

// InitialGuess reads the initial transformation, which may be a Pose or a 4x4 matrix. An
// empty slot yields the identity.
func InitialGuess(src stream.Source) (spatialmath.Pose, error) {
	v, err := src.Read(InTransformation)
	if errors.Is(err, stream.ErrSlotEmpty) {
		return spatialmath.NewZeroPose(), nil
	}
	if err != nil {
		return spatialmath.Pose{}, err
	}
	switch guess := v.(type) {
	case spatialmath.Pose:
		return guess, nil
	case mat.Matrix:
		return spatialmath.NewPoseFromHomogMatrix(guess)
	default:
		return spatialmath.Pose{}, utils.NewUnexpectedTypeError[mat.Matrix](v)
	}
}

// Next registers cloud against the previous cloud of its type and remembers it for the
// next call. The first cloud of a type has nothing to register against and yields guess.
func (r *Registrar) Next(ctx context.Context, cloud *pointcloud.Cloud, guess spatialmath.Pose) (spatialmath.Pose, error) {
	filtered, err := r.filter(cloud)
	if err != nil {
		return spatialmath.Pose{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	previous, ok := r.previous[cloud.Type]
	if !ok {
		r.previous[cloud.Type] = filtered
		r.logger.Debugw("first cloud, nothing to register against", "type", cloud.Type, "points", filtered.Size())
		return guess, nil
	}

	result, err := r.align(ctx, filtered, previous, guess)
	if err != nil {
		return spatialmath.Pose{}, err
	}
	r.previous[cloud.Type] = filtered
	return result.Pose, nil
}

// Align filters both clouds and registers source onto target.
func (r *Registrar) Align(
	ctx context.Context,
	source, target *pointcloud.Cloud,
	guess spatialmath.Pose,
) (pointcloud.ICPResult, error) {
	filteredSource, err := r.filter(source)
	if err != nil {
		return pointcloud.ICPResult{}, err
	}
	filteredTarget, err := r.filter(target)
	if err != nil {
		return pointcloud.ICPResult{}, err
	}
	return r.align(ctx, filteredSource, filteredTarget, guess)
}

func (r *Registrar) align(
	ctx context.Context,
	source, target *pointcloud.Cloud,
	guess spatialmath.Pose,
) (pointcloud.ICPResult, error) {
	_, span := trace.StartSpan(ctx, "pairwiseregistration::align")
	defer span.End()

	_, result, err := pointcloud.RegisterPointCloudICP(source, pointcloud.ToKDTree(target), guess, r.icp)
	if err != nil {
		return pointcloud.ICPResult{}, errors.Wrap(err, "cannot register clouds")
	}
	r.logger.Infow("registered clouds",
		"type", source.Type,
		"iterations", result.Iterations,
		"converged", result.Converged,
		"fitness", result.FitnessScore,
		"correspondences", result.Correspondences,
	)
	if !result.Converged {
		r.logger.Warnw("registration did not converge", "iterations", result.Iterations)
	}
	return result, nil
}
