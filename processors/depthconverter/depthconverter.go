// Package depthconverter implements the depth_converter processor. It turns a depth map
// (with camera intrinsics) or an XYZ map into a point cloud, optionally masked and
// colored, and publishes it on the output slot matching the point type.
package depthconverter

import (
	"context"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"go.viam.com/depthcloud/config"
	"go.viam.com/depthcloud/logging"
	"go.viam.com/depthcloud/pointcloud"
	"go.viam.com/depthcloud/registry"
	"go.viam.com/depthcloud/rimage"
	"go.viam.com/depthcloud/rimage/depthadapter"
	"go.viam.com/depthcloud/rimage/transform"
	"go.viam.com/depthcloud/stream"
)

// Model is the registered model name of the processor.
const Model = "depth_converter"

// Slot names.
const (
	InDepth        = "in_depth"
	InDepthXYZ     = "in_depth_xyz"
	InColor        = "in_color"
	InMask         = "in_mask"
	InCameraInfo   = "in_camera_info"
	OutCloudXYZ    = "out_cloud_xyz"
	OutCloudXYZRGB = "out_cloud_xyzrgb"
)

func init() {
	registry.RegisterProcessor(Model, registry.Processor{
		Constructor: func(ctx context.Context, conf config.Component, logger logging.Logger) (stream.Component, error) {
			attrs, ok := conf.ConvertedAttributes.(*Config)
			if !ok {
				return nil, errors.Errorf("expected config.ConvertedAttributes to be *Config but got %T", conf.ConvertedAttributes)
			}
			return New(attrs, logger), nil
		},
		AttributeMapConverter: registry.ConvertAttributes[*Config](),
	})
}

// Config is the native config of the processor.
type Config struct {
	// RemoveNaN drops invalid points and compacts the cloud. Defaults to true.
	RemoveNaN *bool `json:"remove_nan,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	return nil
}

func (cfg *Config) removeNaN() bool {
	return cfg == nil || cfg.RemoveNaN == nil || *cfg.RemoveNaN
}

// SourceKind is the kind of geometry a conversion starts from.
type SourceKind int

// The known source kinds.
const (
	SourceDepth SourceKind = iota
	SourceXYZ
)

// A Variant is one combination of source and optional inputs.
type Variant struct {
	Source SourceKind
	Mask   bool
	Color  bool
}

// Variants lists every supported variant in handler declaration order.
var Variants = []Variant{
	{Source: SourceDepth},
	{Source: SourceDepth, Mask: true},
	{Source: SourceDepth, Color: true},
	{Source: SourceDepth, Mask: true, Color: true},
	{Source: SourceXYZ},
	{Source: SourceXYZ, Mask: true},
	{Source: SourceXYZ, Color: true},
	{Source: SourceXYZ, Mask: true, Color: true},
}

// HandlerName returns the name under which the variant is exposed.
func (v Variant) HandlerName() string {
	switch {
	case v.Source == SourceDepth && v.Mask && v.Color:
		return "process_depth_mask_color"
	case v.Source == SourceDepth && v.Mask:
		return "process_depth_mask"
	case v.Source == SourceDepth && v.Color:
		return "process_depth_color"
	case v.Source == SourceDepth:
		return "process_depth"
	case v.Mask && v.Color:
		return "process_depth_xyz_color_mask"
	case v.Mask:
		return "process_depth_xyz_mask"
	case v.Color:
		return "process_depth_xyz_color"
	default:
		return "process_depth_xyz"
	}
}

// Dependencies returns the input slots the variant reads.
func (v Variant) Dependencies() []string {
	var deps []string
	if v.Source == SourceDepth {
		deps = []string{InDepth, InCameraInfo}
	} else {
		deps = []string{InDepthXYZ}
	}
	if v.Mask {
		deps = append(deps, InMask)
	}
	if v.Color {
		deps = append(deps, InColor)
	}
	return deps
}

// Output returns the slot the variant publishes to.
func (v Variant) Output() string {
	if v.Color {
		return OutCloudXYZRGB
	}
	return OutCloudXYZ
}

// Converter is the depth_converter processor.
type Converter struct {
	removeNaN bool
	logger    logging.Logger
}

// New returns a converter configured by cfg.
func New(cfg *Config, logger logging.Logger) *Converter {
	return &Converter{removeNaN: cfg.removeNaN(), logger: logger}
}

// Handlers returns one handler per variant.
func (c *Converter) Handlers() []stream.Handler {
	handlers := make([]stream.Handler, 0, len(Variants))
	for _, v := range Variants {
		v := v
		handlers = append(handlers, stream.Handler{
			Name:         v.HandlerName(),
			Dependencies: v.Dependencies(),
			Fn: func(ctx context.Context, in stream.Source, out stream.Sink) error {
				return c.Process(ctx, v, in, out)
			},
		})
	}
	return handlers
}

// Process reads the inputs of v, converts them and writes the resulting cloud.
func (c *Converter) Process(ctx context.Context, v Variant, in stream.Source, out stream.Sink) error {
	_, span := trace.StartSpan(ctx, "depthconverter::"+v.HandlerName())
	defer span.End()

	c.logger.Debugw("processing", "handler", v.HandlerName())
	opts := depthadapter.Options{RemoveInvalid: c.removeNaN}
	var err error
	if v.Mask {
		if opts.Mask, err = stream.ReadAs[*rimage.Mask](in, InMask); err != nil {
			return err
		}
	}
	if v.Color {
		if opts.Color, err = stream.ReadAs[*rimage.BGRImage](in, InColor); err != nil {
			return err
		}
	}

	var cloud *pointcloud.Cloud
	switch v.Source {
	case SourceDepth:
		dm, err := stream.ReadAs[*rimage.DepthMap](in, InDepth)
		if err != nil {
			return err
		}
		intrinsics, err := stream.ReadAs[*transform.PinholeCameraIntrinsics](in, InCameraInfo)
		if err != nil {
			return err
		}
		if cloud, err = depthadapter.DepthToCloud(dm, intrinsics, opts); err != nil {
			return err
		}
	case SourceXYZ:
		xyz, err := stream.ReadAs[*rimage.XYZMap](in, InDepthXYZ)
		if err != nil {
			return err
		}
		if cloud, err = depthadapter.XYZMapToCloud(xyz, opts, c.logger); err != nil {
			return err
		}
	default:
		return errors.Errorf("unknown source kind %d", v.Source)
	}

	c.logger.Infow("converted cloud", "handler", v.HandlerName(), "points", cloud.Size(),
		"width", cloud.Width, "height", cloud.Height)
	return out.Write(v.Output(), cloud)
}
