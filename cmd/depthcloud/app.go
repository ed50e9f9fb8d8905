package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/depthcloud/config"
	"go.viam.com/depthcloud/logging"
	"go.viam.com/depthcloud/pipeline"
	"go.viam.com/depthcloud/pointcloud"
	"go.viam.com/depthcloud/processors/pairwiseregistration"
	_ "go.viam.com/depthcloud/processors/register"
	"go.viam.com/depthcloud/registry"
	"go.viam.com/depthcloud/rimage"
	"go.viam.com/depthcloud/rimage/depthadapter"
	"go.viam.com/depthcloud/rimage/transform"
	"go.viam.com/depthcloud/spatialmath"
	"go.viam.com/depthcloud/utils"
)

const (
	// Flags.
	generalFlagDebug = "debug"

	convertFlagDepth      = "depth"
	convertFlagXYZ        = "xyz"
	convertFlagIntrinsics = "intrinsics"
	convertFlagColor      = "color"
	convertFlagMask       = "mask"
	convertFlagKeepNaN    = "keep-nan"
	convertFlagOut        = "out"
	convertFlagASCII      = "ascii"

	runFlagConfig = "config"

	registerFlagSource      = "source"
	registerFlagTarget      = "target"
	registerFlagGuess       = "guess"
	registerFlagMeanK       = "mean-k"
	registerFlagStddev      = "stddev"
	registerFlagNegative    = "negative"
	registerFlagIterations  = "max-iterations"
	registerFlagMaxDistance = "max-distance"
	registerFlagOut         = "out"
)

// NewApp returns a new app with Writer set to out and ErrWriter set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	var logger logging.Logger
	return &cli.App{
		Name:      "depthcloud",
		Usage:     "turn depth images into point clouds and register them",
		Writer:    out,
		ErrWriter: errOut,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    generalFlagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool(generalFlagDebug) {
				logger = logging.NewDebugLogger("depthcloud")
			} else {
				logger = logging.NewBlankLogger("depthcloud")
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "convert",
				Usage:     "convert a depth map or an xyz map into a point cloud file",
				UsageText: "depthcloud convert (--depth FILE --intrinsics FILE | --xyz FILE) [--color FILE] [--mask FILE] --out FILE",
				Flags: []cli.Flag{
					&cli.PathFlag{Name: convertFlagDepth, Usage: "depth map (.png, .tiff, .dat, .dat.gz)"},
					&cli.PathFlag{Name: convertFlagXYZ, Usage: "xyz map (.xyz, .xyz.gz)"},
					&cli.PathFlag{Name: convertFlagIntrinsics, Usage: "camera intrinsics JSON, required with --depth"},
					&cli.PathFlag{Name: convertFlagColor, Usage: "color image of the same size"},
					&cli.PathFlag{Name: convertFlagMask, Usage: "mask image of the same size"},
					&cli.BoolFlag{Name: convertFlagKeepNaN, Usage: "keep invalid points so depth clouds stay organized"},
					&cli.PathFlag{Name: convertFlagOut, Required: true, Usage: "output cloud (.pcd, .las, .json)"},
					&cli.BoolFlag{Name: convertFlagASCII, Usage: "write ascii instead of binary PCD"},
				},
				Action: func(c *cli.Context) error {
					return ConvertAction(c, logger)
				},
			},
			{
				Name:  "run",
				Usage: "run a pipeline of processors",
				Flags: []cli.Flag{
					&cli.PathFlag{Name: runFlagConfig, Aliases: []string{"c"}, Required: true, Usage: "load pipeline from `FILE`"},
				},
				Action: func(c *cli.Context) error {
					return RunAction(c, logger)
				},
			},
			{
				Name:  "register",
				Usage: "find the transform aligning a source cloud onto a target cloud",
				Flags: []cli.Flag{
					&cli.PathFlag{Name: registerFlagSource, Required: true, Usage: "source cloud (.pcd, .las)"},
					&cli.PathFlag{Name: registerFlagTarget, Required: true, Usage: "target cloud (.pcd, .las)"},
					&cli.PathFlag{Name: registerFlagGuess, Usage: "initial 4x4 transform JSON"},
					&cli.IntFlag{Name: registerFlagMeanK, Value: 50, Usage: "neighbors used by the outlier filter"},
					&cli.Float64Flag{Name: registerFlagStddev, Value: 1.0, Usage: "outlier filter standard deviation multiplier"},
					&cli.BoolFlag{Name: registerFlagNegative, Usage: "keep outliers instead of inliers"},
					&cli.IntFlag{Name: registerFlagIterations, Usage: "maximum ICP iterations"},
					&cli.Float64Flag{Name: registerFlagMaxDistance, Usage: "maximum correspondence distance in metres"},
					&cli.PathFlag{Name: registerFlagOut, Usage: "save the transform as JSON"},
				},
				Action: func(c *cli.Context) error {
					return RegisterAction(c, logger)
				},
			},
			{
				Name:  "models",
				Usage: "list the processor models a pipeline can use",
				Action: func(c *cli.Context) error {
					for _, model := range registry.RegisteredModels() {
						printf(c.App.Writer, "%s", model)
					}
					return nil
				},
			},
		},
	}
}

func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}

// ConvertAction converts one depth or xyz map into a cloud file.
func ConvertAction(c *cli.Context, logger logging.Logger) (err error) {
	depthPath, xyzPath := c.Path(convertFlagDepth), c.Path(convertFlagXYZ)
	if (depthPath == "") == (xyzPath == "") {
		return errors.New("exactly one of --depth and --xyz is required")
	}

	opts := depthadapter.Options{RemoveInvalid: !c.Bool(convertFlagKeepNaN)}
	if fn := c.Path(convertFlagMask); fn != "" {
		if opts.Mask, err = rimage.NewMaskFromFile(fn); err != nil {
			return err
		}
	}
	if fn := c.Path(convertFlagColor); fn != "" {
		if opts.Color, err = rimage.NewBGRImageFromFile(fn); err != nil {
			return err
		}
	}

	var cloud *pointcloud.Cloud
	if depthPath != "" {
		if c.Path(convertFlagIntrinsics) == "" {
			return errors.New("--intrinsics is required with --depth")
		}
		intrinsics, err := transform.NewPinholeCameraIntrinsicsFromJSONFile(c.Path(convertFlagIntrinsics))
		if err != nil {
			return err
		}
		dm, err := rimage.NewDepthMapFromFile(depthPath)
		if err != nil {
			return err
		}
		if cloud, err = depthadapter.DepthToCloud(dm, intrinsics, opts); err != nil {
			return err
		}
	} else {
		xyz, err := rimage.NewXYZMapFromFile(xyzPath)
		if err != nil {
			return err
		}
		if cloud, err = depthadapter.XYZMapToCloud(xyz, opts, logger); err != nil {
			return err
		}
	}

	out := c.Path(convertFlagOut)
	if c.Bool(convertFlagASCII) {
		if filepath.Ext(out) != ".pcd" {
			return errors.Errorf("--ascii only applies to .pcd files, not %q", out)
		}
		var f *os.File
		//nolint:gosec
		f, err = os.Create(out)
		if err != nil {
			return err
		}
		defer func() {
			err = multierr.Combine(err, f.Close())
		}()
		if err = pointcloud.ToPCD(cloud, f, pointcloud.PCDAscii); err != nil {
			return err
		}
	} else if err := pipeline.SaveOutput(c.Context, cloud, out, logger); err != nil {
		return err
	}

	printf(c.App.Writer, "%s", cloudTable(cloud))
	return nil
}

func cloudTable(cloud *pointcloud.Cloud) string {
	meta := cloud.MetaData()
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Type", "Width", "Height", "Valid", "Min", "Max"})
	row := table.Row{cloud.Type.String(), cloud.Width, cloud.Height, meta.ValidPoints, "", ""}
	if meta.ValidPoints > 0 {
		row[4] = fmt.Sprintf("X:%.3f, Y:%.3f, Z:%.3f", meta.MinX, meta.MinY, meta.MinZ)
		row[5] = fmt.Sprintf("X:%.3f, Y:%.3f, Z:%.3f", meta.MaxX, meta.MaxY, meta.MaxZ)
	}
	t.AppendRow(row)
	return t.Render()
}

// RunAction runs the pipeline described by a config file.
func RunAction(c *cli.Context, logger logging.Logger) error {
	cfg, err := config.Read(c.Path(runFlagConfig), logger)
	if err != nil {
		return err
	}
	p, err := pipeline.New(c.Context, cfg, logger)
	if err != nil {
		return err
	}
	if err := p.Run(c.Context); err != nil {
		return err
	}
	printf(c.App.Writer, "ran %d components", len(cfg.Components))
	return nil
}

// RegisterAction aligns two cloud files and prints the resulting transform.
func RegisterAction(c *cli.Context, logger logging.Logger) error {
	meanK := c.Int(registerFlagMeanK)
	stddev := c.Float64(registerFlagStddev)
	cfg := &pairwiseregistration.Config{
		Negative:                  c.Bool(registerFlagNegative),
		MeanK:                     &meanK,
		StddevMulThresh:           &stddev,
		MaxIterations:             c.Int(registerFlagIterations),
		MaxCorrespondenceDistance: c.Float64(registerFlagMaxDistance),
	}
	if err := cfg.Validate("register"); err != nil {
		return err
	}
	r, err := pairwiseregistration.New(cfg, logger)
	if err != nil {
		return err
	}

	source, err := pointcloud.NewFromFile(c.Path(registerFlagSource))
	if err != nil {
		return err
	}
	target, err := pointcloud.NewFromFile(c.Path(registerFlagTarget))
	if err != nil {
		return err
	}
	guess := spatialmath.NewZeroPose()
	if fn := c.Path(registerFlagGuess); fn != "" {
		m, err := pipeline.ReadTransform(fn)
		if err != nil {
			return err
		}
		if guess, err = spatialmath.NewPoseFromHomogMatrix(m); err != nil {
			return err
		}
	}

	result, err := r.Align(c.Context, source, target, guess)
	if err != nil {
		return err
	}
	if fn := c.Path(registerFlagOut); fn != "" {
		if err := pipeline.WriteTransform(result.Pose.HomogMatrix(), fn); err != nil {
			return err
		}
	}
	printf(c.App.Writer, "%s", matrixTable(result.Pose.HomogMatrix()))
	printf(c.App.Writer, "%s", poseTable(result.Pose))
	printf(c.App.Writer, "iterations: %d converged: %t fitness: %g correspondences: %d",
		result.Iterations, result.Converged, result.FitnessScore, result.Correspondences)
	return nil
}

// poseTable prints the translation and the orientation in degrees.
func poseTable(pose spatialmath.Pose) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Translation", "Orientation"})
	tra := pose.Point()
	ori := spatialmath.QuatToEulerAngles(pose.Orientation())
	t.AppendRow(table.Row{
		fmt.Sprintf("X:%.4f, Y:%.4f, Z:%.4f", tra.X, tra.Y, tra.Z),
		fmt.Sprintf(
			"Roll:%.2f, Pitch:%.2f, Yaw:%.2f",
			utils.RadToDeg(ori.Roll),
			utils.RadToDeg(ori.Pitch),
			utils.RadToDeg(ori.Yaw),
		),
	})
	return t.Render()
}

func matrixTable(m mat.Matrix) string {
	t := table.NewWriter()
	rows, cols := m.Dims()
	for i := 0; i < rows; i++ {
		row := make(table.Row, cols)
		for j := 0; j < cols; j++ {
			row[j] = fmt.Sprintf("%.6f", m.At(i, j))
		}
		t.AppendRow(row)
	}
	return t.Render()
}
