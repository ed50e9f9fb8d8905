package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/yosuke-furukawa/json5/encoding/json5"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/depthcloud/config"
	"go.viam.com/depthcloud/logging"
	"go.viam.com/depthcloud/pointcloud"
	"go.viam.com/depthcloud/processors/jsonwriter"
	"go.viam.com/depthcloud/rimage"
	"go.viam.com/depthcloud/rimage/transform"
	"go.viam.com/depthcloud/spatialmath"
)

// LoadInput decodes the file at path as the given kind of input.
func LoadInput(kind config.InputKind, path string) (interface{}, error) {
	switch kind {
	case config.InputKindDepth:
		return rimage.NewDepthMapFromFile(path)
	case config.InputKindXYZ:
		return rimage.NewXYZMapFromFile(path)
	case config.InputKindColor:
		return rimage.NewBGRImageFromFile(path)
	case config.InputKindMask:
		return rimage.NewMaskFromFile(path)
	case config.InputKindIntrinsics:
		return transform.NewPinholeCameraIntrinsicsFromJSONFile(path)
	case config.InputKindCloud:
		return pointcloud.NewFromFile(path)
	case config.InputKindTransform:
		return ReadTransform(path)
	default:
		return nil, errors.Errorf("unknown input kind %q", kind)
	}
}

// ReadTransform reads a 4x4 homogeneous matrix stored as four rows of four numbers.
func ReadTransform(path string) (*mat.Dense, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rows [][]float64
	if err := json5.Unmarshal(data, &rows); err != nil {
		return nil, errors.Wrapf(err, "cannot parse transform %q", path)
	}
	if len(rows) != 4 {
		return nil, errors.Errorf("transform %q must have 4 rows, has %d", path, len(rows))
	}
	m := mat.NewDense(4, 4, nil)
	for i, row := range rows {
		if len(row) != 4 {
			return nil, errors.Errorf("row %d of transform %q must have 4 values, has %d", i, path, len(row))
		}
		m.SetRow(i, row)
	}
	if _, err := spatialmath.NewPoseFromHomogMatrix(m); err != nil {
		return nil, errors.Wrapf(err, "transform %q", path)
	}
	return m, nil
}

// WriteTransform writes m as four rows of four numbers.
func WriteTransform(m mat.Matrix, path string) error {
	r, c := m.Dims()
	if r != 4 || c != 4 {
		return errors.Errorf("transform must be 4x4, is %dx%d", r, c)
	}
	rows := make([][]float64, 4)
	for i := range rows {
		rows[i] = mat.Row(nil, i, m)
	}
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// SaveOutput writes value to path. Clouds go to .pcd, .las or an accumulating .json
// document, transforms go to .json.
func SaveOutput(ctx context.Context, value interface{}, path string, logger logging.Logger) error {
	switch v := value.(type) {
	case *pointcloud.Cloud:
		if filepath.Ext(path) == ".json" {
			return jsonwriter.New(&jsonwriter.Config{Path: path}, logger).Write(ctx, v)
		}
		return pointcloud.WriteToFile(v, path)
	case mat.Matrix:
		if filepath.Ext(path) != ".json" {
			return errors.Errorf("transforms can only be saved as .json, not %q", path)
		}
		return WriteTransform(v, path)
	default:
		return errors.Errorf("do not know how to save a %T", value)
	}
}
