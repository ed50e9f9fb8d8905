// Package jsonwriter implements the json_writer processor, which accumulates clouds of
// points with descriptors into a JSON document on disk.
//
// The document holds a "cloud" array of {"x", "y", "z", "RGB", "SIFT"} entries. Every
// write reads the existing document, appends the valid points of the new cloud and
// rewrites the whole file. A missing or unreadable document counts as empty.
package jsonwriter

import (
	"context"
	"encoding/json"
	"math"
	"os"

	"github.com/pkg/errors"
	"github.com/yosuke-furukawa/json5/encoding/json5"
	"go.opencensus.io/trace"
	"go.uber.org/atomic"

	"go.viam.com/depthcloud/config"
	"go.viam.com/depthcloud/logging"
	"go.viam.com/depthcloud/pointcloud"
	"go.viam.com/depthcloud/registry"
	"go.viam.com/depthcloud/stream"
	"go.viam.com/depthcloud/utils"
)

// Model is the registered model name of the processor.
const Model = "json_writer"

// Slot names.
const (
	InCloudXYZ         = "in_cloud_xyz"
	InCloudXYZRGB      = "in_cloud_xyzrgb"
	InCloudXYZRGBSIFT  = "in_cloud_xyzrgbsift"
	cloudKey           = "cloud"
	descriptorLength   = 128
	documentPermission = 0o644
)

func init() {
	registry.RegisterProcessor(Model, registry.Processor{
		Constructor: func(ctx context.Context, conf config.Component, logger logging.Logger) (stream.Component, error) {
			attrs, ok := conf.ConvertedAttributes.(*Config)
			if !ok {
				return nil, utils.NewUnexpectedTypeError[*Config](conf.ConvertedAttributes)
			}
			return New(attrs, logger), nil
		},
		AttributeMapConverter: registry.ConvertAttributes[*Config](),
	})
}

// Config is the native config of the processor.
type Config struct {
	Path string `json:"path"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.Path == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "path")
	}
	return nil
}

// Entry is how a single point is stored in the document.
type Entry struct {
	X    float64   `json:"x"`
	Y    float64   `json:"y"`
	Z    float64   `json:"z"`
	RGB  uint32    `json:"RGB"`
	SIFT []float32 `json:"SIFT,omitempty"`
}

// NewEntry returns the entry of p. Only the first 128 descriptor values are kept and
// non-finite values are stored as 0, which JSON cannot represent otherwise.
func NewEntry(p pointcloud.Point) Entry {
	e := Entry{X: p.Position.X, Y: p.Position.Y, Z: p.Position.Z, RGB: p.PackedRGBA()}
	if len(p.Descriptor) > 0 {
		n := len(p.Descriptor)
		if n > descriptorLength {
			n = descriptorLength
		}
		e.SIFT = make([]float32, n)
		for i, v := range p.Descriptor[:n] {
			if f := float64(v); !math.IsNaN(f) && !math.IsInf(f, 0) {
				e.SIFT[i] = v
			}
		}
	}
	return e
}

// Writer is the json_writer processor.
type Writer struct {
	path   string
	logger logging.Logger
	writes atomic.Int64
}

// New returns a writer saving to cfg.Path.
func New(cfg *Config, logger logging.Logger) *Writer {
	return &Writer{path: cfg.Path, logger: logger}
}

// Writes returns how many clouds were written so far.
func (w *Writer) Writes() int64 {
	return w.writes.Load()
}

// Handlers returns the writer's handlers. Only clouds with descriptors are written; the
// others are accepted and ignored.
func (w *Writer) Handlers() []stream.Handler {
	ignore := func(slot string) stream.HandlerFunc {
		return func(ctx context.Context, in stream.Source, out stream.Sink) error {
			w.logger.Debugw("ignoring cloud", "slot", slot)
			return nil
		}
	}
	return []stream.Handler{
		{Name: "write_xyz", Dependencies: []string{InCloudXYZ}, Fn: ignore(InCloudXYZ)},
		{Name: "write_xyzrgb", Dependencies: []string{InCloudXYZRGB}, Fn: ignore(InCloudXYZRGB)},
		{
			Name:         "write_xyzrgbsift",
			Dependencies: []string{InCloudXYZRGBSIFT},
			Fn: func(ctx context.Context, in stream.Source, out stream.Sink) error {
				cloud, err := stream.ReadAs[*pointcloud.Cloud](in, InCloudXYZRGBSIFT)
				if err != nil {
					return err
				}
				return w.Write(ctx, cloud)
			},
		},
	}
}

// Write appends the valid points of cloud to the document.
func (w *Writer) Write(ctx context.Context, cloud *pointcloud.Cloud) error {
	_, span := trace.StartSpan(ctx, "jsonwriter::Write")
	defer span.End()

	doc := w.readDocument()
	entries, _ := doc[cloudKey].([]interface{})
	added := 0
	cloud.Iterate(func(_ int, p pointcloud.Point) bool {
		if p.IsValid() {
			entries = append(entries, NewEntry(p))
			added++
		}
		return true
	})
	if entries == nil {
		entries = []interface{}{}
	}
	doc[cloudKey] = entries

	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return errors.Wrap(err, "cannot encode cloud document")
	}
	if err := os.WriteFile(w.path, append(data, '\n'), documentPermission); err != nil {
		return errors.Wrapf(err, "cannot write cloud document %q", w.path)
	}
	count := w.writes.Inc()
	w.logger.Infow("wrote cloud", "path", w.path, "write", count, "points", added, "total", len(entries))
	return nil
}

// readDocument returns the current document, or an empty one if there is none that can
// be parsed.
func (w *Writer) readDocument() map[string]interface{} {
	doc := map[string]interface{}{}
	//nolint:gosec
	data, err := os.ReadFile(w.path)
	if err != nil {
		return doc
	}
	if err := json5.Unmarshal(data, &doc); err != nil || doc == nil {
		w.logger.Debugw("discarding unreadable cloud document", "path", w.path, "error", err)
		return map[string]interface{}{}
	}
	return doc
}
