package jsonwriter

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"go.viam.com/depthcloud/config"
	"go.viam.com/depthcloud/logging"
	"go.viam.com/depthcloud/pointcloud"
	"go.viam.com/depthcloud/registry"
	"go.viam.com/depthcloud/stream"
	"go.viam.com/depthcloud/utils"
)

type document struct {
	Cloud []Entry `json:"cloud"`
	Extra string  `json:"extra,omitempty"`
}

func readDocument(t *testing.T, fn string) document {
	t.Helper()
	data, err := os.ReadFile(fn)
	test.That(t, err, test.ShouldBeNil)
	var doc document
	test.That(t, json.Unmarshal(data, &doc), test.ShouldBeNil)
	return doc
}

func siftCloud() *pointcloud.Cloud {
	cloud := pointcloud.NewOrganized(pointcloud.XYZRGB, 2, 2)
	descriptor := make([]float32, 130)
	for i := range descriptor {
		descriptor[i] = float32(i) / 2
	}
	withSIFT := pointcloud.NewColoredPoint(pointcloud.NewVector(1, 2, 3), 255, 0, 16)
	withSIFT.Descriptor = descriptor
	cloud.Points[0] = withSIFT
	cloud.Points[3] = pointcloud.NewColoredPoint(pointcloud.NewVector(-1, 0.5, 2), 1, 2, 3)
	return cloud
}

func TestWriteAccumulates(t *testing.T) {
	ctx := context.Background()
	fn := filepath.Join(t.TempDir(), "cloud.json")
	w := New(&Config{Path: fn}, logging.NewTestLogger(t))

	test.That(t, w.Write(ctx, siftCloud()), test.ShouldBeNil)
	doc := readDocument(t, fn)
	test.That(t, doc.Cloud, test.ShouldHaveLength, 2)
	test.That(t, doc.Cloud[0].X, test.ShouldEqual, 1.)
	test.That(t, doc.Cloud[0].Z, test.ShouldEqual, 3.)
	test.That(t, doc.Cloud[0].RGB, test.ShouldEqual, uint32(0xffff0010))
	test.That(t, doc.Cloud[0].SIFT, test.ShouldHaveLength, 128)
	test.That(t, doc.Cloud[0].SIFT[127], test.ShouldEqual, float32(63.5))
	test.That(t, doc.Cloud[1].SIFT, test.ShouldBeNil)

	test.That(t, w.Write(ctx, siftCloud()), test.ShouldBeNil)
	doc = readDocument(t, fn)
	test.That(t, doc.Cloud, test.ShouldHaveLength, 4)
	test.That(t, doc.Cloud[2], test.ShouldResemble, doc.Cloud[0])
	test.That(t, w.Writes(), test.ShouldEqual, 2)
}

func TestWriteNonFiniteDescriptor(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "cloud.json")
	w := New(&Config{Path: fn}, logging.NewTestLogger(t))

	cloud := pointcloud.NewUnorganized(pointcloud.XYZRGB, 1)
	p := pointcloud.NewColoredPoint(pointcloud.NewVector(1, 1, 1), 1, 2, 3)
	p.Descriptor = []float32{1, 2, float32(math.NaN()), float32(math.Inf(1)), float32(math.Inf(-1)), 6}
	cloud.Append(p)

	test.That(t, w.Write(context.Background(), cloud), test.ShouldBeNil)
	doc := readDocument(t, fn)
	test.That(t, doc.Cloud, test.ShouldHaveLength, 1)
	test.That(t, doc.Cloud[0].SIFT, test.ShouldResemble, []float32{1, 2, 0, 0, 0, 6})
}

func TestWriteKeepsOtherKeys(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "cloud.json")
	// a lenient document with a comment and a trailing comma
	existing := "{\n  // previous run\n  \"extra\": \"kept\",\n  \"cloud\": [{\"x\": 9, \"y\": 9, \"z\": 9, \"RGB\": 0},],\n}"
	test.That(t, os.WriteFile(fn, []byte(existing), 0o600), test.ShouldBeNil)

	w := New(&Config{Path: fn}, logging.NewTestLogger(t))
	test.That(t, w.Write(context.Background(), siftCloud()), test.ShouldBeNil)
	doc := readDocument(t, fn)
	test.That(t, doc.Extra, test.ShouldEqual, "kept")
	test.That(t, doc.Cloud, test.ShouldHaveLength, 3)
	test.That(t, doc.Cloud[0].X, test.ShouldEqual, 9.)
}

func TestCorruptDocumentStartsOver(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "cloud.json")
	test.That(t, os.WriteFile(fn, []byte("{not json at all"), 0o600), test.ShouldBeNil)

	w := New(&Config{Path: fn}, logging.NewTestLogger(t))
	test.That(t, w.Write(context.Background(), siftCloud()), test.ShouldBeNil)
	test.That(t, readDocument(t, fn).Cloud, test.ShouldHaveLength, 2)

	empty := pointcloud.NewOrganized(pointcloud.XYZRGB, 2, 2)
	fresh := filepath.Join(t.TempDir(), "empty.json")
	w = New(&Config{Path: fresh}, logging.NewTestLogger(t))
	test.That(t, w.Write(context.Background(), empty), test.ShouldBeNil)
	data, err := os.ReadFile(fresh)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldContainSubstring, `"cloud": []`)
}

func TestHandlers(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	fn := filepath.Join(t.TempDir(), "cloud.json")

	_, err := registry.NewProcessor(ctx, config.Component{Name: "writer", Model: Model}, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, `"path" is required`)

	proc, err := registry.NewProcessor(ctx, config.Component{
		Name: "writer", Model: Model, Attributes: utils.AttributeMap{"path": fn},
	}, logger)
	test.That(t, err, test.ShouldBeNil)

	handlers := proc.Handlers()
	test.That(t, handlers, test.ShouldHaveLength, 3)
	in := stream.MapSource{
		InCloudXYZ:        siftCloud(),
		InCloudXYZRGB:     siftCloud(),
		InCloudXYZRGBSIFT: siftCloud(),
	}
	for _, h := range handlers[:2] {
		test.That(t, h.Fn(ctx, in, stream.MapSink{}), test.ShouldBeNil)
	}
	_, err = os.Stat(fn)
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)

	test.That(t, handlers[2].Name, test.ShouldEqual, "write_xyzrgbsift")
	test.That(t, handlers[2].Fn(ctx, in, stream.MapSink{}), test.ShouldBeNil)
	test.That(t, readDocument(t, fn).Cloud, test.ShouldHaveLength, 2)
	test.That(t, proc.(*Writer).Writes(), test.ShouldEqual, 1)
}
