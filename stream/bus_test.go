package stream

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/depthcloud/logging"
)

type fakeComponent struct {
	handlers []Handler
}

func (fc *fakeComponent) Handlers() []Handler {
	return fc.handlers
}

// recorder builds handlers that note their name when run and copy "in" to "out".
type recorder struct {
	runs []string
}

func (r *recorder) handler(name string, deps ...string) Handler {
	return Handler{
		Name:         name,
		Dependencies: deps,
		Fn: func(ctx context.Context, in Source, out Sink) error {
			r.runs = append(r.runs, name)
			v, err := ReadAs[int](in, deps[0])
			if err != nil {
				return err
			}
			return out.Write("out", v+1)
		},
	}
}

func TestReadAs(t *testing.T) {
	src := MapSource{"a": 3, "b": "x"}

	v, err := ReadAs[int](src, "a")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, 3)

	_, err = ReadAs[int](src, "b")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "expected int but got string")

	_, err = ReadAs[int](src, "c")
	test.That(t, errors.Is(err, ErrSlotEmpty), test.ShouldBeTrue)
}

func TestBusRunsWhenAllDependenciesFresh(t *testing.T) {
	ctx := context.Background()
	bus := NewBus(logging.NewTestLogger(t))
	rec := &recorder{}
	test.That(t, bus.RegisterComponent("c", &fakeComponent{handlers: []Handler{rec.handler("h", "a", "b")}}), test.ShouldBeNil)

	test.That(t, bus.Publish(ctx, "c.a", 1), test.ShouldBeNil)
	test.That(t, rec.runs, test.ShouldBeEmpty)

	test.That(t, bus.Publish(ctx, "c.b", 0), test.ShouldBeNil)
	test.That(t, rec.runs, test.ShouldResemble, []string{"h"})
	out, ok := bus.Latest("c.out")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, out, test.ShouldEqual, 2)

	// only one of the two inputs is new
	test.That(t, bus.Publish(ctx, "c.a", 5), test.ShouldBeNil)
	test.That(t, rec.runs, test.ShouldHaveLength, 1)
	test.That(t, bus.Publish(ctx, "c.b", 0), test.ShouldBeNil)
	test.That(t, rec.runs, test.ShouldHaveLength, 2)
	out, _ = bus.Latest("c.out")
	test.That(t, out, test.ShouldEqual, 6)
}

func TestBusMostSpecificHandlerWins(t *testing.T) {
	ctx := context.Background()
	bus := NewBus(logging.NewTestLogger(t))
	rec := &recorder{}
	test.That(t, bus.RegisterComponent("c", &fakeComponent{handlers: []Handler{
		rec.handler("plain", "a"),
		rec.handler("masked", "a", "mask"),
	}}), test.ShouldBeNil)

	test.That(t, bus.PublishAll(ctx, map[string]interface{}{"c.a": 1, "c.mask": true}), test.ShouldBeNil)
	test.That(t, rec.runs, test.ShouldResemble, []string{"masked"})

	test.That(t, bus.Publish(ctx, "c.a", 2), test.ShouldBeNil)
	test.That(t, rec.runs, test.ShouldResemble, []string{"masked", "plain"})
}

func TestBusConnectionsAndSubscribers(t *testing.T) {
	ctx := context.Background()
	bus := NewBus(logging.NewTestLogger(t))
	first, second := &recorder{}, &recorder{}
	test.That(t, bus.RegisterComponent("first", &fakeComponent{handlers: []Handler{first.handler("h", "in")}}), test.ShouldBeNil)
	test.That(t, bus.RegisterComponent("second", &fakeComponent{handlers: []Handler{second.handler("h", "in")}}), test.ShouldBeNil)
	test.That(t, bus.Connect("first.out", "second.in"), test.ShouldBeNil)

	var seen []interface{}
	bus.Subscribe("second.out", func(v interface{}) { seen = append(seen, v) })

	test.That(t, bus.Publish(ctx, "first.in", 10), test.ShouldBeNil)
	test.That(t, first.runs, test.ShouldHaveLength, 1)
	test.That(t, second.runs, test.ShouldHaveLength, 1)
	test.That(t, seen, test.ShouldResemble, []interface{}{12})

	test.That(t, bus.Connect("first.out", "second.in"), test.ShouldNotBeNil)
	test.That(t, bus.Connect("x", "x"), test.ShouldNotBeNil)
	test.That(t, bus.RegisterComponent("first", &fakeComponent{}), test.ShouldNotBeNil)
}

func TestBusHandlerErrors(t *testing.T) {
	ctx := context.Background()
	bus := NewBus(logging.NewTestLogger(t))
	failing := Handler{
		Name:         "fail",
		Dependencies: []string{"in"},
		Fn: func(ctx context.Context, in Source, out Sink) error {
			return errors.New("boom")
		},
	}
	test.That(t, bus.RegisterComponent("c", &fakeComponent{handlers: []Handler{failing}}), test.ShouldBeNil)

	err := bus.Publish(ctx, "c.in", 1)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, `handler "c.fail": boom`)

	test.That(t, bus.RegisterComponent("d", &fakeComponent{handlers: []Handler{{Name: "nofn", Dependencies: []string{"in"}}}}),
		test.ShouldNotBeNil)
	test.That(t, bus.RegisterComponent("e", &fakeComponent{handlers: []Handler{{Name: "nodeps", Fn: failing.Fn}}}),
		test.ShouldNotBeNil)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = bus.Publish(cancelled, "c.in", 2)
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
}
