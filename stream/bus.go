package stream

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	"go.viam.com/depthcloud/logging"
)

type slotValue struct {
	value   interface{}
	version uint64
}

type boundHandler struct {
	component string
	handler   Handler
	deps      []string
	// seen is the version of each dependency consumed by the last run.
	seen map[string]uint64
}

func (bh *boundHandler) name() string {
	return bh.component + "." + bh.handler.Name
}

// Bus is an in-memory host for components. Every slot buffers only its newest value.
// Publishing to a slot forwards the value along connections and runs, synchronously,
// every handler whose dependencies all hold a value newer than the one its last run saw.
// When several handlers of one component are ready at once, only the most specific ones
// run: a handler whose dependencies are a strict subset of another ready handler's is
// skipped and its freshness is consumed.
type Bus struct {
	mu          sync.Mutex
	logger      logging.Logger
	version     uint64
	values      map[string]slotValue
	handlers    []*boundHandler
	connections map[string][]string
	subscribers map[string][]func(interface{})
}

// NewBus returns an empty bus.
func NewBus(logger logging.Logger) *Bus {
	return &Bus{
		logger:      logger,
		values:      map[string]slotValue{},
		connections: map[string][]string{},
		subscribers: map[string][]func(interface{}){},
	}
}

// SlotName returns the bus wide name of a component's slot.
func SlotName(component, slot string) string {
	return component + "." + slot
}

// RegisterComponent binds every handler of c. Slots of c are addressed on the bus as
// SlotName(name, slot).
func (b *Bus) RegisterComponent(name string, c Component) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if lo.ContainsBy(b.handlers, func(bh *boundHandler) bool { return bh.component == name }) {
		return errors.Errorf("component %q already registered", name)
	}
	for _, h := range c.Handlers() {
		if h.Fn == nil {
			return errors.Errorf("handler %q of %q has no function", h.Name, name)
		}
		if len(h.Dependencies) == 0 {
			return errors.Errorf("handler %q of %q has no dependencies", h.Name, name)
		}
		b.handlers = append(b.handlers, &boundHandler{
			component: name,
			handler:   h,
			deps:      lo.Map(h.Dependencies, func(dep string, _ int) string { return SlotName(name, dep) }),
			seen:      map[string]uint64{},
		})
	}
	return nil
}

// Connect forwards every value published on from to to as well.
func (b *Bus) Connect(from, to string) error {
	if from == to {
		return errors.Errorf("cannot connect %q to itself", from)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if lo.Contains(b.connections[from], to) {
		return errors.Errorf("%q is already connected to %q", from, to)
	}
	b.connections[from] = append(b.connections[from], to)
	return nil
}

// Subscribe calls fn with every value published on slot.
func (b *Bus) Subscribe(slot string, fn func(interface{})) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[slot] = append(b.subscribers[slot], fn)
}

// Latest returns the newest value of slot.
func (b *Bus) Latest(slot string) (interface{}, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.values[slot]
	return v.value, ok
}

// Publish stores value on slot and runs whatever became ready. The returned error
// combines the failures of every handler run as a consequence.
func (b *Bus) Publish(ctx context.Context, slot string, value interface{}) error {
	touched := b.store(slot, value, map[string]bool{})
	return b.dispatch(ctx, touched)
}

// PublishAll stores every value before running anything, so handlers see the batch as a
// single frame.
func (b *Bus) PublishAll(ctx context.Context, values map[string]interface{}) error {
	slots := lo.Keys(values)
	sort.Strings(slots)
	var touched []string
	for _, slot := range slots {
		touched = append(touched, b.store(slot, values[slot], map[string]bool{})...)
	}
	return b.dispatch(ctx, lo.Uniq(touched))
}

// store records value on slot and everything connected to it, returning the names of all
// updated slots.
func (b *Bus) store(slot string, value interface{}, visited map[string]bool) []string {
	if visited[slot] {
		return nil
	}
	visited[slot] = true

	b.mu.Lock()
	b.version++
	b.values[slot] = slotValue{value: value, version: b.version}
	subs := append([]func(interface{}){}, b.subscribers[slot]...)
	next := append([]string{}, b.connections[slot]...)
	b.mu.Unlock()

	for _, fn := range subs {
		fn(value)
	}
	touched := []string{slot}
	for _, to := range next {
		touched = append(touched, b.store(to, value, visited)...)
	}
	return touched
}

func (b *Bus) dispatch(ctx context.Context, touched []string) error {
	var errs error
	for _, bh := range b.ready(touched) {
		if err := ctx.Err(); err != nil {
			return multierr.Combine(errs, err)
		}
		b.logger.Debugw("running handler", "handler", bh.name())
		sink := &busSink{ctx: ctx, bus: b, component: bh.component}
		if err := bh.handler.Fn(ctx, &busSource{bus: b, component: bh.component}, sink); err != nil {
			errs = multierr.Combine(errs, errors.Wrapf(err, "handler %q", bh.name()))
		}
		errs = multierr.Combine(errs, sink.errs)
	}
	return errs
}

// ready selects the handlers to run after touched slots changed and marks their inputs
// consumed.
func (b *Bus) ready(touched []string) []*boundHandler {
	b.mu.Lock()
	defer b.mu.Unlock()

	var candidates []*boundHandler
	for _, bh := range b.handlers {
		if !lo.Some(bh.deps, touched) {
			continue
		}
		if lo.EveryBy(bh.deps, func(dep string) bool {
			v, ok := b.values[dep]
			return ok && v.version > bh.seen[dep]
		}) {
			candidates = append(candidates, bh)
		}
	}

	var toRun []*boundHandler
	for _, bh := range candidates {
		for _, dep := range bh.deps {
			bh.seen[dep] = b.values[dep].version
		}
		shadowed := lo.ContainsBy(candidates, func(other *boundHandler) bool {
			return other != bh && other.component == bh.component &&
				len(other.deps) > len(bh.deps) && lo.Every(other.deps, bh.deps)
		})
		if shadowed {
			b.logger.Debugw("skipping handler shadowed by a more specific one", "handler", bh.name())
			continue
		}
		toRun = append(toRun, bh)
	}
	return toRun
}

type busSource struct {
	bus       *Bus
	component string
}

func (s *busSource) Read(slot string) (interface{}, error) {
	v, ok := s.bus.Latest(SlotName(s.component, slot))
	if !ok {
		return nil, errors.Wrap(ErrSlotEmpty, slot)
	}
	return v, nil
}

type busSink struct {
	ctx       context.Context
	bus       *Bus
	component string
	errs      error
}

// Write publishes value; failures of downstream handlers are reported by the publishing
// handler's dispatch rather than to the writer.
func (s *busSink) Write(slot string, value interface{}) error {
	s.errs = multierr.Combine(s.errs, s.bus.Publish(s.ctx, SlotName(s.component, slot), value))
	return nil
}
