// Package stream models the host a processing component runs in: named input slots
// holding the newest value published to them, named output slots, and handlers that run
// once every slot they depend on holds a fresh value.
package stream

import (
	"context"

	"github.com/pkg/errors"

	"go.viam.com/depthcloud/utils"
)

// ErrSlotEmpty is returned when reading a slot nothing has been published to.
var ErrSlotEmpty = errors.New("slot has no value")

// Source gives a handler the newest value of each of its input slots.
type Source interface {
	Read(slot string) (interface{}, error)
}

// Sink receives the values a handler produces on its output slots.
type Sink interface {
	Write(slot string, value interface{}) error
}

// ReadAs reads slot and asserts the value is a T.
func ReadAs[T any](src Source, slot string) (T, error) {
	var zero T
	v, err := src.Read(slot)
	if err != nil {
		return zero, err
	}
	typed, err := utils.AssertType[T](v)
	if err != nil {
		return zero, errors.Wrapf(err, "reading %q", slot)
	}
	return typed, nil
}

// HandlerFunc does the work of a handler.
type HandlerFunc func(ctx context.Context, in Source, out Sink) error

// Handler is a unit of work of a component along with the input slots it needs.
type Handler struct {
	Name         string
	Dependencies []string
	Fn           HandlerFunc
}

// Component is anything that exposes handlers.
type Component interface {
	Handlers() []Handler
}

// MapSource is a Source backed by a map. It is handy to drive a handler directly.
type MapSource map[string]interface{}

// Read returns the value stored under slot.
func (m MapSource) Read(slot string) (interface{}, error) {
	v, ok := m[slot]
	if !ok {
		return nil, errors.Wrap(ErrSlotEmpty, slot)
	}
	return v, nil
}

// MapSink is a Sink that remembers the last value written to each slot.
type MapSink map[string]interface{}

// Write stores value under slot.
func (m MapSink) Write(slot string, value interface{}) error {
	m[slot] = value
	return nil
}
