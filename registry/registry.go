// Package registry operates the global registry of processor models.
package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/depthcloud/config"
	"go.viam.com/depthcloud/logging"
	"go.viam.com/depthcloud/stream"
	"go.viam.com/depthcloud/utils"
)

type (
	// A CreateProcessor creates a processor from a given config. conf.ConvertedAttributes
	// holds the result of the registration's AttributeMapConverter, if any.
	CreateProcessor func(ctx context.Context, conf config.Component, logger logging.Logger) (stream.Component, error)

	// An AttributeMapConverter converts raw attributes into a native config.
	AttributeMapConverter func(attributes utils.AttributeMap) (interface{}, error)
)

// Processor stores a processor constructor (mandatory) and an attribute converter.
type Processor struct {
	Constructor           CreateProcessor
	AttributeMapConverter AttributeMapConverter
}

var (
	registryMu        sync.RWMutex
	processorRegistry = map[string]Processor{}
)

// RegisterProcessor registers a processor model to a registration.
func RegisterProcessor(model string, registration Processor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, old := processorRegistry[model]; old {
		panic(errors.Errorf("trying to register two processors with same model %s", model))
	}
	if registration.Constructor == nil {
		panic(errors.Errorf("cannot register a nil constructor for processor model %s", model))
	}
	processorRegistry[model] = registration
}

// ProcessorLookup looks up a processor registration by the given model. nil is returned
// if there is no registration.
func ProcessorLookup(model string) *Processor {
	registryMu.RLock()
	defer registryMu.RUnlock()
	registration, ok := processorRegistry[model]
	if !ok {
		return nil
	}
	return &registration
}

// RegisteredModels returns the registered processor models in lexical order.
func RegisteredModels() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	models := lo.Keys(processorRegistry)
	sort.Strings(models)
	return models
}

// ConvertAttributes returns an AttributeMapConverter decoding attributes into a T.
func ConvertAttributes[T any]() AttributeMapConverter {
	return func(attributes utils.AttributeMap) (interface{}, error) {
		return config.TransformAttributeMap[T](attributes)
	}
}

// NewProcessor converts the attributes of conf, validates it, and constructs the
// processor it describes.
func NewProcessor(ctx context.Context, conf config.Component, logger logging.Logger) (stream.Component, error) {
	registration := ProcessorLookup(conf.Model)
	if registration == nil {
		return nil, errors.Errorf("unknown processor model %q", conf.Model)
	}
	if registration.AttributeMapConverter != nil {
		converted, err := registration.AttributeMapConverter(conf.Attributes)
		if err != nil {
			return nil, errors.Wrapf(err, "error converting attributes of %q", conf.Name)
		}
		conf.ConvertedAttributes = converted
	}
	if err := conf.Validate(conf.Name); err != nil {
		return nil, err
	}
	return registration.Constructor(ctx, conf, logger.Sublogger(conf.Name))
}
