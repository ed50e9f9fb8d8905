// Package pipeline builds the processors of a config, wires them on a bus and drives
// them with the configured input files.
package pipeline

import (
	"context"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.opencensus.io/trace"
	"go.uber.org/multierr"

	"go.viam.com/depthcloud/config"
	"go.viam.com/depthcloud/logging"
	"go.viam.com/depthcloud/registry"
	"go.viam.com/depthcloud/stream"
)

// FramePlaceholder is replaced by the frame index in output paths.
const FramePlaceholder = "{frame}"

// A Pipeline owns the processors of one config.
type Pipeline struct {
	cfg        *config.Config
	bus        *stream.Bus
	components map[string]stream.Component
	logger     logging.Logger
}

// New constructs every component of cfg and connects them.
func New(ctx context.Context, cfg *config.Config, logger logging.Logger) (*Pipeline, error) {
	if err := cfg.Ensure(); err != nil {
		return nil, err
	}
	p := &Pipeline{
		cfg:        cfg,
		bus:        stream.NewBus(logger.Sublogger("bus")),
		components: map[string]stream.Component{},
		logger:     logger,
	}
	for _, conf := range cfg.Components {
		c, err := registry.NewProcessor(ctx, conf, logger)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot build component %q", conf.Name)
		}
		if err := p.bus.RegisterComponent(conf.Name, c); err != nil {
			return nil, err
		}
		p.components[conf.Name] = c
	}
	for _, conn := range cfg.Connections {
		if err := p.bus.Connect(conn.From, conn.To); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Bus returns the bus the components are wired on.
func (p *Pipeline) Bus() *stream.Bus {
	return p.bus
}

// Component returns the component with the given name.
func (p *Pipeline) Component(name string) (stream.Component, bool) {
	c, ok := p.components[name]
	return c, ok
}

// Frames expands the input paths, which may be glob patterns. Frame i holds the i-th
// file of every input; inputs matching a single file repeat in every frame.
func (p *Pipeline) Frames() ([]map[string]string, error) {
	matches := make([][]string, len(p.cfg.Inputs))
	count := 1
	for i, in := range p.cfg.Inputs {
		files, err := filepath.Glob(in.Path)
		if err != nil {
			return nil, errors.Wrapf(err, "bad input pattern %q", in.Path)
		}
		if len(files) == 0 {
			return nil, errors.Errorf("no file matches input %q", in.Path)
		}
		sort.Strings(files)
		matches[i] = files
		if len(files) > 1 {
			if count > 1 && len(files) != count {
				return nil, errors.Errorf("input %q matches %d files but another input matches %d", in.Path, len(files), count)
			}
			count = len(files)
		}
	}

	frames := make([]map[string]string, count)
	for f := range frames {
		frames[f] = map[string]string{}
		for i, in := range p.cfg.Inputs {
			frames[f][in.Slot] = matches[i][lo.Min([]int{f, len(matches[i]) - 1})]
		}
	}
	return frames, nil
}

// Run publishes every frame of inputs and saves the configured outputs after each.
func (p *Pipeline) Run(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "pipeline::Run")
	defer span.End()

	frames, err := p.Frames()
	if err != nil {
		return err
	}
	kinds := lo.SliceToMap(p.cfg.Inputs, func(in config.Input) (string, config.InputKind) { return in.Slot, in.Kind })
	for f, files := range frames {
		values := map[string]interface{}{}
		for slot, path := range files {
			v, err := LoadInput(kinds[slot], path)
			if err != nil {
				return errors.Wrapf(err, "cannot load %q for %q", path, slot)
			}
			values[slot] = v
		}
		p.logger.Infow("running frame", "frame", f, "inputs", len(values))
		if err := p.bus.PublishAll(ctx, values); err != nil {
			return errors.Wrapf(err, "frame %d", f)
		}
		if err := p.saveOutputs(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) saveOutputs(ctx context.Context, frame int) error {
	var errs error
	for _, out := range p.cfg.Outputs {
		v, ok := p.bus.Latest(out.Slot)
		if !ok {
			errs = multierr.Combine(errs, errors.Errorf("output slot %q has no value", out.Slot))
			continue
		}
		path := strings.ReplaceAll(out.Path, FramePlaceholder, strconv.Itoa(frame))
		if err := SaveOutput(ctx, v, path, p.logger); err != nil {
			errs = multierr.Combine(errs, errors.Wrapf(err, "cannot save %q", out.Slot))
			continue
		}
		p.logger.Debugw("saved output", "slot", out.Slot, "path", path)
	}
	return errs
}
