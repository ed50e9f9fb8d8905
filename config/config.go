// Package config defines the structures to configure a pipeline of processors and the
// files feeding and collecting it.
package config

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/depthcloud/utils"
)

// InputKind names how an input file is decoded before being published.
type InputKind string

// The known input kinds.
const (
	InputKindDepth      = InputKind("depth")
	InputKindXYZ        = InputKind("xyz")
	InputKindColor      = InputKind("color")
	InputKindMask       = InputKind("mask")
	InputKindIntrinsics = InputKind("intrinsics")
	InputKindCloud      = InputKind("cloud")
	InputKindTransform  = InputKind("transform")
)

// InputKinds lists every valid InputKind.
var InputKinds = []InputKind{
	InputKindDepth, InputKindXYZ, InputKindColor, InputKindMask,
	InputKindIntrinsics, InputKindCloud, InputKindTransform,
}

// A Config describes the processors of a pipeline and how data flows between them.
type Config struct {
	Components  []Component  `json:"components,omitempty"`
	Connections []Connection `json:"connections,omitempty"`
	Inputs      []Input      `json:"inputs,omitempty"`
	Outputs     []Output     `json:"outputs,omitempty"`
}

// A Component describes one processor instance.
type Component struct {
	Name       string             `json:"name"`
	Model      string             `json:"model"`
	Attributes utils.AttributeMap `json:"attributes,omitempty"`

	ConvertedAttributes interface{} `json:"-"`
}

// A Connection forwards every value of one slot to another. Slots are written as
// "<component>.<slot>".
type Connection struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// An Input loads a file and publishes it on a slot.
type Input struct {
	Slot string    `json:"slot"`
	Kind InputKind `json:"kind"`
	Path string    `json:"path"`
}

// An Output saves the newest value of a slot to a file once the pipeline ran.
type Output struct {
	Slot string `json:"slot"`
	Path string `json:"path"`
}

// A Validator validates a converted configuration.
type Validator interface {
	Validate(path string) error
}

// Validate ensures all parts of the component are valid.
func (conf *Component) Validate(path string) error {
	if conf.Name == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "name")
	}
	if strings.Contains(conf.Name, ".") {
		return utils.NewConfigValidationError(path, errors.Errorf("name %q must not contain a '.'", conf.Name))
	}
	if conf.Model == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "model")
	}
	if v, ok := conf.ConvertedAttributes.(Validator); ok {
		if err := v.Validate(path); err != nil {
			return err
		}
	}
	return nil
}

// ParseSlot splits a "<component>.<slot>" reference.
func ParseSlot(ref string) (string, string, error) {
	component, slot, ok := strings.Cut(ref, ".")
	if !ok || component == "" || slot == "" {
		return "", "", errors.Errorf("slot %q must look like <component>.<slot>", ref)
	}
	return component, slot, nil
}

// Ensure ensures all parts of the config are valid and that every slot reference names
// a configured component.
func (c *Config) Ensure() error {
	names := map[string]bool{}
	for idx := range c.Components {
		path := fmt.Sprintf("%s.%d", "components", idx)
		if err := c.Components[idx].Validate(path); err != nil {
			return err
		}
		if names[c.Components[idx].Name] {
			return errors.Errorf("component name %q is not unique", c.Components[idx].Name)
		}
		names[c.Components[idx].Name] = true
	}

	checkSlot := func(path, ref string) error {
		component, _, err := ParseSlot(ref)
		if err != nil {
			return utils.NewConfigValidationError(path, err)
		}
		if !names[component] {
			return utils.NewConfigValidationError(path, errors.Errorf("unknown component %q", component))
		}
		return nil
	}

	for idx, conn := range c.Connections {
		path := fmt.Sprintf("%s.%d", "connections", idx)
		if err := checkSlot(path, conn.From); err != nil {
			return err
		}
		if err := checkSlot(path, conn.To); err != nil {
			return err
		}
	}
	for idx, in := range c.Inputs {
		path := fmt.Sprintf("%s.%d", "inputs", idx)
		if in.Path == "" {
			return utils.NewConfigValidationFieldRequiredError(path, "path")
		}
		if !lo.Contains(InputKinds, in.Kind) {
			return utils.NewConfigValidationError(path, errors.Errorf("unknown kind %q", in.Kind))
		}
		if err := checkSlot(path, in.Slot); err != nil {
			return err
		}
	}
	for idx, out := range c.Outputs {
		path := fmt.Sprintf("%s.%d", "outputs", idx)
		if out.Path == "" {
			return utils.NewConfigValidationFieldRequiredError(path, "path")
		}
		if err := checkSlot(path, out.Slot); err != nil {
			return err
		}
	}
	return nil
}
