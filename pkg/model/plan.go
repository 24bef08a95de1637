package model

import (
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/glorpus-work/modkit/pkg/errors"
)

// Plan is an ordered list of components as read from a plan file.
type Plan struct {
	Components []*Component `yaml:"components"`
}

// LoadPlan reads a YAML plan file.
func LoadPlan(path string) (*Plan, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open plan file %s", path)
	}
	defer func() { _ = file.Close() }()
	return LoadPlanFromReader(file)
}

// LoadPlanFromReader decodes a YAML plan and checks component identities.
func LoadPlanFromReader(r io.Reader) (*Plan, error) {
	var plan Plan
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&plan); err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: %w", errors.ErrPlanParse, err)
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrPlanParse, err)
	}
	return &plan, nil
}

// Validate checks that every component is well formed and ids are unique.
func (p *Plan) Validate() error {
	seen := make(map[uuid.UUID]string, len(p.Components))
	for i, c := range p.Components {
		if c == nil {
			return fmt.Errorf("component %d is empty", i)
		}
		if err := c.Validate(); err != nil {
			return err
		}
		if other, dup := seen[c.ID]; dup {
			return fmt.Errorf("components %q and %q share id %s", other, c.Name, c.ID)
		}
		seen[c.ID] = c.Name
	}
	return nil
}

// Selected returns the selected components in declared order.
func (p *Plan) Selected() []*Component {
	out := make([]*Component, 0, len(p.Components))
	for _, c := range p.Components {
		if c.Selected {
			out = append(out, c)
		}
	}
	return out
}
