// Package model provides the data structures describing an installation plan:
// components, their options and instructions, and the validation issues a dry
// run produces for them.
package model

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-version"
	"gopkg.in/yaml.v3"
)

// Component is one installable mod package.
type Component struct {
	ID           uuid.UUID     `yaml:"id"`
	Name         string        `yaml:"name"`
	Version      string        `yaml:"version,omitempty"`
	Description  string        `yaml:"description,omitempty"`
	Instructions []Instruction `yaml:"instructions"`
	Options      []Option      `yaml:"options,omitempty"`
	// Dependencies must be installed before this component.
	Dependencies []uuid.UUID `yaml:"dependencies,omitempty"`
	// Restrictions are components that cannot be installed together with this one.
	Restrictions []uuid.UUID `yaml:"restrictions,omitempty"`
	Selected     bool        `yaml:"selected"`
	Hooks        Hooks       `yaml:"hooks,omitempty"`
	// Resources are downloaded into the mod directory before installing.
	Resources []Resource `yaml:"resources,omitempty"`
}

// Resource is a file a component needs from the network.
type Resource struct {
	URL      string `yaml:"url"`
	SHA256   string `yaml:"sha256,omitempty"`
	FileName string `yaml:"file_name,omitempty"`
	// Metadata is passed through to the resource registry, e.g. a host's
	// file id.
	Metadata map[string]string `yaml:"metadata,omitempty"`
}

// Option is one of a component's mutually exclusive sub-groups. Its
// instructions only run when a Choose instruction names it.
type Option struct {
	ID           uuid.UUID     `yaml:"id"`
	Name         string        `yaml:"name"`
	Description  string        `yaml:"description,omitempty"`
	Instructions []Instruction `yaml:"instructions"`
}

// Hooks holds Tengo scripts run around a component's instructions.
type Hooks struct {
	PreInstall  string `yaml:"pre_install,omitempty"`
	PostInstall string `yaml:"post_install,omitempty"`
}

// UnmarshalYAML decodes a component, defaulting Selected to true when the
// key is absent. Unknown keys are rejected at every level, because
// yaml.Node.Decode does not inherit the outer decoder's KnownFields.
func (c *Component) UnmarshalYAML(node *yaml.Node) error {
	type plain Component
	raw := plain{Selected: true}
	data, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*c = Component(raw)
	return nil
}

// String returns a human readable label, preferring the name.
func (c *Component) String() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID.String()
}

// Option returns the option with the given id, or nil.
func (c *Component) Option(id uuid.UUID) *Option {
	for i := range c.Options {
		if c.Options[i].ID == id {
			return &c.Options[i]
		}
	}
	return nil
}

// DependsOn reports whether id is listed in the component's dependencies.
func (c *Component) DependsOn(id uuid.UUID) bool {
	for _, dep := range c.Dependencies {
		if dep == id {
			return true
		}
	}
	return false
}

// GetVersion returns the parsed component version, or nil when it is unset or invalid.
func (c *Component) GetVersion() *version.Version {
	if strings.TrimSpace(c.Version) == "" {
		return nil
	}
	v, err := version.NewVersion(c.Version)
	if err != nil {
		return nil
	}
	return v
}

// Validate checks the component's identity fields. Instruction payloads are
// checked separately so that a dry run can report every defect at once.
func (c *Component) Validate() error {
	if c.ID == uuid.Nil {
		return fmt.Errorf("component %q has no id", c.Name)
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("component %s has no name", c.ID)
	}
	if c.Version != "" {
		if _, err := version.NewVersion(c.Version); err != nil {
			return fmt.Errorf("component %s has invalid version %q: %w", c.Name, c.Version, err)
		}
	}
	for _, r := range c.Resources {
		if strings.TrimSpace(r.URL) == "" {
			return fmt.Errorf("component %s has a resource without url", c.Name)
		}
	}
	seen := make(map[uuid.UUID]bool, len(c.Options))
	for _, opt := range c.Options {
		if opt.ID == uuid.Nil {
			return fmt.Errorf("component %s has an option without id", c.Name)
		}
		if seen[opt.ID] {
			return fmt.Errorf("component %s declares option %s twice", c.Name, opt.ID)
		}
		seen[opt.ID] = true
	}
	return nil
}
