// Package hooks runs the Tengo scripts a component may carry around its
// instructions. Dry runs only compile the scripts; real installs run them.
package hooks

import (
	"github.com/glorpus-work/modkit/pkg/model"
)

// HookType represents the point at which a hook runs.
type HookType string

// Supported hook types.
const (
	PreInstall  HookType = "pre_install"
	PostInstall HookType = "post_install"
)

// Hook represents a hook script with its type and content.
type Hook struct {
	Type    HookType
	Content string
}

// Context contains the values exposed to hook scripts.
type Context struct {
	ComponentName string
	ComponentID   string
	ModDirectory  string
	GameDirectory string
	DryRun        bool
	Vars          map[string]interface{}
}

// ComponentHooks returns the non-empty hooks declared by c in run order.
func ComponentHooks(c *model.Component) []Hook {
	var out []Hook
	if c.Hooks.PreInstall != "" {
		out = append(out, Hook{Type: PreInstall, Content: c.Hooks.PreInstall})
	}
	if c.Hooks.PostInstall != "" {
		out = append(out, Hook{Type: PostInstall, Content: c.Hooks.PostInstall})
	}
	return out
}

// NewContext builds the script context for c.
func NewContext(c *model.Component, modDir, gameDir string, dryRun bool) Context {
	return Context{
		ComponentName: c.Name,
		ComponentID:   c.ID.String(),
		ModDirectory:  modDir,
		GameDirectory: gameDir,
		DryRun:        dryRun,
	}
}
