package hooks

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/stdlib"

	"github.com/glorpus-work/modkit/internal/logger"
	"github.com/glorpus-work/modkit/pkg/errors"
	"github.com/glorpus-work/modkit/pkg/model"
)

var scriptModules = []string{"fmt", "os", "text", "times"}

// TengoExecutor handles the compilation and execution of Tengo scripts.
type TengoExecutor struct {
	scripts map[HookType]string
	mutex   sync.RWMutex
}

// NewTengoExecutor creates a new Tengo script executor.
func NewTengoExecutor() *TengoExecutor {
	return &TengoExecutor{
		scripts: make(map[HookType]string),
	}
}

// ForComponent creates an executor loaded with the hooks of c.
func ForComponent(c *model.Component) *TengoExecutor {
	e := NewTengoExecutor()
	for _, h := range ComponentHooks(c) {
		e.AddScript(h.Type, h.Content)
	}
	return e
}

// Compile checks every registered script without running it.
func (e *TengoExecutor) Compile(hctx Context) error {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	for _, hookType := range e.typesLocked() {
		script, err := newScript(e.scripts[hookType], hctx)
		if err != nil {
			return err
		}
		if _, err := script.Compile(); err != nil {
			return fmt.Errorf("%s: %w: %w", hookType, errors.ErrHookCompile, err)
		}
	}
	return nil
}

// Execute runs the script registered for hookType. A missing script is not
// an error. A script signals failure by setting the variable err to a
// non-empty string or an error value.
func (e *TengoExecutor) Execute(ctx context.Context, hookType HookType, hctx Context) error {
	e.mutex.RLock()
	source, exists := e.scripts[hookType]
	e.mutex.RUnlock()
	if !exists {
		return nil
	}

	logger.Debug("Running hook", logger.Fields{
		"hook":      string(hookType),
		"component": hctx.ComponentName,
	})

	script, err := newScript(source, hctx)
	if err != nil {
		return err
	}

	compiled, err := script.RunContext(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", hookType, errors.ErrHookExecution, err)
	}

	errVar := compiled.Get("err")
	if errVar != nil {
		switch v := errVar.Value().(type) {
		case error:
			return fmt.Errorf("%s: %w: %w", hookType, errors.ErrHookScript, v)
		case string:
			if v != "" {
				return fmt.Errorf("%s: %w: %s", hookType, errors.ErrHookScript, v)
			}
		}
	}

	return nil
}

// AddScript adds or updates a script for the specified hook type.
func (e *TengoExecutor) AddScript(hookType HookType, script string) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.scripts[hookType] = script
}

// RemoveScript removes the script for the specified hook type.
func (e *TengoExecutor) RemoveScript(hookType HookType) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	delete(e.scripts, hookType)
}

// HasScript checks if a script exists for the specified hook type.
func (e *TengoExecutor) HasScript(hookType HookType) bool {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	_, exists := e.scripts[hookType]
	return exists
}

func (e *TengoExecutor) typesLocked() []HookType {
	types := make([]HookType, 0, len(e.scripts))
	for t := range e.scripts {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func newScript(source string, hctx Context) (*tengo.Script, error) {
	script := tengo.NewScript([]byte(source))
	script.SetImports(stdlib.GetModuleMap(scriptModules...))

	vars := map[string]interface{}{
		"componentName": hctx.ComponentName,
		"componentID":   hctx.ComponentID,
		"modDirectory":  hctx.ModDirectory,
		"gameDirectory": hctx.GameDirectory,
		"dryRun":        hctx.DryRun,
	}
	for k, v := range hctx.Vars {
		vars[k] = v
	}
	for k, v := range vars {
		if err := script.Add(k, v); err != nil {
			return nil, fmt.Errorf("failed to add variable '%s' to script: %w", k, err)
		}
	}
	return script, nil
}
