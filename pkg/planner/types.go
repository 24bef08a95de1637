// Package planner validates and installs whole plans. The Validator runs
// every selected component against a simulated file tree and collects all
// issues in one pass; the Installer runs the same instructions against the
// real file system.
package planner

import (
	"sync"

	"github.com/glorpus-work/modkit/pkg/model"
)

// Event phases.
const (
	PhaseValidating  = "validating"
	PhaseInstalling  = "installing"
	PhaseInstruction = "instruction"
	PhaseFailed      = "failed"
	PhaseDone        = "done"
)

// Event represents a simple progress notification.
type Event struct {
	Phase     string // validating|installing|instruction|failed|done
	Component string
	Index     int // 1-based instruction index, 0 for component events
	Msg       string
}

// Hooks carries callbacks for progress events. OnEvent calls are serialized.
type Hooks struct {
	OnEvent func(Event)
}

// Options control validation and installation.
type Options struct {
	// ModDirectory and GameDirectory are exposed to component hook scripts.
	ModDirectory  string
	GameDirectory string
	// MultiThreaded validates components without a dependency path between
	// them concurrently, each group on its own snapshot.
	MultiThreaded bool
	MaxParallel   int
	Hooks         Hooks
}

// Report is the outcome of validating or installing a plan.
type Report struct {
	Issues []model.ValidationIssue
	Valid  bool
	// Failed lists the components that did not install, in plan order.
	Failed []string
}

// Errors returns the error-severity issues.
func (r *Report) Errors() []model.ValidationIssue {
	return r.filter(model.SeverityError)
}

// Warnings returns the warning-severity issues.
func (r *Report) Warnings() []model.ValidationIssue {
	return r.filter(model.SeverityWarning)
}

// ExitCode maps the report to a process exit status.
func (r *Report) ExitCode() int {
	if len(r.Errors()) > 0 || len(r.Failed) > 0 {
		return 1
	}
	return 0
}

func (r *Report) filter(s model.Severity) []model.ValidationIssue {
	var out []model.ValidationIssue
	for _, issue := range r.Issues {
		if issue.Severity == s {
			out = append(out, issue)
		}
	}
	return out
}

func (r *Report) add(issues ...model.ValidationIssue) {
	r.Issues = append(r.Issues, issues...)
}

func (r *Report) finish() *Report {
	r.Valid = len(r.Errors()) == 0 && len(r.Failed) == 0
	return r
}

type emitter struct {
	mu    sync.Mutex
	hooks Hooks
}

func (e *emitter) emit(ev Event) {
	if e.hooks.OnEvent == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hooks.OnEvent(ev)
}
