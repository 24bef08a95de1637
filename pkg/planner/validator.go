package planner

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/glorpus-work/modkit/internal/logger"
	"github.com/glorpus-work/modkit/pkg/executor"
	"github.com/glorpus-work/modkit/pkg/model"
	"github.com/glorpus-work/modkit/pkg/provider"
)

// Validator performs dry runs of a plan.
type Validator struct {
	exec   *executor.Executor
	seed   *provider.VirtualProvider
	opts   Options
	events *emitter
}

// NewValidator creates a Validator. seed is the simulated tree every run
// starts from; it is cloned and never mutated.
func NewValidator(exec *executor.Executor, seed *provider.VirtualProvider, opts Options) *Validator {
	if opts.MaxParallel < 1 {
		opts.MaxParallel = 1
	}
	return &Validator{
		exec:   exec,
		seed:   seed,
		opts:   opts,
		events: &emitter{hooks: opts.Hooks},
	}
}

// Validate simulates every selected component in declared order and
// returns every issue found. It never stops early except on cancellation,
// in which case the partial report is returned with the context's error.
func (v *Validator) Validate(ctx context.Context, plan *model.Plan) (*Report, error) {
	comps := plan.Selected()
	logger.Info("Validating plan", logger.Fields{
		"components": len(comps),
		"parallel":   v.opts.MultiThreaded,
	})

	report := &Report{}
	report.add(checkStructure(plan)...)
	report.add(checkDependencies(plan)...)
	report.add(checkRestrictions(plan)...)

	results := make([]componentResult, len(comps))
	sequential := !v.opts.MultiThreaded || len(comps) < 2
	if !sequential {
		fps := v.validateGroups(ctx, comps, results)
		if ctx.Err() == nil && interferes(fps, v.exec.Resolver().Key) {
			logger.Info("Independent components touch the same paths, validating in order", logger.Fields{
				"components": len(comps),
			})
			sequential = true
		}
	}
	if sequential {
		p := v.seed.Clone()
		for i, c := range comps {
			if ctx.Err() != nil {
				break
			}
			results[i] = v.validateComponent(ctx, p, c)
		}
	}

	for i, c := range comps {
		report.add(checkHooks(c, v.opts)...)
		report.add(results[i].issues...)
	}
	report.add(checkConflicts(v.exec.Resolver(), comps, results)...)

	if err := ctx.Err(); err != nil {
		report.add(model.ValidationIssue{
			Severity: model.SeverityError,
			Category: model.CategoryCancelled,
			Message:  "validation cancelled: " + err.Error(),
		})
		return report.finish(), err
	}

	report.finish()
	logger.Info("Validation finished", logger.Fields{
		"valid":    report.Valid,
		"errors":   len(report.Errors()),
		"warnings": len(report.Warnings()),
	})
	v.events.emit(Event{Phase: PhaseDone, Msg: "validation"})
	return report, nil
}

// validateGroups runs dependency-connected groups concurrently, each on its
// own snapshot of the seed. Results land at the component's plan position.
// The returned footprints tell whether the groups were really independent.
func (v *Validator) validateGroups(ctx context.Context, comps []*model.Component, results []componentResult) []footprint {
	var g errgroup.Group
	g.SetLimit(v.opts.MaxParallel)
	grouped := groups(comps)
	fps := make([]footprint, len(grouped))
	for n, group := range grouped {
		g.Go(func() error {
			p := &recorder{Provider: v.seed.Clone(), fp: &fps[n]}
			for _, i := range group {
				if ctx.Err() != nil {
					return nil
				}
				results[i] = v.validateComponent(ctx, p, comps[i])
			}
			return nil
		})
	}
	_ = g.Wait()
	return fps
}

func (v *Validator) validateComponent(ctx context.Context, p provider.Provider, c *model.Component) componentResult {
	v.events.emit(Event{Phase: PhaseValidating, Component: c.String()})
	logger.Debug("Validating component", logger.Fields{"component": c.String()})
	return runComponent(ctx, v.exec, p, c, v.events)
}
