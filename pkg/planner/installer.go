package planner

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/glorpus-work/modkit/internal/logger"
	"github.com/glorpus-work/modkit/pkg/errors"
	"github.com/glorpus-work/modkit/pkg/executor"
	"github.com/glorpus-work/modkit/pkg/hooks"
	"github.com/glorpus-work/modkit/pkg/model"
	"github.com/glorpus-work/modkit/pkg/provider"
)

// Installer executes a plan against the real file system.
type Installer struct {
	exec      *executor.Executor
	p         provider.Provider
	validator *Validator
	opts      Options
	events    *emitter
}

// NewInstaller creates an Installer. When validator is non-nil the plan is
// validated first and nothing is touched unless it is valid.
func NewInstaller(exec *executor.Executor, p provider.Provider, validator *Validator, opts Options) *Installer {
	return &Installer{
		exec:      exec,
		p:         p,
		validator: validator,
		opts:      opts,
		events:    &emitter{hooks: opts.Hooks},
	}
}

// Install runs every selected component in declared order. A failing
// component stops only itself; components depending on it are skipped.
func (in *Installer) Install(ctx context.Context, plan *model.Plan) (*Report, error) {
	report := &Report{}
	if in.validator != nil {
		validation, err := in.validator.Validate(ctx, plan)
		if err != nil {
			return validation, err
		}
		if !validation.Valid {
			return validation, errors.Wrapf(errors.ErrValidationFailed, "%d errors", len(validation.Errors()))
		}
		report.add(validation.Issues...)
	}

	failed := make(map[uuid.UUID]bool)
	for _, c := range plan.Selected() {
		if err := ctx.Err(); err != nil {
			report.add(model.ValidationIssue{
				Severity: model.SeverityError,
				Category: model.CategoryCancelled,
				Message:  "installation cancelled: " + err.Error(),
			})
			return report.finish(), err
		}

		if dep := failedDependency(c, failed); dep != uuid.Nil {
			failed[c.ID] = true
			report.Failed = append(report.Failed, c.String())
			report.add(componentIssue(c, model.SeverityError, model.CategoryDependency,
				fmt.Sprintf("skipped because dependency %s did not install", dep)))
			in.events.emit(Event{Phase: PhaseFailed, Component: c.String(), Msg: "dependency failed"})
			continue
		}

		issues, err := in.installComponent(ctx, c)
		report.add(issues...)
		if err != nil {
			failed[c.ID] = true
			report.Failed = append(report.Failed, c.String())
			logger.Error("Component failed", logger.Fields{"component": c.String(), "error": err.Error()})
			in.events.emit(Event{Phase: PhaseFailed, Component: c.String(), Msg: err.Error()})
			continue
		}
		logger.Success(fmt.Sprintf("Installed %s", c))
	}

	in.events.emit(Event{Phase: PhaseDone, Msg: "install"})
	return report.finish(), nil
}

func (in *Installer) installComponent(ctx context.Context, c *model.Component) ([]model.ValidationIssue, error) {
	in.events.emit(Event{Phase: PhaseInstalling, Component: c.String()})
	logger.Info("Installing component", logger.Fields{"component": c.String()})

	scripts := hooks.ForComponent(c)
	hctx := hooks.NewContext(c, in.opts.ModDirectory, in.opts.GameDirectory, false)

	if err := scripts.Execute(ctx, hooks.PreInstall, hctx); err != nil {
		return []model.ValidationIssue{componentIssue(c, model.SeverityError, model.CategoryHook, err.Error())}, err
	}

	res := runComponent(ctx, in.exec, in.p, c, in.events)
	if res.err != nil {
		return res.issues, res.err
	}

	if err := scripts.Execute(ctx, hooks.PostInstall, hctx); err != nil {
		return append(res.issues, componentIssue(c, model.SeverityError, model.CategoryHook, err.Error())), err
	}
	return res.issues, nil
}

func failedDependency(c *model.Component, failed map[uuid.UUID]bool) uuid.UUID {
	for _, dep := range c.Dependencies {
		if failed[dep] {
			return dep
		}
	}
	return uuid.Nil
}
