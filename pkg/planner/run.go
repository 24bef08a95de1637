package planner

import (
	"context"

	"github.com/google/uuid"

	"github.com/glorpus-work/modkit/pkg/executor"
	"github.com/glorpus-work/modkit/pkg/model"
	"github.com/glorpus-work/modkit/pkg/provider"
)

// write records a path produced by an instruction.
type write struct {
	path  string
	index int
	id    uuid.UUID
}

// componentResult collects everything one component produced.
type componentResult struct {
	issues []model.ValidationIssue
	writes []write
	err    error
}

// componentRun executes a component's instructions in declared order.
// Options picked by a Choose instruction run immediately after it.
type componentRun struct {
	exec   *executor.Executor
	p      provider.Provider
	comp   *model.Component
	events *emitter
	result componentResult
	ran    map[uuid.UUID]bool
}

func runComponent(ctx context.Context, exec *executor.Executor, p provider.Provider, comp *model.Component, events *emitter) componentResult {
	r := &componentRun{
		exec:   exec,
		p:      p,
		comp:   comp,
		events: events,
		ran:    make(map[uuid.UUID]bool),
	}
	for i, in := range comp.Instructions {
		if !r.execute(ctx, i+1, in) {
			break
		}
	}
	return r.result
}

// execute runs one instruction and the options it chooses. It returns false
// when the component must stop.
func (r *componentRun) execute(ctx context.Context, index int, in model.Instruction) bool {
	res, err := r.exec.Execute(ctx, r.p, r.comp, index, in)
	r.result.issues = append(r.result.issues, res.Issues...)
	for _, path := range res.Writes {
		r.result.writes = append(r.result.writes, write{path: path, index: index, id: in.ID})
	}
	r.events.emit(Event{Phase: PhaseInstruction, Component: r.comp.String(), Index: index, Msg: string(in.Action)})

	if err != nil && r.result.err == nil {
		r.result.err = err
	}
	if ctx.Err() != nil || (err != nil && r.p.Kind() == provider.KindReal) {
		return false
	}

	for _, opt := range res.Chosen {
		if r.ran[opt.ID] {
			continue
		}
		r.ran[opt.ID] = true
		for _, oin := range opt.Instructions {
			if !r.execute(ctx, index, oin) {
				return false
			}
		}
	}
	return true
}
