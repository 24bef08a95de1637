package planner

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/glorpus-work/modkit/pkg/hooks"
	"github.com/glorpus-work/modkit/pkg/model"
	"github.com/glorpus-work/modkit/pkg/resolve"
)

func componentIssue(c *model.Component, severity model.Severity, category, msg string) model.ValidationIssue {
	return model.ValidationIssue{
		Severity:      severity,
		Category:      category,
		Message:       msg,
		ComponentID:   c.ID,
		ComponentName: c.Name,
	}
}

// checkStructure reports components whose identity fields are malformed.
func checkStructure(plan *model.Plan) []model.ValidationIssue {
	var issues []model.ValidationIssue
	for _, c := range plan.Selected() {
		if err := c.Validate(); err != nil {
			issues = append(issues, componentIssue(c, model.SeverityError, model.CategoryInvalidComponent, err.Error()))
		}
	}
	return issues
}

// checkDependencies reports dependencies that are unknown, not selected or
// listed after the component that needs them. Components are never
// reordered.
func checkDependencies(plan *model.Plan) []model.ValidationIssue {
	position := make(map[uuid.UUID]int, len(plan.Components))
	for i, c := range plan.Components {
		position[c.ID] = i
	}

	var issues []model.ValidationIssue
	for i, c := range plan.Components {
		if !c.Selected {
			continue
		}
		for _, dep := range c.Dependencies {
			j, ok := position[dep]
			switch {
			case !ok:
				issues = append(issues, componentIssue(c, model.SeverityError, model.CategoryDependency,
					fmt.Sprintf("depends on unknown component %s", dep)))
			case !plan.Components[j].Selected:
				issues = append(issues, componentIssue(c, model.SeverityError, model.CategoryDependency,
					fmt.Sprintf("requires %s which is not selected", plan.Components[j])))
			case j > i:
				issues = append(issues, componentIssue(c, model.SeverityError, model.CategoryDependency,
					fmt.Sprintf("must be installed after %s but is listed before it", plan.Components[j])))
			}
		}
	}
	return issues
}

// checkRestrictions reports every pair of selected components that cannot
// be installed together. Each pair is reported once.
func checkRestrictions(plan *model.Plan) []model.ValidationIssue {
	byID := make(map[uuid.UUID]*model.Component, len(plan.Components))
	for _, c := range plan.Components {
		byID[c.ID] = c
	}
	type pair struct{ a, b uuid.UUID }
	seen := make(map[pair]bool)

	var issues []model.ValidationIssue
	for _, c := range plan.Components {
		if !c.Selected {
			continue
		}
		for _, id := range c.Restrictions {
			other, ok := byID[id]
			if !ok || !other.Selected || other.ID == c.ID {
				continue
			}
			if seen[pair{c.ID, other.ID}] || seen[pair{other.ID, c.ID}] {
				continue
			}
			seen[pair{c.ID, other.ID}] = true
			issues = append(issues, componentIssue(c, model.SeverityError, model.CategoryRestriction,
				fmt.Sprintf("cannot be installed together with %s", other)))
		}
	}
	return issues
}

// checkHooks compiles the hook scripts of c.
func checkHooks(c *model.Component, opts Options) []model.ValidationIssue {
	if len(hooks.ComponentHooks(c)) == 0 {
		return nil
	}
	hctx := hooks.NewContext(c, opts.ModDirectory, opts.GameDirectory, true)
	if err := hooks.ForComponent(c).Compile(hctx); err != nil {
		return []model.ValidationIssue{componentIssue(c, model.SeverityError, model.CategoryHook, err.Error())}
	}
	return nil
}

// checkConflicts reports paths written by more than one component. The
// later writer wins, so the conflict is a warning attributed to it. Writes
// that collided without overwrite already failed as destination-exists.
func checkConflicts(res *resolve.Resolver, comps []*model.Component, results []componentResult) []model.ValidationIssue {
	type owner struct {
		comp *model.Component
		path string
	}
	owners := make(map[string]owner)

	var issues []model.ValidationIssue
	for i, c := range comps {
		reported := make(map[string]bool)
		for _, w := range results[i].writes {
			key := res.Key(w.path)
			prev, ok := owners[key]
			if ok && prev.comp.ID != c.ID && !reported[key] {
				reported[key] = true
				issues = append(issues, model.ValidationIssue{
					Severity:         model.SeverityWarning,
					Category:         model.CategoryOverwriteConflict,
					Message:          fmt.Sprintf("%s was already written by %s", w.path, prev.comp),
					ComponentID:      c.ID,
					ComponentName:    c.Name,
					InstructionID:    w.id,
					InstructionIndex: w.index,
				})
			}
			owners[key] = owner{comp: c, path: w.path}
		}
	}
	return issues
}

// groups partitions the components into sets connected by dependency
// edges. Groups and their members keep plan order.
func groups(comps []*model.Component) [][]int {
	parent := make([]int, len(comps))
	for i := range parent {
		parent[i] = i
	}
	find := func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}

	index := make(map[uuid.UUID]int, len(comps))
	for i, c := range comps {
		index[c.ID] = i
	}
	for i, c := range comps {
		for _, dep := range c.Dependencies {
			if j, ok := index[dep]; ok {
				a, b := find(i), find(j)
				if a < b {
					parent[b] = a
				} else {
					parent[a] = b
				}
			}
		}
	}

	var out [][]int
	slot := make(map[int]int)
	for i := range comps {
		root := find(i)
		k, ok := slot[root]
		if !ok {
			k = len(out)
			slot[root] = k
			out = append(out, nil)
		}
		out[k] = append(out[k], i)
	}
	return out
}
