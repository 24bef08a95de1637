// Package executor runs a single instruction against a provider. It resolves
// the instruction's paths, performs the provider operations and reports
// every failure as a model.ValidationIssue, so the same code path serves
// both dry runs and real installs.
package executor

import (
	"context"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/glorpus-work/modkit/internal/logger"
	"github.com/glorpus-work/modkit/pkg/errors"
	"github.com/glorpus-work/modkit/pkg/model"
	"github.com/glorpus-work/modkit/pkg/provider"
	"github.com/glorpus-work/modkit/pkg/resolve"
)

// Result is the outcome of one instruction.
type Result struct {
	Issues []model.ValidationIssue
	// Chosen holds the options selected by a Choose instruction in the
	// component's declared order.
	Chosen []*model.Option
	// Writes lists every path the instruction created or replaced.
	Writes []string
}

// HasErrors reports whether any issue has Error severity.
func (r Result) HasErrors() bool {
	for _, issue := range r.Issues {
		if issue.IsError() {
			return true
		}
	}
	return false
}

// Executor interprets instructions.
type Executor struct {
	resolver *resolve.Resolver
}

// New creates an Executor resolving paths with resolver.
func New(resolver *resolve.Resolver) *Executor {
	return &Executor{resolver: resolver}
}

// Resolver returns the resolver used for path templates.
func (e *Executor) Resolver() *resolve.Resolver {
	return e.resolver
}

// Execute runs the instruction at position index (1-based) of comp against
// p. Failures never escape as panics: they are reported in Result.Issues,
// and the returned error is non-nil when at least one issue is an error.
// Against a virtual provider every match of every source is attempted so
// that all defects surface at once; a real provider stops at the first
// failure.
func (e *Executor) Execute(ctx context.Context, p provider.Provider, comp *model.Component, index int, in model.Instruction) (Result, error) {
	r := &run{
		ctx:   ctx,
		exec:  e,
		p:     p,
		comp:  comp,
		index: index,
		in:    in,
	}

	logger.Debug("Executing instruction", logger.Fields{
		"component": comp.String(),
		"index":     index,
		"action":    string(in.Action),
		"provider":  p.Kind().String(),
	})

	if err := ctx.Err(); err != nil {
		r.fail(err, "instruction not started")
		return r.finish()
	}

	action, err := in.Decode()
	if err != nil {
		r.fail(err, "cannot decode instruction")
		return r.finish()
	}

	switch a := action.(type) {
	case model.ExtractAction:
		r.extract(a)
	case model.MoveAction:
		r.transfer(a.Sources, a.Destination, a.Overwrite, true)
	case model.CopyAction:
		r.transfer(a.Sources, a.Destination, a.Overwrite, false)
	case model.RenameAction:
		r.rename(a)
	case model.DeleteAction:
		r.delete(a)
	case model.DeleteDuplicateAction:
		r.deleteDuplicates(a)
	case model.RunPatcherAction:
		r.runProgram(a.Program, a.Destination, a.Arguments)
	case model.RunExecutableAction:
		r.runProgram(a.Program, "", a.Arguments)
	case model.ChooseAction:
		r.choose(a)
	default:
		r.fail(errors.Wrapf(errors.ErrUnsupportedAction, "%T", action), "cannot execute instruction")
	}
	return r.finish()
}

// run carries the state of one Execute call.
type run struct {
	ctx    context.Context
	exec   *Executor
	p      provider.Provider
	comp   *model.Component
	index  int
	in     model.Instruction
	result Result
	failed error
}

func (r *run) finish() (Result, error) {
	return r.result, r.failed
}

// stop reports whether remaining work should be skipped after a failure.
func (r *run) stop() bool {
	if r.ctx.Err() != nil {
		if r.failed == nil {
			r.fail(r.ctx.Err(), "instruction interrupted")
		}
		return true
	}
	return r.failed != nil && r.p.Kind() == provider.KindReal
}

func (r *run) issue(severity model.Severity, category, msg string) {
	r.result.Issues = append(r.result.Issues, model.ValidationIssue{
		Severity:         severity,
		Category:         category,
		Message:          msg,
		ComponentID:      r.comp.ID,
		ComponentName:    r.comp.Name,
		InstructionID:    r.in.ID,
		InstructionIndex: r.index,
	})
}

func (r *run) fail(err error, what string) {
	r.issue(model.SeverityError, Classify(err), fmt.Sprintf("%s: %v", what, err))
	if r.failed == nil {
		r.failed = errors.Wrapf(err, "%s instruction %d of %s", r.in.Action, r.index, r.comp)
	}
}

func (r *run) warn(category, msg string) {
	r.issue(model.SeverityWarning, category, msg)
}

func (r *run) wrote(paths ...string) {
	r.result.Writes = append(r.result.Writes, paths...)
}

// resolveSources expands every source template. Templates that fail to
// resolve are reported and skipped.
func (r *run) resolveSources(sources []string) []string {
	var matches []string
	for _, src := range sources {
		if r.stop() {
			break
		}
		paths, err := r.exec.resolver.Resolve(r.p, src)
		if err != nil {
			r.fail(err, fmt.Sprintf("cannot resolve source %q", src))
			continue
		}
		matches = append(matches, paths...)
	}
	return matches
}

// destination substitutes a destination template. Destinations name a
// single directory, so wildcards are rejected.
func (r *run) destination(template string) (string, bool) {
	if resolve.HasWildcard(template) {
		r.fail(errors.Wrapf(errors.ErrInvalidDestination, "%q contains a wildcard", template), "cannot use destination")
		return "", false
	}
	dst, err := r.exec.resolver.Substitute(template)
	if err != nil {
		r.fail(err, fmt.Sprintf("cannot resolve destination %q", template))
		return "", false
	}
	paths, err := r.exec.resolver.Expand(r.p, dst)
	if err != nil {
		r.fail(err, fmt.Sprintf("cannot resolve destination %q", template))
		return "", false
	}
	return paths[0], true
}

func (r *run) extract(a model.ExtractAction) {
	var dest string
	if a.Destination != "" {
		d, ok := r.destination(a.Destination)
		if !ok {
			return
		}
		dest = d
	}

	for _, archivePath := range r.resolveSources(a.Sources) {
		if r.stop() {
			return
		}
		target := dest
		if target == "" {
			target = filepath.Join(filepath.Dir(archivePath), archiveStem(archivePath))
		}
		files, err := r.p.Extract(r.ctx, archivePath, target)
		if err != nil {
			r.fail(err, fmt.Sprintf("cannot extract %s", archivePath))
			continue
		}
		for _, f := range files {
			r.wrote(filepath.Join(target, filepath.FromSlash(f)))
		}
	}
}

func (r *run) transfer(sources []string, destination string, overwrite, move bool) {
	destDir, ok := r.destination(destination)
	if !ok {
		return
	}
	verb := "copy"
	if move {
		verb = "move"
	}

	for _, src := range r.resolveSources(sources) {
		if r.stop() {
			return
		}
		target := filepath.Join(destDir, filepath.Base(src))
		var err error
		if move {
			err = r.p.Move(src, target, overwrite)
		} else {
			err = r.p.Copy(src, target, overwrite)
		}
		if err != nil {
			r.fail(err, fmt.Sprintf("cannot %s %s to %s", verb, src, destDir))
			continue
		}
		r.wrote(target)
	}
}

func (r *run) rename(a model.RenameAction) {
	if err := provider.ValidateNewName(a.NewName); err != nil {
		r.fail(err, "cannot rename")
		return
	}
	for _, src := range r.resolveSources(a.Sources) {
		if r.stop() {
			return
		}
		if err := r.p.Rename(src, a.NewName, a.Overwrite); err != nil {
			r.fail(err, fmt.Sprintf("cannot rename %s to %s", src, a.NewName))
			continue
		}
		r.wrote(filepath.Join(filepath.Dir(src), a.NewName))
	}
}

// delete removes every match. A wildcard that matches nothing only warns
// because there is nothing to clean up; a literal path that is missing is
// an error.
func (r *run) delete(a model.DeleteAction) {
	for _, src := range a.Sources {
		if r.stop() {
			return
		}
		paths, err := r.exec.resolver.Resolve(r.p, src)
		if err != nil {
			if resolve.HasWildcard(src) && (stderrors.Is(err, errors.ErrNoMatches) || stderrors.Is(err, errors.ErrPathNotFound)) {
				r.warn(model.CategoryPatternNoMatch, fmt.Sprintf("nothing to delete for %q: %v", src, err))
				continue
			}
			r.fail(err, fmt.Sprintf("cannot resolve source %q", src))
			continue
		}
		for _, p := range paths {
			if r.stop() {
				return
			}
			if err := r.p.Delete(p); err != nil {
				r.fail(err, fmt.Sprintf("cannot delete %s", p))
			}
		}
	}
}

// deleteDuplicates keeps only the preferred extension among files in the
// directory that share a base name across the compatible extensions.
func (r *run) deleteDuplicates(a model.DeleteDuplicateAction) {
	dir, ok := r.destination(a.Directory)
	if !ok {
		return
	}
	entries, err := r.p.List(dir)
	if err != nil {
		r.fail(err, fmt.Sprintf("cannot list %s", dir))
		return
	}

	res := r.exec.resolver
	preferred := normalizeExt(a.Preferred)
	compatible := []string{preferred}
	for _, ext := range a.Compatible {
		compatible = append(compatible, normalizeExt(ext))
	}
	isCompatible := func(ext string) bool {
		for _, c := range compatible {
			if res.EqualName(c, ext) {
				return true
			}
		}
		return false
	}

	type group struct {
		stem  string
		files []string
	}
	var groups []*group
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		ext := filepath.Ext(e.Name)
		if ext == "" || !isCompatible(ext) {
			continue
		}
		stem := strings.TrimSuffix(e.Name, ext)
		var g *group
		for _, existing := range groups {
			if res.EqualName(existing.stem, stem) {
				g = existing
				break
			}
		}
		if g == nil {
			g = &group{stem: stem}
			groups = append(groups, g)
		}
		g.files = append(g.files, e.Name)
	}

	for _, g := range groups {
		if len(g.files) < 2 {
			continue
		}
		hasPreferred := false
		for _, name := range g.files {
			if res.EqualName(filepath.Ext(name), preferred) {
				hasPreferred = true
				break
			}
		}
		if !hasPreferred {
			r.warn(model.CategoryDuplicateAmbiguous, fmt.Sprintf(
				"%s has duplicates %s but none with preferred extension %s; left untouched",
				g.stem, strings.Join(g.files, ", "), preferred))
			continue
		}
		for _, name := range g.files {
			if res.EqualName(filepath.Ext(name), preferred) {
				continue
			}
			if r.stop() {
				return
			}
			target := filepath.Join(dir, name)
			if err := r.p.Delete(target); err != nil {
				r.fail(err, fmt.Sprintf("cannot delete duplicate %s", target))
				continue
			}
			logger.Debug("Deleted duplicate", logger.Fields{"file": target, "kept": preferred})
		}
	}
}

func (r *run) runProgram(programTemplate, destination, arguments string) {
	matches := r.resolveSources([]string{programTemplate})
	if len(matches) == 0 {
		return
	}
	if len(matches) > 1 {
		r.fail(errors.Wrapf(errors.ErrInvalidInstruction, "%q matches %d programs", programTemplate, len(matches)), "cannot run program")
		return
	}
	program := matches[0]

	var args []string
	if destination != "" {
		dst, err := r.exec.resolver.Substitute(destination)
		if err != nil {
			r.fail(err, fmt.Sprintf("cannot resolve destination %q", destination))
			return
		}
		args = append(args, dst)
	}
	extra, err := splitArguments(r.exec.resolver, arguments)
	if err != nil {
		r.fail(err, fmt.Sprintf("cannot parse arguments %q", arguments))
		return
	}
	args = append(args, extra...)

	if err := r.p.Run(r.ctx, program, args, filepath.Dir(program)); err != nil {
		r.fail(err, fmt.Sprintf("cannot run %s", filepath.Base(program)))
	}
}

func (r *run) choose(a model.ChooseAction) {
	selected := make(map[string]bool, len(a.Options))
	for _, id := range a.Options {
		if r.comp.Option(id) == nil {
			r.fail(errors.Wrapf(errors.ErrUnknownOption, "%s is not an option of %s", id, r.comp), "cannot choose option")
			continue
		}
		selected[id.String()] = true
	}
	for i := range r.comp.Options {
		if selected[r.comp.Options[i].ID.String()] {
			r.result.Chosen = append(r.result.Chosen, &r.comp.Options[i])
		}
	}
}

// Classify maps an error to a ValidationIssue category.
func Classify(err error) string {
	switch {
	case stderrors.Is(err, errors.ErrNoMatches):
		return model.CategoryPatternNoMatch
	case stderrors.Is(err, errors.ErrPathNotFound):
		return model.CategoryMissingPath
	case stderrors.Is(err, errors.ErrDestinationExists):
		return model.CategoryDestinationExists
	case stderrors.Is(err, errors.ErrNotAnArchive):
		return model.CategoryNotAnArchive
	case stderrors.Is(err, errors.ErrInvalidDestination):
		return model.CategoryInvalidDestination
	case stderrors.Is(err, errors.ErrUnknownPlaceholder):
		return model.CategoryPlaceholder
	case stderrors.Is(err, errors.ErrProcessFailed):
		return model.CategoryProcess
	case stderrors.Is(err, errors.ErrUnknownOption):
		return model.CategoryUnknownOption
	case stderrors.Is(err, errors.ErrInvalidInstruction),
		stderrors.Is(err, errors.ErrUnsupportedAction),
		stderrors.Is(err, errors.ErrInvalidPath):
		return model.CategoryInvalidInstruction
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return model.CategoryCancelled
	default:
		return model.CategoryIO
	}
}

func normalizeExt(ext string) string {
	ext = strings.TrimSpace(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// archiveStem strips every archive extension, so mod.tar.gz becomes mod.
func archiveStem(path string) string {
	base := filepath.Base(path)
	lower := strings.ToLower(base)
	for _, suffix := range []string{".tar.gz", ".tar.bz2", ".tar.xz", ".tar.zst", ".tar.lz4"} {
		if strings.HasSuffix(lower, suffix) {
			return base[:len(base)-len(suffix)]
		}
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}
