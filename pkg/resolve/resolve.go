// Package resolve turns instruction path templates into concrete paths. It
// substitutes <<placeholder>> tokens and expands * and ? wildcards against a
// directory listing supplied by the active provider, so real and simulated
// runs see the same matches in the same order.
package resolve

import (
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/text/cases"

	"github.com/glorpus-work/modkit/pkg/errors"
	"github.com/glorpus-work/modkit/pkg/provider"
)

var placeholderPattern = regexp.MustCompile(`<<[A-Za-z][A-Za-z0-9_]*>>`)

// Lister is the part of a provider the resolver needs.
type Lister interface {
	Exists(path string) bool
	List(dir string) ([]provider.Entry, error)
}

// Options configures a Resolver.
type Options struct {
	// Placeholders maps tokens such as <<modDirectory>> to directories.
	Placeholders map[string]string
	// CaseInsensitive folds case when matching names.
	CaseInsensitive bool
	// BaseDir anchors relative paths. When empty, relative paths are rejected.
	BaseDir string
}

// Resolver substitutes placeholders and expands wildcards.
type Resolver struct {
	placeholders    map[string]string
	caseInsensitive bool
	baseDir         string
}

// New creates a Resolver.
func New(opts Options) (*Resolver, error) {
	table := make(map[string]string, len(opts.Placeholders))
	for key, value := range opts.Placeholders {
		if placeholderPattern.FindString(key) != key {
			return nil, errors.Wrapf(errors.ErrInvalidPlaceholderKey, "%q", key)
		}
		table[strings.ToLower(key)] = value
	}
	return &Resolver{
		placeholders:    table,
		caseInsensitive: opts.CaseInsensitive,
		baseDir:         opts.BaseDir,
	}, nil
}

// CaseInsensitive reports whether names are matched without regard to case.
func (r *Resolver) CaseInsensitive() bool {
	return r.caseInsensitive
}

// Substitute replaces every placeholder in template and returns a cleaned
// native path. Backslashes are accepted as separators.
func (r *Resolver) Substitute(template string) (string, error) {
	var unknown []string
	out := placeholderPattern.ReplaceAllStringFunc(template, func(token string) string {
		value, ok := r.placeholders[strings.ToLower(token)]
		if !ok {
			unknown = append(unknown, token)
			return token
		}
		return value
	})
	if len(unknown) > 0 {
		return "", errors.Wrapf(errors.ErrUnknownPlaceholder, "%s in %q", strings.Join(unknown, ", "), template)
	}

	out = strings.TrimSpace(out)
	if out == "" {
		return "", errors.Wrapf(errors.ErrInvalidPath, "empty path")
	}
	out = filepath.FromSlash(strings.ReplaceAll(out, `\`, "/"))
	if !filepath.IsAbs(out) {
		if r.baseDir == "" {
			return "", errors.Wrapf(errors.ErrInvalidPath, "%q is relative and no base directory is set", template)
		}
		out = filepath.Join(r.baseDir, out)
	}
	return filepath.Clean(out), nil
}

// HasWildcard reports whether p contains * or ?.
func HasWildcard(p string) bool {
	return strings.ContainsAny(p, "*?")
}

// Resolve substitutes placeholders and expands wildcards. See Expand.
func (r *Resolver) Resolve(l Lister, template string) ([]string, error) {
	p, err := r.Substitute(template)
	if err != nil {
		return nil, err
	}
	return r.Expand(l, p)
}

// Expand returns the paths matched by pattern in the lister's listing order.
//
// A literal path always yields exactly one result: the existing path,
// corrected for case when matching is case-insensitive, or the path as given
// so the caller's operation reports why it is missing. A wildcard pattern
// that matches nothing returns ErrNoMatches; a wildcard whose parent
// directory is missing returns the lister's error.
func (r *Resolver) Expand(l Lister, pattern string) ([]string, error) {
	pattern = filepath.Clean(pattern)
	if !HasWildcard(pattern) {
		return []string{r.resolveLiteral(l, pattern)}, nil
	}

	root, segments := split(pattern)
	first := 0
	for first < len(segments) && !HasWildcard(segments[first]) {
		first++
	}
	base := r.resolveLiteral(l, filepath.Join(append([]string{root}, segments[:first]...)...))

	candidates := []string{base}
	for i := first; i < len(segments); i++ {
		seg := segments[i]
		last := i == len(segments)-1
		var next []string

		for _, dir := range candidates {
			if !HasWildcard(seg) {
				if p, ok := r.child(l, dir, seg); ok {
					next = append(next, p)
				}
				continue
			}
			entries, err := l.List(dir)
			if err != nil {
				if i == first {
					return nil, err
				}
				continue
			}
			for _, e := range entries {
				if !last && !e.IsDir {
					continue
				}
				if r.Match(seg, e.Name) {
					next = append(next, filepath.Join(dir, e.Name))
				}
			}
		}
		candidates = next
		if len(candidates) == 0 {
			break
		}
	}

	if len(candidates) == 0 {
		return nil, errors.Wrapf(errors.ErrNoMatches, "%s", pattern)
	}
	return candidates, nil
}

// Match reports whether name matches the glob pattern. Only * and ? are
// special; brackets and backslashes are literal.
func (r *Resolver) Match(pattern, name string) bool {
	if r.caseInsensitive {
		pattern, name = foldCase(pattern), foldCase(name)
	}
	ok, err := path.Match(escapeGlob(pattern), name)
	return err == nil && ok
}

// EqualName compares two names under the resolver's case policy.
func (r *Resolver) EqualName(a, b string) bool {
	if r.caseInsensitive {
		return foldCase(a) == foldCase(b)
	}
	return a == b
}

// Key returns p in the form used to compare paths for identity.
func (r *Resolver) Key(p string) string {
	p = filepath.Clean(p)
	if r.caseInsensitive {
		return foldCase(p)
	}
	return p
}

// resolveLiteral returns p, or the existing path that differs from p only
// in case when matching is case-insensitive.
func (r *Resolver) resolveLiteral(l Lister, p string) string {
	if !r.caseInsensitive || l.Exists(p) {
		return p
	}

	root, segments := split(p)
	// Find the deepest existing ancestor, then walk down folding case.
	known := len(segments)
	for known > 0 && !l.Exists(filepath.Join(append([]string{root}, segments[:known]...)...)) {
		known--
	}
	current := filepath.Join(append([]string{root}, segments[:known]...)...)
	for i := known; i < len(segments); i++ {
		next, ok := r.child(l, current, segments[i])
		if !ok {
			return p
		}
		current = next
	}
	return current
}

// child resolves the literal name inside dir, folding case if enabled.
func (r *Resolver) child(l Lister, dir, name string) (string, bool) {
	exact := filepath.Join(dir, name)
	if l.Exists(exact) {
		return exact, true
	}
	if !r.caseInsensitive {
		return "", false
	}
	entries, err := l.List(dir)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if r.EqualName(e.Name, name) {
			return filepath.Join(dir, e.Name), true
		}
	}
	return "", false
}

func split(p string) (string, []string) {
	vol := filepath.VolumeName(p)
	rest := p[len(vol):]
	root := vol
	if strings.HasPrefix(rest, string(filepath.Separator)) {
		root += string(filepath.Separator)
	}
	var segments []string
	for _, s := range strings.Split(rest, string(filepath.Separator)) {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return root, segments
}

// foldCase builds a Caser per call because Casers are not safe for
// concurrent use.
func foldCase(s string) string {
	return cases.Fold().String(s)
}

func escapeGlob(pattern string) string {
	var b strings.Builder
	for _, c := range pattern {
		switch c {
		case '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}

