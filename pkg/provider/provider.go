// Package provider defines the file-system capability instructions execute
// against and its two interchangeable backends. RealProvider mutates the OS
// file tree. VirtualProvider simulates the same operations over an
// in-memory model seeded from disk, so a plan can be validated without
// touching user data.
package provider

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/glorpus-work/modkit/pkg/errors"
)

// Kind identifies a provider backend.
type Kind int

const (
	// KindReal mutates the OS file system.
	KindReal Kind = iota
	// KindVirtual only updates an in-memory model.
	KindVirtual
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindReal:
		return "real"
	case KindVirtual:
		return "virtual"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Entry is one item of a directory listing.
type Entry struct {
	Name  string
	IsDir bool
}

// Provider is the set of file-system operations the executor needs. All
// paths are absolute, placeholder free and wildcard free.
type Provider interface {
	Kind() Kind
	Exists(path string) bool
	IsDir(path string) bool
	// List returns the entries of dir sorted by name. Both backends produce
	// the same order for the same set of names.
	List(dir string) ([]Entry, error)
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte, overwrite bool) error
	// Extract unpacks every entry of the archive into destDir and returns the
	// slash separated paths of the extracted files relative to destDir.
	Extract(ctx context.Context, archivePath, destDir string) ([]string, error)
	// Move and Copy take the full destination path.
	Move(src, dst string, overwrite bool) error
	Copy(src, dst string, overwrite bool) error
	// Rename changes the base name of src to newName in place.
	Rename(src, newName string, overwrite bool) error
	Delete(path string) error
	// Run executes an external program and blocks until it exits.
	Run(ctx context.Context, program string, args []string, workDir string) error
}

// InvalidatedError reports a path that existed earlier in the same run but
// was moved or deleted by a previous operation.
type InvalidatedError struct {
	Path   string
	Reason string
}

func (e *InvalidatedError) Error() string {
	return fmt.Sprintf("%s was %s earlier in this run", e.Path, e.Reason)
}

// Unwrap lets callers match the error as a missing path.
func (e *InvalidatedError) Unwrap() error {
	return errors.ErrPathNotFound
}

// ProcessError reports an external program that exited unsuccessfully.
type ProcessError struct {
	Program  string
	ExitCode int
	Output   string
}

func (e *ProcessError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", filepath.Base(e.Program), e.ExitCode)
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

// Unwrap returns ErrProcessFailed.
func (e *ProcessError) Unwrap() error {
	return errors.ErrProcessFailed
}

// ValidateNewName checks that name is a bare file name usable by Rename.
func ValidateNewName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || trimmed == "." || trimmed == ".." {
		return errors.Wrapf(errors.ErrInvalidDestination, "%q is not a file name", name)
	}
	if strings.ContainsAny(name, `/\`) || filepath.VolumeName(name) != "" {
		return errors.Wrapf(errors.ErrInvalidDestination, "rename target %q must be a file name, not a path", name)
	}
	return nil
}

// sandbox restricts mutations to a set of root directories. An empty
// sandbox allows everything.
type sandbox []string

func newSandbox(roots []string) sandbox {
	out := make(sandbox, 0, len(roots))
	for _, r := range roots {
		if r == "" {
			continue
		}
		out = append(out, filepath.Clean(r))
	}
	return out
}

func (s sandbox) allows(path string) bool {
	if len(s) == 0 {
		return true
	}
	for _, root := range s {
		if isWithin(root, path) {
			return true
		}
	}
	return false
}

func (s sandbox) check(paths ...string) error {
	for _, p := range paths {
		if !s.allows(p) {
			return errors.Wrapf(errors.ErrInvalidDestination, "%s is outside the managed directories", p)
		}
	}
	return nil
}

func isWithin(root, path string) bool {
	if root == path {
		return true
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator)) && !filepath.IsAbs(rel)
}

func clean(path string) string {
	return filepath.Clean(path)
}
