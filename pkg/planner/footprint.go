package planner

import (
	"context"
	"path/filepath"

	"github.com/glorpus-work/modkit/pkg/provider"
)

// read is one path a group looked at. tree reads depend on everything under
// the path; point reads only on the path itself.
type read struct {
	path    string
	tree    bool
	existed bool
}

// footprint is every path a group read or changed while it was validated.
type footprint struct {
	reads   []read
	changed []string
}

// recorder wraps a group's provider and records its footprint. A group runs
// on one goroutine, so it needs no locking.
type recorder struct {
	provider.Provider
	fp *footprint
}

func (r *recorder) point(path string) {
	r.fp.reads = append(r.fp.reads, read{path: path, existed: r.Provider.Exists(path)})
}

func (r *recorder) tree(path string) {
	r.fp.reads = append(r.fp.reads, read{path: path, tree: true})
}

func (r *recorder) change(paths ...string) {
	r.fp.changed = append(r.fp.changed, paths...)
}

func (r *recorder) Exists(path string) bool {
	r.point(path)
	return r.Provider.Exists(path)
}

func (r *recorder) IsDir(path string) bool {
	r.point(path)
	return r.Provider.IsDir(path)
}

func (r *recorder) List(dir string) ([]provider.Entry, error) {
	r.tree(dir)
	return r.Provider.List(dir)
}

func (r *recorder) ReadFile(path string) ([]byte, error) {
	r.point(path)
	return r.Provider.ReadFile(path)
}

func (r *recorder) WriteFile(path string, data []byte, overwrite bool) error {
	r.point(path)
	if err := r.Provider.WriteFile(path, data, overwrite); err != nil {
		return err
	}
	r.change(path)
	return nil
}

func (r *recorder) Extract(ctx context.Context, archivePath, destDir string) ([]string, error) {
	r.point(archivePath)
	created := !r.Provider.Exists(destDir)
	files, err := r.Provider.Extract(ctx, archivePath, destDir)
	if err != nil {
		return files, err
	}
	if created {
		r.change(destDir)
	}
	for _, f := range files {
		r.change(filepath.Join(destDir, filepath.FromSlash(f)))
	}
	return files, nil
}

func (r *recorder) Move(src, dst string, overwrite bool) error {
	r.tree(src)
	r.point(dst)
	if err := r.Provider.Move(src, dst, overwrite); err != nil {
		return err
	}
	r.change(src, dst)
	return nil
}

func (r *recorder) Copy(src, dst string, overwrite bool) error {
	r.tree(src)
	r.point(dst)
	if err := r.Provider.Copy(src, dst, overwrite); err != nil {
		return err
	}
	r.change(dst)
	return nil
}

func (r *recorder) Rename(src, newName string, overwrite bool) error {
	dst := filepath.Join(filepath.Dir(src), newName)
	r.tree(src)
	r.point(dst)
	if err := r.Provider.Rename(src, newName, overwrite); err != nil {
		return err
	}
	r.change(src, dst)
	return nil
}

func (r *recorder) Delete(path string) error {
	r.point(path)
	if err := r.Provider.Delete(path); err != nil {
		return err
	}
	r.change(path)
	return nil
}

func (r *recorder) Run(ctx context.Context, program string, args []string, workDir string) error {
	r.point(program)
	return r.Provider.Run(ctx, program, args, workDir)
}

// ancestors returns the proper ancestors of a cleaned path.
func ancestors(p string) []string {
	var out []string
	for {
		parent := filepath.Dir(p)
		if parent == p {
			return out
		}
		out = append(out, parent)
		p = parent
	}
}

// interferes reports whether a change made by one group could alter what
// another group saw. key maps a path to its comparison form.
func interferes(fps []footprint, key func(string) string) bool {
	type changes struct {
		exact map[string]bool
		above map[string]bool
	}
	all := make([]changes, len(fps))
	for i, fp := range fps {
		c := changes{exact: make(map[string]bool), above: make(map[string]bool)}
		for _, p := range fp.changed {
			k := key(p)
			c.exact[k] = true
			for _, a := range ancestors(k) {
				c.above[a] = true
			}
		}
		all[i] = c
	}

	for i, fp := range fps {
		for _, rd := range fp.reads {
			k := key(rd.path)
			up := ancestors(k)
			for j, c := range all {
				if i == j {
					continue
				}
				if c.exact[k] {
					return true
				}
				// something below the path changed
				if (rd.tree || !rd.existed) && c.above[k] {
					return true
				}
				// the path itself was replaced or removed with a parent
				for _, a := range up {
					if c.exact[a] {
						return true
					}
				}
			}
		}
	}
	return false
}
