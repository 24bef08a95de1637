package provider

import (
	"context"
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/glorpus-work/modkit/internal/logger"
	"github.com/glorpus-work/modkit/pkg/errors"
)

type nodeID int

// fileNode records where the bytes of a simulated file come from. Nodes are
// immutable once created and shared between paths and clones; only the
// path index changes when files move.
type fileNode struct {
	// realPath is the file on disk, or the outermost archive when chain is set.
	realPath string
	// chain names the entry at each archive nesting level, outermost first.
	chain []string
	// data holds content created through WriteFile.
	data    []byte
	written bool
}

func (n *fileNode) child(entry string) *fileNode {
	chain := make([]string, len(n.chain), len(n.chain)+1)
	copy(chain, n.chain)
	return &fileNode{realPath: n.realPath, chain: append(chain, entry)}
}

// VirtualProvider simulates every operation over an in-memory model of the
// tree. Disk is only read to seed the model and to read archive tables of
// contents, which are cached in a shared TOCCache.
type VirtualProvider struct {
	mu    sync.RWMutex
	tocs  *TOCCache
	roots sandbox

	nodes []*fileNode
	files map[string]nodeID
	dirs  map[string]struct{}
	// removed remembers why a path disappeared so later references can be
	// reported as ordering problems rather than plain missing paths.
	removed map[string]string
}

// NewVirtualProvider seeds a model from the directory trees under roots.
// Roots that do not exist yet are skipped; they are created on demand.
func NewVirtualProvider(tocs *TOCCache, roots ...string) (*VirtualProvider, error) {
	if tocs == nil {
		tocs = NewTOCCache(nil)
	}
	v := &VirtualProvider{
		tocs:    tocs,
		roots:   newSandbox(roots),
		files:   make(map[string]nodeID),
		dirs:    make(map[string]struct{}),
		removed: make(map[string]string),
	}
	for _, root := range v.roots {
		if err := v.seed(root); err != nil {
			return nil, err
		}
	}
	logger.Debug("Virtual file tree seeded", logger.Fields{
		"roots": len(v.roots),
		"files": len(v.files),
		"dirs":  len(v.dirs),
	})
	return v, nil
}

func (v *VirtualProvider) seed(root string) error {
	info, err := os.Stat(root)
	if stderrors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "failed to seed %s", root)
	}
	if !info.IsDir() {
		return errors.Wrapf(errors.ErrInvalidPath, "root %s is not a directory", root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		path = clean(path)
		if d.IsDir() {
			v.dirs[path] = struct{}{}
			return nil
		}
		v.files[path] = v.alloc(&fileNode{realPath: path})
		return nil
	})
}

// Clone returns an independent copy of the model. Node records and the
// TOC cache are shared.
func (v *VirtualProvider) Clone() *VirtualProvider {
	v.mu.RLock()
	defer v.mu.RUnlock()

	c := &VirtualProvider{
		tocs:    v.tocs,
		roots:   v.roots,
		nodes:   make([]*fileNode, len(v.nodes)),
		files:   make(map[string]nodeID, len(v.files)),
		dirs:    make(map[string]struct{}, len(v.dirs)),
		removed: make(map[string]string, len(v.removed)),
	}
	copy(c.nodes, v.nodes)
	for k, id := range v.files {
		c.files[k] = id
	}
	for k := range v.dirs {
		c.dirs[k] = struct{}{}
	}
	for k, r := range v.removed {
		c.removed[k] = r
	}
	return c
}

// Files returns every known file path in sorted order.
func (v *VirtualProvider) Files() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, 0, len(v.files))
	for p := range v.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Kind implements Provider.
func (v *VirtualProvider) Kind() Kind { return KindVirtual }

// Exists implements Provider.
func (v *VirtualProvider) Exists(path string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.exists(clean(path))
}

// IsDir implements Provider.
func (v *VirtualProvider) IsDir(path string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.dirs[clean(path)]
	return ok
}

// List implements Provider.
func (v *VirtualProvider) List(dir string) ([]Entry, error) {
	dir = clean(dir)
	v.mu.RLock()
	defer v.mu.RUnlock()

	if _, ok := v.dirs[dir]; !ok {
		if _, isFile := v.files[dir]; isFile {
			return nil, errors.Wrapf(errors.ErrInvalidPath, "%s is not a directory", dir)
		}
		return nil, v.missing(dir)
	}

	var entries []Entry
	for p := range v.files {
		if filepath.Dir(p) == dir {
			entries = append(entries, Entry{Name: filepath.Base(p)})
		}
	}
	for p := range v.dirs {
		if p != dir && filepath.Dir(p) == dir {
			entries = append(entries, Entry{Name: filepath.Base(p), IsDir: true})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// ReadFile implements Provider. Content that was never written through the
// provider is read from its origin on disk.
func (v *VirtualProvider) ReadFile(path string) ([]byte, error) {
	path = clean(path)
	v.mu.RLock()
	id, ok := v.files[path]
	var node *fileNode
	if ok {
		node = v.nodes[id]
	}
	err := v.lookupError(path, ok)
	v.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	switch {
	case node.written:
		return append([]byte(nil), node.data...), nil
	case len(node.chain) == 0:
		data, err := os.ReadFile(node.realPath)
		if err != nil {
			return nil, osError(node.realPath, err)
		}
		return data, nil
	default:
		return v.tocs.Manager().ReadNested(context.Background(), node.realPath, node.chain)
	}
}

// WriteFile implements Provider.
func (v *VirtualProvider) WriteFile(path string, data []byte, overwrite bool) error {
	path = clean(path)
	if err := v.roots.check(path); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, isDir := v.dirs[path]; isDir {
		if !overwrite {
			return errors.Wrapf(errors.ErrDestinationExists, "%s", path)
		}
		return errors.Wrapf(errors.ErrInvalidDestination, "%s is a directory", path)
	}
	if _, exists := v.files[path]; exists && !overwrite {
		return errors.Wrapf(errors.ErrDestinationExists, "%s", path)
	}
	v.putFile(path, v.alloc(&fileNode{data: append([]byte(nil), data...), written: true}))
	return nil
}

// Extract implements Provider. Every entry of the archive's table of
// contents becomes a known path below destDir, and entries keep a link to
// the archive so nested archives can be extracted later.
func (v *VirtualProvider) Extract(ctx context.Context, archivePath, destDir string) ([]string, error) {
	archivePath, destDir = clean(archivePath), clean(destDir)
	if err := v.roots.check(destDir); err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	id, ok := v.files[archivePath]
	if !ok {
		if _, isDir := v.dirs[archivePath]; isDir {
			return nil, errors.Wrapf(errors.ErrNotAnArchive, "%s is a directory", archivePath)
		}
		return nil, v.missing(archivePath)
	}
	node := v.nodes[id]

	var (
		toc []archiveEntry
		err error
	)
	if node.written {
		toc, err = v.writtenTOC(ctx, archivePath, node)
	} else {
		toc, err = v.loadTOC(ctx, node)
	}
	if err != nil {
		return nil, err
	}

	v.addDir(destDir)
	var extracted []string
	for _, entry := range toc {
		target := filepath.Join(destDir, filepath.FromSlash(entry.name))
		if entry.isDir {
			v.addDir(target)
			continue
		}
		if _, isDir := v.dirs[target]; isDir {
			return nil, errors.Wrapf(errors.ErrDestinationExists, "%s is a directory", target)
		}
		v.putFile(target, v.alloc(entry.node))
		extracted = append(extracted, entry.name)
	}
	sort.Strings(extracted)

	logger.Debug("Simulated archive extraction", logger.Fields{
		"archive":     archivePath,
		"destination": destDir,
		"files":       len(extracted),
	})
	return extracted, nil
}

type archiveEntry struct {
	name  string
	isDir bool
	node  *fileNode
}

func (v *VirtualProvider) loadTOC(ctx context.Context, node *fileNode) ([]archiveEntry, error) {
	entries, err := v.tocs.Load(ctx, node.realPath, node.chain)
	if err != nil {
		return nil, err
	}
	out := make([]archiveEntry, 0, len(entries))
	for _, e := range entries {
		ae := archiveEntry{name: e.Name, isDir: e.IsDir}
		if !e.IsDir {
			ae.node = node.child(e.Name)
		}
		out = append(out, ae)
	}
	return out, nil
}

// writtenTOC lists an archive created through WriteFile. Its entries are
// materialized as written nodes so they stay readable without disk access.
func (v *VirtualProvider) writtenTOC(ctx context.Context, name string, node *fileNode) ([]archiveEntry, error) {
	entries, err := v.tocs.Manager().ListBytes(ctx, filepath.Base(name), node.data)
	if err != nil {
		return nil, err
	}
	out := make([]archiveEntry, 0, len(entries))
	for _, e := range entries {
		ae := archiveEntry{name: e.Name, isDir: e.IsDir}
		if !e.IsDir {
			ae.node = &fileNode{written: true}
		}
		out = append(out, ae)
	}
	return out, nil
}

// Move implements Provider.
func (v *VirtualProvider) Move(src, dst string, overwrite bool) error {
	return v.transfer(clean(src), clean(dst), overwrite, true)
}

// Copy implements Provider.
func (v *VirtualProvider) Copy(src, dst string, overwrite bool) error {
	return v.transfer(clean(src), clean(dst), overwrite, false)
}

// Rename implements Provider.
func (v *VirtualProvider) Rename(src, newName string, overwrite bool) error {
	if err := ValidateNewName(newName); err != nil {
		return err
	}
	src = clean(src)
	return v.transfer(src, filepath.Join(filepath.Dir(src), newName), overwrite, true)
}

func (v *VirtualProvider) transfer(src, dst string, overwrite, move bool) error {
	if err := v.roots.check(src, dst); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.exists(src) {
		return v.missing(src)
	}
	if src == dst {
		return nil
	}
	if isWithin(src, dst) {
		return errors.Wrapf(errors.ErrInvalidDestination, "%s is inside %s", dst, src)
	}
	if v.exists(dst) {
		if !overwrite {
			return errors.Wrapf(errors.ErrDestinationExists, "%s", dst)
		}
		v.remove(dst, "overwritten")
	}

	verb := "copied"
	if move {
		verb = "moved to " + dst
	}

	if id, isFile := v.files[src]; isFile {
		if move {
			delete(v.files, src)
			v.removed[src] = verb
		}
		v.putFile(dst, id)
		return nil
	}

	// Directory: re-key the whole subtree.
	files, dirs := v.subtree(src)
	v.addDir(dst)
	for _, d := range dirs {
		v.addDir(rebase(d, src, dst))
	}
	for _, f := range files {
		id := v.files[f]
		v.putFile(rebase(f, src, dst), id)
	}
	if move {
		for _, f := range files {
			delete(v.files, f)
			v.removed[f] = "moved to " + rebase(f, src, dst)
		}
		for _, d := range dirs {
			delete(v.dirs, d)
			v.removed[d] = "moved to " + rebase(d, src, dst)
		}
		delete(v.dirs, src)
		v.removed[src] = verb
	}
	return nil
}

// Delete implements Provider.
func (v *VirtualProvider) Delete(path string) error {
	path = clean(path)
	if err := v.roots.check(path); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.exists(path) {
		return v.missing(path)
	}
	v.remove(path, "deleted")
	return nil
}

// Run implements Provider. External programs cannot be simulated, so only
// the presence of the program is checked.
func (v *VirtualProvider) Run(_ context.Context, program string, args []string, workDir string) error {
	program = clean(program)
	v.mu.RLock()
	defer v.mu.RUnlock()

	if _, isDir := v.dirs[program]; isDir {
		return errors.Wrapf(errors.ErrInvalidPath, "%s is a directory", program)
	}
	if _, ok := v.files[program]; !ok {
		return v.missing(program)
	}
	logger.Debug("Skipping external program in dry run", logger.Fields{
		"program": program,
		"args":    strings.Join(args, " "),
		"workdir": workDir,
	})
	return nil
}

// The helpers below expect v.mu to be held.

func (v *VirtualProvider) alloc(n *fileNode) nodeID {
	v.nodes = append(v.nodes, n)
	return nodeID(len(v.nodes) - 1)
}

func (v *VirtualProvider) exists(path string) bool {
	if _, ok := v.files[path]; ok {
		return true
	}
	_, ok := v.dirs[path]
	return ok
}

func (v *VirtualProvider) lookupError(path string, found bool) error {
	if found {
		return nil
	}
	if _, isDir := v.dirs[path]; isDir {
		return errors.Wrapf(errors.ErrInvalidPath, "%s is a directory", path)
	}
	return v.missing(path)
}

func (v *VirtualProvider) missing(path string) error {
	if reason, ok := v.removed[path]; ok {
		return &InvalidatedError{Path: path, Reason: reason}
	}
	return errors.Wrapf(errors.ErrPathNotFound, "%s", path)
}

func (v *VirtualProvider) putFile(path string, id nodeID) {
	v.files[path] = id
	delete(v.removed, path)
	v.addDir(filepath.Dir(path))
}

func (v *VirtualProvider) addDir(dir string) {
	for {
		if _, ok := v.dirs[dir]; ok {
			return
		}
		v.dirs[dir] = struct{}{}
		delete(v.removed, dir)
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}

func (v *VirtualProvider) remove(path, reason string) {
	if _, isFile := v.files[path]; isFile {
		delete(v.files, path)
		v.removed[path] = reason
		return
	}
	files, dirs := v.subtree(path)
	for _, f := range files {
		delete(v.files, f)
		v.removed[f] = reason
	}
	for _, d := range dirs {
		delete(v.dirs, d)
		v.removed[d] = reason
	}
	delete(v.dirs, path)
	v.removed[path] = reason
}

// subtree returns the files and directories strictly below dir.
func (v *VirtualProvider) subtree(dir string) (files, dirs []string) {
	prefix := dir + string(os.PathSeparator)
	if strings.HasSuffix(dir, string(os.PathSeparator)) {
		prefix = dir
	}
	for p := range v.files {
		if strings.HasPrefix(p, prefix) {
			files = append(files, p)
		}
	}
	for p := range v.dirs {
		if strings.HasPrefix(p, prefix) {
			dirs = append(dirs, p)
		}
	}
	sort.Strings(files)
	sort.Strings(dirs)
	return files, dirs
}

func rebase(path, from, to string) string {
	rel, err := filepath.Rel(from, path)
	if err != nil {
		return path
	}
	return filepath.Join(to, rel)
}
