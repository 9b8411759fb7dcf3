// Package export implements the ExportPlanner: given filesystem requests
// (paths, tmpfs hides, dir-only stubs), it computes a minimal, consistent
// set of bind/tmpfs/symlink directives for the sandbox root.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/safedep/dry/log"
)

// Mode is the directive recorded against an exported path. Numeric value
// doubles as the dominance rank used when the same path is exposed twice
// (on re-exposure the planner keeps the strongest mode).
type Mode int

const (
	ModeReadOnly Mode = iota
	ModeReadWrite
	ModeCreate
	ModeDirOnly
	ModeTmpfs
	ModeSymlink
)

func (m Mode) String() string {
	switch m {
	case ModeReadOnly:
		return "readonly"
	case ModeReadWrite:
		return "readwrite"
	case ModeCreate:
		return "create"
	case ModeDirOnly:
		return "dir-only"
	case ModeTmpfs:
		return "tmpfs"
	case ModeSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// maxSymlinkDepth bounds the recursive symlink-resolution walk.
const maxSymlinkDepth = 40

// opaquePrefixes are host directories that may never be exposed directly;
// their content is always projected by BaseRootBuilder/ExtensionMounter
// instead.
var opaquePrefixes = []string{
	"/lib", "/lib32", "/lib64", "/bin", "/sbin", "/usr", "/etc", "/app", "/dev",
}

type export struct {
	mode          Mode
	symlinkTarget string // only set when mode == ModeSymlink: relative path from this export's parent to the resolved target
}

// Planner accumulates export directives keyed by absolute host path.
type Planner struct {
	exports map[string]*export

	// lstat/readlink are swappable for tests.
	lstat    func(path string) (os.FileInfo, error)
	readlink func(path string) (string, error)
}

// New returns an empty Planner backed by the real filesystem.
func New() *Planner {
	return &Planner{
		exports:  map[string]*export{},
		lstat:    os.Lstat,
		readlink: os.Readlink,
	}
}

func isOpaque(path string) bool {
	for _, prefix := range opaquePrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

// Expose requests that path be made visible in the sandbox with mode. path
// must be absolute and exist (regular file, directory, symlink, or socket).
// Paths beneath an opaque prefix are rejected. Intermediate symlinks (other
// than the literal path "/tmp") are resolved recursively, bounded by
// maxSymlinkDepth.
func (p *Planner) Expose(path string, mode Mode) error {
	return p.expose(path, mode, 0)
}

func (p *Planner) expose(path string, mode Mode, depth int) error {
	if depth > maxSymlinkDepth {
		return fmt.Errorf("expose %q: symlink resolution exceeded depth %d", path, maxSymlinkDepth)
	}
	if !filepath.IsAbs(path) {
		return fmt.Errorf("expose %q: path must be absolute", path)
	}
	path = filepath.Clean(path)
	if isOpaque(path) {
		return fmt.Errorf("expose %q: path is beneath an opaque system prefix", path)
	}

	info, err := p.lstat(path)
	if err != nil {
		return fmt.Errorf("expose %q: %w", path, err)
	}
	if !(info.Mode().IsRegular() || info.IsDir() || info.Mode()&os.ModeSymlink != 0 || info.Mode()&os.ModeSocket != 0) {
		return fmt.Errorf("expose %q: not a regular file, directory, symlink, or socket", path)
	}

	// Walk component-wise from root, looking for an intermediate symlink.
	if symlinkAt, resolved, ok := p.findIntermediateSymlink(path); ok {
		p.recordSymlink(path, symlinkAt, resolved)
		return p.expose(resolved, mode, depth+1)
	}

	p.record(path, mode)
	return nil
}

// findIntermediateSymlink walks path's components from root and returns the
// first component (other than the literal path "/tmp" or the terminal
// component itself) that is a symlink, along with the fully resolved target
// of that component.
func (p *Planner) findIntermediateSymlink(path string) (symlinkAt string, resolved string, found bool) {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	cur := ""
	for i, part := range parts {
		cur = cur + "/" + part
		if i == len(parts)-1 {
			break // terminal component handled by caller, not here
		}
		if cur == "/tmp" {
			continue
		}
		info, err := p.lstat(cur)
		if err != nil || info.Mode()&os.ModeSymlink == 0 {
			continue
		}
		target, err := p.resolveSymlink(cur)
		if err != nil {
			continue
		}
		rest := "/" + strings.Join(parts[i+1:], "/")
		return cur, filepath.Clean(target + rest), true
	}
	return "", "", false
}

func (p *Planner) resolveSymlink(path string) (string, error) {
	target, err := p.readlink(path)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(path), target)
	}
	return target, nil
}

func (p *Planner) recordSymlink(path, symlinkAt, resolved string) {
	rel, err := filepath.Rel(filepath.Dir(path), resolved)
	if err != nil {
		rel = resolved
	}
	p.exports[path] = &export{mode: ModeSymlink, symlinkTarget: rel}
}

func (p *Planner) record(path string, mode Mode) {
	if existing, ok := p.exports[path]; ok {
		if mode > existing.mode {
			existing.mode = mode
		}
		return
	}
	p.exports[path] = &export{mode: mode}
}

// Tmpfs records path as a tmpfs hide.
func (p *Planner) Tmpfs(path string) {
	p.record(filepath.Clean(path), ModeTmpfs)
}

// Dir records path as a dir-only stub, unless a real export already covers
// it — the stub only guarantees the directory exists, never replaces a bind.
func (p *Planner) Dir(path string) {
	path = filepath.Clean(path)
	if _, ok := p.exports[path]; ok {
		return
	}
	p.exports[path] = &export{mode: ModeDirOnly}
}

// Directive is one emitted bind/tmpfs/symlink/dir-create argv fragment.
type Directive struct {
	Kind   string // "bind-ro", "bind-rw", "dir", "tmpfs", "symlink"
	Path   string
	Target string // symlink target, only set when Kind == "symlink"
}

// Emit sorts exports by path (shortest first) and decides the directive for
// each.
func (p *Planner) Emit() []Directive {
	paths := make([]string, 0, len(p.exports))
	for path := range p.exports {
		paths = append(paths, path)
	}
	sort.Slice(paths, func(i, j int) bool {
		if len(paths[i]) != len(paths[j]) {
			return len(paths[i]) < len(paths[j])
		}
		return paths[i] < paths[j]
	})

	var out []Directive
	for _, path := range paths {
		e := p.exports[path]
		switch e.mode {
		case ModeSymlink:
			if p.hasNonTmpfsAncestor(path) {
				continue
			}
			out = append(out, Directive{Kind: "symlink", Path: path, Target: e.symlinkTarget})
		case ModeTmpfs:
			if info, err := p.lstat(path); err == nil && info.IsDir() && !p.hasTmpfsAncestor(path) {
				out = append(out, Directive{Kind: "dir", Path: path})
			} else {
				out = append(out, Directive{Kind: "tmpfs", Path: path})
			}
		case ModeDirOnly:
			if info, err := p.lstat(path); err == nil && info.IsDir() {
				out = append(out, Directive{Kind: "dir", Path: path})
			}
		case ModeReadOnly:
			out = append(out, Directive{Kind: "bind-ro", Path: path})
		case ModeReadWrite, ModeCreate:
			out = append(out, Directive{Kind: "bind-rw", Path: path})
		default:
			log.Warnf("export planner: path %q has unknown mode %v, skipping", path, e.mode)
		}
	}
	return out
}

func (p *Planner) hasNonTmpfsAncestor(path string) bool {
	for ancestor := range p.exports {
		if ancestor == path {
			continue
		}
		if isProperAncestor(ancestor, path) && p.exports[ancestor].mode != ModeTmpfs {
			return true
		}
	}
	return false
}

func (p *Planner) hasTmpfsAncestor(path string) bool {
	for ancestor, e := range p.exports {
		if ancestor == path {
			continue
		}
		if isProperAncestor(ancestor, path) && e.mode == ModeTmpfs {
			return true
		}
	}
	return false
}

func isProperAncestor(ancestor, path string) bool {
	if ancestor == "/" {
		return path != "/"
	}
	return strings.HasPrefix(path, ancestor+"/")
}

// IsVisible reports whether path would end up visible given the exports
// recorded so far: every prefix corresponding to a non-tmpfs export must
// not be blocked by a tmpfs ancestor, and the terminal component must be
// mapped non-tmpfs. Symlinks encountered mid-walk trigger a recursive
// visibility check of the resolved path.
func (p *Planner) IsVisible(path string) bool {
	return p.isVisible(path, 0)
}

func (p *Planner) isVisible(path string, depth int) bool {
	if depth > maxSymlinkDepth {
		return false
	}
	path = filepath.Clean(path)

	if symlinkAt, resolved, ok := p.findIntermediateSymlink(path); ok {
		if e, exported := p.exports[symlinkAt]; exported && e.mode == ModeTmpfs {
			return false
		}
		return p.isVisible(resolved, depth+1)
	}

	e, ok := p.exports[path]
	if !ok || e.mode == ModeTmpfs {
		return false
	}
	if p.hasTmpfsAncestor(path) {
		return false
	}
	return true
}
