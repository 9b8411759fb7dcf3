// Package mount emits the ordered bind-mount scaffolding that projects
// runtime/app extensions and the canonical /, /proc, /dev, /etc skeleton
// into the sandbox.
package mount

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/safedep/dry/log"
)

// Extension describes one runtime or app extension declared in metadata.
type Extension struct {
	InstalledID  string // e.g. "org.freedesktop.Platform.GL.default"
	Directory    string // mount path under /app or /usr, e.g. "lib/GL"
	SubdirSuffix string // optional extra path component appended after Directory
	FilesPath    string // host source tree to bind read-only
	CommitID     string // "local" when the extension has no commit
	AddLDPath    string // relative path (under FilesPath) to add to LD_LIBRARY_PATH
	MergeDirs    []string
	NeedsTmpfs   bool // parent mount point needs a tmpfs overlay before binding
	IsApp        bool // true for app extensions (/app/...), false for runtime (/usr/...)
	Priority     int  // extension-priority order for LD entry emission
}

func (e Extension) mountPath() string {
	root := "/usr"
	if e.IsApp {
		root = "/app"
	}
	p := filepath.Join(root, e.Directory)
	if e.SubdirSuffix != "" {
		p = filepath.Join(p, e.SubdirSuffix)
	}
	return p
}

func (e Extension) sourceRole() string {
	if e.IsApp {
		return "app"
	}
	return "runtime"
}

// Directive is one emitted bind/tmpfs/lock-file argv fragment.
type Directive struct {
	Kind   string // "tmpfs", "dir", "bind-ro", "bind-rw", "dev-bind", "lock-file", "symlink"
	Path   string
	Source string // host source path, for bind-ro, bind-rw and dev-bind
	Target string // symlink target, for symlink
}

// Result is the output of Mount: the directives to append to SBX's argv,
// the assembled LD_LIBRARY_PATH addition (non-ld.so.cache mode), any
// ld.so.conf.d fragments to write (ld.so.cache mode), and a cache-key
// summary string.
type Result struct {
	Directives     []Directive
	LDLibraryPath  string            // already ordered: runtime entries prepended, app entries appended
	LdConfFragments map[string]string // filename -> single-path content, for /run/flatpak/ld.so.conf.d/
	Summary        string            // "installed-id=commit;..." in mount-path order, for LdCache key derivation
}

// Mounter accumulates extension mount directives.
type Mounter struct {
	// UseLdCache selects between writing ld.so.conf.d fragments (true) and
	// assembling an LD_LIBRARY_PATH string (false) for LD entries.
	UseLdCache bool

	statFn func(string) (os.FileInfo, error)
}

// NewMounter returns a Mounter backed by the real filesystem.
func NewMounter(useLdCache bool) *Mounter {
	return &Mounter{UseLdCache: useLdCache, statFn: os.Stat}
}

// Mount computes the directive sequence for exts: sorted by
// mount path, tmpfs-once-per-parent, read-only bind, optional .ref lock,
// LD entries in priority order, merge-dir symlink fan-out.
func (m *Mounter) Mount(exts []Extension) (Result, error) {
	sorted := make([]Extension, len(exts))
	copy(sorted, exts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].mountPath() < sorted[j].mountPath() })

	var res Result
	res.LdConfFragments = map[string]string{}

	tmpfsDone := map[string]bool{}
	var summaryParts []string

	for _, ext := range sorted {
		mp := ext.mountPath()

		if ext.NeedsTmpfs {
			parent := filepath.Dir(mp)
			if !tmpfsDone[parent] {
				res.Directives = append(res.Directives, Directive{Kind: "tmpfs", Path: parent})
				tmpfsDone[parent] = true
			}
		}

		if _, err := m.stat(ext.FilesPath); err != nil {
			return Result{}, fmt.Errorf("extension %q: files path %q: %w", ext.InstalledID, ext.FilesPath, err)
		}
		res.Directives = append(res.Directives, Directive{Kind: "bind-ro", Path: mp, Source: ext.FilesPath})

		if refPath := filepath.Join(ext.FilesPath, ".ref"); m.exists(refPath) {
			res.Directives = append(res.Directives, Directive{Kind: "lock-file", Path: filepath.Join(mp, ".ref")})
		}

		commit := ext.CommitID
		if commit == "" {
			commit = "local"
		}
		summaryParts = append(summaryParts, fmt.Sprintf("%s=%s", ext.InstalledID, commit))
	}
	res.Summary = strings.Join(summaryParts, ";")

	byPriority := make([]Extension, len(sorted))
	copy(byPriority, sorted)
	sort.SliceStable(byPriority, func(i, j int) bool { return byPriority[i].Priority < byPriority[j].Priority })

	var ldLibPrepend, ldLibAppend []string
	for i, ext := range byPriority {
		if ext.AddLDPath == "" {
			continue
		}
		ldPath := filepath.Join(ext.mountPath(), ext.AddLDPath)

		if m.UseLdCache {
			name := fmt.Sprintf("%s-%03d-%s.conf", ext.sourceRole(), i, ext.InstalledID)
			res.LdConfFragments[name] = ldPath
			continue
		}

		if ext.IsApp {
			ldLibAppend = append(ldLibAppend, ldPath)
		} else {
			ldLibPrepend = append(ldLibPrepend, ldPath)
		}
	}
	if !m.UseLdCache {
		parts := append(append([]string{}, ldLibPrepend...), ldLibAppend...)
		res.LDLibraryPath = strings.Join(parts, ":")
	}

	mergeTargets := map[string]bool{} // "parentMergeDir/entryName" already claimed
	for _, ext := range sorted {
		for _, merge := range ext.MergeDirs {
			parentMergeDir := filepath.Join(filepath.Dir(ext.mountPath()), merge)
			srcDir := filepath.Join(ext.FilesPath, merge)
			entries, err := os.ReadDir(srcDir)
			if err != nil {
				log.Debugf("mount: extension %q has no merge-dir %q, skipping: %v", ext.InstalledID, merge, err)
				continue
			}
			for _, e := range entries {
				key := filepath.Join(parentMergeDir, e.Name())
				if mergeTargets[key] {
					continue // first writer wins
				}
				mergeTargets[key] = true
				target := filepath.Join(ext.mountPath(), merge, e.Name())
				rel, err := filepath.Rel(parentMergeDir, target)
				if err != nil {
					rel = target
				}
				res.Directives = append(res.Directives, Directive{Kind: "symlink", Path: key, Target: rel})
			}
		}
	}

	return res, nil
}

func (m *Mounter) stat(path string) (os.FileInfo, error) {
	if m.statFn != nil {
		return m.statFn(path)
	}
	return os.Stat(path)
}

func (m *Mounter) exists(path string) bool {
	_, err := m.stat(path)
	return err == nil
}
