// Package ldcache builds and caches the ld.so.cache file bound into the
// sandbox at /etc/ld.so.cache. The cache key covers the exact
// (app_commit, runtime_commit, app_extensions, runtime_extensions) tuple so
// that two launches sharing that tuple reuse the same built file.
package ldcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/safedep/dry/log"
	"github.com/sandboxrt/launchd/internal/config"
	"github.com/sandboxrt/launchd/internal/mount"
	"github.com/sandboxrt/launchd/internal/sbxexec"
)

// ldConfFixed is the fixed content installed as /etc/ld.so.conf inside the
// nested ldconfig sandbox when the runtime doesn't already ship a usable one.
const ldConfFixed = "include /run/flatpak/ld.so.conf.d/app-*.conf\n" +
	"include /app/etc/ld.so.conf\n" +
	"/app/lib\n" +
	"include /run/flatpak/ld.so.conf.d/runtime-*.conf\n"

// Request describes the inputs needed to resolve or build one ld.so.cache
// entry.
type Request struct {
	AppDataDir   string // "" when the app has no per-app data directory
	RuntimeFiles string
	AppFiles     string // "" when the launch has no /app bind

	// CacheDirOverride forces the cache directory, taking precedence over
	// both the per-app and user-cache locations.
	CacheDirOverride string

	// RuntimeEtcLdConf is the host path to the runtime's own etc/ld.so.conf,
	// or "" if the runtime doesn't ship one.
	RuntimeEtcLdConf string

	Extensions mount.Result

	AppCommit                string
	RuntimeCommit            string
	AppExtensionsSummary     string
	RuntimeExtensionsSummary string
}

// Key returns the content-address for req's commit/extension tuple.
func Key(req Request) string {
	sum := sha256.Sum256([]byte(req.AppCommit + req.RuntimeCommit +
		req.AppExtensionsSummary + req.RuntimeExtensionsSummary))
	return hex.EncodeToString(sum[:])
}

// Open resolves the ld.so.cache file for req. If the entry for req's key is
// already cached it is opened directly; otherwise it's built via a nested
// SBX invocation of ldconfig before being opened.
func Open(ctx context.Context, req Request) (*os.File, error) {
	key := Key(req)

	dir, err := cacheDir(req.AppDataDir, req.CacheDirOverride)
	if err != nil {
		return nil, fmt.Errorf("ldcache: resolve cache dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ldcache: create cache dir %q: %w", dir, err)
	}

	path := filepath.Join(dir, key)
	if f, err := os.Open(path); err == nil {
		log.Debugf("ldcache: reusing cached entry %s", path)
		return f, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("ldcache: stat cache entry %q: %w", path, err)
	}

	if err := build(ctx, req, dir, key); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ldcache: open built entry %q: %w", path, err)
	}

	if req.AppDataDir == "" {
		if err := os.Remove(path); err != nil {
			f.Close()
			return nil, fmt.Errorf("ldcache: unlink unshared entry %q: %w", path, err)
		}
		return f, nil
	}

	if err := activate(dir, key); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// build runs ldconfig inside a minimal nested sandbox that sees runtime
// (and optionally app) files plus the accumulated extension mounts, writing
// the result to <dir>/<key>.
func build(ctx context.Context, req Request, dir, key string) error {
	sbx, err := sbxexec.ResolveSBX()
	if err != nil {
		return fmt.Errorf("ldcache: %w", err)
	}

	var fds sbxexec.FDAllocator
	argv := []string{
		"--unshare-pid", "--unshare-ipc", "--unshare-net", "--die-with-parent",
		"--ro-bind", req.RuntimeFiles, "/usr",
	}
	if req.AppFiles != "" {
		argv = append(argv, "--ro-bind", req.AppFiles, "/app")
	}

	argv = append(argv, mount.ArgvFromDirectives(req.Extensions.Directives)...)

	if len(req.Extensions.LdConfFragments) > 0 {
		argv = append(argv, "--dir", "/run/flatpak/ld.so.conf.d")
		for _, frag := range sortedFragments(req.Extensions.LdConfFragments) {
			f, err := mount.NewSealedFile(frag.name, []byte(frag.path+"\n"))
			if err != nil {
				return fmt.Errorf("ldcache: seal ld.so.conf.d fragment %q: %w", frag.name, err)
			}
			defer f.Close()
			fdNum := fds.Add(f)
			argv = append(argv, "--ro-bind-data", strconv.Itoa(fdNum), "/run/flatpak/ld.so.conf.d/"+frag.name)
		}
	}

	if content, needsGenerated := runtimeLdConfContent(req.RuntimeEtcLdConf); needsGenerated {
		f, err := mount.NewSealedFile("ld.so.conf", []byte(content))
		if err != nil {
			return fmt.Errorf("ldcache: seal generated ld.so.conf: %w", err)
		}
		defer f.Close()
		fdNum := fds.Add(f)
		argv = append(argv, "--ro-bind-data", strconv.Itoa(fdNum), "/etc/ld.so.conf")
	} else {
		argv = append(argv, "--symlink", "../usr/etc/ld.so.conf", "/etc/ld.so.conf")
	}

	argv = append(argv, "--bind", dir, "/run/ld-so-cache-dir")
	argv = append(argv, "--", "ldconfig", "-X", "-C", "/run/ld-so-cache-dir/"+key)

	inv := sbxexec.Invocation{BinPath: sbx, Argv: argv, ExtraFiles: fds.ExtraFiles()}
	if err := sbxexec.RunSync(ctx, inv); err != nil {
		return fmt.Errorf("ldcache: build %s: %w", key, err)
	}
	return nil
}

// sortedFragments returns m's entries sorted by filename, so the generated
// argv (and therefore the cache key's build inputs) is deterministic.
func sortedFragments(m map[string]string) []struct{ name, path string } {
	out := make([]struct{ name, path string }, 0, len(m))
	for name, path := range m {
		out = append(out, struct{ name, path string }{name, path})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// runtimeLdConfContent decides whether the nested sandbox needs a generated
// /etc/ld.so.conf (returns its content, true) or can symlink to the
// runtime's own copy (returns "", false) — the runtime's copy is usable only
// when it's a non-empty regular file.
func runtimeLdConfContent(runtimeEtcLdConf string) (string, bool) {
	if runtimeEtcLdConf == "" {
		return ldConfFixed, true
	}
	fi, err := os.Stat(runtimeEtcLdConf)
	if err != nil || !fi.Mode().IsRegular() || fi.Size() == 0 {
		return ldConfFixed, true
	}
	return "", false
}

// cacheDir resolves the cache directory for appDataDir: the per-app
// .ld.so/ subdirectory when one exists, else the shared user cache
// location.
func cacheDir(appDataDir, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if appDataDir != "" {
		return filepath.Join(appDataDir, ".ld.so"), nil
	}
	base, err := config.CacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "ld.so"), nil
}

// activate atomically repoints the "active" symlink at key and prunes any
// other stale cache entries; concurrent launchers resolve last-writer-wins.
func activate(dir, key string) error {
	tmp := filepath.Join(dir, ".active-"+key)
	if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ldcache: clear stale symlink temp %q: %w", tmp, err)
	}
	if err := os.Symlink(key, tmp); err != nil {
		return fmt.Errorf("ldcache: create symlink temp %q: %w", tmp, err)
	}
	active := filepath.Join(dir, "active")
	if err := os.Rename(tmp, active); err != nil {
		return fmt.Errorf("ldcache: activate %q: %w", key, err)
	}
	return pruneStale(dir, key)
}

// pruneStale removes cache entries other than keep and the active symlink.
// Failures are logged, not fatal: a leftover stale entry wastes disk but
// doesn't affect correctness of the current launch.
func pruneStale(dir, keep string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("ldcache: list cache dir %q: %w", dir, err)
	}
	for _, e := range entries {
		name := e.Name()
		if name == keep || name == "active" || e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			log.Warnf("ldcache: failed to prune stale entry %q: %v", name, err)
		}
	}
	return nil
}
