package export

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/safedep/dry/log"
	"github.com/sandboxrt/launchd/internal/sandboxctx"
)

// excludedRootEntries are skipped when filesystems["host"] enumerates the
// real root — everything the base-root and extension mounters
// already projects, or that must never be exposed wholesale.
var excludedRootEntries = map[string]bool{
	".": true, "..": true,
	"lib": true, "lib32": true, "lib64": true, "bin": true, "sbin": true,
	"usr": true, "boot": true, "root": true, "tmp": true, "etc": true,
	"app": true, "run": true, "proc": true, "sys": true, "dev": true, "var": true,
}

// AppPaths describes the per-app data directory layout needed to compose
// the "hide data parent, re-expose app's own subdir" rule.
type AppPaths struct {
	AppID       string
	DataParent  string // e.g. $HOME/.var/app
	AppDataDir  string // e.g. $HOME/.var/app/<app-id>
	UserBaseDir string // platform user base directory to always tmpfs-hide (e.g. $HOME/.local/share/flatpak)
}

// ComposeFromContext translates a Context's filesystem map plus the
// mandatory always-on exports into Planner calls.
func ComposeFromContext(p *Planner, ctx *sandboxctx.Context, dirs *UserDirs, app AppPaths) error {
	if _, ok := ctx.Filesystems["host"]; ok {
		if err := exposeHost(p); err != nil {
			return err
		}
	}

	if _, ok := ctx.Filesystems["home"]; ok {
		if err := p.Expose(dirs.Home, ModeReadWrite); err != nil {
			return err
		}
	}

	for key, mode := range ctx.Filesystems {
		if key == "host" || key == "home" {
			continue
		}
		if mode == sandboxctx.FSDenied {
			continue
		}
		if err := exposeEntry(p, dirs, key, mode); err != nil {
			log.Warnf("export: skipping %q: %v", key, err)
		}
	}

	if app.AppDataDir != "" {
		p.Tmpfs(app.DataParent)
		if err := ensureDir(app.AppDataDir); err != nil {
			return err
		}
		if err := p.Expose(app.AppDataDir, ModeReadWrite); err != nil {
			return err
		}
	}

	p.Dir(dirs.Home)

	if app.UserBaseDir != "" {
		p.Tmpfs(app.UserBaseDir)
	}

	return nil
}

func exposeHost(p *Planner) error {
	entries, err := os.ReadDir("/")
	if err != nil {
		return err
	}
	for _, e := range entries {
		if excludedRootEntries[e.Name()] {
			continue
		}
		if err := p.Expose(filepath.Join("/", e.Name()), ModeReadWrite); err != nil {
			log.Warnf("export: skipping host entry %q: %v", e.Name(), err)
		}
	}
	if info, err := os.Lstat("/run/media"); err == nil && info.IsDir() {
		if err := p.Expose("/run/media", ModeReadWrite); err != nil {
			log.Warnf("export: skipping /run/media: %v", err)
		}
	}
	return nil
}

func modeFromContext(m sandboxctx.FilesystemMode) Mode {
	switch m {
	case sandboxctx.FSReadWrite:
		return ModeReadWrite
	case sandboxctx.FSCreate:
		return ModeCreate
	default:
		return ModeReadOnly
	}
}

func exposeEntry(p *Planner, dirs *UserDirs, key string, mode sandboxctx.FilesystemMode) error {
	var target string

	switch {
	case strings.HasPrefix(key, "xdg-"):
		resolved, disabled, ok := dirs.Category(key)
		if !ok {
			return nil
		}
		if disabled {
			// A disabled xdg-* category is skipped unconditionally, even
			// under --create.
			return nil
		}
		target = resolved
	case strings.HasPrefix(key, "~/"):
		target = filepath.Join(dirs.Home, strings.TrimPrefix(key, "~/"))
	default:
		target = key
	}

	expMode := modeFromContext(mode)
	if expMode == ModeCreate {
		if err := ensureDir(target); err != nil {
			return err
		}
	}
	return p.Expose(target, expMode)
}

func ensureDir(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.MkdirAll(path, 0o755)
}
