package mount

import (
	"os"
	"path/filepath"
)

// fontCacheDirs and systemFontDirs are the host directories projected into
// every sandbox so applications render text consistently with the host.
var fontCacheDirs = []string{".cache/fontconfig", ".cache/fontconfig/version"}

var userFontDirs = []string{".local/share/fonts", ".fonts"}

var systemFontDirs = []string{
	"/usr/share/fonts",
	"/usr/local/share/fonts",
}

var systemIconDirs = []string{
	"/usr/share/icons",
	"/usr/local/share/icons",
}

// ProjectFonts binds the host's font cache and font directories read-only:
// system font directories under /run/host/fonts, the user's font directory
// at /run/host/user-fonts and the font cache at /run/host/font-cache, for an
// application to locate via fontconfig.
func ProjectFonts(home string) []Directive {
	var out []Directive
	for _, rel := range userFontDirs {
		p := filepath.Join(home, rel)
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			out = append(out, Directive{Kind: "bind-ro", Path: "/run/host/user-fonts", Source: p})
		}
	}
	for _, rel := range fontCacheDirs {
		p := filepath.Join(home, rel)
		if _, err := os.Stat(p); err == nil {
			out = append(out, Directive{Kind: "bind-ro", Path: "/run/host/font-cache", Source: p})
		}
	}
	for _, p := range systemFontDirs {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			out = append(out, Directive{Kind: "bind-ro", Path: "/run/host/fonts" + p, Source: p})
		}
	}
	return out
}

// ProjectIcons binds the host's system icon theme directories read-only
// under /run/host/share/icons.
func ProjectIcons() []Directive {
	var out []Directive
	for _, p := range systemIconDirs {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			out = append(out, Directive{Kind: "bind-ro", Path: "/run/host" + p, Source: p})
		}
	}
	return out
}

// ProjectJournal binds the host journal sockets so sandboxed stdout/stderr
// and native journal clients still reach journald.
func ProjectJournal() []Directive {
	var out []Directive
	for _, p := range []string{"/run/systemd/journal/socket", "/run/systemd/journal/stdout"} {
		if _, err := os.Stat(p); err == nil {
			out = append(out, Directive{Kind: "bind-rw", Path: p, Source: p})
		}
	}
	return out
}

// ProjectDebugSymlinks binds /usr/lib/debug when present, so crash
// backtraces inside the sandbox can symbolicate against host debug info.
func ProjectDebugSymlinks() []Directive {
	const debugDir = "/usr/lib/debug"
	if info, err := os.Stat(debugDir); err == nil && info.IsDir() {
		return []Directive{{Kind: "bind-ro", Path: "/run/host/usr/lib/debug", Source: debugDir}}
	}
	return nil
}
