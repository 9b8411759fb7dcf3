// Package appinfo writes the .flatpak-info keyfile published inside every
// sandbox and hands SBX the dual file descriptors that keep it readable even if the bind mount is
// torn down during namespace shutdown.
package appinfo

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/sandboxrt/launchd/internal/mount"
)

// Instance describes the [Instance] section fields.
type Instance struct {
	AppPath            string
	AppCommit          string
	AppExtensions      string
	RuntimePath        string
	RuntimeCommit      string
	RuntimeExtensions  string
	Branch             string
	FlatpakVersion     string
	SessionBusProxy    bool
	SystemBusProxy     bool
}

// Application describes the top-level section: either [Application] (name +
// runtime ref) or, when IsRuntime is set, [Runtime].
type Application struct {
	IsRuntime bool
	Name      string
	Runtime   string // runtime ref the app (or, for a runtime, itself) targets
}

// Published is the result of rendering and sealing the keyfile:
// independent descriptors onto the same content, for the caller to register
// with its own FDAllocator. The dual file/bind pass guarantees that if the
// bind mount built from BindFD is ever torn down, the file copied from
// FileFD still holds the same content.
type Published struct {
	FileFD           *os.File
	BindFD           *os.File
	ProxyFD          *os.File
	SymlinkDirective mount.Directive
}

// Publish renders the keyfile and seals it into unlinked file descriptors.
// The caller is responsible for registering FileFD/BindFD with its
// FDAllocator and emitting the
// "--file"/"--ro-bind-data" argv entries at the child-relative fd numbers it
// assigns — Publish does not know those numbers itself.
func Publish(app Application, inst Instance, uid int) (*Published, error) {
	content, err := render(app, inst)
	if err != nil {
		return nil, fmt.Errorf("appinfo: render keyfile: %w", err)
	}

	tmp, err := os.CreateTemp("", "flatpak-info-*")
	if err != nil {
		return nil, fmt.Errorf("appinfo: create keyfile temp: %w", err)
	}
	path := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(path)
		return nil, fmt.Errorf("appinfo: write keyfile: %w", err)
	}

	if _, err := tmp.Seek(0, 0); err != nil {
		tmp.Close()
		os.Remove(path)
		return nil, fmt.Errorf("appinfo: rewind keyfile: %w", err)
	}

	bindFD, err := os.Open(path)
	if err != nil {
		tmp.Close()
		os.Remove(path)
		return nil, fmt.Errorf("appinfo: reopen keyfile: %w", err)
	}
	// The bus-proxy wrapper reads its copy independently; it cannot share an
	// offset with the descriptor the main sandbox consumes.
	proxyFD, err := os.Open(path)
	if err != nil {
		tmp.Close()
		bindFD.Close()
		os.Remove(path)
		return nil, fmt.Errorf("appinfo: reopen keyfile for proxy: %w", err)
	}
	fileFD := tmp

	if err := os.Remove(path); err != nil {
		fileFD.Close()
		bindFD.Close()
		proxyFD.Close()
		return nil, fmt.Errorf("appinfo: unlink keyfile path: %w", err)
	}

	return &Published{
		FileFD:  fileFD,
		BindFD:  bindFD,
		ProxyFD: proxyFD,
		SymlinkDirective: mount.Directive{
			Kind:   "symlink",
			Path:   fmt.Sprintf("/run/user/%d/flatpak-info", uid),
			Target: "../../../.flatpak-info",
		},
	}, nil
}

// render builds the keyfile bytes for app/inst using the same ini.v1
// section-by-section construction as sandboxctx's metadata serializer.
func render(app Application, inst Instance) ([]byte, error) {
	cfg := ini.Empty(ini.LoadOptions{AllowBooleanKeys: true})

	topSection := "Application"
	if app.IsRuntime {
		topSection = "Runtime"
	}
	top, err := cfg.NewSection(topSection)
	if err != nil {
		return nil, err
	}
	if _, err := top.NewKey("name", app.Name); err != nil {
		return nil, err
	}
	if app.Runtime != "" {
		if _, err := top.NewKey("runtime", app.Runtime); err != nil {
			return nil, err
		}
	}

	instSec, err := cfg.NewSection("Instance")
	if err != nil {
		return nil, err
	}
	fields := []struct{ key, value string }{
		{"app-path", inst.AppPath},
		{"app-commit", inst.AppCommit},
		{"app-extensions", inst.AppExtensions},
		{"runtime-path", inst.RuntimePath},
		{"runtime-commit", inst.RuntimeCommit},
		{"runtime-extensions", inst.RuntimeExtensions},
		{"branch", inst.Branch},
		{"flatpak-version", inst.FlatpakVersion},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if _, err := instSec.NewKey(f.key, f.value); err != nil {
			return nil, err
		}
	}
	if _, err := instSec.NewKey("session-bus-proxy", strconv.FormatBool(inst.SessionBusProxy)); err != nil {
		return nil, err
	}
	if _, err := instSec.NewKey("system-bus-proxy", strconv.FormatBool(inst.SystemBusProxy)); err != nil {
		return nil, err
	}

	var buf strings.Builder
	if _, err := cfg.WriteTo(&buf); err != nil {
		return nil, err
	}
	return []byte(buf.String()), nil
}
