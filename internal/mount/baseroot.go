package mount

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/safedep/dry/log"
	"github.com/sandboxrt/launchd/internal/refs"
)

// skippedEtcEntries are never projected from the runtime's etc/ because the
// builder synthesizes or binds them itself.
var skippedEtcEntries = map[string]bool{
	"passwd": true, "group": true, "machine-id": true,
	"resolv.conf": true, "host.conf": true, "hosts": true, "localtime": true,
}

// usrCompatLinks are the top-level symlinks pointing into /usr that a
// traditional FHS layout expects at the sandbox root.
var usrCompatLinks = []string{"lib", "lib32", "lib64", "bin", "sbin"}

// SealedFile is a read-only, in-memory payload bound into the sandbox as a
// named file, handed to SBX as an open file descriptor.
type SealedFile struct {
	SandboxPath string
	File        *os.File
}

// User identifies the host user the sandboxed passwd/group entries are
// synthesized for.
type User struct {
	UID      int
	GID      int
	Username string
	Home     string
	Shell    string
}

// Options configures one BaseRootBuilder.Build invocation.
type Options struct {
	RuntimeFilesPath string
	User             User
	DieWithParent    bool
	WritableEtc      bool
	Arch             refs.Arch
	Linux32          bool

	// MonitorDir, when non-empty, is a host directory (typically produced by
	// the session helper's RequestMonitor call) containing resolv.conf,
	// host.conf, hosts, localtime to project instead of binding the host
	// files directly.
	MonitorDir string

	// MachineIDPath is the resolved host machine-id file, if found
	// (/etc/machine-id or /var/lib/dbus/machine-id).
	MachineIDPath string
}

// Builder emits the mandatory BaseRootBuilder scaffolding.
type Builder struct {
	readDir func(string) ([]os.DirEntry, error)
	lstat   func(string) (os.FileInfo, error)
}

// NewBuilder returns a Builder backed by the real filesystem.
func NewBuilder() *Builder {
	return &Builder{readDir: os.ReadDir, lstat: os.Lstat}
}

// BaseRoot is the output of Build.
type BaseRoot struct {
	Argv        []string
	SealedFiles []SealedFile
}

// Build assembles the scaffolding argv and sealed passwd/group payloads.
// It does not apply process personality or install seccomp; callers invoke
// ApplyPersonality separately on the thread that will exec.
func (b *Builder) Build(opts Options) (BaseRoot, error) {
	var root BaseRoot

	root.Argv = append(root.Argv,
		"--unshare-pid",
		"--proc", "/proc",
		"--dir", "/tmp",
		"--dir", "/var/tmp",
		"--dir", "/run/host",
		"--dir", fmt.Sprintf("/run/user/%d", opts.User.UID),
		"--setenv", "XDG_RUNTIME_DIR", fmt.Sprintf("/run/user/%d", opts.User.UID),
		"--symlink", "../run", "/var/run",
	)
	for _, d := range []string{"block", "bus", "class", "dev", "devices"} {
		p := "/sys/" + d
		if _, err := b.lstat(p); err == nil {
			root.Argv = append(root.Argv, "--ro-bind", p, p)
		}
	}

	if opts.DieWithParent {
		root.Argv = append(root.Argv, "--die-with-parent")
	}

	if opts.WritableEtc {
		root.Argv = append(root.Argv, "--dir", "/usr/etc", "--symlink", "usr/etc", "/etc")
	} else {
		if err := b.projectRuntimeEtc(&root, opts.RuntimeFilesPath); err != nil {
			return BaseRoot{}, err
		}
	}

	passwdFile, err := createSealedFile("passwd", passwdContents(opts.User))
	if err != nil {
		return BaseRoot{}, fmt.Errorf("baseroot: sealing passwd: %w", err)
	}
	root.SealedFiles = append(root.SealedFiles, SealedFile{SandboxPath: "/etc/passwd", File: passwdFile})

	groupFile, err := createSealedFile("group", groupContents(opts.User))
	if err != nil {
		return BaseRoot{}, fmt.Errorf("baseroot: sealing group: %w", err)
	}
	root.SealedFiles = append(root.SealedFiles, SealedFile{SandboxPath: "/etc/group", File: groupFile})

	if opts.MachineIDPath != "" {
		if _, err := b.lstat(opts.MachineIDPath); err == nil {
			root.Argv = append(root.Argv, "--ro-bind", opts.MachineIDPath, "/etc/machine-id")
		}
	}

	for _, name := range usrCompatLinks {
		if _, err := b.lstat(filepath.Join(opts.RuntimeFilesPath, name)); err == nil {
			root.Argv = append(root.Argv, "--symlink", "usr/"+name, "/"+name)
		}
	}

	b.projectNetworkFiles(&root, opts)

	return root, nil
}

func (b *Builder) projectRuntimeEtc(root *BaseRoot, runtimeFiles string) error {
	etcDir := filepath.Join(runtimeFiles, "etc")
	entries, err := b.readDir(etcDir)
	if err != nil {
		log.Debugf("baseroot: runtime has no etc/ (%v), skipping projection", err)
		return nil
	}
	for _, e := range entries {
		if skippedEtcEntries[e.Name()] {
			continue
		}
		hostPath := filepath.Join(etcDir, e.Name())
		sandboxPath := "/etc/" + e.Name()

		info, err := b.lstat(hostPath)
		if err != nil {
			continue
		}
		if info.Mode()&os.ModeSymlink != 0 {
			target, err := os.Readlink(hostPath)
			if err != nil {
				continue
			}
			root.Argv = append(root.Argv, "--symlink", target, sandboxPath)
			continue
		}
		root.Argv = append(root.Argv, "--ro-bind", hostPath, sandboxPath)
	}
	return nil
}

// projectNetworkFiles binds resolv.conf/host.conf/hosts/localtime: prefer
// the monitor directory's
// projected copies (symlinked in), falling back to direct host binds.
func (b *Builder) projectNetworkFiles(root *BaseRoot, opts Options) {
	names := []string{"resolv.conf", "host.conf", "hosts", "localtime"}

	if opts.MonitorDir != "" {
		for _, name := range names {
			sandboxPath := "/etc/" + name
			root.Argv = append(root.Argv, "--symlink", "/run/host/monitor/"+name, sandboxPath)
		}
		root.Argv = append(root.Argv, "--ro-bind", opts.MonitorDir, "/run/host/monitor")
		return
	}

	for _, name := range names {
		hostPath := "/etc/" + name
		sandboxPath := hostPath
		if _, err := b.lstat(hostPath); err != nil {
			continue
		}
		if name == "localtime" {
			if target, err := os.Readlink(hostPath); err == nil && filepath.IsAbs(target) {
				if rel, ok := usrAnchoredLink(target); ok {
					root.Argv = append(root.Argv, "--symlink", rel, sandboxPath)
					continue
				}
			}
		}
		root.Argv = append(root.Argv, "--ro-bind", hostPath, sandboxPath)
	}
}

// usrAnchoredLink checks whether target resolves under /usr/share/zoneinfo
// (the common /etc/localtime -> /usr/share/zoneinfo/... layout) and, if so,
// returns the sandbox-relative form.
func usrAnchoredLink(target string) (string, bool) {
	const prefix = "/usr/share/zoneinfo/"
	if len(target) > len(prefix) && target[:len(prefix)] == prefix {
		return "../usr/share/zoneinfo/" + target[len(prefix):], true
	}
	return "", false
}

func passwdContents(u User) []byte {
	home := u.Home
	if home == "" {
		home = "/"
	}
	shell := u.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	return []byte(fmt.Sprintf(
		"%s:x:%d:%d::%s:%s\nnfsnobody:x:65534:65534:Unmapped user:/:/sbin/nologin\n",
		u.Username, u.UID, u.GID, home, shell,
	))
}

func groupContents(u User) []byte {
	return []byte(fmt.Sprintf("%s:x:%d:\n", u.Username, u.GID))
}
