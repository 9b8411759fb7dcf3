// Package sbxexec is the one place that knows how to find and invoke the
// external helper binaries: the SBX sandbox-setup binary (a
// bwrap-compatible namespace helper) and the D-Bus
// proxy helper. Every other component builds argv; only this package calls
// exec.Command or replaces the process image.
package sbxexec

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/safedep/dry/log"
	"github.com/sandboxrt/launchd/internal/usefulerror"
)

const (
	sbxBinEnv    = "LAUNCHD_SBX_BIN"
	proxyBinEnv  = "FLATPAK_DBUSPROXY"
	defaultSBX   = "bwrap"
	defaultProxy = "xdg-dbus-proxy"
)

// ResolveSBX locates the sandbox-setup helper, honoring LAUNCHD_SBX_BIN
// before falling back to PATH lookup.
func ResolveSBX() (string, error) {
	if p := os.Getenv(sbxBinEnv); p != "" {
		return p, nil
	}
	p, err := exec.LookPath(defaultSBX)
	if err != nil {
		return "", usefulerror.Useful().
			WithCode(usefulerror.ErrCodeExternalFailure).
			WithHumanError(fmt.Sprintf("The sandbox helper %q was not found on PATH", defaultSBX)).
			WithHelp("Install bubblewrap, or set " + sbxBinEnv + " to the helper binary").
			Wrap(fmt.Errorf("sandbox helper %q not found on PATH: %w", defaultSBX, err))
	}
	return p, nil
}

// ResolveProxy locates the D-Bus proxy helper, honoring the FLATPAK_DBUSPROXY
// environment override.
func ResolveProxy() (string, error) {
	if p := os.Getenv(proxyBinEnv); p != "" {
		return p, nil
	}
	p, err := exec.LookPath(defaultProxy)
	if err != nil {
		return "", usefulerror.Useful().
			WithCode(usefulerror.ErrCodeExternalFailure).
			WithHumanError(fmt.Sprintf("The D-Bus proxy helper %q was not found on PATH", defaultProxy)).
			WithHelp("Install xdg-dbus-proxy, or set " + proxyBinEnv + " to the helper binary").
			Wrap(fmt.Errorf("dbus proxy helper %q not found on PATH: %w", defaultProxy, err))
	}
	return p, nil
}

// Invocation describes one synchronous or detached helper spawn.
type Invocation struct {
	BinPath    string
	Argv       []string
	ExtraFiles []*os.File
	Env        []string
}

// RunSync spawns bin and blocks until it exits, used for the ldconfig nested
// sandbox invocation, where a non-zero exit is fatal.
func RunSync(ctx context.Context, inv Invocation) error {
	cmd := exec.CommandContext(ctx, inv.BinPath, inv.Argv...)
	cmd.ExtraFiles = inv.ExtraFiles
	if inv.Env != nil {
		cmd.Env = inv.Env
	}
	cmd.Stderr = os.Stderr

	log.Debugf("sbxexec: running %s %v (extra fds=%d)", inv.BinPath, inv.Argv, len(inv.ExtraFiles))

	if err := cmd.Run(); err != nil {
		return usefulerror.Useful().
			WithCode(usefulerror.ErrCodeExternalFailure).
			WithHumanError(fmt.Sprintf("The helper %s failed", inv.BinPath)).
			WithHelp("Check the helper's own output above").
			Wrap(fmt.Errorf("%s exited with error: %w", inv.BinPath, err))
	}
	return nil
}

// FDAllocator tracks extra files destined for a child's ExtraFiles and maps
// each to the fd number the child will see it as (3, 4, 5, ... following
// stdin/stdout/stderr), so callers can reference that number in argv before
// the process is actually started.
type FDAllocator struct {
	files []*os.File
}

// Add registers f and returns the fd number the child process will see it as.
func (a *FDAllocator) Add(f *os.File) int {
	a.files = append(a.files, f)
	return len(a.files) + 2
}

// ExtraFiles returns the accumulated files in Add order, ready to assign to
// exec.Cmd.ExtraFiles.
func (a *FDAllocator) ExtraFiles() []*os.File {
	return a.files
}

// SpawnAsync starts bin without waiting, used for the D-Bus proxy helper,
// which is synchronized via a readiness pipe instead of exit status.
func SpawnAsync(inv Invocation) (*os.Process, error) {
	cmd := exec.Command(inv.BinPath, inv.Argv...)
	cmd.ExtraFiles = inv.ExtraFiles
	if inv.Env != nil {
		cmd.Env = inv.Env
	}
	cmd.Stderr = os.Stderr

	log.Debugf("sbxexec: spawning %s %v (extra fds=%d)", inv.BinPath, inv.Argv, len(inv.ExtraFiles))

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn %s: %w", inv.BinPath, err)
	}
	return cmd.Process, nil
}

// SpawnDetached starts bin in its own session, releasing it from this
// process's lifetime. Used for background launches, where the launcher
// returns immediately instead of replacing its process image.
func SpawnDetached(inv Invocation) (*os.Process, error) {
	cmd := exec.Command(inv.BinPath, inv.Argv...)
	cmd.ExtraFiles = inv.ExtraFiles
	if inv.Env != nil {
		cmd.Env = inv.Env
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	log.Debugf("sbxexec: spawning detached %s %v (extra fds=%d)", inv.BinPath, inv.Argv, len(inv.ExtraFiles))

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn detached %s: %w", inv.BinPath, err)
	}
	if err := cmd.Process.Release(); err != nil {
		return nil, fmt.Errorf("release detached %s: %w", inv.BinPath, err)
	}
	return cmd.Process, nil
}
