// Package busproxy spawns the external D-Bus filtering proxy the sandbox
// talks to instead of the real bus, and waits for its readiness handshake before the launch
// continues.
package busproxy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/safedep/dry/log"
	"github.com/sandboxrt/launchd/internal/mount"
	"github.com/sandboxrt/launchd/internal/sandboxctx"
	"github.com/sandboxrt/launchd/internal/sbxexec"
	"github.com/sandboxrt/launchd/internal/usefulerror"
)

// Bus describes one message bus the sandbox should reach only through the
// proxy.
type Bus struct {
	Name              string // "session", "system", or "a11y"
	UpstreamAddress   string
	SandboxSocketPath string // where the main sandbox expects this bus's socket
	Policies          map[string]sandboxctx.BusPolicy
}

// Request is the input to Start.
type Request struct {
	AppID          string
	UserRuntimeDir string // e.g. /run/user/<uid>
	FlatpakInfo    *os.File
	Buses          []Bus
}

// Result is returned once the proxy has signaled readiness.
type Result struct {
	// Directives bind each bus's proxy socket at the path the main sandbox
	// expects to find it, for the launch orchestrator's own argv.
	Directives []mount.Directive

	// SyncFD is the read end of the readiness pipe. The caller passes it
	// through to the final SBX invocation's --sync-fd, keeping it open
	// until that exec.
	SyncFD *os.File
}

// Start spawns the proxy helper (wrapped in a nested sandbox) for every bus
// in req with non-empty policies, and blocks until it signals readiness.
// Returns nil, nil if no bus has any configured policy.
func Start(ctx context.Context, req Request) (*Result, error) {
	active := activeBuses(req.Buses)
	if len(active) == 0 {
		return nil, nil
	}

	sbx, err := sbxexec.ResolveSBX()
	if err != nil {
		return nil, fmt.Errorf("busproxy: %w", err)
	}
	proxyBin, err := sbxexec.ResolveProxy()
	if err != nil {
		return nil, fmt.Errorf("busproxy: %w", err)
	}

	socketDir := filepath.Join(req.UserRuntimeDir, ".dbus-proxy")
	if err := os.MkdirAll(socketDir, 0o700); err != nil {
		return nil, fmt.Errorf("busproxy: create socket dir %q: %w", socketDir, err)
	}

	var directives []mount.Directive
	var proxyArgv []string

	for _, bus := range active {
		socketPath, err := reserveSocketPath(socketDir, bus.Name)
		if err != nil {
			return nil, err
		}
		directives = append(directives, mount.Directive{Kind: "bind-rw", Path: bus.SandboxSocketPath, Source: socketPath})
		proxyArgv = append(proxyArgv, busArgv(bus, socketPath, req.AppID)...)
	}

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("busproxy: create sync pipe: %w", err)
	}

	var fds sbxexec.FDAllocator
	nestedArgv := []string{
		"--ro-bind", "/", "/",
		"--bind", socketDir, socketDir,
	}
	if req.FlatpakInfo != nil {
		fdNum := fds.Add(req.FlatpakInfo)
		nestedArgv = append(nestedArgv, "--file", strconv.Itoa(fdNum), "/.flatpak-info")
	}
	wFD := fds.Add(w)
	nestedArgv = append(nestedArgv, "--", proxyBin)
	nestedArgv = append(nestedArgv, proxyArgv...)
	nestedArgv = append(nestedArgv, fmt.Sprintf("--fd=%d", wFD))

	log.Debugf("busproxy: spawning proxy for %d bus(es)", len(active))

	proc, err := sbxexec.SpawnAsync(sbxexec.Invocation{BinPath: sbx, Argv: nestedArgv, ExtraFiles: fds.ExtraFiles()})
	if err != nil {
		w.Close()
		r.Close()
		return nil, usefulerror.Useful().
			WithCode(usefulerror.ErrCodeExternalFailure).
			WithHumanError("The D-Bus proxy helper could not be spawned").
			WithHelp("Check that bwrap and xdg-dbus-proxy are installed").
			Wrap(fmt.Errorf("busproxy: spawn proxy: %w", err))
	}
	_ = proc
	w.Close() // our copy; the child inherited its own

	one := make([]byte, 1)
	if _, err := r.Read(one); err != nil {
		r.Close()
		return nil, usefulerror.Useful().
			WithCode(usefulerror.ErrCodeNamespaceSetupFatal).
			WithHumanError("The D-Bus proxy exited before signaling readiness").
			WithHelp("Re-run with --verbose to see the proxy's own output").
			Wrap(fmt.Errorf("busproxy: readiness handshake failed: %w", err))
	}

	return &Result{Directives: directives, SyncFD: r}, nil
}

// busArgv assembles one bus's proxy argv segment: upstream address and
// socket path, then --filter, the session bus's own-name pair, and one
// --<policy>=<name> entry per configured name in sorted order.
func busArgv(bus Bus, socketPath, appID string) []string {
	argv := []string{bus.UpstreamAddress, socketPath, "--filter"}

	// The app's own-name pair is implicit; seed it so a matching --own-name
	// policy entry doesn't emit the same flag twice.
	emitted := map[string]bool{}
	if bus.Name == "session" && appID != "" {
		argv = append(argv, "--own="+appID, "--own="+appID+".*")
		emitted["--own="+appID] = true
		emitted["--own="+appID+".*"] = true
	}

	names := make([]string, 0, len(bus.Policies))
	for name := range bus.Policies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		policy := bus.Policies[name]
		if policy == sandboxctx.BusPolicyNone {
			continue
		}
		flag := fmt.Sprintf("--%s=%s", policy.String(), name)
		if emitted[flag] {
			continue
		}
		argv = append(argv, flag)
	}
	return argv
}

// activeBuses returns the buses with at least one non-none policy entry and
// a known upstream address. A bus with policies but no resolvable address
// (e.g. DBUS_SESSION_BUS_ADDRESS unset) is skipped rather than proxied.
func activeBuses(buses []Bus) []Bus {
	var out []Bus
	for _, b := range buses {
		if b.UpstreamAddress == "" {
			if len(b.Policies) > 0 {
				log.Warnf("busproxy: %s bus has policies configured but no upstream address, not proxying", b.Name)
			}
			continue
		}
		for _, p := range b.Policies {
			if p != sandboxctx.BusPolicyNone {
				out = append(out, b)
				break
			}
		}
	}
	return out
}

// reserveSocketPath allocates a unique path under socketDir for the proxy
// to bind its socket at (mkstemp + close), removing the placeholder file
// afterward so the subsequent bind() on that path succeeds.
func reserveSocketPath(socketDir, busName string) (string, error) {
	f, err := os.CreateTemp(socketDir, busName+"-*")
	if err != nil {
		return "", fmt.Errorf("busproxy: reserve socket path for %s: %w", busName, err)
	}
	path := f.Name()
	f.Close()
	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("busproxy: clear socket placeholder %q: %w", path, err)
	}
	return path, nil
}
