// Package dbuspeers implements the launcher's D-Bus peer calls: the
// document portal, the session helper's network monitor, the a11y bus
// address lookup, and systemd's transient-scope registration. Every call
// here is a thin client method (one Call per operation, wrapped error on
// failure) — no message filtering or bus ownership happens in this
// process, only client calls to already-running services.
package dbuspeers

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	documentsIface = "org.freedesktop.portal.Documents"
	documentsPath  = "/org/freedesktop/portal/documents"

	a11yBusIface = "org.a11y.Bus"
	a11yBusPath  = "/org/a11y/bus"

	sessionHelperIface = "org.freedesktop.Flatpak.SessionHelper"
	sessionHelperPath  = "/org/freedesktop/Flatpak/SessionHelper"
	sessionHelperName  = "org.freedesktop.Flatpak"

	systemdIface = "org.freedesktop.systemd1.Manager"
	systemdPath  = "/org/freedesktop/systemd1"
	systemdName  = "org.freedesktop.systemd1"
)

// Documents is a client for org.freedesktop.portal.Documents, satisfying
// docportal.Portal.
type Documents struct {
	obj dbus.BusObject
}

// NewDocuments binds a Documents client to conn's session bus object.
func NewDocuments(conn *dbus.Conn) *Documents {
	return &Documents{obj: conn.Object("org.freedesktop.portal.Documents", documentsPath)}
}

// MountPoint returns the host path the portal's FUSE filesystem is mounted
// at, used to resolve a doc ID into the path forwarded to the sandboxed app.
func (d *Documents) MountPoint(ctx context.Context) (string, error) {
	var mountPoint []byte
	call := d.obj.CallWithContext(ctx, documentsIface+".GetMountPoint", 0)
	if call.Err != nil {
		return "", fmt.Errorf("dbuspeers: GetMountPoint: %w", call.Err)
	}
	if err := call.Store(&mountPoint); err != nil {
		return "", fmt.Errorf("dbuspeers: GetMountPoint: decode reply: %w", err)
	}
	return string(mountPoint), nil
}

// Add registers path with the portal and returns the allocated document ID
// (docportal.Portal.Add).
func (d *Documents) Add(ctx context.Context, path string) (string, error) {
	f, err := openForPortal(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var docID string
	call := d.obj.CallWithContext(ctx, documentsIface+".Add", 0, dbus.UnixFD(f.Fd()), true, false)
	if call.Err != nil {
		return "", fmt.Errorf("dbuspeers: Add %q: %w", path, call.Err)
	}
	if err := call.Store(&docID); err != nil {
		return "", fmt.Errorf("dbuspeers: Add %q: decode reply: %w", path, err)
	}
	return docID, nil
}

// GrantPermissions authorizes appID for the listed permissions on docID
// (docportal.Portal.GrantPermissions).
func (d *Documents) GrantPermissions(ctx context.Context, docID, appID string, permissions []string) error {
	call := d.obj.CallWithContext(ctx, documentsIface+".GrantPermissions", 0, docID, appID, permissions)
	if call.Err != nil {
		return fmt.Errorf("dbuspeers: GrantPermissions %q for %q: %w", docID, appID, call.Err)
	}
	return nil
}

// A11yBusAddress resolves the accessibility bus's own address via
// org.a11y.Bus.GetAddress, for proxying alongside the session and system
// buses. ok is false when the a11y
// bus isn't reachable, which callers treat as "skip a11y proxying".
func A11yBusAddress(ctx context.Context, conn *dbus.Conn) (addr string, ok bool) {
	obj := conn.Object("org.a11y.Bus", a11yBusPath)
	call := obj.CallWithContext(ctx, a11yBusIface+".GetAddress", 0)
	if call.Err != nil {
		return "", false
	}
	if err := call.Store(&addr); err != nil {
		return "", false
	}
	return addr, true
}

// RequestMonitor asks the session helper to start forwarding
// resolv.conf/hosts/host.conf/localtime updates into a host directory it
// manages, returning that directory's path for BaseRootBuilder's
// monitor-projection mode.
func RequestMonitor(ctx context.Context, conn *dbus.Conn) (monitorDir string, err error) {
	obj := conn.Object(sessionHelperName, sessionHelperPath)
	call := obj.CallWithContext(ctx, sessionHelperIface+".RequestMonitor", 0)
	if call.Err != nil {
		return "", fmt.Errorf("dbuspeers: RequestMonitor: %w", call.Err)
	}
	if err := call.Store(&monitorDir); err != nil {
		return "", fmt.Errorf("dbuspeers: RequestMonitor: decode reply: %w", err)
	}
	return monitorDir, nil
}

// StartTransientScope registers unitName as a transient systemd scope
// wrapping pid, waits for the corresponding JobRemoved signal, and returns
// once the unit is active. This establishes the ordering guarantee that the
// process is under a cgroup scope before the bus proxy is spawned.
func StartTransientScope(ctx context.Context, conn *dbus.Conn, unitName string, pid uint32) error {
	manager := conn.Object(systemdName, systemdPath)

	signals := make(chan *dbus.Signal, 8)
	conn.Signal(signals)
	defer conn.RemoveSignal(signals)

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.systemd1.Manager"),
		dbus.WithMatchMember("JobRemoved"),
	); err != nil {
		return fmt.Errorf("dbuspeers: subscribe to JobRemoved: %w", err)
	}

	properties := []struct {
		Name  string
		Value dbus.Variant
	}{
		{"PIDs", dbus.MakeVariant([]uint32{pid})},
		{"Description", dbus.MakeVariant("launchd sandboxed application scope")},
	}

	var jobPath dbus.ObjectPath
	call := manager.CallWithContext(ctx, systemdIface+".StartTransientUnit", 0,
		unitName, "fail", properties, []struct {
			Name       string
			Properties []struct {
				Name  string
				Value dbus.Variant
			}
		}{})
	if call.Err != nil {
		return fmt.Errorf("dbuspeers: StartTransientUnit %q: %w", unitName, call.Err)
	}
	if err := call.Store(&jobPath); err != nil {
		return fmt.Errorf("dbuspeers: StartTransientUnit %q: decode reply: %w", unitName, err)
	}

	for {
		select {
		case sig := <-signals:
			if sig.Name != "org.freedesktop.systemd1.Manager.JobRemoved" || len(sig.Body) < 2 {
				continue
			}
			if removedPath, ok := sig.Body[1].(dbus.ObjectPath); ok && removedPath == jobPath {
				return nil
			}
		case <-ctx.Done():
			return fmt.Errorf("dbuspeers: waiting for transient unit %q: %w", unitName, ctx.Err())
		}
	}
}
