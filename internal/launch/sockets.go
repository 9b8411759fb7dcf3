package launch

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sandboxrt/launchd/internal/mount"
	"github.com/sandboxrt/launchd/internal/sandboxctx"
)

// sandboxDisplayNumber is the fixed X11 display the sandbox sees; the host's
// actual display socket is bound under this number regardless of its real
// one, so DISPLAY inside the sandbox never leaks the host numbering.
const sandboxDisplayNumber = 99

// socketDirectives binds the X11/Wayland/PulseAudio sockets the Context
// grants, plus the session/system bus sockets when those are granted
// outright (no proxy). Unreachable sockets are skipped rather than failing
// the launch. env is updated in place for the variables the sandboxed
// process needs to find each socket.
func socketDirectives(ctx *sandboxctx.Context, hostRuntimeDir, sandboxRuntimeDir string, env map[string]string) []mount.Directive {
	var out []mount.Directive

	if ctx.Sockets.IsGranted(sandboxctx.SocketX11) {
		if display, ok := hostDisplayNumber(); ok {
			hostSocket := fmt.Sprintf("/tmp/.X11-unix/X%d", display)
			if _, err := os.Stat(hostSocket); err == nil {
				sandboxSocket := fmt.Sprintf("/tmp/.X11-unix/X%d", sandboxDisplayNumber)
				out = append(out,
					mount.Directive{Kind: "tmpfs", Path: "/tmp/.X11-unix"},
					mount.Directive{Kind: "bind-rw", Path: sandboxSocket, Source: hostSocket},
				)
				env["DISPLAY"] = fmt.Sprintf(":%d.0", sandboxDisplayNumber)

				if xauth := os.Getenv("XAUTHORITY"); xauth != "" {
					if _, err := os.Stat(xauth); err == nil {
						sandboxXauth := sandboxRuntimeDir + "/Xauthority"
						out = append(out, mount.Directive{Kind: "bind-ro", Path: sandboxXauth, Source: xauth})
						env["XAUTHORITY"] = sandboxXauth
					}
				}
			}
		}
	} else {
		delete(env, "DISPLAY")
		delete(env, "XAUTHORITY")
	}

	if ctx.Sockets.IsGranted(sandboxctx.SocketWayland) {
		name := os.Getenv("WAYLAND_DISPLAY")
		if name == "" {
			name = "wayland-0"
		}
		hostSocket := hostRuntimeDir + "/" + name
		if _, err := os.Stat(hostSocket); err == nil {
			out = append(out, mount.Directive{Kind: "bind-rw", Path: sandboxRuntimeDir + "/" + name, Source: hostSocket})
			env["WAYLAND_DISPLAY"] = name
		}
	}

	if ctx.Sockets.IsGranted(sandboxctx.SocketPulseAudio) {
		hostSocket := hostRuntimeDir + "/pulse/native"
		if _, err := os.Stat(hostSocket); err == nil {
			sandboxSocket := sandboxRuntimeDir + "/pulse/native"
			out = append(out, mount.Directive{Kind: "bind-rw", Path: sandboxSocket, Source: hostSocket})
			env["PULSE_SERVER"] = "unix:" + sandboxSocket
		}
	}

	if ctx.Sockets.IsGranted(sandboxctx.SocketSessionBus) {
		if hostSocket, ok := unixSocketFromAddress(os.Getenv("DBUS_SESSION_BUS_ADDRESS")); ok {
			out = append(out, mount.Directive{Kind: "bind-rw", Path: sandboxRuntimeDir + "/bus", Source: hostSocket})
			env["DBUS_SESSION_BUS_ADDRESS"] = "unix:path=" + sandboxRuntimeDir + "/bus"
		}
	}

	if ctx.Sockets.IsGranted(sandboxctx.SocketSystemBus) {
		const hostSocket = "/var/run/dbus/system_bus_socket"
		if _, err := os.Stat(hostSocket); err == nil {
			out = append(out, mount.Directive{Kind: "bind-rw", Path: "/run/dbus/system_bus_socket", Source: hostSocket})
			env["DBUS_SYSTEM_BUS_ADDRESS"] = "unix:path=/run/dbus/system_bus_socket"
		}
	}

	return out
}

// deviceDirectives binds the device nodes the Context grants. "all" swallows
// the finer-grained grants by dev-binding the whole of /dev.
func deviceDirectives(ctx *sandboxctx.Context) []mount.Directive {
	if ctx.Devices.IsGranted(sandboxctx.DeviceAll) {
		return []mount.Directive{{Kind: "dev-bind", Path: "/dev", Source: "/dev"}}
	}

	var out []mount.Directive
	if ctx.Devices.IsGranted(sandboxctx.DeviceDRI) {
		if _, err := os.Stat("/dev/dri"); err == nil {
			out = append(out, mount.Directive{Kind: "dev-bind", Path: "/dev/dri", Source: "/dev/dri"})
		}
	}
	if ctx.Devices.IsGranted(sandboxctx.DeviceKVM) {
		if _, err := os.Stat("/dev/kvm"); err == nil {
			out = append(out, mount.Directive{Kind: "dev-bind", Path: "/dev/kvm", Source: "/dev/kvm"})
		}
	}
	return out
}

// unixSocketFromAddress extracts the socket path from a "unix:path=..."
// D-Bus address. Other transports (abstract, tcp) can't be bind-mounted and
// return ok=false.
func unixSocketFromAddress(addr string) (string, bool) {
	for _, part := range strings.Split(addr, ",") {
		if path, ok := strings.CutPrefix(part, "unix:path="); ok && path != "" {
			return path, true
		}
	}
	return "", false
}

// hostDisplayNumber parses the numeric suffix from the host's own DISPLAY
// (":0" -> 0, "unix:1" -> 1).
func hostDisplayNumber() (int, bool) {
	v := os.Getenv("DISPLAY")
	v = strings.TrimPrefix(v, "unix:")
	v = strings.TrimPrefix(v, ":")
	v, _, _ = strings.Cut(v, ".")
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
