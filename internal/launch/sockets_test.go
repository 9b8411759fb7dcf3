package launch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxrt/launchd/internal/mount"
	"github.com/sandboxrt/launchd/internal/sandboxctx"
)

func TestSocketDirectivesWayland(t *testing.T) {
	hostRuntime := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(hostRuntime, "wayland-1"), nil, 0o644))
	t.Setenv("WAYLAND_DISPLAY", "wayland-1")

	ctx := sandboxctx.New()
	require.NoError(t, ctx.ApplyOption("socket", "wayland"))

	env := map[string]string{}
	out := socketDirectives(ctx, hostRuntime, "/run/user/1000", env)

	require.Len(t, out, 1)
	assert.Equal(t, "bind-rw", out[0].Kind)
	assert.Equal(t, filepath.Join(hostRuntime, "wayland-1"), out[0].Source)
	assert.Equal(t, "/run/user/1000/wayland-1", out[0].Path)
	assert.Equal(t, "wayland-1", env["WAYLAND_DISPLAY"])
}

func TestSocketDirectivesWaylandSkippedWhenSocketMissing(t *testing.T) {
	t.Setenv("WAYLAND_DISPLAY", "wayland-0")

	ctx := sandboxctx.New()
	require.NoError(t, ctx.ApplyOption("socket", "wayland"))

	out := socketDirectives(ctx, t.TempDir(), "/run/user/1000", map[string]string{})
	assert.Empty(t, out)
}

func TestSocketDirectivesPulseAudio(t *testing.T) {
	hostRuntime := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(hostRuntime, "pulse"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(hostRuntime, "pulse", "native"), nil, 0o644))

	ctx := sandboxctx.New()
	require.NoError(t, ctx.ApplyOption("socket", "pulseaudio"))

	env := map[string]string{}
	out := socketDirectives(ctx, hostRuntime, "/run/user/1000", env)

	require.Len(t, out, 1)
	assert.Equal(t, "/run/user/1000/pulse/native", out[0].Path)
	assert.Equal(t, "unix:/run/user/1000/pulse/native", env["PULSE_SERVER"])
}

func TestSocketDirectivesStripDisplayWithoutX11(t *testing.T) {
	ctx := sandboxctx.New()
	env := map[string]string{"DISPLAY": ":0", "XAUTHORITY": "/home/dev/.Xauthority"}

	socketDirectives(ctx, t.TempDir(), "/run/user/1000", env)

	_, hasDisplay := env["DISPLAY"]
	_, hasXauth := env["XAUTHORITY"]
	assert.False(t, hasDisplay)
	assert.False(t, hasXauth)
}

func TestDeviceDirectivesAllSwallowsOthers(t *testing.T) {
	ctx := sandboxctx.New()
	require.NoError(t, ctx.ApplyOption("device", "all"))
	require.NoError(t, ctx.ApplyOption("device", "dri"))

	out := deviceDirectives(ctx)
	require.Len(t, out, 1)
	assert.Equal(t, mount.Directive{Kind: "dev-bind", Path: "/dev", Source: "/dev"}, out[0])
}

func TestDeviceDirectivesNoneByDefault(t *testing.T) {
	assert.Empty(t, deviceDirectives(sandboxctx.New()))
}

func TestUnixSocketFromAddress(t *testing.T) {
	path, ok := unixSocketFromAddress("unix:path=/run/user/1000/bus")
	require.True(t, ok)
	assert.Equal(t, "/run/user/1000/bus", path)

	path, ok = unixSocketFromAddress("unix:path=/run/user/1000/bus,guid=abc")
	require.True(t, ok)
	assert.Equal(t, "/run/user/1000/bus", path)

	_, ok = unixSocketFromAddress("unix:abstract=/tmp/dbus-abc")
	assert.False(t, ok)
	_, ok = unixSocketFromAddress("")
	assert.False(t, ok)
}

func TestHostDisplayNumber(t *testing.T) {
	t.Setenv("DISPLAY", ":0")
	n, ok := hostDisplayNumber()
	require.True(t, ok)
	assert.Equal(t, 0, n)

	t.Setenv("DISPLAY", "unix:1.0")
	n, ok = hostDisplayNumber()
	require.True(t, ok)
	assert.Equal(t, 1, n)

	t.Setenv("DISPLAY", "")
	_, ok = hostDisplayNumber()
	assert.False(t, ok)
}
