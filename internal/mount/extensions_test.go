package mount

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeExtensionTree(t *testing.T, withRef bool) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "lib"), 0o755))
	if withRef {
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".ref"), nil, 0o644))
	}
	return dir
}

func TestMountBindsSortedByMountPath(t *testing.T) {
	gl := writeExtensionTree(t, false)
	locale := writeExtensionTree(t, false)

	m := NewMounter(true)
	res, err := m.Mount([]Extension{
		{InstalledID: "org.example.Locale", Directory: "share/runtime/locale", FilesPath: locale},
		{InstalledID: "org.example.GL", Directory: "lib/GL", FilesPath: gl},
	})
	require.NoError(t, err)

	var paths []string
	for _, d := range res.Directives {
		if d.Kind == "bind-ro" {
			paths = append(paths, d.Path)
		}
	}
	assert.Equal(t, []string{"/usr/lib/GL", "/usr/share/runtime/locale"}, paths)
}

func TestMountEmitsTmpfsOncePerParent(t *testing.T) {
	a := writeExtensionTree(t, false)
	b := writeExtensionTree(t, false)

	m := NewMounter(true)
	res, err := m.Mount([]Extension{
		{InstalledID: "org.example.A", Directory: "lib/extra/a", FilesPath: a, NeedsTmpfs: true},
		{InstalledID: "org.example.B", Directory: "lib/extra/b", FilesPath: b, NeedsTmpfs: true},
	})
	require.NoError(t, err)

	tmpfsCount := 0
	for _, d := range res.Directives {
		if d.Kind == "tmpfs" {
			assert.Equal(t, "/usr/lib/extra", d.Path)
			tmpfsCount++
		}
	}
	assert.Equal(t, 1, tmpfsCount)
}

func TestMountLocksRefSentinel(t *testing.T) {
	src := writeExtensionTree(t, true)

	m := NewMounter(true)
	res, err := m.Mount([]Extension{
		{InstalledID: "org.example.GL", Directory: "lib/GL", FilesPath: src},
	})
	require.NoError(t, err)

	var locked []string
	for _, d := range res.Directives {
		if d.Kind == "lock-file" {
			locked = append(locked, d.Path)
		}
	}
	assert.Equal(t, []string{"/usr/lib/GL/.ref"}, locked)
}

func TestMountFailsOnMissingFilesPath(t *testing.T) {
	m := NewMounter(true)
	_, err := m.Mount([]Extension{
		{InstalledID: "org.example.Gone", Directory: "lib/GL", FilesPath: "/nonexistent/files"},
	})
	assert.Error(t, err)
}

func TestSummaryUsesLocalForMissingCommit(t *testing.T) {
	a := writeExtensionTree(t, false)
	b := writeExtensionTree(t, false)

	m := NewMounter(true)
	res, err := m.Mount([]Extension{
		{InstalledID: "org.example.A", Directory: "a", FilesPath: a, CommitID: "abc123"},
		{InstalledID: "org.example.B", Directory: "b", FilesPath: b},
	})
	require.NoError(t, err)
	assert.Equal(t, "org.example.A=abc123;org.example.B=local", res.Summary)
}

func TestLdConfFragmentsNamedByRoleIndexAndID(t *testing.T) {
	rt := writeExtensionTree(t, false)
	app := writeExtensionTree(t, false)

	m := NewMounter(true)
	res, err := m.Mount([]Extension{
		{InstalledID: "org.example.App", Directory: "plugins", FilesPath: app, IsApp: true, AddLDPath: "lib", Priority: 2},
		{InstalledID: "org.example.GL", Directory: "lib/GL", FilesPath: rt, AddLDPath: "lib", Priority: 1},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"runtime-000-org.example.GL.conf": "/usr/lib/GL/lib",
		"app-001-org.example.App.conf":    "/app/plugins/lib",
	}, res.LdConfFragments)
	assert.Empty(t, res.LDLibraryPath)
}

func TestLdLibraryPathPrependsRuntimeAppendsApp(t *testing.T) {
	rt := writeExtensionTree(t, false)
	app := writeExtensionTree(t, false)

	m := NewMounter(false)
	res, err := m.Mount([]Extension{
		{InstalledID: "org.example.App", Directory: "plugins", FilesPath: app, IsApp: true, AddLDPath: "lib", Priority: 1},
		{InstalledID: "org.example.GL", Directory: "lib/GL", FilesPath: rt, AddLDPath: "lib", Priority: 2},
	})
	require.NoError(t, err)

	assert.Equal(t, "/usr/lib/GL/lib:/app/plugins/lib", res.LDLibraryPath)
	assert.Empty(t, res.LdConfFragments)
}

func TestMergeDirsFirstWriterWins(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(first, "share", "applications"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(second, "share", "applications"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(first, "share", "applications", "a.desktop"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(second, "share", "applications", "a.desktop"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(second, "share", "applications", "b.desktop"), nil, 0o644))

	m := NewMounter(true)
	res, err := m.Mount([]Extension{
		{InstalledID: "org.example.First", Directory: "ext/first", FilesPath: first, MergeDirs: []string{"share/applications"}},
		{InstalledID: "org.example.Second", Directory: "ext/second", FilesPath: second, MergeDirs: []string{"share/applications"}},
	})
	require.NoError(t, err)

	targets := map[string]string{}
	for _, d := range res.Directives {
		if d.Kind == "symlink" {
			targets[d.Path] = d.Target
		}
	}
	assert.Equal(t, map[string]string{
		"/usr/ext/share/applications/a.desktop": "../../first/share/applications/a.desktop",
		"/usr/ext/share/applications/b.desktop": "../../second/share/applications/b.desktop",
	}, targets)
}
