package ldcache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyDeterministic(t *testing.T) {
	req := Request{
		AppCommit:                "app123",
		RuntimeCommit:             "rt456",
		AppExtensionsSummary:      "org.foo=1",
		RuntimeExtensionsSummary:  "org.bar=2",
	}
	k1 := Key(req)
	k2 := Key(req)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64) // hex-encoded sha256

	req.AppCommit = "different"
	assert.NotEqual(t, k1, Key(req))
}

func TestCacheDirPerApp(t *testing.T) {
	dir, err := cacheDir("/home/user/.var/app/org.example.App", "")
	require.NoError(t, err)
	assert.Equal(t, "/home/user/.var/app/org.example.App/.ld.so", dir)
}

func TestCacheDirFallsBackToUserCache(t *testing.T) {
	dir, err := cacheDir("", "")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(dir))
	assert.Contains(t, dir, "ld.so")
}

func TestCacheDirOverrideWins(t *testing.T) {
	dir, err := cacheDir("/home/user/.var/app/org.example.App", "/custom/cache")
	require.NoError(t, err)
	assert.Equal(t, "/custom/cache", dir)
}

func TestOpenReturnsExistingEntryWithoutBuilding(t *testing.T) {
	appDataDir := t.TempDir()
	req := Request{
		AppDataDir:               appDataDir,
		AppCommit:                "app123",
		RuntimeCommit:            "rt456",
		AppExtensionsSummary:     "",
		RuntimeExtensionsSummary: "",
	}

	dir, err := cacheDir(appDataDir, "")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	key := Key(req)
	require.NoError(t, os.WriteFile(filepath.Join(dir, key), []byte("cached-cache-contents"), 0o644))

	f, err := Open(t.Context(), req)
	require.NoError(t, err)
	defer f.Close()

	data, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	assert.Equal(t, "cached-cache-contents", string(data))
}

func TestRuntimeLdConfContentGeneratesWhenAbsent(t *testing.T) {
	content, needsGenerated := runtimeLdConfContent("")
	assert.True(t, needsGenerated)
	assert.Equal(t, ldConfFixed, content)
}

func TestRuntimeLdConfContentGeneratesWhenEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ld.so.conf")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	_, needsGenerated := runtimeLdConfContent(path)
	assert.True(t, needsGenerated)
}

func TestRuntimeLdConfContentReusesNonEmptyRuntimeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ld.so.conf")
	require.NoError(t, os.WriteFile(path, []byte("/usr/lib\n"), 0o644))

	_, needsGenerated := runtimeLdConfContent(path)
	assert.False(t, needsGenerated)
}

func TestActivateSwitchesSymlinkAndPrunesStale(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keyA"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keyB"), []byte("b"), 0o644))

	require.NoError(t, activate(dir, "keyA"))
	target, err := os.Readlink(filepath.Join(dir, "active"))
	require.NoError(t, err)
	assert.Equal(t, "keyA", target)
	_, err = os.Stat(filepath.Join(dir, "keyB"))
	assert.True(t, os.IsNotExist(err), "stale entry should have been pruned")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "keyC"), []byte("c"), 0o644))
	require.NoError(t, activate(dir, "keyC"))
	target, err = os.Readlink(filepath.Join(dir, "active"))
	require.NoError(t, err)
	assert.Equal(t, "keyC", target)
}
