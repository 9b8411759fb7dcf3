package export

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxrt/launchd/internal/sandboxctx"
)

func testUserDirs(t *testing.T) *UserDirs {
	t.Helper()
	home := t.TempDir()
	return &UserDirs{
		Home:        home,
		RuntimeDir:  t.TempDir(),
		DataHome:    filepath.Join(home, ".local", "share"),
		CacheHome:   filepath.Join(home, ".cache"),
		ConfigHome:  filepath.Join(home, ".config"),
		Desktop:     filepath.Join(home, "Desktop"),
		Documents:   filepath.Join(home, "Documents"),
		Download:    filepath.Join(home, "Downloads"),
		Music:       filepath.Join(home, "Music"),
		Pictures:    filepath.Join(home, "Pictures"),
		PublicShare: filepath.Join(home, "Public"),
		Templates:   filepath.Join(home, "Templates"),
		Videos:      filepath.Join(home, "Videos"),
	}
}

func emitKinds(p *Planner) map[string]string {
	out := map[string]string{}
	for _, d := range p.Emit() {
		out[d.Path] = d.Kind
	}
	return out
}

func TestComposeHomeExposedReadWrite(t *testing.T) {
	dirs := testUserDirs(t)
	ctx := sandboxctx.New()
	ctx.Filesystems["home"] = sandboxctx.FSReadWrite

	p := New()
	require.NoError(t, ComposeFromContext(p, ctx, dirs, AppPaths{}))

	kinds := emitKinds(p)
	assert.Equal(t, "bind-rw", kinds[dirs.Home])
}

func TestComposeAlwaysStubsHomeDir(t *testing.T) {
	dirs := testUserDirs(t)

	p := New()
	require.NoError(t, ComposeFromContext(p, sandboxctx.New(), dirs, AppPaths{}))

	kinds := emitKinds(p)
	assert.Equal(t, "dir", kinds[dirs.Home])
}

func TestComposeHidesDataParentAndReExposesAppDir(t *testing.T) {
	dirs := testUserDirs(t)
	parent := filepath.Join(dirs.Home, ".var", "app")
	appDir := filepath.Join(parent, "com.example.App")
	require.NoError(t, os.MkdirAll(appDir, 0o755))

	ctx := sandboxctx.New()
	ctx.Filesystems["home"] = sandboxctx.FSReadWrite

	p := New()
	require.NoError(t, ComposeFromContext(p, ctx, dirs, AppPaths{
		AppID:      "com.example.App",
		DataParent: parent,
		AppDataDir: appDir,
	}))

	kinds := emitKinds(p)
	// The data parent exists, so hiding it takes the dir-create form; the
	// app's own subdirectory is re-exposed writable beneath it.
	assert.Equal(t, "dir", kinds[parent])
	assert.Equal(t, "bind-rw", kinds[appDir])
}

func TestComposeCreateModeCreatesMissingTarget(t *testing.T) {
	dirs := testUserDirs(t)
	target := filepath.Join(dirs.Home, "state", "deep")

	ctx := sandboxctx.New()
	ctx.Filesystems["~/state/deep"] = sandboxctx.FSCreate

	p := New()
	require.NoError(t, ComposeFromContext(p, ctx, dirs, AppPaths{}))

	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, "bind-rw", emitKinds(p)[target])
}

func TestComposeSkipsDeniedAndDisabledEntries(t *testing.T) {
	dirs := testUserDirs(t)
	dirs.Documents = dirs.Home // a category resolving to $HOME is off

	secret := filepath.Join(dirs.Home, "secret")
	require.NoError(t, os.MkdirAll(secret, 0o755))

	ctx := sandboxctx.New()
	ctx.Filesystems["~/secret"] = sandboxctx.FSDenied
	ctx.Filesystems["xdg-documents"] = sandboxctx.FSReadWrite

	p := New()
	require.NoError(t, ComposeFromContext(p, ctx, dirs, AppPaths{}))

	kinds := emitKinds(p)
	_, hasSecret := kinds[secret]
	assert.False(t, hasSecret)
	// Only the always-on home stub remains.
	assert.Equal(t, "dir", kinds[dirs.Home])
	assert.Len(t, kinds, 1)
}

func TestComposeTmpfsHidesUserBaseDir(t *testing.T) {
	dirs := testUserDirs(t)
	base := filepath.Join(dirs.DataHome, "flatpak")

	p := New()
	require.NoError(t, ComposeFromContext(p, sandboxctx.New(), dirs, AppPaths{UserBaseDir: base}))

	assert.Equal(t, "tmpfs", emitKinds(p)[base])
}

func TestCategoryResolution(t *testing.T) {
	dirs := testUserDirs(t)

	path, disabled, ok := dirs.Category("xdg-download")
	require.True(t, ok)
	assert.False(t, disabled)
	assert.Equal(t, dirs.Download, path)

	path, _, ok = dirs.Category("xdg-config/fontconfig")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dirs.ConfigHome, "fontconfig"), path)

	path, _, ok = dirs.Category("xdg-run/keyring")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dirs.RuntimeDir, "keyring"), path)

	_, _, ok = dirs.Category("xdg-run")
	assert.False(t, ok)

	_, _, ok = dirs.Category("xdg-bogus")
	assert.False(t, ok)

	dirs.Templates = dirs.Home
	_, disabled, ok = dirs.Category("xdg-templates")
	require.True(t, ok)
	assert.True(t, disabled)
}

func TestLoadUserDirsReadsUserDirsFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_DATA_HOME", "")
	t.Setenv("XDG_CACHE_HOME", "")
	t.Setenv("XDG_CONFIG_HOME", "")

	cfgDir := filepath.Join(home, ".config")
	require.NoError(t, os.MkdirAll(cfgDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfgDir, "user-dirs.dirs"), []byte(
		"# comment\n"+
			`XDG_DOWNLOAD_DIR="$HOME/Incoming"`+"\n"+
			`XDG_MUSIC_DIR="$HOME"`+"\n",
	), 0o644))

	dirs, err := LoadUserDirs()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "Incoming"), dirs.Download)

	_, disabled, ok := dirs.Category("xdg-music")
	require.True(t, ok)
	assert.True(t, disabled)
}
