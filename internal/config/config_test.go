package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValues(t *testing.T) {
	def := DefaultConfig()
	assert.True(t, def.Seccomp)
	assert.False(t, def.MultiarchDefault)
	assert.False(t, def.DryRun)
	assert.False(t, def.Verbose)
	assert.Empty(t, def.LdCacheDir)
	assert.Equal(t, TrustedRef{Ref: []string{}}, def.TrustedRefs)
}

func TestLoadWithNonExistentConfigDir(t *testing.T) {
	temp := t.TempDir()
	t.Setenv(LAUNCHD_STATE_DIR_ENV, filepath.Join(temp, "random-does-not-exist"))
	resetViperForTest(t)

	cfg, err := Load(pflag.NewFlagSet("test", pflag.ContinueOnError))
	require.NoError(t, err)
	assert.True(t, cfg.Seccomp)
	assert.False(t, cfg.DryRun)
}

func TestLoadBindsFlags(t *testing.T) {
	temp := t.TempDir()
	t.Setenv(LAUNCHD_STATE_DIR_ENV, temp)
	resetViperForTest(t)

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Bool("dry-run", false, "")
	require.NoError(t, fs.Set("dry-run", "true"))

	cfg, err := Load(fs)
	require.NoError(t, err)
	assert.True(t, cfg.DryRun)
}

func TestCreateAndRemoveConfig(t *testing.T) {
	temp := t.TempDir()
	t.Setenv(LAUNCHD_STATE_DIR_ENV, temp)
	resetViperForTest(t)

	path, err := CreateConfig()
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err)

	_, err = CreateConfig()
	assert.ErrorIs(t, err, ErrConfigAlreadyExists)

	dir, err := ConfigDir()
	require.NoError(t, err)
	require.NoError(t, RemoveConfig())

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestConfigContextRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Verbose = true

	ctx := cfg.Inject(t.Context())
	got, err := FromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestFromContextMissing(t *testing.T) {
	_, err := FromContext(t.Context())
	assert.Error(t, err)
}

// resetViperForTest undoes ensureViperConfigured's sync.Once so each test
// gets a fresh viper configuration bound to its own temp state dir.
func resetViperForTest(t *testing.T) {
	t.Helper()
	setupOnce = sync.Once{}
	setupErr = nil
}
