package sandboxctx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataRoundTrip(t *testing.T) {
	c := New()
	require.NoError(t, c.ApplyOption("share", "network"))
	require.NoError(t, c.ApplyOption("unshare", "ipc"))
	require.NoError(t, c.ApplyOption("socket", "x11"))
	require.NoError(t, c.ApplyOption("filesystem", "home:rw"))
	require.NoError(t, c.ApplyOption("nofilesystem", "/etc/shadow"))
	require.NoError(t, c.ApplyOption("env", "FOO=bar"))
	require.NoError(t, c.ApplyOption("own-name", "com.example.App"))
	require.NoError(t, c.ApplyOption("add-policy", "fs.allow=/tmp"))
	require.NoError(t, c.ApplyOption("persist", "state/app"))

	data, err := c.SerializeMetadata(false)
	require.NoError(t, err)

	parsed := New()
	require.NoError(t, parsed.ParseMetadata(data))

	assert.True(t, parsed.Shares.Equal(c.Shares))
	assert.True(t, parsed.Sockets.Equal(c.Sockets))
	assert.Equal(t, c.Filesystems, parsed.Filesystems)
	assert.Equal(t, c.EnvVars, parsed.EnvVars)
	assert.Equal(t, c.SessionBusPolicy, parsed.SessionBusPolicy)
	assert.Equal(t, c.GenericPolicy, parsed.GenericPolicy)
	assert.Equal(t, c.Persistent, parsed.Persistent)
}

func TestFlattenHasNoNegativesAndReparsesToEnabledSubset(t *testing.T) {
	c := New()
	require.NoError(t, c.ApplyOption("share", "network"))
	require.NoError(t, c.ApplyOption("unshare", "ipc"))
	require.NoError(t, c.ApplyOption("nofilesystem", "/secret"))
	require.NoError(t, c.ApplyOption("remove-policy", "fs.allow=/tmp"))

	flat, err := c.SerializeMetadata(true)
	require.NoError(t, err)
	assert.NotContains(t, string(flat), "!")

	reparsed := New()
	require.NoError(t, reparsed.ParseMetadata(flat))

	assert.True(t, reparsed.Shares.IsGranted(sharesBits.byName["network"]))
	assert.True(t, reparsed.Shares.IsUnspecified(sharesBits.byName["ipc"]))
	_, hasDenied := reparsed.Filesystems["/secret"]
	assert.False(t, hasDenied)
	assert.Empty(t, reparsed.GenericPolicy["fs.allow"])
}

func TestMergeTriState(t *testing.T) {
	a := New()
	require.NoError(t, a.ApplyOption("share", "network"))
	require.NoError(t, a.ApplyOption("share", "ipc"))

	b := New()
	require.NoError(t, b.ApplyOption("unshare", "network"))

	a.Merge(b)

	assert.True(t, a.Shares.IsDenied(sharesBits.byName["network"]))
	assert.True(t, a.Shares.IsGranted(sharesBits.byName["ipc"]))
}

func TestMergeAssociativity(t *testing.T) {
	mk := func(share string, deny bool) *Context {
		c := New()
		if deny {
			_ = c.ApplyOption("unshare", share)
		} else {
			_ = c.ApplyOption("share", share)
		}
		return c
	}

	a := mk("network", false)
	b := mk("network", true)
	cc := mk("ipc", false)

	left := a.Clone()
	left.Merge(b)
	left.Merge(cc)

	bc := b.Clone()
	bc.Merge(cc)
	right := a.Clone()
	right.Merge(bc)

	assert.True(t, left.Shares.Equal(right.Shares))
}

func TestGenericPolicyDedupeKeepsLastSeen(t *testing.T) {
	c := New()
	require.NoError(t, c.ApplyOption("add-policy", "fs.key=value1"))
	require.NoError(t, c.ApplyOption("remove-policy", "fs.key=value1"))

	assert.Equal(t, []string{"!value1"}, c.GenericPolicy["fs.key"])
}

func TestInvalidTokenEnumeratesValidSet(t *testing.T) {
	c := New()
	err := c.ApplyOption("share", "bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "network")
	assert.Contains(t, err.Error(), "ipc")
}

func TestFilesystemKeyValidation(t *testing.T) {
	_, _, err := NormalizeFilesystemKey("xdg-run/", FSReadOnly)
	assert.Error(t, err)

	key, mode, err := NormalizeFilesystemKey("xdg-run/app", FSReadOnly)
	require.NoError(t, err)
	assert.Equal(t, "xdg-run/app", key)
	assert.Equal(t, FSReadOnly, mode)

	key, mode, err = NormalizeFilesystemKey("~/Downloads:create", FSReadOnly)
	require.NoError(t, err)
	assert.Equal(t, "~/Downloads", key)
	assert.Equal(t, FSCreate, mode)

	_, _, err = NormalizeFilesystemKey("relative/path", FSReadOnly)
	assert.Error(t, err)
}

func TestDBusNameValidation(t *testing.T) {
	assert.NoError(t, validateBusName("org.freedesktop.Notifications"))
	assert.NoError(t, validateBusName("com.example.App.*"))
	assert.Error(t, validateBusName(":1.42"))
	assert.Error(t, validateBusName("singleword"))
}
