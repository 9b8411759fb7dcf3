package mount

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRuntimeTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "etc"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "lib"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "etc", "profile"), []byte("export PS1=$\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "etc", "passwd"), []byte("root:x:0:0::/:/bin/sh\n"), 0o644))
	require.NoError(t, os.Symlink("../usr/share/zoneinfo/UTC", filepath.Join(dir, "etc", "timezone-link")))
	return dir
}

func argvString(argv []string) string {
	return " " + strings.Join(argv, " ") + " "
}

func testUser() User {
	return User{UID: 1000, GID: 1000, Username: "dev", Home: "/home/dev", Shell: "/bin/zsh"}
}

func TestBuildEmitsMandatoryScaffolding(t *testing.T) {
	b := NewBuilder()
	root, err := b.Build(Options{RuntimeFilesPath: testRuntimeTree(t), User: testUser()})
	require.NoError(t, err)

	s := argvString(root.Argv)
	for _, want := range []string{
		" --unshare-pid ",
		" --proc /proc ",
		" --dir /tmp ",
		" --dir /var/tmp ",
		" --dir /run/host ",
		" --dir /run/user/1000 ",
		" --setenv XDG_RUNTIME_DIR /run/user/1000 ",
		" --symlink ../run /var/run ",
	} {
		assert.Contains(t, s, want)
	}
}

func TestBuildSealsPasswdAndGroup(t *testing.T) {
	b := NewBuilder()
	root, err := b.Build(Options{RuntimeFilesPath: testRuntimeTree(t), User: testUser()})
	require.NoError(t, err)

	require.Len(t, root.SealedFiles, 2)
	assert.Equal(t, "/etc/passwd", root.SealedFiles[0].SandboxPath)
	assert.Equal(t, "/etc/group", root.SealedFiles[1].SandboxPath)

	passwd := make([]byte, 256)
	n, _ := root.SealedFiles[0].File.Read(passwd)
	assert.Contains(t, string(passwd[:n]), "dev:x:1000:1000::/home/dev:/bin/zsh")
	assert.Contains(t, string(passwd[:n]), "nfsnobody:x:65534:65534")
}

func TestBuildProjectsRuntimeEtcSkippingSynthesizedEntries(t *testing.T) {
	runtime := testRuntimeTree(t)
	b := NewBuilder()
	root, err := b.Build(Options{RuntimeFilesPath: runtime, User: testUser()})
	require.NoError(t, err)

	s := argvString(root.Argv)
	assert.Contains(t, s, " --ro-bind "+filepath.Join(runtime, "etc", "profile")+" /etc/profile ")
	// passwd is synthesized, never projected from the runtime.
	assert.NotContains(t, s, " /etc/passwd ")
	// Symlinked entries are copied as symlinks, not bound.
	assert.Contains(t, s, " --symlink ../usr/share/zoneinfo/UTC /etc/timezone-link ")
}

func TestBuildWritableEtcReplacesProjection(t *testing.T) {
	runtime := testRuntimeTree(t)
	b := NewBuilder()
	root, err := b.Build(Options{RuntimeFilesPath: runtime, User: testUser(), WritableEtc: true})
	require.NoError(t, err)

	s := argvString(root.Argv)
	assert.Contains(t, s, " --dir /usr/etc --symlink usr/etc /etc ")
	assert.NotContains(t, s, " /etc/profile ")
}

func TestBuildEmitsUsrCompatLinks(t *testing.T) {
	runtime := testRuntimeTree(t) // has lib and bin, not lib32/lib64/sbin
	b := NewBuilder()
	root, err := b.Build(Options{RuntimeFilesPath: runtime, User: testUser()})
	require.NoError(t, err)

	s := argvString(root.Argv)
	assert.Contains(t, s, " --symlink usr/lib /lib ")
	assert.Contains(t, s, " --symlink usr/bin /bin ")
	assert.NotContains(t, s, " --symlink usr/lib64 /lib64 ")
}

func TestBuildDieWithParent(t *testing.T) {
	b := NewBuilder()
	root, err := b.Build(Options{RuntimeFilesPath: testRuntimeTree(t), User: testUser(), DieWithParent: true})
	require.NoError(t, err)
	assert.Contains(t, argvString(root.Argv), " --die-with-parent ")
}

func TestBuildMonitorProjection(t *testing.T) {
	monitor := t.TempDir()
	b := NewBuilder()
	root, err := b.Build(Options{RuntimeFilesPath: testRuntimeTree(t), User: testUser(), MonitorDir: monitor})
	require.NoError(t, err)

	s := argvString(root.Argv)
	assert.Contains(t, s, " --ro-bind "+monitor+" /run/host/monitor ")
	for _, name := range []string{"resolv.conf", "host.conf", "hosts", "localtime"} {
		assert.Contains(t, s, " --symlink /run/host/monitor/"+name+" /etc/"+name+" ")
	}
}

func TestUsrAnchoredLink(t *testing.T) {
	rel, ok := usrAnchoredLink("/usr/share/zoneinfo/Europe/Berlin")
	require.True(t, ok)
	assert.Equal(t, "../usr/share/zoneinfo/Europe/Berlin", rel)

	_, ok = usrAnchoredLink("/etc/localtime-copy")
	assert.False(t, ok)
}

func TestGroupContents(t *testing.T) {
	assert.Equal(t, "dev:x:1000:\n", string(groupContents(testUser())))
}
