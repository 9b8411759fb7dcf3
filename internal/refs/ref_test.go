package refs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValid(t *testing.T) {
	r, err := Parse("app/com.example.App/x86_64/stable")
	require.NoError(t, err)
	assert.Equal(t, KindApp, r.Kind)
	assert.Equal(t, "com.example.App", r.ID)
	assert.Equal(t, ArchX8664, r.Arch)
	assert.Equal(t, "stable", r.Branch)
	assert.Equal(t, "app/com.example.App/x86_64/stable", r.String())
}

func TestParseRejectsBadKind(t *testing.T) {
	_, err := Parse("library/org.freedesktop.Platform/x86_64/23.08")
	require.Error(t, err)
}

func TestParseRejectsBadArch(t *testing.T) {
	_, err := Parse("runtime/org.freedesktop.Platform/mips/23.08")
	require.Error(t, err)
}

func TestParseRejectsWrongShape(t *testing.T) {
	_, err := Parse("app/com.example.App/x86_64")
	require.Error(t, err)
}

func TestCompatArch(t *testing.T) {
	compat, ok := CompatArch(ArchX8664)
	require.True(t, ok)
	assert.Equal(t, ArchI386, compat)

	compat, ok = CompatArch(ArchAarch64)
	require.True(t, ok)
	assert.Equal(t, ArchArm, compat)

	_, ok = CompatArch(ArchI386)
	assert.False(t, ok)
}

func TestIs32Bit(t *testing.T) {
	assert.True(t, ArchI386.Is32Bit())
	assert.True(t, ArchArm.Is32Bit())
	assert.False(t, ArchX8664.Is32Bit())
}

func TestMatchesPattern(t *testing.T) {
	r, err := Parse("app/com.example.App/x86_64/stable")
	require.NoError(t, err)

	assert.True(t, r.MatchesPattern("app/com.example.App/x86_64/stable"))
	assert.True(t, r.MatchesPattern("app/com.example.App/x86_64/*"))
	assert.False(t, r.MatchesPattern("app/com.example.App/x86_64/beta"))
	assert.False(t, r.MatchesPattern("runtime/com.example.App/x86_64/*"))
}
