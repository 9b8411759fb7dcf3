package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxrt/launchd/internal/refs"
)

func TestIsTrustedRef(t *testing.T) {
	tests := []struct {
		name    string
		trusted []string
		ref     string
		want    bool
	}{
		{
			name:    "empty trusted list returns false",
			trusted: []string{},
			ref:     "app/com.example.App/x86_64/stable",
			want:    false,
		},
		{
			name:    "exact match with branch returns true",
			trusted: []string{"app/com.example.App/x86_64/stable"},
			ref:     "app/com.example.App/x86_64/stable",
			want:    true,
		},
		{
			name:    "wildcard branch matches any branch",
			trusted: []string{"app/com.example.App/x86_64/*"},
			ref:     "app/com.example.App/x86_64/beta",
			want:    true,
		},
		{
			name:    "unqualified pattern (no branch) is normalized to wildcard",
			trusted: []string{"app/com.example.App/x86_64"},
			ref:     "app/com.example.App/x86_64/beta",
			want:    true,
		},
		{
			name:    "branch mismatch returns false",
			trusted: []string{"app/com.example.App/x86_64/stable"},
			ref:     "app/com.example.App/x86_64/beta",
			want:    false,
		},
		{
			name:    "id mismatch returns false",
			trusted: []string{"app/org.other.App/x86_64/stable"},
			ref:     "app/com.example.App/x86_64/stable",
			want:    false,
		},
		{
			name:    "kind mismatch returns false",
			trusted: []string{"runtime/com.example.App/x86_64/stable"},
			ref:     "app/com.example.App/x86_64/stable",
			want:    false,
		},
		{
			name:    "malformed pattern is skipped",
			trusted: []string{"not-a-ref"},
			ref:     "app/com.example.App/x86_64/stable",
			want:    false,
		},
		{
			name:    "malformed pattern skipped but later valid match found",
			trusted: []string{"not-a-ref", "app/com.example.App/x86_64/stable"},
			ref:     "app/com.example.App/x86_64/stable",
			want:    true,
		},
		{
			name:    "multiple trusted refs finds correct match",
			trusted: []string{"app/org.a.App/x86_64/*", "app/com.example.App/x86_64/stable", "runtime/org.b.Rt/x86_64/*"},
			ref:     "app/com.example.App/x86_64/stable",
			want:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := refs.Parse(tt.ref)
			require.NoError(t, err)

			got := isTrustedRef(TrustedRef{Ref: tt.trusted}, ref)
			assert.Equal(t, tt.want, got)
		})
	}
}
