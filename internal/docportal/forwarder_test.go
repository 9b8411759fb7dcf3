package docportal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePortal struct {
	added   []string
	granted []string
	nextID  int
}

func (f *fakePortal) Add(ctx context.Context, path string) (string, error) {
	f.added = append(f.added, path)
	f.nextID++
	return "doc-id", nil
}

func (f *fakePortal) GrantPermissions(ctx context.Context, docID, appID string, permissions []string) error {
	f.granted = append(f.granted, docID+":"+appID)
	return nil
}

func TestRewritePassesThroughArgsOutsideSpan(t *testing.T) {
	r := &Rewriter{IsVisible: func(string) bool { return true }}
	out, err := r.Rewrite(context.Background(), []string{"--flag", "value"})
	require.NoError(t, err)
	assert.Equal(t, []string{"--flag", "value"}, out)
}

func TestRewriteLeavesVisiblePathsUnchanged(t *testing.T) {
	portal := &fakePortal{}
	r := &Rewriter{Portal: portal, IsVisible: func(string) bool { return true }}

	out, err := r.Rewrite(context.Background(), []string{"cmd", "@@", "/home/user/doc.txt", "@@"})
	require.NoError(t, err)
	assert.Equal(t, []string{"cmd", "/home/user/doc.txt"}, out)
	assert.Empty(t, portal.added)
}

func TestRewriteForwardsInvisiblePathViaPortal(t *testing.T) {
	portal := &fakePortal{}
	r := &Rewriter{
		Portal:    portal,
		DocMount:  "/run/user/1000/doc",
		AppID:     "com.example.App",
		IsVisible: func(string) bool { return false },
	}

	out, err := r.Rewrite(context.Background(), []string{"cmd", "@@", "/secret/report.pdf", "@@"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "/run/user/1000/doc/doc-id/report.pdf", out[1])
	assert.Equal(t, []string{"/secret/report.pdf"}, portal.added)
	assert.Equal(t, []string{"doc-id:com.example.App"}, portal.granted)
}

func TestRewriteLeavesNonAbsoluteArgInSpanUnchanged(t *testing.T) {
	portal := &fakePortal{}
	r := &Rewriter{
		Portal:    portal,
		DocMount:  "/run/user/1000/doc",
		AppID:     "com.example.App",
		IsVisible: func(string) bool { return false },
	}

	out, err := r.Rewrite(context.Background(), []string{"@@", "/outside/path", "other.txt", "@@"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/run/user/1000/doc/doc-id/path", "other.txt"}, out)
	assert.Equal(t, []string{"/outside/path"}, portal.added)
}

func TestRewriteURISpanProducesFileURI(t *testing.T) {
	portal := &fakePortal{}
	r := &Rewriter{
		Portal:    portal,
		DocMount:  "/run/user/1000/doc",
		AppID:     "com.example.App",
		IsVisible: func(string) bool { return false },
	}

	out, err := r.Rewrite(context.Background(), []string{"@@u", "/secret/image.png", "@@"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "file:///run/user/1000/doc/doc-id/image.png", out[0])
}
