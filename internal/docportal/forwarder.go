// Package docportal rewrites command-line arguments that name files outside
// the sandbox's visible filesystem into document-portal-backed paths or
// URIs.
package docportal

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/safedep/dry/log"
)

// Portal is the subset of org.freedesktop.portal.Documents this package
// calls.
type Portal interface {
	Add(ctx context.Context, path string) (docID string, err error)
	GrantPermissions(ctx context.Context, docID, appID string, permissions []string) error
}

// Rewriter scans argv for @@/@@u forwarding spans and substitutes
// not-yet-visible paths with their document-portal equivalent.
type Rewriter struct {
	Portal    Portal
	DocMount  string // e.g. /run/user/<uid>/doc
	AppID     string
	IsVisible func(path string) bool
}

const (
	spanNone = iota
	spanPath
	spanURI
)

// Rewrite returns args with every path inside a @@/@@u span substituted,
// requesting portal access for any path not already visible. Arguments
// outside any span are passed through unchanged.
func (r *Rewriter) Rewrite(ctx context.Context, args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	span := spanNone

	for _, arg := range args {
		switch arg {
		case "@@":
			if span == spanNone {
				span = spanPath
			} else {
				span = spanNone
			}
			continue
		case "@@u":
			if span == spanNone {
				span = spanURI
			} else {
				span = spanNone
			}
			continue
		}

		if span == spanNone {
			out = append(out, arg)
			continue
		}

		rewritten, err := r.rewriteOne(ctx, arg, span == spanURI)
		if err != nil {
			return nil, err
		}
		out = append(out, rewritten)
	}

	return out, nil
}

func (r *Rewriter) rewriteOne(ctx context.Context, path string, asURI bool) (string, error) {
	// A literal non-absolute argument inside a forwarding span (e.g. a
	// trailing option the app passes through verbatim) is not a filesystem
	// path to forward.
	if !filepath.IsAbs(path) {
		return path, nil
	}

	if r.IsVisible != nil && r.IsVisible(path) {
		if asURI {
			return (&url.URL{Scheme: "file", Path: path}).String(), nil
		}
		return path, nil
	}

	requestID := uuid.NewString()
	log.Debugf("docportal: requesting access to %q for %s (request=%s)", path, r.AppID, requestID)

	docID, err := r.Portal.Add(ctx, path)
	if err != nil {
		return "", fmt.Errorf("docportal: add %q: %w", path, err)
	}
	if err := r.Portal.GrantPermissions(ctx, docID, r.AppID, []string{"read", "write"}); err != nil {
		return "", fmt.Errorf("docportal: grant permissions for %q: %w", path, err)
	}

	mounted := filepath.Join(r.DocMount, docID, filepath.Base(path))
	if asURI {
		return (&url.URL{Scheme: "file", Path: mounted}).String(), nil
	}
	return mounted, nil
}
