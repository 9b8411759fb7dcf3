package config

import (
	"github.com/safedep/dry/log"

	"github.com/sandboxrt/launchd/internal/refs"
)

// IsTrustedRef checks if ref is in cfg's trusted-refs list, bypassing
// whatever warning the caller would otherwise show for an unvetted ref. This
// is the primary API that should be used by the launch orchestrator.
func IsTrustedRef(cfg Config, ref refs.Ref) bool {
	return isTrustedRef(cfg.TrustedRefs, ref)
}

// isTrustedRef is an internal helper that allows testing without global config.
// A trusted pattern's branch component may be "*" to match any branch.
func isTrustedRef(trusted TrustedRef, ref refs.Ref) bool {
	if len(trusted.Ref) == 0 {
		return false
	}

	for _, pattern := range trusted.Ref {
		if _, err := refs.Parse(normalizeTrustedPattern(pattern)); err != nil {
			log.Warnf("failed to parse trusted ref pattern: %s: %v", pattern, err)
			continue
		}
		if ref.MatchesPattern(normalizeTrustedPattern(pattern)) {
			return true
		}
	}

	return false
}

// normalizeTrustedPattern lets operators write a trusted ref without a
// branch to mean "any branch", same idea as an unqualified purl.
func normalizeTrustedPattern(pattern string) string {
	if len(pattern) == 0 {
		return pattern
	}
	if n := countSlashes(pattern); n == 2 {
		return pattern + "/*"
	}
	return pattern
}

func countSlashes(s string) int {
	n := 0
	for _, r := range s {
		if r == '/' {
			n++
		}
	}
	return n
}
