package launch

import (
	"os"
	"strings"
)

// strippedEnvPrefixes and strippedEnvNames are removed from the host
// environment before the Context's own EnvVars are layered on top, so host
// module paths and theming never leak into the sandbox.
var strippedEnvNames = map[string]bool{
	"PYTHONPATH":          true,
	"PERLLIB":             true,
	"PERL5LIB":            true,
	"XCURSOR_PATH":        true,
	"TMPDIR":              true,
	"LD_LIBRARY_PATH":     true,
	"GTK_PATH":            true,
	"GTK_IM_MODULE_FILE":  true,
	"GTK_EXE_PREFIX":      true,
	"GTK_DATA_PREFIX":     true,
}

var strippedEnvPrefixes = []string{"LANG", "LC_"}

func isStrippedEnv(key string) bool {
	if strippedEnvNames[key] {
		return true
	}
	for _, prefix := range strippedEnvPrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// baseEnvironment starts from the host environment with the stripped names
// removed, so per-launch overrides apply on top of a clean baseline.
func baseEnvironment() map[string]string {
	out := map[string]string{}
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || isStrippedEnv(key) {
			continue
		}
		out[key] = value
	}
	return out
}
