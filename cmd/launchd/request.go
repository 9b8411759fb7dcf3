package launchd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/sandboxrt/launchd/internal/mount"
	"github.com/sandboxrt/launchd/internal/refs"
)

// launchFlags holds the launchd-specific flags that stand in for an
// external deployment store: the
// host paths/commits/metadata a real deployment store would resolve from
// an app/runtime ref. This engine only composes the sandbox from whatever
// it's handed here.
type launchFlags struct {
	runtimeRef string

	appFiles     string
	runtimeFiles string

	appMetadataFile     string
	runtimeMetadataFile string

	appCommit     string
	runtimeCommit string

	appExtensionsFile     string
	runtimeExtensionsFile string

	runtimeLdConf string
}

// registerLaunchFlags adds launchd's deployment-store stand-in flags to fs
// and returns the struct they're bound to.
func registerLaunchFlags(fs *pflag.FlagSet) *launchFlags {
	lf := &launchFlags{}
	fs.StringVar(&lf.runtimeRef, "runtime", "", "runtime ref (kind/id/arch/branch); required unless REF is itself a runtime ref")
	fs.StringVar(&lf.appFiles, "app-files", "", "host path to the app's installed file tree, bound at /app")
	fs.StringVar(&lf.runtimeFiles, "runtime-files", "", "host path to the runtime's installed file tree, bound at /usr")
	fs.StringVar(&lf.appMetadataFile, "app-metadata", "", "path to the app's metadata keyfile")
	fs.StringVar(&lf.runtimeMetadataFile, "runtime-metadata", "", "path to the runtime's metadata keyfile")
	fs.StringVar(&lf.appCommit, "app-commit", "local", "app commit id, for ld cache key derivation")
	fs.StringVar(&lf.runtimeCommit, "runtime-commit", "local", "runtime commit id, for ld cache key derivation")
	fs.StringVar(&lf.appExtensionsFile, "app-extensions", "", "path to a JSON array of app extension descriptors")
	fs.StringVar(&lf.runtimeExtensionsFile, "runtime-extensions", "", "path to a JSON array of runtime extension descriptors")
	fs.StringVar(&lf.runtimeLdConf, "runtime-ld-conf", "", "host path to the runtime's etc/ld.so.conf (defaults to <runtime-files>/etc/ld.so.conf)")
	return lf
}

// loadExtensions reads a JSON array of mount.Extension from path, or returns
// nil if path is empty (no extensions declared for this launch).
func loadExtensions(path string) ([]mount.Extension, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read extensions file %s: %w", path, err)
	}
	var exts []mount.Extension
	if err := json.Unmarshal(data, &exts); err != nil {
		return nil, fmt.Errorf("parse extensions file %s: %w", path, err)
	}
	return exts, nil
}

func loadMetadataFile(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metadata file %s: %w", path, err)
	}
	return data, nil
}

// resolveMachineID picks the host machine-id to bind: /etc/machine-id, falling
// back to /var/lib/dbus/machine-id, and otherwise skip the bind entirely.
func resolveMachineID() string {
	for _, candidate := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

func defaultRuntimeLdConf(runtimeFiles, override string) string {
	if override != "" {
		return override
	}
	if runtimeFiles == "" {
		return ""
	}
	return filepath.Join(runtimeFiles, "etc", "ld.so.conf")
}

// parseRefArg decomposes the positional REF argument.
func parseRefArg(s string) (refs.Ref, error) {
	return refs.Parse(s)
}
