package launchd

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/sandboxrt/launchd/internal/launch"
	"github.com/sandboxrt/launchd/internal/refs"
)

// buildRequest assembles a launch.Request from the positional REF argument,
// the launchd deployment-store stand-in flags, and the permission
// flags, shared by both `launchd run` and `launchd info`.
func buildRequest(fs *pflag.FlagSet, lf *launchFlags, args []string) (launch.Request, error) {
	if len(args) == 0 {
		return launch.Request{}, fmt.Errorf("launchd: a REF argument is required (kind/id/arch/branch)")
	}

	ref, err := parseRefArg(args[0])
	if err != nil {
		return launch.Request{}, fmt.Errorf("launchd: %w", err)
	}

	var req launch.Request
	req.Command = args[1:]

	switch ref.Kind {
	case refs.KindApp:
		req.AppRef = ref
		req.AppFilesPath = lf.appFiles
		if lf.runtimeRef == "" {
			return launch.Request{}, fmt.Errorf("launchd: --runtime is required when REF is an app ref")
		}
		runtimeRef, err := parseRefArg(lf.runtimeRef)
		if err != nil {
			return launch.Request{}, fmt.Errorf("launchd: --runtime: %w", err)
		}
		req.RuntimeRef = runtimeRef
	case refs.KindRuntime:
		req.RuntimeRef = ref
	}
	req.RuntimeFilesPath = lf.runtimeFiles

	req.AppMetadata, err = loadMetadataFile(lf.appMetadataFile)
	if err != nil {
		return launch.Request{}, fmt.Errorf("launchd: %w", err)
	}
	req.RuntimeMetadata, err = loadMetadataFile(lf.runtimeMetadataFile)
	if err != nil {
		return launch.Request{}, fmt.Errorf("launchd: %w", err)
	}

	req.AppExtensions, err = loadExtensions(lf.appExtensionsFile)
	if err != nil {
		return launch.Request{}, fmt.Errorf("launchd: %w", err)
	}
	req.RuntimeExtensions, err = loadExtensions(lf.runtimeExtensionsFile)
	if err != nil {
		return launch.Request{}, fmt.Errorf("launchd: %w", err)
	}

	req.AppCommit = lf.appCommit
	req.RuntimeCommit = lf.runtimeCommit
	req.RuntimeEtcLdConf = defaultRuntimeLdConf(lf.runtimeFiles, lf.runtimeLdConf)
	req.MachineIDPath = resolveMachineID()

	callerCtx, err := buildCallerContext(fs)
	if err != nil {
		return launch.Request{}, fmt.Errorf("launchd: %w", err)
	}
	req.CallerContext = callerCtx

	return req, nil
}
