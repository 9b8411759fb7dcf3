package launchd

import (
	"github.com/spf13/pflag"

	"github.com/sandboxrt/launchd/internal/sandboxctx"
)

// contextFlagSpec is one repeatable permission flag: the flag name as it
// appears on the command line, which is also the Context.ApplyOption name it
// forwards to, and its help text.
type contextFlagSpec struct {
	flag string
	help string
}

// contextFlags enumerates every repeatable Context-mutating flag the CLI
// supports. registerContextFlags and buildCallerContext both iterate this
// table, so adding a flag here is the only change needed to support it.
var contextFlags = []contextFlagSpec{
	{"share", "Share a subsystem with the host (network, ipc)"},
	{"unshare", "Unshare a subsystem from the host"},
	{"socket", "Expose a socket to the sandbox (x11, wayland, pulseaudio, session-bus, system-bus)"},
	{"nosocket", "Don't expose a socket to the sandbox"},
	{"device", "Expose a device to the sandbox (dri, all, kvm)"},
	{"nodevice", "Don't expose a device to the sandbox"},
	{"allow", "Allow a feature (devel, multiarch)"},
	{"disallow", "Don't allow a feature"},
	{"filesystem", "Expose a filesystem path (optionally :ro/:rw/:create)"},
	{"nofilesystem", "Deny a filesystem path"},
	{"env", "Set an environment variable, K=V"},
	{"own-name", "Allow the sandbox to own a session-bus name"},
	{"talk-name", "Allow the sandbox to talk to a session-bus name"},
	{"system-own-name", "Allow the sandbox to own a system-bus name"},
	{"system-talk-name", "Allow the sandbox to talk to a system-bus name"},
	{"add-policy", "Add a generic subsystem policy value, SUBSYSTEM.KEY=VALUE"},
	{"remove-policy", "Remove a generic subsystem policy value, SUBSYSTEM.KEY=VALUE"},
	{"persist", "Bind-mount a relative $HOME path persistently"},
}

// registerContextFlags adds every permission flag to fs as a
// repeatable string-array flag.
func registerContextFlags(fs *pflag.FlagSet) {
	for _, spec := range contextFlags {
		fs.StringArray(spec.flag, nil, spec.help)
	}
}

// buildCallerContext reads every registered context flag off fs, in table
// order, and applies each occurrence to a fresh Context via ApplyOption —
// this is the CLI override source the orchestrator merges last, so it
// wins over both metadata sources.
func buildCallerContext(fs *pflag.FlagSet) (*sandboxctx.Context, error) {
	ctx := sandboxctx.New()

	for _, spec := range contextFlags {
		values, err := fs.GetStringArray(spec.flag)
		if err != nil {
			continue
		}
		for _, v := range values {
			if err := ctx.ApplyOption(spec.flag, v); err != nil {
				return nil, err
			}
		}
	}

	return ctx, nil
}
