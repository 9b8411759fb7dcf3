package launchd

import (
	"github.com/spf13/cobra"

	"github.com/sandboxrt/launchd/internal/launch"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run REF [COMMAND...]",
		Short: "Launch an app or bare runtime inside SBX",
		Long: "Resolves the effective Context (defaults, runtime metadata, app metadata, " +
			"CLI overrides), composes the filesystem/extension/ld-cache/seccomp/appinfo/" +
			"bus-proxy scaffolding, and execs the sandbox helper.",
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
	}
	cmd.Flags().SetInterspersed(false)

	registerContextFlags(cmd.Flags())
	registerConfigFlags(cmd.Flags())
	lf := registerLaunchFlags(cmd.Flags())

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		req, err := buildRequest(cmd.Flags(), lf, args)
		if err != nil {
			return err
		}

		orch := launch.New(cfg)
		return orch.Launch(cmd.Context(), req)
	}

	return cmd
}
