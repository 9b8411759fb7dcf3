// Package launchd is the cobra command tree for the sandbox launcher
// composition engine.
package launchd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sandboxrt/launchd/internal/config"
	"github.com/sandboxrt/launchd/internal/usefulerror"
)

// NewRootCommand builds the top-level `launchd` command and wires every
// subcommand onto it.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "launchd",
		Short:         "Compose and execute a sandboxed application launch",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().Bool("verbose", false, "enable debug-level logging and verbose error output")

	root.AddCommand(newRunCommand())
	root.AddCommand(newInfoCommand())
	root.AddCommand(newConfigCommand())
	root.AddCommand(newVersionCommand())

	return root
}

// registerConfigFlags adds the internal/config.Config-backed flags (launcher
// behavior toggles, not part of the permission surface) to fs.
func registerConfigFlags(fs *pflag.FlagSet) {
	fs.Bool("seccomp", true, "install a seccomp filter; disable only under a tracer seccomp would kill")
	fs.Bool("multiarch-default", false, "default --allow=multiarch for apps that don't request it")
	fs.Bool("dry-run", false, "compose the SBX argv and print it instead of executing")
	fs.Bool("background", false, "spawn the sandbox detached instead of replacing the launcher process")
	fs.String("ld-cache-dir", "", "override the content-addressed ld.so.cache directory")
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	if !verbose {
		verbose, _ = cmd.Root().PersistentFlags().GetBool("verbose")
	}

	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return config.Config{}, err
	}
	cfg.Verbose = cfg.Verbose || verbose
	usefulerror.Verbose = cfg.Verbose

	return cfg, nil
}
