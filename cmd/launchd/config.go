package launchd

import (
	"errors"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/sandboxrt/launchd/internal/config"
)

// newConfigCommand groups launchd's own (not Context) configuration file
// management.
func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage launchd's own configuration file",
	}

	cmd.AddCommand(newConfigInitCommand())
	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigRemoveCommand())

	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default launchd config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.CreateConfig()
			if err != nil {
				if errors.Is(err, config.ErrConfigAlreadyExists) && !force {
					return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
				}
				if !errors.Is(err, config.ErrConfigAlreadyExists) {
					return err
				}
				if err := os.Remove(path); err != nil {
					return err
				}
				if path, err = config.CreateConfig(); err != nil {
					return err
				}
			}
			fmt.Printf("Wrote default config to %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved launchd configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			path, err := config.ConfigFilePath()
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.AppendHeader(table.Row{"key", "value"})
			t.AppendRow(table.Row{"config file", path})
			t.AppendRow(table.Row{"seccomp", cfg.Seccomp})
			t.AppendRow(table.Row{"multiarch_default", cfg.MultiarchDefault})
			t.AppendRow(table.Row{"dry_run", cfg.DryRun})
			t.AppendRow(table.Row{"background", cfg.Background})
			t.AppendRow(table.Row{"verbose", cfg.Verbose})
			t.AppendRow(table.Row{"ld_cache_dir", cfg.LdCacheDir})
			t.AppendRow(table.Row{"trusted_refs", cfg.TrustedRefs.Ref})
			fmt.Println(t.Render())
			return nil
		},
	}
}

func newConfigRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove",
		Short: "Remove launchd's configuration directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.RemoveConfig(); err != nil {
				return err
			}
			fmt.Println("Removed launchd configuration directory")
			return nil
		},
	}
}
