package launchd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sandboxrt/launchd/internal/version"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the launchd version",
		RunE: func(cmd *cobra.Command, args []string) error {
			v := version.Version
			if v == "" {
				v = "dev"
			}
			if version.Commit != "" {
				fmt.Printf("launchd %s (%s)\n", v, version.Commit)
				return nil
			}
			fmt.Printf("launchd %s\n", v)
			return nil
		},
	}
}
