package launchd

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/sandboxrt/launchd/internal/launch"
)

func newInfoCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info REF [COMMAND...]",
		Short: "Compose a launch plan and print it, without invoking SBX",
		Long: "Runs every launch composition step short of the final exec and renders " +
			"the resulting argv and effective Context as tables, " +
			"for debugging a permission or mount composition before committing to a launch.",
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
		// info never spawns helpers: composing under dry-run skips the
		// ldconfig build, bus-proxy spawn, and portal calls.
		cfg.DryRun = true

		req, err := buildRequest(cmd.Flags(), lf, args)
		if err != nil {
			return err
		}

		orch := launch.New(cfg)
		plan, err := orch.Compose(cmd.Context(), req)
		if err != nil {
			return err
		}

		renderArgvTable(plan)
		renderContextTable(plan)
		return nil
	}

	return cmd
}

// renderArgvTable prints the composed SBX argv one directive per row,
// grouping a flag with the operand(s) that follow it.
func renderArgvTable(plan *launch.Plan) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"#", "directive"})

	n := 0
	argv := plan.Argv
	for i := 0; i < len(argv); {
		flag := argv[i]
		operands := argvOperands(argv, i+1)
		n++
		row := append(table.Row{n, flag}, toRow(operands)...)
		t.AppendRow(row)
		i += 1 + len(operands)
	}

	n++
	t.AppendRow(append(table.Row{n, "--"}, toRow(plan.Command)...))

	fmt.Printf("SBX invocation (%d fd(s) attached):\n", len(plan.SealedFiles))
	t.Render()
	fmt.Println()
}

// argvOperands returns the run of non-flag tokens starting at i (the
// operands belonging to the flag at i-1), stopping at the next "--"-style
// token or the first token that starts with "--" and isn't a bare value.
func argvOperands(argv []string, i int) []string {
	var out []string
	for ; i < len(argv); i++ {
		tok := argv[i]
		if len(tok) > 2 && tok[:2] == "--" {
			break
		}
		out = append(out, tok)
	}
	return out
}

func toRow(values []string) table.Row {
	row := make(table.Row, len(values))
	for i, v := range values {
		row[i] = v
	}
	return row
}

// renderContextTable prints the effective, fully-merged Context (defaults,
// runtime metadata, app metadata, CLI overrides) as
// the canonical argv form ToArgs produces, one entry per row.
func renderContextTable(plan *launch.Plan) {
	if plan.Context == nil {
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"effective context"})
	for _, a := range plan.Context.ToArgs() {
		t.AppendRow(table.Row{a})
	}

	fmt.Println("Effective Context:")
	t.Render()
}
