package usefulerror

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/safedep/dry/log"
)

type colorFn func(format string, a ...interface{}) string

type terminalColors struct {
	Red       colorFn
	Dim       colorFn
	ErrorCode colorFn
}

var colors = terminalColors{
	Red:       color.New(color.FgRed, color.Bold).SprintfFunc(),
	Dim:       color.New(color.Faint).SprintfFunc(),
	ErrorCode: color.New(color.BgRed, color.FgBlack, color.Bold).SprintfFunc(),
}

// Verbose controls whether ExitOnError prints the additional-help line and
// the original wrapped error alongside the human-readable message.
var Verbose bool

// ExitOnError renders err (wrapping it into a UsefulError if it isn't one
// already) as a colorized two- or four-line message and exits(1). Namespace-
// setup-fatal errors all flow through this single exit path.
func ExitOnError(err error) {
	if err == nil {
		return
	}

	log.Errorf("launchd: exiting due to error: %s", err)

	useful := Convert(err)

	hint := useful.Help()
	if useful.Code() == ErrCodeUnknown {
		hint = "this is likely a bug in launchd; please include the --verbose output when reporting it"
	}

	fmt.Fprintf(os.Stderr, "%s  %s\n", colors.ErrorCode(" %s ", useful.Code()), colors.Red(useful.HumanError()))
	if hint != "" && hint != "No additional help is available for this error." {
		fmt.Fprintf(os.Stderr, " %s %s\n", colors.Dim("→"), colors.Dim(hint))
	}

	if Verbose {
		if additional := useful.AdditionalHelp(); additional != "" && additional != "No additional help is available for this error." {
			fmt.Fprintf(os.Stderr, " %s %s\n", colors.Dim("→"), colors.Dim(additional))
		}
		if original := useful.Error(); original != "" && original != useful.HumanError() {
			fmt.Fprintf(os.Stderr, " %s %s\n", colors.Dim("┄"), colors.Dim(original))
		}
	}

	os.Exit(1)
}
