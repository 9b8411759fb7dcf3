package sandboxctx

import (
	"fmt"

	"github.com/sandboxrt/launchd/internal/usefulerror"
)

// invalidArg builds the invalid-argument error every parser in this package
// fails with: the offending token and the enumerated valid set stay in the
// wrapped message, while the code and help surface through the CLI's error
// renderer.
func invalidArg(help, format string, a ...any) error {
	err := fmt.Errorf(format, a...)
	return usefulerror.Useful().
		WithCode(usefulerror.ErrCodeInvalidArgument).
		WithHumanError(err.Error()).
		WithHelp(help).
		Wrap(err)
}
