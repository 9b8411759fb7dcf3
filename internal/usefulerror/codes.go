package usefulerror

// Standard error codes that can be re-used across the project.
// We will use a human friendly format for the error codes and not align with posix error codes.
// Keep this minimal. Reuse first before adding new ones.
const (
	ErrCodeInvalidArgument  = "InvalidArgument"
	ErrCodePermissionDenied = "PermissionDenied"
	ErrCodeTimeout          = "Timeout"
	ErrCodeCanceled         = "Canceled"
	ErrCodeUnknown          = "Unknown"

	// Launcher-specific codes: an expected host resource (socket, directory,
	// helper) is absent, an external helper or D-Bus peer failed, or setup
	// of the sandbox itself could not complete.
	ErrCodeEnvironmentMissing  = "EnvironmentMissing"
	ErrCodeExternalFailure     = "ExternalFailure"
	ErrCodeNamespaceSetupFatal = "NamespaceSetupFatal"
)
