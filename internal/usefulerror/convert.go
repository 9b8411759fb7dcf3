package usefulerror

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"

	"github.com/godbus/dbus/v5"
)

// errorMatcher defines how to detect and convert a specific error type
type errorMatcher struct {
	match   func(err error) bool
	convert func(err error) UsefulError
}

// errorMatchers is an ordered list of error matchers
// Order matters - more specific matchers should come first
var errorMatchers = []errorMatcher{
	// Helper binary not found on PATH (bwrap, xdg-dbus-proxy, ldconfig)
	{
		match: func(err error) bool {
			return errors.Is(err, exec.ErrNotFound)
		},
		convert: func(err error) UsefulError {
			return Useful().
				WithCode(ErrCodeExternalFailure).
				WithHumanError("A required helper binary was not found").
				WithHelp("Install bubblewrap and xdg-dbus-proxy, or point LAUNCHD_SBX_BIN / FLATPAK_DBUSPROXY at them").
				Wrap(err)
		},
	},
	// Helper exited non-zero (the nested ldconfig run, the proxy wrapper)
	{
		match: func(err error) bool {
			var exitErr *exec.ExitError
			return errors.As(err, &exitErr)
		},
		convert: func(err error) UsefulError {
			var exitErr *exec.ExitError
			errors.As(err, &exitErr)
			return Useful().
				WithCode(ErrCodeExternalFailure).
				WithHumanError(fmt.Sprintf("A sandbox helper failed with exit code %d", exitErr.ExitCode())).
				WithHelp("Check the helper output above").
				Wrap(err)
		},
	},
	// D-Bus peer replied with an error (portal, session helper, systemd)
	{
		match: func(err error) bool {
			var dbusErr dbus.Error
			return errors.As(err, &dbusErr)
		},
		convert: func(err error) UsefulError {
			var dbusErr dbus.Error
			errors.As(err, &dbusErr)
			return Useful().
				WithCode(ErrCodeExternalFailure).
				WithHumanError(fmt.Sprintf("A D-Bus service call failed: %s", dbusErr.Name)).
				WithHelp("Check that the document portal and session services are running").
				Wrap(err)
		},
	},
	// Expected host file, directory, or socket is absent
	{
		match: func(err error) bool {
			return errors.Is(err, os.ErrNotExist) || errors.Is(err, fs.ErrNotExist)
		},
		convert: func(err error) UsefulError {
			path := extractPathFromError(err)
			humanError := "An expected host file or directory is missing"
			if path != "" {
				humanError = fmt.Sprintf("An expected host file or directory is missing: %s", path)
			}
			return Useful().
				WithCode(ErrCodeEnvironmentMissing).
				WithHumanError(humanError).
				WithHelp("Check that the runtime and app file trees are deployed at the paths given").
				Wrap(err)
		},
	},
	// Permission denied errors
	{
		match: func(err error) bool {
			return errors.Is(err, os.ErrPermission) || errors.Is(err, fs.ErrPermission)
		},
		convert: func(err error) UsefulError {
			path := extractPathFromError(err)
			humanError := "Permission denied"
			if path != "" {
				humanError = fmt.Sprintf("Permission denied: %s", path)
			}
			return Useful().
				WithCode(ErrCodePermissionDenied).
				WithHumanError(humanError).
				WithHelp("The launcher assumes the current user owns its state directories").
				Wrap(err)
		},
	},
	// Timeout errors (an expired context deadline; the portal and a11y D-Bus
	// lookups set no reply timeout of their own)
	{
		match: func(err error) bool {
			return errors.Is(err, context.DeadlineExceeded)
		},
		convert: func(err error) UsefulError {
			return Useful().
				WithCode(ErrCodeTimeout).
				WithHumanError("A D-Bus peer did not reply in time").
				WithHelp("Try again; the portal or session service may be overloaded").
				Wrap(err)
		},
	},
	// Canceled errors
	{
		match: func(err error) bool {
			return errors.Is(err, context.Canceled)
		},
		convert: func(err error) UsefulError {
			return Useful().
				WithCode(ErrCodeCanceled).
				WithHumanError("The launch was canceled").
				Wrap(err)
		},
	},
}

// Convert attempts to convert a regular error to a UsefulError by analyzing
// the error chain for known error types. An error that already carries a
// code passes through unchanged; anything unmatched is wrapped with the
// Unknown code and its innermost message.
func Convert(err error) UsefulError {
	if err == nil {
		return nil
	}

	if ue, ok := AsUsefulError(err); ok {
		return ue
	}

	for _, matcher := range errorMatchers {
		if matcher.match(err) {
			return matcher.convert(err)
		}
	}

	return Useful().
		WithCode(ErrCodeUnknown).
		WithHumanError(extractRootCause(err)).
		WithHelp("An unexpected error occurred.").
		Wrap(err)
}

// extractRootCause traverses the error chain and returns the innermost error message.
// This provides a cleaner, more human-friendly message instead of the full error chain.
func extractRootCause(err error) string {
	for {
		unwrapped := errors.Unwrap(err)
		if unwrapped == nil {
			return err.Error()
		}

		err = unwrapped
	}
}

// extractPathFromError attempts to extract a file path from path-related errors
func extractPathFromError(err error) string {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return pathErr.Path
	}

	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return linkErr.Old
	}

	return ""
}
