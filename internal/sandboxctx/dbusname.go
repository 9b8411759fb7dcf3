package sandboxctx

import (
	"strings"
)

const busNameHelp = "Bus names are dot-separated elements like org.example.App; a trailing .* matches a prefix"

// validateBusName checks that name is a well-formed D-Bus bus name: not a
// unique name (must not start with ':'), composed of
// dot-separated elements of `[A-Za-z0-9_-]+`, with at least two elements,
// and an optional trailing ".*" wildcard verified against the stripped
// prefix.
func validateBusName(name string) error {
	if name == "" {
		return invalidArg(busNameHelp, "dbus name must not be empty")
	}
	if strings.HasPrefix(name, ":") {
		return invalidArg(busNameHelp, "dbus name %q must not be a unique name", name)
	}

	check := name
	if strings.HasSuffix(check, ".*") {
		check = strings.TrimSuffix(check, ".*")
	}

	elements := strings.Split(check, ".")
	if len(elements) < 2 {
		return invalidArg(busNameHelp, "dbus name %q must have at least two dot-separated elements", name)
	}

	for _, el := range elements {
		if el == "" {
			return invalidArg(busNameHelp, "dbus name %q has an empty element", name)
		}
		for _, r := range el {
			if !isBusNameChar(r) {
				return invalidArg(busNameHelp, "dbus name %q contains invalid character %q", name, r)
			}
		}
	}

	return nil
}

func isBusNameChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		return true
	default:
		return false
	}
}
