package dbuspeers

import (
	"fmt"
	"os"
)

// openForPortal opens path read-only for handing its fd to
// org.freedesktop.portal.Documents.Add, which dup()s the descriptor itself.
func openForPortal(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dbuspeers: open %q for portal registration: %w", path, err)
	}
	return f, nil
}
