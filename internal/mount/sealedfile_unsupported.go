//go:build !linux
// +build !linux

package mount

import (
	"fmt"
	"os"
)

// createSealedFile falls back to a temp file unlinked immediately after
// open, since memfd_create is Linux-only. The open file descriptor remains
// valid (and opaque) after
// the directory entry is removed.
func createSealedFile(name string, content []byte) (*os.File, error) {
	f, err := os.CreateTemp("", "launchd-"+name+"-*")
	if err != nil {
		return nil, fmt.Errorf("create sealed file %q: %w", name, err)
	}
	path := f.Name()

	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write sealed file %q: %w", name, err)
	}
	if err := os.Remove(path); err != nil {
		f.Close()
		return nil, fmt.Errorf("unlink sealed file %q: %w", name, err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("seek sealed file %q: %w", name, err)
	}
	return f, nil
}

// ApplyPersonality always returns an error on non-Linux platforms: SBX itself is a Linux
// namespace tool, so launchd only runs meaningfully on Linux, but keeping
// this stub lets the rest of the tree build cross-platform for tooling.
func ApplyPersonality(linux32 bool) error {
	return fmt.Errorf("personality control is only supported on linux")
}
