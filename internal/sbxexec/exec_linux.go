//go:build linux
// +build linux

package sbxexec

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Exec replaces the current process image with bin. It only returns on
// failure.
func Exec(binPath string, argv []string, env []string) error {
	if err := unix.Exec(binPath, argv, env); err != nil {
		return fmt.Errorf("exec %s: %w", binPath, err)
	}
	return nil
}

// ExecWithFiles renumbers files to the child-relative descriptors an
// FDAllocator promised (3, 4, ...) and then replaces the process image.
// dup2 clears close-on-exec on the duplicate, so the payloads survive the
// exec. Only returns on failure.
func ExecWithFiles(binPath string, argv []string, env []string, files []*os.File) error {
	for i, f := range files {
		target := 3 + i
		if int(f.Fd()) == target {
			if err := ClearCloseOnExec(f.Fd()); err != nil {
				return err
			}
			continue
		}
		if err := unix.Dup2(int(f.Fd()), target); err != nil {
			return fmt.Errorf("dup2 fd %d -> %d: %w", f.Fd(), target, err)
		}
	}
	return Exec(binPath, argv, env)
}

// ClearCloseOnExec clears FD_CLOEXEC on f, so a payload descriptor referenced
// by number in the composed argv stays open across the final exec.
func ClearCloseOnExec(fd uintptr) error {
	flags, err := unix.FcntlInt(fd, unix.F_GETFD, 0)
	if err != nil {
		return fmt.Errorf("getfd %d: %w", fd, err)
	}
	flags &^= unix.FD_CLOEXEC
	if _, err := unix.FcntlInt(fd, unix.F_SETFD, flags); err != nil {
		return fmt.Errorf("clear cloexec on fd %d: %w", fd, err)
	}
	return nil
}
