//go:build linux
// +build linux

package mount

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// createSealedFile writes content into an anonymous, memory-backed file
// (memfd) and returns it positioned at offset 0, ready to be bound read-only
// or passed as a --file/--ro-bind-data descriptor. Using memfd rather than a
// temp file means nothing touches disk and no unlink race is possible.
func createSealedFile(name string, content []byte) (*os.File, error) {
	fd, err := unix.MemfdCreate(name, unix.MFD_ALLOW_SEALING)
	if err != nil {
		return nil, fmt.Errorf("memfd_create %q: %w", name, err)
	}
	f := os.NewFile(uintptr(fd), name)

	if _, err := f.Write(content); err != nil {
		f.Close()
		return nil, fmt.Errorf("write sealed file %q: %w", name, err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("seek sealed file %q: %w", name, err)
	}

	seals := unix.F_SEAL_SEAL | unix.F_SEAL_SHRINK | unix.F_SEAL_GROW | unix.F_SEAL_WRITE
	if _, err := unix.FcntlInt(f.Fd(), unix.F_ADD_SEALS, seals); err != nil {
		// Sealing is best-effort hardening; absence of F_ADD_SEALS support
		// (older kernels) does not make the payload unusable.
		_ = err
	}

	return f, nil
}

// ApplyPersonality sets the process personality immediately before the
// final exec. This is the only global process state the launcher mutates,
// and it must happen on the thread that will become the child (directly or
// via exec).
func ApplyPersonality(linux32 bool) error {
	const perLinux = 0x0000 // PER_LINUX (include/uapi/linux/personality.h)
	persona := uintptr(perLinux)
	if linux32 {
		persona = 0x0008 // PER_LINUX32 (include/uapi/linux/personality.h)
	}
	if _, _, errno := unix.Syscall(unix.SYS_PERSONALITY, persona, 0, 0); errno != 0 {
		return fmt.Errorf("set personality: %w", errno)
	}
	return nil
}
