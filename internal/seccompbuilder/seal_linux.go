//go:build linux
// +build linux

package seccompbuilder

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// writeSealedFilter serializes prog as a flat array of struct sock_filter
// (8 bytes each: code u16, jt u8, jf u8, k u32) into an anonymous memfd,
// matching the byte layout SBX expects to read from the --seccomp fd.
func writeSealedFilter(prog []sockFilter) (*os.File, error) {
	var buf bytes.Buffer
	for _, insn := range prog {
		if err := binary.Write(&buf, binary.LittleEndian, insn.Code); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.LittleEndian, insn.Jt); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.LittleEndian, insn.Jf); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.LittleEndian, insn.K); err != nil {
			return nil, err
		}
	}

	fd, err := unix.MemfdCreate("launchd-seccomp", unix.MFD_ALLOW_SEALING)
	if err != nil {
		return nil, fmt.Errorf("memfd_create seccomp filter: %w", err)
	}
	f := os.NewFile(uintptr(fd), "launchd-seccomp")

	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return nil, fmt.Errorf("write seccomp filter: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("seek seccomp filter: %w", err)
	}

	seals := unix.F_SEAL_SEAL | unix.F_SEAL_SHRINK | unix.F_SEAL_GROW | unix.F_SEAL_WRITE
	if _, err := unix.FcntlInt(f.Fd(), unix.F_ADD_SEALS, seals); err != nil {
		_ = err // best-effort hardening, not required for correctness
	}

	return f, nil
}
