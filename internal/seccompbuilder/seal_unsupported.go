//go:build !linux
// +build !linux

package seccompbuilder

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
)

// writeSealedFilter falls back to an unlinked temp file; memfd_create is
// Linux-only, and SBX itself only ever runs on Linux.
func writeSealedFilter(prog []sockFilter) (*os.File, error) {
	var buf bytes.Buffer
	for _, insn := range prog {
		binary.Write(&buf, binary.LittleEndian, insn.Code)
		binary.Write(&buf, binary.LittleEndian, insn.Jt)
		binary.Write(&buf, binary.LittleEndian, insn.Jf)
		binary.Write(&buf, binary.LittleEndian, insn.K)
	}

	f, err := os.CreateTemp("", "launchd-seccomp-*")
	if err != nil {
		return nil, fmt.Errorf("create seccomp filter file: %w", err)
	}
	path := f.Name()
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	if err := os.Remove(path); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Seek(0, 0); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}
