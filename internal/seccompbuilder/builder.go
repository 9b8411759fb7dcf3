// Package seccompbuilder constructs the BPF filter handed to SBX via
// --seccomp FD. Construction only: the filter bytes are written to a sealed
// file descriptor and loaded by SBX's exec'd child, never installed by this
// process.
package seccompbuilder

import (
	"fmt"
	"os"

	"github.com/safedep/dry/log"
	"github.com/sandboxrt/launchd/internal/refs"
)

// sockFilter is one classic-BPF instruction in the kernel's struct
// sock_filter layout (code u16, jt u8, jf u8, k u32).
type sockFilter struct {
	Code uint16
	Jt   uint8
	Jf   uint8
	K    uint32
}

const (
	bpfLD  = 0x00
	bpfW   = 0x00
	bpfABS = 0x20
	bpfJMP = 0x05
	bpfJEQ = 0x10
	bpfJGE = 0x30
	bpfJA  = 0x00
	bpfK   = 0x00
	bpfALU = 0x04
	bpfAND = 0x50
	bpfRET = 0x06
)

const (
	retAllow       = 0x7fff0000
	retKillProcess = 0x80000000
	retErrnoBase   = 0x00050000
)

const (
	offsetNR   = 0
	offsetArch = 4
)

func offsetArgLo(i int) uint32 { return uint32(16 + 8*i) } // low 32 bits, little-endian

const (
	epermErrno       = 1
	eafnosupportErrno = 97
)

func stmt(code uint16, k uint32) sockFilter {
	return sockFilter{Code: code, K: k}
}

func jump(code uint16, k uint32, jt, jf uint8) sockFilter {
	return sockFilter{Code: code, K: k, Jt: jt, Jf: jf}
}

// Builder assembles the seccomp-bpf program for a set of requested
// architectures.
type Builder struct {
	Devel     bool
	Multiarch bool
}

// New returns a Builder; devel controls whether the non-devel supplement
// (ptrace, perf_event_open) is added, and multiarch controls whether a
// compatibility architecture is appended alongside a 64-bit requested arch.
func New(devel, multiarch bool) *Builder {
	return &Builder{Devel: devel, Multiarch: multiarch}
}

// Build assembles the filter for the requested architectures and writes it
// into a sealed file descriptor, returned positioned at offset 0 and ready
// to be handed to SBX as --seccomp FD.
func (b *Builder) Build(requested []refs.Arch) (*os.File, error) {
	archSet := b.expandArches(requested)
	if len(archSet) == 0 {
		return nil, fmt.Errorf("seccomp: no valid architecture requested")
	}

	var prog []sockFilter
	var endJumpIdx []int

	for _, arch := range archSet {
		audit, ok := auditArch[arch]
		if !ok {
			return nil, fmt.Errorf("seccomp: unknown architecture %q", arch)
		}
		numbers := syscallNumbers[arch]

		prog = append(prog, stmt(bpfLD|bpfW|bpfABS, offsetArch))
		// Mismatch skips this arch's whole block (including its trailing
		// jump-to-allow) and falls through to the next arch's check, or to
		// the final kill instruction if this was the last one.
		skip := b.archBlockLen(numbers) + 1
		prog = append(prog, jump(bpfJMP|bpfJEQ|bpfK, audit, 0, uint8(skip)))

		prog = append(prog, b.archBlock(numbers)...)

		// Successful completion of this arch's checks: jump to the final
		// RET_ALLOW. Patched once the full program length is known.
		endJumpIdx = append(endJumpIdx, len(prog))
		prog = append(prog, jump(bpfJMP|bpfJA, 0, 0, 0))
	}

	prog = append(prog, stmt(bpfRET|bpfK, retKillProcess))
	allowIdx := len(prog)
	prog = append(prog, stmt(bpfRET|bpfK, retAllow))

	for _, idx := range endJumpIdx {
		prog[idx].K = uint32(allowIdx - idx - 1)
	}

	log.Debugf("seccomp: assembled %d-instruction filter for archs %v (devel=%v multiarch=%v)",
		len(prog), archSet, b.Devel, b.Multiarch)

	return writeSealedFilter(prog)
}

// expandArches returns requested plus, when multiarch is set, the 32-bit
// compatibility architecture for any 64-bit arch in requested. Duplicate
// additions are silently deduped.
func (b *Builder) expandArches(requested []refs.Arch) []refs.Arch {
	seen := map[refs.Arch]bool{}
	var out []refs.Arch
	add := func(a refs.Arch) {
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	for _, a := range requested {
		add(a)
		if b.Multiarch {
			if compat, ok := refs.CompatArch(a); ok {
				add(compat)
			}
		}
	}
	return out
}

// archBlockLen returns the instruction count archBlock would emit for
// numbers, so the arch-mismatch jump above can skip exactly past it.
func (b *Builder) archBlockLen(numbers map[string]uint32) int {
	return len(b.archBlock(numbers))
}

// archBlock emits, for one architecture's syscall-number table: the nr load,
// the argument-conditioned rules (personality, clone, ioctl TIOCSTI, socket
// family deny list), and the plain blacklist name checks.
func (b *Builder) archBlock(numbers map[string]uint32) []sockFilter {
	var out []sockFilter

	out = append(out, stmt(bpfLD|bpfW|bpfABS, offsetNR))

	if nr, ok := numbers["personality"]; ok {
		out = append(out, b.personalityRule(nr)...)
	}
	if nr, ok := numbers["clone"]; ok {
		out = append(out, b.cloneRule(nr)...)
	}
	if nr, ok := numbers["ioctl"]; ok {
		out = append(out, b.ioctlRule(nr)...)
	}
	if nr, ok := numbers["socket"]; ok {
		out = append(out, b.socketRule(nr)...)
	}

	names := append([]string{}, baseBlacklist...)
	if !b.Devel {
		names = append(names, nonDevelSupplement...)
	}
	for _, name := range names {
		nr, ok := numbers[name]
		if !ok {
			continue // syscall does not exist on this architecture
		}
		out = append(out,
			jump(bpfJMP|bpfJEQ|bpfK, nr, 0, 1),
			stmt(bpfRET|bpfK, retErrnoBase|epermErrno),
		)
	}

	return out
}

// personalityRule denies personality() whenever arg0 is not PER_LINUX.
// The launcher requests PER_LINUX32 instead for 32-bit arches;
// either way exactly one value is allowed per launch, so the builder only
// needs to compare against PER_LINUX here — the 32-bit path applies its own
// filter via a separate Build call with a 32-bit requested architecture.
func (b *Builder) personalityRule(nr uint32) []sockFilter {
	return []sockFilter{
		jump(bpfJMP|bpfJEQ|bpfK, nr, 0, 4),
		stmt(bpfLD|bpfW|bpfABS, offsetArgLo(0)),
		jump(bpfJMP|bpfJEQ|bpfK, perLinux, 1, 0),
		stmt(bpfRET|bpfK, retErrnoBase|epermErrno),
		stmt(bpfLD|bpfW|bpfABS, offsetNR), // restore accumulator for subsequent rules
	}
}

// cloneRule denies clone() when arg0 & CLONE_NEWUSER == CLONE_NEWUSER.
func (b *Builder) cloneRule(nr uint32) []sockFilter {
	return []sockFilter{
		jump(bpfJMP|bpfJEQ|bpfK, nr, 0, 5),
		stmt(bpfLD|bpfW|bpfABS, offsetArgLo(0)),
		stmt(bpfALU|bpfAND|bpfK, cloneNewUser),
		jump(bpfJMP|bpfJEQ|bpfK, cloneNewUser, 0, 1),
		stmt(bpfRET|bpfK, retErrnoBase|epermErrno),
		stmt(bpfLD|bpfW|bpfABS, offsetNR),
	}
}

// ioctlRule denies ioctl() when arg1 == TIOCSTI.
func (b *Builder) ioctlRule(nr uint32) []sockFilter {
	return []sockFilter{
		jump(bpfJMP|bpfJEQ|bpfK, nr, 0, 4),
		stmt(bpfLD|bpfW|bpfABS, offsetArgLo(1)),
		jump(bpfJMP|bpfJEQ|bpfK, tiocsti, 0, 1),
		stmt(bpfRET|bpfK, retErrnoBase|epermErrno),
		stmt(bpfLD|bpfW|bpfABS, offsetNR),
	}
}

// socketRule denies socket() when arg0 (family) is in socketFamilyDenyList or
// >= AF_NETLINK+1.
func (b *Builder) socketRule(nr uint32) []sockFilter {
	checks := len(socketFamilyDenyList) + 1 // + the final >= NETLINK+1 rule
	out := []sockFilter{
		jump(bpfJMP|bpfJEQ|bpfK, nr, 0, uint8(2+2*checks)),
		stmt(bpfLD|bpfW|bpfABS, offsetArgLo(0)),
	}
	for _, family := range socketFamilyDenyList {
		out = append(out, jump(bpfJMP|bpfJEQ|bpfK, family, 0, 1), stmt(bpfRET|bpfK, retErrnoBase|eafnosupportErrno))
	}
	out = append(out, jump(bpfJMP|bpfJGE|bpfK, afNetlink+1, 0, 1), stmt(bpfRET|bpfK, retErrnoBase|eafnosupportErrno))
	out = append(out, stmt(bpfLD|bpfW|bpfABS, offsetNR))
	return out
}
