package seccompbuilder

import "github.com/sandboxrt/launchd/internal/refs"

// auditArch is the AUDIT_ARCH_* value the kernel compares seccomp_data.arch
// against (include/uapi/linux/audit.h), independent of the syscall ABI.
var auditArch = map[refs.Arch]uint32{
	refs.ArchX8664:   0xc000003e,
	refs.ArchI386:    0x40000003,
	refs.ArchAarch64: 0xc00000b7,
	refs.ArchArm:     0x40000028,
}

// syscallNumbers maps the syscalls referenced by the blacklist to their
// per-architecture numbers. An absent entry means the syscall does
// not exist on that architecture (e.g. modify_ldt is x86-only, and uselib
// is absent on aarch64)
// and is simply not filtered there — there is nothing to block.
var syscallNumbers = map[refs.Arch]map[string]uint32{
	refs.ArchX8664: {
		"syslog": 103, "uselib": 134, "personality": 135, "acct": 163,
		"modify_ldt": 154, "quotactl": 179, "add_key": 248, "keyctl": 250,
		"request_key": 249, "move_pages": 279, "mbind": 237,
		"get_mempolicy": 239, "set_mempolicy": 238, "migrate_pages": 256,
		"unshare": 272, "mount": 165, "pivot_root": 155, "clone": 56,
		"ioctl": 16, "perf_event_open": 298, "ptrace": 101, "socket": 41,
	},
	refs.ArchAarch64: {
		"syslog": 116, "personality": 92, "acct": 89, "quotactl": 60,
		"add_key": 217, "keyctl": 219, "request_key": 218, "move_pages": 239,
		"mbind": 235, "get_mempolicy": 236, "set_mempolicy": 237,
		"migrate_pages": 238, "unshare": 97, "mount": 40, "pivot_root": 41,
		"clone": 220, "ioctl": 29, "perf_event_open": 241, "ptrace": 117,
		"socket": 198,
	},
	refs.ArchArm: {
		"syslog": 103, "uselib": 86, "personality": 136, "acct": 51,
		"quotactl": 131, "add_key": 309, "keyctl": 311, "request_key": 310,
		"move_pages": 344, "mbind": 319, "get_mempolicy": 320,
		"set_mempolicy": 321, "migrate_pages": 400, "unshare": 337,
		"mount": 21, "pivot_root": 218, "clone": 120, "ioctl": 54,
		"perf_event_open": 364, "ptrace": 26, "socket": 281,
	},
	refs.ArchI386: {
		"syslog": 103, "uselib": 86, "personality": 136, "acct": 51,
		"modify_ldt": 123, "quotactl": 131, "add_key": 286, "keyctl": 288,
		"request_key": 287, "move_pages": 317, "mbind": 274,
		"get_mempolicy": 275, "set_mempolicy": 276, "migrate_pages": 294,
		"unshare": 310, "mount": 21, "pivot_root": 217, "clone": 120,
		"ioctl": 54, "perf_event_open": 336, "ptrace": 26, "socket": 359,
	},
}

// baseBlacklist is the always-blocked syscall list, excluding
// the argument-conditioned entries (personality, clone, ioctl) which are
// handled separately with their own comparisons.
var baseBlacklist = []string{
	"syslog", "uselib", "acct", "modify_ldt", "quotactl", "add_key",
	"keyctl", "request_key", "move_pages", "mbind", "get_mempolicy",
	"set_mempolicy", "migrate_pages", "unshare", "mount", "pivot_root",
}

// nonDevelSupplement is blocked in addition to baseBlacklist when devel is
// not allowed.
var nonDevelSupplement = []string{"perf_event_open", "ptrace"}

// socketFamilyDenyList is the set of address families denied on socket(),
// by their AF_* value. These are constant across architectures
// (defined in linux/socket.h, not part of any syscall ABI).
var socketFamilyDenyList = []uint32{
	3,  // AF_AX25
	4,  // AF_IPX
	5,  // AF_APPLETALK
	6,  // AF_NETROM
	7,  // AF_BRIDGE
	8,  // AF_ATMPVC
	9,  // AF_X25
	11, // AF_ROSE
	12, // AF_DECnet
	13, // AF_NETBEUI
	14, // AF_SECURITY
	15, // AF_KEY
}

const afNetlink = 16 // AF_NETLINK; the final rule denies everything >= AF_NETLINK+1

const (
	cloneNewUser = 0x10000000 // CLONE_NEWUSER
	tiocsti      = 0x5412     // TIOCSTI
	perLinux     = 0x0000
)
