// Package linux provides seccomp BPF filter support.
package linux

import (
	"fmt"
	"syscall"
	"unsafe"

	"capsule-run/schema"
)

// Seccomp constants.
const (
	SECCOMP_MODE_FILTER      = 2
	SECCOMP_RET_KILL_PROCESS = 0x80000000
	SECCOMP_RET_ALLOW        = 0x7fff0000

	PR_SET_NO_NEW_PRIVS = 38
	PR_SET_SECCOMP      = 22
)

// BPF constants.
const (
	BPF_LD  = 0x00
	BPF_JMP = 0x05
	BPF_RET = 0x06
	BPF_W   = 0x00
	BPF_ABS = 0x20
	BPF_JEQ  = 0x10
	BPF_JSET = 0x40
	BPF_K    = 0x00
)

// Seccomp data offsets, matching struct seccomp_data.
const (
	offsetNR   = 0
	offsetArch = 4
	// offsetArgLo(n) is the offset of the low 32 bits of argument n, on a
	// little-endian 64-bit host.
)

func offsetArgLo(n int) uint32 {
	return uint32(16 + n*8)
}

// Architecture audit values.
const (
	AUDIT_ARCH_X86_64  = 0xc000003e
	AUDIT_ARCH_AARCH64 = 0xc00000b7
)

// sockFprog is the BPF program structure.
type sockFprog struct {
	Len    uint16
	Filter *sockFilter
}

// sockFilter is a single BPF instruction.
type sockFilter struct {
	Code uint16
	Jt   uint8
	Jf   uint8
	K    uint32
}

// PR_SET_NAME and PR_GET_NAME, the only prctl ops the default filter
// admits.
const (
	prSetName = 15
	prGetName = 16
)

// CLONE_THREAD. clone is admitted whenever its flags argument has this
// bit set, not just when it is the only bit set: a real pthread_create
// combines it with CLONE_VM|CLONE_FS|CLONE_SIGHAND|..., so the filter
// tests for the bit with BPF_JSET rather than exact equality.
const cloneThread = 0x00010000

// AF_UNIX, the only socket domain admitted unless network isolation is
// disabled.
const afUnix = 1

// baseSyscalls is the fixed allowlist of syscalls every execution's
// seccomp filter admits unconditionally: I/O, modern *at file
// operations, memory mapping, process/thread identity, time, signals,
// execve/exit, polling, prlimit64, futex, fcntl, and minimal
// miscellany.
var baseSyscalls = []string{
	"read", "write", "readv", "writev", "pread64", "pwrite64",
	"close", "lseek", "dup", "dup2", "dup3", "pipe", "pipe2",
	"fcntl", "ioctl", "ftruncate",
	"openat", "mkdirat", "unlinkat", "renameat", "renameat2",
	"linkat", "symlinkat", "readlinkat", "fchmodat", "faccessat",
	"newfstatat", "fstat", "fstatfs", "statx", "getdents64",
	"mmap", "munmap", "mprotect", "brk", "madvise", "mremap",
	"getpid", "gettid", "getppid", "getuid", "geteuid", "getgid",
	"getegid", "getresuid", "getresgid", "getgroups", "setuid",
	"setgid", "set_tid_address", "set_robust_list", "arch_prctl",
	"exit", "exit_group", "execve",
	"rt_sigaction", "rt_sigprocmask", "rt_sigreturn", "sigaltstack",
	"kill", "tgkill",
	"clock_gettime", "clock_nanosleep", "nanosleep", "gettimeofday",
	"poll", "ppoll", "epoll_create1", "epoll_ctl", "epoll_wait",
	"pselect6", "select",
	"prlimit64", "futex", "sched_yield", "sched_getaffinity",
	"getrandom", "getcwd", "chdir", "umask", "wait4",
	"rseq", "restart_syscall",
}

// networkSyscalls is the additional BSD-socket pack appended when the
// request's isolation config allows networking.
var networkSyscalls = []string{
	"socket", "bind", "listen", "accept", "accept4", "connect",
	"getsockname", "getpeername", "sendto", "recvfrom", "sendmsg",
	"recvmsg", "shutdown", "setsockopt", "getsockopt",
}

// syscallMap maps syscall names to x86_64 numbers.
var syscallMap = map[string]int{
	"read": 0, "write": 1, "close": 3, "fstat": 5, "poll": 7,
	"lseek": 8, "mmap": 9, "mprotect": 10, "munmap": 11, "brk": 12,
	"rt_sigaction": 13, "rt_sigprocmask": 14, "rt_sigreturn": 15,
	"ioctl": 16, "pread64": 17, "pwrite64": 18, "readv": 19,
	"writev": 20, "pipe": 22, "select": 23, "sched_yield": 24, "mremap": 25,
	"madvise": 28, "dup": 32, "dup2": 33, "nanosleep": 35,
	"getpid": 39, "socket": 41, "connect": 42, "accept": 43,
	"sendto": 44, "recvfrom": 45, "sendmsg": 46, "recvmsg": 47,
	"shutdown": 48, "bind": 49, "listen": 50, "getsockname": 51,
	"getpeername": 52, "setsockopt": 54, "getsockopt": 55,
	"clone": 56, "execve": 59, "exit": 60, "wait4": 61, "kill": 62,
	"fcntl": 72, "ftruncate": 77, "getdents64": 217,
	"getcwd": 79, "chdir": 80, "rename": 82, "mkdir": 83,
	"link": 86, "unlink": 87, "symlink": 88, "readlink": 89,
	"umask": 95, "gettimeofday": 96, "getuid": 102, "getgid": 104,
	"setuid": 105, "setgid": 106, "geteuid": 107, "getegid": 108,
	"getppid": 110, "getgroups": 115,
	"getresuid": 118, "getresgid": 120, "sigaltstack": 131,
	"arch_prctl": 158, "prctl": 157, "gettid": 186,
	"tkill": 200, "futex": 202, "sched_getaffinity": 204,
	"set_tid_address": 218, "exit_group": 231,
	"epoll_create1": 291, "pipe2": 293, "dup3": 292,
	"getrandom": 318, "statx": 332,
	"openat": 257, "mkdirat": 258, "fchownat": 260,
	"newfstatat": 262, "unlinkat": 263, "renameat": 264,
	"linkat": 265, "symlinkat": 266, "readlinkat": 267,
	"fchmodat": 268, "faccessat": 269, "pselect6": 270, "ppoll": 271,
	"set_robust_list": 273, "epoll_wait": 232, "epoll_ctl": 233,
	"tgkill": 234, "accept4": 288, "prlimit64": 302,
	"clock_gettime": 228, "clock_nanosleep": 230, "fstatfs": 138,
	"renameat2": 316, "getrandom2": 318, "rseq": 334,
	"restart_syscall": 219,
}

// SetupSeccomp builds and installs the fixed syscall allowlist for an
// execution, appending the network pack when isolation.network is true.
// It must be called after capability drop and after the sandbox has
// entered its namespaces, since the filter also restricts the syscalls
// the remaining setup code may use.
func SetupSeccomp(isolation schema.IsolationConfig) error {
	if _, _, errno := syscall.Syscall(syscall.SYS_PRCTL, PR_SET_NO_NEW_PRIVS, 1, 0); errno != 0 {
		return fmt.Errorf("prctl(PR_SET_NO_NEW_PRIVS): %v", errno)
	}

	filter, err := buildSeccompFilter(isolation)
	if err != nil {
		return fmt.Errorf("build filter: %w", err)
	}

	prog := sockFprog{
		Len:    uint16(len(filter)),
		Filter: &filter[0],
	}

	_, _, errno := syscall.Syscall(syscall.SYS_PRCTL,
		PR_SET_SECCOMP,
		SECCOMP_MODE_FILTER,
		uintptr(unsafe.Pointer(&prog)))
	if errno != 0 {
		return fmt.Errorf("prctl(PR_SET_SECCOMP): %v", errno)
	}

	return nil
}

// buildSeccompFilter builds the BPF program for the fixed allowlist plus
// the conditional rules for clone, prctl, and socket.
func buildSeccompFilter(isolation schema.IsolationConfig) ([]sockFilter, error) {
	var filter []sockFilter

	// Architecture check: kill-process unless running under a known arch.
	filter = append(filter, bpfStmt(BPF_LD|BPF_W|BPF_ABS, offsetArch))
	filter = append(filter, bpfJump(BPF_JMP|BPF_JEQ|BPF_K, AUDIT_ARCH_X86_64, 1, 0))
	filter = append(filter, bpfStmt(BPF_RET|BPF_K, SECCOMP_RET_KILL_PROCESS))

	filter = append(filter, bpfStmt(BPF_LD|BPF_W|BPF_ABS, offsetNR))

	names := make([]string, 0, len(baseSyscalls)+len(networkSyscalls)+1)
	names = append(names, baseSyscalls...)
	if isolation.Network {
		names = append(names, networkSyscalls...)
	}

	for _, name := range names {
		nr, ok := syscallMap[name]
		if !ok {
			return nil, fmt.Errorf("unknown syscall in allowlist: %s", name)
		}
		filter = append(filter, bpfJump(BPF_JMP|BPF_JEQ|BPF_K, uint32(nr), 0, 1))
		filter = append(filter, bpfStmt(BPF_RET|BPF_K, SECCOMP_RET_ALLOW))
	}

	// clone: allowed only when flags (arg0) include CLONE_THREAD, tested
	// with a masked AND (BPF_JSET) rather than exact equality so that a
	// real pthread_create's combined flag set still matches.
	cloneNR := uint32(syscallMap["clone"])
	filter = append(filter, bpfJump(BPF_JMP|BPF_JEQ|BPF_K, cloneNR, 0, 4))
	filter = append(filter, bpfStmt(BPF_LD|BPF_W|BPF_ABS, offsetArgLo(0)))
	filter = append(filter, bpfJump(BPF_JMP|BPF_JSET|BPF_K, cloneThread, 0, 1))
	filter = append(filter, bpfStmt(BPF_RET|BPF_K, SECCOMP_RET_ALLOW))
	filter = append(filter, bpfStmt(BPF_LD|BPF_W|BPF_ABS, offsetNR))

	// prctl: allowed only for PR_SET_NAME and PR_GET_NAME (arg0).
	prctlNR := uint32(syscallMap["prctl"])
	filter = append(filter, bpfJump(BPF_JMP|BPF_JEQ|BPF_K, prctlNR, 0, 5))
	filter = append(filter, bpfStmt(BPF_LD|BPF_W|BPF_ABS, offsetArgLo(0)))
	filter = append(filter, bpfJump(BPF_JMP|BPF_JEQ|BPF_K, prSetName, 0, 1))
	filter = append(filter, bpfStmt(BPF_RET|BPF_K, SECCOMP_RET_ALLOW))
	filter = append(filter, bpfJump(BPF_JMP|BPF_JEQ|BPF_K, prGetName, 0, 1))
	filter = append(filter, bpfStmt(BPF_RET|BPF_K, SECCOMP_RET_ALLOW))
	filter = append(filter, bpfStmt(BPF_LD|BPF_W|BPF_ABS, offsetNR))

	// socket: allowed only for AF_UNIX (arg0), when the network pack
	// wasn't already unconditionally allowed above.
	if !isolation.Network {
		socketNR := uint32(syscallMap["socket"])
		filter = append(filter, bpfJump(BPF_JMP|BPF_JEQ|BPF_K, socketNR, 0, 4))
		filter = append(filter, bpfStmt(BPF_LD|BPF_W|BPF_ABS, offsetArgLo(0)))
		filter = append(filter, bpfJump(BPF_JMP|BPF_JEQ|BPF_K, afUnix, 0, 1))
		filter = append(filter, bpfStmt(BPF_RET|BPF_K, SECCOMP_RET_ALLOW))
		filter = append(filter, bpfStmt(BPF_LD|BPF_W|BPF_ABS, offsetNR))
	}

	filter = append(filter, bpfStmt(BPF_RET|BPF_K, SECCOMP_RET_KILL_PROCESS))

	return filter, nil
}

// bpfStmt creates a BPF statement.
func bpfStmt(code uint16, k uint32) sockFilter {
	return sockFilter{Code: code, Jt: 0, Jf: 0, K: k}
}

// bpfJump creates a BPF jump instruction.
func bpfJump(code uint16, k uint32, jt, jf uint8) sockFilter {
	return sockFilter{Code: code, Jt: jt, Jf: jf, K: k}
}

// SyscallNumber returns the syscall number for a name in the allowlist.
func SyscallNumber(name string) (int, bool) {
	nr, ok := syscallMap[name]
	return nr, ok
}
