package posixsandbox

import (
	"fmt"

	"golang.org/x/sys/unix"

	"capsule-run/schema"
)

// maxOpenFiles and maxProcesses bound file descriptor and process counts
// for the sandboxed process tree on hosts with no pids/io cgroup
// controller to fall back on.
const (
	maxOpenFiles = 256
	maxProcesses = 64
)

// ApplyRlimits sets RLIMIT_AS, RLIMIT_NOFILE, and RLIMIT_NPROC on the
// calling process. It is meant to be called by the re-exec'd init
// process on itself, immediately before it execs the real target, so
// the limits are inherited by the target rather than constraining the
// supervisor.
func ApplyRlimits(limits schema.ResourceLimits) error {
	if limits.MemoryBytes > 0 {
		rlimit := unix.Rlimit{Cur: limits.MemoryBytes, Max: limits.MemoryBytes}
		if err := unix.Setrlimit(unix.RLIMIT_AS, &rlimit); err != nil {
			return fmt.Errorf("setrlimit RLIMIT_AS: %w", err)
		}
	}

	nofile := unix.Rlimit{Cur: maxOpenFiles, Max: maxOpenFiles}
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &nofile); err != nil {
		return fmt.Errorf("setrlimit RLIMIT_NOFILE: %w", err)
	}

	nproc := uint64(maxProcesses)
	if limits.MaxPids > 0 && uint64(limits.MaxPids) < nproc {
		nproc = uint64(limits.MaxPids)
	}
	procLimit := unix.Rlimit{Cur: nproc, Max: nproc}
	if err := unix.Setrlimit(unix.RLIMIT_NPROC, &procLimit); err != nil {
		return fmt.Errorf("setrlimit RLIMIT_NPROC: %w", err)
	}

	return nil
}
