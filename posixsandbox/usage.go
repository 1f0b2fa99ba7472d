package posixsandbox

import (
	"sync/atomic"

	"golang.org/x/sys/unix"

	"capsule-run/schema"
)

// Usage samples resource consumption of the sandboxed child tree via
// getrusage(RUSAGE_CHILDREN). Unlike the cgroup-backed Linux path this
// only covers children that have already exited and been waited for; a
// child that is still running is not counted. The memory figure is the
// largest peak (Maxrss) among those children, not a live working set.
func Usage() (schema.ResourceUsage, error) {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_CHILDREN, &ru); err != nil {
		return schema.ResourceUsage{}, err
	}

	userUS := uint64(ru.Utime.Sec)*1_000_000 + uint64(ru.Utime.Usec)
	sysUS := uint64(ru.Stime.Sec)*1_000_000 + uint64(ru.Stime.Usec)

	return schema.ResourceUsage{
		MemoryBytes:  maxrssToBytes(ru.Maxrss),
		CPUTimeUS:    userUS + sysUS,
		UserTimeUS:   userUS,
		KernelTimeUS: sysUS,
	}, nil
}

// oomThreshold tracks the configured memory limit for the synthesized
// OOM check. There is no kernel OOM killer event to observe on this
// platform, so a sandbox is considered OOM-killed once its peak
// recorded usage exceeds the limit it was given.
type oomThreshold struct {
	limitBytes uint64
	triggered  atomic.Bool
}

func newOOMThreshold(limitBytes uint64) *oomThreshold {
	return &oomThreshold{limitBytes: limitBytes}
}

// Check samples current usage and latches triggered if memory exceeds
// the configured limit. It returns the latched state, which never
// resets once true.
func (o *oomThreshold) Check() (bool, error) {
	if o.triggered.Load() {
		return true, nil
	}
	if o.limitBytes == 0 {
		return false, nil
	}

	usage, err := Usage()
	if err != nil {
		return false, err
	}

	if usage.MemoryBytes > o.limitBytes {
		o.triggered.Store(true)
		return true, nil
	}
	return false, nil
}
