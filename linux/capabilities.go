// Package linux provides Linux capability management.
package linux

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"unsafe"
)

var (
	// lastCapOnce ensures the last capability is only detected once.
	lastCapOnce sync.Once
	// lastCapValue holds the detected last capability value.
	lastCapValue = 40 // default fallback
)

// getLastCap returns the highest capability number supported by the
// running kernel.
func getLastCap() int {
	lastCapOnce.Do(func() {
		if data, err := os.ReadFile("/proc/sys/kernel/cap_last_cap"); err == nil {
			if val, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && val >= 0 {
				lastCapValue = val
				return
			}
		}

		for cap := 40; cap <= 63; cap++ {
			ret, _, _ := syscall.Syscall(syscall.SYS_PRCTL, PR_CAPBSET_READ, uintptr(cap), 0)
			if ret == ^uintptr(0) {
				lastCapValue = cap - 1
				return
			}
		}
		lastCapValue = 63
	})
	return lastCapValue
}

// prctl constants.
const (
	PR_CAPBSET_READ      = 23
	PR_CAPBSET_DROP      = 24
	PR_CAP_AMBIENT       = 47
	PR_CAP_AMBIENT_CLEAR = 4
)

// Capability header and data structures.
const LINUX_CAPABILITY_VERSION_3 = 0x20080522

type capHeader struct {
	Version uint32
	Pid     int32
}

type capData struct {
	Effective   uint32
	Permitted   uint32
	Inheritable uint32
}

// DropAllCapabilities clears the effective, permitted, and inheritable
// capability sets, clears ambient capabilities, and drops every
// capability from the bounding set. It must run before the seccomp
// filter is loaded.
func DropAllCapabilities() error {
	if _, _, errno := syscall.Syscall(syscall.SYS_PRCTL, PR_CAP_AMBIENT, PR_CAP_AMBIENT_CLEAR, 0); errno != 0 && errno != syscall.EINVAL {
		return fmt.Errorf("clear ambient: %v", errno)
	}

	lastCap := getLastCap()
	for cap := 0; cap <= lastCap; cap++ {
		_, _, errno := syscall.Syscall(syscall.SYS_PRCTL, PR_CAPBSET_DROP, uintptr(cap), 0)
		if errno != 0 && errno != syscall.EINVAL {
			return fmt.Errorf("drop bounding cap %d: %v", cap, errno)
		}
	}

	header := capHeader{Version: LINUX_CAPABILITY_VERSION_3, Pid: 0}
	data := [2]capData{}

	_, _, errno := syscall.Syscall(syscall.SYS_CAPSET,
		uintptr(unsafe.Pointer(&header)),
		uintptr(unsafe.Pointer(&data[0])),
		0)
	if errno != 0 {
		return fmt.Errorf("capset: %v", errno)
	}

	return nil
}

// GetCapabilities returns the current effective, permitted, and
// inheritable capability sets.
func GetCapabilities() (effective, permitted, inheritable uint64, err error) {
	header := capHeader{Version: LINUX_CAPABILITY_VERSION_3, Pid: 0}
	data := [2]capData{}

	_, _, errno := syscall.Syscall(syscall.SYS_CAPGET,
		uintptr(unsafe.Pointer(&header)),
		uintptr(unsafe.Pointer(&data[0])),
		0)
	if errno != 0 {
		return 0, 0, 0, fmt.Errorf("capget: %v", errno)
	}

	effective = uint64(data[0].Effective) | (uint64(data[1].Effective) << 32)
	permitted = uint64(data[0].Permitted) | (uint64(data[1].Permitted) << 32)
	inheritable = uint64(data[0].Inheritable) | (uint64(data[1].Inheritable) << 32)

	return effective, permitted, inheritable, nil
}
