// Package linux provides Linux-specific sandbox primitives.
package linux

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"capsule-run/schema"
)

// Linux namespace clone flags.
const (
	CLONE_NEWNS   = syscall.CLONE_NEWNS   // Mount namespace
	CLONE_NEWUTS  = syscall.CLONE_NEWUTS  // UTS namespace (hostname)
	CLONE_NEWIPC  = syscall.CLONE_NEWIPC  // IPC namespace
	CLONE_NEWPID  = syscall.CLONE_NEWPID  // PID namespace
	CLONE_NEWNET  = syscall.CLONE_NEWNET  // Network namespace
	CLONE_NEWUSER = syscall.CLONE_NEWUSER // User namespace
)

// IDMapping is a single uid/gid mapping entry, equivalent to one line of
// /proc/pid/{uid,gid}_map.
type IDMapping struct {
	ContainerID uint32
	HostID      uint32
	Size        uint32
}

// BuildSysProcAttr builds the SysProcAttr for an execution, always
// isolating user, PID, mount, IPC, and UTS namespaces, and additionally
// the network namespace unless the request explicitly opts into host
// networking.
func BuildSysProcAttr(isolation schema.IsolationConfig, hostUID, hostGID int) *syscall.SysProcAttr {
	flags := uintptr(CLONE_NEWUSER | CLONE_NEWPID | CLONE_NEWNS | CLONE_NEWIPC | CLONE_NEWUTS)
	if !isolation.Network {
		flags |= CLONE_NEWNET
	}

	attr := &syscall.SysProcAttr{
		Cloneflags: flags,
		Setsid:     true,
		UidMappings: []syscall.SysProcIDMap{
			{ContainerID: 0, HostID: hostUID, Size: 1},
		},
		GidMappings: []syscall.SysProcIDMap{
			{ContainerID: 0, HostID: hostGID, Size: 1},
		},
		GidMappingsEnableSetgroups: false,
	}

	return attr
}

// WriteIDMappings writes UID/GID mappings to /proc/pid/{uid,gid}_map.
// Used when the mapping is applied by a parent process after fork rather
// than through SysProcAttr.
func WriteIDMappings(pid int, uidMappings, gidMappings []IDMapping) error {
	if len(uidMappings) > 0 {
		path := filepath.Join("/proc", fmt.Sprint(pid), "uid_map")
		content := formatIDMap(uidMappings)
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return fmt.Errorf("write uid_map: %w", err)
		}
	}

	// Must disable setgroups before writing gid_map (unless we have CAP_SETGID).
	if len(gidMappings) > 0 {
		setgroupsPath := filepath.Join("/proc", fmt.Sprint(pid), "setgroups")
		if err := os.WriteFile(setgroupsPath, []byte("deny"), 0644); err != nil {
			// Best effort - might not exist on older kernels.
		}

		path := filepath.Join("/proc", fmt.Sprint(pid), "gid_map")
		content := formatIDMap(gidMappings)
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return fmt.Errorf("write gid_map: %w", err)
		}
	}

	return nil
}

// formatIDMap formats ID mappings for /proc/pid/{uid,gid}_map.
func formatIDMap(mappings []IDMapping) string {
	var result string
	for _, m := range mappings {
		result += fmt.Sprintf("%d %d %d\n", m.ContainerID, m.HostID, m.Size)
	}
	return result
}

// SetHostname sets the hostname in the UTS namespace.
func SetHostname(hostname string) error {
	if hostname == "" {
		return nil
	}
	return syscall.Sethostname([]byte(hostname))
}

// SetDomainname sets the domain name in the UTS namespace.
func SetDomainname(domainname string) error {
	if domainname == "" {
		return nil
	}
	return syscall.Setdomainname([]byte(domainname))
}
