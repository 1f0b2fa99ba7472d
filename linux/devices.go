// Package linux provides device node management.
package linux

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// device describes a single character device node to create in the
// sandbox's /dev.
type device struct {
	name  string
	major int64
	minor int64
}

// defaultDevices is the fixed, minimal device whitelist every execution
// gets. Nothing outside this list is ever created or bind-mounted.
var defaultDevices = []device{
	{name: "null", major: 1, minor: 3},
	{name: "zero", major: 1, minor: 5},
	{name: "full", major: 1, minor: 7},
	{name: "random", major: 1, minor: 8},
	{name: "urandom", major: 1, minor: 9},
}

// SetupDevices creates the default device whitelist and standard stdio
// symlinks under rootfs/dev, which must already be mounted as a tmpfs.
func SetupDevices(rootfs string) error {
	devPath, err := SecureJoin(rootfs, "/dev")
	if err != nil {
		return fmt.Errorf("secure join /dev: %w", err)
	}

	for _, d := range defaultDevices {
		path := filepath.Join(devPath, d.name)
		if err := createCharDevice(path, d.major, d.minor); err != nil {
			return fmt.Errorf("create device %s: %w", d.name, err)
		}
	}

	return setupStdioSymlinks(devPath)
}

// createCharDevice creates a single character device node, mode 0666.
func createCharDevice(path string, major, minor int64) error {
	devNum := int((major << 8) | minor)
	mode := uint32(syscall.S_IFCHR) | 0666

	os.Remove(path)

	if err := syscall.Mknod(path, mode, devNum); err != nil {
		return fmt.Errorf("mknod: %w", err)
	}

	if err := os.Chown(path, 0, 0); err != nil {
		return fmt.Errorf("chown: %w", err)
	}

	return nil
}

// setupStdioSymlinks creates the standard /dev/{fd,stdin,stdout,stderr}
// symlinks pointing into /proc/self/fd.
func setupStdioSymlinks(devPath string) error {
	symlinks := map[string]string{
		"fd":     "/proc/self/fd",
		"stdin":  "/proc/self/fd/0",
		"stdout": "/proc/self/fd/1",
		"stderr": "/proc/self/fd/2",
	}

	for name, target := range symlinks {
		link := filepath.Join(devPath, name)
		os.Remove(link)
		if err := os.Symlink(target, link); err != nil {
			return fmt.Errorf("symlink %s: %w", name, err)
		}
	}

	return nil
}
