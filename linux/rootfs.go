// Package linux provides rootfs and mount handling.
package linux

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"syscall"

	"capsule-run/schema"
)

// Mount propagation flags.
const (
	MS_PRIVATE     = syscall.MS_PRIVATE
	MS_SHARED      = syscall.MS_SHARED
	MS_SLAVE       = syscall.MS_SLAVE
	MS_UNBINDABLE  = syscall.MS_UNBINDABLE
	MS_REC         = syscall.MS_REC
	MS_BIND        = syscall.MS_BIND
	MS_MOVE        = syscall.MS_MOVE
	MS_RDONLY      = syscall.MS_RDONLY
	MS_NOSUID      = syscall.MS_NOSUID
	MS_NODEV       = syscall.MS_NODEV
	MS_NOEXEC      = syscall.MS_NOEXEC
	MS_REMOUNT     = syscall.MS_REMOUNT
	MS_STRICTATIME = syscall.MS_STRICTATIME
	MS_RELATIME    = syscall.MS_RELATIME
	MS_NOATIME     = syscall.MS_NOATIME
)

// scratchDirs is the fixed directory layout every execution's rootfs
// starts with.
var scratchDirs = []string{
	"bin", "sbin", "usr", "lib", "lib64", "etc", "dev", "proc", "sys",
	"tmp", "var", "workspace",
}

// hostBindDirs are host directories bind-mounted read-only into the
// scratch rootfs so the sandboxed command can find an interpreter and
// shared libraries.
var hostBindDirs = []string{"/bin", "/sbin", "/usr", "/lib", "/lib64", "/etc"}

// defaultMaskedPaths are proc/sys paths hidden from every execution
// regardless of isolation config, since they leak host kernel state or
// allow host-wide disruption (e.g. /proc/sysrq-trigger).
var defaultMaskedPaths = []string{
	"/proc/acpi",
	"/proc/asound",
	"/proc/kcore",
	"/proc/keys",
	"/proc/latency_stats",
	"/proc/timer_list",
	"/proc/timer_stats",
	"/proc/sched_debug",
	"/proc/scsi",
	"/sys/firmware",
}

// defaultReadonlyPaths are proc paths that stay visible but read-only
// in every execution.
var defaultReadonlyPaths = []string{
	"/proc/bus",
	"/proc/fs",
	"/proc/irq",
	"/proc/sys",
	"/proc/sysrq-trigger",
}

// SetupRootfs builds the minimal scratch rootfs for an execution at
// rootfs, bind-mounts the host system directories read-only, mounts
// proc/sysfs/tmpfs, applies the isolation config's bind mounts, and
// pivots into it. After the pivot it masks and remounts the default
// proc paths, remounts the isolation config's readonly/writable paths,
// and changes into the working directory.
func SetupRootfs(rootfs string, isolation schema.IsolationConfig) error {
	rootfs, err := filepath.Abs(rootfs)
	if err != nil {
		return fmt.Errorf("abs path: %w", err)
	}

	if err := os.MkdirAll(rootfs, 0755); err != nil {
		return fmt.Errorf("mkdir rootfs: %w", err)
	}

	for _, dir := range scratchDirs {
		if err := os.MkdirAll(filepath.Join(rootfs, dir), 0755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	if err := makePrivate("/"); err != nil {
		fmt.Printf("[rootfs] warning: make private: %v\n", err)
	}

	if err := syscall.Mount(rootfs, rootfs, "", MS_BIND|MS_REC, ""); err != nil {
		return fmt.Errorf("bind mount rootfs: %w", err)
	}

	if err := bindHostDirs(rootfs); err != nil {
		return fmt.Errorf("bind host dirs: %w", err)
	}

	if err := mountPseudoFilesystems(rootfs); err != nil {
		return fmt.Errorf("mount pseudo filesystems: %w", err)
	}

	if err := SetupDevices(rootfs); err != nil {
		return fmt.Errorf("setup devices: %w", err)
	}

	workspace := filepath.Join(rootfs, "workspace")
	if err := os.MkdirAll(workspace, 0755); err != nil {
		return fmt.Errorf("mkdir workspace: %w", err)
	}

	if err := applyBindMounts(rootfs, isolation.BindMounts); err != nil {
		return fmt.Errorf("apply bind mounts: %w", err)
	}

	if err := pivotRoot(rootfs); err != nil {
		return fmt.Errorf("pivot_root: %w", err)
	}

	for _, path := range defaultMaskedPaths {
		if err := maskPath(path); err != nil {
			fmt.Printf("[rootfs] warning: mask %s: %v\n", path, err)
		}
	}

	for _, path := range defaultReadonlyPaths {
		if err := readonlyPath(path); err != nil {
			fmt.Printf("[rootfs] warning: readonly %s: %v\n", path, err)
		}
	}

	for _, path := range isolation.ReadonlyPaths {
		if err := readonlyPath(path); err != nil {
			fmt.Printf("[rootfs] warning: readonly %s: %v\n", path, err)
		}
	}

	for _, path := range isolation.WritablePaths {
		if err := writablePath(path); err != nil {
			fmt.Printf("[rootfs] warning: writable %s: %v\n", path, err)
		}
	}

	workdir := isolation.WorkingDirectory
	if workdir == "" {
		workdir = "/workspace"
	}
	if err := os.Chdir(workdir); err != nil {
		return fmt.Errorf("chdir %s: %w", workdir, err)
	}

	return nil
}

// bindHostDirs bind-mounts the host's system directories read-only into
// the scratch rootfs.
func bindHostDirs(rootfs string) error {
	for _, dir := range hostBindDirs {
		if _, err := os.Stat(dir); err != nil {
			continue
		}

		dest, err := SecureJoin(rootfs, dir)
		if err != nil {
			return fmt.Errorf("secure join %s: %w", dir, err)
		}

		if err := os.MkdirAll(dest, 0755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dest, err)
		}

		if err := syscall.Mount(dir, dest, "", MS_BIND|MS_REC, ""); err != nil {
			return fmt.Errorf("bind mount %s: %w", dir, err)
		}

		if err := syscall.Mount(dir, dest, "", MS_BIND|MS_REMOUNT|MS_RDONLY|MS_REC, ""); err != nil {
			return fmt.Errorf("remount readonly %s: %w", dir, err)
		}
	}
	return nil
}

// mountPseudoFilesystems mounts proc, sysfs, and the tmpfs filesystems
// spec §4.3 names at /tmp, /var, and /dev within the scratch rootfs.
func mountPseudoFilesystems(rootfs string) error {
	proc := filepath.Join(rootfs, "proc")
	if err := syscall.Mount("proc", proc, "proc", MS_NOSUID|MS_NOEXEC|MS_NODEV, procMountData()); err != nil {
		return fmt.Errorf("mount proc: %w", err)
	}

	sys := filepath.Join(rootfs, "sys")
	if err := syscall.Mount("sysfs", sys, "sysfs", MS_NOSUID|MS_NOEXEC|MS_NODEV|MS_RDONLY, ""); err != nil {
		fmt.Printf("[rootfs] warning: mount sysfs: %v\n", err)
	}

	tmp := filepath.Join(rootfs, "tmp")
	if err := syscall.Mount("tmpfs", tmp, "tmpfs", MS_NOSUID|MS_NODEV, "mode=1777,size=67108864"); err != nil {
		return fmt.Errorf("mount tmpfs on /tmp: %w", err)
	}

	varDir := filepath.Join(rootfs, "var")
	if err := syscall.Mount("tmpfs", varDir, "tmpfs", MS_NOSUID|MS_NODEV, "mode=755,size=33554432"); err != nil {
		return fmt.Errorf("mount tmpfs on /var: %w", err)
	}

	dev := filepath.Join(rootfs, "dev")
	if err := syscall.Mount("tmpfs", dev, "tmpfs", MS_NOSUID, "mode=755,size=5242880"); err != nil {
		return fmt.Errorf("mount tmpfs on /dev: %w", err)
	}

	return nil
}

// procMountData builds /proc's mount options: nosuid/nodev/noexec are
// passed as MS_* flags, so this only carries hidepid=2 plus the gid of
// the "proc" group, restricting /proc/<pid> visibility to that group's
// members the way spec §4.3 specifies. A host with no "proc" group
// falls back to hidepid=2 alone rather than failing the mount.
func procMountData() string {
	g, err := user.LookupGroup("proc")
	if err != nil {
		return "hidepid=2"
	}
	return "hidepid=2,gid=" + g.Gid
}

// applyBindMounts bind-mounts the request's additional bind mounts into
// the scratch rootfs.
func applyBindMounts(rootfs string, mounts []schema.BindMount) error {
	for _, m := range mounts {
		dest, err := SecureJoin(rootfs, m.Destination)
		if err != nil {
			return fmt.Errorf("secure join %s: %w", m.Destination, err)
		}

		srcInfo, err := os.Stat(m.Source)
		if err != nil {
			return fmt.Errorf("stat source %s: %w", m.Source, err)
		}

		if srcInfo.IsDir() {
			if err := os.MkdirAll(dest, 0755); err != nil {
				return fmt.Errorf("mkdir %s: %w", dest, err)
			}
		} else {
			if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
				return fmt.Errorf("mkdir parent %s: %w", dest, err)
			}
			f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				return fmt.Errorf("create %s: %w", dest, err)
			}
			f.Close()
		}

		if err := syscall.Mount(m.Source, dest, "", MS_BIND|MS_REC, ""); err != nil {
			return fmt.Errorf("bind mount %s: %w", dest, err)
		}

		if m.Readonly {
			if err := syscall.Mount(m.Source, dest, "", MS_BIND|MS_REMOUNT|MS_RDONLY|MS_REC, ""); err != nil {
				return fmt.Errorf("remount readonly %s: %w", dest, err)
			}
		}
	}
	return nil
}

// makePrivate makes the mount tree private.
func makePrivate(path string) error {
	return syscall.Mount("", path, "", MS_REC|MS_PRIVATE, "")
}

// pivotRoot performs pivot_root to change the root filesystem.
func pivotRoot(rootfs string) error {
	oldRoot := filepath.Join(rootfs, ".old_root")
	if err := os.MkdirAll(oldRoot, 0700); err != nil {
		return fmt.Errorf("mkdir old_root: %w", err)
	}

	if err := syscall.PivotRoot(rootfs, oldRoot); err != nil {
		return chrootFallback(rootfs)
	}

	if err := os.Chdir("/"); err != nil {
		return fmt.Errorf("chdir /: %w", err)
	}

	oldRoot = "/.old_root"
	if err := syscall.Unmount(oldRoot, syscall.MNT_DETACH); err != nil {
		return fmt.Errorf("unmount old root: %w", err)
	}

	os.RemoveAll(oldRoot)

	return nil
}

// chrootFallback uses chroot when pivot_root fails (e.g. the host
// doesn't support it for this mount namespace).
func chrootFallback(rootfs string) error {
	if err := syscall.Chroot(rootfs); err != nil {
		return fmt.Errorf("chroot: %w", err)
	}
	if err := os.Chdir("/"); err != nil {
		return fmt.Errorf("chdir /: %w", err)
	}
	return nil
}

// maskPath masks a path by bind-mounting /dev/null (files) or an empty
// tmpfs (directories) over it.
func maskPath(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return nil
	}

	if fi.IsDir() {
		return syscall.Mount("tmpfs", path, "tmpfs", MS_RDONLY, "size=0")
	}

	return syscall.Mount("/dev/null", path, "", MS_BIND, "")
}

// readonlyPath makes a path read-only by remounting it.
func readonlyPath(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	if err := syscall.Mount(path, path, "", MS_BIND|MS_REC, ""); err != nil {
		return err
	}

	return syscall.Mount(path, path, "", MS_BIND|MS_REMOUNT|MS_RDONLY|MS_REC, "")
}

// writablePath re-mounts a path read-write after the default/requested
// readonly passes above may have covered it, for paths the caller
// explicitly wants writable inside an otherwise locked-down rootfs.
func writablePath(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	if err := syscall.Mount(path, path, "", MS_BIND|MS_REC, ""); err != nil {
		return err
	}

	return syscall.Mount(path, path, "", MS_BIND|MS_REMOUNT|MS_REC, "")
}

// SecureJoin joins root and unsafePath, resolving the result to ensure
// the joined path cannot escape root via ".." components or an absolute
// unsafePath. The longest part of the joined path that already exists on
// the host is resolved through symlinks, and the join is rejected if
// that lands outside root; components that do not exist yet are only
// checked lexically. The returned path is the lexical join.
func SecureJoin(root, unsafePath string) (string, error) {
	cleaned := filepath.Clean(string(filepath.Separator) + unsafePath)
	joined := filepath.Join(root, cleaned)

	rootWithSep := filepath.Clean(root) + string(filepath.Separator)
	if joined != filepath.Clean(root) && !strings.HasPrefix(joined, rootWithSep) {
		return "", fmt.Errorf("path %q escapes root %q", unsafePath, root)
	}

	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return joined, nil
	}
	for p := joined; ; p = filepath.Dir(p) {
		if resolved, err := filepath.EvalSymlinks(p); err == nil {
			if resolved != realRoot && !strings.HasPrefix(resolved, realRoot+string(filepath.Separator)) {
				return "", fmt.Errorf("path %q escapes root %q through a symlink", unsafePath, root)
			}
			return joined, nil
		}
		if p == filepath.Clean(root) {
			return joined, nil
		}
	}
}
