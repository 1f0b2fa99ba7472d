// Package linux provides cgroup v2 resource management.
package linux

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"syscall"

	"capsule-run/schema"
)

// validCgroupKey matches valid cgroup v2 controller file names.
// Valid keys are like: cpu.max, memory.max, pids.max, io.bfq.weight
var validCgroupKey = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9]*(\.[a-zA-Z][a-zA-Z0-9]*)*$`)

const cgroupRoot = "/sys/fs/cgroup"

// cgroup2SuperMagic is statfs(2)'s f_type value for a cgroup v2 mount
// (linux/magic.h's CGROUP2_SUPER_MAGIC).
const cgroup2SuperMagic = 0x63677270

// ensureCgroupV2Mounted statfs's cgroupRoot and fails fast when it isn't
// a cgroup v2 mount, so a missing mount surfaces as a clear setup
// failure here rather than as an unclassified write error the first
// time ApplyResources touches a controller file.
func ensureCgroupV2Mounted() error {
	var st syscall.Statfs_t
	if err := syscall.Statfs(cgroupRoot, &st); err != nil {
		return fmt.Errorf("statfs %s: %w", cgroupRoot, err)
	}
	if uint32(st.Type) != cgroup2SuperMagic {
		return fmt.Errorf("%s is not a cgroup v2 mount", cgroupRoot)
	}
	return nil
}

// Cgroup represents a single-execution cgroup v2 leaf.
type Cgroup struct {
	path string
}

// LeafPath returns the cgroup path for a single execution, relative to
// the cgroup v2 mount.
func LeafPath(executionID string) string {
	return filepath.Join("capsule-run", executionID)
}

// NewCgroup creates or opens a cgroup leaf at the given path, relative to
// /sys/fs/cgroup (e.g. "capsule-run/<execution-id>").
func NewCgroup(cgroupPath string) (*Cgroup, error) {
	if err := ensureCgroupV2Mounted(); err != nil {
		return nil, err
	}

	fullPath := filepath.Join(cgroupRoot, strings.TrimPrefix(cgroupPath, "/"))

	if err := os.MkdirAll(fullPath, 0755); err != nil {
		return nil, fmt.Errorf("create cgroup directory: %w", err)
	}

	return &Cgroup{path: fullPath}, nil
}

// Path returns the filesystem path of the cgroup.
func (c *Cgroup) Path() string {
	return c.path
}

// AddProcess adds a process to this cgroup.
func (c *Cgroup) AddProcess(pid int) error {
	procsPath := filepath.Join(c.path, "cgroup.procs")
	return os.WriteFile(procsPath, []byte(strconv.Itoa(pid)), 0644)
}

// ApplyResources applies resource limits to the cgroup leaf.
func (c *Cgroup) ApplyResources(resources schema.ResourceLimits) error {
	if err := c.applyMemory(resources.MemoryBytes); err != nil {
		return err
	}
	if err := c.applyCPU(resources.CPUShares); err != nil {
		return err
	}
	if err := c.applyPids(resources.MaxPids); err != nil {
		return err
	}
	// io.weight has no meaningful default derived from the request; the
	// engine always applies the same baseline weight for all executions.
	if err := c.writeKey("io.weight", "100"); err != nil {
		return fmt.Errorf("set io.weight: %w", err)
	}
	return nil
}

func (c *Cgroup) writeKey(key, value string) error {
	if err := validateCgroupKey(key); err != nil {
		return fmt.Errorf("invalid cgroup key %q: %w", key, err)
	}
	return os.WriteFile(filepath.Join(c.path, key), []byte(value), 0644)
}

// applyMemory sets memory.max, memory.low (half the hard limit), and
// disables swap.
func (c *Cgroup) applyMemory(memoryBytes uint64) error {
	if memoryBytes == 0 {
		return nil
	}

	if err := c.writeKey("memory.max", strconv.FormatUint(memoryBytes, 10)); err != nil {
		return fmt.Errorf("set memory.max: %w", err)
	}

	low := memoryBytes / 2
	if err := c.writeKey("memory.low", strconv.FormatUint(low, 10)); err != nil {
		return fmt.Errorf("set memory.low: %w", err)
	}

	if err := c.writeKey("memory.swap.max", "0"); err != nil {
		// Swap controller might not be enabled on this host; non-fatal.
		fmt.Printf("[cgroup] warning: set memory.swap.max: %v\n", err)
	}

	return nil
}

// applyCPU converts the legacy-shares-style weight into cgroup v2's
// cpu.weight range (1-10000) and clamps it, per the formula:
// weight = 1 + (shares-2) * 9999 / 262142, clamped to [1, 10000].
func (c *Cgroup) applyCPU(cpuShares uint32) error {
	if cpuShares == 0 {
		return nil
	}

	var weight uint64 = 1
	if cpuShares > 2 {
		weight = 1 + uint64(cpuShares-2)*9999/262142
	}
	if weight > 10000 {
		weight = 10000
	}
	if weight < 1 {
		weight = 1
	}

	if err := c.writeKey("cpu.weight", strconv.FormatUint(weight, 10)); err != nil {
		return fmt.Errorf("set cpu.weight: %w", err)
	}
	return nil
}

// applyPids sets pids.max.
func (c *Cgroup) applyPids(maxPids uint32) error {
	if maxPids == 0 {
		return nil
	}
	if err := c.writeKey("pids.max", strconv.FormatUint(uint64(maxPids), 10)); err != nil {
		return fmt.Errorf("set pids.max: %w", err)
	}
	return nil
}

// Destroy removes the cgroup leaf. A missing directory counts as success.
func (c *Cgroup) Destroy() error {
	if err := os.Remove(c.path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return nil
}

// MemoryCurrent returns current memory usage in bytes.
func (c *Cgroup) MemoryCurrent() (uint64, error) {
	return c.readUint("memory.current")
}

// PidsCurrent returns the current number of processes in the cgroup.
func (c *Cgroup) PidsCurrent() (uint64, error) {
	return c.readUint("pids.current")
}

func (c *Cgroup) readUint(key string) (uint64, error) {
	data, err := os.ReadFile(filepath.Join(c.path, key))
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
}

// CPUUsageUS returns accumulated CPU time from cpu.stat, in microseconds:
// total usage, user time, and kernel (system) time.
func (c *Cgroup) CPUUsageUS() (usage, user, system uint64, err error) {
	f, err := os.Open(filepath.Join(c.path, "cpu.stat"))
	if err != nil {
		return 0, 0, 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			continue
		}
		val, parseErr := strconv.ParseUint(fields[1], 10, 64)
		if parseErr != nil {
			continue
		}
		switch fields[0] {
		case "usage_usec":
			usage = val
		case "user_usec":
			user = val
		case "system_usec":
			system = val
		}
	}
	return usage, user, system, scanner.Err()
}

// IOBytes returns aggregate read/write bytes across all devices reported
// in io.stat.
func (c *Cgroup) IOBytes() (read, written uint64, err error) {
	f, err := os.Open(filepath.Join(c.path, "io.stat"))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		for _, field := range fields[1:] {
			key, val, ok := strings.Cut(field, "=")
			if !ok {
				continue
			}
			n, parseErr := strconv.ParseUint(val, 10, 64)
			if parseErr != nil {
				continue
			}
			switch key {
			case "rbytes":
				read += n
			case "wbytes":
				written += n
			}
		}
	}
	return read, written, scanner.Err()
}

// OOMKilled reports whether memory.events recorded at least one oom_kill.
func (c *Cgroup) OOMKilled() (bool, error) {
	f, err := os.Open(filepath.Join(c.path, "memory.events"))
	if err != nil {
		return false, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 || fields[0] != "oom_kill" {
			continue
		}
		n, parseErr := strconv.ParseUint(fields[1], 10, 64)
		if parseErr != nil {
			continue
		}
		return n > 0, nil
	}
	return false, scanner.Err()
}

// EnsureParentControllers enables the controllers this package uses on
// every parent cgroup leading up to cgroupPath.
func EnsureParentControllers(cgroupPath string) error {
	parts := strings.Split(strings.Trim(cgroupPath, "/"), "/")
	current := cgroupRoot

	const controllers = "+cpu +memory +pids +io"

	for _, part := range parts {
		controlFile := filepath.Join(current, "cgroup.subtree_control")
		if err := os.WriteFile(controlFile, []byte(controllers), 0644); err != nil {
			// Best effort - some controllers might not be available.
		}
		current = filepath.Join(current, part)
	}

	return nil
}

// validateCgroupKey validates a cgroup controller file key.
// This prevents path traversal attacks via crafted keys.
func validateCgroupKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty key not allowed")
	}
	if strings.ContainsAny(key, "/\\") {
		return fmt.Errorf("key contains path separator")
	}
	if key == "." || key == ".." {
		return fmt.Errorf("key is relative path component")
	}
	if strings.HasPrefix(key, ".") {
		return fmt.Errorf("key starts with dot")
	}
	if !validCgroupKey.MatchString(key) {
		return fmt.Errorf("key does not match valid cgroup key pattern")
	}
	return nil
}
