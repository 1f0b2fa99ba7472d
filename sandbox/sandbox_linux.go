//go:build linux

package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"capsule-run/linux"
	"capsule-run/sandboxinit"
	"capsule-run/schema"
)

// scratchRoot is where every execution's throwaway rootfs is built.
const scratchRoot = "/tmp/capsule-run"

// LinuxSandbox isolates an execution with user/pid/mount/ipc/uts(/net)
// namespaces, a cgroup v2 leaf, seccomp, and capability dropping,
// driven through the "__init" re-exec subcommand.
type LinuxSandbox struct {
	executionID string
	cgroup      *linux.Cgroup
	rootfs      string
	errRead     *os.File
	errWrite    *os.File
}

// New creates the cgroup leaf for executionID and applies req's
// resource limits to it. The caller must call Cleanup once the
// execution is finished.
func New(executionID string, req *schema.ExecutionRequest) (Sandbox, error) {
	cgroupPath := linux.LeafPath(executionID)

	if err := linux.EnsureParentControllers(cgroupPath); err != nil {
		return nil, fmt.Errorf("ensure parent controllers: %w", err)
	}

	cgroup, err := linux.NewCgroup(cgroupPath)
	if err != nil {
		return nil, fmt.Errorf("create cgroup: %w", err)
	}

	if err := cgroup.ApplyResources(req.Resources); err != nil {
		cgroup.Destroy()
		return nil, fmt.Errorf("apply resources: %w", err)
	}

	return &LinuxSandbox{
		executionID: executionID,
		cgroup:      cgroup,
		rootfs:      filepath.Join(scratchRoot, executionID, "rootfs"),
	}, nil
}

// Prepare builds the *exec.Cmd that re-execs this binary into its
// hidden "__init" subcommand inside fresh namespaces, carrying req
// across the re-exec boundary as a JSON payload on fd 3.
func (s *LinuxSandbox) Prepare(ctx context.Context, req *schema.ExecutionRequest) (*exec.Cmd, error) {
	self, err := selfExecutable()
	if err != nil {
		return nil, err
	}

	payload := sandboxinit.Payload{
		ExecutionID: s.executionID,
		Command:     req.Command,
		Environment: req.Environment,
		Resources:   req.Resources,
		Isolation:   req.Isolation,
		Rootfs:      s.rootfs,
	}

	r, w, err := writePayload(payload)
	if err != nil {
		return nil, err
	}

	errR, errW, err := newErrPipe()
	if err != nil {
		r.Close()
		w.Close()
		return nil, err
	}
	s.errRead, s.errWrite = errR, errW

	cmd := exec.CommandContext(ctx, self, "__init")
	cmd.ExtraFiles = []*os.File{r, errW}
	cmd.SysProcAttr = linux.BuildSysProcAttr(req.Isolation, os.Getuid(), os.Getgid())

	cmd.Cancel = func() error {
		w.Close()
		return cmd.Process.Kill()
	}

	return cmd, nil
}

// Start starts cmd and closes this process's own copy of the init-error
// pipe's write end, which the child also holds a duplicate of; without
// this, InitError would block forever waiting for EOF on a pipe this
// process itself still has open for writing.
func (s *LinuxSandbox) Start(cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return err
	}
	if s.errWrite != nil {
		s.errWrite.Close()
	}
	return nil
}

// InitError reads whatever message the "__init" process wrote to its
// error side-channel before exiting. Callers must only invoke this
// after the command Start returned has exited.
func (s *LinuxSandbox) InitError() (string, bool) {
	if s.errRead == nil {
		return "", false
	}
	return readInitError(s.errRead)
}

// AddProcess joins pid, which must already be running, to this
// execution's cgroup. The teacher's pattern of joining after Start
// (rather than inheriting a pre-set cgroup at clone time) is kept here.
func (s *LinuxSandbox) AddProcess(pid int) error {
	return s.cgroup.AddProcess(pid)
}

// Usage reports the cgroup's current memory, CPU, and I/O accounting.
func (s *LinuxSandbox) Usage() (schema.ResourceUsage, error) {
	mem, err := s.cgroup.MemoryCurrent()
	if err != nil {
		return schema.ResourceUsage{}, err
	}

	cpu, user, sys, err := s.cgroup.CPUUsageUS()
	if err != nil {
		return schema.ResourceUsage{}, err
	}

	read, written, err := s.cgroup.IOBytes()
	if err != nil {
		return schema.ResourceUsage{}, err
	}

	return schema.ResourceUsage{
		MemoryBytes:    mem,
		CPUTimeUS:      cpu,
		UserTimeUS:     user,
		KernelTimeUS:   sys,
		IOBytesRead:    read,
		IOBytesWritten: written,
	}, nil
}

// OOMKilled reports the cgroup's memory.events oom_kill counter.
func (s *LinuxSandbox) OOMKilled() (bool, error) {
	return s.cgroup.OOMKilled()
}

// Cleanup destroys the cgroup leaf and removes the scratch rootfs.
func (s *LinuxSandbox) Cleanup() error {
	if err := s.cgroup.Destroy(); err != nil {
		return fmt.Errorf("destroy cgroup: %w", err)
	}
	if s.rootfs != "" {
		os.RemoveAll(filepath.Dir(s.rootfs))
	}
	return nil
}
