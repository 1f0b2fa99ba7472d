//go:build !linux

package sandbox

import (
	"context"
	"os"
	"os/exec"

	"capsule-run/posixsandbox"
	"capsule-run/sandboxinit"
	"capsule-run/schema"
)

// PosixHostSandbox is the non-Linux fallback: no namespaces, no
// cgroups, just rlimits and getrusage accounting, driven through the
// "__posix_init" re-exec subcommand.
type PosixHostSandbox struct {
	executionID string
	inner       *posixsandbox.Sandbox
	errRead     *os.File
	errWrite    *os.File
}

// New generates the advisory sandbox profile for req and returns a
// handle ready to prepare a command.
func New(executionID string, req *schema.ExecutionRequest) (Sandbox, error) {
	inner, err := posixsandbox.New(executionID, req)
	if err != nil {
		return nil, err
	}
	return &PosixHostSandbox{executionID: executionID, inner: inner}, nil
}

// Prepare builds the *exec.Cmd that re-execs this binary into its
// hidden "__posix_init" subcommand, carrying req across the re-exec
// boundary as a JSON payload on fd 3.
func (s *PosixHostSandbox) Prepare(ctx context.Context, req *schema.ExecutionRequest) (*exec.Cmd, error) {
	self, err := selfExecutable()
	if err != nil {
		return nil, err
	}

	payload := sandboxinit.Payload{
		ExecutionID: s.executionID,
		Command:     req.Command,
		Environment: req.Environment,
		Resources:   s.inner.Limits(),
		Isolation:   req.Isolation,
		ProfilePath: s.inner.ProfilePath(),
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

	cmd := exec.CommandContext(ctx, self, "__posix_init")
	cmd.ExtraFiles = []*os.File{r, errW}

	cmd.Cancel = func() error {
		w.Close()
		return cmd.Process.Kill()
	}

	return cmd, nil
}

// Start starts cmd and closes this process's own copy of the
// init-error pipe's write end; see LinuxSandbox.Start for why.
func (s *PosixHostSandbox) Start(cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return err
	}
	if s.errWrite != nil {
		s.errWrite.Close()
	}
	return nil
}

// InitError reads whatever message the "__posix_init" process wrote to
// its error side-channel before exiting.
func (s *PosixHostSandbox) InitError() (string, bool) {
	if s.errRead == nil {
		return "", false
	}
	return readInitError(s.errRead)
}

// AddProcess is a no-op: there is no cgroup-style controller to join
// on this platform.
func (s *PosixHostSandbox) AddProcess(pid int) error {
	return nil
}

// Usage reports getrusage(RUSAGE_CHILDREN) accounting.
func (s *PosixHostSandbox) Usage() (schema.ResourceUsage, error) {
	return s.inner.Usage()
}

// OOMKilled reports the synthesized memory-limit check.
func (s *PosixHostSandbox) OOMKilled() (bool, error) {
	return s.inner.OOMKilled()
}

// Cleanup removes the advisory profile file.
func (s *PosixHostSandbox) Cleanup() error {
	return s.inner.Cleanup()
}
