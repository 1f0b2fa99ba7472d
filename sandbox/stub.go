package sandbox

import (
	"context"
	"os/exec"

	"capsule-run/schema"
)

// StubSandbox runs the command directly with no isolation at all: no
// namespaces, no cgroup, no rlimits. It exists for tests and is never
// selected by New.
type StubSandbox struct {
	executionID string
}

// NewStub constructs a StubSandbox for executionID.
func NewStub(executionID string) *StubSandbox {
	return &StubSandbox{executionID: executionID}
}

// Prepare builds a plain *exec.Cmd for req.Command with no re-exec and
// no privileged setup.
func (s *StubSandbox) Prepare(ctx context.Context, req *schema.ExecutionRequest) (*exec.Cmd, error) {
	if len(req.Command) == 0 {
		return nil, errEmptyCommand
	}

	cmd := exec.CommandContext(ctx, req.Command[0], req.Command[1:]...)
	cmd.Env = envSlice(req.Environment)
	if req.Isolation.WorkingDirectory != "" {
		cmd.Dir = req.Isolation.WorkingDirectory
	}

	return cmd, nil
}

// Start simply starts cmd; the stub has no pipe descriptors to release.
func (s *StubSandbox) Start(cmd *exec.Cmd) error {
	return cmd.Start()
}

// InitError always reports none: the stub never re-execs, so there is
// no init process that could report a setup failure separately from
// the command's own exit code.
func (s *StubSandbox) InitError() (string, bool) {
	return "", false
}

// AddProcess is a no-op; there is nothing to join.
func (s *StubSandbox) AddProcess(pid int) error {
	return nil
}

// Usage always reports zero; the stub does no accounting.
func (s *StubSandbox) Usage() (schema.ResourceUsage, error) {
	return schema.ResourceUsage{}, nil
}

// OOMKilled always reports false; the stub cannot observe OOM.
func (s *StubSandbox) OOMKilled() (bool, error) {
	return false, nil
}

// Cleanup is a no-op.
func (s *StubSandbox) Cleanup() error {
	return nil
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
