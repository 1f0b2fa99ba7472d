// Package sandbox is the platform-dispatched isolation façade the
// engine drives: one implementation wraps Linux namespaces/cgroups/
// seccomp, another wraps the POSIX rlimit/getrusage fallback, and a
// third is a no-isolation stub used by tests.
// Exactly one of sandbox_linux.go / sandbox_other.go is compiled for a
// given target, keeping the platform switch in this package alone.
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"capsule-run/sandboxinit"
	"capsule-run/schema"
)

// errEmptyCommand is returned by StubSandbox.Prepare when the request's
// command slice is empty.
var errEmptyCommand = errors.New("sandbox: empty command")

// Sandbox is the per-execution isolation handle the engine drives. It
// builds the re-exec'd init command, lets the engine Start/Wait it like
// any other *exec.Cmd, and reports resource usage for the background
// monitor.
type Sandbox interface {
	// Prepare returns a ready-to-Start *exec.Cmd that re-execs the
	// current binary into its hidden init subcommand, carrying req's
	// command and isolation settings across the re-exec boundary.
	Prepare(ctx context.Context, req *schema.ExecutionRequest) (*exec.Cmd, error)

	// Start starts cmd and releases this sandbox's own copy of any pipe
	// file descriptors handed to the child via cmd.ExtraFiles, so that
	// InitError observes EOF promptly once the child exits rather than
	// blocking on a descriptor this process also still holds open.
	Start(cmd *exec.Cmd) error

	// AddProcess joins a just-started process to this sandbox's
	// resource controller (the Linux cgroup). It is a no-op where
	// there is no such controller to join.
	AddProcess(pid int) error

	// Usage and OOMKilled satisfy monitor.Provider.
	Usage() (schema.ResourceUsage, error)
	OOMKilled() (bool, error)

	// Cleanup releases anything Prepare allocated (cgroup directory,
	// scratch rootfs, advisory profile file).
	Cleanup() error

	// InitError reports whether the re-exec'd init process wrote a
	// message to its error side-channel before it could exec the real
	// command. A nonzero exit from the init process is otherwise
	// indistinguishable from the *target* command itself exiting with
	// that code (see sandboxinit.ReportError); the engine checks this
	// after Wait returns to tell the two apart. Must only be called
	// after the process this sandbox prepared has exited.
	InitError() (string, bool)
}

// newErrPipe creates the side-channel pipe used to report init setup
// failures. The write end is handed to the re-exec'd process as fd 4
// (via cmd.ExtraFiles); the read end is kept by the caller and consumed
// by InitError once the process has exited.
func newErrPipe() (r, w *os.File, err error) {
	r, w, err = os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("create init-error pipe: %w", err)
	}
	return r, w, nil
}

// readInitError drains r for an error message written by the init
// process. It must only be called once the writer (the re-exec'd
// process, and this process's own closed copy of its write end) has
// gone away, or it would block forever on an empty pipe.
func readInitError(r *os.File) (string, bool) {
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil || len(data) == 0 {
		return "", false
	}
	return string(data), true
}

// writePayload marshals p to JSON and returns a pipe whose read end
// becomes fd 3 (via cmd.ExtraFiles) in the re-exec'd process. A
// background goroutine writes the payload into the write end and then
// closes it; the write end is also returned so the caller can close it
// early.
func writePayload(p sandboxinit.Payload) (r *os.File, w *os.File, err error) {
	r, w, err = os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("create payload pipe: %w", err)
	}

	data, err := json.Marshal(p)
	if err != nil {
		r.Close()
		w.Close()
		return nil, nil, fmt.Errorf("marshal payload: %w", err)
	}

	go func() {
		defer w.Close()
		w.Write(data)
	}()

	return r, w, nil
}

// selfExecutable returns the path to the running binary, used to build
// the self-reexec command.
func selfExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve self executable: %w", err)
	}
	return exe, nil
}
