// Package sandboxinit runs on the far side of capsule-run's self-reexec:
// it is what the hidden "__init" (Linux) and "__posix_init" (POSIX
// fallback) subcommands call into once they are already running inside
// the new namespaces (Linux) or as the rlimited child-to-be (POSIX).
//
// A process here does privileged, irreversible setup (mount, pivot_root,
// drop capabilities, load seccomp, or just apply rlimits) and then
// safely fork+execs the real user command as its own child, forwarding
// signals and relaying its exit status to the supervisor through its own
// exit code. Go's runtime forbids a bare fork() without an immediate
// exec() from a multi-threaded process, which is why this is a second
// process image rather than a callback threaded through the first.
package sandboxinit

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	capsuleerrors "capsule-run/errors"
	"capsule-run/schema"
)

// Payload is the JSON document the top-level process hands its
// re-exec'd init process over a pipe fd, describing everything the init
// side needs to finish setup and launch the real command.
type Payload struct {
	ExecutionID string                 `json:"execution_id"`
	Command     []string               `json:"command"`
	Environment map[string]string      `json:"environment"`
	Resources   schema.ResourceLimits  `json:"resources"`
	Isolation   schema.IsolationConfig `json:"isolation"`

	// Rootfs is the scratch directory built for this execution's
	// mount namespace. Only meaningful on Linux.
	Rootfs string `json:"rootfs,omitempty"`

	// ProfilePath is the advisory sandbox profile written for the
	// POSIX fallback path, kept here only so init can report it if it
	// ever needs to; nothing loads it.
	ProfilePath string `json:"profile_path,omitempty"`
}

// payloadFD and errFD are the well-known file descriptors the top-level
// process's sandbox.Prepare hands the re-exec'd init process via
// cmd.ExtraFiles: fd 3 carries the JSON Payload, fd 4 is a one-shot
// side-channel for reporting a setup failure distinct from the target
// command's own exit code.
const (
	payloadFD = 3
	errFD     = 4
)

// errDelim separates the closed error code from the human-readable
// message in a side-channel report, so the supervisor can recover a
// stable wire code without re-deriving it from free-form text.
const errDelim = "\x00"

// ReadPayload decodes the Payload the parent process wrote to fd 3.
func ReadPayload() (Payload, error) {
	f := os.NewFile(payloadFD, "capsule-payload")
	if f == nil {
		return Payload{}, fmt.Errorf("payload fd %d not open", payloadFD)
	}
	defer f.Close()

	var p Payload
	if err := json.NewDecoder(f).Decode(&p); err != nil {
		return Payload{}, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}

// ReportError writes a setup failure to fd 4, if it is open. The
// top-level process reads this after the init process exits to tell a
// genuine setup failure apart from the target command exiting with the
// same numeric code; see sandbox.Sandbox.InitError.
func ReportError(kind capsuleerrors.ErrorKind, err error) {
	f := os.NewFile(errFD, "capsule-init-err")
	if f == nil {
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "%s%s%s", kind.Code(), errDelim, err.Error())
}

// ParseInitError splits a message reported by ReportError back into its
// wire error code and human-readable text.
func ParseInitError(raw string) (code, message string) {
	if c, msg, ok := strings.Cut(raw, errDelim); ok {
		return c, msg
	}
	return capsuleerrors.ErrInternal.Code(), raw
}
