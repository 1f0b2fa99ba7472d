// Package errors provides predefined sentinel errors for common failure cases.
package errors

// Configuration and validation errors.
var (
	// ErrEmptyCommand indicates the request's command vector was empty.
	ErrEmptyCommand = &SandboxError{
		Kind:   ErrInvalidConfig,
		Detail: "command cannot be empty",
	}

	// ErrInvalidRequest indicates the execution request failed validation.
	ErrInvalidRequest = &SandboxError{
		Kind:   ErrInvalidConfig,
		Detail: "invalid execution request",
	}

	// ErrTimeoutTooLarge indicates the requested timeout exceeds the
	// configured maximum.
	ErrTimeoutTooLarge = &SandboxError{
		Kind:   ErrInvalidConfig,
		Detail: "timeout exceeds maximum allowed",
	}
)

// Security-related errors.
var (
	// ErrCommandBlocked indicates the command matched the configured
	// denylist.
	ErrCommandBlocked = &SandboxError{
		Kind:   ErrBlockedCommand,
		Detail: "command is blocked by policy",
	}

	// ErrSeccompFilter indicates a seccomp filter error.
	ErrSeccompFilter = &SandboxError{
		Kind:   ErrSeccomp,
		Detail: "failed to apply seccomp filter",
	}

	// ErrCapabilityDrop indicates a capability drop error.
	ErrCapabilityDrop = &SandboxError{
		Kind:   ErrCapability,
		Detail: "failed to drop capabilities",
	}
)

// Namespace and filesystem errors.
var (
	// ErrNamespaceSetup indicates a namespace setup error.
	ErrNamespaceSetup = &SandboxError{
		Kind:   ErrNamespace,
		Detail: "failed to setup namespace",
	}

	// ErrRootfsSetup indicates a rootfs setup error.
	ErrRootfsSetup = &SandboxError{
		Kind:   ErrRootfs,
		Detail: "failed to setup rootfs",
	}

	// ErrPivotRoot indicates a pivot_root error.
	ErrPivotRoot = &SandboxError{
		Kind:   ErrRootfs,
		Detail: "failed to pivot_root",
	}

	// ErrMountFailed indicates a mount error.
	ErrMountFailed = &SandboxError{
		Kind:   ErrRootfs,
		Detail: "failed to mount",
	}

	// ErrUserMappingFailed indicates a uid/gid mapping write failed.
	ErrUserMappingFailed = &SandboxError{
		Kind:   ErrUserMapping,
		Detail: "failed to write uid/gid mapping",
	}
)

// Cgroup errors.
var (
	// ErrCgroupSetup indicates a cgroup setup error.
	ErrCgroupSetup = &SandboxError{
		Kind:   ErrCgroup,
		Detail: "failed to setup cgroup",
	}

	// ErrCgroupResource indicates a cgroup resource limit error.
	ErrCgroupResource = &SandboxError{
		Kind:   ErrCgroup,
		Detail: "failed to apply resource limits",
	}
)

// Resource and process errors.
var (
	// ErrMemoryLimitExceeded indicates the sandbox was killed for
	// exceeding its memory limit.
	ErrMemoryLimitExceeded = &SandboxError{
		Kind:   ErrOOMKilled,
		Detail: "memory limit exceeded",
	}

	// ErrExecutionTimedOut indicates the execution exceeded its timeout.
	ErrExecutionTimedOut = &SandboxError{
		Kind:   ErrResourceLimitExceeded,
		Detail: "execution timed out",
	}

	// ErrProcessSpawn indicates a process spawn error.
	ErrProcessSpawn = &SandboxError{
		Kind:   ErrProcess,
		Detail: "failed to spawn process",
	}

	// ErrProcessSignal indicates a signal delivery error.
	ErrProcessSignal = &SandboxError{
		Kind:   ErrProcess,
		Detail: "failed to send signal",
	}

	// ErrOutputSizeLimit indicates captured stdout/stderr exceeded
	// max_output_bytes.
	ErrOutputSizeLimit = &SandboxError{
		Kind:   ErrOutputLimit,
		Detail: "captured output exceeded max_output_bytes",
	}

	// ErrIOCaptureFailed indicates an I/O drainer failed independent of
	// the size cap.
	ErrIOCaptureFailed = &SandboxError{
		Kind:   ErrIO,
		Detail: "failed to capture process output",
	}

	// ErrSyscallBlocked indicates the seccomp filter killed the process
	// for issuing a syscall outside the allowlist.
	ErrSyscallBlocked = &SandboxError{
		Kind:   ErrSyscallDenied,
		Detail: "process killed for a disallowed syscall",
	}
)
