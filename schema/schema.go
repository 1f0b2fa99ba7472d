// Package schema defines the wire data model for sandboxed command execution:
// the request a caller submits, the resource and isolation knobs it carries,
// and the response the engine returns once the command has run.
package schema

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionID identifies a single sandboxed execution.
type ExecutionID = uuid.UUID

// NewExecutionID generates a fresh, random execution identifier.
func NewExecutionID() ExecutionID {
	return uuid.New()
}

// ExecutionRequest describes a single command to run inside a sandbox.
type ExecutionRequest struct {
	// Command is the argv vector to execute. Command[0] is the executable.
	Command []string `json:"command" validate:"required,min=1,max=1000,dive,required,max=4096"`

	// Environment holds the environment variables passed to the command.
	// The sandboxed process receives only these variables, never the
	// caller's own environment.
	Environment map[string]string `json:"environment,omitempty" validate:"max=100"`

	// TimeoutMS bounds how long the command may run before it is killed
	// and the execution reported as timed out.
	TimeoutMS uint64 `json:"timeout_ms" validate:"required,max=600000"`

	// Resources caps memory, CPU, output, and process count.
	Resources ResourceLimits `json:"resources"`

	// Isolation controls namespace, filesystem, and network isolation.
	Isolation IsolationConfig `json:"isolation"`
}

// DefaultTimeoutMS is used when a request omits timeout_ms.
const DefaultTimeoutMS uint64 = 30_000

// ResourceLimits bounds the resources a sandboxed execution may consume.
type ResourceLimits struct {
	// MemoryBytes is the hard memory ceiling. Exceeding it kills the
	// process with OOM.
	MemoryBytes uint64 `json:"memory_bytes" validate:"required"`

	// CPUShares is a relative CPU weight in the traditional 2-262144
	// cgroup v1 "shares" range; the engine maps it onto cgroup v2's
	// cpu.weight range.
	CPUShares uint32 `json:"cpu_shares" validate:"required"`

	// MaxOutputBytes caps each of stdout and stderr independently, not
	// their sum.
	MaxOutputBytes int `json:"max_output_bytes" validate:"required"`

	// MaxPids caps the number of processes/threads the sandbox may hold
	// at once, including the command itself.
	MaxPids uint32 `json:"max_pids" validate:"required"`
}

// Default resource limits, mirroring the engine's built-in defaults.
const (
	DefaultMemoryBytes    uint64 = 256 * 1024 * 1024
	DefaultCPUShares      uint32 = 1024
	DefaultMaxOutputBytes int    = 1024 * 1024
	DefaultMaxPids        uint32 = 64
)

// DefaultResourceLimits returns the engine's built-in resource defaults.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		MemoryBytes:    DefaultMemoryBytes,
		CPUShares:      DefaultCPUShares,
		MaxOutputBytes: DefaultMaxOutputBytes,
		MaxPids:        DefaultMaxPids,
	}
}

// IsolationConfig controls the sandbox's namespace and filesystem shape.
type IsolationConfig struct {
	// Network gives the sandbox the host's network: no separate network
	// namespace is created and the seccomp filter admits the BSD socket
	// syscalls. When false, the sandbox gets a fresh, unconfigured network
	// namespace and may only create AF_UNIX sockets.
	Network bool `json:"network"`

	// ReadonlyPaths lists paths inside the sandbox that are remounted
	// read-only once the root has been pivoted, on top of the default
	// read-only proc paths. Host paths are not bound in for this: a path
	// that does not already exist inside the sandbox is skipped.
	ReadonlyPaths []string `json:"readonly_paths,omitempty"`

	// WritablePaths lists paths inside the sandbox that should remain
	// writable even though they fall under a read-only mount.
	WritablePaths []string `json:"writable_paths,omitempty"`

	// WorkingDirectory is the command's working directory inside the
	// sandbox.
	WorkingDirectory string `json:"working_directory" validate:"required"`

	// BindMounts lists extra host paths to expose inside the sandbox.
	BindMounts []BindMount `json:"bind_mounts,omitempty" validate:"dive"`
}

// DefaultWorkingDirectory is used when a request omits working_directory.
const DefaultWorkingDirectory = "/workspace"

// DefaultIsolationConfig returns the engine's built-in isolation defaults.
func DefaultIsolationConfig() IsolationConfig {
	return IsolationConfig{
		Network:          false,
		WorkingDirectory: DefaultWorkingDirectory,
	}
}

// BindMount describes a single host-to-sandbox bind mount.
type BindMount struct {
	// Source is the path on the host.
	Source string `json:"source" validate:"required"`
	// Destination is the path inside the sandbox.
	Destination string `json:"destination" validate:"required"`
	// Readonly mounts the bind read-only inside the sandbox.
	Readonly bool `json:"readonly"`
}

// ExecutionStatus is the terminal disposition of an execution.
type ExecutionStatus string

const (
	// StatusSuccess indicates the command ran to completion (regardless
	// of its own exit code).
	StatusSuccess ExecutionStatus = "success"
	// StatusError indicates the execution did not complete normally: the
	// engine failed to set up or supervise the sandbox, or the command was
	// stopped by an OOM kill, a signal, or the output size limit.
	StatusError ExecutionStatus = "error"
	// StatusTimeout indicates the command was killed after exceeding
	// timeout_ms.
	StatusTimeout ExecutionStatus = "timeout"
	// StatusKilled is part of the wire vocabulary only: the engine
	// reports OOM and signal kills as StatusError and never produces it.
	StatusKilled ExecutionStatus = "killed"
)

// ExecutionResponse is the result of a single execution.
type ExecutionResponse struct {
	ExecutionID ExecutionID         `json:"execution_id"`
	Status      ExecutionStatus     `json:"status"`
	ExitCode    *int                `json:"exit_code,omitempty"`
	Stdout      *string             `json:"stdout,omitempty"`
	Stderr      *string             `json:"stderr,omitempty"`
	Metrics     *ExecutionMetrics   `json:"metrics,omitempty"`
	Timestamps  ExecutionTimestamps `json:"timestamps"`
	Error       *ErrorResponse      `json:"error,omitempty"`
}

// ExecutionMetrics reports resource consumption observed during execution.
type ExecutionMetrics struct {
	WallTimeMS     uint64 `json:"wall_time_ms"`
	CPUTimeMS      uint64 `json:"cpu_time_ms"`
	UserTimeMS     uint64 `json:"user_time_ms"`
	KernelTimeMS   uint64 `json:"kernel_time_ms"`
	MaxMemoryBytes uint64 `json:"max_memory_bytes"`
	IOBytesRead    uint64 `json:"io_bytes_read"`
	IOBytesWritten uint64 `json:"io_bytes_written"`
}

// ExecutionTimestamps records when an execution started and completed.
type ExecutionTimestamps struct {
	Started   time.Time `json:"started"`
	Completed time.Time `json:"completed"`
}

// ErrorResponse describes why an execution did not succeed.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ResourceUsage is the raw resource sample a sandbox backend reports; the
// engine converts it into ExecutionMetrics once an execution finishes.
type ResourceUsage struct {
	MemoryBytes    uint64
	CPUTimeUS      uint64
	UserTimeUS     uint64
	KernelTimeUS   uint64
	IOBytesRead    uint64
	IOBytesWritten uint64
}

// Success builds a successful ExecutionResponse.
func Success(id ExecutionID, exitCode int, stdout, stderr string, metrics ExecutionMetrics, started, completed time.Time) *ExecutionResponse {
	return &ExecutionResponse{
		ExecutionID: id,
		Status:      StatusSuccess,
		ExitCode:    &exitCode,
		Stdout:      &stdout,
		Stderr:      &stderr,
		Metrics:     &metrics,
		Timestamps:  ExecutionTimestamps{Started: started, Completed: completed},
	}
}

// Failure builds a non-success ExecutionResponse (error, timeout, or killed).
func Failure(id ExecutionID, status ExecutionStatus, errResp ErrorResponse, started, completed time.Time) *ExecutionResponse {
	return &ExecutionResponse{
		ExecutionID: id,
		Status:      status,
		Timestamps:  ExecutionTimestamps{Started: started, Completed: completed},
		Error:       &errResp,
	}
}

// ApplyDefaults fills in zero-valued optional fields with their defaults.
// Applied before validation so validate:"required" tags do not reject a
// request that simply omitted an optional field.
func (r *ExecutionRequest) ApplyDefaults() {
	if r.TimeoutMS == 0 {
		r.TimeoutMS = DefaultTimeoutMS
	}
	if r.Resources.MemoryBytes == 0 {
		r.Resources.MemoryBytes = DefaultMemoryBytes
	}
	if r.Resources.CPUShares == 0 {
		r.Resources.CPUShares = DefaultCPUShares
	}
	if r.Resources.MaxOutputBytes == 0 {
		r.Resources.MaxOutputBytes = DefaultMaxOutputBytes
	}
	if r.Resources.MaxPids == 0 {
		r.Resources.MaxPids = DefaultMaxPids
	}
	if r.Isolation.WorkingDirectory == "" {
		r.Isolation.WorkingDirectory = DefaultWorkingDirectory
	}
	if r.Environment == nil {
		r.Environment = map[string]string{}
	}
}
