package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorKind_String(t *testing.T) {
	tests := []struct {
		kind     ErrorKind
		expected string
	}{
		{ErrInvalidConfig, "invalid config"},
		{ErrBlockedCommand, "blocked command"},
		{ErrResourceLimitExceeded, "resource limit exceeded"},
		{ErrOOMKilled, "out of memory"},
		{ErrNamespace, "namespace error"},
		{ErrCgroup, "cgroup error"},
		{ErrSeccomp, "seccomp error"},
		{ErrCapability, "capability error"},
		{ErrRootfs, "rootfs error"},
		{ErrUserMapping, "user mapping error"},
		{ErrProcess, "process error"},
		{ErrOutputLimit, "output size limit exceeded"},
		{ErrIO, "I/O capture error"},
		{ErrSyscallDenied, "syscall denied"},
		{ErrInternal, "internal error"},
		{ErrorKind(999), "unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.expected {
				t.Errorf("ErrorKind.String() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestErrorKind_Code(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		code string
	}{
		{ErrInvalidConfig, "E1001"},
		{ErrBlockedCommand, "E1001"},
		{ErrNamespace, "E2001"},
		{ErrCgroup, "E2002"},
		{ErrSeccomp, "E2003"},
		{ErrRootfs, "E2004"},
		{ErrCapability, "E2005"},
		{ErrUserMapping, "E2006"},
		{ErrResourceLimitExceeded, "E3001"},
		{ErrProcess, "E3003"},
		{ErrOutputLimit, "E3006"},
		{ErrOOMKilled, "E4002"},
		{ErrIO, "E6001"},
		{ErrSyscallDenied, "E6003"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := tt.kind.Code(); got != tt.code {
				t.Errorf("%v.Code() = %q, want %q", tt.kind, got, tt.code)
			}
		})
	}
}

func TestErrorKind_Category(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		cat  Category
	}{
		{ErrInvalidConfig, CategoryConfiguration},
		{ErrBlockedCommand, CategorySecurity},
		{ErrResourceLimitExceeded, CategoryResource},
		{ErrOOMKilled, CategoryResource},
		{ErrOutputLimit, CategoryResource},
		{ErrNamespace, CategoryExecution},
		{ErrCgroup, CategoryExecution},
		{ErrSeccomp, CategoryExecution},
		{ErrCapability, CategoryExecution},
		{ErrRootfs, CategoryExecution},
		{ErrUserMapping, CategoryExecution},
		{ErrProcess, CategoryExecution},
		{ErrIO, CategorySystem},
		{ErrSyscallDenied, CategorySystem},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind.String()), func(t *testing.T) {
			if got := tt.kind.Category(); got != tt.cat {
				t.Errorf("%v.Category() = %q, want %q", tt.kind, got, tt.cat)
			}
		})
	}
}

func TestSandboxError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *SandboxError
		expected string
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: "<nil>",
		},
		{
			name: "full error",
			err: &SandboxError{
				Op:          "setup_cgroup",
				ExecutionID: "exec-123",
				Kind:        ErrCgroup,
				Detail:      "memory.max write failed",
				Err:         fmt.Errorf("permission denied"),
			},
			expected: "execution exec-123: setup_cgroup: memory.max write failed: permission denied",
		},
		{
			name: "without execution id",
			err: &SandboxError{
				Op:     "pivot_root",
				Kind:   ErrRootfs,
				Detail: "pivot_root failed",
			},
			expected: "pivot_root: pivot_root failed",
		},
		{
			name: "kind only",
			err: &SandboxError{
				Kind: ErrOOMKilled,
			},
			expected: "out of memory",
		},
		{
			name: "with underlying error",
			err: &SandboxError{
				Op:   "mount",
				Kind: ErrRootfs,
				Err:  fmt.Errorf("device busy"),
			},
			expected: "mount: rootfs error: device busy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("SandboxError.Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestSandboxError_Unwrap(t *testing.T) {
	underlying := fmt.Errorf("underlying error")
	err := &SandboxError{
		Op:   "test",
		Kind: ErrInternal,
		Err:  underlying,
	}

	if got := err.Unwrap(); got != underlying {
		t.Errorf("Unwrap() = %v, want %v", got, underlying)
	}

	var nilErr *SandboxError
	if got := nilErr.Unwrap(); got != nil {
		t.Errorf("nil.Unwrap() = %v, want nil", got)
	}
}

func TestSandboxError_Is(t *testing.T) {
	err1 := &SandboxError{Kind: ErrCgroup, Op: "test1"}
	err2 := &SandboxError{Kind: ErrCgroup, Op: "test2"}
	err3 := &SandboxError{Kind: ErrSeccomp, Op: "test3"}

	if !err1.Is(err2) {
		t.Error("err1.Is(err2) should be true (same kind)")
	}
	if err1.Is(err3) {
		t.Error("err1.Is(err3) should be false (different kind)")
	}
	if err1.Is(fmt.Errorf("some error")) {
		t.Error("err1.Is(fmt.Errorf(...)) should be false")
	}

	var nilErr *SandboxError
	if !nilErr.Is(nil) {
		t.Error("nil.Is(nil) should be true")
	}
}

func TestNew(t *testing.T) {
	err := New(ErrInvalidConfig, "validate", "command cannot be empty")

	if err.Kind != ErrInvalidConfig {
		t.Errorf("Kind = %v, want %v", err.Kind, ErrInvalidConfig)
	}
	if err.Op != "validate" {
		t.Errorf("Op = %q, want %q", err.Op, "validate")
	}
	if err.Detail != "command cannot be empty" {
		t.Errorf("Detail = %q, want %q", err.Detail, "command cannot be empty")
	}
}

func TestWrap(t *testing.T) {
	underlying := fmt.Errorf("permission denied")
	err := Wrap(underlying, ErrCapability, "drop caps")

	if err.Err != underlying {
		t.Error("Wrapped error should preserve underlying error")
	}
	if err.Kind != ErrCapability {
		t.Errorf("Kind = %v, want %v", err.Kind, ErrCapability)
	}
	if err.Op != "drop caps" {
		t.Errorf("Op = %q, want %q", err.Op, "drop caps")
	}
}

func TestWrapWithExecution(t *testing.T) {
	underlying := fmt.Errorf("not found")
	err := WrapWithExecution(underlying, ErrProcess, "wait", "exec-42")

	if err.ExecutionID != "exec-42" {
		t.Errorf("ExecutionID = %q, want %q", err.ExecutionID, "exec-42")
	}
}

func TestWrapWithDetail(t *testing.T) {
	underlying := fmt.Errorf("syscall failed")
	err := WrapWithDetail(underlying, ErrSeccomp, "filter", "invalid architecture")

	if err.Detail != "invalid architecture" {
		t.Errorf("Detail = %q, want %q", err.Detail, "invalid architecture")
	}
}

func TestIsKind(t *testing.T) {
	err := &SandboxError{Kind: ErrNamespace}
	wrapped := fmt.Errorf("wrapped: %w", err)

	if !IsKind(err, ErrNamespace) {
		t.Error("IsKind(err, ErrNamespace) should be true")
	}
	if !IsKind(wrapped, ErrNamespace) {
		t.Error("IsKind(wrapped, ErrNamespace) should be true")
	}
	if IsKind(err, ErrCapability) {
		t.Error("IsKind(err, ErrCapability) should be false")
	}
	if IsKind(fmt.Errorf("plain error"), ErrNamespace) {
		t.Error("IsKind(plain error, ErrNamespace) should be false")
	}
}

func TestGetKind(t *testing.T) {
	err := &SandboxError{Kind: ErrCgroup}
	wrapped := fmt.Errorf("wrapped: %w", err)

	kind, ok := GetKind(err)
	if !ok || kind != ErrCgroup {
		t.Errorf("GetKind(err) = (%v, %v), want (%v, true)", kind, ok, ErrCgroup)
	}

	kind, ok = GetKind(wrapped)
	if !ok || kind != ErrCgroup {
		t.Errorf("GetKind(wrapped) = (%v, %v), want (%v, true)", kind, ok, ErrCgroup)
	}

	_, ok = GetKind(fmt.Errorf("plain error"))
	if ok {
		t.Error("GetKind(plain error) should return false")
	}
}

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name string
		err  *SandboxError
		kind ErrorKind
	}{
		{"ErrEmptyCommand", ErrEmptyCommand, ErrInvalidConfig},
		{"ErrInvalidRequest", ErrInvalidRequest, ErrInvalidConfig},
		{"ErrTimeoutTooLarge", ErrTimeoutTooLarge, ErrInvalidConfig},
		{"ErrCommandBlocked", ErrCommandBlocked, ErrBlockedCommand},
		{"ErrSeccompFilter", ErrSeccompFilter, ErrSeccomp},
		{"ErrCapabilityDrop", ErrCapabilityDrop, ErrCapability},
		{"ErrNamespaceSetup", ErrNamespaceSetup, ErrNamespace},
		{"ErrRootfsSetup", ErrRootfsSetup, ErrRootfs},
		{"ErrPivotRoot", ErrPivotRoot, ErrRootfs},
		{"ErrMountFailed", ErrMountFailed, ErrRootfs},
		{"ErrUserMappingFailed", ErrUserMappingFailed, ErrUserMapping},
		{"ErrCgroupSetup", ErrCgroupSetup, ErrCgroup},
		{"ErrCgroupResource", ErrCgroupResource, ErrCgroup},
		{"ErrMemoryLimitExceeded", ErrMemoryLimitExceeded, ErrOOMKilled},
		{"ErrExecutionTimedOut", ErrExecutionTimedOut, ErrResourceLimitExceeded},
		{"ErrProcessSpawn", ErrProcessSpawn, ErrProcess},
		{"ErrProcessSignal", ErrProcessSignal, ErrProcess},
		{"ErrOutputSizeLimit", ErrOutputSizeLimit, ErrOutputLimit},
		{"ErrIOCaptureFailed", ErrIOCaptureFailed, ErrIO},
		{"ErrSyscallBlocked", ErrSyscallBlocked, ErrSyscallDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Kind != tt.kind {
				t.Errorf("%s.Kind = %v, want %v", tt.name, tt.err.Kind, tt.kind)
			}
			wrapped := Wrap(fmt.Errorf("underlying"), tt.kind, "test")
			if !errors.Is(wrapped, tt.err) {
				t.Errorf("errors.Is(wrapped, %s) should be true", tt.name)
			}
		})
	}
}

func TestErrorChain(t *testing.T) {
	underlying := fmt.Errorf("file not found")
	err1 := Wrap(underlying, ErrRootfs, "setup rootfs")
	err2 := fmt.Errorf("sandbox operation failed: %w", err1)

	if !errors.Is(err2, ErrRootfsSetup) {
		t.Error("errors.Is should find ErrRootfsSetup in chain")
	}

	var serr *SandboxError
	if !errors.As(err2, &serr) {
		t.Error("errors.As should find SandboxError in chain")
	}
	if serr.Op != "setup rootfs" {
		t.Errorf("serr.Op = %q, want %q", serr.Op, "setup rootfs")
	}

	if errors.Unwrap(err1) != underlying {
		t.Error("Unwrap should return underlying error")
	}
}
