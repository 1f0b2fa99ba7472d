package linux

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"capsule-run/schema"
)

func TestLeafPath(t *testing.T) {
	got := LeafPath("abc-123")
	want := filepath.Join("capsule-run", "abc-123")
	if got != want {
		t.Errorf("LeafPath() = %q, want %q", got, want)
	}
}

func TestCgroupApplyResourcesZeroValues(t *testing.T) {
	cg := &Cgroup{path: "/tmp/fake-cgroup"}

	if err := cg.applyMemory(0); err != nil {
		t.Errorf("applyMemory(0) should not error: %v", err)
	}
	if err := cg.applyCPU(0); err != nil {
		t.Errorf("applyCPU(0) should not error: %v", err)
	}
	if err := cg.applyPids(0); err != nil {
		t.Errorf("applyPids(0) should not error: %v", err)
	}
}

func TestCgroupIntegration(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skip("skipping cgroup integration test: requires root")
	}
	if _, err := os.Stat("/sys/fs/cgroup"); os.IsNotExist(err) {
		t.Skip("skipping cgroup test: cgroup not mounted")
	}

	cgroupPath := "capsule-run-test/integration-test"

	fullPath := filepath.Join("/sys/fs/cgroup", cgroupPath)
	os.Remove(fullPath)

	cg, err := NewCgroup(cgroupPath)
	if err != nil {
		t.Fatalf("NewCgroup failed: %v", err)
	}
	defer func() {
		cg.Destroy()
		os.Remove(filepath.Join("/sys/fs/cgroup", "capsule-run-test"))
	}()

	if _, err := os.Stat(cg.Path()); os.IsNotExist(err) {
		t.Error("cgroup directory was not created")
	}

	if err := cg.AddProcess(os.Getpid()); err != nil {
		t.Logf("AddProcess failed (may be expected in some environments): %v", err)
	}

	resources := schema.ResourceLimits{
		MemoryBytes: 100 * 1024 * 1024,
		CPUShares:   1024,
		MaxPids:     100,
	}

	if err := cg.ApplyResources(resources); err != nil {
		t.Logf("ApplyResources failed (may be expected if controllers not enabled): %v", err)
	}

	if err := cg.Destroy(); err != nil {
		t.Logf("Destroy failed (process may still be in cgroup): %v", err)
	}
}

func TestEnsureParentControllers(t *testing.T) {
	// Best-effort function; verify it doesn't panic.
	_ = EnsureParentControllers("capsule-run/test")
}

func TestCPUWeightFormula(t *testing.T) {
	tests := []struct {
		shares      uint32
		expectedMin uint64
		expectedMax uint64
		description string
	}{
		{2, 1, 1, "minimum shares"},
		{1024, 38, 40, "default shares"},
		{262144, 9999, 10000, "maximum shares"},
		{512, 19, 20, "half default shares"},
		{2048, 77, 79, "double default shares"},
	}

	cg := &Cgroup{path: "/tmp/fake-cgroup-weight-test"}

	for _, tc := range tests {
		var weight uint64 = 1
		if tc.shares > 2 {
			weight = 1 + uint64(tc.shares-2)*9999/262142
		}
		if weight > 10000 {
			weight = 10000
		}

		if weight < tc.expectedMin || weight > tc.expectedMax {
			t.Errorf("%s: shares %d expected weight %d-%d, got %d",
				tc.description, tc.shares, tc.expectedMin, tc.expectedMax, weight)
		}
	}

	// applyCPU writes into the cgroup directory, which needs root, so only
	// the weight formula is exercised here and cg stays unused.
	_ = cg
}

func TestValidateCgroupKeyRejectsTraversal(t *testing.T) {
	invalid := []string{
		"../foo", "..", "./foo", "/absolute/path", "foo/../../bar",
		"", "memory max", "memory\tmax", "memory\nmax",
	}

	for _, key := range invalid {
		if err := validateCgroupKey(key); err == nil {
			t.Errorf("validateCgroupKey(%q) should be rejected", key)
		}
	}
}

func TestValidateCgroupKeyAcceptsKnownKeys(t *testing.T) {
	valid := []string{
		"cpu.max", "memory.max", "pids.max", "cpu.weight",
		"memory.swap.max", "io.weight", "memory.low",
	}

	for _, key := range valid {
		if err := validateCgroupKey(key); err != nil {
			t.Errorf("validateCgroupKey(%q) should be accepted: %v", key, err)
		}
	}
}

func TestCgroupDestroyMissingIsSuccess(t *testing.T) {
	cg := &Cgroup{path: filepath.Join(os.TempDir(), "capsule-run-test-missing-cgroup")}
	if err := cg.Destroy(); err != nil {
		t.Errorf("Destroy() on a missing directory should succeed, got: %v", err)
	}
}

func TestIsKeyValidationError(t *testing.T) {
	err := validateCgroupKey("../escape")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "path separator") {
		t.Errorf("expected validation error message, got: %v", err)
	}
}
