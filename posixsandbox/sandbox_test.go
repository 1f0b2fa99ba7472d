package posixsandbox

import (
	"os"
	"os/exec"
	"strings"
	"testing"

	"capsule-run/schema"
)

func TestGenerateProfileDeniesNetworkByDefault(t *testing.T) {
	profile := GenerateProfile(schema.IsolationConfig{WorkingDirectory: "/workspace"})
	if !strings.Contains(profile, "(deny network*)") {
		t.Errorf("expected network denial in profile, got:\n%s", profile)
	}
}

func TestGenerateProfileAllowsNetworkWhenRequested(t *testing.T) {
	profile := GenerateProfile(schema.IsolationConfig{WorkingDirectory: "/workspace", Network: true})
	if !strings.Contains(profile, "(allow network*)") {
		t.Errorf("expected network allowance in profile, got:\n%s", profile)
	}
}

func TestWriteAndRemoveProfile(t *testing.T) {
	path, err := WriteProfile("test-exec-id", "(version 1)\n")
	if err != nil {
		t.Fatalf("WriteProfile() returned error: %v", err)
	}
	if path == "" {
		t.Fatal("expected non-empty path")
	}
	if err := RemoveProfile(path); err != nil {
		t.Fatalf("RemoveProfile() returned error: %v", err)
	}
	// Removing an already-removed profile must not error.
	if err := RemoveProfile(path); err != nil {
		t.Fatalf("RemoveProfile() on missing file returned error: %v", err)
	}
}

func TestSandboxUsageAndOOM(t *testing.T) {
	req := &schema.ExecutionRequest{
		Resources: schema.ResourceLimits{MemoryBytes: 1},
		Isolation: schema.IsolationConfig{WorkingDirectory: "/workspace"},
	}

	sb, err := New("test-exec-oom", req)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	defer sb.Cleanup()

	// Usage only counts reaped children, so run and reap one first; its
	// peak RSS is far above the 1-byte limit.
	if err := exec.Command(os.Args[0], "-test.run=^$").Run(); err != nil {
		t.Fatalf("running a child process failed: %v", err)
	}

	if _, err := sb.Usage(); err != nil {
		t.Fatalf("Usage() returned error: %v", err)
	}

	killed, err := sb.OOMKilled()
	if err != nil {
		t.Fatalf("OOMKilled() returned error: %v", err)
	}
	if !killed {
		t.Error("expected OOMKilled to be true with a 1-byte limit")
	}
}
