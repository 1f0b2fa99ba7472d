// Package posixsandbox provides the non-Linux fallback isolation layer:
// an informational sandbox profile plus POSIX rlimits and
// getrusage-based accounting. It does not provide namespace or
// filesystem isolation; it exists so capsule-run runs usefully on hosts
// without cgroups and Linux namespaces, at a reduced isolation level.
package posixsandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"capsule-run/schema"
)

// GenerateProfile renders a declarative S-expression sandbox profile
// describing the requested isolation. The profile is written alongside
// the execution for audit purposes; unlike the Linux seccomp/namespace
// path, nothing on this platform actually loads or enforces it.
func GenerateProfile(isolation schema.IsolationConfig) string {
	var b strings.Builder

	b.WriteString("(version 1)\n")
	b.WriteString("(deny default)\n")
	b.WriteString("(allow process-fork)\n")
	b.WriteString("(allow process-exec)\n")
	b.WriteString("(allow file-read* file-write* (subpath \"/tmp\"))\n")
	b.WriteString(fmt.Sprintf("(allow file-write* (subpath %q))\n", isolation.WorkingDirectory))

	for _, p := range isolation.ReadonlyPaths {
		b.WriteString(fmt.Sprintf("(allow file-read* (subpath %q))\n", p))
	}
	for _, p := range isolation.WritablePaths {
		b.WriteString(fmt.Sprintf("(allow file-read* file-write* (subpath %q))\n", p))
	}

	if isolation.Network {
		b.WriteString("(allow network*)\n")
	} else {
		b.WriteString("(deny network*)\n")
	}

	return b.String()
}

// WriteProfile writes the generated profile text to a temp file named
// after the execution id and returns its path.
func WriteProfile(executionID, content string) (string, error) {
	path := filepath.Join(os.TempDir(), fmt.Sprintf("capsule-run-%s.sb", executionID))
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return "", fmt.Errorf("write sandbox profile: %w", err)
	}
	return path, nil
}

// RemoveProfile deletes a profile file written by WriteProfile. A
// missing file is not an error.
func RemoveProfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove sandbox profile: %w", err)
	}
	return nil
}
