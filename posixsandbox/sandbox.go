package posixsandbox

import (
	"fmt"

	"capsule-run/schema"
)

// Sandbox is the non-Linux isolation handle: an advisory profile plus
// rlimit/rusage accounting. It implements the same shape the Linux
// cgroup-backed sandbox does (Usage/OOMKilled/Cleanup) so the engine's
// supervisor and monitor can treat both uniformly.
type Sandbox struct {
	executionID string
	profilePath string
	limits      schema.ResourceLimits
	oom         *oomThreshold
}

// New generates and writes the advisory sandbox profile for req and
// returns a handle ready to be passed to a child process.
func New(executionID string, req *schema.ExecutionRequest) (*Sandbox, error) {
	profile := GenerateProfile(req.Isolation)

	path, err := WriteProfile(executionID, profile)
	if err != nil {
		return nil, fmt.Errorf("create posix sandbox: %w", err)
	}

	return &Sandbox{
		executionID: executionID,
		profilePath: path,
		limits:      req.Resources,
		oom:         newOOMThreshold(req.Resources.MemoryBytes),
	}, nil
}

// ProfilePath returns the path of the written advisory profile, for
// inclusion in the re-exec payload.
func (s *Sandbox) ProfilePath() string {
	return s.profilePath
}

// Limits returns the resource limits this sandbox was built for, for
// ApplyRlimits to use on the init side of the re-exec.
func (s *Sandbox) Limits() schema.ResourceLimits {
	return s.limits
}

// Usage reports accumulated child resource usage via getrusage.
func (s *Sandbox) Usage() (schema.ResourceUsage, error) {
	return Usage()
}

// OOMKilled reports whether usage has crossed the configured memory
// limit. Unlike the Linux cgroup path this is a synthesized signal,
// not a kernel-reported event, and once true stays true.
func (s *Sandbox) OOMKilled() (bool, error) {
	return s.oom.Check()
}

// Cleanup removes the advisory profile file.
func (s *Sandbox) Cleanup() error {
	return RemoveProfile(s.profilePath)
}
