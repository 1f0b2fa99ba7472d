//go:build !linux

package sandboxinit

import (
	capsuleerrors "capsule-run/errors"
	"capsule-run/logging"
	"capsule-run/posixsandbox"
)

// RunPosix applies the POSIX fallback's rlimits to itself and then
// fork+execs the real command, inheriting those limits. There is no
// namespace or rootfs isolation on this path; GenerateProfile's output
// is advisory only (see posixsandbox.GenerateProfile).
func RunPosix(p Payload) (int, error) {
	log := logging.Default()

	logging.WithPhase(log, "rlimits").Debug("applying rlimits")
	if err := posixsandbox.ApplyRlimits(p.Resources); err != nil {
		return 0, capsuleerrors.Wrap(err, capsuleerrors.ErrInvalidConfig, "apply_rlimits")
	}

	dir := p.Isolation.WorkingDirectory
	if dir == "" {
		dir = "."
	}

	logging.WithPhase(log, "exec").Debug("running command", "command", p.Command)
	code, err := runChild(p.Command, envSlice(p.Environment), dir)
	if err != nil {
		return 0, capsuleerrors.Wrap(err, capsuleerrors.ErrProcess, "run_child")
	}
	return code, nil
}

// Main is the entry point for the hidden "__posix_init" subcommand.
func Main() int {
	p, err := ReadPayload()
	if err != nil {
		ReportError(capsuleerrors.ErrInvalidConfig, err)
		return initFailureExitCode
	}

	code, err := RunPosix(p)
	if err != nil {
		kind := capsuleerrors.ErrInternal
		if k, ok := capsuleerrors.GetKind(err); ok {
			kind = k
		}
		ReportError(kind, err)
		return initFailureExitCode
	}
	return code
}

// initFailureExitCode is what the re-exec'd init process exits with
// when it reports a setup failure on fd 4.
const initFailureExitCode = 125

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
