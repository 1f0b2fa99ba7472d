//go:build linux

package sandboxinit

import (
	capsuleerrors "capsule-run/errors"
	"capsule-run/linux"
	"capsule-run/logging"
)

// RunLinux performs the privileged, irreversible half of a Linux
// execution's setup (rootfs construction, capability drop, seccomp
// load) from inside the already-unshared namespaces, then fork+execs
// the real command and relays its result. It is only ever called from
// the hidden "__init" subcommand, itself already running as PID 1 of a
// fresh PID namespace.
func RunLinux(p Payload) (int, error) {
	log := logging.Default()

	logging.WithPhase(log, "hostname").Debug("setting hostname")
	if err := linux.SetHostname("capsule"); err != nil {
		return 0, capsuleerrors.Wrap(err, capsuleerrors.ErrNamespace, "set_hostname")
	}

	logging.WithPhase(log, "rootfs").Debug("constructing rootfs", "path", p.Rootfs)
	if err := linux.SetupRootfs(p.Rootfs, p.Isolation); err != nil {
		return 0, capsuleerrors.Wrap(err, capsuleerrors.ErrRootfs, "setup_rootfs")
	}

	logging.WithPhase(log, "capabilities").Debug("dropping capabilities")
	if err := linux.DropAllCapabilities(); err != nil {
		return 0, capsuleerrors.Wrap(err, capsuleerrors.ErrCapability, "drop_capabilities")
	}

	logging.WithPhase(log, "seccomp").Debug("loading seccomp filter")
	if err := linux.SetupSeccomp(p.Isolation); err != nil {
		return 0, capsuleerrors.Wrap(err, capsuleerrors.ErrSeccomp, "setup_seccomp")
	}

	logging.WithPhase(log, "exec").Debug("running command", "command", p.Command)
	code, err := runChild(p.Command, envSlice(p.Environment), "")
	if err != nil {
		return 0, capsuleerrors.Wrap(err, capsuleerrors.ErrProcess, "run_child")
	}
	return code, nil
}

// Main is the entry point for the hidden "__init" subcommand: read the
// payload handed across the re-exec boundary, perform Linux setup, and
// run the real command, reporting any setup failure on fd 4 before
// returning the process exit code the top-level process should observe.
func Main() int {
	p, err := ReadPayload()
	if err != nil {
		ReportError(capsuleerrors.ErrInvalidConfig, err)
		return initFailureExitCode
	}

	code, err := RunLinux(p)
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
// when it reports a setup failure on fd 4; its specific value is never
// interpreted as a command exit code because InitError always takes
// precedence once fd 4 carries a message.
const initFailureExitCode = 125

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
