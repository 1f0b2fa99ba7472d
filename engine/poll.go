package engine

import (
	"context"
	"os/exec"
	"syscall"
	"time"

	"capsule-run/monitor"
)

// outcome is what ended the supervisor's poll loop.
type outcome int

const (
	outcomeExited outcome = iota
	outcomeOOM
	outcomeTimeout
	outcomeSignaled
)

// poll runs the fixed-interval loop that watches a started command for
// exit, timeout, and OOM, draining whatever capture needs drained each
// tick. Within a single tick, an OOM observation takes precedence over
// a plain exit, since a cgroup OOM kill and the kernel reporting the
// child's death can race; checking OOM first on the same tick the
// process is seen to exit avoids reporting a false "success".
func (s *Supervisor) poll(
	ctx context.Context,
	cmd *exec.Cmd,
	waitDone <-chan error,
	cap capture,
	mon *monitor.Monitor,
	deadline time.Time,
) (outcome, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-waitDone:
			if mon.OOMKilled() {
				return outcomeOOM, nil
			}
			if sig, ok := signalFromWaitError(err); ok {
				// The command's context carries the same deadline, so its
				// kill can end the process before a tick sees the timeout.
				if !time.Now().Before(deadline) {
					return outcomeTimeout, nil
				}
				return outcomeSignaled, signalError{signal: sig}
			}
			return outcomeExited, err

		case <-ticker.C:
			if mon.OOMKilled() {
				<-waitDone
				return outcomeOOM, nil
			}
			if time.Now().After(deadline) {
				killProcessGroup(cmd)
				<-waitDone
				if mon.OOMKilled() {
					return outcomeOOM, nil
				}
				return outcomeTimeout, nil
			}
			if err := cap.poll(); err != nil {
				killProcessGroup(cmd)
				<-waitDone
				return outcomeExited, err
			}
		}
	}
}

// signalFromWaitError reports whether cmd.Wait's error indicates the
// top-level re-exec'd process itself died by an OS signal, as opposed
// to exiting normally with the 128+signal convention its own child's
// death is folded into.
func signalFromWaitError(err error) (int, bool) {
	if err == nil {
		return 0, false
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return 0, false
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok || !status.Signaled() {
		return 0, false
	}
	return int(status.Signal()), true
}

// signalFromChildExitCode decodes the 128+signal convention the
// re-exec'd init process uses to report its own child's signal death
// through its own normal exit (see sandboxinit.runChild).
func signalFromChildExitCode(code int) (int, bool) {
	if code > 128 && code <= 128+64 {
		return code - 128, true
	}
	return 0, false
}
