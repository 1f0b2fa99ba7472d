// Package engine drives a single sandboxed execution end to end:
// prepare the sandbox, launch the command, poll for timeout/OOM/exit
// while capturing output, and assemble the final response.
package engine

import (
	"context"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	capsuleerrors "capsule-run/errors"
	"capsule-run/logging"
	"capsule-run/monitor"
	"capsule-run/sandbox"
	"capsule-run/sandboxinit"
	"capsule-run/schema"
)

// pollInterval is how often the supervisor's loop wakes to check
// timeout, exit status, and OOM state.
const pollInterval = 10 * time.Millisecond

// streamingCutoverMS is the timeout above which output capture switches
// from buffering everything in memory (Batch) to incremental channel
// delivery (Streaming), so a long-running command's output does not sit
// fully buffered in the supervisor for the whole run.
const streamingCutoverMS = 10_000

// Supervisor runs executions one at a time. It holds no state between
// calls to Execute.
type Supervisor struct{}

// New returns a ready-to-use Supervisor.
func New() *Supervisor {
	return &Supervisor{}
}

// Execute validates req, runs it to completion inside a sandbox, and
// returns the resulting response. It never returns a non-nil error for
// failures that are properly the command's or the sandbox's fault —
// those surface as a StatusError or StatusTimeout response.
// A non-nil error return means the request could not even be attempted.
func (s *Supervisor) Execute(ctx context.Context, req *schema.ExecutionRequest) (resp *schema.ExecutionResponse, err error) {
	req.ApplyDefaults()
	if err := schema.ValidateExecutionRequest(req); err != nil {
		return nil, fmt.Errorf("validate request: %w", err)
	}

	id := schema.NewExecutionID()
	log := logging.WithExecution(logging.Default(), id.String())
	started := time.Now()

	defer func() {
		if resp != nil {
			logging.LogOutcome(log, resp)
		}
	}()

	sb, err := sandbox.New(id.String(), req)
	if err != nil {
		return failure(id, capsuleerrors.ErrCgroup, "create_sandbox", err, started), nil
	}
	defer func() {
		if cerr := sb.Cleanup(); cerr != nil {
			log.Warn("sandbox cleanup failed", "error", cerr)
		}
	}()

	timeout := time.Duration(req.TimeoutMS) * time.Millisecond
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd, err := sb.Prepare(runCtx, req)
	if err != nil {
		return failure(id, capsuleerrors.ErrProcess, "prepare_sandbox", err, started), nil
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return failure(id, capsuleerrors.ErrIO, "stdout_pipe", err, started), nil
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return failure(id, capsuleerrors.ErrIO, "stderr_pipe", err, started), nil
	}

	if err := sb.Start(cmd); err != nil {
		return failure(id, capsuleerrors.ErrProcess, "start_process", err, started), nil
	}

	if err := sb.AddProcess(cmd.Process.Pid); err != nil {
		log.Warn("add process to sandbox controller failed", "error", err)
	}

	mon := monitor.New(sb, monitor.DefaultInterval)

	streaming := req.TimeoutMS > streamingCutoverMS
	cap := newCapture(stdoutPipe, stderrPipe, req.Resources.MaxOutputBytes, streaming)

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	deadline := started.Add(timeout)
	oc, runErr := s.poll(runCtx, cmd, waitDone, cap, mon, deadline)

	result := mon.Stop()
	stdout, stderr, captureErr := cap.finish()

	completed := time.Now()
	metrics := toMetrics(result, completed.Sub(started))

	switch oc {
	case outcomeOOM:
		return schema.Failure(id, schema.StatusError,
			errorResponseWithDetails(capsuleerrors.ErrOOMKilled, "process killed due to memory limit",
				map[string]uint64{"memory_limit": req.Resources.MemoryBytes}),
			started, completed), nil

	case outcomeTimeout:
		elapsedMS := completed.Sub(started).Milliseconds()
		return schema.Failure(id, schema.StatusTimeout,
			errorResponseWithDetails(capsuleerrors.ErrResourceLimitExceeded,
				fmt.Sprintf("command exceeded timeout limit of %dms", req.TimeoutMS),
				map[string]int64{"timeout_ms": int64(req.TimeoutMS), "elapsed_ms": elapsedMS}),
			started, completed), nil

	case outcomeSignaled:
		sig := runErr.(signalError).signal
		return schema.Failure(id, schema.StatusError,
			errorResponseWithDetails(capsuleerrors.ErrProcess, fmt.Sprintf("command killed by signal %d", sig),
				map[string]any{"signal": sig, "signal_name": signalName(sig)}),
			started, completed), nil

	default: // outcomeExited
		if runErr != nil {
			if _, ok := runErr.(*exec.ExitError); !ok {
				if capsuleerrors.IsKind(runErr, capsuleerrors.ErrOutputLimit) || capsuleerrors.IsKind(runErr, capsuleerrors.ErrIO) {
					return buildIOFailure(id, runErr, metrics, started, completed), nil
				}
				return failure(id, capsuleerrors.ErrProcess, "wait_process", runErr, started), nil
			}
		}
		if captureErr != nil {
			return buildIOFailure(id, captureErr, metrics, started, completed), nil
		}

		if raw, ok := sb.InitError(); ok {
			code, message := sandboxinit.ParseInitError(raw)
			resp := schema.Failure(id, schema.StatusError,
				schema.ErrorResponse{Code: code, Message: message}, started, completed)
			resp.Metrics = &metrics
			return resp, nil
		}

		exitCode := cmd.ProcessState.ExitCode()
		if sig, ok := signalFromChildExitCode(exitCode); ok {
			resp := schema.Failure(id, schema.StatusError,
				errorResponseWithDetails(capsuleerrors.ErrProcess, fmt.Sprintf("command killed by signal %d", sig),
					map[string]any{"signal": sig, "signal_name": signalName(sig)}),
				started, completed)
			return resp, nil
		}

		return schema.Success(id, exitCode, stdout, stderr, metrics, started, completed), nil
	}
}

// signalError carries the signal that killed the top-level re-exec'd
// process directly, as observed through the poll loop. Its own child's
// signal death, folded into its exit code via the 128+signal shell
// convention (see sandboxinit.runChild), is decoded separately by
// signalFromChildExitCode.
type signalError struct{ signal int }

func (e signalError) Error() string { return fmt.Sprintf("signal %d", e.signal) }

// killProcessGroup kills the re-exec'd init process (and, transitively,
// whatever it has fork+exec'd) on timeout.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	cmd.Process.Signal(syscall.SIGKILL)
}
