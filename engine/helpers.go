package engine

import (
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	capsuleerrors "capsule-run/errors"
	"capsule-run/monitor"
	"capsule-run/schema"
)

// errorResponse builds a wire ErrorResponse from an error kind and a
// human-readable message, using the kind's closed error code.
func errorResponse(kind capsuleerrors.ErrorKind, message string) schema.ErrorResponse {
	return schema.ErrorResponse{Code: kind.Code(), Message: message}
}

// errorResponseWithDetails is errorResponse plus the structured Details
// payload spec.md §4.9 requires for timeout, OOM, and signal-kill
// responses.
func errorResponseWithDetails(kind capsuleerrors.ErrorKind, message string, details any) schema.ErrorResponse {
	resp := errorResponse(kind, message)
	resp.Details = details
	return resp
}

// signalName returns the POSIX name of signal sig (e.g. "SIGKILL"),
// falling back to its bare number if unrecognized.
func signalName(sig int) string {
	if name := unix.SignalName(unix.Signal(sig)); name != "" {
		return name
	}
	return strconv.Itoa(sig)
}

// failure builds an error-status ExecutionResponse from a kind and the
// underlying Go error that triggered it.
func failure(id schema.ExecutionID, kind capsuleerrors.ErrorKind, op string, err error, started time.Time) *schema.ExecutionResponse {
	wrapped := capsuleerrors.Wrap(err, kind, op)
	return schema.Failure(id, schema.StatusError, errorResponse(kind, wrapped.Error()), started, time.Now())
}

// buildIOFailure reports an I/O capture failure (most often the output
// size limit) as an error-status response, still carrying whatever
// metrics were collected before the failure.
func buildIOFailure(id schema.ExecutionID, err error, metrics schema.ExecutionMetrics, started, completed time.Time) *schema.ExecutionResponse {
	kind := capsuleerrors.ErrIO
	if capsuleerrors.IsKind(err, capsuleerrors.ErrOutputLimit) {
		kind = capsuleerrors.ErrOutputLimit
	}
	resp := schema.Failure(id, schema.StatusError, errorResponse(kind, err.Error()), started, completed)
	resp.Metrics = &metrics
	return resp
}

// toMetrics converts a monitor.Result plus observed wall time into the
// wire ExecutionMetrics shape.
func toMetrics(result monitor.Result, wall time.Duration) schema.ExecutionMetrics {
	return schema.ExecutionMetrics{
		WallTimeMS:     uint64(wall.Milliseconds()),
		CPUTimeMS:      result.TotalCPUTimeUS / 1000,
		UserTimeMS:     result.UserTimeUS / 1000,
		KernelTimeMS:   result.KernelTimeUS / 1000,
		MaxMemoryBytes: result.PeakMemoryBytes,
		IOBytesRead:    result.IOBytesRead,
		IOBytesWritten: result.IOBytesWritten,
	}
}
