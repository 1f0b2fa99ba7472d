// Package ioutil drains a sandboxed child's stdout and stderr without
// letting either stream block the other and without letting the child's
// output grow without bound.
//
// Two interchangeable drainers are provided: Batch, which buffers
// everything and blocks until the child is done, and Streaming, which
// forwards chunks over channels as they arrive so the supervisor can poll
// it between other checks. Both enforce the same per-stream size cap.
package ioutil

import (
	"fmt"
	"io"
	"sync"

	capsuleerrors "capsule-run/errors"
)

// defaultReadBuffer is the chunk size used for both drainers' reads.
const defaultReadBuffer = 32 * 1024

// streamResult is what a single stream's goroutine hands back.
type streamResult struct {
	data []byte
	err  error
}

// Batch drains stdout and stderr into in-memory buffers, one goroutine per
// stream, and blocks until both have hit EOF or the size cap. It is meant
// for short executions (spec's default cutover is timeout <= 10s) where
// holding both buffers for the whole run is cheap.
type Batch struct {
	maxBytes int

	stdout io.Reader
	stderr io.Reader

	wg        sync.WaitGroup
	stdoutOut streamResult
	stderrOut streamResult
}

// NewBatch constructs a batch drainer over the given readers. Either
// reader may be nil, in which case that stream reads as empty.
func NewBatch(stdout, stderr io.Reader, maxBytes int) *Batch {
	return &Batch{maxBytes: maxBytes, stdout: stdout, stderr: stderr}
}

// Start launches the two reader goroutines. It does not block.
func (b *Batch) Start() {
	if b.stdout != nil {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.stdoutOut.data, b.stdoutOut.err = readCapped(b.stdout, b.maxBytes)
		}()
	}
	if b.stderr != nil {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.stderrOut.data, b.stderrOut.err = readCapped(b.stderr, b.maxBytes)
		}()
	}
}

// Wait blocks until both drainer goroutines have finished, then returns
// the captured stdout/stderr bytes as strings, unchanged; invalid UTF-8
// is only replaced with U+FFFD when the response is marshalled to JSON.
// If either stream exceeded maxBytes, it returns
// capsuleerrors.ErrOutputSizeLimit.
func (b *Batch) Wait() (stdout, stderr string, err error) {
	b.wg.Wait()

	if b.stdoutOut.err != nil {
		return "", "", b.stdoutOut.err
	}
	if b.stderrOut.err != nil {
		return "", "", b.stderrOut.err
	}

	return string(b.stdoutOut.data), string(b.stderrOut.data), nil
}

// readCapped reads r to EOF, returning ErrOutputSizeLimit if the stream
// produces more than maxBytes. EINTR is retried transparently by Go's
// os.File.Read, so no special handling is needed here.
func readCapped(r io.Reader, maxBytes int) ([]byte, error) {
	buf := make([]byte, 0, defaultReadBuffer)
	chunk := make([]byte, defaultReadBuffer)

	for {
		n, err := r.Read(chunk)
		if n > 0 {
			if len(buf)+n > maxBytes {
				return nil, fmt.Errorf("%w: %d bytes", capsuleerrors.ErrOutputSizeLimit, maxBytes)
			}
			buf = append(buf, chunk[:n]...)
		}
		if err == io.EOF {
			return buf, nil
		}
		if err != nil {
			return nil, capsuleerrors.WrapWithDetail(err, capsuleerrors.ErrIO, "read_stream", err.Error())
		}
	}
}
