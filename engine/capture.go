package engine

import (
	"io"
	"time"

	"capsule-run/ioutil"
)

// capture abstracts over ioutil.Batch and ioutil.Streaming so the poll
// loop can treat both the same way: poll() is a no-op for Batch (which
// blocks internally until Wait), and drains whatever is ready for
// Streaming; finish() produces the final stdout/stderr text either way.
type capture interface {
	poll() error
	finish() (stdout, stderr string, err error)
}

// newCapture picks Batch or Streaming based on streaming, matching the
// documented cutover: short executions buffer everything, long-running
// ones stream so the supervisor never blocks waiting for EOF.
func newCapture(stdout, stderr io.Reader, maxBytes int, streaming bool) capture {
	if streaming {
		return &streamingCapture{s: ioutil.NewStreaming(stdout, stderr, maxBytes)}
	}

	b := ioutil.NewBatch(stdout, stderr, maxBytes)
	b.Start()
	return &batchCapture{b: b}
}

type batchCapture struct {
	b *ioutil.Batch
}

func (c *batchCapture) poll() error { return nil }

func (c *batchCapture) finish() (string, string, error) {
	return c.b.Wait()
}

type streamingCapture struct {
	s         *ioutil.Streaming
	stdoutBuf []byte
	stderrBuf []byte
}

func (c *streamingCapture) poll() error {
	return c.s.PollOnce(&c.stdoutBuf, &c.stderrBuf)
}

func (c *streamingCapture) finish() (string, string, error) {
	if err := c.s.PollOnce(&c.stdoutBuf, &c.stderrBuf); err != nil {
		return "", "", err
	}

	tailOut, tailErr, err := c.s.Drain(50 * time.Millisecond)
	if err != nil {
		return "", "", err
	}
	c.stdoutBuf = append(c.stdoutBuf, tailOut...)
	c.stderrBuf = append(c.stderrBuf, tailErr...)

	return string(c.stdoutBuf), string(c.stderrBuf), nil
}
