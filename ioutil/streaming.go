package ioutil

import (
	"io"
	"time"

	capsuleerrors "capsule-run/errors"
)

// EventKind tags a single message sent from a stream's reader goroutine.
type EventKind int

const (
	// EventData carries a chunk of bytes read from the stream.
	EventData EventKind = iota
	// EventError indicates the stream failed for a reason other than
	// the size cap.
	EventError
	// EventOverflow indicates the stream exceeded its size cap; no
	// further events follow.
	EventOverflow
	// EventEOF indicates the stream reached end of file.
	EventEOF
)

// Event is one message from a streaming drainer's reader goroutine.
type Event struct {
	Kind EventKind
	Data []byte
	Err  error
}

// streamChannelCap bounds how far a slow consumer can let a fast
// producer get ahead before the drainer gives up rather than queueing
// unboundedly in memory.
const streamChannelCap = 256

// Streaming drains stdout and stderr into channels of Event, used for
// executions whose timeout exceeds the batch/streaming cutover so the
// supervisor can interleave channel polling with its other per-tick
// checks instead of blocking until the child exits.
type Streaming struct {
	maxBytes int

	Stdout <-chan Event
	Stderr <-chan Event

	stdoutDone chan struct{}
	stderrDone chan struct{}
}

// NewStreaming constructs a streaming drainer and starts its reader
// goroutines immediately. Either reader may be nil.
func NewStreaming(stdout, stderr io.Reader, maxBytes int) *Streaming {
	s := &Streaming{maxBytes: maxBytes}

	if stdout != nil {
		ch := make(chan Event, streamChannelCap)
		s.Stdout = ch
		s.stdoutDone = make(chan struct{})
		go streamCapture(stdout, ch, maxBytes, s.stdoutDone)
	}
	if stderr != nil {
		ch := make(chan Event, streamChannelCap)
		s.Stderr = ch
		s.stderrDone = make(chan struct{})
		go streamCapture(stderr, ch, maxBytes, s.stderrDone)
	}

	return s
}

// streamCapture reads stream in fixed chunks, sending a Data event per
// read, an Overflow event and returning if the cumulative size exceeds
// maxBytes, or an EOF/Error event at completion.
func streamCapture(r io.Reader, out chan<- Event, maxBytes int, done chan<- struct{}) {
	defer close(out)
	defer close(done)

	buf := make([]byte, defaultReadBuffer)
	total := 0

	for {
		n, err := r.Read(buf)
		if n > 0 {
			total += n
			if total > maxBytes {
				out <- Event{Kind: EventOverflow, Err: capsuleerrors.ErrOutputSizeLimit}
				return
			}
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case out <- Event{Kind: EventData, Data: chunk}:
			default:
				// The supervisor is lagging badly enough that the bounded
				// channel is full; treat this the same as an overflow
				// rather than queue unboundedly. The overflow event itself
				// is a blocking send that waits for room in the channel.
				out <- Event{Kind: EventOverflow, Err: capsuleerrors.ErrOutputSizeLimit}
				return
			}
		}
		if err == io.EOF {
			out <- Event{Kind: EventEOF}
			return
		}
		if err != nil {
			out <- Event{Kind: EventError, Err: err}
			return
		}
	}
}

// PollOnce drains whatever is immediately available on both channels
// without blocking, appending into the supervisor-owned buffers passed
// by pointer. It returns an error if either stream reported Overflow or
// Error.
func (s *Streaming) PollOnce(stdout, stderr *[]byte) error {
	if err := pollChannel(s.Stdout, stdout); err != nil {
		return err
	}
	if err := pollChannel(s.Stderr, stderr); err != nil {
		return err
	}
	return nil
}

func pollChannel(ch <-chan Event, buf *[]byte) error {
	if ch == nil {
		return nil
	}
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			switch ev.Kind {
			case EventData:
				*buf = append(*buf, ev.Data...)
			case EventEOF:
				return nil
			case EventOverflow:
				return ev.Err
			case EventError:
				return capsuleerrors.WrapWithDetail(ev.Err, capsuleerrors.ErrIO, "stream_capture", ev.Err.Error())
			}
		default:
			return nil
		}
	}
}

// Drain collects everything already buffered on both channels without
// blocking longer than timeout per channel, for use once the child has
// exited and only trailing output remains to be flushed.
func (s *Streaming) Drain(timeout time.Duration) (stdout, stderr []byte, err error) {
	stdout, err = drainChannel(s.Stdout, timeout)
	if err != nil {
		return nil, nil, err
	}
	stderr, err = drainChannel(s.Stderr, timeout)
	if err != nil {
		return nil, nil, err
	}
	return stdout, stderr, nil
}

func drainChannel(ch <-chan Event, timeout time.Duration) ([]byte, error) {
	if ch == nil {
		return nil, nil
	}

	var buf []byte
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return buf, nil
			}
			switch ev.Kind {
			case EventData:
				buf = append(buf, ev.Data...)
			case EventEOF:
				return buf, nil
			case EventOverflow:
				return nil, ev.Err
			case EventError:
				return nil, capsuleerrors.WrapWithDetail(ev.Err, capsuleerrors.ErrIO, "stream_capture", ev.Err.Error())
			}
		case <-deadline.C:
			return buf, nil
		}
	}
}
