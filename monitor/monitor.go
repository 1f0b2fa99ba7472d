// Package monitor implements the background resource sampler that tracks
// an execution's peak memory, accumulated CPU time, and OOM status while
// the supervisor's poll loop is busy with timeout and exit-status checks.
package monitor

import (
	"sync"
	"sync/atomic"
	"time"

	"capsule-run/schema"
)

// DefaultInterval is the sampling period spec §4.8 specifies.
const DefaultInterval = 50 * time.Millisecond

// Provider is anything that can report a resource snapshot and an OOM
// verdict; the sandbox façade satisfies this directly.
type Provider interface {
	Usage() (schema.ResourceUsage, error)
	OOMKilled() (bool, error)
}

// Result is what the monitor reports once stopped.
type Result struct {
	PeakMemoryBytes uint64
	TotalCPUTimeUS  uint64
	UserTimeUS      uint64
	KernelTimeUS    uint64
	IOBytesRead     uint64
	IOBytesWritten  uint64
	WallTime        time.Duration
	OOMKilled       bool
}

// Monitor samples a Provider on a fixed interval in a background
// goroutine, keeping a running peak under a mutex. The supervisor is the
// only reader of that peak, taken once at Stop.
type Monitor struct {
	provider Provider
	interval time.Duration

	stop atomic.Bool
	done chan Result

	mu   sync.Mutex
	peak schema.ResourceUsage
	oom  bool
}

// New creates a monitor over provider and starts sampling immediately in
// a background goroutine.
func New(provider Provider, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}

	m := &Monitor{
		provider: provider,
		interval: interval,
		done:     make(chan Result, 1),
	}

	go m.run()

	return m
}

func (m *Monitor) run() {
	start := time.Now()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		stopping := m.stop.Load()

		if usage, err := m.provider.Usage(); err == nil {
			m.mu.Lock()
			if usage.MemoryBytes > m.peak.MemoryBytes {
				m.peak.MemoryBytes = usage.MemoryBytes
			}
			m.peak.CPUTimeUS = usage.CPUTimeUS
			m.peak.UserTimeUS = usage.UserTimeUS
			m.peak.KernelTimeUS = usage.KernelTimeUS
			if usage.IOBytesRead > m.peak.IOBytesRead {
				m.peak.IOBytesRead = usage.IOBytesRead
			}
			if usage.IOBytesWritten > m.peak.IOBytesWritten {
				m.peak.IOBytesWritten = usage.IOBytesWritten
			}
			m.mu.Unlock()
		}

		if killed, err := m.provider.OOMKilled(); err == nil && killed {
			m.mu.Lock()
			m.oom = true
			m.mu.Unlock()
			break
		}

		if stopping {
			break
		}

		<-ticker.C
	}

	m.mu.Lock()
	result := Result{
		PeakMemoryBytes: m.peak.MemoryBytes,
		TotalCPUTimeUS:  m.peak.CPUTimeUS,
		UserTimeUS:      m.peak.UserTimeUS,
		KernelTimeUS:    m.peak.KernelTimeUS,
		IOBytesRead:     m.peak.IOBytesRead,
		IOBytesWritten:  m.peak.IOBytesWritten,
		WallTime:        time.Since(start),
		OOMKilled:       m.oom,
	}
	m.mu.Unlock()

	m.done <- result
}

// Stop signals the sampling goroutine to take one last sample and exit,
// and blocks until it has produced its final Result.
func (m *Monitor) Stop() Result {
	m.stop.Store(true)
	return <-m.done
}

// OOMKilled reports, without stopping the monitor, whether an OOM has
// already latched. The supervisor polls this every tick; the latch
// itself is only set by the sampling goroutine, once per interval.
func (m *Monitor) OOMKilled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.oom
}
