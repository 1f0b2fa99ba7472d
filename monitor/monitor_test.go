package monitor

import (
	"sync/atomic"
	"testing"
	"time"

	"capsule-run/schema"
)

type fakeProvider struct {
	mem  uint64
	oom  atomic.Bool
	errs atomic.Bool
}

func (f *fakeProvider) Usage() (schema.ResourceUsage, error) {
	return schema.ResourceUsage{MemoryBytes: atomic.LoadUint64(&f.mem)}, nil
}

func (f *fakeProvider) OOMKilled() (bool, error) {
	return f.oom.Load(), nil
}

func TestMonitorTracksPeakMemory(t *testing.T) {
	p := &fakeProvider{}
	atomic.StoreUint64(&p.mem, 100)

	m := New(p, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	atomic.StoreUint64(&p.mem, 50)
	time.Sleep(20 * time.Millisecond)

	result := m.Stop()
	if result.PeakMemoryBytes != 100 {
		t.Errorf("PeakMemoryBytes = %d, want 100", result.PeakMemoryBytes)
	}
}

func TestMonitorDetectsOOM(t *testing.T) {
	p := &fakeProvider{}

	m := New(p, 5*time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	p.oom.Store(true)

	result := m.Stop()
	if !result.OOMKilled {
		t.Error("expected OOMKilled to be true")
	}
	if !m.OOMKilled() {
		t.Error("expected OOMKilled() to report true after Stop")
	}
}

func TestMonitorStopWithoutOOM(t *testing.T) {
	p := &fakeProvider{}

	m := New(p, 5*time.Millisecond)
	time.Sleep(10 * time.Millisecond)

	result := m.Stop()
	if result.OOMKilled {
		t.Error("expected OOMKilled to be false")
	}
}
