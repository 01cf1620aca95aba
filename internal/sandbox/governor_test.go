package sandbox

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSampler struct {
	heap      atomic.Uint64
	collected atomic.Int32
	// afterCollect, when non-zero, replaces heap on Collect.
	afterCollect uint64
}

func (s *fakeSampler) HeapBytes() uint64 { return s.heap.Load() }

func (s *fakeSampler) Collect() {
	s.collected.Add(1)
	if s.afterCollect != 0 {
		s.heap.Store(s.afterCollect)
	}
}

type interruptRecorder struct {
	mu      sync.Mutex
	reasons []any
}

func (r *interruptRecorder) interrupt(v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, v)
}

func (r *interruptRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reasons)
}

func TestGovernorDeadline(t *testing.T) {
	rec := &interruptRecorder{}
	gov := NewGovernor(GovernorConfig{Timeout: 20 * time.Millisecond, MemoryLimit: 1 << 20}, &fakeSampler{}, rec.interrupt)

	ctx := gov.Start(context.Background())

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("run context was not cancelled by the deadline")
	}
	gov.Stop()

	assert.ErrorIs(t, gov.Reason(), ErrTimeout)
	assert.Equal(t, 1, rec.count())
}

func TestGovernorMemoryBreach(t *testing.T) {
	sampler := &fakeSampler{}
	sampler.heap.Store(1000)
	rec := &interruptRecorder{}
	gov := NewGovernor(GovernorConfig{
		Timeout:        time.Minute,
		MemoryLimit:    500,
		SampleInterval: time.Millisecond,
	}, sampler, rec.interrupt)

	ctx := gov.Start(context.Background())
	sampler.heap.Store(2000)

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("memory breach was not detected")
	}
	gov.Stop()

	assert.ErrorIs(t, gov.Reason(), ErrMemoryLimit)
	assert.Contains(t, gov.Reason().Error(), "limit 500 bytes")
	assert.GreaterOrEqual(t, sampler.collected.Load(), int32(1))
}

func TestGovernorIgnoresCollectableGarbage(t *testing.T) {
	sampler := &fakeSampler{afterCollect: 1100}
	sampler.heap.Store(1000)
	gov := NewGovernor(GovernorConfig{
		Timeout:        time.Minute,
		MemoryLimit:    500,
		SampleInterval: time.Millisecond,
	}, sampler, nil)

	gov.Start(context.Background())
	sampler.heap.Store(5000)

	require.Eventually(t, func() bool { return sampler.collected.Load() > 0 }, time.Second, time.Millisecond)
	gov.Stop()

	assert.NoError(t, gov.Reason())
}

func TestGovernorReserve(t *testing.T) {
	rec := &interruptRecorder{}
	gov := NewGovernor(GovernorConfig{Timeout: time.Minute, MemoryLimit: 100}, &fakeSampler{}, rec.interrupt)
	gov.Start(context.Background())
	defer gov.Stop()

	require.NoError(t, gov.Reserve(60))
	require.NoError(t, gov.Reserve(100))

	err := gov.Reserve(101)
	assert.ErrorIs(t, err, ErrMemoryLimit)
	assert.ErrorIs(t, gov.Reason(), ErrMemoryLimit)
	assert.Equal(t, 1, rec.count())

	assert.ErrorIs(t, gov.Reserve(1), ErrMemoryLimit)
}

func TestGovernorTerminateIsIdempotent(t *testing.T) {
	rec := &interruptRecorder{}
	gov := NewGovernor(GovernorConfig{Timeout: time.Minute, MemoryLimit: 100}, &fakeSampler{}, rec.interrupt)
	gov.Start(context.Background())

	gov.Terminate(ErrTimeout)
	gov.Terminate(ErrMemoryLimit)
	gov.Terminate(ErrCancelled)
	gov.Stop()

	assert.Equal(t, ErrTimeout, gov.Reason())
	assert.Equal(t, 1, rec.count())
}

func TestGovernorParentCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	gov := NewGovernor(GovernorConfig{Timeout: time.Minute, MemoryLimit: 100, SampleInterval: time.Millisecond}, &fakeSampler{}, nil)

	ctx := gov.Start(parent)
	cancel()

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("parent cancellation was not propagated")
	}
	require.Eventually(t, func() bool { return gov.Reason() != nil }, time.Second, time.Millisecond)
	gov.Stop()

	assert.ErrorIs(t, gov.Reason(), ErrCancelled)
}

func TestGovernorStopRecordsElapsed(t *testing.T) {
	gov := NewGovernor(GovernorConfig{Timeout: time.Minute, MemoryLimit: 100}, &fakeSampler{}, nil)
	gov.Start(context.Background())
	time.Sleep(5 * time.Millisecond)

	elapsed := gov.Stop()

	assert.GreaterOrEqual(t, elapsed, 5*time.Millisecond)
	assert.Equal(t, elapsed, gov.Stop())
	assert.NoError(t, gov.Reason())
}

func TestGovernorUsageTracksGrowthOverBaseline(t *testing.T) {
	sampler := &fakeSampler{}
	sampler.heap.Store(4096)
	gov := NewGovernor(GovernorConfig{Timeout: time.Minute, MemoryLimit: 1 << 20, SampleInterval: time.Millisecond}, sampler, nil)
	gov.Start(context.Background())
	defer gov.Stop()

	sampler.heap.Store(4096 + 512)
	require.Eventually(t, func() bool { return gov.Usage() == 512 }, time.Second, time.Millisecond)
	assert.NoError(t, gov.Reason())
}
