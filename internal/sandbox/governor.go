package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrTimeout     = errors.New("Execution timeout exceeded")
	ErrMemoryLimit = errors.New("Memory limit exceeded")
	ErrCancelled   = errors.New("Execution cancelled")
)

// Budget is charged before the host allocates on behalf of caller code.
type Budget interface {
	Reserve(n int64) error
}

// GovernorConfig bounds one run.
type GovernorConfig struct {
	Timeout        time.Duration
	MemoryLimit    int64
	SampleInterval time.Duration
}

// Governor enforces the deadline and memory ceiling of one run. The first
// termination reason wins; later ones are ignored.
type Governor struct {
	cfg       GovernorConfig
	sampler   MemorySampler
	interrupt func(v any)

	start    time.Time
	baseline uint64
	usage    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	timer  *time.Timer
	stop   chan struct{}
	wg     sync.WaitGroup

	terminate sync.Once
	mu        sync.Mutex
	reason    error

	stopOnce sync.Once
	elapsed  time.Duration
}

// NewGovernor creates a governor. interrupt is called once, from any
// goroutine, with the termination reason.
func NewGovernor(cfg GovernorConfig, sampler MemorySampler, interrupt func(v any)) *Governor {
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = 5 * time.Millisecond
	}
	if sampler == nil {
		sampler = newRuntimeSampler()
	}
	return &Governor{
		cfg:       cfg,
		sampler:   sampler,
		interrupt: interrupt,
		stop:      make(chan struct{}),
	}
}

// Start arms the deadline and the memory watcher. The returned context is
// cancelled on termination and must bound every blocking host call.
func (g *Governor) Start(parent context.Context) context.Context {
	g.ctx, g.cancel = context.WithCancel(parent)
	g.baseline = g.sampler.HeapBytes()
	g.start = time.Now()

	g.timer = time.AfterFunc(g.cfg.Timeout, func() {
		g.Terminate(ErrTimeout)
	})

	g.wg.Add(1)
	go g.watch(parent)

	return g.ctx
}

func (g *Governor) watch(parent context.Context) {
	defer g.wg.Done()

	ticker := time.NewTicker(g.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stop:
			return
		case <-parent.Done():
			g.Terminate(ErrCancelled)
			return
		case <-ticker.C:
			if g.overLimit() {
				g.Terminate(g.memoryError())
				return
			}
		}
	}
}

// overLimit confirms a breach with a forced collection so short-lived
// garbage is not charged to the run.
func (g *Governor) overLimit() bool {
	if g.sample() <= g.cfg.MemoryLimit {
		return false
	}
	g.sampler.Collect()
	return g.sample() > g.cfg.MemoryLimit
}

func (g *Governor) sample() int64 {
	var used int64
	if current := g.sampler.HeapBytes(); current > g.baseline {
		used = int64(current - g.baseline)
	}
	g.usage.Store(used)
	return used
}

func (g *Governor) memoryError() error {
	return fmt.Errorf("%w (limit %d bytes)", ErrMemoryLimit, g.cfg.MemoryLimit)
}

// Reserve checks that n more bytes fit in the budget. A reservation that
// does not fit terminates the run before the allocation happens.
func (g *Governor) Reserve(n int64) error {
	if reason := g.Reason(); reason != nil {
		return reason
	}
	if n <= 0 {
		return nil
	}
	if n > g.cfg.MemoryLimit-g.usage.Load() {
		err := g.memoryError()
		g.Terminate(err)
		return err
	}
	return nil
}

// Terminate stops the run with reason. It is safe to call from any
// goroutine and any number of times.
func (g *Governor) Terminate(reason error) {
	g.terminate.Do(func() {
		g.mu.Lock()
		g.reason = reason
		g.mu.Unlock()

		if g.interrupt != nil {
			g.interrupt(reason)
		}
		if g.cancel != nil {
			g.cancel()
		}
	})
}

// Reason returns the termination reason, or nil if the run was not terminated.
func (g *Governor) Reason() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.reason
}

// Usage returns the last sampled heap growth in bytes.
func (g *Governor) Usage() int64 {
	return g.usage.Load()
}

// Stop disarms the governor and returns the elapsed run time.
func (g *Governor) Stop() time.Duration {
	g.stopOnce.Do(func() {
		if g.start.IsZero() {
			return
		}
		g.elapsed = time.Since(g.start)
		g.timer.Stop()
		close(g.stop)
		g.wg.Wait()
		g.cancel()
	})
	return g.elapsed
}
