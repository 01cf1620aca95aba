package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/scriptbox/internal/sandbox"
	"go.uber.org/zap"
)

var (
	ErrPoolClosed = errors.New("worker pool is closed")
	ErrTimeout    = errors.New("worker acquisition timeout")
)

// Observer receives invocation metrics. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObserveInvocation(classification string, elapsed time.Duration, consoleLines int)
	SetInFlight(n int)
}

type nopObserver struct{}

func (nopObserver) ObserveInvocation(string, time.Duration, int) {}
func (nopObserver) SetInFlight(int)                              {}

// Config sizes a pool.
type Config struct {
	Size           int
	AcquireTimeout time.Duration
	Limits         sandbox.Limits
}

// DefaultConfig returns 8 slots and a 5s acquire timeout
func DefaultConfig() Config {
	return Config{
		Size:           8,
		AcquireTimeout: 5 * time.Second,
		Limits:         sandbox.DefaultLimits(),
	}
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Size      int    `json:"size"`
	InFlight  int    `json:"in_flight"`
	Available int    `json:"available"`
	Closed    bool   `json:"closed"`
	Isolation string `json:"isolation"`
}

// Pool bounds concurrent invocations
type Pool struct {
	cfg      Config
	runner   Runner
	observer Observer
	logger   *zap.Logger

	slots    chan struct{}
	done     chan struct{}
	inFlight atomic.Int64
	wg       sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewPool creates a pool that runs invocations with runner.
func NewPool(runner Runner, cfg Config, observer Observer, logger *zap.Logger) *Pool {
	defaults := DefaultConfig()
	if cfg.Size <= 0 {
		cfg.Size = defaults.Size
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = defaults.AcquireTimeout
	}
	if cfg.Limits == (sandbox.Limits{}) {
		cfg.Limits = defaults.Limits
	}
	if observer == nil {
		observer = nopObserver{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	slots := make(chan struct{}, cfg.Size)
	for i := 0; i < cfg.Size; i++ {
		slots <- struct{}{}
	}

	return &Pool{
		cfg:      cfg,
		runner:   runner,
		observer: observer,
		logger:   logger,
		slots:    slots,
		done:     make(chan struct{}),
	}
}

// Execute validates req, waits for a free slot and runs it. An error means
// the pool refused the request; the outcome of an admitted request is never
// an error.
func (p *Pool) Execute(ctx context.Context, req sandbox.Request) (*sandbox.Outcome, error) {
	inv, err := req.Normalize(p.cfg.Limits)
	if err != nil {
		out := sandbox.Rejected(err)
		p.observe(&out)
		return &out, nil
	}

	if err := p.acquire(ctx); err != nil {
		return nil, err
	}
	defer p.release()

	out := p.runner.Run(ctx, inv)
	p.observe(out)
	return out, nil
}

func (p *Pool) acquire(ctx context.Context) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrPoolClosed
	}
	p.wg.Add(1)
	p.mu.RUnlock()

	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()

	select {
	case <-p.slots:
		p.observer.SetInFlight(int(p.inFlight.Add(1)))
		return nil
	case <-p.done:
		p.wg.Done()
		return ErrPoolClosed
	case <-ctx.Done():
		p.wg.Done()
		return ctx.Err()
	case <-timer.C:
		p.wg.Done()
		p.logger.Warn("Worker pool saturated", zap.Int("size", p.cfg.Size))
		return ErrTimeout
	}
}

func (p *Pool) release() {
	p.observer.SetInFlight(int(p.inFlight.Add(-1)))
	p.slots <- struct{}{}
	p.wg.Done()
}

func (p *Pool) observe(out *sandbox.Outcome) {
	p.observer.ObserveInvocation(string(out.Classification),
		time.Duration(out.ExecutionTimeMs)*time.Millisecond, len(out.ConsoleOutput))
}

// Close refuses new work and waits for in-flight invocations to finish.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

// Stats returns pool statistics
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	inFlight := int(p.inFlight.Load())
	return Stats{
		Size:      p.cfg.Size,
		InFlight:  inFlight,
		Available: p.cfg.Size - inFlight,
		Closed:    p.closed,
		Isolation: p.runner.Name(),
	}
}

// Limits returns the request limits applied by Execute
func (p *Pool) Limits() sandbox.Limits { return p.cfg.Limits }
