package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GriffinCanCode/scriptbox/internal/network"
	"github.com/GriffinCanCode/scriptbox/internal/shared/id"
	"github.com/dop251/goja"
	"go.uber.org/zap"
)

var (
	ErrSandboxInit = errors.New("Sandbox initialization failed")
	ErrInternal    = errors.New("Internal sandbox error")

	errUnsettled = errors.New("Execution did not complete: the entry point promise never settled")
)

const stackOverflowMessage = "RangeError: Maximum call stack size exceeded"

// Observer receives per-invocation events for metrics. Implementations must
// be safe for concurrent use.
type Observer interface {
	ObserveFetch(kind network.DecisionKind)
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the host logger. Caller console output never reaches it.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithObserver reports fetch decisions to o.
func WithObserver(o Observer) Option {
	return func(e *Executor) { e.observer = o }
}

// WithNetwork replaces the resolver and dialer used by fetch.
func WithNetwork(resolver network.Resolver, dial network.DialFunc) Option {
	return func(e *Executor) {
		e.resolver = resolver
		e.dial = dial
	}
}

func withSampler(s MemorySampler) Option {
	return func(e *Executor) { e.sampler = s }
}

// Executor runs untrusted scripts. Every call builds a fresh interpreter.
// The default memory sampler reads the whole process heap, so concurrent
// calls on one Executor are charged for each other's allocations.
type Executor struct {
	cfg      Config
	logger   *zap.Logger
	observer Observer
	resolver network.Resolver
	dial     network.DialFunc
	sampler  MemorySampler
}

// NewExecutor creates an executor
func NewExecutor(cfg Config, opts ...Option) *Executor {
	defaults := DefaultConfig()
	if cfg.Limits == (Limits{}) {
		cfg.Limits = defaults.Limits
	}
	if cfg.MaxCallStackSize <= 0 {
		cfg.MaxCallStackSize = defaults.MaxCallStackSize
	}
	if cfg.MemorySampleInterval <= 0 {
		cfg.MemorySampleInterval = defaults.MemorySampleInterval
	}

	e := &Executor{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Limits returns the request limits applied by Execute
func (e *Executor) Limits() Limits { return e.cfg.Limits }

// Execute validates req and runs it. It never returns nil and never panics;
// every failure is described by the outcome.
func (e *Executor) Execute(ctx context.Context, req Request) *Outcome {
	inv, err := req.Normalize(e.cfg.Limits)
	if err != nil {
		e.logger.Info("Invocation rejected",
			zap.Int("code_bytes", len(req.Code)),
			zap.Error(err))
		out := Rejected(err)
		return &out
	}
	return e.Run(ctx, inv)
}

// Run executes an already validated invocation.
func (e *Executor) Run(ctx context.Context, inv Invocation) *Outcome {
	invocationID := id.NewInvocationID()
	logger := e.logger.With(zap.String("invocation_id", string(invocationID)))
	logger.Debug("Invocation started",
		zap.Int("code_bytes", len(inv.Code)),
		zap.Duration("timeout", inv.Timeout),
		zap.Int64("memory_limit", inv.MemoryLimit),
		zap.Int("allowed_domains", len(inv.AllowedDomains)))

	s := &session{exec: e, inv: inv, logger: logger}
	raw := s.execute(ctx)
	elapsed := s.finish()
	if raw.HostErr == nil && s.gov != nil {
		if reason := s.gov.Reason(); reason != nil {
			raw = Raw{Termination: reason}
		}
	}

	out := Assemble(raw, elapsed, s.consoleLines())

	fields := []zap.Field{
		zap.String("classification", string(out.Classification)),
		zap.Int64("duration_ms", out.ExecutionTimeMs),
		zap.Int("console_lines", len(out.ConsoleOutput)),
	}
	if s.gov != nil {
		fields = append(fields, zap.Int64("heap_growth_bytes", s.gov.Usage()))
	}
	if s.mediator != nil {
		fields = append(fields, zap.Int64("fetches", s.mediator.Requests()))
	}
	switch out.Classification {
	case ClassSandboxError:
		logger.Error("Invocation failed in sandbox", append(fields, zap.String("error", out.Error))...)
	case ClassSuccess, ClassSkipped, ClassErrorReason:
		logger.Info("Invocation completed", fields...)
	default:
		logger.Info("Invocation failed", fields...)
	}
	return &out
}

// session is the state of one invocation.
type session struct {
	exec   *Executor
	inv    Invocation
	logger *zap.Logger

	env      *environment
	gov      *Governor
	console  *Console
	mediator *network.Mediator
	input    goja.Value
	ctx      context.Context
}

func (s *session) setup() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	cfg := s.exec.cfg
	s.env, err = newEnvironment(cfg.MaxCallStackSize)
	if err != nil {
		return err
	}

	s.gov = NewGovernor(GovernorConfig{
		Timeout:        s.inv.Timeout,
		MemoryLimit:    s.inv.MemoryLimit,
		SampleInterval: cfg.MemorySampleInterval,
	}, s.exec.sampler, s.env.vm.Interrupt)

	s.console = NewConsole(s.gov)
	s.mediator = network.New(cfg.Network, s.inv.AllowedDomains, network.Options{
		Resolver:   s.exec.resolver,
		Dial:       s.exec.dial,
		Budget:     s.gov,
		OnDecision: s.observe,
		Logger:     s.logger,
	})

	if err := s.env.guardStrings(s.gov); err != nil {
		return err
	}
	if err := s.env.lockdown(); err != nil {
		return err
	}

	s.input, err = s.env.install(Capabilities{
		Fetch:   s.fetch,
		Console: s.console,
		Input:   s.inv.Input,
	})
	return err
}

func (s *session) execute(parent context.Context) (raw Raw) {
	if err := s.setup(); err != nil {
		return Raw{HostErr: fmt.Errorf("%w: %v", ErrSandboxInit, err)}
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Recovered panic in sandbox", zap.Any("panic", r), zap.Stack("stack"))
			raw = Raw{HostErr: fmt.Errorf("%w: %v", ErrInternal, r)}
		}
	}()

	s.ctx = s.gov.Start(parent)

	prg, err := compileEntry(s.inv.Code)
	if err != nil {
		return Raw{Thrown: &Thrown{Description: err.Error()}}
	}
	if _, err := s.env.vm.RunProgram(prg); err != nil {
		return s.failure(err)
	}

	entry, ok := goja.AssertFunction(s.env.vm.Get(entryName))
	if !ok {
		return Raw{HostErr: fmt.Errorf("%w: entry point is not callable", ErrInternal)}
	}
	ret, err := entry(goja.Undefined(), s.input)
	if err != nil {
		return s.failure(err)
	}

	value, thrown := s.settle(ret)
	if thrown != nil {
		return Raw{Thrown: thrown}
	}

	result, err := s.env.export(value)
	if err != nil {
		return s.failure(err)
	}
	return Raw{Value: result}
}

// settle unwraps the promise returned by the async entry point. The job
// queue has been drained by the time the call returns.
func (s *session) settle(ret goja.Value) (goja.Value, *Thrown) {
	if ret == nil {
		return nil, nil
	}
	p, ok := ret.Export().(*goja.Promise)
	if !ok {
		return ret, nil
	}

	switch p.State() {
	case goja.PromiseStateFulfilled:
		return p.Result(), nil
	case goja.PromiseStateRejected:
		return nil, s.env.describe(p.Result())
	}
	return nil, &Thrown{Description: errUnsettled.Error()}
}

func (s *session) failure(err error) Raw {
	var (
		interrupted *goja.InterruptedError
		overflow    *goja.StackOverflowError
		exception   *goja.Exception
	)

	switch {
	case errors.As(err, &interrupted):
		if reason := s.gov.Reason(); reason != nil {
			return Raw{Termination: reason}
		}
		return Raw{Termination: fmt.Errorf("%w: %v", ErrCancelled, interrupted.Value())}
	case errors.As(err, &overflow):
		return Raw{Thrown: &Thrown{Description: stackOverflowMessage}}
	case errors.As(err, &exception):
		return Raw{Thrown: s.env.describe(exception.Value())}
	}
	return Raw{Thrown: &Thrown{Description: err.Error()}}
}

func (s *session) fetch(rawURL, method string) network.Response {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return s.mediator.Fetch(ctx, rawURL, method)
}

func (s *session) observe(d network.Decision) {
	if s.exec.observer != nil {
		s.exec.observer.ObserveFetch(d.Kind)
	}
}

// finish disarms the governor and releases network resources.
func (s *session) finish() (elapsed time.Duration) {
	if s.mediator != nil {
		s.mediator.Close()
	}
	if s.gov != nil {
		elapsed = s.gov.Stop()
	}
	return elapsed
}

func (s *session) consoleLines() []string {
	if s.console == nil {
		return []string{}
	}
	return s.console.Lines()
}
