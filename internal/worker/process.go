package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/GriffinCanCode/scriptbox/internal/sandbox"
	"github.com/GriffinCanCode/scriptbox/internal/shared/id"
	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

// ErrWorkerFailed prefixes every outcome produced when a child dies or
// answers with something unreadable.
var ErrWorkerFailed = errors.New("Sandbox worker failed")

const (
	defaultKillGrace      = 2 * time.Second
	defaultMemoryOverhead = 64 << 20
	defaultMaxOutput      = 64 << 20
	maxStderr             = 4 << 10
	maxTaskBytes          = 16 << 20
)

// task is written to the child's stdin.
type task struct {
	Config  sandbox.Config  `json:"config"`
	Request sandbox.Request `json:"request"`
}

// reply is read from the child's stdout. The classification travels beside
// the outcome because the outcome's wire format does not carry it.
type reply struct {
	Outcome        *sandbox.Outcome       `json:"outcome"`
	Classification sandbox.Classification `json:"classification"`
}

// ProcessConfig configures a ProcessRunner.
type ProcessConfig struct {
	// Path and Args start the child. Path defaults to the running binary and
	// Args to the hidden worker command.
	Path string
	Args []string

	Sandbox        sandbox.Config
	KillGrace      time.Duration
	MemoryOverhead int64
	MaxProcs       int
	MaxOutputBytes int
}

// ProcessRunner runs every invocation in a fresh child process.
type ProcessRunner struct {
	cfg    ProcessConfig
	logger *zap.Logger
}

// NewProcessRunner creates a runner. It fails only when the path of the
// running binary cannot be determined.
func NewProcessRunner(cfg ProcessConfig, logger *zap.Logger) (*ProcessRunner, error) {
	if cfg.Path == "" {
		path, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate worker binary: %w", err)
		}
		cfg.Path = path
	}
	if cfg.Args == nil {
		cfg.Args = []string{"worker"}
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = defaultKillGrace
	}
	if cfg.MemoryOverhead <= 0 {
		cfg.MemoryOverhead = defaultMemoryOverhead
	}
	if cfg.MaxProcs <= 0 {
		cfg.MaxProcs = 2
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutput
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcessRunner{cfg: cfg, logger: logger}, nil
}

func (r *ProcessRunner) Name() string { return IsolationProcess }

// Run starts a child, feeds it the invocation and waits for its reply. The
// child is killed once timeout plus grace has passed.
func (r *ProcessRunner) Run(ctx context.Context, inv sandbox.Invocation) *sandbox.Outcome {
	start := time.Now()
	logger := r.logger.With(zap.String("worker_id", id.NewWorkerID().String()))

	payload, err := sonic.Marshal(task{Config: r.cfg.Sandbox, Request: requestFor(inv)})
	if err != nil {
		return failed(logger, fmt.Errorf("encode task: %w", err), start)
	}

	deadline := inv.Timeout + r.cfg.KillGrace
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	stdout := &cappedBuffer{limit: r.cfg.MaxOutputBytes}
	stderr := &cappedBuffer{limit: maxStderr}

	cmd := exec.CommandContext(runCtx, r.cfg.Path, r.cfg.Args...)
	cmd.Env = r.environ(inv)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = time.Second

	err = cmd.Run()
	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		logger.Warn("Worker stderr", zap.String("output", msg))
	}

	switch {
	case ctx.Err() != nil:
		out := sandbox.Assemble(sandbox.Raw{Termination: sandbox.ErrCancelled}, time.Since(start), nil)
		return &out
	case runCtx.Err() != nil:
		return failed(logger, fmt.Errorf("killed after %s", deadline), start)
	case err != nil:
		return failed(logger, err, start)
	case stdout.truncated:
		return failed(logger, fmt.Errorf("output exceeds %d bytes", r.cfg.MaxOutputBytes), start)
	}

	var rep reply
	if err := sonic.Unmarshal(stdout.Bytes(), &rep); err != nil {
		return failed(logger, fmt.Errorf("decode reply: %w", err), start)
	}
	if rep.Outcome == nil {
		return failed(logger, errors.New("empty reply"), start)
	}
	rep.Outcome.Classification = rep.Classification
	return rep.Outcome
}

// environ gives the child nothing from the host environment.
func (r *ProcessRunner) environ(inv sandbox.Invocation) []string {
	return []string{
		"GOMAXPROCS=" + strconv.Itoa(r.cfg.MaxProcs),
		"GOMEMLIMIT=" + strconv.FormatInt(inv.MemoryLimit+r.cfg.MemoryOverhead, 10),
	}
}

func failed(logger *zap.Logger, err error, start time.Time) *sandbox.Outcome {
	logger.Error("Worker failed", zap.Error(err))
	out := sandbox.Assemble(sandbox.Raw{HostErr: fmt.Errorf("%w: %v", ErrWorkerFailed, err)}, time.Since(start), nil)
	return &out
}

func requestFor(inv sandbox.Invocation) sandbox.Request {
	return sandbox.Request{
		Code:             inv.Code,
		TimeoutMs:        inv.Timeout.Milliseconds(),
		MemoryLimitBytes: inv.MemoryLimit,
		AllowedDomains:   inv.AllowedDomains,
		Input:            inv.Input,
	}
}

// Serve is the child side: it reads one task from r, runs it and writes the
// reply to w. Host logs go to logger, never to w.
func Serve(ctx context.Context, r io.Reader, w io.Writer, logger *zap.Logger) error {
	data, err := io.ReadAll(io.LimitReader(r, maxTaskBytes))
	if err != nil {
		return fmt.Errorf("read task: %w", err)
	}

	var t task
	if err := sonic.Unmarshal(data, &t); err != nil {
		return fmt.Errorf("decode task: %w", err)
	}

	executor := sandbox.NewExecutor(t.Config, sandbox.WithLogger(logger))
	out := executor.Execute(ctx, t.Request)

	encoded, err := sonic.Marshal(reply{Outcome: out, Classification: out.Classification})
	if err != nil {
		return fmt.Errorf("encode reply: %w", err)
	}
	if _, err := w.Write(encoded); err != nil {
		return fmt.Errorf("write reply: %w", err)
	}
	return nil
}

// cappedBuffer keeps at most limit bytes and remembers whether it dropped any.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.buf.Len()
	if len(p) > room {
		b.truncated = true
		if room > 0 {
			b.buf.Write(p[:room])
		}
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) Bytes() []byte  { return b.buf.Bytes() }
func (b *cappedBuffer) String() string { return b.buf.String() }
