package worker

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/GriffinCanCode/scriptbox/internal/sandbox"
	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func shellRunner(t *testing.T, script string) *ProcessRunner {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh available")
	}
	r, err := NewProcessRunner(ProcessConfig{
		Path:      "/bin/sh",
		Args:      []string{"-c", script},
		KillGrace: 100 * time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)
	return r
}

func invocation() sandbox.Invocation {
	return sandbox.Invocation{Code: "1", Timeout: 200 * time.Millisecond, MemoryLimit: 10 << 20}
}

func TestProcessRunnerReply(t *testing.T) {
	r := shellRunner(t, `printf '%s' '{"outcome":{"success":true,"result":{"a":1},"skip_reason":"later","executionTimeMs":4,"consoleOutput":["[log] x"]},"classification":"skipped"}'`)

	out := r.Run(context.Background(), invocation())

	assert.True(t, out.Success)
	assert.Equal(t, map[string]any{"a": float64(1)}, out.Result)
	assert.Equal(t, "later", out.SkipReason)
	assert.Equal(t, sandbox.ClassSkipped, out.Classification)
	assert.Equal(t, []string{"[log] x"}, out.ConsoleOutput)
}

func TestProcessRunnerFailures(t *testing.T) {
	tests := []struct {
		name     string
		script   string
		contains string
	}{
		{"crash", `exit 3`, "exit status 3"},
		{"garbage", `printf 'not json'`, "decode reply"},
		{"empty reply", `printf '{}'`, "empty reply"},
		{"hung child", `while :; do :; done`, "killed after"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			out := shellRunner(t, tt.script).Run(context.Background(), invocation())

			assert.Less(t, time.Since(start), 3*time.Second)
			assert.False(t, out.Success)
			assert.Equal(t, sandbox.ClassSandboxError, out.Classification)
			assert.True(t, strings.HasPrefix(out.Error, "Sandbox worker failed: "), out.Error)
			assert.Contains(t, out.Error, tt.contains)
			assert.Equal(t, out.Error, out.ErrorReason)
			assert.NotNil(t, out.ConsoleOutput)
		})
	}
}

func TestProcessRunnerCancelled(t *testing.T) {
	r := shellRunner(t, `while :; do :; done`)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	inv := invocation()
	inv.Timeout = 5 * time.Second
	out := r.Run(ctx, inv)

	assert.False(t, out.Success)
	assert.Equal(t, sandbox.ClassCancelled, out.Classification)
	assert.Equal(t, "Execution cancelled", out.Error)
}

func TestProcessRunnerEnvironment(t *testing.T) {
	r, err := NewProcessRunner(ProcessConfig{Path: "/bin/true", MaxProcs: 1, MemoryOverhead: 1 << 20}, nil)
	require.NoError(t, err)

	env := r.environ(sandbox.Invocation{MemoryLimit: 10 << 20})
	assert.Equal(t, []string{"GOMAXPROCS=1", "GOMEMLIMIT=11534336"}, env)
	assert.Equal(t, []string{"worker"}, r.cfg.Args)
}

func TestServe(t *testing.T) {
	payload, err := sonic.Marshal(task{
		Config:  sandbox.DefaultConfig(),
		Request: sandbox.Request{Code: `console.log("child"); return 2 + 2;`},
	})
	require.NoError(t, err)

	var stdout bytes.Buffer
	require.NoError(t, Serve(context.Background(), bytes.NewReader(payload), &stdout, zap.NewNop()))

	var rep reply
	require.NoError(t, sonic.Unmarshal(stdout.Bytes(), &rep))
	require.NotNil(t, rep.Outcome)
	assert.True(t, rep.Outcome.Success)
	assert.Equal(t, float64(4), rep.Outcome.Result)
	assert.Equal(t, []string{"[log] child"}, rep.Outcome.ConsoleOutput)
	assert.Equal(t, sandbox.ClassSuccess, rep.Classification)
}

func TestServeRejectsBadTask(t *testing.T) {
	err := Serve(context.Background(), strings.NewReader("{"), &bytes.Buffer{}, zap.NewNop())
	assert.ErrorContains(t, err, "decode task")
}

func TestCappedBuffer(t *testing.T) {
	b := &cappedBuffer{limit: 4}
	n, err := b.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.True(t, b.truncated)
	assert.Equal(t, "abcd", b.String())
}
