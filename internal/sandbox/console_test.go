package sandbox

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type budgetFunc func(int64) error

func (f budgetFunc) Reserve(n int64) error { return f(n) }

func TestConsoleAppendFormatsLines(t *testing.T) {
	c := NewConsole(nil)

	require.NoError(t, c.Append("log", []string{"Hello", "World"}))
	require.NoError(t, c.Append("error", []string{"Warning:", "something", "happened"}))
	require.NoError(t, c.Append("info", nil))

	assert.Equal(t, []string{
		"[log] Hello World",
		"[error] Warning: something happened",
		"[info] ",
	}, c.Lines())
	assert.Equal(t, 3, c.Len())
}

func TestConsoleChargesBudget(t *testing.T) {
	var charged int64
	c := NewConsole(budgetFunc(func(n int64) error {
		charged += n
		return nil
	}))

	require.NoError(t, c.Append("log", []string{"abc"}))
	assert.Equal(t, int64(len("[log] abc")), charged)
}

func TestConsoleDropsRefusedLines(t *testing.T) {
	refuse := errors.New("Memory limit exceeded")
	c := NewConsole(budgetFunc(func(int64) error { return refuse }))

	assert.ErrorIs(t, c.Append("log", []string{"too much"}), refuse)
	assert.Empty(t, c.Lines())
	assert.NotNil(t, c.Lines())
}

func TestConsoleLinesAreCopies(t *testing.T) {
	c := NewConsole(nil)
	require.NoError(t, c.Append("warn", []string{"x"}))

	lines := c.Lines()
	lines[0] = "mutated"

	assert.Equal(t, []string{"[warn] x"}, c.Lines())
}
