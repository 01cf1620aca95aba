package sandbox

import (
	"strings"
	"sync"
)

// consoleLevels are the console methods installed into the runtime.
var consoleLevels = []string{"log", "info", "warn", "error", "debug", "trace"}

// LogEntry is one captured console call.
type LogEntry struct {
	Level   string
	Message string
}

// String renders the entry as it appears in consoleOutput.
func (e LogEntry) String() string {
	return "[" + e.Level + "] " + e.Message
}

// Console accumulates console output for one invocation, in call order.
type Console struct {
	budget Budget

	mu      sync.Mutex
	entries []LogEntry
}

// NewConsole creates a console that charges every line to budget.
func NewConsole(budget Budget) *Console {
	return &Console{budget: budget}
}

// Append records one call. Arguments are joined by a single space. The line
// is dropped if the budget refuses it.
func (c *Console) Append(level string, args []string) error {
	msg := strings.Join(args, " ")
	if c.budget != nil {
		if err := c.budget.Reserve(int64(len(level) + len(msg) + 3)); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.entries = append(c.entries, LogEntry{Level: level, Message: msg})
	c.mu.Unlock()
	return nil
}

// Lines returns the captured output as tagged lines. Never nil.
func (c *Console) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	lines := make([]string, len(c.entries))
	for i, e := range c.entries {
		lines[i] = e.String()
	}
	return lines
}

// Len returns the number of captured lines
func (c *Console) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}
