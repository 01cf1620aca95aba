package sandbox

import (
	"github.com/bytedance/sonic"
)

// Classification names the terminal state of one invocation.
type Classification string

const (
	ClassSuccess      Classification = "success"
	ClassSkipped      Classification = "skipped"
	ClassErrorReason  Classification = "error_reason"
	ClassFailed       Classification = "failed"
	ClassTimeout      Classification = "timeout"
	ClassMemoryLimit  Classification = "memory_limit"
	ClassCancelled    Classification = "cancelled"
	ClassRejected     Classification = "rejected"
	ClassSandboxError Classification = "sandbox_error"
)

// Outcome is the structured result of one invocation.
type Outcome struct {
	Success         bool
	Result          any
	Error           string
	SkipReason      string
	ErrorReason     string
	ExecutionTimeMs int64
	ConsoleOutput   []string

	// Classification is not part of the wire format.
	Classification Classification
}

type outcomeJSON struct {
	Success         bool     `json:"success"`
	Result          *any     `json:"result,omitempty"`
	Error           string   `json:"error,omitempty"`
	SkipReason      string   `json:"skip_reason,omitempty"`
	ErrorReason     string   `json:"error_reason,omitempty"`
	ExecutionTimeMs int64    `json:"executionTimeMs"`
	ConsoleOutput   []string `json:"consoleOutput"`
}

// MarshalJSON writes result whenever the run succeeded, even when it is
// null, and always writes consoleOutput as an array.
func (o Outcome) MarshalJSON() ([]byte, error) {
	wire := outcomeJSON{
		Success:         o.Success,
		Error:           o.Error,
		SkipReason:      o.SkipReason,
		ErrorReason:     o.ErrorReason,
		ExecutionTimeMs: o.ExecutionTimeMs,
		ConsoleOutput:   o.ConsoleOutput,
	}
	if wire.ConsoleOutput == nil {
		wire.ConsoleOutput = []string{}
	}
	if o.Success {
		result := o.Result
		wire.Result = &result
	}
	return sonic.Marshal(wire)
}

// UnmarshalJSON reads the wire format back.
func (o *Outcome) UnmarshalJSON(data []byte) error {
	var wire outcomeJSON
	if err := sonic.Unmarshal(data, &wire); err != nil {
		return err
	}

	*o = Outcome{
		Success:         wire.Success,
		Error:           wire.Error,
		SkipReason:      wire.SkipReason,
		ErrorReason:     wire.ErrorReason,
		ExecutionTimeMs: wire.ExecutionTimeMs,
		ConsoleOutput:   wire.ConsoleOutput,
	}
	if wire.Result != nil {
		o.Result = *wire.Result
	}
	if o.ConsoleOutput == nil {
		o.ConsoleOutput = []string{}
	}
	return nil
}
