package sandbox

import (
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
)

const (
	skipReasonKey  = "skip_reason"
	errorReasonKey = "error_reason"
)

// Thrown describes a failure raised by caller code.
type Thrown struct {
	Description string
	// ErrorReason is set when the thrown value carried its own error_reason.
	ErrorReason string
}

// Raw is what the host observed at the end of a run, before classification.
// At most one of HostErr, Termination and Thrown is set.
type Raw struct {
	HostErr     error
	Termination error
	Thrown      *Thrown
	Value       any
}

// Classify maps a raw run to an Outcome. It is pure: the same Raw always
// yields the same Outcome.
func Classify(raw Raw) Outcome {
	switch {
	case raw.HostErr != nil:
		msg := raw.HostErr.Error()
		return Outcome{Error: msg, ErrorReason: msg, Classification: ClassSandboxError}

	case raw.Termination != nil:
		msg := raw.Termination.Error()
		return Outcome{Error: msg, ErrorReason: msg, Classification: terminationClass(raw.Termination)}

	case raw.Thrown != nil:
		reason := raw.Thrown.ErrorReason
		if reason == "" {
			reason = raw.Thrown.Description
		}
		return Outcome{Error: raw.Thrown.Description, ErrorReason: reason, Classification: ClassFailed}
	}

	out := Outcome{Success: true, Result: raw.Value, Classification: ClassSuccess}
	if reason, ok := signal(raw.Value, errorReasonKey); ok {
		out.ErrorReason = reason
		out.Classification = ClassErrorReason
	}
	if reason, ok := signal(raw.Value, skipReasonKey); ok {
		out.SkipReason = reason
		out.Classification = ClassSkipped
	}
	return out
}

// Assemble classifies raw and attaches timing and console output, which
// every outcome carries.
func Assemble(raw Raw, elapsed time.Duration, console []string) Outcome {
	out := Classify(raw)
	out.ExecutionTimeMs = elapsed.Milliseconds()
	out.ConsoleOutput = console
	if out.ConsoleOutput == nil {
		out.ConsoleOutput = []string{}
	}
	return out
}

// Rejected is the outcome for a request refused before any code ran.
func Rejected(err error) Outcome {
	return Outcome{
		Error:          err.Error(),
		ConsoleOutput:  []string{},
		Classification: ClassRejected,
	}
}

func terminationClass(err error) Classification {
	switch {
	case errors.Is(err, ErrTimeout):
		return ClassTimeout
	case errors.Is(err, ErrMemoryLimit):
		return ClassMemoryLimit
	case errors.Is(err, ErrCancelled):
		return ClassCancelled
	}
	return ClassFailed
}

// signal reads a cooperative signal key from a returned object. Absent,
// null and empty values do not count. Non-string values are JSON-encoded.
func signal(value any, key string) (string, bool) {
	obj, ok := value.(map[string]any)
	if !ok {
		return "", false
	}
	v, ok := obj[key]
	if !ok || v == nil {
		return "", false
	}

	reason, ok := v.(string)
	if !ok {
		encoded, err := sonic.MarshalString(v)
		if err != nil {
			encoded = fmt.Sprint(v)
		}
		reason = encoded
	}
	return reason, reason != ""
}
