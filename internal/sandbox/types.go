package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/GriffinCanCode/scriptbox/internal/network"
)

var (
	ErrEmptyCode    = errors.New("Code cannot be empty")
	ErrCodeTooLarge = errors.New("Code size exceeds maximum")
)

// Request is one invocation as submitted by a caller.
type Request struct {
	Code             string          `json:"code"`
	TimeoutMs        int64           `json:"timeoutMs,omitempty"`
	MemoryLimitBytes int64           `json:"memoryLimitBytes,omitempty"`
	AllowedDomains   []string        `json:"allowedDomains,omitempty"`
	Input            json.RawMessage `json:"input,omitempty"`

	// Options is the older name for Input, used only when Input is absent.
	Options json.RawMessage `json:"options,omitempty"`
}

// Limits bounds what a request may ask for.
type Limits struct {
	DefaultTimeout     time.Duration
	MaxTimeout         time.Duration
	DefaultMemoryBytes int64
	MaxMemoryBytes     int64
	MaxCodeBytes       int
}

// DefaultLimits returns the service defaults: 5s/25s, 10MiB/50MiB, 100KiB of code.
func DefaultLimits() Limits {
	return Limits{
		DefaultTimeout:     5 * time.Second,
		MaxTimeout:         25 * time.Second,
		DefaultMemoryBytes: 10 << 20,
		MaxMemoryBytes:     50 << 20,
		MaxCodeBytes:       100 << 10,
	}
}

// Invocation is a validated request with every limit resolved.
type Invocation struct {
	Code           string
	Timeout        time.Duration
	MemoryLimit    int64
	AllowedDomains []string
	Input          json.RawMessage
}

// Normalize validates the request and clamps its limits. Missing or
// non-positive limits take the defaults; larger ones are cut to the maximum.
func (r Request) Normalize(l Limits) (Invocation, error) {
	if r.Code == "" {
		return Invocation{}, ErrEmptyCode
	}
	if l.MaxCodeBytes > 0 && len(r.Code) > l.MaxCodeBytes {
		return Invocation{}, fmt.Errorf("%w of %d bytes", ErrCodeTooLarge, l.MaxCodeBytes)
	}

	timeout := time.Duration(r.TimeoutMs) * time.Millisecond
	if r.TimeoutMs <= 0 {
		timeout = l.DefaultTimeout
	}
	if l.MaxTimeout > 0 && timeout > l.MaxTimeout {
		timeout = l.MaxTimeout
	}

	memory := r.MemoryLimitBytes
	if memory <= 0 {
		memory = l.DefaultMemoryBytes
	}
	if l.MaxMemoryBytes > 0 && memory > l.MaxMemoryBytes {
		memory = l.MaxMemoryBytes
	}

	input := r.Input
	if len(input) == 0 {
		input = r.Options
	}

	return Invocation{
		Code:           r.Code,
		Timeout:        timeout,
		MemoryLimit:    memory,
		AllowedDomains: append([]string(nil), r.AllowedDomains...),
		Input:          input,
	}, nil
}

// Config configures an Executor.
type Config struct {
	Limits               Limits
	Network              network.Config
	MaxCallStackSize     int
	MemorySampleInterval time.Duration
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		Limits:               DefaultLimits(),
		Network:              network.DefaultConfig(),
		MaxCallStackSize:     1024,
		MemorySampleInterval: 5 * time.Millisecond,
	}
}
