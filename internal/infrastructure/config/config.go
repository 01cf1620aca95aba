package config

import (
	"fmt"
	"time"

	"github.com/GriffinCanCode/scriptbox/internal/network"
	"github.com/GriffinCanCode/scriptbox/internal/sandbox"
	"github.com/GriffinCanCode/scriptbox/internal/worker"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Sandbox   SandboxConfig
	Worker    WorkerConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string `envconfig:"PORT" default:"8000"`
	Host         string `envconfig:"HOST" default:"0.0.0.0"`
	MaxBodyBytes int64  `envconfig:"MAX_BODY_BYTES" default:"1048576"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"20"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"40"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// SandboxConfig holds per-invocation limits and fetch settings.
type SandboxConfig struct {
	DefaultTimeoutMs   int64 `envconfig:"SANDBOX_DEFAULT_TIMEOUT_MS" default:"5000"`
	MaxTimeoutMs       int64 `envconfig:"SANDBOX_MAX_TIMEOUT_MS" default:"25000"`
	DefaultMemoryBytes int64 `envconfig:"SANDBOX_DEFAULT_MEMORY_BYTES" default:"10485760"`
	MaxMemoryBytes     int64 `envconfig:"SANDBOX_MAX_MEMORY_BYTES" default:"52428800"`
	MaxCodeBytes       int   `envconfig:"SANDBOX_MAX_CODE_BYTES" default:"102400"`
	MaxCallStackSize   int   `envconfig:"SANDBOX_MAX_CALL_STACK" default:"1024"`
	MemorySampleMs     int64 `envconfig:"SANDBOX_MEMORY_SAMPLE_MS" default:"5"`

	FetchTimeoutMs        int64   `envconfig:"SANDBOX_FETCH_TIMEOUT_MS" default:"5000"`
	FetchMaxRequests      int     `envconfig:"SANDBOX_FETCH_MAX_REQUESTS" default:"50"`
	FetchMaxResponseBytes int64   `envconfig:"SANDBOX_FETCH_MAX_RESPONSE_BYTES" default:"5242880"`
	FetchMaxRedirects     int     `envconfig:"SANDBOX_FETCH_MAX_REDIRECTS" default:"5"`
	FetchRatePerSecond    float64 `envconfig:"SANDBOX_FETCH_RATE" default:"0"`
	FetchBreakerThreshold uint32  `envconfig:"SANDBOX_FETCH_BREAKER_THRESHOLD" default:"3"`
}

// WorkerConfig holds pool and isolation settings.
type WorkerConfig struct {
	PoolSize         int    `envconfig:"WORKER_POOL_SIZE" default:"8"`
	Isolation        string `envconfig:"WORKER_ISOLATION" default:"process"`
	AcquireTimeoutMs int64  `envconfig:"WORKER_ACQUIRE_TIMEOUT_MS" default:"5000"`
	KillGraceMs      int64  `envconfig:"WORKER_KILL_GRACE_MS" default:"2000"`
	MaxProcs         int    `envconfig:"WORKER_MAX_PROCS" default:"2"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8000",
			Host:         "0.0.0.0",
			MaxBodyBytes: 1 << 20,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
			Enabled:           true,
		},
		Sandbox: SandboxConfig{
			DefaultTimeoutMs:      5000,
			MaxTimeoutMs:          25000,
			DefaultMemoryBytes:    10 << 20,
			MaxMemoryBytes:        50 << 20,
			MaxCodeBytes:          100 << 10,
			MaxCallStackSize:      1024,
			MemorySampleMs:        5,
			FetchTimeoutMs:        5000,
			FetchMaxRequests:      50,
			FetchMaxResponseBytes: 5 << 20,
			FetchMaxRedirects:     5,
			FetchBreakerThreshold: 3,
		},
		Worker: WorkerConfig{
			PoolSize:         8,
			Isolation:        worker.IsolationProcess,
			AcquireTimeoutMs: 5000,
			KillGraceMs:      2000,
			MaxProcs:         2,
		},
	}
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	switch c.Worker.Isolation {
	case worker.IsolationProcess, worker.IsolationInProcess:
	default:
		return fmt.Errorf("invalid WORKER_ISOLATION %q: want %q or %q",
			c.Worker.Isolation, worker.IsolationProcess, worker.IsolationInProcess)
	}
	// In-process runs share one heap reading, so only one may run at a time.
	if c.Worker.Isolation == worker.IsolationInProcess && c.Worker.PoolSize > 1 {
		return fmt.Errorf("WORKER_POOL_SIZE must be 1 with WORKER_ISOLATION=%s, got %d",
			worker.IsolationInProcess, c.Worker.PoolSize)
	}
	if c.Sandbox.MaxTimeoutMs < c.Sandbox.DefaultTimeoutMs {
		return fmt.Errorf("SANDBOX_MAX_TIMEOUT_MS (%d) is below the default timeout (%d)",
			c.Sandbox.MaxTimeoutMs, c.Sandbox.DefaultTimeoutMs)
	}
	if c.Sandbox.MaxMemoryBytes < c.Sandbox.DefaultMemoryBytes {
		return fmt.Errorf("SANDBOX_MAX_MEMORY_BYTES (%d) is below the default memory limit (%d)",
			c.Sandbox.MaxMemoryBytes, c.Sandbox.DefaultMemoryBytes)
	}
	return nil
}

// ToSandbox converts the environment settings into an executor config.
func (s SandboxConfig) ToSandbox() sandbox.Config {
	return sandbox.Config{
		Limits: sandbox.Limits{
			DefaultTimeout:     millis(s.DefaultTimeoutMs),
			MaxTimeout:         millis(s.MaxTimeoutMs),
			DefaultMemoryBytes: s.DefaultMemoryBytes,
			MaxMemoryBytes:     s.MaxMemoryBytes,
			MaxCodeBytes:       s.MaxCodeBytes,
		},
		Network: network.Config{
			RequestTimeout:   millis(s.FetchTimeoutMs),
			MaxRequests:      s.FetchMaxRequests,
			MaxResponseBytes: s.FetchMaxResponseBytes,
			MaxRedirects:     s.FetchMaxRedirects,
			RatePerSecond:    s.FetchRatePerSecond,
			BreakerThreshold: s.FetchBreakerThreshold,
		},
		MaxCallStackSize:     s.MaxCallStackSize,
		MemorySampleInterval: millis(s.MemorySampleMs),
	}
}

// ToPool converts the worker settings into a pool config.
func (w WorkerConfig) ToPool(limits sandbox.Limits) worker.Config {
	return worker.Config{
		Size:           w.PoolSize,
		AcquireTimeout: millis(w.AcquireTimeoutMs),
		Limits:         limits,
	}
}

// KillGrace is how long a process worker may overrun its timeout
func (w WorkerConfig) KillGrace() time.Duration { return millis(w.KillGraceMs) }

func millis(ms int64) time.Duration { return time.Duration(ms) * time.Millisecond }
