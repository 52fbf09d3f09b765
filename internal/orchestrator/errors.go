package orchestrator

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNoBackends means the registry is empty or every backend is disabled
// (or the caller pinned a backend that is unknown or disabled).
var ErrNoBackends = errors.New("no backends available")

// RateLimitedError means admission was denied for every candidate and no
// invocation was attempted.
type RateLimitedError struct {
	Backend    string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("backend %s rate limited, retry after %s", e.Backend, e.RetryAfter)
}

// InvocationError wraps one failed backend attempt. It is internal to the
// fallback loop and only reaches callers inside an ExhaustedError.
type InvocationError struct {
	Backend  string
	TimedOut bool
	Err      error
}

func (e *InvocationError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("backend %s timed out: %v", e.Backend, e.Err)
	}
	return fmt.Sprintf("backend %s failed: %v", e.Backend, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// Attempt records one entry of an exhausted fallback chain.
type Attempt struct {
	Backend string `json:"backend"`
	Reason  string `json:"reason"`
}

// ExhaustedError means the primary and every fallback candidate failed.
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s (%s)", a.Backend, a.Reason)
	}
	return "all backends exhausted: " + strings.Join(parts, ", ")
}

// ConfigError means a config mutation or import was rejected. The previous
// configuration is always left untouched.
type ConfigError struct {
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid configuration: %s: %v", e.Reason, e.Err)
	}
	return "invalid configuration: " + e.Reason
}

func (e *ConfigError) Unwrap() error { return e.Err }
