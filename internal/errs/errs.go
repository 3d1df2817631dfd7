// Package errs implements the error taxonomy and the retry/fatal/
// escalation policy, plus the process-wide mock-mode switch.
//
// Grounded on team.TeamError (kadirpekel/hector/team/services.go) for the
// tagged-error shape.
package errs

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a failure for retry/fatal/escalation purposes.
type Kind string

const (
	KindTransient     Kind = "transient"
	KindAuthoritative Kind = "authoritative"
	KindFatal         Kind = "fatal"
	KindCancellation  Kind = "cancellation"
)

// AgentError is the tagged error type surfaced by agent invocations and
// by the core components, modeled on TeamError's {Component, Operation,
// Message, Err} shape.
type AgentError struct {
	Kind      Kind
	Component string
	Operation string
	Message   string
	Err       error
	Timestamp time.Time
}

func (e *AgentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Component, e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Component, e.Operation, e.Message)
}

func (e *AgentError) Unwrap() error { return e.Err }

// New creates an AgentError of the given kind.
func New(kind Kind, component, operation, message string, err error) *AgentError {
	return &AgentError{Kind: kind, Component: component, Operation: operation, Message: message, Err: err, Timestamp: time.Now()}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *AgentError; otherwise it defaults to KindAuthoritative, the
// no-retry/no-special-case default for failures whose provenance the
// engine cannot classify.
func KindOf(err error) Kind {
	var ae *AgentError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindAuthoritative
}

// RetryPolicy configures the transient-error backoff.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	CapDelay   time.Duration
}

// DefaultRetryPolicy returns the standard backoff: 3 retries, 1s base
// delay, 30s cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: time.Second, CapDelay: 30 * time.Second}
}

// Delay returns the exponential backoff delay before retry attempt n
// (1-indexed), capped at CapDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > p.CapDelay {
			return p.CapDelay
		}
	}
	if d > p.CapDelay {
		return p.CapDelay
	}
	return d
}

// MockPolicy is the single environment-controlled policy object injected
// into the error handler and any MCP-client-shaped collaborator. It is
// read once at startup; the core never references the environment
// directly afterward.
type MockPolicy struct {
	UseMockMode bool
	UseMockLLM  bool
}

// ErrTransientExhausted is returned when a transient error's retries are
// exhausted with mock mode off.
var ErrTransientExhausted = errors.New("errs: transient error retries exhausted")
