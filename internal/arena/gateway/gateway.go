// Package gateway defines the uniform call/stream interface to external
// language models (spec.md §4.1). Concrete implementations are wired at
// startup and never swapped at runtime, the same dynamic-dispatch
// discipline the reference server uses for its store and agent
// coordinator.
package gateway

import (
	"context"
	"errors"
	"time"
)

type ErrorKind string

const (
	ErrKindTimeout         ErrorKind = "Timeout"
	ErrKindRateLimited     ErrorKind = "RateLimited"
	ErrKindProviderError   ErrorKind = "ProviderError"
	ErrKindContentFiltered ErrorKind = "ContentFiltered"
	ErrKindInvalid         ErrorKind = "Invalid"
)

// ModelError is the uniform failure shape every Gateway implementation
// must return on a failed Invoke/Stream, per spec.md §4.1.
type ModelError struct {
	Kind    ErrorKind
	ModelID string
	Err     error
}

func (e *ModelError) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Err.Error()
	}
	return string(e.Kind)
}

func (e *ModelError) Unwrap() error { return e.Err }

// Retryable reports whether spec.md §4.1's retry policy applies to this
// error kind: only Timeout and RateLimited are retried.
func (e *ModelError) Retryable() bool {
	return e.Kind == ErrKindTimeout || e.Kind == ErrKindRateLimited
}

func AsModelError(err error) (*ModelError, bool) {
	var me *ModelError
	if errors.As(err, &me) {
		return me, true
	}
	return nil, false
}

// Usage reports token accounting for a completed Invoke call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Opts carries the per-call tuning knobs named in spec.md §4.1.
type Opts struct {
	Temperature float64
	MaxTokens   int
	Deadline    time.Duration
	Structured  bool
	Schema      map[string]any
}

func (o Opts) deadlineOrDefault() time.Duration {
	if o.Deadline <= 0 {
		return 120 * time.Second
	}
	return o.Deadline
}

// Delta is one token (or small token-group) emitted by Stream. Final is
// true on the terminal delta; Err is set only on the terminal delta of a
// stream that failed.
type Delta struct {
	Text  string
	Final bool
	Err   error
}

// Gateway is the capability interface every model provider adapter
// implements. Invoke and Stream both honor ctx cancellation: an aborted
// ctx aborts the underlying HTTP call, but any deltas already delivered
// to the caller remain valid (spec.md §4.1).
type Gateway interface {
	Invoke(ctx context.Context, modelID, prompt string, opts Opts) (string, Usage, error)
	Stream(ctx context.Context, modelID, prompt string, opts Opts) (<-chan Delta, error)
}

// RetryPolicy is the exponential-backoff schedule spec.md §4.1 pins down:
// 1s initial, doubled, capped at 30s, up to MaxRetries attempts. Only
// InvokeWithRetry applies it; Stream calls are not retried, so no retry
// counter is reset when a delta arrives.
type RetryPolicy struct {
	MaxRetries int
	Initial    time.Duration
	Max        time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 5, Initial: time.Second, Max: 30 * time.Second}
}

// Backoff returns the delay before retry attempt n (1-indexed).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.Initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.Max {
			return p.Max
		}
	}
	if d > p.Max {
		return p.Max
	}
	return d
}

// InvokeWithRetry wraps a Gateway's Invoke with spec.md §4.1's retry
// rules: only Timeout/RateLimited errors are retried, with exponential
// backoff, up to policy.MaxRetries attempts.
func InvokeWithRetry(ctx context.Context, gw Gateway, modelID, prompt string, opts Opts, policy RetryPolicy) (string, Usage, error) {
	for attempt := 1; ; attempt++ {
		text, usage, err := gw.Invoke(ctx, modelID, prompt, opts)
		if err == nil {
			return text, usage, nil
		}
		me, ok := AsModelError(err)
		if !ok || !me.Retryable() || attempt >= policy.MaxRetries {
			return "", Usage{}, err
		}
		select {
		case <-ctx.Done():
			return "", Usage{}, ctx.Err()
		case <-time.After(policy.Backoff(attempt)):
		}
	}
}
