// Package llm is the language-model boundary: a single-call Backend, retry
// with backoff, and decoding of the JSON edit objects models reply with.
package llm

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// Backend sends one system prompt and one user message and returns the
// model's text reply.
type Backend interface {
	Send(ctx context.Context, systemPrompt, userContent string) (string, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, systemPrompt, userContent string) (string, error)

func (f BackendFunc) Send(ctx context.Context, systemPrompt, userContent string) (string, error) {
	return f(ctx, systemPrompt, userContent)
}

type BackoffConfig struct {
	InitialDelay time.Duration
	Factor       float64
	MaxDelay     time.Duration
	Jitter       bool
}

func DefaultBackoff() BackoffConfig {
	return BackoffConfig{InitialDelay: 500 * time.Millisecond, Factor: 2.0, MaxDelay: 30 * time.Second}
}

// DelayForAttempt returns the wait before retry attempt (1-indexed). Jitter
// is derived from seed so runs are reproducible.
func DelayForAttempt(attempt int, cfg BackoffConfig, seed string) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if cfg.InitialDelay <= 0 {
		return 0
	}
	factor := cfg.Factor
	if factor <= 0 {
		factor = 1
	}
	d := float64(cfg.InitialDelay) * math.Pow(factor, float64(attempt-1))
	if cfg.MaxDelay > 0 {
		d = math.Min(d, float64(cfg.MaxDelay))
	}
	if cfg.Jitter {
		d *= 0.5 + jitterUnit(seed)
	}
	return time.Duration(d)
}

func jitterUnit(seed string) float64 {
	sum := sha256.Sum256([]byte(seed))
	return float64(binary.BigEndian.Uint64(sum[:8])) / float64(^uint64(0))
}

// Retrying retries retryable Backend errors up to MaxRetries times.
type Retrying struct {
	Backend    Backend
	MaxRetries int
	Backoff    BackoffConfig
	// Sleep waits between attempts; nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry, when set, observes each failed attempt that will be retried.
	OnRetry func(attempt int, err error, delay time.Duration)
}

var _ Backend = (*Retrying)(nil)

func (r *Retrying) Send(ctx context.Context, systemPrompt, userContent string) (string, error) {
	if r.Backend == nil {
		return "", &ConfigurationError{Message: "no LLM backend configured"}
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	for attempt := 0; ; attempt++ {
		out, err := r.Backend.Send(ctx, systemPrompt, userContent)
		if err == nil {
			return out, nil
		}
		if attempt >= r.MaxRetries || !IsRetryable(err) {
			return "", err
		}
		delay := DelayForAttempt(attempt+1, r.Backoff, fmt.Sprintf("%d:%d", len(userContent), attempt))
		var le Error
		if errors.As(err, &le) && le.RetryAfter() != nil && *le.RetryAfter() > delay {
			delay = *le.RetryAfter()
		}
		if r.OnRetry != nil {
			r.OnRetry(attempt+1, err, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			return "", err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
