package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retry defaults. Rate limits on hosted trackers reset within seconds, so a
// handful of attempts spread over a few seconds is enough.
const (
	DefaultMaxAttempts     = 4
	DefaultRetryInitial    = 500 * time.Millisecond
	DefaultRetryMax        = 8 * time.Second
	DefaultCallTimeout     = 30 * time.Second
	defaultRetryMultiplier = 2.0
	defaultRetryJitter     = 0.5
)

// RetryPolicy is bounded exponential backoff with jitter for remote calls.
// Only errors for which IsRetryable is true are retried.
type RetryPolicy struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
	// CallTimeout bounds each attempt. Zero means no per-attempt deadline.
	CallTimeout time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		Initial:     DefaultRetryInitial,
		Max:         DefaultRetryMax,
		CallTimeout: DefaultCallTimeout,
	}
}

func (p *RetryPolicy) maxAttempts() int {
	if p == nil || p.MaxAttempts < 1 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

// newBackOff returns a fresh BackOff; implementations are stateful.
func (p *RetryPolicy) newBackOff(ctx context.Context, hint *hintedBackOff) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = DefaultRetryInitial
	bo.MaxInterval = DefaultRetryMax
	if p != nil && p.Initial > 0 {
		bo.InitialInterval = p.Initial
	}
	if p != nil && p.Max > 0 {
		bo.MaxInterval = p.Max
	}
	bo.Multiplier = defaultRetryMultiplier
	bo.RandomizationFactor = defaultRetryJitter
	bo.MaxElapsedTime = 0
	bo.Reset()

	hint.BackOff = bo
	hint.limit = bo.MaxInterval
	return backoff.WithContext(backoff.WithMaxRetries(hint, uint64(p.maxAttempts()-1)), ctx)
}

// Do runs op until it succeeds, fails permanently, the attempt cap is hit
// or ctx is done. It returns the number of attempts made.
//
// When detach is true each attempt runs on a context that ignores ctx's
// cancellation, so an in-flight request is never abandoned half way; ctx
// still stops further attempts.
func (p *RetryPolicy) Do(ctx context.Context, detach bool, op func(ctx context.Context) error) (int, error) {
	attempts := 0
	hint := &hintedBackOff{}
	var last error

	err := backoff.Retry(func() error {
		attempts++
		err := p.attempt(ctx, detach, op)
		if err == nil {
			return nil
		}
		last = err
		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		hint.next = retryAfter(err)
		return err
	}, p.newBackOff(ctx, hint))

	if err == nil {
		return attempts, nil
	}
	if ctx.Err() != nil && last != nil && IsRetryable(last) {
		return attempts, fmt.Errorf("%w (last error: %v)", ctx.Err(), last)
	}
	if hint.refused > 0 {
		return attempts, fmt.Errorf("%w: tracker asked to wait %s, longer than the %s retry limit: %w",
			ErrRetriesExhausted, hint.refused.Round(time.Second), hint.limit, err)
	}
	if IsRetryable(err) && attempts >= p.maxAttempts() {
		return attempts, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, err)
	}
	return attempts, err
}

func (p *RetryPolicy) attempt(ctx context.Context, detach bool, op func(ctx context.Context) error) error {
	callCtx := ctx
	if detach {
		callCtx = context.WithoutCancel(ctx)
	}
	if p != nil && p.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, p.CallTimeout)
		defer cancel()
	}
	return op(callCtx)
}

// hintedBackOff waits at least as long as the tracker's Retry-After hint.
// A hint beyond limit stops retrying instead of stalling the run; refused
// keeps the hint that was turned down.
type hintedBackOff struct {
	backoff.BackOff
	next    time.Duration
	limit   time.Duration
	refused time.Duration
}

func (b *hintedBackOff) NextBackOff() time.Duration {
	d := b.BackOff.NextBackOff()
	if d == backoff.Stop {
		return d
	}
	hint := b.next
	b.next = 0
	if b.limit > 0 && hint > b.limit {
		b.refused = hint
		return backoff.Stop
	}
	if hint > d {
		d = hint
	}
	return d
}
