// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-encstore.
//
// go-encstore is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package retry runs fallible cryptographic operations under a retry
// policy that distinguishes transient provider faults from integrity
// failures.
//
// Classification is done with types.KindOf:
//
//   - types.KindAuthentication is returned immediately, with no delay
//   - types.KindProviderFault is retried with full-jitter exponential backoff
//   - every other error is returned immediately
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/jeremyhahn/go-encstore/pkg/types"
)

const (
	// DefaultMaxAttempts is the number of attempts made by New with no options.
	DefaultMaxAttempts = 3

	// DefaultBaseDelay is the backoff ceiling for the first retry.
	DefaultBaseDelay = 40 * time.Millisecond

	// DefaultMaxDelay caps the backoff ceiling.
	DefaultMaxDelay = 400 * time.Millisecond
)

// Policy runs an operation, possibly more than once.
type Policy interface {
	Run(ctx context.Context, op func(ctx context.Context) error) error
}

// Attempt describes a failed attempt that is about to be retried.
type Attempt struct {
	// Index is the 0-based index of the failed attempt.
	Index int
	// Err is the provider fault that caused the retry.
	Err error
	// Delay is the randomized wait before the next attempt.
	Delay time.Duration
}

// Do runs op under p and returns its result. A nil p runs op once.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	if p == nil {
		p = NoRetry
	}
	var out T
	err := p.Run(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

type noRetry struct{}

// NoRetry runs the operation exactly once.
var NoRetry Policy = noRetry{}

func (noRetry) Run(ctx context.Context, op func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return op(ctx)
}

// ExponentialBackoff retries provider faults up to MaxAttempts times.
// Before retry i (0-based index of the failed attempt) it sleeps for a
// uniformly random duration in [0, min(BaseDelay*2^i, MaxDelay)].
//
// The policy is immutable after construction and safe for concurrent use.
type ExponentialBackoff struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	jitter      func(ceiling time.Duration) time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	observer    func(Attempt)
}

// Option configures an ExponentialBackoff.
type Option func(*ExponentialBackoff)

// WithMaxAttempts sets the total number of attempts, including the first.
func WithMaxAttempts(n int) Option {
	return func(p *ExponentialBackoff) { p.maxAttempts = n }
}

// WithBaseDelay sets the backoff ceiling of the first retry.
func WithBaseDelay(d time.Duration) Option {
	return func(p *ExponentialBackoff) { p.baseDelay = d }
}

// WithMaxDelay caps the backoff ceiling.
func WithMaxDelay(d time.Duration) Option {
	return func(p *ExponentialBackoff) { p.maxDelay = d }
}

// WithJitter replaces the random source. fn must return a value in
// [0, ceiling].
func WithJitter(fn func(ceiling time.Duration) time.Duration) Option {
	return func(p *ExponentialBackoff) { p.jitter = fn }
}

// WithSleep replaces the sleep function. fn must return ctx.Err() if ctx
// is done before d elapses.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(p *ExponentialBackoff) { p.sleep = fn }
}

// WithObserver registers fn to be called before each retry.
func WithObserver(fn func(Attempt)) Option {
	return func(p *ExponentialBackoff) { p.observer = fn }
}

// New returns an ExponentialBackoff with the defaults overridden by
// opts. Non-positive attempts or delays fail with
// types.KindInvalidConfiguration.
func New(opts ...Option) (*ExponentialBackoff, error) {
	p := &ExponentialBackoff{
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		maxDelay:    DefaultMaxDelay,
		jitter:      fullJitter,
		sleep:       Sleep,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.maxAttempts <= 0 {
		return nil, types.InvalidConfiguration("retry.new", "max attempts must be positive, got %d", p.maxAttempts)
	}
	if p.baseDelay <= 0 {
		return nil, types.InvalidConfiguration("retry.new", "base delay must be positive, got %s", p.baseDelay)
	}
	if p.maxDelay <= 0 {
		return nil, types.InvalidConfiguration("retry.new", "max delay must be positive, got %s", p.maxDelay)
	}
	if p.jitter == nil {
		p.jitter = fullJitter
	}
	if p.sleep == nil {
		p.sleep = Sleep
	}
	return p, nil
}

// MaxAttempts returns the configured number of attempts.
func (p *ExponentialBackoff) MaxAttempts() int { return p.maxAttempts }

// BaseDelay returns the configured base delay.
func (p *ExponentialBackoff) BaseDelay() time.Duration { return p.baseDelay }

// MaxDelay returns the configured maximum delay.
func (p *ExponentialBackoff) MaxDelay() time.Duration { return p.maxDelay }

// Ceiling returns min(BaseDelay*2^i, MaxDelay) without overflowing.
func (p *ExponentialBackoff) Ceiling(i int) time.Duration {
	if i < 0 {
		i = 0
	}
	if i < 63 && p.baseDelay <= p.maxDelay>>uint(i) {
		return p.baseDelay << uint(i)
	}
	return p.maxDelay
}

// Run calls op until it succeeds, fails with a non-retryable error, or
// MaxAttempts attempts have failed with provider faults, in which case
// the last fault is returned. Cancelling ctx during a backoff stops the
// loop; the returned error then matches both ctx.Err() and the last
// fault.
func (p *ExponentialBackoff) Run(ctx context.Context, op func(ctx context.Context) error) error {
	var last error
	for i := 0; i < p.maxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(err, last)
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		switch types.KindOf(err) {
		case types.KindAuthentication:
			return err
		case types.KindProviderFault:
			last = err
		default:
			return err
		}

		if i == p.maxAttempts-1 {
			break
		}
		delay := p.jitter(p.Ceiling(i))
		if p.observer != nil {
			p.observer(Attempt{Index: i, Err: err, Delay: delay})
		}
		if err := p.sleep(ctx, delay); err != nil {
			return errors.Join(err, last)
		}
	}
	if last != nil {
		return last
	}
	return types.Internal("retry.run", "attempts exhausted without a recorded failure")
}

// Sleep waits for d or until ctx is done. If ctx has a deadline that
// would expire before d elapses it returns context.DeadlineExceeded
// without waiting.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < d {
		return context.DeadlineExceeded
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func fullJitter(ceiling time.Duration) time.Duration {
	if ceiling <= 0 {
		return 0
	}
	if ceiling == math.MaxInt64 {
		return rand.N(ceiling)
	}
	return rand.N(ceiling + 1)
}
