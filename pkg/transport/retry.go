package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

// Retry defaults for DialRetry.
const (
	DefaultRetryInitial    = 500 * time.Millisecond
	DefaultRetryMax        = 30 * time.Second
	DefaultRetryMultiplier = 2.0
	DefaultRetryJitter     = 0.2
)

// ErrRetriesExhausted wraps the last dial error once MaxAttempts is reached.
var ErrRetriesExhausted = errors.New("dial retries exhausted")

// RetryPolicy controls DialRetry.
type RetryPolicy struct {
	// MaxAttempts caps dial attempts. Zero or less retries until ctx ends.
	MaxAttempts int

	Initial    time.Duration
	Max        time.Duration
	Multiplier float64

	// Jitter adds up to this fraction of each delay.
	Jitter float64

	// Logger receives one line per failed attempt. Nil disables it.
	Logger *slog.Logger
}

// DefaultRetryPolicy retries five times starting at DefaultRetryInitial.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		Initial:     DefaultRetryInitial,
		Max:         DefaultRetryMax,
		Multiplier:  DefaultRetryMultiplier,
		Jitter:      DefaultRetryJitter,
	}
}

// Backoff yields exponentially growing delays with jitter.
type Backoff struct {
	mu       sync.Mutex
	current  time.Duration
	initial  time.Duration
	max      time.Duration
	mult     float64
	jitter   float64
	attempts int
}

// NewBackoff builds a Backoff from the delay fields of p. Zero fields take
// the package defaults.
func NewBackoff(p RetryPolicy) *Backoff {
	if p.Initial <= 0 {
		p.Initial = DefaultRetryInitial
	}
	if p.Max <= 0 {
		p.Max = DefaultRetryMax
	}
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	if p.Multiplier <= 1 {
		p.Multiplier = DefaultRetryMultiplier
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return &Backoff{
		current: p.Initial,
		initial: p.Initial,
		max:     p.Max,
		mult:    p.Multiplier,
		jitter:  p.Jitter,
	}
}

// Next returns the delay to wait now and advances to the following one.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.current
	if b.jitter > 0 {
		delay += time.Duration(float64(delay) * b.jitter * rand.Float64())
	}

	b.attempts++
	b.current = min(time.Duration(float64(b.current)*b.mult), b.max)
	return delay
}

// Current returns the next base delay without jitter.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Attempts returns how many delays Next has handed out since Reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Reset returns to the initial delay.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.initial
	b.attempts = 0
}

// DialRetry calls Dial until it succeeds, ctx ends or policy.MaxAttempts
// attempts have failed. Only connection establishment is retried; the
// handshake runs later in Socket.Run.
func DialRetry(ctx context.Context, address string, cfg SocketConfig, policy RetryPolicy) (*Socket, error) {
	return dialRetry(ctx, policy, func(ctx context.Context) (*Socket, error) {
		return Dial(ctx, address, cfg)
	})
}

func dialRetry(ctx context.Context, policy RetryPolicy, dial func(context.Context) (*Socket, error)) (*Socket, error) {
	backoff := NewBackoff(policy)
	for attempt := 1; ; attempt++ {
		s, err := dial(ctx)
		if err == nil {
			return s, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("dial aborted: %w: %w", ctx.Err(), err)
		}
		if policy.MaxAttempts > 0 && attempt >= policy.MaxAttempts {
			return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err)
		}

		delay := backoff.Next()
		if policy.Logger != nil {
			policy.Logger.Info("dial failed, retrying", "attempt", attempt, "delay", delay, "error", err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("dial aborted: %w", ctx.Err())
		case <-timer.C:
		}
	}
}
