// Package retry runs an operation with exponential backoff and jitter.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

type Operation = func() error

type Config struct {
	MaxRetries    int
	BackoffFactor float64
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	Jitter        time.Duration
	// Retryable reports whether err is worth another attempt.
	// nil means every error is retried.
	Retryable func(err error) bool
	// Hint lets an error dictate the next wait (e.g. a Retry-After header).
	// It is capped at MaxDelay and does not change the backoff sequence.
	Hint func(err error) (time.Duration, bool)
}

func NewDefaultConfig() *Config {
	return &Config{
		MaxRetries:    5,
		BackoffFactor: 2.15,
		InitialDelay:  300 * time.Millisecond,
		MaxDelay:      20 * time.Second,
		Jitter:        50 * time.Millisecond,
	}
}

type Retrier struct {
	config *Config
}

func NewRetrier(config *Config) *Retrier {
	return &Retrier{
		config: config,
	}
}

func NewDefaultRetrier() *Retrier {
	return NewRetrier(NewDefaultConfig())
}

// Do runs op until it succeeds, returns a non-retryable error, exhausts
// MaxRetries or ctx is done. The last error is returned as is.
func (r *Retrier) Do(ctx context.Context, op Operation) error {
	var err error
	delay := r.config.InitialDelay

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		err = op()
		if err == nil {
			return nil
		}

		if attempt == r.config.MaxRetries {
			return err
		}

		if r.config.Retryable != nil && !r.config.Retryable(err) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.wait(delay, err)):
		}

		delay = time.Duration(float64(delay) * r.config.BackoffFactor)
		if delay > r.config.MaxDelay {
			delay = r.config.MaxDelay
		}
	}
	return err
}

func (r *Retrier) wait(delay time.Duration, err error) time.Duration {
	if r.config.Hint != nil {
		if d, ok := r.config.Hint(err); ok {
			return min(d, r.config.MaxDelay)
		}
	}

	var jitter time.Duration
	if r.config.Jitter > 0 {
		jitter = rand.N(r.config.Jitter)
	}
	if delay > r.config.MaxDelay {
		delay = r.config.MaxDelay
	}
	return delay + jitter
}
