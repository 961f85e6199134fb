// Package retry repeats object-store calls that failed for transient reasons,
// with exponential backoff between attempts.
package retry

import (
	"context"
	stderr "errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"net/http"
	"time"
)

// Config defines retry behavior.
type Config struct {
	// MaxAttempts counts the initial attempt.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay"`
	Multiplier   float64       `yaml:"multiplier" json:"multiplier"`

	// Jitter spreads each delay by up to 20% either way.
	Jitter bool `yaml:"jitter" json:"jitter"`

	// Retryable overrides IsTransient when set.
	Retryable func(err error) bool `yaml:"-" json:"-"`

	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, delay time.Duration) `yaml:"-" json:"-"`
}

// DefaultConfig returns the settings used for authentication calls.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retryer runs functions under a Config. A nil *Retryer runs them once.
type Retryer struct {
	config Config
}

// New creates a Retryer, filling zero fields from DefaultConfig.
func New(config Config) *Retryer {
	def := DefaultConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = def.InitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = def.MaxDelay
	}
	if config.Multiplier <= 0 {
		config.Multiplier = def.Multiplier
	}
	if config.Retryable == nil {
		config.Retryable = IsTransient
	}
	return &Retryer{config: config}
}

// Do calls fn until it succeeds, fails permanently, runs out of attempts or
// ctx is done. The error of the last attempt is returned unwrapped so callers
// can still classify it.
func (r *Retryer) Do(ctx context.Context, fn func(context.Context) error) error {
	if r == nil {
		return fn(ctx)
	}

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt >= r.config.MaxAttempts || !r.config.Retryable(err) {
			return err
		}

		delay := r.delay(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("gave up after %d attempts: %w", attempt, err)
		case <-timer.C:
		}
	}
}

// delay is InitialDelay * Multiplier^(attempt-1), capped at MaxDelay.
func (r *Retryer) delay(attempt int) time.Duration {
	d := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if d > float64(r.config.MaxDelay) {
		d = float64(r.config.MaxDelay)
	}
	if r.config.Jitter {
		d += d * 0.2 * (rand.Float64()*2 - 1)
	}
	return time.Duration(d)
}

// IsTransient reports whether err is worth another attempt: server errors,
// throttling and request timeouts from the store, and network timeouts.
// Authorization failures, missing resources and cancellation are permanent.
func IsTransient(err error) bool {
	if err == nil || stderr.Is(err, context.Canceled) || stderr.Is(err, context.DeadlineExceeded) {
		return false
	}

	var status interface{ HTTPStatus() int }
	if stderr.As(err, &status) {
		switch code := status.HTTPStatus(); {
		case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
			return true
		case code >= 500 && code != http.StatusNotImplemented:
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	if stderr.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return stderr.As(err, &opErr)
}
