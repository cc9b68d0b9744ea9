package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

var (
	// Thread-safe random source for jitter
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// NonRetryableError wraps errors that should not be retried
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable wraps an error to indicate it should not be retried
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable checks if an error is marked as non-retryable
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}

// Config configures bounded retries of a single operation, such as a snapshot fetch.
type Config struct {
	MaxAttempts  int           // Maximum number of attempts (0 = run once)
	InitialDelay time.Duration // Delay before the second attempt
	MaxDelay     time.Duration // Upper bound for any delay
	Multiplier   float64       // Backoff multiplier (1 = fixed interval)
	AddJitter    bool          // Add up to 25% randomness to each delay
}

// DefaultConfig returns defaults for request/response operations.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

func (cfg Config) normalize() (Config, error) {
	if cfg.InitialDelay < 0 {
		return cfg, errors.New("retry: InitialDelay cannot be negative")
	}
	if cfg.MaxDelay < 0 {
		return cfg, errors.New("retry: MaxDelay cannot be negative")
	}
	if cfg.Multiplier < 0 {
		return cfg, errors.New("retry: Multiplier cannot be negative")
	}
	if cfg.Multiplier > 1000 {
		cfg.Multiplier = 1000
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		return cfg, errors.New("retry: MaxDelay must be >= InitialDelay")
	}
	return cfg, nil
}

// Do executes fn until it succeeds, returns a non-retryable error, the context ends
// or MaxAttempts is reached.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	cfg, err := cfg.normalize()
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if IsNonRetryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled before attempt %d: %w", attempt, ctx.Err())
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		timer := time.NewTimer(jitter(backoff(cfg.InitialDelay, cfg.MaxDelay, cfg.Multiplier, attempt), cfg.AddJitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled during backoff for attempt %d: %w", attempt+1, ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("retry failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// DoWithResult executes fn with retry and returns both result and error
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var innerErr error
		result, innerErr = fn()
		return innerErr
	})
	return result, err
}

// Schedule decides when a long-lived stream is dialed again after a failure.
// The zero Multiplier keeps the interval fixed.
type Schedule struct {
	Interval    time.Duration // Delay before each reconnect attempt
	MaxRetries  int           // 0 = retry forever
	Multiplier  float64       // Growth per attempt; 0 or 1 = fixed
	MaxInterval time.Duration // Cap when Multiplier > 1
	AddJitter   bool
}

// FixedSchedule returns a schedule that retries every interval, at most maxRetries times
// (0 = unlimited).
func FixedSchedule(interval time.Duration, maxRetries int) Schedule {
	return Schedule{Interval: interval, MaxRetries: maxRetries}
}

// Next returns the delay before reconnect attempt number retries+1, or false once the
// schedule is exhausted.
func (s Schedule) Next(retries int) (time.Duration, bool) {
	if s.Exhausted(retries) {
		return 0, false
	}
	if s.Interval <= 0 {
		return 0, true
	}
	if s.Multiplier <= 1 {
		return jitter(s.Interval, s.AddJitter), true
	}
	ceiling := s.MaxInterval
	if ceiling < s.Interval {
		ceiling = s.Interval
	}
	return jitter(backoff(s.Interval, ceiling, s.Multiplier, retries+1), s.AddJitter), true
}

// Exhausted reports whether retries consecutive failed attempts use up the schedule.
func (s Schedule) Exhausted(retries int) bool {
	return s.MaxRetries > 0 && retries >= s.MaxRetries
}

// backoff returns initial*multiplier^(attempt-1), capped at ceiling.
func backoff(initial, ceiling time.Duration, multiplier float64, attempt int) time.Duration {
	delay := float64(initial)
	for i := 1; i < attempt; i++ {
		delay *= multiplier
		if delay >= float64(ceiling) {
			return ceiling
		}
	}
	return time.Duration(delay)
}

func jitter(d time.Duration, enabled bool) time.Duration {
	if !enabled || d < 4 {
		return d
	}
	randMu.Lock()
	extra := time.Duration(randSource.Int63n(int64(d / 4)))
	randMu.Unlock()
	return d + extra
}
