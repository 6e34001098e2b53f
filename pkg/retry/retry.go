package retry

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/c360/graphbus/errors"
)

// NonRetryableError stops Do on the attempt that returned it.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string { return "non-retryable: " + e.Err.Error() }
func (e *NonRetryableError) Unwrap() error { return e.Err }

// NonRetryable marks err as final. Nil stays nil.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable reports whether err, or anything it wraps, is marked non-retryable.
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return stderrors.As(err, &nre)
}

// Config controls the backoff schedule. Zero delays and multiplier take the
// DefaultConfig values.
type Config struct {
	MaxAttempts  int // below 1 means a single attempt
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	AddJitter    bool // up to a quarter of the delay on top

	// Retryable decides whether a failed attempt is worth repeating. Nil
	// retries everything not classified invalid or fatal.
	Retryable func(error) bool
}

// DefaultConfig is a short general-purpose schedule.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2,
		AddJitter:    true,
	}
}

// Quick suits startup probes such as the first broker connection.
func Quick() Config {
	return Config{
		MaxAttempts:  10,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   1.5,
		AddJitter:    true,
	}
}

// Contention suits compare-and-swap loops: many short attempts.
func Contention() Config {
	return Config{
		MaxAttempts:  8,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     200 * time.Millisecond,
		Multiplier:   2,
		AddJitter:    true,
	}
}

func (cfg Config) normalize() (Config, error) {
	if cfg.InitialDelay < 0 || cfg.MaxDelay < 0 || cfg.Multiplier < 0 {
		return cfg, errors.WrapInvalid(errors.ErrInvalidConfig, "retry", "Do", "negative delay or multiplier")
	}

	def := DefaultConfig()
	cfg.MaxAttempts = max(cfg.MaxAttempts, 1)
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = def.Multiplier
	}
	cfg.Multiplier = min(cfg.Multiplier, 1000)
	if cfg.MaxDelay < cfg.InitialDelay {
		return cfg, errors.WrapInvalid(errors.ErrInvalidConfig, "retry", "Do", "max delay below initial delay")
	}
	if cfg.Retryable == nil {
		cfg.Retryable = func(err error) bool {
			return !errors.HasClass(err, errors.ErrorInvalid) && !errors.HasClass(err, errors.ErrorFatal)
		}
	}
	return cfg, nil
}

// backoff yields the pause before each further attempt.
type backoff struct {
	cfg   Config
	delay time.Duration
}

func (b *backoff) next() time.Duration {
	if b.delay == 0 {
		b.delay = b.cfg.InitialDelay
	} else {
		b.delay = min(time.Duration(float64(b.delay)*b.cfg.Multiplier), b.cfg.MaxDelay)
	}

	pause := b.delay
	if b.cfg.AddJitter && pause >= 4 {
		pause += time.Duration(rand.Int64N(int64(pause / 4)))
	}
	return pause
}

// Do calls fn with attempt numbers starting at 1 until it succeeds, returns a
// non-retryable error, runs out of attempts or ctx is done. A non-retryable
// error is returned as fn produced it.
func Do(ctx context.Context, cfg Config, fn func(attempt int) error) error {
	cfg, err := cfg.normalize()
	if err != nil {
		return err
	}

	b := backoff{cfg: cfg}
	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		switch {
		case err == nil:
			return nil
		case IsNonRetryable(err) || !cfg.Retryable(err):
			return err
		case attempt >= cfg.MaxAttempts:
			return fmt.Errorf("failed after %d attempts: %w", attempt, err)
		}

		timer := time.NewTimer(b.next())
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("cancelled after attempt %d: %w", attempt, stderrors.Join(ctx.Err(), err))
		case <-timer.C:
		}
	}
}
