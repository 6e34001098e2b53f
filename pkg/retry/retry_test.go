package retry

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/graphbus/errors"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(3), func(int) error {
		attempts++
		if attempts < 3 {
			return stderrors.New("connection refused")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_AllAttemptsFail(t *testing.T) {
	attempts := 0
	cause := stderrors.New("still down")
	err := Do(context.Background(), fastConfig(4), func(int) error {
		attempts++
		return cause
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "failed after 4 attempts")
	assert.Equal(t, 4, attempts)
}

func TestDo_StopsOnNonRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"marked", NonRetryable(stderrors.New("bad request"))},
		{"classified invalid", errors.WrapInvalid(errors.ErrInvalidData, "kv", "Put", "encode")},
		{"classified fatal", errors.WrapFatal(stderrors.New("corrupt"), "kv", "Get", "decode")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			err := Do(context.Background(), fastConfig(5), func(int) error {
				attempts++
				return tt.err
			})
			assert.Equal(t, 1, attempts)
			assert.Equal(t, tt.err, err)
		})
	}
}

func TestDo_CustomRetryable(t *testing.T) {
	conflict := stderrors.New("wrong last sequence")
	cfg := fastConfig(5)
	cfg.Retryable = func(err error) bool { return stderrors.Is(err, conflict) }

	attempts := 0
	err := Do(context.Background(), cfg, func(int) error {
		attempts++
		if attempts < 3 {
			return conflict
		}
		return stderrors.New("other")
	})

	assert.EqualError(t, err, "other")
	assert.Equal(t, 3, attempts)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 5, InitialDelay: time.Second, MaxDelay: time.Second}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	attempts := 0
	start := time.Now()
	err := Do(ctx, cfg, func(int) error {
		attempts++
		return stderrors.New("timeout")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestDo_InvalidConfig(t *testing.T) {
	tests := []Config{
		{InitialDelay: -1},
		{MaxDelay: -1},
		{Multiplier: -1},
		{InitialDelay: time.Second, MaxDelay: time.Millisecond},
	}
	for _, cfg := range tests {
		called := false
		err := Do(context.Background(), cfg, func(int) error {
			called = true
			return nil
		})
		assert.True(t, errors.IsInvalid(err), "config %+v", cfg)
		assert.False(t, called)
	}
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	attempts := 0
	_ = Do(context.Background(), Config{}, func(int) error {
		attempts++
		return stderrors.New("x")
	})
	assert.Equal(t, 1, attempts)
}

func TestDo_PassesAttemptNumber(t *testing.T) {
	var seen []int
	err := Do(context.Background(), fastConfig(3), func(attempt int) error {
		seen = append(seen, attempt)
		return stderrors.New("busy")
	})

	require.Error(t, err)
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestBackoff_GrowsToMax(t *testing.T) {
	b := backoff{cfg: Config{InitialDelay: 10 * time.Millisecond, MaxDelay: 35 * time.Millisecond, Multiplier: 2}}
	assert.Equal(t, 10*time.Millisecond, b.next())
	assert.Equal(t, 20*time.Millisecond, b.next())
	assert.Equal(t, 35*time.Millisecond, b.next())
	assert.Equal(t, 35*time.Millisecond, b.next())

	jittered := backoff{cfg: Config{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2, AddJitter: true}}
	d := jittered.next()
	assert.GreaterOrEqual(t, d, 100*time.Millisecond)
	assert.Less(t, d, 125*time.Millisecond)
}

func TestPresets(t *testing.T) {
	for name, cfg := range map[string]Config{
		"default":    DefaultConfig(),
		"quick":      Quick(),
		"contention": Contention(),
	} {
		_, err := cfg.normalize()
		assert.NoError(t, err, name)
		assert.GreaterOrEqual(t, cfg.MaxDelay, cfg.InitialDelay, name)
	}
}
