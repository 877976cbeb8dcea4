package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	reg := NewBreakerRegistry(zerolog.Nop())

	for i := 0; i < 3; i++ {
		err := reg.Do("reconnect", 3, 30*time.Second, func() error { return errBoom })
		require.ErrorIs(t, err, errBoom)
	}

	assert.Equal(t, gobreaker.StateOpen, reg.State("reconnect"))

	// Open state fails fast without invoking the function.
	called := false
	err := reg.Do("reconnect", 3, 30*time.Second, func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.False(t, called)
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	reg := NewBreakerRegistry(zerolog.Nop())

	for i := 0; i < 2; i++ {
		_ = reg.Do("probe", 2, 50*time.Millisecond, func() error { return errBoom })
	}
	require.Equal(t, gobreaker.StateOpen, reg.State("probe"))

	time.Sleep(60 * time.Millisecond)

	// First call after the recovery window runs in half-open; success closes.
	err := reg.Do("probe", 2, 50*time.Millisecond, func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, reg.State("probe"))
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	reg := NewBreakerRegistry(zerolog.Nop())

	for i := 0; i < 2; i++ {
		_ = reg.Do("flaky", 2, 50*time.Millisecond, func() error { return errBoom })
	}
	time.Sleep(60 * time.Millisecond)

	err := reg.Do("flaky", 2, 50*time.Millisecond, func() error { return errBoom })
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, gobreaker.StateOpen, reg.State("flaky"))
}

func TestBreaker_SameNameSharesState(t *testing.T) {
	reg := NewBreakerRegistry(zerolog.Nop())
	a := reg.Get("shared", 5, time.Minute)
	b := reg.Get("shared", 5, time.Minute)
	assert.Same(t, a, b)
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Factor: 2}

	calls := 0
	err := p.Do(context.Background(), "fetch", zerolog.Nop(), func() error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_Exhausted(t *testing.T) {
	p := RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Factor: 2}

	calls := 0
	err := p.Do(context.Background(), "fetch", zerolog.Nop(), func() error {
		calls++
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 3, calls)
}

func TestRetry_DelayCapped(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 8*time.Second, p.Delay(3))
	assert.Equal(t, 10*time.Second, p.Delay(4))
	assert.Equal(t, 10*time.Second, p.Delay(10))
}

func TestRetry_ContextCancelled(t *testing.T) {
	p := RetryPolicy{MaxRetries: 5, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second, Factor: 2}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Do(ctx, "fetch", zerolog.Nop(), func() error { return errBoom })
	assert.ErrorIs(t, err, context.Canceled)
}
