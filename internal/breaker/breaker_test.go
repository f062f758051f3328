package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aris-project/aris/internal/errs"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := New(Config{FailureThreshold: 3, Window: time.Minute, Cooldown: time.Minute})

	boom := errors.New("boom")
	for i := 0; i < 2; i++ {
		err := b.Do(context.Background(), func(context.Context) error { return boom })
		require.ErrorIs(t, err, boom)
		assert.Equal(t, Closed, b.State())
	}

	err := b.Do(context.Background(), func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, Open, b.State())
}

func TestBreakerFailsFastWhenOpen(t *testing.T) {
	b := New(Config{FailureThreshold: 1, Window: time.Minute, Cooldown: time.Hour})

	called := false
	_ = b.Do(context.Background(), func(context.Context) error { return errors.New("fail") })
	require.Equal(t, Open, b.State())

	err := b.Do(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, errs.ErrProviderUnavailable)
	assert.False(t, called, "fn must not run while breaker is open")
}

func TestBreakerHalfOpenProbeSucceedsCloses(t *testing.T) {
	b := New(Config{FailureThreshold: 1, Window: time.Minute, Cooldown: time.Millisecond})
	_ = b.Do(context.Background(), func(context.Context) error { return errors.New("fail") })
	require.Equal(t, Open, b.State())

	time.Sleep(5 * time.Millisecond)
	require.Equal(t, HalfOpen, b.State())

	err := b.Do(context.Background(), func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, Closed, b.State())
}

func TestBreakerHalfOpenProbeFailsReopens(t *testing.T) {
	b := New(Config{FailureThreshold: 1, Window: time.Minute, Cooldown: time.Millisecond})
	_ = b.Do(context.Background(), func(context.Context) error { return errors.New("fail") })
	time.Sleep(5 * time.Millisecond)
	require.Equal(t, HalfOpen, b.State())

	err := b.Do(context.Background(), func(context.Context) error { return errors.New("still failing") })
	require.Error(t, err)
	assert.Equal(t, Open, b.State())
}

func TestBreakerOnlyOneHalfOpenProbeAtATime(t *testing.T) {
	b := New(Config{FailureThreshold: 1, Window: time.Minute, Cooldown: time.Millisecond})
	_ = b.Do(context.Background(), func(context.Context) error { return errors.New("fail") })
	time.Sleep(5 * time.Millisecond)
	require.Equal(t, HalfOpen, b.State())

	require.NoError(t, b.Allow())
	err := b.Allow()
	assert.ErrorIs(t, err, errs.ErrProviderUnavailable)
}
