package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_Success(t *testing.T) {
	called := 0
	err := Do(context.Background(), Config{MaxRetries: 3, InitialBackoff: time.Millisecond}, func() error {
		called++
		return nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, called)
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	called := 0
	err := Do(context.Background(), Config{MaxRetries: 5, InitialBackoff: time.Millisecond}, func() error {
		called++
		if called < 3 {
			return errors.New("connection reset")
		}
		return nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 3, called)
}

func TestDo_Exhausted(t *testing.T) {
	persistent := errors.New("503 service unavailable")
	called := 0
	err := Do(context.Background(), Config{MaxRetries: 3, InitialBackoff: time.Millisecond}, func() error {
		called++
		return persistent
	}, func(error) bool { return true })

	require.Error(t, err)
	assert.Equal(t, 3, called)
	assert.ErrorIs(t, err, persistent)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
}

func TestDo_NonRetryable(t *testing.T) {
	notFound := errors.New("404 not found")
	called := 0
	err := Do(context.Background(), Config{MaxRetries: 5, InitialBackoff: time.Millisecond}, func() error {
		called++
		if called == 2 {
			return notFound
		}
		return errors.New("timeout")
	}, func(err error) bool {
		return !errors.Is(err, notFound)
	})

	assert.Equal(t, 2, called)
	assert.Equal(t, notFound, err, "non-retryable errors are returned unwrapped")
}

func TestDo_SingleAttempt(t *testing.T) {
	called := 0
	err := Do(context.Background(), Config{}, func() error {
		called++
		return errors.New("boom")
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 1, called, "MaxRetries below 1 still makes one attempt")
}

func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	called := 0
	err := Do(ctx, Config{MaxRetries: 10, InitialBackoff: 50 * time.Millisecond}, func() error {
		called++
		cancel()
		return errors.New("timeout")
	}, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, called)
}

func TestCalculateBackoff(t *testing.T) {
	cfg := Config{
		MaxRetries:     4,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     300 * time.Millisecond,
	}

	assert.Equal(t, 100*time.Millisecond, calculateBackoff(cfg, 1))
	assert.Equal(t, 200*time.Millisecond, calculateBackoff(cfg, 2))
	assert.Equal(t, 300*time.Millisecond, calculateBackoff(cfg, 3), "capped at MaxBackoff")

	cfg.Jitter = 0.5
	assert.Equal(t, 100*time.Millisecond+12500*time.Microsecond, calculateBackoff(cfg, 1))
	assert.Equal(t, 300*time.Millisecond+150*time.Millisecond, calculateBackoff(cfg, 4))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 4, cfg.MaxRetries)
	assert.Greater(t, cfg.MaxBackoff, cfg.InitialBackoff)
	assert.InDelta(t, 0.2, cfg.Jitter, 1e-9)
}
