package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tempErr struct{ temp bool }

func (e tempErr) Error() string   { return "temp" }
func (e tempErr) Temporary() bool { return e.temp }

func fastConfig() Config {
	return Config{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, Multiplier: 2}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_StopsOnNonRetryable(t *testing.T) {
	attempts := 0
	boom := errors.New("bad request")
	err := Do(context.Background(), fastConfig(), func(ctx context.Context) error {
		attempts++
		return boom
	})
	assert.Same(t, boom, err)
	assert.Equal(t, 1, attempts)
}

func TestDo_GivesUpAfterMaxRetries(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(), func(ctx context.Context) error {
		attempts++
		return tempErr{temp: true}
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries (3) exceeded")
	// initial + 3 retries
	assert.Equal(t, 4, attempts)
}

func TestDo_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxRetries: 10, InitialBackoff: time.Hour, Multiplier: 1}

	attempts := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := Do(ctx, cfg, func(ctx context.Context) error {
		attempts++
		return tempErr{temp: true}
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestDoValue_ReturnsValue(t *testing.T) {
	got, err := DoValue(context.Background(), fastConfig(), func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(tempErr{temp: false}))
	assert.True(t, IsRetryable(tempErr{temp: true}))
	assert.True(t, IsRetryable(errors.New("read: connection reset by peer")))
	assert.True(t, IsRetryable(errors.New("unexpected EOF")))
	assert.False(t, IsRetryable(errors.New("invalid topic")))
}
