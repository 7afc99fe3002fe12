package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponentialBackoff(t *testing.T) {
	b := NewExponentialBackoff()
	assert.Equal(t, time.Second, b.NextDelay())
	assert.Equal(t, 2*time.Second, b.NextDelay())
	assert.Equal(t, 4*time.Second, b.NextDelay())
	for i := 0; i < 10; i++ {
		b.NextDelay()
	}
	assert.Equal(t, 30*time.Second, b.NextDelay())

	b.Reset()
	assert.Equal(t, time.Second, b.NextDelay())
}

func TestRetry(t *testing.T) {
	b := NewExponentialBackoffWith(time.Millisecond, 4*time.Millisecond)

	calls := 0
	err := Retry(context.Background(), b, 5, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, time.Millisecond, b.NextDelay()) // 成功后重置

	calls = 0
	err = Retry(context.Background(), b, 2, func(context.Context) error {
		calls++
		return errors.New("refused")
	})
	assert.EqualError(t, err, "refused")
	assert.Equal(t, 2, calls)
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, NewExponentialBackoffWith(time.Hour, time.Hour), 3, func(context.Context) error {
		return errors.New("refused")
	})
	assert.ErrorIs(t, err, context.Canceled)
}
