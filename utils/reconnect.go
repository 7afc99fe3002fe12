package utils

import (
	"context"
	"time"
)

type ReconnectStrategy interface {
	NextDelay() time.Duration
	Reset()
}

type ExponentialBackoff struct {
	initialDelay time.Duration
	currentDelay time.Duration
	maxDelay     time.Duration
}

func NewExponentialBackoff() *ExponentialBackoff {
	return NewExponentialBackoffWith(1*time.Second, 30*time.Second)
}

func NewExponentialBackoffWith(initial, maxDelay time.Duration) *ExponentialBackoff {
	if maxDelay < initial {
		maxDelay = initial
	}
	return &ExponentialBackoff{
		initialDelay: initial,
		currentDelay: initial,
		maxDelay:     maxDelay,
	}
}

func (e *ExponentialBackoff) NextDelay() time.Duration {
	delay := e.currentDelay
	e.currentDelay *= 2
	if e.currentDelay > e.maxDelay {
		e.currentDelay = e.maxDelay
	}
	return delay
}

func (e *ExponentialBackoff) Reset() {
	e.currentDelay = e.initialDelay
}

// Retry 调用 fn 直到成功、达到 attempts 次或 ctx 取消，返回最后一次的错误
func Retry(ctx context.Context, strategy ReconnectStrategy, attempts int, fn func(ctx context.Context) error) error {
	attempts = max(attempts, 1)
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			strategy.Reset()
			return nil
		}
		if i == attempts-1 {
			break
		}

		timer := time.NewTimer(strategy.NextDelay())
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
