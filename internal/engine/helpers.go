package engine

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// withRetry calls fn up to attempts times, doubling the wait after each
// failure. It returns the last error when every attempt fails.
func withRetry[T any](ctx context.Context, log *logrus.Entry, attempts int, backoff time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for i := 0; i < attempts; i++ {
		val, err := fn()
		if err == nil {
			return val, nil
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		log.WithError(err).Warn("Ошибка, повторяем запрос.")
		if !sleepCtx(ctx, backoff) {
			return zero, ctx.Err()
		}
		backoff *= 2
	}
	return zero, lastErr
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
