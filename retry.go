package callsignal

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
)

// RetryError is returned once every attempt of a retried function has failed.
type RetryError struct {
	inner    error
	attempts int
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("failed after %d retry attempts: %v", e.attempts, e.inner)
}

func (e *RetryError) Unwrap() error {
	return e.inner
}

// RetryNTimes will run `toRun` `retryAttempts` times before failing with the last error it got from the function.
// If `retryableErrors` is supplied, only those errors will be retried.
func RetryNTimes[T any](toRun func() (T, error), retryAttempts int, retryableErrors ...error) (T, error) {
	return RetryNTimesWithSleep(context.Background(), toRun, retryAttempts, 0, retryableErrors...)
}

// RetryNTimesWithSleep is like RetryNTimes but waits `sleep` between attempts. It stops early
// with the context's error if the context is done while waiting.
func RetryNTimesWithSleep[T any](
	ctx context.Context,
	toRun func() (T, error),
	retryAttempts int,
	sleep time.Duration,
	retryableErrors ...error,
) (T, error) {
	var emptyT T
	var lastError error

	for numRetries := 0; numRetries < retryAttempts; numRetries++ {
		if numRetries != 0 && !SelectContextOrWait(ctx, sleep) {
			return emptyT, ctx.Err()
		}
		val, err := toRun()
		if err == nil || len(retryableErrors) != 0 &&
			!slices.ContainsFunc(retryableErrors, func(target error) bool { return errors.Is(err, target) }) {
			return val, err
		}
		lastError = err
	}

	return emptyT, &RetryError{attempts: retryAttempts, inner: lastError}
}
