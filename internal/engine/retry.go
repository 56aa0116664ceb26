package engine

import (
	"context"
	"errors"
	"math"
	"time"
)

// Backoff constants for protocol-level retries of RemoteIndex and
// BlobStore calls made by the Upserter, Deleter, Reaper, and Restorer.
// The AWS SDK clients additionally apply the SDK's default retryer at
// the transport level; it is not configured with these constants.
// Local hashing failures are not retried here.
const (
	retryBaseDelay = 250 * time.Millisecond
	retryMaxDelay  = 8 * time.Second
	retryMaxAttempts = 5
)

// withRetry calls fn until it succeeds, a non-transient error is
// returned, ctx is cancelled, or retryMaxAttempts is exhausted.
// Only errors satisfying errors.As(*TransientRemoteError) are retried.
func withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < retryMaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		var transient *TransientRemoteError
		if !errors.As(lastErr, &transient) {
			return lastErr
		}

		if attempt == retryMaxAttempts-1 {
			break
		}

		delay := time.Duration(float64(retryBaseDelay) * math.Pow(2, float64(attempt)))
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}
