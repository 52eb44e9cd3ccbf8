package vfs

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// maxAttempts bounds retries to two extra attempts per request
	maxAttempts = 3

	// requestTimeout caps each individual backend request
	requestTimeout = 15 * time.Second
)

// statusCoder is implemented by the backend error types that carry an
// HTTP status
type statusCoder interface {
	HTTPStatus() int
}

// retryable reports whether the error is worth another attempt. Server
// errors and transport timeouts are; everything else, in particular
// missing paths and permission failures, is not.
func retryable(err error) bool {
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatus() >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// withRetry runs op with a bounded exponential backoff and a per-request
// timeout. Non-retryable errors abort immediately.
func withRetry[T any](ctx context.Context, op func(ctx context.Context) (T, error)) (T, error) {
	return backoff.Retry(ctx, func() (T, error) {
		opCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()

		result, err := op(opCtx)
		if err != nil && !retryable(err) {
			return result, backoff.Permanent(err)
		}
		return result, err
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(maxAttempts))
}
