package compute

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/juju/clock"
	"github.com/juju/retry"

	"github.com/celestiaorg/wgvpn/internal/logger"
)

// RetryPolicy bounds the retries of throttled cloud API calls
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
	MaxDelay time.Duration
}

// DefaultRetryPolicy retries throttled calls five times, doubling from one second up to thirty
var DefaultRetryPolicy = RetryPolicy{
	Attempts: 5,
	Delay:    time.Second,
	MaxDelay: 30 * time.Second,
}

// IsRetryable reports whether err is a throttling or server side failure
func IsRetryable(err error) bool {
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return false
	}
	return respErr.StatusCode == http.StatusTooManyRequests || respErr.StatusCode >= http.StatusInternalServerError
}

// IsNotFound reports whether err is a 404 from the cloud API
func IsNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

// callWithRetry calls f until it succeeds, fails with a non retryable error, or the attempts run out
func callWithRetry(ctx context.Context, clk clock.Clock, policy RetryPolicy, op string, f func() error) error {
	err := retry.Call(retry.CallArgs{
		Func: f,
		IsFatalError: func(err error) bool {
			return !IsRetryable(err)
		},
		NotifyFunc: func(err error, attempt int) {
			logger.Debugf("%s attempt %d: %v", op, attempt, err)
		},
		Attempts:    policy.Attempts,
		Delay:       policy.Delay,
		MaxDelay:    policy.MaxDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       clk,
		Stop:        ctx.Done(),
	})
	if err == nil {
		return nil
	}
	if retry.IsAttemptsExceeded(err) || retry.IsRetryStopped(err) {
		return retry.LastError(err)
	}
	return err
}
