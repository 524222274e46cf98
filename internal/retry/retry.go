// Package retry runs provider calls under a retry budget.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Runner retries operations with exponential backoff. The zero value is ready to use.
type Runner struct {
	// NewBackOff overrides the delay policy; tests use backoff.ZeroBackOff.
	NewBackOff func() backoff.BackOff
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// AsPermanent returns the error wrapped by Permanent and whether err was one.
func AsPermanent(err error) (error, bool) {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err, true
	}
	return err, false
}

// Do calls op at most retryTimes+1 times. It stops early on success, on a
// Permanent error or when ctx is done, and returns the last error unwrapped.
func (r Runner) Do(ctx context.Context, retryTimes int, op func() error) error {
	if retryTimes < 0 {
		retryTimes = 0
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(r.newBackOff(), uint64(retryTimes)),
		ctx,
	)
	return backoff.Retry(op, b)
}

func (r Runner) newBackOff() backoff.BackOff {
	if r.NewBackOff != nil {
		return r.NewBackOff()
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return b
}
