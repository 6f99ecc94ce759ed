package retrypolicy

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// Policy is a bounded exponential backoff shared by broker call sites:
// topic provisioning, publish, and subscribe setup.
type Policy struct {
	maxAttempts uint64
	base        time.Duration
	cap         time.Duration
}

// New creates a policy that allows maxAttempts total attempts with exponential
// backoff starting at base and capped at cap.
func New(maxAttempts int, base, cap time.Duration) Policy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	return Policy{
		maxAttempts: uint64(maxAttempts),
		base:        base,
		cap:         cap,
	}
}

// Default mirrors the broker contract: 3 attempts, delay capped at 10s.
func Default() Policy {
	return New(3, 500*time.Millisecond, 10*time.Second)
}

// Do runs op, retrying every error until the policy is exhausted.
// The last error is returned to the caller, who may treat it as
// "try again later" rather than fatal.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(
		p.maxAttempts-1,
		retry.WithCappedDuration(p.cap, retry.NewExponential(p.base)),
	)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := op(ctx); err != nil {
			return retry.RetryableError(err)
		}

		return nil
	})
}
