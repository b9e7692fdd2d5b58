package ledger

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// RetryPolicy bounds the retries of a ledger call
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultRetryPolicy returns the policy used when none is configured
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Multiplier:      2,
	}
}

// RetryingClient decorates a Client with exponential backoff. Only errors the
// classifier accepts are retried; anything else is returned at once.
type RetryingClient struct {
	next      Client
	policy    RetryPolicy
	retryable func(error) bool
	logger    *zap.Logger
}

// NewRetryingClient wraps next. A nil classifier means IsUnavailable.
func NewRetryingClient(next Client, policy RetryPolicy, retryable func(error) bool, logger *zap.Logger) *RetryingClient {
	if retryable == nil {
		retryable = IsUnavailable
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &RetryingClient{
		next:      next,
		policy:    policy,
		retryable: retryable,
		logger:    logger,
	}
}

func (c *RetryingClient) Hold(ctx context.Context, planID string, batch PostingBatch) (map[int64]Account, error) {
	var accounts map[int64]Account
	err := c.do(ctx, "hold", planID, func() error {
		var err error
		accounts, err = c.next.Hold(ctx, planID, batch)
		return err
	})
	return accounts, err
}

func (c *RetryingClient) Commit(ctx context.Context, planID string, batches []PostingBatch) error {
	return c.do(ctx, "commit", planID, func() error {
		return c.next.Commit(ctx, planID, batches)
	})
}

func (c *RetryingClient) Rollback(ctx context.Context, planID string, batches []PostingBatch) error {
	return c.do(ctx, "rollback", planID, func() error {
		return c.next.Rollback(ctx, planID, batches)
	})
}

func (c *RetryingClient) do(ctx context.Context, op, planID string, call func() error) error {
	operation := func() error {
		err := call()
		if err != nil && !c.retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("Ledger unavailable, retrying",
			zap.String("operation", op),
			zap.String("planId", planID),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	return backoff.RetryNotify(operation, c.policy.NewBackOff(ctx), notify)
}

// NewBackOff returns an exponential backoff bounded by MaxAttempts and ctx
func (p RetryPolicy) NewBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	b.MaxElapsedTime = 0
	b.Reset()

	retries := uint64(0)
	if p.MaxAttempts > 1 {
		retries = uint64(p.MaxAttempts - 1)
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx)
}
