package provider

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/movra/payout-manager/internal/ledger"
	"github.com/movra/payout-manager/internal/model"
	"go.uber.org/zap"
)

// RetryingDepositIssuer retries deposits while the issuer is unavailable.
// The deposit id is derived from the payout id, so a repeated call creates
// the same deposit.
type RetryingDepositIssuer struct {
	next   DepositIssuer
	policy ledger.RetryPolicy
	logger *zap.Logger
}

// NewRetryingDepositIssuer wraps next
func NewRetryingDepositIssuer(next DepositIssuer, policy ledger.RetryPolicy, logger *zap.Logger) *RetryingDepositIssuer {
	return &RetryingDepositIssuer{
		next:   next,
		policy: policy,
		logger: logger,
	}
}

func (r *RetryingDepositIssuer) CreateDeposit(ctx context.Context, payoutID, walletID string, amount int64, currencyCode string) (*model.Deposit, error) {
	var deposit *model.Deposit
	operation := func() error {
		d, err := r.next.CreateDeposit(ctx, payoutID, walletID, amount, currencyCode)
		if err != nil {
			if !errors.Is(err, model.ErrDependencyUnavailable) {
				return backoff.Permanent(err)
			}
			return err
		}
		deposit = d
		return nil
	}

	notify := func(err error, wait time.Duration) {
		r.logger.Warn("Deposit issuer unavailable, retrying",
			zap.String("payoutId", payoutID),
			zap.String("depositId", model.DepositID(payoutID)),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	if err := backoff.RetryNotify(operation, r.policy.NewBackOff(ctx), notify); err != nil {
		return nil, err
	}
	return deposit, nil
}
