// Package ledger is the client side of the external double-entry ledger.
package ledger

import (
	"context"
	"errors"

	"github.com/movra/payout-manager/internal/model"
)

// Posting moves an amount between two ledger accounts
type Posting struct {
	FromID          int64  `json:"fromId"`
	ToID            int64  `json:"toId"`
	Amount          int64  `json:"amount"`
	CurrencySymCode string `json:"currencySymCode"`
	Description     string `json:"description"`
}

// PostingBatch is a group of postings applied together within a plan
type PostingBatch struct {
	ID       int64     `json:"id"`
	Postings []Posting `json:"postings"`
}

// Account is the ledger's view of an account after a hold
type Account struct {
	ID                 int64  `json:"id"`
	OwnAmount          int64  `json:"ownAmount"`
	MinAvailableAmount int64  `json:"minAvailableAmount"`
	MaxAvailableAmount int64  `json:"maxAvailableAmount"`
	CurrencySymCode    string `json:"currencySymCode"`
}

// Client is the contract of the ledger. Failures wrap either
// model.ErrDependencyUnavailable (retryable) or model.ErrDependencyRejected.
type Client interface {
	// Hold reserves the batch under planID and returns the affected accounts
	Hold(ctx context.Context, planID string, batch PostingBatch) (map[int64]Account, error)

	Commit(ctx context.Context, planID string, batches []PostingBatch) error

	Rollback(ctx context.Context, planID string, batches []PostingBatch) error
}

// IsUnavailable is the default retry classifier
func IsUnavailable(err error) bool {
	return errors.Is(err, model.ErrDependencyUnavailable)
}
