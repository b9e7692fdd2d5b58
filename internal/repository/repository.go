package repository

import (
	"context"

	"github.com/movra/payout-manager/internal/model"
)

// PayoutRepository defines the interface for payout storage
type PayoutRepository interface {
	// Insert saves a new payout with sequence id 0
	Insert(ctx context.Context, payout *model.Payout) error

	// Get retrieves a payout by id, or model.ErrNotFound
	Get(ctx context.Context, payoutID string) (*model.Payout, error)

	// GetForUpdate retrieves a payout and locks its row until the
	// enclosing transaction ends
	GetForUpdate(ctx context.Context, payoutID string) (*model.Payout, error)

	// ChangeStatus sets the status and increments the sequence id
	ChangeStatus(ctx context.Context, payoutID string, status model.PayoutStatus, cancelDetails string) error
}

// CashFlowPostingRepository stores the immutable posting set of a payout
type CashFlowPostingRepository interface {
	Save(ctx context.Context, postings []model.CashFlowPosting) error

	// GetByPayoutID returns postings in the order they were saved
	GetByPayoutID(ctx context.Context, payoutID string) ([]model.CashFlowPosting, error)
}

// Transactor runs fn inside a transaction. Repositories called with the
// context passed to fn take part in that transaction.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// SourceRepository stores the projection of deposit sources
type SourceRepository interface {
	SaveSource(ctx context.Context, source *model.Source) error
	GetSource(ctx context.Context, sourceID string) (*model.Source, error)
	GetAuthorizedByCurrency(ctx context.Context, currencyCode string) (*model.Source, error)
}
