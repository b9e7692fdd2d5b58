package provider

import (
	"context"
	"time"

	"github.com/movra/payout-manager/internal/model"
)

// CashFlowRequest asks the party directory to price a payout
type CashFlowRequest struct {
	PartyID      string     `json:"partyId"`
	ShopID       string     `json:"shopId"`
	Cash         model.Cash `json:"cash"`
	PayoutToolID string     `json:"payoutToolId"`
	Timestamp    time.Time  `json:"timestamp"`
}

// PartyDirectory resolves merchants and computes payout cash flows
type PartyDirectory interface {
	// GetParty returns the party with its shops and contracts, or model.ErrNotFound
	GetParty(ctx context.Context, partyID string) (*model.Party, error)

	// ComputeCashFlow returns the postings a payout would produce at the given time
	ComputeCashFlow(ctx context.Context, req CashFlowRequest) ([]model.FinalCashFlowPosting, error)
}

// DepositIssuer credits a wallet after a payout is confirmed
type DepositIssuer interface {
	// CreateDeposit fails with model.ErrNotFound if the wallet or the deposit
	// source cannot be resolved
	CreateDeposit(ctx context.Context, payoutID, walletID string, amount int64, currencyCode string) (*model.Deposit, error)
}
