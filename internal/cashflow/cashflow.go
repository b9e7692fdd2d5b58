// Package cashflow derives a payout's amount and fee from the postings the
// party directory computes for it.
package cashflow

import (
	"fmt"
	"time"

	"github.com/movra/payout-manager/internal/model"
)

// Type classifies a computed posting
type Type string

const (
	TypePayoutAmount   Type = "PAYOUT_AMOUNT"
	TypePayoutFixedFee Type = "PAYOUT_FIXED_FEE"
	TypeFee            Type = "FEE"
	TypeUnknown        Type = "UNKNOWN"
)

type route struct {
	from model.AccountKind
	to   model.AccountKind
}

var routes = map[route]Type{
	{model.AccountKindMerchantSettlement, model.AccountKindMerchantPayout}:   TypePayoutAmount,
	{model.AccountKindMerchantPayout, model.AccountKindSystemSettlement}:     TypePayoutFixedFee,
	{model.AccountKindMerchantSettlement, model.AccountKindSystemSettlement}: TypeFee,
}

// Classify returns the type of a posting from its source and destination kinds
func Classify(p model.FinalCashFlowPosting) Type {
	if t, ok := routes[route{p.Source.AccountKind, p.Destination.AccountKind}]; ok {
		return t
	}
	return TypeUnknown
}

// Sum groups postings by type and sums their volumes
func Sum(postings []model.FinalCashFlowPosting) map[Type]int64 {
	sums := make(map[Type]int64)
	for _, p := range postings {
		t := Classify(p)
		if t == TypeUnknown {
			continue
		}
		sums[t] += p.Volume.Amount
	}
	return sums
}

// Compute returns the payout amount and fee. It fails with
// model.ErrInsufficientFunds when the amount is not positive.
func Compute(postings []model.FinalCashFlowPosting) (amount, fee int64, err error) {
	sums := Sum(postings)
	amount = sums[TypePayoutAmount] - sums[TypePayoutFixedFee]
	fee = sums[TypeFee] + sums[TypePayoutFixedFee]
	if amount <= 0 {
		return amount, fee, fmt.Errorf("%w: negative amount in payout cash flow, amount=%d, fee=%d",
			model.ErrInsufficientFunds, amount, fee)
	}
	return amount, fee, nil
}

// ToPostings converts computed postings into the rows stored for a payout
func ToPostings(payoutID string, createdAt time.Time, postings []model.FinalCashFlowPosting) []model.CashFlowPosting {
	result := make([]model.CashFlowPosting, 0, len(postings))
	for _, p := range postings {
		result = append(result, model.CashFlowPosting{
			PayoutID:        payoutID,
			FromAccountID:   p.Source.AccountID,
			FromAccountKind: p.Source.AccountKind,
			ToAccountID:     p.Destination.AccountID,
			ToAccountKind:   p.Destination.AccountKind,
			Amount:          p.Volume.Amount,
			CurrencyCode:    p.Volume.CurrencyCode,
			Description:     p.Details,
			CreatedAt:       createdAt,
		})
	}
	return result
}
