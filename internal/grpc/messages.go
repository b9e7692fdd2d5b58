package grpc

import "github.com/movra/payout-manager/internal/model"

type CreatePayoutRequest struct {
	PayoutID     string     `json:"payoutId,omitempty"`
	PartyID      string     `json:"partyId"`
	ShopID       string     `json:"shopId"`
	Cash         model.Cash `json:"cash"`
	PayoutToolID string     `json:"payoutToolId,omitempty"`
}

type GetPayoutRequest struct {
	PayoutID string `json:"payoutId"`
}

type ConfirmPayoutRequest struct {
	PayoutID string `json:"payoutId"`
}

type CancelPayoutRequest struct {
	PayoutID string `json:"payoutId"`
	Details  string `json:"details"`
}

// PayoutResponse carries a payout with the postings it was created from
type PayoutResponse struct {
	Payout   model.Payout            `json:"payout"`
	CashFlow []model.CashFlowPosting `json:"cashFlow"`
}

type Empty struct{}
