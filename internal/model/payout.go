package model

import (
	"time"
)

// PayoutStatus represents the status of a payout
type PayoutStatus string

const (
	PayoutStatusUnpaid    PayoutStatus = "UNPAID"
	PayoutStatusPaid      PayoutStatus = "PAID"
	PayoutStatusConfirmed PayoutStatus = "CONFIRMED"
	PayoutStatusCancelled PayoutStatus = "CANCELLED"
	PayoutStatusFailed    PayoutStatus = "FAILED"
)

// ParsePayoutStatus returns the status for its wire name
func ParsePayoutStatus(s string) (PayoutStatus, bool) {
	switch PayoutStatus(s) {
	case PayoutStatusUnpaid, PayoutStatusPaid, PayoutStatusConfirmed, PayoutStatusCancelled, PayoutStatusFailed:
		return PayoutStatus(s), true
	default:
		return "", false
	}
}

// PayoutToolKind is the kind of instrument a payout is sent to
type PayoutToolKind string

const (
	PayoutToolKindWallet                   PayoutToolKind = "WALLET"
	PayoutToolKindDomesticBankAccount      PayoutToolKind = "DOMESTIC_BANK_ACCOUNT"
	PayoutToolKindInternationalBankAccount PayoutToolKind = "INTERNATIONAL_BANK_ACCOUNT"
	PayoutToolKindInstitutionAccount       PayoutToolKind = "INSTITUTION_ACCOUNT"
)

// Cash is an amount in minor units of a currency
type Cash struct {
	Amount       int64  `json:"amount"`
	CurrencyCode string `json:"currency"`
}

// Payout represents a payout record
type Payout struct {
	PayoutID       string         `json:"payoutId"`
	SequenceID     int            `json:"sequenceId"`
	CreatedAt      time.Time      `json:"createdAt"`
	PartyID        string         `json:"partyId"`
	ShopID         string         `json:"shopId"`
	Status         PayoutStatus   `json:"status"`
	PayoutToolID   string         `json:"payoutToolId"`
	PayoutToolKind PayoutToolKind `json:"payoutToolKind"`
	WalletID       string         `json:"walletId,omitempty"`
	Amount         int64          `json:"amount"`
	Fee            int64          `json:"fee"`
	CurrencyCode   string         `json:"currency"`
	CancelDetails  string         `json:"cancelDetails,omitempty"`
}

// PlanID is the ledger plan the payout's postings are held under
func PlanID(payoutID string) string {
	return "payout_" + payoutID
}

// RevertPlanID is the ledger plan used to reverse a committed payout
func RevertPlanID(payoutID string) string {
	return "revert_" + PlanID(payoutID)
}

// AccountKind identifies the owner and purpose of a ledger account
type AccountKind string

const (
	AccountKindSystemSettlement   AccountKind = "system.settlement"
	AccountKindExternalIncome     AccountKind = "external.income"
	AccountKindExternalOutcome    AccountKind = "external.outcome"
	AccountKindMerchantSettlement AccountKind = "merchant.settlement"
	AccountKindMerchantGuarantee  AccountKind = "merchant.guarantee"
	AccountKindMerchantPayout     AccountKind = "merchant.payout"
	AccountKindProviderSettlement AccountKind = "provider.settlement"
)

// CashFlowPosting is one stored ledger leg of a payout. Postings are written
// once at creation and replayed into every ledger call.
type CashFlowPosting struct {
	PayoutID        string      `json:"payoutId"`
	FromAccountID   int64       `json:"fromAccountId"`
	FromAccountKind AccountKind `json:"fromAccountType"`
	ToAccountID     int64       `json:"toAccountId"`
	ToAccountKind   AccountKind `json:"toAccountType"`
	Amount          int64       `json:"amount"`
	CurrencyCode    string      `json:"currencyCode"`
	Description     string      `json:"description,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
}

// PayoutWithPostings is a payout together with its cash flow
type PayoutWithPostings struct {
	Payout   Payout            `json:"payout"`
	CashFlow []CashFlowPosting `json:"cashFlow"`
}
