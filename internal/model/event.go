package model

import "time"

const (
	ChangeTypeCreated       = "created"
	ChangeTypeStatusChanged = "status_changed"
)

// PayoutEvent is the change notification published after every transition
type PayoutEvent struct {
	PayoutID   string       `json:"payoutId"`
	SequenceID int          `json:"sequenceId"`
	CreatedAt  time.Time    `json:"createdAt"`
	Change     PayoutChange `json:"change"`
}

// PayoutChange carries either the full payout (on creation) or its new status
type PayoutChange struct {
	Type          string            `json:"type"`
	Payout        *Payout           `json:"payout,omitempty"`
	CashFlow      []CashFlowPosting `json:"cashFlow,omitempty"`
	Status        PayoutStatus      `json:"status,omitempty"`
	CancelDetails string            `json:"cancelDetails,omitempty"`
}

// NewPayoutEvent builds the notification for the payout's current state
func NewPayoutEvent(payout *Payout, postings []CashFlowPosting, now time.Time) PayoutEvent {
	event := PayoutEvent{
		PayoutID:   payout.PayoutID,
		SequenceID: payout.SequenceID,
		CreatedAt:  now.UTC(),
	}
	if payout.SequenceID == 0 {
		event.Change = PayoutChange{
			Type:     ChangeTypeCreated,
			Payout:   payout,
			CashFlow: postings,
		}
		return event
	}
	event.Change = PayoutChange{
		Type:   ChangeTypeStatusChanged,
		Status: payout.Status,
	}
	if payout.Status == PayoutStatusCancelled {
		event.Change.CancelDetails = payout.CancelDetails
	}
	return event
}

// SourceStatus is the authorization state of a deposit source
type SourceStatus string

const (
	SourceStatusUnauthorized SourceStatus = "UNAUTHORIZED"
	SourceStatusAuthorized   SourceStatus = "AUTHORIZED"
)

// Source is a wallet deposit source mirrored from the source change feed
type Source struct {
	SourceID     string       `json:"sourceId"`
	Status       SourceStatus `json:"status"`
	CurrencyCode string       `json:"currencyCode,omitempty"`
}

// Deposit is the handle returned by the deposit issuer
type Deposit struct {
	ID            string `json:"id"`
	SourceID      string `json:"sourceId"`
	DestinationID string `json:"destinationId"`
	Body          Cash   `json:"body"`
}

// DepositID is the deposit id used for a payout's wallet deposit
func DepositID(payoutID string) string {
	return "payout_" + payoutID
}

// SourceChange is one entry of the deposit source change feed. Exactly one
// of Created, Account and Status is set.
type SourceChange struct {
	SourceID  string               `json:"sourceId"`
	EventID   int64                `json:"eventId"`
	CreatedAt time.Time            `json:"occurredAt"`
	Created   *SourceCreated       `json:"created,omitempty"`
	Account   *SourceAccountChange `json:"account,omitempty"`
	Status    *SourceStatusChange  `json:"status,omitempty"`
}

type SourceCreated struct {
	ID string `json:"id"`
}

type SourceAccountChange struct {
	CurrencyCode string `json:"currency"`
}

type SourceStatusChange struct {
	Status SourceStatus `json:"status"`
}
