package model

import (
	"errors"
	"strings"
)

// Domain errors. Callers wrap them with context and match with errors.Is.
var (
	// ErrInsufficientFunds is returned when a payout nets to a non-positive
	// amount or the held settlement balance goes negative.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrNotFound is returned when a party, shop, payout tool, payout or
	// deposit source does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRequest is returned for requests that can never succeed as
	// sent, such as a shop without a default payout tool.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrPayoutAlreadyExists is returned when a caller-supplied payout id is taken.
	ErrPayoutAlreadyExists = errors.New("payout already exists")

	// ErrInvalidState is returned when a transition is not permitted.
	ErrInvalidState = errors.New("invalid state")

	ErrDependencyUnavailable = errors.New("dependency unavailable")
	ErrDependencyRejected    = errors.New("dependency rejected request")
	ErrStorage               = errors.New("storage failure")

	// ErrRevertInconsistent marks a revert whose compensating rollback also failed.
	ErrRevertInconsistent = errors.New("revert left ledger inconsistent")
)

// RevertError is returned when reverting a committed payout fails and the
// compensating rollback of the revert plan fails too. Causes holds the
// rollback failure first and the original revert failure second.
type RevertError struct {
	PayoutID string
	PlanID   string
	Causes   []error
}

func (e *RevertError) Error() string {
	var b strings.Builder
	b.WriteString("revert payout ")
	b.WriteString(e.PayoutID)
	b.WriteString(" (plan ")
	b.WriteString(e.PlanID)
	b.WriteString(") inconsistent")
	for _, cause := range e.Causes {
		b.WriteString(": ")
		b.WriteString(cause.Error())
	}
	return b.String()
}

func (e *RevertError) Unwrap() []error {
	return append([]error{ErrRevertInconsistent}, e.Causes...)
}

// IsClientError reports whether err is correctable by the caller
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrPayoutAlreadyExists) ||
		errors.Is(err, ErrInvalidState)
}
