package service

import (
	"context"

	"github.com/movra/payout-manager/internal/model"
)

// EventPublisher delivers payout change notifications at least once
type EventPublisher interface {
	Publish(ctx context.Context, event model.PayoutEvent) error
}
