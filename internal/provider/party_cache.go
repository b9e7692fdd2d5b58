package provider

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/movra/payout-manager/internal/model"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const partyKeyPrefix = "party:"

// CachedPartyDirectory keeps parties in Redis for a short TTL. Cash flows are
// time dependent and always go to the underlying directory. Redis failures
// degrade to uncached reads.
type CachedPartyDirectory struct {
	next   PartyDirectory
	client redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedPartyDirectory wraps next with a Redis read-through cache
func NewCachedPartyDirectory(next PartyDirectory, client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *CachedPartyDirectory {
	return &CachedPartyDirectory{
		next:   next,
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func (d *CachedPartyDirectory) GetParty(ctx context.Context, partyID string) (*model.Party, error) {
	data, err := d.client.Get(ctx, partyKeyPrefix+partyID).Bytes()
	switch {
	case err == nil:
		var party model.Party
		if err := json.Unmarshal(data, &party); err == nil {
			return &party, nil
		}
		d.logger.Warn("Dropping unreadable cached party", zap.String("partyId", partyID))
	case !errors.Is(err, redis.Nil):
		d.logger.Warn("Party cache unavailable", zap.String("partyId", partyID), zap.Error(err))
	}

	party, err := d.next.GetParty(ctx, partyID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(party); err == nil {
		if err := d.client.Set(ctx, partyKeyPrefix+partyID, data, d.ttl).Err(); err != nil {
			d.logger.Warn("Failed to cache party", zap.String("partyId", partyID), zap.Error(err))
		}
	}

	return party, nil
}

func (d *CachedPartyDirectory) ComputeCashFlow(ctx context.Context, req CashFlowRequest) ([]model.FinalCashFlowPosting, error) {
	return d.next.ComputeCashFlow(ctx, req)
}
