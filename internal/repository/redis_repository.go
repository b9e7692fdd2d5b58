package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/movra/payout-manager/internal/model"
	"github.com/redis/go-redis/v9"
)

const (
	sourceKeyPrefix   = "source:"
	currencyKeyPrefix = "source:currency:"
)

// RedisRepository implements SourceRepository using Redis
type RedisRepository struct {
	client redis.UniversalClient
}

// NewRedisRepository creates a new Redis repository
func NewRedisRepository(client redis.UniversalClient) *RedisRepository {
	return &RedisRepository{client: client}
}

func (r *RedisRepository) SaveSource(ctx context.Context, source *model.Source) error {
	data, err := json.Marshal(source)
	if err != nil {
		return fmt.Errorf("marshal source: %w", err)
	}

	previous, err := r.GetSource(ctx, source.SourceID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return err
	}

	pipe := r.client.TxPipeline()

	pipe.Set(ctx, sourceKeyPrefix+source.SourceID, data, 0)

	// Keep the currency index in step with the stored currency
	if previous != nil && previous.CurrencyCode != "" && previous.CurrencyCode != source.CurrencyCode {
		pipe.SRem(ctx, currencyKeyPrefix+previous.CurrencyCode, source.SourceID)
	}
	if source.CurrencyCode != "" {
		pipe.SAdd(ctx, currencyKeyPrefix+source.CurrencyCode, source.SourceID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save source: %w: %w", model.ErrStorage, err)
	}

	return nil
}

func (r *RedisRepository) GetSource(ctx context.Context, sourceID string) (*model.Source, error) {
	data, err := r.client.Get(ctx, sourceKeyPrefix+sourceID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: source not found, sourceId=%s", model.ErrNotFound, sourceID)
	}
	if err != nil {
		return nil, fmt.Errorf("get source: %w: %w", model.ErrStorage, err)
	}

	var source model.Source
	if err := json.Unmarshal(data, &source); err != nil {
		return nil, fmt.Errorf("unmarshal source: %w", err)
	}

	return &source, nil
}

// GetAuthorizedByCurrency returns the authorized source with the lowest id
// for the currency
func (r *RedisRepository) GetAuthorizedByCurrency(ctx context.Context, currencyCode string) (*model.Source, error) {
	ids, err := r.client.SMembers(ctx, currencyKeyPrefix+currencyCode).Result()
	if err != nil {
		return nil, fmt.Errorf("list sources: %w: %w", model.ErrStorage, err)
	}
	sort.Strings(ids)

	for _, id := range ids {
		source, err := r.GetSource(ctx, id)
		if errors.Is(err, model.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if source.Status == model.SourceStatusAuthorized && source.CurrencyCode == currencyCode {
			return source, nil
		}
	}

	return nil, fmt.Errorf("%w: no authorized source, currency=%s", model.ErrNotFound, currencyCode)
}
