package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/movra/payout-manager/internal/metrics"
	"github.com/movra/payout-manager/internal/model"
	"github.com/movra/payout-manager/internal/repository"
	"go.uber.org/zap"
)

const (
	sourceChangeCreated = "created"
	sourceChangeAccount = "account"
	sourceChangeStatus  = "status"
	sourceChangeUnknown = "unknown"
)

// SourceService projects the deposit source change feed into the source
// repository used to pick deposit sources
type SourceService struct {
	sources repository.SourceRepository
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewSourceService creates a new source projector
func NewSourceService(sources repository.SourceRepository, m *metrics.Metrics, logger *zap.Logger) *SourceService {
	return &SourceService{
		sources: sources,
		metrics: m,
		logger:  logger,
	}
}

// HandleChanges applies changes in order and stops at the first failure so
// the batch can be redelivered. Every change is idempotent.
func (s *SourceService) HandleChanges(ctx context.Context, changes []model.SourceChange) error {
	for _, change := range changes {
		kind := changeKind(change)
		err := s.apply(ctx, kind, change)
		s.metrics.RecordSourceEvent(kind, err)
		if err != nil {
			return fmt.Errorf("apply %s change of source %s (event %d): %w", kind, change.SourceID, change.EventID, err)
		}
	}
	return nil
}

func (s *SourceService) apply(ctx context.Context, kind string, change model.SourceChange) error {
	switch kind {
	case sourceChangeCreated:
		return s.created(ctx, change.SourceID)
	case sourceChangeAccount:
		return s.update(ctx, change.SourceID, func(source *model.Source) {
			source.CurrencyCode = change.Account.CurrencyCode
		})
	case sourceChangeStatus:
		switch change.Status.Status {
		case model.SourceStatusAuthorized, model.SourceStatusUnauthorized:
		default:
			s.logger.Warn("Skipping source change with unknown status",
				zap.String("sourceId", change.SourceID),
				zap.String("status", string(change.Status.Status)),
			)
			return nil
		}
		return s.update(ctx, change.SourceID, func(source *model.Source) {
			source.Status = change.Status.Status
		})
	default:
		s.logger.Debug("Skipping unsupported source change",
			zap.String("sourceId", change.SourceID),
			zap.Int64("eventId", change.EventID),
		)
		return nil
	}
}

func (s *SourceService) created(ctx context.Context, sourceID string) error {
	_, err := s.sources.GetSource(ctx, sourceID)
	switch {
	case err == nil:
		s.logger.Debug("Source already projected", zap.String("sourceId", sourceID))
		return nil
	case !errors.Is(err, model.ErrNotFound):
		return err
	}

	if err := s.sources.SaveSource(ctx, &model.Source{SourceID: sourceID, Status: model.SourceStatusUnauthorized}); err != nil {
		return err
	}
	s.logger.Info("Source created", zap.String("sourceId", sourceID))
	return nil
}

func (s *SourceService) update(ctx context.Context, sourceID string, mutate func(*model.Source)) error {
	source, err := s.sources.GetSource(ctx, sourceID)
	if err != nil {
		return err
	}
	mutate(source)
	if err := s.sources.SaveSource(ctx, source); err != nil {
		return err
	}
	s.logger.Info("Source updated",
		zap.String("sourceId", sourceID),
		zap.String("status", string(source.Status)),
		zap.String("currency", source.CurrencyCode),
	)
	return nil
}

func changeKind(change model.SourceChange) string {
	switch {
	case change.Created != nil:
		return sourceChangeCreated
	case change.Account != nil:
		return sourceChangeAccount
	case change.Status != nil:
		return sourceChangeStatus
	default:
		return sourceChangeUnknown
	}
}
