package service

import (
	"context"
	"fmt"

	"github.com/movra/payout-manager/internal/ledger"
	"github.com/movra/payout-manager/internal/metrics"
	"github.com/movra/payout-manager/internal/model"
	"github.com/movra/payout-manager/internal/repository"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// postingBatchID is the only batch a payout plan ever carries
const postingBatchID = 1

// LedgerSaga drives a payout's postings through the ledger: hold on create,
// commit or rollback afterwards, and revert with compensation when a
// committed payout has to be undone.
type LedgerSaga struct {
	ledger   ledger.Client
	postings repository.CashFlowPostingRepository
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewLedgerSaga creates a saga. client is expected to carry the retry policy.
func NewLedgerSaga(client ledger.Client, postings repository.CashFlowPostingRepository, m *metrics.Metrics, logger *zap.Logger) *LedgerSaga {
	return &LedgerSaga{
		ledger:   client,
		postings: postings,
		metrics:  m,
		logger:   logger,
	}
}

// Hold reserves postings under the payout plan and returns the ledger's view
// of every affected account
func (s *LedgerSaga) Hold(ctx context.Context, payoutID string, postings []model.CashFlowPosting) (map[int64]ledger.Account, error) {
	planID := model.PlanID(payoutID)
	ctx, span := tracer.Start(ctx, "LedgerSaga.Hold")
	span.SetAttributes(attribute.String("payout.id", payoutID), attribute.String("ledger.plan_id", planID))
	defer span.End()

	accounts, err := s.ledger.Hold(ctx, planID, toBatch(payoutID, postings))
	s.metrics.RecordLedgerCall("hold", err)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("hold plan %s: %w", planID, err)
	}
	return accounts, nil
}

func (s *LedgerSaga) Commit(ctx context.Context, payoutID string) error {
	return s.finish(ctx, payoutID, "commit", s.ledger.Commit)
}

func (s *LedgerSaga) Rollback(ctx context.Context, payoutID string) error {
	return s.finish(ctx, payoutID, "rollback", s.ledger.Rollback)
}

func (s *LedgerSaga) finish(
	ctx context.Context,
	payoutID, call string,
	apply func(ctx context.Context, planID string, batches []ledger.PostingBatch) error,
) error {
	planID := model.PlanID(payoutID)
	ctx, span := tracer.Start(ctx, "LedgerSaga."+call)
	span.SetAttributes(attribute.String("payout.id", payoutID), attribute.String("ledger.plan_id", planID))
	defer span.End()

	postings, err := s.load(ctx, payoutID)
	if err != nil {
		recordSpanError(span, err)
		return err
	}

	err = apply(ctx, planID, []ledger.PostingBatch{toBatch(payoutID, postings)})
	s.metrics.RecordLedgerCall(call, err)
	if err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("%s plan %s: %w", call, planID, err)
	}
	return nil
}

// Revert posts the mirror image of a committed payout under the revert plan.
// If the revert fails, the revert plan is rolled back. When that rollback
// fails as well the result is a *model.RevertError carrying both failures;
// otherwise the original failure is returned.
func (s *LedgerSaga) Revert(ctx context.Context, payoutID string) error {
	planID := model.RevertPlanID(payoutID)
	ctx, span := tracer.Start(ctx, "LedgerSaga.Revert")
	span.SetAttributes(attribute.String("payout.id", payoutID), attribute.String("ledger.plan_id", planID))
	defer span.End()

	postings, err := s.load(ctx, payoutID)
	if err != nil {
		recordSpanError(span, err)
		return err
	}
	batch := toRevertBatch(payoutID, postings)

	revertErr := s.applyRevert(ctx, planID, batch)
	if revertErr == nil {
		s.metrics.RecordRevert("reverted")
		s.logger.Info("Payout reverted", zap.String("payoutId", payoutID), zap.String("planId", planID))
		return nil
	}

	s.logger.Error("Failed to revert payout, rolling back revert plan",
		zap.String("payoutId", payoutID),
		zap.String("planId", planID),
		zap.Error(revertErr),
	)

	rollbackErr := s.ledger.Rollback(ctx, planID, []ledger.PostingBatch{batch})
	s.metrics.RecordLedgerCall("revert_rollback", rollbackErr)
	if rollbackErr != nil {
		s.metrics.RecordRevert("inconsistent")
		err := &model.RevertError{
			PayoutID: payoutID,
			PlanID:   planID,
			Causes:   []error{rollbackErr, revertErr},
		}
		s.logger.Error("Failed to roll back revert plan, ledger needs attention",
			zap.String("payoutId", payoutID),
			zap.String("planId", planID),
			zap.NamedError("rollbackError", rollbackErr),
			zap.NamedError("revertError", revertErr),
		)
		recordSpanError(span, err)
		return err
	}

	s.metrics.RecordRevert("compensated")
	recordSpanError(span, revertErr)
	return fmt.Errorf("revert plan %s: %w", planID, revertErr)
}

func (s *LedgerSaga) applyRevert(ctx context.Context, planID string, batch ledger.PostingBatch) error {
	_, err := s.ledger.Hold(ctx, planID, batch)
	s.metrics.RecordLedgerCall("revert_hold", err)
	if err != nil {
		return fmt.Errorf("hold: %w", err)
	}

	err = s.ledger.Commit(ctx, planID, []ledger.PostingBatch{batch})
	s.metrics.RecordLedgerCall("revert_commit", err)
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *LedgerSaga) load(ctx context.Context, payoutID string) ([]model.CashFlowPosting, error) {
	postings, err := s.postings.GetByPayoutID(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	if len(postings) == 0 {
		return nil, fmt.Errorf("%w: cash flow postings not found, payoutId=%s", model.ErrNotFound, payoutID)
	}
	return postings, nil
}

func toBatch(payoutID string, postings []model.CashFlowPosting) ledger.PostingBatch {
	batch := ledger.PostingBatch{ID: postingBatchID, Postings: make([]ledger.Posting, 0, len(postings))}
	for _, p := range postings {
		description := p.Description
		if description == "" {
			description = "PAYOUT-" + payoutID
		}
		batch.Postings = append(batch.Postings, ledger.Posting{
			FromID:          p.FromAccountID,
			ToID:            p.ToAccountID,
			Amount:          p.Amount,
			CurrencySymCode: p.CurrencyCode,
			Description:     description,
		})
	}
	return batch
}

func toRevertBatch(payoutID string, postings []model.CashFlowPosting) ledger.PostingBatch {
	batch := ledger.PostingBatch{ID: postingBatchID, Postings: make([]ledger.Posting, 0, len(postings))}
	for _, p := range postings {
		batch.Postings = append(batch.Postings, ledger.Posting{
			FromID:          p.ToAccountID,
			ToID:            p.FromAccountID,
			Amount:          p.Amount,
			CurrencySymCode: p.CurrencyCode,
			Description:     "Revert payout: " + payoutID,
		})
	}
	return batch
}
