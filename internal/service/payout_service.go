package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/movra/payout-manager/internal/cashflow"
	"github.com/movra/payout-manager/internal/metrics"
	"github.com/movra/payout-manager/internal/model"
	"github.com/movra/payout-manager/internal/provider"
	"github.com/movra/payout-manager/internal/repository"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DepositFailureMode selects what confirm reports when a wallet deposit fails
type DepositFailureMode string

const (
	// DepositFailureFail marks the payout FAILED, reverts it and reports success
	DepositFailureFail DepositFailureMode = "fail"
	// DepositFailureRethrow marks the payout FAILED, reverts it and returns the deposit error
	DepositFailureRethrow DepositFailureMode = "rethrow"
)

// ParseDepositFailureMode returns the mode for its config name
func ParseDepositFailureMode(s string) (DepositFailureMode, error) {
	switch DepositFailureMode(s) {
	case DepositFailureFail, DepositFailureRethrow:
		return DepositFailureMode(s), nil
	default:
		return "", fmt.Errorf("unknown deposit failure mode %q", s)
	}
}

// Dependencies are the collaborators of PayoutService
type Dependencies struct {
	Payouts    repository.PayoutRepository
	Postings   repository.CashFlowPostingRepository
	Transactor repository.Transactor
	Saga       *LedgerSaga
	Parties    provider.PartyDirectory
	Deposits   provider.DepositIssuer
	Publisher  EventPublisher // nil disables change notifications
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// PayoutService is the payout state machine
type PayoutService struct {
	payouts     repository.PayoutRepository
	postings    repository.CashFlowPostingRepository
	tx          repository.Transactor
	saga        *LedgerSaga
	parties     provider.PartyDirectory
	deposits    provider.DepositIssuer
	publisher   EventPublisher
	metrics     *metrics.Metrics
	logger      *zap.Logger
	failureMode DepositFailureMode
	now         func() time.Time
}

// Option configures a PayoutService
type Option func(*PayoutService)

// WithDepositFailureMode overrides the default DepositFailureFail
func WithDepositFailureMode(mode DepositFailureMode) Option {
	return func(s *PayoutService) { s.failureMode = mode }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *PayoutService) { s.now = now }
}

// NewPayoutService creates a new payout service
func NewPayoutService(deps Dependencies, opts ...Option) *PayoutService {
	s := &PayoutService{
		payouts:     deps.Payouts,
		postings:    deps.Postings,
		tx:          deps.Transactor,
		saga:        deps.Saga,
		parties:     deps.Parties,
		deposits:    deps.Deposits,
		publisher:   deps.Publisher,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		failureMode: DepositFailureFail,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreatePayoutRequest represents a request to create a payout. PayoutID and
// PayoutToolID are optional.
type CreatePayoutRequest struct {
	PartyID      string
	ShopID       string
	Cash         model.Cash
	PayoutID     string
	PayoutToolID string
}

// CreatePayout prices the payout, stores it with its postings and holds the
// postings on the ledger. A settlement account that would go negative fails
// the call with model.ErrInsufficientFunds and leaves nothing behind.
func (s *PayoutService) CreatePayout(ctx context.Context, req *CreatePayoutRequest) (*model.Payout, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "PayoutService.CreatePayout")
	defer span.End()

	payoutID := req.PayoutID
	if payoutID == "" {
		payoutID = uuid.NewString()
	}
	span.SetAttributes(
		attribute.String("payout.id", payoutID),
		attribute.String("party.id", req.PartyID),
		attribute.String("shop.id", req.ShopID),
	)

	payout, err := s.create(ctx, payoutID, req)
	if err == nil {
		s.metrics.RecordPayoutCreated(payout.CurrencyCode, payout.Amount)
		s.logger.Info("Payout created",
			zap.String("payoutId", payout.PayoutID),
			zap.String("partyId", payout.PartyID),
			zap.String("shopId", payout.ShopID),
			zap.Int64("amount", payout.Amount),
			zap.Int64("fee", payout.Fee),
			zap.String("currency", payout.CurrencyCode),
		)
		err = s.publish(ctx, []model.Payout{*payout})
	}
	s.observe(span, "create", start, payoutID, err)
	if err != nil {
		return nil, err
	}
	return payout, nil
}

func (s *PayoutService) create(ctx context.Context, payoutID string, req *CreatePayoutRequest) (*model.Payout, error) {
	if req.Cash.Amount <= 0 {
		return nil, fmt.Errorf("%w: payout amount must be positive, amount=%d", model.ErrInsufficientFunds, req.Cash.Amount)
	}
	if req.PayoutID != "" {
		if err := s.ensureUnused(ctx, payoutID); err != nil {
			return nil, err
		}
	}

	party, err := s.parties.GetParty(ctx, req.PartyID)
	if err != nil {
		return nil, fmt.Errorf("get party: %w", err)
	}
	shop, ok := party.Shops[req.ShopID]
	if !ok {
		return nil, fmt.Errorf("%w: shop not found, partyId=%s, shopId=%s", model.ErrNotFound, req.PartyID, req.ShopID)
	}

	toolID := req.PayoutToolID
	if toolID == "" {
		if shop.PayoutToolID == "" {
			return nil, fmt.Errorf("%w: shop has no default payout tool, shopId=%s", model.ErrInvalidRequest, shop.ID)
		}
		toolID = shop.PayoutToolID
	}
	contract, ok := party.Contracts[shop.ContractID]
	if !ok {
		return nil, fmt.Errorf("%w: contract not found, contractId=%s", model.ErrNotFound, shop.ContractID)
	}
	tool, ok := contract.FindPayoutTool(toolID)
	if !ok {
		return nil, fmt.Errorf("%w: payout tool not found, payoutToolId=%s", model.ErrNotFound, toolID)
	}
	if _, err := requiresDeposit(tool.Kind); err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrInvalidRequest, err)
	}

	createdAt := s.now().UTC()
	final, err := s.parties.ComputeCashFlow(ctx, provider.CashFlowRequest{
		PartyID:      req.PartyID,
		ShopID:       req.ShopID,
		Cash:         req.Cash,
		PayoutToolID: toolID,
		Timestamp:    createdAt,
	})
	if err != nil {
		return nil, fmt.Errorf("compute cash flow: %w", err)
	}
	amount, fee, err := cashflow.Compute(final)
	if err != nil {
		return nil, err
	}

	payout := &model.Payout{
		PayoutID:       payoutID,
		CreatedAt:      createdAt,
		PartyID:        req.PartyID,
		ShopID:         req.ShopID,
		Status:         model.PayoutStatusUnpaid,
		PayoutToolID:   toolID,
		PayoutToolKind: tool.Kind,
		Amount:         amount,
		Fee:            fee,
		CurrencyCode:   req.Cash.CurrencyCode,
	}
	if tool.Kind == model.PayoutToolKindWallet {
		payout.WalletID = tool.WalletID
	}
	postings := cashflow.ToPostings(payoutID, createdAt, final)

	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.payouts.Insert(ctx, payout); err != nil {
			return err
		}
		if err := s.postings.Save(ctx, postings); err != nil {
			return err
		}

		accounts, err := s.saga.Hold(ctx, payoutID, postings)
		if err != nil {
			return err
		}
		settlement, ok := accounts[shop.Account.Settlement]
		if ok && settlement.MinAvailableAmount >= 0 {
			return nil
		}

		if err := s.saga.Rollback(ctx, payoutID); err != nil {
			return err
		}
		return fmt.Errorf("%w: invalid available amount in shop account, accountId=%d, minAvailable=%d",
			model.ErrInsufficientFunds, shop.Account.Settlement, settlement.MinAvailableAmount)
	})
	if err != nil {
		return nil, err
	}
	return payout, nil
}

func (s *PayoutService) ensureUnused(ctx context.Context, payoutID string) error {
	_, err := s.payouts.Get(ctx, payoutID)
	switch {
	case err == nil:
		return fmt.Errorf("%w: payoutId=%s", model.ErrPayoutAlreadyExists, payoutID)
	case errors.Is(err, model.ErrNotFound):
		return nil
	default:
		return err
	}
}

// GetPayout retrieves a payout by ID
func (s *PayoutService) GetPayout(ctx context.Context, payoutID string) (*model.Payout, error) {
	return s.payouts.Get(ctx, payoutID)
}

// GetPayoutWithPostings retrieves a payout with its cash flow
func (s *PayoutService) GetPayoutWithPostings(ctx context.Context, payoutID string) (*model.PayoutWithPostings, error) {
	payout, err := s.payouts.Get(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	postings, err := s.postings.GetByPayoutID(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	return &model.PayoutWithPostings{Payout: *payout, CashFlow: postings}, nil
}

// ConfirmPayout commits the held postings and, for wallets, issues the
// deposit. A failed deposit moves the payout to FAILED and reverts the
// ledger. Confirming a CONFIRMED payout is a no-op.
func (s *PayoutService) ConfirmPayout(ctx context.Context, payoutID string) error {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "PayoutService.ConfirmPayout")
	span.SetAttributes(attribute.String("payout.id", payoutID))
	defer span.End()

	// outcome is reported after the FAILED status has been committed
	var outcome error
	var changes []model.Payout
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		outcome, changes = nil, nil
		payout, err := s.payouts.GetForUpdate(ctx, payoutID)
		if err != nil {
			return err
		}

		switch payout.Status {
		case model.PayoutStatusConfirmed:
			s.logger.Info("Payout already confirmed", zap.String("payoutId", payoutID))
			changes = append(changes, *payout)
			return nil
		case model.PayoutStatusUnpaid:
		default:
			return fmt.Errorf("%w: cannot confirm payout in status %s, payoutId=%s", model.ErrInvalidState, payout.Status, payoutID)
		}

		if err := s.transition(ctx, payout, model.PayoutStatusConfirmed, ""); err != nil {
			return err
		}
		changes = append(changes, *payout)
		if err := s.saga.Commit(ctx, payoutID); err != nil {
			return err
		}

		deposit, err := requiresDeposit(payout.PayoutToolKind)
		if err != nil {
			return fmt.Errorf("%w: %w", model.ErrStorage, err)
		}
		if !deposit {
			return nil
		}

		if _, depositErr := s.deposits.CreateDeposit(ctx, payoutID, payout.WalletID, payout.Amount, payout.CurrencyCode); depositErr != nil {
			if err := s.transition(ctx, payout, model.PayoutStatusFailed, ""); err != nil {
				return err
			}
			changes = append(changes, *payout)
			outcome = s.revertFailed(ctx, payoutID, depositErr)
		}
		return nil
	})
	if err == nil {
		err = s.publish(ctx, changes)
		if outcome != nil {
			err = outcome
		}
	}
	s.observe(span, "confirm", start, payoutID, err)
	return err
}

// revertFailed undoes the ledger side of a payout whose deposit failed. The
// returned error, if any, is what confirm reports once the FAILED status is
// committed.
func (s *PayoutService) revertFailed(ctx context.Context, payoutID string, depositErr error) error {
	s.logger.Warn("Failed to create deposit, payout failed",
		zap.String("payoutId", payoutID),
		zap.String("depositId", model.DepositID(payoutID)),
		zap.Error(depositErr),
	)

	if err := s.saga.Revert(ctx, payoutID); err != nil {
		return err
	}
	if s.failureMode == DepositFailureRethrow {
		return fmt.Errorf("create deposit: %w", depositErr)
	}
	return nil
}

// CancelPayout rolls back the held postings of an UNPAID payout. Cancelling
// a CANCELLED payout is a no-op; any other status is rejected.
func (s *PayoutService) CancelPayout(ctx context.Context, payoutID, details string) error {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "PayoutService.CancelPayout")
	span.SetAttributes(attribute.String("payout.id", payoutID))
	defer span.End()

	var changes []model.Payout
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		changes = nil
		payout, err := s.payouts.GetForUpdate(ctx, payoutID)
		if err != nil {
			return err
		}

		switch payout.Status {
		case model.PayoutStatusCancelled:
			s.logger.Info("Payout already cancelled", zap.String("payoutId", payoutID))
			changes = append(changes, *payout)
			return nil
		case model.PayoutStatusUnpaid:
		default:
			return fmt.Errorf("%w: cannot cancel payout in status %s, payoutId=%s", model.ErrInvalidState, payout.Status, payoutID)
		}

		if err := s.transition(ctx, payout, model.PayoutStatusCancelled, details); err != nil {
			return err
		}
		changes = append(changes, *payout)
		return s.saga.Rollback(ctx, payoutID)
	})
	if err == nil {
		err = s.publish(ctx, changes)
	}
	s.observe(span, "cancel", start, payoutID, err)
	return err
}

// transition persists status and advances payout to the stored state
func (s *PayoutService) transition(ctx context.Context, payout *model.Payout, status model.PayoutStatus, details string) error {
	if err := s.payouts.ChangeStatus(ctx, payout.PayoutID, status, details); err != nil {
		return err
	}
	payout.Status = status
	payout.SequenceID++
	if status == model.PayoutStatusCancelled {
		payout.CancelDetails = details
	}

	s.metrics.RecordTransition(string(status))
	s.logger.Info("Payout status changed",
		zap.String("payoutId", payout.PayoutID),
		zap.String("status", string(status)),
		zap.Int("sequenceId", payout.SequenceID),
	)
	return nil
}

// publish sends one notification per committed state, in sequence order
func (s *PayoutService) publish(ctx context.Context, changes []model.Payout) error {
	if s.publisher == nil {
		return nil
	}

	for i := range changes {
		payout := &changes[i]
		var postings []model.CashFlowPosting
		if payout.SequenceID == 0 {
			var err error
			if postings, err = s.postings.GetByPayoutID(ctx, payout.PayoutID); err != nil {
				return fmt.Errorf("load cash flow for notification: %w", err)
			}
		}

		event := model.NewPayoutEvent(payout, postings, s.now())
		err := s.publisher.Publish(ctx, event)
		s.metrics.RecordEventPublished(event.Change.Type, err)
		if err != nil {
			return fmt.Errorf("%w: publish payout event: %w", model.ErrDependencyUnavailable, err)
		}
	}
	return nil
}

func (s *PayoutService) observe(span trace.Span, operation string, start time.Time, payoutID string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case model.IsClientError(err):
		result = "rejected"
		s.logger.Info("Payout operation rejected",
			zap.String("operation", operation),
			zap.String("payoutId", payoutID),
			zap.Error(err),
		)
	default:
		result = "error"
		recordSpanError(span, err)
		s.logger.Error("Payout operation failed",
			zap.String("operation", operation),
			zap.String("payoutId", payoutID),
			zap.String("planId", planIDFor(payoutID, err)),
			zap.Error(err),
		)
	}
	s.metrics.RecordOperation(operation, result, time.Since(start).Seconds())
}

func planIDFor(payoutID string, err error) string {
	var revertErr *model.RevertError
	if errors.As(err, &revertErr) {
		return revertErr.PlanID
	}
	if payoutID == "" {
		return ""
	}
	return model.PlanID(payoutID)
}

// requiresDeposit reports whether a confirmed payout to kind is followed by
// a wallet deposit
func requiresDeposit(kind model.PayoutToolKind) (bool, error) {
	switch kind {
	case model.PayoutToolKindWallet:
		return true, nil
	case model.PayoutToolKindDomesticBankAccount,
		model.PayoutToolKindInternationalBankAccount,
		model.PayoutToolKindInstitutionAccount:
		return false, nil
	default:
		return false, fmt.Errorf("unknown payout tool kind %q", kind)
	}
}
