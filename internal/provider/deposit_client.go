package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/movra/payout-manager/internal/model"
	"github.com/movra/payout-manager/internal/repository"
	"github.com/movra/payout-manager/internal/rpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

const createDepositMethod = "/payout.deposit.DepositManagement/CreateDeposit"

// SourceResolver picks the deposit source for a currency: an authorized
// source from the projection, or the configured default.
type SourceResolver struct {
	sources         repository.SourceRepository
	defaultSourceID string
	logger          *zap.Logger
}

// NewSourceResolver creates a resolver. sources may be nil.
func NewSourceResolver(sources repository.SourceRepository, defaultSourceID string, logger *zap.Logger) *SourceResolver {
	return &SourceResolver{
		sources:         sources,
		defaultSourceID: defaultSourceID,
		logger:          logger,
	}
}

// Resolve returns the source id to deposit from
func (r *SourceResolver) Resolve(ctx context.Context, currencyCode string) (string, error) {
	if r.sources != nil {
		source, err := r.sources.GetAuthorizedByCurrency(ctx, currencyCode)
		if err == nil {
			return source.SourceID, nil
		}
		if !errors.Is(err, model.ErrNotFound) {
			r.logger.Warn("Source lookup failed, using default source",
				zap.String("currency", currencyCode),
				zap.Error(err),
			)
		}
	}
	if r.defaultSourceID == "" {
		return "", fmt.Errorf("%w: no deposit source for currency %s", model.ErrNotFound, currencyCode)
	}
	return r.defaultSourceID, nil
}

// GRPCDepositIssuer creates wallet deposits over gRPC
type GRPCDepositIssuer struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
	sources *SourceResolver
	logger  *zap.Logger
}

// NewGRPCDepositIssuer creates a deposit issuer client
func NewGRPCDepositIssuer(conn grpc.ClientConnInterface, timeout time.Duration, sources *SourceResolver, logger *zap.Logger) *GRPCDepositIssuer {
	return &GRPCDepositIssuer{
		conn:    conn,
		timeout: timeout,
		sources: sources,
		logger:  logger,
	}
}

func (i *GRPCDepositIssuer) CreateDeposit(ctx context.Context, payoutID, walletID string, amount int64, currencyCode string) (*model.Deposit, error) {
	sourceID, err := i.sources.Resolve(ctx, currencyCode)
	if err != nil {
		return nil, err
	}

	params := &model.Deposit{
		ID:            model.DepositID(payoutID),
		SourceID:      sourceID,
		DestinationID: walletID,
		Body:          model.Cash{Amount: amount, CurrencyCode: currencyCode},
	}

	i.logger.Info("Creating deposit",
		zap.String("payoutId", payoutID),
		zap.String("depositId", params.ID),
		zap.String("sourceId", sourceID),
		zap.String("walletId", walletID),
	)

	ctx, cancel := withTimeout(ctx, i.timeout)
	defer cancel()

	var deposit model.Deposit
	if err := i.conn.Invoke(ctx, createDepositMethod, params, &deposit); err != nil {
		return nil, rpc.ClassifyError("create deposit", err)
	}

	return &deposit, nil
}
