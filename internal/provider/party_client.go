package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/movra/payout-manager/internal/model"
	"github.com/movra/payout-manager/internal/rpc"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

const (
	partyServiceName      = "payout.party.PartyManagement"
	getPartyMethod        = "/" + partyServiceName + "/GetParty"
	computeCashFlowMethod = "/" + partyServiceName + "/ComputePayoutCashFlow"
)

type GetPartyRequest struct {
	PartyID string `json:"partyId"`
}

type ComputeCashFlowResponse struct {
	Postings []model.FinalCashFlowPosting `json:"postings"`
}

// BreakerConfig configures the circuit breaker around a dependency
type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// GRPCPartyDirectory calls the party management service over gRPC behind a
// circuit breaker. Only unavailability counts against the breaker.
type GRPCPartyDirectory struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewGRPCPartyDirectory creates a party directory client
func NewGRPCPartyDirectory(conn grpc.ClientConnInterface, timeout time.Duration, cfg BreakerConfig, logger *zap.Logger) *GRPCPartyDirectory {
	settings := gobreaker.Settings{
		Name:        "party-management",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, model.ErrDependencyUnavailable)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &GRPCPartyDirectory{
		conn:    conn,
		timeout: timeout,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

func (c *GRPCPartyDirectory) GetParty(ctx context.Context, partyID string) (*model.Party, error) {
	result, err := c.execute(ctx, func(ctx context.Context) (any, error) {
		var party model.Party
		if err := c.conn.Invoke(ctx, getPartyMethod, &GetPartyRequest{PartyID: partyID}, &party); err != nil {
			return nil, rpc.ClassifyError("get party", err)
		}
		return &party, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*model.Party), nil
}

func (c *GRPCPartyDirectory) ComputeCashFlow(ctx context.Context, req CashFlowRequest) ([]model.FinalCashFlowPosting, error) {
	result, err := c.execute(ctx, func(ctx context.Context) (any, error) {
		var resp ComputeCashFlowResponse
		if err := c.conn.Invoke(ctx, computeCashFlowMethod, &req, &resp); err != nil {
			return nil, rpc.ClassifyError("compute payout cash flow", err)
		}
		return resp.Postings, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]model.FinalCashFlowPosting), nil
}

func (c *GRPCPartyDirectory) execute(ctx context.Context, call func(ctx context.Context) (any, error)) (any, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		ctx, cancel := withTimeout(ctx, c.timeout)
		defer cancel()
		return call(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("party management: %w: %w", model.ErrDependencyUnavailable, err)
	}
	return result, err
}

// withTimeout bounds a call by timeout; zero or less leaves ctx unbounded
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
