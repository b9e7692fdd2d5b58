package ledger

import (
	"context"
	"time"

	"github.com/movra/payout-manager/internal/rpc"
	"google.golang.org/grpc"
)

const (
	serviceName    = "payout.ledger.Accounter"
	holdMethod     = "/" + serviceName + "/Hold"
	commitMethod   = "/" + serviceName + "/Commit"
	rollbackMethod = "/" + serviceName + "/Rollback"
)

type HoldRequest struct {
	PlanID string       `json:"planId"`
	Batch  PostingBatch `json:"batch"`
}

type HoldResponse struct {
	Accounts map[int64]Account `json:"affectedAccounts"`
}

type PlanRequest struct {
	PlanID  string         `json:"planId"`
	Batches []PostingBatch `json:"batchList"`
}

type PlanResponse struct{}

// GRPCClient calls the ledger over gRPC
type GRPCClient struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
}

// NewGRPCClient creates a ledger client. Every call is bounded by timeout.
func NewGRPCClient(conn grpc.ClientConnInterface, timeout time.Duration) *GRPCClient {
	return &GRPCClient{conn: conn, timeout: timeout}
}

func (c *GRPCClient) Hold(ctx context.Context, planID string, batch PostingBatch) (map[int64]Account, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var resp HoldResponse
	if err := c.conn.Invoke(ctx, holdMethod, &HoldRequest{PlanID: planID, Batch: batch}, &resp); err != nil {
		return nil, rpc.ClassifyError("ledger hold", err)
	}
	return resp.Accounts, nil
}

func (c *GRPCClient) Commit(ctx context.Context, planID string, batches []PostingBatch) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.conn.Invoke(ctx, commitMethod, &PlanRequest{PlanID: planID, Batches: batches}, &PlanResponse{}); err != nil {
		return rpc.ClassifyError("ledger commit", err)
	}
	return nil
}

func (c *GRPCClient) Rollback(ctx context.Context, planID string, batches []PostingBatch) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.conn.Invoke(ctx, rollbackMethod, &PlanRequest{PlanID: planID, Batches: batches}, &PlanResponse{}); err != nil {
		return rpc.ClassifyError("ledger rollback", err)
	}
	return nil
}

func (c *GRPCClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}
