package ledger

import (
	"context"
	"errors"

	"github.com/movra/payout-manager/internal/model"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RegisterServer exposes a Client as the ledger gRPC service. It lets the
// simulated ledger run as a standalone dependency.
func RegisterServer(s grpc.ServiceRegistrar, ledger Client) {
	s.RegisterService(&serviceDesc, ledger)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Client)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Hold", Handler: holdHandler},
		{MethodName: "Commit", Handler: commitHandler},
		{MethodName: "Rollback", Handler: rollbackHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func holdHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(HoldRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, r any) (any, error) {
		req := r.(*HoldRequest)
		accounts, err := srv.(Client).Hold(ctx, req.PlanID, req.Batch)
		if err != nil {
			return nil, toStatus(err)
		}
		return &HoldResponse{Accounts: accounts}, nil
	}
	if interceptor == nil {
		return handler(ctx, req)
	}
	return interceptor(ctx, req, &grpc.UnaryServerInfo{Server: srv, FullMethod: holdMethod}, handler)
}

func commitHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return planHandler(srv, ctx, dec, interceptor, commitMethod, srv.(Client).Commit)
}

func rollbackHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return planHandler(srv, ctx, dec, interceptor, rollbackMethod, srv.(Client).Rollback)
}

func planHandler(
	srv any,
	ctx context.Context,
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
	method string,
	call func(ctx context.Context, planID string, batches []PostingBatch) error,
) (any, error) {
	req := new(PlanRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, r any) (any, error) {
		req := r.(*PlanRequest)
		if err := call(ctx, req.PlanID, req.Batches); err != nil {
			return nil, toStatus(err)
		}
		return &PlanResponse{}, nil
	}
	if interceptor == nil {
		return handler(ctx, req)
	}
	return interceptor(ctx, req, &grpc.UnaryServerInfo{Server: srv, FullMethod: method}, handler)
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, model.ErrDependencyUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, model.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	default:
		return status.Error(codes.FailedPrecondition, err.Error())
	}
}
