package grpc

import (
	"context"
	"fmt"

	"github.com/movra/payout-manager/internal/model"
	"github.com/movra/payout-manager/internal/service"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const ServiceName = "payout.PayoutManagement"

// PayoutManager is the state machine behind the gRPC surface
type PayoutManager interface {
	CreatePayout(ctx context.Context, req *service.CreatePayoutRequest) (*model.Payout, error)
	GetPayoutWithPostings(ctx context.Context, payoutID string) (*model.PayoutWithPostings, error)
	ConfirmPayout(ctx context.Context, payoutID string) error
	CancelPayout(ctx context.Context, payoutID, details string) error
}

// PayoutManagementServer is the server API of the PayoutManagement service
type PayoutManagementServer interface {
	CreatePayout(ctx context.Context, req *CreatePayoutRequest) (*PayoutResponse, error)
	GetPayout(ctx context.Context, req *GetPayoutRequest) (*PayoutResponse, error)
	ConfirmPayout(ctx context.Context, req *ConfirmPayoutRequest) (*Empty, error)
	CancelPayout(ctx context.Context, req *CancelPayoutRequest) (*Empty, error)
}

// RegisterPayoutManagementServer adds srv to registrar
func RegisterPayoutManagementServer(registrar grpc.ServiceRegistrar, srv PayoutManagementServer) {
	registrar.RegisterService(&serviceDesc, srv)
}

// PayoutServer implements the gRPC PayoutManagement service
type PayoutServer struct {
	service PayoutManager
}

// NewPayoutServer creates a new gRPC server instance
func NewPayoutServer(svc PayoutManager) *PayoutServer {
	return &PayoutServer{service: svc}
}

// CreatePayout creates a new payout
func (s *PayoutServer) CreatePayout(ctx context.Context, req *CreatePayoutRequest) (*PayoutResponse, error) {
	if req.PartyID == "" || req.ShopID == "" {
		return nil, status.Error(codes.InvalidArgument, "partyId and shopId are required")
	}
	if req.Cash.CurrencyCode == "" {
		return nil, status.Error(codes.InvalidArgument, "cash.currency is required")
	}

	payout, err := s.service.CreatePayout(ctx, &service.CreatePayoutRequest{
		PartyID:      req.PartyID,
		ShopID:       req.ShopID,
		Cash:         req.Cash,
		PayoutID:     req.PayoutID,
		PayoutToolID: req.PayoutToolID,
	})
	if err != nil {
		return nil, toStatus(err)
	}

	return s.payoutResponse(ctx, payout.PayoutID)
}

// GetPayout retrieves a payout with its cash flow
func (s *PayoutServer) GetPayout(ctx context.Context, req *GetPayoutRequest) (*PayoutResponse, error) {
	if req.PayoutID == "" {
		return nil, status.Error(codes.InvalidArgument, "payoutId is required")
	}
	return s.payoutResponse(ctx, req.PayoutID)
}

// ConfirmPayout confirms an unpaid payout
func (s *PayoutServer) ConfirmPayout(ctx context.Context, req *ConfirmPayoutRequest) (*Empty, error) {
	if req.PayoutID == "" {
		return nil, status.Error(codes.InvalidArgument, "payoutId is required")
	}
	if err := s.service.ConfirmPayout(ctx, req.PayoutID); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

// CancelPayout cancels an unpaid payout
func (s *PayoutServer) CancelPayout(ctx context.Context, req *CancelPayoutRequest) (*Empty, error) {
	if req.PayoutID == "" {
		return nil, status.Error(codes.InvalidArgument, "payoutId is required")
	}
	if err := s.service.CancelPayout(ctx, req.PayoutID, req.Details); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *PayoutServer) payoutResponse(ctx context.Context, payoutID string) (*PayoutResponse, error) {
	payout, err := s.service.GetPayoutWithPostings(ctx, payoutID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &PayoutResponse{Payout: payout.Payout, CashFlow: payout.CashFlow}, nil
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PayoutManagementServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreatePayout", Handler: unaryHandler("CreatePayout", PayoutManagementServer.CreatePayout)},
		{MethodName: "GetPayout", Handler: unaryHandler("GetPayout", PayoutManagementServer.GetPayout)},
		{MethodName: "ConfirmPayout", Handler: unaryHandler("ConfirmPayout", PayoutManagementServer.ConfirmPayout)},
		{MethodName: "CancelPayout", Handler: unaryHandler("CancelPayout", PayoutManagementServer.CancelPayout)},
	},
	Streams: []grpc.StreamDesc{},
}

func unaryHandler[Req, Resp any](method string, call func(PayoutManagementServer, context.Context, *Req) (*Resp, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := fmt.Sprintf("/%s/%s", ServiceName, method)
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		handler := func(ctx context.Context, r any) (any, error) {
			return call(srv.(PayoutManagementServer), ctx, r.(*Req))
		}
		if interceptor == nil {
			return handler(ctx, req)
		}
		return interceptor(ctx, req, &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}, handler)
	}
}
