// Package rpc holds the gRPC plumbing shared by the payout management server
// and the ledger, party and deposit clients. Messages are plain Go structs
// carried with a JSON codec.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/movra/payout-manager/internal/model"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
)

// CodecName is the content subtype negotiated for every call
const CodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return CodecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// Dial creates a client connection that speaks the JSON codec
func Dial(target string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}, opts...)

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return conn, nil
}

// ClassifyError maps a failed call onto the domain error kinds. Transport
// failures become model.ErrDependencyUnavailable, domain refusals
// model.ErrDependencyRejected.
func ClassifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w: %w", op, model.ErrDependencyUnavailable, err)
	}

	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%s: %w: %w", op, model.ErrDependencyRejected, err)
	}

	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Canceled:
		return fmt.Errorf("%s: %w: %s", op, model.ErrDependencyUnavailable, st.Message())
	case codes.NotFound:
		return fmt.Errorf("%s: %w: %s", op, model.ErrNotFound, st.Message())
	default:
		return fmt.Errorf("%s: %w: %s: %s", op, model.ErrDependencyRejected, st.Code(), st.Message())
	}
}
