package grpc

import (
	"errors"

	"github.com/movra/payout-manager/internal/model"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus maps domain errors onto gRPC status codes. RevertInconsistent is
// checked first because a RevertError also wraps its causes.
func toStatus(err error) error {
	return status.Error(codeFor(err), err.Error())
}

func codeFor(err error) codes.Code {
	switch {
	case errors.Is(err, model.ErrRevertInconsistent):
		return codes.DataLoss
	case errors.Is(err, model.ErrInvalidRequest):
		return codes.InvalidArgument
	case errors.Is(err, model.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, model.ErrPayoutAlreadyExists):
		return codes.AlreadyExists
	case errors.Is(err, model.ErrInsufficientFunds), errors.Is(err, model.ErrInvalidState):
		return codes.FailedPrecondition
	case errors.Is(err, model.ErrDependencyUnavailable):
		return codes.Unavailable
	default:
		return codes.Internal
	}
}
