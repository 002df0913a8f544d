package api

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/solatis/matchkeeper/internal/types"
)

// toStatus maps evaluation errors to gRPC codes.
// Record-level failures (bad reference, unknown operator, bad pattern) are
// INVALID_ARGUMENT. Context errors are checked first because a store
// timeout reaches here wrapped in ErrResolution.
func toStatus(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, types.ErrResolution),
		errors.Is(err, types.ErrUnknownOperator),
		errors.Is(err, types.ErrInvalidPattern):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
