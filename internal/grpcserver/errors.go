package grpcserver

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/switchagent/internal/hw"
	"github.com/signalsfoundry/switchagent/internal/switchd"
)

// ErrInvalidArgument marks a request the service refuses before touching
// the switch.
var ErrInvalidArgument = errors.New("invalid argument")

// ToStatusError maps agent errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, hw.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, hw.ErrDuplicateResource):
		return status.Error(codes.AlreadyExists, err.Error())

	case errors.Is(err, switchd.ErrNotReady),
		errors.Is(err, hw.ErrHardwareRejected):
		return status.Error(codes.Unavailable, err.Error())

	case errors.Is(err, switchd.ErrAlreadyInitialised):
		return status.Error(codes.FailedPrecondition, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
