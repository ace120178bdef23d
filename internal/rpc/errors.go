package rpc

import (
	"context"
	"errors"

	"github.com/matheus3301/chatbridge/internal/account"
	"github.com/matheus3301/chatbridge/internal/attachment"
	"github.com/matheus3301/chatbridge/internal/connect"
	"github.com/matheus3301/chatbridge/internal/protocol"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// toStatus maps a domain error onto a gRPC status error.
func toStatus(op string, err error) error {
	if err == nil {
		return nil
	}
	code := codes.Internal
	switch {
	case errors.Is(err, account.ErrUnknownAccount):
		code = codes.NotFound
	case errors.Is(err, protocol.ErrNotConnected):
		code = codes.Unavailable
	case errors.Is(err, protocol.ErrUnsupported):
		code = codes.Unimplemented
	case errors.Is(err, connect.ErrLoginInProgress):
		code = codes.Aborted
	case errors.Is(err, connect.ErrLoginTimeout), errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, connect.ErrLoggedOut):
		code = codes.Unauthenticated
	case errors.Is(err, attachment.ErrVersionMismatch), errors.Is(err, attachment.ErrMalformed), errors.Is(err, attachment.ErrNoLocator):
		code = codes.InvalidArgument
	}
	return grpcstatus.Errorf(code, "%s: %v", op, err)
}

func required(field, value string) error {
	if value == "" {
		return grpcstatus.Errorf(codes.InvalidArgument, "%s is required", field)
	}
	return nil
}
