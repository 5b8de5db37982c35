package grpcserver

import (
	"context"
	"errors"

	"github.com/and161185/linkauth/internal/errs"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus maps domain sentinels to gRPC codes. Unknown errors are Internal.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codeOf(err), err.Error())
}

func codeOf(err error) codes.Code {
	switch {
	case errors.Is(err, errs.ErrValidation),
		errors.Is(err, errs.ErrInvalidCode),
		errors.Is(err, errs.ErrInvalidURL):
		return codes.InvalidArgument
	case errors.Is(err, errs.ErrExpiredCode):
		return codes.FailedPrecondition
	case errors.Is(err, errs.ErrPKCEFailed),
		errors.Is(err, errs.ErrAuthFailed):
		return codes.Unauthenticated
	case errors.Is(err, errs.ErrDeepLink),
		errors.Is(err, errs.ErrExchange):
		return codes.Unavailable
	case errors.Is(err, errs.ErrNotFound),
		errors.Is(err, errs.ErrSessionCleared):
		return codes.NotFound
	case errors.Is(err, errs.ErrStaleWrite):
		return codes.Aborted
	case errors.Is(err, errs.ErrStorage),
		errors.Is(err, errs.ErrCrypto):
		return codes.Internal
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}
