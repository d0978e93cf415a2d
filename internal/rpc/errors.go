package rpc

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/funvibe/cxbridge/internal/abi"
)

var kindCodes = map[string]codes.Code{
	abi.KindNotFound:        codes.NotFound,
	abi.KindUnresolved:      codes.NotFound,
	abi.KindNoMatch:         codes.NotFound,
	abi.KindAmbiguous:       codes.FailedPrecondition,
	abi.KindNotInstantiated: codes.FailedPrecondition,
	abi.KindConstruction:    codes.FailedPrecondition,
	abi.KindInvocation:      codes.Aborted,
	abi.KindUseAfterFree:    codes.FailedPrecondition,
	abi.KindParse:           codes.InvalidArgument,
	abi.KindUnmarshalable:   codes.InvalidArgument,
	abi.KindUnsupported:     codes.Unimplemented,
	abi.KindClosed:          codes.FailedPrecondition,
}

// toStatus converts a service error into a status whose message starts
// with the error kind.
func toStatus(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	kind := abi.KindOf(err)
	code, ok := kindCodes[kind]
	if !ok {
		return status.Error(codes.Internal, err.Error())
	}
	return status.Error(code, kind+": "+err.Error())
}

// fromStatus maps a status produced by toStatus back to its sentinel.
// Transport failures are returned unchanged.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	kind, rest, found := strings.Cut(st.Message(), ": ")
	if !found {
		return err
	}
	sentinel := abi.Sentinel(kind)
	if sentinel == nil {
		return err
	}

	detail := strings.TrimPrefix(strings.TrimPrefix(rest, sentinel.Error()), ": ")
	if detail == "" {
		return sentinel.Wrap(nil)
	}
	return sentinel.Wrap(errors.New(detail))
}
