package server

import (
	"context"
	"errors"
	"strings"

	"ShadowSwap/internal/ledgererr"

	"github.com/google/uuid"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// resourceOrder is the ResourceInfo type carrying ledgererr.Error.OrderID.
const resourceOrder = "order"

// ToStatus converts a ledger error into a gRPC status. The message starts
// with the stable code so clients can rebuild the taxonomy error. An order
// tag travels as a ResourceInfo detail.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok && !isLedgerErr(err) {
		return err
	}
	code, ok := ledgererr.CodeOf(err)
	if !ok {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			code = ledgererr.Timeout
		case errors.Is(err, context.Canceled):
			return status.Error(codes.Canceled, err.Error())
		default:
			code = ledgererr.Internal
		}
	}
	msg := err.Error()
	if !strings.HasPrefix(msg, string(code)+":") && msg != string(code) {
		msg = string(code) + ": " + msg
	}
	st := status.New(grpcCode(code), msg)
	if id, ok := ledgererr.OrderOf(err); ok {
		if detailed, derr := st.WithDetails(&errdetails.ResourceInfo{
			ResourceType: resourceOrder,
			ResourceName: id.String(),
		}); derr == nil {
			st = detailed
		}
	}
	return st.Err()
}

// orderDetail returns the order named by a ResourceInfo detail, if any.
func orderDetail(st *status.Status) uuid.UUID {
	for _, d := range st.Details() {
		ri, ok := d.(*errdetails.ResourceInfo)
		if !ok || ri.GetResourceType() != resourceOrder {
			continue
		}
		if id, err := uuid.Parse(ri.GetResourceName()); err == nil {
			return id
		}
	}
	return uuid.Nil
}

func isLedgerErr(err error) bool {
	_, ok := ledgererr.CodeOf(err)
	return ok
}

func grpcCode(code ledgererr.Code) codes.Code {
	switch code {
	case ledgererr.OrderNotFound, ledgererr.OrderBookNotFound, ledgererr.CallbackAuthNotFound:
		return codes.NotFound
	case ledgererr.OrderBookExists, ledgererr.CallbackAuthExists:
		return codes.AlreadyExists
	case ledgererr.InvalidArgument, ledgererr.InvalidCipherPayload, ledgererr.InvalidFeeConfiguration:
		return codes.InvalidArgument
	case ledgererr.Timeout, ledgererr.DecryptTimeout:
		return codes.DeadlineExceeded
	case ledgererr.RateLimited:
		return codes.ResourceExhausted
	case ledgererr.MissingCredentials:
		return codes.Unauthenticated
	}
	switch ledgererr.ClassOfCode(code) {
	case ledgererr.ClassValidation:
		return codes.FailedPrecondition
	case ledgererr.ClassAuthorization:
		return codes.PermissionDenied
	case ledgererr.ClassTransient:
		return codes.Unavailable
	}
	return codes.Internal
}

// FromStatus rebuilds a ledger error from a gRPC call error. Transport
// failures without a ledger code map to Unavailable or Timeout.
func FromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return ledgererr.Wrap(ledgererr.Unavailable, err, "ledger call")
	}

	msg := st.Message()
	if head, rest, found := strings.Cut(msg, ": "); found && ledgererr.Known(ledgererr.Code(head)) {
		return ledgererr.New(ledgererr.Code(head), "%s", rest).ForOrder(orderDetail(st))
	}
	if ledgererr.Known(ledgererr.Code(msg)) {
		return ledgererr.New(ledgererr.Code(msg), "")
	}

	switch st.Code() {
	case codes.DeadlineExceeded:
		return ledgererr.Wrap(ledgererr.Timeout, err, "ledger call")
	case codes.Canceled:
		return context.Canceled
	case codes.Unavailable, codes.Aborted:
		return ledgererr.Wrap(ledgererr.Unavailable, err, "ledger call")
	case codes.ResourceExhausted:
		return ledgererr.Wrap(ledgererr.RateLimited, err, "ledger call")
	case codes.PermissionDenied, codes.Unauthenticated:
		return ledgererr.Wrap(ledgererr.Unauthorized, err, "ledger call")
	case codes.Unimplemented:
		return ledgererr.Wrap(ledgererr.ProgramNotFound, err, "ledger call")
	case codes.InvalidArgument:
		return ledgererr.Wrap(ledgererr.InvalidArgument, err, "ledger call")
	}
	return ledgererr.Wrap(ledgererr.Internal, err, "ledger call")
}
