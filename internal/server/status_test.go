package server

import (
	"context"
	"errors"
	"testing"

	"ShadowSwap/internal/ledgererr"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestToStatus_CodeMapping(t *testing.T) {
	cases := []struct {
		code ledgererr.Code
		want codes.Code
	}{
		{ledgererr.OrderNotFound, codes.NotFound},
		{ledgererr.CallbackAuthNotFound, codes.NotFound},
		{ledgererr.OrderBookExists, codes.AlreadyExists},
		{ledgererr.InvalidCipherPayload, codes.InvalidArgument},
		{ledgererr.InsufficientFunds, codes.FailedPrecondition},
		{ledgererr.StaleNonce, codes.FailedPrecondition},
		{ledgererr.Unauthorized, codes.PermissionDenied},
		{ledgererr.CallbackAuthExpired, codes.PermissionDenied},
		{ledgererr.DecryptTimeout, codes.DeadlineExceeded},
		{ledgererr.RateLimited, codes.ResourceExhausted},
		{ledgererr.Unavailable, codes.Unavailable},
		{ledgererr.MissingCredentials, codes.Unauthenticated},
		{ledgererr.Internal, codes.Internal},
	}
	for _, tc := range cases {
		t.Run(string(tc.code), func(t *testing.T) {
			st := status.Convert(ToStatus(ledgererr.New(tc.code, "boom")))
			assert.Equal(t, tc.want, st.Code())
		})
	}
}

func TestStatusRoundTrip_PreservesLedgerCode(t *testing.T) {
	for _, code := range []ledgererr.Code{
		ledgererr.OrderBookNotFound,
		ledgererr.MatchExceedsRemaining,
		ledgererr.Unauthorized,
		ledgererr.Timeout,
		ledgererr.NumericalOverflow,
	} {
		back := FromStatus(ToStatus(ledgererr.New(code, "order %d", 7)))
		got, ok := ledgererr.CodeOf(back)
		require.True(t, ok, "%s", code)
		assert.Equal(t, code, got)
		assert.Equal(t, ledgererr.ClassOfCode(code), ledgererr.ClassOf(back))
	}
}

func TestStatusRoundTrip_CarriesOrderTag(t *testing.T) {
	id := uuid.New()
	back := FromStatus(ToStatus(ledgererr.New(ledgererr.InsufficientEscrowFunds, "buy escrow holds 1, need 550").ForOrder(id)))

	assert.True(t, ledgererr.Is(back, ledgererr.InsufficientEscrowFunds))
	got, ok := ledgererr.OrderOf(back)
	require.True(t, ok)
	assert.Equal(t, id, got)

	untagged := FromStatus(ToStatus(ledgererr.New(ledgererr.StaleNonce, "nonce 2")))
	_, ok = ledgererr.OrderOf(untagged)
	assert.False(t, ok)
}

func TestToStatus_Nil(t *testing.T) {
	assert.NoError(t, ToStatus(nil))
	assert.NoError(t, FromStatus(nil))
}

func TestToStatus_UnknownErrorIsInternal(t *testing.T) {
	st := status.Convert(ToStatus(errors.New("disk on fire")))
	assert.Equal(t, codes.Internal, st.Code())
	assert.True(t, ledgererr.Is(FromStatus(ToStatus(errors.New("disk on fire"))), ledgererr.Internal))
}

func TestToStatus_ContextErrors(t *testing.T) {
	assert.Equal(t, codes.DeadlineExceeded, status.Code(ToStatus(context.DeadlineExceeded)))
	assert.Equal(t, codes.Canceled, status.Code(ToStatus(context.Canceled)))
}

func TestFromStatus_TransportCodes(t *testing.T) {
	cases := []struct {
		in   codes.Code
		want ledgererr.Code
	}{
		{codes.Unavailable, ledgererr.Unavailable},
		{codes.DeadlineExceeded, ledgererr.Timeout},
		{codes.ResourceExhausted, ledgererr.RateLimited},
		{codes.PermissionDenied, ledgererr.Unauthorized},
		{codes.Unimplemented, ledgererr.ProgramNotFound},
		{codes.DataLoss, ledgererr.Internal},
	}
	for _, tc := range cases {
		err := FromStatus(status.Error(tc.in, "connection reset"))
		assert.True(t, ledgererr.Is(err, tc.want), "%s -> %v", tc.in, err)
	}
	assert.True(t, ledgererr.IsRetryable(FromStatus(status.Error(codes.Unavailable, "x"))))
	assert.False(t, ledgererr.IsRetryable(FromStatus(status.Error(codes.PermissionDenied, "x"))))
}

func TestFromStatus_NonStatusError(t *testing.T) {
	err := FromStatus(errors.New("dial tcp: refused"))
	assert.True(t, ledgererr.Is(err, ledgererr.Unavailable))
}
