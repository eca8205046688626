package ledgererr_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"ShadowSwap/internal/ledgererr"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassOf_Codes(t *testing.T) {
	cases := []struct {
		code ledgererr.Code
		want ledgererr.Class
	}{
		{ledgererr.InvalidCipherPayload, ledgererr.ClassValidation},
		{ledgererr.InvalidOrderStatus, ledgererr.ClassValidation},
		{ledgererr.InsufficientFunds, ledgererr.ClassValidation},
		{ledgererr.Unauthorized, ledgererr.ClassAuthorization},
		{ledgererr.CallbackAuthExpired, ledgererr.ClassAuthorization},
		{ledgererr.Unavailable, ledgererr.ClassTransient},
		{ledgererr.DecryptTimeout, ledgererr.ClassTransient},
		{ledgererr.MissingCredentials, ledgererr.ClassFatal},
		{ledgererr.Code("NoSuchCode"), ledgererr.ClassFatal},
	}
	for _, tc := range cases {
		t.Run(string(tc.code), func(t *testing.T) {
			assert.Equal(t, tc.want, ledgererr.ClassOf(ledgererr.New(tc.code, "x")))
		})
	}
}

func TestErrorsIs_MatchesByCodeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("cancel order: %w", ledgererr.New(ledgererr.InvalidOrderStatus, "order is %s", "Cancelled"))

	assert.True(t, errors.Is(err, ledgererr.ErrInvalidOrderStatus))
	assert.False(t, errors.Is(err, ledgererr.ErrUnauthorized))

	code, ok := ledgererr.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, ledgererr.InvalidOrderStatus, code)
}

func TestWrap_TransientKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := ledgererr.Wrap(ledgererr.Unavailable, cause, "submit settlement")

	assert.True(t, ledgererr.IsRetryable(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestClassOf_ContextErrorsAreTransient(t *testing.T) {
	assert.Equal(t, ledgererr.ClassTransient, ledgererr.ClassOf(context.DeadlineExceeded))
	assert.Equal(t, ledgererr.ClassFatal, ledgererr.ClassOf(errors.New("boom")))
	assert.Equal(t, ledgererr.Class(0), ledgererr.ClassOf(nil))
}

func TestWrap_NilCauseKeepsMessageVerbatim(t *testing.T) {
	err := ledgererr.Wrap(ledgererr.InvalidArgument, nil, "amount 100% of escrow")

	assert.Equal(t, "amount 100% of escrow", err.Message)
	assert.Nil(t, errors.Unwrap(err))
}

func TestOrderOf_SurvivesWrapping(t *testing.T) {
	id := uuid.New()
	err := fmt.Errorf("settle: %w", ledgererr.New(ledgererr.InsufficientEscrowFunds, "buy escrow short").ForOrder(id))

	got, ok := ledgererr.OrderOf(err)
	require.True(t, ok)
	assert.Equal(t, id, got)

	_, ok = ledgererr.OrderOf(ledgererr.New(ledgererr.StaleNonce, "nonce 3"))
	assert.False(t, ok)
}
