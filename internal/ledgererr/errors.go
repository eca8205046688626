// Package ledgererr defines the error taxonomy shared by the ledger and the keeper.
//
// Every error carries a stable Code and a Class. Callers branch on the class
// (retry, abort the cycle, alert, stop) using errors.As, never on message text.
package ledgererr

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
)

// Class groups codes by how a caller must react.
type Class uint8

const (
	ClassValidation Class = iota + 1
	ClassAuthorization
	ClassTransient
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassAuthorization:
		return "authorization"
	case ClassTransient:
		return "transient"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Code is a stable identifier. Values are part of the wire contract.
type Code string

const (
	// Validation
	InvalidCipherPayload    Code = "InvalidCipherPayload"
	InvalidOrderStatus      Code = "InvalidOrderStatus"
	InsufficientFunds       Code = "InsufficientFunds"
	OrderTooSmall           Code = "OrderTooSmall"
	OrderBookNotActive      Code = "OrderBookNotActive"
	OrderBookNotFound       Code = "OrderBookNotFound"
	OrderBookExists         Code = "OrderBookExists"
	OrderNotFound           Code = "OrderNotFound"
	InvalidOrderBook        Code = "InvalidOrderBook"
	InvalidEscrow           Code = "InvalidEscrow"
	InvalidTokenMint        Code = "InvalidTokenMint"
	InvalidMatch            Code = "InvalidMatch"
	MatchExceedsRemaining   Code = "MatchExceedsRemaining"
	InsufficientEscrowFunds Code = "InsufficientEscrowFunds"
	NumericalOverflow       Code = "NumericalOverflow"
	InvalidFeeConfiguration Code = "InvalidFeeConfiguration"
	StaleNonce              Code = "StaleNonce"
	CallbackAuthExists      Code = "CallbackAuthExists"
	CallbackAuthNotFound    Code = "CallbackAuthNotFound"
	InvalidArgument         Code = "InvalidArgument"

	// Authorization
	Unauthorized        Code = "Unauthorized"
	CallbackAuthExpired Code = "CallbackAuthExpired"

	// Transient
	Unavailable    Code = "Unavailable"
	Timeout        Code = "Timeout"
	RateLimited    Code = "RateLimited"
	DecryptTimeout Code = "DecryptTimeout"

	// Fatal
	MissingCredentials Code = "MissingCredentials"
	ProgramNotFound    Code = "ProgramNotFound"
	Internal           Code = "Internal"
)

var codeClass = map[Code]Class{
	InvalidCipherPayload:    ClassValidation,
	InvalidOrderStatus:      ClassValidation,
	InsufficientFunds:       ClassValidation,
	OrderTooSmall:           ClassValidation,
	OrderBookNotActive:      ClassValidation,
	OrderBookNotFound:       ClassValidation,
	OrderBookExists:         ClassValidation,
	OrderNotFound:           ClassValidation,
	InvalidOrderBook:        ClassValidation,
	InvalidEscrow:           ClassValidation,
	InvalidTokenMint:        ClassValidation,
	InvalidMatch:            ClassValidation,
	MatchExceedsRemaining:   ClassValidation,
	InsufficientEscrowFunds: ClassValidation,
	NumericalOverflow:       ClassValidation,
	InvalidFeeConfiguration: ClassValidation,
	StaleNonce:              ClassValidation,
	CallbackAuthExists:      ClassValidation,
	CallbackAuthNotFound:    ClassValidation,
	InvalidArgument:         ClassValidation,

	Unauthorized:        ClassAuthorization,
	CallbackAuthExpired: ClassAuthorization,

	Unavailable:    ClassTransient,
	Timeout:        ClassTransient,
	RateLimited:    ClassTransient,
	DecryptTimeout: ClassTransient,

	MissingCredentials: ClassFatal,
	ProgramNotFound:    ClassFatal,
	Internal:           ClassFatal,
}

// ClassOfCode returns the class a code belongs to. Unknown codes are fatal.
func ClassOfCode(c Code) Class {
	if cls, ok := codeClass[c]; ok {
		return cls
	}
	return ClassFatal
}

// Known reports whether c is part of the taxonomy.
func Known(c Code) bool {
	_, ok := codeClass[c]
	return ok
}

// Error is the concrete error type for every taxonomy member.
type Error struct {
	Code    Code
	Message string
	// OrderID names the order a rejection is about when one side of a
	// match is at fault. Zero otherwise.
	OrderID uuid.UUID
	cause   error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	case e.cause != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.cause)
	default:
		return string(e.Code)
	}
}

func (e *Error) Unwrap() error { return e.cause }

// Class of the error's code.
func (e *Error) Class() Class { return ClassOfCode(e.Code) }

// Is matches any *Error with the same code, so errors.Is(err, ledgererr.New(code, ""))
// and errors.Is(err, ledgererr.ErrInvalidOrderStatus) both work.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// New builds an error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code to an underlying cause. Transient and fatal causes keep
// a stack trace so operators can find the failing call site in logs.
func Wrap(code Code, cause error, message string) *Error {
	if cause == nil {
		return &Error{Code: code, Message: message}
	}
	switch ClassOfCode(code) {
	case ClassTransient, ClassFatal:
		cause = pkgerrors.WithStack(cause)
	}
	return &Error{Code: code, Message: message, cause: cause}
}

// ForOrder tags e with the order it is about and returns e.
func (e *Error) ForOrder(id uuid.UUID) *Error {
	e.OrderID = id
	return e
}

// OrderOf returns the order a rejection was tagged with.
func OrderOf(err error) (uuid.UUID, bool) {
	var e *Error
	if errors.As(err, &e) && e.OrderID != uuid.Nil {
		return e.OrderID, true
	}
	return uuid.Nil, false
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidCipherPayload    = &Error{Code: InvalidCipherPayload}
	ErrInvalidOrderStatus      = &Error{Code: InvalidOrderStatus}
	ErrInsufficientFunds       = &Error{Code: InsufficientFunds}
	ErrUnauthorized            = &Error{Code: Unauthorized}
	ErrCallbackAuthExpired     = &Error{Code: CallbackAuthExpired}
	ErrOrderNotFound           = &Error{Code: OrderNotFound}
	ErrOrderBookNotFound       = &Error{Code: OrderBookNotFound}
	ErrStaleNonce              = &Error{Code: StaleNonce}
	ErrMatchExceedsRemaining   = &Error{Code: MatchExceedsRemaining}
	ErrInsufficientEscrowFunds = &Error{Code: InsufficientEscrowFunds}
	ErrUnavailable             = &Error{Code: Unavailable}
	ErrTimeout                 = &Error{Code: Timeout}
)

// CodeOf extracts the code from err. ok is false when err carries no code.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}

// ClassOf returns the class of err. Errors outside the taxonomy are fatal,
// except context cancellation and deadlines which are transient.
func ClassOf(err error) Class {
	if err == nil {
		return 0
	}
	if code, ok := CodeOf(err); ok {
		return ClassOfCode(code)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ClassTransient
	}
	return ClassFatal
}

// IsRetryable reports whether err may succeed if the same call is repeated.
func IsRetryable(err error) bool {
	return ClassOf(err) == ClassTransient
}

// Is reports whether err carries code.
func Is(err error, code Code) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}
