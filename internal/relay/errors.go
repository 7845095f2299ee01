package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/0gfoundation/0g-mint-relay/internal/contracts"
	"github.com/0gfoundation/0g-mint-relay/internal/relayer"
	"github.com/0gfoundation/0g-mint-relay/internal/voucher"
)

// Kind classifies a relay failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindUnsupportedChain
	KindContractNotDeployed
	KindRelayerNotConfigured
	KindRelayerUnauthorized
	KindInsufficientFunds
	KindSimulation
	KindSubmission
	KindReverted
	KindQuotaExceeded
	KindAlreadyRedeemed
	KindCancelled
	KindForbidden
)

// User-facing categories.
const (
	CategoryCancelled           = "cancelled"
	CategoryInsufficientBalance = "insufficient balance"
	CategoryNetwork             = "network error"
	CategoryRejected            = "contract rejected"
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindUnsupportedChain:
		return "UnsupportedChain"
	case KindContractNotDeployed:
		return "ContractNotDeployed"
	case KindRelayerNotConfigured:
		return "RelayerNotConfigured"
	case KindRelayerUnauthorized:
		return "RelayerUnauthorized"
	case KindInsufficientFunds:
		return "InsufficientRelayerFunds"
	case KindSimulation:
		return "SimulationFailure"
	case KindSubmission:
		return "SubmissionFailure"
	case KindReverted:
		return "TransactionReverted"
	case KindQuotaExceeded:
		return "QuotaExceeded"
	case KindAlreadyRedeemed:
		return "AlreadyRedeemed"
	case KindCancelled:
		return "Cancelled"
	case KindForbidden:
		return "Forbidden"
	default:
		return "Unknown"
	}
}

// HTTPStatus maps k to the response code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation, KindUnsupportedChain, KindContractNotDeployed,
		KindSimulation, KindSubmission, KindReverted:
		return http.StatusBadRequest
	case KindRelayerNotConfigured, KindInsufficientFunds:
		return http.StatusServiceUnavailable
	case KindRelayerUnauthorized, KindForbidden:
		return http.StatusForbidden
	case KindQuotaExceeded:
		return http.StatusPaymentRequired
	case KindAlreadyRedeemed:
		return http.StatusConflict
	case KindCancelled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func (k Kind) Category() string {
	switch k {
	case KindCancelled:
		return CategoryCancelled
	case KindInsufficientFunds, KindQuotaExceeded:
		return CategoryInsufficientBalance
	case KindValidation, KindRelayerUnauthorized, KindSimulation, KindReverted,
		KindAlreadyRedeemed, KindForbidden:
		return CategoryRejected
	default:
		return CategoryNetwork
	}
}

// Error is the typed failure returned by Service.Relay.
type Error struct {
	Kind    Kind
	Message string
	Details string
	TxHash  string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Kind.String() + ": " + e.Message
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error of the same Kind, so callers can write
// errors.Is(err, &relay.Error{Kind: relay.KindQuotaExceeded}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newError(kind Kind, msg string, cause error) *Error {
	e := &Error{Kind: kind, Message: msg, Cause: cause}
	if cause != nil {
		e.Details = cause.Error()
	}
	return e
}

func errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// AsError converts any error into an *Error, classifying well-known
// sentinels from the lower layers.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) {
		return re
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, voucher.ErrUserRejected):
		return newError(KindCancelled, "request cancelled", err)
	case errors.Is(err, contracts.ErrUnsupportedChain):
		return newError(KindUnsupportedChain, "chain not supported", err)
	case errors.Is(err, contracts.ErrContractNotDeployed):
		return newError(KindContractNotDeployed, "contract not deployed on this chain", err)
	case errors.Is(err, relayer.ErrNotConfigured), errors.Is(err, relayer.ErrStopped):
		return newError(KindRelayerNotConfigured, "relayer not configured", err)
	case errors.Is(err, relayer.ErrInsufficientFunds):
		return newError(KindInsufficientFunds, "relayer balance too low, retry later", err)
	}
	return newError(KindUnknown, "internal error", err)
}
