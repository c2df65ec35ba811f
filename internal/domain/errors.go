package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers deciding how to respond or retry.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindStateConflict
	KindAuthentication
	KindForbidden
	KindNotFound
	KindGatewayUnavailable
	KindGatewayRejected
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindStateConflict:
		return "state_conflict"
	case KindAuthentication:
		return "authentication"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindGatewayUnavailable:
		return "gateway_unavailable"
	case KindGatewayRejected:
		return "gateway_rejected"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by the payment core.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on kind and code so copies carrying extra context still
// compare equal to the sentinel they were derived from.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code != "" && t.Kind == e.Kind && t.Code == e.Code
}

// WithMessage returns a copy of e with a more specific message.
func (e *Error) WithMessage(format string, args ...any) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: fmt.Sprintf(format, args...), Err: e.Err}
}

var (
	// Lookups
	ErrJobNotFound          = &Error{Kind: KindNotFound, Code: "job_not_found", Message: "job not found"}
	ErrPaymentNotFound      = &Error{Kind: KindNotFound, Code: "payment_not_found", Message: "payment not found"}
	ErrPayoutNotFound       = &Error{Kind: KindNotFound, Code: "payout_not_found", Message: "payout not found"}
	ErrPayoutMethodNotFound = &Error{Kind: KindNotFound, Code: "payout_method_not_found", Message: "payout method not found"}
	ErrWebhookEventNotFound = &Error{Kind: KindNotFound, Code: "webhook_event_not_found", Message: "webhook event not found"}

	ErrNotJobParty     = &Error{Kind: KindForbidden, Code: "not_job_party", Message: "caller is not allowed to act on this job"}
	ErrInvalidJobState = &Error{Kind: KindStateConflict, Code: "invalid_job_state", Message: "job is not in a state that allows this operation"}

	// Quote negotiation
	ErrQuoteAlreadyLocked   = &Error{Kind: KindStateConflict, Code: "quote_already_locked", Message: "quote is already locked"}
	ErrQuoteNotSubmitted    = &Error{Kind: KindStateConflict, Code: "quote_not_submitted", Message: "no quote has been submitted"}
	ErrQuoteAlreadyAccepted = &Error{Kind: KindStateConflict, Code: "quote_already_accepted", Message: "quote has already been accepted"}
	ErrQuoteNotAccepted     = &Error{Kind: KindStateConflict, Code: "quote_not_accepted", Message: "quote has not been accepted"}

	// Handshake codes
	ErrCodeNotIssued      = &Error{Kind: KindStateConflict, Code: "code_not_issued", Message: "handshake code has not been issued"}
	ErrCodeMismatch       = &Error{Kind: KindValidation, Code: "code_mismatch", Message: "handshake code is incorrect"}
	ErrCodeExpired        = &Error{Kind: KindStateConflict, Code: "code_expired", Message: "handshake code has expired"}
	ErrCodeAlreadyUsed    = &Error{Kind: KindStateConflict, Code: "code_already_used", Message: "handshake code has already been used"}
	ErrEndCodeBeforeStart = &Error{Kind: KindStateConflict, Code: "end_code_before_start", Message: "end code cannot be verified before the start code"}

	// Payment submission
	ErrEndCodeNotVerified      = &Error{Kind: KindStateConflict, Code: "end_code_not_verified", Message: "job completion has not been verified"}
	ErrAmountBelowMinimum      = &Error{Kind: KindValidation, Code: "amount_below_minimum", Message: "payment amount is below the minimum job price"}
	ErrTipTooLarge             = &Error{Kind: KindValidation, Code: "tip_too_large", Message: "tip exceeds the allowed share of the quote"}
	ErrPartialReasonRequired   = &Error{Kind: KindValidation, Code: "partial_reason_required", Message: "a reason is required when paying less than the quote"}
	ErrPaymentAlreadyCompleted = &Error{Kind: KindStateConflict, Code: "payment_already_completed", Message: "payment has already been completed"}

	// Gateway input
	ErrInvalidPhone        = &Error{Kind: KindValidation, Code: "invalid_phone", Message: "phone number is invalid"}
	ErrUnsupportedCurrency = &Error{Kind: KindValidation, Code: "unsupported_currency", Message: "currency is not supported"}
	ErrInvalidAmount       = &Error{Kind: KindValidation, Code: "invalid_amount", Message: "amount is invalid"}

	// Webhooks
	ErrMissingSignature = &Error{Kind: KindAuthentication, Code: "missing_signature", Message: "signature is missing"}
	ErrInvalidSignature = &Error{Kind: KindAuthentication, Code: "invalid_signature", Message: "signature mismatch"}
	ErrMalformedPayload = &Error{Kind: KindValidation, Code: "malformed_payload", Message: "payload could not be parsed"}

	ErrRateLimited = &Error{Kind: KindRateLimited, Code: "rate_limited", Message: "too many requests"}
)

// NewValidationError returns a validation error for a single field.
func NewValidationError(field, message string) *Error {
	return &Error{Kind: KindValidation, Code: "invalid_" + field, Message: message}
}

// NewGatewayUnavailableError wraps a transport-level gateway failure.
func NewGatewayUnavailableError(op string, err error) *Error {
	return &Error{Kind: KindGatewayUnavailable, Code: "gateway_unavailable", Message: "payment gateway unavailable during " + op, Err: err}
}

// NewGatewayRejectedError wraps an application-level refusal from the gateway.
func NewGatewayRejectedError(op, reason string) *Error {
	return &Error{Kind: KindGatewayRejected, Code: "gateway_rejected", Message: fmt.Sprintf("payment gateway rejected %s: %s", op, reason)}
}

// KindOf returns the kind of err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether a caller may retry the operation that produced err.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindGatewayUnavailable, KindRateLimited:
		return true
	}
	return false
}
