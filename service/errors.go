package service

import "fmt"

// Service error codes. Each public operation resolves to a definite success,
// one of these definite rejections, or the explicitly indeterminate
// CONFIRMATION_TIMEOUT; nothing is downgraded or swallowed.
const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeUnauthorizedSigner  = "UNAUTHORIZED_SIGNER"
	ErrCodeLedgerUnavailable   = "LEDGER_UNAVAILABLE"
	ErrCodeRejectedByNode      = "REJECTED_BY_NODE"
	ErrCodeConfirmationTimeout = "CONFIRMATION_TIMEOUT"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// Error is the service-layer error envelope.
type Error struct {
	Code    string
	Message string
	Detail  string

	// TxHash is set on CONFIRMATION_TIMEOUT so the caller can reconcile
	// the submission out-of-band instead of resubmitting.
	TxHash string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func validationError(msg string) *Error {
	return &Error{Code: ErrCodeValidation, Message: msg}
}

func unauthorizedError(msg string) *Error {
	return &Error{Code: ErrCodeUnauthorizedSigner, Message: msg}
}

func notFoundError(msg string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: msg}
}
