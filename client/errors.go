package client

import (
	"errors"
	"fmt"
)

// Sentinel error kinds for ledger round trips. Callers branch on these with
// errors.Is; the wrapped errors carry node detail.
var (
	// ErrLedgerUnavailable: the node could not be reached or answered with a
	// transport failure. Transient; safe to retry for reads, never
	// auto-retried for writes.
	ErrLedgerUnavailable = errors.New("ledger unavailable")

	// ErrRejectedByNode: the node or the program rejected the payload.
	// Terminal for this payload; a retry needs a freshly built transaction.
	ErrRejectedByNode = errors.New("rejected by node")

	// ErrConfirmationTimeout: the outcome is unknown. Waiting failed, not
	// necessarily the write; reconcile via state reads or event replay.
	ErrConfirmationTimeout = errors.New("confirmation timed out")
)

// RejectionError carries the node's rejection code and log.
type RejectionError struct {
	Code uint32
	Log  string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("rejected by node (code %d): %s", e.Code, e.Log)
}

func (e *RejectionError) Unwrap() error {
	return ErrRejectedByNode
}

// TimeoutError carries the handle of the unresolved submission so a caller
// can poll again out-of-band.
type TimeoutError struct {
	Handle TxHandle
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("confirmation timed out for tx %s, outcome unknown", e.Handle)
}

func (e *TimeoutError) Unwrap() error {
	return ErrConfirmationTimeout
}

func unavailable(msg string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrLedgerUnavailable, msg, err)
}

func rejected(code uint32, log string) error {
	return &RejectionError{Code: code, Log: log}
}

func confirmationTimeout(handle TxHandle) error {
	return &TimeoutError{Handle: handle}
}
