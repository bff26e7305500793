// internal/pkg/errors/error.go
package xerrors

import (
	"errors"
	"fmt"
)

// Common reusable application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict: resource already exists")
	ErrInternal     = errors.New("internal server error")

	// Normalization errors. Both are non-fatal: the record is kept with the
	// offending field nulled and the failure noted on the transaction.
	ErrInvalidPhoneFormat = errors.New("invalid phone format")
	ErrInvalidAmount      = errors.New("invalid amount")

	// Reconciliation ledger errors.
	ErrAmbiguousMatch       = errors.New("ambiguous match: multiple equally ranked candidates")
	ErrStaleStateTransition = errors.New("stale state transition: transaction changed concurrently")
	ErrPlanNotFound         = errors.New("merchant billing plan not found")

	// Payout errors.
	ErrBelowPayoutThreshold     = errors.New("withdrawable balance below payout threshold")
	ErrDuplicateDisbursement    = errors.New("duplicate disbursement confirmation")
	ErrPayoutNotFound           = errors.New("payout event not found")
	ErrInsufficientWithdrawable = errors.New("requested amount exceeds withdrawable balance")
)

// Wrap adds context to an error (similar to fmt.Errorf("%w")).
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Is allows checking whether an error is a specific sentinel error.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Unwrap extracts the underlying wrapped error.
func Unwrap(err error) error {
	return errors.Unwrap(err)
}

// MessageOrDefault returns err.Error() or a fallback message if err is nil.
func MessageOrDefault(err error, fallback string) string {
	if err != nil {
		return err.Error()
	}
	return fallback
}
