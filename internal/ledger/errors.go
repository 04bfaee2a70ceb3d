package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a malformed request. It is never safe to retry.
	ErrValidation = errors.New("validation error")
	// ErrInvalidAmount is the validation failure for a missing, non-numeric or non-positive amount.
	ErrInvalidAmount = fmt.Errorf("%w: invalid amount", ErrValidation)
	ErrNotFound      = errors.New("not found")
	ErrUnauthorized  = errors.New("unauthorized")
	// ErrTransactionAborted means nothing was committed and the call may be retried.
	ErrTransactionAborted = errors.New("transaction aborted")
)

type abortedError struct {
	cause error
}

func (e *abortedError) Error() string {
	if e.cause == nil {
		return ErrTransactionAborted.Error()
	}
	return ErrTransactionAborted.Error() + ": " + e.cause.Error()
}

func (e *abortedError) Unwrap() []error {
	if e.cause == nil {
		return []error{ErrTransactionAborted}
	}
	return []error{ErrTransactionAborted, e.cause}
}

// Aborted wraps a store failure so that it matches ErrTransactionAborted
// while keeping the cause inspectable with errors.As.
func Aborted(cause error) error {
	if errors.Is(cause, ErrTransactionAborted) {
		return cause
	}
	return &abortedError{cause: cause}
}

// IsRetryable reports whether err is an aborted transaction.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransactionAborted)
}

func notFound(what, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, what, id)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
