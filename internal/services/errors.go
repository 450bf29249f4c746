package services

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrInvalidTransition      = errors.New("invalid state transition")
	ErrVerificationInProgress = errors.New("verification already in progress")
	ErrGrantUnavailable       = errors.New("download grant expired or already used")

	// ErrPayoutInFlight means the transfer reached the payout provider, so only
	// the provider's outcome may settle the withdrawal.
	ErrPayoutInFlight = errors.New("payout already sent to provider")
	// ErrPayoutAfterReversal means the provider paid out a withdrawal whose
	// debit was already refunded. It needs manual recovery.
	ErrPayoutAfterReversal = errors.New("payout completed after withdrawal was reversed")
)

// ValidationError reports bad caller input on a single field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ExternalServiceError wraps a failure of the payment gateway or bank resolver.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

func notFound(what, id string) error {
	return fmt.Errorf("%s %q: %w", what, id, ErrNotFound)
}

func invalidTransition(what, id, from, to string) error {
	return fmt.Errorf("%s %s: %s -> %s: %w", what, id, from, to, ErrInvalidTransition)
}
