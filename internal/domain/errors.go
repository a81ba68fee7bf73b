package domain

import (
	"errors"
	"fmt"
)

// Base kinds. Every sentinel below wraps exactly one of them so callers can
// branch on the kind with errors.Is.
var (
	ErrValidation        = errors.New("validation error")
	ErrConflict          = errors.New("conflict")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrInconsistency     = errors.New("inconsistency")
)

var (
	ErrInvalidDateRange = fmt.Errorf("%w: scheduled start must be before scheduled end", ErrValidation)
	ErrStartInPast      = fmt.Errorf("%w: scheduled start is in the past", ErrValidation)
	ErrMissingField     = fmt.Errorf("%w: missing required field", ErrValidation)
	ErrReasonRequired   = fmt.Errorf("%w: reason is required", ErrValidation)
	ErrInvalidAmount    = fmt.Errorf("%w: amount must be positive", ErrValidation)

	ErrVehicleUnavailable = fmt.Errorf("%w: vehicle is not available for the requested window", ErrConflict)
	ErrPaymentExists      = fmt.Errorf("%w: payment already exists for booking", ErrConflict)
	ErrSettlementExists   = fmt.Errorf("%w: settlement already exists for booking", ErrConflict)
	ErrAmountMismatch     = fmt.Errorf("%w: paid amount does not match payment record", ErrConflict)

	ErrBookingNotFound    = fmt.Errorf("booking %w", ErrNotFound)
	ErrPaymentNotFound    = fmt.Errorf("payment %w", ErrNotFound)
	ErrSettlementNotFound = fmt.Errorf("settlement %w", ErrNotFound)
	ErrVehicleNotFound    = fmt.Errorf("vehicle %w", ErrNotFound)
	ErrCustomerNotFound   = fmt.Errorf("customer %w", ErrNotFound)
	ErrTrustScoreNotFound = fmt.Errorf("trust score %w", ErrNotFound)

	ErrSettlementFinalized   = fmt.Errorf("%w: settlement is finalized", ErrInvalidTransition)
	ErrSettlementNotFinal    = fmt.Errorf("%w: settlement is not finalized", ErrInvalidTransition)
	ErrPickupEvidenceMissing = fmt.Errorf("%w: no pickup condition record", ErrInvalidTransition)
	ErrReturnEvidenceMissing = fmt.Errorf("%w: no return condition record", ErrInvalidTransition)
	ErrRentalNotStarted      = fmt.Errorf("%w: scheduled start has not arrived", ErrInvalidTransition)
	ErrHoldNotExpired        = fmt.Errorf("%w: hold has not expired", ErrInvalidTransition)
	ErrNotNoShow             = fmt.Errorf("%w: booking is not a no-show", ErrInvalidTransition)

	ErrInconsistentTransaction = fmt.Errorf("%w: payment already completed with a different transaction id", ErrInconsistency)
	ErrLedger                  = fmt.Errorf("%w: trust ledger update failed", ErrInconsistency)
)

// InvalidTransition builds an ErrInvalidTransition for a named state machine.
func InvalidTransition(machine, from, to string) error {
	return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, machine, from, to)
}

// Kind returns the base kind of err, or nil when err carries none.
func Kind(err error) error {
	for _, kind := range []error{ErrValidation, ErrConflict, ErrNotFound, ErrInvalidTransition, ErrInconsistency} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
