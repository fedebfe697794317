/*
errors.go - Centralized error taxonomy for the fee engine

PURPOSE:
  All domain error kinds in one place. Services return these as typed
  results; nothing in the engine swallows them. Only genuinely unexpected
  failures (storage unavailable) surface as plain wrapped errors outside
  this taxonomy.

ERROR CATEGORIES:
  1. Validation errors  - malformed input, always recoverable by the caller
  2. Gate errors        - period locks, approval limits, fee caps
  3. Lookup errors      - missing rates, VAT rules, entities
  4. Concurrency errors - lost a per-engagement serialization race; retry

USAGE:
  if errors.Is(err, ledger.ErrPeriodLocked) { ... }

  var capErr *ledger.FeeCapExceededError
  if errors.As(err, &capErr) { ... capErr.FeeCap ... }
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation failed")

	// ErrPeriodLocked is returned when a capture unit dated inside a locked
	// period is submitted, approved or edited without an approved override.
	ErrPeriodLocked = errors.New("period is locked")

	// ErrApprovalLimitExceeded is returned when an actor's role-based
	// adjustment ceiling does not cover the requested delta.
	ErrApprovalLimitExceeded = errors.New("approval limit exceeded")

	// ErrFeeCapExceeded is returned when a hard fee cap would be breached.
	ErrFeeCapExceeded = errors.New("fee cap exceeded")

	// ErrRateNotFound is returned when no role rate exists for the unit date.
	ErrRateNotFound = errors.New("no applicable rate")

	// ErrVatRuleNotFound is returned when no VAT rule matches the
	// place-of-supply/customer/service combination. Never defaults to 0%.
	ErrVatRuleNotFound = errors.New("no matching VAT rule")

	// ErrPackNotApproved is returned when issuing a pack that is not Approved.
	ErrPackNotApproved = errors.New("billing pack not approved")

	// ErrConcurrencyConflict is returned when the caller lost a
	// per-engagement serialization race (e.g. a contested WIP line).
	// The operation may be retried.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrInvalidTransition is returned for illegal state machine moves.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrLineNotAdjustable is returned when adjusting a line that is no
	// longer Unbilled.
	ErrLineNotAdjustable = errors.New("wip line is not adjustable")

	// Not-found sentinels.
	ErrEngagementNotFound  = errors.New("engagement not found")
	ErrCaptureUnitNotFound = errors.New("capture unit not found")
	ErrWipLineNotFound     = errors.New("wip line not found")
	ErrNotFound            = errors.New("not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// PeriodLockedError identifies which lock rejected the operation.
type PeriodLockedError struct {
	LockID string
	Date   TimePoint
}

func (e *PeriodLockedError) Error() string {
	return fmt.Sprintf("period locked: %s falls inside lock %s", e.Date, e.LockID)
}

func (e *PeriodLockedError) Unwrap() error { return ErrPeriodLocked }

// ApprovalLimitExceededError details an adjustment ceiling breach.
type ApprovalLimitExceededError struct {
	Actor     ActorID
	Role      string
	Limit     Money
	Requested Money
}

func (e *ApprovalLimitExceededError) Error() string {
	return fmt.Sprintf("approval limit exceeded: role %s may adjust up to %s, requested %s",
		e.Role, e.Limit, e.Requested)
}

func (e *ApprovalLimitExceededError) Unwrap() error { return ErrApprovalLimitExceeded }

// FeeCapExceededError details a hard-cap breach.
type FeeCapExceededError struct {
	EngagementID  EngagementID
	FeeCap        Money
	AlreadyBilled Money
	Selected      Money
}

func (e *FeeCapExceededError) Error() string {
	return fmt.Sprintf("fee cap exceeded for %s: cap %s, already billed %s, selected %s",
		e.EngagementID, e.FeeCap, e.AlreadyBilled, e.Selected)
}

func (e *FeeCapExceededError) Unwrap() error { return ErrFeeCapExceeded }

// RateNotFoundError identifies the scope that failed to resolve.
type RateNotFoundError struct {
	RoleID string
	Date   TimePoint
}

func (e *RateNotFoundError) Error() string {
	return fmt.Sprintf("no role rate for %q effective %s", e.RoleID, e.Date)
}

func (e *RateNotFoundError) Unwrap() error { return ErrRateNotFound }

// VatRuleNotFoundError identifies the unmatched rule dimensions.
type VatRuleNotFoundError struct {
	PlaceOfSupply string
	CustomerType  string
	ServiceType   string
}

func (e *VatRuleNotFoundError) Error() string {
	return fmt.Sprintf("no VAT rule for place=%s customer=%s service=%s",
		e.PlaceOfSupply, e.CustomerType, e.ServiceType)
}

func (e *VatRuleNotFoundError) Unwrap() error { return ErrVatRuleNotFound }

// ConcurrencyConflictError lists the contested WIP lines.
type ConcurrencyConflictError struct {
	EngagementID   EngagementID
	ContestedLines []WipLineID
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict on %s: %d contested line(s)",
		e.EngagementID, len(e.ContestedLines))
}

func (e *ConcurrencyConflictError) Unwrap() error { return ErrConcurrencyConflict }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsClientError returns true if the error is due to invalid client input
// or a business-rule gate, i.e. the caller can act on it.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrPeriodLocked) ||
		errors.Is(err, ErrApprovalLimitExceeded) ||
		errors.Is(err, ErrFeeCapExceeded) ||
		errors.Is(err, ErrRateNotFound) ||
		errors.Is(err, ErrVatRuleNotFound) ||
		errors.Is(err, ErrPackNotApproved) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrLineNotAdjustable)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEngagementNotFound) ||
		errors.Is(err, ErrCaptureUnitNotFound) ||
		errors.Is(err, ErrWipLineNotFound) ||
		errors.Is(err, ErrNotFound)
}
