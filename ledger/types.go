/*
Package ledger provides the core WIP & billing ledger engine.

PURPOSE:
  This package contains the tenant-scoped types and algorithms at the heart
  of the fee engine: captured chargeable units, work-in-progress lines held
  at standard and billing value, and the append-only adjustment audit that
  explains every change to billing value.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A monetary amount with a currency (decimal, never float)
  - CaptureUnit: A raw chargeable unit (time, expense, disbursement, mileage)
  - Typed IDs: Tenant/Engagement/WipLine identifiers that cannot be mixed up

DESIGN PRINCIPLES:
  1. Immutability: posted values are never edited, only adjusted via audit rows
  2. Precision: decimal.Decimal for all value math
  3. Tenancy: every entity carries TenantID as a mandatory partition key
  4. Auditability: every billing-value change has a reason and an actor

SEE ALSO:
  - wip.go: WipLine and the WIP ledger operations
  - errors.go: The engine-wide error taxonomy
  - store.go: Persistence interfaces
*/
package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Monetary amount with currency
// =============================================================================

// Money is an amount in a single currency. Arithmetic is only meaningful
// between values of the same currency; callers convert first via FX.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

func NewMoney(value float64, currency string) Money {
	return Money{Amount: decimal.NewFromFloat(value), Currency: currency}
}

func NewMoneyFromInt(value int, currency string) Money {
	return Money{Amount: decimal.NewFromInt(int64(value)), Currency: currency}
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (m Money) Zero() Money                  { return Money{Amount: decimal.Zero, Currency: m.Currency} }
func (m Money) Add(o Money) Money            { return Money{Amount: m.Amount.Add(o.Amount), Currency: m.Currency} }
func (m Money) Sub(o Money) Money            { return Money{Amount: m.Amount.Sub(o.Amount), Currency: m.Currency} }
func (m Money) Mul(s decimal.Decimal) Money  { return Money{Amount: m.Amount.Mul(s), Currency: m.Currency} }
func (m Money) Div(s decimal.Decimal) Money  { return Money{Amount: m.Amount.Div(s), Currency: m.Currency} }
func (m Money) Neg() Money                   { return Money{Amount: m.Amount.Neg(), Currency: m.Currency} }
func (m Money) Abs() Money                   { return Money{Amount: m.Amount.Abs(), Currency: m.Currency} }
func (m Money) IsZero() bool                 { return m.Amount.IsZero() }
func (m Money) IsNegative() bool             { return m.Amount.IsNegative() }
func (m Money) IsPositive() bool             { return m.Amount.IsPositive() }
func (m Money) GreaterThan(o Money) bool     { return m.Amount.GreaterThan(o.Amount) }
func (m Money) LessThan(o Money) bool        { return m.Amount.LessThan(o.Amount) }
func (m Money) Equal(o Money) bool           { return m.Amount.Equal(o.Amount) && m.Currency == o.Currency }

func (m Money) String() string { return m.Amount.StringFixed(2) + " " + m.Currency }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TenantID string
type EngagementID string
type CaptureUnitID string
type WipLineID string
type ActorID string

// NewID returns a prefixed unique identifier, e.g. "wip-1f2a...".
func NewID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

// =============================================================================
// CAPTURE UNIT - Raw chargeable unit recorded against an engagement
// =============================================================================

type CaptureKind string

const (
	KindTime         CaptureKind = "time"
	KindExpense      CaptureKind = "expense"
	KindDisbursement CaptureKind = "disbursement"
	KindMileage      CaptureKind = "mileage"
)

type CaptureStatus string

const (
	CaptureDraft     CaptureStatus = "draft"
	CaptureSubmitted CaptureStatus = "submitted"
	CaptureApproved  CaptureStatus = "approved"
	CaptureRejected  CaptureStatus = "rejected"
)

// CaptureUnit is a single chargeable unit. Quantity is hours for time,
// miles for mileage and a monetary amount for expenses/disbursements.
// Once posted to WIP the unit is immutable.
type CaptureUnit struct {
	ID           CaptureUnitID
	TenantID     TenantID
	EngagementID EngagementID
	UserID       ActorID
	RoleID       string
	ClientID     string

	Kind      CaptureKind
	Date      TimePoint
	Quantity  decimal.Decimal
	Category  string
	Billable  bool
	Narrative string

	Status          CaptureStatus
	RejectionReason string

	// Set when the unit is posted to the WIP ledger.
	WipLineID *WipLineID

	CreatedAt TimePoint
	UpdatedAt TimePoint
}

// CanTransitionTo reports whether the capture state machine allows the move.
// Draft -> Submitted -> {Approved | Rejected}; Rejected -> Draft (resubmit).
func (u CaptureUnit) CanTransitionTo(next CaptureStatus) bool {
	switch u.Status {
	case CaptureDraft:
		return next == CaptureSubmitted
	case CaptureSubmitted:
		return next == CaptureApproved || next == CaptureRejected
	case CaptureRejected:
		return next == CaptureDraft || next == CaptureSubmitted
	default:
		return false
	}
}
