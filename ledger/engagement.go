/*
engagement.go - Engagement aggregate and per-engagement serialization

PURPOSE:
  An Engagement is the billing scope: one client, one body of work, one
  budget and fee-cap policy, one recognition method. Every WIP line,
  billing pack, invoice and recognition schedule hangs off an engagement.

CONCURRENCY:
  Operations that read-then-write a per-engagement running total (fee-cap
  checks, recognized-to-date, retainer balance) must be serialized so two
  concurrent writers cannot both pass a check against a stale total.
  EngagementGuard provides that single-writer boundary as a keyed mutex.
  Work on different engagements never contends.
*/
package ledger

import (
	"sync"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ENGAGEMENT
// =============================================================================

type FeeCapPolicy string

const (
	CapNone FeeCapPolicy = "none" // no cap configured
	CapSoft FeeCapPolicy = "soft" // warn at/near cap, never block
	CapHard FeeCapPolicy = "hard" // block selections that would breach the cap
)

type RecognitionMethod string

const (
	MethodPointInTime       RecognitionMethod = "point_in_time"
	MethodOverTimeByInput   RecognitionMethod = "over_time_by_input"
	MethodOverServicePeriod RecognitionMethod = "over_service_period"
)

type EngagementStatus string

const (
	EngagementActive   EngagementStatus = "active"
	EngagementArchived EngagementStatus = "archived" // never deleted
)

// Engagement identifies a client plus service scope.
// Created at job setup, mutated by change orders, archived but never deleted.
type Engagement struct {
	ID       EngagementID
	TenantID TenantID
	ClientID string
	Name     string

	BaseCurrency string
	BudgetHours  decimal.Decimal
	BudgetValue  Money

	CapPolicy FeeCapPolicy
	FeeCap    Money

	Recognition RecognitionMethod

	// VAT dimensions used at invoice time.
	PlaceOfSupply string
	CustomerType  string
	ServiceType   string

	// Expense/disbursement markup applied by the rate resolver (percent).
	ExpenseMarkupPercent decimal.Decimal

	// Per-mile rate for mileage units, in base currency.
	MileageRate Money

	Status    EngagementStatus
	CreatedAt TimePoint
	UpdatedAt TimePoint
}

func (e Engagement) HasHardCap() bool { return e.CapPolicy == CapHard && !e.FeeCap.IsZero() }

func (e Engagement) HasCap() bool { return e.CapPolicy != CapNone && !e.FeeCap.IsZero() }

// =============================================================================
// ENGAGEMENT GUARD - Per-engagement single-writer boundary
// =============================================================================

// EngagementGuard serializes read-then-write sections per engagement.
// Callers wrap a critical section in Do; sections for different
// engagements run concurrently.
type EngagementGuard struct {
	mu    sync.Mutex
	locks map[EngagementID]*sync.Mutex
}

func NewEngagementGuard() *EngagementGuard {
	return &EngagementGuard{locks: make(map[EngagementID]*sync.Mutex)}
}

// Do runs fn while holding the engagement's lock.
// fn must not call Do for the same engagement (not reentrant).
func (g *EngagementGuard) Do(id EngagementID, fn func() error) error {
	g.mu.Lock()
	l, ok := g.locks[id]
	if !ok {
		l = &sync.Mutex{}
		g.locks[id] = l
	}
	g.mu.Unlock()

	l.Lock()
	defer l.Unlock()
	return fn()
}
