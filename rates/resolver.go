/*
Package rates computes the standard value of captured units.

PURPOSE:
  Resolves the monetary standard value of a CaptureUnit from the tenant's
  rate card: role rates, person overrides, client overrides and
  conditional price rules, each with an effective-date range.

RESOLUTION ALGORITHM (time units):
  1. Collect definitions whose effective range covers the unit date
  2. Filter to those matching the unit's person, client or role scope
  3. Rank by specificity (person > client > role), then by most recent
     effective-from on ties
  4. Apply matching price rules (additive / multiplicative) in priority
     order to the hourly rate
  5. standardValue = quantity x adjusted rate

  A role rate for the date is the mandatory fallback. If none exists the
  resolution fails with RateNotFoundError even when an override matched.

NON-TIME UNITS:
  Expenses and disbursements are fixed amounts with the engagement's
  optional markup percent. Mileage is miles x the engagement's per-mile
  rate.

SEE ALSO:
  - ledger/types.go: CaptureUnit
  - ledger/errors.go: RateNotFoundError
*/
package rates

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/praxis/fees-engine/ledger"
)

// =============================================================================
// RATE DEFINITIONS
// =============================================================================

type Scope string

const (
	ScopeRole   Scope = "role"
	ScopeClient Scope = "client"
	ScopePerson Scope = "person"
)

// specificity rank, higher wins
func (s Scope) rank() int {
	switch s {
	case ScopePerson:
		return 3
	case ScopeClient:
		return 2
	case ScopeRole:
		return 1
	default:
		return 0
	}
}

// RateDefinition is one row of the rate card. Exactly one of the scope
// keys is meaningful for a given scope: RoleID for role scope, ClientID
// (plus RoleID) for client scope, PersonID for person scope.
type RateDefinition struct {
	ID       string
	TenantID ledger.TenantID

	Scope    Scope
	RoleID   string
	ClientID string
	PersonID ledger.ActorID

	HourlyRate ledger.Money

	EffectiveFrom ledger.TimePoint
	EffectiveTo   *ledger.TimePoint // nil = open-ended
}

func (d RateDefinition) effectiveAt(date ledger.TimePoint) bool {
	if date.Before(d.EffectiveFrom) {
		return false
	}
	if d.EffectiveTo != nil && date.After(*d.EffectiveTo) {
		return false
	}
	return true
}

// =============================================================================
// PRICE RULES
// =============================================================================

type RuleKind string

const (
	RuleAdditive       RuleKind = "additive"       // add Amount to the hourly rate
	RuleMultiplicative RuleKind = "multiplicative" // multiply the hourly rate by Factor
)

// PriceRule is a conditional adjustment to the resolved hourly rate.
// Rules apply in ascending Priority order.
type PriceRule struct {
	ID       string
	TenantID ledger.TenantID
	Name     string
	Priority int

	Kind   RuleKind
	Amount ledger.Money    // for additive
	Factor decimal.Decimal // for multiplicative

	// Match conditions; empty means "any".
	Category string
	ClientID string

	EffectiveFrom ledger.TimePoint
	EffectiveTo   *ledger.TimePoint
}

func (r PriceRule) matches(unit ledger.CaptureUnit) bool {
	if unit.Date.Before(r.EffectiveFrom) {
		return false
	}
	if r.EffectiveTo != nil && unit.Date.After(*r.EffectiveTo) {
		return false
	}
	if r.Category != "" && r.Category != unit.Category {
		return false
	}
	if r.ClientID != "" && r.ClientID != unit.ClientID {
		return false
	}
	return true
}

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	ListRateDefinitions(ctx context.Context, tenant ledger.TenantID) ([]RateDefinition, error)
	ListPriceRules(ctx context.Context, tenant ledger.TenantID) ([]PriceRule, error)
	SaveRateDefinition(ctx context.Context, d RateDefinition) error
	SavePriceRule(ctx context.Context, r PriceRule) error
}

// =============================================================================
// RESOLVER
// =============================================================================

type Resolver struct {
	Store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{Store: store}
}

// Resolve computes the standard value of a capture unit.
func (r *Resolver) Resolve(ctx context.Context, unit ledger.CaptureUnit, eng ledger.Engagement) (ledger.Money, error) {
	switch unit.Kind {
	case ledger.KindTime:
		return r.resolveTime(ctx, unit, eng)
	case ledger.KindExpense, ledger.KindDisbursement:
		// Quantity is a monetary amount; apply the engagement markup.
		amount := ledger.Money{Amount: unit.Quantity, Currency: eng.BaseCurrency}
		if !eng.ExpenseMarkupPercent.IsZero() {
			factor := decimal.NewFromInt(1).Add(eng.ExpenseMarkupPercent.Div(decimal.NewFromInt(100)))
			amount = amount.Mul(factor)
		}
		return amount, nil
	case ledger.KindMileage:
		return eng.MileageRate.Mul(unit.Quantity), nil
	default:
		return ledger.Money{}, ledger.ErrValidation
	}
}

func (r *Resolver) resolveTime(ctx context.Context, unit ledger.CaptureUnit, eng ledger.Engagement) (ledger.Money, error) {
	defs, err := r.Store.ListRateDefinitions(ctx, unit.TenantID)
	if err != nil {
		return ledger.Money{}, err
	}

	var candidates []RateDefinition
	roleRateExists := false
	for _, d := range defs {
		if !d.effectiveAt(unit.Date) {
			continue
		}
		switch d.Scope {
		case ScopePerson:
			if d.PersonID == unit.UserID {
				candidates = append(candidates, d)
			}
		case ScopeClient:
			if d.ClientID == unit.ClientID && (d.RoleID == "" || d.RoleID == unit.RoleID) {
				candidates = append(candidates, d)
			}
		case ScopeRole:
			if d.RoleID == unit.RoleID {
				candidates = append(candidates, d)
				roleRateExists = true
			}
		}
	}

	// The role rate is the mandatory fallback: its absence is an error
	// even when an override matched.
	if !roleRateExists {
		return ledger.Money{}, &ledger.RateNotFoundError{RoleID: unit.RoleID, Date: unit.Date}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Scope.rank() != candidates[j].Scope.rank() {
			return candidates[i].Scope.rank() > candidates[j].Scope.rank()
		}
		return candidates[i].EffectiveFrom.After(candidates[j].EffectiveFrom)
	})
	best := candidates[0]

	rate := best.HourlyRate
	rate.Currency = eng.BaseCurrency

	rules, err := r.Store.ListPriceRules(ctx, unit.TenantID)
	if err != nil {
		return ledger.Money{}, err
	}
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })
	for _, rule := range rules {
		if !rule.matches(unit) {
			continue
		}
		switch rule.Kind {
		case RuleAdditive:
			rate = rate.Add(ledger.Money{Amount: rule.Amount.Amount, Currency: rate.Currency})
		case RuleMultiplicative:
			rate = rate.Mul(rule.Factor)
		}
	}

	return rate.Mul(unit.Quantity), nil
}
