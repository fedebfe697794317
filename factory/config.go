/*
Package factory provides JSON to Go configuration conversion.

PURPOSE:
  Converts JSON tenant configuration into domain objects: engagements,
  rate cards, price rules, VAT tables, approval chains, adjustment
  limits, dunning policies and FX rates. Finance teams define these in
  JSON; the factory creates the proper Go structs and seeds the store.

JSON SCHEMA:
  {
    "engagements": [
      {
        "id": "eng-acme-audit",
        "client_id": "acme",
        "name": "ACME FY24 Audit",
        "base_currency": "GBP",
        "budget_hours": 400,
        "budget_value": 50000,
        "cap_policy": "hard",
        "fee_cap": 50000,
        "recognition": "over_time_by_input",
        "place_of_supply": "GB",
        "customer_type": "business",
        "service_type": "professional"
      }
    ],
    "rate_definitions": [
      {"scope": "role", "role_id": "senior", "hourly_rate": 250,
       "effective_from": "2024-01-01"}
    ],
    "vat_rules": [
      {"place_of_supply": "GB", "customer_type": "business",
       "service_type": "professional", "code": "STD", "rate": 0.20}
    ],
    "approval_chains": {"timesheet": ["manager"]},
    "approval_limits": {"manager": 500, "partner": 10000},
    "dunning": {"steps": [{"name": "gentle_reminder", "after_days": 7}],
                "legal_after_days": 90},
    "fx_rates": {"GBP/USD": 1.27}
  }

SEE ALSO:
  - ledger/engagement.go: Engagement type definition
  - rates/resolver.go: RateDefinition and PriceRule
  - billing/invoice.go: VatRule and FX tables
  - billing/collections.go: DunningPolicy
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/praxis/fees-engine/approval"
	"github.com/praxis/fees-engine/billing"
	"github.com/praxis/fees-engine/ledger"
	"github.com/praxis/fees-engine/rates"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ConfigJSON is the JSON representation of one tenant's setup.
type ConfigJSON struct {
	Engagements     []EngagementJSON     `json:"engagements" validate:"dive"`
	RateDefinitions []RateDefinitionJSON `json:"rate_definitions" validate:"dive"`
	PriceRules      []PriceRuleJSON      `json:"price_rules" validate:"dive"`
	VatRules        []VatRuleJSON        `json:"vat_rules" validate:"dive"`
	ApprovalChains  map[string][]string  `json:"approval_chains,omitempty"`
	ApprovalLimits  map[string]float64   `json:"approval_limits,omitempty"`
	Dunning         *DunningJSON         `json:"dunning,omitempty"`
	FxRates         map[string]float64   `json:"fx_rates,omitempty"`
}

type EngagementJSON struct {
	ID           string  `json:"id" validate:"required"`
	ClientID     string  `json:"client_id" validate:"required"`
	Name         string  `json:"name" validate:"required"`
	BaseCurrency string  `json:"base_currency" validate:"required,len=3"`
	BudgetHours  float64 `json:"budget_hours,omitempty" validate:"gte=0"`
	BudgetValue  float64 `json:"budget_value,omitempty" validate:"gte=0"`
	CapPolicy    string  `json:"cap_policy,omitempty" validate:"omitempty,oneof=none soft hard"`
	FeeCap       float64 `json:"fee_cap,omitempty" validate:"gte=0"`
	Recognition  string  `json:"recognition,omitempty" validate:"omitempty,oneof=point_in_time over_time_by_input over_service_period"`

	PlaceOfSupply string `json:"place_of_supply" validate:"required"`
	CustomerType  string `json:"customer_type" validate:"required"`
	ServiceType   string `json:"service_type" validate:"required"`

	ExpenseMarkupPercent float64 `json:"expense_markup_percent,omitempty" validate:"gte=0"`
	MileageRate          float64 `json:"mileage_rate,omitempty" validate:"gte=0"`
}

type RateDefinitionJSON struct {
	Scope         string  `json:"scope" validate:"required,oneof=role client person"`
	RoleID        string  `json:"role_id,omitempty"`
	ClientID      string  `json:"client_id,omitempty"`
	PersonID      string  `json:"person_id,omitempty"`
	HourlyRate    float64 `json:"hourly_rate" validate:"gt=0"`
	Currency      string  `json:"currency" validate:"required,len=3"`
	EffectiveFrom string  `json:"effective_from" validate:"required"`
	EffectiveTo   string  `json:"effective_to,omitempty"`
}

type PriceRuleJSON struct {
	Name          string  `json:"name,omitempty"`
	Priority      int     `json:"priority"`
	Kind          string  `json:"kind" validate:"required,oneof=additive multiplicative"`
	Amount        float64 `json:"amount,omitempty"`
	Currency      string  `json:"currency,omitempty" validate:"omitempty,len=3"`
	Factor        float64 `json:"factor,omitempty"`
	Category      string  `json:"category,omitempty"`
	ClientID      string  `json:"client_id,omitempty"`
	EffectiveFrom string  `json:"effective_from" validate:"required"`
	EffectiveTo   string  `json:"effective_to,omitempty"`
}

type VatRuleJSON struct {
	PlaceOfSupply string  `json:"place_of_supply" validate:"required"`
	CustomerType  string  `json:"customer_type" validate:"required"`
	ServiceType   string  `json:"service_type" validate:"required"`
	Code          string  `json:"code" validate:"required"`
	Rate          float64 `json:"rate" validate:"gte=0,lte=1"`
}

type DunningJSON struct {
	Steps          []DunningStepJSON `json:"steps" validate:"dive"`
	LegalAfterDays int               `json:"legal_after_days,omitempty" validate:"gte=0"`
}

type DunningStepJSON struct {
	Name      string `json:"name" validate:"required"`
	AfterDays int    `json:"after_days" validate:"gte=0"`
}

// =============================================================================
// CONFIG
// =============================================================================

// Config is the parsed, domain-typed form of a tenant setup.
type Config struct {
	Engagements     []ledger.Engagement
	RateDefinitions []rates.RateDefinition
	PriceRules      []rates.PriceRule
	VatRules        []billing.VatRule
	Chains          approval.StaticChains
	Limits          ledger.StaticLimits
	Dunning         billing.DunningPolicy
	Fx              billing.StaticFxTable
}

// =============================================================================
// FACTORY
// =============================================================================

type Factory struct {
	validate *validator.Validate
}

func NewFactory() *Factory {
	return &Factory{validate: validator.New()}
}

// Parse converts a JSON config document into domain objects for a tenant.
func (f *Factory) Parse(tenant ledger.TenantID, jsonStr string) (*Config, error) {
	var cj ConfigJSON
	if err := json.Unmarshal([]byte(jsonStr), &cj); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := f.validate.Struct(cj); err != nil {
		return nil, fmt.Errorf("invalid config: %w: %s", ledger.ErrValidation, err)
	}
	return f.fromJSON(tenant, cj)
}

func (f *Factory) fromJSON(tenant ledger.TenantID, cj ConfigJSON) (*Config, error) {
	cfg := &Config{
		Chains: approval.StaticChains{},
		Limits: ledger.StaticLimits{},
		Fx:     billing.StaticFxTable{},
	}

	for _, ej := range cj.Engagements {
		eng, err := parseEngagement(tenant, ej)
		if err != nil {
			return nil, err
		}
		cfg.Engagements = append(cfg.Engagements, eng)
	}

	for _, rj := range cj.RateDefinitions {
		rd, err := parseRateDefinition(tenant, rj)
		if err != nil {
			return nil, err
		}
		cfg.RateDefinitions = append(cfg.RateDefinitions, rd)
	}

	for _, pj := range cj.PriceRules {
		pr, err := parsePriceRule(tenant, pj)
		if err != nil {
			return nil, err
		}
		cfg.PriceRules = append(cfg.PriceRules, pr)
	}

	for _, vj := range cj.VatRules {
		cfg.VatRules = append(cfg.VatRules, billing.VatRule{
			ID:            ledger.NewID("vat"),
			TenantID:      tenant,
			PlaceOfSupply: vj.PlaceOfSupply,
			CustomerType:  vj.CustomerType,
			ServiceType:   vj.ServiceType,
			Code:          vj.Code,
			Rate:          decimal.NewFromFloat(vj.Rate),
		})
	}

	for subject, chain := range cj.ApprovalChains {
		cfg.Chains[approval.SubjectType(subject)] = chain
	}
	if len(cfg.Chains) == 0 {
		cfg.Chains = approval.DefaultChains
	}

	// Limits are role ceilings in the currency of the first engagement;
	// single-currency tenants are the common case.
	currency := "GBP"
	if len(cfg.Engagements) > 0 {
		currency = cfg.Engagements[0].BaseCurrency
	}
	for role, limit := range cj.ApprovalLimits {
		cfg.Limits[role] = ledger.Money{Amount: decimal.NewFromFloat(limit), Currency: currency}
	}

	cfg.Dunning = billing.DefaultDunningPolicy
	if cj.Dunning != nil {
		cfg.Dunning = billing.DunningPolicy{LegalAfterDays: cj.Dunning.LegalAfterDays}
		for _, sj := range cj.Dunning.Steps {
			cfg.Dunning.Steps = append(cfg.Dunning.Steps, billing.DunningStep{
				Name:      sj.Name,
				AfterDays: sj.AfterDays,
			})
		}
	}

	for pair, rate := range cj.FxRates {
		cfg.Fx[pair] = decimal.NewFromFloat(rate)
	}

	return cfg, nil
}

// Seed writes the parsed config into the stores. Engagements and VAT
// rules go to the billing store; rates to the rate store.
func (f *Factory) Seed(ctx context.Context, cfg *Config, store billing.Store, rateStore rates.Store) error {
	for _, eng := range cfg.Engagements {
		if err := store.SaveEngagement(ctx, eng); err != nil {
			return err
		}
	}
	for _, rd := range cfg.RateDefinitions {
		if err := rateStore.SaveRateDefinition(ctx, rd); err != nil {
			return err
		}
	}
	for _, pr := range cfg.PriceRules {
		if err := rateStore.SavePriceRule(ctx, pr); err != nil {
			return err
		}
	}
	for _, vr := range cfg.VatRules {
		if err := store.SaveVatRule(ctx, vr); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseEngagement(tenant ledger.TenantID, ej EngagementJSON) (ledger.Engagement, error) {
	capPolicy := ledger.CapNone
	switch ej.CapPolicy {
	case "soft":
		capPolicy = ledger.CapSoft
	case "hard":
		capPolicy = ledger.CapHard
	}
	if capPolicy != ledger.CapNone && ej.FeeCap <= 0 {
		return ledger.Engagement{}, fmt.Errorf("engagement %s: %s cap requires fee_cap: %w", ej.ID, ej.CapPolicy, ledger.ErrValidation)
	}

	method := ledger.MethodOverTimeByInput
	switch ej.Recognition {
	case "point_in_time":
		method = ledger.MethodPointInTime
	case "over_service_period":
		method = ledger.MethodOverServicePeriod
	}

	now := time.Now().UTC()
	return ledger.Engagement{
		ID:                   ledger.EngagementID(ej.ID),
		TenantID:             tenant,
		ClientID:             ej.ClientID,
		Name:                 ej.Name,
		BaseCurrency:         ej.BaseCurrency,
		BudgetHours:          decimal.NewFromFloat(ej.BudgetHours),
		BudgetValue:          ledger.Money{Amount: decimal.NewFromFloat(ej.BudgetValue), Currency: ej.BaseCurrency},
		CapPolicy:            capPolicy,
		FeeCap:               ledger.Money{Amount: decimal.NewFromFloat(ej.FeeCap), Currency: ej.BaseCurrency},
		Recognition:          method,
		PlaceOfSupply:        ej.PlaceOfSupply,
		CustomerType:         ej.CustomerType,
		ServiceType:          ej.ServiceType,
		ExpenseMarkupPercent: decimal.NewFromFloat(ej.ExpenseMarkupPercent),
		MileageRate:          ledger.Money{Amount: decimal.NewFromFloat(ej.MileageRate), Currency: ej.BaseCurrency},
		Status:               ledger.EngagementActive,
		CreatedAt:            ledger.FromTime(now),
		UpdatedAt:            ledger.FromTime(now),
	}, nil
}

func parseRateDefinition(tenant ledger.TenantID, rj RateDefinitionJSON) (rates.RateDefinition, error) {
	scope := rates.ScopeRole
	switch rj.Scope {
	case "client":
		scope = rates.ScopeClient
	case "person":
		scope = rates.ScopePerson
	}

	from, to, err := parseEffectiveRange(rj.EffectiveFrom, rj.EffectiveTo)
	if err != nil {
		return rates.RateDefinition{}, err
	}

	return rates.RateDefinition{
		ID:            ledger.NewID("rate"),
		TenantID:      tenant,
		Scope:         scope,
		RoleID:        rj.RoleID,
		ClientID:      rj.ClientID,
		PersonID:      ledger.ActorID(rj.PersonID),
		HourlyRate:    ledger.Money{Amount: decimal.NewFromFloat(rj.HourlyRate), Currency: rj.Currency},
		EffectiveFrom: from,
		EffectiveTo:   to,
	}, nil
}

func parsePriceRule(tenant ledger.TenantID, pj PriceRuleJSON) (rates.PriceRule, error) {
	kind := rates.RuleAdditive
	if pj.Kind == "multiplicative" {
		kind = rates.RuleMultiplicative
	}

	from, to, err := parseEffectiveRange(pj.EffectiveFrom, pj.EffectiveTo)
	if err != nil {
		return rates.PriceRule{}, err
	}

	return rates.PriceRule{
		ID:            ledger.NewID("rule"),
		TenantID:      tenant,
		Name:          pj.Name,
		Priority:      pj.Priority,
		Kind:          kind,
		Amount:        ledger.Money{Amount: decimal.NewFromFloat(pj.Amount), Currency: pj.Currency},
		Factor:        decimal.NewFromFloat(pj.Factor),
		Category:      pj.Category,
		ClientID:      pj.ClientID,
		EffectiveFrom: from,
		EffectiveTo:   to,
	}, nil
}

func parseEffectiveRange(fromStr, toStr string) (ledger.TimePoint, *ledger.TimePoint, error) {
	fromT, err := time.Parse("2006-01-02", fromStr)
	if err != nil {
		return ledger.TimePoint{}, nil, fmt.Errorf("invalid effective_from %q: %w", fromStr, ledger.ErrValidation)
	}
	from := ledger.FromTime(fromT)

	if toStr == "" {
		return from, nil, nil
	}
	toT, err := time.Parse("2006-01-02", toStr)
	if err != nil {
		return ledger.TimePoint{}, nil, fmt.Errorf("invalid effective_to %q: %w", toStr, ledger.ErrValidation)
	}
	to := ledger.FromTime(toT)
	return from, &to, nil
}
