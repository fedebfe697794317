package factory_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxis/fees-engine/approval"
	"github.com/praxis/fees-engine/factory"
	"github.com/praxis/fees-engine/ledger"
	"github.com/praxis/fees-engine/rates"
	"github.com/praxis/fees-engine/store/memory"
)

const fullConfig = `{
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
			"service_type": "professional",
			"expense_markup_percent": 10,
			"mileage_rate": 0.45
		}
	],
	"rate_definitions": [
		{"scope": "role", "role_id": "senior", "hourly_rate": 250,
		 "currency": "GBP", "effective_from": "2024-01-01"},
		{"scope": "person", "person_id": "alice", "hourly_rate": 400,
		 "currency": "GBP", "effective_from": "2024-01-01", "effective_to": "2024-06-30"}
	],
	"price_rules": [
		{"name": "weekend uplift", "priority": 1, "kind": "multiplicative",
		 "factor": 1.5, "category": "weekend", "effective_from": "2024-01-01"}
	],
	"vat_rules": [
		{"place_of_supply": "GB", "customer_type": "business",
		 "service_type": "professional", "code": "STD", "rate": 0.20}
	],
	"approval_chains": {"write_up_off": ["manager", "partner"]},
	"approval_limits": {"manager": 500, "partner": 10000},
	"dunning": {"steps": [{"name": "gentle_reminder", "after_days": 7}],
	            "legal_after_days": 90},
	"fx_rates": {"GBP/USD": 1.27}
}`

// =============================================================================
// PARSE
// =============================================================================

func TestParse_FullDocument(t *testing.T) {
	// GIVEN: A complete tenant setup document
	// WHEN: Parsing it
	// THEN: Every section lands in its domain type

	f := factory.NewFactory()

	cfg, err := f.Parse("t1", fullConfig)
	require.NoError(t, err)

	require.Len(t, cfg.Engagements, 1)
	eng := cfg.Engagements[0]
	assert.Equal(t, ledger.EngagementID("eng-acme-audit"), eng.ID)
	assert.Equal(t, ledger.TenantID("t1"), eng.TenantID)
	assert.Equal(t, ledger.CapHard, eng.CapPolicy)
	assert.True(t, eng.FeeCap.Equal(ledger.NewMoney(50000, "GBP")))
	assert.Equal(t, ledger.MethodOverTimeByInput, eng.Recognition)
	assert.True(t, eng.MileageRate.Equal(ledger.NewMoney(0.45, "GBP")))
	assert.Equal(t, ledger.EngagementActive, eng.Status)

	require.Len(t, cfg.RateDefinitions, 2)
	assert.Equal(t, rates.ScopeRole, cfg.RateDefinitions[0].Scope)
	assert.True(t, cfg.RateDefinitions[0].HourlyRate.Equal(ledger.NewMoney(250, "GBP")))
	assert.Equal(t, ledger.NewTimePoint(2024, 1, 1), cfg.RateDefinitions[0].EffectiveFrom)
	assert.Nil(t, cfg.RateDefinitions[0].EffectiveTo)

	assert.Equal(t, rates.ScopePerson, cfg.RateDefinitions[1].Scope)
	require.NotNil(t, cfg.RateDefinitions[1].EffectiveTo)
	assert.Equal(t, ledger.NewTimePoint(2024, 6, 30), *cfg.RateDefinitions[1].EffectiveTo)

	require.Len(t, cfg.PriceRules, 1)
	assert.Equal(t, rates.RuleMultiplicative, cfg.PriceRules[0].Kind)
	assert.True(t, cfg.PriceRules[0].Factor.Equal(decimal.NewFromFloat(1.5)))

	require.Len(t, cfg.VatRules, 1)
	assert.Equal(t, "STD", cfg.VatRules[0].Code)

	assert.Equal(t, []string{"manager", "partner"}, cfg.Chains.ChainFor(approval.SubjectWriteUpOff))
	limit, ok := cfg.Limits.AdjustmentLimit("manager")
	require.True(t, ok)
	assert.True(t, limit.Equal(ledger.NewMoney(500, "GBP")))

	require.Len(t, cfg.Dunning.Steps, 1)
	assert.Equal(t, 90, cfg.Dunning.LegalAfterDays)

	rate, err := cfg.Fx.Rate(context.Background(), "GBP", "USD", ledger.Today())
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromFloat(1.27)))
}

func TestParse_EmptyDocument_UsesDefaults(t *testing.T) {
	f := factory.NewFactory()

	cfg, err := f.Parse("t1", `{}`)
	require.NoError(t, err)

	assert.Equal(t, []string{"manager"}, cfg.Chains.ChainFor(approval.SubjectTimesheet))
	assert.Equal(t, 90, cfg.Dunning.LegalAfterDays)
	assert.Len(t, cfg.Dunning.Steps, 3)
}

func TestParse_MalformedJSON_Fails(t *testing.T) {
	f := factory.NewFactory()

	_, err := f.Parse("t1", `{"engagements": [`)
	assert.Error(t, err)
}

func TestParse_MissingRequiredField_Fails(t *testing.T) {
	// base_currency is required and must be 3 letters
	f := factory.NewFactory()

	_, err := f.Parse("t1", `{"engagements": [
		{"id": "e1", "client_id": "acme", "name": "X", "base_currency": "POUNDS",
		 "place_of_supply": "GB", "customer_type": "business", "service_type": "professional"}
	]}`)
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestParse_CapPolicyWithoutFeeCap_Fails(t *testing.T) {
	f := factory.NewFactory()

	_, err := f.Parse("t1", `{"engagements": [
		{"id": "e1", "client_id": "acme", "name": "X", "base_currency": "GBP",
		 "cap_policy": "hard",
		 "place_of_supply": "GB", "customer_type": "business", "service_type": "professional"}
	]}`)
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestParse_BadEffectiveDate_Fails(t *testing.T) {
	f := factory.NewFactory()

	_, err := f.Parse("t1", `{"rate_definitions": [
		{"scope": "role", "role_id": "senior", "hourly_rate": 250,
		 "currency": "GBP", "effective_from": "01/01/2024"}
	]}`)
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

// =============================================================================
// SEED
// =============================================================================

func TestSeed_PersistsEverySection(t *testing.T) {
	// GIVEN: A parsed config
	// WHEN: Seeding a store
	// THEN: Engagements, rates, rules and VAT rules are all retrievable

	f := factory.NewFactory()
	store := memory.New()
	ctx := context.Background()

	cfg, err := f.Parse("t1", fullConfig)
	require.NoError(t, err)
	require.NoError(t, f.Seed(ctx, cfg, store, store))

	eng, err := store.GetEngagement(ctx, "t1", "eng-acme-audit")
	require.NoError(t, err)
	require.NotNil(t, eng)
	assert.Equal(t, "ACME FY24 Audit", eng.Name)

	defs, err := store.ListRateDefinitions(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, defs, 2)

	rules, err := store.ListPriceRules(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, rules, 1)

	vat, err := store.ListVatRules(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, vat, 1)
	assert.True(t, vat[0].Rate.Equal(decimal.NewFromFloat(0.20)))
}
