/*
scenarios_test.go - Tests for the demo scenario loaders

Each scenario is loaded against an in-memory store and the resulting
book is checked: WIP values, invoice totals, retainer balances and
recognition state. Because loaders drive the real service graph, these
double as integration tests for the capture-to-cash path.
*/
package api

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxis/fees-engine/billing"
	"github.com/praxis/fees-engine/ledger"
	"github.com/praxis/fees-engine/recognition"
	"github.com/praxis/fees-engine/store/memory"
)

const testTenant = ledger.TenantID("demo")

func setupScenarioHandler(t *testing.T) *Handler {
	t.Helper()
	return NewHandler(memory.New(), Options{
		Limits: ledger.StaticLimits{
			"manager": ledger.NewMoney(1000, "GBP"),
			"partner": ledger.NewMoney(100000, "GBP"),
		},
	}, zerolog.Nop())
}

func TestScenario_AuditWip(t *testing.T) {
	// GIVEN: The audit-wip scenario
	// WHEN: Loading it
	// THEN: Two unbilled lines totalling 4,750 with one adjustment

	h := setupScenarioHandler(t)
	ctx := context.Background()

	require.NoError(t, loadAuditWip(ctx, h, testTenant))

	lines, err := h.Store.ListWipLines(ctx, testTenant, "eng-audit", ledger.WipUnbilled)
	require.NoError(t, err)
	require.Len(t, lines, 2)

	total := ledger.NewMoney(0, "GBP")
	for _, l := range lines {
		total = total.Add(l.BillingValue)
	}
	assert.True(t, total.Equal(ledger.NewMoney(4750, "GBP")), "got %s", total)

	adjusted := 0
	for _, l := range lines {
		if !l.BillingValue.Equal(l.StandardValue) {
			adjusted++
			assert.True(t, l.BillingValue.Equal(ledger.NewMoney(2250, "GBP")))
		}
	}
	assert.Equal(t, 1, adjusted)
}

func TestScenario_BillingCycle(t *testing.T) {
	// GIVEN: The billing-cycle scenario
	// WHEN: Loading it
	// THEN: One part-paid 5,700 invoice and no unbilled WIP remain

	h := setupScenarioHandler(t)
	ctx := context.Background()

	require.NoError(t, loadBillingCycle(ctx, h, testTenant))

	invoices, err := h.Store.ListInvoices(ctx, testTenant)
	require.NoError(t, err)
	require.Len(t, invoices, 1)

	inv := invoices[0]
	assert.True(t, inv.Subtotal.Equal(ledger.NewMoney(4750, "GBP")), "subtotal %s", inv.Subtotal)
	assert.True(t, inv.VatAmount.Equal(ledger.NewMoney(950, "GBP")))
	assert.True(t, inv.Total.Equal(ledger.NewMoney(5700, "GBP")))
	assert.Equal(t, billing.InvoicePartiallyPaid, inv.Status)

	lines, err := h.Store.ListWipLines(ctx, testTenant, "eng-audit", ledger.WipUnbilled)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestScenario_Collections(t *testing.T) {
	// GIVEN: The collections scenario
	// WHEN: Loading it and running dunning
	// THEN: Three invoices exist, the disputed one fires no steps

	h := setupScenarioHandler(t)
	ctx := context.Background()

	require.NoError(t, loadCollections(ctx, h, testTenant))

	invoices, err := h.Store.ListInvoices(ctx, testTenant)
	require.NoError(t, err)
	require.Len(t, invoices, 3)

	disputed := 0
	for _, inv := range invoices {
		if inv.Status == billing.InvoiceDisputed {
			disputed++
		}
	}
	assert.Equal(t, 1, disputed)

	events, err := h.Tracker.RunDunning(ctx, testTenant, ledger.Today())
	require.NoError(t, err)
	for _, e := range events {
		for _, inv := range invoices {
			if inv.Status == billing.InvoiceDisputed {
				assert.NotEqual(t, inv.ID, e.InvoiceID, "disputed invoice must not be dunned")
			}
		}
	}

	// 100 days overdue escalates past the final demand.
	bands := billing.AgeInvoices(invoices, ledger.Today(), "GBP")
	var overNinety int
	for _, b := range bands {
		if b.From >= 91 {
			overNinety += b.Count
		}
	}
	assert.Equal(t, 1, overNinety)
}

func TestScenario_Retainer(t *testing.T) {
	h := setupScenarioHandler(t)
	ctx := context.Background()

	require.NoError(t, loadRetainer(ctx, h, testTenant))

	accounts, err := h.Store.ListRetainerAccounts(ctx, testTenant)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.True(t, accounts[0].Balance.Equal(ledger.NewMoney(3800, "GBP")), "balance %s", accounts[0].Balance)

	txs, err := h.Store.ListRetainerTransactions(ctx, testTenant, accounts[0].ID)
	require.NoError(t, err)
	assert.Len(t, txs, 2)
}

func TestScenario_Recognition(t *testing.T) {
	// GIVEN: The recognition scenario (25 of 100 budget hours delivered)
	// WHEN: Loading it
	// THEN: 2,500 of the 10,000 schedule is posted

	h := setupScenarioHandler(t)
	ctx := context.Background()

	require.NoError(t, loadRecognition(ctx, h, testTenant))

	schedules, err := h.Store.ListSchedules(ctx, testTenant)
	require.NoError(t, err)
	require.Len(t, schedules, 1)
	assert.True(t, schedules[0].RecognizedToDate.Equal(ledger.NewMoney(2500, "GBP")),
		"recognized %s", schedules[0].RecognizedToDate)

	entries, err := h.Store.ListJournalEntries(ctx, testTenant, schedules[0].ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, recognition.JournalPosted, entries[0].Status)
}

func TestLoadScenario_AllRegistered(t *testing.T) {
	// Every advertised scenario has a loader and vice versa.
	require.Len(t, scenarioLoaders, len(scenarios))
	for _, s := range scenarios {
		assert.Contains(t, scenarioLoaders, s.ID)
	}
}
