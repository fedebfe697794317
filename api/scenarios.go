/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	data for testing and demos. Each scenario seeds a tenant with
	engagements, rates and VAT rules, then drives the real service graph
	(capture, approval, billing, recognition) so the resulting state is
	exactly what the engine would produce in production.

AVAILABLE SCENARIOS:

	audit-wip:     Two approved timesheets on one engagement, one
	               written down 10%, leaving 4,750 of unbilled WIP
	billing-cycle: The audit-wip book taken through pack approval and
	               an issued invoice with VAT and a part payment
	collections:   Invoices overdue 10, 45 and 100 days, one disputed,
	               ready for aging and dunning demos
	retainer:      A retainer account with a deposit and a drawdown
	recognition:   An input-based schedule with a posted journal for
	               last month

HOW SCENARIOS WORK:
 1. Seed tenant config via the factory (engagement, rates, VAT, FX)
 2. Submit and approve capture units through the capture service
 3. Optionally build packs, issue invoices, record payments
 4. Every step goes through the same code paths the API uses

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "billing-cycle"}

Scenarios write into whatever tenant the request addresses. Only use
in development and demo environments.

SEE ALSO:
  - server.go: Scenario routes
  - factory/config.go: Tenant seeding
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/praxis/fees-engine/billing"
	"github.com/praxis/fees-engine/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// ScenarioDTO describes one loadable demo setup.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

var scenarios = []ScenarioDTO{
	{
		ID:          "audit-wip",
		Name:        "Audit WIP Book",
		Description: "Two approved 10h timesheets at 250/h, one written down 10%",
	},
	{
		ID:          "billing-cycle",
		Name:        "Full Billing Cycle",
		Description: "WIP selected into an approved pack, invoiced with VAT, part paid",
	},
	{
		ID:          "collections",
		Name:        "Collections Book",
		Description: "Invoices overdue 10, 45 and 100 days, one disputed",
	},
	{
		ID:          "retainer",
		Name:        "Retainer Account",
		Description: "A retainer with a deposit and an invoice drawdown",
	},
	{
		ID:          "recognition",
		Name:        "Revenue Recognition",
		Description: "An input-based schedule with last month's journal posted",
	},
}

var scenarioLoaders = map[string]func(ctx context.Context, h *Handler, tenant ledger.TenantID) error{
	"audit-wip":     loadAuditWip,
	"billing-cycle": loadBillingCycle,
	"collections":   loadCollections,
	"retainer":      loadRetainer,
	"recognition":   loadRecognition,
}

// ListScenarios returns the available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario populates the request tenant with a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown scenario: "+req.ScenarioID, nil)
		return
	}

	tenant := tenantFrom(r)
	if err := load(r.Context(), h, tenant); err != nil {
		h.log.Error().Err(err).Str("scenario", req.ScenarioID).Msg("scenario load failed")
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.log.Info().
		Str("tenant", string(tenant)).
		Str("scenario", req.ScenarioID).
		Msg("scenario loaded")
	writeJSON(w, http.StatusOK, map[string]string{"scenario_id": req.ScenarioID, "status": "loaded"})
}

// =============================================================================
// SHARED BUILDING BLOCKS
// =============================================================================

// baseScenarioConfig seeds one UK engagement with a senior role rate and
// the standard VAT rule. The engagement ID varies per scenario.
func baseScenarioConfig(engagementID string) string {
	return fmt.Sprintf(`{
		"engagements": [{
			"id": %q,
			"client_id": "acme",
			"name": "ACME FY Audit",
			"base_currency": "GBP",
			"budget_hours": 100,
			"budget_value": 25000,
			"recognition": "over_time_by_input",
			"place_of_supply": "GB",
			"customer_type": "b2b",
			"service_type": "advisory"
		}],
		"rate_definitions": [{
			"scope": "role",
			"role_id": "senior",
			"hourly_rate": 250,
			"currency": "GBP",
			"effective_from": "2020-01-01"
		}],
		"vat_rules": [{
			"place_of_supply": "GB",
			"customer_type": "b2b",
			"service_type": "advisory",
			"code": "STD",
			"rate": 0.20
		}],
		"fx_rates": {"GBP/USD": 1.25}
	}`, engagementID)
}

func (h *Handler) seedScenarioConfig(ctx context.Context, tenant ledger.TenantID, doc string) error {
	cfg, err := h.Factory.Parse(tenant, doc)
	if err != nil {
		return err
	}
	return h.Factory.Seed(ctx, cfg, h.Store, h.Store)
}

// approvedTimesheet submits and manager-approves one time entry and
// returns the posted WIP line.
func (h *Handler) approvedTimesheet(ctx context.Context, tenant ledger.TenantID, engagementID, unitID string, hours float64, date ledger.TimePoint) (*ledger.WipLine, error) {
	unit, err := h.Captures.SubmitTimeEntry(ctx, ledger.CaptureUnit{
		ID:           ledger.CaptureUnitID(unitID),
		TenantID:     tenant,
		EngagementID: ledger.EngagementID(engagementID),
		UserID:       "sam",
		RoleID:       "senior",
		Kind:         ledger.KindTime,
		Date:         date,
		Quantity:     decimal.NewFromFloat(hours),
		Billable:     true,
		Narrative:    "fieldwork",
	})
	if err != nil {
		return nil, err
	}

	outcome, err := h.Captures.Approve(ctx, tenant, unit.ID, "maya", "manager")
	if err != nil {
		return nil, err
	}
	if outcome.WipLine == nil {
		return nil, fmt.Errorf("capture unit %s escalated instead of posting", unitID)
	}
	return outcome.WipLine, nil
}

// writeDown moves a line to a new billing value, driving the approval
// chain when the adjustment exceeds the acting manager's limit.
func (h *Handler) writeDown(ctx context.Context, tenant ledger.TenantID, lineID ledger.WipLineID, newValue ledger.Money, reason string) error {
	outcome, err := h.Captures.RequestAdjustment(ctx, tenant, lineID, newValue, reason, "maya", "manager")
	if err != nil {
		return err
	}
	if outcome.Entry != nil {
		return nil
	}

	req := outcome.Request
	if _, err := h.Approvals.Approve(ctx, tenant, req.ID, "maya", "manager"); err != nil {
		return err
	}
	if _, err := h.Approvals.Approve(ctx, tenant, req.ID, "paula", "partner"); err != nil {
		return err
	}
	_, err = h.Captures.ApplyApprovedAdjustment(ctx, tenant, req.ID, "paula")
	return err
}

// issuedInvoice drives one engagement from capture to an issued
// invoice, backdated so the invoice is overdueDays past due today.
func (h *Handler) issuedInvoice(ctx context.Context, tenant ledger.TenantID, engagementID, unitID string, overdueDays int) (*billing.Invoice, error) {
	issueDate := ledger.Today().AddDays(-(h.Poster.DueInDays + overdueDays))

	line, err := h.approvedTimesheet(ctx, tenant, engagementID, unitID, 10, issueDate)
	if err != nil {
		return nil, err
	}

	pack, err := h.Selector.CreateBillingPack(ctx, tenant, ledger.EngagementID(engagementID),
		[]ledger.WipLineID{line.ID}, "maya")
	if err != nil {
		return nil, err
	}
	if _, err := h.Selector.RequestApproval(ctx, tenant, pack.ID, "maya"); err != nil {
		return nil, err
	}
	if _, err := h.Selector.ApprovePack(ctx, tenant, pack.ID, "paula", "partner"); err != nil {
		return nil, err
	}

	return h.Poster.Issue(ctx, tenant, pack.ID, billing.IssueOptions{IssueDate: issueDate})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// loadAuditWip leaves two unbilled lines worth 2,250 and 2,500.
func loadAuditWip(ctx context.Context, h *Handler, tenant ledger.TenantID) error {
	if err := h.seedScenarioConfig(ctx, tenant, baseScenarioConfig("eng-audit")); err != nil {
		return err
	}

	date := ledger.Today().AddDays(-14)
	first, err := h.approvedTimesheet(ctx, tenant, "eng-audit", "ts-audit-1", 10, date)
	if err != nil {
		return err
	}
	if _, err := h.approvedTimesheet(ctx, tenant, "eng-audit", "ts-audit-2", 10, date.AddDays(1)); err != nil {
		return err
	}

	return h.writeDown(ctx, tenant, first.ID, ledger.NewMoney(2250, "GBP"), "scope agreed with client")
}

// loadBillingCycle takes the audit book through pack approval, an
// issued invoice of 5,700 and a part payment of 2,000.
func loadBillingCycle(ctx context.Context, h *Handler, tenant ledger.TenantID) error {
	if err := loadAuditWip(ctx, h, tenant); err != nil {
		return err
	}

	lines, err := h.Store.ListWipLines(ctx, tenant, "eng-audit", ledger.WipUnbilled)
	if err != nil {
		return err
	}
	lineIDs := make([]ledger.WipLineID, len(lines))
	for i, l := range lines {
		lineIDs[i] = l.ID
	}

	pack, err := h.Selector.CreateBillingPack(ctx, tenant, "eng-audit", lineIDs, "maya")
	if err != nil {
		return err
	}
	if _, err := h.Selector.RequestApproval(ctx, tenant, pack.ID, "maya"); err != nil {
		return err
	}
	if _, err := h.Selector.ApprovePack(ctx, tenant, pack.ID, "paula", "partner"); err != nil {
		return err
	}

	inv, err := h.Poster.Issue(ctx, tenant, pack.ID, billing.IssueOptions{})
	if err != nil {
		return err
	}

	_, err = h.Poster.RecordPayment(ctx, tenant, inv.ID, ledger.NewMoney(2000, "GBP"), ledger.Today())
	return err
}

// loadCollections builds three overdue invoices across three
// engagements and disputes the middle one.
func loadCollections(ctx context.Context, h *Handler, tenant ledger.TenantID) error {
	overdue := []struct {
		engagementID string
		days         int
	}{
		{"eng-col-a", 10},
		{"eng-col-b", 45},
		{"eng-col-c", 100},
	}

	for _, o := range overdue {
		if err := h.seedScenarioConfig(ctx, tenant, baseScenarioConfig(o.engagementID)); err != nil {
			return err
		}
		inv, err := h.issuedInvoice(ctx, tenant, o.engagementID, "ts-"+o.engagementID, o.days)
		if err != nil {
			return err
		}
		if o.days == 45 {
			if _, err := h.Tracker.Dispute(ctx, tenant, inv.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadRetainer opens a 5,000-target account, deposits to target and
// draws 1,200 against an invoice.
func loadRetainer(ctx context.Context, h *Handler, tenant ledger.TenantID) error {
	if err := h.seedScenarioConfig(ctx, tenant, baseScenarioConfig("eng-retained")); err != nil {
		return err
	}

	account, err := h.Retainers.Open(ctx, tenant, "eng-retained",
		ledger.NewMoney(5000, "GBP"), ledger.NewMoney(1000, "GBP"),
		decimal.NewFromFloat(0.02))
	if err != nil {
		return err
	}

	if _, err := h.Retainers.Deposit(ctx, tenant, account.ID, ledger.NewMoney(5000, "GBP"), "opening deposit"); err != nil {
		return err
	}
	_, err = h.Retainers.Drawdown(ctx, tenant, account.ID, ledger.NewMoney(1200, "GBP"), "inv-demo-1", "march fees")
	return err
}

// loadRecognition opens an input-based schedule over a quarter and
// posts last month's journal.
func loadRecognition(ctx context.Context, h *Handler, tenant ledger.TenantID) error {
	if err := h.seedScenarioConfig(ctx, tenant, baseScenarioConfig("eng-rec")); err != nil {
		return err
	}

	today := ledger.Today()
	lastMonth := ledger.MonthPeriod(today.AddMonths(-1))

	// 25 of 100 budget hours delivered last month.
	if _, err := h.approvedTimesheet(ctx, tenant, "eng-rec", "ts-rec-1", 10, lastMonth.Start.AddDays(3)); err != nil {
		return err
	}
	if _, err := h.approvedTimesheet(ctx, tenant, "eng-rec", "ts-rec-2", 15, lastMonth.Start.AddDays(9)); err != nil {
		return err
	}

	sch, err := h.Recognition.CreateSchedule(ctx, tenant, "eng-rec",
		ledger.MethodOverTimeByInput, ledger.NewMoney(10000, "GBP"),
		ledger.Period{Start: lastMonth.Start, End: lastMonth.Start.AddMonths(3)})
	if err != nil {
		return err
	}

	entries, err := h.Recognition.Run(ctx, tenant, lastMonth, today)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.ScheduleID != sch.ID {
			continue
		}
		if _, err := h.Recognition.Post(ctx, tenant, e.ID, "paula"); err != nil {
			return err
		}
	}
	return nil
}
