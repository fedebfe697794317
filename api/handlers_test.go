/*
handlers_test.go - HTTP tests for the API surface

Each test drives the full router over an in-memory store, so request
decoding, tenancy, the service graph and the error-to-status mapping
are all exercised together.
*/
package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxis/fees-engine/api"
	"github.com/praxis/fees-engine/billing"
	"github.com/praxis/fees-engine/ledger"
	"github.com/praxis/fees-engine/store/memory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestServer(t *testing.T) http.Handler {
	t.Helper()

	h := api.NewHandler(memory.New(), api.Options{
		Limits: ledger.StaticLimits{
			"manager": ledger.NewMoney(1000, "GBP"),
			"partner": ledger.NewMoney(100000, "GBP"),
		},
		Fx: billing.StaticFxTable{"GBP/USD": decimal.NewFromFloat(1.25)},
	}, zerolog.Nop())
	return api.NewRouter(h, zerolog.Nop())
}

// do sends one JSON request as tenant t1 and returns the recorder.
func do(t *testing.T, srv http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return doAs(t, srv, method, path, body, "t1")
}

func doAs(t *testing.T, srv http.Handler, method, path string, body any, tenant string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenant)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out), "body: %s", rec.Body.String())
	return out
}

const tenantConfig = `{
	"engagements": [{
		"id": "eng-1",
		"client_id": "acme",
		"name": "ACME FY24 Audit",
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
	}]
}`

func seedTenant(t *testing.T, srv http.Handler) {
	t.Helper()
	rec := do(t, srv, http.MethodPost, "/api/config", json.RawMessage(tenantConfig))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

// approvedLine submits and approves one 10h timesheet over HTTP and
// returns the posted WIP line ID.
func approvedLine(t *testing.T, srv http.Handler, unitID string) string {
	t.Helper()

	rec := do(t, srv, http.MethodPost, "/api/capture", map[string]any{
		"id":            unitID,
		"engagement_id": "eng-1",
		"user_id":       "sam",
		"role_id":       "senior",
		"kind":          "time",
		"date":          ledger.Today().AddDays(-7).String(),
		"quantity":      10,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, srv, http.MethodPost, "/api/capture/"+unitID+"/approve", map[string]any{
		"actor": "maya",
		"role":  "manager",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	line := decodeBody[api.WipLineDTO](t, rec)
	return line.ID
}

// =============================================================================
// HEALTH AND CONFIG
// =============================================================================

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody[map[string]string](t, rec)["status"])
}

func TestLoadConfig_SeedsTenant(t *testing.T) {
	// GIVEN: A fresh server
	// WHEN: Posting a tenant configuration
	// THEN: The seeded engagement is listable for that tenant only

	srv := newTestServer(t)
	seedTenant(t, srv)

	rec := do(t, srv, http.MethodGet, "/api/engagements", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	engs := decodeBody[[]api.EngagementDTO](t, rec)
	require.Len(t, engs, 1)
	assert.Equal(t, "eng-1", engs[0].ID)

	// Another tenant sees nothing.
	rec = doAs(t, srv, http.MethodGet, "/api/engagements", nil, "t2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]api.EngagementDTO](t, rec))
}

func TestLoadConfig_InvalidDocument_BadRequest(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/config", json.RawMessage(`{
		"engagements": [{"id": "eng-x", "client_id": "c", "name": "n",
			"base_currency": "POUNDS",
			"place_of_supply": "GB", "customer_type": "b2b", "service_type": "advisory"}]
	}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// CAPTURE
// =============================================================================

func TestSubmitCapture_CreatesSubmittedUnit(t *testing.T) {
	srv := newTestServer(t)
	seedTenant(t, srv)

	rec := do(t, srv, http.MethodPost, "/api/capture", map[string]any{
		"id":            "ts-1",
		"engagement_id": "eng-1",
		"user_id":       "sam",
		"role_id":       "senior",
		"kind":          "time",
		"date":          ledger.Today().String(),
		"quantity":      7.5,
		"narrative":     "planning",
	})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	unit := decodeBody[api.CaptureUnitDTO](t, rec)
	assert.Equal(t, "submitted", unit.Status)
	assert.Equal(t, 7.5, unit.Quantity)
}

func TestSubmitCapture_UnknownKind_BadRequest(t *testing.T) {
	srv := newTestServer(t)
	seedTenant(t, srv)

	rec := do(t, srv, http.MethodPost, "/api/capture", map[string]any{
		"id":            "ts-1",
		"engagement_id": "eng-1",
		"user_id":       "sam",
		"kind":          "overtime",
		"date":          ledger.Today().String(),
		"quantity":      1,
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitCapture_UnknownEngagement_NotFound(t *testing.T) {
	srv := newTestServer(t)
	seedTenant(t, srv)

	rec := do(t, srv, http.MethodPost, "/api/capture", map[string]any{
		"id":            "ts-1",
		"engagement_id": "eng-ghost",
		"user_id":       "sam",
		"role_id":       "senior",
		"kind":          "time",
		"date":          ledger.Today().String(),
		"quantity":      2,
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApproveCapture_PostsWipLine(t *testing.T) {
	// GIVEN: A submitted 10h entry for a senior at 250/h
	// WHEN: The manager approves it
	// THEN: The response is the posted WIP line valued at 2,500

	srv := newTestServer(t)
	seedTenant(t, srv)

	lineID := approvedLine(t, srv, "ts-1")
	require.NotEmpty(t, lineID)

	rec := do(t, srv, http.MethodGet, "/api/engagements/eng-1/wip", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	lines := decodeBody[[]api.WipLineDTO](t, rec)
	require.Len(t, lines, 1)
	assert.Equal(t, 2500.0, lines[0].BillingValue)
	assert.Equal(t, "unbilled", lines[0].Status)
}

func TestApproveCapture_WrongRole_BadRequest(t *testing.T) {
	srv := newTestServer(t)
	seedTenant(t, srv)

	rec := do(t, srv, http.MethodPost, "/api/capture", map[string]any{
		"id":            "ts-1",
		"engagement_id": "eng-1",
		"user_id":       "sam",
		"role_id":       "senior",
		"kind":          "time",
		"date":          ledger.Today().String(),
		"quantity":      5,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/capture/ts-1/approve", map[string]any{
		"actor": "sam",
		"role":  "staff",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// WIP ADJUSTMENTS
// =============================================================================

func TestAdjustWip_WithinLimit_AppliesDirectly(t *testing.T) {
	srv := newTestServer(t)
	seedTenant(t, srv)
	lineID := approvedLine(t, srv, "ts-1")

	rec := do(t, srv, http.MethodPost, "/api/wip/"+lineID+"/adjust", map[string]any{
		"new_value": 2250,
		"reason":    "scope agreed with client",
		"actor":     "maya",
		"role":      "manager",
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	entry := decodeBody[api.AdjustmentDTO](t, rec)
	assert.Equal(t, -250.0, entry.Delta)

	rec = do(t, srv, http.MethodGet, "/api/wip/"+lineID+"/adjustments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]api.AdjustmentDTO](t, rec), 1)
}

func TestAdjustWip_OverLimit_Escalates(t *testing.T) {
	// GIVEN: A 2,500 line and a manager limit of 1,000
	// WHEN: The manager writes the line down to 500
	// THEN: 202 with an open approval request, the line untouched

	srv := newTestServer(t)
	seedTenant(t, srv)
	lineID := approvedLine(t, srv, "ts-1")

	rec := do(t, srv, http.MethodPost, "/api/wip/"+lineID+"/adjust", map[string]any{
		"new_value": 500,
		"reason":    "client dispute",
		"actor":     "maya",
		"role":      "manager",
	})

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	req := decodeBody[api.ApprovalRequestDTO](t, rec)
	assert.Equal(t, "pending", req.Status)

	rec = do(t, srv, http.MethodGet, "/api/approvals/pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decodeBody[[]api.ApprovalRequestDTO](t, rec))
}

func TestAdjustWip_UnknownLine_NotFound(t *testing.T) {
	srv := newTestServer(t)
	seedTenant(t, srv)

	rec := do(t, srv, http.MethodPost, "/api/wip/wip-ghost/adjust", map[string]any{
		"new_value": 100,
		"reason":    "r",
		"actor":     "maya",
		"role":      "manager",
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// BILLING CYCLE
// =============================================================================

func TestBillingCycle_PackToInvoice(t *testing.T) {
	// GIVEN: Two 2,500 lines, one written down to 2,250
	// WHEN: Packing, approving and issuing over HTTP
	// THEN: Subtotal 4,750, VAT 950, total 5,700

	srv := newTestServer(t)
	seedTenant(t, srv)
	a := approvedLine(t, srv, "ts-1")
	b := approvedLine(t, srv, "ts-2")

	rec := do(t, srv, http.MethodPost, "/api/wip/"+a+"/adjust", map[string]any{
		"new_value": 2250, "reason": "scope agreed", "actor": "maya", "role": "manager",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, srv, http.MethodPost, "/api/packs", map[string]any{
		"engagement_id": "eng-1",
		"line_ids":      []string{a, b},
		"actor":         "maya",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	pack := decodeBody[api.BillingPackDTO](t, rec)
	assert.Equal(t, 4750.0, pack.SelectedValue)

	rec = do(t, srv, http.MethodPost, "/api/packs/"+pack.ID+"/submit", map[string]any{"actor": "maya"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, srv, http.MethodPost, "/api/packs/"+pack.ID+"/approve", map[string]any{
		"actor": "paula", "role": "partner",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, srv, http.MethodPost, "/api/packs/"+pack.ID+"/invoice", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	inv := decodeBody[api.InvoiceDTO](t, rec)
	assert.Equal(t, 4750.0, inv.Subtotal)
	assert.Equal(t, 950.0, inv.VatAmount)
	assert.Equal(t, 5700.0, inv.Total)
	assert.Equal(t, "issued", inv.Status)

	// Billed lines no longer appear as unbilled WIP.
	rec = do(t, srv, http.MethodGet, "/api/engagements/eng-1/wip", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]api.WipLineDTO](t, rec))
}

func TestCreatePack_ContestedLines_Conflict(t *testing.T) {
	srv := newTestServer(t)
	seedTenant(t, srv)
	a := approvedLine(t, srv, "ts-1")

	rec := do(t, srv, http.MethodPost, "/api/packs", map[string]any{
		"engagement_id": "eng-1", "line_ids": []string{a}, "actor": "maya",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/packs", map[string]any{
		"engagement_id": "eng-1", "line_ids": []string{a}, "actor": "noor",
	})

	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
}

func TestIssueInvoice_UnapprovedPack_BadRequest(t *testing.T) {
	srv := newTestServer(t)
	seedTenant(t, srv)
	a := approvedLine(t, srv, "ts-1")

	rec := do(t, srv, http.MethodPost, "/api/packs", map[string]any{
		"engagement_id": "eng-1", "line_ids": []string{a}, "actor": "maya",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	pack := decodeBody[api.BillingPackDTO](t, rec)

	rec = do(t, srv, http.MethodPost, "/api/packs/"+pack.ID+"/invoice", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// PAYMENTS AND COLLECTIONS
// =============================================================================

func TestRecordPayment_PartialThenFull(t *testing.T) {
	srv := newTestServer(t)
	seedTenant(t, srv)
	invID := issuedInvoiceID(t, srv)

	rec := do(t, srv, http.MethodPost, "/api/invoices/"+invID+"/payments", map[string]any{
		"amount": 1000, "currency": "GBP",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, srv, http.MethodGet, "/api/invoices", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	invoices := decodeBody[[]api.InvoiceDTO](t, rec)
	require.Len(t, invoices, 1)
	assert.Equal(t, "partially_paid", invoices[0].Status)

	rec = do(t, srv, http.MethodPost, "/api/invoices/"+invID+"/payments", map[string]any{
		"amount": 2000, "currency": "GBP",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/invoices", nil)
	invoices = decodeBody[[]api.InvoiceDTO](t, rec)
	assert.Equal(t, "paid", invoices[0].Status)
}

func TestRecordPayment_MissingAmount_BadRequest(t *testing.T) {
	srv := newTestServer(t)
	seedTenant(t, srv)
	invID := issuedInvoiceID(t, srv)

	rec := do(t, srv, http.MethodPost, "/api/invoices/"+invID+"/payments", map[string]any{
		"currency": "GBP",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDisputeAndResolve_OverHTTP(t *testing.T) {
	srv := newTestServer(t)
	seedTenant(t, srv)
	invID := issuedInvoiceID(t, srv)

	rec := do(t, srv, http.MethodPost, "/api/invoices/"+invID+"/dispute", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "disputed", decodeBody[api.InvoiceDTO](t, rec).Status)

	rec = do(t, srv, http.MethodPost, "/api/invoices/"+invID+"/dispute/resolve", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "issued", decodeBody[api.InvoiceDTO](t, rec).Status)
}

// issuedInvoiceID drives one 12h entry to a 3,600 invoice (3,000 + 20%
// VAT) and returns the invoice ID.
func issuedInvoiceID(t *testing.T, srv http.Handler) string {
	t.Helper()

	rec := do(t, srv, http.MethodPost, "/api/capture", map[string]any{
		"id":            "ts-pay",
		"engagement_id": "eng-1",
		"user_id":       "sam",
		"role_id":       "senior",
		"kind":          "time",
		"date":          ledger.Today().AddDays(-7).String(),
		"quantity":      12,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, srv, http.MethodPost, "/api/capture/ts-pay/approve", map[string]any{
		"actor": "maya", "role": "manager",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	line := decodeBody[api.WipLineDTO](t, rec)

	rec = do(t, srv, http.MethodPost, "/api/packs", map[string]any{
		"engagement_id": "eng-1", "line_ids": []string{line.ID}, "actor": "maya",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	pack := decodeBody[api.BillingPackDTO](t, rec)

	rec = do(t, srv, http.MethodPost, "/api/packs/"+pack.ID+"/submit", map[string]any{"actor": "maya"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, srv, http.MethodPost, "/api/packs/"+pack.ID+"/approve", map[string]any{
		"actor": "paula", "role": "partner",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/packs/"+pack.ID+"/invoice", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[api.InvoiceDTO](t, rec).ID
}

// =============================================================================
// PERIOD LOCKS
// =============================================================================

func TestLockPeriod_BlocksBackdatedCapture(t *testing.T) {
	srv := newTestServer(t)
	seedTenant(t, srv)

	lockedDay := ledger.Today().AddDays(-30)
	rec := do(t, srv, http.MethodPost, "/api/locks", map[string]any{
		"start": lockedDay.AddDays(-5).String(),
		"end":   lockedDay.AddDays(5).String(),
		"actor": "paula",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, srv, http.MethodPost, "/api/capture", map[string]any{
		"id":            "ts-late",
		"engagement_id": "eng-1",
		"user_id":       "sam",
		"role_id":       "senior",
		"kind":          "time",
		"date":          lockedDay.String(),
		"quantity":      3,
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "locked")
}

// =============================================================================
// RETAINERS
// =============================================================================

func TestRetainer_OpenDepositDrawdown(t *testing.T) {
	srv := newTestServer(t)
	seedTenant(t, srv)

	rec := do(t, srv, http.MethodPost, "/api/retainers", map[string]any{
		"engagement_id": "eng-1",
		"target":        5000,
		"low_threshold": 1000,
		"currency":      "GBP",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	account := decodeBody[api.RetainerDTO](t, rec)

	rec = do(t, srv, http.MethodPost, "/api/retainers/"+account.ID+"/deposits", map[string]any{
		"amount": 3000, "currency": "GBP", "memo": "opening",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, srv, http.MethodPost, "/api/retainers/"+account.ID+"/drawdowns", map[string]any{
		"amount": 1200, "currency": "GBP", "invoice_id": "inv-1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1800.0, decodeBody[api.RetainerDTO](t, rec).Balance)

	// 1,800 exceeds the 1,000 threshold, so no top-up is flagged.
	rec = do(t, srv, http.MethodGet, "/api/retainers/low-balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]json.RawMessage](t, rec))
}

func TestDrawdown_BeyondBalance_BadRequest(t *testing.T) {
	srv := newTestServer(t)
	seedTenant(t, srv)

	rec := do(t, srv, http.MethodPost, "/api/retainers", map[string]any{
		"engagement_id": "eng-1", "target": 5000, "currency": "GBP",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	account := decodeBody[api.RetainerDTO](t, rec)

	rec = do(t, srv, http.MethodPost, "/api/retainers/"+account.ID+"/drawdowns", map[string]any{
		"amount": 100, "currency": "GBP",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// RECOGNITION
// =============================================================================

func TestRecognition_ScheduleRunAndPost(t *testing.T) {
	// GIVEN: A 10,000 input-based schedule with 25 of 100 budget hours
	//        approved last month
	// WHEN: Running recognition for last month and posting the draft
	// THEN: 2,500 is recognized

	srv := newTestServer(t)
	seedTenant(t, srv)

	lastMonth := ledger.MonthPeriod(ledger.Today().AddMonths(-1))
	for i, hours := range []float64{10, 15} {
		id := fmt.Sprintf("ts-rec-%d", i)
		rec := do(t, srv, http.MethodPost, "/api/capture", map[string]any{
			"id":            id,
			"engagement_id": "eng-1",
			"user_id":       "sam",
			"role_id":       "senior",
			"kind":          "time",
			"date":          lastMonth.Start.AddDays(i + 2).String(),
			"quantity":      hours,
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		rec = do(t, srv, http.MethodPost, "/api/capture/"+id+"/approve", map[string]any{
			"actor": "maya", "role": "manager",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := do(t, srv, http.MethodPost, "/api/recognition/schedules", map[string]any{
		"engagement_id": "eng-1",
		"method":        "over_time_by_input",
		"total_amount":  10000,
		"currency":      "GBP",
		"service_start": lastMonth.Start.String(),
		"service_end":   lastMonth.Start.AddMonths(6).String(),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sch := decodeBody[api.ScheduleDTO](t, rec)

	rec = do(t, srv, http.MethodPost, "/api/recognition/run", map[string]any{
		"period_start": lastMonth.Start.String(),
		"period_end":   lastMonth.End.String(),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	entries := decodeBody[[]api.JournalEntryDTO](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, 2500.0, entries[0].Amount)
	assert.Equal(t, "draft", entries[0].Status)

	rec = do(t, srv, http.MethodPost, "/api/recognition/journals/"+entries[0].ID+"/post", map[string]any{
		"actor": "paula",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, srv, http.MethodGet, "/api/recognition/schedules/"+sch.ID+"/journals", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	posted := decodeBody[[]api.JournalEntryDTO](t, rec)
	require.Len(t, posted, 1)
	assert.Equal(t, "posted", posted[0].Status)
}

// =============================================================================
// REPORTS
// =============================================================================

func TestRealizationReport(t *testing.T) {
	srv := newTestServer(t)
	seedTenant(t, srv)
	a := approvedLine(t, srv, "ts-1")

	rec := do(t, srv, http.MethodPost, "/api/wip/"+a+"/adjust", map[string]any{
		"new_value": 2250, "reason": "scope agreed", "actor": "maya", "role": "manager",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/reports/realization", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rows := decodeBody[[]api.RealizationDTO](t, rec)
	require.Len(t, rows, 1)
	assert.Equal(t, 2500.0, rows[0].StandardValue)
	assert.Equal(t, 2250.0, rows[0].BillingValue)
	assert.InDelta(t, 0.9, rows[0].Rate, 0.0001)
}

func TestListRuns_EmptyHistory(t *testing.T) {
	// GIVEN: A fresh server with no background sweeps yet
	// WHEN: Fetching run history
	// THEN: An empty list, not a null

	srv := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/api/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"runs":[]`)
}
