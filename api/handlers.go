/*
handlers.go - HTTP API handlers for the fees engine

PURPOSE:
  Exposes the WIP and billing engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Capture:
    POST   /api/capture                      Submit time/expense/mileage
    POST   /api/capture/{id}/approve         Approve (may escalate)
    POST   /api/capture/{id}/reject          Reject with reason
    POST   /api/capture/{id}/resubmit        Resubmit after rejection

  Engagements and WIP:
    GET    /api/engagements                  List engagements
    GET    /api/engagements/{id}/wip         Unbilled WIP lines
    GET    /api/engagements/{id}/wip/aging   WIP aging report
    POST   /api/wip/{lineID}/adjust          Write-up/down (may need approval)
    POST   /api/wip/{lineID}/writeoff        Write line to zero
    POST   /api/wip/{lineID}/transfer        Move line between engagements
    GET    /api/wip/{lineID}/adjustments     Audit trail

  Locks and approvals:
    POST   /api/locks                        Lock a period
    POST   /api/locks/{id}/override          Request back-dating override
    GET    /api/approvals/pending            Open approval requests
    POST   /api/approvals/{id}/approve       Advance or complete a chain
    POST   /api/approvals/{id}/reject        Reject a request

  Billing:
    POST   /api/packs                        Create billing pack
    POST   /api/packs/{id}/lines             Add line
    DELETE /api/packs/{id}/lines/{lineID}    Remove line
    POST   /api/packs/{id}/submit            Request pack approval
    POST   /api/packs/{id}/approve           Approve pack
    POST   /api/packs/{id}/cancel            Cancel, release reservations
    POST   /api/packs/{id}/invoice           Issue invoice from pack

  Collections:
    GET    /api/invoices                     List invoices
    GET    /api/invoices/aging               AR aging report
    POST   /api/invoices/{id}/payments       Record payment
    POST   /api/invoices/{id}/credit-notes   Issue credit note
    POST   /api/invoices/{id}/dispute        Open dispute (freezes dunning)
    POST   /api/invoices/{id}/dispute/resolve
    POST   /api/collections/run              Run dunning sequence

  Retainers:
    POST   /api/retainers                    Open account
    POST   /api/retainers/{id}/deposits
    POST   /api/retainers/{id}/drawdowns
    POST   /api/retainers/{id}/interest      Accrue monthly interest
    GET    /api/retainers/low-balance        Top-up report

  Recognition:
    POST   /api/recognition/schedules        Open schedule
    POST   /api/recognition/run              Generate draft journals
    POST   /api/recognition/schedules/{id}/trigger   point_in_time event
    GET    /api/recognition/schedules/{id}/journals
    POST   /api/recognition/journals/{id}/post
    POST   /api/recognition/journals/{id}/reverse

  Reports:
    GET    /api/reports/realization          Billing value / standard value
    GET    /api/runs                         Background job run history

  Config:
    POST   /api/config                       Seed tenant from JSON config

TENANCY:
  Every request carries its tenant in the X-Tenant-ID header. Requests
  without one fall back to "default" for single-tenant deployments.

ERROR HANDLING:
  Domain errors map to HTTP status via the sentinel taxonomy:
  - 400: validation, period locks, caps, missing rates or VAT rules
  - 404: missing entities
  - 409: concurrency conflicts (contested WIP lines)
  - 500: everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - scheduler.go: Background recognition and dunning runs
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/praxis/fees-engine/approval"
	"github.com/praxis/fees-engine/billing"
	"github.com/praxis/fees-engine/factory"
	"github.com/praxis/fees-engine/ledger"
	"github.com/praxis/fees-engine/rates"
	"github.com/praxis/fees-engine/recognition"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is the full persistence surface the API needs. Both store/memory
// and store/sqlite satisfy it.
type Store interface {
	ledger.Store
	ledger.RunStore
	rates.Store
	approval.Store
	billing.Store
	recognition.Store
}

// Handler holds the service graph behind the HTTP surface.
type Handler struct {
	Store Store

	Captures    *approval.CaptureService
	Locks       *approval.LockService
	Approvals   *approval.Service
	Wip         *ledger.WIPLedger
	Selector    *billing.Selector
	Poster      *billing.Poster
	Tracker     *billing.Tracker
	Retainers   *billing.RetainerService
	Recognition *recognition.Runner
	Factory     *factory.Factory

	validate *validator.Validate
	log      zerolog.Logger
}

// Options configure the pieces that vary per deployment.
type Options struct {
	Limits  ledger.LimitPolicy
	Chains  approval.ChainResolver
	Fx      billing.FxProvider
	Dunning billing.DunningPolicy
}

// NewHandler wires the full service graph over one store.
func NewHandler(store Store, opts Options, log zerolog.Logger) *Handler {
	if opts.Limits == nil {
		opts.Limits = ledger.StaticLimits{}
	}
	if opts.Chains == nil {
		opts.Chains = approval.DefaultChains
	}
	if opts.Fx == nil {
		opts.Fx = billing.StaticFxTable{}
	}
	if len(opts.Dunning.Steps) == 0 {
		opts.Dunning = billing.DefaultDunningPolicy
	}

	guard := ledger.NewEngagementGuard()
	approvals := approval.NewService(store, opts.Chains)
	locks := approval.NewLockService(store, approvals)
	wip := ledger.NewWIPLedger(store, opts.Limits, guard)

	return &Handler{
		Store: store,
		Captures: &approval.CaptureService{
			Store:     store,
			Rates:     rates.NewResolver(store),
			Wip:       wip,
			Locks:     locks,
			Approvals: approvals,
			Guard:     guard,
		},
		Locks:       locks,
		Approvals:   approvals,
		Wip:         wip,
		Selector:    billing.NewSelector(store, approvals, guard),
		Poster:      billing.NewPoster(store, opts.Fx, guard),
		Tracker:     billing.NewTracker(store, opts.Dunning),
		Retainers:   billing.NewRetainerService(store, guard),
		Recognition: recognition.NewRunner(store, guard),
		Factory:     factory.NewFactory(),
		validate:    validator.New(),
		log:         log,
	}
}

func tenantFrom(r *http.Request) ledger.TenantID {
	if t := r.Header.Get("X-Tenant-ID"); t != "" {
		return ledger.TenantID(t)
	}
	return "default"
}

// decode parses and validates a request body in one step.
func (h *Handler) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return err
	}
	return h.validate.Struct(dst)
}

func parseDate(s string) (ledger.TimePoint, error) {
	if s == "" {
		return ledger.TimePoint{}, nil
	}
	t, err := ledger.ParseTimePoint(s)
	if err != nil {
		return ledger.TimePoint{}, err
	}
	return t, nil
}

// =============================================================================
// CAPTURE HANDLERS
// =============================================================================

// SubmitCapture records and submits a chargeable unit.
func (h *Handler) SubmitCapture(w http.ResponseWriter, r *http.Request) {
	var req SubmitCaptureRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	billable := true
	if req.Billable != nil {
		billable = *req.Billable
	}

	unit, err := h.Captures.SubmitTimeEntry(r.Context(), ledger.CaptureUnit{
		ID:           ledger.CaptureUnitID(req.ID),
		TenantID:     tenantFrom(r),
		EngagementID: ledger.EngagementID(req.EngagementID),
		UserID:       ledger.ActorID(req.UserID),
		RoleID:       req.RoleID,
		Kind:         ledger.CaptureKind(req.Kind),
		Date:         date,
		Quantity:     decimal.NewFromFloat(req.Quantity),
		Category:     req.Category,
		Billable:     billable,
		Narrative:    req.Narrative,
	})
	if err != nil {
		h.writeDomainError(w, err, "Failed to submit capture unit")
		return
	}
	writeJSON(w, http.StatusCreated, toCaptureUnitDTO(*unit))
}

// ApproveCapture approves a submitted unit. On success the unit is
// priced and posted to WIP; large entries escalate instead.
func (h *Handler) ApproveCapture(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	outcome, err := h.Captures.Approve(r.Context(), tenantFrom(r),
		ledger.CaptureUnitID(chi.URLParam(r, "id")), ledger.ActorID(req.Actor), req.Role)
	if err != nil {
		h.writeDomainError(w, err, "Failed to approve capture unit")
		return
	}

	if outcome.WipLine != nil {
		writeJSON(w, http.StatusOK, toWipLineDTO(*outcome.WipLine))
		return
	}
	writeJSON(w, http.StatusAccepted, toApprovalDTO(*outcome.Request))
}

// RejectCapture rejects a submitted unit.
func (h *Handler) RejectCapture(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	unit, err := h.Captures.Reject(r.Context(), tenantFrom(r),
		ledger.CaptureUnitID(chi.URLParam(r, "id")), ledger.ActorID(req.Actor), req.Reason)
	if err != nil {
		h.writeDomainError(w, err, "Failed to reject capture unit")
		return
	}
	writeJSON(w, http.StatusOK, toCaptureUnitDTO(*unit))
}

// ResubmitCapture moves a rejected unit back to submitted.
func (h *Handler) ResubmitCapture(w http.ResponseWriter, r *http.Request) {
	unit, err := h.Captures.Resubmit(r.Context(), tenantFrom(r),
		ledger.CaptureUnitID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, err, "Failed to resubmit capture unit")
		return
	}
	writeJSON(w, http.StatusOK, toCaptureUnitDTO(*unit))
}

// =============================================================================
// ENGAGEMENT AND WIP HANDLERS
// =============================================================================

func (h *Handler) ListEngagements(w http.ResponseWriter, r *http.Request) {
	engs, err := h.Store.ListEngagements(r.Context(), tenantFrom(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list engagements", err)
		return
	}

	dtos := make([]EngagementDTO, len(engs))
	for i, e := range engs {
		dtos[i] = toEngagementDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListWip returns the unbilled WIP lines for an engagement. ?status=
// widens or narrows the filter.
func (h *Handler) ListWip(w http.ResponseWriter, r *http.Request) {
	status := ledger.WipStatus(r.URL.Query().Get("status"))
	if r.URL.Query().Get("status") == "" {
		status = ledger.WipUnbilled
	}
	if r.URL.Query().Get("status") == "all" {
		status = ""
	}

	lines, err := h.Store.ListWipLines(r.Context(), tenantFrom(r),
		ledger.EngagementID(chi.URLParam(r, "id")), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list wip lines", err)
		return
	}

	dtos := make([]WipLineDTO, len(lines))
	for i, l := range lines {
		dtos[i] = toWipLineDTO(l)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// WipAging buckets unbilled value by age in 30/60/90 day bands.
func (h *Handler) WipAging(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r)
	engID := ledger.EngagementID(chi.URLParam(r, "id"))

	eng, err := h.Store.GetEngagement(r.Context(), tenant, engID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get engagement", err)
		return
	}
	if eng == nil {
		writeError(w, http.StatusNotFound, "Engagement not found", nil)
		return
	}

	lines, err := h.Store.ListWipLines(r.Context(), tenant, engID, ledger.WipUnbilled)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list wip lines", err)
		return
	}

	buckets := ledger.AgeWipLines(lines, ledger.Today(), nil, eng.BaseCurrency)
	writeJSON(w, http.StatusOK, toAgingBandDTOs(buckets, func(b ledger.AgingBucket) AgingBandDTO {
		return AgingBandDTO{Label: b.Label, From: b.From, To: b.To, Value: f64(b.Value.Amount), Count: b.Count}
	}))
}

// AdjustWip writes a line up or down. Write-ups and large write-downs
// route through the approval chain instead of applying directly.
func (h *Handler) AdjustWip(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	lineID := ledger.WipLineID(chi.URLParam(r, "lineID"))
	line, err := h.Store.GetWipLine(r.Context(), lineID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get wip line", err)
		return
	}
	if line == nil {
		writeError(w, http.StatusNotFound, "Wip line not found", nil)
		return
	}

	outcome, err := h.Captures.RequestAdjustment(r.Context(), tenantFrom(r), lineID,
		ledger.NewMoney(req.NewValue, line.BillingValue.Currency),
		req.Reason, ledger.ActorID(req.Actor), req.Role)
	if err != nil {
		h.writeDomainError(w, err, "Failed to adjust wip line")
		return
	}

	if outcome.Entry != nil {
		writeJSON(w, http.StatusOK, toAdjustmentDTO(*outcome.Entry))
		return
	}
	writeJSON(w, http.StatusAccepted, toApprovalDTO(*outcome.Request))
}

// WriteOffWip writes a line's billing value to zero.
func (h *Handler) WriteOffWip(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	entry, err := h.Wip.WriteOff(r.Context(), ledger.WipLineID(chi.URLParam(r, "lineID")),
		req.Reason, ledger.ActorID(req.Actor), req.Role)
	if err != nil {
		h.writeDomainError(w, err, "Failed to write off wip line")
		return
	}
	writeJSON(w, http.StatusOK, toAdjustmentDTO(*entry))
}

// TransferWip moves a line between engagements with mirrored entries.
func (h *Handler) TransferWip(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	err := h.Wip.Transfer(r.Context(), ledger.WipLineID(chi.URLParam(r, "lineID")),
		ledger.EngagementID(req.From), ledger.EngagementID(req.To), ledger.ActorID(req.Actor))
	if err != nil {
		h.writeDomainError(w, err, "Failed to transfer wip line")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListAdjustments returns the append-only audit trail for a line.
func (h *Handler) ListAdjustments(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Store.ListAdjustments(r.Context(), ledger.WipLineID(chi.URLParam(r, "lineID")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list adjustments", err)
		return
	}

	dtos := make([]AdjustmentDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toAdjustmentDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// LOCK AND APPROVAL HANDLERS
// =============================================================================

// LockPeriod closes a date range to new capture.
func (h *Handler) LockPeriod(w http.ResponseWriter, r *http.Request) {
	var req LockPeriodRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	start, err := parseDate(req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start date", err)
		return
	}
	end, err := parseDate(req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end date", err)
		return
	}

	lock, err := h.Locks.Lock(r.Context(), tenantFrom(r),
		ledger.Period{Start: start, End: end}, ledger.ActorID(req.Actor))
	if err != nil {
		h.writeDomainError(w, err, "Failed to lock period")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":     lock.ID,
		"start":  lock.Period.Start.String(),
		"end":    lock.Period.End.String(),
		"status": string(lock.Status),
	})
}

// RequestOverride opens an approval request to back-date into a lock.
func (h *Handler) RequestOverride(w http.ResponseWriter, r *http.Request) {
	var req OverrideRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	request, err := h.Locks.RequestOverride(r.Context(), tenantFrom(r),
		chi.URLParam(r, "id"), ledger.CaptureUnitID(req.CaptureUnitID),
		ledger.ActorID(req.Requester), req.Reason)
	if err != nil {
		h.writeDomainError(w, err, "Failed to request override")
		return
	}
	writeJSON(w, http.StatusCreated, toApprovalDTO(*request))
}

func (h *Handler) ListPendingApprovals(w http.ResponseWriter, r *http.Request) {
	requests, err := h.Store.ListPendingApprovals(r.Context(), tenantFrom(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list approvals", err)
		return
	}

	dtos := make([]ApprovalRequestDTO, len(requests))
	for i, req := range requests {
		dtos[i] = toApprovalDTO(req)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ApproveRequest advances an approval chain one step.
func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	request, err := h.Approvals.Approve(r.Context(), tenantFrom(r),
		chi.URLParam(r, "id"), ledger.ActorID(req.Actor), req.Role)
	if err != nil {
		h.writeDomainError(w, err, "Failed to approve request")
		return
	}
	writeJSON(w, http.StatusOK, toApprovalDTO(*request))
}

func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	request, err := h.Approvals.Reject(r.Context(), tenantFrom(r),
		chi.URLParam(r, "id"), ledger.ActorID(req.Actor), req.Reason)
	if err != nil {
		h.writeDomainError(w, err, "Failed to reject request")
		return
	}
	writeJSON(w, http.StatusOK, toApprovalDTO(*request))
}

// =============================================================================
// BILLING PACK HANDLERS
// =============================================================================

// CreatePack reserves WIP lines into a draft billing pack. Contested
// lines return 409 with the conflicting IDs.
func (h *Handler) CreatePack(w http.ResponseWriter, r *http.Request) {
	var req CreatePackRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	lineIDs := make([]ledger.WipLineID, len(req.LineIDs))
	for i, id := range req.LineIDs {
		lineIDs[i] = ledger.WipLineID(id)
	}

	pack, err := h.Selector.CreateBillingPack(r.Context(), tenantFrom(r),
		ledger.EngagementID(req.EngagementID), lineIDs, ledger.ActorID(req.Actor))
	if err != nil {
		h.writeDomainError(w, err, "Failed to create billing pack")
		return
	}
	writeJSON(w, http.StatusCreated, toPackDTO(*pack))
}

func (h *Handler) AddPackLine(w http.ResponseWriter, r *http.Request) {
	var req PackLineRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	pack, err := h.Selector.AddLine(r.Context(), tenantFrom(r),
		chi.URLParam(r, "id"), ledger.WipLineID(req.LineID))
	if err != nil {
		h.writeDomainError(w, err, "Failed to add line")
		return
	}
	writeJSON(w, http.StatusOK, toPackDTO(*pack))
}

func (h *Handler) RemovePackLine(w http.ResponseWriter, r *http.Request) {
	pack, err := h.Selector.RemoveLine(r.Context(), tenantFrom(r),
		chi.URLParam(r, "id"), ledger.WipLineID(chi.URLParam(r, "lineID")))
	if err != nil {
		h.writeDomainError(w, err, "Failed to remove line")
		return
	}
	writeJSON(w, http.StatusOK, toPackDTO(*pack))
}

// SubmitPack routes the pack through its approval chain.
func (h *Handler) SubmitPack(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	pack, err := h.Selector.RequestApproval(r.Context(), tenantFrom(r),
		chi.URLParam(r, "id"), ledger.ActorID(req.Actor))
	if err != nil {
		h.writeDomainError(w, err, "Failed to submit billing pack")
		return
	}
	writeJSON(w, http.StatusOK, toPackDTO(*pack))
}

func (h *Handler) ApprovePack(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	pack, err := h.Selector.ApprovePack(r.Context(), tenantFrom(r),
		chi.URLParam(r, "id"), ledger.ActorID(req.Actor), req.Role)
	if err != nil {
		h.writeDomainError(w, err, "Failed to approve billing pack")
		return
	}
	writeJSON(w, http.StatusOK, toPackDTO(*pack))
}

func (h *Handler) CancelPack(w http.ResponseWriter, r *http.Request) {
	pack, err := h.Selector.Cancel(r.Context(), tenantFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err, "Failed to cancel billing pack")
		return
	}
	writeJSON(w, http.StatusOK, toPackDTO(*pack))
}

// IssueInvoice converts an approved pack into an issued invoice.
func (h *Handler) IssueInvoice(w http.ResponseWriter, r *http.Request) {
	var req IssueInvoiceRequest
	if r.ContentLength > 0 {
		if err := h.decode(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	issueDate, err := parseDate(req.IssueDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid issue date", err)
		return
	}

	inv, err := h.Poster.Issue(r.Context(), tenantFrom(r), chi.URLParam(r, "id"),
		billing.IssueOptions{Currency: req.Currency, IssueDate: issueDate})
	if err != nil {
		h.writeDomainError(w, err, "Failed to issue invoice")
		return
	}
	writeJSON(w, http.StatusCreated, toInvoiceDTO(*inv))
}

// =============================================================================
// COLLECTIONS HANDLERS
// =============================================================================

func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := h.Store.ListInvoices(r.Context(), tenantFrom(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list invoices", err)
		return
	}

	dtos := make([]InvoiceDTO, len(invoices))
	for i, inv := range invoices {
		dtos[i] = toInvoiceDTO(inv)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// InvoiceAging buckets open receivables into 0-30/31-60/61-90/90+ bands.
func (h *Handler) InvoiceAging(w http.ResponseWriter, r *http.Request) {
	currency := r.URL.Query().Get("currency")
	if currency == "" {
		currency = "GBP"
	}

	invoices, err := h.Store.ListInvoices(r.Context(), tenantFrom(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list invoices", err)
		return
	}

	bands := billing.AgeInvoices(invoices, ledger.Today(), currency)
	writeJSON(w, http.StatusOK, toAgingBandDTOs(bands, func(b billing.ARAgingBand) AgingBandDTO {
		return AgingBandDTO{Label: b.Label, From: b.From, To: b.To, Value: f64(b.Value.Amount), Count: b.Count}
	}))
}

// RecordPayment applies a client payment to an invoice.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid payment date", err)
		return
	}
	if date.IsZero() {
		date = ledger.Today()
	}

	tx, err := h.Poster.RecordPayment(r.Context(), tenantFrom(r),
		chi.URLParam(r, "id"), ledger.NewMoney(req.Amount, req.Currency), date)
	if err != nil {
		h.writeDomainError(w, err, "Failed to record payment")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         tx.ID,
		"invoice_id": tx.InvoiceID,
		"amount":     f64(tx.Amount.Amount),
		"currency":   tx.Amount.Currency,
		"date":       tx.Date.String(),
	})
}

// IssueCreditNote credits part of an issued invoice.
func (h *Handler) IssueCreditNote(w http.ResponseWriter, r *http.Request) {
	var req CreditNoteRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	note, err := h.Poster.IssueCreditNote(r.Context(), tenantFrom(r),
		chi.URLParam(r, "id"), ledger.NewMoney(req.Amount, req.Currency),
		req.Reason, ledger.ActorID(req.Actor))
	if err != nil {
		h.writeDomainError(w, err, "Failed to issue credit note")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         note.ID,
		"invoice_id": note.InvoiceID,
		"amount":     f64(note.Amount.Amount),
		"currency":   note.Amount.Currency,
		"reason":     note.Reason,
	})
}

// DisputeInvoice freezes dunning escalation for an invoice.
func (h *Handler) DisputeInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.Tracker.Dispute(r.Context(), tenantFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err, "Failed to dispute invoice")
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(*inv))
}

func (h *Handler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	inv, err := h.Tracker.ResolveDispute(r.Context(), tenantFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err, "Failed to resolve dispute")
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(*inv))
}

// RunDunning fires due reminder steps. Safe to call repeatedly; steps
// already sent are skipped.
func (h *Handler) RunDunning(w http.ResponseWriter, r *http.Request) {
	events, err := h.Tracker.RunDunning(r.Context(), tenantFrom(r), ledger.Today())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to run dunning", err)
		return
	}

	dtos := make([]DunningEventDTO, len(events))
	for i, e := range events {
		dtos[i] = toDunningEventDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// RETAINER HANDLERS
// =============================================================================

func (h *Handler) OpenRetainer(w http.ResponseWriter, r *http.Request) {
	var req OpenRetainerRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	account, err := h.Retainers.Open(r.Context(), tenantFrom(r),
		ledger.EngagementID(req.EngagementID),
		ledger.NewMoney(req.Target, req.Currency),
		ledger.NewMoney(req.LowThreshold, req.Currency),
		decimal.NewFromFloat(req.AnnualRate))
	if err != nil {
		h.writeDomainError(w, err, "Failed to open retainer")
		return
	}
	writeJSON(w, http.StatusCreated, toRetainerDTO(*account))
}

func (h *Handler) DepositRetainer(w http.ResponseWriter, r *http.Request) {
	var req RetainerMoveRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	account, err := h.Retainers.Deposit(r.Context(), tenantFrom(r),
		chi.URLParam(r, "id"), ledger.NewMoney(req.Amount, req.Currency), req.Memo)
	if err != nil {
		h.writeDomainError(w, err, "Failed to deposit")
		return
	}
	writeJSON(w, http.StatusOK, toRetainerDTO(*account))
}

func (h *Handler) DrawdownRetainer(w http.ResponseWriter, r *http.Request) {
	var req RetainerMoveRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	account, err := h.Retainers.Drawdown(r.Context(), tenantFrom(r),
		chi.URLParam(r, "id"), ledger.NewMoney(req.Amount, req.Currency),
		req.InvoiceID, req.Memo)
	if err != nil {
		h.writeDomainError(w, err, "Failed to draw down")
		return
	}
	writeJSON(w, http.StatusOK, toRetainerDTO(*account))
}

func (h *Handler) AccrueRetainerInterest(w http.ResponseWriter, r *http.Request) {
	account, err := h.Retainers.AccrueInterest(r.Context(), tenantFrom(r),
		chi.URLParam(r, "id"), ledger.Today())
	if err != nil {
		h.writeDomainError(w, err, "Failed to accrue interest")
		return
	}
	writeJSON(w, http.StatusOK, toRetainerDTO(*account))
}

// LowBalanceReport lists retainers under their threshold with the
// top-up needed to restore the target.
func (h *Handler) LowBalanceReport(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Retainers.LowBalanceReport(r.Context(), tenantFrom(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build report", err)
		return
	}

	type entryDTO struct {
		Account RetainerDTO `json:"account"`
		TopUp   float64     `json:"top_up"`
	}
	dtos := make([]entryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = entryDTO{Account: toRetainerDTO(e.Account), TopUp: f64(e.TopUp.Amount)}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// RECOGNITION HANDLERS
// =============================================================================

func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req CreateScheduleRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	start, err := parseDate(req.ServiceStart)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid service_start", err)
		return
	}
	end, err := parseDate(req.ServiceEnd)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid service_end", err)
		return
	}

	sch, err := h.Recognition.CreateSchedule(r.Context(), tenantFrom(r),
		ledger.EngagementID(req.EngagementID), ledger.RecognitionMethod(req.Method),
		ledger.NewMoney(req.TotalAmount, req.Currency),
		ledger.Period{Start: start, End: end})
	if err != nil {
		h.writeDomainError(w, err, "Failed to create schedule")
		return
	}
	writeJSON(w, http.StatusCreated, toScheduleDTO(*sch))
}

// RunRecognition generates draft journals for one period across every
// active schedule.
func (h *Handler) RunRecognition(w http.ResponseWriter, r *http.Request) {
	var req RunRecognitionRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	start, err := parseDate(req.PeriodStart)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period_start", err)
		return
	}
	end, err := parseDate(req.PeriodEnd)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period_end", err)
		return
	}
	asOf, err := parseDate(req.AsOf)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of", err)
		return
	}
	if asOf.IsZero() {
		asOf = ledger.Today()
	}

	entries, err := h.Recognition.Run(r.Context(), tenantFrom(r),
		ledger.Period{Start: start, End: end}, asOf)
	if err != nil {
		h.writeDomainError(w, err, "Failed to run recognition")
		return
	}

	dtos := make([]JournalEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toJournalDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// TriggerSchedule recognizes the full remaining amount on a
// point-in-time schedule.
func (h *Handler) TriggerSchedule(w http.ResponseWriter, r *http.Request) {
	entry, err := h.Recognition.Trigger(r.Context(), tenantFrom(r),
		chi.URLParam(r, "id"), ledger.Today())
	if err != nil {
		h.writeDomainError(w, err, "Failed to trigger schedule")
		return
	}
	writeJSON(w, http.StatusCreated, toJournalDTO(*entry))
}

func (h *Handler) ListJournals(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Store.ListJournalEntries(r.Context(), tenantFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list journals", err)
		return
	}

	dtos := make([]JournalEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toJournalDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// PostJournal moves a draft journal to posted and advances the
// schedule's recognized-to-date.
func (h *Handler) PostJournal(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	entry, err := h.Recognition.Post(r.Context(), tenantFrom(r),
		chi.URLParam(r, "id"), ledger.ActorID(req.Actor))
	if err != nil {
		h.writeDomainError(w, err, "Failed to post journal")
		return
	}
	writeJSON(w, http.StatusOK, toJournalDTO(*entry))
}

// ReverseJournal creates the mirror entry for a posted journal.
func (h *Handler) ReverseJournal(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	entry, err := h.Recognition.Reverse(r.Context(), tenantFrom(r),
		chi.URLParam(r, "id"), ledger.ActorID(req.Actor))
	if err != nil {
		h.writeDomainError(w, err, "Failed to reverse journal")
		return
	}
	writeJSON(w, http.StatusCreated, toJournalDTO(*entry))
}

// =============================================================================
// REPORTS
// =============================================================================

// RealizationReport sums billing over standard value per engagement.
func (h *Handler) RealizationReport(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r)
	engs, err := h.Store.ListEngagements(r.Context(), tenant)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list engagements", err)
		return
	}

	var dtos []RealizationDTO
	for _, eng := range engs {
		lines, err := h.Store.ListWipLines(r.Context(), tenant, eng.ID, "")
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to list wip lines", err)
			return
		}

		std := decimal.Zero
		bill := decimal.Zero
		for _, l := range lines {
			std = std.Add(l.StandardValue.Amount)
			bill = bill.Add(l.BillingValue.Amount)
		}

		dto := RealizationDTO{
			EngagementID:  string(eng.ID),
			StandardValue: f64(std),
			BillingValue:  f64(bill),
		}
		if !std.IsZero() {
			dto.Rate = f64(bill.Div(std))
		}
		dtos = append(dtos, dto)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// SCHEDULER RUNS
// =============================================================================

// ListRuns returns background job run history, newest first.
// GET /api/runs?job=dunning|recognition
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	job := r.URL.Query().Get("job")

	runs, err := h.Store.ListRunRecords(r.Context(), tenantFrom(r), job)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}

	type RunDTO struct {
		ID          string `json:"id"`
		Job         string `json:"job"`
		PeriodStart string `json:"period_start"`
		PeriodEnd   string `json:"period_end"`
		Status      string `json:"status"`
		Items       int    `json:"items"`
		Error       string `json:"error,omitempty"`
		StartedAt   string `json:"started_at"`
		CompletedAt string `json:"completed_at,omitempty"`
	}

	dtos := make([]RunDTO, 0, len(runs))
	for _, run := range runs {
		dto := RunDTO{
			ID:          run.ID,
			Job:         run.Job,
			PeriodStart: run.Period.Start.String(),
			PeriodEnd:   run.Period.End.String(),
			Status:      string(run.Status),
			Items:       run.Items,
			Error:       run.Error,
			StartedAt:   run.StartedAt.Format(time.RFC3339),
		}
		if run.CompletedAt != nil {
			dto.CompletedAt = run.CompletedAt.Format(time.RFC3339)
		}
		dtos = append(dtos, dto)
	}

	writeJSON(w, http.StatusOK, map[string]any{"runs": dtos})
}

// =============================================================================
// CONFIG
// =============================================================================

// LoadConfig parses a tenant configuration document and seeds the store
// with its engagements, rates, price rules and VAT rules.
func (h *Handler) LoadConfig(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	tenant := tenantFrom(r)
	cfg, err := h.Factory.Parse(tenant, string(raw))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid configuration", err)
		return
	}

	if err := h.Factory.Seed(r.Context(), cfg, h.Store, h.Store); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to seed configuration", err)
		return
	}

	h.log.Info().
		Str("tenant", string(tenant)).
		Int("engagements", len(cfg.Engagements)).
		Int("rate_definitions", len(cfg.RateDefinitions)).
		Int("vat_rules", len(cfg.VatRules)).
		Msg("tenant configuration loaded")

	writeJSON(w, http.StatusCreated, map[string]any{
		"engagements":      len(cfg.Engagements),
		"rate_definitions": len(cfg.RateDefinitions),
		"price_rules":      len(cfg.PriceRules),
		"vat_rules":        len(cfg.VatRules),
	})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the error taxonomy onto HTTP status codes.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error, message string) {
	switch {
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, ledger.ErrConcurrencyConflict):
		writeError(w, http.StatusConflict, message, err)
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		h.log.Error().Err(err).Msg(message)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
