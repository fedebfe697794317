/*
dto.go - Data transfer objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts cross the wire as JSON numbers and are converted to decimals at
  the boundary. Internal arithmetic never touches float64.

VALIDATION:
  Request types carry validator struct tags; handlers run the shared
  validator before touching domain logic.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/config.go: ConfigJSON for tenant seeding
*/
package api

import (
	"time"

	"github.com/praxis/fees-engine/approval"
	"github.com/praxis/fees-engine/billing"
	"github.com/praxis/fees-engine/ledger"
	"github.com/praxis/fees-engine/recognition"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// SubmitCaptureRequest records a time, expense, disbursement or mileage
// unit. Quantity is hours for time, miles for mileage and a monetary
// amount otherwise.
type SubmitCaptureRequest struct {
	ID           string  `json:"id"`
	EngagementID string  `json:"engagement_id" validate:"required"`
	UserID       string  `json:"user_id" validate:"required"`
	RoleID       string  `json:"role_id"`
	Kind         string  `json:"kind" validate:"required,oneof=time expense disbursement mileage"`
	Date         string  `json:"date" validate:"required"`
	Quantity     float64 `json:"quantity" validate:"required,gt=0"`
	Category     string  `json:"category"`
	Billable     *bool   `json:"billable,omitempty"`
	Narrative    string  `json:"narrative"`
}

// DecisionRequest carries the actor for approve/reject style endpoints.
type DecisionRequest struct {
	Actor  string `json:"actor" validate:"required"`
	Role   string `json:"role"`
	Reason string `json:"reason"`
}

// AdjustmentRequest moves a WIP line to a new billing value.
type AdjustmentRequest struct {
	NewValue float64 `json:"new_value" validate:"gte=0"`
	Reason   string  `json:"reason" validate:"required"`
	Actor    string  `json:"actor" validate:"required"`
	Role     string  `json:"role"`
}

// TransferRequest moves a WIP line between engagements.
type TransferRequest struct {
	From  string `json:"from" validate:"required"`
	To    string `json:"to" validate:"required"`
	Actor string `json:"actor" validate:"required"`
}

// LockPeriodRequest closes an accounting period.
type LockPeriodRequest struct {
	Start string `json:"start" validate:"required"`
	End   string `json:"end" validate:"required"`
	Actor string `json:"actor" validate:"required"`
}

// OverrideRequest asks for a back-dated entry into a locked period.
type OverrideRequest struct {
	CaptureUnitID string `json:"capture_unit_id" validate:"required"`
	Requester     string `json:"requester" validate:"required"`
	Reason        string `json:"reason" validate:"required"`
}

// CreatePackRequest selects unbilled WIP lines into a billing pack.
type CreatePackRequest struct {
	EngagementID string   `json:"engagement_id" validate:"required"`
	LineIDs      []string `json:"line_ids" validate:"required,min=1"`
	Actor        string   `json:"actor" validate:"required"`
}

// PackLineRequest adds or removes a single line.
type PackLineRequest struct {
	LineID string `json:"line_id" validate:"required"`
}

// IssueInvoiceRequest converts an approved pack into an invoice.
type IssueInvoiceRequest struct {
	Currency  string `json:"currency,omitempty"`
	IssueDate string `json:"issue_date,omitempty"`
}

// PaymentRequest records a client payment against an invoice.
type PaymentRequest struct {
	Amount   float64 `json:"amount" validate:"required,gt=0"`
	Currency string  `json:"currency" validate:"required,len=3"`
	Date     string  `json:"date"`
}

// CreditNoteRequest credits part or all of an issued invoice.
type CreditNoteRequest struct {
	Amount   float64 `json:"amount" validate:"required,gt=0"`
	Currency string  `json:"currency" validate:"required,len=3"`
	Reason   string  `json:"reason" validate:"required"`
	Actor    string  `json:"actor" validate:"required"`
}

// OpenRetainerRequest opens a retainer account for an engagement.
type OpenRetainerRequest struct {
	EngagementID string  `json:"engagement_id" validate:"required"`
	Target       float64 `json:"target" validate:"required,gt=0"`
	LowThreshold float64 `json:"low_threshold" validate:"gte=0"`
	Currency     string  `json:"currency" validate:"required,len=3"`
	AnnualRate   float64 `json:"annual_rate" validate:"gte=0"`
}

// RetainerMoveRequest deposits into or draws down from a retainer.
type RetainerMoveRequest struct {
	Amount    float64 `json:"amount" validate:"required,gt=0"`
	Currency  string  `json:"currency" validate:"required,len=3"`
	InvoiceID string  `json:"invoice_id,omitempty"`
	Memo      string  `json:"memo"`
}

// CreateScheduleRequest opens a revenue recognition schedule.
type CreateScheduleRequest struct {
	EngagementID string  `json:"engagement_id" validate:"required"`
	Method       string  `json:"method" validate:"required,oneof=point_in_time over_time_by_input over_service_period"`
	TotalAmount  float64 `json:"total_amount" validate:"required,gt=0"`
	Currency     string  `json:"currency" validate:"required,len=3"`
	ServiceStart string  `json:"service_start,omitempty"`
	ServiceEnd   string  `json:"service_end,omitempty"`
}

// RunRecognitionRequest generates draft journals for one period.
type RunRecognitionRequest struct {
	PeriodStart string `json:"period_start" validate:"required"`
	PeriodEnd   string `json:"period_end" validate:"required"`
	AsOf        string `json:"as_of,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

type EngagementDTO struct {
	ID            string  `json:"id"`
	ClientID      string  `json:"client_id"`
	Name          string  `json:"name"`
	BaseCurrency  string  `json:"base_currency"`
	BudgetHours   float64 `json:"budget_hours"`
	BudgetValue   float64 `json:"budget_value"`
	CapPolicy     string  `json:"cap_policy"`
	FeeCap        float64 `json:"fee_cap"`
	Recognition   string  `json:"recognition"`
	Status        string  `json:"status"`
}

type CaptureUnitDTO struct {
	ID           string  `json:"id"`
	EngagementID string  `json:"engagement_id"`
	UserID       string  `json:"user_id"`
	Kind         string  `json:"kind"`
	Date         string  `json:"date"`
	Quantity     float64 `json:"quantity"`
	Category     string  `json:"category,omitempty"`
	Billable     bool    `json:"billable"`
	Narrative    string  `json:"narrative,omitempty"`
	Status       string  `json:"status"`
	WipLineID    string  `json:"wip_line_id,omitempty"`
}

type WipLineDTO struct {
	ID            string  `json:"id"`
	EngagementID  string  `json:"engagement_id"`
	CaptureUnitID string  `json:"capture_unit_id"`
	Kind          string  `json:"kind"`
	Quantity      float64 `json:"quantity"`
	StandardValue float64 `json:"standard_value"`
	BillingValue  float64 `json:"billing_value"`
	Currency      string  `json:"currency"`
	Status        string  `json:"status"`
	PostedAt      string  `json:"posted_at"`
	Realization   float64 `json:"realization"`
}

type AdjustmentDTO struct {
	ID        string  `json:"id"`
	WipLineID string  `json:"wip_line_id"`
	Kind      string  `json:"kind"`
	Delta     float64 `json:"delta"`
	Currency  string  `json:"currency"`
	Reason    string  `json:"reason,omitempty"`
	Actor     string  `json:"actor"`
	CreatedAt string  `json:"created_at"`
}

type ApprovalRequestDTO struct {
	ID        string `json:"id"`
	Subject   string `json:"subject"`
	SubjectID string `json:"subject_id"`
	Requester string `json:"requester"`
	NextStep  int    `json:"next_step"`
	ChainLen  int    `json:"chain_len"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

type BillingPackDTO struct {
	ID            string   `json:"id"`
	EngagementID  string   `json:"engagement_id"`
	LineIDs       []string `json:"line_ids"`
	SelectedValue float64  `json:"selected_value"`
	Currency      string   `json:"currency"`
	CapStatus     string   `json:"cap_status"`
	Status        string   `json:"status"`
}

type InvoiceDTO struct {
	ID           string  `json:"id"`
	EngagementID string  `json:"engagement_id"`
	PackID       string  `json:"pack_id"`
	Currency     string  `json:"currency"`
	FxRate       float64 `json:"fx_rate"`
	Subtotal     float64 `json:"subtotal"`
	VatCode      string  `json:"vat_code"`
	VatRate      float64 `json:"vat_rate"`
	VatAmount    float64 `json:"vat_amount"`
	Total        float64 `json:"total"`
	Status       string  `json:"status"`
	IssuedAt     string  `json:"issued_at"`
	DueDate      string  `json:"due_date"`
}

type AgingBandDTO struct {
	Label string  `json:"label"`
	From  int     `json:"from"`
	To    int     `json:"to"`
	Value float64 `json:"value"`
	Count int     `json:"count"`
}

type DunningEventDTO struct {
	InvoiceID string `json:"invoice_id"`
	Step      string `json:"step"`
	SentAt    string `json:"sent_at"`
}

type RetainerDTO struct {
	ID           string  `json:"id"`
	EngagementID string  `json:"engagement_id"`
	Balance      float64 `json:"balance"`
	Target       float64 `json:"target"`
	LowThreshold float64 `json:"low_threshold"`
	Currency     string  `json:"currency"`
	Low          bool    `json:"low"`
}

type ScheduleDTO struct {
	ID               string  `json:"id"`
	EngagementID     string  `json:"engagement_id"`
	Method           string  `json:"method"`
	TotalAmount      float64 `json:"total_amount"`
	RecognizedToDate float64 `json:"recognized_to_date"`
	Currency         string  `json:"currency"`
	Status           string  `json:"status"`
}

type JournalEntryDTO struct {
	ID            string  `json:"id"`
	ScheduleID    string  `json:"schedule_id"`
	PeriodStart   string  `json:"period_start"`
	PeriodEnd     string  `json:"period_end"`
	DebitAccount  string  `json:"debit_account"`
	CreditAccount string  `json:"credit_account"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	Status        string  `json:"status"`
	Reverses      string  `json:"reverses,omitempty"`
	Reversed      bool    `json:"reversed"`
}

// RealizationDTO is billing value over standard value per engagement.
type RealizationDTO struct {
	EngagementID  string  `json:"engagement_id"`
	StandardValue float64 `json:"standard_value"`
	BillingValue  float64 `json:"billing_value"`
	Rate          float64 `json:"rate"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func f64(d interface{ InexactFloat64() float64 }) float64 {
	return d.InexactFloat64()
}

func toEngagementDTO(e ledger.Engagement) EngagementDTO {
	return EngagementDTO{
		ID:           string(e.ID),
		ClientID:     e.ClientID,
		Name:         e.Name,
		BaseCurrency: e.BaseCurrency,
		BudgetHours:  f64(e.BudgetHours),
		BudgetValue:  f64(e.BudgetValue.Amount),
		CapPolicy:    string(e.CapPolicy),
		FeeCap:       f64(e.FeeCap.Amount),
		Recognition:  string(e.Recognition),
		Status:       string(e.Status),
	}
}

func toCaptureUnitDTO(u ledger.CaptureUnit) CaptureUnitDTO {
	dto := CaptureUnitDTO{
		ID:           string(u.ID),
		EngagementID: string(u.EngagementID),
		UserID:       string(u.UserID),
		Kind:         string(u.Kind),
		Date:         u.Date.String(),
		Quantity:     f64(u.Quantity),
		Category:     u.Category,
		Billable:     u.Billable,
		Narrative:    u.Narrative,
		Status:       string(u.Status),
	}
	if u.WipLineID != nil {
		dto.WipLineID = string(*u.WipLineID)
	}
	return dto
}

func toWipLineDTO(l ledger.WipLine) WipLineDTO {
	return WipLineDTO{
		ID:            string(l.ID),
		EngagementID:  string(l.EngagementID),
		CaptureUnitID: string(l.CaptureUnitID),
		Kind:          string(l.Kind),
		Quantity:      f64(l.Quantity),
		StandardValue: f64(l.StandardValue.Amount),
		BillingValue:  f64(l.BillingValue.Amount),
		Currency:      l.BillingValue.Currency,
		Status:        string(l.Status),
		PostedAt:      l.PostedAt.String(),
		Realization:   f64(l.RealizationRate()),
	}
}

func toAdjustmentDTO(e ledger.AdjustmentEntry) AdjustmentDTO {
	return AdjustmentDTO{
		ID:        e.ID,
		WipLineID: string(e.WipLineID),
		Kind:      string(e.Kind),
		Delta:     f64(e.Delta.Amount),
		Currency:  e.Delta.Currency,
		Reason:    e.Reason,
		Actor:     string(e.Actor),
		CreatedAt: e.CreatedAt.String(),
	}
}

func toApprovalDTO(r approval.Request) ApprovalRequestDTO {
	return ApprovalRequestDTO{
		ID:        r.ID,
		Subject:   string(r.Subject),
		SubjectID: r.SubjectID,
		Requester: string(r.Requester),
		NextStep:  r.NextStep,
		ChainLen:  len(r.Chain),
		Status:    string(r.Status),
		Reason:    r.Reason,
	}
}

func toPackDTO(p billing.BillingPack) BillingPackDTO {
	lineIDs := make([]string, len(p.LineIDs))
	for i, id := range p.LineIDs {
		lineIDs[i] = string(id)
	}
	return BillingPackDTO{
		ID:            p.ID,
		EngagementID:  string(p.EngagementID),
		LineIDs:       lineIDs,
		SelectedValue: f64(p.SelectedValue.Amount),
		Currency:      p.SelectedValue.Currency,
		CapStatus:     string(p.CapStatus),
		Status:        string(p.Status),
	}
}

func toInvoiceDTO(inv billing.Invoice) InvoiceDTO {
	return InvoiceDTO{
		ID:           inv.ID,
		EngagementID: string(inv.EngagementID),
		PackID:       inv.PackID,
		Currency:     inv.Currency,
		FxRate:       f64(inv.FxRate),
		Subtotal:     f64(inv.Subtotal.Amount),
		VatCode:      inv.VatCode,
		VatRate:      f64(inv.VatRate),
		VatAmount:    f64(inv.VatAmount.Amount),
		Total:        f64(inv.Total.Amount),
		Status:       string(inv.Status),
		IssuedAt:     inv.IssuedAt.String(),
		DueDate:      inv.DueDate.String(),
	}
}

func toDunningEventDTO(e billing.DunningEvent) DunningEventDTO {
	return DunningEventDTO{
		InvoiceID: e.InvoiceID,
		Step:      e.Step,
		SentAt:    e.SentAt.Format(time.RFC3339),
	}
}

func toRetainerDTO(a billing.RetainerAccount) RetainerDTO {
	return RetainerDTO{
		ID:           a.ID,
		EngagementID: string(a.EngagementID),
		Balance:      f64(a.Balance.Amount),
		Target:       f64(a.Target.Amount),
		LowThreshold: f64(a.LowThreshold.Amount),
		Currency:     a.Balance.Currency,
		Low:          a.IsLow(),
	}
}

func toScheduleDTO(s recognition.Schedule) ScheduleDTO {
	return ScheduleDTO{
		ID:               s.ID,
		EngagementID:     string(s.EngagementID),
		Method:           string(s.Method),
		TotalAmount:      f64(s.TotalAmount.Amount),
		RecognizedToDate: f64(s.RecognizedToDate.Amount),
		Currency:         s.TotalAmount.Currency,
		Status:           string(s.Status),
	}
}

func toJournalDTO(e recognition.JournalEntry) JournalEntryDTO {
	return JournalEntryDTO{
		ID:            e.ID,
		ScheduleID:    e.ScheduleID,
		PeriodStart:   e.Period.Start.String(),
		PeriodEnd:     e.Period.End.String(),
		DebitAccount:  e.DebitAccount,
		CreditAccount: e.CreditAccount,
		Amount:        f64(e.Amount.Amount),
		Currency:      e.Amount.Currency,
		Status:        string(e.Status),
		Reverses:      e.Reverses,
		Reversed:      e.Reversed,
	}
}

func toAgingBandDTOs[T any](bands []T, conv func(T) AgingBandDTO) []AgingBandDTO {
	out := make([]AgingBandDTO, len(bands))
	for i, b := range bands {
		out[i] = conv(b)
	}
	return out
}
