/*
schedule.go - Revenue recognition schedules

PURPOSE:
  Recognizes engagement revenue over time, independent of invoicing.
  Three methods:

    point_in_time       - full remaining amount on an explicit trigger
    over_time_by_input  - totalAmount x (periodInputHours / budgetHours)
    over_service_period - totalAmount x (elapsedDays / serviceDays)

  Every computed amount is clamped so cumulative recognized never exceeds
  totalAmount, however far elapsed time or input hours overrun.

OUTPUT:
  Each run produces Draft journal entries (debit deferred revenue, credit
  revenue). A controller posts them explicitly; see journal.go.
*/
package recognition

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/praxis/fees-engine/ledger"
)

// =============================================================================
// SCHEDULE
// =============================================================================

type ScheduleStatus string

const (
	ScheduleActive   ScheduleStatus = "active"
	ScheduleComplete ScheduleStatus = "complete"
)

// Schedule drives recognition for one engagement. RecognizedToDate is
// updated only when a journal entry posts, inside the same transaction.
type Schedule struct {
	ID           string
	TenantID     ledger.TenantID
	EngagementID ledger.EngagementID

	Method           ledger.RecognitionMethod
	TotalAmount      ledger.Money
	RecognizedToDate ledger.Money

	// ServicePeriod bounds the over-service-period method and scopes
	// input hours for over-time-by-input.
	ServicePeriod ledger.Period

	Status    ScheduleStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s Schedule) Remaining() ledger.Money {
	return s.TotalAmount.Sub(s.RecognizedToDate)
}

// clamp caps an amount so cumulative recognized never exceeds the total.
func (s Schedule) clamp(amount ledger.Money) ledger.Money {
	remaining := s.Remaining()
	if amount.GreaterThan(remaining) {
		return remaining
	}
	return amount
}

// =============================================================================
// RUNNER
// =============================================================================

type Runner struct {
	Store Store
	Guard *ledger.EngagementGuard
}

func NewRunner(store Store, guard *ledger.EngagementGuard) *Runner {
	return &Runner{Store: store, Guard: guard}
}

// CreateSchedule opens an active schedule for an engagement.
func (r *Runner) CreateSchedule(ctx context.Context, tenant ledger.TenantID, engagementID ledger.EngagementID, method ledger.RecognitionMethod, total ledger.Money, servicePeriod ledger.Period) (*Schedule, error) {
	eng, err := r.Store.GetEngagement(ctx, tenant, engagementID)
	if err != nil {
		return nil, err
	}
	if eng == nil {
		return nil, ledger.ErrEngagementNotFound
	}
	if !total.IsPositive() {
		return nil, fmt.Errorf("total amount must be positive: %w", ledger.ErrValidation)
	}
	if method == ledger.MethodOverServicePeriod && !servicePeriod.IsValid() {
		return nil, fmt.Errorf("service period required for %s: %w", method, ledger.ErrValidation)
	}

	now := time.Now().UTC()
	s := &Schedule{
		ID:               ledger.NewID("sch"),
		TenantID:         tenant,
		EngagementID:     engagementID,
		Method:           method,
		TotalAmount:      total,
		RecognizedToDate: total.Zero(),
		ServicePeriod:    servicePeriod,
		Status:           ScheduleActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := r.Store.SaveSchedule(ctx, *s); err != nil {
		return nil, err
	}
	return s, nil
}

// Run computes the recognizable amount for each active schedule over the
// period and emits Draft journal entries. Point-in-time schedules are
// skipped here; they recognize via Trigger. A schedule that already has a
// non-reversed entry for the period is skipped, so re-running a period is
// a no-op.
func (r *Runner) Run(ctx context.Context, tenant ledger.TenantID, period ledger.Period, today ledger.TimePoint) ([]JournalEntry, error) {
	schedules, err := r.Store.ListSchedules(ctx, tenant)
	if err != nil {
		return nil, err
	}

	var drafts []JournalEntry
	for _, s := range schedules {
		if s.Status != ScheduleActive || s.Method == ledger.MethodPointInTime {
			continue
		}
		done, err := r.hasEntryForPeriod(ctx, tenant, s.ID, period)
		if err != nil {
			return drafts, err
		}
		if done {
			continue
		}

		amount, err := r.recognizable(ctx, tenant, s, period, today)
		if err != nil {
			return drafts, err
		}
		amount = s.clamp(amount)
		if !amount.IsPositive() {
			continue
		}

		entry := newDraftEntry(s, period, amount)
		if err := r.Store.SaveJournalEntry(ctx, entry); err != nil {
			return drafts, err
		}
		drafts = append(drafts, entry)
	}
	return drafts, nil
}

// Trigger recognizes the full remaining amount of a point-in-time
// schedule, on its trigger event (milestone completion).
func (r *Runner) Trigger(ctx context.Context, tenant ledger.TenantID, scheduleID string, date ledger.TimePoint) (*JournalEntry, error) {
	s, err := r.Store.GetSchedule(ctx, tenant, scheduleID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ledger.ErrNotFound
	}
	if s.Method != ledger.MethodPointInTime {
		return nil, fmt.Errorf("schedule %s uses %s: %w", scheduleID, s.Method, ledger.ErrValidation)
	}
	remaining := s.Remaining()
	if !remaining.IsPositive() {
		return nil, fmt.Errorf("schedule %s fully recognized: %w", scheduleID, ledger.ErrValidation)
	}

	entry := newDraftEntry(*s, ledger.Period{Start: date, End: date}, remaining)
	if err := r.Store.SaveJournalEntry(ctx, entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *Runner) recognizable(ctx context.Context, tenant ledger.TenantID, s Schedule, period ledger.Period, today ledger.TimePoint) (ledger.Money, error) {
	switch s.Method {
	case ledger.MethodOverTimeByInput:
		eng, err := r.Store.GetEngagement(ctx, tenant, s.EngagementID)
		if err != nil {
			return ledger.Money{}, err
		}
		if eng == nil {
			return ledger.Money{}, ledger.ErrEngagementNotFound
		}
		if !eng.BudgetHours.IsPositive() {
			return s.TotalAmount.Zero(), nil
		}
		hours, err := r.periodInputHours(ctx, tenant, s.EngagementID, period)
		if err != nil {
			return ledger.Money{}, err
		}
		return s.TotalAmount.Mul(hours.Div(eng.BudgetHours)), nil

	case ledger.MethodOverServicePeriod:
		total := s.ServicePeriod.Days()
		if total <= 0 {
			return s.TotalAmount.Zero(), nil
		}
		elapsed := periodElapsedDays(s.ServicePeriod, period, today)
		if elapsed <= 0 {
			return s.TotalAmount.Zero(), nil
		}
		frac := decimal.NewFromInt(int64(elapsed)).Div(decimal.NewFromInt(int64(total)))
		return s.TotalAmount.Mul(frac), nil

	default:
		return ledger.Money{}, fmt.Errorf("method %s has no periodic recognition: %w", s.Method, ledger.ErrValidation)
	}
}

// periodInputHours sums approved time hours captured inside the period.
func (r *Runner) periodInputHours(ctx context.Context, tenant ledger.TenantID, engagementID ledger.EngagementID, period ledger.Period) (decimal.Decimal, error) {
	units, err := r.Store.ListCaptureUnits(ctx, tenant, engagementID, ledger.CaptureApproved)
	if err != nil {
		return decimal.Zero, err
	}
	hours := decimal.Zero
	for _, u := range units {
		if u.Kind != ledger.KindTime || !period.Contains(u.Date) {
			continue
		}
		hours = hours.Add(u.Quantity)
	}
	return hours, nil
}

// periodElapsedDays counts service-period days covered by this run's
// window, capped at today. Days past the service period end count zero;
// the clamp handles cumulative overrun.
func periodElapsedDays(service, run ledger.Period, today ledger.TimePoint) int {
	start := run.Start
	if service.Start.After(start) {
		start = service.Start
	}
	end := run.End
	if today.Before(end) {
		end = today
	}
	if service.End.Before(end) {
		end = service.End
	}
	if end.Before(start) {
		return 0
	}
	return ledger.DaysBetween(start, end) + 1
}

func (r *Runner) hasEntryForPeriod(ctx context.Context, tenant ledger.TenantID, scheduleID string, period ledger.Period) (bool, error) {
	entries, err := r.Store.ListJournalEntries(ctx, tenant, scheduleID)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.Reverses == "" && !e.Reversed && e.Period.Start.Equal(period.Start) && e.Period.End.Equal(period.End) {
			return true, nil
		}
	}
	return false, nil
}
