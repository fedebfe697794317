/*
wip.go - Work-in-progress lines and the WIP ledger

PURPOSE:
  A WipLine is the posted, valued form of an approved CaptureUnit. It holds
  two values: standardValue (computed at posting, never changed) and
  billingValue (mutable only through append-only adjustment entries until
  the line is billed). The WIP ledger is the single place those values
  change.

CRITICAL INVARIANTS:
  1. standardValue is immutable after posting
  2. billingValue changes are append-only AdjustmentEntry rows, never
     in-place overwrites: sum(entry deltas) == billingValue - standardValue
  3. Billed is a one-way street: a Billed line never returns to Unbilled;
     corrections are credits on fresh lines
  4. Write-offs zero the billing value and require limit coverage of the
     FULL standard value

CORRECTIONS:
  A mistaken write-down is not edited. A second adjustment entry with the
  opposite delta is appended; both remain in the audit trail.

SEE ALSO:
  - types.go: CaptureUnit and Money
  - store.go: WipStore persistence interface
*/
package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// WIP LINE
// =============================================================================

type WipStatus string

const (
	WipUnbilled   WipStatus = "unbilled"
	WipBilled     WipStatus = "billed"
	WipWrittenOff WipStatus = "written_off"
)

// WipLine is one posted capture unit held at standard and billing value.
type WipLine struct {
	ID            WipLineID
	TenantID      TenantID
	EngagementID  EngagementID
	CaptureUnitID CaptureUnitID

	Kind     CaptureKind
	UserID   ActorID
	Quantity decimal.Decimal

	// StandardValue is fixed at posting. BillingValue starts equal to it
	// and moves only via adjustment entries.
	StandardValue Money
	BillingValue  Money

	Status    WipStatus
	PostedAt  TimePoint
	UpdatedAt TimePoint
}

// AgeDays is derived, never stored.
func (l WipLine) AgeDays(today TimePoint) int { return DaysBetween(l.PostedAt, today) }

// RealizationRate is billingValue / standardValue, the pricing-discipline
// measure. Returns zero for a zero standard value.
func (l WipLine) RealizationRate() decimal.Decimal {
	if l.StandardValue.IsZero() {
		return decimal.Zero
	}
	return l.BillingValue.Amount.Div(l.StandardValue.Amount)
}

// =============================================================================
// ADJUSTMENT ENTRY - Append-only audit of billing value changes
// =============================================================================

type AdjustmentKind string

const (
	AdjustWriteUpDown AdjustmentKind = "write_up_down"
	AdjustWriteOff    AdjustmentKind = "write_off"
	AdjustTransferOut AdjustmentKind = "transfer_out"
	AdjustTransferIn  AdjustmentKind = "transfer_in"
	AdjustCredit      AdjustmentKind = "credit"
)

// AdjustmentEntry records one change to a line's billing value.
// Entries are never updated or deleted.
type AdjustmentEntry struct {
	ID           string
	TenantID     TenantID
	WipLineID    WipLineID
	EngagementID EngagementID

	Kind   AdjustmentKind
	Delta  Money // signed change to billing value
	Reason string
	Actor  ActorID

	// For transfers: the engagement on the other side of the pair.
	CounterEngagement EngagementID

	CreatedAt TimePoint
}

// =============================================================================
// LIMIT POLICY - Role-based adjustment ceilings
// =============================================================================

// LimitPolicy resolves the maximum absolute adjustment an actor role may
// apply directly. Larger adjustments go through an approval request.
type LimitPolicy interface {
	// AdjustmentLimit returns the ceiling for a role, and false if the
	// role has no direct adjustment authority at all.
	AdjustmentLimit(role string) (Money, bool)
}

// StaticLimits is a simple LimitPolicy backed by a role -> ceiling map.
type StaticLimits map[string]Money

func (s StaticLimits) AdjustmentLimit(role string) (Money, bool) {
	m, ok := s[role]
	return m, ok
}

// =============================================================================
// WIP LEDGER
// =============================================================================

// WIPLedger owns every change to WIP value.
type WIPLedger struct {
	Store  WipStore
	Limits LimitPolicy
	Guard  *EngagementGuard
}

func NewWIPLedger(store WipStore, limits LimitPolicy, guard *EngagementGuard) *WIPLedger {
	return &WIPLedger{Store: store, Limits: limits, Guard: guard}
}

// Post creates a WipLine for an approved capture unit.
// billingValue starts equal to standardValue.
func (w *WIPLedger) Post(ctx context.Context, unit CaptureUnit, standardValue Money) (*WipLine, error) {
	if unit.Status != CaptureApproved {
		return nil, fmt.Errorf("post %s: unit status %s: %w", unit.ID, unit.Status, ErrInvalidTransition)
	}
	if unit.WipLineID != nil {
		return nil, fmt.Errorf("post %s: already posted as %s: %w", unit.ID, *unit.WipLineID, ErrValidation)
	}

	now := Today()
	line := &WipLine{
		ID:            WipLineID(NewID("wip")),
		TenantID:      unit.TenantID,
		EngagementID:  unit.EngagementID,
		CaptureUnitID: unit.ID,
		Kind:          unit.Kind,
		UserID:        unit.UserID,
		Quantity:      unit.Quantity,
		StandardValue: standardValue,
		BillingValue:  standardValue,
		Status:        WipUnbilled,
		PostedAt:      unit.Date,
		UpdatedAt:     now,
	}
	if err := w.Store.InsertWipLine(ctx, *line); err != nil {
		return nil, fmt.Errorf("failed to insert wip line: %w", err)
	}
	return line, nil
}

// Adjust records a write-up/down, moving billingValue to newBillingValue.
// The actor's role limit must cover |newBillingValue - billingValue|;
// otherwise an ApprovalLimitExceededError is returned and the caller
// should raise an approval request instead.
func (w *WIPLedger) Adjust(ctx context.Context, lineID WipLineID, newBillingValue Money, reason string, actor ActorID, role string) (*AdjustmentEntry, error) {
	return w.adjust(ctx, lineID, newBillingValue, reason, actor, role, false)
}

// ApplyApprovedAdjustment applies an adjustment whose approval request has
// been resolved. The limit check is already satisfied by the approval.
func (w *WIPLedger) ApplyApprovedAdjustment(ctx context.Context, lineID WipLineID, newBillingValue Money, reason string, actor ActorID) (*AdjustmentEntry, error) {
	return w.adjust(ctx, lineID, newBillingValue, reason, actor, "", true)
}

func (w *WIPLedger) adjust(ctx context.Context, lineID WipLineID, newBillingValue Money, reason string, actor ActorID, role string, approved bool) (*AdjustmentEntry, error) {
	line, err := w.Store.GetWipLine(ctx, lineID)
	if err != nil {
		return nil, err
	}
	if line == nil {
		return nil, ErrWipLineNotFound
	}
	if line.Status != WipUnbilled {
		return nil, fmt.Errorf("adjust %s: status %s: %w", lineID, line.Status, ErrLineNotAdjustable)
	}

	delta := newBillingValue.Sub(line.BillingValue)
	if delta.IsZero() {
		return nil, fmt.Errorf("adjust %s: no change requested: %w", lineID, ErrValidation)
	}

	if !approved {
		if err := w.checkLimit(role, actor, delta.Abs()); err != nil {
			return nil, err
		}
	}

	var entry *AdjustmentEntry
	err = w.Guard.Do(line.EngagementID, func() error {
		entry = &AdjustmentEntry{
			ID:           NewID("adj"),
			TenantID:     line.TenantID,
			WipLineID:    line.ID,
			EngagementID: line.EngagementID,
			Kind:         AdjustWriteUpDown,
			Delta:        delta,
			Reason:       reason,
			Actor:        actor,
			CreatedAt:    Today(),
		}
		if err := w.Store.AppendAdjustment(ctx, *entry); err != nil {
			return fmt.Errorf("failed to append adjustment: %w", err)
		}
		line.BillingValue = newBillingValue
		line.UpdatedAt = Today()
		return w.Store.SaveWipLine(ctx, *line)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// WriteOff zeroes the billing value and marks the line WrittenOff.
// The actor's limit must cover the FULL standard value.
func (w *WIPLedger) WriteOff(ctx context.Context, lineID WipLineID, reason string, actor ActorID, role string) (*AdjustmentEntry, error) {
	line, err := w.Store.GetWipLine(ctx, lineID)
	if err != nil {
		return nil, err
	}
	if line == nil {
		return nil, ErrWipLineNotFound
	}
	if line.Status != WipUnbilled {
		return nil, fmt.Errorf("write off %s: status %s: %w", lineID, line.Status, ErrLineNotAdjustable)
	}

	if err := w.checkLimit(role, actor, line.StandardValue.Abs()); err != nil {
		return nil, err
	}

	var entry *AdjustmentEntry
	err = w.Guard.Do(line.EngagementID, func() error {
		entry = &AdjustmentEntry{
			ID:           NewID("adj"),
			TenantID:     line.TenantID,
			WipLineID:    line.ID,
			EngagementID: line.EngagementID,
			Kind:         AdjustWriteOff,
			Delta:        line.BillingValue.Neg(),
			Reason:       reason,
			Actor:        actor,
			CreatedAt:    Today(),
		}
		if err := w.Store.AppendAdjustment(ctx, *entry); err != nil {
			return fmt.Errorf("failed to append write-off: %w", err)
		}
		line.BillingValue = line.BillingValue.Zero()
		line.Status = WipWrittenOff
		line.UpdatedAt = Today()
		return w.Store.SaveWipLine(ctx, *line)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Transfer moves an Unbilled line between engagements, recording a paired
// debit/credit audit. standardValue is preserved on the line.
func (w *WIPLedger) Transfer(ctx context.Context, lineID WipLineID, from, to EngagementID, actor ActorID) error {
	line, err := w.Store.GetWipLine(ctx, lineID)
	if err != nil {
		return err
	}
	if line == nil {
		return ErrWipLineNotFound
	}
	if line.Status != WipUnbilled {
		return fmt.Errorf("transfer %s: status %s: %w", lineID, line.Status, ErrLineNotAdjustable)
	}
	if line.EngagementID != from {
		return fmt.Errorf("transfer %s: line belongs to %s not %s: %w", lineID, line.EngagementID, from, ErrValidation)
	}
	if from == to {
		return fmt.Errorf("transfer %s: source and target are the same: %w", lineID, ErrValidation)
	}

	now := Today()
	out := AdjustmentEntry{
		ID:                NewID("adj"),
		TenantID:          line.TenantID,
		WipLineID:         line.ID,
		EngagementID:      from,
		Kind:              AdjustTransferOut,
		Delta:             line.BillingValue.Neg(),
		Reason:            fmt.Sprintf("transfer to %s", to),
		Actor:             actor,
		CounterEngagement: to,
		CreatedAt:         now,
	}
	in := AdjustmentEntry{
		ID:                NewID("adj"),
		TenantID:          line.TenantID,
		WipLineID:         line.ID,
		EngagementID:      to,
		Kind:              AdjustTransferIn,
		Delta:             line.BillingValue,
		Reason:            fmt.Sprintf("transfer from %s", from),
		Actor:             actor,
		CounterEngagement: from,
		CreatedAt:         now,
	}

	// Lock both sides in a stable order to avoid deadlock.
	first, second := from, to
	if second < first {
		first, second = second, first
	}
	return w.Guard.Do(first, func() error {
		return w.Guard.Do(second, func() error {
			if err := w.Store.AppendAdjustment(ctx, out); err != nil {
				return fmt.Errorf("failed to append transfer debit: %w", err)
			}
			if err := w.Store.AppendAdjustment(ctx, in); err != nil {
				return fmt.Errorf("failed to append transfer credit: %w", err)
			}
			line.EngagementID = to
			line.UpdatedAt = now
			return w.Store.SaveWipLine(ctx, *line)
		})
	})
}

// MarkBilled flips a line to Billed. One-way; called only by the invoice
// poster inside its transaction boundary.
func MarkBilled(line *WipLine) error {
	if line.Status != WipUnbilled {
		return fmt.Errorf("mark billed %s: status %s: %w", line.ID, line.Status, ErrInvalidTransition)
	}
	line.Status = WipBilled
	line.UpdatedAt = Today()
	return nil
}

func (w *WIPLedger) checkLimit(role string, actor ActorID, required Money) error {
	if w.Limits == nil {
		return nil
	}
	limit, ok := w.Limits.AdjustmentLimit(role)
	if !ok || required.GreaterThan(limit) {
		if !ok {
			limit = required.Zero()
		}
		return &ApprovalLimitExceededError{Actor: actor, Role: role, Limit: limit, Requested: required}
	}
	return nil
}

// =============================================================================
// DERIVED VIEWS - Aging and totals (computed, never stored)
// =============================================================================

// AgingBucket is a band of unbilled value by age.
type AgingBucket struct {
	Label string
	From  int  // inclusive lower bound in days
	To    int  // inclusive upper bound; -1 = open-ended
	Value Money
	Count int
}

// DefaultAgingThresholds are the 30/60/90 day bands.
var DefaultAgingThresholds = []int{30, 60, 90}

// AgeWipLines buckets unbilled lines by AgeDays. Billed and written-off
// lines are excluded.
func AgeWipLines(lines []WipLine, today TimePoint, thresholds []int, currency string) []AgingBucket {
	if len(thresholds) == 0 {
		thresholds = DefaultAgingThresholds
	}

	buckets := make([]AgingBucket, 0, len(thresholds)+1)
	lower := 0
	for _, t := range thresholds {
		buckets = append(buckets, AgingBucket{
			Label: fmt.Sprintf("%d-%d", lower, t),
			From:  lower,
			To:    t,
			Value: NewMoney(0, currency),
		})
		lower = t + 1
	}
	buckets = append(buckets, AgingBucket{
		Label: fmt.Sprintf("%d+", lower),
		From:  lower,
		To:    -1,
		Value: NewMoney(0, currency),
	})

	for _, l := range lines {
		if l.Status != WipUnbilled {
			continue
		}
		age := l.AgeDays(today)
		for i := range buckets {
			if age >= buckets[i].From && (buckets[i].To == -1 || age <= buckets[i].To) {
				buckets[i].Value = buckets[i].Value.Add(l.BillingValue)
				buckets[i].Count++
				break
			}
		}
	}
	return buckets
}

// UnbilledTotal sums billing value of unbilled lines.
func UnbilledTotal(lines []WipLine, currency string) Money {
	total := NewMoney(0, currency)
	for _, l := range lines {
		if l.Status == WipUnbilled {
			total = total.Add(l.BillingValue)
		}
	}
	return total
}

// BilledTotal sums billing value of billed lines.
func BilledTotal(lines []WipLine, currency string) Money {
	total := NewMoney(0, currency)
	for _, l := range lines {
		if l.Status == WipBilled {
			total = total.Add(l.BillingValue)
		}
	}
	return total
}
