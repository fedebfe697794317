/*
capture.go - Capture unit lifecycle service

PURPOSE:
  Orchestrates the Draft -> Submitted -> {Approved | Rejected} state
  machine for capture units, gated by period locks, and posts approved
  units to the WIP ledger at their resolved standard value.

FEE-CAP SERIALIZATION:
  Approving a unit reads the engagement's running WIP total and writes a
  new line. Two concurrent approvals against the same engagement must not
  both pass a hard-cap check against a stale total, so the
  check-and-post section runs under the per-engagement guard.

APPROVAL CHAINS:
  Timesheets and expenses carry an approver chain like every other
  subject. When a chain has remaining steps the outcome is the pending
  ApprovalRequest; when the final step is satisfied the outcome is the
  posted WipLine.
*/
package approval

import (
	"context"
	"errors"
	"fmt"

	"github.com/praxis/fees-engine/ledger"
	"github.com/praxis/fees-engine/rates"
)

// =============================================================================
// CAPTURE SERVICE
// =============================================================================

// CaptureStore is the persistence surface the capture service needs:
// the core ledger plus approval-request lookups.
type CaptureStore interface {
	ledger.Store
	Store
}

type CaptureService struct {
	Store     CaptureStore
	Rates     *rates.Resolver
	Wip       *ledger.WIPLedger
	Locks     *LockService
	Approvals *Service
	Guard     *ledger.EngagementGuard
}

// ApproveOutcome is the union result of an approval attempt: either the
// posted WIP line (chain complete) or the still-pending request.
type ApproveOutcome struct {
	WipLine *ledger.WipLine
	Request *Request
}

// SubmitTimeEntry records and submits a new capture unit in one step.
// The unit starts Submitted; Draft exists for units parked by the UI.
func (s *CaptureService) SubmitTimeEntry(ctx context.Context, unit ledger.CaptureUnit) (*ledger.CaptureUnit, error) {
	if unit.TenantID == "" || unit.EngagementID == "" || unit.UserID == "" {
		return nil, fmt.Errorf("submit: missing tenant, engagement or user: %w", ledger.ErrValidation)
	}
	if unit.Quantity.IsZero() || unit.Quantity.IsNegative() {
		return nil, fmt.Errorf("submit: quantity must be positive: %w", ledger.ErrValidation)
	}
	if unit.Date.IsZero() {
		return nil, fmt.Errorf("submit: date required: %w", ledger.ErrValidation)
	}

	eng, err := s.Store.GetEngagement(ctx, unit.TenantID, unit.EngagementID)
	if err != nil {
		return nil, err
	}
	if eng == nil {
		return nil, ledger.ErrEngagementNotFound
	}
	if eng.Status != ledger.EngagementActive {
		return nil, fmt.Errorf("submit: engagement %s is archived: %w", eng.ID, ledger.ErrValidation)
	}

	if unit.ID == "" {
		unit.ID = ledger.CaptureUnitID(ledger.NewID("cap"))
	}

	// Period-lock gate: a locked date rejects submission unless an
	// approved override exists for this unit.
	if err := s.Locks.CheckDate(ctx, unit.TenantID, unit.Date, unit.ID); err != nil {
		return nil, err
	}

	now := ledger.Today()
	unit.Status = ledger.CaptureSubmitted
	unit.CreatedAt = now
	unit.UpdatedAt = now
	if unit.Kind == "" {
		unit.Kind = ledger.KindTime
	}

	if err := s.Store.SaveCaptureUnit(ctx, unit); err != nil {
		return nil, fmt.Errorf("failed to save capture unit: %w", err)
	}
	return &unit, nil
}

// Resubmit moves a rejected unit back through Draft into Submitted.
func (s *CaptureService) Resubmit(ctx context.Context, tenant ledger.TenantID, unitID ledger.CaptureUnitID) (*ledger.CaptureUnit, error) {
	unit, err := s.Store.GetCaptureUnit(ctx, tenant, unitID)
	if err != nil {
		return nil, err
	}
	if unit == nil {
		return nil, ledger.ErrCaptureUnitNotFound
	}
	if !unit.CanTransitionTo(ledger.CaptureSubmitted) {
		return nil, fmt.Errorf("resubmit %s: status %s: %w", unitID, unit.Status, ledger.ErrInvalidTransition)
	}
	if err := s.Locks.CheckDate(ctx, tenant, unit.Date, unit.ID); err != nil {
		return nil, err
	}

	unit.Status = ledger.CaptureSubmitted
	unit.RejectionReason = ""
	unit.UpdatedAt = ledger.Today()
	if err := s.Store.SaveCaptureUnit(ctx, *unit); err != nil {
		return nil, err
	}
	return unit, nil
}

// Approve satisfies one step of the unit's approval chain. When the
// chain completes, the unit is valued, cap-checked and posted to WIP.
func (s *CaptureService) Approve(ctx context.Context, tenant ledger.TenantID, unitID ledger.CaptureUnitID, actor ledger.ActorID, role string) (*ApproveOutcome, error) {
	unit, err := s.Store.GetCaptureUnit(ctx, tenant, unitID)
	if err != nil {
		return nil, err
	}
	if unit == nil {
		return nil, ledger.ErrCaptureUnitNotFound
	}
	if unit.Status != ledger.CaptureSubmitted {
		return nil, fmt.Errorf("approve %s: status %s: %w", unitID, unit.Status, ledger.ErrInvalidTransition)
	}

	// The lock gate applies to approval too: a lock raised after
	// submission still blocks posting.
	if err := s.Locks.CheckDate(ctx, tenant, unit.Date, unit.ID); err != nil {
		return nil, err
	}

	subject := SubjectTimesheet
	if unit.Kind != ledger.KindTime {
		subject = SubjectExpense
	}

	req, err := s.Store.GetApprovalBySubject(ctx, tenant, subject, string(unit.ID))
	if err != nil {
		return nil, err
	}
	if req == nil || req.Resolved() {
		req, err = s.Approvals.Create(ctx, tenant, subject, string(unit.ID), unit.UserID, unit.Narrative, nil)
		if err != nil {
			return nil, err
		}
	}

	req, err = s.Approvals.Approve(ctx, tenant, req.ID, actor, role)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusApproved {
		return &ApproveOutcome{Request: req}, nil
	}

	eng, err := s.Store.GetEngagement(ctx, tenant, unit.EngagementID)
	if err != nil {
		return nil, err
	}
	if eng == nil {
		return nil, ledger.ErrEngagementNotFound
	}

	standardValue, err := s.Rates.Resolve(ctx, *unit, *eng)
	if err != nil {
		return nil, err
	}

	var line *ledger.WipLine
	err = s.Guard.Do(eng.ID, func() error {
		if eng.HasHardCap() {
			lines, err := s.Store.ListWipLines(ctx, tenant, eng.ID, "")
			if err != nil {
				return err
			}
			billed := ledger.BilledTotal(lines, eng.BaseCurrency)
			unbilled := ledger.UnbilledTotal(lines, eng.BaseCurrency)
			running := billed.Add(unbilled).Add(standardValue)
			if running.GreaterThan(eng.FeeCap) {
				return &ledger.FeeCapExceededError{
					EngagementID:  eng.ID,
					FeeCap:        eng.FeeCap,
					AlreadyBilled: billed,
					Selected:      standardValue,
				}
			}
		}

		unit.Status = ledger.CaptureApproved
		unit.UpdatedAt = ledger.Today()

		posted, err := s.Wip.Post(ctx, *unit, standardValue)
		if err != nil {
			return err
		}
		line = posted
		unit.WipLineID = &posted.ID
		return s.Store.SaveCaptureUnit(ctx, *unit)
	})
	if err != nil {
		return nil, err
	}
	return &ApproveOutcome{WipLine: line, Request: req}, nil
}

// Reject returns a submitted unit to the requester with a reason.
func (s *CaptureService) Reject(ctx context.Context, tenant ledger.TenantID, unitID ledger.CaptureUnitID, actor ledger.ActorID, reason string) (*ledger.CaptureUnit, error) {
	unit, err := s.Store.GetCaptureUnit(ctx, tenant, unitID)
	if err != nil {
		return nil, err
	}
	if unit == nil {
		return nil, ledger.ErrCaptureUnitNotFound
	}
	if !unit.CanTransitionTo(ledger.CaptureRejected) {
		return nil, fmt.Errorf("reject %s: status %s: %w", unitID, unit.Status, ledger.ErrInvalidTransition)
	}

	unit.Status = ledger.CaptureRejected
	unit.RejectionReason = reason
	unit.UpdatedAt = ledger.Today()

	if req, err := s.Store.GetApprovalBySubject(ctx, tenant, SubjectTimesheet, string(unit.ID)); err == nil && req != nil && !req.Resolved() {
		_, _ = s.Approvals.Reject(ctx, tenant, req.ID, actor, reason)
	}

	if err := s.Store.SaveCaptureUnit(ctx, *unit); err != nil {
		return nil, err
	}
	return unit, nil
}

// RequestAdjustment records a write-up/down, routing through an approval
// request when the actor's limit does not cover the delta.
type AdjustmentOutcome struct {
	Entry   *ledger.AdjustmentEntry
	Request *Request
}

func (s *CaptureService) RequestAdjustment(ctx context.Context, tenant ledger.TenantID, lineID ledger.WipLineID, newValue ledger.Money, reason string, actor ledger.ActorID, role string) (*AdjustmentOutcome, error) {
	entry, err := s.Wip.Adjust(ctx, lineID, newValue, reason, actor, role)
	if err == nil {
		return &AdjustmentOutcome{Entry: entry}, nil
	}
	if !errors.Is(err, ledger.ErrApprovalLimitExceeded) {
		return nil, err
	}

	// Over the actor's ceiling: raise a write-up/off approval instead.
	req, err := s.Approvals.Create(ctx, tenant, SubjectWriteUpOff, string(lineID), actor, reason, map[string]string{
		"wip_line_id":       string(lineID),
		"new_billing_value": newValue.Amount.String(),
		"currency":          newValue.Currency,
	})
	if err != nil {
		return nil, err
	}
	return &AdjustmentOutcome{Request: req}, nil
}

// ApplyApprovedAdjustment executes the adjustment carried by a resolved
// write-up/off request.
func (s *CaptureService) ApplyApprovedAdjustment(ctx context.Context, tenant ledger.TenantID, requestID string, actor ledger.ActorID) (*ledger.AdjustmentEntry, error) {
	req, err := s.Approvals.Store.GetApprovalRequest(ctx, tenant, requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ledger.ErrNotFound
	}
	if req.Subject != SubjectWriteUpOff || req.Status != StatusApproved {
		return nil, fmt.Errorf("apply %s: not an approved write-up request: %w", requestID, ledger.ErrValidation)
	}

	newValue := ledger.Money{
		Amount:   ledger.MustParseDecimal(req.Payload["new_billing_value"]),
		Currency: req.Payload["currency"],
	}
	return s.Wip.ApplyApprovedAdjustment(ctx, ledger.WipLineID(req.Payload["wip_line_id"]), newValue, req.Reason, actor)
}
