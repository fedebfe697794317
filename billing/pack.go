/*
pack.go - Pre-billing selection

PURPOSE:
  A BillingPack is an in-progress selection of unbilled WIP lines for one
  engagement. It is mutable (lines added/removed) while Draft, frozen
  once approval is requested, and becomes an Invoice on issue.

INVARIANTS:
  1. A WipLine belongs to at most one open pack (store reservation)
  2. Every line belongs to the pack's engagement and is Unbilled
  3. Fee-cap checks run against a consistent running total under the
     per-engagement guard; a hard cap blocks, a soft cap only flags

CONCURRENCY:
  Two concurrent pack builds selecting overlapping lines resolve
  deterministically: each line is reserved exactly once, the loser sees
  ConcurrencyConflictError naming only the contested lines.
*/
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/praxis/fees-engine/approval"
	"github.com/praxis/fees-engine/ledger"
)

// =============================================================================
// BILLING PACK
// =============================================================================

type PackStatus string

const (
	PackDraft           PackStatus = "draft"
	PackPendingApproval PackStatus = "pending_approval"
	PackApproved        PackStatus = "approved"
	PackIssued          PackStatus = "issued"
	PackCancelled       PackStatus = "cancelled"
)

type CapStatus string

const (
	CapOK   CapStatus = "ok"
	CapNear CapStatus = "near_cap" // within the warning margin of the cap
	CapAt   CapStatus = "at_cap"   // at or beyond the cap (soft caps only)
)

// NearCapMargin flags packs within 10% of the fee cap.
var NearCapMargin = decimal.NewFromFloat(0.9)

type BillingPack struct {
	ID           string
	TenantID     ledger.TenantID
	EngagementID ledger.EngagementID

	LineIDs       []ledger.WipLineID
	SelectedValue ledger.Money
	CapStatus     CapStatus

	Status            PackStatus
	ApprovalRequestID string

	CreatedBy ledger.ActorID
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (p BillingPack) Open() bool {
	return p.Status == PackDraft || p.Status == PackPendingApproval || p.Status == PackApproved
}

// =============================================================================
// SELECTOR
// =============================================================================

type Selector struct {
	Store     Store
	Approvals *approval.Service
	Guard     *ledger.EngagementGuard
}

func NewSelector(store Store, approvals *approval.Service, guard *ledger.EngagementGuard) *Selector {
	return &Selector{Store: store, Approvals: approvals, Guard: guard}
}

// CreateBillingPack validates and reserves the selected lines, computes
// the selected value and the cap status, and saves a Draft pack.
func (s *Selector) CreateBillingPack(ctx context.Context, tenant ledger.TenantID, engagementID ledger.EngagementID, lineIDs []ledger.WipLineID, actor ledger.ActorID) (*BillingPack, error) {
	if len(lineIDs) == 0 {
		return nil, fmt.Errorf("create pack: no lines selected: %w", ledger.ErrValidation)
	}

	eng, err := s.Store.GetEngagement(ctx, tenant, engagementID)
	if err != nil {
		return nil, err
	}
	if eng == nil {
		return nil, ledger.ErrEngagementNotFound
	}

	var pack *BillingPack
	err = s.Guard.Do(engagementID, func() error {
		lines, err := s.loadSelectable(ctx, tenant, engagementID, lineIDs)
		if err != nil {
			return err
		}

		packID := ledger.NewID("pack")
		contested, err := s.Store.ReserveWipLines(ctx, packID, lineIDs)
		if err != nil {
			return err
		}
		if len(contested) > 0 {
			return &ledger.ConcurrencyConflictError{EngagementID: engagementID, ContestedLines: contested}
		}

		selected := ledger.NewMoney(0, eng.BaseCurrency)
		for _, l := range lines {
			selected = selected.Add(l.BillingValue)
		}

		capStatus, err := s.capCheck(ctx, *eng, selected)
		if err != nil {
			// Hard cap breach: release the claim before surfacing.
			_ = s.Store.ReleaseWipLines(ctx, packID)
			return err
		}

		now := time.Now().UTC()
		pack = &BillingPack{
			ID:            packID,
			TenantID:      tenant,
			EngagementID:  engagementID,
			LineIDs:       lineIDs,
			SelectedValue: selected,
			CapStatus:     capStatus,
			Status:        PackDraft,
			CreatedBy:     actor,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		return s.Store.SaveBillingPack(ctx, *pack)
	})
	if err != nil {
		return nil, err
	}
	return pack, nil
}

// AddLine appends a line to a Draft pack.
func (s *Selector) AddLine(ctx context.Context, tenant ledger.TenantID, packID string, lineID ledger.WipLineID) (*BillingPack, error) {
	pack, err := s.draftPack(ctx, tenant, packID)
	if err != nil {
		return nil, err
	}

	err = s.Guard.Do(pack.EngagementID, func() error {
		lines, err := s.loadSelectable(ctx, tenant, pack.EngagementID, []ledger.WipLineID{lineID})
		if err != nil {
			return err
		}

		contested, err := s.Store.ReserveWipLines(ctx, packID, []ledger.WipLineID{lineID})
		if err != nil {
			return err
		}
		if len(contested) > 0 {
			return &ledger.ConcurrencyConflictError{EngagementID: pack.EngagementID, ContestedLines: contested}
		}

		eng, err := s.Store.GetEngagement(ctx, tenant, pack.EngagementID)
		if err != nil {
			return err
		}

		newSelected := pack.SelectedValue.Add(lines[0].BillingValue)
		capStatus, err := s.capCheck(ctx, *eng, newSelected)
		if err != nil {
			_ = s.Store.ReleaseWipLine(ctx, packID, lineID)
			return err
		}

		pack.LineIDs = append(pack.LineIDs, lineID)
		pack.SelectedValue = newSelected
		pack.CapStatus = capStatus
		pack.UpdatedAt = time.Now().UTC()
		return s.Store.SaveBillingPack(ctx, *pack)
	})
	if err != nil {
		return nil, err
	}
	return pack, nil
}

// RemoveLine drops a line from a Draft pack and releases its reservation.
func (s *Selector) RemoveLine(ctx context.Context, tenant ledger.TenantID, packID string, lineID ledger.WipLineID) (*BillingPack, error) {
	pack, err := s.draftPack(ctx, tenant, packID)
	if err != nil {
		return nil, err
	}

	idx := -1
	for i, id := range pack.LineIDs {
		if id == lineID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, fmt.Errorf("remove line: %s not in pack %s: %w", lineID, packID, ledger.ErrValidation)
	}

	line, err := s.Store.GetWipLine(ctx, lineID)
	if err != nil {
		return nil, err
	}
	if line == nil {
		return nil, ledger.ErrWipLineNotFound
	}

	err = s.Guard.Do(pack.EngagementID, func() error {
		if err := s.Store.ReleaseWipLine(ctx, packID, lineID); err != nil {
			return err
		}
		pack.LineIDs = append(pack.LineIDs[:idx], pack.LineIDs[idx+1:]...)
		pack.SelectedValue = pack.SelectedValue.Sub(line.BillingValue)
		pack.UpdatedAt = time.Now().UTC()
		return s.Store.SaveBillingPack(ctx, *pack)
	})
	if err != nil {
		return nil, err
	}
	return pack, nil
}

// RequestApproval freezes the pack and opens its approval request.
func (s *Selector) RequestApproval(ctx context.Context, tenant ledger.TenantID, packID string, actor ledger.ActorID) (*BillingPack, error) {
	pack, err := s.draftPack(ctx, tenant, packID)
	if err != nil {
		return nil, err
	}

	req, err := s.Approvals.Create(ctx, tenant, approval.SubjectBillingPack, pack.ID, actor,
		fmt.Sprintf("billing pack for %s, selected %s", pack.EngagementID, pack.SelectedValue), nil)
	if err != nil {
		return nil, err
	}

	pack.Status = PackPendingApproval
	pack.ApprovalRequestID = req.ID
	pack.UpdatedAt = time.Now().UTC()
	if err := s.Store.SaveBillingPack(ctx, *pack); err != nil {
		return nil, err
	}
	return pack, nil
}

// ApprovePack satisfies one chain step and, when the chain completes,
// moves the pack to Approved.
func (s *Selector) ApprovePack(ctx context.Context, tenant ledger.TenantID, packID string, actor ledger.ActorID, role string) (*BillingPack, error) {
	pack, err := s.Store.GetBillingPack(ctx, tenant, packID)
	if err != nil {
		return nil, err
	}
	if pack == nil {
		return nil, ledger.ErrNotFound
	}
	if pack.Status != PackPendingApproval {
		return nil, fmt.Errorf("approve pack %s: status %s: %w", packID, pack.Status, ledger.ErrInvalidTransition)
	}

	req, err := s.Approvals.Approve(ctx, tenant, pack.ApprovalRequestID, actor, role)
	if err != nil {
		return nil, err
	}
	if req.Status == approval.StatusApproved {
		pack.Status = PackApproved
		pack.UpdatedAt = time.Now().UTC()
		if err := s.Store.SaveBillingPack(ctx, *pack); err != nil {
			return nil, err
		}
	}
	return pack, nil
}

// Cancel releases a pack's reservations and closes it.
func (s *Selector) Cancel(ctx context.Context, tenant ledger.TenantID, packID string) (*BillingPack, error) {
	pack, err := s.Store.GetBillingPack(ctx, tenant, packID)
	if err != nil {
		return nil, err
	}
	if pack == nil {
		return nil, ledger.ErrNotFound
	}
	if pack.Status == PackIssued {
		return nil, fmt.Errorf("cancel pack %s: already issued: %w", packID, ledger.ErrInvalidTransition)
	}

	if err := s.Store.ReleaseWipLines(ctx, packID); err != nil {
		return nil, err
	}
	pack.Status = PackCancelled
	pack.UpdatedAt = time.Now().UTC()
	if err := s.Store.SaveBillingPack(ctx, *pack); err != nil {
		return nil, err
	}
	return pack, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Selector) draftPack(ctx context.Context, tenant ledger.TenantID, packID string) (*BillingPack, error) {
	pack, err := s.Store.GetBillingPack(ctx, tenant, packID)
	if err != nil {
		return nil, err
	}
	if pack == nil {
		return nil, ledger.ErrNotFound
	}
	if pack.Status != PackDraft {
		return nil, fmt.Errorf("pack %s is frozen (status %s): %w", packID, pack.Status, ledger.ErrInvalidTransition)
	}
	return pack, nil
}

// loadSelectable returns the lines if every one belongs to the engagement
// and is Unbilled.
func (s *Selector) loadSelectable(ctx context.Context, tenant ledger.TenantID, engagementID ledger.EngagementID, lineIDs []ledger.WipLineID) ([]ledger.WipLine, error) {
	lines := make([]ledger.WipLine, 0, len(lineIDs))
	for _, id := range lineIDs {
		line, err := s.Store.GetWipLine(ctx, id)
		if err != nil {
			return nil, err
		}
		if line == nil {
			return nil, fmt.Errorf("line %s: %w", id, ledger.ErrWipLineNotFound)
		}
		if line.TenantID != tenant || line.EngagementID != engagementID {
			return nil, fmt.Errorf("line %s belongs to %s: %w", id, line.EngagementID, ledger.ErrValidation)
		}
		if line.Status != ledger.WipUnbilled {
			return nil, fmt.Errorf("line %s is %s: %w", id, line.Status, ledger.ErrValidation)
		}
		lines = append(lines, *line)
	}
	return lines, nil
}

// capCheck compares selected + already billed against the fee cap.
// Hard caps return FeeCapExceededError; soft caps only set the flag.
func (s *Selector) capCheck(ctx context.Context, eng ledger.Engagement, selected ledger.Money) (CapStatus, error) {
	if !eng.HasCap() {
		return CapOK, nil
	}

	lines, err := s.Store.ListWipLines(ctx, eng.TenantID, eng.ID, ledger.WipBilled)
	if err != nil {
		return CapOK, err
	}
	billed := ledger.BilledTotal(lines, eng.BaseCurrency)
	projected := billed.Add(selected)

	if projected.GreaterThan(eng.FeeCap) {
		if eng.HasHardCap() {
			return CapAt, &ledger.FeeCapExceededError{
				EngagementID:  eng.ID,
				FeeCap:        eng.FeeCap,
				AlreadyBilled: billed,
				Selected:      selected,
			}
		}
		return CapAt, nil
	}
	if projected.Amount.GreaterThanOrEqual(eng.FeeCap.Amount.Mul(NearCapMargin)) {
		return CapNear, nil
	}
	return CapOK, nil
}
