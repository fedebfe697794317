/*
lock.go - Period locks and per-unit overrides

PURPOSE:
  A PeriodLock is a closed date range per tenant. Once locked, no capture
  unit dated inside the range may be submitted, approved or edited - the
  gate fails with PeriodLockedError. The only way through is an approved
  OverrideRequest scoped to that exact lock AND that exact unit; approval
  unlocks the single unit, never the whole period.

  Callers never block waiting for an override decision; the pending
  request is the wait state.
*/
package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/praxis/fees-engine/ledger"
)

// =============================================================================
// PERIOD LOCK
// =============================================================================

type LockStatus string

const (
	LockOpen   LockStatus = "open"
	LockLocked LockStatus = "locked"
)

type PeriodLock struct {
	ID       string
	TenantID ledger.TenantID
	Period   ledger.Period

	Status   LockStatus
	LockedBy ledger.ActorID
	LockedAt *time.Time

	CreatedAt time.Time
}

// overrideSubjectID keys an override to one lock + one unit.
func overrideSubjectID(lockID string, unitID ledger.CaptureUnitID) string {
	return lockID + ":" + string(unitID)
}

// =============================================================================
// LOCK SERVICE
// =============================================================================

type LockService struct {
	Store     Store
	Approvals *Service
}

func NewLockService(store Store, approvals *Service) *LockService {
	return &LockService{Store: store, Approvals: approvals}
}

// Lock closes a date range. The Open -> Locked transition is immediate;
// an Open record exists only for staged locks created by configuration.
func (s *LockService) Lock(ctx context.Context, tenant ledger.TenantID, period ledger.Period, actor ledger.ActorID) (*PeriodLock, error) {
	if !period.IsValid() {
		return nil, fmt.Errorf("lock period %s: %w", period, ledger.ErrValidation)
	}

	now := time.Now().UTC()
	lock := &PeriodLock{
		ID:        ledger.NewID("lock"),
		TenantID:  tenant,
		Period:    period,
		Status:    LockLocked,
		LockedBy:  actor,
		LockedAt:  &now,
		CreatedAt: now,
	}
	if err := s.Store.SavePeriodLock(ctx, *lock); err != nil {
		return nil, fmt.Errorf("failed to save period lock: %w", err)
	}
	return lock, nil
}

// CheckDate gates an operation on a unit dated within a locked period.
// Returns nil when no lock covers the date, or when an approved override
// exists for (lock, unit). Otherwise PeriodLockedError.
func (s *LockService) CheckDate(ctx context.Context, tenant ledger.TenantID, date ledger.TimePoint, unitID ledger.CaptureUnitID) error {
	locks, err := s.Store.ListPeriodLocks(ctx, tenant)
	if err != nil {
		return err
	}

	for _, lock := range locks {
		if lock.Status != LockLocked || !lock.Period.Contains(date) {
			continue
		}

		req, err := s.Store.GetApprovalBySubject(ctx, tenant, SubjectLockOverride, overrideSubjectID(lock.ID, unitID))
		if err != nil {
			return err
		}
		if req != nil && req.Status == StatusApproved {
			// Override unlocks exactly this unit for this lock.
			continue
		}
		return &ledger.PeriodLockedError{LockID: lock.ID, Date: date}
	}
	return nil
}

// RequestOverride opens an approval request to exempt one unit from one
// lock. Approval of the request unlocks only that unit.
func (s *LockService) RequestOverride(ctx context.Context, tenant ledger.TenantID, lockID string, unitID ledger.CaptureUnitID, requester ledger.ActorID, reason string) (*Request, error) {
	lock, err := s.Store.GetPeriodLock(ctx, tenant, lockID)
	if err != nil {
		return nil, err
	}
	if lock == nil {
		return nil, ledger.ErrNotFound
	}
	if lock.Status != LockLocked {
		return nil, fmt.Errorf("override %s: lock is not locked: %w", lockID, ledger.ErrValidation)
	}

	return s.Approvals.Create(ctx, tenant, SubjectLockOverride, overrideSubjectID(lockID, unitID), requester, reason, map[string]string{
		"lock_id": lockID,
		"unit_id": string(unitID),
	})
}
