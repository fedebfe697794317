package approval_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxis/fees-engine/approval"
	"github.com/praxis/fees-engine/ledger"
)

// =============================================================================
// PERIOD LOCKS
// =============================================================================

var january = ledger.Period{
	Start: ledger.NewTimePoint(2024, 1, 1),
	End:   ledger.NewTimePoint(2024, 1, 31),
}

func TestLock_BlocksSubmissionInPeriod(t *testing.T) {
	// GIVEN: January 2024 is locked
	// WHEN: Submitting a unit dated inside the period
	// THEN: PeriodLockedError naming the lock

	svc, store := newTestCaptureService(t)
	ctx := context.Background()
	seedEngagement(t, store, "eng-1")

	lock, err := svc.Locks.Lock(ctx, "t1", january, "carol")
	require.NoError(t, err)
	assert.Equal(t, approval.LockLocked, lock.Status)

	_, err = svc.SubmitTimeEntry(ctx, draftUnit("eng-1", 5, ledger.NewTimePoint(2024, 1, 20)))

	var lockErr *ledger.PeriodLockedError
	require.ErrorAs(t, err, &lockErr)
	assert.Equal(t, lock.ID, lockErr.LockID)
	assert.ErrorIs(t, err, ledger.ErrPeriodLocked)
}

func TestLock_DatesOutsidePeriodUnaffected(t *testing.T) {
	svc, store := newTestCaptureService(t)
	ctx := context.Background()
	seedEngagement(t, store, "eng-1")

	_, err := svc.Locks.Lock(ctx, "t1", january, "carol")
	require.NoError(t, err)

	_, err = svc.SubmitTimeEntry(ctx, draftUnit("eng-1", 5, ledger.NewTimePoint(2024, 2, 1)))
	assert.NoError(t, err)
}

func TestLock_BlocksApprovalRaisedAfterSubmission(t *testing.T) {
	// GIVEN: A unit submitted before January was locked
	// WHEN: Approving after the lock
	// THEN: The approval is gated too

	svc, store := newTestCaptureService(t)
	ctx := context.Background()
	seedEngagement(t, store, "eng-1")
	seedSeniorRate(t, store, 250)

	unit, err := svc.SubmitTimeEntry(ctx, draftUnit("eng-1", 5, ledger.NewTimePoint(2024, 1, 20)))
	require.NoError(t, err)

	_, err = svc.Locks.Lock(ctx, "t1", january, "carol")
	require.NoError(t, err)

	_, err = svc.Approve(ctx, "t1", unit.ID, "bob", "manager")
	assert.ErrorIs(t, err, ledger.ErrPeriodLocked)
}

func TestLock_InvalidPeriod_Rejected(t *testing.T) {
	svc, _ := newTestCaptureService(t)

	backwards := ledger.Period{
		Start: ledger.NewTimePoint(2024, 1, 31),
		End:   ledger.NewTimePoint(2024, 1, 1),
	}
	_, err := svc.Locks.Lock(context.Background(), "t1", backwards, "carol")
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

// =============================================================================
// OVERRIDES
// =============================================================================

func TestOverride_ApprovedOverrideUnlocksSingleUnit(t *testing.T) {
	// GIVEN: A locked January and a rejected submission
	// WHEN: A partner approves an override for that unit
	// THEN: That unit passes the gate; a sibling unit stays blocked

	svc, store := newTestCaptureService(t)
	ctx := context.Background()
	seedEngagement(t, store, "eng-1")
	seedSeniorRate(t, store, 250)

	lock, err := svc.Locks.Lock(ctx, "t1", january, "carol")
	require.NoError(t, err)

	unit := draftUnit("eng-1", 5, ledger.NewTimePoint(2024, 1, 20))
	unit.ID = "cap-late"
	_, err = svc.SubmitTimeEntry(ctx, unit)
	require.ErrorIs(t, err, ledger.ErrPeriodLocked)

	req, err := svc.Locks.RequestOverride(ctx, "t1", lock.ID, "cap-late", "alice", "missed deadline")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusPending, req.Status)

	// Still blocked while the override is pending.
	_, err = svc.SubmitTimeEntry(ctx, unit)
	require.ErrorIs(t, err, ledger.ErrPeriodLocked)

	_, err = svc.Approvals.Approve(ctx, "t1", req.ID, "carol", "partner")
	require.NoError(t, err)

	submitted, err := svc.SubmitTimeEntry(ctx, unit)
	require.NoError(t, err)
	assert.Equal(t, ledger.CaptureSubmitted, submitted.Status)

	// The override is scoped to one unit, not the period.
	sibling := draftUnit("eng-1", 2, ledger.NewTimePoint(2024, 1, 21))
	sibling.ID = "cap-other"
	_, err = svc.SubmitTimeEntry(ctx, sibling)
	assert.ErrorIs(t, err, ledger.ErrPeriodLocked)
}

func TestOverride_UnknownLock_NotFound(t *testing.T) {
	svc, _ := newTestCaptureService(t)

	_, err := svc.Locks.RequestOverride(context.Background(), "t1", "lock-missing", "cap-1", "alice", "late")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

// =============================================================================
// APPROVAL CHAINS
// =============================================================================

func TestChain_StepsApproveInOrder(t *testing.T) {
	// GIVEN: A write-up/off request with a manager -> partner chain
	// WHEN: Each step approves in order
	// THEN: The request resolves only after the final step

	svc, _ := newTestCaptureService(t)
	ctx := context.Background()

	req, err := svc.Approvals.Create(ctx, "t1", approval.SubjectWriteUpOff, "wip-1", "alice", "overrun", nil)
	require.NoError(t, err)
	require.Len(t, req.Chain, 2)

	req, err = svc.Approvals.Approve(ctx, "t1", req.ID, "bob", "manager")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusPending, req.Status)
	assert.Equal(t, 1, req.NextStep)
	assert.True(t, req.Chain[0].Done())

	req, err = svc.Approvals.Approve(ctx, "t1", req.ID, "carol", "partner")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusApproved, req.Status)
	assert.Equal(t, ledger.ActorID("carol"), req.DecidedBy)
}

func TestChain_OutOfOrderStep_Rejected(t *testing.T) {
	svc, _ := newTestCaptureService(t)
	ctx := context.Background()

	req, err := svc.Approvals.Create(ctx, "t1", approval.SubjectWriteUpOff, "wip-1", "alice", "overrun", nil)
	require.NoError(t, err)

	_, err = svc.Approvals.Approve(ctx, "t1", req.ID, "carol", "partner")
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestChain_ResolvedRequestIsImmutable(t *testing.T) {
	svc, _ := newTestCaptureService(t)
	ctx := context.Background()

	req, err := svc.Approvals.Create(ctx, "t1", approval.SubjectTimesheet, "cap-1", "alice", "", nil)
	require.NoError(t, err)
	_, err = svc.Approvals.Reject(ctx, "t1", req.ID, "bob", "no")
	require.NoError(t, err)

	_, err = svc.Approvals.Approve(ctx, "t1", req.ID, "bob", "manager")
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)

	_, err = svc.Approvals.Reject(ctx, "t1", req.ID, "bob", "again")
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)
}

func TestChain_SupersedeReopensResolvedSubject(t *testing.T) {
	// GIVEN: A rejected request
	// WHEN: Superseding it
	// THEN: A fresh pending request references the original

	svc, _ := newTestCaptureService(t)
	ctx := context.Background()

	orig, err := svc.Approvals.Create(ctx, "t1", approval.SubjectBillingPack, "pack-1", "alice", "", nil)
	require.NoError(t, err)
	_, err = svc.Approvals.Reject(ctx, "t1", orig.ID, "carol", "incomplete")
	require.NoError(t, err)

	next, err := svc.Approvals.Supersede(ctx, "t1", orig.ID, "alice", "lines added")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusPending, next.Status)
	assert.Equal(t, orig.ID, next.Supersedes)
	assert.Equal(t, orig.SubjectID, next.SubjectID)
}

func TestChain_SupersedePendingRequest_Rejected(t *testing.T) {
	svc, _ := newTestCaptureService(t)
	ctx := context.Background()

	orig, err := svc.Approvals.Create(ctx, "t1", approval.SubjectBillingPack, "pack-1", "alice", "", nil)
	require.NoError(t, err)

	_, err = svc.Approvals.Supersede(ctx, "t1", orig.ID, "alice", "retry")
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)
}
