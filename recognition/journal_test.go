package recognition_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxis/fees-engine/ledger"
	"github.com/praxis/fees-engine/recognition"
	"github.com/praxis/fees-engine/store/memory"
)

// draftFor creates an over-time-by-input schedule and runs June to get a
// single draft entry.
func draftFor(t *testing.T, r *recognition.Runner, store *memory.Memory, total, budgetHours, approvedHours int64) (*recognition.Schedule, recognition.JournalEntry) {
	t.Helper()
	ctx := context.Background()
	seedEngagement(t, store, "eng-1", budgetHours)
	seedApprovedHours(t, store, "eng-1", ledger.NewTimePoint(2024, 6, 10), approvedHours)

	s, err := r.CreateSchedule(ctx, "t1", "eng-1", ledger.MethodOverTimeByInput, ledger.NewMoney(float64(total), "GBP"), ledger.Period{})
	require.NoError(t, err)

	drafts, err := r.Run(ctx, "t1", june, june.End)
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	return s, drafts[0]
}

// =============================================================================
// POST
// =============================================================================

func TestPost_MovesRecognizedToDate(t *testing.T) {
	// GIVEN: A 2,500 draft on a 10,000 schedule
	// WHEN: Posting it
	// THEN: Entry Posted, recognized-to-date 2,500, schedule still Active

	r, store := newTestRunner(t)
	ctx := context.Background()
	s, draft := draftFor(t, r, store, 10000, 100, 25)

	posted, err := r.Post(ctx, "t1", draft.ID, "carol")
	require.NoError(t, err)
	assert.Equal(t, recognition.JournalPosted, posted.Status)
	assert.Equal(t, ledger.ActorID("carol"), posted.PostedBy)
	require.NotNil(t, posted.PostedAt)

	saved, err := store.GetSchedule(ctx, "t1", s.ID)
	require.NoError(t, err)
	assert.True(t, saved.RecognizedToDate.Equal(ledger.NewMoney(2500, "GBP")))
	assert.Equal(t, recognition.ScheduleActive, saved.Status)
}

func TestPost_FullRecognition_CompletesSchedule(t *testing.T) {
	// GIVEN: A draft covering the schedule's full total
	// WHEN: Posting it
	// THEN: The schedule flips to Complete

	r, store := newTestRunner(t)
	ctx := context.Background()
	s, draft := draftFor(t, r, store, 10000, 100, 100)

	_, err := r.Post(ctx, "t1", draft.ID, "carol")
	require.NoError(t, err)

	saved, err := store.GetSchedule(ctx, "t1", s.ID)
	require.NoError(t, err)
	assert.Equal(t, recognition.ScheduleComplete, saved.Status)
}

func TestPost_IsTerminal(t *testing.T) {
	r, store := newTestRunner(t)
	ctx := context.Background()
	_, draft := draftFor(t, r, store, 10000, 100, 25)

	_, err := r.Post(ctx, "t1", draft.ID, "carol")
	require.NoError(t, err)

	_, err = r.Post(ctx, "t1", draft.ID, "carol")
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)
}

func TestPost_OverRecognizingDraft_Rejected(t *testing.T) {
	// GIVEN: Two drafts whose sum exceeds the total (the second computed
	//        before the first posted)
	// WHEN: Posting both
	// THEN: The second is rejected; cumulative never exceeds the total

	r, store := newTestRunner(t)
	ctx := context.Background()
	s, first := draftFor(t, r, store, 10000, 100, 80) // 8,000

	// A July run drafts another 8,000 before the first entry posts.
	seedApprovedHours(t, store, "eng-1", ledger.NewTimePoint(2024, 7, 10), 80)
	july := ledger.Period{
		Start: ledger.NewTimePoint(2024, 7, 1),
		End:   ledger.NewTimePoint(2024, 7, 31),
	}
	julyDrafts, err := r.Run(ctx, "t1", july, july.End)
	require.NoError(t, err)
	require.Len(t, julyDrafts, 1)

	_, err = r.Post(ctx, "t1", first.ID, "carol")
	require.NoError(t, err)

	_, err = r.Post(ctx, "t1", julyDrafts[0].ID, "carol")
	assert.ErrorIs(t, err, ledger.ErrValidation)

	saved, err := store.GetSchedule(ctx, "t1", s.ID)
	require.NoError(t, err)
	assert.True(t, saved.RecognizedToDate.Equal(ledger.NewMoney(8000, "GBP")))
}

// =============================================================================
// REVERSE
// =============================================================================

func TestReverse_SwapsAccountsAndRollsBack(t *testing.T) {
	// GIVEN: A posted 2,500 entry
	// WHEN: Reversing it
	// THEN: A posted mirror entry with swapped accounts and the same
	//       positive amount; recognized-to-date rolls back to zero

	r, store := newTestRunner(t)
	ctx := context.Background()
	s, draft := draftFor(t, r, store, 10000, 100, 25)
	_, err := r.Post(ctx, "t1", draft.ID, "carol")
	require.NoError(t, err)

	rev, err := r.Reverse(ctx, "t1", draft.ID, "carol")
	require.NoError(t, err)

	assert.Equal(t, recognition.JournalPosted, rev.Status)
	assert.Equal(t, recognition.AccountRevenue, rev.DebitAccount)
	assert.Equal(t, recognition.AccountDeferredRevenue, rev.CreditAccount)
	assert.True(t, rev.Amount.Equal(ledger.NewMoney(2500, "GBP")))
	assert.Equal(t, draft.ID, rev.Reverses)

	orig, err := store.GetJournalEntry(ctx, "t1", draft.ID)
	require.NoError(t, err)
	assert.True(t, orig.Reversed)
	assert.Equal(t, recognition.JournalPosted, orig.Status)

	saved, err := store.GetSchedule(ctx, "t1", s.ID)
	require.NoError(t, err)
	assert.True(t, saved.RecognizedToDate.IsZero())
	assert.Equal(t, recognition.ScheduleActive, saved.Status)
}

func TestReverse_ReactivatesCompletedSchedule(t *testing.T) {
	r, store := newTestRunner(t)
	ctx := context.Background()
	s, draft := draftFor(t, r, store, 10000, 100, 100)
	_, err := r.Post(ctx, "t1", draft.ID, "carol")
	require.NoError(t, err)

	_, err = r.Reverse(ctx, "t1", draft.ID, "carol")
	require.NoError(t, err)

	saved, err := store.GetSchedule(ctx, "t1", s.ID)
	require.NoError(t, err)
	assert.Equal(t, recognition.ScheduleActive, saved.Status)
	assert.True(t, saved.RecognizedToDate.IsZero())
}

func TestReverse_Draft_Rejected(t *testing.T) {
	r, store := newTestRunner(t)
	_, draft := draftFor(t, r, store, 10000, 100, 25)

	_, err := r.Reverse(context.Background(), "t1", draft.ID, "carol")
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)
}

func TestReverse_Twice_Rejected(t *testing.T) {
	r, store := newTestRunner(t)
	ctx := context.Background()
	_, draft := draftFor(t, r, store, 10000, 100, 25)
	_, err := r.Post(ctx, "t1", draft.ID, "carol")
	require.NoError(t, err)
	_, err = r.Reverse(ctx, "t1", draft.ID, "carol")
	require.NoError(t, err)

	_, err = r.Reverse(ctx, "t1", draft.ID, "carol")
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)
}
