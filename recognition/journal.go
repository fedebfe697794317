/*
journal.go - Recognition journal entries

PURPOSE:
  Draft entries come from the runner (schedule.go); a controller posts
  them here. Posting is terminal: a posted entry is never edited, only
  reversed by a new entry with debit and credit swapped. RecognizedToDate moves only at post
  time, inside the same transaction as the status flip, serialized per
  engagement.
*/
package recognition

import (
	"context"
	"fmt"
	"time"

	"github.com/praxis/fees-engine/ledger"
)

// =============================================================================
// JOURNAL ENTRY
// =============================================================================

type JournalStatus string

const (
	JournalDraft  JournalStatus = "draft"
	JournalPosted JournalStatus = "posted"
)

const (
	AccountDeferredRevenue = "deferred_revenue"
	AccountRevenue         = "revenue"
)

// JournalEntry is one debit/credit pair. Reverses links a reversing
// entry to its original; Reversed marks the original once reversed.
type JournalEntry struct {
	ID           string
	TenantID     ledger.TenantID
	ScheduleID   string
	EngagementID ledger.EngagementID

	Period ledger.Period

	DebitAccount  string
	CreditAccount string
	Amount        ledger.Money

	Status   JournalStatus
	Reverses string
	Reversed bool

	PostedBy  ledger.ActorID
	PostedAt  *time.Time
	CreatedAt time.Time
}

func newDraftEntry(s Schedule, period ledger.Period, amount ledger.Money) JournalEntry {
	return JournalEntry{
		ID:            ledger.NewID("jrn"),
		TenantID:      s.TenantID,
		ScheduleID:    s.ID,
		EngagementID:  s.EngagementID,
		Period:        period,
		DebitAccount:  AccountDeferredRevenue,
		CreditAccount: AccountRevenue,
		Amount:        amount,
		Status:        JournalDraft,
		CreatedAt:     time.Now().UTC(),
	}
}

// =============================================================================
// POST / REVERSE
// =============================================================================

// Post flips a draft to Posted and moves the schedule's recognized-to-date
// by the entry amount, atomically. Posting is terminal. The clamp is
// re-verified here: a draft computed against a stale schedule cannot push
// cumulative recognized past the total.
func (r *Runner) Post(ctx context.Context, tenant ledger.TenantID, entryID string, actor ledger.ActorID) (*JournalEntry, error) {
	entry, err := r.Store.GetJournalEntry(ctx, tenant, entryID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, ledger.ErrNotFound
	}
	if entry.Status != JournalDraft {
		return nil, fmt.Errorf("entry %s is %s: %w", entryID, entry.Status, ledger.ErrInvalidTransition)
	}

	err = r.Guard.Do(entry.EngagementID, func() error {
		return r.Store.WithTx(ctx, func(ctx context.Context) error {
			s, err := r.Store.GetSchedule(ctx, tenant, entry.ScheduleID)
			if err != nil {
				return err
			}
			if s == nil {
				return ledger.ErrNotFound
			}

			next := s.RecognizedToDate.Add(entry.Amount)
			if next.GreaterThan(s.TotalAmount) {
				return fmt.Errorf("posting %s would recognize %s of %s: %w",
					entryID, next, s.TotalAmount, ledger.ErrValidation)
			}

			now := time.Now().UTC()
			entry.Status = JournalPosted
			entry.PostedBy = actor
			entry.PostedAt = &now
			if err := r.Store.SaveJournalEntry(ctx, *entry); err != nil {
				return err
			}

			s.RecognizedToDate = next
			if s.RecognizedToDate.Equal(s.TotalAmount) {
				s.Status = ScheduleComplete
			}
			s.UpdatedAt = now
			return r.Store.SaveSchedule(ctx, *s)
		})
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Reverse corrects a posted entry with a new entry carrying the same
// amount on swapped accounts, posted in the same step. The original is marked reversed but never edited; the
// schedule's recognized-to-date and status roll back accordingly.
func (r *Runner) Reverse(ctx context.Context, tenant ledger.TenantID, entryID string, actor ledger.ActorID) (*JournalEntry, error) {
	orig, err := r.Store.GetJournalEntry(ctx, tenant, entryID)
	if err != nil {
		return nil, err
	}
	if orig == nil {
		return nil, ledger.ErrNotFound
	}
	if orig.Status != JournalPosted {
		return nil, fmt.Errorf("entry %s is %s, only posted entries reverse: %w", entryID, orig.Status, ledger.ErrInvalidTransition)
	}
	if orig.Reversed {
		return nil, fmt.Errorf("entry %s already reversed: %w", entryID, ledger.ErrInvalidTransition)
	}

	var rev *JournalEntry
	err = r.Guard.Do(orig.EngagementID, func() error {
		return r.Store.WithTx(ctx, func(ctx context.Context) error {
			s, err := r.Store.GetSchedule(ctx, tenant, orig.ScheduleID)
			if err != nil {
				return err
			}
			if s == nil {
				return ledger.ErrNotFound
			}

			now := time.Now().UTC()
			rev = &JournalEntry{
				ID:            ledger.NewID("jrn"),
				TenantID:      tenant,
				ScheduleID:    orig.ScheduleID,
				EngagementID:  orig.EngagementID,
				Period:        orig.Period,
				DebitAccount:  orig.CreditAccount,
				CreditAccount: orig.DebitAccount,
				Amount:        orig.Amount,
				Status:        JournalPosted,
				Reverses:      orig.ID,
				PostedBy:      actor,
				PostedAt:      &now,
				CreatedAt:     now,
			}
			if err := r.Store.SaveJournalEntry(ctx, *rev); err != nil {
				return err
			}

			orig.Reversed = true
			if err := r.Store.SaveJournalEntry(ctx, *orig); err != nil {
				return err
			}

			s.RecognizedToDate = s.RecognizedToDate.Sub(orig.Amount)
			s.Status = ScheduleActive
			s.UpdatedAt = now
			return r.Store.SaveSchedule(ctx, *s)
		})
	})
	if err != nil {
		return nil, err
	}
	return rev, nil
}
