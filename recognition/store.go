package recognition

import (
	"context"

	"github.com/praxis/fees-engine/ledger"
)

// Store is the persistence surface for schedules and journals. Journal
// posting updates recognized-to-date in the same transaction, so the
// runner needs the shared transaction boundary plus read access to
// engagements and approved capture units (input-hours method).
type Store interface {
	ledger.TxRunner

	GetEngagement(ctx context.Context, tenant ledger.TenantID, id ledger.EngagementID) (*ledger.Engagement, error)
	ListCaptureUnits(ctx context.Context, tenant ledger.TenantID, engagement ledger.EngagementID, status ledger.CaptureStatus) ([]ledger.CaptureUnit, error)

	SaveSchedule(ctx context.Context, s Schedule) error
	GetSchedule(ctx context.Context, tenant ledger.TenantID, id string) (*Schedule, error)
	ListSchedules(ctx context.Context, tenant ledger.TenantID) ([]Schedule, error)

	SaveJournalEntry(ctx context.Context, e JournalEntry) error
	GetJournalEntry(ctx context.Context, tenant ledger.TenantID, id string) (*JournalEntry, error)
	ListJournalEntries(ctx context.Context, tenant ledger.TenantID, scheduleID string) ([]JournalEntry, error)
}
