package billing_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxis/fees-engine/billing"
	"github.com/praxis/fees-engine/ledger"
)

// =============================================================================
// AGING
// =============================================================================

func openInvoice(total float64, due ledger.TimePoint) billing.Invoice {
	return billing.Invoice{
		ID:       ledger.NewID("inv"),
		TenantID: "t1",
		Currency: "GBP",
		Total:    ledger.NewMoney(total, "GBP"),
		Status:   billing.InvoiceIssued,
		DueDate:  due,
	}
}

func TestAgeInvoices_BucketsByDaysOverdue(t *testing.T) {
	// GIVEN: Invoices overdue by 0, 10, 45, 75 and 120 days, plus a paid one
	// WHEN: Aging as of today
	// THEN: 0-30 holds two, each later band one, and paid is excluded

	today := ledger.NewTimePoint(2024, 6, 1)
	invoices := []billing.Invoice{
		openInvoice(100, today),              // due today, 0 days
		openInvoice(200, today.AddDays(-10)), // 10 days
		openInvoice(300, today.AddDays(-45)), // 45 days
		openInvoice(400, today.AddDays(-75)), // 75 days
		openInvoice(500, today.AddDays(-120)),
	}
	paid := openInvoice(999, today.AddDays(-120))
	paid.Status = billing.InvoicePaid
	invoices = append(invoices, paid)

	bands := billing.AgeInvoices(invoices, today, "GBP")
	require.Len(t, bands, 4)

	assert.Equal(t, "0-30", bands[0].Label)
	assert.Equal(t, 2, bands[0].Count)
	assert.True(t, bands[0].Value.Equal(ledger.NewMoney(300, "GBP")))

	assert.Equal(t, "31-60", bands[1].Label)
	assert.Equal(t, 1, bands[1].Count)
	assert.True(t, bands[1].Value.Equal(ledger.NewMoney(300, "GBP")))

	assert.Equal(t, "61-90", bands[2].Label)
	assert.True(t, bands[2].Value.Equal(ledger.NewMoney(400, "GBP")))

	assert.Equal(t, "90+", bands[3].Label)
	assert.Equal(t, -1, bands[3].To)
	assert.True(t, bands[3].Value.Equal(ledger.NewMoney(500, "GBP")))
}

func TestAgeInvoices_DisputedStillAges(t *testing.T) {
	today := ledger.NewTimePoint(2024, 6, 1)
	disputed := openInvoice(250, today.AddDays(-45))
	disputed.Status = billing.InvoiceDisputed

	bands := billing.AgeInvoices([]billing.Invoice{disputed}, today, "GBP")
	assert.Equal(t, 1, bands[1].Count)
	assert.True(t, bands[1].Value.Equal(ledger.NewMoney(250, "GBP")))
}

// =============================================================================
// DUNNING
// =============================================================================

// overdueInvoice issues an invoice dated so it is the given days overdue.
func overdueInvoice(t *testing.T, f *fixture, today ledger.TimePoint, daysOverdue int) *billing.Invoice {
	t.Helper()
	ctx := context.Background()
	a := f.postLine(t, "eng-1", ledger.CaptureUnitID(ledger.NewID("cap")), 1000)
	pack := f.approvedPack(t, "eng-1", a.ID)

	// DueDate = issue + 30, so issue at -(30 + overdue) days.
	inv, err := f.poster.Issue(ctx, "t1", pack.ID, billing.IssueOptions{
		IssueDate: today.AddDays(-(30 + daysOverdue)),
	})
	require.NoError(t, err)
	return inv
}

func TestRunDunning_FiresDueStepsOnce(t *testing.T) {
	// GIVEN: An invoice 45 days overdue
	// WHEN: Running dunning twice
	// THEN: The 7 and 30 day steps fire exactly once; the rerun is empty

	f := newFixture(t)
	ctx := context.Background()
	f.seedEngagement(t, "eng-1")
	f.seedStandardVat(t)
	today := ledger.NewTimePoint(2024, 6, 1)
	inv := overdueInvoice(t, f, today, 45)

	fired, err := f.tracker.RunDunning(ctx, "t1", today)
	require.NoError(t, err)
	require.Len(t, fired, 2)
	assert.Equal(t, "gentle_reminder", fired[0].Step)
	assert.Equal(t, "formal_notice", fired[1].Step)
	assert.Equal(t, inv.ID, fired[0].InvoiceID)

	again, err := f.tracker.RunDunning(ctx, "t1", today)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestRunDunning_LaterRunFiresOnlyNewSteps(t *testing.T) {
	// GIVEN: Dunning already ran at 45 days overdue
	// WHEN: Running again at 65 days
	// THEN: Only the final demand fires

	f := newFixture(t)
	ctx := context.Background()
	f.seedEngagement(t, "eng-1")
	f.seedStandardVat(t)
	today := ledger.NewTimePoint(2024, 6, 1)
	overdueInvoice(t, f, today, 45)

	_, err := f.tracker.RunDunning(ctx, "t1", today)
	require.NoError(t, err)

	fired, err := f.tracker.RunDunning(ctx, "t1", today.AddDays(20))
	require.NoError(t, err)
	require.Len(t, fired, 1)
	assert.Equal(t, "final_demand", fired[0].Step)
}

func TestRunDunning_EscalatesToLegal(t *testing.T) {
	// GIVEN: An invoice 100 days overdue
	// WHEN: Running dunning
	// THEN: The invoice escalates to Legal and still receives unsent steps

	f := newFixture(t)
	ctx := context.Background()
	f.seedEngagement(t, "eng-1")
	f.seedStandardVat(t)
	today := ledger.NewTimePoint(2024, 6, 1)
	inv := overdueInvoice(t, f, today, 100)

	fired, err := f.tracker.RunDunning(ctx, "t1", today)
	require.NoError(t, err)
	assert.Len(t, fired, 3)

	saved, err := f.store.GetInvoice(ctx, "t1", inv.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.InvoiceLegal, saved.Status)
}

func TestRunDunning_SkipsPaidAndDisputed(t *testing.T) {
	// GIVEN: One paid and one disputed invoice, both long overdue
	// WHEN: Running dunning
	// THEN: Nothing fires and neither escalates

	f := newFixture(t)
	ctx := context.Background()
	f.seedEngagement(t, "eng-1")
	f.seedStandardVat(t)
	today := ledger.NewTimePoint(2024, 6, 1)

	paid := overdueInvoice(t, f, today, 100)
	_, err := f.poster.RecordPayment(ctx, "t1", paid.ID, paid.Total, today)
	require.NoError(t, err)

	disputed := overdueInvoice(t, f, today, 100)
	_, err = f.tracker.Dispute(ctx, "t1", disputed.ID)
	require.NoError(t, err)

	fired, err := f.tracker.RunDunning(ctx, "t1", today)
	require.NoError(t, err)
	assert.Empty(t, fired)

	saved, err := f.store.GetInvoice(ctx, "t1", disputed.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.InvoiceDisputed, saved.Status)
}

// =============================================================================
// DISPUTES
// =============================================================================

func TestDispute_ThenResolve_RestoresSettlementStatus(t *testing.T) {
	// GIVEN: A half-paid invoice under dispute
	// WHEN: Resolving the dispute
	// THEN: Status lands on PartiallyPaid from the AR stream

	f := newFixture(t)
	ctx := context.Background()
	inv := issuedInvoice(t, f, 1000) // total 1,200

	_, err := f.poster.RecordPayment(ctx, "t1", inv.ID, ledger.NewMoney(600, "GBP"), ledger.Today())
	require.NoError(t, err)

	disputed, err := f.tracker.Dispute(ctx, "t1", inv.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.InvoiceDisputed, disputed.Status)
	assert.NotNil(t, disputed.DisputedAt)

	resolved, err := f.tracker.ResolveDispute(ctx, "t1", inv.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.InvoicePartiallyPaid, resolved.Status)
	assert.Nil(t, resolved.DisputedAt)
}

func TestDispute_PaymentDuringDispute_KeepsDisputedStatus(t *testing.T) {
	// GIVEN: A disputed invoice
	// WHEN: A payment settles it in full
	// THEN: Status stays Disputed until resolution, which lands on Paid

	f := newFixture(t)
	ctx := context.Background()
	inv := issuedInvoice(t, f, 1000)

	_, err := f.tracker.Dispute(ctx, "t1", inv.ID)
	require.NoError(t, err)

	_, err = f.poster.RecordPayment(ctx, "t1", inv.ID, inv.Total, ledger.Today())
	require.NoError(t, err)
	saved, err := f.store.GetInvoice(ctx, "t1", inv.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.InvoiceDisputed, saved.Status)

	resolved, err := f.tracker.ResolveDispute(ctx, "t1", inv.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.InvoicePaid, resolved.Status)
}

func TestDispute_PaidInvoice_Rejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := issuedInvoice(t, f, 1000)
	_, err := f.poster.RecordPayment(ctx, "t1", inv.ID, inv.Total, ledger.Today())
	require.NoError(t, err)

	_, err = f.tracker.Dispute(ctx, "t1", inv.ID)
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)
}

func TestResolveDispute_NotDisputed_Rejected(t *testing.T) {
	f := newFixture(t)
	inv := issuedInvoice(t, f, 1000)

	_, err := f.tracker.ResolveDispute(context.Background(), "t1", inv.ID)
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)
}
