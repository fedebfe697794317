package billing_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxis/fees-engine/billing"
	"github.com/praxis/fees-engine/ledger"
)

// =============================================================================
// ISSUE
// =============================================================================

func TestIssue_ComputesVatAndFlipsLines(t *testing.T) {
	// GIVEN: An approved pack of 4,750 (two 2,500 lines, one written down
	//        by 250) and a 20% VAT rule
	// WHEN: Issuing the invoice
	// THEN: Subtotal 4,750, VAT 950, total 5,700; every line Billed; an AR
	//       receivable for the total

	f := newFixture(t)
	ctx := context.Background()
	f.seedEngagement(t, "eng-1")
	f.seedStandardVat(t)

	a := f.postLine(t, "eng-1", "cap-a", 2500)
	b := f.postLine(t, "eng-1", "cap-b", 2500)
	_, err := f.wip.Adjust(ctx, b.ID, ledger.NewMoney(2250, "GBP"), "goodwill", "bob", "manager")
	require.NoError(t, err)

	pack := f.approvedPack(t, "eng-1", a.ID, b.ID)

	inv, err := f.poster.Issue(ctx, "t1", pack.ID, billing.IssueOptions{})
	require.NoError(t, err)

	assert.True(t, inv.Subtotal.Equal(ledger.NewMoney(4750, "GBP")))
	assert.Equal(t, "STD", inv.VatCode)
	assert.True(t, inv.VatAmount.Equal(ledger.NewMoney(950, "GBP")))
	assert.True(t, inv.Total.Equal(ledger.NewMoney(5700, "GBP")))
	assert.Equal(t, billing.InvoiceIssued, inv.Status)
	assert.Equal(t, inv.IssuedAt.AddDays(30), inv.DueDate)

	for _, id := range []ledger.WipLineID{a.ID, b.ID} {
		line, err := f.store.GetWipLine(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, ledger.WipBilled, line.Status)
	}

	txs, err := f.store.ListARTransactions(ctx, "t1", inv.ID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, billing.ARReceivable, txs[0].Kind)
	assert.True(t, txs[0].Amount.Equal(inv.Total))

	saved, err := f.store.GetBillingPack(ctx, "t1", pack.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.PackIssued, saved.Status)
}

func TestIssue_UnapprovedPack_Rejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedEngagement(t, "eng-1")
	f.seedStandardVat(t)
	a := f.postLine(t, "eng-1", "cap-a", 1000)

	pack, err := f.selector.CreateBillingPack(ctx, "t1", "eng-1", []ledger.WipLineID{a.ID}, "bob")
	require.NoError(t, err)

	_, err = f.poster.Issue(ctx, "t1", pack.ID, billing.IssueOptions{})
	assert.ErrorIs(t, err, ledger.ErrPackNotApproved)
}

func TestIssue_MissingVatRule_NeverDefaultsToZero(t *testing.T) {
	// GIVEN: No VAT rule for the engagement's dimensions
	// WHEN: Issuing
	// THEN: VatRuleNotFoundError; no line flips

	f := newFixture(t)
	ctx := context.Background()
	f.seedEngagement(t, "eng-1")
	a := f.postLine(t, "eng-1", "cap-a", 1000)
	pack := f.approvedPack(t, "eng-1", a.ID)

	_, err := f.poster.Issue(ctx, "t1", pack.ID, billing.IssueOptions{})

	var vatErr *ledger.VatRuleNotFoundError
	require.ErrorAs(t, err, &vatErr)
	assert.Equal(t, "GB", vatErr.PlaceOfSupply)

	line, err := f.store.GetWipLine(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.WipUnbilled, line.Status)
}

func TestIssue_ForeignCurrency_SnapshotsFxRate(t *testing.T) {
	// GIVEN: A 1,000 GBP pack and a 1.25 GBP/USD rate
	// WHEN: Issuing in USD
	// THEN: Subtotal 1,250 USD with the rate snapshotted on the invoice

	f := newFixture(t)
	ctx := context.Background()
	f.seedEngagement(t, "eng-1")
	f.seedStandardVat(t)
	a := f.postLine(t, "eng-1", "cap-a", 1000)
	pack := f.approvedPack(t, "eng-1", a.ID)

	inv, err := f.poster.Issue(ctx, "t1", pack.ID, billing.IssueOptions{Currency: "USD"})
	require.NoError(t, err)

	assert.Equal(t, "USD", inv.Currency)
	assert.True(t, inv.FxRate.Equal(decimal.NewFromFloat(1.25)))
	assert.True(t, inv.Subtotal.Equal(ledger.NewMoney(1250, "USD")))
	assert.True(t, inv.VatAmount.Equal(ledger.NewMoney(250, "USD")))
	assert.True(t, inv.Total.Equal(ledger.NewMoney(1500, "USD")))
}

func TestIssue_UnknownFxPair_Rejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedEngagement(t, "eng-1")
	f.seedStandardVat(t)
	a := f.postLine(t, "eng-1", "cap-a", 1000)
	pack := f.approvedPack(t, "eng-1", a.ID)

	_, err := f.poster.Issue(ctx, "t1", pack.ID, billing.IssueOptions{Currency: "JPY"})
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestIssue_BilledLinesAreTerminal(t *testing.T) {
	// GIVEN: An issued invoice
	// WHEN: Adjusting one of its lines or re-issuing the pack
	// THEN: Both are rejected; Billed is one-way

	f := newFixture(t)
	ctx := context.Background()
	f.seedEngagement(t, "eng-1")
	f.seedStandardVat(t)
	a := f.postLine(t, "eng-1", "cap-a", 1000)
	pack := f.approvedPack(t, "eng-1", a.ID)

	_, err := f.poster.Issue(ctx, "t1", pack.ID, billing.IssueOptions{})
	require.NoError(t, err)

	_, err = f.wip.Adjust(ctx, a.ID, ledger.NewMoney(900, "GBP"), "late discount", "bob", "manager")
	assert.ErrorIs(t, err, ledger.ErrLineNotAdjustable)

	_, err = f.poster.Issue(ctx, "t1", pack.ID, billing.IssueOptions{})
	assert.ErrorIs(t, err, ledger.ErrPackNotApproved)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func issuedInvoice(t *testing.T, f *fixture, value float64) *billing.Invoice {
	t.Helper()
	ctx := context.Background()
	f.seedEngagement(t, "eng-1")
	f.seedStandardVat(t)
	a := f.postLine(t, "eng-1", ledger.CaptureUnitID(ledger.NewID("cap")), value)
	pack := f.approvedPack(t, "eng-1", a.ID)
	inv, err := f.poster.Issue(ctx, "t1", pack.ID, billing.IssueOptions{})
	require.NoError(t, err)
	return inv
}

func TestRecordPayment_PartialThenFull(t *testing.T) {
	// GIVEN: A 1,200 invoice (1,000 + 20% VAT)
	// WHEN: Paying 500 then 700
	// THEN: PartiallyPaid, then Paid

	f := newFixture(t)
	ctx := context.Background()
	inv := issuedInvoice(t, f, 1000)

	_, err := f.poster.RecordPayment(ctx, "t1", inv.ID, ledger.NewMoney(500, "GBP"), ledger.Today())
	require.NoError(t, err)
	saved, err := f.store.GetInvoice(ctx, "t1", inv.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.InvoicePartiallyPaid, saved.Status)

	_, err = f.poster.RecordPayment(ctx, "t1", inv.ID, ledger.NewMoney(700, "GBP"), ledger.Today())
	require.NoError(t, err)
	saved, err = f.store.GetInvoice(ctx, "t1", inv.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.InvoicePaid, saved.Status)
}

func TestRecordPayment_NonPositive_Rejected(t *testing.T) {
	f := newFixture(t)
	inv := issuedInvoice(t, f, 1000)

	_, err := f.poster.RecordPayment(context.Background(), "t1", inv.ID, ledger.NewMoney(0, "GBP"), ledger.Today())
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestRecordPayment_UnknownInvoice_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.poster.RecordPayment(context.Background(), "t1", "inv-missing", ledger.NewMoney(100, "GBP"), ledger.Today())
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

// =============================================================================
// CREDIT NOTES
// =============================================================================

func TestIssueCreditNote_EmitsNegativeLineAndARCredit(t *testing.T) {
	// GIVEN: An issued invoice
	// WHEN: Crediting 300
	// THEN: A fresh Billed line carries -300, an AR credit row is appended
	//       and the original invoice is untouched

	f := newFixture(t)
	ctx := context.Background()
	inv := issuedInvoice(t, f, 1000)

	note, err := f.poster.IssueCreditNote(ctx, "t1", inv.ID, ledger.NewMoney(300, "GBP"), "overbilled", "carol")
	require.NoError(t, err)

	creditLine, err := f.store.GetWipLine(ctx, note.WipLineID)
	require.NoError(t, err)
	assert.Equal(t, ledger.WipBilled, creditLine.Status)
	assert.True(t, creditLine.BillingValue.Equal(ledger.NewMoney(-300, "GBP")))
	assert.True(t, creditLine.StandardValue.IsZero())

	txs, err := f.store.ListARTransactions(ctx, "t1", inv.ID)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, billing.ARCredit, txs[1].Kind)
	assert.True(t, txs[1].Amount.Equal(ledger.NewMoney(-300, "GBP")))

	notes, err := f.store.ListCreditNotes(ctx, "t1", inv.ID)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, note.ID, notes[0].ID)

	saved, err := f.store.GetInvoice(ctx, "t1", inv.ID)
	require.NoError(t, err)
	assert.True(t, saved.Total.Equal(inv.Total))
}

func TestIssueCreditNote_NonPositive_Rejected(t *testing.T) {
	f := newFixture(t)
	inv := issuedInvoice(t, f, 1000)

	_, err := f.poster.IssueCreditNote(context.Background(), "t1", inv.ID, ledger.NewMoney(-50, "GBP"), "bad", "carol")
	assert.ErrorIs(t, err, ledger.ErrValidation)
}
