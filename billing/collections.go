/*
collections.go - AR aging, dunning and disputes

PURPOSE:
  Buckets issued invoices by days overdue, drives the dunning sequence,
  and tracks the per-invoice collection state machine:

    Issued -> {Paid | PartiallyPaid | Disputed | Legal}

  Dunning is idempotent: a step already sent for an invoice is never sent
  again, so re-running a sequence after a crash or overlap is safe.
  A dispute freezes aging-driven escalation until resolved.
*/
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/praxis/fees-engine/ledger"
)

// =============================================================================
// AGING
// =============================================================================

// ARAgingBand is an overdue band. The standard report uses
// 0-30 / 31-60 / 61-90 / 90+.
type ARAgingBand struct {
	Label string
	From  int
	To    int // -1 = open-ended
	Value ledger.Money
	Count int
}

var arBands = []struct {
	label    string
	from, to int
}{
	{"0-30", 0, 30},
	{"31-60", 31, 60},
	{"61-90", 61, 90},
	{"90+", 91, -1},
}

// AgeInvoices buckets open invoices by days overdue. Paid invoices are
// excluded; disputed and legal invoices still age for reporting.
func AgeInvoices(invoices []Invoice, today ledger.TimePoint, currency string) []ARAgingBand {
	bands := make([]ARAgingBand, len(arBands))
	for i, b := range arBands {
		bands[i] = ARAgingBand{Label: b.label, From: b.from, To: b.to, Value: ledger.NewMoney(0, currency)}
	}

	for _, inv := range invoices {
		if inv.Status == InvoicePaid {
			continue
		}
		overdue := inv.DaysOverdue(today)
		for i := range bands {
			if overdue >= bands[i].From && (bands[i].To == -1 || overdue <= bands[i].To) {
				bands[i].Value = bands[i].Value.Add(inv.Total)
				bands[i].Count++
				break
			}
		}
	}
	return bands
}

// =============================================================================
// DUNNING
// =============================================================================

// DunningStep fires once per invoice when daysOverdue reaches AfterDays.
type DunningStep struct {
	Name      string
	AfterDays int
}

// DunningPolicy is the ordered escalation sequence, plus the threshold at
// which an invoice escalates to Legal.
type DunningPolicy struct {
	Steps          []DunningStep
	LegalAfterDays int
}

// DefaultDunningPolicy mirrors the usual reminder cadence.
var DefaultDunningPolicy = DunningPolicy{
	Steps: []DunningStep{
		{Name: "gentle_reminder", AfterDays: 7},
		{Name: "formal_notice", AfterDays: 30},
		{Name: "final_demand", AfterDays: 60},
	},
	LegalAfterDays: 90,
}

// DunningEvent records one sent step. Append-only; its existence is the
// idempotency marker.
type DunningEvent struct {
	ID        string
	TenantID  ledger.TenantID
	InvoiceID string
	Step      string
	SentAt    time.Time
}

// =============================================================================
// TRACKER
// =============================================================================

type Tracker struct {
	Store  Store
	Policy DunningPolicy
}

func NewTracker(store Store, policy DunningPolicy) *Tracker {
	if len(policy.Steps) == 0 {
		policy = DefaultDunningPolicy
	}
	return &Tracker{Store: store, Policy: policy}
}

// RunDunning fires due, unsent steps for every open invoice and escalates
// long-overdue invoices to Legal. Disputed invoices are skipped entirely.
// Re-running is a no-op for already-sent steps.
func (t *Tracker) RunDunning(ctx context.Context, tenant ledger.TenantID, today ledger.TimePoint) ([]DunningEvent, error) {
	invoices, err := t.Store.ListInvoices(ctx, tenant)
	if err != nil {
		return nil, err
	}

	var fired []DunningEvent
	for _, inv := range invoices {
		if inv.Status == InvoicePaid || inv.Status == InvoiceDisputed {
			continue
		}
		overdue := inv.DaysOverdue(today)

		if inv.Status != InvoiceLegal && t.Policy.LegalAfterDays > 0 && overdue >= t.Policy.LegalAfterDays {
			inv.Status = InvoiceLegal
			if err := t.Store.SaveInvoice(ctx, inv); err != nil {
				return fired, err
			}
		}

		for _, step := range t.Policy.Steps {
			if overdue < step.AfterDays {
				continue
			}
			sent, err := t.Store.HasDunningEvent(ctx, inv.ID, step.Name)
			if err != nil {
				return fired, err
			}
			if sent {
				continue
			}
			event := DunningEvent{
				ID:        ledger.NewID("dun"),
				TenantID:  tenant,
				InvoiceID: inv.ID,
				Step:      step.Name,
				SentAt:    time.Now().UTC(),
			}
			if err := t.Store.AppendDunningEvent(ctx, event); err != nil {
				return fired, err
			}
			fired = append(fired, event)
		}
	}
	return fired, nil
}

// Dispute freezes aging-driven escalation for an invoice.
func (t *Tracker) Dispute(ctx context.Context, tenant ledger.TenantID, invoiceID string) (*Invoice, error) {
	inv, err := t.Store.GetInvoice(ctx, tenant, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, ledger.ErrNotFound
	}
	if inv.Status == InvoicePaid {
		return nil, fmt.Errorf("dispute %s: already paid: %w", invoiceID, ledger.ErrInvalidTransition)
	}
	if inv.Status == InvoiceDisputed {
		return inv, nil
	}

	now := time.Now().UTC()
	inv.Status = InvoiceDisputed
	inv.DisputedAt = &now
	if err := t.Store.SaveInvoice(ctx, *inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// ResolveDispute reopens collection. Status returns to Issued or
// PartiallyPaid depending on what has settled.
func (t *Tracker) ResolveDispute(ctx context.Context, tenant ledger.TenantID, invoiceID string) (*Invoice, error) {
	inv, err := t.Store.GetInvoice(ctx, tenant, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, ledger.ErrNotFound
	}
	if inv.Status != InvoiceDisputed {
		return nil, fmt.Errorf("resolve %s: not disputed: %w", invoiceID, ledger.ErrInvalidTransition)
	}

	txs, err := t.Store.ListARTransactions(ctx, tenant, inv.ID)
	if err != nil {
		return nil, err
	}
	settled := ledger.NewMoney(0, inv.Currency)
	for _, tx := range txs {
		switch tx.Kind {
		case ARPayment:
			settled = settled.Add(tx.Amount)
		case ARCredit:
			settled = settled.Sub(tx.Amount)
		}
	}

	inv.DisputedAt = nil
	switch {
	case settled.Amount.GreaterThanOrEqual(inv.Total.Amount):
		inv.Status = InvoicePaid
	case settled.IsPositive():
		inv.Status = InvoicePartiallyPaid
	default:
		inv.Status = InvoiceIssued
	}
	if err := t.Store.SaveInvoice(ctx, *inv); err != nil {
		return nil, err
	}
	return inv, nil
}
