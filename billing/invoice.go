/*
invoice.go - Invoice issue and AR emission

PURPOSE:
  Converts an Approved billing pack into an immutable Invoice: VAT is
  computed from the tenant's VAT rule table (place-of-supply x customer
  type x service type), amounts are converted to the invoice currency at
  the invoice-date FX rate, every WIP line in the pack flips to Billed,
  and an AR receivable is emitted.

ATOMICITY:
  Issue is a multi-step write (line flips, invoice, AR, pack status). It
  runs inside the store's transaction boundary so a failure leaves no
  Billed line without its invoice.

ONE-WAY LAW:
  Billed lines never return to Unbilled. Corrections are credit notes:
  a fresh negative line plus an AR credit against the invoice.
*/
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/praxis/fees-engine/ledger"
)

// =============================================================================
// VAT RULES
// =============================================================================

// VatRule maps place-of-supply x customer type x service type to a code
// and rate. Absence of a matching rule is an error, never a silent 0%.
type VatRule struct {
	ID       string
	TenantID ledger.TenantID

	PlaceOfSupply string
	CustomerType  string
	ServiceType   string

	Code string
	Rate decimal.Decimal // e.g. 0.20 for 20%
}

func findVatRule(rules []VatRule, eng ledger.Engagement) (*VatRule, error) {
	for _, r := range rules {
		if r.PlaceOfSupply == eng.PlaceOfSupply &&
			r.CustomerType == eng.CustomerType &&
			r.ServiceType == eng.ServiceType {
			return &r, nil
		}
	}
	return nil, &ledger.VatRuleNotFoundError{
		PlaceOfSupply: eng.PlaceOfSupply,
		CustomerType:  eng.CustomerType,
		ServiceType:   eng.ServiceType,
	}
}

// =============================================================================
// FX
// =============================================================================

// FxProvider returns the rate multiplying a base-currency amount into the
// target currency, as of a date.
type FxProvider interface {
	Rate(ctx context.Context, from, to string, at ledger.TimePoint) (decimal.Decimal, error)
}

// StaticFxTable is an FxProvider backed by a fixed pair table.
type StaticFxTable map[string]decimal.Decimal // key "GBP/USD"

func (t StaticFxTable) Rate(_ context.Context, from, to string, _ ledger.TimePoint) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	if r, ok := t[from+"/"+to]; ok {
		return r, nil
	}
	return decimal.Zero, fmt.Errorf("no FX rate for %s/%s: %w", from, to, ledger.ErrNotFound)
}

// =============================================================================
// INVOICE
// =============================================================================

type InvoiceStatus string

const (
	InvoiceIssued        InvoiceStatus = "issued"
	InvoicePartiallyPaid InvoiceStatus = "partially_paid"
	InvoicePaid          InvoiceStatus = "paid"
	InvoiceDisputed      InvoiceStatus = "disputed"
	InvoiceLegal         InvoiceStatus = "legal"
)

// Invoice is immutable once issued; only payment and credit events may
// reference it. Status is collection state, not content.
type Invoice struct {
	ID           string
	TenantID     ledger.TenantID
	EngagementID ledger.EngagementID
	PackID       string

	LineIDs []ledger.WipLineID

	Currency string
	FxRate   decimal.Decimal // snapshot: base -> invoice currency at issue date

	Subtotal  ledger.Money
	VatCode   string
	VatRate   decimal.Decimal
	VatAmount ledger.Money
	Total     ledger.Money

	Status   InvoiceStatus
	IssuedAt ledger.TimePoint
	DueDate  ledger.TimePoint

	// Set while a dispute freezes aging-driven escalation.
	DisputedAt *time.Time
}

func (i Invoice) DaysOverdue(today ledger.TimePoint) int {
	d := ledger.DaysBetween(i.DueDate, today)
	if d < 0 {
		return 0
	}
	return d
}

// ARTransaction is one immutable accounts-receivable row.
type ARTransaction struct {
	ID        string
	TenantID  ledger.TenantID
	InvoiceID string

	Kind   ARKind
	Amount ledger.Money
	Date   ledger.TimePoint

	CreatedAt time.Time
}

type ARKind string

const (
	ARReceivable ARKind = "receivable"
	ARPayment    ARKind = "payment"
	ARCredit     ARKind = "credit"
)

// CreditNote corrects a billed amount via a fresh negative line.
type CreditNote struct {
	ID        string
	TenantID  ledger.TenantID
	InvoiceID string
	WipLineID ledger.WipLineID // the fresh negative line
	Amount    ledger.Money
	Reason    string
	CreatedAt time.Time
}

// =============================================================================
// POSTER
// =============================================================================

type Poster struct {
	Store Store
	Fx    FxProvider
	Guard *ledger.EngagementGuard

	// DueInDays sets the payment term applied to new invoices.
	DueInDays int
}

func NewPoster(store Store, fx FxProvider, guard *ledger.EngagementGuard) *Poster {
	return &Poster{Store: store, Fx: fx, Guard: guard, DueInDays: 30}
}

// IssueOptions control currency and dating; zero values take the
// engagement base currency and today.
type IssueOptions struct {
	Currency  string
	IssueDate ledger.TimePoint
}

// Issue converts an approved pack into an invoice. All writes are atomic.
func (p *Poster) Issue(ctx context.Context, tenant ledger.TenantID, packID string, opts IssueOptions) (*Invoice, error) {
	pack, err := p.Store.GetBillingPack(ctx, tenant, packID)
	if err != nil {
		return nil, err
	}
	if pack == nil {
		return nil, ledger.ErrNotFound
	}
	if pack.Status != PackApproved {
		return nil, fmt.Errorf("issue %s: status %s: %w", packID, pack.Status, ledger.ErrPackNotApproved)
	}

	eng, err := p.Store.GetEngagement(ctx, tenant, pack.EngagementID)
	if err != nil {
		return nil, err
	}
	if eng == nil {
		return nil, ledger.ErrEngagementNotFound
	}

	issueDate := opts.IssueDate
	if issueDate.IsZero() {
		issueDate = ledger.Today()
	}
	currency := opts.Currency
	if currency == "" {
		currency = eng.BaseCurrency
	}

	rules, err := p.Store.ListVatRules(ctx, tenant)
	if err != nil {
		return nil, err
	}
	vat, err := findVatRule(rules, *eng)
	if err != nil {
		return nil, err
	}

	fxRate := decimal.NewFromInt(1)
	if currency != eng.BaseCurrency {
		fxRate, err = p.Fx.Rate(ctx, eng.BaseCurrency, currency, issueDate)
		if err != nil {
			return nil, err
		}
	}

	var invoice *Invoice
	err = p.Guard.Do(eng.ID, func() error {
		return p.Store.WithTx(ctx, func(ctx context.Context) error {
			subtotalBase := ledger.NewMoney(0, eng.BaseCurrency)
			lines := make([]ledger.WipLine, 0, len(pack.LineIDs))
			for _, id := range pack.LineIDs {
				line, err := p.Store.GetWipLine(ctx, id)
				if err != nil {
					return err
				}
				if line == nil {
					return fmt.Errorf("line %s: %w", id, ledger.ErrWipLineNotFound)
				}
				if line.Status != ledger.WipUnbilled {
					return fmt.Errorf("line %s is %s: %w", id, line.Status, ledger.ErrInvalidTransition)
				}
				subtotalBase = subtotalBase.Add(line.BillingValue)
				lines = append(lines, *line)
			}

			// Hard caps are re-verified at issue so the invoiced total can
			// never breach the cap even if the pack aged.
			if eng.HasHardCap() {
				billedLines, err := p.Store.ListWipLines(ctx, tenant, eng.ID, ledger.WipBilled)
				if err != nil {
					return err
				}
				billed := ledger.BilledTotal(billedLines, eng.BaseCurrency)
				if billed.Add(subtotalBase).GreaterThan(eng.FeeCap) {
					return &ledger.FeeCapExceededError{
						EngagementID:  eng.ID,
						FeeCap:        eng.FeeCap,
						AlreadyBilled: billed,
						Selected:      subtotalBase,
					}
				}
			}

			subtotal := ledger.Money{Amount: subtotalBase.Amount.Mul(fxRate), Currency: currency}
			vatAmount := subtotal.Mul(vat.Rate)
			total := subtotal.Add(vatAmount)

			invoice = &Invoice{
				ID:           ledger.NewID("inv"),
				TenantID:     tenant,
				EngagementID: eng.ID,
				PackID:       pack.ID,
				LineIDs:      pack.LineIDs,
				Currency:     currency,
				FxRate:       fxRate,
				Subtotal:     subtotal,
				VatCode:      vat.Code,
				VatRate:      vat.Rate,
				VatAmount:    vatAmount,
				Total:        total,
				Status:       InvoiceIssued,
				IssuedAt:     issueDate,
				DueDate:      issueDate.AddDays(p.DueInDays),
			}

			// One-way flip.
			for i := range lines {
				if err := ledger.MarkBilled(&lines[i]); err != nil {
					return err
				}
				if err := p.Store.SaveWipLine(ctx, lines[i]); err != nil {
					return err
				}
			}

			if err := p.Store.SaveInvoice(ctx, *invoice); err != nil {
				return err
			}

			ar := ARTransaction{
				ID:        ledger.NewID("ar"),
				TenantID:  tenant,
				InvoiceID: invoice.ID,
				Kind:      ARReceivable,
				Amount:    total,
				Date:      issueDate,
				CreatedAt: time.Now().UTC(),
			}
			if err := p.Store.AppendARTransaction(ctx, ar); err != nil {
				return err
			}

			pack.Status = PackIssued
			pack.UpdatedAt = time.Now().UTC()
			if err := p.Store.SaveBillingPack(ctx, *pack); err != nil {
				return err
			}
			return p.Store.ReleaseWipLines(ctx, pack.ID)
		})
	})
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

// RecordPayment reconciles a payment against an invoice's AR and updates
// collection status.
func (p *Poster) RecordPayment(ctx context.Context, tenant ledger.TenantID, invoiceID string, amount ledger.Money, date ledger.TimePoint) (*ARTransaction, error) {
	inv, err := p.Store.GetInvoice(ctx, tenant, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, ledger.ErrNotFound
	}
	if amount.IsZero() || amount.IsNegative() {
		return nil, fmt.Errorf("payment must be positive: %w", ledger.ErrValidation)
	}

	tx := &ARTransaction{
		ID:        ledger.NewID("ar"),
		TenantID:  tenant,
		InvoiceID: invoiceID,
		Kind:      ARPayment,
		Amount:    amount,
		Date:      date,
		CreatedAt: time.Now().UTC(),
	}

	err = p.Store.WithTx(ctx, func(ctx context.Context) error {
		if err := p.Store.AppendARTransaction(ctx, *tx); err != nil {
			return err
		}

		settled, err := p.settledAmount(ctx, tenant, *inv)
		if err != nil {
			return err
		}

		// Disputed invoices keep their status; payment still reconciles.
		if inv.Status != InvoiceDisputed && inv.Status != InvoiceLegal {
			if settled.Amount.GreaterThanOrEqual(inv.Total.Amount) {
				inv.Status = InvoicePaid
			} else {
				inv.Status = InvoicePartiallyPaid
			}
		}
		return p.Store.SaveInvoice(ctx, *inv)
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// IssueCreditNote corrects a billed amount: a fresh line carrying the
// negative value, a credit adjustment entry, and an AR credit row.
// The original invoice and its lines are untouched.
func (p *Poster) IssueCreditNote(ctx context.Context, tenant ledger.TenantID, invoiceID string, amount ledger.Money, reason string, actor ledger.ActorID) (*CreditNote, error) {
	inv, err := p.Store.GetInvoice(ctx, tenant, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, ledger.ErrNotFound
	}
	if amount.IsZero() || amount.IsNegative() {
		return nil, fmt.Errorf("credit amount must be positive: %w", ledger.ErrValidation)
	}

	var note *CreditNote
	err = p.Store.WithTx(ctx, func(ctx context.Context) error {
		now := time.Now().UTC()
		creditLine := ledger.WipLine{
			ID:            ledger.WipLineID(ledger.NewID("wip")),
			TenantID:      tenant,
			EngagementID:  inv.EngagementID,
			Kind:          ledger.KindTime,
			StandardValue: amount.Zero(),
			BillingValue:  amount.Neg(),
			Status:        ledger.WipBilled,
			PostedAt:      ledger.Today(),
			UpdatedAt:     ledger.Today(),
		}
		if err := p.Store.InsertWipLine(ctx, creditLine); err != nil {
			return err
		}

		entry := ledger.AdjustmentEntry{
			ID:           ledger.NewID("adj"),
			TenantID:     tenant,
			WipLineID:    creditLine.ID,
			EngagementID: inv.EngagementID,
			Kind:         ledger.AdjustCredit,
			Delta:        amount.Neg(),
			Reason:       reason,
			Actor:        actor,
			CreatedAt:    ledger.Today(),
		}
		if err := p.Store.AppendAdjustment(ctx, entry); err != nil {
			return err
		}

		note = &CreditNote{
			ID:        ledger.NewID("cn"),
			TenantID:  tenant,
			InvoiceID: invoiceID,
			WipLineID: creditLine.ID,
			Amount:    amount,
			Reason:    reason,
			CreatedAt: now,
		}
		if err := p.Store.SaveCreditNote(ctx, *note); err != nil {
			return err
		}

		ar := ARTransaction{
			ID:        ledger.NewID("ar"),
			TenantID:  tenant,
			InvoiceID: invoiceID,
			Kind:      ARCredit,
			Amount:    amount.Neg(),
			Date:      ledger.Today(),
			CreatedAt: now,
		}
		return p.Store.AppendARTransaction(ctx, ar)
	})
	if err != nil {
		return nil, err
	}
	return note, nil
}

// settledAmount sums payments and credits against an invoice.
func (p *Poster) settledAmount(ctx context.Context, tenant ledger.TenantID, inv Invoice) (ledger.Money, error) {
	txs, err := p.Store.ListARTransactions(ctx, tenant, inv.ID)
	if err != nil {
		return ledger.Money{}, err
	}
	settled := ledger.NewMoney(0, inv.Currency)
	for _, t := range txs {
		switch t.Kind {
		case ARPayment:
			settled = settled.Add(t.Amount)
		case ARCredit:
			settled = settled.Sub(t.Amount) // credits are negative amounts
		}
	}
	return settled, nil
}
