/*
store.go - Persistence surface for billing

PURPOSE:
  The billing store extends the core ledger store with packs, invoices,
  AR, dunning history, credit notes, VAT rules and retainers. One
  concrete store (sqlite or memory) implements the whole surface.

RESERVATIONS:
  A WipLine may belong to at most one open billing pack. ReserveWipLines
  is the atomic claim: it reserves every requested line or reports the
  contested ones, so two concurrent pack builds cannot share a line.
*/
package billing

import (
	"context"

	"github.com/praxis/fees-engine/ledger"
)

type Store interface {
	ledger.TxRunner
	ledger.EngagementStore
	ledger.WipStore

	SaveBillingPack(ctx context.Context, p BillingPack) error
	GetBillingPack(ctx context.Context, tenant ledger.TenantID, id string) (*BillingPack, error)
	ListBillingPacks(ctx context.Context, tenant ledger.TenantID, engagement ledger.EngagementID) ([]BillingPack, error)

	// ReserveWipLines atomically claims lines for a pack. On conflict it
	// reserves nothing and returns the contested line IDs.
	ReserveWipLines(ctx context.Context, packID string, lineIDs []ledger.WipLineID) ([]ledger.WipLineID, error)

	// ReleaseWipLines frees every reservation held by a pack.
	ReleaseWipLines(ctx context.Context, packID string) error

	ReleaseWipLine(ctx context.Context, packID string, lineID ledger.WipLineID) error

	SaveInvoice(ctx context.Context, inv Invoice) error
	GetInvoice(ctx context.Context, tenant ledger.TenantID, id string) (*Invoice, error)
	ListInvoices(ctx context.Context, tenant ledger.TenantID) ([]Invoice, error)

	// AppendARTransaction is append-only.
	AppendARTransaction(ctx context.Context, tx ARTransaction) error
	ListARTransactions(ctx context.Context, tenant ledger.TenantID, invoiceID string) ([]ARTransaction, error)

	// AppendDunningEvent is append-only; HasDunningEvent makes dunning
	// sequences idempotent.
	AppendDunningEvent(ctx context.Context, e DunningEvent) error
	HasDunningEvent(ctx context.Context, invoiceID, step string) (bool, error)

	SaveCreditNote(ctx context.Context, n CreditNote) error
	ListCreditNotes(ctx context.Context, tenant ledger.TenantID, invoiceID string) ([]CreditNote, error)

	SaveVatRule(ctx context.Context, r VatRule) error
	ListVatRules(ctx context.Context, tenant ledger.TenantID) ([]VatRule, error)

	SaveRetainerAccount(ctx context.Context, a RetainerAccount) error
	GetRetainerAccount(ctx context.Context, tenant ledger.TenantID, id string) (*RetainerAccount, error)
	ListRetainerAccounts(ctx context.Context, tenant ledger.TenantID) ([]RetainerAccount, error)

	// AppendRetainerTransaction is append-only.
	AppendRetainerTransaction(ctx context.Context, tx RetainerTransaction) error
	ListRetainerTransactions(ctx context.Context, tenant ledger.TenantID, accountID string) ([]RetainerTransaction, error)
}
