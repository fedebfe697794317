/*
retainer.go - Retainer accounts

PURPOSE:
  A retainer is a prepaid balance held against an engagement. Deposits
  top it up, drawdowns consume it against invoices, and an optional
  monthly interest accrual credits idle balances. The balance itself is
  never stored as a mutable scalar on writes: it is the fold of the
  immutable transaction stream, cached on the account row for reads.

CONCURRENCY:
  Drawdown is a read-then-write (check balance, then consume), so every
  mutation runs under the engagement guard.
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
// TYPES
// =============================================================================

// RetainerAccount holds the cached balance plus replenishment targets.
// Target is the level deposits aim to restore; LowThreshold drives the
// low-balance report.
type RetainerAccount struct {
	ID           string
	TenantID     ledger.TenantID
	EngagementID ledger.EngagementID

	Balance      ledger.Money
	Target       ledger.Money
	LowThreshold ledger.Money

	// AnnualInterestRate, when positive, accrues monthly interest on the
	// balance. e.g. 0.02 for 2% p.a.
	AnnualInterestRate decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a RetainerAccount) IsLow() bool {
	return a.Balance.LessThan(a.LowThreshold) || a.Balance.Equal(a.LowThreshold)
}

type RetainerTxKind string

const (
	RetainerDeposit  RetainerTxKind = "deposit"
	RetainerDrawdown RetainerTxKind = "drawdown"
	RetainerInterest RetainerTxKind = "interest"
)

// RetainerTransaction is one immutable movement. Deposits and interest
// carry positive amounts, drawdowns negative.
type RetainerTransaction struct {
	ID        string
	TenantID  ledger.TenantID
	AccountID string

	Kind      RetainerTxKind
	Amount    ledger.Money
	InvoiceID string // set for drawdowns applied against an invoice
	Memo      string
	Date      ledger.TimePoint

	CreatedAt time.Time
}

// =============================================================================
// SERVICE
// =============================================================================

type RetainerService struct {
	Store Store
	Guard *ledger.EngagementGuard
}

func NewRetainerService(store Store, guard *ledger.EngagementGuard) *RetainerService {
	return &RetainerService{Store: store, Guard: guard}
}

// Open creates a retainer account for an engagement.
func (s *RetainerService) Open(ctx context.Context, tenant ledger.TenantID, engagementID ledger.EngagementID, target, lowThreshold ledger.Money, annualRate decimal.Decimal) (*RetainerAccount, error) {
	eng, err := s.Store.GetEngagement(ctx, tenant, engagementID)
	if err != nil {
		return nil, err
	}
	if eng == nil {
		return nil, ledger.ErrEngagementNotFound
	}
	if target.IsNegative() || lowThreshold.IsNegative() {
		return nil, fmt.Errorf("target and threshold must be non-negative: %w", ledger.ErrValidation)
	}

	now := time.Now().UTC()
	account := &RetainerAccount{
		ID:                 ledger.NewID("ret"),
		TenantID:           tenant,
		EngagementID:       engagementID,
		Balance:            ledger.NewMoney(0, eng.BaseCurrency),
		Target:             target,
		LowThreshold:       lowThreshold,
		AnnualInterestRate: annualRate,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.Store.SaveRetainerAccount(ctx, *account); err != nil {
		return nil, err
	}
	return account, nil
}

// Deposit tops up the balance.
func (s *RetainerService) Deposit(ctx context.Context, tenant ledger.TenantID, accountID string, amount ledger.Money, memo string) (*RetainerAccount, error) {
	if amount.IsZero() || amount.IsNegative() {
		return nil, fmt.Errorf("deposit must be positive: %w", ledger.ErrValidation)
	}
	return s.apply(ctx, tenant, accountID, RetainerTransaction{
		Kind:   RetainerDeposit,
		Amount: amount,
		Memo:   memo,
		Date:   ledger.Today(),
	})
}

// Drawdown consumes balance, typically against an invoice. The balance
// may never go negative.
func (s *RetainerService) Drawdown(ctx context.Context, tenant ledger.TenantID, accountID string, amount ledger.Money, invoiceID, memo string) (*RetainerAccount, error) {
	if amount.IsZero() || amount.IsNegative() {
		return nil, fmt.Errorf("drawdown must be positive: %w", ledger.ErrValidation)
	}
	return s.apply(ctx, tenant, accountID, RetainerTransaction{
		Kind:      RetainerDrawdown,
		Amount:    amount.Neg(),
		InvoiceID: invoiceID,
		Memo:      memo,
		Date:      ledger.Today(),
	})
}

// AccrueInterest credits one month of interest on the current balance.
// No-op for accounts without a rate or with an empty balance.
func (s *RetainerService) AccrueInterest(ctx context.Context, tenant ledger.TenantID, accountID string, asOf ledger.TimePoint) (*RetainerAccount, error) {
	account, err := s.Store.GetRetainerAccount(ctx, tenant, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ledger.ErrNotFound
	}
	if !account.AnnualInterestRate.IsPositive() || !account.Balance.IsPositive() {
		return account, nil
	}

	monthly := account.AnnualInterestRate.Div(decimal.NewFromInt(12))
	interest := account.Balance.Mul(monthly)
	return s.apply(ctx, tenant, accountID, RetainerTransaction{
		Kind:   RetainerInterest,
		Amount: interest,
		Memo:   "monthly interest " + asOf.String(),
		Date:   asOf,
	})
}

// apply appends a transaction and refolds the cached balance, serialized
// per engagement and atomic with the balance update.
func (s *RetainerService) apply(ctx context.Context, tenant ledger.TenantID, accountID string, tx RetainerTransaction) (*RetainerAccount, error) {
	var account *RetainerAccount

	run := func() error {
		return s.Store.WithTx(ctx, func(ctx context.Context) error {
			var err error
			account, err = s.Store.GetRetainerAccount(ctx, tenant, accountID)
			if err != nil {
				return err
			}
			if account == nil {
				return ledger.ErrNotFound
			}

			next := account.Balance.Add(tx.Amount)
			if next.IsNegative() {
				return fmt.Errorf("drawdown exceeds balance %s: %w", account.Balance, ledger.ErrValidation)
			}

			tx.ID = ledger.NewID("rtx")
			tx.TenantID = tenant
			tx.AccountID = accountID
			tx.CreatedAt = time.Now().UTC()
			if err := s.Store.AppendRetainerTransaction(ctx, tx); err != nil {
				return err
			}

			account.Balance = next
			account.UpdatedAt = time.Now().UTC()
			return s.Store.SaveRetainerAccount(ctx, *account)
		})
	}

	// Resolve the engagement first so the guard key is known.
	pre, err := s.Store.GetRetainerAccount(ctx, tenant, accountID)
	if err != nil {
		return nil, err
	}
	if pre == nil {
		return nil, ledger.ErrNotFound
	}
	if err := s.Guard.Do(pre.EngagementID, run); err != nil {
		return nil, err
	}
	return account, nil
}

// LowBalanceReport lists accounts at or under their low threshold, with
// the top-up needed to restore the target.
type LowBalanceEntry struct {
	Account RetainerAccount
	TopUp   ledger.Money
}

func (s *RetainerService) LowBalanceReport(ctx context.Context, tenant ledger.TenantID) ([]LowBalanceEntry, error) {
	accounts, err := s.Store.ListRetainerAccounts(ctx, tenant)
	if err != nil {
		return nil, err
	}
	var out []LowBalanceEntry
	for _, a := range accounts {
		if !a.IsLow() {
			continue
		}
		out = append(out, LowBalanceEntry{Account: a, TopUp: a.Target.Sub(a.Balance)})
	}
	return out, nil
}
