/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements every persistence surface in the engine (core ledger, rates,
  approvals and locks, billing, recognition) on one SQLite database. The
  same patterns apply to PostgreSQL with minor dialect differences.

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statements exist for adjustments, AR transactions,
  dunning events or retainer transactions. Corrections are new rows.

KEY TABLES:
  wip_lines / adjustments:   WIP value and its append-only audit trail
  wip_reservations:          at-most-one-open-pack per line, enforced by
                             the primary key on wip_line_id
  dunning_events:            UNIQUE(invoice_id, step) backs idempotent
                             dunning at the storage layer

TRANSACTIONS:
  WithTx binds a *sql.Tx to the context; store methods called with that
  context join the transaction. Nested WithTx calls reuse the bound
  transaction.

WAL MODE:
  The database opens with WAL so readers do not block the single writer.

MIGRATION:
  Schema is auto-migrated on New(). For production use a versioned
  migration tool.
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/praxis/fees-engine/approval"
	"github.com/praxis/fees-engine/billing"
	"github.com/praxis/fees-engine/ledger"
	"github.com/praxis/fees-engine/rates"
	"github.com/praxis/fees-engine/recognition"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS engagements (
		id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		client_id TEXT NOT NULL,
		name TEXT NOT NULL,
		base_currency TEXT NOT NULL,
		budget_hours TEXT NOT NULL,
		budget_value TEXT NOT NULL,
		cap_policy TEXT NOT NULL,
		fee_cap TEXT NOT NULL,
		recognition TEXT NOT NULL,
		place_of_supply TEXT NOT NULL,
		customer_type TEXT NOT NULL,
		service_type TEXT NOT NULL,
		expense_markup TEXT NOT NULL,
		mileage_rate TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (tenant_id, id)
	);

	CREATE TABLE IF NOT EXISTS capture_units (
		id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		engagement_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		role_id TEXT NOT NULL,
		client_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		date TEXT NOT NULL,
		quantity TEXT NOT NULL,
		category TEXT,
		billable INTEGER NOT NULL DEFAULT 1,
		narrative TEXT,
		status TEXT NOT NULL,
		rejection_reason TEXT,
		wip_line_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (tenant_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_captures_engagement
		ON capture_units(tenant_id, engagement_id, status);
	CREATE INDEX IF NOT EXISTS idx_captures_date
		ON capture_units(tenant_id, date);

	CREATE TABLE IF NOT EXISTS wip_lines (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		engagement_id TEXT NOT NULL,
		capture_unit_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		user_id TEXT NOT NULL,
		quantity TEXT NOT NULL,
		standard_value TEXT NOT NULL,
		billing_value TEXT NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		posted_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Hot path: unbilled lines per engagement for cap checks and aging.
	CREATE INDEX IF NOT EXISTS idx_wip_engagement_status
		ON wip_lines(tenant_id, engagement_id, status);

	-- Append-only audit of billing value changes.
	CREATE TABLE IF NOT EXISTS adjustments (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		wip_line_id TEXT NOT NULL,
		engagement_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		delta TEXT NOT NULL,
		currency TEXT NOT NULL,
		reason TEXT,
		actor TEXT NOT NULL,
		counter_engagement TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_adjustments_line
		ON adjustments(wip_line_id);

	CREATE TABLE IF NOT EXISTS rate_definitions (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		scope TEXT NOT NULL,
		role_id TEXT,
		client_id TEXT,
		person_id TEXT,
		hourly_rate TEXT NOT NULL,
		currency TEXT NOT NULL,
		effective_from TEXT NOT NULL,
		effective_to TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_rates_tenant
		ON rate_definitions(tenant_id);

	CREATE TABLE IF NOT EXISTS price_rules (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT,
		priority INTEGER NOT NULL DEFAULT 0,
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT,
		factor TEXT NOT NULL,
		category TEXT,
		client_id TEXT,
		effective_from TEXT NOT NULL,
		effective_to TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_rules_tenant
		ON price_rules(tenant_id, priority);

	CREATE TABLE IF NOT EXISTS approval_requests (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		subject TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		requester TEXT NOT NULL,
		chain_json TEXT NOT NULL,
		next_step INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		reason TEXT,
		rejection_reason TEXT,
		decided_by TEXT,
		decided_at TEXT,
		supersedes TEXT,
		payload_json TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_approvals_subject
		ON approval_requests(tenant_id, subject, subject_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_approvals_status
		ON approval_requests(tenant_id, status);

	CREATE TABLE IF NOT EXISTS period_locks (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		status TEXT NOT NULL,
		locked_by TEXT,
		locked_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_locks_tenant
		ON period_locks(tenant_id);

	CREATE TABLE IF NOT EXISTS billing_packs (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		engagement_id TEXT NOT NULL,
		line_ids_json TEXT NOT NULL,
		selected_value TEXT NOT NULL,
		currency TEXT NOT NULL,
		cap_status TEXT NOT NULL,
		status TEXT NOT NULL,
		approval_request_id TEXT,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_packs_engagement
		ON billing_packs(tenant_id, engagement_id);

	-- A line belongs to at most one open pack: the primary key is the claim.
	CREATE TABLE IF NOT EXISTS wip_reservations (
		wip_line_id TEXT PRIMARY KEY,
		pack_id TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reservations_pack
		ON wip_reservations(pack_id);

	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		engagement_id TEXT NOT NULL,
		pack_id TEXT NOT NULL,
		line_ids_json TEXT NOT NULL,
		currency TEXT NOT NULL,
		fx_rate TEXT NOT NULL,
		subtotal TEXT NOT NULL,
		vat_code TEXT NOT NULL,
		vat_rate TEXT NOT NULL,
		vat_amount TEXT NOT NULL,
		total TEXT NOT NULL,
		status TEXT NOT NULL,
		issued_at TEXT NOT NULL,
		due_date TEXT NOT NULL,
		disputed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_invoices_tenant
		ON invoices(tenant_id, status);

	-- Append-only accounts receivable.
	CREATE TABLE IF NOT EXISTS ar_transactions (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		invoice_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		date TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ar_invoice
		ON ar_transactions(tenant_id, invoice_id);

	-- UNIQUE(invoice_id, step) backs dunning idempotency.
	CREATE TABLE IF NOT EXISTS dunning_events (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		invoice_id TEXT NOT NULL,
		step TEXT NOT NULL,
		sent_at TEXT NOT NULL,
		UNIQUE (invoice_id, step)
	);

	CREATE TABLE IF NOT EXISTS credit_notes (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		invoice_id TEXT NOT NULL,
		wip_line_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		reason TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_credit_notes_invoice
		ON credit_notes(tenant_id, invoice_id);

	CREATE TABLE IF NOT EXISTS vat_rules (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		place_of_supply TEXT NOT NULL,
		customer_type TEXT NOT NULL,
		service_type TEXT NOT NULL,
		code TEXT NOT NULL,
		rate TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_vat_tenant
		ON vat_rules(tenant_id);

	CREATE TABLE IF NOT EXISTS retainer_accounts (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		engagement_id TEXT NOT NULL,
		balance TEXT NOT NULL,
		target TEXT NOT NULL,
		low_threshold TEXT NOT NULL,
		currency TEXT NOT NULL,
		annual_interest_rate TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Append-only retainer movements.
	CREATE TABLE IF NOT EXISTS retainer_transactions (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		invoice_id TEXT,
		memo TEXT,
		date TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_retainer_txs_account
		ON retainer_transactions(tenant_id, account_id);

	CREATE TABLE IF NOT EXISTS recognition_schedules (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		engagement_id TEXT NOT NULL,
		method TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		recognized TEXT NOT NULL,
		currency TEXT NOT NULL,
		service_start TEXT,
		service_end TEXT,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_schedules_tenant
		ON recognition_schedules(tenant_id, status);

	CREATE TABLE IF NOT EXISTS journal_entries (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		schedule_id TEXT NOT NULL,
		engagement_id TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		debit_account TEXT NOT NULL,
		credit_account TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		reverses TEXT,
		reversed INTEGER NOT NULL DEFAULT 0,
		posted_by TEXT,
		posted_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_journals_schedule
		ON journal_entries(tenant_id, schedule_id);

	-- One row per background job sweep; failed sweeps keep the error.
	CREATE TABLE IF NOT EXISTS scheduler_runs (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		job TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		items INTEGER NOT NULL DEFAULT 0,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_tenant
		ON scheduler_runs(tenant_id, job, started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTION BOUNDARY
// =============================================================================

type txKey struct{}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

func (s *Store) inTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*sql.Tx)
	return ok
}

// WithTx executes fn within a database transaction bound to the context.
// Nested calls join the outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	return tx.Commit()
}

// lock serializes writers unless the context already holds the tx lock.
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) rlock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

// =============================================================================
// SCAN HELPERS
// =============================================================================

func parseDec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func money(amount, currency string) ledger.Money {
	return ledger.Money{Amount: parseDec(amount), Currency: currency}
}

func parseDay(s string) ledger.TimePoint {
	t, _ := time.Parse("2006-01-02", s)
	return ledger.FromTime(t)
}

func parseDayPtr(ns sql.NullString) *ledger.TimePoint {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	tp := parseDay(ns.String)
	return &tp
}

func dayPtr(tp *ledger.TimePoint) any {
	if tp == nil {
		return nil
	}
	return tp.String()
}

func parseStamp(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func parseStampPtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseStamp(ns.String)
	return &t
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func stampPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return stamp(*t)
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// =============================================================================
// ENGAGEMENTS
// =============================================================================

func (s *Store) SaveEngagement(ctx context.Context, e ledger.Engagement) error {
	defer s.lock(ctx)()

	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO engagements
		(id, tenant_id, client_id, name, base_currency, budget_hours, budget_value,
		 cap_policy, fee_cap, recognition, place_of_supply, customer_type, service_type,
		 expense_markup, mileage_rate, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			client_id = excluded.client_id,
			name = excluded.name,
			base_currency = excluded.base_currency,
			budget_hours = excluded.budget_hours,
			budget_value = excluded.budget_value,
			cap_policy = excluded.cap_policy,
			fee_cap = excluded.fee_cap,
			recognition = excluded.recognition,
			place_of_supply = excluded.place_of_supply,
			customer_type = excluded.customer_type,
			service_type = excluded.service_type,
			expense_markup = excluded.expense_markup,
			mileage_rate = excluded.mileage_rate,
			status = excluded.status,
			updated_at = excluded.updated_at
	`,
		e.ID, e.TenantID, e.ClientID, e.Name, e.BaseCurrency,
		e.BudgetHours.String(), e.BudgetValue.Amount.String(),
		e.CapPolicy, e.FeeCap.Amount.String(), e.Recognition,
		e.PlaceOfSupply, e.CustomerType, e.ServiceType,
		e.ExpenseMarkupPercent.String(), e.MileageRate.Amount.String(),
		e.Status, e.CreatedAt.String(), e.UpdatedAt.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to save engagement: %w", err)
	}
	return nil
}

const engagementCols = `id, tenant_id, client_id, name, base_currency, budget_hours,
	budget_value, cap_policy, fee_cap, recognition, place_of_supply, customer_type,
	service_type, expense_markup, mileage_rate, status, created_at, updated_at`

func scanEngagement(row interface{ Scan(...any) error }) (ledger.Engagement, error) {
	var (
		e                                             ledger.Engagement
		budgetHours, budgetValue, feeCap              string
		expenseMarkup, mileageRate                    string
		createdAt, updatedAt                          string
	)
	err := row.Scan(
		&e.ID, &e.TenantID, &e.ClientID, &e.Name, &e.BaseCurrency, &budgetHours,
		&budgetValue, &e.CapPolicy, &feeCap, &e.Recognition, &e.PlaceOfSupply,
		&e.CustomerType, &e.ServiceType, &expenseMarkup, &mileageRate,
		&e.Status, &createdAt, &updatedAt,
	)
	if err != nil {
		return e, err
	}
	e.BudgetHours = parseDec(budgetHours)
	e.BudgetValue = money(budgetValue, e.BaseCurrency)
	e.FeeCap = money(feeCap, e.BaseCurrency)
	e.ExpenseMarkupPercent = parseDec(expenseMarkup)
	e.MileageRate = money(mileageRate, e.BaseCurrency)
	e.CreatedAt = parseDay(createdAt)
	e.UpdatedAt = parseDay(updatedAt)
	return e, nil
}

func (s *Store) GetEngagement(ctx context.Context, tenant ledger.TenantID, id ledger.EngagementID) (*ledger.Engagement, error) {
	defer s.rlock(ctx)()

	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT `+engagementCols+` FROM engagements WHERE tenant_id = ? AND id = ?`,
		tenant, id)
	e, err := scanEngagement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get engagement: %w", err)
	}
	return &e, nil
}

func (s *Store) ListEngagements(ctx context.Context, tenant ledger.TenantID) ([]ledger.Engagement, error) {
	defer s.rlock(ctx)()

	rows, err := s.q(ctx).QueryContext(ctx,
		`SELECT `+engagementCols+` FROM engagements WHERE tenant_id = ? ORDER BY created_at`,
		tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to list engagements: %w", err)
	}
	defer rows.Close()

	var out []ledger.Engagement
	for rows.Next() {
		e, err := scanEngagement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// CAPTURE UNITS
// =============================================================================

func (s *Store) SaveCaptureUnit(ctx context.Context, u ledger.CaptureUnit) error {
	defer s.lock(ctx)()

	var wipLineID any
	if u.WipLineID != nil {
		wipLineID = string(*u.WipLineID)
	}

	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO capture_units
		(id, tenant_id, engagement_id, user_id, role_id, client_id, kind, date,
		 quantity, category, billable, narrative, status, rejection_reason,
		 wip_line_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			status = excluded.status,
			rejection_reason = excluded.rejection_reason,
			quantity = excluded.quantity,
			date = excluded.date,
			category = excluded.category,
			narrative = excluded.narrative,
			wip_line_id = excluded.wip_line_id,
			updated_at = excluded.updated_at
	`,
		u.ID, u.TenantID, u.EngagementID, u.UserID, u.RoleID, u.ClientID,
		u.Kind, u.Date.String(), u.Quantity.String(), u.Category, u.Billable,
		u.Narrative, u.Status, u.RejectionReason, wipLineID,
		u.CreatedAt.String(), u.UpdatedAt.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to save capture unit: %w", err)
	}
	return nil
}

const captureCols = `id, tenant_id, engagement_id, user_id, role_id, client_id, kind,
	date, quantity, category, billable, narrative, status, rejection_reason,
	wip_line_id, created_at, updated_at`

func scanCaptureUnit(row interface{ Scan(...any) error }) (ledger.CaptureUnit, error) {
	var (
		u                             ledger.CaptureUnit
		date, quantity                string
		category, narrative, rejected sql.NullString
		wipLineID                     sql.NullString
		createdAt, updatedAt          string
	)
	err := row.Scan(
		&u.ID, &u.TenantID, &u.EngagementID, &u.UserID, &u.RoleID, &u.ClientID,
		&u.Kind, &date, &quantity, &category, &u.Billable, &narrative,
		&u.Status, &rejected, &wipLineID, &createdAt, &updatedAt,
	)
	if err != nil {
		return u, err
	}
	u.Date = parseDay(date)
	u.Quantity = parseDec(quantity)
	u.Category = category.String
	u.Narrative = narrative.String
	u.RejectionReason = rejected.String
	if wipLineID.Valid && wipLineID.String != "" {
		id := ledger.WipLineID(wipLineID.String)
		u.WipLineID = &id
	}
	u.CreatedAt = parseDay(createdAt)
	u.UpdatedAt = parseDay(updatedAt)
	return u, nil
}

func (s *Store) GetCaptureUnit(ctx context.Context, tenant ledger.TenantID, id ledger.CaptureUnitID) (*ledger.CaptureUnit, error) {
	defer s.rlock(ctx)()

	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT `+captureCols+` FROM capture_units WHERE tenant_id = ? AND id = ?`,
		tenant, id)
	u, err := scanCaptureUnit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get capture unit: %w", err)
	}
	return &u, nil
}

func (s *Store) ListCaptureUnits(ctx context.Context, tenant ledger.TenantID, engagement ledger.EngagementID, status ledger.CaptureStatus) ([]ledger.CaptureUnit, error) {
	defer s.rlock(ctx)()

	query := `SELECT ` + captureCols + ` FROM capture_units WHERE tenant_id = ?`
	args := []any{tenant}
	if engagement != "" {
		query += ` AND engagement_id = ?`
		args = append(args, engagement)
	}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY date, created_at`

	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list capture units: %w", err)
	}
	defer rows.Close()

	var out []ledger.CaptureUnit
	for rows.Next() {
		u, err := scanCaptureUnit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// =============================================================================
// WIP LINES AND ADJUSTMENTS
// =============================================================================

func (s *Store) InsertWipLine(ctx context.Context, l ledger.WipLine) error {
	defer s.lock(ctx)()

	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO wip_lines
		(id, tenant_id, engagement_id, capture_unit_id, kind, user_id, quantity,
		 standard_value, billing_value, currency, status, posted_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		l.ID, l.TenantID, l.EngagementID, l.CaptureUnitID, l.Kind, l.UserID,
		l.Quantity.String(), l.StandardValue.Amount.String(),
		l.BillingValue.Amount.String(), l.BillingValue.Currency,
		l.Status, l.PostedAt.String(), l.UpdatedAt.String(),
	)
	if isUniqueConstraintError(err) {
		return ledger.ErrConcurrencyConflict
	}
	if err != nil {
		return fmt.Errorf("failed to insert wip line: %w", err)
	}
	return nil
}

// SaveWipLine updates mutable fields only. standard_value is never part
// of the SET clause.
func (s *Store) SaveWipLine(ctx context.Context, l ledger.WipLine) error {
	defer s.lock(ctx)()

	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE wip_lines
		SET engagement_id = ?, billing_value = ?, status = ?, updated_at = ?
		WHERE id = ?
	`,
		l.EngagementID, l.BillingValue.Amount.String(), l.Status,
		l.UpdatedAt.String(), l.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to save wip line: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ledger.ErrWipLineNotFound
	}
	return nil
}

const wipCols = `id, tenant_id, engagement_id, capture_unit_id, kind, user_id,
	quantity, standard_value, billing_value, currency, status, posted_at, updated_at`

func scanWipLine(row interface{ Scan(...any) error }) (ledger.WipLine, error) {
	var (
		l                               ledger.WipLine
		quantity, std, billing, curr    string
		postedAt, updatedAt             string
	)
	err := row.Scan(
		&l.ID, &l.TenantID, &l.EngagementID, &l.CaptureUnitID, &l.Kind, &l.UserID,
		&quantity, &std, &billing, &curr, &l.Status, &postedAt, &updatedAt,
	)
	if err != nil {
		return l, err
	}
	l.Quantity = parseDec(quantity)
	l.StandardValue = money(std, curr)
	l.BillingValue = money(billing, curr)
	l.PostedAt = parseDay(postedAt)
	l.UpdatedAt = parseDay(updatedAt)
	return l, nil
}

func (s *Store) GetWipLine(ctx context.Context, id ledger.WipLineID) (*ledger.WipLine, error) {
	defer s.rlock(ctx)()

	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT `+wipCols+` FROM wip_lines WHERE id = ?`, id)
	l, err := scanWipLine(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wip line: %w", err)
	}
	return &l, nil
}

func (s *Store) ListWipLines(ctx context.Context, tenant ledger.TenantID, engagement ledger.EngagementID, status ledger.WipStatus) ([]ledger.WipLine, error) {
	defer s.rlock(ctx)()

	query := `SELECT ` + wipCols + ` FROM wip_lines WHERE tenant_id = ?`
	args := []any{tenant}
	if engagement != "" {
		query += ` AND engagement_id = ?`
		args = append(args, engagement)
	}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY posted_at`

	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list wip lines: %w", err)
	}
	defer rows.Close()

	var out []ledger.WipLine
	for rows.Next() {
		l, err := scanWipLine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// AppendAdjustment is append-only. No UPDATE, no DELETE.
func (s *Store) AppendAdjustment(ctx context.Context, e ledger.AdjustmentEntry) error {
	defer s.lock(ctx)()

	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO adjustments
		(id, tenant_id, wip_line_id, engagement_id, kind, delta, currency,
		 reason, actor, counter_engagement, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.TenantID, e.WipLineID, e.EngagementID, e.Kind,
		e.Delta.Amount.String(), e.Delta.Currency, e.Reason, e.Actor,
		e.CounterEngagement, e.CreatedAt.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to append adjustment: %w", err)
	}
	return nil
}

func (s *Store) ListAdjustments(ctx context.Context, lineID ledger.WipLineID) ([]ledger.AdjustmentEntry, error) {
	defer s.rlock(ctx)()

	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT id, tenant_id, wip_line_id, engagement_id, kind, delta, currency,
		       reason, actor, counter_engagement, created_at
		FROM adjustments WHERE wip_line_id = ? ORDER BY created_at
	`, lineID)
	if err != nil {
		return nil, fmt.Errorf("failed to list adjustments: %w", err)
	}
	defer rows.Close()

	var out []ledger.AdjustmentEntry
	for rows.Next() {
		var (
			e           ledger.AdjustmentEntry
			delta, curr string
			reason      sql.NullString
			counter     sql.NullString
			createdAt   string
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &e.WipLineID, &e.EngagementID,
			&e.Kind, &delta, &curr, &reason, &e.Actor, &counter, &createdAt); err != nil {
			return nil, err
		}
		e.Delta = money(delta, curr)
		e.Reason = reason.String
		e.CounterEngagement = ledger.EngagementID(counter.String)
		e.CreatedAt = parseDay(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// RATES
// =============================================================================

func (s *Store) SaveRateDefinition(ctx context.Context, d rates.RateDefinition) error {
	defer s.lock(ctx)()

	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT OR REPLACE INTO rate_definitions
		(id, tenant_id, scope, role_id, client_id, person_id, hourly_rate,
		 currency, effective_from, effective_to)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		d.ID, d.TenantID, d.Scope, d.RoleID, d.ClientID, d.PersonID,
		d.HourlyRate.Amount.String(), d.HourlyRate.Currency,
		d.EffectiveFrom.String(), dayPtr(d.EffectiveTo),
	)
	if err != nil {
		return fmt.Errorf("failed to save rate definition: %w", err)
	}
	return nil
}

func (s *Store) ListRateDefinitions(ctx context.Context, tenant ledger.TenantID) ([]rates.RateDefinition, error) {
	defer s.rlock(ctx)()

	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT id, tenant_id, scope, role_id, client_id, person_id, hourly_rate,
		       currency, effective_from, effective_to
		FROM rate_definitions WHERE tenant_id = ?
	`, tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to list rate definitions: %w", err)
	}
	defer rows.Close()

	var out []rates.RateDefinition
	for rows.Next() {
		var (
			d                        rates.RateDefinition
			roleID, clientID, person sql.NullString
			rate, curr, from         string
			to                       sql.NullString
		)
		if err := rows.Scan(&d.ID, &d.TenantID, &d.Scope, &roleID, &clientID,
			&person, &rate, &curr, &from, &to); err != nil {
			return nil, err
		}
		d.RoleID = roleID.String
		d.ClientID = clientID.String
		d.PersonID = ledger.ActorID(person.String)
		d.HourlyRate = money(rate, curr)
		d.EffectiveFrom = parseDay(from)
		d.EffectiveTo = parseDayPtr(to)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) SavePriceRule(ctx context.Context, r rates.PriceRule) error {
	defer s.lock(ctx)()

	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT OR REPLACE INTO price_rules
		(id, tenant_id, name, priority, kind, amount, currency, factor,
		 category, client_id, effective_from, effective_to)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.TenantID, r.Name, r.Priority, r.Kind,
		r.Amount.Amount.String(), r.Amount.Currency, r.Factor.String(),
		r.Category, r.ClientID, r.EffectiveFrom.String(), dayPtr(r.EffectiveTo),
	)
	if err != nil {
		return fmt.Errorf("failed to save price rule: %w", err)
	}
	return nil
}

func (s *Store) ListPriceRules(ctx context.Context, tenant ledger.TenantID) ([]rates.PriceRule, error) {
	defer s.rlock(ctx)()

	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT id, tenant_id, name, priority, kind, amount, currency, factor,
		       category, client_id, effective_from, effective_to
		FROM price_rules WHERE tenant_id = ? ORDER BY priority
	`, tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to list price rules: %w", err)
	}
	defer rows.Close()

	var out []rates.PriceRule
	for rows.Next() {
		var (
			r                          rates.PriceRule
			name, category, clientID   sql.NullString
			amount, curr, factor, from string
			to                         sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.TenantID, &name, &r.Priority, &r.Kind,
			&amount, &curr, &factor, &category, &clientID, &from, &to); err != nil {
			return nil, err
		}
		r.Name = name.String
		r.Amount = money(amount, curr)
		r.Factor = parseDec(factor)
		r.Category = category.String
		r.ClientID = clientID.String
		r.EffectiveFrom = parseDay(from)
		r.EffectiveTo = parseDayPtr(to)
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// APPROVALS AND LOCKS
// =============================================================================

func (s *Store) SaveApprovalRequest(ctx context.Context, r approval.Request) error {
	defer s.lock(ctx)()

	chainJSON, _ := json.Marshal(r.Chain)
	payloadJSON, _ := json.Marshal(r.Payload)

	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT OR REPLACE INTO approval_requests
		(id, tenant_id, subject, subject_id, requester, chain_json, next_step,
		 status, reason, rejection_reason, decided_by, decided_at, supersedes,
		 payload_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.TenantID, r.Subject, r.SubjectID, r.Requester,
		string(chainJSON), r.NextStep, r.Status, r.Reason, r.RejectionReason,
		r.DecidedBy, stampPtr(r.DecidedAt), r.Supersedes, string(payloadJSON),
		stamp(r.CreatedAt), stamp(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save approval request: %w", err)
	}
	return nil
}

const approvalCols = `id, tenant_id, subject, subject_id, requester, chain_json,
	next_step, status, reason, rejection_reason, decided_by, decided_at,
	supersedes, payload_json, created_at, updated_at`

func scanApproval(row interface{ Scan(...any) error }) (approval.Request, error) {
	var (
		r                        approval.Request
		chainJSON, payloadJSON   string
		reason, rejection        sql.NullString
		decidedBy, supersedes    sql.NullString
		decidedAt                sql.NullString
		createdAt, updatedAt     string
	)
	err := row.Scan(
		&r.ID, &r.TenantID, &r.Subject, &r.SubjectID, &r.Requester, &chainJSON,
		&r.NextStep, &r.Status, &reason, &rejection, &decidedBy, &decidedAt,
		&supersedes, &payloadJSON, &createdAt, &updatedAt,
	)
	if err != nil {
		return r, err
	}
	json.Unmarshal([]byte(chainJSON), &r.Chain)
	json.Unmarshal([]byte(payloadJSON), &r.Payload)
	r.Reason = reason.String
	r.RejectionReason = rejection.String
	r.DecidedBy = ledger.ActorID(decidedBy.String)
	r.DecidedAt = parseStampPtr(decidedAt)
	r.Supersedes = supersedes.String
	r.CreatedAt = parseStamp(createdAt)
	r.UpdatedAt = parseStamp(updatedAt)
	return r, nil
}

func (s *Store) GetApprovalRequest(ctx context.Context, tenant ledger.TenantID, id string) (*approval.Request, error) {
	defer s.rlock(ctx)()

	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT `+approvalCols+` FROM approval_requests WHERE tenant_id = ? AND id = ?`,
		tenant, id)
	r, err := scanApproval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get approval request: %w", err)
	}
	return &r, nil
}

func (s *Store) GetApprovalBySubject(ctx context.Context, tenant ledger.TenantID, subject approval.SubjectType, subjectID string) (*approval.Request, error) {
	defer s.rlock(ctx)()

	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT `+approvalCols+` FROM approval_requests
		WHERE tenant_id = ? AND subject = ? AND subject_id = ?
		ORDER BY created_at DESC LIMIT 1
	`, tenant, subject, subjectID)
	r, err := scanApproval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get approval by subject: %w", err)
	}
	return &r, nil
}

func (s *Store) ListPendingApprovals(ctx context.Context, tenant ledger.TenantID) ([]approval.Request, error) {
	defer s.rlock(ctx)()

	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT `+approvalCols+` FROM approval_requests
		WHERE tenant_id = ? AND status = ? ORDER BY created_at
	`, tenant, approval.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending approvals: %w", err)
	}
	defer rows.Close()

	var out []approval.Request
	for rows.Next() {
		r, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) SavePeriodLock(ctx context.Context, l approval.PeriodLock) error {
	defer s.lock(ctx)()

	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT OR REPLACE INTO period_locks
		(id, tenant_id, period_start, period_end, status, locked_by, locked_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		l.ID, l.TenantID, l.Period.Start.String(), l.Period.End.String(),
		l.Status, l.LockedBy, stampPtr(l.LockedAt), stamp(l.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save period lock: %w", err)
	}
	return nil
}

func scanLock(row interface{ Scan(...any) error }) (approval.PeriodLock, error) {
	var (
		l           approval.PeriodLock
		start, end  string
		lockedBy    sql.NullString
		lockedAt    sql.NullString
		createdAt   string
	)
	err := row.Scan(&l.ID, &l.TenantID, &start, &end, &l.Status, &lockedBy, &lockedAt, &createdAt)
	if err != nil {
		return l, err
	}
	l.Period = ledger.Period{Start: parseDay(start), End: parseDay(end)}
	l.LockedBy = ledger.ActorID(lockedBy.String)
	l.LockedAt = parseStampPtr(lockedAt)
	l.CreatedAt = parseStamp(createdAt)
	return l, nil
}

func (s *Store) GetPeriodLock(ctx context.Context, tenant ledger.TenantID, id string) (*approval.PeriodLock, error) {
	defer s.rlock(ctx)()

	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT id, tenant_id, period_start, period_end, status, locked_by, locked_at, created_at
		FROM period_locks WHERE tenant_id = ? AND id = ?
	`, tenant, id)
	l, err := scanLock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get period lock: %w", err)
	}
	return &l, nil
}

func (s *Store) ListPeriodLocks(ctx context.Context, tenant ledger.TenantID) ([]approval.PeriodLock, error) {
	defer s.rlock(ctx)()

	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT id, tenant_id, period_start, period_end, status, locked_by, locked_at, created_at
		FROM period_locks WHERE tenant_id = ? ORDER BY period_start
	`, tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to list period locks: %w", err)
	}
	defer rows.Close()

	var out []approval.PeriodLock
	for rows.Next() {
		l, err := scanLock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// =============================================================================
// BILLING PACKS AND RESERVATIONS
// =============================================================================

func (s *Store) SaveBillingPack(ctx context.Context, p billing.BillingPack) error {
	defer s.lock(ctx)()

	lineIDs, _ := json.Marshal(p.LineIDs)

	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT OR REPLACE INTO billing_packs
		(id, tenant_id, engagement_id, line_ids_json, selected_value, currency,
		 cap_status, status, approval_request_id, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID, p.TenantID, p.EngagementID, string(lineIDs),
		p.SelectedValue.Amount.String(), p.SelectedValue.Currency,
		p.CapStatus, p.Status, p.ApprovalRequestID, p.CreatedBy,
		stamp(p.CreatedAt), stamp(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save billing pack: %w", err)
	}
	return nil
}

const packCols = `id, tenant_id, engagement_id, line_ids_json, selected_value,
	currency, cap_status, status, approval_request_id, created_by, created_at, updated_at`

func scanPack(row interface{ Scan(...any) error }) (billing.BillingPack, error) {
	var (
		p                    billing.BillingPack
		lineIDs              string
		value, curr          string
		approvalID           sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&p.ID, &p.TenantID, &p.EngagementID, &lineIDs, &value, &curr,
		&p.CapStatus, &p.Status, &approvalID, &p.CreatedBy, &createdAt, &updatedAt)
	if err != nil {
		return p, err
	}
	json.Unmarshal([]byte(lineIDs), &p.LineIDs)
	p.SelectedValue = money(value, curr)
	p.ApprovalRequestID = approvalID.String
	p.CreatedAt = parseStamp(createdAt)
	p.UpdatedAt = parseStamp(updatedAt)
	return p, nil
}

func (s *Store) GetBillingPack(ctx context.Context, tenant ledger.TenantID, id string) (*billing.BillingPack, error) {
	defer s.rlock(ctx)()

	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT `+packCols+` FROM billing_packs WHERE tenant_id = ? AND id = ?`,
		tenant, id)
	p, err := scanPack(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get billing pack: %w", err)
	}
	return &p, nil
}

func (s *Store) ListBillingPacks(ctx context.Context, tenant ledger.TenantID, engagement ledger.EngagementID) ([]billing.BillingPack, error) {
	defer s.rlock(ctx)()

	query := `SELECT ` + packCols + ` FROM billing_packs WHERE tenant_id = ?`
	args := []any{tenant}
	if engagement != "" {
		query += ` AND engagement_id = ?`
		args = append(args, engagement)
	}
	query += ` ORDER BY created_at`

	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list billing packs: %w", err)
	}
	defer rows.Close()

	var out []billing.BillingPack
	for rows.Next() {
		p, err := scanPack(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

var errReservationConflict = errors.New("reservation conflict")

// ReserveWipLines claims every requested line or nothing. The primary key
// on wip_line_id makes the claim atomic; contested lines come back to the
// caller, the transaction rolls back and no partial reservation survives.
func (s *Store) ReserveWipLines(ctx context.Context, packID string, lineIDs []ledger.WipLineID) ([]ledger.WipLineID, error) {
	var contested []ledger.WipLineID
	err := s.WithTx(ctx, func(ctx context.Context) error {
		q := s.q(ctx)
		for _, id := range lineIDs {
			var holder string
			err := q.QueryRowContext(ctx,
				`SELECT pack_id FROM wip_reservations WHERE wip_line_id = ?`, id).Scan(&holder)
			switch {
			case errors.Is(err, sql.ErrNoRows):
				// free
			case err != nil:
				return err
			case holder != packID:
				contested = append(contested, id)
			}
		}
		if len(contested) > 0 {
			return errReservationConflict
		}
		for _, id := range lineIDs {
			if _, err := q.ExecContext(ctx,
				`INSERT OR REPLACE INTO wip_reservations (wip_line_id, pack_id) VALUES (?, ?)`,
				id, packID); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, errReservationConflict) {
		return contested, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reserve wip lines: %w", err)
	}
	return nil, nil
}

func (s *Store) ReleaseWipLines(ctx context.Context, packID string) error {
	defer s.lock(ctx)()

	_, err := s.q(ctx).ExecContext(ctx,
		`DELETE FROM wip_reservations WHERE pack_id = ?`, packID)
	if err != nil {
		return fmt.Errorf("failed to release wip lines: %w", err)
	}
	return nil
}

func (s *Store) ReleaseWipLine(ctx context.Context, packID string, lineID ledger.WipLineID) error {
	defer s.lock(ctx)()

	_, err := s.q(ctx).ExecContext(ctx,
		`DELETE FROM wip_reservations WHERE pack_id = ? AND wip_line_id = ?`, packID, lineID)
	if err != nil {
		return fmt.Errorf("failed to release wip line: %w", err)
	}
	return nil
}

// =============================================================================
// INVOICES, AR, DUNNING, CREDIT NOTES
// =============================================================================

func (s *Store) SaveInvoice(ctx context.Context, inv billing.Invoice) error {
	defer s.lock(ctx)()

	lineIDs, _ := json.Marshal(inv.LineIDs)

	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT OR REPLACE INTO invoices
		(id, tenant_id, engagement_id, pack_id, line_ids_json, currency, fx_rate,
		 subtotal, vat_code, vat_rate, vat_amount, total, status, issued_at,
		 due_date, disputed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		inv.ID, inv.TenantID, inv.EngagementID, inv.PackID, string(lineIDs),
		inv.Currency, inv.FxRate.String(), inv.Subtotal.Amount.String(),
		inv.VatCode, inv.VatRate.String(), inv.VatAmount.Amount.String(),
		inv.Total.Amount.String(), inv.Status, inv.IssuedAt.String(),
		inv.DueDate.String(), stampPtr(inv.DisputedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save invoice: %w", err)
	}
	return nil
}

const invoiceCols = `id, tenant_id, engagement_id, pack_id, line_ids_json, currency,
	fx_rate, subtotal, vat_code, vat_rate, vat_amount, total, status, issued_at,
	due_date, disputed_at`

func scanInvoice(row interface{ Scan(...any) error }) (billing.Invoice, error) {
	var (
		inv                             billing.Invoice
		lineIDs                         string
		fxRate, subtotal, vatRate       string
		vatAmount, total                string
		issuedAt, dueDate               string
		disputedAt                      sql.NullString
	)
	err := row.Scan(&inv.ID, &inv.TenantID, &inv.EngagementID, &inv.PackID,
		&lineIDs, &inv.Currency, &fxRate, &subtotal, &inv.VatCode, &vatRate,
		&vatAmount, &total, &inv.Status, &issuedAt, &dueDate, &disputedAt)
	if err != nil {
		return inv, err
	}
	json.Unmarshal([]byte(lineIDs), &inv.LineIDs)
	inv.FxRate = parseDec(fxRate)
	inv.Subtotal = money(subtotal, inv.Currency)
	inv.VatRate = parseDec(vatRate)
	inv.VatAmount = money(vatAmount, inv.Currency)
	inv.Total = money(total, inv.Currency)
	inv.IssuedAt = parseDay(issuedAt)
	inv.DueDate = parseDay(dueDate)
	inv.DisputedAt = parseStampPtr(disputedAt)
	return inv, nil
}

func (s *Store) GetInvoice(ctx context.Context, tenant ledger.TenantID, id string) (*billing.Invoice, error) {
	defer s.rlock(ctx)()

	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT `+invoiceCols+` FROM invoices WHERE tenant_id = ? AND id = ?`,
		tenant, id)
	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return &inv, nil
}

func (s *Store) ListInvoices(ctx context.Context, tenant ledger.TenantID) ([]billing.Invoice, error) {
	defer s.rlock(ctx)()

	rows, err := s.q(ctx).QueryContext(ctx,
		`SELECT `+invoiceCols+` FROM invoices WHERE tenant_id = ? ORDER BY issued_at`,
		tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	var out []billing.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// AppendARTransaction is append-only.
func (s *Store) AppendARTransaction(ctx context.Context, tx billing.ARTransaction) error {
	defer s.lock(ctx)()

	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO ar_transactions
		(id, tenant_id, invoice_id, kind, amount, currency, date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		tx.ID, tx.TenantID, tx.InvoiceID, tx.Kind,
		tx.Amount.Amount.String(), tx.Amount.Currency,
		tx.Date.String(), stamp(tx.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append ar transaction: %w", err)
	}
	return nil
}

func (s *Store) ListARTransactions(ctx context.Context, tenant ledger.TenantID, invoiceID string) ([]billing.ARTransaction, error) {
	defer s.rlock(ctx)()

	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT id, tenant_id, invoice_id, kind, amount, currency, date, created_at
		FROM ar_transactions WHERE tenant_id = ? AND invoice_id = ?
		ORDER BY created_at
	`, tenant, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ar transactions: %w", err)
	}
	defer rows.Close()

	var out []billing.ARTransaction
	for rows.Next() {
		var (
			tx                 billing.ARTransaction
			amount, curr, date string
			createdAt          string
		)
		if err := rows.Scan(&tx.ID, &tx.TenantID, &tx.InvoiceID, &tx.Kind,
			&amount, &curr, &date, &createdAt); err != nil {
			return nil, err
		}
		tx.Amount = money(amount, curr)
		tx.Date = parseDay(date)
		tx.CreatedAt = parseStamp(createdAt)
		out = append(out, tx)
	}
	return out, rows.Err()
}

// AppendDunningEvent is append-only. The unique index makes a duplicate
// step a silent no-op so dunning stays idempotent under races.
func (s *Store) AppendDunningEvent(ctx context.Context, e billing.DunningEvent) error {
	defer s.lock(ctx)()

	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO dunning_events (id, tenant_id, invoice_id, step, sent_at)
		VALUES (?, ?, ?, ?, ?)
	`, e.ID, e.TenantID, e.InvoiceID, e.Step, stamp(e.SentAt))
	if isUniqueConstraintError(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to append dunning event: %w", err)
	}
	return nil
}

func (s *Store) HasDunningEvent(ctx context.Context, invoiceID, step string) (bool, error) {
	defer s.rlock(ctx)()

	var count int
	err := s.q(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM dunning_events WHERE invoice_id = ? AND step = ?`,
		invoiceID, step).Scan(&count)
	return count > 0, err
}

func (s *Store) SaveCreditNote(ctx context.Context, n billing.CreditNote) error {
	defer s.lock(ctx)()

	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO credit_notes
		(id, tenant_id, invoice_id, wip_line_id, amount, currency, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		n.ID, n.TenantID, n.InvoiceID, n.WipLineID,
		n.Amount.Amount.String(), n.Amount.Currency, n.Reason, stamp(n.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save credit note: %w", err)
	}
	return nil
}

func (s *Store) ListCreditNotes(ctx context.Context, tenant ledger.TenantID, invoiceID string) ([]billing.CreditNote, error) {
	defer s.rlock(ctx)()

	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT id, tenant_id, invoice_id, wip_line_id, amount, currency, reason, created_at
		FROM credit_notes WHERE tenant_id = ? AND invoice_id = ? ORDER BY created_at
	`, tenant, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list credit notes: %w", err)
	}
	defer rows.Close()

	var out []billing.CreditNote
	for rows.Next() {
		var (
			n            billing.CreditNote
			amount, curr string
			reason       sql.NullString
			createdAt    string
		)
		if err := rows.Scan(&n.ID, &n.TenantID, &n.InvoiceID, &n.WipLineID,
			&amount, &curr, &reason, &createdAt); err != nil {
			return nil, err
		}
		n.Amount = money(amount, curr)
		n.Reason = reason.String
		n.CreatedAt = parseStamp(createdAt)
		out = append(out, n)
	}
	return out, rows.Err()
}

// =============================================================================
// VAT RULES
// =============================================================================

func (s *Store) SaveVatRule(ctx context.Context, r billing.VatRule) error {
	defer s.lock(ctx)()

	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT OR REPLACE INTO vat_rules
		(id, tenant_id, place_of_supply, customer_type, service_type, code, rate)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.TenantID, r.PlaceOfSupply, r.CustomerType, r.ServiceType, r.Code, r.Rate.String())
	if err != nil {
		return fmt.Errorf("failed to save vat rule: %w", err)
	}
	return nil
}

func (s *Store) ListVatRules(ctx context.Context, tenant ledger.TenantID) ([]billing.VatRule, error) {
	defer s.rlock(ctx)()

	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT id, tenant_id, place_of_supply, customer_type, service_type, code, rate
		FROM vat_rules WHERE tenant_id = ?
	`, tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to list vat rules: %w", err)
	}
	defer rows.Close()

	var out []billing.VatRule
	for rows.Next() {
		var (
			r    billing.VatRule
			rate string
		)
		if err := rows.Scan(&r.ID, &r.TenantID, &r.PlaceOfSupply, &r.CustomerType,
			&r.ServiceType, &r.Code, &rate); err != nil {
			return nil, err
		}
		r.Rate = parseDec(rate)
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// RETAINERS
// =============================================================================

func (s *Store) SaveRetainerAccount(ctx context.Context, a billing.RetainerAccount) error {
	defer s.lock(ctx)()

	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT OR REPLACE INTO retainer_accounts
		(id, tenant_id, engagement_id, balance, target, low_threshold, currency,
		 annual_interest_rate, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID, a.TenantID, a.EngagementID, a.Balance.Amount.String(),
		a.Target.Amount.String(), a.LowThreshold.Amount.String(),
		a.Balance.Currency, a.AnnualInterestRate.String(),
		stamp(a.CreatedAt), stamp(a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save retainer account: %w", err)
	}
	return nil
}

const retainerCols = `id, tenant_id, engagement_id, balance, target, low_threshold,
	currency, annual_interest_rate, created_at, updated_at`

func scanRetainer(row interface{ Scan(...any) error }) (billing.RetainerAccount, error) {
	var (
		a                               billing.RetainerAccount
		balance, target, low, curr      string
		rate, createdAt, updatedAt      string
	)
	err := row.Scan(&a.ID, &a.TenantID, &a.EngagementID, &balance, &target,
		&low, &curr, &rate, &createdAt, &updatedAt)
	if err != nil {
		return a, err
	}
	a.Balance = money(balance, curr)
	a.Target = money(target, curr)
	a.LowThreshold = money(low, curr)
	a.AnnualInterestRate = parseDec(rate)
	a.CreatedAt = parseStamp(createdAt)
	a.UpdatedAt = parseStamp(updatedAt)
	return a, nil
}

func (s *Store) GetRetainerAccount(ctx context.Context, tenant ledger.TenantID, id string) (*billing.RetainerAccount, error) {
	defer s.rlock(ctx)()

	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT `+retainerCols+` FROM retainer_accounts WHERE tenant_id = ? AND id = ?`,
		tenant, id)
	a, err := scanRetainer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get retainer account: %w", err)
	}
	return &a, nil
}

func (s *Store) ListRetainerAccounts(ctx context.Context, tenant ledger.TenantID) ([]billing.RetainerAccount, error) {
	defer s.rlock(ctx)()

	rows, err := s.q(ctx).QueryContext(ctx,
		`SELECT `+retainerCols+` FROM retainer_accounts WHERE tenant_id = ? ORDER BY created_at`,
		tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to list retainer accounts: %w", err)
	}
	defer rows.Close()

	var out []billing.RetainerAccount
	for rows.Next() {
		a, err := scanRetainer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AppendRetainerTransaction is append-only.
func (s *Store) AppendRetainerTransaction(ctx context.Context, tx billing.RetainerTransaction) error {
	defer s.lock(ctx)()

	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO retainer_transactions
		(id, tenant_id, account_id, kind, amount, currency, invoice_id, memo, date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		tx.ID, tx.TenantID, tx.AccountID, tx.Kind,
		tx.Amount.Amount.String(), tx.Amount.Currency,
		tx.InvoiceID, tx.Memo, tx.Date.String(), stamp(tx.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append retainer transaction: %w", err)
	}
	return nil
}

func (s *Store) ListRetainerTransactions(ctx context.Context, tenant ledger.TenantID, accountID string) ([]billing.RetainerTransaction, error) {
	defer s.rlock(ctx)()

	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT id, tenant_id, account_id, kind, amount, currency, invoice_id, memo, date, created_at
		FROM retainer_transactions WHERE tenant_id = ? AND account_id = ?
		ORDER BY created_at
	`, tenant, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list retainer transactions: %w", err)
	}
	defer rows.Close()

	var out []billing.RetainerTransaction
	for rows.Next() {
		var (
			tx                 billing.RetainerTransaction
			amount, curr, date string
			invoiceID, memo    sql.NullString
			createdAt          string
		)
		if err := rows.Scan(&tx.ID, &tx.TenantID, &tx.AccountID, &tx.Kind,
			&amount, &curr, &invoiceID, &memo, &date, &createdAt); err != nil {
			return nil, err
		}
		tx.Amount = money(amount, curr)
		tx.InvoiceID = invoiceID.String
		tx.Memo = memo.String
		tx.Date = parseDay(date)
		tx.CreatedAt = parseStamp(createdAt)
		out = append(out, tx)
	}
	return out, rows.Err()
}

// =============================================================================
// RECOGNITION
// =============================================================================

func (s *Store) SaveSchedule(ctx context.Context, sch recognition.Schedule) error {
	defer s.lock(ctx)()

	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT OR REPLACE INTO recognition_schedules
		(id, tenant_id, engagement_id, method, total_amount, recognized, currency,
		 service_start, service_end, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sch.ID, sch.TenantID, sch.EngagementID, sch.Method,
		sch.TotalAmount.Amount.String(), sch.RecognizedToDate.Amount.String(),
		sch.TotalAmount.Currency, sch.ServicePeriod.Start.String(),
		sch.ServicePeriod.End.String(), sch.Status,
		stamp(sch.CreatedAt), stamp(sch.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save schedule: %w", err)
	}
	return nil
}

const scheduleCols = `id, tenant_id, engagement_id, method, total_amount, recognized,
	currency, service_start, service_end, status, created_at, updated_at`

func scanSchedule(row interface{ Scan(...any) error }) (recognition.Schedule, error) {
	var (
		sch                        recognition.Schedule
		total, recognized, curr    string
		svcStart, svcEnd           sql.NullString
		createdAt, updatedAt       string
	)
	err := row.Scan(&sch.ID, &sch.TenantID, &sch.EngagementID, &sch.Method,
		&total, &recognized, &curr, &svcStart, &svcEnd, &sch.Status,
		&createdAt, &updatedAt)
	if err != nil {
		return sch, err
	}
	sch.TotalAmount = money(total, curr)
	sch.RecognizedToDate = money(recognized, curr)
	if svcStart.Valid && svcStart.String != "" {
		sch.ServicePeriod = ledger.Period{Start: parseDay(svcStart.String), End: parseDay(svcEnd.String)}
	}
	sch.CreatedAt = parseStamp(createdAt)
	sch.UpdatedAt = parseStamp(updatedAt)
	return sch, nil
}

func (s *Store) GetSchedule(ctx context.Context, tenant ledger.TenantID, id string) (*recognition.Schedule, error) {
	defer s.rlock(ctx)()

	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT `+scheduleCols+` FROM recognition_schedules WHERE tenant_id = ? AND id = ?`,
		tenant, id)
	sch, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	return &sch, nil
}

func (s *Store) ListSchedules(ctx context.Context, tenant ledger.TenantID) ([]recognition.Schedule, error) {
	defer s.rlock(ctx)()

	rows, err := s.q(ctx).QueryContext(ctx,
		`SELECT `+scheduleCols+` FROM recognition_schedules WHERE tenant_id = ? ORDER BY created_at`,
		tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	var out []recognition.Schedule
	for rows.Next() {
		sch, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sch)
	}
	return out, rows.Err()
}

func (s *Store) SaveJournalEntry(ctx context.Context, e recognition.JournalEntry) error {
	defer s.lock(ctx)()

	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT OR REPLACE INTO journal_entries
		(id, tenant_id, schedule_id, engagement_id, period_start, period_end,
		 debit_account, credit_account, amount, currency, status, reverses,
		 reversed, posted_by, posted_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.TenantID, e.ScheduleID, e.EngagementID,
		e.Period.Start.String(), e.Period.End.String(),
		e.DebitAccount, e.CreditAccount, e.Amount.Amount.String(),
		e.Amount.Currency, e.Status, e.Reverses, e.Reversed,
		e.PostedBy, stampPtr(e.PostedAt), stamp(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save journal entry: %w", err)
	}
	return nil
}

const journalCols = `id, tenant_id, schedule_id, engagement_id, period_start,
	period_end, debit_account, credit_account, amount, currency, status, reverses,
	reversed, posted_by, posted_at, created_at`

func scanJournal(row interface{ Scan(...any) error }) (recognition.JournalEntry, error) {
	var (
		e                  recognition.JournalEntry
		start, end         string
		amount, curr       string
		reverses, postedBy sql.NullString
		postedAt           sql.NullString
		createdAt          string
	)
	err := row.Scan(&e.ID, &e.TenantID, &e.ScheduleID, &e.EngagementID,
		&start, &end, &e.DebitAccount, &e.CreditAccount, &amount, &curr,
		&e.Status, &reverses, &e.Reversed, &postedBy, &postedAt, &createdAt)
	if err != nil {
		return e, err
	}
	e.Period = ledger.Period{Start: parseDay(start), End: parseDay(end)}
	e.Amount = money(amount, curr)
	e.Reverses = reverses.String
	e.PostedBy = ledger.ActorID(postedBy.String)
	e.PostedAt = parseStampPtr(postedAt)
	e.CreatedAt = parseStamp(createdAt)
	return e, nil
}

func (s *Store) GetJournalEntry(ctx context.Context, tenant ledger.TenantID, id string) (*recognition.JournalEntry, error) {
	defer s.rlock(ctx)()

	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT `+journalCols+` FROM journal_entries WHERE tenant_id = ? AND id = ?`,
		tenant, id)
	e, err := scanJournal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get journal entry: %w", err)
	}
	return &e, nil
}

func (s *Store) ListJournalEntries(ctx context.Context, tenant ledger.TenantID, scheduleID string) ([]recognition.JournalEntry, error) {
	defer s.rlock(ctx)()

	rows, err := s.q(ctx).QueryContext(ctx,
		`SELECT `+journalCols+` FROM journal_entries WHERE tenant_id = ? AND schedule_id = ? ORDER BY created_at`,
		tenant, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list journal entries: %w", err)
	}
	defer rows.Close()

	var out []recognition.JournalEntry
	for rows.Next() {
		e, err := scanJournal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// SCHEDULER RUNS
// =============================================================================

func (s *Store) SaveRunRecord(ctx context.Context, r ledger.RunRecord) error {
	defer s.lock(ctx)()

	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT OR REPLACE INTO scheduler_runs
		(id, tenant_id, job, period_start, period_end, status, error, items,
		 started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.TenantID, r.Job, r.Period.Start.String(), r.Period.End.String(),
		r.Status, r.Error, r.Items, stamp(r.StartedAt), stampPtr(r.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save run record: %w", err)
	}
	return nil
}

func (s *Store) ListRunRecords(ctx context.Context, tenant ledger.TenantID, job string) ([]ledger.RunRecord, error) {
	defer s.rlock(ctx)()

	query := `
		SELECT id, tenant_id, job, period_start, period_end, status, error,
		       items, started_at, completed_at
		FROM scheduler_runs WHERE tenant_id = ?`
	args := []any{tenant}
	if job != "" {
		query += ` AND job = ?`
		args = append(args, job)
	}
	query += ` ORDER BY started_at DESC`

	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list run records: %w", err)
	}
	defer rows.Close()

	var out []ledger.RunRecord
	for rows.Next() {
		var (
			r           ledger.RunRecord
			start, end  string
			runErr      sql.NullString
			startedAt   string
			completedAt sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.TenantID, &r.Job, &start, &end,
			&r.Status, &runErr, &r.Items, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		r.Period = ledger.Period{Start: parseDay(start), End: parseDay(end)}
		r.Error = runErr.String
		r.StartedAt = parseStamp(startedAt)
		r.CompletedAt = parseStampPtr(completedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Interface checks.
var (
	_ ledger.Store      = (*Store)(nil)
	_ rates.Store       = (*Store)(nil)
	_ approval.Store    = (*Store)(nil)
	_ billing.Store     = (*Store)(nil)
	_ recognition.Store = (*Store)(nil)
	_ ledger.RunStore   = (*Store)(nil)
)
