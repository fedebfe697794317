/*
Package memory provides the in-memory store (for testing/dev).

PURPOSE:
  One struct implements every store surface in the engine: core ledger,
  rates, approvals and locks, billing, recognition. Tests wire a full
  service graph against it with zero setup.

TRANSACTIONS:
  WithTx simulates atomicity with snapshot + rollback under the write
  lock. The transaction rides on the context; store methods called with
  a transactional context skip locking because WithTx already holds it.
  Nested WithTx calls join the outer transaction.
*/
package memory

import (
	"context"
	"sync"

	"github.com/praxis/fees-engine/approval"
	"github.com/praxis/fees-engine/billing"
	"github.com/praxis/fees-engine/ledger"
	"github.com/praxis/fees-engine/rates"
	"github.com/praxis/fees-engine/recognition"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type engKey struct {
	Tenant ledger.TenantID
	ID     ledger.EngagementID
}

type capKey struct {
	Tenant ledger.TenantID
	ID     ledger.CaptureUnitID
}

type Memory struct {
	mu sync.RWMutex

	engagements map[engKey]ledger.Engagement
	captures    map[capKey]ledger.CaptureUnit
	wipLines    map[ledger.WipLineID]ledger.WipLine
	adjustments map[ledger.WipLineID][]ledger.AdjustmentEntry

	rateDefs   []rates.RateDefinition
	priceRules []rates.PriceRule

	approvals     map[string]approval.Request
	approvalOrder []string
	locks         map[string]approval.PeriodLock

	packs        map[string]billing.BillingPack
	reservations map[ledger.WipLineID]string // line -> holding pack
	invoices     map[string]billing.Invoice
	arTxs        []billing.ARTransaction
	dunning      []billing.DunningEvent
	creditNotes  []billing.CreditNote
	vatRules     []billing.VatRule
	retainers    map[string]billing.RetainerAccount
	retainerTxs  []billing.RetainerTransaction

	schedules map[string]recognition.Schedule
	journals  map[string]recognition.JournalEntry

	runs []ledger.RunRecord
}

func New() *Memory {
	return &Memory{
		engagements:  make(map[engKey]ledger.Engagement),
		captures:     make(map[capKey]ledger.CaptureUnit),
		wipLines:     make(map[ledger.WipLineID]ledger.WipLine),
		adjustments:  make(map[ledger.WipLineID][]ledger.AdjustmentEntry),
		approvals:    make(map[string]approval.Request),
		locks:        make(map[string]approval.PeriodLock),
		packs:        make(map[string]billing.BillingPack),
		reservations: make(map[ledger.WipLineID]string),
		invoices:     make(map[string]billing.Invoice),
		retainers:    make(map[string]billing.RetainerAccount),
		schedules:    make(map[string]recognition.Schedule),
		journals:     make(map[string]recognition.JournalEntry),
	}
}

// =============================================================================
// TRANSACTIONS - Snapshot + rollback under the write lock
// =============================================================================

type txKey struct{}

func (m *Memory) inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(*Memory)
	return v == m
}

// WithTx executes fn atomically. On error every write inside fn is
// rolled back. Nested calls join the outer transaction.
func (m *Memory) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.inTx(ctx) {
		return fn(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, m)); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

// lock acquires the write lock unless the context already carries this
// store's transaction. Returns the matching unlock.
func (m *Memory) lock(ctx context.Context) func() {
	if m.inTx(ctx) {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *Memory) rlock(ctx context.Context) func() {
	if m.inTx(ctx) {
		return func() {}
	}
	m.mu.RLock()
	return m.mu.RUnlock
}

type memorySnapshot struct {
	engagements map[engKey]ledger.Engagement
	captures    map[capKey]ledger.CaptureUnit
	wipLines    map[ledger.WipLineID]ledger.WipLine
	adjustments map[ledger.WipLineID][]ledger.AdjustmentEntry

	rateDefs   []rates.RateDefinition
	priceRules []rates.PriceRule

	approvals     map[string]approval.Request
	approvalOrder []string
	locks         map[string]approval.PeriodLock

	packs        map[string]billing.BillingPack
	reservations map[ledger.WipLineID]string
	invoices     map[string]billing.Invoice
	arTxs        []billing.ARTransaction
	dunning      []billing.DunningEvent
	creditNotes  []billing.CreditNote
	vatRules     []billing.VatRule
	retainers    map[string]billing.RetainerAccount
	retainerTxs  []billing.RetainerTransaction

	schedules map[string]recognition.Schedule
	journals  map[string]recognition.JournalEntry

	runs []ledger.RunRecord
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		engagements:   make(map[engKey]ledger.Engagement, len(m.engagements)),
		captures:      make(map[capKey]ledger.CaptureUnit, len(m.captures)),
		wipLines:      make(map[ledger.WipLineID]ledger.WipLine, len(m.wipLines)),
		adjustments:   make(map[ledger.WipLineID][]ledger.AdjustmentEntry, len(m.adjustments)),
		rateDefs:      append([]rates.RateDefinition(nil), m.rateDefs...),
		priceRules:    append([]rates.PriceRule(nil), m.priceRules...),
		approvals:     make(map[string]approval.Request, len(m.approvals)),
		approvalOrder: append([]string(nil), m.approvalOrder...),
		locks:         make(map[string]approval.PeriodLock, len(m.locks)),
		packs:         make(map[string]billing.BillingPack, len(m.packs)),
		reservations:  make(map[ledger.WipLineID]string, len(m.reservations)),
		invoices:      make(map[string]billing.Invoice, len(m.invoices)),
		arTxs:         append([]billing.ARTransaction(nil), m.arTxs...),
		dunning:       append([]billing.DunningEvent(nil), m.dunning...),
		creditNotes:   append([]billing.CreditNote(nil), m.creditNotes...),
		vatRules:      append([]billing.VatRule(nil), m.vatRules...),
		retainers:     make(map[string]billing.RetainerAccount, len(m.retainers)),
		retainerTxs:   append([]billing.RetainerTransaction(nil), m.retainerTxs...),
		schedules:     make(map[string]recognition.Schedule, len(m.schedules)),
		journals:      make(map[string]recognition.JournalEntry, len(m.journals)),
		runs:          append([]ledger.RunRecord(nil), m.runs...),
	}
	for k, v := range m.engagements {
		s.engagements[k] = v
	}
	for k, v := range m.captures {
		s.captures[k] = v
	}
	for k, v := range m.wipLines {
		s.wipLines[k] = v
	}
	for k, v := range m.adjustments {
		s.adjustments[k] = append([]ledger.AdjustmentEntry(nil), v...)
	}
	for k, v := range m.approvals {
		s.approvals[k] = v
	}
	for k, v := range m.locks {
		s.locks[k] = v
	}
	for k, v := range m.packs {
		s.packs[k] = v
	}
	for k, v := range m.reservations {
		s.reservations[k] = v
	}
	for k, v := range m.invoices {
		s.invoices[k] = v
	}
	for k, v := range m.retainers {
		s.retainers[k] = v
	}
	for k, v := range m.schedules {
		s.schedules[k] = v
	}
	for k, v := range m.journals {
		s.journals[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.engagements = s.engagements
	m.captures = s.captures
	m.wipLines = s.wipLines
	m.adjustments = s.adjustments
	m.rateDefs = s.rateDefs
	m.priceRules = s.priceRules
	m.approvals = s.approvals
	m.approvalOrder = s.approvalOrder
	m.locks = s.locks
	m.packs = s.packs
	m.reservations = s.reservations
	m.invoices = s.invoices
	m.arTxs = s.arTxs
	m.dunning = s.dunning
	m.creditNotes = s.creditNotes
	m.vatRules = s.vatRules
	m.retainers = s.retainers
	m.retainerTxs = s.retainerTxs
	m.schedules = s.schedules
	m.journals = s.journals
	m.runs = s.runs
}

// =============================================================================
// ENGAGEMENTS
// =============================================================================

func (m *Memory) SaveEngagement(ctx context.Context, e ledger.Engagement) error {
	defer m.lock(ctx)()
	m.engagements[engKey{e.TenantID, e.ID}] = e
	return nil
}

func (m *Memory) GetEngagement(ctx context.Context, tenant ledger.TenantID, id ledger.EngagementID) (*ledger.Engagement, error) {
	defer m.rlock(ctx)()
	if e, ok := m.engagements[engKey{tenant, id}]; ok {
		return &e, nil
	}
	return nil, nil
}

func (m *Memory) ListEngagements(ctx context.Context, tenant ledger.TenantID) ([]ledger.Engagement, error) {
	defer m.rlock(ctx)()
	var out []ledger.Engagement
	for k, e := range m.engagements {
		if k.Tenant == tenant {
			out = append(out, e)
		}
	}
	return out, nil
}

// =============================================================================
// CAPTURE UNITS
// =============================================================================

func (m *Memory) SaveCaptureUnit(ctx context.Context, u ledger.CaptureUnit) error {
	defer m.lock(ctx)()
	m.captures[capKey{u.TenantID, u.ID}] = u
	return nil
}

func (m *Memory) GetCaptureUnit(ctx context.Context, tenant ledger.TenantID, id ledger.CaptureUnitID) (*ledger.CaptureUnit, error) {
	defer m.rlock(ctx)()
	if u, ok := m.captures[capKey{tenant, id}]; ok {
		return &u, nil
	}
	return nil, nil
}

func (m *Memory) ListCaptureUnits(ctx context.Context, tenant ledger.TenantID, engagement ledger.EngagementID, status ledger.CaptureStatus) ([]ledger.CaptureUnit, error) {
	defer m.rlock(ctx)()
	var out []ledger.CaptureUnit
	for k, u := range m.captures {
		if k.Tenant != tenant {
			continue
		}
		if engagement != "" && u.EngagementID != engagement {
			continue
		}
		if status != "" && u.Status != status {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

// =============================================================================
// WIP LINES AND ADJUSTMENTS
// =============================================================================

func (m *Memory) InsertWipLine(ctx context.Context, l ledger.WipLine) error {
	defer m.lock(ctx)()
	if _, ok := m.wipLines[l.ID]; ok {
		return ledger.ErrConcurrencyConflict
	}
	m.wipLines[l.ID] = l
	return nil
}

func (m *Memory) SaveWipLine(ctx context.Context, l ledger.WipLine) error {
	defer m.lock(ctx)()
	if _, ok := m.wipLines[l.ID]; !ok {
		return ledger.ErrWipLineNotFound
	}
	m.wipLines[l.ID] = l
	return nil
}

func (m *Memory) GetWipLine(ctx context.Context, id ledger.WipLineID) (*ledger.WipLine, error) {
	defer m.rlock(ctx)()
	if l, ok := m.wipLines[id]; ok {
		return &l, nil
	}
	return nil, nil
}

func (m *Memory) ListWipLines(ctx context.Context, tenant ledger.TenantID, engagement ledger.EngagementID, status ledger.WipStatus) ([]ledger.WipLine, error) {
	defer m.rlock(ctx)()
	var out []ledger.WipLine
	for _, l := range m.wipLines {
		if l.TenantID != tenant {
			continue
		}
		if engagement != "" && l.EngagementID != engagement {
			continue
		}
		if status != "" && l.Status != status {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// AppendAdjustment is append-only. No update, no delete.
func (m *Memory) AppendAdjustment(ctx context.Context, e ledger.AdjustmentEntry) error {
	defer m.lock(ctx)()
	m.adjustments[e.WipLineID] = append(m.adjustments[e.WipLineID], e)
	return nil
}

func (m *Memory) ListAdjustments(ctx context.Context, lineID ledger.WipLineID) ([]ledger.AdjustmentEntry, error) {
	defer m.rlock(ctx)()
	return append([]ledger.AdjustmentEntry(nil), m.adjustments[lineID]...), nil
}

// =============================================================================
// RATES
// =============================================================================

func (m *Memory) SaveRateDefinition(ctx context.Context, d rates.RateDefinition) error {
	defer m.lock(ctx)()
	m.rateDefs = append(m.rateDefs, d)
	return nil
}

func (m *Memory) SavePriceRule(ctx context.Context, r rates.PriceRule) error {
	defer m.lock(ctx)()
	m.priceRules = append(m.priceRules, r)
	return nil
}

func (m *Memory) ListRateDefinitions(ctx context.Context, tenant ledger.TenantID) ([]rates.RateDefinition, error) {
	defer m.rlock(ctx)()
	var out []rates.RateDefinition
	for _, d := range m.rateDefs {
		if d.TenantID == tenant {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *Memory) ListPriceRules(ctx context.Context, tenant ledger.TenantID) ([]rates.PriceRule, error) {
	defer m.rlock(ctx)()
	var out []rates.PriceRule
	for _, r := range m.priceRules {
		if r.TenantID == tenant {
			out = append(out, r)
		}
	}
	return out, nil
}

// =============================================================================
// APPROVALS AND LOCKS
// =============================================================================

func (m *Memory) SaveApprovalRequest(ctx context.Context, r approval.Request) error {
	defer m.lock(ctx)()
	if _, ok := m.approvals[r.ID]; !ok {
		m.approvalOrder = append(m.approvalOrder, r.ID)
	}
	m.approvals[r.ID] = r
	return nil
}

func (m *Memory) GetApprovalRequest(ctx context.Context, tenant ledger.TenantID, id string) (*approval.Request, error) {
	defer m.rlock(ctx)()
	if r, ok := m.approvals[id]; ok && r.TenantID == tenant {
		return &r, nil
	}
	return nil, nil
}

// GetApprovalBySubject returns the most recently created request for a
// subject, or nil.
func (m *Memory) GetApprovalBySubject(ctx context.Context, tenant ledger.TenantID, subject approval.SubjectType, subjectID string) (*approval.Request, error) {
	defer m.rlock(ctx)()
	for i := len(m.approvalOrder) - 1; i >= 0; i-- {
		r := m.approvals[m.approvalOrder[i]]
		if r.TenantID == tenant && r.Subject == subject && r.SubjectID == subjectID {
			return &r, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListPendingApprovals(ctx context.Context, tenant ledger.TenantID) ([]approval.Request, error) {
	defer m.rlock(ctx)()
	var out []approval.Request
	for _, id := range m.approvalOrder {
		r := m.approvals[id]
		if r.TenantID == tenant && r.Status == approval.StatusPending {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) SavePeriodLock(ctx context.Context, l approval.PeriodLock) error {
	defer m.lock(ctx)()
	m.locks[l.ID] = l
	return nil
}

func (m *Memory) GetPeriodLock(ctx context.Context, tenant ledger.TenantID, id string) (*approval.PeriodLock, error) {
	defer m.rlock(ctx)()
	if l, ok := m.locks[id]; ok && l.TenantID == tenant {
		return &l, nil
	}
	return nil, nil
}

func (m *Memory) ListPeriodLocks(ctx context.Context, tenant ledger.TenantID) ([]approval.PeriodLock, error) {
	defer m.rlock(ctx)()
	var out []approval.PeriodLock
	for _, l := range m.locks {
		if l.TenantID == tenant {
			out = append(out, l)
		}
	}
	return out, nil
}

// =============================================================================
// BILLING PACKS AND RESERVATIONS
// =============================================================================

func (m *Memory) SaveBillingPack(ctx context.Context, p billing.BillingPack) error {
	defer m.lock(ctx)()
	m.packs[p.ID] = p
	return nil
}

func (m *Memory) GetBillingPack(ctx context.Context, tenant ledger.TenantID, id string) (*billing.BillingPack, error) {
	defer m.rlock(ctx)()
	if p, ok := m.packs[id]; ok && p.TenantID == tenant {
		return &p, nil
	}
	return nil, nil
}

func (m *Memory) ListBillingPacks(ctx context.Context, tenant ledger.TenantID, engagement ledger.EngagementID) ([]billing.BillingPack, error) {
	defer m.rlock(ctx)()
	var out []billing.BillingPack
	for _, p := range m.packs {
		if p.TenantID != tenant {
			continue
		}
		if engagement != "" && p.EngagementID != engagement {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// ReserveWipLines claims every requested line or nothing. Lines already
// held by another pack come back as contested.
func (m *Memory) ReserveWipLines(ctx context.Context, packID string, lineIDs []ledger.WipLineID) ([]ledger.WipLineID, error) {
	defer m.lock(ctx)()

	var contested []ledger.WipLineID
	for _, id := range lineIDs {
		if holder, ok := m.reservations[id]; ok && holder != packID {
			contested = append(contested, id)
		}
	}
	if len(contested) > 0 {
		return contested, nil
	}
	for _, id := range lineIDs {
		m.reservations[id] = packID
	}
	return nil, nil
}

func (m *Memory) ReleaseWipLines(ctx context.Context, packID string) error {
	defer m.lock(ctx)()
	for id, holder := range m.reservations {
		if holder == packID {
			delete(m.reservations, id)
		}
	}
	return nil
}

func (m *Memory) ReleaseWipLine(ctx context.Context, packID string, lineID ledger.WipLineID) error {
	defer m.lock(ctx)()
	if m.reservations[lineID] == packID {
		delete(m.reservations, lineID)
	}
	return nil
}

// =============================================================================
// INVOICES, AR, DUNNING, CREDIT NOTES
// =============================================================================

func (m *Memory) SaveInvoice(ctx context.Context, inv billing.Invoice) error {
	defer m.lock(ctx)()
	m.invoices[inv.ID] = inv
	return nil
}

func (m *Memory) GetInvoice(ctx context.Context, tenant ledger.TenantID, id string) (*billing.Invoice, error) {
	defer m.rlock(ctx)()
	if inv, ok := m.invoices[id]; ok && inv.TenantID == tenant {
		return &inv, nil
	}
	return nil, nil
}

func (m *Memory) ListInvoices(ctx context.Context, tenant ledger.TenantID) ([]billing.Invoice, error) {
	defer m.rlock(ctx)()
	var out []billing.Invoice
	for _, inv := range m.invoices {
		if inv.TenantID == tenant {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (m *Memory) AppendARTransaction(ctx context.Context, tx billing.ARTransaction) error {
	defer m.lock(ctx)()
	m.arTxs = append(m.arTxs, tx)
	return nil
}

func (m *Memory) ListARTransactions(ctx context.Context, tenant ledger.TenantID, invoiceID string) ([]billing.ARTransaction, error) {
	defer m.rlock(ctx)()
	var out []billing.ARTransaction
	for _, tx := range m.arTxs {
		if tx.TenantID == tenant && tx.InvoiceID == invoiceID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (m *Memory) AppendDunningEvent(ctx context.Context, e billing.DunningEvent) error {
	defer m.lock(ctx)()
	m.dunning = append(m.dunning, e)
	return nil
}

func (m *Memory) HasDunningEvent(ctx context.Context, invoiceID, step string) (bool, error) {
	defer m.rlock(ctx)()
	for _, e := range m.dunning {
		if e.InvoiceID == invoiceID && e.Step == step {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) SaveCreditNote(ctx context.Context, n billing.CreditNote) error {
	defer m.lock(ctx)()
	m.creditNotes = append(m.creditNotes, n)
	return nil
}

func (m *Memory) ListCreditNotes(ctx context.Context, tenant ledger.TenantID, invoiceID string) ([]billing.CreditNote, error) {
	defer m.rlock(ctx)()
	var out []billing.CreditNote
	for _, n := range m.creditNotes {
		if n.TenantID == tenant && n.InvoiceID == invoiceID {
			out = append(out, n)
		}
	}
	return out, nil
}

// =============================================================================
// VAT RULES
// =============================================================================

func (m *Memory) SaveVatRule(ctx context.Context, r billing.VatRule) error {
	defer m.lock(ctx)()
	m.vatRules = append(m.vatRules, r)
	return nil
}

func (m *Memory) ListVatRules(ctx context.Context, tenant ledger.TenantID) ([]billing.VatRule, error) {
	defer m.rlock(ctx)()
	var out []billing.VatRule
	for _, r := range m.vatRules {
		if r.TenantID == tenant {
			out = append(out, r)
		}
	}
	return out, nil
}

// =============================================================================
// RETAINERS
// =============================================================================

func (m *Memory) SaveRetainerAccount(ctx context.Context, a billing.RetainerAccount) error {
	defer m.lock(ctx)()
	m.retainers[a.ID] = a
	return nil
}

func (m *Memory) GetRetainerAccount(ctx context.Context, tenant ledger.TenantID, id string) (*billing.RetainerAccount, error) {
	defer m.rlock(ctx)()
	if a, ok := m.retainers[id]; ok && a.TenantID == tenant {
		return &a, nil
	}
	return nil, nil
}

func (m *Memory) ListRetainerAccounts(ctx context.Context, tenant ledger.TenantID) ([]billing.RetainerAccount, error) {
	defer m.rlock(ctx)()
	var out []billing.RetainerAccount
	for _, a := range m.retainers {
		if a.TenantID == tenant {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Memory) AppendRetainerTransaction(ctx context.Context, tx billing.RetainerTransaction) error {
	defer m.lock(ctx)()
	m.retainerTxs = append(m.retainerTxs, tx)
	return nil
}

func (m *Memory) ListRetainerTransactions(ctx context.Context, tenant ledger.TenantID, accountID string) ([]billing.RetainerTransaction, error) {
	defer m.rlock(ctx)()
	var out []billing.RetainerTransaction
	for _, tx := range m.retainerTxs {
		if tx.TenantID == tenant && tx.AccountID == accountID {
			out = append(out, tx)
		}
	}
	return out, nil
}

// =============================================================================
// RECOGNITION
// =============================================================================

func (m *Memory) SaveSchedule(ctx context.Context, s recognition.Schedule) error {
	defer m.lock(ctx)()
	m.schedules[s.ID] = s
	return nil
}

func (m *Memory) GetSchedule(ctx context.Context, tenant ledger.TenantID, id string) (*recognition.Schedule, error) {
	defer m.rlock(ctx)()
	if s, ok := m.schedules[id]; ok && s.TenantID == tenant {
		return &s, nil
	}
	return nil, nil
}

func (m *Memory) ListSchedules(ctx context.Context, tenant ledger.TenantID) ([]recognition.Schedule, error) {
	defer m.rlock(ctx)()
	var out []recognition.Schedule
	for _, s := range m.schedules {
		if s.TenantID == tenant {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) SaveJournalEntry(ctx context.Context, e recognition.JournalEntry) error {
	defer m.lock(ctx)()
	m.journals[e.ID] = e
	return nil
}

func (m *Memory) GetJournalEntry(ctx context.Context, tenant ledger.TenantID, id string) (*recognition.JournalEntry, error) {
	defer m.rlock(ctx)()
	if e, ok := m.journals[id]; ok && e.TenantID == tenant {
		return &e, nil
	}
	return nil, nil
}

func (m *Memory) ListJournalEntries(ctx context.Context, tenant ledger.TenantID, scheduleID string) ([]recognition.JournalEntry, error) {
	defer m.rlock(ctx)()
	var out []recognition.JournalEntry
	for _, e := range m.journals {
		if e.TenantID == tenant && e.ScheduleID == scheduleID {
			out = append(out, e)
		}
	}
	return out, nil
}

// =============================================================================
// SCHEDULER RUNS
// =============================================================================

func (m *Memory) SaveRunRecord(ctx context.Context, r ledger.RunRecord) error {
	defer m.lock(ctx)()
	for i := range m.runs {
		if m.runs[i].ID == r.ID {
			m.runs[i] = r
			return nil
		}
	}
	m.runs = append(m.runs, r)
	return nil
}

func (m *Memory) ListRunRecords(ctx context.Context, tenant ledger.TenantID, job string) ([]ledger.RunRecord, error) {
	defer m.rlock(ctx)()
	var out []ledger.RunRecord
	for i := len(m.runs) - 1; i >= 0; i-- {
		r := m.runs[i]
		if r.TenantID != tenant {
			continue
		}
		if job != "" && r.Job != job {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Interface checks.
var (
	_ ledger.Store      = (*Memory)(nil)
	_ rates.Store       = (*Memory)(nil)
	_ approval.Store    = (*Memory)(nil)
	_ billing.Store     = (*Memory)(nil)
	_ recognition.Store = (*Memory)(nil)
	_ ledger.RunStore   = (*Memory)(nil)
)
