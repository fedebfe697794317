/*
Package approval implements the approval and lock state machines.

PURPOSE:
  One mechanism for every approval subject: timesheets, expenses,
  write-ups/offs, billing packs and period-lock overrides all flow through
  the same ApprovalRequest with an ordered approver chain. The chain is
  configuration (role capabilities resolved at runtime), not hard-coded
  branches.

REQUEST FLOW:
  Create -> Pending -> step approvals in chain order -> Approved
                    -> Rejected (terminal, with reason)

  Resolved requests are immutable. The only way to revisit a resolved
  request is a superseding request referencing the original.

SEE ALSO:
  - lock.go: Period locks and per-unit overrides
  - capture.go: Capture unit lifecycle using these requests
*/
package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/praxis/fees-engine/ledger"
)

// =============================================================================
// APPROVAL REQUEST
// =============================================================================

type SubjectType string

const (
	SubjectTimesheet    SubjectType = "timesheet"
	SubjectExpense      SubjectType = "expense"
	SubjectWriteUpOff   SubjectType = "write_up_off"
	SubjectBillingPack  SubjectType = "billing_pack"
	SubjectLockOverride SubjectType = "lock_override"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Step is one link in the approver chain. A step is satisfied when an
// actor holding the step's role approves.
type Step struct {
	Role       string
	ApprovedBy ledger.ActorID
	ApprovedAt *time.Time
}

func (s Step) Done() bool { return s.ApprovedAt != nil }

// Request is a single approval request. Immutable once resolved, except
// via a superseding request.
type Request struct {
	ID        string
	TenantID  ledger.TenantID
	Subject   SubjectType
	SubjectID string
	Requester ledger.ActorID

	Chain    []Step
	NextStep int

	Status          Status
	Reason          string
	RejectionReason string
	DecidedBy       ledger.ActorID
	DecidedAt       *time.Time

	// Supersedes references the resolved request this one overrides.
	Supersedes string

	// Payload carries subject-specific data, e.g. the target billing
	// value for a write-up request.
	Payload map[string]string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r Request) Resolved() bool { return r.Status != StatusPending }

// =============================================================================
// CHAIN RESOLVER - Configurable approver chains per subject
// =============================================================================

// ChainResolver maps a subject type to its ordered approver roles.
type ChainResolver interface {
	ChainFor(subject SubjectType) []string
}

// StaticChains is a ChainResolver backed by a map. Subjects without an
// entry get a single "manager" step.
type StaticChains map[SubjectType][]string

func (c StaticChains) ChainFor(subject SubjectType) []string {
	if roles, ok := c[subject]; ok && len(roles) > 0 {
		return roles
	}
	return []string{"manager"}
}

// DefaultChains mirror the line-manager -> partner escalation the admin
// console displays.
var DefaultChains = StaticChains{
	SubjectTimesheet:    {"manager"},
	SubjectExpense:      {"manager"},
	SubjectWriteUpOff:   {"manager", "partner"},
	SubjectBillingPack:  {"partner"},
	SubjectLockOverride: {"partner"},
}

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	SaveApprovalRequest(ctx context.Context, r Request) error
	GetApprovalRequest(ctx context.Context, tenant ledger.TenantID, id string) (*Request, error)

	// GetApprovalBySubject returns the most recent request for a subject,
	// or nil.
	GetApprovalBySubject(ctx context.Context, tenant ledger.TenantID, subject SubjectType, subjectID string) (*Request, error)

	ListPendingApprovals(ctx context.Context, tenant ledger.TenantID) ([]Request, error)

	SavePeriodLock(ctx context.Context, l PeriodLock) error
	GetPeriodLock(ctx context.Context, tenant ledger.TenantID, id string) (*PeriodLock, error)
	ListPeriodLocks(ctx context.Context, tenant ledger.TenantID) ([]PeriodLock, error)
}

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	Store  Store
	Chains ChainResolver
}

func NewService(store Store, chains ChainResolver) *Service {
	if chains == nil {
		chains = DefaultChains
	}
	return &Service{Store: store, Chains: chains}
}

// Create opens a pending request with the configured chain for the subject.
func (s *Service) Create(ctx context.Context, tenant ledger.TenantID, subject SubjectType, subjectID string, requester ledger.ActorID, reason string, payload map[string]string) (*Request, error) {
	roles := s.Chains.ChainFor(subject)
	chain := make([]Step, len(roles))
	for i, role := range roles {
		chain[i] = Step{Role: role}
	}

	now := time.Now().UTC()
	req := &Request{
		ID:        ledger.NewID("apr"),
		TenantID:  tenant,
		Subject:   subject,
		SubjectID: subjectID,
		Requester: requester,
		Chain:     chain,
		Status:    StatusPending,
		Reason:    reason,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Store.SaveApprovalRequest(ctx, *req); err != nil {
		return nil, fmt.Errorf("failed to save approval request: %w", err)
	}
	return req, nil
}

// Approve satisfies the current chain step. The actor's role must match
// the step; out-of-order approvals are rejected. When the last step is
// satisfied the request resolves to Approved.
func (s *Service) Approve(ctx context.Context, tenant ledger.TenantID, id string, actor ledger.ActorID, role string) (*Request, error) {
	req, err := s.Store.GetApprovalRequest(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ledger.ErrNotFound
	}
	if req.Resolved() {
		return nil, fmt.Errorf("approve %s: already %s: %w", id, req.Status, ledger.ErrInvalidTransition)
	}

	step := &req.Chain[req.NextStep]
	if step.Role != role {
		return nil, fmt.Errorf("approve %s: step requires role %s, actor has %s: %w",
			id, step.Role, role, ledger.ErrValidation)
	}

	now := time.Now().UTC()
	step.ApprovedBy = actor
	step.ApprovedAt = &now
	req.NextStep++
	req.UpdatedAt = now

	if req.NextStep >= len(req.Chain) {
		req.Status = StatusApproved
		req.DecidedBy = actor
		req.DecidedAt = &now
	}

	if err := s.Store.SaveApprovalRequest(ctx, *req); err != nil {
		return nil, fmt.Errorf("failed to save approval: %w", err)
	}
	return req, nil
}

// Reject resolves the request as Rejected with a reason. Terminal.
func (s *Service) Reject(ctx context.Context, tenant ledger.TenantID, id string, actor ledger.ActorID, reason string) (*Request, error) {
	req, err := s.Store.GetApprovalRequest(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ledger.ErrNotFound
	}
	if req.Resolved() {
		return nil, fmt.Errorf("reject %s: already %s: %w", id, req.Status, ledger.ErrInvalidTransition)
	}

	now := time.Now().UTC()
	req.Status = StatusRejected
	req.RejectionReason = reason
	req.DecidedBy = actor
	req.DecidedAt = &now
	req.UpdatedAt = now

	if err := s.Store.SaveApprovalRequest(ctx, *req); err != nil {
		return nil, fmt.Errorf("failed to save rejection: %w", err)
	}
	return req, nil
}

// Supersede opens a new request for the same subject, referencing a
// resolved original. This is the only way to revisit a resolved request.
func (s *Service) Supersede(ctx context.Context, tenant ledger.TenantID, originalID string, requester ledger.ActorID, reason string) (*Request, error) {
	orig, err := s.Store.GetApprovalRequest(ctx, tenant, originalID)
	if err != nil {
		return nil, err
	}
	if orig == nil {
		return nil, ledger.ErrNotFound
	}
	if !orig.Resolved() {
		return nil, fmt.Errorf("supersede %s: original still pending: %w", originalID, ledger.ErrInvalidTransition)
	}

	req, err := s.Create(ctx, tenant, orig.Subject, orig.SubjectID, requester, reason, orig.Payload)
	if err != nil {
		return nil, err
	}
	req.Supersedes = orig.ID
	if err := s.Store.SaveApprovalRequest(ctx, *req); err != nil {
		return nil, fmt.Errorf("failed to link superseding request: %w", err)
	}
	return req, nil
}
