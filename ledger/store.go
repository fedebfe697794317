/*
store.go - Persistence interfaces for the core ledger

PURPOSE:
  Defines the boundary between domain logic and the database. Adjustment
  entries are append-only; WIP lines and capture units are saved whole but
  their value history lives entirely in the adjustment log.

APPEND-ONLY CONTRACT:
  AppendAdjustment is the only write for adjustment entries. There is no
  update or delete; corrections are new entries.

TRANSACTIONS:
  TxRunner binds a storage transaction to the context. Multi-step
  operations (invoice issue, journal posting) run inside WithTx so either
  every write commits or none do. Implementations nest by reusing an
  already-bound transaction.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite (WAL)
  - store/memory: in-memory for tests and dev
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// TRANSACTION BOUNDARY
// =============================================================================

// TxRunner executes fn atomically. The transaction rides on the returned
// context; store methods called with that context join it.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// =============================================================================
// ENGAGEMENT STORE
// =============================================================================

type EngagementStore interface {
	SaveEngagement(ctx context.Context, e Engagement) error
	GetEngagement(ctx context.Context, tenant TenantID, id EngagementID) (*Engagement, error)
	ListEngagements(ctx context.Context, tenant TenantID) ([]Engagement, error)
}

// =============================================================================
// CAPTURE STORE
// =============================================================================

type CaptureStore interface {
	SaveCaptureUnit(ctx context.Context, u CaptureUnit) error
	GetCaptureUnit(ctx context.Context, tenant TenantID, id CaptureUnitID) (*CaptureUnit, error)

	// ListCaptureUnits filters by engagement and/or status; zero values
	// mean "any".
	ListCaptureUnits(ctx context.Context, tenant TenantID, engagement EngagementID, status CaptureStatus) ([]CaptureUnit, error)
}

// =============================================================================
// WIP STORE
// =============================================================================

type WipStore interface {
	// InsertWipLine creates a new line. Fails if the ID exists.
	InsertWipLine(ctx context.Context, l WipLine) error

	// SaveWipLine updates mutable fields (billing value, status,
	// engagement after transfer). Standard value never changes.
	SaveWipLine(ctx context.Context, l WipLine) error

	GetWipLine(ctx context.Context, id WipLineID) (*WipLine, error)

	// ListWipLines filters by engagement and/or status; zero values mean
	// "any".
	ListWipLines(ctx context.Context, tenant TenantID, engagement EngagementID, status WipStatus) ([]WipLine, error)

	// AppendAdjustment is append-only. No update, no delete. Ever.
	AppendAdjustment(ctx context.Context, e AdjustmentEntry) error

	ListAdjustments(ctx context.Context, lineID WipLineID) ([]AdjustmentEntry, error)
}

// =============================================================================
// SCHEDULER RUN STORE
// =============================================================================

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// RunRecord is one background job sweep (dunning, recognition) for one
// tenant. Records are kept for audit and the operations UI; a failed
// sweep carries the error text.
type RunRecord struct {
	ID       string
	TenantID TenantID
	Job      string
	Period   Period

	Status RunStatus
	Error  string

	// Items counts what the sweep produced: dunning events fired or
	// draft journals generated.
	Items int

	StartedAt   time.Time
	CompletedAt *time.Time
}

type RunStore interface {
	SaveRunRecord(ctx context.Context, r RunRecord) error

	// ListRunRecords filters by job name; empty means "any". Newest first.
	ListRunRecords(ctx context.Context, tenant TenantID, job string) ([]RunRecord, error)
}

// Store is the full core surface a service graph needs.
type Store interface {
	TxRunner
	EngagementStore
	CaptureStore
	WipStore
}
