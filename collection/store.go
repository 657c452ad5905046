/*
store.go - Persistence interfaces for loans, installments and the ledger

PURPOSE:
  Defines the boundary between the engine and the database. The engine never
  talks SQL; it asks a Store for records and writes through a TxStore so that
  a payment's three effects (ledger entry, installment update, loan close)
  land together or not at all.

KEY INTERFACES:
  LoanStore:        loan records (only Status changes after creation)
  InstallmentStore: the schedule, the single source of truth for dues
  LedgerStore:      append-only payment ledger with idempotency keys
  AgentStore:       collection agents
  AssignmentLog:    append-only audit of assign/unassign calls
  TxStore:          WithTx for atomic multi-record writes
  SnapshotReader:   optional consistent read view for analytics

LOOKUPS:
  Get* methods return (nil, nil) when the record does not exist. The engine
  turns that into a NotFoundError with the right kind.

APPEND-ONLY:
  LedgerStore and AssignmentLog have no Update or Delete. A duplicate
  idempotency key is rejected with ErrDuplicateIdempotencyKey.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: durable SQLite store
  - collection/store/memory.go: in-memory store for tests and dev
*/
package collection

import (
	"context"
	"time"
)

type LoanStore interface {
	SaveLoan(ctx context.Context, loan Loan) error
	GetLoan(ctx context.Context, id LoanID) (*Loan, error)
	ListLoans(ctx context.Context) ([]Loan, error)
	UpdateLoanStatus(ctx context.Context, id LoanID, status LoanStatus, at time.Time) error
}

type InstallmentStore interface {
	// InsertInstallments adds a loan's schedule. Callers check for an
	// existing schedule first; stores reject duplicate (loan, sequence).
	InsertInstallments(ctx context.Context, insts []Installment) error

	// LoadInstallments returns a loan's installments ordered by sequence.
	LoadInstallments(ctx context.Context, loanID LoanID) ([]Installment, error)

	GetInstallment(ctx context.Context, id InstallmentID) (*Installment, error)

	// InstallmentsByAgent returns installments currently assigned to the
	// agent across loans, ordered by due date then loan and sequence.
	InstallmentsByAgent(ctx context.Context, agentID AgentID) ([]Installment, error)

	AllInstallments(ctx context.Context) ([]Installment, error)

	// UpdateInstallment persists the mutable fields: AmountPaid, Status,
	// AssignedAgent, AssignedAt, CompletedAt.
	UpdateInstallment(ctx context.Context, inst Installment) error
}

// EntryFilter narrows a ledger query. Zero fields do not filter. The time
// range is half open: [From, To).
type EntryFilter struct {
	LoanID  LoanID
	AgentID AgentID
	From    *time.Time
	To      *time.Time
}

func (f EntryFilter) Matches(e LedgerEntry) bool {
	if f.LoanID != "" && e.LoanID != f.LoanID {
		return false
	}
	if f.AgentID != "" && e.AgentID != f.AgentID {
		return false
	}
	if f.From != nil && e.CollectedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && !e.CollectedAt.Before(*f.To) {
		return false
	}
	return true
}

type LedgerStore interface {
	// AppendEntry is the only write. Returns ErrDuplicateIdempotencyKey if
	// the entry's key already exists.
	AppendEntry(ctx context.Context, entry LedgerEntry) error

	EntryByIdempotencyKey(ctx context.Context, key string) (*LedgerEntry, error)

	// EntriesByInstallment returns entries oldest first.
	EntriesByInstallment(ctx context.Context, id InstallmentID) ([]LedgerEntry, error)

	// QueryEntries returns matching entries oldest first.
	QueryEntries(ctx context.Context, filter EntryFilter) ([]LedgerEntry, error)
}

type AgentStore interface {
	// SaveAgent inserts or updates an agent.
	SaveAgent(ctx context.Context, agent Agent) error
	GetAgent(ctx context.Context, id AgentID) (*Agent, error)
	ListAgents(ctx context.Context) ([]Agent, error)
}

type AssignmentLog interface {
	AppendAssignment(ctx context.Context, ev AssignmentEvent) error
	AssignmentHistory(ctx context.Context, id InstallmentID) ([]AssignmentEvent, error)
}

// Store is everything the engine persists.
type Store interface {
	LoanStore
	InstallmentStore
	LedgerStore
	AgentStore
	AssignmentLog
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// SnapshotReader is implemented by stores that can serve several reads from
// one consistent view without blocking writers for long.
type SnapshotReader interface {
	ReadSnapshot(ctx context.Context, fn func(Store) error) error
}

// readView runs fn against a consistent snapshot when the store offers one,
// and against the live store otherwise.
func readView(ctx context.Context, s Store, fn func(Store) error) error {
	if sr, ok := s.(SnapshotReader); ok {
		return sr.ReadSnapshot(ctx, fn)
	}
	return fn(s)
}
