/*
Package collection provides the loan repayment schedule and collection engine.

PURPOSE:
  Every dashboard of the lending business (admin, agent, staff, mobile)
  needs the same numbers: what is due, who collects it, what was paid, what
  is overdue and how the portfolio performs. This package computes them once,
  in one place, over a single source of truth.

KEY CONCEPTS IN THIS FILE (types.go):
  - Loan: principal, flat rate, installment count, frequency, status
  - Installment: one due amount of a loan, with paid-so-far and assignee
  - LedgerEntry: immutable record of one accepted payment
  - Agent: a collection agent (identity + active flag)
  - AssignmentEvent: audit record of every assign/unassign

COMPONENTS:
  planner.go:    Plan() turns loan terms into installment drafts (pure)
  schedule.go:   Schedule materializes and reads installments
  assignment.go: AssignmentManager routes installments to agents
  recorder.go:   CollectionRecorder applies payments atomically
  classify.go:   Classify() derives pending/due-today/overdue/done
  analytics.go:  Aggregator computes dashboard metrics

INVARIANTS:
  1. AmountPaid <= TotalDue for every installment, always
  2. Sequences are contiguous 1..N within a loan
  3. Sum of TotalDue == principal + interest, to the minor unit
  4. Ledger entries are never updated or deleted
  5. A done installment is frozen (no assignment, no payment)

SEE ALSO:
  - store.go: persistence interfaces
  - store/sqlite: durable implementation
  - collection/store: in-memory implementation for tests
*/
package collection

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type LoanID string
type InstallmentID string
type AgentID string
type EntryID string

// =============================================================================
// LOAN
// =============================================================================

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}

type LoanStatus string

const (
	LoanActive    LoanStatus = "active"
	LoanClosed    LoanStatus = "closed"
	LoanDefaulted LoanStatus = "defaulted"
)

func (s LoanStatus) Valid() bool {
	switch s {
	case LoanActive, LoanClosed, LoanDefaulted:
		return true
	}
	return false
}

// Loan is created when a disbursement is approved. Everything except Status
// is immutable afterwards.
type Loan struct {
	ID                LoanID
	BorrowerRef       string // key into the external borrower system
	Principal         Money
	AnnualRatePercent decimal.Decimal
	InstallmentCount  int
	Frequency         Frequency
	StartDate         Day
	Status            LoanStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// PlanInput returns the loan's terms in the shape Plan expects.
func (l Loan) PlanInput() PlanInput {
	return PlanInput{
		Principal:         l.Principal,
		AnnualRatePercent: l.AnnualRatePercent,
		InstallmentCount:  l.InstallmentCount,
		Frequency:         l.Frequency,
		StartDate:         l.StartDate,
	}
}

// =============================================================================
// INSTALLMENT
// =============================================================================

type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "pending"
	InstallmentDone    InstallmentStatus = "done"
)

type Installment struct {
	ID            InstallmentID
	LoanID        LoanID
	Sequence      int
	DueDate       Day
	Principal     Money
	Interest      Money
	TotalDue      Money
	AmountPaid    Money
	Status        InstallmentStatus
	AssignedAgent AgentID // empty = unassigned pool
	AssignedAt    *time.Time
	CompletedAt   *time.Time
}

// Outstanding is what is still owed on the installment.
func (i Installment) Outstanding() Money { return i.TotalDue - i.AmountPaid }

func (i Installment) IsDone() bool { return i.Status == InstallmentDone }

func (i Installment) IsAssigned() bool { return i.AssignedAgent != "" }

// =============================================================================
// LEDGER ENTRY - Immutable payment event
// =============================================================================

type PaymentMethod string

const (
	MethodCash PaymentMethod = "cash"
	MethodUPI  PaymentMethod = "upi"
	MethodCard PaymentMethod = "card"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodUPI, MethodCard:
		return true
	}
	return false
}

// LedgerEntry records one accepted payment. Entries are append-only: there is
// no update or delete path in any Store.
type LedgerEntry struct {
	ID             EntryID
	InstallmentID  InstallmentID
	LoanID         LoanID
	AgentID        AgentID
	Amount         Money
	Method         PaymentMethod
	CollectedAt    time.Time
	IdempotencyKey string
	Override       bool // collected by a supervisor without being the assignee
}

// =============================================================================
// AGENT
// =============================================================================

type Agent struct {
	ID        AgentID
	Name      string
	Active    bool
	CreatedAt time.Time
}

// =============================================================================
// ASSIGNMENT EVENT - Audit of routing decisions
// =============================================================================

// AssignmentEvent records a single assign (AgentID set) or unassign
// (AgentID empty) with the time of the call. Last write wins.
type AssignmentEvent struct {
	InstallmentID InstallmentID
	LoanID        LoanID
	AgentID       AgentID
	PreviousAgent AgentID
	At            time.Time
}

// =============================================================================
// CLOCK
// =============================================================================

// Clock returns the current time. Tests inject fixed clocks.
type Clock func() time.Time

// SystemClock returns time.Now in the given location.
func SystemClock(loc *time.Location) Clock {
	if loc == nil {
		loc = time.UTC
	}
	return func() time.Time { return time.Now().In(loc) }
}
