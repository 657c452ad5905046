package collection

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SCHEDULE - Loans, their installments and the agent registry
// =============================================================================

// Schedule owns the installment set of every loan. Installments are
// materialized once, at loan activation, and are never deleted.
type Schedule struct {
	Store TxStore
	Locks *LoanLocks
	Clock Clock
}

// NewLoan are the terms of an approved disbursement.
type NewLoan struct {
	ID                LoanID // optional; generated when empty
	BorrowerRef       string
	Principal         Money
	AnnualRatePercent decimal.Decimal
	InstallmentCount  int
	Frequency         Frequency
	StartDate         Day
}

// CreateLoan registers an active loan. Terms that cannot be planned are
// rejected here rather than at activation.
func (s *Schedule) CreateLoan(ctx context.Context, req NewLoan) (*Loan, error) {
	loan := s.newLoan(req)
	if err := validatePlan(loan.PlanInput()); err != nil {
		return nil, err
	}
	if err := s.Store.SaveLoan(ctx, loan); err != nil {
		return nil, err
	}
	return &loan, nil
}

func (s *Schedule) newLoan(req NewLoan) Loan {
	now := s.Clock()
	loan := Loan{
		ID:                req.ID,
		BorrowerRef:       req.BorrowerRef,
		Principal:         req.Principal,
		AnnualRatePercent: req.AnnualRatePercent,
		InstallmentCount:  req.InstallmentCount,
		Frequency:         req.Frequency,
		StartDate:         req.StartDate,
		Status:            LoanActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if loan.ID == "" {
		loan.ID = LoanID(newID())
	}
	return loan
}

func (s *Schedule) Loan(ctx context.Context, id LoanID) (*Loan, error) {
	return loadLoan(ctx, s.Store, id)
}

func (s *Schedule) Loans(ctx context.Context) ([]Loan, error) {
	return s.Store.ListLoans(ctx)
}

// SetLoanStatus moves a loan between active, defaulted and closed. Closed is
// terminal; a defaulted loan may be reinstated to active.
func (s *Schedule) SetLoanStatus(ctx context.Context, id LoanID, status LoanStatus) (*Loan, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidStatusTransition, status)
	}
	unlock := s.Locks.Lock(id)
	defer unlock()

	var updated *Loan
	err := s.Store.WithTx(ctx, func(tx Store) error {
		loan, err := loadLoan(ctx, tx, id)
		if err != nil {
			return err
		}
		if loan.Status == status {
			updated = loan
			return nil
		}
		if loan.Status == LoanClosed {
			return fmt.Errorf("%w: loan %s is closed", ErrInvalidStatusTransition, id)
		}
		now := s.Clock()
		if err := tx.UpdateLoanStatus(ctx, id, status, now); err != nil {
			return err
		}
		loan.Status = status
		loan.UpdatedAt = now
		updated = loan
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Materialize creates the loan's installments from drafts: sequence 1..N,
// pending, unassigned. It is one-shot; a second call fails with
// ErrDuplicateSchedule. The drafts must cover the stored loan's terms: one
// row per planned installment, summing to principal plus flat interest.
func (s *Schedule) Materialize(ctx context.Context, loan Loan, drafts []InstallmentDraft) ([]Installment, error) {
	if err := validateDrafts(drafts); err != nil {
		return nil, err
	}

	unlock := s.Locks.Lock(loan.ID)
	defer unlock()

	var created []Installment
	err := s.Store.WithTx(ctx, func(tx Store) error {
		stored, err := loadLoan(ctx, tx, loan.ID)
		if err != nil {
			return err
		}
		insts, err := materialize(ctx, tx, *stored, drafts)
		if err != nil {
			return err
		}
		created = insts
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Activate plans the stored loan's terms and materializes them.
func (s *Schedule) Activate(ctx context.Context, id LoanID) ([]Installment, error) {
	loan, err := loadLoan(ctx, s.Store, id)
	if err != nil {
		return nil, err
	}
	drafts, err := Plan(loan.PlanInput())
	if err != nil {
		return nil, err
	}
	return s.Materialize(ctx, *loan, drafts)
}

// Open creates a loan and materializes its planned schedule in one
// transaction. Either both exist afterwards or neither does.
func (s *Schedule) Open(ctx context.Context, req NewLoan) (*Loan, []Installment, error) {
	loan := s.newLoan(req)
	drafts, err := Plan(loan.PlanInput())
	if err != nil {
		return nil, nil, err
	}

	unlock := s.Locks.Lock(loan.ID)
	defer unlock()

	var created []Installment
	err = s.Store.WithTx(ctx, func(tx Store) error {
		if err := tx.SaveLoan(ctx, loan); err != nil {
			return err
		}
		insts, err := materialize(ctx, tx, loan, drafts)
		if err != nil {
			return err
		}
		created = insts
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &loan, created, nil
}

func materialize(ctx context.Context, tx Store, loan Loan, drafts []InstallmentDraft) ([]Installment, error) {
	if err := checkDraftsCoverLoan(loan, drafts); err != nil {
		return nil, err
	}
	existing, err := tx.LoadInstallments(ctx, loan.ID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, fmt.Errorf("%w: loan %s has %d installments", ErrDuplicateSchedule, loan.ID, len(existing))
	}

	insts := make([]Installment, len(drafts))
	for i, d := range drafts {
		insts[i] = Installment{
			ID:        InstallmentIDFor(loan.ID, d.Sequence),
			LoanID:    loan.ID,
			Sequence:  d.Sequence,
			DueDate:   d.DueDate,
			Principal: d.Principal,
			Interest:  d.Interest,
			TotalDue:  d.TotalDue,
			Status:    InstallmentPending,
		}
	}
	if err := tx.InsertInstallments(ctx, insts); err != nil {
		return nil, err
	}
	return insts, nil
}

// Get returns the loan's installments ordered by sequence.
func (s *Schedule) Get(ctx context.Context, id LoanID) ([]Installment, error) {
	if _, err := loadLoan(ctx, s.Store, id); err != nil {
		return nil, err
	}
	return s.Store.LoadInstallments(ctx, id)
}

// ByAgent returns every installment currently assigned to the agent.
func (s *Schedule) ByAgent(ctx context.Context, id AgentID) ([]Installment, error) {
	return s.Store.InstallmentsByAgent(ctx, id)
}

func (s *Schedule) Installment(ctx context.Context, id InstallmentID) (*Installment, error) {
	return loadInstallment(ctx, s.Store, id)
}

// InstallmentIDFor is the stable id of a loan's k-th installment.
func InstallmentIDFor(loanID LoanID, sequence int) InstallmentID {
	return InstallmentID(fmt.Sprintf("%s-%03d", loanID, sequence))
}

func validateDrafts(drafts []InstallmentDraft) error {
	if len(drafts) == 0 {
		return &InvalidPlanError{Reason: "no installments to materialize"}
	}
	for i, d := range drafts {
		if d.Sequence != i+1 {
			return &InvalidPlanError{Reason: fmt.Sprintf("sequence %d at position %d; sequences must run 1..N", d.Sequence, i+1)}
		}
		if d.TotalDue <= 0 || d.Principal < 0 || d.Interest < 0 || d.Principal+d.Interest != d.TotalDue {
			return &InvalidPlanError{Reason: fmt.Sprintf("installment %d has inconsistent amounts", d.Sequence)}
		}
		if d.DueDate.IsZero() {
			return &InvalidPlanError{Reason: fmt.Sprintf("installment %d has no due date", d.Sequence)}
		}
	}
	return nil
}

// checkDraftsCoverLoan holds the drafts to the loan's own terms.
func checkDraftsCoverLoan(loan Loan, drafts []InstallmentDraft) error {
	if len(drafts) != loan.InstallmentCount {
		return &InvalidPlanError{Reason: fmt.Sprintf("%d installments for a loan of %d", len(drafts), loan.InstallmentCount)}
	}
	payable := loan.Principal + TotalInterest(loan.Principal, loan.AnnualRatePercent)
	if sum := Summarize(drafts); sum.TotalDue != payable {
		return &InvalidPlanError{Reason: fmt.Sprintf("installments total %s, loan payable is %s", sum.TotalDue, payable)}
	}
	return nil
}

// =============================================================================
// AGENTS
// =============================================================================

// RegisterAgent adds an active agent, or renames an existing one.
func (s *Schedule) RegisterAgent(ctx context.Context, id AgentID, name string) (*Agent, error) {
	if strings.TrimSpace(string(id)) == "" {
		id = AgentID(newID())
	}
	existing, err := s.Store.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	agent := Agent{ID: id, Name: name, Active: true, CreatedAt: s.Clock()}
	if existing != nil {
		agent.Active = existing.Active
		agent.CreatedAt = existing.CreatedAt
		if name == "" {
			agent.Name = existing.Name
		}
	}
	if err := s.Store.SaveAgent(ctx, agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

func (s *Schedule) Agent(ctx context.Context, id AgentID) (*Agent, error) {
	agent, err := s.Store.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, notFound("agent", string(id))
	}
	return agent, nil
}

func (s *Schedule) Agents(ctx context.Context) ([]Agent, error) {
	return s.Store.ListAgents(ctx)
}

// SetAgentActive toggles an agent. Deactivating does not touch existing
// assignments; a supervisor re-routes them.
func (s *Schedule) SetAgentActive(ctx context.Context, id AgentID, active bool) (*Agent, error) {
	agent, err := s.Agent(ctx, id)
	if err != nil {
		return nil, err
	}
	agent.Active = active
	if err := s.Store.SaveAgent(ctx, *agent); err != nil {
		return nil, err
	}
	return agent, nil
}
