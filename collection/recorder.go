/*
recorder.go - Applying payments to installments

PURPOSE:
  Collect is the only way money enters the engine. One accepted call does
  three things atomically, inside the loan's lock and one store transaction:
    1. append a LedgerEntry
    2. add the amount to the installment's AmountPaid
    3. flip the installment to done when it is fully paid
  and, when that was the loan's last open installment, closes the loan.

VALIDATION ORDER:
  amount > 0, known method, agent present        (no I/O)
  idempotency replay                               (retry returns original)
  installment exists, not done, loan active
  agent is the assignee, unless Override
  amount <= outstanding                            (else OverpaymentError)

IDEMPOTENCY:
  A retried request with the same IdempotencyKey, installment, agent,
  amount, method and override flag gets the original entry back with
  Replayed=true and changes nothing. Reusing a key for a different payment
  is ErrIdempotencyConflict.

CONCURRENCY:
  The read-check-write on AmountPaid runs under the per-loan lock, so two
  concurrent collects on one installment apply one after the other.
*/
package collection

import (
	"context"
	"fmt"
	"time"
)

type CollectionRecorder struct {
	Store TxStore
	Locks *LoanLocks
	Clock Clock

	// NewID generates ledger entry ids; uuid when nil.
	NewID func() EntryID
}

type CollectRequest struct {
	InstallmentID  InstallmentID
	AgentID        AgentID
	Amount         Money
	Method         PaymentMethod
	IdempotencyKey string
	Override       bool // supervisor collecting an installment not assigned to them
}

type CollectResult struct {
	Entry       LedgerEntry
	Installment Installment
	Replayed    bool
	LoanClosed  bool
}

// Collect records a payment against an installment.
func (r *CollectionRecorder) Collect(ctx context.Context, req CollectRequest) (*CollectResult, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidAmount, req.Amount)
	}
	if !req.Method.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMethod, req.Method)
	}
	if req.AgentID == "" {
		return nil, &NotAssignedError{InstallmentID: req.InstallmentID}
	}

	unlock, err := lockInstallment(ctx, r.Store, r.Locks, req.InstallmentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var result *CollectResult
	err = r.Store.WithTx(ctx, func(tx Store) error {
		res, err := r.collectLocked(ctx, tx, req)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *CollectionRecorder) collectLocked(ctx context.Context, tx Store, req CollectRequest) (*CollectResult, error) {
	if req.IdempotencyKey != "" {
		prior, err := tx.EntryByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			return r.replay(ctx, tx, *prior, req)
		}
	}

	inst, err := loadInstallment(ctx, tx, req.InstallmentID)
	if err != nil {
		return nil, err
	}
	if inst.IsDone() {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyDone, inst.ID)
	}

	loan, err := loadLoan(ctx, tx, inst.LoanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != LoanActive {
		return nil, fmt.Errorf("%w: loan %s is %s", ErrLoanNotActive, loan.ID, loan.Status)
	}

	if !req.Override && inst.AssignedAgent != req.AgentID {
		return nil, &NotAssignedError{
			InstallmentID: inst.ID,
			AgentID:       req.AgentID,
			Assignee:      inst.AssignedAgent,
		}
	}

	if outstanding := inst.Outstanding(); req.Amount > outstanding {
		return nil, &OverpaymentError{
			InstallmentID: inst.ID,
			Requested:     req.Amount,
			MaxAcceptable: outstanding,
		}
	}

	now := r.Clock()
	entry := LedgerEntry{
		ID:             r.nextID(),
		InstallmentID:  inst.ID,
		LoanID:         inst.LoanID,
		AgentID:        req.AgentID,
		Amount:         req.Amount,
		Method:         req.Method,
		CollectedAt:    now,
		IdempotencyKey: req.IdempotencyKey,
		Override:       req.Override,
	}
	if err := tx.AppendEntry(ctx, entry); err != nil {
		return nil, err
	}

	inst.AmountPaid += req.Amount
	if inst.AmountPaid == inst.TotalDue {
		inst.Status = InstallmentDone
		inst.CompletedAt = &now
	}
	if err := tx.UpdateInstallment(ctx, *inst); err != nil {
		return nil, err
	}

	result := &CollectResult{Entry: entry, Installment: *inst}
	if inst.IsDone() {
		closed, err := closeIfSettled(ctx, tx, inst.LoanID, now)
		if err != nil {
			return nil, err
		}
		result.LoanClosed = closed
	}
	return result, nil
}

// replay answers a retried request from the ledger.
func (r *CollectionRecorder) replay(ctx context.Context, tx Store, prior LedgerEntry, req CollectRequest) (*CollectResult, error) {
	if prior.InstallmentID != req.InstallmentID || prior.AgentID != req.AgentID ||
		prior.Amount != req.Amount || prior.Method != req.Method || prior.Override != req.Override {
		return nil, fmt.Errorf("%w: key %q", ErrIdempotencyConflict, req.IdempotencyKey)
	}
	inst, err := loadInstallment(ctx, tx, prior.InstallmentID)
	if err != nil {
		return nil, err
	}
	return &CollectResult{Entry: prior, Installment: *inst, Replayed: true}, nil
}

// closeIfSettled closes an active loan once every installment is done.
func closeIfSettled(ctx context.Context, tx Store, loanID LoanID, now time.Time) (bool, error) {
	insts, err := tx.LoadInstallments(ctx, loanID)
	if err != nil {
		return false, err
	}
	for _, i := range insts {
		if !i.IsDone() {
			return false, nil
		}
	}
	if err := tx.UpdateLoanStatus(ctx, loanID, LoanClosed, now); err != nil {
		return false, err
	}
	return true, nil
}

// Entries returns the installment's ledger entries, oldest first.
func (r *CollectionRecorder) Entries(ctx context.Context, id InstallmentID) ([]LedgerEntry, error) {
	if _, err := loadInstallment(ctx, r.Store, id); err != nil {
		return nil, err
	}
	return r.Store.EntriesByInstallment(ctx, id)
}

func (r *CollectionRecorder) nextID() EntryID {
	if r.NewID != nil {
		return r.NewID()
	}
	return EntryID(newID())
}
