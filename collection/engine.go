package collection

import (
	"context"

	"github.com/google/uuid"
)

// Engine wires the components around one store, one clock and one set of
// per-loan locks. The components share the locks so that materialization,
// assignment and collection on a loan are serialized against each other.
type Engine struct {
	Schedule    *Schedule
	Assignments *AssignmentManager
	Recorder    *CollectionRecorder
	Analytics   *Aggregator
}

func NewEngine(store TxStore, clock Clock) *Engine {
	if clock == nil {
		clock = SystemClock(nil)
	}
	locks := NewLoanLocks()
	return &Engine{
		Schedule:    &Schedule{Store: store, Locks: locks, Clock: clock},
		Assignments: &AssignmentManager{Store: store, Locks: locks, Clock: clock},
		Recorder:    &CollectionRecorder{Store: store, Locks: locks, Clock: clock},
		Analytics:   &Aggregator{Store: store, Clock: clock},
	}
}

func newID() string { return uuid.NewString() }

// lockInstallment resolves the installment's loan and takes that loan's lock.
// The caller re-reads the installment inside its transaction; the lookup
// here only finds which lock to take.
func lockInstallment(ctx context.Context, s Store, locks *LoanLocks, id InstallmentID) (func(), error) {
	inst, err := s.GetInstallment(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, notFound("installment", string(id))
	}
	return locks.Lock(inst.LoanID), nil
}

// loadInstallment is GetInstallment with NotFoundError for a missing row.
func loadInstallment(ctx context.Context, s Store, id InstallmentID) (*Installment, error) {
	inst, err := s.GetInstallment(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, notFound("installment", string(id))
	}
	return inst, nil
}

func loadLoan(ctx context.Context, s Store, id LoanID) (*Loan, error) {
	loan, err := s.GetLoan(ctx, id)
	if err != nil {
		return nil, err
	}
	if loan == nil {
		return nil, notFound("loan", string(id))
	}
	return loan, nil
}
