/*
assignment.go - Routing installments to collection agents

PURPOSE:
  An installment has at most one assignee at a time. Assignment is a
  relation kept on the installment (installment -> agent), never a list on
  the agent, so "who collects this?" has exactly one answer.

SEMANTICS:
  - Last write wins. A supervisor can always re-route work; there is no
    negotiation or lease.
  - Every call is stamped with the clock and appended to the assignment log
    for audit.
  - Done installments are frozen: assign and unassign fail ErrAlreadyDone.
  - Only active, registered agents receive work.

SEE ALSO:
  - recorder.go: Collect checks the assignee
  - schedule.go: ByAgent reads assignments back
*/
package collection

import (
	"context"
	"fmt"
)

type AssignmentManager struct {
	Store TxStore
	Locks *LoanLocks
	Clock Clock
}

// Assign routes the installment to agentID, replacing any previous assignee.
func (m *AssignmentManager) Assign(ctx context.Context, id InstallmentID, agentID AgentID) (AssignmentEvent, error) {
	if err := m.checkAgent(ctx, agentID); err != nil {
		return AssignmentEvent{}, err
	}

	unlock, err := lockInstallment(ctx, m.Store, m.Locks, id)
	if err != nil {
		return AssignmentEvent{}, err
	}
	defer unlock()

	var ev AssignmentEvent
	err = m.Store.WithTx(ctx, func(tx Store) error {
		inst, err := loadInstallment(ctx, tx, id)
		if err != nil {
			return err
		}
		ev, err = m.route(ctx, tx, *inst, agentID)
		return err
	})
	return ev, err
}

// Unassign returns the installment to the unassigned pool. Unassigning an
// installment nobody holds is a no-op.
func (m *AssignmentManager) Unassign(ctx context.Context, id InstallmentID) (AssignmentEvent, error) {
	unlock, err := lockInstallment(ctx, m.Store, m.Locks, id)
	if err != nil {
		return AssignmentEvent{}, err
	}
	defer unlock()

	var ev AssignmentEvent
	err = m.Store.WithTx(ctx, func(tx Store) error {
		inst, err := loadInstallment(ctx, tx, id)
		if err != nil {
			return err
		}
		if !inst.IsAssigned() {
			if inst.IsDone() {
				return fmt.Errorf("%w: %s", ErrAlreadyDone, id)
			}
			ev = AssignmentEvent{InstallmentID: id, LoanID: inst.LoanID, At: m.Clock()}
			return nil
		}
		ev, err = m.route(ctx, tx, *inst, "")
		return err
	})
	return ev, err
}

// AssignLoan routes every open installment of a loan to one agent in a
// single transaction. Done installments are skipped.
func (m *AssignmentManager) AssignLoan(ctx context.Context, loanID LoanID, agentID AgentID) ([]AssignmentEvent, error) {
	if err := m.checkAgent(ctx, agentID); err != nil {
		return nil, err
	}

	unlock := m.Locks.Lock(loanID)
	defer unlock()

	var events []AssignmentEvent
	err := m.Store.WithTx(ctx, func(tx Store) error {
		if _, err := loadLoan(ctx, tx, loanID); err != nil {
			return err
		}
		insts, err := tx.LoadInstallments(ctx, loanID)
		if err != nil {
			return err
		}
		for _, inst := range insts {
			if inst.IsDone() {
				continue
			}
			ev, err := m.route(ctx, tx, inst, agentID)
			if err != nil {
				return err
			}
			events = append(events, ev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// History returns the installment's assignment log, oldest first.
func (m *AssignmentManager) History(ctx context.Context, id InstallmentID) ([]AssignmentEvent, error) {
	if _, err := loadInstallment(ctx, m.Store, id); err != nil {
		return nil, err
	}
	return m.Store.AssignmentHistory(ctx, id)
}

// route writes the new assignee (empty to unassign) and logs the change.
// Must run inside the loan's lock and a transaction.
func (m *AssignmentManager) route(ctx context.Context, tx Store, inst Installment, agentID AgentID) (AssignmentEvent, error) {
	if inst.IsDone() {
		return AssignmentEvent{}, fmt.Errorf("%w: %s", ErrAlreadyDone, inst.ID)
	}

	now := m.Clock()
	ev := AssignmentEvent{
		InstallmentID: inst.ID,
		LoanID:        inst.LoanID,
		AgentID:       agentID,
		PreviousAgent: inst.AssignedAgent,
		At:            now,
	}

	inst.AssignedAgent = agentID
	if agentID == "" {
		inst.AssignedAt = nil
	} else {
		inst.AssignedAt = &now
	}
	if err := tx.UpdateInstallment(ctx, inst); err != nil {
		return AssignmentEvent{}, err
	}
	if err := tx.AppendAssignment(ctx, ev); err != nil {
		return AssignmentEvent{}, err
	}
	return ev, nil
}

func (m *AssignmentManager) checkAgent(ctx context.Context, id AgentID) error {
	if id == "" {
		return notFound("agent", "")
	}
	agent, err := m.Store.GetAgent(ctx, id)
	if err != nil {
		return err
	}
	if agent == nil {
		return notFound("agent", string(id))
	}
	if !agent.Active {
		return fmt.Errorf("%w: %s", ErrAgentInactive, id)
	}
	return nil
}
