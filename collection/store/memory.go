// Package store provides Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/collection-engine/collection"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements collection.TxStore. Records are copied in and out, so
// callers never alias store state.
type Memory struct {
	mu   sync.RWMutex
	data *memoryData
}

type memoryData struct {
	loans        map[collection.LoanID]collection.Loan
	installments map[collection.InstallmentID]collection.Installment
	byLoan       map[collection.LoanID][]collection.InstallmentID // sequence order
	entries      []collection.LedgerEntry                         // append order
	idempotency  map[string]int                                   // key -> index in entries
	agents       map[collection.AgentID]collection.Agent
	assignments  map[collection.InstallmentID][]collection.AssignmentEvent
}

func newMemoryData() *memoryData {
	return &memoryData{
		loans:        make(map[collection.LoanID]collection.Loan),
		installments: make(map[collection.InstallmentID]collection.Installment),
		byLoan:       make(map[collection.LoanID][]collection.InstallmentID),
		idempotency:  make(map[string]int),
		agents:       make(map[collection.AgentID]collection.Agent),
		assignments:  make(map[collection.InstallmentID][]collection.AssignmentEvent),
	}
}

func NewMemory() *Memory {
	return &Memory{data: newMemoryData()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(collection.Store) error) error {
	if err := ctx.Err(); err != nil {
		return collection.Transient(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()
	if err := fn(&memoryView{d: m.data}); err != nil {
		m.data = snapshot
		return err
	}
	return nil
}

// Reset deletes every record.
func (m *Memory) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = newMemoryData()
	return nil
}

// ReadSnapshot serves fn from one consistent view while holding the read lock.
func (m *Memory) ReadSnapshot(ctx context.Context, fn func(collection.Store) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&memoryView{d: m.data, readOnly: true})
}

// read and write run one operation against the live data.
func (m *Memory) read(fn func(v *memoryView) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&memoryView{d: m.data})
}

func (m *Memory) write(fn func(v *memoryView) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&memoryView{d: m.data})
}

func (d *memoryData) clone() *memoryData {
	c := newMemoryData()
	for k, v := range d.loans {
		c.loans[k] = v
	}
	for k, v := range d.installments {
		c.installments[k] = v
	}
	for k, v := range d.byLoan {
		c.byLoan[k] = append([]collection.InstallmentID(nil), v...)
	}
	c.entries = append([]collection.LedgerEntry(nil), d.entries...)
	for k, v := range d.idempotency {
		c.idempotency[k] = v
	}
	for k, v := range d.agents {
		c.agents[k] = v
	}
	for k, v := range d.assignments {
		c.assignments[k] = append([]collection.AssignmentEvent(nil), v...)
	}
	return c
}

// =============================================================================
// LOCKED ENTRY POINTS (collection.Store)
// =============================================================================

func (m *Memory) SaveLoan(ctx context.Context, loan collection.Loan) error {
	return m.write(func(v *memoryView) error { return v.SaveLoan(ctx, loan) })
}

func (m *Memory) GetLoan(ctx context.Context, id collection.LoanID) (out *collection.Loan, err error) {
	err = m.read(func(v *memoryView) error { out, err = v.GetLoan(ctx, id); return err })
	return out, err
}

func (m *Memory) ListLoans(ctx context.Context) (out []collection.Loan, err error) {
	err = m.read(func(v *memoryView) error { out, err = v.ListLoans(ctx); return err })
	return out, err
}

func (m *Memory) UpdateLoanStatus(ctx context.Context, id collection.LoanID, status collection.LoanStatus, at time.Time) error {
	return m.write(func(v *memoryView) error { return v.UpdateLoanStatus(ctx, id, status, at) })
}

func (m *Memory) InsertInstallments(ctx context.Context, insts []collection.Installment) error {
	return m.write(func(v *memoryView) error { return v.InsertInstallments(ctx, insts) })
}

func (m *Memory) LoadInstallments(ctx context.Context, loanID collection.LoanID) (out []collection.Installment, err error) {
	err = m.read(func(v *memoryView) error { out, err = v.LoadInstallments(ctx, loanID); return err })
	return out, err
}

func (m *Memory) GetInstallment(ctx context.Context, id collection.InstallmentID) (out *collection.Installment, err error) {
	err = m.read(func(v *memoryView) error { out, err = v.GetInstallment(ctx, id); return err })
	return out, err
}

func (m *Memory) InstallmentsByAgent(ctx context.Context, agentID collection.AgentID) (out []collection.Installment, err error) {
	err = m.read(func(v *memoryView) error { out, err = v.InstallmentsByAgent(ctx, agentID); return err })
	return out, err
}

func (m *Memory) AllInstallments(ctx context.Context) (out []collection.Installment, err error) {
	err = m.read(func(v *memoryView) error { out, err = v.AllInstallments(ctx); return err })
	return out, err
}

func (m *Memory) UpdateInstallment(ctx context.Context, inst collection.Installment) error {
	return m.write(func(v *memoryView) error { return v.UpdateInstallment(ctx, inst) })
}

func (m *Memory) AppendEntry(ctx context.Context, e collection.LedgerEntry) error {
	return m.write(func(v *memoryView) error { return v.AppendEntry(ctx, e) })
}

func (m *Memory) EntryByIdempotencyKey(ctx context.Context, key string) (out *collection.LedgerEntry, err error) {
	err = m.read(func(v *memoryView) error { out, err = v.EntryByIdempotencyKey(ctx, key); return err })
	return out, err
}

func (m *Memory) EntriesByInstallment(ctx context.Context, id collection.InstallmentID) (out []collection.LedgerEntry, err error) {
	err = m.read(func(v *memoryView) error { out, err = v.EntriesByInstallment(ctx, id); return err })
	return out, err
}

func (m *Memory) QueryEntries(ctx context.Context, f collection.EntryFilter) (out []collection.LedgerEntry, err error) {
	err = m.read(func(v *memoryView) error { out, err = v.QueryEntries(ctx, f); return err })
	return out, err
}

func (m *Memory) SaveAgent(ctx context.Context, a collection.Agent) error {
	return m.write(func(v *memoryView) error { return v.SaveAgent(ctx, a) })
}

func (m *Memory) GetAgent(ctx context.Context, id collection.AgentID) (out *collection.Agent, err error) {
	err = m.read(func(v *memoryView) error { out, err = v.GetAgent(ctx, id); return err })
	return out, err
}

func (m *Memory) ListAgents(ctx context.Context) (out []collection.Agent, err error) {
	err = m.read(func(v *memoryView) error { out, err = v.ListAgents(ctx); return err })
	return out, err
}

func (m *Memory) AppendAssignment(ctx context.Context, ev collection.AssignmentEvent) error {
	return m.write(func(v *memoryView) error { return v.AppendAssignment(ctx, ev) })
}

func (m *Memory) AssignmentHistory(ctx context.Context, id collection.InstallmentID) (out []collection.AssignmentEvent, err error) {
	err = m.read(func(v *memoryView) error { out, err = v.AssignmentHistory(ctx, id); return err })
	return out, err
}

// =============================================================================
// VIEW - Lock-free operations; callers hold Memory.mu
// =============================================================================

type memoryView struct {
	d        *memoryData
	readOnly bool
}

var errReadOnly = fmt.Errorf("memory store: write inside read snapshot")

func (v *memoryView) writable() error {
	if v.readOnly {
		return errReadOnly
	}
	return nil
}

func (v *memoryView) SaveLoan(_ context.Context, loan collection.Loan) error {
	if err := v.writable(); err != nil {
		return err
	}
	if _, ok := v.d.loans[loan.ID]; ok {
		return fmt.Errorf("%w: %s", collection.ErrDuplicateLoan, loan.ID)
	}
	v.d.loans[loan.ID] = loan
	return nil
}

func (v *memoryView) GetLoan(_ context.Context, id collection.LoanID) (*collection.Loan, error) {
	loan, ok := v.d.loans[id]
	if !ok {
		return nil, nil
	}
	return &loan, nil
}

func (v *memoryView) ListLoans(_ context.Context) ([]collection.Loan, error) {
	out := make([]collection.Loan, 0, len(v.d.loans))
	for _, l := range v.d.loans {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v *memoryView) UpdateLoanStatus(_ context.Context, id collection.LoanID, status collection.LoanStatus, at time.Time) error {
	if err := v.writable(); err != nil {
		return err
	}
	loan, ok := v.d.loans[id]
	if !ok {
		return fmt.Errorf("loan %s not found", id)
	}
	loan.Status = status
	loan.UpdatedAt = at
	v.d.loans[id] = loan
	return nil
}

func (v *memoryView) InsertInstallments(_ context.Context, insts []collection.Installment) error {
	if err := v.writable(); err != nil {
		return err
	}
	for _, inst := range insts {
		if _, ok := v.d.installments[inst.ID]; ok {
			return fmt.Errorf("%w: installment %s exists", collection.ErrDuplicateSchedule, inst.ID)
		}
	}
	for _, inst := range insts {
		v.d.installments[inst.ID] = inst
		v.d.byLoan[inst.LoanID] = append(v.d.byLoan[inst.LoanID], inst.ID)
	}
	for loanID, ids := range v.d.byLoan {
		sort.Slice(ids, func(i, j int) bool {
			return v.d.installments[ids[i]].Sequence < v.d.installments[ids[j]].Sequence
		})
		v.d.byLoan[loanID] = ids
	}
	return nil
}

func (v *memoryView) LoadInstallments(_ context.Context, loanID collection.LoanID) ([]collection.Installment, error) {
	ids := v.d.byLoan[loanID]
	out := make([]collection.Installment, len(ids))
	for i, id := range ids {
		out[i] = v.d.installments[id]
	}
	return out, nil
}

func (v *memoryView) GetInstallment(_ context.Context, id collection.InstallmentID) (*collection.Installment, error) {
	inst, ok := v.d.installments[id]
	if !ok {
		return nil, nil
	}
	return &inst, nil
}

func (v *memoryView) InstallmentsByAgent(_ context.Context, agentID collection.AgentID) ([]collection.Installment, error) {
	var out []collection.Installment
	for _, inst := range v.d.installments {
		if agentID != "" && inst.AssignedAgent == agentID {
			out = append(out, inst)
		}
	}
	sortByDue(out)
	return out, nil
}

func (v *memoryView) AllInstallments(_ context.Context) ([]collection.Installment, error) {
	out := make([]collection.Installment, 0, len(v.d.installments))
	for _, inst := range v.d.installments {
		out = append(out, inst)
	}
	sortByDue(out)
	return out, nil
}

func (v *memoryView) UpdateInstallment(_ context.Context, inst collection.Installment) error {
	if err := v.writable(); err != nil {
		return err
	}
	if _, ok := v.d.installments[inst.ID]; !ok {
		return fmt.Errorf("installment %s not found", inst.ID)
	}
	v.d.installments[inst.ID] = inst
	return nil
}

func (v *memoryView) AppendEntry(_ context.Context, e collection.LedgerEntry) error {
	if err := v.writable(); err != nil {
		return err
	}
	if e.IdempotencyKey != "" {
		if _, ok := v.d.idempotency[e.IdempotencyKey]; ok {
			return collection.ErrDuplicateIdempotencyKey
		}
		v.d.idempotency[e.IdempotencyKey] = len(v.d.entries)
	}
	v.d.entries = append(v.d.entries, e)
	return nil
}

func (v *memoryView) EntryByIdempotencyKey(_ context.Context, key string) (*collection.LedgerEntry, error) {
	i, ok := v.d.idempotency[key]
	if !ok {
		return nil, nil
	}
	e := v.d.entries[i]
	return &e, nil
}

func (v *memoryView) EntriesByInstallment(_ context.Context, id collection.InstallmentID) ([]collection.LedgerEntry, error) {
	var out []collection.LedgerEntry
	for _, e := range v.d.entries {
		if e.InstallmentID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (v *memoryView) QueryEntries(_ context.Context, f collection.EntryFilter) ([]collection.LedgerEntry, error) {
	var out []collection.LedgerEntry
	for _, e := range v.d.entries {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (v *memoryView) SaveAgent(_ context.Context, a collection.Agent) error {
	if err := v.writable(); err != nil {
		return err
	}
	v.d.agents[a.ID] = a
	return nil
}

func (v *memoryView) GetAgent(_ context.Context, id collection.AgentID) (*collection.Agent, error) {
	a, ok := v.d.agents[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (v *memoryView) ListAgents(_ context.Context) ([]collection.Agent, error) {
	out := make([]collection.Agent, 0, len(v.d.agents))
	for _, a := range v.d.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *memoryView) AppendAssignment(_ context.Context, ev collection.AssignmentEvent) error {
	if err := v.writable(); err != nil {
		return err
	}
	v.d.assignments[ev.InstallmentID] = append(v.d.assignments[ev.InstallmentID], ev)
	return nil
}

func (v *memoryView) AssignmentHistory(_ context.Context, id collection.InstallmentID) ([]collection.AssignmentEvent, error) {
	return append([]collection.AssignmentEvent(nil), v.d.assignments[id]...), nil
}

func sortByDue(insts []collection.Installment) {
	sort.Slice(insts, func(i, j int) bool {
		a, b := insts[i], insts[j]
		if !a.DueDate.Equal(b.DueDate) {
			return a.DueDate.Before(b.DueDate)
		}
		if a.LoanID != b.LoanID {
			return a.LoanID < b.LoanID
		}
		return a.Sequence < b.Sequence
	})
}
