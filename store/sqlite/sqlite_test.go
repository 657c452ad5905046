package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/collection-engine/collection"
	"github.com/warp/collection-engine/store/sqlite"
)

var t0 = time.Date(2024, time.January, 10, 9, 30, 0, 123456789, time.UTC)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func loanFixture(id collection.LoanID) collection.Loan {
	return collection.Loan{
		ID:                id,
		BorrowerRef:       "B-77",
		Principal:         collection.Major(12000),
		AnnualRatePercent: decimal.RequireFromString("10.5"),
		InstallmentCount:  2,
		Frequency:         collection.FrequencyMonthly,
		StartDate:         collection.NewDay(2024, time.January, 31),
		Status:            collection.LoanActive,
		CreatedAt:         t0,
		UpdatedAt:         t0,
	}
}

func installmentsFixture(id collection.LoanID) []collection.Installment {
	return []collection.Installment{
		{ID: collection.InstallmentIDFor(id, 1), LoanID: id, Sequence: 1, DueDate: collection.NewDay(2024, time.February, 29), Principal: 600000, Interest: 63000, TotalDue: 663000, Status: collection.InstallmentPending},
		{ID: collection.InstallmentIDFor(id, 2), LoanID: id, Sequence: 2, DueDate: collection.NewDay(2024, time.March, 31), Principal: 600000, Interest: 63000, TotalDue: 663000, Status: collection.InstallmentPending},
	}
}

func seed(t *testing.T, s *sqlite.Store, id collection.LoanID) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.SaveLoan(ctx, loanFixture(id)))
	require.NoError(t, s.InsertInstallments(ctx, installmentsFixture(id)))
}

// =============================================================================
// ROUND TRIPS
// =============================================================================

func TestStore_LoanRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seed(t, s, "LN-1")

	got, err := s.GetLoan(ctx, "LN-1")
	require.NoError(t, err)
	require.NotNil(t, got)

	want := loanFixture("LN-1")
	assert.Equal(t, want.BorrowerRef, got.BorrowerRef)
	assert.Equal(t, want.Principal, got.Principal)
	assert.True(t, want.AnnualRatePercent.Equal(got.AnnualRatePercent))
	assert.Equal(t, "2024-01-31", got.StartDate.String())
	assert.True(t, t0.Equal(got.CreatedAt), "nanoseconds survive")

	require.NoError(t, s.UpdateLoanStatus(ctx, "LN-1", collection.LoanDefaulted, t0.Add(time.Hour)))
	got, err = s.GetLoan(ctx, "LN-1")
	require.NoError(t, err)
	assert.Equal(t, collection.LoanDefaulted, got.Status)
	assert.True(t, t0.Add(time.Hour).Equal(got.UpdatedAt))

	missing, err := s.GetLoan(ctx, "nope")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_InstallmentRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seed(t, s, "LN-1")

	insts, err := s.LoadInstallments(ctx, "LN-1")
	require.NoError(t, err)
	assert.Equal(t, installmentsFixture("LN-1"), insts)

	// WHEN: Assigned and partly paid
	inst := insts[0]
	assignedAt := t0.In(time.FixedZone("IST", 5*3600+1800))
	inst.AssignedAgent = "agent-1"
	inst.AssignedAt = &assignedAt
	inst.AmountPaid = 1000
	require.NoError(t, s.UpdateInstallment(ctx, inst))

	// THEN: Read back with the same instant
	got, err := s.GetInstallment(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, collection.AgentID("agent-1"), got.AssignedAgent)
	assert.Equal(t, collection.Money(1000), got.AmountPaid)
	require.NotNil(t, got.AssignedAt)
	assert.True(t, assignedAt.Equal(*got.AssignedAt))
	assert.Nil(t, got.CompletedAt)

	byAgent, err := s.InstallmentsByAgent(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, byAgent, 1)
	assert.Equal(t, inst.ID, byAgent[0].ID)

	// Unassigning clears both columns
	got.AssignedAgent = ""
	got.AssignedAt = nil
	require.NoError(t, s.UpdateInstallment(ctx, *got))
	byAgent, err = s.InstallmentsByAgent(ctx, "agent-1")
	require.NoError(t, err)
	assert.Empty(t, byAgent)
}

func TestStore_PaidNeverExceedsTotal(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seed(t, s, "LN-1")

	inst := installmentsFixture("LN-1")[0]
	inst.AmountPaid = inst.TotalDue + 1
	assert.Error(t, s.UpdateInstallment(ctx, inst))
}

func TestStore_AgentsUpsert(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAgent(ctx, collection.Agent{ID: "agent-2", Name: "Ravi", Active: true, CreatedAt: t0}))
	require.NoError(t, s.SaveAgent(ctx, collection.Agent{ID: "agent-1", Name: "Priya", Active: true, CreatedAt: t0}))
	require.NoError(t, s.SaveAgent(ctx, collection.Agent{ID: "agent-1", Name: "Priya", Active: false, CreatedAt: t0}))

	agents, err := s.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, collection.AgentID("agent-1"), agents[0].ID)
	assert.False(t, agents[0].Active)

	missing, err := s.GetAgent(ctx, "ghost")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

// =============================================================================
// CONSTRAINTS
// =============================================================================

func TestStore_UniqueConstraintsMapToSentinels(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seed(t, s, "LN-1")

	assert.ErrorIs(t, s.SaveLoan(ctx, loanFixture("LN-1")), collection.ErrDuplicateLoan)
	assert.ErrorIs(t, s.InsertInstallments(ctx, installmentsFixture("LN-1")), collection.ErrDuplicateSchedule)

	e := collection.LedgerEntry{ID: "e1", InstallmentID: "LN-1-001", LoanID: "LN-1", AgentID: "agent-1", Amount: 100, Method: collection.MethodUPI, CollectedAt: t0, IdempotencyKey: "k1"}
	require.NoError(t, s.AppendEntry(ctx, e))
	e.ID = "e2"
	assert.ErrorIs(t, s.AppendEntry(ctx, e), collection.ErrDuplicateIdempotencyKey)

	// Empty keys are stored as NULL and never collide
	e.ID, e.IdempotencyKey = "e3", ""
	require.NoError(t, s.AppendEntry(ctx, e))
	e.ID = "e4"
	require.NoError(t, s.AppendEntry(ctx, e))

	prior, err := s.EntryByIdempotencyKey(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, prior)
	assert.Equal(t, collection.EntryID("e1"), prior.ID)
	assert.Equal(t, collection.MethodUPI, prior.Method)
}

// =============================================================================
// LEDGER QUERIES
// =============================================================================

func TestStore_QueryEntries(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seed(t, s, "LN-1")
	seed(t, s, "LN-2")

	entries := []collection.LedgerEntry{
		{ID: "a", InstallmentID: "LN-1-001", LoanID: "LN-1", AgentID: "agent-1", Amount: 100, Method: collection.MethodCash, CollectedAt: t0},
		{ID: "b", InstallmentID: "LN-2-001", LoanID: "LN-2", AgentID: "agent-2", Amount: 200, Method: collection.MethodCash, CollectedAt: t0.Add(time.Hour)},
		{ID: "c", InstallmentID: "LN-1-002", LoanID: "LN-1", AgentID: "agent-1", Amount: 300, Method: collection.MethodCard, CollectedAt: t0.Add(2 * time.Hour), Override: true},
	}
	for _, e := range entries {
		require.NoError(t, s.AppendEntry(ctx, e))
	}

	all, err := s.QueryEntries(ctx, collection.EntryFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[2].Override)

	byLoan, err := s.QueryEntries(ctx, collection.EntryFilter{LoanID: "LN-1"})
	require.NoError(t, err)
	assert.Len(t, byLoan, 2)

	byAgent, err := s.QueryEntries(ctx, collection.EntryFilter{AgentID: "agent-2"})
	require.NoError(t, err)
	require.Len(t, byAgent, 1)
	assert.Equal(t, collection.EntryID("b"), byAgent[0].ID)

	// [From, To) with nanosecond precision
	from, to := t0, t0.Add(2*time.Hour)
	window, err := s.QueryEntries(ctx, collection.EntryFilter{From: &from, To: &to})
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, collection.EntryID("a"), window[0].ID)
	assert.Equal(t, collection.EntryID("b"), window[1].ID)

	perInst, err := s.EntriesByInstallment(ctx, "LN-1-002")
	require.NoError(t, err)
	require.Len(t, perInst, 1)
	assert.True(t, t0.Add(2*time.Hour).Equal(perInst[0].CollectedAt))
}

func TestStore_AssignmentHistory(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seed(t, s, "LN-1")

	require.NoError(t, s.AppendAssignment(ctx, collection.AssignmentEvent{InstallmentID: "LN-1-001", LoanID: "LN-1", AgentID: "agent-1", At: t0}))
	require.NoError(t, s.AppendAssignment(ctx, collection.AssignmentEvent{InstallmentID: "LN-1-001", LoanID: "LN-1", PreviousAgent: "agent-1", At: t0.Add(time.Minute)}))

	history, err := s.AssignmentHistory(ctx, "LN-1-001")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, collection.AgentID("agent-1"), history[0].AgentID)
	assert.Empty(t, history[1].AgentID)
	assert.Equal(t, collection.AgentID("agent-1"), history[1].PreviousAgent)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestStore_WithTxRollsBack(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seed(t, s, "LN-1")

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx collection.Store) error {
		if err := tx.UpdateLoanStatus(ctx, "LN-1", collection.LoanClosed, t0); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	loan, err := s.GetLoan(ctx, "LN-1")
	require.NoError(t, err)
	assert.Equal(t, collection.LoanActive, loan.Status)
}

func TestStore_CancelledContextIsRetryable(t *testing.T) {
	s := newStore(t)
	seed(t, s, "LN-1")

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.WithTx(cancelled, func(collection.Store) error { return nil })
	assert.ErrorIs(t, err, collection.ErrTransient)
	assert.True(t, collection.IsRetryable(err))

	expired, stop := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer stop()
	err = s.ReadSnapshot(expired, func(collection.Store) error { return nil })
	assert.True(t, collection.IsRetryable(err))

	_, err = s.GetInstallment(cancelled, "LN-1-001")
	assert.True(t, collection.IsRetryable(err))
}

func TestStore_ReadSnapshotAndReset(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seed(t, s, "LN-1")
	require.NoError(t, s.SaveAgent(ctx, collection.Agent{ID: "agent-1", Name: "Priya", Active: true, CreatedAt: t0}))

	err := s.ReadSnapshot(ctx, func(v collection.Store) error {
		insts, err := v.AllInstallments(ctx)
		if err != nil {
			return err
		}
		assert.Len(t, insts, 2)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, s.Reset(ctx))
	loans, err := s.ListLoans(ctx)
	require.NoError(t, err)
	assert.Empty(t, loans)
	agents, err := s.ListAgents(ctx)
	require.NoError(t, err)
	assert.Empty(t, agents)

	// The same ids can be reused after a reset
	seed(t, s, "LN-1")
	require.NoError(t, s.Ping(ctx))
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collection.db")
	ctx := context.Background()

	s, err := sqlite.New(path)
	require.NoError(t, err)
	seed(t, s, "LN-1")
	require.NoError(t, s.Close())

	reopened, err := sqlite.New(path)
	require.NoError(t, err)
	defer reopened.Close()

	insts, err := reopened.LoadInstallments(ctx, "LN-1")
	require.NoError(t, err)
	assert.Len(t, insts, 2)
}
