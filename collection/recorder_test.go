package collection_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/collection-engine/collection"
)

// assignedInstallment sets up one installment of total, due 2024-01-10 and
// routed to agent-1, with the clock at 2024-01-10 09:00.
func assignedInstallment(t *testing.T, s collection.TxStore, total collection.Money) (*collection.Engine, *testClock, collection.Installment) {
	t.Helper()
	eng, clock := newTestEngineWith(t, s, at(2024, time.January, 10, 9))
	mustRegisterAgent(t, eng, "agent-1")
	inst := mustSingleInstallment(t, eng, "LN-1", total, collection.NewDay(2024, time.January, 10))
	_, err := eng.Assignments.Assign(context.Background(), inst.ID, "agent-1")
	require.NoError(t, err)
	return eng, clock, inst
}

func collect(id collection.InstallmentID, agent collection.AgentID, amount collection.Money) collection.CollectRequest {
	return collection.CollectRequest{
		InstallmentID: id,
		AgentID:       agent,
		Amount:        amount,
		Method:        collection.MethodCash,
	}
}

// =============================================================================
// OVERPAYMENT & COMPLETION
// =============================================================================

func TestCollect_OverpaymentLeavesStateUnchanged(t *testing.T) {
	for name, newStore := range storeFactories {
		t.Run(name, func(t *testing.T) {
			// GIVEN: ₹10.00 due, ₹7.00 already paid
			eng, _, inst := assignedInstallment(t, newStore(t), 1000)
			ctx := context.Background()
			_, err := eng.Recorder.Collect(ctx, collect(inst.ID, "agent-1", 700))
			require.NoError(t, err)

			// WHEN: The agent tries to collect ₹5.00
			_, err = eng.Recorder.Collect(ctx, collect(inst.ID, "agent-1", 500))

			// THEN: Overpayment naming ₹3.00 as the most it accepts
			var over *collection.OverpaymentError
			require.ErrorAs(t, err, &over)
			assert.Equal(t, collection.Money(300), over.MaxAcceptable)
			assert.Equal(t, collection.Money(500), over.Requested)
			assert.ErrorIs(t, err, collection.ErrOverpayment)

			// AND: Nothing was recorded
			got, err := eng.Schedule.Installment(ctx, inst.ID)
			require.NoError(t, err)
			assert.Equal(t, collection.Money(700), got.AmountPaid)
			assert.Equal(t, collection.InstallmentPending, got.Status)

			entries, err := eng.Recorder.Entries(ctx, inst.ID)
			require.NoError(t, err)
			assert.Len(t, entries, 1)

			// WHEN: The exact remainder is collected
			res, err := eng.Recorder.Collect(ctx, collect(inst.ID, "agent-1", 300))
			require.NoError(t, err)

			// THEN: The installment is done and, being the only one, closes the loan
			assert.Equal(t, collection.InstallmentDone, res.Installment.Status)
			assert.Equal(t, collection.Money(1000), res.Installment.AmountPaid)
			require.NotNil(t, res.Installment.CompletedAt)
			assert.True(t, res.LoanClosed)

			loan, err := eng.Schedule.Loan(ctx, "LN-1")
			require.NoError(t, err)
			assert.Equal(t, collection.LoanClosed, loan.Status)
		})
	}
}

func TestCollect_PartialPaymentsAccumulate(t *testing.T) {
	eng, clock, inst := assignedInstallment(t, collectionMemory(), 1000)
	ctx := context.Background()

	first, err := eng.Recorder.Collect(ctx, collect(inst.ID, "agent-1", 400))
	require.NoError(t, err)
	assert.Equal(t, collection.Money(400), first.Installment.AmountPaid)
	assert.Equal(t, collection.Money(600), first.Installment.Outstanding())
	assert.False(t, first.LoanClosed)
	assert.Equal(t, at(2024, time.January, 10, 9), first.Entry.CollectedAt)
	assert.Equal(t, collection.LoanID("LN-1"), first.Entry.LoanID)

	clock.Set(at(2024, time.January, 12, 15))
	second, err := eng.Recorder.Collect(ctx, collect(inst.ID, "agent-1", 600))
	require.NoError(t, err)
	assert.True(t, second.Installment.IsDone())
	assert.Equal(t, at(2024, time.January, 12, 15), *second.Installment.CompletedAt)

	entries, err := eng.Recorder.Entries(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, first.Entry.ID, entries[0].ID, "oldest first")
	assert.Equal(t, collection.Money(1000), entries[0].Amount+entries[1].Amount)
}

func TestCollect_LoanStaysActiveWhileInstallmentsRemain(t *testing.T) {
	eng, _ := newTestEngine(t, at(2024, time.February, 1, 9))
	ctx := context.Background()
	mustRegisterAgent(t, eng, "agent-1")
	insts := mustActivateLoan(t, eng, "LN-1", 300, "0", 3,
		collection.FrequencyMonthly, collection.NewDay(2024, time.January, 1))
	_, err := eng.Assignments.AssignLoan(ctx, "LN-1", "agent-1")
	require.NoError(t, err)

	for i, inst := range insts {
		res, err := eng.Recorder.Collect(ctx, collect(inst.ID, "agent-1", inst.TotalDue))
		require.NoError(t, err)
		assert.Equal(t, i == len(insts)-1, res.LoanClosed, "installment %d", inst.Sequence)
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestCollect_RejectsBadInput(t *testing.T) {
	eng, _, inst := assignedInstallment(t, collectionMemory(), 1000)
	ctx := context.Background()

	_, err := eng.Recorder.Collect(ctx, collect(inst.ID, "agent-1", 0))
	assert.ErrorIs(t, err, collection.ErrInvalidAmount)

	_, err = eng.Recorder.Collect(ctx, collect(inst.ID, "agent-1", -100))
	assert.ErrorIs(t, err, collection.ErrInvalidAmount)

	req := collect(inst.ID, "agent-1", 100)
	req.Method = "cheque"
	_, err = eng.Recorder.Collect(ctx, req)
	assert.ErrorIs(t, err, collection.ErrInvalidMethod)

	_, err = eng.Recorder.Collect(ctx, collect(inst.ID, "", 100))
	assert.ErrorIs(t, err, collection.ErrNotAssigned)

	_, err = eng.Recorder.Collect(ctx, collect("LN-404-001", "agent-1", 100))
	assert.ErrorIs(t, err, collection.ErrNotFound)

	got, err := eng.Schedule.Installment(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, collection.Money(0), got.AmountPaid)
}

func TestCollect_AlreadyDone(t *testing.T) {
	eng, _, inst := assignedInstallment(t, collectionMemory(), 1000)
	ctx := context.Background()
	_, err := eng.Recorder.Collect(ctx, collect(inst.ID, "agent-1", 1000))
	require.NoError(t, err)

	_, err = eng.Recorder.Collect(ctx, collect(inst.ID, "agent-1", 1))
	assert.ErrorIs(t, err, collection.ErrAlreadyDone)
}

func TestCollect_DefaultedLoanRejected(t *testing.T) {
	eng, _, inst := assignedInstallment(t, collectionMemory(), 1000)
	ctx := context.Background()
	_, err := eng.Schedule.SetLoanStatus(ctx, "LN-1", collection.LoanDefaulted)
	require.NoError(t, err)

	_, err = eng.Recorder.Collect(ctx, collect(inst.ID, "agent-1", 100))
	assert.ErrorIs(t, err, collection.ErrLoanNotActive)
}

// =============================================================================
// ASSIGNEE CHECK
// =============================================================================

func TestCollect_OnlyAssigneeWithoutOverride(t *testing.T) {
	// GIVEN: An installment routed to agent-1
	eng, _, inst := assignedInstallment(t, collectionMemory(), 1000)
	ctx := context.Background()
	mustRegisterAgent(t, eng, "agent-2")

	// WHEN: agent-2 collects without override
	_, err := eng.Recorder.Collect(ctx, collect(inst.ID, "agent-2", 100))

	// THEN: Rejected, naming the real assignee
	var na *collection.NotAssignedError
	require.ErrorAs(t, err, &na)
	assert.Equal(t, collection.AgentID("agent-1"), na.Assignee)
	assert.Equal(t, collection.AgentID("agent-2"), na.AgentID)

	// WHEN: A supervisor override is set
	req := collect(inst.ID, "agent-2", 100)
	req.Override = true
	res, err := eng.Recorder.Collect(ctx, req)

	// THEN: Accepted and flagged on the ledger
	require.NoError(t, err)
	assert.True(t, res.Entry.Override)
	assert.Equal(t, collection.AgentID("agent-2"), res.Entry.AgentID)
	assert.Equal(t, collection.AgentID("agent-1"), res.Installment.AssignedAgent, "routing is unchanged")
}

func TestCollect_UnassignedNeedsOverride(t *testing.T) {
	eng, _ := newTestEngine(t, at(2024, time.January, 10, 9))
	ctx := context.Background()
	mustRegisterAgent(t, eng, "agent-1")
	inst := mustSingleInstallment(t, eng, "LN-1", 1000, collection.NewDay(2024, time.January, 10))

	_, err := eng.Recorder.Collect(ctx, collect(inst.ID, "agent-1", 100))
	var na *collection.NotAssignedError
	require.ErrorAs(t, err, &na)
	assert.Empty(t, na.Assignee)

	req := collect(inst.ID, "agent-1", 100)
	req.Override = true
	_, err = eng.Recorder.Collect(ctx, req)
	assert.NoError(t, err)
}

// =============================================================================
// IDEMPOTENCY
// =============================================================================

func TestCollect_IdempotentRetry(t *testing.T) {
	for name, newStore := range storeFactories {
		t.Run(name, func(t *testing.T) {
			// GIVEN: A payment recorded with an idempotency key
			eng, _, inst := assignedInstallment(t, newStore(t), 1000)
			ctx := context.Background()
			req := collect(inst.ID, "agent-1", 400)
			req.IdempotencyKey = "receipt-77"

			first, err := eng.Recorder.Collect(ctx, req)
			require.NoError(t, err)
			assert.False(t, first.Replayed)

			// WHEN: The client retries the same request
			again, err := eng.Recorder.Collect(ctx, req)

			// THEN: The original entry comes back and nothing is applied twice
			require.NoError(t, err)
			assert.True(t, again.Replayed)
			assert.Equal(t, first.Entry.ID, again.Entry.ID)
			assert.Equal(t, collection.Money(400), again.Installment.AmountPaid)

			entries, err := eng.Recorder.Entries(ctx, inst.ID)
			require.NoError(t, err)
			assert.Len(t, entries, 1)

			// WHEN: The key is reused for a different amount
			req.Amount = 500
			_, err = eng.Recorder.Collect(ctx, req)

			// THEN: Conflict
			assert.ErrorIs(t, err, collection.ErrIdempotencyConflict)

			// WHEN: The key is reused with the same amount but as an override
			req.Amount = 400
			req.Override = true
			_, err = eng.Recorder.Collect(ctx, req)

			// THEN: Conflict, and the stored entry keeps its original flag
			assert.ErrorIs(t, err, collection.ErrIdempotencyConflict)
			entries, err = eng.Recorder.Entries(ctx, inst.ID)
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.False(t, entries[0].Override)
		})
	}
}

func TestCollect_ReplayAfterCompletion(t *testing.T) {
	// A retry that arrives after the installment is done still replays
	// instead of failing AlreadyDone.
	eng, _, inst := assignedInstallment(t, collectionMemory(), 1000)
	ctx := context.Background()
	req := collect(inst.ID, "agent-1", 1000)
	req.IdempotencyKey = "receipt-1"

	_, err := eng.Recorder.Collect(ctx, req)
	require.NoError(t, err)

	res, err := eng.Recorder.Collect(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.True(t, res.Installment.IsDone())
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestCollect_ConcurrentCollectsNeverExceedTotal(t *testing.T) {
	for name, newStore := range storeFactories {
		t.Run(name, func(t *testing.T) {
			// GIVEN: ₹10.00 due
			eng, _, inst := assignedInstallment(t, newStore(t), 1000)
			ctx := context.Background()

			// WHEN: 12 agents-worth of ₹1.00 payments race
			const attempts = 12
			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				accepted int
				rejected int
			)
			for i := 0; i < attempts; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					req := collect(inst.ID, "agent-1", 100)
					req.IdempotencyKey = fmt.Sprintf("race-%d", i)
					_, err := eng.Recorder.Collect(ctx, req)

					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						accepted++
					case collection.IsConflict(err):
						rejected++
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}(i)
			}
			wg.Wait()

			// THEN: Exactly ten succeed and the installment is paid exactly
			assert.Equal(t, 10, accepted)
			assert.Equal(t, attempts-10, rejected)

			got, err := eng.Schedule.Installment(ctx, inst.ID)
			require.NoError(t, err)
			assert.Equal(t, collection.Money(1000), got.AmountPaid)
			assert.True(t, got.IsDone())

			entries, err := eng.Recorder.Entries(ctx, inst.ID)
			require.NoError(t, err)
			assert.Len(t, entries, 10)
			assert.Equal(t, 0, eng.Recorder.Locks.InFlight())
		})
	}
}
