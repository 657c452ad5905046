package collection_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/collection-engine/collection"
)

func TestAssign_LastWriteWins(t *testing.T) {
	for name, newStore := range storeFactories {
		t.Run(name, func(t *testing.T) {
			// GIVEN: An installment and two agents
			eng, clock := newTestEngineWith(t, newStore(t), at(2024, time.January, 5, 9))
			ctx := context.Background()
			mustRegisterAgent(t, eng, "agent-1")
			mustRegisterAgent(t, eng, "agent-2")
			inst := mustSingleInstallment(t, eng, "LN-1", 1000, collection.NewDay(2024, time.January, 10))

			// WHEN: Routed to agent-1, then re-routed to agent-2
			ev1, err := eng.Assignments.Assign(ctx, inst.ID, "agent-1")
			require.NoError(t, err)
			clock.Set(at(2024, time.January, 6, 9))
			ev2, err := eng.Assignments.Assign(ctx, inst.ID, "agent-2")
			require.NoError(t, err)

			// THEN: agent-2 holds it, agent-1 no longer sees it
			assert.Empty(t, ev1.PreviousAgent)
			assert.Equal(t, collection.AgentID("agent-1"), ev2.PreviousAgent)

			got, err := eng.Schedule.Installment(ctx, inst.ID)
			require.NoError(t, err)
			assert.Equal(t, collection.AgentID("agent-2"), got.AssignedAgent)
			require.NotNil(t, got.AssignedAt)
			assert.True(t, got.AssignedAt.Equal(at(2024, time.January, 6, 9)))

			book1, err := eng.Schedule.ByAgent(ctx, "agent-1")
			require.NoError(t, err)
			assert.Empty(t, book1)
			book2, err := eng.Schedule.ByAgent(ctx, "agent-2")
			require.NoError(t, err)
			assert.Len(t, book2, 1)

			// AND: Both calls are in the audit log, oldest first
			history, err := eng.Assignments.History(ctx, inst.ID)
			require.NoError(t, err)
			require.Len(t, history, 2)
			assert.Equal(t, collection.AgentID("agent-1"), history[0].AgentID)
			assert.Equal(t, collection.AgentID("agent-2"), history[1].AgentID)
			assert.True(t, history[1].At.Equal(at(2024, time.January, 6, 9)))
		})
	}
}

func TestUnassign(t *testing.T) {
	eng, _ := newTestEngine(t, at(2024, time.January, 5, 9))
	ctx := context.Background()
	mustRegisterAgent(t, eng, "agent-1")
	inst := mustSingleInstallment(t, eng, "LN-1", 1000, collection.NewDay(2024, time.January, 10))

	// Unassigning an installment nobody holds changes nothing
	ev, err := eng.Assignments.Unassign(ctx, inst.ID)
	require.NoError(t, err)
	assert.Empty(t, ev.AgentID)
	history, err := eng.Assignments.History(ctx, inst.ID)
	require.NoError(t, err)
	assert.Empty(t, history)

	_, err = eng.Assignments.Assign(ctx, inst.ID, "agent-1")
	require.NoError(t, err)
	ev, err = eng.Assignments.Unassign(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, collection.AgentID("agent-1"), ev.PreviousAgent)

	got, err := eng.Schedule.Installment(ctx, inst.ID)
	require.NoError(t, err)
	assert.False(t, got.IsAssigned())
	assert.Nil(t, got.AssignedAt)
}

func TestAssign_AgentMustBeActiveAndKnown(t *testing.T) {
	eng, _ := newTestEngine(t, at(2024, time.January, 5, 9))
	ctx := context.Background()
	mustRegisterAgent(t, eng, "agent-1")
	inst := mustSingleInstallment(t, eng, "LN-1", 1000, collection.NewDay(2024, time.January, 10))

	_, err := eng.Assignments.Assign(ctx, inst.ID, "ghost")
	assert.ErrorIs(t, err, collection.ErrNotFound)

	_, err = eng.Schedule.SetAgentActive(ctx, "agent-1", false)
	require.NoError(t, err)
	_, err = eng.Assignments.Assign(ctx, inst.ID, "agent-1")
	assert.ErrorIs(t, err, collection.ErrAgentInactive)

	_, err = eng.Assignments.Assign(ctx, "LN-1-999", "agent-1")
	assert.Error(t, err)
}

func TestAssign_DoneInstallmentIsFrozen(t *testing.T) {
	eng, _ := newTestEngine(t, at(2024, time.January, 5, 9))
	ctx := context.Background()
	mustRegisterAgent(t, eng, "agent-1")
	mustRegisterAgent(t, eng, "agent-2")
	inst := mustSingleInstallment(t, eng, "LN-1", 1000, collection.NewDay(2024, time.January, 10))
	_, err := eng.Assignments.Assign(ctx, inst.ID, "agent-1")
	require.NoError(t, err)
	_, err = eng.Recorder.Collect(ctx, collect(inst.ID, "agent-1", 1000))
	require.NoError(t, err)

	_, err = eng.Assignments.Assign(ctx, inst.ID, "agent-2")
	assert.ErrorIs(t, err, collection.ErrAlreadyDone)
	_, err = eng.Assignments.Unassign(ctx, inst.ID)
	assert.ErrorIs(t, err, collection.ErrAlreadyDone)

	got, err := eng.Schedule.Installment(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, collection.AgentID("agent-1"), got.AssignedAgent, "collector stays on record")
}

func TestAssignLoan_SkipsDoneInstallments(t *testing.T) {
	eng, _ := newTestEngine(t, at(2024, time.February, 5, 9))
	ctx := context.Background()
	mustRegisterAgent(t, eng, "agent-1")
	mustRegisterAgent(t, eng, "agent-2")
	insts := mustActivateLoan(t, eng, "LN-1", 300, "0", 3,
		collection.FrequencyMonthly, collection.NewDay(2024, time.January, 1))

	events, err := eng.Assignments.AssignLoan(ctx, "LN-1", "agent-1")
	require.NoError(t, err)
	assert.Len(t, events, 3)

	_, err = eng.Recorder.Collect(ctx, collect(insts[0].ID, "agent-1", insts[0].TotalDue))
	require.NoError(t, err)

	events, err = eng.Assignments.AssignLoan(ctx, "LN-1", "agent-2")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, insts[1].ID, events[0].InstallmentID)

	book, err := eng.Schedule.ByAgent(ctx, "agent-2")
	require.NoError(t, err)
	assert.Len(t, book, 2)

	_, err = eng.Assignments.AssignLoan(ctx, "LN-404", "agent-2")
	assert.ErrorIs(t, err, collection.ErrNotFound)
}

func TestOverdueUnassignedStaysInPool(t *testing.T) {
	// Nothing routes work automatically: an overdue installment nobody holds
	// stays unassigned and visible.
	eng, clock := newTestEngine(t, at(2024, time.January, 5, 9))
	ctx := context.Background()
	inst := mustSingleInstallment(t, eng, "LN-1", 1000, collection.NewDay(2024, time.January, 10))

	clock.Set(at(2024, time.February, 1, 9))
	got, err := eng.Schedule.Installment(ctx, inst.ID)
	require.NoError(t, err)
	assert.False(t, got.IsAssigned())
	assert.Equal(t, collection.ClassOverdue, collection.Classify(*got, clock.Now()))
}
