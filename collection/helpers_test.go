package collection_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/collection-engine/collection"
	"github.com/warp/collection-engine/collection/store"
	"github.com/warp/collection-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// testClock is a settable clock shared by the engine under test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func at(year int, month time.Month, day, hour int) time.Time {
	return time.Date(year, month, day, hour, 0, 0, 0, time.UTC)
}

// storeFactories lets engine tests run against both implementations.
var storeFactories = map[string]func(t *testing.T) collection.TxStore{
	"memory": func(t *testing.T) collection.TxStore {
		return store.NewMemory()
	},
	"sqlite": func(t *testing.T) collection.TxStore {
		s, err := sqlite.New(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	},
}

func newTestEngine(t *testing.T, now time.Time) (*collection.Engine, *testClock) {
	t.Helper()
	return newTestEngineWith(t, store.NewMemory(), now)
}

func newTestEngineWith(t *testing.T, s collection.TxStore, now time.Time) (*collection.Engine, *testClock) {
	t.Helper()
	clock := &testClock{now: now}
	return collection.NewEngine(s, clock.Now), clock
}

func mustRegisterAgent(t *testing.T, eng *collection.Engine, id collection.AgentID) {
	t.Helper()
	_, err := eng.Schedule.RegisterAgent(context.Background(), id, "Agent "+string(id))
	require.NoError(t, err)
}

// mustActivateLoan creates a loan and materializes its planned schedule.
func mustActivateLoan(t *testing.T, eng *collection.Engine, id collection.LoanID, principal collection.Money, rate string, count int, freq collection.Frequency, start collection.Day) []collection.Installment {
	t.Helper()
	ctx := context.Background()
	_, err := eng.Schedule.CreateLoan(ctx, collection.NewLoan{
		ID:                id,
		Principal:         principal,
		AnnualRatePercent: decimal.RequireFromString(rate),
		InstallmentCount:  count,
		Frequency:         freq,
		StartDate:         start,
	})
	require.NoError(t, err)
	insts, err := eng.Schedule.Activate(ctx, id)
	require.NoError(t, err)
	return insts
}

// mustSingleInstallment opens an interest-free one-day loan whose only
// installment is exactly total, due on due.
func mustSingleInstallment(t *testing.T, eng *collection.Engine, id collection.LoanID, total collection.Money, due collection.Day) collection.Installment {
	t.Helper()
	insts := mustActivateLoan(t, eng, id, total, "0", 1, collection.FrequencyDaily, due.AddDays(-1))
	require.Len(t, insts, 1)
	require.Equal(t, due, insts[0].DueDate)
	require.Equal(t, total, insts[0].TotalDue)
	return insts[0]
}

func collectionMemory() collection.TxStore { return store.NewMemory() }
