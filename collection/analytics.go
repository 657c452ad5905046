/*
analytics.go - Dashboard metrics from the schedule and the ledger

PURPOSE:
  Computes every number the dashboards show, so no screen derives "overdue"
  or a rate from raw lists on its own.

METRICS:
  TodaysCollection     sum of entries collected today
  PendingAmount        outstanding on pending, due-today and overdue rows
  OverdueCount/Amount  rows classified overdue
  CollectionRate       done / total            (0 when total is 0)
  DelinquencyRate      overdue / total         (0 when total is 0)
  MonthlyTrend         trailing N calendar months, oldest first
  GrowthRate           (this - last) / last    (0 when last is 0)
  TargetAchievement    thisMonth / target      (nil when target is 0 or unset)

DATES:
  "Today" and month buckets are evaluated in Now's location. Buckets are
  (year, month) pairs, so December of two different years never merge.

AS OF:
  A report shows the book as it stood at the end of Now's day. Entries
  collected later are left out of every collection figure, and installments
  are rewound to what had been paid by then.

SCOPES:
  global: every installment and entry
  agent:  installments currently assigned to the agent, entries it collected
  loan:   installments and entries of one loan
*/
package collection

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultTrendMonths = 6
	MaxTrendMonths     = 120
)

type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeAgent  Scope = "agent"
	ScopeLoan   Scope = "loan"
)

type Query struct {
	Scope  Scope
	ID     string    // agent or loan id; ignored for global
	Now    time.Time // zero = the aggregator's clock
	Months int       // trend length; zero = DefaultTrendMonths
	Target *Money    // this month's collection goal
}

type MonthBucket struct {
	Month  YearMonth
	Amount Money
}

type Report struct {
	Scope Scope
	ID    string
	AsOf  time.Time

	TotalCount     int
	DoneCount      int
	PendingCount   int
	DueTodayCount  int
	DueTodayAmount Money
	OverdueCount   int
	OverdueAmount  Money
	PendingAmount  Money

	TodaysCollection    Money
	ThisMonthCollection Money
	LastMonthCollection Money
	TotalCollected      Money

	CollectionRate    float64
	DelinquencyRate   float64
	GrowthRate        float64
	Target            *Money
	TargetAchievement *float64

	MonthlyTrend []MonthBucket
}

// Aggregator reads the store; it never writes and takes no loan locks.
type Aggregator struct {
	Store Store
	Clock Clock
}

// Compute loads the scope's installments and entries from one snapshot and
// aggregates them as they stood at the end of q.Now's day.
func (a *Aggregator) Compute(ctx context.Context, q Query) (*Report, error) {
	if err := q.normalize(a.Clock); err != nil {
		return nil, err
	}

	var (
		insts   []Installment
		entries []LedgerEntry
		later   []LedgerEntry
	)
	err := readView(ctx, a.Store, func(s Store) error {
		var err error
		switch q.Scope {
		case ScopeGlobal:
			insts, err = s.AllInstallments(ctx)
		case ScopeAgent:
			insts, err = s.InstallmentsByAgent(ctx, AgentID(q.ID))
		case ScopeLoan:
			if _, err = loadLoan(ctx, s, LoanID(q.ID)); err != nil {
				return err
			}
			insts, err = s.LoadInstallments(ctx, LoanID(q.ID))
		}
		if err != nil {
			return err
		}
		if entries, err = s.QueryEntries(ctx, q.entryFilter()); err != nil {
			return err
		}
		later, err = s.QueryEntries(ctx, q.laterFilter())
		return err
	})
	if err != nil {
		return nil, err
	}

	r := Aggregate(rewind(insts, later), entries, q)
	return &r, nil
}

// Aggregate is the pure computation behind Compute. q must be normalized:
// Now set and Months positive.
func Aggregate(insts []Installment, entries []LedgerEntry, q Query) Report {
	now := q.Now
	r := Report{Scope: q.Scope, ID: q.ID, AsOf: now, Target: q.Target}

	for _, inst := range insts {
		r.TotalCount++
		switch Classify(inst, now) {
		case ClassDone:
			r.DoneCount++
			continue
		case ClassOverdue:
			r.OverdueCount++
			r.OverdueAmount += inst.Outstanding()
		case ClassDueToday:
			r.DueTodayCount++
			r.DueTodayAmount += inst.Outstanding()
		case ClassPending:
			r.PendingCount++
		}
		r.PendingAmount += inst.Outstanding()
	}

	today := DayOf(now)
	thisMonth := YearMonthOf(now)
	lastMonth := thisMonth.AddMonths(-1)
	firstBucket := thisMonth.AddMonths(-(q.Months - 1))

	buckets := make(map[YearMonth]Money, q.Months)
	for _, e := range entries {
		at := e.CollectedAt.In(now.Location())
		r.TotalCollected += e.Amount
		if DayOf(at).Equal(today) {
			r.TodaysCollection += e.Amount
		}
		ym := YearMonthOf(at)
		switch ym {
		case thisMonth:
			r.ThisMonthCollection += e.Amount
		case lastMonth:
			r.LastMonthCollection += e.Amount
		}
		buckets[ym] += e.Amount
	}

	r.MonthlyTrend = make([]MonthBucket, q.Months)
	for i := 0; i < q.Months; i++ {
		ym := firstBucket.AddMonths(i)
		r.MonthlyTrend[i] = MonthBucket{Month: ym, Amount: buckets[ym]}
	}

	r.CollectionRate = ratio(int64(r.DoneCount), int64(r.TotalCount))
	r.DelinquencyRate = ratio(int64(r.OverdueCount), int64(r.TotalCount))
	r.GrowthRate = ratio(int64(r.ThisMonthCollection-r.LastMonthCollection), int64(r.LastMonthCollection))
	if q.Target != nil && *q.Target > 0 {
		achieved := ratio(int64(r.ThisMonthCollection), int64(*q.Target))
		r.TargetAchievement = &achieved
	}

	return r
}

// ratio is num/den rounded to 4 places, and 0 when den is 0.
func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return decimal.NewFromInt(num).Div(decimal.NewFromInt(den)).Round(4).InexactFloat64()
}

func (q *Query) normalize(clock Clock) error {
	switch q.Scope {
	case "":
		q.Scope = ScopeGlobal
	case ScopeGlobal:
	case ScopeAgent, ScopeLoan:
		if q.ID == "" {
			return fmt.Errorf("%w: scope %s requires an id", ErrInvalidQuery, q.Scope)
		}
	default:
		return fmt.Errorf("%w: unknown scope %q", ErrInvalidQuery, q.Scope)
	}
	if q.Scope == ScopeGlobal {
		q.ID = ""
	}
	if q.Months == 0 {
		q.Months = DefaultTrendMonths
	}
	if q.Months < 0 || q.Months > MaxTrendMonths {
		return fmt.Errorf("%w: window must be between 1 and %d months", ErrInvalidQuery, MaxTrendMonths)
	}
	if q.Target != nil && *q.Target < 0 {
		return fmt.Errorf("%w: target must not be negative", ErrInvalidQuery)
	}
	if q.Now.IsZero() {
		q.Now = clock()
	}
	return nil
}

// asOfBound is midnight after Now's day, in Now's location.
func (q Query) asOfBound() time.Time {
	y, m, d := q.Now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, q.Now.Location())
}

// entryFilter selects the scope's entries collected up to the bound.
func (q Query) entryFilter() EntryFilter {
	to := q.asOfBound()
	f := EntryFilter{To: &to}
	switch q.Scope {
	case ScopeAgent:
		f.AgentID = AgentID(q.ID)
	case ScopeLoan:
		f.LoanID = LoanID(q.ID)
	}
	return f
}

// laterFilter selects entries from the bound on, by any agent, so the
// scope's installments can be rewound.
func (q Query) laterFilter() EntryFilter {
	from := q.asOfBound()
	f := EntryFilter{From: &from}
	if q.Scope == ScopeLoan {
		f.LoanID = LoanID(q.ID)
	}
	return f
}

// rewind takes back the given payments from the installments they were
// applied to. An installment left short of its total is pending again.
func rewind(insts []Installment, later []LedgerEntry) []Installment {
	if len(later) == 0 {
		return insts
	}
	undo := make(map[InstallmentID]Money, len(later))
	for _, e := range later {
		undo[e.InstallmentID] += e.Amount
	}
	for i := range insts {
		amount, ok := undo[insts[i].ID]
		if !ok {
			continue
		}
		insts[i].AmountPaid -= amount
		if insts[i].AmountPaid < insts[i].TotalDue {
			insts[i].Status = InstallmentPending
			insts[i].CompletedAt = nil
		}
	}
	return insts
}

// =============================================================================
// AGENT PERFORMANCE - Admin leaderboard
// =============================================================================

type AgentStats struct {
	AgentID            AgentID
	Name               string
	Active             bool
	Assigned           int
	Done               int
	Overdue            int
	OverdueAmount      Money
	CollectedToday     Money
	CollectedThisMonth Money
	CollectionRate     float64
}

// AgentPerformance summarizes every registered agent's current book and
// this month's collections as of now's day, best collector first.
func (a *Aggregator) AgentPerformance(ctx context.Context, now time.Time) ([]AgentStats, error) {
	if now.IsZero() {
		now = a.Clock()
	}
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	asOf := Query{Now: now}

	var (
		agents  []Agent
		insts   []Installment
		entries []LedgerEntry
		later   []LedgerEntry
	)
	err := readView(ctx, a.Store, func(s Store) error {
		var err error
		if agents, err = s.ListAgents(ctx); err != nil {
			return err
		}
		if insts, err = s.AllInstallments(ctx); err != nil {
			return err
		}
		month := asOf.entryFilter()
		month.From = &monthStart
		if entries, err = s.QueryEntries(ctx, month); err != nil {
			return err
		}
		later, err = s.QueryEntries(ctx, asOf.laterFilter())
		return err
	})
	if err != nil {
		return nil, err
	}
	insts = rewind(insts, later)

	byAgent := make(map[AgentID]*AgentStats, len(agents))
	out := make([]AgentStats, len(agents))
	for i, ag := range agents {
		out[i] = AgentStats{AgentID: ag.ID, Name: ag.Name, Active: ag.Active}
		byAgent[ag.ID] = &out[i]
	}

	for _, inst := range insts {
		st, ok := byAgent[inst.AssignedAgent]
		if !ok {
			continue
		}
		st.Assigned++
		switch Classify(inst, now) {
		case ClassDone:
			st.Done++
		case ClassOverdue:
			st.Overdue++
			st.OverdueAmount += inst.Outstanding()
		}
	}

	today := DayOf(now)
	for _, e := range entries {
		st, ok := byAgent[e.AgentID]
		if !ok {
			continue
		}
		st.CollectedThisMonth += e.Amount
		if DayOf(e.CollectedAt.In(now.Location())).Equal(today) {
			st.CollectedToday += e.Amount
		}
	}

	for i := range out {
		out[i].CollectionRate = ratio(int64(out[i].Done), int64(out[i].Assigned))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CollectedThisMonth != out[j].CollectedThisMonth {
			return out[i].CollectedThisMonth > out[j].CollectedThisMonth
		}
		return out[i].AgentID < out[j].AgentID
	})
	return out, nil
}
