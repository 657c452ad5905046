/*
scenarios.go - Demo portfolio loaders for testing and demonstrations

PURPOSE:

	Provides pre-built portfolios that populate the store with realistic
	data for dashboard demos. Each scenario registers agents, creates and
	activates loans, routes them and replays past payments so that the
	analytics show a mix of done, due-today and overdue installments.

AVAILABLE SCENARIOS:

	starter-book:       Monthly loans a few months in, one borrower behind
	daily-microfinance: Daily-repayment loans with field collections
	delinquent-book:    Missed payments, a defaulted loan, an unrouted loan

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Register agents
 3. Plan loans with start dates relative to today
 4. Open each loan with its schedule and route it to an agent
 5. Collect past installments on their due dates

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "starter-book"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: engine wiring
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/warp/collection-engine/collection"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "starter-book",
		Name:        "Starter Book",
		Description: "Three monthly loans, two agents, one borrower two installments behind",
	},
	{
		ID:          "daily-microfinance",
		Name:        "Daily Microfinance",
		Description: "Daily-repayment loans collected in the field, with a few missed days",
	},
	{
		ID:          "delinquent-book",
		Name:        "Delinquent Book",
		Description: "Missed payments, a defaulted loan, an inactive agent and an unrouted overdue loan",
	},
}

// resetter is implemented by stores that can be wiped for demos.
type resetter interface {
	Reset(ctx context.Context) error
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the store and loads a predefined portfolio.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	loader, ok := h.scenarioLoaders()[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	if !h.reset(ctx, w) {
		return
	}
	if err := loader(ctx); err != nil {
		writeDomainError(w, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	log.Info().Str("scenario", req.ScenarioID).Msg("Scenario loaded")
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if !h.reset(r.Context(), w) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) reset(ctx context.Context, w http.ResponseWriter) bool {
	rs, ok := h.Store.(resetter)
	if !ok {
		writeError(w, http.StatusNotImplemented, "Store does not support reset", nil)
		return false
	}
	if err := rs.Reset(ctx); err != nil {
		writeDomainError(w, "Failed to reset database", err)
		return false
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	return true
}

func (h *Handler) scenarioLoaders() map[string]func(context.Context) error {
	return map[string]func(context.Context) error{
		"starter-book":       h.loadStarterBook,
		"daily-microfinance": h.loadDailyMicrofinance,
		"delinquent-book":    h.loadDelinquentBook,
	}
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// demoLoan describes one seeded loan. PaidThrough installments are paid in
// full on their due dates; Partial is then paid on the next one.
type demoLoan struct {
	ID          string
	Borrower    string
	Principal   collection.Money
	Rate        string
	Count       int
	Frequency   collection.Frequency
	Start       collection.Day
	Agent       collection.AgentID // empty = unrouted
	PaidThrough int
	Partial     collection.Money
}

type demoAgent struct {
	ID     collection.AgentID
	Name   string
	Active bool
}

func (h *Handler) loadStarterBook(ctx context.Context) error {
	today := collection.DayOf(h.now())
	start := today.AddMonthsClamped(-5)

	return h.seed(ctx,
		[]demoAgent{
			{ID: "agent-priya", Name: "Priya Sharma", Active: true},
			{ID: "agent-ravi", Name: "Ravi Kumar", Active: true},
		},
		[]demoLoan{
			{ID: "LN-1001", Borrower: "BRW-1001", Principal: collection.Major(12000), Rate: "10", Count: 12,
				Frequency: collection.FrequencyMonthly, Start: start, Agent: "agent-priya", PaidThrough: 5},
			{ID: "LN-1002", Borrower: "BRW-1002", Principal: collection.Major(50000), Rate: "12", Count: 10,
				Frequency: collection.FrequencyMonthly, Start: start, Agent: "agent-priya", PaidThrough: 3, Partial: collection.Major(1000)},
			{ID: "LN-1003", Borrower: "BRW-1003", Principal: collection.Major(25000), Rate: "8.5", Count: 6,
				Frequency: collection.FrequencyMonthly, Start: today.AddMonthsClamped(-2), Agent: "agent-ravi", PaidThrough: 2},
		},
	)
}

func (h *Handler) loadDailyMicrofinance(ctx context.Context) error {
	today := collection.DayOf(h.now())
	start := today.AddDays(-20)

	return h.seed(ctx,
		[]demoAgent{
			{ID: "agent-anita", Name: "Anita Desai", Active: true},
			{ID: "agent-suresh", Name: "Suresh Patel", Active: true},
		},
		[]demoLoan{
			{ID: "MF-2001", Borrower: "BRW-2001", Principal: collection.Major(3000), Rate: "15", Count: 30,
				Frequency: collection.FrequencyDaily, Start: start, Agent: "agent-anita", PaidThrough: 20},
			{ID: "MF-2002", Borrower: "BRW-2002", Principal: collection.Major(5000), Rate: "15", Count: 30,
				Frequency: collection.FrequencyDaily, Start: start, Agent: "agent-anita", PaidThrough: 16, Partial: collection.Major(50)},
			{ID: "MF-2003", Borrower: "BRW-2003", Principal: collection.Major(2000), Rate: "18", Count: 25,
				Frequency: collection.FrequencyDaily, Start: start, Agent: "agent-suresh", PaidThrough: 19},
			{ID: "MF-2004", Borrower: "BRW-2004", Principal: collection.Major(10000), Rate: "14", Count: 12,
				Frequency: collection.FrequencyWeekly, Start: today.AddDays(-35), Agent: "agent-suresh", PaidThrough: 4},
		},
	)
}

func (h *Handler) loadDelinquentBook(ctx context.Context) error {
	today := collection.DayOf(h.now())
	start := today.AddMonthsClamped(-6)

	err := h.seed(ctx,
		[]demoAgent{
			{ID: "agent-meera", Name: "Meera Iyer", Active: true},
			{ID: "agent-vikram", Name: "Vikram Singh", Active: true},
			{ID: "agent-arjun", Name: "Arjun Rao", Active: false},
		},
		[]demoLoan{
			{ID: "LN-3001", Borrower: "BRW-3001", Principal: collection.Major(40000), Rate: "14", Count: 12,
				Frequency: collection.FrequencyMonthly, Start: start, Agent: "agent-meera", PaidThrough: 2},
			{ID: "LN-3002", Borrower: "BRW-3002", Principal: collection.Major(15000), Rate: "12", Count: 12,
				Frequency: collection.FrequencyMonthly, Start: start, Agent: "agent-vikram", PaidThrough: 6},
			{ID: "LN-3003", Borrower: "BRW-3003", Principal: collection.Major(30000), Rate: "16", Count: 10,
				Frequency: collection.FrequencyMonthly, Start: start, Agent: "agent-vikram", PaidThrough: 1, Partial: collection.Major(500)},
			{ID: "LN-3004", Borrower: "BRW-3004", Principal: collection.Major(8000), Rate: "10", Count: 8,
				Frequency: collection.FrequencyMonthly, Start: today.AddMonthsClamped(-3)},
		},
	)
	if err != nil {
		return err
	}

	_, err = h.Engine.Schedule.SetLoanStatus(ctx, "LN-3003", collection.LoanDefaulted)
	return err
}

// seed registers agents, then creates, activates, routes and pays the loans.
// Inactive agents are deactivated only after their loans are routed.
func (h *Handler) seed(ctx context.Context, agents []demoAgent, loans []demoLoan) error {
	for _, a := range agents {
		if _, err := h.Engine.Schedule.RegisterAgent(ctx, a.ID, a.Name); err != nil {
			return err
		}
	}

	today := collection.DayOf(h.now())
	for _, l := range loans {
		rate, err := decimal.NewFromString(l.Rate)
		if err != nil {
			return fmt.Errorf("loan %s: %w", l.ID, err)
		}
		loan, insts, err := h.Engine.Schedule.Open(ctx, collection.NewLoan{
			ID:                collection.LoanID(l.ID),
			BorrowerRef:       l.Borrower,
			Principal:         l.Principal,
			AnnualRatePercent: rate,
			InstallmentCount:  l.Count,
			Frequency:         l.Frequency,
			StartDate:         l.Start,
		})
		if err != nil {
			return fmt.Errorf("loan %s: %w", l.ID, err)
		}
		if l.Agent == "" {
			continue
		}
		if _, err := h.Engine.Assignments.AssignLoan(ctx, loan.ID, l.Agent); err != nil {
			return fmt.Errorf("loan %s: %w", l.ID, err)
		}

		for i, inst := range insts {
			if inst.DueDate.After(today) {
				break
			}
			var amount collection.Money
			switch {
			case i < l.PaidThrough:
				amount = inst.TotalDue
			case i == l.PaidThrough && l.Partial > 0:
				amount = l.Partial.Min(inst.TotalDue)
			default:
				continue
			}
			if err := h.collectOn(ctx, inst, l.Agent, amount, i); err != nil {
				return fmt.Errorf("loan %s: %w", l.ID, err)
			}
		}
	}

	for _, a := range agents {
		if a.Active {
			continue
		}
		if _, err := h.Engine.Schedule.SetAgentActive(ctx, a.ID, false); err != nil {
			return err
		}
	}
	return nil
}

// collectOn records a payment stamped at late morning of the installment's
// due date, so trend buckets show history.
func (h *Handler) collectOn(ctx context.Context, inst collection.Installment, agent collection.AgentID, amount collection.Money, n int) error {
	loc := h.now().Location()
	at := time.Date(inst.DueDate.Year(), inst.DueDate.Month(), inst.DueDate.Date(), 11, 0, 0, 0, loc)

	methods := []collection.PaymentMethod{collection.MethodCash, collection.MethodUPI, collection.MethodCard}
	rec := &collection.CollectionRecorder{
		Store: h.Store,
		Locks: h.Engine.Recorder.Locks,
		Clock: func() time.Time { return at },
	}
	_, err := rec.Collect(ctx, collection.CollectRequest{
		InstallmentID:  inst.ID,
		AgentID:        agent,
		Amount:         amount,
		Method:         methods[n%len(methods)],
		IdempotencyKey: fmt.Sprintf("seed-%s", inst.ID),
	})
	return err
}
