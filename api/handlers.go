/*
handlers.go - HTTP API handlers for the collection engine

PURPOSE:
  Exposes the schedule, assignment, collection and analytics components via
  REST API. Handles HTTP request/response, JSON serialization, validation,
  and delegates to the collection package.

ENDPOINTS:
  Loans:
    POST   /api/loans                      Create loan (optionally activate)
    GET    /api/loans                      List loans (?status=)
    GET    /api/loans/{id}                 Loan with schedule
    POST   /api/loans/{id}/status          Close, default or reinstate
    POST   /api/loans/{id}/assign          Route all open installments
    POST   /api/loans/{id}/schedule        Materialize schedule (once)
    GET    /api/loans/{id}/schedule        Installments with classification

  Plans:
    POST   /api/plans/preview              Plan without persisting

  Installments:
    GET    /api/installments/{id}              Installment
    POST   /api/installments/{id}/assign       Assign to agent
    POST   /api/installments/{id}/unassign     Return to pool
    POST   /api/installments/{id}/collect      Record payment
    GET    /api/installments/{id}/collections  Ledger entries
    GET    /api/installments/{id}/assignments  Assignment audit

  Agents:
    POST   /api/agents                     Register or rename agent
    GET    /api/agents                     List agents
    GET    /api/agents/{id}/installments   Worklist (?classification=)
    POST   /api/agents/{id}/active         Activate / deactivate

  Analytics:
    GET    /api/analytics                  ?scope=&id=&window=&target=&as_of=
    GET    /api/analytics/agents           Agent leaderboard

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input (validator struct tags)
  3. Call the engine
  4. Serialize response
  5. Map errors to status codes

ERROR HANDLING:
  Errors are returned as JSON {error, code, details} with status:
  - 400: Validation errors, invalid plan/amount/method/query
  - 403: Agent is not the installment's assignee
  - 404: Loan, installment or agent not found
  - 409: Conflict (duplicate schedule, already done, overpayment,
         idempotency conflict, inactive loan or agent)
  - 503: Transient storage failure, safe to retry
  - 500: Internal errors

SECURITY NOTE:
  Caller identity (agent_id) is explicit on every call and trusted as given.
  Authentication belongs to the gateway in front of this service.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo portfolios
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/warp/collection-engine/collection"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *collection.Engine
	Store  collection.TxStore
	Clock  collection.Clock

	validate *validator.Validate

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler over the given store.
func NewHandler(store collection.TxStore, clock collection.Clock) *Handler {
	if clock == nil {
		clock = collection.SystemClock(nil)
	}
	return &Handler{
		Engine:   collection.NewEngine(store, clock),
		Store:    store,
		Clock:    clock,
		validate: newValidator(),
	}
}

// newValidator reports field errors by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (h *Handler) now() time.Time { return h.Clock() }

// =============================================================================
// LOAN HANDLERS
// =============================================================================

// CreateLoan registers a loan and, with activate=true, materializes its
// schedule in the same call.
func (h *Handler) CreateLoan(w http.ResponseWriter, r *http.Request) {
	var req CreateLoanRequest
	if !h.decode(w, r, &req) {
		return
	}
	start, err := collection.ParseDay(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date format (use YYYY-MM-DD)", err)
		return
	}

	terms := collection.NewLoan{
		ID:                collection.LoanID(req.ID),
		BorrowerRef:       req.BorrowerRef,
		Principal:         req.Principal,
		AnnualRatePercent: req.AnnualRatePercent,
		InstallmentCount:  req.InstallmentCount,
		Frequency:         collection.Frequency(req.Frequency),
		StartDate:         start,
	}

	// Activation creates the loan and its schedule together
	var (
		loan  *collection.Loan
		insts []collection.Installment
	)
	if req.Activate {
		loan, insts, err = h.Engine.Schedule.Open(r.Context(), terms)
	} else {
		loan, err = h.Engine.Schedule.CreateLoan(r.Context(), terms)
	}
	if err != nil {
		writeDomainError(w, "Failed to create loan", err)
		return
	}

	resp := LoanDetailResponse{Loan: toLoanDTO(*loan), Installments: []InstallmentDTO{}}
	if req.Activate {
		resp.Installments = toInstallmentDTOs(insts, h.now())
		summary := summarize(insts)
		resp.Summary = &summary
	}

	log.Info().
		Str("loan_id", string(loan.ID)).
		Str("principal", loan.Principal.String()).
		Int("installments", loan.InstallmentCount).
		Bool("activated", req.Activate).
		Msg("Loan created")
	writeJSON(w, http.StatusCreated, resp)
}

// ListLoans returns all loans, optionally filtered by status.
func (h *Handler) ListLoans(w http.ResponseWriter, r *http.Request) {
	status := collection.LoanStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid status filter", nil)
		return
	}

	loans, err := h.Engine.Schedule.Loans(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to list loans", err)
		return
	}

	dtos := make([]LoanDTO, 0, len(loans))
	for _, l := range loans {
		if status != "" && l.Status != status {
			continue
		}
		dtos = append(dtos, toLoanDTO(l))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetLoan returns a loan with its schedule.
func (h *Handler) GetLoan(w http.ResponseWriter, r *http.Request) {
	id := collection.LoanID(chi.URLParam(r, "id"))
	ctx := r.Context()

	loan, err := h.Engine.Schedule.Loan(ctx, id)
	if err != nil {
		writeDomainError(w, "Failed to get loan", err)
		return
	}
	insts, err := h.Engine.Schedule.Get(ctx, id)
	if err != nil {
		writeDomainError(w, "Failed to get schedule", err)
		return
	}

	resp := LoanDetailResponse{Loan: toLoanDTO(*loan), Installments: toInstallmentDTOs(insts, h.now())}
	if len(insts) > 0 {
		summary := summarize(insts)
		resp.Summary = &summary
	}
	writeJSON(w, http.StatusOK, resp)
}

// SetLoanStatus closes, defaults or reinstates a loan.
func (h *Handler) SetLoanStatus(w http.ResponseWriter, r *http.Request) {
	id := collection.LoanID(chi.URLParam(r, "id"))
	var req SetLoanStatusRequest
	if !h.decode(w, r, &req) {
		return
	}

	loan, err := h.Engine.Schedule.SetLoanStatus(r.Context(), id, collection.LoanStatus(req.Status))
	if err != nil {
		writeDomainError(w, "Failed to update loan status", err)
		return
	}

	log.Info().Str("loan_id", string(id)).Str("status", req.Status).Msg("Loan status updated")
	writeJSON(w, http.StatusOK, toLoanDTO(*loan))
}

// AssignLoan routes every open installment of the loan to one agent.
func (h *Handler) AssignLoan(w http.ResponseWriter, r *http.Request) {
	id := collection.LoanID(chi.URLParam(r, "id"))
	var req AssignRequest
	if !h.decode(w, r, &req) {
		return
	}

	events, err := h.Engine.Assignments.AssignLoan(r.Context(), id, collection.AgentID(req.AgentID))
	if err != nil {
		writeDomainError(w, "Failed to assign loan", err)
		return
	}

	log.Info().
		Str("loan_id", string(id)).
		Str("agent_id", req.AgentID).
		Int("installments", len(events)).
		Msg("Loan assigned")
	writeJSON(w, http.StatusOK, toAssignmentEventDTOs(events))
}

// =============================================================================
// SCHEDULE HANDLERS
// =============================================================================

// MaterializeSchedule plans the loan's terms and persists the installments.
// A second call answers 409.
func (h *Handler) MaterializeSchedule(w http.ResponseWriter, r *http.Request) {
	id := collection.LoanID(chi.URLParam(r, "id"))

	insts, err := h.Engine.Schedule.Activate(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to materialize schedule", err)
		return
	}

	log.Info().Str("loan_id", string(id)).Int("installments", len(insts)).Msg("Schedule materialized")
	writeJSON(w, http.StatusCreated, toInstallmentDTOs(insts, h.now()))
}

// GetSchedule returns the loan's installments classified at request time.
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	id := collection.LoanID(chi.URLParam(r, "id"))

	insts, err := h.Engine.Schedule.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get schedule", err)
		return
	}
	writeJSON(w, http.StatusOK, toInstallmentDTOs(insts, h.now()))
}

// PreviewPlan runs the planner without persisting anything.
func (h *Handler) PreviewPlan(w http.ResponseWriter, r *http.Request) {
	var req PlanPreviewRequest
	if !h.decode(w, r, &req) {
		return
	}
	start, err := collection.ParseDay(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date format (use YYYY-MM-DD)", err)
		return
	}

	drafts, err := collection.Plan(collection.PlanInput{
		Principal:         req.Principal,
		AnnualRatePercent: req.AnnualRatePercent,
		InstallmentCount:  req.InstallmentCount,
		Frequency:         collection.Frequency(req.Frequency),
		StartDate:         start,
	})
	if err != nil {
		writeDomainError(w, "Invalid plan", err)
		return
	}

	resp := PlanPreviewResponse{Installments: make([]DraftDTO, len(drafts))}
	for i, d := range drafts {
		resp.Installments[i] = DraftDTO{
			Sequence:  d.Sequence,
			DueDate:   d.DueDate.String(),
			Principal: d.Principal,
			Interest:  d.Interest,
			TotalDue:  d.TotalDue,
		}
	}
	s := collection.Summarize(drafts)
	resp.Summary = PlanSummaryDTO{Principal: s.Principal, Interest: s.Interest, TotalDue: s.TotalDue}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// INSTALLMENT HANDLERS
// =============================================================================

// GetInstallment returns one installment.
func (h *Handler) GetInstallment(w http.ResponseWriter, r *http.Request) {
	id := collection.InstallmentID(chi.URLParam(r, "id"))

	inst, err := h.Engine.Schedule.Installment(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get installment", err)
		return
	}
	writeJSON(w, http.StatusOK, toInstallmentDTO(*inst, h.now()))
}

// AssignInstallment routes an installment to an agent, replacing any
// previous assignee.
func (h *Handler) AssignInstallment(w http.ResponseWriter, r *http.Request) {
	id := collection.InstallmentID(chi.URLParam(r, "id"))
	var req AssignRequest
	if !h.decode(w, r, &req) {
		return
	}

	ev, err := h.Engine.Assignments.Assign(r.Context(), id, collection.AgentID(req.AgentID))
	if err != nil {
		writeDomainError(w, "Failed to assign installment", err)
		return
	}

	log.Info().
		Str("installment_id", string(id)).
		Str("agent_id", req.AgentID).
		Str("previous_agent", string(ev.PreviousAgent)).
		Msg("Installment assigned")
	writeJSON(w, http.StatusOK, toAssignmentEventDTO(ev))
}

// UnassignInstallment returns an installment to the unassigned pool.
func (h *Handler) UnassignInstallment(w http.ResponseWriter, r *http.Request) {
	id := collection.InstallmentID(chi.URLParam(r, "id"))

	ev, err := h.Engine.Assignments.Unassign(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to unassign installment", err)
		return
	}

	log.Info().Str("installment_id", string(id)).Str("previous_agent", string(ev.PreviousAgent)).Msg("Installment unassigned")
	writeJSON(w, http.StatusOK, toAssignmentEventDTO(ev))
}

// CollectInstallment records a payment. 201 for a new entry, 200 when an
// idempotent retry is answered from the ledger.
func (h *Handler) CollectInstallment(w http.ResponseWriter, r *http.Request) {
	id := collection.InstallmentID(chi.URLParam(r, "id"))
	// A key in the body replaces the Idempotency-Key header
	req := CollectRequest{IdempotencyKey: r.Header.Get(IdempotencyKeyHeader)}
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.Engine.Recorder.Collect(r.Context(), collection.CollectRequest{
		InstallmentID:  id,
		AgentID:        collection.AgentID(req.AgentID),
		Amount:         req.Amount,
		Method:         collection.PaymentMethod(req.Method),
		IdempotencyKey: req.IdempotencyKey,
		Override:       req.Override,
	})
	if err != nil {
		log.Warn().Err(err).
			Str("installment_id", string(id)).
			Str("agent_id", req.AgentID).
			Int64("amount", req.Amount.Minor()).
			Msg("Payment rejected")
		writeDomainError(w, "Failed to record payment", err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	} else {
		event := log.Info()
		if req.Override {
			event = log.Warn().Bool("override", true)
		}
		event.
			Str("installment_id", string(id)).
			Str("loan_id", string(res.Entry.LoanID)).
			Str("agent_id", req.AgentID).
			Str("amount", req.Amount.String()).
			Str("method", req.Method).
			Bool("installment_done", res.Installment.IsDone()).
			Bool("loan_closed", res.LoanClosed).
			Msg("Payment collected")
	}

	writeJSON(w, status, CollectResponse{
		Entry:       toLedgerEntryDTO(res.Entry),
		Installment: toInstallmentDTO(res.Installment, h.now()),
		Replayed:    res.Replayed,
		LoanClosed:  res.LoanClosed,
	})
}

// ListCollections returns the installment's ledger entries.
func (h *Handler) ListCollections(w http.ResponseWriter, r *http.Request) {
	id := collection.InstallmentID(chi.URLParam(r, "id"))

	entries, err := h.Engine.Recorder.Entries(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to list collections", err)
		return
	}

	dtos := make([]LedgerEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toLedgerEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListAssignments returns the installment's assignment audit.
func (h *Handler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	id := collection.InstallmentID(chi.URLParam(r, "id"))

	events, err := h.Engine.Assignments.History(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to list assignments", err)
		return
	}
	writeJSON(w, http.StatusOK, toAssignmentEventDTOs(events))
}

// =============================================================================
// AGENT HANDLERS
// =============================================================================

// CreateAgent registers an agent, or renames an existing one.
func (h *Handler) CreateAgent(w http.ResponseWriter, r *http.Request) {
	var req CreateAgentRequest
	if !h.decode(w, r, &req) {
		return
	}

	agent, err := h.Engine.Schedule.RegisterAgent(r.Context(), collection.AgentID(req.ID), req.Name)
	if err != nil {
		writeDomainError(w, "Failed to register agent", err)
		return
	}

	log.Info().Str("agent_id", string(agent.ID)).Str("name", agent.Name).Msg("Agent registered")
	writeJSON(w, http.StatusCreated, toAgentDTO(*agent))
}

// ListAgents returns all agents.
func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.Engine.Schedule.Agents(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to list agents", err)
		return
	}

	dtos := make([]AgentDTO, len(agents))
	for i, a := range agents {
		dtos[i] = toAgentDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AgentInstallments is the agent's worklist across loans. An optional
// classification filter narrows it, e.g. ?classification=overdue.
func (h *Handler) AgentInstallments(w http.ResponseWriter, r *http.Request) {
	id := collection.AgentID(chi.URLParam(r, "id"))
	ctx := r.Context()

	filter := collection.Classification(r.URL.Query().Get("classification"))
	switch filter {
	case "", collection.ClassPending, collection.ClassDueToday, collection.ClassOverdue, collection.ClassDone:
	default:
		writeError(w, http.StatusBadRequest, "Invalid classification filter", nil)
		return
	}

	if _, err := h.Engine.Schedule.Agent(ctx, id); err != nil {
		writeDomainError(w, "Failed to get agent", err)
		return
	}
	insts, err := h.Engine.Schedule.ByAgent(ctx, id)
	if err != nil {
		writeDomainError(w, "Failed to list installments", err)
		return
	}

	now := h.now()
	dtos := make([]InstallmentDTO, 0, len(insts))
	for _, inst := range insts {
		if filter != "" && collection.Classify(inst, now) != filter {
			continue
		}
		dtos = append(dtos, toInstallmentDTO(inst, now))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SetAgentActive activates or deactivates an agent.
func (h *Handler) SetAgentActive(w http.ResponseWriter, r *http.Request) {
	id := collection.AgentID(chi.URLParam(r, "id"))
	var req SetAgentActiveRequest
	if !h.decode(w, r, &req) {
		return
	}

	agent, err := h.Engine.Schedule.SetAgentActive(r.Context(), id, *req.Active)
	if err != nil {
		writeDomainError(w, "Failed to update agent", err)
		return
	}

	log.Info().Str("agent_id", string(id)).Bool("active", agent.Active).Msg("Agent updated")
	writeJSON(w, http.StatusOK, toAgentDTO(*agent))
}

// =============================================================================
// ANALYTICS HANDLERS
// =============================================================================

// GetAnalytics computes dashboard metrics for one scope.
func (h *Handler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	q, err := h.parseAnalyticsQuery(r)
	if err != nil {
		writeDomainError(w, "Invalid analytics query", err)
		return
	}

	report, err := h.Engine.Analytics.Compute(r.Context(), q)
	if err != nil {
		writeDomainError(w, "Failed to compute analytics", err)
		return
	}
	writeJSON(w, http.StatusOK, toAnalyticsDTO(*report))
}

// GetAgentPerformance returns the agent leaderboard.
func (h *Handler) GetAgentPerformance(w http.ResponseWriter, r *http.Request) {
	var asOf time.Time
	if v := r.URL.Query().Get("as_of"); v != "" {
		t, err := parseAsOf(v, h.now().Location())
		if err != nil {
			writeDomainError(w, "Invalid analytics query", err)
			return
		}
		asOf = t
	}

	stats, err := h.Engine.Analytics.AgentPerformance(r.Context(), asOf)
	if err != nil {
		writeDomainError(w, "Failed to compute agent performance", err)
		return
	}

	dtos := make([]AgentStatsDTO, len(stats))
	for i, s := range stats {
		dtos[i] = AgentStatsDTO{
			AgentID:            string(s.AgentID),
			Name:               s.Name,
			Active:             s.Active,
			Assigned:           s.Assigned,
			Done:               s.Done,
			Overdue:            s.Overdue,
			OverdueAmount:      s.OverdueAmount,
			CollectedToday:     s.CollectedToday,
			CollectedThisMonth: s.CollectedThisMonth,
			CollectionRate:     s.CollectionRate,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) parseAnalyticsQuery(r *http.Request) (collection.Query, error) {
	qs := r.URL.Query()
	q := collection.Query{
		Scope: collection.Scope(qs.Get("scope")),
		ID:    qs.Get("id"),
	}

	if v := qs.Get("window"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return q, fmt.Errorf("%w: window must be a positive number of months", collection.ErrInvalidQuery)
		}
		q.Months = n
	}
	if v := qs.Get("target"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return q, fmt.Errorf("%w: target must be an integer number of minor units", collection.ErrInvalidQuery)
		}
		target := collection.Money(n)
		q.Target = &target
	}
	if v := qs.Get("as_of"); v != "" {
		t, err := parseAsOf(v, h.now().Location())
		if err != nil {
			return q, err
		}
		q.Now = t
	}
	return q, nil
}

// parseAsOf accepts RFC 3339 or a bare date, which means the start of that
// day in loc.
func parseAsOf(v string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.In(loc), nil
	}
	t, err := time.ParseInLocation("2006-01-02", v, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: as_of must be RFC 3339 or YYYY-MM-DD", collection.ErrInvalidQuery)
	}
	return t, nil
}

// =============================================================================
// HEALTH
// =============================================================================

type pinger interface {
	Ping(ctx context.Context) error
}

// Health reports liveness, and database reachability when the store can
// be pinged.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads and validates a JSON body. It writes the 400 itself and
// reports false on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, len(verrs))
			for i, fe := range verrs {
				fields[i] = fe.Field() + ": " + fe.Tag()
			}
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:   "Validation failed",
				Code:    "validation_failed",
				Details: strings.Join(fields, "; "),
			})
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// errorCodes maps sentinels to stable machine-readable codes. Order matters:
// the first match wins.
var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{collection.ErrOverpayment, http.StatusConflict, "overpayment"},
	{collection.ErrNotAssigned, http.StatusForbidden, "not_assigned"},
	{collection.ErrNotFound, http.StatusNotFound, "not_found"},
	{collection.ErrInvalidPlan, http.StatusBadRequest, "invalid_plan"},
	{collection.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{collection.ErrInvalidMethod, http.StatusBadRequest, "invalid_method"},
	{collection.ErrInvalidQuery, http.StatusBadRequest, "invalid_query"},
	{collection.ErrInvalidStatusTransition, http.StatusConflict, "invalid_status_transition"},
	{collection.ErrDuplicateLoan, http.StatusConflict, "duplicate_loan"},
	{collection.ErrDuplicateSchedule, http.StatusConflict, "duplicate_schedule"},
	{collection.ErrAlreadyDone, http.StatusConflict, "already_done"},
	{collection.ErrLoanNotActive, http.StatusConflict, "loan_not_active"},
	{collection.ErrAgentInactive, http.StatusConflict, "agent_inactive"},
	{collection.ErrIdempotencyConflict, http.StatusConflict, "idempotency_conflict"},
	{collection.ErrDuplicateIdempotencyKey, http.StatusConflict, "duplicate_idempotency_key"},
	{collection.ErrTransient, http.StatusServiceUnavailable, "transient"},
}

// statusFor maps an engine error to its HTTP status and code.
func statusFor(err error) (int, string) {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.status, c.code
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable, "transient"
	}
	return http.StatusInternalServerError, "internal"
}

// writeDomainError writes an engine error with its status, code and the
// fields a client needs to act on it.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	status, code := statusFor(err)
	resp := ErrorResponse{Error: message, Code: code, Details: err.Error()}

	var over *collection.OverpaymentError
	if errors.As(err, &over) {
		maxAcceptable := over.MaxAcceptable
		resp.MaxAcceptable = &maxAcceptable
	}
	var notAssigned *collection.NotAssignedError
	if errors.As(err, &notAssigned) {
		assignee := string(notAssigned.Assignee)
		resp.Assignee = &assignee
	}

	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("code", code).Msg(message)
	}
	writeJSON(w, status, resp)
}

func toLoanDTO(l collection.Loan) LoanDTO {
	return LoanDTO{
		ID:                string(l.ID),
		BorrowerRef:       l.BorrowerRef,
		Principal:         l.Principal,
		AnnualRatePercent: l.AnnualRatePercent.String(),
		InstallmentCount:  l.InstallmentCount,
		Frequency:         string(l.Frequency),
		StartDate:         l.StartDate.String(),
		Status:            string(l.Status),
		CreatedAt:         l.CreatedAt,
		UpdatedAt:         l.UpdatedAt,
	}
}

func toInstallmentDTO(inst collection.Installment, now time.Time) InstallmentDTO {
	return InstallmentDTO{
		ID:             string(inst.ID),
		LoanID:         string(inst.LoanID),
		Sequence:       inst.Sequence,
		DueDate:        inst.DueDate.String(),
		Principal:      inst.Principal,
		Interest:       inst.Interest,
		TotalDue:       inst.TotalDue,
		AmountPaid:     inst.AmountPaid,
		Outstanding:    inst.Outstanding(),
		Status:         string(inst.Status),
		Classification: string(collection.Classify(inst, now)),
		DaysPastDue:    collection.DaysPastDue(inst, now),
		AssignedAgent:  string(inst.AssignedAgent),
		AssignedAt:     inst.AssignedAt,
		CompletedAt:    inst.CompletedAt,
	}
}

func toInstallmentDTOs(insts []collection.Installment, now time.Time) []InstallmentDTO {
	dtos := make([]InstallmentDTO, len(insts))
	for i, inst := range insts {
		dtos[i] = toInstallmentDTO(inst, now)
	}
	return dtos
}

func summarize(insts []collection.Installment) PlanSummaryDTO {
	var s PlanSummaryDTO
	for _, inst := range insts {
		s.Principal += inst.Principal
		s.Interest += inst.Interest
		s.TotalDue += inst.TotalDue
	}
	return s
}

func toAssignmentEventDTO(ev collection.AssignmentEvent) AssignmentEventDTO {
	return AssignmentEventDTO{
		InstallmentID: string(ev.InstallmentID),
		LoanID:        string(ev.LoanID),
		AgentID:       string(ev.AgentID),
		PreviousAgent: string(ev.PreviousAgent),
		At:            ev.At,
	}
}

func toAssignmentEventDTOs(events []collection.AssignmentEvent) []AssignmentEventDTO {
	dtos := make([]AssignmentEventDTO, len(events))
	for i, ev := range events {
		dtos[i] = toAssignmentEventDTO(ev)
	}
	return dtos
}

func toLedgerEntryDTO(e collection.LedgerEntry) LedgerEntryDTO {
	return LedgerEntryDTO{
		ID:             string(e.ID),
		InstallmentID:  string(e.InstallmentID),
		LoanID:         string(e.LoanID),
		AgentID:        string(e.AgentID),
		Amount:         e.Amount,
		Method:         string(e.Method),
		CollectedAt:    e.CollectedAt,
		IdempotencyKey: e.IdempotencyKey,
		Override:       e.Override,
	}
}

func toAgentDTO(a collection.Agent) AgentDTO {
	return AgentDTO{ID: string(a.ID), Name: a.Name, Active: a.Active, CreatedAt: a.CreatedAt}
}

func toAnalyticsDTO(rep collection.Report) AnalyticsDTO {
	dto := AnalyticsDTO{
		Scope:               string(rep.Scope),
		ID:                  rep.ID,
		AsOf:                rep.AsOf,
		TotalInstallments:   rep.TotalCount,
		DoneCount:           rep.DoneCount,
		PendingCount:        rep.PendingCount,
		DueTodayCount:       rep.DueTodayCount,
		DueTodayAmount:      rep.DueTodayAmount,
		OverdueCount:        rep.OverdueCount,
		OverdueAmount:       rep.OverdueAmount,
		PendingAmount:       rep.PendingAmount,
		TodaysCollection:    rep.TodaysCollection,
		ThisMonthCollection: rep.ThisMonthCollection,
		LastMonthCollection: rep.LastMonthCollection,
		TotalCollected:      rep.TotalCollected,
		CollectionRate:      rep.CollectionRate,
		DelinquencyRate:     rep.DelinquencyRate,
		GrowthRate:          rep.GrowthRate,
		Target:              rep.Target,
		TargetAchievement:   rep.TargetAchievement,
		MonthlyTrend:        make([]MonthBucketDTO, len(rep.MonthlyTrend)),
	}
	for i, b := range rep.MonthlyTrend {
		dto.MonthlyTrend[i] = MonthBucketDTO{Month: b.Month.String(), Amount: b.Amount}
	}
	return dto
}
