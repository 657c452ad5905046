/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Every amount is an integer number of minor units (110000 = ₹1,100.00).
  Rates are decimal strings or numbers ("10", 10.5).

VALIDATION:
  Request types carry validator struct tags. Handlers run them through
  validate before calling the engine; the engine still enforces its own
  invariants.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/collection-engine/collection"
)

// =============================================================================
// LOANS
// =============================================================================

type CreateLoanRequest struct {
	ID                string           `json:"id" validate:"omitempty,max=64,excludesall=/?#"`
	BorrowerRef       string           `json:"borrower_ref" validate:"max=128"`
	Principal         collection.Money `json:"principal" validate:"gt=0"`
	AnnualRatePercent decimal.Decimal  `json:"annual_rate_percent"`
	InstallmentCount  int              `json:"installment_count" validate:"gt=0,lte=1200"`
	Frequency         string           `json:"frequency" validate:"required,oneof=daily weekly monthly"`
	StartDate         string           `json:"start_date" validate:"required,datetime=2006-01-02"`

	// Activate materializes the schedule in the same call.
	Activate bool `json:"activate"`
}

// PlanPreviewRequest has the loan terms without identity.
type PlanPreviewRequest struct {
	Principal         collection.Money `json:"principal" validate:"gt=0"`
	AnnualRatePercent decimal.Decimal  `json:"annual_rate_percent"`
	InstallmentCount  int              `json:"installment_count" validate:"gt=0,lte=1200"`
	Frequency         string           `json:"frequency" validate:"required,oneof=daily weekly monthly"`
	StartDate         string           `json:"start_date" validate:"required,datetime=2006-01-02"`
}

type SetLoanStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active closed defaulted"`
}

type LoanDTO struct {
	ID                string           `json:"id"`
	BorrowerRef       string           `json:"borrower_ref,omitempty"`
	Principal         collection.Money `json:"principal"`
	AnnualRatePercent string           `json:"annual_rate_percent"`
	InstallmentCount  int              `json:"installment_count"`
	Frequency         string           `json:"frequency"`
	StartDate         string           `json:"start_date"`
	Status            string           `json:"status"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// LoanDetailResponse is a loan with its schedule, when materialized.
type LoanDetailResponse struct {
	Loan         LoanDTO          `json:"loan"`
	Installments []InstallmentDTO `json:"installments"`
	Summary      *PlanSummaryDTO  `json:"summary,omitempty"`
}

// =============================================================================
// PLANS & INSTALLMENTS
// =============================================================================

type DraftDTO struct {
	Sequence  int              `json:"sequence"`
	DueDate   string           `json:"due_date"`
	Principal collection.Money `json:"principal"`
	Interest  collection.Money `json:"interest"`
	TotalDue  collection.Money `json:"total_due"`
}

type PlanSummaryDTO struct {
	Principal collection.Money `json:"principal"`
	Interest  collection.Money `json:"interest"`
	TotalDue  collection.Money `json:"total_due"`
}

type PlanPreviewResponse struct {
	Installments []DraftDTO     `json:"installments"`
	Summary      PlanSummaryDTO `json:"summary"`
}

// InstallmentDTO carries the classification as of the request time, so
// dashboards never derive "overdue" themselves.
type InstallmentDTO struct {
	ID             string           `json:"id"`
	LoanID         string           `json:"loan_id"`
	Sequence       int              `json:"sequence"`
	DueDate        string           `json:"due_date"`
	Principal      collection.Money `json:"principal"`
	Interest       collection.Money `json:"interest"`
	TotalDue       collection.Money `json:"total_due"`
	AmountPaid     collection.Money `json:"amount_paid"`
	Outstanding    collection.Money `json:"outstanding"`
	Status         string           `json:"status"`
	Classification string           `json:"classification"`
	DaysPastDue    int              `json:"days_past_due,omitempty"`
	AssignedAgent  string           `json:"assigned_agent,omitempty"`
	AssignedAt     *time.Time       `json:"assigned_at,omitempty"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
}

// =============================================================================
// ASSIGNMENT
// =============================================================================

type AssignRequest struct {
	AgentID string `json:"agent_id" validate:"required"`
}

type AssignmentEventDTO struct {
	InstallmentID string    `json:"installment_id"`
	LoanID        string    `json:"loan_id"`
	AgentID       string    `json:"agent_id,omitempty"`
	PreviousAgent string    `json:"previous_agent,omitempty"`
	At            time.Time `json:"at"`
}

// =============================================================================
// COLLECTION
// =============================================================================

// CollectRequest leaves amount and method to the recorder, which reports
// them as invalid_amount and invalid_method.
type CollectRequest struct {
	AgentID        string           `json:"agent_id" validate:"required"`
	Amount         collection.Money `json:"amount"`
	Method         string           `json:"method"`
	IdempotencyKey string           `json:"idempotency_key" validate:"max=128"`
	Override       bool             `json:"override"`
}

type LedgerEntryDTO struct {
	ID             string           `json:"id"`
	InstallmentID  string           `json:"installment_id"`
	LoanID         string           `json:"loan_id"`
	AgentID        string           `json:"agent_id"`
	Amount         collection.Money `json:"amount"`
	Method         string           `json:"method"`
	CollectedAt    time.Time        `json:"collected_at"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
	Override       bool             `json:"override,omitempty"`
}

type CollectResponse struct {
	Entry       LedgerEntryDTO `json:"entry"`
	Installment InstallmentDTO `json:"installment"`
	Replayed    bool           `json:"replayed"`
	LoanClosed  bool           `json:"loan_closed"`
}

// =============================================================================
// AGENTS
// =============================================================================

type CreateAgentRequest struct {
	ID   string `json:"id" validate:"omitempty,max=64,excludesall=/?#"`
	Name string `json:"name" validate:"required,max=128"`
}

type SetAgentActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

type AgentDTO struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type AgentStatsDTO struct {
	AgentID            string           `json:"agent_id"`
	Name               string           `json:"name"`
	Active             bool             `json:"active"`
	Assigned           int              `json:"assigned"`
	Done               int              `json:"done"`
	Overdue            int              `json:"overdue"`
	OverdueAmount      collection.Money `json:"overdue_amount"`
	CollectedToday     collection.Money `json:"collected_today"`
	CollectedThisMonth collection.Money `json:"collected_this_month"`
	CollectionRate     float64          `json:"collection_rate"`
}

// =============================================================================
// ANALYTICS
// =============================================================================

type MonthBucketDTO struct {
	Month  string           `json:"month"` // YYYY-MM
	Amount collection.Money `json:"amount"`
}

// AnalyticsDTO is flat so every dashboard reads the same field names.
type AnalyticsDTO struct {
	Scope string    `json:"scope"`
	ID    string    `json:"id,omitempty"`
	AsOf  time.Time `json:"as_of"`

	TotalInstallments int              `json:"total_installments"`
	DoneCount         int              `json:"done_count"`
	PendingCount      int              `json:"pending_count"`
	DueTodayCount     int              `json:"due_today_count"`
	DueTodayAmount    collection.Money `json:"due_today_amount"`
	OverdueCount      int              `json:"overdue_count"`
	OverdueAmount     collection.Money `json:"overdue_amount"`
	PendingAmount     collection.Money `json:"pending_amount"`

	TodaysCollection    collection.Money `json:"todays_collection"`
	ThisMonthCollection collection.Money `json:"this_month_collection"`
	LastMonthCollection collection.Money `json:"last_month_collection"`
	TotalCollected      collection.Money `json:"total_collected"`

	CollectionRate    float64           `json:"collection_rate"`
	DelinquencyRate   float64           `json:"delinquency_rate"`
	GrowthRate        float64           `json:"growth_rate"`
	Target            *collection.Money `json:"target,omitempty"`
	TargetAchievement *float64          `json:"target_achievement"`

	MonthlyTrend []MonthBucketDTO `json:"monthly_trend"`
}

// =============================================================================
// SCENARIOS & ERRORS
// =============================================================================

// ScenarioDTO describes a demo portfolio.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`

	// MaxAcceptable is set on overpayment.
	MaxAcceptable *collection.Money `json:"max_acceptable,omitempty"`
	// Assignee is set when the caller is not the installment's assignee.
	Assignee *string `json:"assignee,omitempty"`
}
