/*
errors.go - Centralized error types for the collection engine

PURPOSE:
  All error kinds in one place. Callers branch with errors.Is on the
  sentinels; structured errors carry the details a client needs to act
  (e.g. the maximum acceptable payment) and unwrap to their sentinel.

ERROR CATEGORIES:
  1. Business errors - invalid input or a rule violation; never retryable
  2. Transient errors - storage busy, lock timeout, deadline; safe to retry

SEE ALSO:
  - api/handlers.go: maps these to HTTP status codes
  - store/sqlite/sqlite.go: wraps driver failures in ErrTransient
*/
package collection

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrInvalidPlan       = errors.New("invalid plan")
	ErrDuplicateLoan     = errors.New("loan already exists")
	ErrDuplicateSchedule = errors.New("schedule already materialized")
	ErrNotFound          = errors.New("not found")
	ErrAlreadyDone       = errors.New("installment already done")
	ErrNotAssigned       = errors.New("agent is not the installment's assignee")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrOverpayment       = errors.New("payment exceeds outstanding due")

	ErrInvalidMethod           = errors.New("invalid payment method")
	ErrLoanNotActive           = errors.New("loan is not active")
	ErrAgentInactive           = errors.New("agent is inactive")
	ErrInvalidQuery            = errors.New("invalid analytics query")
	ErrInvalidStatusTransition = errors.New("invalid loan status transition")

	// ErrDuplicateIdempotencyKey is returned by stores when a ledger entry with
	// the same idempotency key already exists.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrIdempotencyConflict means a key was reused for a different payment.
	ErrIdempotencyConflict = errors.New("idempotency key reused with different parameters")

	// ErrTransient marks storage-layer failures. The whole operation may be
	// retried.
	ErrTransient = errors.New("transient storage failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidPlanError explains why loan terms cannot be planned.
type InvalidPlanError struct {
	Reason string
}

func (e *InvalidPlanError) Error() string { return "invalid plan: " + e.Reason }
func (e *InvalidPlanError) Unwrap() error { return ErrInvalidPlan }

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string // "loan", "installment", "agent"
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %q not found", e.Kind, e.ID) }
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func notFound(kind, id string) error { return &NotFoundError{Kind: kind, ID: id} }

// NotAssignedError is returned when an agent collects an installment routed
// to someone else (or to no one) without the supervisor override.
type NotAssignedError struct {
	InstallmentID InstallmentID
	AgentID       AgentID
	Assignee      AgentID // empty when unassigned
}

func (e *NotAssignedError) Error() string {
	if e.Assignee == "" {
		return fmt.Sprintf("installment %s is unassigned; agent %s needs supervisor override", e.InstallmentID, e.AgentID)
	}
	return fmt.Sprintf("installment %s is assigned to %s, not %s", e.InstallmentID, e.Assignee, e.AgentID)
}

func (e *NotAssignedError) Unwrap() error { return ErrNotAssigned }

// OverpaymentError carries the largest amount the installment still accepts.
// The excess is never silently dropped.
type OverpaymentError struct {
	InstallmentID InstallmentID
	Requested     Money
	MaxAcceptable Money
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("payment %s exceeds outstanding %s on installment %s",
		e.Requested, e.MaxAcceptable, e.InstallmentID)
}

func (e *OverpaymentError) Unwrap() error { return ErrOverpayment }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// Transient wraps a storage failure so IsRetryable reports true.
func Transient(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidPlan) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidMethod) ||
		errors.Is(err, ErrInvalidQuery)
}

// IsConflict returns true if the request is valid but clashes with the
// current state of the schedule.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateSchedule) ||
		errors.Is(err, ErrDuplicateLoan) ||
		errors.Is(err, ErrAlreadyDone) ||
		errors.Is(err, ErrOverpayment) ||
		errors.Is(err, ErrLoanNotActive) ||
		errors.Is(err, ErrAgentInactive) ||
		errors.Is(err, ErrIdempotencyConflict) ||
		errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrInvalidStatusTransition)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
