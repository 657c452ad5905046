package collection

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMORTIZATION PLANNER - Loan terms to installment drafts
// =============================================================================

// PlanInput holds the loan terms a plan is derived from.
type PlanInput struct {
	Principal         Money
	AnnualRatePercent decimal.Decimal
	InstallmentCount  int
	Frequency         Frequency
	StartDate         Day
}

// InstallmentDraft is a planned installment before it is materialized.
type InstallmentDraft struct {
	Sequence  int
	DueDate   Day
	Principal Money
	Interest  Money
	TotalDue  Money
}

// PlanSummary totals a plan. TotalDue always equals Principal + Interest.
type PlanSummary struct {
	Principal Money
	Interest  Money
	TotalDue  Money
}

// TotalInterest is the flat interest on the loan: principal × rate / 100,
// rounded half up to the minor unit.
func TotalInterest(principal Money, annualRatePercent decimal.Decimal) Money {
	return Money(decimal.NewFromInt(int64(principal)).
		Mul(annualRatePercent).
		Div(hundred).
		Round(0).
		IntPart())
}

// Plan divides principal plus flat interest evenly over InstallmentCount rows.
// The last row absorbs the rounding remainder so the rows sum to the loan's
// total payable exactly.
//
// Each row is split into interest and principal by the loan's interest share,
// computed on running totals so that neither column ever goes negative and
// both columns also sum exactly.
//
// Installment k is due k frequency units after StartDate. Plan is pure and
// deterministic: the same input always yields the same drafts.
func Plan(in PlanInput) ([]InstallmentDraft, error) {
	if err := validatePlan(in); err != nil {
		return nil, err
	}

	n := int64(in.InstallmentCount)
	interest := TotalInterest(in.Principal, in.AnnualRatePercent)
	total := in.Principal + interest
	perTotal := Money(int64(total) / n)

	drafts := make([]InstallmentDraft, 0, in.InstallmentCount)
	var (
		allocatedTotal    Money
		allocatedInterest Money
	)

	for k := 1; k <= in.InstallmentCount; k++ {
		rowTotal := perTotal
		if k == in.InstallmentCount {
			rowTotal = total - allocatedTotal
		}
		allocatedTotal += rowTotal

		cumulativeInterest := interest
		if k < in.InstallmentCount {
			cumulativeInterest = interestShare(allocatedTotal, interest, total)
		}
		rowInterest := cumulativeInterest - allocatedInterest
		allocatedInterest = cumulativeInterest

		drafts = append(drafts, InstallmentDraft{
			Sequence:  k,
			DueDate:   dueDate(in.StartDate, in.Frequency, k),
			Principal: rowTotal - rowInterest,
			Interest:  rowInterest,
			TotalDue:  rowTotal,
		})
	}

	return drafts, nil
}

// interestShare is floor(paid × interest / total).
func interestShare(paid, interest, total Money) Money {
	if total == 0 {
		return 0
	}
	return Money(decimal.NewFromInt(int64(paid)).
		Mul(decimal.NewFromInt(int64(interest))).
		Div(decimal.NewFromInt(int64(total))).
		Floor().
		IntPart())
}

// Summarize totals a list of drafts.
func Summarize(drafts []InstallmentDraft) PlanSummary {
	var s PlanSummary
	for _, d := range drafts {
		s.Principal += d.Principal
		s.Interest += d.Interest
		s.TotalDue += d.TotalDue
	}
	return s
}

func validatePlan(in PlanInput) error {
	switch {
	case in.InstallmentCount <= 0:
		return &InvalidPlanError{Reason: "installment count must be positive"}
	case in.Principal <= 0:
		return &InvalidPlanError{Reason: "principal must be positive"}
	case in.AnnualRatePercent.IsNegative():
		return &InvalidPlanError{Reason: "interest rate must not be negative"}
	case !in.Frequency.Valid():
		return &InvalidPlanError{Reason: fmt.Sprintf("unknown frequency %q", in.Frequency)}
	case in.StartDate.IsZero():
		return &InvalidPlanError{Reason: "start date is required"}
	}
	total := in.Principal + TotalInterest(in.Principal, in.AnnualRatePercent)
	if int64(total) < int64(in.InstallmentCount) {
		return &InvalidPlanError{Reason: "total payable is too small to split into the installment count"}
	}
	return nil
}

// dueDate steps k frequency units from start. Monthly steps are taken from
// the start date each time, not chained, so a 31st start keeps returning to
// the 31st whenever the month has one.
func dueDate(start Day, freq Frequency, k int) Day {
	switch freq {
	case FrequencyDaily:
		return start.AddDays(k)
	case FrequencyWeekly:
		return start.AddDays(7 * k)
	default:
		return start.AddMonthsClamped(k)
	}
}
