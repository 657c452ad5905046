package collection

import "time"

// Classification is the point-in-time status of an installment.
type Classification string

const (
	ClassPending  Classification = "pending"
	ClassDueToday Classification = "due_today"
	ClassOverdue  Classification = "overdue"
	ClassDone     Classification = "done"
)

// Classify derives an installment's status at now. It is the only place the
// overdue boundary is defined: an installment is overdue from the first
// calendar day after its due date, judged in now's location.
//
// Done wins over any date comparison.
func Classify(inst Installment, now time.Time) Classification {
	if inst.IsDone() {
		return ClassDone
	}
	today := DayOf(now)
	switch {
	case inst.DueDate.Before(today):
		return ClassOverdue
	case inst.DueDate.Equal(today):
		return ClassDueToday
	default:
		return ClassPending
	}
}

// IsOpen reports whether a classification still has money outstanding.
func (c Classification) IsOpen() bool { return c != ClassDone }

// DaysPastDue is how many whole days an open installment is late; zero when it
// is not overdue.
func DaysPastDue(inst Installment, now time.Time) int {
	if Classify(inst, now) != ClassOverdue {
		return 0
	}
	return int(DayOf(now).Time().Sub(inst.DueDate.Time()).Hours() / 24)
}
