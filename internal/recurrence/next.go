package recurrence

import "github.com/dukerupert/flatchores/internal/model"

// Policy holds the product heuristics used when scheduling the next occurrence.
type Policy struct {
	// StrongOverdueRatio is the fraction of one interval a completion may be
	// late before the schedule restarts from the completion day.
	StrongOverdueRatio float64
	// ResetOnEarlyCompletion restarts the schedule from the completion day
	// when a chore is finished before it is due.
	ResetOnEarlyCompletion bool
}

// DefaultPolicy matches the behavior households already rely on.
var DefaultPolicy = Policy{
	StrongOverdueRatio:     0.5,
	ResetOnEarlyCompletion: true,
}

// IntervalDays approximates one interval in days. Months count as 30 days;
// the date arithmetic itself uses calendar months.
func IntervalDays(t model.IntervalType, value int) int {
	value = max(value, 1)
	switch t {
	case model.IntervalDaily, model.IntervalCustom:
		return value
	case model.IntervalWeekly:
		return value * 7
	case model.IntervalMonthly:
		return value * 30
	default:
		return 0
	}
}

// NextDueDate computes the next due date with DefaultPolicy.
func NextDueDate(original model.Date, t model.IntervalType, value int, today model.Date) model.Date {
	return DefaultPolicy.NextDueDate(original, t, value, today)
}

// NextDueDate returns the due date of the occurrence following one that was
// due on original and completed on today.
//
// A completion that is at least StrongOverdueRatio of an interval late starts
// the next cycle from today instead of stacking missed occurrences. A mildly
// late or on-time completion keeps the original cadence. An early completion
// starts from today when ResetOnEarlyCompletion is set.
func (p Policy) NextDueDate(original model.Date, t model.IntervalType, value int, today model.Date) model.Date {
	value = max(value, 1)
	intervalDays := IntervalDays(t, value)
	if intervalDays == 0 {
		return original
	}

	base := original
	switch {
	case original.Before(today):
		daysOverdue := original.DaysUntil(today)
		if float64(daysOverdue) >= float64(intervalDays)*p.StrongOverdueRatio {
			base = today
		}
	case original.After(today):
		if p.ResetOnEarlyCompletion {
			base = today
		}
	}

	switch t {
	case model.IntervalWeekly:
		return base.AddDays(value * 7)
	case model.IntervalMonthly:
		return base.AddMonths(value)
	default:
		return base.AddDays(value)
	}
}
