package chore

import "github.com/dukerupert/flatchores/internal/model"

// Status is the display state of an instance relative to a given day.
type Status string

const (
	StatusDone     Status = "done"
	StatusSkipped  Status = "skipped"
	StatusOverdue  Status = "overdue"
	StatusDueToday Status = "due_today"
	StatusUpcoming Status = "upcoming"
)

// ComputeStatus determines how an instance should be presented on today.
func ComputeStatus(inst model.TaskInstance, today model.Date) Status {
	switch inst.Status {
	case model.StatusDone:
		return StatusDone
	case model.StatusSkipped:
		return StatusSkipped
	}

	switch {
	case inst.DueDate.Before(today):
		return StatusOverdue
	case inst.DueDate.Equal(today):
		return StatusDueToday
	default:
		return StatusUpcoming
	}
}

// IsDueOnDate reports whether an open instance needs doing on or before date.
func IsDueOnDate(inst model.TaskInstance, date model.Date) bool {
	return inst.Status == model.StatusOpen && !inst.DueDate.After(date)
}
