package model

import "time"

// IntervalType is the unit of a template's recurrence rule.
type IntervalType string

const (
	IntervalNone    IntervalType = "none"
	IntervalDaily   IntervalType = "daily"
	IntervalWeekly  IntervalType = "weekly"
	IntervalMonthly IntervalType = "monthly"
	IntervalCustom  IntervalType = "custom"
)

// Valid reports whether t is one of the known interval types.
func (t IntervalType) Valid() bool {
	switch t {
	case IntervalNone, IntervalDaily, IntervalWeekly, IntervalMonthly, IntervalCustom:
		return true
	}
	return false
}

// InstanceStatus is the completion state of a task instance.
type InstanceStatus string

const (
	StatusOpen    InstanceStatus = "open"
	StatusDone    InstanceStatus = "done"
	StatusSkipped InstanceStatus = "skipped"
)

// TaskTemplate is the reusable chore definition.
type TaskTemplate struct {
	ID              int64        `json:"id"`
	ApartmentID     int64        `json:"apartment_id"`
	Title           string       `json:"title"`
	Description     string       `json:"description"`
	Points          int          `json:"points"`
	IsRecurring     bool         `json:"is_recurring"`
	IntervalType    IntervalType `json:"interval_type"`
	IntervalValue   int          `json:"interval_value"`
	Color           string       `json:"color"`
	InitialDueDate  *Date        `json:"initial_due_date"`
	Standalone      bool         `json:"standalone"`
	Archived        bool         `json:"archived"`
	IsDeleted       bool         `json:"is_deleted"`
	CreatedByUserID *int64       `json:"created_by_user_id"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// Recurs reports whether completing an instance of this template schedules a successor.
func (t *TaskTemplate) Recurs() bool {
	return t.IsRecurring && t.IntervalType != IntervalNone
}

// TaskInstance is one concrete occurrence of a template.
type TaskInstance struct {
	ID                int64          `json:"id"`
	TemplateID        *int64         `json:"template_id"`
	ApartmentID       int64          `json:"apartment_id"`
	AssignedUserID    *int64         `json:"assigned_user_id"`
	DueDate           Date           `json:"due_date"`
	Status            InstanceStatus `json:"status"`
	CompletedAt       *time.Time     `json:"completed_at"`
	CompletedByUserID *int64         `json:"completed_by_user_id"`
	PointsAwarded     *int           `json:"points_awarded"`
	Notes             string         `json:"notes"`
	Archived          bool           `json:"archived"`
	IsDeleted         bool           `json:"is_deleted"`
	DeletedAt         *time.Time     `json:"deleted_at"`
	DeletedByUserID   *int64         `json:"deleted_by_user_id"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Points returns the awarded points, treating NULL as zero.
func (i *TaskInstance) Points() int {
	if i.PointsAwarded == nil {
		return 0
	}
	return *i.PointsAwarded
}

// TaskEdit is one field-level change recorded against a template.
type TaskEdit struct {
	ID             int64     `json:"id"`
	TaskID         int64     `json:"task_id"`
	FieldName      string    `json:"field_name"`
	OldValue       string    `json:"old_value"`
	NewValue       string    `json:"new_value"`
	EditedByUserID *int64    `json:"edited_by_user_id"`
	EditedAt       time.Time `json:"edited_at"`
}
