package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/flatchores/internal/model"
)

// TaskStore persists task templates and their edit history.
type TaskStore struct {
	db *sql.DB
}

func NewTaskStore(db *sql.DB) *TaskStore {
	return &TaskStore{db: db}
}

func scanTask(sc scanner) (*model.TaskTemplate, error) {
	var t model.TaskTemplate
	var intervalType string
	var isRecurring, standalone, archived, isDeleted int
	var initialDue model.NullDate
	var createdBy sql.NullInt64

	err := sc.Scan(
		&t.ID, &t.ApartmentID, &t.Title, &t.Description, &t.Points,
		&isRecurring, &intervalType, &t.IntervalValue, &t.Color, &initialDue,
		&standalone, &archived, &isDeleted, &createdBy,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.IntervalType = model.IntervalType(intervalType)
	t.IsRecurring = isRecurring != 0
	t.Standalone = standalone != 0
	t.Archived = archived != 0
	t.IsDeleted = isDeleted != 0
	t.InitialDueDate = initialDue.Ptr()
	t.CreatedByUserID = int64Ptr(createdBy)
	return &t, nil
}

const taskCols = `id, apartment_id, title, description, points, is_recurring, interval_type, interval_value, color, initial_due_date, standalone, archived, is_deleted, created_by_user_id, created_at, updated_at`

// Create inserts a template. ID and timestamps of t are ignored.
func (s *TaskStore) Create(ctx context.Context, t model.TaskTemplate) (*model.TaskTemplate, error) {
	result, err := executor(ctx, s.db).ExecContext(ctx,
		`INSERT INTO tasks (apartment_id, title, description, points, is_recurring, interval_type, interval_value, color, initial_due_date, standalone, created_by_user_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ApartmentID, t.Title, t.Description, t.Points, boolInt(t.IsRecurring),
		string(t.IntervalType), t.IntervalValue, t.Color, t.InitialDueDate,
		boolInt(t.Standalone), nullInt64(t.CreatedByUserID),
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID returns the template including soft-deleted rows, or nil if absent.
func (s *TaskStore) GetByID(ctx context.Context, id int64) (*model.TaskTemplate, error) {
	row := executor(ctx, s.db).QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// ListByApartment returns the apartment's non-deleted templates.
func (s *TaskStore) ListByApartment(ctx context.Context, apartmentID int64, includeArchived bool) ([]model.TaskTemplate, error) {
	query := `SELECT ` + taskCols + ` FROM tasks WHERE apartment_id = ? AND is_deleted = 0`
	if !includeArchived {
		query += ` AND archived = 0`
	}
	query += ` ORDER BY title ASC, id ASC`

	rows, err := executor(ctx, s.db).QueryContext(ctx, query, apartmentID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []model.TaskTemplate
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// Update writes every mutable field of t.
func (s *TaskStore) Update(ctx context.Context, t model.TaskTemplate) (*model.TaskTemplate, error) {
	_, err := executor(ctx, s.db).ExecContext(ctx,
		`UPDATE tasks SET title = ?, description = ?, points = ?, is_recurring = ?, interval_type = ?,
		 interval_value = ?, color = ?, initial_due_date = ?, archived = ?
		 WHERE id = ?`,
		t.Title, t.Description, t.Points, boolInt(t.IsRecurring), string(t.IntervalType),
		t.IntervalValue, t.Color, t.InitialDueDate, boolInt(t.Archived), t.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	return s.GetByID(ctx, t.ID)
}

// SetInitialDueDate sets the anchor date only if the template has none.
func (s *TaskStore) SetInitialDueDate(ctx context.Context, id int64, due model.Date) error {
	_, err := executor(ctx, s.db).ExecContext(ctx,
		`UPDATE tasks SET initial_due_date = ? WHERE id = ? AND initial_due_date IS NULL`,
		due, id,
	)
	if err != nil {
		return fmt.Errorf("set initial due date: %w", err)
	}
	return nil
}

func (s *TaskStore) SoftDelete(ctx context.Context, id int64) error {
	_, err := executor(ctx, s.db).ExecContext(ctx, `UPDATE tasks SET is_deleted = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// BackfillInitialDueDates fills a missing initial_due_date from the earliest
// instance of each template. It only touches NULL rows and returns how many
// templates were repaired.
func (s *TaskStore) BackfillInitialDueDates(ctx context.Context) (int64, error) {
	result, err := executor(ctx, s.db).ExecContext(ctx,
		`UPDATE tasks
		 SET initial_due_date = (SELECT MIN(ti.due_date) FROM task_instances ti WHERE ti.task_id = tasks.id)
		 WHERE initial_due_date IS NULL
		   AND EXISTS (SELECT 1 FROM task_instances ti WHERE ti.task_id = tasks.id)`,
	)
	if err != nil {
		return 0, fmt.Errorf("backfill initial due dates: %w", err)
	}
	return result.RowsAffected()
}

// --- Edit history ---

func scanEdit(sc scanner) (*model.TaskEdit, error) {
	var e model.TaskEdit
	var editedBy sql.NullInt64
	err := sc.Scan(&e.ID, &e.TaskID, &e.FieldName, &e.OldValue, &e.NewValue, &editedBy, &e.EditedAt)
	if err != nil {
		return nil, err
	}
	e.EditedByUserID = int64Ptr(editedBy)
	return &e, nil
}

const editCols = `id, task_id, field_name, old_value, new_value, edited_by_user_id, edited_at`

// RecordEdit appends one field change to the template's history.
func (s *TaskStore) RecordEdit(ctx context.Context, taskID int64, field, oldValue, newValue string, editedBy *int64) error {
	_, err := executor(ctx, s.db).ExecContext(ctx,
		`INSERT INTO task_edit_history (task_id, field_name, old_value, new_value, edited_by_user_id) VALUES (?, ?, ?, ?, ?)`,
		taskID, field, oldValue, newValue, nullInt64(editedBy),
	)
	if err != nil {
		return fmt.Errorf("insert task edit: %w", err)
	}
	return nil
}

// ListEdits returns a template's history, oldest first.
func (s *TaskStore) ListEdits(ctx context.Context, taskID int64) ([]model.TaskEdit, error) {
	rows, err := executor(ctx, s.db).QueryContext(ctx,
		`SELECT `+editCols+` FROM task_edit_history WHERE task_id = ? ORDER BY edited_at ASC, id ASC`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("list task edits: %w", err)
	}
	defer rows.Close()

	var edits []model.TaskEdit
	for rows.Next() {
		e, err := scanEdit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task edit: %w", err)
		}
		edits = append(edits, *e)
	}
	return edits, rows.Err()
}
