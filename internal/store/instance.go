package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/flatchores/internal/model"
)

// InstanceStore persists task instances. Status changes are compare-and-set
// on the expected current status; callers treat a false result as a lost race
// or an invalid transition.
type InstanceStore struct {
	db *sql.DB
}

func NewInstanceStore(db *sql.DB) *InstanceStore {
	return &InstanceStore{db: db}
}

func scanInstance(sc scanner) (*model.TaskInstance, error) {
	var i model.TaskInstance
	var status string
	var taskID, assignedTo, completedBy, deletedBy sql.NullInt64
	var completedAt, deletedAt sql.NullTime
	var points sql.NullInt64
	var archived, isDeleted int

	err := sc.Scan(
		&i.ID, &taskID, &i.ApartmentID, &assignedTo, &i.DueDate, &status,
		&completedAt, &completedBy, &points, &i.Notes,
		&archived, &isDeleted, &deletedAt, &deletedBy,
		&i.CreatedAt, &i.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	i.TemplateID = int64Ptr(taskID)
	i.AssignedUserID = int64Ptr(assignedTo)
	i.Status = model.InstanceStatus(status)
	i.CompletedByUserID = int64Ptr(completedBy)
	i.DeletedByUserID = int64Ptr(deletedBy)
	i.Archived = archived != 0
	i.IsDeleted = isDeleted != 0
	if completedAt.Valid {
		i.CompletedAt = &completedAt.Time
	}
	if deletedAt.Valid {
		i.DeletedAt = &deletedAt.Time
	}
	if points.Valid {
		p := int(points.Int64)
		i.PointsAwarded = &p
	}
	return &i, nil
}

const instanceCols = `id, task_id, apartment_id, assigned_user_id, due_date, status, completed_at, completed_by_user_id, points_awarded, notes, archived, is_deleted, deleted_at, deleted_by_user_id, created_at, updated_at`

func (s *InstanceStore) queryInstances(ctx context.Context, query string, args ...any) ([]model.TaskInstance, error) {
	rows, err := executor(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []model.TaskInstance
	for rows.Next() {
		i, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		instances = append(instances, *i)
	}
	return instances, rows.Err()
}

// Create inserts an open instance. Status and completion fields of i are ignored.
func (s *InstanceStore) Create(ctx context.Context, i model.TaskInstance) (*model.TaskInstance, error) {
	var points sql.NullInt64
	if i.PointsAwarded != nil {
		points = sql.NullInt64{Int64: int64(*i.PointsAwarded), Valid: true}
	}

	result, err := executor(ctx, s.db).ExecContext(ctx,
		`INSERT INTO task_instances (task_id, apartment_id, assigned_user_id, due_date, status, points_awarded, notes, archived)
		 VALUES (?, ?, ?, ?, 'open', ?, ?, ?)`,
		nullInt64(i.TemplateID), i.ApartmentID, nullInt64(i.AssignedUserID), i.DueDate,
		points, i.Notes, boolInt(i.Archived),
	)
	if err != nil {
		return nil, fmt.Errorf("insert instance: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID returns the instance including soft-deleted rows, or nil if absent.
func (s *InstanceStore) GetByID(ctx context.Context, id int64) (*model.TaskInstance, error) {
	row := executor(ctx, s.db).QueryRowContext(ctx, `SELECT `+instanceCols+` FROM task_instances WHERE id = ?`, id)
	i, err := scanInstance(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get instance: %w", err)
	}
	return i, nil
}

// ListByTemplate returns the template's non-deleted instances by due date.
func (s *InstanceStore) ListByTemplate(ctx context.Context, templateID int64) ([]model.TaskInstance, error) {
	instances, err := s.queryInstances(ctx,
		`SELECT `+instanceCols+` FROM task_instances WHERE task_id = ? AND is_deleted = 0 ORDER BY due_date ASC, id ASC`,
		templateID,
	)
	if err != nil {
		return nil, fmt.Errorf("list instances by template: %w", err)
	}
	return instances, nil
}

// ListByApartment returns the apartment's non-deleted instances by due date.
func (s *InstanceStore) ListByApartment(ctx context.Context, apartmentID int64, includeArchived bool) ([]model.TaskInstance, error) {
	query := `SELECT ` + instanceCols + ` FROM task_instances WHERE apartment_id = ? AND is_deleted = 0`
	if !includeArchived {
		query += ` AND archived = 0`
	}
	query += ` ORDER BY due_date ASC, id ASC`

	instances, err := s.queryInstances(ctx, query, apartmentID)
	if err != nil {
		return nil, fmt.Errorf("list instances by apartment: %w", err)
	}
	return instances, nil
}

// ListDue returns open, non-archived, non-deleted instances due on or before
// the given date across all apartments, grouped by apartment.
func (s *InstanceStore) ListDue(ctx context.Context, onOrBefore model.Date) ([]model.TaskInstance, error) {
	instances, err := s.queryInstances(ctx,
		`SELECT `+instanceCols+` FROM task_instances
		 WHERE status = 'open' AND is_deleted = 0 AND archived = 0 AND due_date <= ?
		 ORDER BY apartment_id ASC, due_date ASC, id ASC`,
		onOrBefore,
	)
	if err != nil {
		return nil, fmt.Errorf("list due instances: %w", err)
	}
	return instances, nil
}

// CountByTemplate counts the template's instances, deleted ones included.
func (s *InstanceStore) CountByTemplate(ctx context.Context, templateID int64) (int, error) {
	var n int
	err := executor(ctx, s.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM task_instances WHERE task_id = ?`, templateID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count instances: %w", err)
	}
	return n, nil
}

// EarliestOpenSibling returns the earliest-due open, non-deleted instance of
// the template other than excludeID, or nil.
func (s *InstanceStore) EarliestOpenSibling(ctx context.Context, templateID, excludeID int64) (*model.TaskInstance, error) {
	row := executor(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+instanceCols+` FROM task_instances
		 WHERE task_id = ? AND id != ? AND status = 'open' AND is_deleted = 0
		 ORDER BY due_date ASC, id ASC LIMIT 1`,
		templateID, excludeID,
	)
	i, err := scanInstance(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("earliest open sibling: %w", err)
	}
	return i, nil
}

func affectedOne(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// MarkDone moves an open instance to done.
func (s *InstanceStore) MarkDone(ctx context.Context, id int64, completedAt time.Time, completedBy int64, points int) (bool, error) {
	result, err := executor(ctx, s.db).ExecContext(ctx,
		`UPDATE task_instances SET status = 'done', completed_at = ?, completed_by_user_id = ?, points_awarded = ?
		 WHERE id = ? AND status = 'open' AND is_deleted = 0`,
		completedAt.UTC(), completedBy, points, id,
	)
	if err != nil {
		return false, fmt.Errorf("mark instance done: %w", err)
	}
	return affectedOne(result)
}

// MarkSkipped moves an open instance to skipped.
func (s *InstanceStore) MarkSkipped(ctx context.Context, id int64) (bool, error) {
	result, err := executor(ctx, s.db).ExecContext(ctx,
		`UPDATE task_instances SET status = 'skipped' WHERE id = ? AND status = 'open' AND is_deleted = 0`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("mark instance skipped: %w", err)
	}
	return affectedOne(result)
}

// Reopen moves a done instance back to open and clears its completion.
func (s *InstanceStore) Reopen(ctx context.Context, id int64) (bool, error) {
	result, err := executor(ctx, s.db).ExecContext(ctx,
		`UPDATE task_instances SET status = 'open', completed_at = NULL, completed_by_user_id = NULL, points_awarded = NULL
		 WHERE id = ? AND status = 'done' AND is_deleted = 0`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("reopen instance: %w", err)
	}
	return affectedOne(result)
}

// SoftDelete marks a live instance deleted.
func (s *InstanceStore) SoftDelete(ctx context.Context, id int64, deletedBy *int64, at time.Time) (bool, error) {
	result, err := executor(ctx, s.db).ExecContext(ctx,
		`UPDATE task_instances SET is_deleted = 1, deleted_at = ?, deleted_by_user_id = ?
		 WHERE id = ? AND is_deleted = 0`,
		at.UTC(), nullInt64(deletedBy), id,
	)
	if err != nil {
		return false, fmt.Errorf("delete instance: %w", err)
	}
	return affectedOne(result)
}

// SoftDeleteOpenByTemplate deletes every open instance of a template.
func (s *InstanceStore) SoftDeleteOpenByTemplate(ctx context.Context, templateID int64, deletedBy *int64, at time.Time) (int64, error) {
	result, err := executor(ctx, s.db).ExecContext(ctx,
		`UPDATE task_instances SET is_deleted = 1, deleted_at = ?, deleted_by_user_id = ?
		 WHERE task_id = ? AND status = 'open' AND is_deleted = 0`,
		at.UTC(), nullInt64(deletedBy), templateID,
	)
	if err != nil {
		return 0, fmt.Errorf("delete open instances: %w", err)
	}
	return result.RowsAffected()
}

// SetArchivedByTemplate sets the archived flag on every instance of a
// template, whatever its status.
func (s *InstanceStore) SetArchivedByTemplate(ctx context.Context, templateID int64, archived bool) (int64, error) {
	result, err := executor(ctx, s.db).ExecContext(ctx,
		`UPDATE task_instances SET archived = ? WHERE task_id = ?`,
		boolInt(archived), templateID,
	)
	if err != nil {
		return 0, fmt.Errorf("archive instances: %w", err)
	}
	return result.RowsAffected()
}
